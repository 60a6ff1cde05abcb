package planner

import (
	"errors"
	"fmt"
)

var (
	// ErrConfirmationRequired 表示操作会让任务不再重复但调用方尚未确认，
	// 状态未被修改
	ErrConfirmationRequired = errors.New("confirmation required to stop repeating task")
	// ErrItemNotFound 表示 origin 已不再指向任何任务
	ErrItemNotFound = errors.New("task item not found")
	// ErrRuleNotFound 表示规则 id 不存在
	ErrRuleNotFound = errors.New("recurrence rule not found")
)

// ValidationError 表示输入被拒绝，操作没有产生任何修改
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation 判断 err 是否为 *ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
