package planner

import (
	"encoding/json"
	"strings"
	"time"
)

// Priority 是任务的颜色标签
type Priority string

const (
	PriorityNone      Priority = "none"
	PriorityUrgent    Priority = "urgent"
	PriorityImportant Priority = "important"
	PrioritySimple    Priority = "simple"
	PriorityMoney     Priority = "money"
)

// ParsePriority 把任意输入映射为已知优先级，默认 PriorityNone
func ParsePriority(raw string) Priority {
	switch p := Priority(strings.ToLower(strings.TrimSpace(raw))); p {
	case PriorityUrgent, PriorityImportant, PrioritySimple, PriorityMoney:
		return p
	default:
		return PriorityNone
	}
}

// WeekdaySet 是星期 0..6（周一为 0）的位集合
type WeekdaySet uint8

const allWeekdays WeekdaySet = 1<<7 - 1

// NewWeekdaySet 构造集合，忽略 0..6 以外的值
func NewWeekdaySet(days ...int) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		if d >= 0 && d <= 6 {
			s |= 1 << uint(d)
		}
	}
	return s
}

// Has 判断 day 是否在集合中
func (s WeekdaySet) Has(day int) bool {
	return day >= 0 && day <= 6 && s&(1<<uint(day)) != 0
}

// Empty 判断是否未选择任何一天
func (s WeekdaySet) Empty() bool { return s&allWeekdays == 0 }

// Days 按升序列出选中的星期
func (s WeekdaySet) Days() []int {
	days := make([]int, 0, 7)
	for d := 0; d <= 6; d++ {
		if s.Has(d) {
			days = append(days, d)
		}
	}
	return days
}

// MarshalJSON 输出有序的星期数组
func (s WeekdaySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Days())
}

// UnmarshalJSON 解析星期数组，null 得到空集合
func (s *WeekdaySet) UnmarshalJSON(data []byte) error {
	var days []int
	if err := json.Unmarshal(data, &days); err != nil {
		return err
	}
	*s = NewWeekdaySet(days...)
	return nil
}

// RecurrenceRule 描述在固定星期重复的任务。
// ID 在规则存续期间不变，Text 只是可修改的显示文本。
type RecurrenceRule struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	Days      WeekdaySet `json:"daysOfWeek"`
	Priority  Priority   `json:"priority"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Occurs 判断规则在 d 当天是否生成任务
func (r RecurrenceRule) Occurs(d Date) bool {
	return r.Days.Has(d.Weekday())
}

