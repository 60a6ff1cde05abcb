// Package notify 构造与通知 worker 交换的消息
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flowly/internal/planner"
)

const (
	TypeScheduleNotifications = "SCHEDULE_NOTIFICATIONS"
	TypeProgressNotification  = "SEND_PROGRESS_NOTIFICATION"
	TypeDailyStats            = "DAILY_STATS"
)

// DefaultStatsHour 是开始汇报当天统计的本地小时
const DefaultStatsHour = 21

var ErrUnknownMessage = errors.New("unknown notification message")

// Message 是一条 worker 消息，进度消息的计数与 type 平铺在同一层
type Message struct {
	Type string `json:"type"`
	*planner.Progress
}

// Builder 决定某天视图需要产生哪些消息
type Builder struct {
	StatsHour int
}

// NewBuilder 构造从 DefaultStatsHour 开始汇报统计的 Builder
func NewBuilder() *Builder {
	return &Builder{StatsHour: DefaultStatsHour}
}

// Build 返回 now 时刻该视图对应的消息：总是请求排程，
// 当天有任务时附带进度，当天已过去或到达统计小时后附带每日统计。
func (b *Builder) Build(view planner.DayView, now time.Time) []Message {
	msgs := []Message{{Type: TypeScheduleNotifications}}
	progress := planner.ProgressOf(view.Items)
	if progress.Total == 0 {
		return msgs
	}
	p := progress
	msgs = append(msgs, Message{Type: TypeProgressNotification, Progress: &p})

	today := planner.DateOf(now).String()
	if view.Date < today || (view.Date == today && now.Hour() >= b.StatsHour) {
		s := progress
		msgs = append(msgs, Message{Type: TypeDailyStats, Progress: &s})
	}
	return msgs
}

// Decode 解析 worker 发来的消息
func Decode(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("decode notification: %w", err)
	}
	switch msg.Type {
	case TypeScheduleNotifications:
		msg.Progress = nil
	case TypeProgressNotification, TypeDailyStats:
		if msg.Progress == nil {
			msg.Progress = &planner.Progress{}
		}
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
	return msg, nil
}
