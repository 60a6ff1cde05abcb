package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/flowly/internal/db"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound 表示按 id 更新的任务行不存在
var ErrNotFound = errors.New("remote row not found")

// TaskRow 是远程 tasks 表中的一行
type TaskRow struct {
	ID        string
	UserID    string
	Day       string
	Period    string
	Text      string
	Completed bool
	Color     string
	IsHabit   bool
	UpdatedAt time.Time
}

// HabitRow 是 habits_history 表中的一行
type HabitRow struct {
	UserID    string
	HabitName string
	Date      string
	Completed bool
	UpdatedAt time.Time
}

// RuleRow 是远程保存的重复规则
type RuleRow struct {
	ID        string
	UserID    string
	Text      string
	Days      []int
	Priority  string
	CreatedAt time.Time
}

// RemoteStore 是规划数据的远程权威存储
type RemoteStore interface {
	ListTasks(ctx context.Context, userID string) ([]TaskRow, error)
	InsertTask(ctx context.Context, row TaskRow) (string, error)
	UpdateTask(ctx context.Context, row TaskRow) error
	DeleteTasks(ctx context.Context, userID string, ids []string) error
	CountTasks(ctx context.Context, userID string) (int64, error)
	ListHabitHistory(ctx context.Context, userID string) ([]HabitRow, error)
	UpsertHabitHistory(ctx context.Context, rows []HabitRow) error
	ListRules(ctx context.Context, userID string) ([]RuleRow, error)
	ReplaceRules(ctx context.Context, userID string, rules []RuleRow) error
}

// GormStore 基于 gorm 实现 RemoteStore，支持 SQLite 与 Postgres
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 构造 GormStore
func NewGormStore(gdb *gorm.DB) *GormStore {
	return &GormStore{db: gdb}
}

// ListTasks 按日期与时段顺序返回用户的全部任务行
func (s *GormStore) ListTasks(ctx context.Context, userID string) ([]TaskRow, error) {
	var tasks []db.Task
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("day asc").Order("created_at asc").Order("id asc").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	rows := make([]TaskRow, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, TaskRow{
			ID:        t.ID,
			UserID:    t.UserID,
			Day:       t.Day,
			Period:    t.Period,
			Text:      t.Text,
			Completed: t.Completed,
			Color:     t.Color,
			IsHabit:   t.IsHabit,
			UpdatedAt: t.UpdatedAt,
		})
	}
	return rows, nil
}

// InsertTask 插入任务行并返回分配的 id
func (s *GormStore) InsertTask(ctx context.Context, row TaskRow) (string, error) {
	if strings.TrimSpace(row.UserID) == "" {
		return "", errors.New("insert task: user id is required")
	}
	id := row.ID
	if id == "" {
		id = uuid.NewString()
	}
	task := db.Task{
		ID:        id,
		UserID:    row.UserID,
		Day:       row.Day,
		Period:    row.Period,
		Text:      row.Text,
		Completed: row.Completed,
		Color:     row.Color,
		IsHabit:   row.IsHabit,
	}
	if err := s.db.WithContext(ctx).Create(&task).Error; err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return id, nil
}

// UpdateTask 按 id 覆盖任务行的可变字段
func (s *GormStore) UpdateTask(ctx context.Context, row TaskRow) error {
	result := s.db.WithContext(ctx).Model(&db.Task{}).
		Where("id = ? AND user_id = ?", row.ID, row.UserID).
		Updates(map[string]any{
			"day":        row.Day,
			"period":     row.Period,
			"text":       row.Text,
			"completed":  row.Completed,
			"color":      row.Color,
			"is_habit":   row.IsHabit,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("update task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("update task %s: %w", row.ID, ErrNotFound)
	}
	return nil
}

// DeleteTasks 删除用户的指定任务行，不存在的 id 忽略
func (s *GormStore) DeleteTasks(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND id IN ?", userID, ids).
		Delete(&db.Task{}).Error; err != nil {
		return fmt.Errorf("delete tasks: %w", err)
	}
	return nil
}

// CountTasks 统计用户的任务行数
func (s *GormStore) CountTasks(ctx context.Context, userID string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&db.Task{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return count, nil
}

// ListHabitHistory 按更新时间顺序返回完成记录，后到的记录覆盖先到的
func (s *GormStore) ListHabitHistory(ctx context.Context, userID string) ([]HabitRow, error) {
	var history []db.HabitHistory
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at asc").Order("id asc").
		Find(&history).Error; err != nil {
		return nil, fmt.Errorf("list habit history: %w", err)
	}
	rows := make([]HabitRow, 0, len(history))
	for _, h := range history {
		rows = append(rows, HabitRow{
			UserID:    h.UserID,
			HabitName: h.HabitName,
			Date:      h.Date,
			Completed: h.Completed,
			UpdatedAt: h.UpdatedAt,
		})
	}
	return rows, nil
}

// UpsertHabitHistory 以 (user_id, habit_name, date) 为冲突键写入完成记录
func (s *GormStore) UpsertHabitHistory(ctx context.Context, rows []HabitRow) error {
	if len(rows) == 0 {
		return nil
	}
	records := make([]db.HabitHistory, 0, len(rows))
	for _, r := range rows {
		records = append(records, db.HabitHistory{
			UserID:    r.UserID,
			HabitName: r.HabitName,
			Date:      r.Date,
			Completed: r.Completed,
		})
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "habit_name"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"completed", "updated_at"}),
	}).Create(&records).Error; err != nil {
		return fmt.Errorf("upsert habit history: %w", err)
	}
	return nil
}

// ListRules 返回用户保存的重复规则
func (s *GormStore) ListRules(ctx context.Context, userID string) ([]RuleRow, error) {
	var rules []db.RecurringTask
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at asc").Order("id asc").
		Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	rows := make([]RuleRow, 0, len(rules))
	for _, r := range rules {
		rows = append(rows, RuleRow{
			ID:        r.ID,
			UserID:    r.UserID,
			Text:      r.Text,
			Days:      parseDays(r.DaysOfWeek),
			Priority:  r.Priority,
			CreatedAt: r.CreatedAt,
		})
	}
	return rows, nil
}

// ReplaceRules 在事务中用 rules 整体替换用户的规则集合
func (s *GormStore) ReplaceRules(ctx context.Context, userID string, rules []RuleRow) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&db.RecurringTask{}).Error; err != nil {
			return fmt.Errorf("replace rules: %w", err)
		}
		if len(rules) == 0 {
			return nil
		}
		// 保留规则自己的创建时间；缺失时按顺序递增补齐，ListRules 才能还原规则顺序
		base := time.Now()
		records := make([]db.RecurringTask, 0, len(rules))
		for i, r := range rules {
			id := r.ID
			if id == "" {
				id = uuid.NewString()
			}
			createdAt := r.CreatedAt
			if createdAt.IsZero() {
				createdAt = base.Add(time.Duration(i) * time.Millisecond)
			}
			records = append(records, db.RecurringTask{
				ID:         id,
				UserID:     userID,
				Text:       r.Text,
				DaysOfWeek: formatDays(r.Days),
				Priority:   r.Priority,
				CreatedAt:  createdAt.UTC(),
			})
		}
		if err := tx.Create(&records).Error; err != nil {
			return fmt.Errorf("replace rules: %w", err)
		}
		return nil
	})
}

func formatDays(days []int) string {
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, strconv.Itoa(d))
	}
	return strings.Join(parts, ",")
}

func parseDays(raw string) []int {
	var days []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil || d < 0 || d > 6 {
			continue
		}
		days = append(days, d)
	}
	return days
}
