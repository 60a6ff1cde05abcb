package db

import (
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Task 是远程存储中的具体任务行，一行对应某天某时段的一个任务实例。
// Color 存储优先级（none/urgent/important/simple/money），IsHabit 标记来自重复规则的任务。
type Task struct {
	ID        string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"size:64;index;not null"`
	Day       string `gorm:"size:10;index"`
	Period    string `gorm:"size:100"`
	Text      string `gorm:"type:text"`
	Completed bool
	Color     string `gorm:"size:20"`
	IsHabit   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 与远程 tasks 表保持一致。
func (Task) TableName() string {
	return "tasks"
}

// HabitHistory 记录重复任务在某天的完成状态
// UserID + HabitName + Date 采用唯一索引，保证 upsert 幂等
type HabitHistory struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"size:64;index:idx_habit_history_unique,unique;not null"`
	HabitName string `gorm:"size:255;index:idx_habit_history_unique,unique;not null"`
	Date      string `gorm:"size:10;index:idx_habit_history_unique,unique;not null"`
	Completed bool
	UpdatedAt time.Time
}

// TableName 重写确保唯一索引作用到 user_id + habit_name + date
func (HabitHistory) TableName() string {
	return "habits_history"
}

// RecurringTask 是远程保存的重复任务规则，DaysOfWeek 为逗号分隔的 0..6（周一为 0）。
type RecurringTask struct {
	ID         string `gorm:"primaryKey;size:36"`
	UserID     string `gorm:"size:64;index;not null"`
	Text       string `gorm:"type:text"`
	DaysOfWeek string `gorm:"size:20"`
	Priority   string `gorm:"size:20"`
	CreatedAt  time.Time
}

// TableName 与远程 recurring_tasks 表保持一致。
func (RecurringTask) TableName() string {
	return "recurring_tasks"
}

// OpenRemote 打开远程任务库。postgres:// 或 key=value 形式的 DSN 使用 Postgres，其余按 SQLite 文件处理。
func OpenRemote(dsn string, config *gorm.Config) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if config == nil {
		config = &gorm.Config{}
	}

	var dialector gorm.Dialector
	if isPostgresDSN(dsn) {
		dialector = postgres.Open(dsn)
	} else {
		if dsn == "" {
			dsn = "flowly-remote.db"
		}
		if err := ensureParentDir(dsn); err != nil {
			return nil, err
		}
		dialector = sqlite.Open(dsn)
	}

	gdb, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, err
	}
	if err := MigrateRemote(gdb); err != nil {
		return nil, err
	}
	return gdb, nil
}

// MigrateRemote 为远程模型创建表。
func MigrateRemote(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&Task{}, &HabitHistory{}, &RecurringTask{})
}

func isPostgresDSN(dsn string) bool {
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "postgres://") ||
		strings.HasPrefix(lower, "postgresql://") ||
		strings.Contains(lower, "host=")
}
