package db

import "time"

// CacheEntry 存储客户端持久缓存的键值对，值为 JSON 字符串。
// Namespace 区分用户（命令行设备为 local，网页访客为 local:<访客id>），Key 与 Namespace 组合唯一。
type CacheEntry struct {
	ID        uint   `gorm:"primaryKey"`
	Namespace string `gorm:"size:64;uniqueIndex:idx_cache_entry_key;not null"`
	Key       string `gorm:"size:100;uniqueIndex:idx_cache_entry_key;not null"`
	Value     string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 自定义表名以保持命名一致。
func (CacheEntry) TableName() string {
	return "cache_entries"
}

const (
	// CacheKeyTasks 保存全部具体任务实例（日期 -> 时段 -> 任务列表）。
	CacheKeyTasks = "allTasksData"
	// CacheKeyRecurring 保存统一后的重复任务规则列表。
	CacheKeyRecurring = "allRecurringTasks"
	// CacheKeyWeeklyRecurring 为旧版按周重复任务列表，仅用于一次性导入。
	CacheKeyWeeklyRecurring = "weeklyRecurringTasks"
	// CacheKeyDailyRoutine 为旧版每日例行任务列表，仅用于一次性导入。
	CacheKeyDailyRoutine = "dailyRoutine"
	// CacheKeyHabits 保存习惯完成记录（任务文本 -> 日期 -> 是否完成）。
	CacheKeyHabits = "habitsHistory"
	// CacheKeyRoutineCompletions 为旧版例行任务完成记录。
	CacheKeyRoutineCompletions = "routineCompletions"
	// CacheKeyRoutineStates 是 routineCompletions 更早的名字。
	CacheKeyRoutineStates = "routineStates"
	// CacheKeyPersistenceMode 控制会话数据是否在登出后保留。
	CacheKeyPersistenceMode = "persistenceMode"
)
