package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/flowly/internal/db"
	"github.com/flowly/internal/planner"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// AnonymousNamespace 是未登录设备的缓存命名空间（命令行工具使用）。
	AnonymousNamespace = "local"
	// visitorPrefix 加上访客 id 构成网页匿名访客各自的命名空间
	visitorPrefix = AnonymousNamespace + ":"

	// PersistenceLocal 表示数据在登出后依然保留。
	PersistenceLocal = "local"
	// PersistenceSession 表示数据只在会话期间保留，登出时清空。
	PersistenceSession = "session"
)

var legacyKeys = []string{
	db.CacheKeyDailyRoutine,
	db.CacheKeyWeeklyRecurring,
	db.CacheKeyRoutineCompletions,
	db.CacheKeyRoutineStates,
}

// StorageParseError 表示某个缓存条目无法解析，调用方会以默认值代替。
type StorageParseError struct {
	Key string
	Err error
}

func (e *StorageParseError) Error() string {
	return fmt.Sprintf("parse cache entry %s: %v", e.Key, e.Err)
}

func (e *StorageParseError) Unwrap() error {
	return e.Err
}

// Store 是按命名空间划分的持久键值缓存，值均为 JSON 字符串。
type Store struct {
	db     *gorm.DB
	engine *planner.Engine
}

// LoadReport 汇总一次 LoadState 的修复情况
type LoadReport struct {
	ParseErrors []error
	Imported    planner.ImportReport
	Normalized  planner.NormalizeReport
	Rewritten   bool
}

// NewStore 构造 Store
func NewStore(gdb *gorm.DB, engine *planner.Engine) *Store {
	return &Store{db: gdb, engine: engine}
}

// Namespace 返回身份对应的缓存命名空间。空身份对应本机匿名命名空间，
// 访客身份（VisitorNamespace 的返回值）本身就是命名空间。
func Namespace(owner string) string {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return AnonymousNamespace
	}
	return owner
}

// VisitorNamespace 返回匿名访客的命名空间，每个访客互不可见
func VisitorNamespace(visitorID string) string {
	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" {
		return AnonymousNamespace
	}
	return visitorPrefix + visitorID
}

// IsAnonymous 判断身份是否属于未登录的设备或访客
func IsAnonymous(owner string) bool {
	owner = strings.TrimSpace(owner)
	return owner == "" || owner == AnonymousNamespace || strings.HasPrefix(owner, visitorPrefix)
}

// Get 读取单个缓存条目
func (s *Store) Get(namespace, key string) (string, bool, error) {
	var entry db.CacheEntry
	err := s.db.Where("namespace = ? AND key = ?", namespace, key).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get cache entry: %w", err)
	}
	return entry.Value, true, nil
}

// Set 写入单个缓存条目，已存在则覆盖
func (s *Store) Set(namespace, key, value string) error {
	return setEntry(s.db, namespace, key, value)
}

func setEntry(tx *gorm.DB, namespace, key, value string) error {
	entry := db.CacheEntry{Namespace: namespace, Key: key, Value: value}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error; err != nil {
		return fmt.Errorf("set cache entry: %w", err)
	}
	return nil
}

// Delete 删除命名空间下的指定条目
func (s *Store) Delete(namespace string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.db.Where("namespace = ? AND key IN ?", namespace, keys).Delete(&db.CacheEntry{}).Error; err != nil {
		return fmt.Errorf("delete cache entries: %w", err)
	}
	return nil
}

// Clear 清空命名空间下的所有条目
func (s *Store) Clear(namespace string) error {
	if err := s.db.Where("namespace = ?", namespace).Delete(&db.CacheEntry{}).Error; err != nil {
		return fmt.Errorf("clear cache namespace: %w", err)
	}
	return nil
}

// PersistenceMode 读取持久化模式，缺省为 local
func (s *Store) PersistenceMode(namespace string) (string, error) {
	value, ok, err := s.Get(namespace, db.CacheKeyPersistenceMode)
	if err != nil || !ok {
		return PersistenceLocal, err
	}
	return normalizePersistenceMode(value), nil
}

// SetPersistenceMode 保存持久化模式
func (s *Store) SetPersistenceMode(namespace, mode string) error {
	return s.Set(namespace, db.CacheKeyPersistenceMode, normalizePersistenceMode(mode))
}

func normalizePersistenceMode(mode string) string {
	if strings.TrimSpace(strings.ToLower(mode)) == PersistenceSession {
		return PersistenceSession
	}
	return PersistenceLocal
}

// LoadState 读取命名空间下的规划状态。
// 损坏的条目记录日志后以默认值代替；旧版重复任务键会被导入统一规则列表后删除；
// 最后执行一次 Normalize，有修复时写回缓存。
func (s *Store) LoadState(namespace string) (*planner.State, LoadReport, error) {
	var report LoadReport

	var entries []db.CacheEntry
	if err := s.db.Where("namespace = ?", namespace).Find(&entries).Error; err != nil {
		return nil, report, fmt.Errorf("load cache entries: %w", err)
	}
	values := make(map[string]string, len(entries))
	for _, entry := range entries {
		values[entry.Key] = entry.Value
	}

	st := planner.NewState()
	decode := func(key string, dst any) bool {
		raw, ok := values[key]
		if !ok || strings.TrimSpace(raw) == "" {
			return false
		}
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			parseErr := &StorageParseError{Key: key, Err: err}
			log.Printf("[cache] %s: %v; using default", namespace, parseErr)
			report.ParseErrors = append(report.ParseErrors, parseErr)
			return false
		}
		return true
	}

	var schedule planner.Schedule
	if decode(db.CacheKeyTasks, &schedule) && schedule != nil {
		st.Schedule = schedule
	}
	var rules []planner.RecurrenceRule
	if decode(db.CacheKeyRecurring, &rules) {
		st.Rules = rules
	}
	var habits planner.HabitLog
	if decode(db.CacheKeyHabits, &habits) && habits != nil {
		st.Habits = habits
	}

	var legacy planner.LegacyData
	if !decode(db.CacheKeyDailyRoutine, &legacy.DailyRoutine) {
		legacy.DailyRoutine = nil
	}
	if !decode(db.CacheKeyWeeklyRecurring, &legacy.WeeklyRecurring) {
		legacy.WeeklyRecurring = nil
	}
	if !decode(db.CacheKeyRoutineCompletions, &legacy.RoutineCompletions) {
		legacy.RoutineCompletions = nil
		if !decode(db.CacheKeyRoutineStates, &legacy.RoutineCompletions) {
			legacy.RoutineCompletions = nil
		}
	}

	hasLegacy := false
	for _, key := range legacyKeys {
		if _, ok := values[key]; ok {
			hasLegacy = true
		}
	}
	if !legacy.Empty() {
		report.Imported = s.engine.ImportLegacy(st, legacy)
	}

	report.Normalized = planner.Normalize(st)
	if hasLegacy || report.Normalized.Changed() || len(report.ParseErrors) > 0 {
		if err := s.SaveState(namespace, st); err != nil {
			return st, report, err
		}
		if err := s.Delete(namespace, legacyKeys...); err != nil {
			return st, report, err
		}
		report.Rewritten = true
	}
	return st, report, nil
}

// SaveState 在一个事务中写入规则、任务实例与习惯记录
func (s *Store) SaveState(namespace string, st *planner.State) error {
	rules := st.Rules
	if rules == nil {
		rules = []planner.RecurrenceRule{}
	}
	payloads := []struct {
		key   string
		value any
	}{
		{db.CacheKeyTasks, st.Schedule},
		{db.CacheKeyRecurring, rules},
		{db.CacheKeyHabits, st.Habits},
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, p := range payloads {
			raw, err := json.Marshal(p.value)
			if err != nil {
				return fmt.Errorf("encode %s: %w", p.key, err)
			}
			if err := setEntry(tx, namespace, p.key, string(raw)); err != nil {
				return err
			}
		}
		return nil
	})
}
