package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/flowly/internal/planner"
	"github.com/flowly/internal/store"
)

var (
	// ErrRemoteUnavailable 包装远程存储的所有失败，本地状态保持不变
	ErrRemoteUnavailable = errors.New("remote store unavailable")
	// ErrAuthRequired 表示未登录时尝试同步
	ErrAuthRequired = errors.New("sign in required to sync")
	// ErrStaleLoad 表示加载完成前已有更新的本地修改或加载
	ErrStaleLoad = errors.New("remote load superseded by a newer change")
)

// Source 标记变更来源，只有本地编辑会镜像到远程
type Source int

const (
	SourceLocalEdit Source = iota
	SourceRemoteHydration
)

func (s Source) String() string {
	if s == SourceRemoteHydration {
		return "remote"
	}
	return "local"
}

// Mirrors 判断该来源的变更是否写入远程
func (s Source) Mirrors() bool { return s == SourceLocalEdit }

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrRemoteUnavailable, err)
}

// Syncer 在本地会话与 RemoteStore 之间搬运规划数据
type Syncer struct {
	remote store.RemoteStore
}

// New 构造 Syncer
func New(remote store.RemoteStore) *Syncer {
	return &Syncer{remote: remote}
}

// LoadResult 是用户规划数据的远程副本，等待应用到本地
type LoadResult struct {
	Schedule planner.Schedule
	Habits   []store.HabitRow
	Rules    []planner.RecurrenceRule
	// Dropped 是已在远程删除的格式错误行的 id
	Dropped []string
}

// Apply 以远程副本为准：替换任务表，习惯记录按读取顺序合并（同一习惯同一天以最后一行为准），
// 远程有规则时替换本地规则，最后执行 Normalize。
func (r *LoadResult) Apply(st *planner.State) planner.NormalizeReport {
	st.Schedule = r.Schedule.Clone()
	if st.Habits == nil {
		st.Habits = planner.HabitLog{}
	}
	for _, h := range r.Habits {
		st.Habits.Set(h.HabitName, h.Date, h.Completed)
	}
	if len(r.Rules) > 0 {
		st.Rules = append([]planner.RecurrenceRule(nil), r.Rules...)
	}
	return planner.Normalize(st)
}

// Load 读取用户的远程数据。日期非法、缺少时段或文本为空的行被跳过并在远程删除。
// 读取失败时返回 ErrRemoteUnavailable。
func (s *Syncer) Load(ctx context.Context, userID string) (*LoadResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrAuthRequired
	}

	rows, err := s.remote.ListTasks(ctx, userID)
	if err != nil {
		return nil, unavailable("load tasks", err)
	}
	habits, err := s.remote.ListHabitHistory(ctx, userID)
	if err != nil {
		return nil, unavailable("load habit history", err)
	}
	rules, err := s.remote.ListRules(ctx, userID)
	if err != nil {
		return nil, unavailable("load rules", err)
	}

	result := &LoadResult{Schedule: planner.Schedule{}}
	for _, row := range rows {
		period := strings.TrimSpace(row.Period)
		text := strings.TrimSpace(row.Text)
		if !planner.ValidDate(row.Day) || period == "" || text == "" {
			log.Printf("[sync] dropping malformed row %s for %s (day=%q period=%q)", row.ID, userID, row.Day, row.Period)
			if row.ID != "" {
				result.Dropped = append(result.Dropped, row.ID)
			}
			continue
		}
		periods, ok := result.Schedule[row.Day]
		if !ok {
			periods = make(map[string][]planner.TaskInstance)
			result.Schedule[row.Day] = periods
		}
		periods[period] = append(periods[period], planner.TaskInstance{
			Text:      text,
			Completed: row.Completed,
			Priority:  planner.ParsePriority(row.Color),
			RemoteID:  row.ID,
			Derived:   row.IsHabit,
		})
	}

	for _, h := range habits {
		if strings.TrimSpace(h.HabitName) == "" || !planner.ValidDate(h.Date) {
			continue
		}
		result.Habits = append(result.Habits, h)
	}

	for _, r := range rules {
		result.Rules = append(result.Rules, planner.RecurrenceRule{
			ID:        r.ID,
			Text:      r.Text,
			Days:      planner.NewWeekdaySet(r.Days...),
			Priority:  planner.ParsePriority(r.Priority),
			CreatedAt: r.CreatedAt,
		})
	}

	if len(result.Dropped) > 0 {
		if err := s.remote.DeleteTasks(ctx, userID, result.Dropped); err != nil {
			log.Printf("[sync] failed to delete malformed rows for %s: %v", userID, err)
		}
	}
	return result, nil
}

// Snapshot 是为一次镜像推送拍下的用户状态副本
type Snapshot struct {
	UserID string
	State  *planner.State
	// Habits 是上次推送以来变化的习惯记录
	Habits []planner.HabitKey
	// Deletes 是本地已不存在的任务的远程 id
	Deletes      []string
	RulesChanged bool
}

// Assignment 记录推送插入的任务分配到的远程 id
type Assignment struct {
	Date     string
	Period   string
	Index    int
	Text     string
	RemoteID string
}

// Mirror 把快照写入远程：有远程 id 的任务执行更新，其余插入并作为 Assignment 返回，
// 由调用方保存 id。遇到第一个错误即停止，已完成的 Assignment 仍会返回。
func (s *Syncer) Mirror(ctx context.Context, snap Snapshot) ([]Assignment, error) {
	if strings.TrimSpace(snap.UserID) == "" {
		return nil, ErrAuthRequired
	}
	st := snap.State

	if len(snap.Deletes) > 0 {
		if err := s.remote.DeleteTasks(ctx, snap.UserID, snap.Deletes); err != nil {
			return nil, unavailable("delete tasks", err)
		}
	}

	var assigned []Assignment
	var pushErr error
	st.Schedule.Each(func(date, period string, index int, inst *planner.TaskInstance) {
		if pushErr != nil || inst.Derived || planner.IsReservedPeriod(period) {
			return
		}
		row := store.TaskRow{
			ID:        inst.RemoteID,
			UserID:    snap.UserID,
			Day:       date,
			Period:    period,
			Text:      inst.Text,
			Completed: inst.Completed,
			Color:     string(planner.ParsePriority(string(inst.Priority))),
		}
		if row.ID != "" {
			err := s.remote.UpdateTask(ctx, row)
			if err == nil {
				return
			}
			if !errors.Is(err, store.ErrNotFound) {
				pushErr = unavailable("update task", err)
				return
			}
			// 上次加载后已在远程删除，以本地编辑为准
			row.ID = ""
		}
		id, err := s.remote.InsertTask(ctx, row)
		if err != nil {
			pushErr = unavailable("insert task", err)
			return
		}
		inst.RemoteID = id
		assigned = append(assigned, Assignment{Date: date, Period: period, Index: index, Text: inst.Text, RemoteID: id})
	})
	if pushErr != nil {
		return assigned, pushErr
	}

	if len(snap.Habits) > 0 {
		rows := make([]store.HabitRow, 0, len(snap.Habits))
		for _, key := range snap.Habits {
			rows = append(rows, store.HabitRow{
				UserID:    snap.UserID,
				HabitName: key.Text,
				Date:      key.Date,
				Completed: st.Habits.Completed(key.Text, key.Date),
			})
		}
		if err := s.remote.UpsertHabitHistory(ctx, rows); err != nil {
			return assigned, unavailable("upsert habit history", err)
		}
	}

	if snap.RulesChanged {
		rules := make([]store.RuleRow, 0, len(st.Rules))
		for _, r := range st.Rules {
			rules = append(rules, store.RuleRow{
				ID:        r.ID,
				UserID:    snap.UserID,
				Text:      r.Text,
				Days:      r.Days.Days(),
				Priority:  string(r.Priority),
				CreatedAt: r.CreatedAt,
			})
		}
		if err := s.remote.ReplaceRules(ctx, snap.UserID, rules); err != nil {
			return assigned, unavailable("replace rules", err)
		}
	}
	return assigned, nil
}

// ApplyAssignments 把 Mirror 返回的远程 id 写回当前状态：先按推送时的位置匹配，
// 再匹配同一时段中第一个同名且没有 id 的任务。找不到任务的 id 作为孤儿返回，
// 由下一次推送在远程删除。
func ApplyAssignments(st *planner.State, assigned []Assignment) (stored int, orphans []string) {
	for _, a := range assigned {
		items := st.Schedule[a.Date][a.Period]
		target := -1
		if a.Index < len(items) && items[a.Index].Text == a.Text && items[a.Index].RemoteID == "" {
			target = a.Index
		} else {
			for i := range items {
				if items[i].Text == a.Text && items[i].RemoteID == "" {
					target = i
					break
				}
			}
		}
		if target < 0 {
			orphans = append(orphans, a.RemoteID)
			continue
		}
		items[target].RemoteID = a.RemoteID
		stored++
	}
	return stored, orphans
}

// MigrationReport 描述登录时的迁移结果
type MigrationReport struct {
	Uploaded   int
	Replaced   bool
	Normalized planner.NormalizeReport
}

// MigrateOnLogin 在登录后调和本地与远程数据。远程账号没有任务也没有规则时，
// 本地的任务、习惯记录与规则上传一次；否则丢弃本地具体数据并加载远程副本。
func (s *Syncer) MigrateOnLogin(ctx context.Context, userID string, st *planner.State) (MigrationReport, error) {
	var report MigrationReport
	if strings.TrimSpace(userID) == "" {
		return report, ErrAuthRequired
	}

	count, err := s.remote.CountTasks(ctx, userID)
	if err != nil {
		return report, unavailable("count tasks", err)
	}
	rules, err := s.remote.ListRules(ctx, userID)
	if err != nil {
		return report, unavailable("list rules", err)
	}

	if count == 0 && len(rules) == 0 {
		snap := Snapshot{
			UserID:       userID,
			State:        st.Clone(),
			Habits:       habitKeys(st.Habits),
			RulesChanged: len(st.Rules) > 0,
		}
		assigned, err := s.Mirror(ctx, snap)
		report.Uploaded, _ = ApplyAssignments(st, assigned)
		if err != nil {
			return report, err
		}
		log.Printf("[sync] uploaded %d local tasks for %s", report.Uploaded, userID)
		return report, nil
	}

	result, err := s.Load(ctx, userID)
	if err != nil {
		return report, err
	}
	report.Normalized = result.Apply(st)
	report.Replaced = true
	log.Printf("[sync] replaced local tasks for %s with %d remote tasks", userID, st.Schedule.Len())
	return report, nil
}

func habitKeys(h planner.HabitLog) []planner.HabitKey {
	var keys []planner.HabitKey
	for text, days := range h {
		for date := range days {
			keys = append(keys, planner.HabitKey{Text: text, Date: date})
		}
	}
	return keys
}
