package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/flowly/internal/cache"
	"github.com/flowly/internal/planner"
	"github.com/flowly/internal/syncer"
)

const (
	// ViewToday 只显示当天
	ViewToday = "today"
	// ViewWeek 显示所在周（周一开始）
	ViewWeek = "week"
	// ViewMonth 显示所在月
	ViewMonth = "month"
)

// ErrUnknownView 在视图名称无法识别时返回
var ErrUnknownView = errors.New("unknown view")

// PlannerService 管理每个用户的规划状态：读写本地缓存、调用引擎、向远程镜像。
// 每个用户一个 session，session 内的操作由互斥锁串行化。
type PlannerService struct {
	engine *planner.Engine
	cache  *cache.Store
	sync   *syncer.Syncer
	queue  *syncer.Queue
	now    func() time.Time
	loc    *time.Location

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	mu        sync.Mutex
	userID    string
	namespace string
	state     *planner.State
	// version 在每次本地变更和每次开始加载时递增，用于丢弃过期的远程加载结果
	version     uint64
	dirtyHabits map[planner.HabitKey]struct{}
	deletes     []string
	rulesDirty  bool
}

// PlannerOptions 配置 PlannerService
type PlannerOptions struct {
	// Syncer 为空时远程同步不可用，所有数据只保存在本地缓存
	Syncer      *syncer.Syncer
	Location    *time.Location
	PushTimeout time.Duration
}

// NewPlannerService 构造 PlannerService
func NewPlannerService(engine *planner.Engine, store *cache.Store, opts PlannerOptions) *PlannerService {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	timeout := opts.PushTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s := &PlannerService{
		engine:   engine,
		cache:    store,
		sync:     opts.Syncer,
		now:      time.Now,
		loc:      loc,
		sessions: make(map[string]*session),
	}
	if s.sync != nil {
		s.queue = syncer.NewQueue(s.runPush, timeout)
	}
	return s
}

// Today 返回配置时区下的今天
func (s *PlannerService) Today() planner.Date {
	return planner.DateOf(s.now().In(s.loc))
}

// Now 返回配置时区下的当前时间
func (s *PlannerService) Now() time.Time {
	return s.now().In(s.loc)
}

// Close 等待所有镜像任务完成
func (s *PlannerService) Close() {
	if s.queue != nil {
		s.queue.Close()
	}
}

// Flush 等待当前排队的镜像任务完成
func (s *PlannerService) Flush() {
	if s.queue != nil {
		s.queue.Flush()
	}
}

func (s *PlannerService) session(userID string) (*session, error) {
	ns := cache.Namespace(userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[ns]; ok {
		return sess, nil
	}

	st, report, err := s.cache.LoadState(ns)
	if err != nil {
		return nil, fmt.Errorf("load planner state: %w", err)
	}
	owner := strings.TrimSpace(userID)
	if cache.IsAnonymous(owner) {
		owner = ""
	}
	sess := &session{
		userID:      owner,
		namespace:   ns,
		state:       st,
		dirtyHabits: make(map[planner.HabitKey]struct{}),
	}
	sess.deletes = append(sess.deletes, report.Normalized.RemovedRemoteIDs...)
	if report.Imported.RulesCreated+report.Imported.RulesMerged > 0 {
		sess.rulesDirty = true
	}
	s.sessions[ns] = sess
	return sess, nil
}

func (s *PlannerService) read(userID string, fn func(st *planner.State)) error {
	sess, err := s.session(userID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	fn(sess.state)
	return nil
}

// mutate 在 session 锁内执行 fn，记录变更、写回缓存，并在本地编辑时排队镜像
func (s *PlannerService) mutate(userID string, src syncer.Source, fn func(st *planner.State) (planner.Mutation, error)) error {
	sess, err := s.session(userID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	m, err := fn(sess.state)
	if err != nil {
		sess.mu.Unlock()
		return err
	}
	if !m.Changed() {
		sess.mu.Unlock()
		return nil
	}
	sess.version++
	sess.record(m)
	saveErr := s.cache.SaveState(sess.namespace, sess.state)
	sess.mu.Unlock()

	if saveErr != nil {
		log.Printf("[planner] failed to persist %s: %v", sess.namespace, saveErr)
		return saveErr
	}
	if src.Mirrors() {
		s.schedulePush(sess)
	}
	return nil
}

func (sess *session) record(m planner.Mutation) {
	for _, key := range m.Habits {
		sess.dirtyHabits[key] = struct{}{}
	}
	sess.deletes = append(sess.deletes, m.RemovedRemoteIDs...)
	if m.RulesChanged {
		sess.rulesDirty = true
	}
}

func (s *PlannerService) schedulePush(sess *session) {
	if s.queue == nil || sess.userID == "" {
		return
	}
	s.queue.Submit(sess.userID)
}

// Day 返回某天的任务列表与完成进度
func (s *PlannerService) Day(userID string, date planner.Date) (planner.DayView, planner.Progress, error) {
	var view planner.DayView
	err := s.read(userID, func(st *planner.State) {
		view = planner.DayView{Date: date.String(), Items: planner.Materialize(st, date)}
	})
	return view, planner.ProgressOf(view.Items), err
}

// View 返回 today/week/month 视图覆盖的每一天
func (s *PlannerService) View(userID, name string, anchor planner.Date) ([]planner.DayView, error) {
	var days []planner.Date
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ViewToday:
		days = []planner.Date{anchor}
	case ViewWeek:
		days = planner.WeekOf(anchor)
	case ViewMonth:
		days = planner.MonthOf(anchor)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownView, name)
	}
	var views []planner.DayView
	err := s.read(userID, func(st *planner.State) {
		views = planner.MaterializeRange(st, days)
	})
	return views, err
}

// Rules 返回用户的重复规则
func (s *PlannerService) Rules(userID string) ([]planner.RecurrenceRule, error) {
	var rules []planner.RecurrenceRule
	err := s.read(userID, func(st *planner.State) {
		rules = append([]planner.RecurrenceRule{}, st.Rules...)
	})
	return rules, err
}

// State 返回用户状态的副本
func (s *PlannerService) State(userID string) (*planner.State, error) {
	var cp *planner.State
	err := s.read(userID, func(st *planner.State) {
		cp = st.Clone()
	})
	return cp, err
}

// AddTask 新增临时任务
func (s *PlannerService) AddTask(userID string, date planner.Date, period, text string, priority planner.Priority) (planner.Origin, error) {
	var origin planner.Origin
	err := s.mutate(userID, syncer.SourceLocalEdit, func(st *planner.State) (planner.Mutation, error) {
		m, o, err := s.engine.AddTask(st, date, period, text, priority)
		origin = o
		return m, err
	})
	return origin, err
}

// Edit 应用编辑弹窗提交的修改
func (s *PlannerService) Edit(userID string, req planner.EditRequest) error {
	return s.mutate(userID, syncer.SourceLocalEdit, func(st *planner.State) (planner.Mutation, error) {
		return s.engine.ApplyEdit(st, req)
	})
}

// Toggle 切换完成状态，返回切换后的状态
func (s *PlannerService) Toggle(userID string, origin planner.Origin) (bool, error) {
	var done bool
	err := s.mutate(userID, syncer.SourceLocalEdit, func(st *planner.State) (planner.Mutation, error) {
		m, d, err := s.engine.ToggleCompletion(st, origin)
		done = d
		return m, err
	})
	return done, err
}

// Move 拖拽任务到其他日期或时段
func (s *PlannerService) Move(userID string, from planner.Origin, to planner.Date, period string, index int) (planner.Origin, error) {
	var origin planner.Origin
	err := s.mutate(userID, syncer.SourceLocalEdit, func(st *planner.State) (planner.Mutation, error) {
		m, o, err := s.engine.MoveInstance(st, from, to, period, index)
		origin = o
		return m, err
	})
	return origin, err
}

// Delete 删除任务；删除重复任务需要确认
func (s *PlannerService) Delete(userID string, origin planner.Origin, confirm bool) error {
	return s.mutate(userID, syncer.SourceLocalEdit, func(st *planner.State) (planner.Mutation, error) {
		return s.engine.DeleteItem(st, origin, confirm)
	})
}

// DeleteRule 按 id 删除规则，cascade 时同时删除同名的具体任务
func (s *PlannerService) DeleteRule(userID, ruleID string, cascade bool) error {
	return s.mutate(userID, syncer.SourceLocalEdit, func(st *planner.State) (planner.Mutation, error) {
		return s.engine.DeleteRule(st, ruleID, cascade)
	})
}

// ImportLegacy 导入旧版客户端的缓存数据
func (s *PlannerService) ImportLegacy(userID string, data planner.LegacyData) (planner.ImportReport, error) {
	var report planner.ImportReport
	err := s.mutate(userID, syncer.SourceLocalEdit, func(st *planner.State) (planner.Mutation, error) {
		report = s.engine.ImportLegacy(st, data)
		normalized := planner.Normalize(st)
		m := planner.Mutation{
			RulesChanged:     report.RulesCreated+report.RulesMerged > 0,
			ScheduleChanged:  normalized.Changed(),
			RemovedRemoteIDs: normalized.RemovedRemoteIDs,
		}
		if report.Completions > 0 {
			for text, days := range st.Habits {
				for date := range days {
					m.Habits = append(m.Habits, planner.HabitKey{Text: text, Date: date})
				}
			}
		}
		return m, nil
	})
	return report, err
}

// Load 从远程加载用户数据并覆盖本地任务。加载期间若有本地修改或更新的加载，结果被丢弃。
func (s *PlannerService) Load(ctx context.Context, userID string) (planner.NormalizeReport, error) {
	var report planner.NormalizeReport
	if cache.IsAnonymous(userID) {
		return report, syncer.ErrAuthRequired
	}
	if s.sync == nil {
		return report, fmt.Errorf("load: %w: remote sync disabled", syncer.ErrRemoteUnavailable)
	}
	sess, err := s.session(userID)
	if err != nil {
		return report, err
	}

	sess.mu.Lock()
	sess.version++
	stamp := sess.version
	sess.mu.Unlock()

	result, err := s.sync.Load(ctx, userID)
	if err != nil {
		log.Printf("[sync] load failed for %s: %v", userID, err)
		return report, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.version != stamp {
		log.Printf("[sync] discarding stale load for %s", userID)
		return report, syncer.ErrStaleLoad
	}
	report = result.Apply(sess.state)
	sess.version++
	sess.deletes = append(sess.deletes, report.RemovedRemoteIDs...)
	if err := s.cache.SaveState(sess.namespace, sess.state); err != nil {
		return report, err
	}
	return report, nil
}

// Push 立即把用户的本地状态镜像到远程
func (s *PlannerService) Push(ctx context.Context, userID string) error {
	if cache.IsAnonymous(userID) {
		return syncer.ErrAuthRequired
	}
	if s.sync == nil {
		return fmt.Errorf("push: %w: remote sync disabled", syncer.ErrRemoteUnavailable)
	}
	// 先等待后台镜像结束，避免同一快照被推送两次
	s.queue.Flush()
	return s.push(ctx, userID)
}

func (s *PlannerService) runPush(ctx context.Context, userID string) {
	if err := s.push(ctx, userID); err != nil {
		log.Printf("[sync] push failed for %s: %v", userID, err)
	}
}

func (s *PlannerService) push(ctx context.Context, userID string) error {
	sess, err := s.session(userID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	snap := syncer.Snapshot{
		UserID:       sess.userID,
		State:        sess.state.Clone(),
		Deletes:      sess.deletes,
		RulesChanged: sess.rulesDirty,
	}
	for key := range sess.dirtyHabits {
		snap.Habits = append(snap.Habits, key)
	}
	sess.deletes = nil
	sess.rulesDirty = false
	sess.dirtyHabits = make(map[planner.HabitKey]struct{})
	sess.mu.Unlock()

	assigned, pushErr := s.sync.Mirror(ctx, snap)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	stored, orphans := syncer.ApplyAssignments(sess.state, assigned)
	sess.deletes = append(sess.deletes, orphans...)
	if pushErr != nil {
		// 未完成的部分留到下一次推送
		sess.deletes = append(sess.deletes, snap.Deletes...)
		sess.rulesDirty = sess.rulesDirty || snap.RulesChanged
		for _, key := range snap.Habits {
			sess.dirtyHabits[key] = struct{}{}
		}
	}
	if stored > 0 {
		if err := s.cache.SaveState(sess.namespace, sess.state); err != nil {
			log.Printf("[planner] failed to persist remote ids for %s: %v", sess.namespace, err)
		}
	}
	return pushErr
}

// Login 在用户登录后调和本地与远程数据。
// visitor 是登录前该设备使用的匿名身份（VisitorNamespace）。用户自己的缓存为空时，
// 先接管这个访客的数据并清空访客缓存，再执行迁移；其他访客的数据不受影响。
func (s *PlannerService) Login(ctx context.Context, userID, visitor string) (syncer.MigrationReport, error) {
	var report syncer.MigrationReport
	if cache.IsAnonymous(userID) {
		return report, syncer.ErrAuthRequired
	}
	sess, err := s.session(userID)
	if err != nil {
		return report, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if strings.TrimSpace(visitor) != "" && cache.IsAnonymous(visitor) &&
		len(sess.state.Rules) == 0 && len(sess.state.Schedule) == 0 {
		if err := s.adoptVisitor(sess, visitor); err != nil {
			return report, err
		}
	}
	sess.version++
	if s.sync != nil {
		report, err = s.sync.MigrateOnLogin(ctx, userID, sess.state)
		if err != nil {
			log.Printf("[sync] login migration failed for %s: %v", userID, err)
		}
		if report.Replaced {
			sess.deletes = append(sess.deletes, report.Normalized.RemovedRemoteIDs...)
		}
	}
	if saveErr := s.cache.SaveState(sess.namespace, sess.state); saveErr != nil {
		return report, saveErr
	}
	return report, err
}

// adoptVisitor 把访客的状态移交给 sess，随后清空访客的会话与缓存。调用方持有 sess.mu。
func (s *PlannerService) adoptVisitor(sess *session, visitor string) error {
	anon, err := s.session(visitor)
	if err != nil {
		return err
	}

	anon.mu.Lock()
	defer anon.mu.Unlock()
	if len(anon.state.Rules) == 0 && len(anon.state.Schedule) == 0 {
		return nil
	}
	sess.state = anon.state.Clone()

	anon.state = planner.NewState()
	anon.version++
	if err := s.cache.Clear(anon.namespace); err != nil {
		return fmt.Errorf("clear visitor cache: %w", err)
	}
	s.mu.Lock()
	delete(s.sessions, anon.namespace)
	s.mu.Unlock()
	log.Printf("[planner] %s adopted by %s", anon.namespace, sess.userID)
	return nil
}

// Logout 结束会话；持久化模式为 session 时清空该用户的缓存
func (s *PlannerService) Logout(userID string) error {
	ns := cache.Namespace(userID)
	s.Flush()

	mode, err := s.cache.PersistenceMode(ns)
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.sessions, ns)
	s.mu.Unlock()

	if mode == cache.PersistenceSession {
		if err := s.cache.Clear(ns); err != nil {
			return err
		}
		log.Printf("[planner] cleared session cache for %s", ns)
	}
	return nil
}

// SetPersistenceMode 设置用户缓存的持久化模式
func (s *PlannerService) SetPersistenceMode(userID, mode string) error {
	return s.cache.SetPersistenceMode(cache.Namespace(userID), mode)
}
