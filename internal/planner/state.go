package planner

import (
	"sort"
	"strings"
)

const (
	// RecurringPeriod 是旧版客户端保存规则生成任务用的伪时段，
	// 不能作为存储时段
	RecurringPeriod = "__recurring__"
	// LegacyRecurringPeriod 是同一伪时段在网页端的显示名
	LegacyRecurringPeriod = "Rotina"
	// DefaultPeriod 是临时任务默认所在的时段
	DefaultPeriod = "Tarefas"
)

// IsReservedPeriod 判断 period 是否为重复任务伪时段
func IsReservedPeriod(period string) bool {
	return period == RecurringPeriod || period == LegacyRecurringPeriod
}

// TaskInstance 是保存在某天某时段的具体任务
type TaskInstance struct {
	Text      string   `json:"text"`
	Completed bool     `json:"completed"`
	Priority  Priority `json:"priority,omitempty"`
	RemoteID  string   `json:"remoteId,omitempty"`
	// Derived 标记由规则生成的副本，这类副本不能保存
	Derived bool `json:"isRecurring,omitempty"`
}

// Schedule 为 日期 -> 时段 -> 有序任务列表
type Schedule map[string]map[string][]TaskInstance

// Bucket 返回 (date, period) 下的任务
func (s Schedule) Bucket(date, period string) []TaskInstance {
	return s[date][period]
}

// Dates 按升序列出有任务的日期
func (s Schedule) Dates() []string {
	dates := make([]string, 0, len(s))
	for date := range s {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates
}

// Periods 按升序列出 date 下的时段
func (s Schedule) Periods(date string) []string {
	periods := make([]string, 0, len(s[date]))
	for period := range s[date] {
		periods = append(periods, period)
	}
	sort.Strings(periods)
	return periods
}

// Len 统计全部任务数量
func (s Schedule) Len() int {
	n := 0
	for _, periods := range s {
		for _, items := range periods {
			n += len(items)
		}
	}
	return n
}

// Each 按日期、时段、下标顺序遍历每个任务
func (s Schedule) Each(fn func(date, period string, index int, inst *TaskInstance)) {
	for _, date := range s.Dates() {
		for _, period := range s.Periods(date) {
			items := s[date][period]
			for i := range items {
				fn(date, period, i, &items[i])
			}
		}
	}
}

func (s Schedule) insert(date, period string, index int, inst TaskInstance) int {
	periods, ok := s[date]
	if !ok {
		periods = make(map[string][]TaskInstance)
		s[date] = periods
	}
	items := periods[period]
	if index < 0 || index > len(items) {
		index = len(items)
	}
	items = append(items, TaskInstance{})
	copy(items[index+1:], items[index:])
	items[index] = inst
	periods[period] = items
	return index
}

func (s Schedule) at(date, period string, index int) (*TaskInstance, bool) {
	items := s[date][period]
	if index < 0 || index >= len(items) {
		return nil, false
	}
	return &items[index], true
}

func (s Schedule) removeAt(date, period string, index int) (TaskInstance, bool) {
	items := s[date][period]
	if index < 0 || index >= len(items) {
		return TaskInstance{}, false
	}
	removed := items[index]
	items = append(items[:index:index], items[index+1:]...)
	s[date][period] = items
	s.pruneDate(date)
	return removed, true
}

// removeWhere 删除 drop 返回 true 的任务并清理空时段，
// 返回被删除的任务
func (s Schedule) removeWhere(drop func(date, period string, inst TaskInstance) bool) []TaskInstance {
	var removed []TaskInstance
	for date, periods := range s {
		for period, items := range periods {
			kept := items[:0:0]
			for _, inst := range items {
				if drop(date, period, inst) {
					removed = append(removed, inst)
					continue
				}
				kept = append(kept, inst)
			}
			periods[period] = kept
		}
		s.pruneDate(date)
	}
	return removed
}

func (s Schedule) pruneDate(date string) {
	periods, ok := s[date]
	if !ok {
		return
	}
	for period, items := range periods {
		if len(items) == 0 {
			delete(periods, period)
		}
	}
	if len(periods) == 0 {
		delete(s, date)
	}
}

func (s Schedule) prune() {
	for date := range s {
		s.pruneDate(date)
	}
}

// Clone 深拷贝任务表
func (s Schedule) Clone() Schedule {
	out := make(Schedule, len(s))
	for date, periods := range s {
		cp := make(map[string][]TaskInstance, len(periods))
		for period, items := range periods {
			cp[period] = append([]TaskInstance(nil), items...)
		}
		out[date] = cp
	}
	return out
}

// HabitLog 为 习惯文本 -> 日期 -> 是否完成
type HabitLog map[string]map[string]bool

// Completed 返回 text 在 date 的完成状态
func (h HabitLog) Completed(text, date string) bool {
	return h[text][date]
}

// Set 记录 text 在 date 的完成状态
func (h HabitLog) Set(text, date string, completed bool) {
	days, ok := h[text]
	if !ok {
		days = make(map[string]bool)
		h[text] = days
	}
	days[date] = completed
}

// Rename 把 from 的记录移到 to 名下，to 已有的记录优先
func (h HabitLog) Rename(from, to string) {
	if from == to {
		return
	}
	days, ok := h[from]
	if !ok {
		return
	}
	for date, done := range days {
		if _, exists := h[to][date]; exists {
			continue
		}
		h.Set(to, date, done)
	}
	delete(h, from)
}

// Clone 深拷贝习惯记录
func (h HabitLog) Clone() HabitLog {
	out := make(HabitLog, len(h))
	for text, days := range h {
		cp := make(map[string]bool, len(days))
		for date, done := range days {
			cp[date] = done
		}
		out[text] = cp
	}
	return out
}

// State 是一个用户的全部规划数据
type State struct {
	Rules    []RecurrenceRule `json:"rules"`
	Schedule Schedule         `json:"schedule"`
	Habits   HabitLog         `json:"habits"`
}

// NewState 返回各 map 已初始化的空状态
func NewState() *State {
	return &State{Schedule: Schedule{}, Habits: HabitLog{}}
}

// Clone 深拷贝状态
func (st *State) Clone() *State {
	return &State{
		Rules:    append([]RecurrenceRule(nil), st.Rules...),
		Schedule: st.Schedule.Clone(),
		Habits:   st.Habits.Clone(),
	}
}

func (st *State) ensure() {
	if st.Schedule == nil {
		st.Schedule = Schedule{}
	}
	if st.Habits == nil {
		st.Habits = HabitLog{}
	}
}

// RuleByID 返回指定 id 规则的下标，不存在时为 -1
func (st *State) RuleByID(id string) int {
	if id == "" {
		return -1
	}
	for i, r := range st.Rules {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// RuleByText 返回第一条文本相同的规则下标，不存在时为 -1
func (st *State) RuleByText(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return -1
	}
	for i, r := range st.Rules {
		if r.Text == text {
			return i
		}
	}
	return -1
}

func (st *State) removeRule(index int) RecurrenceRule {
	removed := st.Rules[index]
	st.Rules = append(st.Rules[:index:index], st.Rules[index+1:]...)
	return removed
}

func (st *State) activeRuleTexts() map[string]struct{} {
	texts := make(map[string]struct{}, len(st.Rules))
	for _, r := range st.Rules {
		texts[r.Text] = struct{}{}
	}
	return texts
}
