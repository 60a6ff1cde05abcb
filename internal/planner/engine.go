package planner

import (
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

// Engine 把用户操作应用到 State 上。它不保存任何用户数据，
// 每个操作都显式接收要修改的状态。
type Engine struct {
	now       func() time.Time
	newID     func() string
	sanitizer *bluemonday.Policy
}

// NewEngine 使用系统时钟与随机 uuid 构造引擎
func NewEngine() *Engine {
	return &Engine{
		now:       time.Now,
		newID:     uuid.NewString,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// SetClock 替换规则创建时间使用的时钟
func (e *Engine) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	e.now = now
}

// HabitKey 定位一条习惯完成记录
type HabitKey struct {
	Text string
	Date string
}

// Mutation 描述一次操作改动了什么，调用方据此写缓存并镜像到远程
type Mutation struct {
	RulesChanged    bool
	ScheduleChanged bool
	Habits          []HabitKey
	// Rule 是本次创建或更新的规则
	Rule *RecurrenceRule
	// RemovedRule 是本次删除的规则
	RemovedRule *RecurrenceRule
	// RemovedRemoteIDs 是本地已不存在的任务实例的远程 id
	RemovedRemoteIDs []string
}

// Changed 判断是否有任何修改
func (m Mutation) Changed() bool {
	return m.RulesChanged || m.ScheduleChanged || len(m.Habits) > 0
}

func (m *Mutation) dropInstances(removed []TaskInstance) {
	if len(removed) == 0 {
		return
	}
	m.ScheduleChanged = true
	for _, inst := range removed {
		if inst.RemoteID != "" {
			m.RemovedRemoteIDs = append(m.RemovedRemoteIDs, inst.RemoteID)
		}
	}
}

// EditRequest 是编辑弹窗提交的内容
type EditRequest struct {
	Item           ViewItem
	NewText        string
	NewPriority    Priority
	NewDays        WeekdaySet
	ConfirmRemoval bool
}

func (e *Engine) cleanText(raw string) string {
	return strings.TrimSpace(html.UnescapeString(e.sanitizer.Sanitize(raw)))
}

// ApplyEdit 处理对视图条目的编辑。
//
// 选择了星期时任务成为（或保持）重复任务：按 id、旧文本、新文本找到的规则被更新，
// 找不到时新建规则；被编辑的具体任务随后移除，由规则负责显示。
// 未选择任何星期时，虚拟条目的规则在确认后删除，
// 具体任务则原地修改。
func (e *Engine) ApplyEdit(st *State, req EditRequest) (Mutation, error) {
	st.ensure()
	text := e.cleanText(req.NewText)
	if text == "" {
		return Mutation{}, invalid("text", "task text is required")
	}
	priority := ParsePriority(string(req.NewPriority))
	origin := req.Item.Origin

	switch origin.Kind {
	case OriginVirtual:
		idx := findRule(st, origin.RuleID, req.Item.Text, text)
		if !req.NewDays.Empty() {
			var m Mutation
			e.upsertRule(st, &m, idx, text, req.NewDays, priority)
			return m, nil
		}
		if idx < 0 {
			return Mutation{}, nil
		}
		if !req.ConfirmRemoval {
			return Mutation{}, ErrConfirmationRequired
		}
		return deleteRuleAt(st, idx, true), nil

	case OriginConcrete:
		inst, ok := st.Schedule.at(origin.Date, origin.Period, origin.Index)
		if !ok {
			return Mutation{}, ErrItemNotFound
		}
		if req.NewDays.Empty() {
			if inst.Text != text && st.RuleByText(text) >= 0 {
				return Mutation{}, invalid("text", "a recurring task with this text already exists")
			}
			inst.Text = text
			inst.Priority = priority
			return Mutation{ScheduleChanged: true}, nil
		}

		var m Mutation
		removed, _ := st.Schedule.removeAt(origin.Date, origin.Period, origin.Index)
		m.dropInstances([]TaskInstance{removed})
		if removed.Completed {
			st.Habits.Set(text, origin.Date, true)
			m.Habits = append(m.Habits, HabitKey{Text: text, Date: origin.Date})
		}
		idx := findRule(st, "", removed.Text, text)
		e.upsertRule(st, &m, idx, text, req.NewDays, priority)
		return m, nil

	default:
		return Mutation{}, ErrItemNotFound
	}
}

// findRule 依次按 id、编辑前文本、编辑后文本查找规则
func findRule(st *State, id, oldText, newText string) int {
	if idx := st.RuleByID(id); idx >= 0 {
		return idx
	}
	if idx := st.RuleByText(oldText); idx >= 0 {
		return idx
	}
	return st.RuleByText(newText)
}

func (e *Engine) upsertRule(st *State, m *Mutation, idx int, text string, days WeekdaySet, priority Priority) {
	m.RulesChanged = true
	if idx < 0 {
		st.Rules = append(st.Rules, RecurrenceRule{
			ID:        e.newID(),
			Text:      text,
			Days:      days,
			Priority:  priority,
			CreatedAt: e.now(),
		})
		idx = len(st.Rules) - 1
	} else if old := st.Rules[idx].Text; old != text {
		if other := st.RuleByText(text); other >= 0 && other != idx {
			removed := st.removeRule(other)
			m.RemovedRule = &removed
			if other < idx {
				idx--
			}
		}
		st.Habits.Rename(old, text)
		st.Rules[idx].Text = text
	}
	st.Rules[idx].Days = days
	st.Rules[idx].Priority = priority

	m.Habits = append(m.Habits, absorbInstances(st, m, text)...)
	rule := st.Rules[idx]
	m.Rule = &rule
}

// absorbInstances 移除文本已归属某条规则的具体任务，
// 已完成的任务把完成状态记入当天的习惯记录。
func absorbInstances(st *State, m *Mutation, text string) []HabitKey {
	var keys []HabitKey
	removed := st.Schedule.removeWhere(func(date, _ string, inst TaskInstance) bool {
		if inst.Text != text {
			return false
		}
		if inst.Completed && !st.Habits.Completed(text, date) {
			st.Habits.Set(text, date, true)
			keys = append(keys, HabitKey{Text: text, Date: date})
		}
		return true
	})
	m.dropInstances(removed)
	return keys
}

func deleteRuleAt(st *State, idx int, cascade bool) Mutation {
	removed := st.removeRule(idx)
	m := Mutation{RulesChanged: true, RemovedRule: &removed}
	if cascade {
		m.dropInstances(CascadeRuleDeletion(st, removed.Text))
	}
	return m
}

// CascadeRuleDeletion 删除所有文本为 text 的具体任务并清理空的时段，
// 返回被删除的任务。
func CascadeRuleDeletion(st *State, text string) []TaskInstance {
	return st.Schedule.removeWhere(func(_, _ string, inst TaskInstance) bool {
		return inst.Text == text
	})
}

// AddTask 在 (date, period) 末尾追加临时任务
func (e *Engine) AddTask(st *State, date Date, period, text string, priority Priority) (Mutation, Origin, error) {
	st.ensure()
	text = e.cleanText(text)
	if text == "" {
		return Mutation{}, Origin{}, invalid("text", "task text is required")
	}
	period = strings.TrimSpace(period)
	if period == "" {
		period = DefaultPeriod
	}
	if IsReservedPeriod(period) {
		return Mutation{}, Origin{}, invalid("period", "period is reserved for recurring tasks")
	}
	if st.RuleByText(text) >= 0 {
		return Mutation{}, Origin{}, invalid("text", "a recurring task with this text already exists")
	}

	key := date.String()
	idx := st.Schedule.insert(key, period, -1, TaskInstance{Text: text, Priority: ParsePriority(string(priority))})
	return Mutation{ScheduleChanged: true}, Origin{Kind: OriginConcrete, Date: key, Period: period, Index: idx}, nil
}

// ToggleCompletion 切换条目的完成状态。虚拟条目记录在习惯记录中，
// 具体任务修改自身的标记。
func (e *Engine) ToggleCompletion(st *State, origin Origin) (Mutation, bool, error) {
	st.ensure()
	switch origin.Kind {
	case OriginVirtual:
		idx := st.RuleByID(origin.RuleID)
		if idx < 0 || !ValidDate(origin.Date) {
			return Mutation{}, false, ErrItemNotFound
		}
		text := st.Rules[idx].Text
		done := !st.Habits.Completed(text, origin.Date)
		st.Habits.Set(text, origin.Date, done)
		return Mutation{Habits: []HabitKey{{Text: text, Date: origin.Date}}}, done, nil
	case OriginConcrete:
		inst, ok := st.Schedule.at(origin.Date, origin.Period, origin.Index)
		if !ok {
			return Mutation{}, false, ErrItemNotFound
		}
		inst.Completed = !inst.Completed
		return Mutation{ScheduleChanged: true}, inst.Completed, nil
	default:
		return Mutation{}, false, ErrItemNotFound
	}
}

// MoveInstance 把具体任务移动到其他日期、时段与位置。
// 重复任务跟随规则，不能拖动。
func (e *Engine) MoveInstance(st *State, from Origin, to Date, period string, index int) (Mutation, Origin, error) {
	st.ensure()
	if from.Kind == OriginVirtual {
		return Mutation{}, Origin{}, invalid("origin", "recurring tasks follow their weekdays; edit the task instead")
	}
	if from.Kind != OriginConcrete {
		return Mutation{}, Origin{}, ErrItemNotFound
	}
	period = strings.TrimSpace(period)
	if period == "" {
		period = from.Period
	}
	if IsReservedPeriod(period) {
		return Mutation{}, Origin{}, invalid("period", "period is reserved for recurring tasks")
	}
	inst, ok := st.Schedule.removeAt(from.Date, from.Period, from.Index)
	if !ok {
		return Mutation{}, Origin{}, ErrItemNotFound
	}
	key := to.String()
	idx := st.Schedule.insert(key, period, index, inst)
	return Mutation{ScheduleChanged: true}, Origin{Kind: OriginConcrete, Date: key, Period: period, Index: idx}, nil
}

// DeleteItem 删除视图条目。删除虚拟条目会删除其规则以及所有同名具体任务，
// 需要确认。
func (e *Engine) DeleteItem(st *State, origin Origin, confirm bool) (Mutation, error) {
	st.ensure()
	switch origin.Kind {
	case OriginVirtual:
		idx := st.RuleByID(origin.RuleID)
		if idx < 0 {
			return Mutation{}, ErrItemNotFound
		}
		if !confirm {
			return Mutation{}, ErrConfirmationRequired
		}
		return deleteRuleAt(st, idx, true), nil
	case OriginConcrete:
		removed, ok := st.Schedule.removeAt(origin.Date, origin.Period, origin.Index)
		if !ok {
			return Mutation{}, ErrItemNotFound
		}
		var m Mutation
		m.dropInstances([]TaskInstance{removed})
		return m, nil
	default:
		return Mutation{}, ErrItemNotFound
	}
}

// DeleteRule 按 id 删除规则，cascade 时同时删除同名具体任务
func (e *Engine) DeleteRule(st *State, id string, cascade bool) (Mutation, error) {
	st.ensure()
	idx := st.RuleByID(id)
	if idx < 0 {
		return Mutation{}, ErrRuleNotFound
	}
	return deleteRuleAt(st, idx, cascade), nil
}
