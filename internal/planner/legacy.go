package planner

import (
	"encoding/json"
	"strings"
)

// LegacyTask 是旧版 dailyRoutine 或 weeklyRecurringTasks 列表中的一项，
// 可能是字符串，也可能是对象。
type LegacyTask struct {
	Text     string
	Days     []int
	Priority string
}

// UnmarshalJSON 接受 "text" 或 {"text"|"name", "daysOfWeek"|"days", "priority"|"color"}
func (t *LegacyTask) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*t = LegacyTask{Text: text}
		return nil
	}

	var raw struct {
		Text       *string `json:"text"`
		Name       *string `json:"name"`
		DaysOfWeek []int   `json:"daysOfWeek"`
		Days       []int   `json:"days"`
		Priority   string  `json:"priority"`
		Color      string  `json:"color"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := LegacyTask{Days: raw.DaysOfWeek, Priority: raw.Priority}
	switch {
	case raw.Text != nil:
		out.Text = *raw.Text
	case raw.Name != nil:
		out.Text = *raw.Name
	}
	if len(out.Days) == 0 {
		out.Days = raw.Days
	}
	if out.Priority == "" {
		out.Priority = raw.Color
	}
	*t = out
	return nil
}

// LegacyData 是旧版客户端分散保存在各缓存键中的数据
type LegacyData struct {
	// DailyRoutine 每天重复的任务
	DailyRoutine []LegacyTask `json:"dailyRoutine"`
	// WeeklyRecurring 按各自星期重复的任务
	WeeklyRecurring []LegacyTask `json:"weeklyRecurringTasks"`
	// RoutineCompletions 为 文本 -> 日期 -> 是否完成
	RoutineCompletions map[string]map[string]bool `json:"routineCompletions"`
}

// Empty 判断是否没有可导入的内容
func (d LegacyData) Empty() bool {
	return len(d.DailyRoutine) == 0 && len(d.WeeklyRecurring) == 0 && len(d.RoutineCompletions) == 0
}

// ImportReport 统计 ImportLegacy 的结果
type ImportReport struct {
	RulesCreated int `json:"rulesCreated"`
	RulesMerged  int `json:"rulesMerged"`
	Skipped      int `json:"skipped"`
	Completions  int `json:"completions"`
}

// ImportLegacy 把旧版重复列表合并进统一的规则集合，同名规则合并星期。
// 已有的习惯记录优先于旧版完成记录。导入是单向的，调用方随后删除旧键。
func (e *Engine) ImportLegacy(st *State, in LegacyData) ImportReport {
	st.ensure()
	var report ImportReport

	add := func(task LegacyTask, days WeekdaySet) {
		text := e.cleanText(task.Text)
		if text == "" || days.Empty() {
			report.Skipped++
			return
		}
		if idx := st.RuleByText(text); idx >= 0 {
			st.Rules[idx].Days |= days
			report.RulesMerged++
			return
		}
		st.Rules = append(st.Rules, RecurrenceRule{
			ID:        e.newID(),
			Text:      text,
			Days:      days,
			Priority:  ParsePriority(task.Priority),
			CreatedAt: e.now(),
		})
		report.RulesCreated++
	}

	for _, task := range in.DailyRoutine {
		add(task, allWeekdays)
	}
	for _, task := range in.WeeklyRecurring {
		add(task, NewWeekdaySet(task.Days...))
	}

	for text, days := range in.RoutineCompletions {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		for date, done := range days {
			if !ValidDate(date) {
				continue
			}
			if _, exists := st.Habits[text][date]; exists {
				continue
			}
			st.Habits.Set(text, date, done)
			report.Completions++
		}
	}
	return report
}
