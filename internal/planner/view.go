package planner

import "math"

// OriginKind 区分视图条目来自规则还是已保存的任务
type OriginKind string

const (
	OriginVirtual  OriginKind = "virtual"
	OriginConcrete OriginKind = "concrete"
)

// Origin 指明编辑或删除视图条目时的目标
type Origin struct {
	Kind   OriginKind `json:"kind"`
	RuleID string     `json:"ruleId,omitempty"`
	Date   string     `json:"date"`
	Period string     `json:"period,omitempty"`
	Index  int        `json:"index"`
}

// ViewItem 是某天可直接渲染的一条任务，不会被保存
type ViewItem struct {
	Text      string   `json:"text"`
	Completed bool     `json:"completed"`
	Priority  Priority `json:"priority"`
	Origin    Origin   `json:"origin"`
}

// Virtual 判断条目是否由规则生成
func (v ViewItem) Virtual() bool { return v.Origin.Kind == OriginVirtual }

// DayView 是某天展开后的任务列表
type DayView struct {
	Date  string     `json:"date"`
	Items []ViewItem `json:"items"`
}

// Materialize 计算某天显示的任务：先按规则顺序列出匹配规则的虚拟条目，
// 再按时段顺序列出各时段的具体任务。
func Materialize(st *State, date Date) []ViewItem {
	key := date.String()
	weekday := date.Weekday()

	items := make([]ViewItem, 0, len(st.Rules))
	for _, rule := range st.Rules {
		if !rule.Days.Has(weekday) {
			continue
		}
		items = append(items, ViewItem{
			Text:      rule.Text,
			Completed: st.Habits.Completed(rule.Text, key),
			Priority:  rule.Priority,
			Origin:    Origin{Kind: OriginVirtual, RuleID: rule.ID, Date: key},
		})
	}

	for _, period := range st.Schedule.Periods(key) {
		if IsReservedPeriod(period) {
			continue
		}
		for i, inst := range st.Schedule.Bucket(key, period) {
			items = append(items, ViewItem{
				Text:      inst.Text,
				Completed: inst.Completed,
				Priority:  inst.Priority,
				Origin:    Origin{Kind: OriginConcrete, Date: key, Period: period, Index: i},
			})
		}
	}
	return items
}

// MaterializeRange 展开 days 中的每一天
func MaterializeRange(st *State, days []Date) []DayView {
	views := make([]DayView, 0, len(days))
	for _, d := range days {
		views = append(views, DayView{Date: d.String(), Items: Materialize(st, d)})
	}
	return views
}

// Progress 汇总一组条目的完成情况
type Progress struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// ProgressOf 统计已完成条目，Percentage 四舍五入为整数
func ProgressOf(items []ViewItem) Progress {
	p := Progress{Total: len(items)}
	for _, item := range items {
		if item.Completed {
			p.Completed++
		}
	}
	if p.Total > 0 {
		p.Percentage = int(math.Round(float64(p.Completed) * 100 / float64(p.Total)))
	}
	return p
}
