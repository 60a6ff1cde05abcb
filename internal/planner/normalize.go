package planner

import (
	"strings"

	"github.com/google/uuid"
)

// ruleIDNamespace 用于为缺少 id 的规则生成确定的 id
var ruleIDNamespace = uuid.MustParse("6f1b2c1e-8d4a-4b7e-9a51-0c7e5f3d2a90")

// NormalizeReport 统计一次 Normalize 删除的内容
type NormalizeReport struct {
	RulesDropped      int `json:"rulesDropped"`
	ReservedBuckets   int `json:"reservedBuckets"`
	DerivedDropped    int `json:"derivedDropped"`
	CollisionsDropped int `json:"collisionsDropped"`
	// RemovedRemoteIDs 是被删除任务的远程 id，远程副本随之删除
	RemovedRemoteIDs []string `json:"removedRemoteIds,omitempty"`
}

// Changed 判断本次修复是否改动了状态
func (r NormalizeReport) Changed() bool {
	return r.RulesDropped+r.ReservedBuckets+r.DerivedDropped+r.CollisionsDropped > 0
}

// Normalize 修复加载后的状态：
// 规则必须有文本、id 和至少一个星期，同一文本最多属于一条规则；
// 不存在重复任务伪时段；具体任务不能来自规则，也不能与规则同名；
// 不保留空的时段或日期。重复执行与执行一次结果相同。
func Normalize(st *State) NormalizeReport {
	st.ensure()
	var report NormalizeReport

	rules := st.Rules[:0:0]
	byText := make(map[string]int, len(st.Rules))
	for _, rule := range st.Rules {
		rule.Text = strings.TrimSpace(rule.Text)
		rule.Priority = ParsePriority(string(rule.Priority))
		if rule.Text == "" || rule.Days.Empty() {
			report.RulesDropped++
			continue
		}
		if idx, dup := byText[rule.Text]; dup {
			rules[idx].Days |= rule.Days
			report.RulesDropped++
			continue
		}
		if rule.ID == "" {
			rule.ID = uuid.NewSHA1(ruleIDNamespace, []byte(rule.Text)).String()
		}
		byText[rule.Text] = len(rules)
		rules = append(rules, rule)
	}
	st.Rules = rules

	for date, periods := range st.Schedule {
		for period := range periods {
			if IsReservedPeriod(period) {
				for _, inst := range periods[period] {
					if inst.RemoteID != "" {
						report.RemovedRemoteIDs = append(report.RemovedRemoteIDs, inst.RemoteID)
					}
				}
				delete(periods, period)
				report.ReservedBuckets++
			}
		}
		st.Schedule.pruneDate(date)
	}

	st.Schedule.removeWhere(func(date, _ string, inst TaskInstance) bool {
		_, collides := byText[inst.Text]
		switch {
		case inst.Derived:
			report.DerivedDropped++
		case collides:
			report.CollisionsDropped++
			if inst.Completed && !st.Habits.Completed(inst.Text, date) {
				st.Habits.Set(inst.Text, date, true)
			}
		default:
			return false
		}
		if inst.RemoteID != "" {
			report.RemovedRemoteIDs = append(report.RemovedRemoteIDs, inst.RemoteID)
		}
		return true
	})
	st.Schedule.prune()

	for text, days := range st.Habits {
		if len(days) == 0 {
			delete(st.Habits, text)
		}
	}
	return report
}
