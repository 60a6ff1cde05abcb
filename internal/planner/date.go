package planner

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// DateLayout 是任务表日期键与远程行使用的 ISO 日期格式
const DateLayout = "2006-01-02"

var isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Date 是不含时刻与时区的日历日期
type Date struct {
	t time.Time
}

// NewDate 按年月日构造日期，越界值与 time.Date 一样顺延
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf 返回 t 在其自身时区下的日期
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate 只接受月份与日期都合法的 YYYY-MM-DD
func ParseDate(s string) (Date, error) {
	if !isoDatePattern.MatchString(s) {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

// ValidDate 判断 s 是否为合法的 ISO 日期
func ValidDate(s string) bool {
	_, err := ParseDate(s)
	return err == nil
}

// IsZero 判断是否为零值
func (d Date) IsZero() bool { return d.t.IsZero() }

// String 输出 YYYY-MM-DD
func (d Date) String() string { return d.t.Format(DateLayout) }

// Format 按 time 布局格式化日期
func (d Date) Format(layout string) string { return d.t.Format(layout) }

// Weekday 以周一为 0、周日为 6 编号。
// 按 UTC 日历日期计算，不受主机时区影响。
func (d Date) Weekday() int {
	return (int(d.t.Weekday()) + 6) % 7
}

// AddDays 返回 n 天后的日期，n 为负时向前
func (d Date) AddDays(n int) Date {
	return Date{t: d.t.AddDate(0, 0, n)}
}

// Before 判断 d 是否早于 other
func (d Date) Before(other Date) bool { return d.t.Before(other.t) }

// Year、Month、Day 返回日期的各个部分
func (d Date) Year() int          { return d.t.Year() }
func (d Date) Month() time.Month { return d.t.Month() }
func (d Date) Day() int           { return d.t.Day() }

// MarshalJSON 输出 ISO 日期字符串
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON 解析 ISO 日期字符串
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// WeekOf 返回 d 所在周（周一开始）的七天
func WeekOf(d Date) []Date {
	start := d.AddDays(-d.Weekday())
	days := make([]Date, 0, 7)
	for i := 0; i < 7; i++ {
		days = append(days, start.AddDays(i))
	}
	return days
}

// MonthOf 按顺序返回 d 所在月的每一天
func MonthOf(d Date) []Date {
	first := NewDate(d.Year(), d.Month(), 1)
	days := make([]Date, 0, 31)
	for cur := first; cur.Month() == first.Month(); cur = cur.AddDays(1) {
		days = append(days, cur)
	}
	return days
}
