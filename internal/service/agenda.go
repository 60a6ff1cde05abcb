package service

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/flowly/internal/locale"
	"github.com/flowly/internal/planner"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	agendaMarkdown = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
	)
	agendaSanitizer = bluemonday.UGCPolicy()
)

// Agenda 是某天任务清单的 Markdown 与渲染后的 HTML
type Agenda struct {
	Date     string           `json:"date"`
	Markdown string           `json:"markdown"`
	HTML     template.HTML    `json:"html"`
	Progress planner.Progress `json:"progress"`
}

// AgendaMarkdown 把某天的任务写成 GFM 任务列表
func AgendaMarkdown(view planner.DayView, language string) string {
	var b strings.Builder
	weekday := ""
	if d, err := planner.ParseDate(view.Date); err == nil {
		weekday = locale.WeekdayName(language, d.Weekday())
	}
	fmt.Fprintf(&b, "## %s, %s\n\n", weekday, view.Date)

	if len(view.Items) == 0 {
		fmt.Fprintf(&b, "_%s_\n", locale.Text(language, locale.MsgNothingPlanned))
		return b.String()
	}
	for _, item := range view.Items {
		mark := " "
		if item.Completed {
			mark = "x"
		}
		text := escapeMarkdown(item.Text)
		if item.Virtual() {
			text += " ↻"
		}
		fmt.Fprintf(&b, "- [%s] %s\n", mark, text)
	}
	p := planner.ProgressOf(view.Items)
	fmt.Fprintf(&b, "\n**%s: %d/%d (%d%%)**\n", locale.Text(language, locale.MsgProgress), p.Completed, p.Total, p.Percentage)
	return b.String()
}

// RenderAgenda 渲染某天的任务清单，输出经过 UGC 策略过滤的 HTML
func RenderAgenda(view planner.DayView, language string) (Agenda, error) {
	md := AgendaMarkdown(view, language)
	var buf bytes.Buffer
	if err := agendaMarkdown.Convert([]byte(md), &buf); err != nil {
		return Agenda{}, fmt.Errorf("render agenda: %w", err)
	}
	safe := agendaSanitizer.SanitizeBytes(buf.Bytes())
	return Agenda{
		Date:     view.Date,
		Markdown: md,
		HTML:     template.HTML(safe),
		Progress: planner.ProgressOf(view.Items),
	}, nil
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "[", `\[`, "]", `\]`, "<", "&lt;", ">", "&gt;", "#", `\#`,
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
