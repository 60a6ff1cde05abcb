package handler

import (
	"net/http"
	"strconv"

	"github.com/flowly/internal/locale"
	"github.com/flowly/internal/planner"
	"github.com/flowly/internal/service"
	"github.com/gin-gonic/gin"
)

type addTaskPayload struct {
	Date     string `json:"date"`
	Period   string `json:"period"`
	Text     string `json:"text"`
	Priority string `json:"priority"`
}

type editPayload struct {
	Item           planner.ViewItem `json:"item"`
	Text           string           `json:"text"`
	Priority       string           `json:"priority"`
	DaysOfWeek     []int            `json:"daysOfWeek"`
	ConfirmRemoval bool             `json:"confirmRemoval"`
}

type originPayload struct {
	Origin  planner.Origin `json:"origin"`
	Confirm bool           `json:"confirm"`
}

type movePayload struct {
	Origin planner.Origin `json:"origin"`
	Date   string         `json:"date"`
	Period string         `json:"period"`
	// Index 为空时追加到目标时段末尾
	Index *int `json:"index"`
}

type persistencePayload struct {
	Mode string `json:"mode"`
}

func requestLanguage(c *gin.Context) string {
	if lang := locale.NormalizeLanguage(c.Query("lang")); lang != "" {
		return lang
	}
	return locale.LanguageFromAcceptLanguage(c.GetHeader("Accept-Language"))
}

// GetDay 返回某天的任务与进度
func (a *API) GetDay(c *gin.Context) {
	date, ok := a.parseDate(c, c.Param("date"))
	if !ok {
		return
	}
	view, progress, err := a.planner.Day(plannerOwner(c), date)
	if err != nil {
		handlePlannerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": view.Date, "items": view.Items, "progress": progress})
}

// GetView 返回 today/week/month 视图
func (a *API) GetView(c *gin.Context) {
	anchor, ok := a.parseDate(c, c.Query("date"))
	if !ok {
		return
	}
	days, err := a.planner.View(plannerOwner(c), c.Param("view"), anchor)
	if err != nil {
		handlePlannerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"view": c.Param("view"), "days": days})
}

// GetAgenda 返回某天的 Markdown 清单及其 HTML
func (a *API) GetAgenda(c *gin.Context) {
	date, ok := a.parseDate(c, c.Param("date"))
	if !ok {
		return
	}
	view, _, err := a.planner.Day(plannerOwner(c), date)
	if err != nil {
		handlePlannerError(c, err)
		return
	}
	agenda, err := service.RenderAgenda(view, requestLanguage(c))
	if err != nil {
		handlePlannerError(c, err)
		return
	}
	if c.Query("format") == "html" {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(agenda.HTML))
		return
	}
	c.JSON(http.StatusOK, agenda)
}

// AddTask 新增临时任务
func (a *API) AddTask(c *gin.Context) {
	var payload addTaskPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}
	date, ok := a.parseDate(c, payload.Date)
	if !ok {
		return
	}
	origin, err := a.planner.AddTask(plannerOwner(c), date, payload.Period, payload.Text, planner.Priority(payload.Priority))
	if err != nil {
		handlePlannerError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"origin": origin})
}

// EditItem 应用编辑弹窗的修改
func (a *API) EditItem(c *gin.Context) {
	var payload editPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}
	err := a.planner.Edit(plannerOwner(c), planner.EditRequest{
		Item:           payload.Item,
		NewText:        payload.Text,
		NewPriority:    planner.Priority(payload.Priority),
		NewDays:        planner.NewWeekdaySet(payload.DaysOfWeek...),
		ConfirmRemoval: payload.ConfirmRemoval,
	})
	if err != nil {
		handlePlannerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ToggleItem 切换完成状态
func (a *API) ToggleItem(c *gin.Context) {
	var payload originPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}
	done, err := a.planner.Toggle(plannerOwner(c), payload.Origin)
	if err != nil {
		handlePlannerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"completed": done})
}

// MoveItem 拖拽任务到其他日期或时段
func (a *API) MoveItem(c *gin.Context) {
	var payload movePayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}
	to, ok := a.parseDate(c, payload.Date)
	if !ok {
		return
	}
	index := -1
	if payload.Index != nil {
		index = *payload.Index
	}
	origin, err := a.planner.Move(plannerOwner(c), payload.Origin, to, payload.Period, index)
	if err != nil {
		handlePlannerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"origin": origin})
}

// DeleteItem 删除任务
func (a *API) DeleteItem(c *gin.Context) {
	var payload originPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}
	if err := a.planner.Delete(plannerOwner(c), payload.Origin, payload.Confirm); err != nil {
		handlePlannerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ListRules 返回重复规则
func (a *API) ListRules(c *gin.Context) {
	rules, err := a.planner.Rules(plannerOwner(c))
	if err != nil {
		handlePlannerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

// DeleteRule 删除重复规则，cascade=true 时同时删除同名任务
func (a *API) DeleteRule(c *gin.Context) {
	cascade, _ := strconv.ParseBool(c.DefaultQuery("cascade", "false"))
	if err := a.planner.DeleteRule(plannerOwner(c), c.Param("id"), cascade); err != nil {
		handlePlannerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// UpdatePersistence 设置缓存的持久化模式（local/session）
func (a *API) UpdatePersistence(c *gin.Context) {
	var payload persistencePayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}
	if err := a.planner.SetPersistenceMode(plannerOwner(c), payload.Mode); err != nil {
		handlePlannerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// GetNotifications 返回通知 worker 需要的消息
func (a *API) GetNotifications(c *gin.Context) {
	date, ok := a.parseDate(c, c.Query("date"))
	if !ok {
		return
	}
	view, _, err := a.planner.Day(plannerOwner(c), date)
	if err != nil {
		handlePlannerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": a.notifier.Build(view, a.planner.Now())})
}
