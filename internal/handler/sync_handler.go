package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/flowly/internal/bot"
	"github.com/flowly/internal/planner"
	"github.com/gin-gonic/gin"
)

const botSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// SyncLoad 从远程重新加载当前用户的数据
func (a *API) SyncLoad(c *gin.Context) {
	report, err := a.planner.Load(c.Request.Context(), currentUser(c))
	if err != nil {
		handlePlannerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "normalized": report})
}

// SyncPush 立即把本地状态推送到远程
func (a *API) SyncPush(c *gin.Context) {
	if err := a.planner.Push(c.Request.Context(), currentUser(c)); err != nil {
		handlePlannerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ImportLegacy 导入旧版客户端导出的缓存
func (a *API) ImportLegacy(c *gin.Context) {
	var payload planner.LegacyData
	if !bindJSON(c, &payload, "旧版数据格式不正确") {
		return
	}
	report, err := a.planner.ImportLegacy(plannerOwner(c), payload)
	if err != nil {
		handlePlannerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// BotWebhook 接收聊天平台推送，回复直接写在响应体中
func (a *API) BotWebhook(c *gin.Context) {
	if a.bot == nil {
		respondError(c, http.StatusNotFound, "机器人未启用")
		return
	}
	if a.botToken != "" {
		got := c.GetHeader(botSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(a.botToken)) != 1 {
			respondError(c, http.StatusUnauthorized, "签名无效")
			return
		}
	}
	var update bot.Update
	if !bindJSON(c, &update, "消息格式不正确") {
		return
	}
	reply, err := a.bot.Handle(c.Request.Context(), update)
	if err != nil {
		handlePlannerError(c, err)
		return
	}
	if reply == nil {
		c.Status(http.StatusOK)
		return
	}
	c.JSON(http.StatusOK, reply)
}
