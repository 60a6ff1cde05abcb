package handler

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/flowly/internal/planner"
	"github.com/flowly/internal/service"
	"github.com/flowly/internal/syncer"
	"github.com/gin-gonic/gin"
)

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

func respondErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": message, "code": code})
}

func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, message)
		return false
	}
	return true
}

// parseDate 解析路径或查询参数中的日期，为空时返回今天
func (a *API) parseDate(c *gin.Context, raw string) (planner.Date, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return a.planner.Today(), true
	}
	d, err := planner.ParseDate(raw)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return planner.Date{}, false
	}
	return d, true
}

// handlePlannerError 把领域错误映射为 HTTP 状态码
func handlePlannerError(c *gin.Context, err error) {
	var validation *planner.ValidationError
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Message, "field": validation.Field})
	case errors.Is(err, planner.ErrConfirmationRequired):
		respondErrorCode(c, http.StatusConflict, "CONFIRMATION_REQUIRED", "确认后才能停止重复该任务")
	case errors.Is(err, planner.ErrItemNotFound), errors.Is(err, planner.ErrRuleNotFound):
		respondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrUnknownView):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, syncer.ErrAuthRequired):
		respondError(c, http.StatusUnauthorized, "请先登录")
	case errors.Is(err, syncer.ErrStaleLoad):
		respondErrorCode(c, http.StatusConflict, "STALE_LOAD", err.Error())
	case errors.Is(err, syncer.ErrRemoteUnavailable):
		respondError(c, http.StatusBadGateway, "远程存储不可用")
	default:
		log.Printf("[handler] %s %s: %v", c.Request.Method, c.FullPath(), err)
		respondError(c, http.StatusInternalServerError, "操作失败")
	}
}
