package handler

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/flowly/internal/cache"
	"github.com/flowly/internal/service"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	sessionUserKey     = "user_uuid"
	sessionUsernameKey = "username"
	sessionVisitorKey  = "visitor_id"
	userContextKey     = "flowly_user_id"
	ownerContextKey    = "flowly_owner"
)

type credentialsPayload struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

func bindCredentials(c *gin.Context) (credentialsPayload, bool) {
	var payload credentialsPayload
	if err := c.ShouldBind(&payload); err != nil {
		respondError(c, http.StatusBadRequest, "请求参数不合法")
		return payload, false
	}
	return payload, true
}

// Identify 从会话 Cookie 或 Bearer 令牌中解析当前用户。
// 未登录时为该 Cookie 会话分配访客 id，每个访客拥有独立的本地数据。
func (a *API) Identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := ""
		owner := ""
		if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") && a.tokens != nil {
			claims, err := a.tokens.Verify(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				respondError(c, http.StatusUnauthorized, "令牌无效或已过期")
				c.Abort()
				return
			}
			userID = claims.UserID
			owner = userID
		} else {
			session := sessions.Default(c)
			if v, ok := session.Get(sessionUserKey).(string); ok && v != "" {
				userID = v
				owner = userID
			} else {
				owner = cache.VisitorNamespace(ensureVisitorID(session))
			}
		}
		c.Set(userContextKey, userID)
		c.Set(ownerContextKey, owner)
		c.Next()
	}
}

// ensureVisitorID 返回会话中的访客 id，没有时生成并保存
func ensureVisitorID(session sessions.Session) string {
	if v, ok := session.Get(sessionVisitorKey).(string); ok && v != "" {
		return v
	}
	id := uuid.NewString()
	session.Set(sessionVisitorKey, id)
	if err := session.Save(); err != nil {
		log.Printf("[auth] failed to save visitor session: %v", err)
	}
	return id
}

// AuthRequired 是一个简单的认证中间件，要求已登录
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if currentUser(c) == "" {
			respondError(c, http.StatusUnauthorized, "请先登录")
			c.Abort()
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(userContextKey)
}

// plannerOwner 返回规划数据的归属：登录用户的 id，或匿名访客的命名空间
func plannerOwner(c *gin.Context) string {
	return c.GetString(ownerContextKey)
}

// Login 处理用户登录请求，登录成功后执行本地与远程数据的迁移
func (a *API) Login(c *gin.Context) {
	payload, ok := bindCredentials(c)
	if !ok {
		return
	}

	user, err := a.users.Authenticate(payload.Username, payload.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			respondError(c, http.StatusUnauthorized, "用户名或密码错误")
			return
		}
		respondError(c, http.StatusInternalServerError, "登录失败")
		return
	}

	// 设置会话，访客身份在登录后失效
	session := sessions.Default(c)
	visitor := ""
	if v, ok := session.Get(sessionVisitorKey).(string); ok && v != "" {
		visitor = cache.VisitorNamespace(v)
	}
	session.Delete(sessionVisitorKey)
	session.Set(sessionUserKey, user.UUID)
	session.Set(sessionUsernameKey, user.Username)
	if err := session.Save(); err != nil {
		respondError(c, http.StatusInternalServerError, "会话保存失败")
		return
	}

	report, err := a.planner.Login(c.Request.Context(), user.UUID, visitor)
	syncStatus := "ok"
	if err != nil {
		// 远程不可用时登录仍然成功，本地数据保持不变
		log.Printf("[auth] migration for %s: %v", user.Username, err)
		syncStatus = "failed"
	}

	c.JSON(http.StatusOK, gin.H{
		"user":     gin.H{"id": user.UUID, "username": user.Username},
		"uploaded": report.Uploaded,
		"replaced": report.Replaced,
		"sync":     syncStatus,
	})
}

// Register 创建账号
func (a *API) Register(c *gin.Context) {
	payload, ok := bindCredentials(c)
	if !ok {
		return
	}

	user, err := a.users.Register(payload.Username, payload.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUsernameTaken):
			respondError(c, http.StatusConflict, "用户名已被占用")
		case errors.Is(err, service.ErrWeakPassword), errors.Is(err, service.ErrUsernameRequired):
			respondError(c, http.StatusBadRequest, err.Error())
		default:
			respondError(c, http.StatusInternalServerError, "注册失败")
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": gin.H{"id": user.UUID, "username": user.Username}})
}

// Logout 处理用户登出
func (a *API) Logout(c *gin.Context) {
	userID := currentUser(c)
	session := sessions.Default(c)
	session.Clear()
	session.Save()

	if userID != "" {
		if err := a.planner.Logout(userID); err != nil {
			log.Printf("[auth] logout cleanup for %s: %v", userID, err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// IssueToken 为 API 客户端签发 Bearer 令牌，也可作为聊天机器人的绑定码
func (a *API) IssueToken(c *gin.Context) {
	userID := currentUser(c)
	user, err := a.users.GetByUUID(userID)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "请先登录")
		return
	}

	token, expiresAt, err := a.tokens.Issue(user.UUID, user.Username)
	if err != nil {
		log.Printf("[auth] issue token: %v", err)
		respondError(c, http.StatusInternalServerError, "令牌签发失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expiresAt": expiresAt})
}
