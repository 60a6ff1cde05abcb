package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flowly/internal/bot"
	"github.com/flowly/internal/cache"
	"github.com/flowly/internal/db"
	"github.com/flowly/internal/handler"
	"github.com/flowly/internal/planner"
	"github.com/flowly/internal/service"
	"github.com/flowly/internal/store"
	"github.com/flowly/internal/syncer"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type e2eSuite struct {
	handler http.Handler
	browser httpClient
	chat    httpClient
	baseURL string
}

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type localClient struct {
	handler http.Handler
	jar     http.CookieJar
}

func newLocalClient(handler http.Handler, withJar bool) *localClient {
	var jar http.CookieJar
	if withJar {
		if j, err := cookiejar.New(nil); err == nil {
			jar = j
		}
	}
	return &localClient{handler: handler, jar: jar}
}

func (c *localClient) Do(req *http.Request) (*http.Response, error) {
	if c.jar != nil {
		for _, cookie := range c.jar.Cookies(req.URL) {
			req.AddCookie(cookie)
		}
	}
	w := httptest.NewRecorder()
	c.handler.ServeHTTP(w, req)
	resp := w.Result()
	if c.jar != nil {
		c.jar.SetCookies(req.URL, resp.Cookies())
	}
	return resp, nil
}

func newE2ESuite(t *testing.T) *e2eSuite {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:e2e-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	if err := db.MigrateRemote(gdb); err != nil {
		t.Fatalf("failed to migrate remote schema: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})

	remote := store.NewGormStore(gdb)
	engine := planner.NewEngine()
	svc := service.NewPlannerService(engine, cache.NewStore(gdb, engine), service.PlannerOptions{
		Syncer:   syncer.New(remote),
		Location: time.Local,
	})
	t.Cleanup(svc.Close)
	tokens := service.NewTokenService("e2e-token-secret", time.Hour)

	api := handler.NewAPI(handler.Deps{
		DB:      gdb,
		Planner: svc,
		Tokens:  tokens,
		Bot:     bot.New(remote, gdb, tokens.UserIDFromCode, time.Local),
	})
	r := SetupRouter(api, "test-session-secret")

	return &e2eSuite{
		handler: r,
		browser: newLocalClient(r, true),
		chat:    newLocalClient(r, false),
		baseURL: "http://example.test",
	}
}

// 匿名使用 -> 注册登录上传 -> 聊天机器人写入远程 -> 网页重新加载看到变更
func TestE2E_OfflineToSyncedPlanner(t *testing.T) {
	s := newE2ESuite(t)

	resp := s.mustRequestJSON(t, s.browser, http.MethodPost, "/api/tasks", map[string]interface{}{"date": "2025-06-10", "text": "Comprar pão"})
	expectStatus(t, "add task", resp, http.StatusCreated)
	resp = s.mustRequestJSON(t, s.browser, http.MethodPost, "/api/tasks", map[string]interface{}{"date": "2025-06-10", "text": "Academia"})
	expectStatus(t, "add second task", resp, http.StatusCreated)

	day := s.day(t, "2025-06-10")
	resp = s.mustRequestJSON(t, s.browser, http.MethodPut, "/api/items", map[string]interface{}{
		"item":       day.Items[1],
		"text":       "Academia",
		"daysOfWeek": []int{1, 3},
	})
	expectStatus(t, "make recurring", resp, http.StatusOK)

	resp = s.mustRequestJSON(t, s.browser, http.MethodPost, "/api/sync/push", nil)
	expectStatus(t, "anonymous push", resp, http.StatusUnauthorized)

	resp = s.mustRequestJSON(t, s.browser, http.MethodPost, "/auth/register", map[string]interface{}{"username": "lia", "password": "lia-secret"})
	expectStatus(t, "register", resp, http.StatusCreated)
	resp = s.mustRequestJSON(t, s.browser, http.MethodPost, "/auth/login", map[string]interface{}{"username": "lia", "password": "lia-secret"})
	var loginPayload struct {
		Uploaded int    `json:"uploaded"`
		Sync     string `json:"sync"`
	}
	decodeJSON(t, resp, &loginPayload)
	if loginPayload.Sync != "ok" || loginPayload.Uploaded != 1 {
		t.Fatalf("unexpected login result: %+v", loginPayload)
	}

	resp = s.mustRequest(t, s.browser, http.MethodPost, "/auth/token", nil, nil)
	var tokenPayload struct {
		Token string `json:"token"`
	}
	decodeJSON(t, resp, &tokenPayload)
	if tokenPayload.Token == "" {
		t.Fatalf("expected a link token")
	}

	s.chatSend(t, "/vincular "+tokenPayload.Token, "vinculada")
	s.chatSend(t, "/adicionar Pagar contas", "Pagar contas")

	resp = s.mustRequest(t, s.browser, http.MethodPost, "/api/sync/load", nil, nil)
	expectStatus(t, "load", resp, http.StatusOK)

	resp = s.mustRequest(t, s.browser, http.MethodGet, "/api/views/today", nil, nil)
	if body := readBody(t, resp); !strings.Contains(body, "Pagar contas") {
		t.Fatalf("expected the bot task after reload, got %s", body)
	}

	day = s.day(t, "2025-06-10")
	if len(day.Items) != 2 || day.Items[0].Text != "Academia" || !day.Items[0].Virtual() || day.Items[1].Text != "Comprar pão" {
		t.Fatalf("unexpected synced day: %+v", day.Items)
	}

	resp = s.mustRequest(t, s.browser, http.MethodPost, "/auth/logout", nil, nil)
	expectStatus(t, "logout", resp, http.StatusOK)
	resp = s.mustRequest(t, s.browser, http.MethodPost, "/api/sync/load", nil, nil)
	expectStatus(t, "load after logout", resp, http.StatusUnauthorized)
}

type dayPayload struct {
	Items []planner.ViewItem `json:"items"`
}

func (s *e2eSuite) day(t *testing.T, date string) dayPayload {
	t.Helper()
	resp := s.mustRequest(t, s.browser, http.MethodGet, "/api/days/"+date, nil, nil)
	var payload dayPayload
	decodeJSON(t, resp, &payload)
	return payload
}

func (s *e2eSuite) chatSend(t *testing.T, text, expect string) {
	t.Helper()
	resp := s.mustRequestJSON(t, s.chat, http.MethodPost, "/webhook/bot", map[string]interface{}{
		"update_id": time.Now().UnixNano(),
		"message":   map[string]interface{}{"chat": map[string]interface{}{"id": 9}, "text": text},
	})
	var reply bot.Reply
	decodeJSON(t, resp, &reply)
	if !strings.Contains(reply.Text, expect) {
		t.Fatalf("bot reply to %q does not contain %q: %q", text, expect, reply.Text)
	}
}

func expectStatus(t *testing.T, name string, resp *http.Response, code int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != code {
		t.Fatalf("%s: expected status %d, got %d: %s", name, code, resp.StatusCode, readBody(t, resp))
	}
}

func (s *e2eSuite) mustRequest(t *testing.T, client httpClient, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.baseURL+path, body)
	if err != nil {
		t.Fatalf("failed to build request %s %s: %v", method, path, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	return resp
}

func (s *e2eSuite) mustRequestJSON(t *testing.T, client httpClient, method, path string, payload map[string]interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	headers := map[string]string{"Content-Type": "application/json"}
	return s.mustRequest(t, client, method, path, bytes.NewReader(data), headers)
}

func decodeJSON(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	body := readBody(t, resp)
	if err := json.Unmarshal([]byte(body), dst); err != nil {
		t.Fatalf("failed to decode json: %v\nbody=%s", err, body)
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(data)
}
