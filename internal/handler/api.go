package handler

import (
	"github.com/flowly/internal/bot"
	"github.com/flowly/internal/notify"
	"github.com/flowly/internal/service"
	"gorm.io/gorm"
)

// API 汇总 HTTP 处理器共用的依赖
type API struct {
	db       *gorm.DB
	planner  *service.PlannerService
	users    *service.UserService
	tokens   *service.TokenService
	bot      *bot.Bot
	notifier *notify.Builder
	botToken string
}

// Deps 列出 NewAPI 需要装配的依赖
type Deps struct {
	DB       *gorm.DB
	Planner  *service.PlannerService
	Tokens   *service.TokenService
	Bot      *bot.Bot
	BotToken string
}

// NewAPI 使用共享服务构造处理器集合
func NewAPI(deps Deps) *API {
	return &API{
		db:       deps.DB,
		planner:  deps.Planner,
		users:    service.NewUserService(deps.DB),
		tokens:   deps.Tokens,
		bot:      deps.Bot,
		notifier: notify.NewBuilder(),
		botToken: deps.BotToken,
	}
}

// DB 返回底层 gorm 实例
func (a *API) DB() *gorm.DB {
	return a.db
}
