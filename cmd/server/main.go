package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowly/internal/bot"
	"github.com/flowly/internal/cache"
	"github.com/flowly/internal/config"
	"github.com/flowly/internal/db"
	"github.com/flowly/internal/handler"
	"github.com/flowly/internal/planner"
	"github.com/flowly/internal/router"
	"github.com/flowly/internal/service"
	"github.com/flowly/internal/store"
	"github.com/flowly/internal/syncer"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	gin.SetMode(cfg.GinMode)

	// 初始化数据库
	if err := db.Init(cfg.DatabasePath); err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	if err := db.EnsureUser(cfg.SuperRootUserName, cfg.SuperRootPassword); err != nil {
		log.Fatalf("failed to ensure root user: %v", err)
	}

	remoteDB, err := openRemote(cfg)
	if err != nil {
		log.Fatalf("failed to open remote store: %v", err)
	}
	remote := store.NewGormStore(remoteDB)

	loc := cfg.Location()
	engine := planner.NewEngine()
	plannerSvc := service.NewPlannerService(engine, cache.NewStore(db.DB, engine), service.PlannerOptions{
		Syncer:      syncer.New(remote),
		Location:    loc,
		PushTimeout: cfg.PushTimeout,
	})
	tokens := service.NewTokenService(cfg.TokenSecret, 0)

	api := handler.NewAPI(handler.Deps{
		DB:       db.DB,
		Planner:  plannerSvc,
		Tokens:   tokens,
		Bot:      bot.New(remote, db.DB, tokens.UserIDFromCode, loc),
		BotToken: cfg.BotSecret,
	})

	// 设置并运行 Gin 服务器
	r := router.SetupRouter(api, cfg.SessionSecret)
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: r}

	go func() {
		log.Printf("[server] listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to run server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[server] shutdown: %v", err)
	}
	// 等待后台镜像任务完成
	plannerSvc.Close()
	log.Printf("[server] stopped")
}

func openRemote(cfg config.AppConfig) (*gorm.DB, error) {
	if cfg.RemoteDSN == cfg.DatabasePath {
		if err := db.MigrateRemote(db.DB); err != nil {
			return nil, err
		}
		return db.DB, nil
	}
	return db.OpenRemote(cfg.RemoteDSN, nil)
}
