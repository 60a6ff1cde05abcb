package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr        string        `yaml:"listen_addr"`
	Port              string        `yaml:"port"`
	DatabasePath      string        `yaml:"database_path"`
	RemoteDSN         string        `yaml:"remote_dsn"`
	SessionSecret     string        `yaml:"session_secret"`
	TokenSecret       string        `yaml:"token_secret"`
	GinMode           string        `yaml:"gin_mode"`
	Timezone          string        `yaml:"timezone"`
	PushTimeout       time.Duration `yaml:"push_timeout"`
	BotSecret         string        `yaml:"bot_secret"`
	SuperRootUserName string        `yaml:"super_root_user_name"`
	SuperRootPassword string        `yaml:"super_root_password"`
}

// Location 解析配置的时区，为空或无法识别时使用本地时区。
func (c AppConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Load 读取应用配置：先读取 FLOWLY_CONFIG 指向的 YAML 文件，再用环境变量覆盖，
// 最后为缺失项提供默认值。
func Load() (AppConfig, error) {
	var cfg AppConfig
	if path := strings.TrimSpace(os.Getenv("FLOWLY_CONFIG")); path != "" {
		file, err := LoadFile(path)
		if err != nil {
			return AppConfig{}, err
		}
		cfg = file
	}

	override(&cfg.Port, "PORT")
	override(&cfg.ListenAddr, "LISTEN_ADDR")
	override(&cfg.DatabasePath, "DATABASE_PATH")
	override(&cfg.RemoteDSN, "REMOTE_DSN")
	override(&cfg.SessionSecret, "SESSION_SECRET")
	override(&cfg.TokenSecret, "TOKEN_SECRET")
	override(&cfg.GinMode, "GIN_MODE")
	override(&cfg.Timezone, "TZ")
	override(&cfg.BotSecret, "BOT_SECRET")
	override(&cfg.SuperRootUserName, "SUPER_ROOT_USER_NAME")
	override(&cfg.SuperRootPassword, "SUPER_ROOT_PASSWORD")
	if raw := strings.TrimSpace(os.Getenv("PUSH_TIMEOUT")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return AppConfig{}, fmt.Errorf("parse PUSH_TIMEOUT: %w", err)
		}
		cfg.PushTimeout = d
	}

	applyDefaults(&cfg)
	return cfg, nil
}

// LoadFile 解析 YAML 配置文件，不应用默认值。
func LoadFile(path string) (AppConfig, error) {
	var cfg AppConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func override(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = fmt.Sprintf(":%s", cfg.Port)
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "flowly.db"
	}
	// 未配置远程库时，远程表与本地缓存共用同一个 SQLite 文件
	if cfg.RemoteDSN == "" {
		cfg.RemoteDSN = cfg.DatabasePath
	}
	if cfg.SessionSecret == "" {
		cfg.SessionSecret = "flowly-dev-secret"
	}
	if cfg.TokenSecret == "" {
		cfg.TokenSecret = cfg.SessionSecret
	}
	if cfg.GinMode == "" {
		cfg.GinMode = "release"
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 30 * time.Second
	}
}
