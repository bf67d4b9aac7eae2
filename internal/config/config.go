package config

import (
	"errors"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultSessionSecret = "dev-secret-change-me"

type Config struct {
	Port            string
	DatabaseDSN     string
	SessionSecret   string
	SessionCookie   string
	SessionTTLHours int
	Env             string
	LogLevel        string
	ClientOrigin    string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	DBMaxOpenConns  int
	DBMaxIdleConns  int
	DBConnAttempts  int
	DBSlowThreshold time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	WSPingInterval   time.Duration
	WSPongWait       time.Duration
	WSWriteWait      time.Duration
	WSMaxMessageSize int64
	WSSendBuffer     int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "5000")
	v.SetDefault("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=liveblood port=5432 sslmode=disable TimeZone=UTC")
	v.SetDefault("SESSION_SECRET", defaultSessionSecret)
	v.SetDefault("SESSION_COOKIE", "liveblood_session")
	v.SetDefault("SESSION_TTL_HOURS", 24)
	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CLIENT_ORIGIN", "*")
	v.SetDefault("GOOGLE_REDIRECT_URL", "http://localhost:5000/api/v1/auth/google/callback")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONNECT_ATTEMPTS", 10)
	v.SetDefault("DB_SLOW_THRESHOLD", "200ms")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("WS_PING_INTERVAL", "30s")
	v.SetDefault("WS_PONG_WAIT", "60s")
	v.SetDefault("WS_WRITE_WAIT", "10s")
	v.SetDefault("WS_MAX_MESSAGE_SIZE", 64*1024)
	v.SetDefault("WS_SEND_BUFFER", 256)
}

// Load 先尝试读取 .env，再从环境变量合并配置，非法数值回落到默认值。
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	return Config{
		Port:               v.GetString("APP_PORT"),
		DatabaseDSN:        v.GetString("DATABASE_DSN"),
		SessionSecret:      v.GetString("SESSION_SECRET"),
		SessionCookie:      v.GetString("SESSION_COOKIE"),
		SessionTTLHours:    positiveInt(v, "SESSION_TTL_HOURS", 24),
		Env:                v.GetString("APP_ENV"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		ClientOrigin:       v.GetString("CLIENT_ORIGIN"),
		GoogleClientID:     v.GetString("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: v.GetString("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  v.GetString("GOOGLE_REDIRECT_URL"),
		DBMaxOpenConns:     positiveInt(v, "DB_MAX_OPEN_CONNS", 20),
		DBMaxIdleConns:     positiveInt(v, "DB_MAX_IDLE_CONNS", 5),
		DBConnAttempts:     positiveInt(v, "DB_CONNECT_ATTEMPTS", 10),
		DBSlowThreshold:    duration(v, "DB_SLOW_THRESHOLD", 200*time.Millisecond),
		RedisAddr:          v.GetString("REDIS_ADDR"),
		RedisPassword:      v.GetString("REDIS_PASSWORD"),
		RedisDB:            v.GetInt("REDIS_DB"),
		WSPingInterval:     duration(v, "WS_PING_INTERVAL", 30*time.Second),
		WSPongWait:         duration(v, "WS_PONG_WAIT", 60*time.Second),
		WSWriteWait:        duration(v, "WS_WRITE_WAIT", 10*time.Second),
		WSMaxMessageSize:   int64(positiveInt(v, "WS_MAX_MESSAGE_SIZE", 64*1024)),
		WSSendBuffer:       positiveInt(v, "WS_SEND_BUFFER", 256),
	}
}

func positiveInt(v *viper.Viper, key string, def int) int {
	n := v.GetInt(key)
	if n <= 0 {
		return def
	}
	return n
}

func duration(v *viper.Viper, key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GoogleEnabled 报告是否配置了 Google 登录。
func (c Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// Validate 在启动时检查关键配置，非 dev 环境禁止使用默认会话密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required")
	}
	if cfg.SessionSecret == "" {
		return errors.New("SESSION_SECRET is required")
	}
	if cfg.Env != "dev" && cfg.SessionSecret == defaultSessionSecret {
		return errors.New("SESSION_SECRET must be changed outside dev")
	}
	if cfg.WSPongWait > 0 && cfg.WSPingInterval >= cfg.WSPongWait {
		return errors.New("WS_PING_INTERVAL must be shorter than WS_PONG_WAIT")
	}
	return nil
}
