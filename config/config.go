package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Log      LogConfig
	HTTP     HTTPConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Bus      BusConfig
	Auth     AuthConfig
	Upload   UploadConfig
	Push     PushConfig
	Presence PresenceConfig
	Gateway  GatewayConfig
	Signals  SignalConfig
	Offline  OfflineConfig
	Router   RouterConfig
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
	// ClientOrigins is the cross-origin allowlist for the REST surface and
	// the websocket handshake.
	ClientOrigins []string      `mapstructure:"client_origins"`
	DrainWindow   time.Duration `mapstructure:"drain_window"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
	// Mock swaps the pgx repositories for in-memory fakes (dev mode).
	Mock    bool          `mapstructure:"mock"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type CacheConfig struct {
	URL string `mapstructure:"url"`
	// Mock swaps the redis client for the in-process cache (dev mode).
	Mock    bool          `mapstructure:"mock"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type BusConfig struct {
	// AMQPURL selects the production transport; empty falls back to the
	// in-process gochannel bus (single-node and tests).
	AMQPURL string `mapstructure:"amqp_url"`
}

type AuthConfig struct {
	Secret     string        `mapstructure:"secret"`
	AccessTTL  time.Duration `mapstructure:"access_ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
}

type UploadConfig struct {
	Dir string `mapstructure:"dir"`
}

type PushConfig struct {
	VAPIDPublicKey  string        `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string        `mapstructure:"vapid_private_key"`
	Subject         string        `mapstructure:"subject"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
}

type PresenceConfig struct {
	// Grace is the interval between a user's last session closing and the
	// user being marked offline, suppressing flicker on transport drops.
	Grace     time.Duration `mapstructure:"grace"`
	AwayAfter time.Duration `mapstructure:"away_after"`
}

type GatewayConfig struct {
	SessionBuffer int           `mapstructure:"session_buffer"`
	SendTimeout   time.Duration `mapstructure:"send_timeout"`
}

type SignalConfig struct {
	TypingDebounce  time.Duration `mapstructure:"typing_debounce"`
	ReceiptThrottle time.Duration `mapstructure:"receipt_throttle"`
	PresenceBatch   time.Duration `mapstructure:"presence_batch"`
	ReactionBatch   time.Duration `mapstructure:"reaction_batch"`
	// RateLimit is the per-session ceiling for ephemeral frames, per second.
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

type OfflineConfig struct {
	MaxPerUser int `mapstructure:"max_per_user"`
}

type RouterConfig struct {
	ParticipantTTL  time.Duration `mapstructure:"participant_ttl"`
	ParticipantSize int           `mapstructure:"participant_size"`
}

// LoadConfig reads configuration from the environment (CHATMESH_ prefix and
// the conventional bare names) and an optional config file.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.client_origins", []string{"*"})
	v.SetDefault("http.drain_window", 15*time.Second)
	v.SetDefault("database.url", "postgres://localhost:5432/chatmesh?sslmode=disable")
	v.SetDefault("database.mock", false)
	v.SetDefault("database.timeout", 5*time.Second)
	v.SetDefault("cache.url", "redis://localhost:6379/0")
	v.SetDefault("cache.mock", false)
	v.SetDefault("cache.timeout", 500*time.Millisecond)
	v.SetDefault("bus.amqp_url", "")
	v.SetDefault("auth.access_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_ttl", 7*24*time.Hour)
	v.SetDefault("upload.dir", "./uploads")
	v.SetDefault("push.timeout", 2*time.Second)
	v.SetDefault("push.max_retries", 4)
	v.SetDefault("presence.grace", 8*time.Second)
	v.SetDefault("presence.away_after", 10*time.Minute)
	v.SetDefault("gateway.session_buffer", 1024)
	v.SetDefault("gateway.send_timeout", 500*time.Millisecond)
	v.SetDefault("signals.typing_debounce", 300*time.Millisecond)
	v.SetDefault("signals.receipt_throttle", 200*time.Millisecond)
	v.SetDefault("signals.presence_batch", 100*time.Millisecond)
	v.SetDefault("signals.reaction_batch", 50*time.Millisecond)
	v.SetDefault("signals.rate_limit", 25.0)
	v.SetDefault("signals.rate_limit_burst", 50)
	v.SetDefault("offline.max_per_user", 500)
	v.SetDefault("router.participant_ttl", time.Minute)
	v.SetDefault("router.participant_size", 16384)

	v.SetEnvPrefix("CHATMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional bare env names keep parity with sibling deployments.
	aliases := map[string]string{
		"database.url":           "DATABASE_URL",
		"database.mock":          "MOCK_DATABASE",
		"cache.url":              "REDIS_URL",
		"cache.mock":             "MOCK_CACHE",
		"bus.amqp_url":           "AMQP_URL",
		"auth.secret":            "JWT_SECRET",
		"auth.access_ttl":        "ACCESS_TOKEN_TTL",
		"auth.refresh_ttl":       "REFRESH_TOKEN_TTL",
		"upload.dir":             "UPLOAD_DIR",
		"push.vapid_public_key":  "VAPID_PUBLIC_KEY",
		"push.vapid_private_key": "VAPID_PRIVATE_KEY",
		"push.subject":           "VAPID_SUBJECT",
		"http.client_origins":    "CLIENT_ORIGINS",
	}
	for key, env := range aliases {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
