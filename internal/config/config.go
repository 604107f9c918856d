package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/meetroom/internal/adapters/rtc"
	"github.com/spf13/viper"
)

type Config struct {
	Mode      string          `mapstructure:"mode"`
	Port      int             `mapstructure:"port"`
	LogLevel  string          `mapstructure:"log_level"`
	Secret    string          `mapstructure:"secret"`
	WS        WSConfig        `mapstructure:"ws"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Retention RetentionConfig `mapstructure:"retention"`
	CORS      CORSConfig      `mapstructure:"cors"`
	WebRTC    WebRTCConfig    `mapstructure:"webrtc"`
}

type WSConfig struct {
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// DatabaseConfig selects the membership store: "memory" or "postgres".
type DatabaseConfig struct {
	Driver        string        `mapstructure:"driver"`
	DSN           string        `mapstructure:"dsn"`
	ConnRetries   int           `mapstructure:"conn_retries"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// RedisConfig enables cross-node fan-out when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type RateLimitConfig struct {
	Chat     int `mapstructure:"chat"`
	Reaction int `mapstructure:"reaction"`
	Default  int `mapstructure:"default"`
}

type RetentionConfig struct {
	Signals  time.Duration `mapstructure:"signals"`
	RoomIdle time.Duration `mapstructure:"room_idle"`
	Schedule string        `mapstructure:"schedule"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type WebRTCConfig struct {
	ICEServers []rtc.ICEServer `mapstructure:"ice_servers"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("secret", "change-me")

	v.SetDefault("ws.read_limit", 32768)
	v.SetDefault("ws.ping_period", "54s")
	v.SetDefault("ws.pong_wait", "60s")
	v.SetDefault("ws.write_wait", "10s")
	v.SetDefault("ws.send_buffer", 64)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.conn_retries", 5)
	v.SetDefault("database.retry_interval", "2s")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "meetroom:room:")

	v.SetDefault("rate_limit.chat", 10)
	v.SetDefault("rate_limit.reaction", 5)
	v.SetDefault("rate_limit.default", 20)

	v.SetDefault("retention.signals", "5m")
	v.SetDefault("retention.room_idle", "24h")
	v.SetDefault("retention.schedule", "@every 1m")

	v.SetDefault("cors.allowed_origins", []string{})
}

// Load reads config/config.<CONFIG_ENV>.yaml over the defaults.
// MEETROOM_* environment variables override both, e.g. MEETROOM_REDIS_ADDR.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("MEETROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Store: %s\n", cfg.Mode, cfg.Port, cfg.Database.Driver)
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver postgres")
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.WS.PingPeriod >= c.WS.PongWait {
		return fmt.Errorf("ws.ping_period must be shorter than ws.pong_wait")
	}
	return nil
}
