package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Config struct {
	Mode string `mapstructure:"mode"`
	Port int    `mapstructure:"port"`

	// Store selects the session store backend: "memory" or "redis".
	Store string      `mapstructure:"store"`
	Redis RedisConfig `mapstructure:"redis"`

	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
	// CookieSecret signs the device-token cookie for browser clients.
	CookieSecret string `mapstructure:"cookie_secret"`
	// MediaSharedSecret authenticates media-transport callbacks.
	MediaSharedSecret string `mapstructure:"media_shared_secret"`

	RingTimeout     time.Duration `mapstructure:"ring_timeout"`
	InviteTTL       time.Duration `mapstructure:"invite_ttl"`
	ScanInterval    time.Duration `mapstructure:"scan_interval"`
	MaxParticipants int           `mapstructure:"max_participants"`

	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`

	NotificationURL string `mapstructure:"notification_url"`
	IdentityURL     string `mapstructure:"identity_url"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8086)
	v.SetDefault("store", "memory")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt_issuer", "quckapp-auth")
	v.SetDefault("ring_timeout", "30s")
	v.SetDefault("invite_ttl", "30s")
	v.SetDefault("scan_interval", "5s")
	v.SetDefault("max_participants", 16)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
