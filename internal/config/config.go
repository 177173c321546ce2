package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"

	"curaj-bot/internal/domain"
)

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort string `env:"HTTP_PORT" envDefault:"8080"`

	ResolverMode    domain.ResolverMode `env:"RESOLVER_MODE" envDefault:"simulated"`
	BackendURL      string              `env:"BACKEND_URL" envDefault:"http://localhost:5000/api/query"`
	BackendTimeout  time.Duration       `env:"BACKEND_TIMEOUT" envDefault:"60s"`
	LiveMaxInFlight int64               `env:"LIVE_MAX_INFLIGHT" envDefault:"8"`
	DelayMinMS      int                 `env:"DELAY_MIN_MS" envDefault:"1500"`
	DelayMaxMS      int                 `env:"DELAY_MAX_MS" envDefault:"1800"`
	QATablePath     string              `env:"QA_TABLE_PATH"`

	ChatSerialize      bool          `env:"CHAT_SERIALIZE" envDefault:"true"`
	SessionTTL         time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	SweepInterval      time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"1m"`
	SessionSecret      string        `env:"SESSION_SECRET"`
	RateLimitPerMinute int           `env:"RATE_LIMIT_PER_MINUTE" envDefault:"30"`

	TelegramToken string `env:"TELEGRAM_BOT_TOKEN"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
}

var ErrInvalidConfig = errors.New("invalid config")

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DelayMinMS < 0 || c.DelayMaxMS < c.DelayMinMS {
		return fmt.Errorf("%w: delay interval [%d, %d] ms", ErrInvalidConfig, c.DelayMinMS, c.DelayMaxMS)
	}
	if c.ResolverMode == domain.ModeLive && c.BackendURL == "" {
		return fmt.Errorf("%w: BACKEND_URL is required in live mode", ErrInvalidConfig)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("%w: SESSION_TTL must be positive", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) MinDelay() time.Duration {
	return time.Duration(c.DelayMinMS) * time.Millisecond
}

func (c *Config) MaxDelay() time.Duration {
	return time.Duration(c.DelayMaxMS) * time.Millisecond
}
