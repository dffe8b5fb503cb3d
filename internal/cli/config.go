package cli

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment variable the tools read.
const EnvPrefix = "WORLDSYNC_"

// Config is the environment-provided configuration. Command-line flags
// override it.
type Config struct {
	Addr         string        `env:"ADDR" envDefault:"127.0.0.1:7420"`
	Database     string        `env:"DB"`
	Seed         string        `env:"SEED"`
	TickInterval time.Duration `env:"TICK_INTERVAL" envDefault:"50ms"`
	CompactEvery int           `env:"COMPACT_EVERY" envDefault:"600"`
	User         string        `env:"USER_ID"`
	OTelEndpoint string        `env:"OTEL_ENDPOINT"`
	ServiceName  string        `env:"SERVICE_NAME" envDefault:"worldsync"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
