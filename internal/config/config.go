// Package config loads process-level settings from the environment. These
// are deployment knobs, not strategy: everything affecting decisions lives
// in the strategy spec so replay stays self-contained.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the runtime environment of the control process.
type Config struct {
	// ListenAddr is where the command intake binds when serving.
	ListenAddr string `env:"CSC_LISTEN_ADDR" envDefault:"127.0.0.1:8077"`
	// EngineURL selects the HTTP engine transport; empty means in-process.
	EngineURL string `env:"CSC_ENGINE_URL"`
	// EngineTimeout bounds every HTTP engine request.
	EngineTimeout time.Duration `env:"CSC_ENGINE_TIMEOUT" envDefault:"10s"`
	// LogLevel is debug, info, warn or error.
	LogLevel string `env:"CSC_LOG_LEVEL" envDefault:"info"`
}

// FromEnv parses the environment into a Config.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
