package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/celerix-dev/celerix-federation/internal/telemetry"
)

// Config contains the parameters shared by the host and the remotes.
// Fields without envDefault keep the value the binary passes in.
type Config struct {
	LogLevel string   `env:"LOG_LEVEL" envDefault:"info"`
	App      App      `envPrefix:"APP_"`
	HTTPPort string   `env:"HTTP_PORT"`
	Store    Store    `envPrefix:"STORE_"`
	Perf     Perf     `envPrefix:"PERF_"`
	NewRelic NewRelic `envPrefix:"NEWRELIC_"`
	Remotes  Remotes
}

// App identifies the running application.
type App struct {
	Name    string `env:"NAME"`
	Team    string `env:"TEAM" envDefault:"platform-team"`
	Version string `env:"VERSION" envDefault:"1.0.0"`
	URL     string `env:"URL"`
}

// Store contains the shared store parameters.
type Store struct {
	Port       string `env:"PORT" envDefault:"7001"`
	DisableTLS bool   `env:"DISABLE_TLS" envDefault:"false"`
}

// Remotes contains the addresses of the composed applications.
type Remotes struct {
	// HostStoreAddr is the published host store a remote attaches to.
	// Empty means the remote runs standalone.
	HostStoreAddr    string `env:"HOST_STORE_ADDR"`
	HostAppURL       string `env:"HOST_APP_URL"`
	ListUserAppURL   string `env:"LIST_USER_APP_URL"`
	CreateUserAppURL string `env:"CREATE_USER_APP_URL"`
}

// Perf contains instrumentation parameters.
type Perf struct {
	TimelineCapacity int `env:"TIMELINE_CAPACITY" envDefault:"1000"`
}

// NewRelic contains the telemetry credentials. Missing credentials disable
// the New Relic sink only.
type NewRelic struct {
	LicenseKey    string `env:"LICENSE_KEY"`
	ApplicationID string `env:"APPLICATION_ID"`
	AccountID     string `env:"ACCOUNT_ID"`
	AgentID       string `env:"AGENT_ID"`
	Region        string `env:"REGION" envDefault:"us"`
}

// NewConfig loads configuration from the optional env files and the
// environment on top of base.
func NewConfig(base Config, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := base
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

// TelemetryConfig returns the New Relic agent configuration.
func (c *Config) TelemetryConfig() telemetry.NewRelicConfig {
	return telemetry.NewRelicConfig{
		AppName:       c.App.Name,
		LicenseKey:    c.NewRelic.LicenseKey,
		ApplicationID: c.NewRelic.ApplicationID,
		AccountID:     c.NewRelic.AccountID,
		AgentID:       c.NewRelic.AgentID,
		Region:        c.NewRelic.Region,
		Labels: map[string]string{
			"team":    c.App.Team,
			"version": c.App.Version,
		},
	}
}
