package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

type Config struct {
	RabbitMQ struct {
		Host     string
		Port     int
		User     string
		Password string
	}
	Queues struct {
		BackendRequest  string // backend -> relay
		ManagerRequest  string // relay -> microcontroller manager
		ManagerResponse string // microcontroller manager -> relay
		BackendResponse string // relay -> backend
	}
	Relay struct {
		ReadinessDelay time.Duration // wait before the listener starts
		ReplyTimeout   time.Duration // downstream reply window
		PollInterval   time.Duration // sleep slice of the correlation waiter
		Workers        int           // inbound messages handled concurrently (1 keeps strict ordering)
		ReplyOnTimeout bool          // publish an error response to the backend on downstream timeout
	}
	Services struct {
		PumpControlPort int
	}
	// Database is optional; the exchange journal is enabled only when the section is present.
	Database struct {
		Enabled  bool
		Host     string
		Port     int
		User     string
		Password string
		Name     string // YAML key: "database"
	}
	// Monitor is optional; the live exchange feed is served only when the section is present.
	Monitor struct {
		Enabled   bool
		JWTSecret string        // HS256 secret for operator tokens
		TokenTTL  time.Duration // lifetime of issued operator tokens
		Recent    int           // settled exchanges kept for /exchanges/recent
	}
}

// AllQueues lists every configured queue name in declaration order.
func (c *Config) AllQueues() []string {
	return []string{
		c.Queues.BackendRequest,
		c.Queues.ManagerRequest,
		c.Queues.ManagerResponse,
		c.Queues.BackendResponse,
	}
}

// LoadFromFile loads config from a YAML file to a Config struct, applies defaults, and validates required fields.
func LoadFromFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return Load(file)
}

// Load parses a config document from r, applies defaults and validates it.
func Load(r io.Reader) (*Config, error) {
	var cfg Config
	if err := parseYAML(r, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets safe defaults for some fields.
func applyDefaults(cfg *Config) {
	// RabbitMQ
	if cfg.RabbitMQ.Host == "" {
		cfg.RabbitMQ.Host = "localhost"
	}
	if cfg.RabbitMQ.Port == 0 {
		cfg.RabbitMQ.Port = 5672
	}
	if cfg.RabbitMQ.User == "" && cfg.RabbitMQ.Password == "" {
		cfg.RabbitMQ.User = "guest"
		cfg.RabbitMQ.Password = "guest"
	}

	// Relay
	if cfg.Relay.ReadinessDelay == 0 {
		cfg.Relay.ReadinessDelay = 3 * time.Second
	}
	if cfg.Relay.ReplyTimeout == 0 {
		cfg.Relay.ReplyTimeout = 5 * time.Second
	}
	if cfg.Relay.PollInterval == 0 {
		cfg.Relay.PollInterval = 100 * time.Millisecond
	}
	if cfg.Relay.Workers == 0 {
		cfg.Relay.Workers = 1
	}

	// Services
	if cfg.Services.PumpControlPort == 0 {
		cfg.Services.PumpControlPort = 5004
	}

	// Database
	if cfg.Database.Enabled {
		if cfg.Database.Host == "" {
			cfg.Database.Host = "localhost"
		}
		if cfg.Database.Port == 0 {
			cfg.Database.Port = 5432
		}
	}

	// Monitor
	if cfg.Monitor.Enabled {
		if cfg.Monitor.TokenTTL == 0 {
			cfg.Monitor.TokenTTL = 2 * time.Hour
		}
		if cfg.Monitor.Recent == 0 {
			cfg.Monitor.Recent = 100
		}
	}
}

// validate checks required fields and basic ranges.
func (c *Config) validate() error {
	var problems []string

	// RabbitMQ
	if c.RabbitMQ.Port <= 0 || c.RabbitMQ.Port > 65535 {
		problems = append(problems, "rabbitmq.port must be in 1..65535")
	}
	if c.RabbitMQ.User == "" {
		problems = append(problems, "rabbitmq.user is required")
	}
	if c.RabbitMQ.Password == "" {
		problems = append(problems, "rabbitmq.password is required")
	}

	// Queues
	queues := []struct {
		key  string
		name string
	}{
		{"queues.backend_request", c.Queues.BackendRequest},
		{"queues.manager_request", c.Queues.ManagerRequest},
		{"queues.manager_response", c.Queues.ManagerResponse},
		{"queues.backend_response", c.Queues.BackendResponse},
	}
	seen := make(map[string]string, len(queues))
	for _, q := range queues {
		if q.name == "" {
			problems = append(problems, q.key+" is required")
			continue
		}
		if prev, ok := seen[q.name]; ok {
			problems = append(problems, fmt.Sprintf("%s duplicates %s (%q)", q.key, prev, q.name))
			continue
		}
		seen[q.name] = q.key
	}

	// Relay
	if c.Relay.ReadinessDelay < 0 {
		problems = append(problems, "relay.readiness_delay must not be negative")
	}
	if c.Relay.ReplyTimeout <= 0 {
		problems = append(problems, "relay.reply_timeout must be positive")
	}
	if c.Relay.PollInterval <= 0 {
		problems = append(problems, "relay.poll_interval must be positive")
	} else if c.Relay.ReplyTimeout > 0 && c.Relay.PollInterval > c.Relay.ReplyTimeout {
		problems = append(problems, "relay.poll_interval must not exceed relay.reply_timeout")
	}
	if c.Relay.Workers < 1 {
		problems = append(problems, "relay.workers must be >= 1")
	}

	// Services
	if c.Services.PumpControlPort <= 0 || c.Services.PumpControlPort > 65535 {
		problems = append(problems, "services.pump_control must be in 1..65535")
	}

	// Database
	if c.Database.Enabled {
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			problems = append(problems, "database.port must be in 1..65535")
		}
		if c.Database.User == "" {
			problems = append(problems, "database.user is required")
		}
		if c.Database.Name == "" {
			problems = append(problems, "database.database is required")
		}
	}

	// Monitor
	if c.Monitor.Enabled {
		if strings.TrimSpace(c.Monitor.JWTSecret) == "" {
			problems = append(problems, "monitor.jwt_secret is required")
		}
		if c.Monitor.TokenTTL <= 0 {
			problems = append(problems, "monitor.token_ttl must be positive")
		}
		if c.Monitor.Recent < 1 {
			problems = append(problems, "monitor.recent must be >= 1")
		}
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
