package config

import (
	"fmt"
	"strings"
	"time"
)

// Config defines the gateway configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"GATEWAY_HTTP_PORT"`
	} `yaml:"http"`
	Device struct {
		BasePath            string `yaml:"basePath" env:"GATEWAY_WS_BASE_PATH"`
		Protocols           string `yaml:"protocols" env:"GATEWAY_WS_PROTOCOLS"`
		IdleTimeoutSeconds  int    `yaml:"idleTimeoutSeconds" env:"GATEWAY_WS_IDLE_TIMEOUT"`
		WriteTimeoutSeconds int    `yaml:"writeTimeoutSeconds" env:"GATEWAY_WS_WRITE_TIMEOUT"`
		PingIntervalSeconds int    `yaml:"pingIntervalSeconds" env:"GATEWAY_WS_PING_INTERVAL"`
		ViolationLimit      int    `yaml:"violationLimit" env:"GATEWAY_WS_VIOLATION_LIMIT"`
	} `yaml:"device"`
	Redis struct {
		Addr     string `yaml:"addr" env:"GATEWAY_REDIS_ADDR"`
		Password string `yaml:"password" env:"GATEWAY_REDIS_PASSWORD"`
	} `yaml:"redis"`
	Database struct {
		DSN string `yaml:"dsn" env:"GATEWAY_POSTGRES_DSN"`
	} `yaml:"database"`
	Registry struct {
		// AllowList is a comma separated device id list used instead of the
		// database when no DSN is configured.
		AllowList string `yaml:"allowList" env:"GATEWAY_REGISTRY_ALLOW_LIST"`
	} `yaml:"registry"`
	Commands struct {
		TimeoutSeconds       int    `yaml:"timeoutSeconds" env:"GATEWAY_COMMAND_TIMEOUT"`
		SweepIntervalSeconds int    `yaml:"sweepIntervalSeconds" env:"GATEWAY_COMMAND_SWEEP_INTERVAL"`
		JWTSecret            string `yaml:"jwtSecret" env:"GATEWAY_API_JWT_SECRET"`
	} `yaml:"commands"`
}

// Load uses the shared loader and applies defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HTTPAddress returns :port style address.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// WSBasePath returns the device websocket mount path.
func (c *Config) WSBasePath() string {
	path := strings.TrimSpace(c.Device.BasePath)
	if path == "" {
		path = "/ocpp/"
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return path
}

// AcceptedProtocols returns the OCPP subprotocols the gateway advertises.
func (c *Config) AcceptedProtocols() []string {
	raw := strings.TrimSpace(c.Device.Protocols)
	if raw == "" {
		return []string{"ocpp2.0.1", "ocpp2.0", "ocpp1.6"}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RegistryAllowList returns the static registry entries.
func (c *Config) RegistryAllowList() []string {
	raw := strings.TrimSpace(c.Registry.AllowList)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IdleTimeout returns how long a session may stay silent before it is closed.
func (c *Config) IdleTimeout() time.Duration {
	if c.Device.IdleTimeoutSeconds <= 0 {
		return 90 * time.Second
	}
	return time.Duration(c.Device.IdleTimeoutSeconds) * time.Second
}

// WriteTimeout returns the websocket write timeout.
func (c *Config) WriteTimeout() time.Duration {
	if c.Device.WriteTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Device.WriteTimeoutSeconds) * time.Second
}

// PingInterval returns the websocket keepalive interval.
func (c *Config) PingInterval() time.Duration {
	if c.Device.PingIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Device.PingIntervalSeconds) * time.Second
}

// ViolationLimit returns how many consecutive malformed frames close a session.
func (c *Config) ViolationLimit() int {
	if c.Device.ViolationLimit <= 0 {
		return 5
	}
	return c.Device.ViolationLimit
}

// CommandTimeout returns the default pending call timeout.
func (c *Config) CommandTimeout() time.Duration {
	if c.Commands.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Commands.TimeoutSeconds) * time.Second
}

// SweepInterval returns how often expired pending calls are collected.
func (c *Config) SweepInterval() time.Duration {
	if c.Commands.SweepIntervalSeconds <= 0 {
		return time.Second
	}
	return time.Duration(c.Commands.SweepIntervalSeconds) * time.Second
}
