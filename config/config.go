package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type GRPC struct {
	Addr           string `yaml:"addr"`
	DefaultTimeout string `yaml:"default_timeout"` // 10s

	defaultTimeout time.Duration
}

func (g GRPC) Timeout() time.Duration { return g.defaultTimeout }

type HTTP struct {
	Addr string `yaml:"addr"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|prod
	Service   string `yaml:"service"`   // signaling-service
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

type WebSocket struct {
	SendBuffer      int      `yaml:"send_buffer"`
	PingEvery       string   `yaml:"ping_every"` // 15s
	MaxMessageBytes int64    `yaml:"max_message_bytes"`
	AllowedOrigins  []string `yaml:"allowed_origins"`

	pingEvery time.Duration
}

func (w WebSocket) PingInterval() time.Duration { return w.pingEvery }

type Registry struct {
	KeepEmptyRooms bool `yaml:"keep_empty_rooms"`
}

type Session struct {
	LeaveName string `yaml:"leave_name"` // stored|client
}

// Postgres enables the session journal when DSN is set.
type Postgres struct {
	DSN string `yaml:"dsn"`
}

// Redis enables cross-instance fan-out when Addr is set.
type Redis struct {
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
	Channel string `yaml:"channel"`
}

type Config struct {
	HTTP            HTTP      `yaml:"http"`
	GRPC            GRPC      `yaml:"grpc"`
	Logging         Logging   `yaml:"logging"`
	WebSocket       WebSocket `yaml:"websocket"`
	Registry        Registry  `yaml:"registry"`
	Session         Session   `yaml:"session"`
	Postgres        Postgres  `yaml:"postgres"`
	Redis           Redis     `yaml:"redis"`
	ShutdownTimeout string    `yaml:"shutdown_timeout"` // 10s

	shutdownTimeout time.Duration
}

func (c *Config) Shutdown() time.Duration { return c.shutdownTimeout }

// LoadConfig reads the file named by CONFIG_PATH, or ./config/config.yaml.
func LoadConfig() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	return LoadFrom(path)
}

// LoadFrom loads .env when present, expands ${VAR} references in the file at
// path and validates the result.
func LoadFrom(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.GRPC.Addr == "" {
		return errors.New("grpc.addr is required")
	}
	switch c.Session.LeaveName {
	case "":
		c.Session.LeaveName = "stored"
	case "stored", "client":
	default:
		return fmt.Errorf("session.leave_name: unknown value %q", c.Session.LeaveName)
	}

	// defaults for anything left out
	if c.Logging.Service == "" {
		c.Logging.Service = "signaling-service"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
	if c.WebSocket.SendBuffer <= 0 {
		c.WebSocket.SendBuffer = 256
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		c.WebSocket.MaxMessageBytes = 1 << 20
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = "signaling"
	}
	c.WebSocket.pingEvery = parseDurationOr(15*time.Second, c.WebSocket.PingEvery)
	c.GRPC.defaultTimeout = parseDurationOr(10*time.Second, c.GRPC.DefaultTimeout)
	c.shutdownTimeout = parseDurationOr(10*time.Second, c.ShutdownTimeout)
	return nil
}

// helper for parsing timeouts
func parseDurationOr(def time.Duration, s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}
