package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cwrk-planet/room-client/internal/postgres"
)

type HTTP struct {
	Addr           string        `yaml:"addr"`           // "127.0.0.1:8090"
	ReadTimeout    time.Duration `yaml:"readTimeout"`    // "15s"
	WriteTimeout   time.Duration `yaml:"writeTimeout"`   // "0s": /ws держит соединение
	IdleTimeout    time.Duration `yaml:"idleTimeout"`    // "60s"
	RequestTimeout time.Duration `yaml:"requestTimeout"` // "30s"
	CORSOrigins    []string      `yaml:"corsOrigins"`
}

type Logging struct {
	Env              string `yaml:"env"`       // dev|stage|prod
	Service          string `yaml:"service"`   // "room-client"
	Version          string `yaml:"version"`   // "0.1.0"
	AddSource        bool   `yaml:"addSource"` // true/false
	Backend          string `yaml:"backend"`   // "std"|"zap"
	Debug            bool   `yaml:"debug"`     // включает подробные логи
	SampleInitial    int    `yaml:"sampleInitial"`
	SampleThereafter int    `yaml:"sampleThereafter"`
}

type Upstream struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"` // "10s"
	RPS     float64       `yaml:"rps"`     // 0 - без лимита
	Burst   int           `yaml:"burst"`
}

type Sync struct {
	PollInterval time.Duration `yaml:"pollInterval"` // "3s"
	PollMode     string        `yaml:"pollMode"`     // upsert|patch
	UserID       string        `yaml:"userID"`       // автор локальных сообщений
	Timezone     string        `yaml:"timezone"`     // пусто - системная
}

type Postgres struct {
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	ApplicationName   string        `yaml:"applicationName"`
}

func (p Postgres) ToPGConfig() postgres.Config {
	return postgres.Config{
		DSN:               p.DSN,
		MaxConns:          p.MaxConns,
		MinConns:          p.MinConns,
		MaxConnLifetime:   p.MaxConnLifetime,
		MaxConnIdleTime:   p.MaxConnIdleTime,
		HealthCheckPeriod: p.HealthCheckPeriod,
		ApplicationName:   p.ApplicationName,
	}
}

const (
	DriverPebble   = "pebble"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Storage struct {
	Driver   string        `yaml:"driver"`   // pebble|postgres|memory
	Path     string        `yaml:"path"`     // каталог pebble
	Debounce time.Duration `yaml:"debounce"` // "500ms"
	Postgres Postgres      `yaml:"postgres"`
}

type Connectivity struct {
	Disabled      bool          `yaml:"disabled"` // true - всегда online
	ProbeInterval time.Duration `yaml:"probeInterval"`
	ProbeTimeout  time.Duration `yaml:"probeTimeout"`
}

type Config struct {
	HTTP         HTTP         `yaml:"http"`
	Logging      Logging      `yaml:"logging"`
	Upstream     Upstream     `yaml:"upstream"`
	Sync         Sync         `yaml:"sync"`
	Storage      Storage      `yaml:"storage"`
	Connectivity Connectivity `yaml:"connectivity"`

	location *time.Location
}

// Load читает .env (если есть), затем YAML по CONFIG_PATH и применяет
// переопределения из окружения.
func Load() (*Config, error) {
	envFile := os.Getenv("DOTENV_PATH")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("CHAT_API_BASE")); v != "" {
		c.Upstream.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("STORAGE_DRIVER")); v != "" {
		c.Storage.Driver = v
	}
	if v := strings.TrimSpace(os.Getenv("STORAGE_DSN")); v != "" {
		c.Storage.Postgres.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_ENV")); v != "" {
		c.Logging.Env = v
	}
}

func (c *Config) validate() error {
	// установка дефолтов, если значения не указаны
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = "127.0.0.1:8090"
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 15 * time.Second
	}
	if c.HTTP.IdleTimeout == 0 {
		c.HTTP.IdleTimeout = 60 * time.Second
	}
	if c.HTTP.RequestTimeout == 0 {
		c.HTTP.RequestTimeout = 30 * time.Second
	}

	if c.Logging.Service == "" {
		c.Logging.Service = "room-client"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}

	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = "http://dummy-chat-server.tribechat.pro/api"
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = 10 * time.Second
	}
	if c.Upstream.RPS < 0 {
		return errors.New("upstream.rps must be >= 0")
	}

	if c.Sync.PollInterval == 0 {
		c.Sync.PollInterval = 3 * time.Second
	}
	if c.Sync.PollInterval < 100*time.Millisecond {
		return errors.New("sync.pollInterval must be >= 100ms")
	}
	switch c.Sync.PollMode {
	case "":
		c.Sync.PollMode = "upsert"
	case "upsert", "patch":
	default:
		return fmt.Errorf("sync.pollMode %q: want upsert|patch", c.Sync.PollMode)
	}
	if c.Sync.UserID == "" {
		c.Sync.UserID = "you"
	}
	c.location = time.Local
	if c.Sync.Timezone != "" {
		loc, err := time.LoadLocation(c.Sync.Timezone)
		if err != nil {
			return fmt.Errorf("sync.timezone: %w", err)
		}
		c.location = loc
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverPebble
	}
	switch c.Storage.Driver {
	case DriverPebble:
		if c.Storage.Path == "" {
			c.Storage.Path = "./data"
		}
	case DriverPostgres:
		if c.Storage.Postgres.DSN == "" {
			return errors.New("storage.postgres.dsn is required")
		}
		if c.Storage.Postgres.ApplicationName == "" {
			c.Storage.Postgres.ApplicationName = c.Logging.Service
		}
	case DriverMemory:
	default:
		return fmt.Errorf("storage.driver %q: want pebble|postgres|memory", c.Storage.Driver)
	}
	if c.Storage.Debounce == 0 {
		c.Storage.Debounce = 500 * time.Millisecond
	}

	if c.Connectivity.ProbeInterval == 0 {
		c.Connectivity.ProbeInterval = 5 * time.Second
	}
	if c.Connectivity.ProbeTimeout == 0 {
		c.Connectivity.ProbeTimeout = 3 * time.Second
	}
	return nil
}

// Location: часовой пояс для разделителей дней.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.Local
	}
	return c.location
}
