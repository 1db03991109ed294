package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "roastline.yml"

const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverS3       = "s3"
)

// Config models roastline.yml.
type Config struct {
	Storage  Storage   `yaml:"storage"`
	Schedule Schedule  `yaml:"schedule"`
	Server   Server    `yaml:"server"`
	AI       AI        `yaml:"ai"`
	Webhooks []Webhook `yaml:"webhooks,omitempty"`
}

type Storage struct {
	Driver string `yaml:"driver"`
	// Slot names the schedule row for the sql drivers.
	Slot string `yaml:"slot,omitempty"`
	File struct {
		URL string `yaml:"url"`
	} `yaml:"file"`
	SQLite struct {
		Path string `yaml:"path,omitempty"`
	} `yaml:"sqlite"`
	Postgres struct {
		DSN string `yaml:"dsn,omitempty"`
	} `yaml:"postgres"`
	S3 struct {
		Region    string `yaml:"region"`
		Bucket    string `yaml:"bucket"`
		Key       string `yaml:"key,omitempty"`
		Endpoint  string `yaml:"endpoint,omitempty"`
		PathStyle bool   `yaml:"path_style,omitempty"`
	} `yaml:"s3"`
}

type Schedule struct {
	UpcomingDays     int  `yaml:"upcoming_days"`
	StrictCompletion bool `yaml:"strict_completion"`
}

type Server struct {
	Addr     string `yaml:"addr"`
	BasePath string `yaml:"base_path"`
}

type AI struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// Webhook receives roast events as JSON POSTs while the server runs.
type Webhook struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// UpcomingWindow is the look-ahead for upcoming roasts.
func (c *Config) UpcomingWindow() time.Duration {
	return time.Duration(c.Schedule.UpcomingDays) * 24 * time.Hour
}

// AITimeout parses ai.timeout, zero when unset.
func (c *Config) AITimeout() time.Duration {
	d, _ := time.ParseDuration(c.AI.Timeout)
	return d
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite:
	case DriverFile:
		if c.Storage.File.URL == "" {
			return fmt.Errorf("config.storage.file.url is required for the file driver")
		}
	case DriverPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("config.storage.postgres.dsn is required for the postgres driver")
		}
	case DriverS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("config.storage.s3.bucket is required for the s3 driver")
		}
	case "":
		return fmt.Errorf("config.storage.driver is required")
	default:
		return fmt.Errorf("config.storage.driver %q must be one of memory, file, sqlite, postgres, s3", c.Storage.Driver)
	}
	if c.Schedule.UpcomingDays <= 0 {
		return fmt.Errorf("config.schedule.upcoming_days must be positive")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.AI.Timeout != "" {
		if _, err := time.ParseDuration(c.AI.Timeout); err != nil {
			return fmt.Errorf("config.ai.timeout: %w", err)
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if !strings.HasPrefix(hook.URL, "http://") && !strings.HasPrefix(hook.URL, "https://") {
			return fmt.Errorf("config.webhooks[%d].url must be http or https", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with roast config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the config produced by GenerateDefault.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes. Unset values
// fall back to the defaults.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.fill()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

func (c *Config) fill() {
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverSQLite
	}
	if c.Schedule.UpcomingDays == 0 {
		c.Schedule.UpcomingDays = 7
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/v0"
	}
}

// YAML renders the config back to roastline.yml form.
func (c *Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

const defaultTemplate = `storage:
  driver: sqlite
  slot: roast_schedule

schedule:
  upcoming_days: 7
  strict_completion: false

server:
  addr: 127.0.0.1:8080
  base_path: /v0

ai:
  base_url: https://api.openai.com/v1
  model: gpt-4o-mini
  timeout: 60s
`
