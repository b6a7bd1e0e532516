package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Robot    RobotConfig    `yaml:"robot"`
	Headless HeadlessConfig `yaml:"headless"`
	State    StateConfig    `yaml:"state"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type RobotConfig struct {
	Device         string        `yaml:"device"`
	BaudRate       int           `yaml:"baud_rate"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	AckTimeout     time.Duration `yaml:"ack_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
}

// HeadlessConfig drives unattended operation. SVGDir empty disables
// the rotation entirely; WindowStart/WindowEnd empty means draws are
// allowed around the clock.
type HeadlessConfig struct {
	SVGDir      string        `yaml:"svg_dir"`
	Interval    time.Duration `yaml:"interval"`
	WindowStart string        `yaml:"window_start"`
	WindowEnd   string        `yaml:"window_end"`
}

type StateConfig struct {
	Path string `yaml:"path"`
}

type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Robot: RobotConfig{
			Device:         "/dev/ttyACM0",
			BaudRate:       115200,
			ConnectTimeout: 10 * time.Second,
			AckTimeout:     3 * time.Second,
			MaxRetries:     3,
		},
		Headless: HeadlessConfig{
			Interval: 30 * time.Minute,
		},
		State: StateConfig{
			Path: "./data/iboardbot.db",
		},
		Webhook: WebhookConfig{
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML config file, falling back to defaults when the
// file does not exist, then applies environment overrides.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("IBB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("IBB_DEVICE"); v != "" {
		c.Robot.Device = v
	}
	if v := os.Getenv("IBB_SVG_DIR"); v != "" {
		c.Headless.SVGDir = v
	}
	if v := os.Getenv("IBB_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Headless.Interval = d
		}
	}
	if v := os.Getenv("IBB_STATE_PATH"); v != "" {
		c.State.Path = v
	}
	if v := os.Getenv("IBB_WEBHOOK_URL"); v != "" {
		c.Webhook.URL = v
	}
	if v := os.Getenv("IBB_WEBHOOK_SECRET"); v != "" {
		c.Webhook.Secret = v
	}
	if v := os.Getenv("IBB_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Robot.Device == "" {
		return fmt.Errorf("robot device is required")
	}

	if c.Robot.BaudRate < 1 {
		return fmt.Errorf("baud rate must be positive")
	}

	if c.Robot.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1")
	}

	if c.Headless.Interval < 0 {
		return fmt.Errorf("headless interval must be non-negative")
	}

	if (c.Headless.WindowStart == "") != (c.Headless.WindowEnd == "") {
		return fmt.Errorf("window_start and window_end must be set together")
	}

	if c.State.Path == "" {
		return fmt.Errorf("state path is required")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}
