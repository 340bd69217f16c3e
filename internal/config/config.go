package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/healthguardpro/healthguard/internal/alert"
)

// Config holds all application configuration.
type Config struct {
	ListenAddr         string       `yaml:"listen_addr"`
	ScanTimeoutSeconds int          `yaml:"scan_timeout_seconds"`
	DeviceAddress      string       `yaml:"device_address"` // optional: connect on startup
	UserName           string       `yaml:"user_name"`
	DatabasePath       string       `yaml:"database_path"`
	LogLevel           string       `yaml:"log_level"`
	Alerts             AlertsConfig `yaml:"alerts"`
	Twilio             TwilioConfig `yaml:"twilio"`
}

// AlertsConfig holds threshold-alerting settings.
type AlertsConfig struct {
	Enabled         bool             `yaml:"enabled"`
	CooldownSeconds int              `yaml:"cooldown_seconds"`
	Thresholds      alert.Thresholds `yaml:"thresholds"`
	Contacts        []alert.Contact  `yaml:"contacts"`
}

// TwilioConfig holds SMS dispatch credentials. Empty fields fall back to
// the TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_PHONE_NUMBER
// environment variables.
type TwilioConfig struct {
	AccountSID  string `yaml:"account_sid"`
	AuthToken   string `yaml:"auth_token"`
	PhoneNumber string `yaml:"phone_number"`
}

// Configured reports whether SMS dispatch can be used.
func (t TwilioConfig) Configured() bool {
	return t.AccountSID != "" && t.AuthToken != "" && t.PhoneNumber != ""
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "healthguard")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dbPath := filepath.Join(home, ".local", "share", "healthguard", "healthguard.db")

	return &Config{
		ListenAddr:         ":8080",
		ScanTimeoutSeconds: 10,
		DatabasePath:       dbPath,
		LogLevel:           "info",
		Alerts: AlertsConfig{
			Enabled:         true,
			CooldownSeconds: 300,
			Thresholds:      alert.DefaultThresholds(),
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults; Twilio credentials fall back to the environment. Tilde
// (~) in database_path is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.DatabasePath = expandTilde(cfg.DatabasePath)
	cfg.applyEnv()

	return cfg, nil
}

func (c *Config) applyEnv() {
	if c.Twilio.AccountSID == "" {
		c.Twilio.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if c.Twilio.AuthToken == "" {
		c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if c.Twilio.PhoneNumber == "" {
		c.Twilio.PhoneNumber = os.Getenv("TWILIO_PHONE_NUMBER")
	}
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}

	if c.ScanTimeoutSeconds <= 0 {
		return fmt.Errorf("scan_timeout_seconds must be > 0")
	}

	if c.DatabasePath == "" {
		return fmt.Errorf("database_path must not be empty")
	}

	if c.Alerts.Enabled {
		if c.Alerts.CooldownSeconds < 0 {
			return fmt.Errorf("alerts.cooldown_seconds must be >= 0")
		}
		for i, contact := range c.Alerts.Contacts {
			if contact.Phone == "" {
				return fmt.Errorf("alerts.contacts[%d]: phone must not be empty", i)
			}
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
