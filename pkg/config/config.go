package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	envConfigPath        = "CHATROOM_CONFIG"
	envRasaToken         = "RASA_TOKEN"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
)

// Defaults applied when the file leaves a value unset.
const (
	DefaultChannel          = "rest"
	DefaultTitle            = "Chat"
	DefaultHandoffIntent    = "handoff"
	DefaultWaitingTimeoutMs = 9000
	DefaultMessageDelayMs   = 2900
	DefaultSettleDelayMs    = 1500
	DefaultUploadCooldownMs = 1000
	DefaultRequestTimeout   = 30
	DefaultHealthInterval   = 30
	DefaultGatewayPort      = 18790
	DefaultMaxUploadMB      = 10
)

// DefaultMessageBlacklist hides intent payloads that users never typed themselves.
var DefaultMessageBlacklist = []string{
	"/inform", "/restart", "/start", "/affirm", "/deny",
	"/no_location_data", "/start_greet", "(...)", "/select_point",
}

// Config is the root runtime configuration loaded from config.json or config.yaml.
type Config struct {
	Backend   BackendConfig   `json:"backend"`
	Session   SessionConfig   `json:"session"`
	Channels  ChannelsConfig  `json:"channels"`
	Gateway   GatewayConfig   `json:"gateway"`
	Store     StoreConfig     `json:"store"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format     string `json:"format,omitempty"`
	Level      string `json:"level,omitempty"`
	AddSource  bool   `json:"add_source,omitempty"`
	File       string `json:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
}

// BackendConfig describes the conversational backend endpoints.
type BackendConfig struct {
	Type                  string            `json:"type"`
	Host                  string            `json:"host"`
	PlatformHost          string            `json:"platform_host"`
	Channel               string            `json:"channel"`
	Token                 string            `json:"token"`
	TokenEnv              string            `json:"token_env"`
	Deployment            string            `json:"deployment"`
	Headers               map[string]string `json:"headers,omitempty"`
	RequestTimeoutSeconds int               `json:"request_timeout_seconds"`
	HealthIntervalSeconds int               `json:"health_interval_seconds"`
}

// ResolveToken returns the inline token or, failing that, the one named by TokenEnv.
func (b BackendConfig) ResolveToken() string {
	if token := strings.TrimSpace(b.Token); token != "" {
		return token
	}
	if b.TokenEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(b.TokenEnv))
}

// SessionConfig tunes the chat session controller.
type SessionConfig struct {
	UserID           string       `json:"user_id,omitempty"`
	Title            string       `json:"title"`
	WelcomeMessage   string       `json:"welcome_message,omitempty"`
	StartMessage     string       `json:"start_message,omitempty"`
	WaitingTimeoutMs int          `json:"waiting_timeout_ms"`
	MessageDelayMs   int          `json:"message_delay_ms"`
	SettleDelayMs    int          `json:"settle_delay_ms"`
	UploadCooldownMs int          `json:"upload_cooldown_ms"`
	UploadDir        string       `json:"upload_dir,omitempty"`
	MaxUploadMB      int          `json:"max_upload_mb,omitempty"`
	RecoverHistory   bool         `json:"recover_history"`
	MessageBlacklist []string     `json:"message_blacklist"`
	HandoffIntent    string       `json:"handoff_intent"`
	DisableForm      bool         `json:"disable_form,omitempty"`
	Debug            bool         `json:"debug,omitempty"`
	Locate           LocateConfig `json:"locate,omitempty"`
}

// LocateConfig supplies a fixed position for surfaces without a live location feed.
type LocateConfig struct {
	Enabled   bool    `json:"enabled"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	Proxy     string   `json:"proxy"`
	AllowFrom []string `json:"allow_from"`
}

// GatewayConfig configures HTTP gateway bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// StoreConfig selects where session user ids are remembered.
type StoreConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
}

// TelemetryConfig enables counters and spans written to rotating files.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"service_name,omitempty"`
	MetricsFile string `json:"metrics_file,omitempty"`
	TracesFile  string `json:"traces_file,omitempty"`
}

// LoadConfig resolves the config file, unmarshals it, and applies defaults and environment overrides.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	return LoadFile(configPath)
}

// LoadFile reads one config file. YAML files are accepted by extension.
func LoadFile(configPath string) (*Config, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if isYAML(configPath) {
		content, err = yamlToJSON(content)
		if err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// ApplyDefaults fills unset fields with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c == nil {
		return
	}

	if c.Backend.Type == "" {
		c.Backend.Type = "rasa"
	}
	c.Backend.Host = strings.TrimRight(strings.TrimSpace(c.Backend.Host), "/")
	c.Backend.PlatformHost = strings.TrimRight(strings.TrimSpace(c.Backend.PlatformHost), "/")
	if c.Backend.Channel == "" {
		c.Backend.Channel = DefaultChannel
	}
	if c.Backend.RequestTimeoutSeconds <= 0 {
		c.Backend.RequestTimeoutSeconds = DefaultRequestTimeout
	}
	if c.Backend.HealthIntervalSeconds <= 0 {
		c.Backend.HealthIntervalSeconds = DefaultHealthInterval
	}

	s := &c.Session
	if s.Title == "" {
		s.Title = DefaultTitle
	}
	if s.WaitingTimeoutMs <= 0 {
		s.WaitingTimeoutMs = DefaultWaitingTimeoutMs
	}
	if s.MessageDelayMs <= 0 {
		s.MessageDelayMs = DefaultMessageDelayMs
	}
	if s.SettleDelayMs <= 0 {
		s.SettleDelayMs = DefaultSettleDelayMs
	}
	if s.UploadCooldownMs <= 0 {
		s.UploadCooldownMs = DefaultUploadCooldownMs
	}
	if s.MaxUploadMB <= 0 {
		s.MaxUploadMB = DefaultMaxUploadMB
	}
	if s.MessageBlacklist == nil {
		s.MessageBlacklist = slices.Clone(DefaultMessageBlacklist)
	}
	if s.HandoffIntent == "" {
		s.HandoffIntent = DefaultHandoffIntent
	}

	if c.Gateway.Host == "" {
		c.Gateway.Host = "127.0.0.1"
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = DefaultGatewayPort
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		c.Store.Path = "chatroom.db"
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "chatroom"
	}
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if token := strings.TrimSpace(os.Getenv(envRasaToken)); token != "" {
		cfg.Backend.Token = token
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// yamlToJSON re-encodes YAML so the json tags stay the single source of field names.
func yamlToJSON(content []byte) ([]byte, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}

	return json.Marshal(raw)
}

// findConfigPath resolves the active config file location.
//
// Precedence is CHATROOM_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config.yaml"),
		filepath.Join(cwd, "config", "config.json"),
		filepath.Join(cwd, "config", "config.yaml"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config file not found (checked %s)", strings.Join(candidates, ", "))
}
