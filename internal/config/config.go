package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config root configuration
type Config struct {
	Turns     TurnsConfig     `mapstructure:"turns"`
	Guards    GuardsConfig    `mapstructure:"guards"`
	Approvals ApprovalsConfig `mapstructure:"approvals"`
	Redaction RedactionConfig `mapstructure:"redaction"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Log       LogConfig       `mapstructure:"log"`
}

// TurnsConfig turn orchestration settings
type TurnsConfig struct {
	Workspace     string  `mapstructure:"workspace"`
	WorkspaceMode string  `mapstructure:"workspace_mode"`
	Model         string  `mapstructure:"model"`
	MaxTokens     int     `mapstructure:"max_tokens"`
	Temperature   float64 `mapstructure:"temperature"`
	MaxIterations int     `mapstructure:"max_iterations"`
	MaxRetries    int     `mapstructure:"max_retries"`
	CallTimeout   int     `mapstructure:"call_timeout"` // seconds, per model/evaluator call
	HistoryLimit  int     `mapstructure:"history_limit"`
}

// GuardsConfig input/output guard settings
type GuardsConfig struct {
	Input  InputGuardConfig  `mapstructure:"input"`
	Output OutputGuardConfig `mapstructure:"output"`
}

// InputGuardConfig blocklist and topic-scope settings
type InputGuardConfig struct {
	Blocklist []string `mapstructure:"blocklist"`
	Topics    []string `mapstructure:"topics"`
}

// OutputGuardConfig safety evaluation settings
type OutputGuardConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ApprovalsConfig human approval gate settings
type ApprovalsConfig struct {
	SensitiveTools []string `mapstructure:"sensitive_tools"`
	TTLMinutes     int      `mapstructure:"ttl_minutes"` // 0 waits indefinitely
}

// RedactionConfig PII filter settings
type RedactionConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ProvidersConfig LLM provider settings
type ProvidersConfig struct {
	OpenRouter ProviderConfig `mapstructure:"openrouter"`
	Claude     ProviderConfig `mapstructure:"claude"`
	OpenAI     ProviderConfig `mapstructure:"openai"`
	DeepSeek   ProviderConfig `mapstructure:"deepseek"`
	Ollama     ProviderConfig `mapstructure:"ollama"`
}

// ProviderConfig single provider settings
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// GatewayConfig server settings
type GatewayConfig struct {
	Host  string `mapstructure:"host"`
	Port  int    `mapstructure:"port"`
	Token string `mapstructure:"token"`
}

// NotifyConfig approval notification settings
type NotifyConfig struct {
	Telegram TelegramNotifyConfig `mapstructure:"telegram"`
}

// TelegramNotifyConfig Telegram bot notification settings
type TelegramNotifyConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	ChatID  string `mapstructure:"chat_id"`
}

// LogConfig application logging settings
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DefaultBlocklist returns the injection/attack phrases rejected before any
// model call. Each entry is a case-insensitive regular expression.
func DefaultBlocklist() []string {
	return []string{
		`ignore.*instructions`,
		`disregard.*prompt`,
		`delete\s+all`,
		`drop\s+table`,
		`system\s*:`,
		`admin\s+mode`,
		`override\s+safety`,
		`act\s+as\s+(root|admin)`,
		`reveal.*system\s*prompt`,
	}
}

// DefaultTopics returns the medical vocabulary used by the scope check.
func DefaultTopics() []string {
	return []string{
		"patient", "diagnosis", "medication", "prescri", "treatment",
		"doctor", "medical", "health", "symptom", "clinical",
		"record", "email", "search", "literature", "hospital",
		"drug", "therapy", "lab", "test", "nurse", "vital",
		"allergy", "condition", "history", "refer",
	}
}

// DefaultSensitiveTools returns the tool names that require human approval.
func DefaultSensitiveTools() []string {
	return []string{"send_email", "delete_record"}
}

// DefaultConfig returns config with sensible defaults
func DefaultConfig() *Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("failed to resolve home directory, using current directory as fallback", "error", err)
		homeDir = "."
	}
	return &Config{
		Turns: TurnsConfig{
			Workspace:     filepath.Join(homeDir, ".medsentry", "workspace"),
			WorkspaceMode: "default",
			Model:         "gpt-4o",
			MaxTokens:     4096,
			Temperature:   0,
			MaxIterations: 10,
			MaxRetries:    2,
			CallTimeout:   60,
			HistoryLimit:  50,
		},
		Guards: GuardsConfig{
			Input: InputGuardConfig{
				Blocklist: DefaultBlocklist(),
				Topics:    DefaultTopics(),
			},
			Output: OutputGuardConfig{
				Enabled: true,
			},
		},
		Approvals: ApprovalsConfig{
			SensitiveTools: DefaultSensitiveTools(),
			TTLMinutes:     0,
		},
		Redaction: RedactionConfig{
			Enabled: true,
		},
		Providers: ProvidersConfig{},
		Gateway: GatewayConfig{
			Host:  "0.0.0.0",
			Port:  18890,
			Token: "",
		},
		Notify: NotifyConfig{},
		Log: LogConfig{
			Level: "info",
			File:  "",
		},
	}
}

// ConfigDir returns the medsentry config directory
func ConfigDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".medsentry")
}

// ConfigPath returns the config file path
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// Load loads config from file or returns defaults
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := ConfigPath()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := Save(cfg); err != nil {
			return cfg, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix("MEDSENTRY")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return cfg, err
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.MatchName = func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		}
	}); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func normalizeKey(input string) string {
	input = strings.ReplaceAll(input, "_", "")
	input = strings.ReplaceAll(input, "-", "")
	return strings.ToLower(input)
}

// Save saves config to file
func Save(cfg *Config) error {
	configPath := ConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0600)
}

// Validate checks that the configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	t := &c.Turns

	if t.MaxIterations < 0 {
		return fmt.Errorf("turns.max_iterations must not be negative, got %d", t.MaxIterations)
	}
	if t.MaxIterations == 0 {
		t.MaxIterations = 10
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("turns.max_retries must not be negative, got %d", t.MaxRetries)
	}

	if t.Temperature < 0 || t.Temperature > 2.0 {
		return fmt.Errorf("turns.temperature must be between 0 and 2.0, got %f", t.Temperature)
	}

	if t.MaxTokens <= 0 {
		return fmt.Errorf("turns.max_tokens must be > 0, got %d", t.MaxTokens)
	}

	if t.CallTimeout <= 0 {
		t.CallTimeout = 60
	}
	if t.HistoryLimit <= 0 {
		t.HistoryLimit = 50
	}

	mode := strings.TrimSpace(t.WorkspaceMode)
	if mode != "" {
		validModes := map[string]bool{"default": true, "cwd": true, "path": true}
		if !validModes[strings.ToLower(mode)] {
			return fmt.Errorf("turns.workspace_mode must be one of: default, cwd, path; got %q", mode)
		}
		if strings.EqualFold(mode, "path") && strings.TrimSpace(t.Workspace) == "" {
			return fmt.Errorf("turns.workspace must be non-empty when workspace_mode is \"path\"")
		}
	}

	if len(c.Guards.Input.Blocklist) == 0 {
		c.Guards.Input.Blocklist = DefaultBlocklist()
	}
	if len(c.Guards.Input.Topics) == 0 {
		c.Guards.Input.Topics = DefaultTopics()
	}

	if c.Approvals.TTLMinutes < 0 {
		return fmt.Errorf("approvals.ttl_minutes must not be negative, got %d", c.Approvals.TTLMinutes)
	}

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be between 1 and 65535, got %d", c.Gateway.Port)
	}

	if c.Notify.Telegram.Enabled {
		if strings.TrimSpace(c.Notify.Telegram.Token) == "" {
			return fmt.Errorf("notify.telegram.token is required when telegram notifications are enabled")
		}
		if strings.TrimSpace(c.Notify.Telegram.ChatID) == "" {
			return fmt.Errorf("notify.telegram.chat_id is required when telegram notifications are enabled")
		}
	}

	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	if level == "" {
		c.Log.Level = "info"
	} else {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[level] {
			return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
		}
		c.Log.Level = level
	}

	return nil
}

// WorkspacePath returns the expanded workspace path
func (c *Config) WorkspacePath() string {
	path, err := c.WorkspacePathChecked()
	if err != nil {
		return filepath.Join(ConfigDir(), "workspace")
	}
	return path
}

// WorkspacePathChecked returns the expanded workspace path or an error if invalid.
func (c *Config) WorkspacePathChecked() (string, error) {
	mode := strings.TrimSpace(c.Turns.WorkspaceMode)
	if mode == "" || strings.EqualFold(mode, "default") {
		return filepath.Join(ConfigDir(), "workspace"), nil
	}
	if strings.EqualFold(mode, "cwd") {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to resolve cwd: %w", err)
		}
		return wd, nil
	}
	if !strings.EqualFold(mode, "path") {
		return "", fmt.Errorf("unknown workspace_mode: %s", mode)
	}
	if c.Turns.Workspace == "" {
		return "", fmt.Errorf("workspace is required when workspace_mode=path")
	}
	if c.Turns.Workspace[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory for workspace path: %w", err)
		}
		rest := c.Turns.Workspace[1:]
		rest = strings.TrimPrefix(rest, string(filepath.Separator))
		rest = strings.TrimPrefix(rest, "/")
		return filepath.Join(homeDir, rest), nil
	}
	return c.Turns.Workspace, nil
}
