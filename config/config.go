package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"clickup-metrics/clickup"
	"clickup-metrics/metrics"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// DefaultFile is the configuration file looked up when none is given.
const DefaultFile = "config.json"

// Config represents the application configuration
type Config struct {
	ClickUpURL   string `json:"clickup_url" mapstructure:"clickup_url" validate:"required,url"`
	ClickUpToken string `json:"clickup_token" mapstructure:"clickup_token" validate:"required"`
	// WorkspaceID is the team id; custom task ids only resolve with it.
	WorkspaceID string `json:"clickup_workspace_id" mapstructure:"clickup_workspace_id"`

	DevOrderIndex     int    `json:"dev_order_index" mapstructure:"dev_order_index" validate:"min=0"`
	WorkDaysPerWeek   int    `json:"work_days_per_week" mapstructure:"work_days_per_week" validate:"min=1,max=7"`
	AggregationPolicy string `json:"aggregation_policy" mapstructure:"aggregation_policy" validate:"oneof=leaf node node_and_leaf"`
	RemoveWeekends    bool   `json:"remove_weekends" mapstructure:"remove_weekends"`
	WeekendMode       string `json:"weekend_mode" mapstructure:"weekend_mode" validate:"oneof=ratio calendar"`

	// MaxConcurrentRequests bounds in-flight API calls; 0 means unbounded.
	MaxConcurrentRequests int    `json:"max_concurrent_requests" mapstructure:"max_concurrent_requests" validate:"min=0"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" mapstructure:"request_timeout_seconds" validate:"min=1"`
	LogLevel              string `json:"log_level" mapstructure:"log_level" validate:"oneof=debug info warn error"`
	Port                  string `json:"port" mapstructure:"port" validate:"required,numeric"`
}

var defaults = map[string]any{
	"clickup_url":             clickup.DefaultBaseURL,
	"dev_order_index":         metrics.DefaultDevOrderIndex,
	"work_days_per_week":      metrics.DefaultWorkDaysPerWeek,
	"aggregation_policy":      string(metrics.PolicyNodeAndLeaf),
	"remove_weekends":         false,
	"weekend_mode":            string(metrics.WeekendRatio),
	"max_concurrent_requests": 16,
	"request_timeout_seconds": 30,
	"log_level":               "info",
	"port":                    "8080",
}

var validate = validator.New()

// LoadConfig loads configuration from the file at path when it exists, then
// environment variables, then defaults. Environment variables use the upper
// case key names, e.g. CLICKUP_TOKEN.
func LoadConfig(fs afero.Fs, path string) (Config, error) {
	v := viper.New()
	v.SetFs(fs)
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetDefault("clickup_workspace_id", "")
	v.SetDefault("clickup_token", "")

	for _, key := range v.AllKeys() {
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return Config{}, err
		}
	}

	if path != "" {
		exists, err := afero.Exists(fs, path)
		if err != nil {
			return Config{}, err
		}
		if exists {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalize maps accepted spellings onto canonical names.
func (c *Config) normalize() error {
	policy, err := metrics.ParsePolicy(c.AggregationPolicy)
	if err != nil {
		return err
	}
	mode, err := metrics.ParseWeekendMode(c.WeekendMode)
	if err != nil {
		return err
	}
	c.AggregationPolicy = string(policy)
	c.WeekendMode = string(mode)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.ClickUpURL = strings.TrimRight(c.ClickUpURL, "/")
	return nil
}

// Validate checks the configuration against its field rules.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		messages = append(messages, fmt.Sprintf("%s: failed rule '%s'", e.Field(), e.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(messages, "; "))
}

// ClientConfig returns the ClickUp client settings.
func (c Config) ClientConfig() clickup.ClientConfig {
	return clickup.ClientConfig{
		BaseURL: c.ClickUpURL,
		Token:   c.ClickUpToken,
		Timeout: time.Duration(c.RequestTimeoutSeconds) * time.Second,
	}
}

// MetricsOptions returns the calculation options. Fields were normalized by
// LoadConfig.
func (c Config) MetricsOptions() metrics.Options {
	return metrics.Options{
		Policy:          metrics.Policy(c.AggregationPolicy),
		DevOrderIndex:   c.DevOrderIndex,
		WorkDaysPerWeek: c.WorkDaysPerWeek,
		ExcludeWeekends: c.RemoveWeekends,
		WeekendMode:     metrics.WeekendMode(c.WeekendMode),
	}
}

// SlogLevel maps LogLevel onto a slog level; unknown names give info.
func (c Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// CreateSampleConfig creates a sample configuration file
func CreateSampleConfig(fs afero.Fs, path string) error {
	config := Config{
		ClickUpURL:            clickup.DefaultBaseURL,
		ClickUpToken:          "your-clickup-token",
		WorkspaceID:           "your-workspace-id",
		DevOrderIndex:         metrics.DefaultDevOrderIndex,
		WorkDaysPerWeek:       metrics.DefaultWorkDaysPerWeek,
		AggregationPolicy:     string(metrics.PolicyNodeAndLeaf),
		RemoveWeekends:        false,
		WeekendMode:           string(metrics.WeekendRatio),
		MaxConcurrentRequests: 16,
		RequestTimeoutSeconds: 30,
		LogLevel:              "info",
		Port:                  "8080",
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return afero.WriteFile(fs, path, data, 0644)
}
