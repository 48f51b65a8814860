package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/prometheus/common/model"
	"gopkg.in/yaml.v3"

	"github.com/sachinkoro/logarte/pkg/alerts"
	"github.com/sachinkoro/logarte/pkg/pipeline"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultBatchSize = 20
	DefaultCapacity  = 1000
)

var (
	defaultInterval = model.Duration(10 * time.Second)
	defaultTimeout  = model.Duration(10 * time.Second)
	defaultCooldown = model.Duration(5 * time.Minute)
)

// Config is the top-level relay configuration. Fields map 1:1 to
// config.example.yaml. Durations are strings like "30s" or "5m".
type Config struct {
	Collector CollectorConfig `yaml:"collector"`
	Batching  BatchingConfig  `yaml:"batching"`
	Queue     QueueConfig     `yaml:"queue"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	WS        WSConfig        `yaml:"ws"`
}

// CollectorConfig identifies the remote collector and the credentials sent
// with every batch.
type CollectorConfig struct {
	// Endpoint is the batch submit URL, e.g. "https://collector.example.com/logs/batch".
	Endpoint string `yaml:"endpoint"`

	// APIKeyEnv is the name of the environment variable that holds the API
	// key. The key itself never lives in the file.
	APIKeyEnv string `yaml:"api_key_env"`

	UserID string `yaml:"user_id"`
	TeamID string `yaml:"team_id"`

	// Timeout bounds each remote call.
	Timeout model.Duration `yaml:"timeout"`
}

// APIKey returns the key resolved from the environment.
func (c CollectorConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// BatchingConfig controls batch formation.
type BatchingConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Size     int            `yaml:"size"`
	Interval model.Duration `yaml:"interval"`
}

// QueueConfig bounds the pending queue.
type QueueConfig struct {
	Capacity int `yaml:"capacity"`
}

// AlertsConfig holds the cooldown, the webhook target, and the rule set.
type AlertsConfig struct {
	Cooldown model.Duration `yaml:"cooldown"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Rules    []RuleConfig   `yaml:"rules"`
}

// WebhookConfig defines the optional notification webhook.
type WebhookConfig struct {
	// URLEnv is the name of the environment variable that holds the webhook
	// URL.
	URLEnv  string            `yaml:"url_env"`
	Headers map[string]string `yaml:"headers"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// RuleConfig is the YAML form of one alert rule. Custom-predicate rules are
// code-only and cannot be expressed here.
type RuleConfig struct {
	ID          string `yaml:"id"`
	Type        string `yaml:"type"`
	Severity    string `yaml:"severity"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Disabled keeps the rule in the file without evaluating it. The zero
	// value means enabled.
	Disabled bool `yaml:"disabled"`

	FailureThreshold int            `yaml:"failure_threshold"`
	TimeWindow       model.Duration `yaml:"time_window"`
	StatusCodes      []int          `yaml:"status_codes"`
	EndpointPattern  string         `yaml:"endpoint_pattern"`
	SlowThreshold    model.Duration `yaml:"slow_threshold"`
}

// WSConfig configures the live notification stream.
type WSConfig struct {
	// Listen is the address for the WebSocket endpoint, e.g. ":8091".
	// Empty disables the stream.
	Listen string `yaml:"listen"`
}

// Load reads and parses the config file at path. Missing optional fields are
// filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Collector: CollectorConfig{
			Timeout: defaultTimeout,
		},
		Batching: BatchingConfig{
			Enabled:  true,
			Size:     DefaultBatchSize,
			Interval: defaultInterval,
		},
		Queue: QueueConfig{
			Capacity: DefaultCapacity,
		},
		Alerts: AlertsConfig{
			Cooldown: defaultCooldown,
		},
	}
}

var knownRuleTypes = map[string]struct{}{
	string(alerts.TypeAPIFailure):      {},
	string(alerts.TypeSlowResponse):    {},
	string(alerts.TypeCrashDetected):   {},
	string(alerts.TypeCustomThreshold): {},
	string(alerts.TypeHighErrorRate):   {},
}

// validate checks structural constraints. Semantic problems inside a rule
// (zero threshold, missing status codes) are left to the engine, which
// disables the offending rule and keeps the rest running.
func validate(cfg *Config) error {
	if cfg.Collector.Endpoint == "" {
		return fmt.Errorf("collector.endpoint is required")
	}
	if cfg.Collector.Timeout <= 0 {
		return fmt.Errorf("collector.timeout must be positive")
	}
	if cfg.Batching.Size <= 0 {
		return fmt.Errorf("batching.size must be positive")
	}
	if cfg.Batching.Interval <= 0 {
		return fmt.Errorf("batching.interval must be positive")
	}
	if cfg.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be positive")
	}
	for i, r := range cfg.Alerts.Rules {
		if r.ID == "" {
			return fmt.Errorf("alerts.rules[%d]: id is required", i)
		}
		if _, ok := knownRuleTypes[r.Type]; !ok {
			return fmt.Errorf("alerts.rules[%d] %q: unknown type %q", i, r.ID, r.Type)
		}
		if r.EndpointPattern != "" {
			if _, err := regexp.Compile(r.EndpointPattern); err != nil {
				return fmt.Errorf("alerts.rules[%d] %q: endpoint_pattern: %w", i, r.ID, err)
			}
		}
	}
	return nil
}

// Rules converts the YAML rule definitions into engine rules. Call only
// after Load has validated the config, so patterns are known to compile.
func (c *Config) Rules() []alerts.Rule {
	out := make([]alerts.Rule, 0, len(c.Alerts.Rules))
	for _, r := range c.Alerts.Rules {
		rule := alerts.Rule{
			ID:               r.ID,
			Type:             alerts.Type(r.Type),
			Severity:         alerts.Severity(r.Severity),
			Name:             r.Name,
			Description:      r.Description,
			Enabled:          !r.Disabled,
			FailureThreshold: r.FailureThreshold,
			TimeWindow:       time.Duration(r.TimeWindow),
			StatusCodes:      r.StatusCodes,
			SlowThreshold:    time.Duration(r.SlowThreshold),
		}
		if r.EndpointPattern != "" {
			rule.EndpointPattern = regexp.MustCompile(r.EndpointPattern)
		}
		out = append(out, rule)
	}
	return out
}

// DeliveryOptions converts the collector and batching sections into pipeline
// options.
func (c *Config) DeliveryOptions() pipeline.Options {
	return pipeline.Options{
		Endpoint:        c.Collector.Endpoint,
		APIKey:          c.Collector.APIKey(),
		UserID:          c.Collector.UserID,
		TeamID:          c.Collector.TeamID,
		BatchingEnabled: c.Batching.Enabled,
		BatchSize:       c.Batching.Size,
		Interval:        time.Duration(c.Batching.Interval),
		Timeout:         time.Duration(c.Collector.Timeout),
		Capacity:        c.Queue.Capacity,
	}
}
