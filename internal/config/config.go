package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Salesforce   SalesforceConfig   `yaml:"salesforce" mapstructure:"salesforce"`
	Notion       NotionConfig       `yaml:"notion" mapstructure:"notion"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	Intake       IntakeConfig       `yaml:"intake" mapstructure:"intake"`
	Territory    TerritoryConfig    `yaml:"territory" mapstructure:"territory"`
	Qualify      QualifyConfig      `yaml:"qualify" mapstructure:"qualify"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Learning     LearningConfig     `yaml:"learning" mapstructure:"learning"`
	Retry        RetryConfig        `yaml:"retry" mapstructure:"retry"`
	Monitoring   MonitoringConfig   `yaml:"monitoring" mapstructure:"monitoring"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SalesforceConfig holds Salesforce JWT auth settings for CRM handoff.
type SalesforceConfig struct {
	ClientID    string `yaml:"client_id" mapstructure:"client_id"`
	Username    string `yaml:"username" mapstructure:"username"`
	KeyPath     string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL    string `yaml:"login_url" mapstructure:"login_url"`
	OutcomeDays int    `yaml:"outcome_lookback_days" mapstructure:"outcome_lookback_days"`
}

// NotionConfig holds the manual-review queue settings.
type NotionConfig struct {
	Token    string `yaml:"token" mapstructure:"token"`
	ReviewDB string `yaml:"review_db" mapstructure:"review_db"`
}

// AnthropicConfig holds Anthropic API settings for handoff reports.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// IntakeConfig configures bulk lead-list ingestion.
type IntakeConfig struct {
	TempDir        string `yaml:"temp_dir" mapstructure:"temp_dir"`
	FTPTimeoutSecs int    `yaml:"ftp_timeout_secs" mapstructure:"ftp_timeout_secs"`
	FTPUser        string `yaml:"ftp_user" mapstructure:"ftp_user"`
	FTPPassword    string `yaml:"ftp_password" mapstructure:"ftp_password"`
	SheetName      string `yaml:"sheet_name" mapstructure:"sheet_name"`
}

// TerritoryConfig configures sales-territory assignment from shapefiles.
type TerritoryConfig struct {
	ShapefilePath string `yaml:"shapefile_path" mapstructure:"shapefile_path"`
	NameField     string `yaml:"name_field" mapstructure:"name_field"`
}

// QualifyConfig selects the active qualification framework.
type QualifyConfig struct {
	Framework  string `yaml:"framework" mapstructure:"framework"`
	ConfigPath string `yaml:"config_path" mapstructure:"config_path"`
}

// OrchestratorConfig tunes the pipeline state machine.
type OrchestratorConfig struct {
	Concurrency           int `yaml:"concurrency" mapstructure:"concurrency"`
	EnrichmentMaxWaitSecs int `yaml:"enrichment_max_wait_secs" mapstructure:"enrichment_max_wait_secs"`
	DeferredCooldownHours int `yaml:"deferred_cooldown_hours" mapstructure:"deferred_cooldown_hours"`
	MaxContactAttempts    int `yaml:"max_contact_attempts" mapstructure:"max_contact_attempts"`
	StaleDeferredDays     int `yaml:"stale_deferred_days" mapstructure:"stale_deferred_days"`
}

// EnrichmentMaxWait returns the enrichment wait budget as a duration.
func (c OrchestratorConfig) EnrichmentMaxWait() time.Duration {
	return time.Duration(c.EnrichmentMaxWaitSecs) * time.Second
}

// DeferredCooldown returns the deferred re-entry cooldown as a duration.
func (c OrchestratorConfig) DeferredCooldown() time.Duration {
	return time.Duration(c.DeferredCooldownHours) * time.Hour
}

// StaleDeferredAge returns the age past which a deferred lead is flagged
// for manual review.
func (c OrchestratorConfig) StaleDeferredAge() time.Duration {
	return time.Duration(c.StaleDeferredDays) * 24 * time.Hour
}

// LearningConfig tunes the outcome feedback loop.
type LearningConfig struct {
	MinSampleSize      int     `yaml:"min_sample_size" mapstructure:"min_sample_size"`
	AutoApplyThreshold float64 `yaml:"auto_apply_threshold" mapstructure:"auto_apply_threshold"`
	MaxDriftPerCycle   float64 `yaml:"max_drift_per_cycle" mapstructure:"max_drift_per_cycle"`
	StalledDecay       float64 `yaml:"stalled_decay" mapstructure:"stalled_decay"`
}

// RetryConfig tunes bounded exponential backoff and the per-service circuit
// breakers guarding external calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`

	CircuitFailureThreshold int `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetTimeoutSecs int `yaml:"circuit_reset_timeout_secs" mapstructure:"circuit_reset_timeout_secs"`
}

// MonitoringConfig tunes pipeline health checks and webhook alerting.
type MonitoringConfig struct {
	WebhookURL              string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs       int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours     int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	DisqualifyRateThreshold float64 `yaml:"disqualify_rate_threshold" mapstructure:"disqualify_rate_threshold"`
	MinWinRate              float64 `yaml:"min_win_rate" mapstructure:"min_win_rate"`
	MaxPendingSuggestions   int     `yaml:"max_pending_suggestions" mapstructure:"max_pending_suggestions"`
	StaleDeferredAlertMin   int     `yaml:"stale_deferred_alert_min" mapstructure:"stale_deferred_alert_min"`
}

// ServerConfig configures the status API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SALESAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "sales-agent.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.outcome_lookback_days", 30)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("intake.temp_dir", "/tmp/sales-agent")
	v.SetDefault("intake.ftp_timeout_secs", 30)
	v.SetDefault("territory.name_field", "name")
	v.SetDefault("qualify.framework", "bant")
	v.SetDefault("orchestrator.concurrency", 5)
	v.SetDefault("orchestrator.enrichment_max_wait_secs", 120)
	v.SetDefault("orchestrator.deferred_cooldown_hours", 72)
	v.SetDefault("orchestrator.max_contact_attempts", 3)
	v.SetDefault("orchestrator.stale_deferred_days", 30)
	v.SetDefault("learning.min_sample_size", 10)
	v.SetDefault("learning.auto_apply_threshold", 0.8)
	v.SetDefault("learning.max_drift_per_cycle", 0.05)
	v.SetDefault("learning.stalled_decay", 0.25)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("retry.circuit_failure_threshold", 5)
	v.SetDefault("retry.circuit_reset_timeout_secs", 30)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 168)
	v.SetDefault("monitoring.disqualify_rate_threshold", 0.7)
	v.SetDefault("monitoring.min_win_rate", 0.1)
	v.SetDefault("monitoring.max_pending_suggestions", 20)
	v.SetDefault("monitoring.stale_deferred_alert_min", 1)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
