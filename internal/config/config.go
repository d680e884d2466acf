// File: internal/config/config.go
package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	Browser      BrowserConfig      `mapstructure:"browser" yaml:"browser"`
	Engine       EngineConfig       `mapstructure:"engine" yaml:"engine"`
	Typing       TypingConfig       `mapstructure:"typing" yaml:"typing"`
	Pointer      PointerConfig      `mapstructure:"pointer" yaml:"pointer"`
	Runner       RunnerConfig       `mapstructure:"runner" yaml:"runner"`
	Selectors    SelectorConfig     `mapstructure:"selectors" yaml:"selectors"`
	Verification VerificationConfig `mapstructure:"verification" yaml:"verification"`
	Store        StoreConfig        `mapstructure:"store" yaml:"store"`
	Ledger       LedgerConfig       `mapstructure:"ledger" yaml:"ledger"`
	Metrics      MetricsConfig      `mapstructure:"metrics" yaml:"metrics"`
	Profile      ProfileConfig      `mapstructure:"profile" yaml:"profile"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the Chrome instance that hosts the job pages.
// Login is not handled here; point UserDataDir at a profile that is already signed in.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir       string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	LaunchWait        time.Duration `mapstructure:"launch_wait" yaml:"launch_wait"`
}

// EngineConfig tunes a single application attempt.
type EngineConfig struct {
	IterationCap     int           `mapstructure:"iteration_cap" yaml:"iteration_cap"`
	MaxUnanswered    int           `mapstructure:"max_unanswered" yaml:"max_unanswered"`
	TransientRetries int           `mapstructure:"transient_retries" yaml:"transient_retries"`
	ScanTimeout      time.Duration `mapstructure:"scan_timeout" yaml:"scan_timeout"`
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	SettleInterval   time.Duration `mapstructure:"settle_interval" yaml:"settle_interval"`
	CommitTimeout    time.Duration `mapstructure:"commit_timeout" yaml:"commit_timeout"`
	VerifyTimeout    time.Duration `mapstructure:"verify_timeout" yaml:"verify_timeout"`
}

// TypingConfig controls keystroke-by-keystroke entry.
type TypingConfig struct {
	KeyDelayMean   time.Duration `mapstructure:"key_delay_mean" yaml:"key_delay_mean"`
	KeyDelayJitter time.Duration `mapstructure:"key_delay_jitter" yaml:"key_delay_jitter"`
	WordPause      time.Duration `mapstructure:"word_pause" yaml:"word_pause"`
}

// RunnerConfig controls how many attempts run and how fast.
type RunnerConfig struct {
	Concurrency      int           `mapstructure:"concurrency" yaml:"concurrency"`
	AttemptsPerMin   float64       `mapstructure:"attempts_per_minute" yaml:"attempts_per_minute"`
	RetryBudget      int           `mapstructure:"retry_budget" yaml:"retry_budget"`
	AttemptTimeout   time.Duration `mapstructure:"attempt_timeout" yaml:"attempt_timeout"`
	ShutdownDeadline time.Duration `mapstructure:"shutdown_deadline" yaml:"shutdown_deadline"`
}

// SelectorConfig describes where things live in the application modal. Layouts that
// differ from the defaults are supported by overriding these, not by discovery.
type SelectorConfig struct {
	Modal        string `mapstructure:"modal" yaml:"modal"`
	FieldGroup   string `mapstructure:"field_group" yaml:"field_group"`
	QuestionText string `mapstructure:"question_text" yaml:"question_text"`
	TextInput    string `mapstructure:"text_input" yaml:"text_input"`
	Radio        string `mapstructure:"radio" yaml:"radio"`
	Checkbox     string `mapstructure:"checkbox" yaml:"checkbox"`
	Select       string `mapstructure:"select" yaml:"select"`
	Buttons      string `mapstructure:"buttons" yaml:"buttons"`
	ActionBar    string `mapstructure:"action_bar" yaml:"action_bar"`
	ApplyButton  string `mapstructure:"apply_button" yaml:"apply_button"`
	Confirmation string `mapstructure:"confirmation" yaml:"confirmation"`
	ErrorText    string `mapstructure:"error_text" yaml:"error_text"`
}

// VerificationConfig holds the phrases and patterns used to judge completion.
type VerificationConfig struct {
	ConfirmationPhrases []string `mapstructure:"confirmation_phrases" yaml:"confirmation_phrases"`
	ErrorPhrases        []string `mapstructure:"error_phrases" yaml:"error_phrases"`
	SuccessURLPatterns  []string `mapstructure:"success_url_patterns" yaml:"success_url_patterns"`
	AppliedLabels       []string `mapstructure:"applied_labels" yaml:"applied_labels"`
}

// StoreConfig holds the database connection details for outcome persistence.
type StoreConfig struct {
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
	Table       string `mapstructure:"table" yaml:"table"`
}

// LedgerConfig configures the applied-jobs ledger.
type LedgerConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password" yaml:"-"`
	RedisDB       int           `mapstructure:"redis_db" yaml:"redis_db"`
	KeyPrefix     string        `mapstructure:"key_prefix" yaml:"key_prefix"`
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile" yaml:"textfile"`
}

// ProfileConfig points at the applicant profile.
type ProfileConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "applypilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.launch_wait", "30s")

	// -- Engine --
	v.SetDefault("engine.iteration_cap", 30)
	v.SetDefault("engine.max_unanswered", 3)
	v.SetDefault("engine.transient_retries", 3)
	v.SetDefault("engine.scan_timeout", "6s")
	v.SetDefault("engine.poll_interval", "250ms")
	v.SetDefault("engine.settle_interval", "1500ms")
	v.SetDefault("engine.commit_timeout", "5s")
	v.SetDefault("engine.verify_timeout", "6s")

	// -- Typing and pointer --
	setTypingDefaults(v)
	setPointerDefaults(v)

	// -- Runner --
	v.SetDefault("runner.concurrency", 1)
	v.SetDefault("runner.attempts_per_minute", 6.0)
	v.SetDefault("runner.retry_budget", 1)
	v.SetDefault("runner.attempt_timeout", "5m")
	v.SetDefault("runner.shutdown_deadline", "15s")

	// -- Selectors --
	v.SetDefault("selectors.modal", `.chatbot_DrawerContentWrapper, .jobs-easy-apply-modal, [role="dialog"]`)
	v.SetDefault("selectors.field_group", `.chatbot_ListItem, .jobs-easy-apply-form-section__grouping, .fb-dash-form-element, fieldset, .form-group`)
	v.SetDefault("selectors.question_text", `.botMsg, .fb-dash-form-element__label, legend, label, .question`)
	v.SetDefault("selectors.text_input", `input[type="text"], input[type="number"], input[type="tel"], input[type="email"], input[type="date"], input:not([type]), textarea, [contenteditable="true"]`)
	v.SetDefault("selectors.radio", `input[type="radio"], [role="radio"]`)
	v.SetDefault("selectors.checkbox", `input[type="checkbox"], [role="checkbox"]`)
	v.SetDefault("selectors.select", `select`)
	v.SetDefault("selectors.buttons", `button, [role="button"], input[type="submit"], input[type="button"], .sendMsg`)
	v.SetDefault("selectors.action_bar", `footer, .artdeco-modal__actionbar, .chatbot_Footer, .sendMsgbtn_container, .actions`)
	v.SetDefault("selectors.apply_button", `#apply-button, .apply-button, .jobs-apply-button`)
	v.SetDefault("selectors.confirmation", `[role="status"], .apply-message, .success-message, .artdeco-inline-feedback--success, .jobs-post-apply-modal, h1, h2, h3`)
	v.SetDefault("selectors.error_text", `.error-message, .errorMsg, .chatbot_ErrorMsg, .artdeco-inline-feedback--error`)

	// -- Verification --
	v.SetDefault("verification.confirmation_phrases", []string{
		"successfully applied",
		"application submitted",
		"application was sent",
		"you have applied",
		"thank you for applying",
	})
	v.SetDefault("verification.error_phrases", []string{
		"something went wrong",
		"failed to apply",
		"could not apply",
		"please try again later",
	})
	v.SetDefault("verification.success_url_patterns", []string{
		`(?i)/myapply/saveapply`,
		`(?i)apply[-_]?confirmation`,
		`(?i)[?&]applied=true`,
		`(?i)/post-apply`,
	})
	v.SetDefault("verification.applied_labels", []string{"applied", "application sent"})

	// -- Store --
	v.SetDefault("store.table", "application_outcomes")

	// -- Ledger --
	v.SetDefault("ledger.key_prefix", "applypilot:applied:")
	v.SetDefault("ledger.ttl", "720h")

	// -- Profile --
	v.SetDefault("profile.path", "profile.yaml")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("store.database_url", "APPLYPILOT_DATABASE_URL")
	_ = v.BindEnv("ledger.redis_password", "APPLYPILOT_REDIS_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine configuration invalid: %w", err)
	}
	if c.Runner.Concurrency <= 0 {
		return fmt.Errorf("runner.concurrency must be a positive integer")
	}
	if c.Runner.RetryBudget < 0 {
		return fmt.Errorf("runner.retry_budget cannot be negative")
	}
	if c.Runner.AttemptsPerMin < 0 {
		return fmt.Errorf("runner.attempts_per_minute cannot be negative")
	}
	if c.Pointer.Enabled && (c.Pointer.FittsA < 0 || c.Pointer.FittsB < 0 || c.Pointer.Jitter < 0) {
		return fmt.Errorf("pointer.fitts_a, pointer.fitts_b and pointer.jitter cannot be negative")
	}
	if c.Selectors.Modal == "" || c.Selectors.Buttons == "" {
		return fmt.Errorf("selectors.modal and selectors.buttons are required")
	}
	for _, p := range c.Verification.SuccessURLPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("verification.success_url_patterns: invalid pattern %q: %w", p, err)
		}
	}
	return nil
}

// Validate checks the EngineConfig settings.
func (e *EngineConfig) Validate() error {
	if e.IterationCap <= 0 {
		return fmt.Errorf("iteration_cap must be greater than 0")
	}
	if e.MaxUnanswered < 0 {
		return fmt.Errorf("max_unanswered cannot be negative")
	}
	if e.TransientRetries < 0 {
		return fmt.Errorf("transient_retries cannot be negative")
	}
	if e.ScanTimeout <= 0 || e.PollInterval <= 0 || e.CommitTimeout <= 0 || e.VerifyTimeout <= 0 {
		return fmt.Errorf("scan_timeout, poll_interval, commit_timeout and verify_timeout must be positive durations")
	}
	if e.SettleInterval < 0 {
		return fmt.Errorf("settle_interval cannot be negative")
	}
	return nil
}
