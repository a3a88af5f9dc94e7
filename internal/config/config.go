// Configuration loading and parsing for coven-chat.
// Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete coven-chat configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth AuthConfig `yaml:"auth"`
	Agents AgentsConfig `yaml:"agents"`
	NLU NLUConfig `yaml:"nlu"`
	Scheduling SchedulingConfig `yaml:"scheduling"`
	Uploads UploadsConfig `yaml:"uploads"`
	Handover HandoverConfig `yaml:"handover"`
	Channels ChannelsConfig `yaml:"channels"`
	Presence PresenceConfig `yaml:"presence"`
	Logging LoggingConfig `yaml:"logging"`
}

// PresenceConfig selects the presence broadcaster's backend: in-process by
// default, optionally cross-process over AMQP for multi-replica deployments.
type PresenceConfig struct {
	Backend string `yaml:"backend"` // "local" (default) or "amqp"
	AMQPURL string `yaml:"amqp_url"`
	AMQPExchange string `yaml:"amqp_exchange"`
	AMQPQueueName string `yaml:"amqp_queue_name"`
}

// ServerConfig holds the HTTP listen address.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds bearer credential configuration.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`

	TokenTTL time.Duration `yaml:"-"`
	TokenTTLRaw string `yaml:"token_ttl"`
}

// AgentsConfig holds per-invocation budgets for the Agent Registry.
type AgentsConfig struct {
	MaxOutputTokens int `yaml:"max_output_tokens"`
	HistoryWindow int `yaml:"history_window"`
	DefaultAPIKey string `yaml:"default_api_key"`
	ModelName string `yaml:"model_name"`
	// SeedBundleDir, if set, is scanned at startup for TOML custom-agent
	// prompt bundles (internal/agent/seed) to populate the store.
	SeedBundleDir string `yaml:"seed_bundle_dir"`

	ReplyDeadline time.Duration `yaml:"-"`
	ReplyDeadlineRaw string `yaml:"reply_deadline"`
}

// NLUConfig selects and configures the NLU Classifier strategy.
type NLUConfig struct {
	// Strategy is "rule" or "model". When "model", failures fall back to
	// "rule" automatically per the classifier's selection policy.
	Strategy string `yaml:"strategy"`
	ModelName string `yaml:"model_name"`
	APIKey string `yaml:"api_key"`
	ConfidenceFloor float64 `yaml:"confidence_floor"`

	Deadline time.Duration `yaml:"-"`
	DeadlineRaw string `yaml:"deadline"`
}

// SchedulingConfig configures the Scheduling Sub-Protocol.
type SchedulingConfig struct {
	WorkingDays []time.Weekday `yaml:"-"`
	WorkingDaysRaw []string `yaml:"working_days"`

	WorkingHourStart int `yaml:"working_hour_start"`
	WorkingHourEnd int `yaml:"working_hour_end"`
	TimeZone string `yaml:"timezone"`

	SlotDuration time.Duration `yaml:"-"`
	SlotDurationRaw string `yaml:"slot_duration"`

	// AutoCommitDefault is the per-(tenant, agent) default when no
	// per-agent override is configured.
	AutoCommitDefault bool `yaml:"auto_commit_default"`

	CommitDeadline time.Duration `yaml:"-"`
	CommitDeadlineRaw string `yaml:"commit_deadline"`
}

// UploadsConfig configures the Upload Broker.
type UploadsConfig struct {
	MaxSizeBytes int64 `yaml:"max_size_bytes"`
	AllowedMimeTypes []string `yaml:"allowed_mime_types"`

	// StorageDir is the local-disk object store's root directory, the
	// default stand-in for an external blob store in single-process/dev
	// deployments. See internal/upload/localstore.go.
	StorageDir string `yaml:"storage_dir"`
	PublicBaseURL string `yaml:"public_base_url"`
	TranscriptionEndpoint string `yaml:"transcription_endpoint"`

	CredentialTTL time.Duration `yaml:"-"`
	CredentialTTLRaw string `yaml:"credential_ttl"`
}

// HandoverConfig configures out-of-hours and on-call policy.
type HandoverConfig struct {
	OutOfHoursForbidsBotOnly bool `yaml:"out_of_hours_forbids_bot_only"`
	OnCallStartHour int `yaml:"on_call_start_hour"`
	OnCallEndHour int `yaml:"on_call_end_hour"`
	TimeZone string `yaml:"timezone"`
}

// ChannelsConfig holds per-provider webhook secrets and send endpoints.
type ChannelsConfig struct {
	WhatsAppCloud ChannelCredentials `yaml:"whatsapp_cloud"`
	WhatsAppDeviceSess ChannelCredentials `yaml:"whatsapp_device"`
	Instagram ChannelCredentials `yaml:"instagram"`
	FacebookMessenger ChannelCredentials `yaml:"facebook_messenger"`
}

// ChannelCredentials holds the webhook verification secret and send
// endpoint for one outbound channel adapter.
type ChannelCredentials struct {
	Enabled bool `yaml:"enabled"`
	WebhookSecret string `yaml:"webhook_secret"`
	WebhookVerifyToken string `yaml:"webhook_verify_token"`
	SendEndpoint string `yaml:"send_endpoint"`
	AccessToken string `yaml:"access_token"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from path, expands ${VAR} environment
// references, parses duration strings, and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	if err := parseWeekdays(&cfg); err != nil {
		return nil, fmt.Errorf("parsing working_days: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// Validate checks that required fields are present.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.NLU.Strategy != "rule" && c.NLU.Strategy != "model" {
		return fmt.Errorf("nlu.strategy must be %q or %q, got %q", "rule", "model", c.NLU.Strategy)
	}
	if c.Presence.Backend != "local" && c.Presence.Backend != "amqp" {
		return fmt.Errorf("presence.backend must be %q or %q, got %q", "local", "amqp", c.Presence.Backend)
	}
	if c.Presence.Backend == "amqp" && c.Presence.AMQPURL == "" {
		return fmt.Errorf("presence.amqp_url is required when presence.backend is %q", "amqp")
	}
	return nil
}

func parseDurations(cfg *Config) error {
	durations := []struct {
		name string
		raw string
		dst *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"agents.reply_deadline", cfg.Agents.ReplyDeadlineRaw, &cfg.Agents.ReplyDeadline},
		{"nlu.deadline", cfg.NLU.DeadlineRaw, &cfg.NLU.Deadline},
		{"scheduling.slot_duration", cfg.Scheduling.SlotDurationRaw, &cfg.Scheduling.SlotDuration},
		{"scheduling.commit_deadline", cfg.Scheduling.CommitDeadlineRaw, &cfg.Scheduling.CommitDeadline},
		{"uploads.credential_ttl", cfg.Uploads.CredentialTTLRaw, &cfg.Uploads.CredentialTTL},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", d.name, d.raw, err)
		}
		*d.dst = parsed
	}
	return nil
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

func parseWeekdays(cfg *Config) error {
	if len(cfg.Scheduling.WorkingDaysRaw) == 0 {
		return nil
	}
	days := make([]time.Weekday, 0, len(cfg.Scheduling.WorkingDaysRaw))
	for _, raw := range cfg.Scheduling.WorkingDaysRaw {
		wd, ok := weekdayNames[raw]
		if !ok {
			return fmt.Errorf("unknown weekday %q", raw)
		}
		days = append(days, wd)
	}
	cfg.Scheduling.WorkingDays = days
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}
	if cfg.Agents.MaxOutputTokens == 0 {
		cfg.Agents.MaxOutputTokens = 1024
	}
	if cfg.Agents.HistoryWindow == 0 {
		cfg.Agents.HistoryWindow = 20
	}
	if cfg.Agents.ReplyDeadline == 0 {
		cfg.Agents.ReplyDeadline = 20 * time.Second
	}
	if cfg.NLU.Deadline == 0 {
		cfg.NLU.Deadline = 5 * time.Second
	}
	if cfg.NLU.ConfidenceFloor == 0 {
		cfg.NLU.ConfidenceFloor = 0.5
	}
	if len(cfg.Scheduling.WorkingDays) == 0 {
		cfg.Scheduling.WorkingDays = []time.Weekday{
			time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
		}
	}
	if cfg.Scheduling.WorkingHourEnd == 0 {
		cfg.Scheduling.WorkingHourStart = 9
		cfg.Scheduling.WorkingHourEnd = 18
	}
	if cfg.Scheduling.SlotDuration == 0 {
		cfg.Scheduling.SlotDuration = 60 * time.Minute
	}
	if cfg.Scheduling.CommitDeadline == 0 {
		cfg.Scheduling.CommitDeadline = 10 * time.Second
	}
	if cfg.Scheduling.TimeZone == "" {
		cfg.Scheduling.TimeZone = "UTC"
	}
	if cfg.Uploads.MaxSizeBytes == 0 {
		cfg.Uploads.MaxSizeBytes = 25 * 1024 * 1024
	}
	if cfg.Uploads.CredentialTTL == 0 {
		cfg.Uploads.CredentialTTL = 10 * time.Minute
	}
	if len(cfg.Uploads.AllowedMimeTypes) == 0 {
		cfg.Uploads.AllowedMimeTypes = []string{
			"image/png", "image/jpeg", "image/webp",
			"audio/ogg", "audio/mpeg", "audio/wav",
			"application/pdf",
		}
	}
	if cfg.Handover.TimeZone == "" {
		cfg.Handover.TimeZone = cfg.Scheduling.TimeZone
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Presence.Backend == "" {
		cfg.Presence.Backend = "local"
	}
	if cfg.Presence.AMQPExchange == "" {
		cfg.Presence.AMQPExchange = "coven-chat.presence"
	}
	if cfg.Presence.AMQPQueueName == "" {
		cfg.Presence.AMQPQueueName = "coven-chat.presence.local"
	}
	if cfg.Uploads.StorageDir == "" {
		cfg.Uploads.StorageDir = "data/uploads"
	}
}
