// Package config loads and validates smswatch configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Source   SourceConfig   `mapstructure:"source"`
	Session  SessionConfig  `mapstructure:"session"`
	Poll     PollConfig     `mapstructure:"poll"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Channels ChannelsConfig `mapstructure:"channels"`
	Liveness LivenessConfig `mapstructure:"liveness"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SourceConfig describes the gateway panel being watched.
type SourceConfig struct {
	// Mode selects the data surface shape: "grid" scrapes the panel's
	// table-refresh endpoint through the browser session, "rest" hits
	// a paginated endpoint with a last-seen-id cursor.
	Mode     string `mapstructure:"mode"`
	LoginURL string `mapstructure:"login_url"`
	DataURL  string `mapstructure:"data_url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	UsernameSelector string `mapstructure:"username_selector"`
	PasswordSelector string `mapstructure:"password_selector"`
	AnswerSelector   string `mapstructure:"answer_selector"`
	SubmitSelector   string `mapstructure:"submit_selector"`

	// RefreshScript is evaluated in the page to trigger a grid reload.
	RefreshScript string `mapstructure:"refresh_script"`
	// ResponsePattern is matched against response URLs to correlate
	// the asynchronous refresh result.
	ResponsePattern string `mapstructure:"response_pattern"`

	REST RESTSourceConfig `mapstructure:"rest"`
}

// RESTSourceConfig configures the direct REST source variant.
type RESTSourceConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Token    string `mapstructure:"token"`
	PerPage  int    `mapstructure:"per_page"`
}

// SessionConfig governs session establishment and recovery.
type SessionConfig struct {
	UserAgent         string `mapstructure:"user_agent"`
	NavTimeoutSec     int    `mapstructure:"nav_timeout_seconds"`
	ReconnectMax      int    `mapstructure:"reconnect_max"`
	ReconnectDelaySec int    `mapstructure:"reconnect_delay_seconds"`
	Headless          bool   `mapstructure:"headless"`
}

// PollConfig controls the polling cadence and the fetch window.
type PollConfig struct {
	IntervalSec     int `mapstructure:"interval_seconds"`
	FetchTimeoutSec int `mapstructure:"fetch_timeout_seconds"`
}

// LedgerConfig controls dedup history size and persistence.
type LedgerConfig struct {
	Cap      int           `mapstructure:"cap"`
	Provider string        `mapstructure:"provider"`
	Local    LocalStore    `mapstructure:"local"`
	GCS      GCSStore      `mapstructure:"gcs"`
	Postgres PostgresStore `mapstructure:"postgres"`
}

// LocalStore sets the on-disk snapshot path.
type LocalStore struct {
	Path string `mapstructure:"path"`
}

// GCSStore sets the bucket/object for the snapshot artifact.
type GCSStore struct {
	Bucket string `mapstructure:"bucket"`
	Object string `mapstructure:"object"`
}

// PostgresStore configures the snapshot table.
type PostgresStore struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// ChannelsConfig lists notification targets.
type ChannelsConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// TelegramConfig configures Bot API delivery.
type TelegramConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Token    string   `mapstructure:"token"`
	ChatIDs  []string `mapstructure:"chat_ids"`
	RichText bool     `mapstructure:"rich_text"`
	BaseURL  string   `mapstructure:"base_url"`
}

// PubSubConfig configures topic delivery.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// LivenessConfig controls the out-of-band staleness monitor.
type LivenessConfig struct {
	PeriodSec    int `mapstructure:"period_seconds"`
	StalenessSec int `mapstructure:"staleness_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SMSWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("source.mode", "grid")
	v.SetDefault("source.username_selector", `input[name="username"]`)
	v.SetDefault("source.password_selector", `input[name="password"]`)
	v.SetDefault("source.answer_selector", `input[name="answer"]`)
	v.SetDefault("source.submit_selector", `button[type="submit"]`)
	v.SetDefault("source.response_pattern", "/messages/data")
	v.SetDefault("source.rest.per_page", 100)
	v.SetDefault("session.user_agent", "smswatch/0.1")
	v.SetDefault("session.nav_timeout_seconds", 25)
	v.SetDefault("session.reconnect_max", 5)
	v.SetDefault("session.reconnect_delay_seconds", 5)
	v.SetDefault("session.headless", true)
	v.SetDefault("poll.interval_seconds", 30)
	v.SetDefault("poll.fetch_timeout_seconds", 15)
	v.SetDefault("ledger.cap", 1000)
	v.SetDefault("ledger.provider", "local")
	v.SetDefault("ledger.local.path", "smswatch-ledger.json")
	v.SetDefault("ledger.gcs.object", "smswatch/ledger.json")
	v.SetDefault("ledger.postgres.table", "dedup_snapshots")
	v.SetDefault("channels.telegram.base_url", "https://api.telegram.org")
	v.SetDefault("channels.telegram.rich_text", true)
	v.SetDefault("liveness.period_seconds", 60)
	v.SetDefault("liveness.staleness_seconds", 300)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Source.Mode {
	case "grid":
		if c.Source.LoginURL == "" {
			return fmt.Errorf("source.login_url is required in grid mode")
		}
		if c.Source.DataURL == "" {
			return fmt.Errorf("source.data_url is required in grid mode")
		}
		if c.Source.Username == "" || c.Source.Password == "" {
			return fmt.Errorf("source.username and source.password are required in grid mode")
		}
	case "rest":
		if c.Source.REST.Endpoint == "" {
			return fmt.Errorf("source.rest.endpoint is required in rest mode")
		}
		if c.Source.REST.Token == "" {
			return fmt.Errorf("source.rest.token is required in rest mode")
		}
	default:
		return fmt.Errorf("source.mode must be grid or rest, got %q", c.Source.Mode)
	}
	if c.Poll.IntervalSec <= 0 {
		return fmt.Errorf("poll.interval_seconds must be > 0")
	}
	if c.Poll.FetchTimeoutSec <= 0 {
		return fmt.Errorf("poll.fetch_timeout_seconds must be > 0")
	}
	if c.Ledger.Cap <= 0 {
		return fmt.Errorf("ledger.cap must be > 0")
	}
	if c.Session.ReconnectMax <= 0 {
		return fmt.Errorf("session.reconnect_max must be > 0")
	}
	if c.Liveness.StalenessSec <= c.Poll.IntervalSec {
		return fmt.Errorf("liveness.staleness_seconds must exceed poll.interval_seconds")
	}
	if c.Channels.Telegram.Enabled {
		if c.Channels.Telegram.Token == "" || len(c.Channels.Telegram.ChatIDs) == 0 {
			return fmt.Errorf("channels.telegram requires token and at least one chat id")
		}
	}
	if c.Channels.PubSub.Enabled {
		if c.Channels.PubSub.ProjectID == "" || c.Channels.PubSub.TopicID == "" {
			return fmt.Errorf("channels.pubsub requires project_id and topic_id")
		}
	}
	return nil
}

// PollInterval returns the poll cadence as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalSec) * time.Second
}

// FetchTimeout returns the response-wait window as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Poll.FetchTimeoutSec) * time.Second
}

// NavTimeout returns the navigation timeout as a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Session.NavTimeoutSec) * time.Second
}

// ReconnectDelay returns the backoff between reconnect attempts.
func (c Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Session.ReconnectDelaySec) * time.Second
}

// LivenessPeriod returns the monitor cadence as a duration.
func (c Config) LivenessPeriod() time.Duration {
	return time.Duration(c.Liveness.PeriodSec) * time.Second
}

// Staleness returns the forced-recovery threshold as a duration.
func (c Config) Staleness() time.Duration {
	return time.Duration(c.Liveness.StalenessSec) * time.Second
}
