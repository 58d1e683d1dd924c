// Package config loads and validates forum watcher configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata" // timezone names must resolve in minimal containers

	"github.com/spf13/viper"

	"github.com/JakeFAU/forumwatch/internal/watcher"
)

// ErrMissingCredentials is reported when the Telegram token or chat id is absent.
var ErrMissingCredentials = errors.New("telegram credentials missing")

// Fetcher modes.
const (
	FetcherModePlain    = "plain"
	FetcherModeAuto     = "auto"
	FetcherModeHeadless = "headless"
)

// State backends.
const (
	StateBackendFile     = "file"
	StateBackendPostgres = "postgres"
	StateBackendMemory   = "memory"
)

// Archive backends.
const (
	ArchiveBackendNone  = "none"
	ArchiveBackendLocal = "local"
	ArchiveBackendGCS   = "gcs"
	// ArchiveBackendMemory keeps pages in process; useful for dry runs.
	ArchiveBackendMemory = "memory"
)

// Event publisher backends. An empty backend means "gcp" when a topic is set.
const (
	PubSubBackendNone   = "none"
	PubSubBackendGCP    = "gcp"
	PubSubBackendMemory = "memory"
)

const (
	minInterval = time.Minute
	maxInterval = 24 * time.Hour
	maxTopics   = 50
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Watcher   WatcherConfig   `mapstructure:"watcher"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	State     StateConfig     `mapstructure:"state"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Report    ReportConfig    `mapstructure:"report"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Forums    []watcher.Forum `mapstructure:"forums"`
}

// ServerConfig controls the liveness HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// TelegramConfig holds bot credentials.
type TelegramConfig struct {
	Token string `mapstructure:"token"`
	// ChatID is numeric or an @channel username.
	ChatID      string `mapstructure:"chat_id"`
	APIEndpoint string `mapstructure:"api_endpoint"`
}

// WatcherConfig governs the polling loop.
type WatcherConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	ForumDelayMs    int           `mapstructure:"forum_delay_ms"`
	ShutdownSeconds int           `mapstructure:"shutdown_seconds"`
}

// HTTPConfig configures the forum HTTP client.
type HTTPConfig struct {
	TimeoutSeconds   int               `mapstructure:"timeout_seconds"`
	MaxAttempts      int               `mapstructure:"max_attempts"`
	BackoffInitialMs int               `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int               `mapstructure:"backoff_max_ms"`
	UserAgent        string            `mapstructure:"user_agent"`
	AcceptLanguage   string            `mapstructure:"accept_language"`
	Headers          map[string]string `mapstructure:"headers"`
	RespectRobots    bool              `mapstructure:"respect_robots"`
	// HostIntervalMs is the minimum gap between two requests to one host.
	HostIntervalMs int `mapstructure:"host_interval_ms"`
}

// FetcherConfig selects how listings are fetched.
type FetcherConfig struct {
	Mode string `mapstructure:"mode"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	MaxParallel      int `mapstructure:"max_parallel"`
	NavTimeoutSec    int `mapstructure:"nav_timeout_seconds"`
	ScriptDensityPct int `mapstructure:"script_density_pct"`
}

// ExtractorConfig tunes topic extraction.
type ExtractorConfig struct {
	MinTitle         int      `mapstructure:"min_title"`
	FallbackMinTitle int      `mapstructure:"fallback_min_title"`
	TitleMaxRunes    int      `mapstructure:"title_max_runes"`
	MaxTopics        int      `mapstructure:"max_topics"`
	StrictURLs       bool     `mapstructure:"strict_urls"`
	StopLabels       []string `mapstructure:"stop_labels"`
}

// NotifyConfig controls message formatting and pacing.
type NotifyConfig struct {
	PacingSeconds    float64 `mapstructure:"pacing_seconds"`
	IncludeTimestamp bool    `mapstructure:"include_timestamp"`
	Timezone         string  `mapstructure:"timezone"`
	AnnounceFirstRun bool    `mapstructure:"announce_first_run"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
}

// PubSubConfig holds metadata for the optional new-topic event stream.
type PubSubConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// StateConfig selects where the snapshot is persisted.
type StateConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// ArchiveConfig controls the optional raw listing archive.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// ReportConfig controls the status file and daily summary.
type ReportConfig struct {
	StatusPath   string `mapstructure:"status_path"`
	DailyEnabled bool   `mapstructure:"daily_enabled"`
	DailyHour    int    `mapstructure:"daily_hour"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ValidationError lists every configuration problem found by Validate.
type ValidationError struct {
	Problems []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		msgs = append(msgs, p.Error())
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Unwrap exposes the individual problems to errors.Is and errors.As.
func (e *ValidationError) Unwrap() []error {
	return e.Problems
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FORUMWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

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
	if len(cfg.Forums) == 0 {
		cfg.Forums = DefaultForums()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// bindLegacyEnv keeps the variable names used by existing deployments working.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"telegram.token":   {"FORUMWATCH_TELEGRAM_TOKEN", "TELEGRAM_TOKEN"},
		"telegram.chat_id": {"FORUMWATCH_TELEGRAM_CHAT_ID", "CHAT_ID"},
		"server.port":      {"FORUMWATCH_SERVER_PORT", "PORT"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 10000)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.api_endpoint", "")
	v.SetDefault("watcher.interval", "5m")
	v.SetDefault("watcher.forum_delay_ms", 0)
	v.SetDefault("watcher.shutdown_seconds", 10)
	v.SetDefault("http.timeout_seconds", 25)
	v.SetDefault("http.max_attempts", 2)
	v.SetDefault("http.backoff_initial_ms", 500)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("http.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("http.accept_language", "pt-PT,pt;q=0.9,en;q=0.8")
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.host_interval_ms", 0)
	v.SetDefault("fetcher.mode", FetcherModePlain)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.script_density_pct", 25)
	v.SetDefault("extractor.min_title", 5)
	v.SetDefault("extractor.fallback_min_title", 10)
	v.SetDefault("extractor.title_max_runes", 120)
	v.SetDefault("extractor.max_topics", 10)
	v.SetDefault("extractor.strict_urls", true)
	v.SetDefault("notify.pacing_seconds", 3)
	v.SetDefault("notify.include_timestamp", false)
	v.SetDefault("notify.timezone", "Europe/Lisbon")
	v.SetDefault("notify.announce_first_run", true)
	v.SetDefault("notify.timeout_seconds", 10)
	v.SetDefault("pubsub.backend", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("state.backend", StateBackendFile)
	v.SetDefault("state.path", "forum_state.json")
	v.SetDefault("state.dsn", "")
	v.SetDefault("state.table", "forum_snapshots")
	v.SetDefault("archive.backend", ArchiveBackendNone)
	v.SetDefault("archive.base_dir", "archive")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "listings")
	v.SetDefault("report.status_path", "status.json")
	v.SetDefault("report.daily_enabled", false)
	v.SetDefault("report.daily_hour", 9)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits. Every problem is
// collected so a misconfigured deployment can be fixed in one go.
func (c Config) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if c.Telegram.Token == "" {
		problems = append(problems, fmt.Errorf("telegram.token (TELEGRAM_TOKEN): %w", ErrMissingCredentials))
	}
	if c.Telegram.ChatID == "" {
		problems = append(problems, fmt.Errorf("telegram.chat_id (CHAT_ID): %w", ErrMissingCredentials))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Watcher.Interval < minInterval || c.Watcher.Interval > maxInterval {
		add("watcher.interval must be between %s and %s, got %s", minInterval, maxInterval, c.Watcher.Interval)
	}
	if c.Watcher.ForumDelayMs < 0 {
		add("watcher.forum_delay_ms must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		add("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		add("http.max_attempts must be > 0")
	}
	if c.HTTP.HostIntervalMs < 0 {
		add("http.host_interval_ms must be >= 0")
	}
	if c.HTTP.BackoffInitialMs < 0 || c.HTTP.BackoffMaxMs < c.HTTP.BackoffInitialMs {
		add("http.backoff_max_ms must be >= http.backoff_initial_ms >= 0")
	}
	switch c.Fetcher.Mode {
	case FetcherModePlain, FetcherModeAuto, FetcherModeHeadless:
	default:
		add("fetcher.mode must be one of plain, auto, headless; got %q", c.Fetcher.Mode)
	}
	if c.Fetcher.Mode != FetcherModePlain && c.Headless.MaxParallel <= 0 {
		add("headless.max_parallel must be > 0 when headless fetching is enabled")
	}
	if c.Extractor.MaxTopics < 1 || c.Extractor.MaxTopics > maxTopics {
		add("extractor.max_topics must be between 1 and %d, got %d", maxTopics, c.Extractor.MaxTopics)
	}
	if c.Extractor.MinTitle <= 0 || c.Extractor.TitleMaxRunes <= 0 {
		add("extractor.min_title and extractor.title_max_runes must be > 0")
	}
	if c.Notify.PacingSeconds < 0 {
		add("notify.pacing_seconds must be >= 0")
	}
	if _, err := time.LoadLocation(c.Notify.Timezone); err != nil {
		add("notify.timezone %q: %v", c.Notify.Timezone, err)
	}
	c.validatePubSub(add)
	c.validateState(add)
	c.validateArchive(add)
	if c.Report.DailyHour < 0 || c.Report.DailyHour > 23 {
		add("report.daily_hour must be between 0 and 23")
	}
	c.validateForums(add)

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (c Config) validateState(add func(string, ...any)) {
	switch c.State.Backend {
	case StateBackendFile:
		if c.State.Path == "" {
			add("state.path must be set for the file backend")
		}
	case StateBackendPostgres:
		if c.State.DSN == "" {
			add("state.dsn must be set for the postgres backend")
		}
		if !tableNamePattern.MatchString(c.State.Table) {
			add("state.table %q is not a valid identifier", c.State.Table)
		}
	case StateBackendMemory:
	default:
		add("state.backend must be one of file, postgres, memory; got %q", c.State.Backend)
	}
}

func (c Config) validateArchive(add func(string, ...any)) {
	switch c.Archive.Backend {
	case ArchiveBackendNone, "":
	case ArchiveBackendLocal:
		if c.Archive.BaseDir == "" {
			add("archive.base_dir must be set for the local archive")
		}
	case ArchiveBackendGCS:
		if c.Archive.Bucket == "" {
			add("archive.bucket must be set for the gcs archive")
		}
	case ArchiveBackendMemory:
	default:
		add("archive.backend must be one of none, local, gcs, memory; got %q", c.Archive.Backend)
	}
}

func (c Config) validatePubSub(add func(string, ...any)) {
	switch c.PubSubBackend() {
	case PubSubBackendNone, PubSubBackendMemory:
	case PubSubBackendGCP:
		if c.PubSub.TopicName == "" {
			add("pubsub.topic_name must be set for the gcp backend")
		}
		if c.PubSub.ProjectID == "" {
			add("pubsub.project_id must be set when pubsub.topic_name is set")
		}
	default:
		add("pubsub.backend must be one of none, gcp, memory; got %q", c.PubSub.Backend)
	}
}

// PubSubBackend resolves the event publisher backend. Without an explicit
// backend, setting a topic name selects gcp.
func (c Config) PubSubBackend() string {
	if c.PubSub.Backend != "" {
		return c.PubSub.Backend
	}
	if c.PubSub.TopicName != "" {
		return PubSubBackendGCP
	}
	return PubSubBackendNone
}

func (c Config) validateForums(add func(string, ...any)) {
	if len(c.Forums) == 0 {
		add("at least one forum must be configured")
	}
	seen := make(map[string]struct{}, len(c.Forums))
	for i, f := range c.Forums {
		if f.ID == "" {
			add("forums[%d].id must be set", i)
		} else if _, dup := seen[f.ID]; dup {
			add("forums[%d].id %q is duplicated", i, f.ID)
		}
		seen[f.ID] = struct{}{}
		u, err := url.Parse(f.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("forums[%d].url %q must be an absolute http(s) URL", i, f.URL)
		}
	}
}

// Interval returns the pause between the end of one pass and the next.
func (c Config) Interval() time.Duration {
	return c.Watcher.Interval
}

// HTTPTimeout converts the HTTP timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// Pacing returns the minimum gap between two notifications.
func (c Config) Pacing() time.Duration {
	return time.Duration(c.Notify.PacingSeconds * float64(time.Second))
}

// Location resolves the notification timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Notify.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
