// Package config provides configuration loading and validation for the varhub server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/varhub-io/varhub/internal/validators"
)

// EnvPrefix is the prefix for environment variable overrides
const EnvPrefix = "VARHUB"

const (
	// SourceTypeHTTP is the type for source data fetched from HTTP endpoints
	SourceTypeHTTP = "http"

	// SourceTypeFile is the type for source data read from local files
	SourceTypeFile = "file"
)

const (
	// FormatJSON is a JSON array-of-records payload
	FormatJSON = "json"

	// FormatTSV is a tab-separated payload with a header row
	FormatTSV = "tsv"
)

// Status persistence backends
const (
	// StatusBackendFile persists source status as JSON files under the data directory
	StatusBackendFile = "file"

	// StatusBackendSQLite persists source status in a local SQLite database
	StatusBackendSQLite = "sqlite"
)

// Defaults applied when the scheduler section omits values
const (
	DefaultMaxConcurrent  = 4
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 2 * time.Second
	DefaultMaxBackoff     = 1 * time.Minute
	DefaultFetchTimeout   = 30 * time.Second
)

// scheduleParser accepts standard five-field cron specs plus the @every form.
var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// ServerName is the name/identifier for this varhub instance
	// Defaults to "default" if not specified
	ServerName string `yaml:"serverName,omitempty"`

	// DataDir is the directory for synced data and status files
	// Defaults to "./data" if not specified
	DataDir string `yaml:"dataDir,omitempty"`

	Sources   []SourceConfig   `yaml:"sources"`
	Scheduler *SchedulerConfig `yaml:"scheduler,omitempty"`
	Status    *StatusConfig    `yaml:"status,omitempty"`
}

// SourceConfig defines a single external data source
type SourceConfig struct {
	// Name is the identifier for this source
	Name string `yaml:"name"`

	// Priority is the source's position in the conflict-resolution order.
	// Lower values win. Priorities must be unique across all sources so the
	// order is total and merges are deterministic.
	Priority int `yaml:"priority"`

	// Format specifies the payload format (json or tsv)
	Format string `yaml:"format"`

	// Profile selects the normalizer that maps this source's native records
	// onto canonical variant fields (e.g. "clinvar", "civic", "generic")
	Profile string `yaml:"profile"`

	// Type-specific configurations (only one should be set)
	HTTP *HTTPConfig `yaml:"http,omitempty"`
	File *FileConfig `yaml:"file,omitempty"`

	// Per-source refresh policy. Omitting it makes the source manual-only.
	RefreshPolicy *RefreshPolicyConfig `yaml:"refreshPolicy,omitempty"`
}

// HTTPConfig defines HTTP source settings
type HTTPConfig struct {
	// Endpoint is the URL the source payload is fetched from
	Endpoint string `yaml:"endpoint"`

	// VersionHeader optionally names a response header carrying the
	// upstream release version (e.g. "X-Release-Date")
	VersionHeader string `yaml:"versionHeader,omitempty"`
}

// FileConfig defines local file source settings
type FileConfig struct {
	// Path is the path to the payload file on the local filesystem
	Path string `yaml:"path"`
}

// RefreshPolicyConfig defines when a source is refreshed
type RefreshPolicyConfig struct {
	// Interval is a duration between refreshes (e.g. "30m", "6h").
	// Mutually exclusive with Schedule.
	Interval string `yaml:"interval,omitempty"`

	// Schedule is a cron spec or @every expression.
	// Mutually exclusive with Interval.
	Schedule string `yaml:"schedule,omitempty"`
}

// SchedulerConfig bounds the refresh engine
type SchedulerConfig struct {
	// MaxConcurrent caps the number of refresh pipelines in flight at once
	MaxConcurrent int `yaml:"maxConcurrent,omitempty"`

	// MaxAttempts is the fetch retry ceiling before a source is marked failed
	MaxAttempts int `yaml:"maxAttempts,omitempty"`

	// InitialBackoff is the first retry delay (e.g. "2s")
	InitialBackoff string `yaml:"initialBackoff,omitempty"`

	// MaxBackoff caps the exponential retry delay (e.g. "1m")
	MaxBackoff string `yaml:"maxBackoff,omitempty"`

	// FetchTimeout bounds a single fetch call (e.g. "30s")
	FetchTimeout string `yaml:"fetchTimeout,omitempty"`
}

// StatusConfig selects the status persistence backend
type StatusConfig struct {
	// Backend is "file" or "sqlite". Defaults to "file".
	Backend string `yaml:"backend,omitempty"`

	// Path overrides the backend location. For sqlite this is the database
	// file, for file the status directory. Defaults derive from DataDir.
	Path string `yaml:"path,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetServerName returns the server name, using "default" if not specified
func (c *Config) GetServerName() string {
	if c.ServerName == "" {
		return "default"
	}
	return c.ServerName
}

// GetDataDir returns the data directory, using "./data" if not specified
func (c *Config) GetDataDir() string {
	if c.DataDir == "" {
		return "./data"
	}
	return c.DataDir
}

// GetStatusBackend returns the configured status backend, defaulting to file
func (c *Config) GetStatusBackend() string {
	if c.Status == nil || c.Status.Backend == "" {
		return StatusBackendFile
	}
	return c.Status.Backend
}

// GetStatusPath returns the status persistence location
func (c *Config) GetStatusPath() string {
	if c.Status != nil && c.Status.Path != "" {
		return c.Status.Path
	}
	if c.GetStatusBackend() == StatusBackendSQLite {
		return filepath.Join(c.GetDataDir(), "status.db")
	}
	return filepath.Join(c.GetDataDir(), "status")
}

// SchedulerSettings resolves the scheduler section into concrete values
type SchedulerSettings struct {
	MaxConcurrent  int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	FetchTimeout   time.Duration
}

// GetSchedulerSettings returns the scheduler settings with defaults applied.
// Validation has already checked that the configured durations parse.
func (c *Config) GetSchedulerSettings() SchedulerSettings {
	s := SchedulerSettings{
		MaxConcurrent:  DefaultMaxConcurrent,
		MaxAttempts:    DefaultMaxAttempts,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		FetchTimeout:   DefaultFetchTimeout,
	}
	if c.Scheduler == nil {
		return s
	}
	if c.Scheduler.MaxConcurrent > 0 {
		s.MaxConcurrent = c.Scheduler.MaxConcurrent
	}
	if c.Scheduler.MaxAttempts > 0 {
		s.MaxAttempts = c.Scheduler.MaxAttempts
	}
	if d, err := time.ParseDuration(c.Scheduler.InitialBackoff); err == nil && d > 0 {
		s.InitialBackoff = d
	}
	if d, err := time.ParseDuration(c.Scheduler.MaxBackoff); err == nil && d > 0 {
		s.MaxBackoff = d
	}
	if d, err := time.ParseDuration(c.Scheduler.FetchTimeout); err == nil && d > 0 {
		s.FetchTimeout = d
	}
	return s
}

// Validate performs validation on the configuration. LoadConfig calls it
// eagerly; it is exported so embedded example configs can be checked in tests.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}

	sourceNames := make(map[string]bool)
	priorities := make(map[int]string)
	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("source[%d]: name is required", i)
		}

		if sourceNames[src.Name] {
			return fmt.Errorf("source[%d]: duplicate source name '%s'", i, src.Name)
		}
		sourceNames[src.Name] = true

		// Priorities must form a total order or merges stop being deterministic
		if other, taken := priorities[src.Priority]; taken {
			return fmt.Errorf("source[%d] (%s): priority %d already used by '%s'",
				i, src.Name, src.Priority, other)
		}
		priorities[src.Priority] = src.Name

		if err := c.validateSourceConfig(&src, i); err != nil {
			return err
		}
	}

	if err := validateSchedulerConfig(c.Scheduler); err != nil {
		return err
	}

	return validateStatusConfig(c.Status)
}

// validateSourceConfig validates a single source configuration
func (*Config) validateSourceConfig(src *SourceConfig, index int) error {
	prefix := fmt.Sprintf("source[%d] (%s)", index, src.Name)

	if _, err := validators.ValidateSourceName(src.Name); err != nil {
		return fmt.Errorf("%s: %w", prefix, err)
	}

	if src.Priority <= 0 {
		return fmt.Errorf("%s: priority must be a positive integer", prefix)
	}

	if src.Format != FormatJSON && src.Format != FormatTSV {
		return fmt.Errorf("%s: format must be %s or %s, got %q", prefix, FormatJSON, FormatTSV, src.Format)
	}

	if src.Profile == "" {
		return fmt.Errorf("%s: profile is required", prefix)
	}

	if err := validateSourceTypeCount(src, prefix); err != nil {
		return err
	}

	if err := validateSourceSpecificConfig(src, prefix); err != nil {
		return err
	}

	return validateRefreshPolicy(src.RefreshPolicy, prefix)
}

// validateSourceTypeCount ensures exactly one source type is configured
func validateSourceTypeCount(src *SourceConfig, prefix string) error {
	configCount := 0
	if src.HTTP != nil {
		configCount++
	}
	if src.File != nil {
		configCount++
	}

	if configCount == 0 {
		return fmt.Errorf("%s: one of http or file configuration must be specified", prefix)
	}
	if configCount > 1 {
		return fmt.Errorf("%s: only one of http or file configuration may be specified", prefix)
	}

	return nil
}

// validateSourceSpecificConfig validates the configuration for each source type
func validateSourceSpecificConfig(src *SourceConfig, prefix string) error {
	if src.HTTP != nil && src.HTTP.Endpoint == "" {
		return fmt.Errorf("%s: http.endpoint is required", prefix)
	}
	if src.File != nil && src.File.Path == "" {
		return fmt.Errorf("%s: file.path is required", prefix)
	}
	return nil
}

// validateRefreshPolicy validates the refresh policy configuration.
// A nil policy is valid: the source is manual-only.
func validateRefreshPolicy(policy *RefreshPolicyConfig, prefix string) error {
	if policy == nil {
		return nil
	}

	if policy.Interval != "" && policy.Schedule != "" {
		return fmt.Errorf("%s: refreshPolicy.interval and refreshPolicy.schedule are mutually exclusive", prefix)
	}

	if policy.Interval != "" {
		if _, err := time.ParseDuration(policy.Interval); err != nil {
			return fmt.Errorf("%s: refreshPolicy.interval must be a valid duration (e.g. '30m', '1h'): %w", prefix, err)
		}
		return nil
	}

	if policy.Schedule != "" {
		if _, err := scheduleParser.Parse(policy.Schedule); err != nil {
			return fmt.Errorf("%s: refreshPolicy.schedule must be a valid cron spec or @every expression: %w", prefix, err)
		}
		return nil
	}

	return fmt.Errorf("%s: refreshPolicy requires interval or schedule", prefix)
}

// validateSchedulerConfig validates the scheduler section
func validateSchedulerConfig(sched *SchedulerConfig) error {
	if sched == nil {
		return nil
	}
	if sched.MaxConcurrent < 0 {
		return fmt.Errorf("scheduler.maxConcurrent cannot be negative")
	}
	if sched.MaxAttempts < 0 {
		return fmt.Errorf("scheduler.maxAttempts cannot be negative")
	}
	for name, val := range map[string]string{
		"scheduler.initialBackoff": sched.InitialBackoff,
		"scheduler.maxBackoff":     sched.MaxBackoff,
		"scheduler.fetchTimeout":   sched.FetchTimeout,
	} {
		if val == "" {
			continue
		}
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("%s must be a valid duration: %w", name, err)
		}
	}
	return nil
}

// validateStatusConfig validates the status section
func validateStatusConfig(status *StatusConfig) error {
	if status == nil || status.Backend == "" {
		return nil
	}
	if status.Backend != StatusBackendFile && status.Backend != StatusBackendSQLite {
		return fmt.Errorf("status.backend must be %s or %s, got %q",
			StatusBackendFile, StatusBackendSQLite, status.Backend)
	}
	return nil
}

// GetType returns the inferred type of the source config based on which field is present
func (s *SourceConfig) GetType() string {
	if s.HTTP != nil {
		return SourceTypeHTTP
	}
	if s.File != nil {
		return SourceTypeFile
	}
	return ""
}

// IsManualOnly reports whether the source refreshes only on explicit trigger
func (s *SourceConfig) IsManualOnly() bool {
	return s.RefreshPolicy == nil
}

// NextRefresh computes when the source should next refresh after the given
// time, according to its policy. Manual-only sources return ok=false.
func (s *SourceConfig) NextRefresh(after time.Time) (time.Time, bool) {
	if s.RefreshPolicy == nil {
		return time.Time{}, false
	}
	if s.RefreshPolicy.Interval != "" {
		d, err := time.ParseDuration(s.RefreshPolicy.Interval)
		if err != nil {
			return time.Time{}, false
		}
		return after.Add(d), true
	}
	sched, err := scheduleParser.Parse(s.RefreshPolicy.Schedule)
	if err != nil {
		return time.Time{}, false
	}
	return sched.Next(after), true
}
