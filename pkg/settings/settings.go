package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cloudautopkg/runner/pkg/telemetry"
)

const (
	// DefaultCacheFile is the metadata cache document used when none is configured.
	DefaultCacheFile = "metadata_cache.json"

	// DefaultReportDir is the directory receiving per-run report plists.
	DefaultReportDir = "recipe_reports"

	// DefaultMaxConcurrency bounds the number of recipes processed at once.
	DefaultMaxConcurrency = 10

	// DefaultAutoPkgPath is the location of the autopkg executable.
	DefaultAutoPkgPath = "/usr/local/bin/autopkg"
)

// Cache backends understood by the store factory.
const (
	CacheBackendJSON   = "json"
	CacheBackendSQLite = "sqlite"
	CacheBackendS3     = "s3"
	CacheBackendGCS    = "gcs"
	CacheBackendRedis  = "redis"
)

// CacheConfig selects and configures the persistent metadata cache backend.
type CacheConfig struct {
	// Backend is one of json, sqlite, s3, gcs or redis.
	Backend string `yaml:"backend" validate:"omitempty,oneof=json sqlite s3 gcs redis"`

	// Bucket is the object storage bucket for the s3 and gcs backends.
	Bucket string `yaml:"bucket" validate:"required_if=Backend s3,required_if=Backend gcs"`

	// Key is the object key (s3, gcs) or hash key (redis) holding the cache.
	// Defaults to the base name of the cache file.
	Key string `yaml:"key"`

	// Region and Endpoint configure the S3 client.
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`

	// RedisAddr is the host:port of the redis server.
	RedisAddr     string `yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" validate:"gte=0"`
}

// Settings is the validated configuration of one runner process.
type Settings struct {
	CacheFile      string      `yaml:"cache_file" validate:"required"`
	Cache          CacheConfig `yaml:"cache"`
	LogFile        string      `yaml:"log_file"`
	MaxConcurrency int         `yaml:"max_concurrency" validate:"gte=1"`
	ReportDir      string      `yaml:"report_dir" validate:"required"`
	VerbosityLevel int         `yaml:"verbosity_level" validate:"gte=0"`

	// AutoPkgPath is the autopkg executable invoked for every phase.
	AutoPkgPath string `yaml:"autopkg_path" validate:"required"`

	// PrefsFile overrides the AutoPkg preferences plist location.
	PrefsFile string `yaml:"prefs_file"`

	// PolicyPaths are extra .rego/.json policy files or directories.
	PolicyPaths []string `yaml:"policy_paths"`

	// VerifyTrust gates every recipe on a successful verify-trust-info.
	VerifyTrust bool `yaml:"verify_trust"`

	Telemetry telemetry.Config `yaml:"telemetry"`
}

// ValidationError reports an invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid setting %s: %s", e.Field, e.Message)
}

// Default returns settings populated with the built-in defaults.
func Default() Settings {
	tc := telemetry.DefaultConfig()
	tc.Tracing.Enabled = false
	tc.Metrics.Enabled = false
	tc.Logging.EnableCaller = false
	tc.Logging.Output = "stderr"

	return Settings{
		CacheFile:      DefaultCacheFile,
		Cache:          CacheConfig{Backend: CacheBackendJSON},
		MaxConcurrency: DefaultMaxConcurrency,
		ReportDir:      DefaultReportDir,
		AutoPkgPath:    DefaultAutoPkgPath,
		Telemetry:      *tc,
	}
}

// Load reads a YAML settings file on top of the defaults and validates the result.
func Load(path string) (Settings, error) {
	cfg := Default()

	data, err := os.ReadFile(path) // #nosec G304 -- path is operator supplied
	if err != nil {
		return cfg, fmt.Errorf("failed to read settings file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field and returns a *ValidationError for the first
// invalid one.
func (s *Settings) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return s.Telemetry.Validate()
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	return &ValidationError{Field: fieldName(fe.Namespace()), Message: messageFor(fe)}
}

// VerbosityInt returns the verbosity level shifted by delta, never below zero.
func (s *Settings) VerbosityInt(delta int) int {
	level := s.VerbosityLevel + delta
	if level < 0 {
		return 0
	}
	return level
}

// VerbosityFlag renders the shifted verbosity as an autopkg flag ("-vv"),
// or the empty string at level zero.
func (s *Settings) VerbosityFlag(delta int) string {
	level := s.VerbosityInt(delta)
	if level == 0 {
		return ""
	}
	return "-" + strings.Repeat("v", level)
}

// CacheKey returns the key the cache document is stored under in remote
// backends: Cache.Key verbatim, or the base name of CacheFile when no key
// is configured.
func (s *Settings) CacheKey() string {
	if s.Cache.Key != "" {
		return s.Cache.Key
	}
	return filepath.Base(s.CacheFile)
}

func fieldName(ns string) string {
	// Drop the leading "Settings." and convert to the yaml spelling.
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gte":
		if fe.Param() == "1" {
			return "Must be a positive integer"
		}
		return "Must not be negative"
	case "required":
		return "Must not be empty"
	case "required_if":
		return fmt.Sprintf("Required when %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("Must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
