// Package config provides configuration loading and validation for the CLI and API server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"
	"github.com/titanous/json5"
)

// DefaultPath is the config file read when no --config flag is given.
const DefaultPath = "pubpipe.json5"

// Config is the full pipeline configuration.
// Values are layered: Defaults, then the JSON5 file, then <name>.local.json5,
// then environment variables.
type Config struct {
	StoreURL    string         `json:"store_url" validate:"required"`
	Keyword     string         `json:"keyword" validate:"required"`
	Pages       map[string]int `json:"pages" validate:"dive,keys,oneof=acm ieee sd,endkeys,min=1"` // max pages per source slug
	SourcesFile string         `json:"sources_file,omitempty"`                                    // overrides the built-in source definitions

	Browser   BrowserConfig   `json:"browser"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Export    ExportConfig    `json:"export"`
	Server    ServerConfig    `json:"server"`
	JWT       JWTSettings     `json:"jwt"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Verbose   bool            `json:"verbose,omitempty"`
}

// BrowserConfig controls the scraping browser.
type BrowserConfig struct {
	Headed    bool     `json:"headed,omitempty"` // show the browser window
	UserAgent string   `json:"user_agent,omitempty"`
	Timeout   Duration `json:"timeout" validate:"min=1000000000"`
}

// PipelineConfig controls a scrape run.
type PipelineConfig struct {
	Cooldown  Duration `json:"cooldown"` // pause between sources
	OutputDir string   `json:"output_dir" validate:"required"`
}

// ExportConfig controls where snapshots are written and optionally uploaded.
type ExportConfig struct {
	Path     string `json:"path" validate:"required"`
	S3Bucket string `json:"s3_bucket,omitempty"`
	S3Prefix string `json:"s3_prefix,omitempty"`
	S3Region string `json:"s3_region,omitempty"`
}

// ServerConfig controls the REST API.
type ServerConfig struct {
	Port              int      `json:"port" validate:"min=1,max=65535"`
	CacheTTL          Duration `json:"cache_ttl"`
	CacheSize         int      `json:"cache_size" validate:"min=1"`
	AdminPasswordHash string   `json:"admin_password_hash,omitempty"`
}

// JWTSettings is the file form of JWTConfig.
type JWTSettings struct {
	Secret          string `json:"secret,omitempty"`
	ExpirationHours int    `json:"expiration_hours" validate:"min=1"`
}

// RateLimitConfig bounds requests per client.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" validate:"min=1"`
	Burst             int `json:"burst" validate:"min=1"`
}

// TelemetryConfig controls metric export.
type TelemetryConfig struct {
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"` // host:port; empty disables export
	ServiceName  string `json:"service_name"`
}

// Defaults returns the configuration used for any value not set elsewhere.
func Defaults() Config {
	return Config{
		StoreURL: "sqlite://data/publications.db",
		Keyword:  "blockchain",
		Pages: map[string]int{
			"ieee": 50,
			"sd":   50,
			"acm":  50,
		},
		Browser: BrowserConfig{
			Timeout: Duration(30 * time.Second),
		},
		Pipeline: PipelineConfig{
			Cooldown:  Duration(5 * time.Second),
			OutputDir: "output",
		},
		Export: ExportConfig{
			Path:     "output/publications.json",
			S3Prefix: "exports",
		},
		Server: ServerConfig{
			Port:      5000,
			CacheTTL:  Duration(time.Minute),
			CacheSize: 256,
		},
		JWT: JWTSettings{
			ExpirationHours: 24,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 120,
			Burst:             20,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "pubpipe",
		},
	}
}

// LoadConfig reads path and its .local override, fills unset values from
// Defaults, applies environment overrides and validates the result.
// A missing file is not an error when path is DefaultPath.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	cfg, err := readLayered(path)
	if err != nil {
		if !(errors.Is(err, os.ErrNotExist) && path == DefaultPath) {
			return nil, err
		}
	}

	if err := mergo.Merge(&cfg, Defaults()); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}
	cfg.ApplyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// readLayered merges <name>.<ext> with <name>.local.<ext>, the latter winning.
func readLayered(path string) (Config, error) {
	var out Config
	found := false

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return out, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if len(data) > 0 {
		if err := json5.Unmarshal(data, &out); err != nil {
			return out, fmt.Errorf("failed to parse config JSON5 %s: %w", path, err)
		}
		found = true
	}

	localPath := LocalPath(path)
	localData, err := os.ReadFile(localPath)
	if err != nil && !os.IsNotExist(err) {
		return out, fmt.Errorf("failed to read config file %s: %w", localPath, err)
	}
	if len(localData) > 0 {
		var override Config
		if err := json5.Unmarshal(localData, &override); err != nil {
			return out, fmt.Errorf("failed to parse config JSON5 %s: %w", localPath, err)
		}
		if err := mergo.Merge(&out, override, mergo.WithOverride); err != nil {
			return out, fmt.Errorf("failed to merge %s: %w", localPath, err)
		}
		found = true
	}

	if !found {
		return out, fmt.Errorf("failed to read config file %s: %w", path, os.ErrNotExist)
	}
	return out, nil
}

// LocalPath returns the override file name for path: a.json5 -> a.local.json5.
func LocalPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}

// Environment variables that override file values.
const (
	EnvStoreURL          = "PUBPIPE_STORE_URL"
	EnvKeyword           = "PUBPIPE_KEYWORD"
	EnvAdminPasswordHash = "PUBPIPE_ADMIN_PASSWORD_HASH"
	EnvPort              = "PUBPIPE_PORT"
	EnvS3Bucket          = "PUBPIPE_S3_BUCKET"
	EnvOTLPEndpoint      = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvJWTSecret         = "JWT_SECRET"
	EnvJWTExpiration     = "JWT_EXPIRATION_HOURS"
)

// ApplyEnv overrides fields from the environment. Malformed numbers are ignored.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.StoreURL, EnvStoreURL)
	set(&c.Keyword, EnvKeyword)
	set(&c.Server.AdminPasswordHash, EnvAdminPasswordHash)
	set(&c.Export.S3Bucket, EnvS3Bucket)
	set(&c.Telemetry.OTLPEndpoint, EnvOTLPEndpoint)
	set(&c.JWT.Secret, EnvJWTSecret)

	if v := getenv(EnvPort); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.Port = n
		}
	}
	if v := getenv(EnvJWTExpiration); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.JWT.ExpirationHours = n
		}
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config error: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config error: %w", err)
	}

	if c.SourcesFile != "" {
		if _, err := os.Stat(c.SourcesFile); os.IsNotExist(err) {
			return fmt.Errorf("config error: sources file not found: %s", c.SourcesFile)
		}
	}
	return nil
}

// PagesFor returns the page limit for a source slug, or fallback when unset.
func (c *Config) PagesFor(slug string, fallback int) int {
	if n, ok := c.Pages[slug]; ok && n > 0 {
		return n
	}
	return fallback
}

// Duration is a time.Duration that reads from JSON as "5s" or as seconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(time.Duration(d).String())), nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		s = strconv.Quote(s[1 : len(s)-1])
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		parsed, err := time.ParseDuration(unquoted)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", unquoted, err)
		}
		*d = Duration(parsed)
		return nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %s", s)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}
