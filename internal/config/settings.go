package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Auth type constants
const (
	AuthTypeNone   = "none"
	AuthTypeBasic  = "basic"
	AuthTypeAPIKey = "apikey"
)

// Job dispatcher constants
const (
	DispatcherLocal = "local"
	DispatcherNATS  = "nats"
)

// EnvPrefix prefixes every environment variable read by the server.
const EnvPrefix = "TENDER_KB"

// AuthSettings configuration for authentication
type AuthSettings struct {
	Type    string            `mapstructure:"type"` // AuthTypeNone, AuthTypeBasic, or AuthTypeAPIKey
	Basic   BasicAuthSettings `mapstructure:"basic"`
	APIKeys []string          `mapstructure:"api_keys"`
}

// BasicAuthSettings configuration for basic auth
type BasicAuthSettings struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// StorageSettings locates the storage root and the relational database
type StorageSettings struct {
	Root     string `mapstructure:"root"`
	Database string `mapstructure:"database"` // defaults to {root}/kb.db
}

// RetrievalSettings holds scoring weights and evidence term extraction settings
type RetrievalSettings struct {
	TitleWeight           int      `mapstructure:"title_weight"`
	ContentWeight         int      `mapstructure:"content_weight"`
	EvidenceTitleWeight   int      `mapstructure:"evidence_title_weight"`
	EvidenceContentWeight int      `mapstructure:"evidence_content_weight"`
	FullText              bool     `mapstructure:"full_text"`
	FullTextWeight        float64  `mapstructure:"full_text_weight"`
	AcronymPatterns       []string `mapstructure:"acronym_patterns"`
}

// ExtractSettings configures the requirement extractor
type ExtractSettings struct {
	LinesPerPage int `mapstructure:"lines_per_page"`
}

// ReportSettings configures report templates
type ReportSettings struct {
	TemplatesDir string `mapstructure:"templates_dir"`
}

// JobSettings configures background job dispatch
type JobSettings struct {
	Dispatcher string `mapstructure:"dispatcher"` // DispatcherLocal or DispatcherNATS
	NATSURL    string `mapstructure:"nats_url"`
	Subject    string `mapstructure:"subject"`
}

// IngestSettings configures ingestion
type IngestSettings struct {
	Concurrency int `mapstructure:"concurrency"`
	// MaxPartMB caps the uncompressed size of one .docx part.
	MaxPartMB   int `mapstructure:"max_part_mb"`
}

// SimilaritySettings configures duplicate detection
type SimilaritySettings struct {
	Threshold float64 `mapstructure:"threshold"`
	Window    int     `mapstructure:"window"`
	Overlap   int     `mapstructure:"overlap"`
}

// RateLimitSettings limits HTTP requests per second; zero disables limiting
type RateLimitSettings struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Settings application settings
type Settings struct {
	Transport  string             `mapstructure:"transport"`
	Host       string             `mapstructure:"host"`
	Port       int                `mapstructure:"port"`
	LogLevel   string             `mapstructure:"log_level"`
	Production bool               `mapstructure:"production"` // hide internal error details from callers
	Auth       AuthSettings       `mapstructure:"auth"`
	Storage    StorageSettings    `mapstructure:"storage"`
	Retrieval  RetrievalSettings  `mapstructure:"retrieval"`
	Extract    ExtractSettings    `mapstructure:"extract"`
	Reports    ReportSettings     `mapstructure:"reports"`
	Jobs       JobSettings        `mapstructure:"jobs"`
	Ingest     IngestSettings     `mapstructure:"ingest"`
	Similarity SimilaritySettings `mapstructure:"similarity"`
	RateLimit  RateLimitSettings  `mapstructure:"rate_limit"`
}

// LoadSettings loads settings from environment variables and optional .env file
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil)
}

// flagBindings maps setting keys to CLI flag names.
var flagBindings = map[string]string{
	"transport":                "transport",
	"host":                     "host",
	"port":                     "port",
	"log_level":                "log-level",
	"production":               "production",
	"auth.type":                "auth-type",
	"auth.basic.username":      "auth-basic-username",
	"auth.basic.password":      "auth-basic-password",
	"auth.api_keys":            "auth-api-keys",
	"storage.root":             "storage-root",
	"storage.database":         "database",
	"retrieval.full_text":      "full-text",
	"extract.lines_per_page":   "lines-per-page",
	"reports.templates_dir":    "templates-dir",
	"jobs.dispatcher":          "jobs-dispatcher",
	"jobs.nats_url":            "nats-url",
	"ingest.concurrency":       "ingest-concurrency",
	"similarity.threshold":     "similarity-threshold",
	"rate_limit.rps":           "rate-limit-rps",
	"rate_limit.burst":         "rate-limit-burst",
	"retrieval.title_weight":   "title-weight",
	"retrieval.content_weight": "content-weight",
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > defaults.
// If flags is nil, only env vars and defaults are used.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	// Default values
	v.SetDefault("transport", "stdio")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("production", false)
	v.SetDefault("auth.type", AuthTypeNone)

	v.SetDefault("storage.root", defaultStorageRoot())
	v.SetDefault("storage.database", "")

	v.SetDefault("retrieval.title_weight", 10)
	v.SetDefault("retrieval.content_weight", 1)
	v.SetDefault("retrieval.evidence_title_weight", 5)
	v.SetDefault("retrieval.evidence_content_weight", 1)
	v.SetDefault("retrieval.full_text", true)
	v.SetDefault("retrieval.full_text_weight", 1.0)
	v.SetDefault("retrieval.acronym_patterns", []string{})

	v.SetDefault("extract.lines_per_page", 45)
	v.SetDefault("reports.templates_dir", "templates")

	v.SetDefault("jobs.dispatcher", DispatcherLocal)
	v.SetDefault("jobs.nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("jobs.subject", "tenderkb.jobs")

	v.SetDefault("ingest.concurrency", 4)
	v.SetDefault("ingest.max_part_mb", 64)

	v.SetDefault("similarity.threshold", 0.85)
	v.SetDefault("similarity.window", 300)
	v.SetDefault("similarity.overlap", 50)

	v.SetDefault("rate_limit.rps", 0.0)
	v.SetDefault("rate_limit.burst", 20)

	// Environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind specific env vars for keys without defaults
	_ = v.BindEnv("auth.basic.username", EnvPrefix+"_AUTH_BASIC_USERNAME")
	_ = v.BindEnv("auth.basic.password", EnvPrefix+"_AUTH_BASIC_PASSWORD")
	_ = v.BindEnv("auth.api_keys", EnvPrefix+"_AUTH_API_KEYS")

	// Bind CLI flags if provided (highest priority)
	if flags != nil {
		for key, name := range flagBindings {
			if f := flags.Lookup(name); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	// Helper to look for .env file
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if .env doesn't exist

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	settings.Auth.APIKeys = splitList(settings.Auth.APIKeys, os.Getenv(EnvPrefix+"_AUTH_API_KEYS"))
	settings.Retrieval.AcronymPatterns = splitList(settings.Retrieval.AcronymPatterns, os.Getenv(EnvPrefix+"_RETRIEVAL_ACRONYM_PATTERNS"))

	settings.Storage.Root = expandHomeDir(settings.Storage.Root)
	settings.Storage.Database = expandHomeDir(settings.Storage.Database)
	if settings.Storage.Database == "" && settings.Storage.Root != "" {
		settings.Storage.Database = filepath.Join(settings.Storage.Root, "kb.db")
	}
	settings.Reports.TemplatesDir = expandHomeDir(settings.Reports.TemplatesDir)

	return &settings, nil
}

// splitList handles lists given as one comma-separated env value, then trims
// and drops empty entries.
func splitList(values []string, env string) []string {
	if env != "" {
		if len(values) == 0 || (len(values) == 1 && strings.Contains(values[0], ",")) {
			values = strings.Split(env, ",")
		}
	}
	for i := range values {
		values[i] = strings.TrimSpace(values[i])
	}
	return filterEmptyStrings(values)
}

// defaultStorageRoot returns the default storage root
func defaultStorageRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tender-kb"
	}
	return filepath.Join(home, ".tender-kb")
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	return path
}

// filterEmptyStrings removes empty strings from a slice
func filterEmptyStrings(s []string) []string {
	var result []string
	for _, str := range s {
		if str != "" {
			result = append(result, str)
		}
	}
	return result
}

// ParseLogLevel maps a level name to a slog level.
func ParseLogLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log-level %q", level)
	}
	return l, nil
}

// ValidateSettings checks for conflicting configurations.
// Returns an error if the settings contain mutually exclusive or incomplete auth config.
func ValidateSettings(s *Settings) error {
	// Validate transport type
	switch s.Transport {
	case "stdio", "sse":
		// valid
	default:
		return errors.New("transport must be 'stdio' or 'sse', got: " + s.Transport)
	}

	if _, err := ParseLogLevel(s.LogLevel); err != nil {
		return err
	}

	hasBasicCreds := s.Auth.Basic.Username != "" || s.Auth.Basic.Password != ""
	hasAPIKeys := len(s.Auth.APIKeys) > 0

	switch s.Auth.Type {
	case AuthTypeNone, "":
		if hasBasicCreds || hasAPIKeys {
			return errors.New("auth-type 'none' is incompatible with auth credentials")
		}
	case AuthTypeBasic:
		if hasAPIKeys {
			return errors.New("auth-type 'basic' is mutually exclusive with auth-api-keys")
		}
		if s.Auth.Basic.Username == "" || s.Auth.Basic.Password == "" {
			return errors.New("auth-type 'basic' requires both username and password")
		}
	case AuthTypeAPIKey:
		if hasBasicCreds {
			return errors.New("auth-type 'apikey' is mutually exclusive with basic auth credentials")
		}
		if !hasAPIKeys {
			return errors.New("auth-type 'apikey' requires at least one API key")
		}
	default:
		return errors.New("unknown auth-type: " + s.Auth.Type)
	}

	if s.Storage.Root == "" {
		return errors.New("storage-root cannot be empty")
	}

	if err := validateRetrievalSettings(&s.Retrieval); err != nil {
		return err
	}

	if s.Extract.LinesPerPage <= 0 {
		return errors.New("lines-per-page must be positive")
	}

	if err := validateJobSettings(&s.Jobs); err != nil {
		return err
	}

	if s.Ingest.Concurrency <= 0 {
		return errors.New("ingest-concurrency must be positive")
	}
	if s.Ingest.MaxPartMB < 0 {
		return errors.New("ingest max_part_mb cannot be negative")
	}

	if s.Similarity.Threshold <= 0 || s.Similarity.Threshold > 1 {
		return errors.New("similarity-threshold must be in (0, 1]")
	}
	if s.Similarity.Window <= 0 || s.Similarity.Overlap < 0 || s.Similarity.Overlap >= s.Similarity.Window {
		return errors.New("similarity window must be positive and larger than the overlap")
	}

	if s.RateLimit.RPS < 0 {
		return errors.New("rate-limit-rps cannot be negative")
	}
	if s.RateLimit.RPS > 0 && s.RateLimit.Burst <= 0 {
		return errors.New("rate-limit-burst must be positive when rate limiting is enabled")
	}

	return nil
}

// validateRetrievalSettings validates scoring weights
func validateRetrievalSettings(r *RetrievalSettings) error {
	if r.TitleWeight < 0 || r.ContentWeight < 0 || r.EvidenceTitleWeight < 0 || r.EvidenceContentWeight < 0 {
		return errors.New("retrieval weights cannot be negative")
	}
	if r.FullTextWeight < 0 {
		return errors.New("full-text weight cannot be negative")
	}
	return nil
}

// validateJobSettings validates the job dispatcher configuration
func validateJobSettings(j *JobSettings) error {
	switch j.Dispatcher {
	case DispatcherLocal, "":
		return nil
	case DispatcherNATS:
		if j.NATSURL == "" {
			return errors.New("jobs-dispatcher 'nats' requires nats-url")
		}
		if j.Subject == "" {
			return errors.New("jobs-dispatcher 'nats' requires a subject")
		}
		return nil
	default:
		return errors.New("jobs-dispatcher must be 'local' or 'nats', got: " + j.Dispatcher)
	}
}
