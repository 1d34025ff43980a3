package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds the runtime settings of the intake service. Values come from
// Default, then an optional TOML file, then environment variables.
type Config struct {
	Server        Server        `toml:"server"`
	Database      Database      `toml:"database"`
	Redis         Redis         `toml:"redis"`
	Session       Session       `toml:"session"`
	Storage       Storage       `toml:"storage"`
	Search        Search        `toml:"search"`
	Transcription Transcription `toml:"transcription"`
	FollowUps     FollowUps     `toml:"followups"`
	Workers       Workers       `toml:"workers"`
	Logging       Logging       `toml:"logging"`
	Forms         Forms         `toml:"forms"`
}

type Server struct {
	Addr       string `toml:"addr"`
	CORSOrigin string `toml:"cors_origin"`
}

type Database struct {
	URL string `toml:"url"`
	// FinalizeAttempts bounds the internal retries of a promotion transaction.
	FinalizeAttempts int `toml:"finalize_attempts"`
}

// Redis is optional; an empty URL keeps sessions in the database.
type Redis struct {
	URL string `toml:"url"`
}

type Session struct {
	TokenTTLSeconds         int `toml:"token_ttl_seconds"`
	IdleTimeoutSeconds      int `toml:"idle_timeout_seconds"`
	WarningAfterSeconds     int `toml:"warning_after_seconds"`
	AutosaveIntervalSeconds int `toml:"autosave_interval_seconds"`
	RetentionSeconds        int `toml:"retention_seconds"`
}

type Storage struct {
	Backend        string `toml:"backend"`
	MinIOEndpoint  string `toml:"minio_endpoint"`
	MinIOAccessKey string `toml:"minio_access_key"`
	MinIOSecretKey string `toml:"minio_secret_key"`
	MinIOBucket    string `toml:"minio_bucket"`
	MinIOUseSSL    bool   `toml:"minio_use_ssl"`
}

type Search struct {
	MeiliURL       string `toml:"meili_url"`
	MeiliMasterKey string `toml:"meili_master_key"`
}

type Transcription struct {
	BaseURL          string `toml:"base_url"`
	APIKey           string `toml:"api_key"`
	Model            string `toml:"model"`
	DefaultModelSize string `toml:"default_model_size"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
	RetryGraceSecs   int    `toml:"retry_grace_seconds"`
}

type FollowUps struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	RetryGraceSecs int    `toml:"retry_grace_seconds"`
}

type Workers struct {
	Count     int `toml:"count"`
	QueueSize int `toml:"queue_size"`
}

type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type Forms struct {
	Types         []string `toml:"types"`
	CaseStartDate string   `toml:"case_start_date"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{
			Addr:       ":8787",
			CORSOrigin: "*",
		},
		Database: Database{
			URL:              "sqlite://./data/intake.db",
			FinalizeAttempts: 5,
		},
		Session: Session{
			TokenTTLSeconds:         12 * 60 * 60,
			IdleTimeoutSeconds:      30 * 60,
			WarningAfterSeconds:     25 * 60,
			AutosaveIntervalSeconds: 2 * 60,
			RetentionSeconds:        24 * 60 * 60,
		},
		Storage: Storage{
			Backend:     "sql",
			MinIOBucket: "intake-audio",
		},
		Transcription: Transcription{
			Model:            "whisper-1",
			DefaultModelSize: "base",
			TimeoutSeconds:   120,
			RetryGraceSecs:   10 * 60,
		},
		FollowUps: FollowUps{
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 60,
			RetryGraceSecs: 10 * 60,
		},
		Workers: Workers{
			Count:     4,
			QueueSize: 1000,
		},
		Logging: Logging{
			Level:  "info",
			Format: "auto",
		},
		Forms: Forms{
			Types:         []string{"abbrev", "abbrev_gen", "full"},
			CaseStartDate: "2025-01-01",
		},
	}
}

// Load reads the optional TOML file at path (or $INTAKE_CONFIG when path is
// empty), applies environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("INTAKE_CONFIG")
	}
	if path != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return Config{}, fmt.Errorf("config file %s does not exist", path)
		case err != nil:
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = getenv("API_ADDR", c.Server.Addr)
	c.Server.CORSOrigin = getenv("INTAKE_CORS_ORIGIN", c.Server.CORSOrigin)
	c.Database.URL = getenv("DATABASE_URL", c.Database.URL)
	c.Database.FinalizeAttempts = getenvInt("INTAKE_FINALIZE_ATTEMPTS", c.Database.FinalizeAttempts)
	c.Redis.URL = getenv("REDIS_URL", c.Redis.URL)

	c.Session.TokenTTLSeconds = getenvInt("INTAKE_TOKEN_TTL_SECONDS", c.Session.TokenTTLSeconds)
	c.Session.IdleTimeoutSeconds = getenvInt("INTAKE_IDLE_TIMEOUT_SECONDS", c.Session.IdleTimeoutSeconds)
	c.Session.WarningAfterSeconds = getenvInt("INTAKE_WARNING_AFTER_SECONDS", c.Session.WarningAfterSeconds)
	c.Session.AutosaveIntervalSeconds = getenvInt("INTAKE_AUTOSAVE_INTERVAL_SECONDS", c.Session.AutosaveIntervalSeconds)
	c.Session.RetentionSeconds = getenvInt("INTAKE_SESSION_RETENTION_SECONDS", c.Session.RetentionSeconds)

	c.Storage.Backend = getenv("INTAKE_BLOB_BACKEND", c.Storage.Backend)
	c.Storage.MinIOEndpoint = getenv("MINIO_ENDPOINT", c.Storage.MinIOEndpoint)
	c.Storage.MinIOAccessKey = getenv("MINIO_ACCESS_KEY", c.Storage.MinIOAccessKey)
	c.Storage.MinIOSecretKey = getenv("MINIO_SECRET_KEY", c.Storage.MinIOSecretKey)
	c.Storage.MinIOBucket = getenv("MINIO_BUCKET", c.Storage.MinIOBucket)
	c.Storage.MinIOUseSSL = getenvBool("MINIO_USE_SSL", c.Storage.MinIOUseSSL)

	c.Search.MeiliURL = getenv("MEILI_URL", c.Search.MeiliURL)
	c.Search.MeiliMasterKey = getenv("MEILI_MASTER_KEY", c.Search.MeiliMasterKey)

	c.Transcription.BaseURL = getenv("STT_URL", c.Transcription.BaseURL)
	c.Transcription.APIKey = getenv("STT_API_KEY", c.Transcription.APIKey)
	c.Transcription.Model = getenv("STT_MODEL", c.Transcription.Model)
	c.Transcription.TimeoutSeconds = getenvInt("STT_TIMEOUT_SECONDS", c.Transcription.TimeoutSeconds)

	c.FollowUps.BaseURL = getenv("FOLLOWUP_API_URL", c.FollowUps.BaseURL)
	c.FollowUps.APIKey = getenv("FOLLOWUP_API_KEY", c.FollowUps.APIKey)
	c.FollowUps.Model = getenv("FOLLOWUP_MODEL", c.FollowUps.Model)
	c.FollowUps.TimeoutSeconds = getenvInt("FOLLOWUP_TIMEOUT_SECONDS", c.FollowUps.TimeoutSeconds)

	c.Workers.Count = getenvInt("INTAKE_WORKERS", c.Workers.Count)
	c.Logging.Level = getenv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getenv("LOG_FORMAT", c.Logging.Format)
}

func (c *Config) normalize() {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	types := c.Forms.Types[:0]
	for _, formType := range c.Forms.Types {
		if trimmed := strings.ToLower(strings.TrimSpace(formType)); trimmed != "" {
			types = append(types, trimmed)
		}
	}
	c.Forms.Types = types
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return errors.New("database.url must be set")
	}
	if c.Database.FinalizeAttempts < 1 {
		return errors.New("database.finalize_attempts must be positive")
	}
	if c.Session.TokenTTLSeconds <= 0 {
		return errors.New("session.token_ttl_seconds must be positive")
	}
	if c.Session.IdleTimeoutSeconds <= 0 || c.Session.AutosaveIntervalSeconds <= 0 {
		return errors.New("session idle timeout and autosave interval must be positive")
	}
	if c.Session.WarningAfterSeconds <= 0 || c.Session.WarningAfterSeconds >= c.Session.IdleTimeoutSeconds {
		return fmt.Errorf("session.warning_after_seconds must be between 1 and %d", c.Session.IdleTimeoutSeconds-1)
	}
	switch c.Storage.Backend {
	case "sql":
	case "minio":
		if c.Storage.MinIOEndpoint == "" || c.Storage.MinIOBucket == "" {
			return errors.New("storage.minio_endpoint and storage.minio_bucket are required for the minio backend")
		}
	default:
		return fmt.Errorf("storage.backend: unsupported value %q", c.Storage.Backend)
	}
	switch c.Logging.Format {
	case "auto", "json", "console":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	if len(c.Forms.Types) == 0 {
		return errors.New("forms.types must list at least one form type")
	}
	if _, err := time.Parse(time.DateOnly, c.Forms.CaseStartDate); err != nil {
		return fmt.Errorf("forms.case_start_date: %w", err)
	}
	if c.Workers.Count < 0 {
		return errors.New("workers.count must not be negative")
	}
	return nil
}

func (s Session) TokenTTL() time.Duration     { return seconds(s.TokenTTLSeconds) }
func (s Session) IdleTimeout() time.Duration  { return seconds(s.IdleTimeoutSeconds) }
func (s Session) WarningAfter() time.Duration { return seconds(s.WarningAfterSeconds) }
func (s Session) Retention() time.Duration    { return seconds(s.RetentionSeconds) }

func (s Session) AutosaveInterval() time.Duration { return seconds(s.AutosaveIntervalSeconds) }

func (t Transcription) Timeout() time.Duration    { return seconds(t.TimeoutSeconds) }
func (t Transcription) RetryGrace() time.Duration { return seconds(t.RetryGraceSecs) }
func (f FollowUps) RetryGrace() time.Duration     { return seconds(f.RetryGraceSecs) }

// StartDate returns the fixed start date stamped on every record.
func (f Forms) StartDate() time.Time {
	parsed, err := time.Parse(time.DateOnly, f.CaseStartDate)
	if err != nil {
		return time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return parsed
}

// HasFormType reports whether formType is configured.
func (f Forms) HasFormType(formType string) bool {
	for _, candidate := range f.Types {
		if candidate == formType {
			return true
		}
	}
	return false
}

func seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
