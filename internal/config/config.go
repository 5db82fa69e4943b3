// Package config loads inksync settings from defaults, a TOML file, the
// environment and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mschirtzinger/inksync/internal/archive"
	"github.com/mschirtzinger/inksync/internal/ocr"
	"github.com/mschirtzinger/inksync/internal/retry"
)

// EnvPrefix is prepended to every environment variable name, e.g.
// INKSYNC_NOTION_TOKEN for notion.token.
const EnvPrefix = "INKSYNC"

// Remote backends.
const (
	RemoteNotion = "notion"
	RemoteSQLite = "sqlite"
)

// Config is the effective configuration of one invocation.
type Config struct {
	BackupDir string `mapstructure:"backup_dir" toml:"backup_dir,omitempty"`
	Workers   int    `mapstructure:"workers" toml:"workers,omitempty"`
	DryRun    bool   `mapstructure:"dry_run" toml:"dry_run,omitempty"`
	LockFile  string `mapstructure:"lock_file" toml:"lock_file,omitempty"`

	Remote  RemoteConfig  `mapstructure:"remote" toml:"remote"`
	Notion  NotionConfig  `mapstructure:"notion" toml:"notion"`
	Mirror  MirrorConfig  `mapstructure:"mirror" toml:"mirror"`
	OCR     OCRConfig     `mapstructure:"ocr" toml:"ocr"`
	Render  RenderConfig  `mapstructure:"render" toml:"render"`
	Archive ArchiveConfig `mapstructure:"archive" toml:"archive"`
	Google  GoogleConfig  `mapstructure:"google" toml:"google"`
	Retry   RetryConfig   `mapstructure:"retry" toml:"retry"`
	Log     LogConfig     `mapstructure:"log" toml:"log"`
}

type RemoteConfig struct {
	Backend string `mapstructure:"backend" toml:"backend,omitempty"`
}

type NotionConfig struct {
	Token        string `mapstructure:"token" toml:"token,omitempty"`
	DatabaseID   string `mapstructure:"database_id" toml:"database_id,omitempty"`
	EnsureSchema bool   `mapstructure:"ensure_schema" toml:"ensure_schema,omitempty"`
}

type MirrorConfig struct {
	Path string `mapstructure:"path" toml:"path,omitempty"`
}

type OCRConfig struct {
	Backend         string `mapstructure:"backend" toml:"backend,omitempty"`
	VisionAPIKey    string `mapstructure:"vision_api_key" toml:"vision_api_key,omitempty"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key" toml:"anthropic_api_key,omitempty"`
	AnthropicModel  string `mapstructure:"anthropic_model" toml:"anthropic_model,omitempty"`
}

type RenderConfig struct {
	DPI      int    `mapstructure:"dpi" toml:"dpi,omitempty"`
	Pdftoppm string `mapstructure:"pdftoppm" toml:"pdftoppm,omitempty"`
}

type ArchiveConfig struct {
	Backend string `mapstructure:"backend" toml:"backend,omitempty"`
	Dir     string `mapstructure:"dir" toml:"dir,omitempty"`
}

type GoogleConfig struct {
	ClientID      string `mapstructure:"client_id" toml:"client_id,omitempty"`
	ClientSecret  string `mapstructure:"client_secret" toml:"client_secret,omitempty"`
	DriveFolderID string `mapstructure:"drive_folder_id" toml:"drive_folder_id,omitempty"`
	TokenFile     string `mapstructure:"token_file" toml:"token_file,omitempty"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" toml:"max_attempts,omitempty"`
	BaseDelay   time.Duration `mapstructure:"base_delay" toml:"base_delay,omitempty"`
	MaxDelay    time.Duration `mapstructure:"max_delay" toml:"max_delay,omitempty"`
	Jitter      float64       `mapstructure:"jitter" toml:"jitter,omitempty"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" toml:"level,omitempty"`
	File       string `mapstructure:"file" toml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" toml:"max_size_mb,omitempty"`
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups,omitempty"`
	MaxAgeDays int    `mapstructure:"max_age_days" toml:"max_age_days,omitempty"`
}

// legacyEnv maps keys to the environment names used before the INKSYNC_
// prefix existed. They are still honored.
var legacyEnv = map[string]string{
	"backup_dir":             "REMARKABLE_BACKUP_DIR",
	"notion.token":           "NOTION_TOKEN",
	"notion.database_id":     "NOTION_DATABASE_ID",
	"ocr.vision_api_key":     "GOOGLE_VISION_API_KEY",
	"ocr.anthropic_api_key":  "ANTHROPIC_API_KEY",
	"google.client_id":       "GOOGLE_OAUTH_CLIENT_ID",
	"google.client_secret":   "GOOGLE_OAUTH_CLIENT_SECRET",
	"google.drive_folder_id": "GOOGLE_DRIVE_FOLDER_ID",
	"log.level":              "LOG_LEVEL",
}

// Dir returns the per-user inksync directory.
func Dir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "inksync")
	}
	return ".inksync"
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.toml")
}

// New returns a viper instance with defaults and environment bindings.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		_ = v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
	}
	return v
}

func setDefaults(v *viper.Viper) {
	policy := retry.DefaultPolicy()
	dir := Dir()

	v.SetDefault("backup_dir", "")
	v.SetDefault("workers", 4)
	v.SetDefault("dry_run", false)
	v.SetDefault("lock_file", filepath.Join(dir, "inksync.lock"))
	v.SetDefault("remote.backend", RemoteNotion)
	v.SetDefault("notion.token", "")
	v.SetDefault("notion.database_id", "")
	v.SetDefault("notion.ensure_schema", false)
	v.SetDefault("mirror.path", filepath.Join(dir, "mirror.db"))
	v.SetDefault("ocr.backend", ocr.BackendVision)
	v.SetDefault("ocr.vision_api_key", "")
	v.SetDefault("ocr.anthropic_api_key", "")
	v.SetDefault("ocr.anthropic_model", ocr.DefaultAnthropicModel)
	v.SetDefault("render.dpi", 150)
	v.SetDefault("render.pdftoppm", "pdftoppm")
	v.SetDefault("archive.backend", archive.BackendDrive)
	v.SetDefault("archive.dir", filepath.Join(dir, "archive"))
	v.SetDefault("google.client_id", "")
	v.SetDefault("google.client_secret", "")
	v.SetDefault("google.drive_folder_id", "")
	v.SetDefault("google.token_file", filepath.Join(dir, "google-token.json"))
	v.SetDefault("retry.max_attempts", policy.MaxAttempts)
	v.SetDefault("retry.base_delay", policy.InitialDelay)
	v.SetDefault("retry.max_delay", policy.MaxDelay)
	v.SetDefault("retry.jitter", policy.JitterFactor)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// Load reads the config file at path, or the default path when empty, and
// returns the merged configuration. A missing default file is not an
// error; a missing explicit file is.
func Load(v *viper.Viper, path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
		if explicit || !missing {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// File returns the config file that was read, or "" if none was.
func File(v *viper.Viper) string {
	if _, err := os.Stat(v.ConfigFileUsed()); err != nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// Validate checks the settings a sync run needs. A dry run never renders,
// recognizes or archives, so those settings are only checked otherwise.
func (c *Config) Validate() error {
	var errs []error

	if c.BackupDir == "" {
		errs = append(errs, fmt.Errorf("backup_dir is required (or set REMARKABLE_BACKUP_DIR)"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	errs = append(errs, c.ValidateRemote())
	if !c.DryRun {
		errs = append(errs, c.ValidateOCR(), c.ValidateArchive())
	}

	if c.Render.DPI < 1 {
		errs = append(errs, fmt.Errorf("render.dpi must be positive, got %d", c.Render.DPI))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		errs = append(errs, fmt.Errorf("retry.jitter must be between 0 and 1, got %g", c.Retry.Jitter))
	}
	return errors.Join(errs...)
}

// ValidateRemote checks the remote backend settings.
func (c *Config) ValidateRemote() error {
	switch c.Remote.Backend {
	case RemoteNotion:
		var errs []error
		if c.Notion.Token == "" {
			errs = append(errs, fmt.Errorf("notion.token is required (or set NOTION_TOKEN)"))
		}
		if c.Notion.DatabaseID == "" {
			errs = append(errs, fmt.Errorf("notion.database_id is required (or set NOTION_DATABASE_ID)"))
		}
		return errors.Join(errs...)
	case RemoteSQLite:
		if c.Mirror.Path == "" {
			return fmt.Errorf("mirror.path is required for the sqlite backend")
		}
		return nil
	default:
		return fmt.Errorf("remote.backend must be %q or %q, got %q", RemoteNotion, RemoteSQLite, c.Remote.Backend)
	}
}

// ValidateOCR checks the text recognizer settings.
func (c *Config) ValidateOCR() error {
	switch c.OCR.Backend {
	case ocr.BackendVision:
		if c.OCR.VisionAPIKey == "" {
			return fmt.Errorf("ocr.vision_api_key is required (or set GOOGLE_VISION_API_KEY)")
		}
	case ocr.BackendAnthropic:
		if c.OCR.AnthropicAPIKey == "" {
			return fmt.Errorf("ocr.anthropic_api_key is required (or set ANTHROPIC_API_KEY)")
		}
	default:
		return fmt.Errorf("ocr.backend must be %q or %q, got %q", ocr.BackendVision, ocr.BackendAnthropic, c.OCR.Backend)
	}
	return nil
}

// ValidateArchive checks the archival store settings.
func (c *Config) ValidateArchive() error {
	switch c.Archive.Backend {
	case archive.BackendDrive:
		if c.Google.ClientID == "" || c.Google.ClientSecret == "" {
			return fmt.Errorf("google.client_id and google.client_secret are required for the drive archive")
		}
	case archive.BackendLocal:
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir is required for the local archive")
		}
	case archive.BackendNone:
	default:
		return fmt.Errorf("archive.backend must be drive, local or none, got %q", c.Archive.Backend)
	}
	return nil
}

// Policy returns the retry policy described by the retry settings.
func (c *Config) Policy() retry.Policy {
	p := retry.DefaultPolicy()
	if c.Retry.MaxAttempts > 0 {
		p.MaxAttempts = c.Retry.MaxAttempts
	}
	if c.Retry.BaseDelay > 0 {
		p.InitialDelay = c.Retry.BaseDelay
	}
	if c.Retry.MaxDelay > 0 {
		p.MaxDelay = c.Retry.MaxDelay
	}
	p.JitterFactor = c.Retry.Jitter
	return p
}

// OCRSettings returns the recognizer settings.
func (c *Config) OCRSettings() ocr.Config {
	return ocr.Config{
		Backend:         c.OCR.Backend,
		VisionAPIKey:    c.OCR.VisionAPIKey,
		AnthropicAPIKey: c.OCR.AnthropicAPIKey,
		AnthropicModel:  c.OCR.AnthropicModel,
	}
}

// ArchiveSettings returns the archival store settings.
func (c *Config) ArchiveSettings() archive.Config {
	return archive.Config{
		Backend:       c.Archive.Backend,
		Dir:           c.Archive.Dir,
		DriveFolderID: c.Google.DriveFolderID,
	}
}

// Masked returns a copy with secrets shortened for display.
func (c *Config) Masked() Config {
	out := *c
	out.Notion.Token = Mask(c.Notion.Token)
	out.OCR.VisionAPIKey = Mask(c.OCR.VisionAPIKey)
	out.OCR.AnthropicAPIKey = Mask(c.OCR.AnthropicAPIKey)
	out.Google.ClientSecret = Mask(c.Google.ClientSecret)
	return out
}

// Mask hides all but the last four characters of a secret.
func Mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "****"
	default:
		return "****" + s[len(s)-4:]
	}
}
