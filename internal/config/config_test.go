package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable Load might read so the host environment
// does not leak into tests.
func clearEnv(t *testing.T) {
	t.Helper()
	for key, legacy := range legacyEnv {
		t.Setenv(legacy, "")
		os.Unsetenv(legacy)
		name := EnvPrefix + "_" + upperKey(key)
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
	for _, name := range []string{"INKSYNC_WORKERS", "INKSYNC_REMOTE_BACKEND", "INKSYNC_OCR_BACKEND", "INKSYNC_ARCHIVE_BACKEND"} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func upperKey(key string) string {
	out := []byte(key)
	for i, c := range out {
		switch {
		case c == '.':
			out[i] = '_'
		case c >= 'a' && c <= 'z':
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}

func emptyFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	return path
}

func validConfig() *Config {
	return &Config{
		BackupDir: "/backup",
		Workers:   4,
		Remote:    RemoteConfig{Backend: RemoteNotion},
		Notion:    NotionConfig{Token: "secret_abcdefgh1234", DatabaseID: "db"},
		OCR:       OCRConfig{Backend: "vision", VisionAPIKey: "key"},
		Render:    RenderConfig{DPI: 150},
		Archive:   ArchiveConfig{Backend: "none"},
		Retry:     RetryConfig{MaxAttempts: 4, Jitter: 0.3},
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(New(), filepath.Join(t.TempDir(), "missing", "..", "config.toml"))
	require.Error(t, err, "explicit path must exist")
	assert.Nil(t, cfg)

	cfg, err = Load(New(), emptyFile(t))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, RemoteNotion, cfg.Remote.Backend)
	assert.Equal(t, "vision", cfg.OCR.Backend)
	assert.Equal(t, 150, cfg.Render.DPI)
	assert.Equal(t, "drive", cfg.Archive.Backend)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 20*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
backup_dir = "/from/file"
workers = 2

[notion]
token = "file-token"
database_id = "file-db"

[retry]
base_delay = "1s"
`), 0o600))

	t.Setenv("NOTION_TOKEN", "legacy-token")
	t.Setenv("INKSYNC_WORKERS", "8")

	v := New()
	cfg, err := Load(v, path)
	require.NoError(t, err)
	assert.Equal(t, path, File(v))
	assert.Equal(t, "/from/file", cfg.BackupDir)
	assert.Equal(t, 8, cfg.Workers, "env beats file")
	assert.Equal(t, "legacy-token", cfg.Notion.Token, "legacy env beats file")
	assert.Equal(t, "file-db", cfg.Notion.DatabaseID)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
}

func TestPrefixedEnvBeatsLegacy(t *testing.T) {
	clearEnv(t)
	t.Setenv("NOTION_DATABASE_ID", "legacy")
	t.Setenv("INKSYNC_NOTION_DATABASE_ID", "prefixed")
	t.Setenv("REMARKABLE_BACKUP_DIR", "/tablet")

	cfg, err := Load(New(), emptyFile(t))
	require.NoError(t, err)
	assert.Equal(t, "prefixed", cfg.Notion.DatabaseID)
	assert.Equal(t, "/tablet", cfg.BackupDir)
}

func TestLoadMalformedFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("workers = ["), 0o600))
	_, err := Load(New(), path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no backup dir", func(c *Config) { c.BackupDir = "" }, "backup_dir"},
		{"no workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"no token", func(c *Config) { c.Notion.Token = "" }, "notion.token"},
		{"unknown remote", func(c *Config) { c.Remote.Backend = "airtable" }, "remote.backend"},
		{"sqlite needs path", func(c *Config) { c.Remote.Backend = RemoteSQLite }, "mirror.path"},
		{"sqlite ok", func(c *Config) { c.Remote.Backend = RemoteSQLite; c.Mirror.Path = "m.db"; c.Notion = NotionConfig{} }, ""},
		{"anthropic key", func(c *Config) { c.OCR.Backend = "anthropic" }, "ocr.anthropic_api_key"},
		{"unknown ocr", func(c *Config) { c.OCR.Backend = "tesseract" }, "ocr.backend"},
		{"drive needs oauth", func(c *Config) { c.Archive.Backend = "drive" }, "google.client_id"},
		{"local needs dir", func(c *Config) { c.Archive.Backend = "local" }, "archive.dir"},
		{"dry run skips ocr", func(c *Config) { c.DryRun = true; c.OCR.VisionAPIKey = ""; c.Archive.Backend = "drive" }, ""},
		{"bad jitter", func(c *Config) { c.Retry.Jitter = 2 }, "retry.jitter"},
		{"bad dpi", func(c *Config) { c.Render.DPI = 0 }, "render.dpi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPolicy(t *testing.T) {
	cfg := validConfig()
	cfg.Retry = RetryConfig{MaxAttempts: 6, BaseDelay: time.Second, MaxDelay: time.Minute, Jitter: 0}
	p := cfg.Policy()
	assert.Equal(t, 6, p.MaxAttempts)
	assert.Equal(t, time.Second, p.InitialDelay)
	assert.Equal(t, time.Minute, p.MaxDelay)
	assert.Zero(t, p.JitterFactor)
	assert.Equal(t, 2.0, p.Multiplier)
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", Mask(""))
	assert.Equal(t, "****", Mask("short"))
	assert.Equal(t, "****1234", Mask("secret_abcdefgh1234"))

	cfg := validConfig()
	masked := cfg.Masked()
	assert.Equal(t, "****1234", masked.Notion.Token)
	assert.Equal(t, "secret_abcdefgh1234", cfg.Notion.Token, "original is untouched")
}

func TestSaveThenLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := validConfig()
	cfg.Notion.EnsureSchema = true
	require.NoError(t, Save(path, cfg))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	loaded, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, cfg.BackupDir, loaded.BackupDir)
	assert.Equal(t, cfg.Notion, loaded.Notion)
	assert.Equal(t, cfg.OCR.VisionAPIKey, loaded.OCR.VisionAPIKey)
	assert.Equal(t, "none", loaded.Archive.Backend)
}

func TestSaveRequiresPath(t *testing.T) {
	assert.Error(t, Save(" ", validConfig()))
}

func TestEncode(t *testing.T) {
	out, err := Encode(validConfig())
	require.NoError(t, err)
	assert.Contains(t, out, `backup_dir = "/backup"`)
	assert.Contains(t, out, "[notion]")
}
