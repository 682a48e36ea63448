package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirsHonorHomeEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv(HomeEnv, home)

	assert.Equal(t, home, ConfigDir())
	assert.Equal(t, home, DataDir())
	assert.Equal(t, filepath.Join(home, "fold.toml"), DefaultPath())
}

func TestDirsFallBackToXDG(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv(HomeEnv, "")
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmp, "data"))

	assert.Equal(t, filepath.Join(tmp, "config", "fold"), ConfigDir())
	assert.Equal(t, filepath.Join(tmp, "data", "fold"), DataDir())

	cfg := Default()
	assert.Equal(t, filepath.Join(tmp, "data", "fold", "fold.db"), cfg.Database)
	assert.Equal(t, filepath.Join(tmp, "config", "fold", "schemas"), cfg.SchemasDir)
}

func TestDefault(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	cfg := Default()
	assert.Equal(t, 4, cfg.MaxWriteAttempts)
	assert.Equal(t, time.Duration(0), cfg.PaymentWait.Duration)
	assert.Equal(t, 10*time.Minute, cfg.InvoiceTTL.Duration)
	assert.Equal(t, "info", cfg.LogLevel)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingDefaultFile(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "fold.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
database = "store.db"
max_write_attempts = 8
payment_wait = "30s"
log_level = "debug"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "store.db"), cfg.Database, "relative paths resolve against the file")
	assert.Equal(t, Default().SchemasDir, cfg.SchemasDir)
	assert.Equal(t, 8, cfg.MaxWriteAttempts)
	assert.Equal(t, 30*time.Second, cfg.PaymentWait.Duration)
	assert.Equal(t, 10*time.Minute, cfg.InvoiceTTL.Duration)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadAbsolutePathKept(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())
	dir := t.TempDir()
	abs := filepath.Join(t.TempDir(), "schemas")
	path := filepath.Join(dir, "fold.toml")
	require.NoError(t, os.WriteFile(path, []byte("schemas_dir = \""+filepath.ToSlash(abs)+"\"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(abs), filepath.Clean(cfg.SchemasDir))
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	tests := []struct {
		name string
		body string
		want string
	}{
		{"syntax", "database = ", "load config"},
		{"bad duration", `payment_wait = "soon"`, "load config"},
		{"attempts", "max_write_attempts = 0", "max_write_attempts must be >= 1"},
		{"negative wait", `payment_wait = "-1s"`, "payment_wait must not be negative"},
		{"zero ttl", `invoice_ttl = "0s"`, "invoice_ttl must be positive"},
		{"level", `log_level = "loud"`, `log_level "loud"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "fold.toml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))

			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	home := t.TempDir()
	t.Setenv(HomeEnv, home)

	cfg := Default()
	cfg.MaxWriteAttempts = 6
	cfg.PaymentWait = Duration{2 * time.Second}

	path := filepath.Join(home, "nested", "fold.toml")
	require.NoError(t, Save(path, cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
