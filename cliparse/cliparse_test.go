package cliparse

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var envKeys = []string{
	"PORT", "DATABASE_URL", "DATABASE_TYPE", "ADMIN_KEY_SALT", "POLL_SLUG_SALT",
	"CLOSE_WORKERS", "CLOSE_SCAN_INTERVAL", "METHODOLOGY_FILE", "LOG_FILE", "LOG_LEVEL", "LOG_FORMAT",
}

// clearEnv unsets every variable ParseFlags reads; t.Setenv restores them
// after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestParseFlags_EnvVars(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("DATABASE_URL", "postgres://test")
	t.Setenv("DATABASE_TYPE", "postgres")
	t.Setenv("ADMIN_KEY_SALT", "test-salt")
	t.Setenv("POLL_SLUG_SALT", "test-slug")
	t.Setenv("CLOSE_SCAN_INTERVAL", "2s")

	cfg, err := ParseFlags([]string{"-env", noEnvFile(t)})
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}
	if cfg.DatabaseType != "postgres" {
		t.Errorf("expected postgres, got %s", cfg.DatabaseType)
	}
	if cfg.CloseScan != 2*time.Second {
		t.Errorf("expected 2s close scan, got %v", cfg.CloseScan)
	}
	if cfg.Workers != 4 || cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Errorf("expected defaults, got workers=%d level=%s format=%s", cfg.Workers, cfg.LogLevel, cfg.LogFormat)
	}
}

func TestParseFlags_CLIOverridesEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("CLOSE_WORKERS", "2")

	cfg, err := ParseFlags([]string{
		"-env", noEnvFile(t),
		"-p", "8080", "-d", "file:test.db", "-admin-salt", "s1", "-slug-salt", "s2",
		"-workers", "8", "-close-scan", "1m", "-log-level", "debug",
	})
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Port != 8080 {
		t.Errorf("CLI should override env: expected 8080, got %d", cfg.Port)
	}
	if cfg.Workers != 8 || cfg.CloseScan != time.Minute || cfg.LogLevel != "debug" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.DatabaseType != "sqlite" {
		t.Errorf("expected default sqlite, got %s", cfg.DatabaseType)
	}
}

func TestParseFlags_EnvFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("ADMIN_KEY_SALT", "from-process")

	path := filepath.Join(t.TempDir(), "test.env")
	content := "DATABASE_URL=:memory:\nADMIN_KEY_SALT=from-file\nPOLL_SLUG_SALT=slug\nMETHODOLOGY_FILE=/etc/runoff/methodology.yaml\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := ParseFlags([]string{"-env", path})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DatabaseURL != ":memory:" || cfg.PollSlugSalt != "slug" {
		t.Errorf("expected values from env file, got %+v", cfg)
	}
	if cfg.AdminKeySalt != "from-process" {
		t.Errorf("env file should not override process env, got %s", cfg.AdminKeySalt)
	}
	if cfg.MethodologyPath != "/etc/runoff/methodology.yaml" {
		t.Errorf("expected methodology path from env file, got %s", cfg.MethodologyPath)
	}
}

func TestParseFlags_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{"missing database url", map[string]string{"ADMIN_KEY_SALT": "a", "POLL_SLUG_SALT": "b"}, nil},
		{"missing admin salt", map[string]string{"DATABASE_URL": "x", "POLL_SLUG_SALT": "b"}, nil},
		{"bad port", map[string]string{"PORT": "eighty", "DATABASE_URL": "x", "ADMIN_KEY_SALT": "a", "POLL_SLUG_SALT": "b"}, nil},
		{"bad database type", map[string]string{"DATABASE_URL": "x", "ADMIN_KEY_SALT": "a", "POLL_SLUG_SALT": "b"}, []string{"-t", "mysql"}},
		{"negative workers", map[string]string{"DATABASE_URL": "x", "ADMIN_KEY_SALT": "a", "POLL_SLUG_SALT": "b"}, []string{"-workers", "-1"}},
		{"bad scan interval", map[string]string{"CLOSE_SCAN_INTERVAL": "soon", "DATABASE_URL": "x", "ADMIN_KEY_SALT": "a", "POLL_SLUG_SALT": "b"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			args := append([]string{"-env", noEnvFile(t)}, tt.args...)
			if _, err := ParseFlags(args); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
