package config

import (
	"path/filepath"
	"testing"
)

func TestGetHome_EnvVar(t *testing.T) {
	ResetHome()
	t.Setenv("AGENTENV_HOME", "/custom/path")

	got := GetHome()
	if got != "/custom/path" {
		t.Errorf("GetHome() = %q, want %q", got, "/custom/path")
	}
}

func TestGetHome_Fallback(t *testing.T) {
	ResetHome()
	t.Setenv("AGENTENV_HOME", "")

	if got := GetHome(); got == "" {
		t.Error("GetHome() returned empty string")
	}
}

func TestGetHome_Cached(t *testing.T) {
	ResetHome()
	t.Setenv("AGENTENV_HOME", "/first")

	first := GetHome()

	t.Setenv("AGENTENV_HOME", "/second")
	second := GetHome()

	if first != second {
		t.Errorf("GetHome() not cached: first=%q, second=%q", first, second)
	}
}

func TestHomeRelativePaths(t *testing.T) {
	tests := []struct {
		name string
		fn   func() string
		want string
	}{
		{"logs", GetLogsDir, filepath.Join("/test/home", "logs")},
		{"ledger", GetLedgerPath, filepath.Join("/test/home", "ledger.db")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ResetHome()
			t.Setenv("AGENTENV_HOME", "/test/home")

			if got := tt.fn(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetHome_UserHome(t *testing.T) {
	ResetHome()
	t.Setenv("AGENTENV_HOME", "")
	t.Setenv("HOME", "/users/ci")

	if got := GetHome(); got != filepath.Join("/users/ci", ".agentenv") {
		t.Errorf("GetHome() = %q, want ~/.agentenv", got)
	}
}
