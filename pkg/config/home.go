package config

import (
	"os"
	"path/filepath"
	"sync"
)

const envHome = "AGENTENV_HOME"

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the agentenv home directory.
//
// Resolution order:
//  1. $AGENTENV_HOME environment variable
//  2. ~/.agentenv
//  3. Current working directory
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = resolveHome()
	})
	return homeDir
}

// GetLogsDir returns <home>/logs, where emulator log sinks go by default.
func GetLogsDir() string {
	return filepath.Join(GetHome(), "logs")
}

// GetLedgerPath returns <home>/ledger.db.
func GetLedgerPath() string {
	return filepath.Join(GetHome(), "ledger.db")
}

func resolveHome() string {
	if env := os.Getenv(envHome); env != "" {
		return env
	}

	if userHome, err := os.UserHomeDir(); err == nil && userHome != "" {
		return filepath.Join(userHome, ".agentenv")
	}

	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}

	return "."
}

// ResetHome resets the cached home directory (for testing).
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}
