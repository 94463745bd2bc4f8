package autodock

import (
	"os"
	"path/filepath"
)

// Home returns the autodock home directory.
// It defaults to ~/.autodock but can be overridden with the AUTODOCK_HOME
// environment variable.
func Home() string {
	if v := os.Getenv("AUTODOCK_HOME"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".autodock")
}

// DefaultDBPath returns the default run-history database path (~/.autodock/autodock.db).
func DefaultDBPath() string {
	return filepath.Join(Home(), "autodock.db")
}

// LogPath returns the default log file path (~/.autodock/logs/autodock.log).
func LogPath() string {
	return filepath.Join(Home(), "logs", "autodock.log")
}

// ConfigPath returns the default config file path (~/.autodock/config.yaml).
func ConfigPath() string {
	return filepath.Join(Home(), "config.yaml")
}

// EnsureHome creates the autodock home and log directories if they don't exist.
func EnsureHome() error {
	return os.MkdirAll(filepath.Join(Home(), "logs"), 0o755)
}
