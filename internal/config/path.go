package config

import (
	"os"
	"path/filepath"
)

// EnvDataDir overrides the data directory when set.
const EnvDataDir = "RUNBEAM_DATA_DIR"

// DefaultDataDir returns the directory holding the run store. Resolution
// order: RUNBEAM_DATA_DIR, then ~/.runbeam/data, then ./runbeam-data as a
// last resort when the home directory is unavailable.
func DefaultDataDir() string {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "runbeam-data"
	}
	return filepath.Join(home, ".runbeam", "data")
}

// EnsureDataDir creates the data directory if needed and returns its path.
func EnsureDataDir(dir string) (string, error) {
	if dir == "" {
		dir = DefaultDataDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}
