package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const dirName = ".conduit"

// DefaultConfigDir returns ~/.conduit.
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, dirName), nil
}

func inConfigDir(name string) (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// DefaultConfigPath returns ~/.conduit/config.yaml.
func DefaultConfigPath() (string, error) { return inConfigDir("config.yaml") }

// DefaultDataPath returns ~/.conduit/data.db.
func DefaultDataPath() (string, error) { return inConfigDir("data.db") }

// DefaultPolicyPath returns ~/.conduit/policy.yaml.
func DefaultPolicyPath() (string, error) { return inConfigDir("policy.yaml") }

// ExpandPath expands a leading ~ to the home directory.
func ExpandPath(path string) (string, error) {
	switch {
	case path == "":
		return "", nil
	case path == "~":
		return os.UserHomeDir()
	case strings.HasPrefix(path, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}
