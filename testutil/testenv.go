// Package testutil provides environment helpers for the end-to-end tests,
// which drive the built binary and cannot import internal/.
package testutil

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=VALUE pairs from envPath. A missing file is not an
// error, and variables already set take precedence.
func LoadDotEnv(envPath string) error {
	if _, err := os.Stat(envPath); err != nil {
		return nil
	}

	return godotenv.Load(envPath)
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// IsolatedEnv returns the process environment with HOME, the XDG
// directories and every PLAYTRACK_ variable pointed below root, so a test
// run never reads or writes the user's config or library.
func IsolatedEnv(root string) []string {
	var env []string

	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "PLAYTRACK_") || strings.HasPrefix(key, "XDG_") || key == "HOME" {
			continue
		}

		env = append(env, kv)
	}

	return append(env,
		"HOME="+filepath.Join(root, "home"),
		"XDG_CONFIG_HOME="+filepath.Join(root, "config"),
		"XDG_DATA_HOME="+filepath.Join(root, "data"),
		"PLAYTRACK_DATA_DIR="+filepath.Join(root, "data", "playtrack"),
		"PLAYTRACK_CONFIG="+filepath.Join(root, "config", "playtrack", "config.toml"),
	)
}

// FreeAddr returns a loopback host:port that was free when checked.
func FreeAddr() (string, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("finding free port: %w", err)
	}
	defer l.Close()

	return l.Addr().String(), nil
}

// WriteProcessList replaces the fixture file a test's process_scan command
// prints, one process name per line.
func WriteProcessList(path string, names ...string) error {
	content := strings.Join(names, "\n")
	if content != "" {
		content += "\n"
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing process list: %w", err)
	}

	return os.Rename(tmp, path)
}
