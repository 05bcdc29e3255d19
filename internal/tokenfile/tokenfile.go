// Package tokenfile reads and writes the cloud credentials file: an OAuth2
// bearer token plus the endpoint it was issued for. It is a leaf package
// shared by config/ (path defaults) and cloud/ (token sources).
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

// Permissions for the credentials file and its directory.
const (
	FilePerms = 0o600
	DirPerms  = 0o700
)

// File is the on-disk credentials format.
type File struct {
	Token    *oauth2.Token `json:"token"`
	Endpoint string        `json:"endpoint,omitempty"`
	SavedAt  time.Time     `json:"saved_at"`
}

// Load reads a credentials file. Returns (nil, nil) if it does not exist.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if f.Token == nil || f.Token.AccessToken == "" {
		return nil, fmt.Errorf("tokenfile: %s has no access token", path)
	}

	return &f, nil
}

// Save writes f atomically (temp file + rename) with owner-only permissions.
// Token values are never logged.
func Save(path string, f *File) error {
	if f == nil || f.Token == nil {
		return fmt.Errorf("tokenfile: nothing to save")
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, err)
	}

	// Same directory keeps rename(2) on one filesystem.
	tmp, err := os.CreateTemp(dir, ".credentials-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := writeSynced(tmp, data); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	committed = true

	return nil
}

func writeSynced(tmp *os.File, data []byte) error {
	if err := tmp.Chmod(FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	return nil
}

// Remove deletes the credentials file. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("tokenfile: removing %s: %w", path, err)
	}

	return nil
}
