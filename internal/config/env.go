package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variable names for overrides.
const (
	EnvConfig        = "PLAYTRACK_CONFIG"
	EnvDataDir       = "PLAYTRACK_DATA_DIR"
	EnvCloudEndpoint = "PLAYTRACK_CLOUD_ENDPOINT"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath    string // PLAYTRACK_CONFIG: override config file path
	DataDir       string // PLAYTRACK_DATA_DIR: base directory for the database and credentials
	CloudEndpoint string // PLAYTRACK_CLOUD_ENDPOINT: object store endpoint
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:    os.Getenv(EnvConfig),
		DataDir:       os.Getenv(EnvDataDir),
		CloudEndpoint: os.Getenv(EnvCloudEndpoint),
	}
}

// LoadDotEnv loads variables from a .env file into the process environment.
// Variables already set are left alone. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("loading %s: %w", path, err)
	}

	return nil
}
