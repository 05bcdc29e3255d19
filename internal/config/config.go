// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for playtrack. Values resolve through
// four layers: defaults, then the config file, then environment variables,
// then CLI flags.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Tracking TrackingConfig `toml:"tracking"`
	Cloud    CloudConfig    `toml:"cloud"`
	Library  LibraryConfig  `toml:"library"`
	Bridge   BridgeConfig   `toml:"bridge"`
	Logging  LoggingConfig  `toml:"logging"`
	Network  NetworkConfig  `toml:"network"`
}

// TrackingConfig controls session tracking. ProcessScan is the command whose
// output lists running process names, one per line.
type TrackingConfig struct {
	AutoTracking bool     `toml:"auto_tracking"`
	ProcessScan  []string `toml:"process_scan"`
}

// CloudConfig locates the object store that mirrors saves and the shared
// catalog. Cloud features stay off unless Enabled is set.
type CloudConfig struct {
	Enabled    bool   `toml:"enabled"`
	Endpoint   string `toml:"endpoint"`
	Bucket     string `toml:"bucket"`
	RemoteRoot string `toml:"remote_root"`
	TokenFile  string `toml:"token_file"`
}

// LibraryConfig locates the local catalog database.
type LibraryConfig struct {
	Database string `toml:"database"`
}

// BridgeConfig controls the UI bridge listener.
type BridgeConfig struct {
	Listen  string `toml:"listen"`
	Metrics bool   `toml:"metrics"`
}

// LoggingConfig controls log output: level and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior for the cloud client.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish "not
// specified" (nil) from "explicitly set to the zero value".
type CLIOverrides struct {
	ConfigPath   string // --config flag (empty = use default)
	AutoTracking *bool  // --tracking flag
	Listen       string // --listen flag
}
