package config

// Default values for configuration options. These are layer 0 of the
// override chain.
const (
	defaultRemoteRoot     = "playtrack"
	defaultListen         = "127.0.0.1:47800"
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
	defaultConnectTimeout = "10s"
	defaultDataTimeout    = "60s"
	defaultUserAgent      = "playtrack"
)

// defaultProcessScan lists process names, one per line, on Linux and macOS.
var defaultProcessScan = []string{"ps", "-axo", "comm="}

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep defaults.
// Paths that depend on the data directory stay empty; Resolve fills them.
func DefaultConfig() *Config {
	return &Config{
		Tracking: TrackingConfig{
			AutoTracking: true,
			ProcessScan:  append([]string(nil), defaultProcessScan...),
		},
		Cloud: CloudConfig{
			RemoteRoot: defaultRemoteRoot,
		},
		Bridge: BridgeConfig{
			Listen: defaultListen,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
			UserAgent:      defaultUserAgent,
		},
	}
}
