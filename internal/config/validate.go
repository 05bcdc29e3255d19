package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"time"
)

// Validation ranges.
const (
	minConnectTimeout = 1 * time.Second
	minDataTimeout    = 5 * time.Second
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"auto", "text", "json"}
)

// Validate checks all configuration values and returns every error found,
// so users can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateTracking(&cfg.Tracking)...)
	errs = append(errs, validateCloud(&cfg.Cloud)...)
	errs = append(errs, validateBridge(&cfg.Bridge)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

func validateTracking(t *TrackingConfig) []error {
	if len(t.ProcessScan) == 0 || t.ProcessScan[0] == "" {
		return []error{errors.New("tracking.process_scan: must name a command")}
	}

	return nil
}

// validateCloud only requires a location when cloud features are enabled;
// a disabled section may be half filled in.
func validateCloud(c *CloudConfig) []error {
	var errs []error

	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("cloud.endpoint: must be an http(s) URL, got %q", c.Endpoint))
		}
	}

	if !c.Enabled {
		return errs
	}

	if c.Endpoint == "" {
		errs = append(errs, errors.New("cloud.endpoint: required when cloud is enabled"))
	}

	if c.Bucket == "" {
		errs = append(errs, errors.New("cloud.bucket: required when cloud is enabled"))
	}

	return errs
}

func validateBridge(b *BridgeConfig) []error {
	if b.Listen == "" {
		return nil
	}

	if _, _, err := net.SplitHostPort(b.Listen); err != nil {
		return []error{fmt.Errorf("bridge.listen: must be host:port, got %q", b.Listen)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !slices.Contains(validLogLevels, l.LogLevel) {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of %v, got %q", validLogLevels, l.LogLevel))
	}

	if !slices.Contains(validLogFormats, l.LogFormat) {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of %v, got %q", validLogFormats, l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDuration("network.connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDuration("network.data_timeout", n.DataTimeout, minDataTimeout)...)

	return errs
}

func validateDuration(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q", field, value)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be at least %s, got %s", field, minimum, d)}
	}

	return nil
}

// Timeouts returns the parsed network timeouts. The values were validated
// on load, so parse errors cannot occur for a loaded Config.
func (c *Config) Timeouts() (connect, data time.Duration) {
	connect, _ = time.ParseDuration(c.Network.ConnectTimeout)
	data, _ = time.ParseDuration(c.Network.DataTimeout)

	return connect, data
}
