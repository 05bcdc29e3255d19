package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as an annotated summary
// to w. This powers the "config show" command.
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", path)

	ew.printf("[tracking]\n")
	ew.printf("  auto_tracking   = %t\n", cfg.Tracking.AutoTracking)
	ew.printf("  process_scan    = [%s]\n\n", joinQuoted(cfg.Tracking.ProcessScan))

	ew.printf("[cloud]\n")
	ew.printf("  enabled         = %t\n", cfg.Cloud.Enabled)
	ew.printf("  endpoint        = %q\n", cfg.Cloud.Endpoint)
	ew.printf("  bucket          = %q\n", cfg.Cloud.Bucket)
	ew.printf("  remote_root     = %q\n", cfg.Cloud.RemoteRoot)
	ew.printf("  token_file      = %q\n\n", cfg.Cloud.TokenFile)

	ew.printf("[library]\n")
	ew.printf("  database        = %q\n\n", cfg.Library.Database)

	ew.printf("[bridge]\n")
	ew.printf("  listen          = %q\n", cfg.Bridge.Listen)
	ew.printf("  metrics         = %t\n\n", cfg.Bridge.Metrics)

	ew.printf("[logging]\n")
	ew.printf("  log_level       = %q\n", cfg.Logging.LogLevel)
	ew.printf("  log_format      = %q\n\n", cfg.Logging.LogFormat)

	ew.printf("[network]\n")
	ew.printf("  connect_timeout = %q\n", cfg.Network.ConnectTimeout)
	ew.printf("  data_timeout    = %q\n", cfg.Network.DataTimeout)
	ew.printf("  user_agent      = %q\n", cfg.Network.UserAgent)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}

	return strings.Join(quoted, ", ")
}
