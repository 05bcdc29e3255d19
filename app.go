package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/tonimelisma/playtrack/internal/cloud"
	"github.com/tonimelisma/playtrack/internal/config"
	"github.com/tonimelisma/playtrack/internal/engine"
	"github.com/tonimelisma/playtrack/internal/metrics"
	"github.com/tonimelisma/playtrack/internal/notify"
	"github.com/tonimelisma/playtrack/internal/procmon"
	"github.com/tonimelisma/playtrack/internal/store"
)

// dataDirPermissions keeps the database and credentials private.
const dataDirPermissions = 0o700

// app bundles the library database and an engine for one-shot commands
// and the daemon alike.
type app struct {
	store  *store.Store
	engine *engine.Engine
	logger *slog.Logger
}

// openApp opens the library and builds an engine from cc's config. The
// engine is not started; the daemon starts it, one-shot commands call it
// directly. m may be nil.
func openApp(cc *CLIContext, m *metrics.Metrics) (*app, error) {
	st, err := openStore(cc.Cfg, cc.Logger)
	if err != nil {
		return nil, err
	}

	client, err := newCloudClient(cc.Cfg, cc.Logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	eng := engine.New(engine.Config{
		Store:        st,
		Processes:    procmon.PSLister{Command: cc.Cfg.Tracking.ProcessScan},
		Cloud:        client,
		CloudEnabled: cc.Cfg.Cloud.Enabled,
		AutoTracking: cc.Cfg.Tracking.AutoTracking,
		Metrics:      m,
		Logger:       cc.Logger,
	})

	return &app{store: st, engine: eng, logger: cc.Logger}, nil
}

// Close stops the engine, then closes the database.
func (a *app) Close() {
	a.engine.Close()

	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing library database", slog.String("error", err.Error()))
	}
}

// printNotifications forwards engine notifications to stderr for the life
// of a one-shot command. The returned func stops forwarding.
func (a *app) printNotifications(cc *CLIContext) (*notificationPrinter, func()) {
	p := &notificationPrinter{quiet: cc.Flags.Quiet}

	return p, a.engine.Subscribe(p)
}

func openStore(cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
	dir := filepath.Dir(cfg.Library.Database)
	if err := os.MkdirAll(dir, dataDirPermissions); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dir, err)
	}

	return store.Open(cfg.Library.Database, logger)
}

// newCloudClient builds the object-store client. It returns a nil client,
// which disables cloud features, when cloud is off or no credentials are
// stored.
func newCloudClient(cfg *config.Config, logger *slog.Logger) (engine.CloudClient, error) {
	if !cfg.Cloud.Enabled {
		return nil, nil
	}

	ts, err := cloud.TokenSourceFromFile(cfg.Cloud.TokenFile, logger)
	if errors.Is(err, cloud.ErrNotLoggedIn) {
		logger.Warn("cloud enabled but no credentials stored; run 'playtrack credentials set'",
			slog.String("token_file", cfg.Cloud.TokenFile),
		)

		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}

	return cloud.NewClient(
		bucketURL(cfg.Cloud.Endpoint, cfg.Cloud.Bucket),
		cfg.Cloud.RemoteRoot,
		newHTTPClient(cfg),
		ts,
		logger,
		cfg.Network.UserAgent+"/"+version,
	), nil
}

func bucketURL(endpoint, bucket string) string {
	return strings.TrimRight(endpoint, "/") + "/" + url.PathEscape(bucket)
}

// newHTTPClient applies the configured connect timeout to dialing and TLS,
// and the data timeout to each whole request.
func newHTTPClient(cfg *config.Config) *http.Client {
	connect, data := cfg.Timeouts()

	return &http.Client{
		Timeout: data,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: connect}).DialContext,
			TLSHandshakeTimeout: connect,
			MaxIdleConnsPerHost: 4,
		},
	}
}

// notificationPrinter is an engine.Listener that prints notifications and
// remembers whether any was an error.
type notificationPrinter struct {
	quiet  bool
	failed atomic.Bool
}

func (p *notificationPrinter) OnSnapshot(engine.Snapshot) {}

func (p *notificationPrinter) OnNotification(n notify.Notification) {
	if n.Level == notify.LevelError {
		p.failed.Store(true)
	}

	if p.quiet && n.Level != notify.LevelError {
		return
	}

	fmt.Fprintf(os.Stderr, "%s: %s\n", n.Title, n.Message)
}
