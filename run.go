package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/playtrack/internal/bridge"
	"github.com/tonimelisma/playtrack/internal/config"
	"github.com/tonimelisma/playtrack/internal/engine"
	"github.com/tonimelisma/playtrack/internal/metrics"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the tracking engine and the UI bridge",
		Long: `Run the engine in the foreground until interrupted.

The engine polls game status, records sessions, checks save folders for
changes after each session and serves the UI bridge. The config file is
reloaded when it changes on disk or on SIGHUP.`,
		RunE: runDaemon,
	}

	cmd.Flags().String("listen", "", "bridge listen address (host:port), overrides bridge.listen")
	cmd.Flags().Bool("tracking", true, "poll game status automatically, overrides tracking.auto_tracking")

	return cmd
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	lock, err := acquireLibraryLock(cc.Cfg.Library.Database)
	if err != nil {
		return err
	}
	defer lock.Release()

	ctx := shutdownContext(cmd.Context(), logger)

	var m *metrics.Metrics
	if cc.Cfg.Bridge.Metrics {
		m = metrics.New()
	}

	a, err := openApp(cc, m)
	if err != nil {
		return err
	}
	defer a.Close()

	a.engine.Start(ctx)

	if cc.Cfg.Bridge.Listen != "" {
		srv := bridge.NewServer(bridge.ServerConfig{Engine: a.engine, Metrics: m, Logger: logger})

		addr, err := srv.Start(ctx, cc.Cfg.Bridge.Listen)
		if err != nil {
			return err
		}

		defer func() {
			if err := srv.Shutdown(); err != nil {
				logger.Warn("bridge shutdown", slog.String("error", err.Error()))
			}
		}()

		cc.Statusf("Bridge listening on %s\n", addr)
	} else {
		logger.Info("bridge disabled")
	}

	rl := &reloader{
		holder: config.NewHolder(cc.Cfg, cc.CfgPath),
		env:    cc.Env,
		cli:    cc.CLI,
		engine: a.engine,
		logger: logger,
	}

	go func() {
		if err := config.Watch(ctx, rl.holder, rl.load, logger, rl.apply); err != nil {
			logger.Warn("config file watching disabled", slog.String("error", err.Error()))
		}
	}()

	go onHangup(ctx, logger, rl.reload)

	cc.Statusf("playtrack running (tracking %s)\n", onOff(cc.Cfg.Tracking.AutoTracking))

	<-ctx.Done()
	logger.Info("shutting down")

	return nil
}

// reloader applies a changed config file to the running engine. Bridge and
// database settings only take effect on restart.
type reloader struct {
	holder *config.Holder
	env    config.EnvOverrides
	cli    config.CLIOverrides
	engine *engine.Engine
	logger *slog.Logger
}

func (r *reloader) load(path string) (*config.Config, error) {
	return config.ResolveFile(path, r.env, r.cli)
}

// reload re-reads the config file on demand.
func (r *reloader) reload() {
	cfg, err := r.load(r.holder.Path())
	if err != nil {
		r.logger.Warn("config reload rejected, keeping previous config", slog.String("error", err.Error()))
		return
	}

	r.holder.Update(cfg)
	r.apply(cfg)
}

func (r *reloader) apply(cfg *config.Config) {
	r.engine.SetTracking(cfg.Tracking.AutoTracking)

	client, err := newCloudClient(cfg, r.logger)
	if err != nil {
		r.logger.Warn("cloud client not rebuilt", slog.String("error", err.Error()))
		client = nil
	}

	r.engine.SetCloud(cfg.Cloud.Enabled, client)

	r.logger.Info("config applied",
		slog.Bool("tracking", cfg.Tracking.AutoTracking),
		slog.Bool("cloud", cfg.Cloud.Enabled && client != nil),
	)
}

func onOff(b bool) string {
	if b {
		return "on"
	}

	return "off"
}

// dialBridge connects to the running daemon.
func dialBridge(ctx context.Context, cc *CLIContext) (*bridge.Client, error) {
	if cc.Cfg.Bridge.Listen == "" {
		return nil, fmt.Errorf("bridge is disabled (bridge.listen is empty)")
	}

	client, err := bridge.Dial(ctx, cc.Cfg.Bridge.Listen)
	if err != nil {
		return nil, fmt.Errorf("%w; start it with 'playtrack run'", err)
	}

	return client, nil
}
