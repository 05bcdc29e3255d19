// Package engine owns the reconciliation components and wires them
// together: the process monitor feeds the poller, the poller feeds the
// session machine, confirmed session ends feed the save drift decider, and
// the catalog importer runs alongside. The engine is also the notifier for
// every component and the single source of UI snapshots.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tonimelisma/playtrack/internal/catalog"
	"github.com/tonimelisma/playtrack/internal/metrics"
	"github.com/tonimelisma/playtrack/internal/monitor"
	"github.com/tonimelisma/playtrack/internal/notify"
	"github.com/tonimelisma/playtrack/internal/procmon"
	"github.com/tonimelisma/playtrack/internal/savesync"
	"github.com/tonimelisma/playtrack/internal/store"
)

// ErrClosed is returned by commands after Close.
var ErrClosed = errors.New("engine: closed")

// Config holds the engine's collaborators and initial settings.
type Config struct {
	Store        *store.Store
	Processes    procmon.ProcessLister
	Cloud        CloudClient // nil disables cloud features
	CloudEnabled bool
	AutoTracking bool

	Scheduler     monitor.Scheduler      // nil uses the system scheduler
	Fingerprinter savesync.Fingerprinter // nil uses savesync.DirFingerprinter
	Metrics       *metrics.Metrics       // optional
	Logger        *slog.Logger
}

// Listener receives engine output. Implementations must not block.
type Listener interface {
	OnSnapshot(s Snapshot)
	OnNotification(n notify.Notification)
}

// Engine is the owning state holder for one running instance.
type Engine struct {
	store   *store.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	logN    notify.Notifier

	procs    *procmon.Monitor
	machine  *monitor.Machine
	poller   *monitor.Poller
	decider  *savesync.Decider
	importer *catalog.Importer
	gate     *cloudGate

	checks sync.WaitGroup // drift checks started by session ends

	mu           sync.Mutex
	cloud        CloudClient
	cloudEnabled bool
	tracking     bool
	runCtx       context.Context
	closed       bool
	listeners    map[int]Listener
	nextListener int
}

// New builds an engine. Polling starts with Start.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fp := cfg.Fingerprinter
	if fp == nil {
		fp = savesync.DirFingerprinter{}
	}

	e := &Engine{
		store:        cfg.Store,
		logger:       logger,
		metrics:      cfg.Metrics,
		logN:         notify.Log(logger),
		cloud:        cfg.Cloud,
		cloudEnabled: cfg.CloudEnabled,
		tracking:     cfg.AutoTracking,
		listeners:    make(map[int]Listener),
	}

	e.gate = &cloudGate{engine: e, logger: logger, nowFunc: time.Now}

	e.procs = procmon.New(cfg.Store, cfg.Store, cfg.Processes, logger)

	e.machine = monitor.NewMachine(monitor.MachineConfig{
		Controller:     e.procs,
		Notifier:       e,
		Logger:         logger,
		OnSessionEnded: e.sessionEnded,
		OnChange:       e.publish,
		OnCommand:      e.observeCommand,
	})

	e.poller = monitor.NewPoller(monitor.PollerConfig{
		Fetcher:   e.procs,
		Consumer:  e.machine,
		Scheduler: cfg.Scheduler,
		Logger:    logger,
		OnCycle:   e.observeCycle,
	})

	e.decider = savesync.NewDecider(savesync.Config{
		Gate:          e.gate,
		Games:         saveTargets{store: cfg.Store},
		Fingerprinter: fp,
		Remote:        cloudSide{engine: e},
		Uploader:      cloudSide{engine: e},
		Notifier:      e,
		Logger:        logger,
		OnChange:      e.publish,
		OnCheck:       e.observeDrift,
		OnUpload:      e.observeUpload,
	})

	e.importer = catalog.NewImporter(catalog.Config{
		Local:    localCatalog{store: cfg.Store},
		Remote:   remoteCatalog{engine: e},
		Notifier: e,
		Logger:   logger,
		OnChange: e.publish,
		OnImport: e.observeImport,
	})

	return e
}

// Start begins polling when auto-tracking is on. ctx bounds every status
// fetch; cancelling it does not stop the loop, Close does.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.runCtx = ctx
	tracking := e.tracking && !e.closed
	e.mu.Unlock()

	e.logger.Info("engine started", slog.Bool("tracking", tracking))

	if tracking {
		e.poller.Enable(ctx)
	}
}

// Close stops polling permanently, aborts a blocked import run and waits
// for drift checks and uploads already started.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	e.closed = true
	e.mu.Unlock()

	e.poller.Close()

	if e.importer.State() == catalog.StateBlocked {
		if _, err := e.importer.Abort(); err != nil {
			e.logger.Warn("aborting import on close", slog.String("error", err.Error()))
		}
	}

	e.Wait()
	e.logger.Info("engine stopped")
}

// Wait blocks until pending drift checks and uploads have finished.
func (e *Engine) Wait() {
	e.checks.Wait()
	e.decider.Wait()
}

// SetTracking turns automatic status polling on or off.
func (e *Engine) SetTracking(on bool) {
	e.mu.Lock()
	if e.closed || e.tracking == on {
		e.mu.Unlock()
		return
	}

	e.tracking = on
	ctx := e.runCtx
	e.mu.Unlock()

	e.logger.Info("auto-tracking changed", slog.Bool("enabled", on))

	switch {
	case !on:
		e.poller.Disable()
	case ctx != nil:
		e.poller.Enable(ctx)
	}

	e.publish()
}

// SetCloud replaces the cloud client and the enabled flag, for example
// after a config reload or new credentials.
func (e *Engine) SetCloud(enabled bool, client CloudClient) {
	e.mu.Lock()
	e.cloudEnabled = enabled
	e.cloud = client
	e.mu.Unlock()

	e.gate.reset()
	e.logger.Info("cloud settings changed", slog.Bool("enabled", enabled && client != nil))
	e.publish()
}

// Subscribe registers l for snapshots and notifications. It receives the
// current snapshot immediately. The returned func unsubscribes.
func (e *Engine) Subscribe(l Listener) func() {
	e.mu.Lock()
	id := e.nextListener
	e.nextListener++
	e.listeners[id] = l
	e.mu.Unlock()

	l.OnSnapshot(e.Snapshot())

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// Notify implements notify.Notifier: it logs, counts and broadcasts.
func (e *Engine) Notify(n notify.Notification) {
	e.logN.Notify(n)

	if e.metrics != nil {
		e.metrics.ObserveNotification(string(n.Level))
	}

	for _, l := range e.snapshotListeners() {
		l.OnNotification(n)
	}
}

// publish pushes a fresh snapshot to every listener.
func (e *Engine) publish() {
	listeners := e.snapshotListeners()
	if len(listeners) == 0 {
		return
	}

	s := e.Snapshot()
	for _, l := range listeners {
		l.OnSnapshot(s)
	}
}

func (e *Engine) snapshotListeners() []Listener {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		out = append(out, l)
	}

	return out
}

// sessionEnded runs the drift check for a confirmed end in the background.
// Checks are not started once Close has begun waiting on them.
func (e *Engine) sessionEnded(ctx context.Context, gameID string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.logger.Debug("engine closed, skipping drift check", slog.String("game_id", gameID))

		return
	}

	e.checks.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.checks.Done()
		e.decider.Check(context.WithoutCancel(ctx), gameID)
	}()
}

func (e *Engine) observeCycle(r monitor.CycleReport) {
	if e.metrics == nil || r.Discarded {
		return
	}

	active := 0
	for _, s := range e.machine.Statuses() {
		if s.Active() {
			active++
		}
	}

	e.metrics.ObservePoll(r.Err, active, r.NextDelay)
}

func (e *Engine) observeCommand(command string, err error) {
	if e.metrics != nil {
		e.metrics.ObserveCommand(command, err)
	}
}

func (e *Engine) observeDrift(o savesync.Outcome) {
	if e.metrics != nil {
		e.metrics.ObserveDrift(string(o))
	}
}

func (e *Engine) observeUpload(err error) {
	if e.metrics != nil {
		e.metrics.ObserveUpload(err)
	}
}

func (e *Engine) observeImport(err error) {
	if e.metrics != nil {
		e.metrics.ObserveImport(err)
	}
}
