package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// activeInterval is the delay between polls while the window is focused or
// any game is active.
const activeInterval = 1 * time.Second

// idleBackoff is the delay ladder used while nothing is active and the
// window is in the background. The last step repeats.
var idleBackoff = []time.Duration{
	3 * time.Second,
	5 * time.Second,
	8 * time.Second,
	10 * time.Second,
}

// StatusFetcher returns the monitoring status of every tracked game.
type StatusFetcher interface {
	FetchStatus(ctx context.Context) ([]Status, error)
}

// StatusConsumer receives each successfully fetched collection.
type StatusConsumer interface {
	Apply(statuses []Status)
}

// CycleReport describes one completed poll cycle.
type CycleReport struct {
	Statuses  int
	Active    bool
	Err       error
	NextDelay time.Duration // -1 when the loop stopped
	Discarded bool          // fetch finished after tracking was disabled or restarted
}

// PollerConfig holds the collaborators of a Poller.
type PollerConfig struct {
	Fetcher   StatusFetcher
	Consumer  StatusConsumer
	Scheduler Scheduler // nil uses SystemScheduler
	Logger    *slog.Logger

	// OnCycle, if set, is called after every cycle with the outcome.
	OnCycle func(CycleReport)
}

// Poller runs the self-rescheduling status loop. Cycles are strictly
// sequential: the next fetch is scheduled only from the completion of the
// previous one, so at most one fetch is ever in flight.
type Poller struct {
	fetcher  StatusFetcher
	consumer StatusConsumer
	sched    Scheduler
	logger   *slog.Logger
	onCycle  func(CycleReport)

	mu        sync.Mutex
	ctx       context.Context
	enabled   bool
	closed    bool
	focused   bool
	idleSteps int
	timer     Timer
	lastDelay time.Duration
	inFlight  bool
	kick      bool   // fetch immediately once the in-flight fetch completes
	gen       uint64 // bumped on every enable/disable; stale cycles are ignored
	seq       uint64 // identifies the one live scheduled fetch
}

// NewPoller creates a stopped Poller. Call Enable to start polling.
func NewPoller(cfg PollerConfig) *Poller {
	sched := cfg.Scheduler
	if sched == nil {
		sched = SystemScheduler()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Poller{
		fetcher:  cfg.Fetcher,
		consumer: cfg.Consumer,
		sched:    sched,
		logger:   logger,
		onCycle:  cfg.OnCycle,
	}
}

// Enable starts the loop with a zero-delay fetch. ctx is passed to every
// fetch until the next Disable. No-op when already enabled or closed.
func (p *Poller) Enable(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.enabled {
		return
	}

	p.enabled = true
	p.ctx = ctx
	p.gen++
	p.idleSteps = 0

	p.logger.Debug("status polling enabled")
	p.fetchNowLocked()
}

// Disable cancels any scheduled fetch and halts the loop. A fetch already in
// flight completes, but its result is discarded.
func (p *Poller) Disable() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return
	}

	p.enabled = false
	p.gen++
	p.kick = false
	p.stopTimerLocked()

	p.logger.Debug("status polling disabled")
}

// Close disables the loop permanently. Used on teardown of the owning view.
func (p *Poller) Close() {
	p.Disable()

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// SetFocused records the window focus state. Gaining focus resets the
// backoff and triggers an immediate out-of-band fetch.
func (p *Poller) SetFocused(focused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	gained := focused && !p.focused
	p.focused = focused

	if gained && p.enabled {
		p.idleSteps = 0
		p.fetchNowLocked()
	}
}

// Wake handles the window becoming visible: backoff resets and a fetch runs
// immediately, replacing whatever fetch was scheduled.
func (p *Poller) Wake() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return
	}

	p.idleSteps = 0
	p.fetchNowLocked()
}

// Enabled reports whether the loop is running.
func (p *Poller) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.enabled
}

// LastDelay returns the delay used for the most recently scheduled fetch.
func (p *Poller) LastDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.lastDelay
}

// fetchNowLocked replaces the scheduled fetch with an immediate one, or
// defers it to the completion of the fetch already in flight.
func (p *Poller) fetchNowLocked() {
	p.stopTimerLocked()

	if p.inFlight {
		p.kick = true
		return
	}

	p.scheduleLocked(0)
}

func (p *Poller) scheduleLocked(d time.Duration) {
	p.seq++
	gen, seq := p.gen, p.seq
	p.lastDelay = d
	p.timer = p.sched.AfterFunc(d, func() { p.cycle(gen, seq) })
}

// stopTimerLocked cancels the scheduled fetch. A callback that already fired
// and is waiting on the lock sees a stale seq and returns.
func (p *Poller) stopTimerLocked() {
	p.seq++

	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// nextDelayLocked applies the interval rule and advances the backoff ladder.
func (p *Poller) nextDelayLocked(active bool) time.Duration {
	if p.focused || active {
		p.idleSteps = 0
		return activeInterval
	}

	idx := min(p.idleSteps, len(idleBackoff)-1)
	if p.idleSteps < len(idleBackoff)-1 {
		p.idleSteps++
	}

	return idleBackoff[idx]
}

func (p *Poller) cycle(gen, seq uint64) {
	p.mu.Lock()
	if !p.enabled || gen != p.gen || seq != p.seq || p.inFlight {
		p.mu.Unlock()
		return
	}

	p.timer = nil
	p.inFlight = true
	ctx := p.ctx
	p.mu.Unlock()

	statuses, err := p.fetcher.FetchStatus(ctx)
	if err != nil {
		p.logger.Warn("status fetch failed", slog.String("error", err.Error()))
	} else if p.current(gen) {
		p.consumer.Apply(statuses)
	}

	p.finish(gen, statuses, err)
}

func (p *Poller) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.enabled && gen == p.gen
}

// finish schedules the next cycle. Failed fetches use the idle rule.
func (p *Poller) finish(gen uint64, statuses []Status, err error) {
	p.mu.Lock()

	p.inFlight = false
	report := CycleReport{
		Statuses:  len(statuses),
		Active:    err == nil && HasActive(statuses),
		Err:       err,
		Discarded: gen != p.gen,
	}

	switch {
	case !p.enabled:
		p.kick = false
		report.NextDelay = -1
	case p.kick:
		p.kick = false
		p.idleSteps = 0
		p.scheduleLocked(0)
	default:
		report.NextDelay = p.nextDelayLocked(report.Active)
		p.scheduleLocked(report.NextDelay)
	}

	onCycle := p.onCycle
	p.mu.Unlock()

	p.logger.Debug("status poll complete",
		slog.Int("games", report.Statuses),
		slog.Bool("active", report.Active),
		slog.Duration("next", report.NextDelay),
	)

	if onCycle != nil {
		onCycle(report)
	}
}
