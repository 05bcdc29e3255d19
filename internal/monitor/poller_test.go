package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger returns a debug-level logger that writes to t.Log.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

// manualScheduler records scheduled tasks; tests fire them explicitly.
type manualScheduler struct {
	mu    sync.Mutex
	tasks []*manualTask
}

type manualTask struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTask) Stop() bool {
	wasPending := !t.stopped && !t.fired
	t.stopped = true

	return wasPending
}

func (s *manualScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := &manualTask{delay: d, fn: fn}
	s.tasks = append(s.tasks, task)

	return task
}

// pending returns the tasks that are neither stopped nor fired.
func (s *manualScheduler) pending() []*manualTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*manualTask

	for _, task := range s.tasks {
		if !task.stopped && !task.fired {
			out = append(out, task)
		}
	}

	return out
}

// fire runs the single pending task and returns its delay.
func (s *manualScheduler) fire(t *testing.T) time.Duration {
	t.Helper()

	pending := s.pending()
	require.Len(t, pending, 1, "expected exactly one scheduled fetch")

	task := pending[0]
	task.fired = true
	task.fn()

	return task.delay
}

// nextDelay returns the delay of the single pending task.
func (s *manualScheduler) nextDelay(t *testing.T) time.Duration {
	t.Helper()

	pending := s.pending()
	require.Len(t, pending, 1, "expected exactly one scheduled fetch")

	return pending[0].delay
}

// scriptedFetcher returns queued results and tracks concurrency.
type scriptedFetcher struct {
	mu       sync.Mutex
	results  [][]Status
	errs     []error
	calls    int
	inFlight int
	maxSeen  int
	during   func() // runs while the fetch is "in flight"
}

func (f *scriptedFetcher) FetchStatus(_ context.Context) ([]Status, error) {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	f.maxSeen = max(f.maxSeen, f.inFlight)

	var (
		res []Status
		err error
	)

	if len(f.results) > 0 {
		res, f.results = f.results[0], f.results[1:]
	}

	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}

	during := f.during
	f.during = nil
	f.mu.Unlock()

	if during != nil {
		during()
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	return res, err
}

type recordingConsumer struct {
	mu      sync.Mutex
	applied [][]Status
}

func (c *recordingConsumer) Apply(statuses []Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.applied = append(c.applied, statuses)
}

func (c *recordingConsumer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.applied)
}

func newTestPoller(t *testing.T, f *scriptedFetcher) (*Poller, *manualScheduler, *recordingConsumer) {
	t.Helper()

	sched := &manualScheduler{}
	consumer := &recordingConsumer{}

	p := NewPoller(PollerConfig{
		Fetcher:   f,
		Consumer:  consumer,
		Scheduler: sched,
		Logger:    testLogger(t),
	})
	t.Cleanup(p.Close)

	return p, sched, consumer
}

var playing = []Status{{GameID: "g1", GameTitle: "Celeste", IsRunning: true}}

func TestPoller_EnableFetchesImmediately(t *testing.T) {
	t.Parallel()

	p, sched, consumer := newTestPoller(t, &scriptedFetcher{})

	p.Enable(context.Background())

	assert.Equal(t, time.Duration(0), sched.fire(t))
	assert.Equal(t, 1, consumer.count())
}

func TestPoller_IdleBackoffLadder(t *testing.T) {
	t.Parallel()

	p, sched, _ := newTestPoller(t, &scriptedFetcher{})
	p.Enable(context.Background())
	sched.fire(t)

	want := []time.Duration{
		3 * time.Second, 5 * time.Second, 8 * time.Second,
		10 * time.Second, 10 * time.Second, 10 * time.Second,
	}

	for i, w := range want {
		assert.Equal(t, w, sched.nextDelay(t), "idle cycle %d", i)
		sched.fire(t)
	}
}

func TestPoller_ActiveGamesUseFixedInterval(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{results: [][]Status{playing, playing, nil, playing}}
	p, sched, _ := newTestPoller(t, f)
	p.Enable(context.Background())

	sched.fire(t)
	assert.Equal(t, time.Second, sched.nextDelay(t))

	sched.fire(t)
	assert.Equal(t, time.Second, sched.nextDelay(t))

	// Nothing active: the ladder starts from its first step.
	sched.fire(t)
	assert.Equal(t, 3*time.Second, sched.nextDelay(t))

	// Activity resets the counter.
	sched.fire(t)
	assert.Equal(t, time.Second, sched.nextDelay(t))

	sched.fire(t)
	assert.Equal(t, 3*time.Second, sched.nextDelay(t))
}

func TestPoller_PausedAndEndConfirmationCountAsActive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status Status
	}{
		{"paused", Status{GameID: "g", IsPaused: true}},
		{"needs end confirmation", Status{GameID: "g", NeedsEndConfirmation: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := &scriptedFetcher{results: [][]Status{{tt.status}}}
			p, sched, _ := newTestPoller(t, f)
			p.Enable(context.Background())
			sched.fire(t)

			assert.Equal(t, time.Second, sched.nextDelay(t))
		})
	}
}

func TestPoller_FocusedUsesFixedInterval(t *testing.T) {
	t.Parallel()

	p, sched, _ := newTestPoller(t, &scriptedFetcher{})
	p.Enable(context.Background())
	sched.fire(t)
	sched.fire(t) // idle: 3s step consumed

	p.SetFocused(true)
	// Focus gain replaced the scheduled fetch with an immediate one.
	assert.Equal(t, time.Duration(0), sched.nextDelay(t))

	sched.fire(t)
	assert.Equal(t, time.Second, sched.nextDelay(t))

	p.SetFocused(false)
	sched.fire(t)
	assert.Equal(t, 3*time.Second, sched.nextDelay(t), "backoff restarts after focus is lost")
}

func TestPoller_WakeResetsBackoff(t *testing.T) {
	t.Parallel()

	p, sched, consumer := newTestPoller(t, &scriptedFetcher{})
	p.Enable(context.Background())

	for range 4 {
		sched.fire(t)
	}

	require.Equal(t, 10*time.Second, sched.nextDelay(t))

	p.Wake()
	assert.Equal(t, time.Duration(0), sched.nextDelay(t))

	sched.fire(t)
	assert.Equal(t, 3*time.Second, sched.nextDelay(t))
	assert.Equal(t, 5, consumer.count())
}

// A timer whose callback already started cannot be stopped; once it gets
// the lock it must find itself superseded and not start a second loop.
func TestPoller_LateTimerCallbackAfterWakeIsIgnored(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{}
	p, sched, consumer := newTestPoller(t, f)
	p.Enable(context.Background())
	sched.fire(t)

	late := sched.pending()
	require.Len(t, late, 1)
	require.Equal(t, 3*time.Second, late[0].delay)
	late[0].fired = true // callback goroutine is already running; Stop reports false

	p.Wake()
	assert.Equal(t, time.Duration(0), sched.fire(t))
	require.Equal(t, 3*time.Second, sched.nextDelay(t))

	late[0].fn()

	assert.Len(t, sched.pending(), 1)
	assert.Equal(t, 3*time.Second, sched.nextDelay(t), "backoff must not advance")
	assert.Equal(t, 2, consumer.count())

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 2, f.calls)
}

func TestPoller_FetchErrorKeepsLoopAlive(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{
		results: [][]Status{playing},
		errs:    []error{nil, errors.New("monitor unavailable"), nil},
	}

	var reports []CycleReport

	sched := &manualScheduler{}
	consumer := &recordingConsumer{}
	p := NewPoller(PollerConfig{
		Fetcher:   f,
		Consumer:  consumer,
		Scheduler: sched,
		Logger:    testLogger(t),
		OnCycle:   func(r CycleReport) { reports = append(reports, r) },
	})
	t.Cleanup(p.Close)

	p.Enable(context.Background())
	sched.fire(t)
	require.Equal(t, time.Second, sched.nextDelay(t))

	sched.fire(t) // fails
	assert.Equal(t, 3*time.Second, sched.nextDelay(t), "failure is treated as no active games")
	assert.Equal(t, 1, consumer.count(), "failed fetch does not replace the collection")

	sched.fire(t)
	assert.Equal(t, 2, consumer.count())

	require.Len(t, reports, 3)
	assert.Error(t, reports[1].Err)
	assert.False(t, reports[1].Active)
}

func TestPoller_DisableStopsLoopAndReenableRestartsAtZero(t *testing.T) {
	t.Parallel()

	p, sched, _ := newTestPoller(t, &scriptedFetcher{})
	p.Enable(context.Background())
	sched.fire(t)
	sched.fire(t)

	p.Disable()
	assert.Empty(t, sched.pending(), "no fetch may remain scheduled")
	assert.False(t, p.Enabled())

	p.Enable(context.Background())
	assert.Equal(t, time.Duration(0), sched.nextDelay(t))
}

func TestPoller_DisableMidCycleSchedulesNothing(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{results: [][]Status{nil, playing}}
	p, sched, consumer := newTestPoller(t, f)
	p.Enable(context.Background())
	sched.fire(t)

	f.during = p.Disable
	sched.fire(t)

	assert.Empty(t, sched.pending())
	assert.Equal(t, 1, consumer.count(), "result of a cycle finishing after disable is discarded")

	p.Enable(context.Background())
	assert.Equal(t, time.Duration(0), sched.nextDelay(t))
}

func TestPoller_FocusDuringFetchNeverOverlaps(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{}
	p, sched, _ := newTestPoller(t, f)
	p.Enable(context.Background())

	f.during = func() {
		p.SetFocused(true)
		assert.Empty(t, sched.pending(), "out-of-band fetch waits for the in-flight one")
	}
	sched.fire(t)

	assert.Equal(t, time.Duration(0), sched.nextDelay(t))
	sched.fire(t)

	assert.Equal(t, 1, f.maxSeen)
	assert.Equal(t, 2, f.calls)
}

func TestPoller_ReenableDuringFetchDefersRestart(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{results: [][]Status{playing}}
	p, sched, consumer := newTestPoller(t, f)
	p.Enable(context.Background())

	f.during = func() {
		p.Disable()
		p.Enable(context.Background())
	}
	sched.fire(t)

	assert.Equal(t, 0, consumer.count(), "stale generation is discarded")
	assert.Equal(t, time.Duration(0), sched.nextDelay(t))
	assert.Equal(t, 1, f.maxSeen)
}

func TestPoller_CloseIsFinal(t *testing.T) {
	t.Parallel()

	p, sched, _ := newTestPoller(t, &scriptedFetcher{})
	p.Enable(context.Background())
	p.Close()
	p.Enable(context.Background())

	assert.Empty(t, sched.pending())
	assert.False(t, p.Enabled())
}

func TestPoller_SystemSchedulerRunsCycles(t *testing.T) {
	t.Parallel()

	consumer := &recordingConsumer{}
	p := NewPoller(PollerConfig{
		Fetcher:  &scriptedFetcher{},
		Consumer: consumer,
		Logger:   testLogger(t),
	})
	defer p.Close()

	p.Enable(context.Background())

	assert.Eventually(t, func() bool { return consumer.count() >= 1 }, 2*time.Second, 10*time.Millisecond)
}
