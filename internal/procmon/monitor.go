// Package procmon is the process monitor: it owns live play sessions,
// decides from process observations when a session needs the user's
// confirmation, and persists finished sessions. It implements the
// monitor.StatusFetcher and monitor.SessionController contracts.
package procmon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/playtrack/internal/monitor"
	"github.com/tonimelisma/playtrack/internal/store"
)

// ErrNoSession is returned by commands for a game without a live session.
var ErrNoSession = errors.New("procmon: no live session")

// GameSource lists the catalog's games.
type GameSource interface {
	ListGames(ctx context.Context) ([]store.Game, error)
}

// SessionRecorder persists finished sessions.
type SessionRecorder interface {
	RecordSession(ctx context.Context, sess *store.Session) error
}

// liveSession is the monitor's state for one game between start and end.
type liveSession struct {
	game      store.Game
	startedAt time.Time
	lastTick  time.Time
	played    time.Duration
	running   bool
	paused    bool
	needsEnd  bool
	// needsResume is raised when a paused game's process reappears.
	needsResume bool
}

// accrue adds the time since the last tick when the game was actively played.
func (s *liveSession) accrue(now time.Time) {
	if s.running && !s.paused && !s.needsEnd && now.After(s.lastTick) {
		s.played += now.Sub(s.lastTick)
	}

	s.lastTick = now
}

// observe applies one process observation.
func (s *liveSession) observe(running bool) {
	switch {
	case running && !s.running:
		// Process (re)appeared.
		s.needsEnd = false
		if s.paused {
			s.needsResume = true
		}
	case !running && s.running:
		// Process vanished.
		if !s.paused {
			s.needsEnd = true
		}
	}

	s.running = running
}

// Monitor tracks sessions for every game with a process label.
type Monitor struct {
	games    GameSource
	recorder SessionRecorder
	procs    ProcessLister
	logger   *slog.Logger
	nowFunc  func() time.Time // injectable for deterministic tests
	newID    func() string

	mu   sync.Mutex
	live map[string]*liveSession
}

// New creates a Monitor.
func New(games GameSource, recorder SessionRecorder, procs ProcessLister, logger *slog.Logger) *Monitor {
	return &Monitor{
		games:    games,
		recorder: recorder,
		procs:    procs,
		logger:   logger,
		nowFunc:  time.Now,
		newID:    uuid.NewString,
		live:     make(map[string]*liveSession),
	}
}

// FetchStatus observes running processes, advances every session, and
// returns one record per tracked game ordered by title.
func (m *Monitor) FetchStatus(ctx context.Context) ([]monitor.Status, error) {
	games, err := m.games.ListGames(ctx)
	if err != nil {
		return nil, fmt.Errorf("procmon: listing games: %w", err)
	}

	running, err := m.procs.Running(ctx)
	if err != nil {
		return nil, fmt.Errorf("procmon: listing processes: %w", err)
	}

	now := m.nowFunc()

	m.mu.Lock()
	defer m.mu.Unlock()

	tracked := make(map[string]bool, len(games))
	statuses := make([]monitor.Status, 0, len(games))

	for i := range games {
		g := games[i]
		if g.ProcessLabel == "" {
			continue
		}

		tracked[g.ID] = true
		isRunning := running[normalizeProcess(g.ProcessLabel)]

		s, ok := m.live[g.ID]
		if !ok && isRunning {
			s = &liveSession{game: g, startedAt: now, lastTick: now, running: true}
			m.live[g.ID] = s

			m.logger.Info("game session started",
				slog.String("game_id", g.ID),
				slog.String("process", g.ProcessLabel),
			)
		} else if ok {
			s.game = g
			s.accrue(now)
			s.observe(isRunning)
		}

		statuses = append(statuses, statusOf(g, s))
	}

	for id := range m.live {
		if !tracked[id] {
			m.logger.Info("dropping session for untracked game", slog.String("game_id", id))
			delete(m.live, id)
		}
	}

	return statuses, nil
}

func statusOf(g store.Game, s *liveSession) monitor.Status {
	st := monitor.Status{
		GameID:       g.ID,
		GameTitle:    g.Title,
		ProcessLabel: g.ProcessLabel,
	}

	if s == nil {
		return st
	}

	st.IsRunning = s.running
	st.PlaySeconds = int64(s.played / time.Second)
	st.IsPaused = s.paused
	st.NeedsEndConfirmation = s.needsEnd
	st.NeedsResumeConfirmation = s.needsResume

	return st
}

// PauseSession pauses play-time accrual. It also clears both confirmation
// flags, which is how "keep paused" answers either prompt.
func (m *Monitor) PauseSession(_ context.Context, gameID string) error {
	return m.update(gameID, func(s *liveSession, now time.Time) {
		s.accrue(now)
		s.paused = true
		s.needsEnd = false
		s.needsResume = false
	})
}

// ResumeSession resumes accrual.
func (m *Monitor) ResumeSession(_ context.Context, gameID string) error {
	return m.update(gameID, func(s *liveSession, now time.Time) {
		s.accrue(now)
		s.paused = false
		s.needsResume = false
	})
}

// EndSession persists the session and forgets its live state.
func (m *Monitor) EndSession(ctx context.Context, gameID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.live[gameID]
	if !ok {
		return fmt.Errorf("%w for game %s", ErrNoSession, gameID)
	}

	now := m.nowFunc()
	s.accrue(now)

	sess := &store.Session{
		ID:          m.newID(),
		GameID:      gameID,
		StartedAt:   s.startedAt.UTC(),
		EndedAt:     now.UTC(),
		PlaySeconds: int64(s.played / time.Second),
	}

	if err := m.recorder.RecordSession(ctx, sess); err != nil {
		return fmt.Errorf("procmon: ending session for %s: %w", gameID, err)
	}

	delete(m.live, gameID)

	return nil
}

func (m *Monitor) update(gameID string, fn func(s *liveSession, now time.Time)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.live[gameID]
	if !ok {
		return fmt.Errorf("%w for game %s", ErrNoSession, gameID)
	}

	fn(s, m.nowFunc())

	return nil
}

// normalizeProcess maps a process label or observed name to a lookup key.
func normalizeProcess(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
