package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/tonimelisma/playtrack/internal/notify"
)

// SessionController forwards user commands to the process monitor. The
// next poll reflects the result.
type SessionController interface {
	PauseSession(ctx context.Context, gameID string) error
	ResumeSession(ctx context.Context, gameID string) error
	EndSession(ctx context.Context, gameID string) error
}

// Command names, used in logs, notifications and metrics.
const (
	CommandPause  = "pause"
	CommandResume = "resume"
	CommandEnd    = "end"
)

// MachineConfig holds the collaborators of a Machine.
type MachineConfig struct {
	Controller SessionController
	Notifier   notify.Notifier
	Logger     *slog.Logger

	// OnSessionEnded is called once per confirmed session end, after the
	// process monitor accepted the end command.
	OnSessionEnded func(ctx context.Context, gameID string)

	// OnChange is called after the collection or a pending slot changes.
	OnChange func()

	// OnCommand, if set, observes every forwarded command and its result.
	OnCommand func(command string, err error)
}

// Machine interprets each fresh status collection. It owns the current
// collection and the two pending prompt slots; everything else lives in the
// process monitor.
type Machine struct {
	ctrl      SessionController
	notifier  notify.Notifier
	logger    *slog.Logger
	onEnded   func(ctx context.Context, gameID string)
	onChange  func()
	onCommand func(command string, err error)

	mu            sync.Mutex
	statuses      []Status
	pendingEnd    *Status
	pendingResume *Status
}

// NewMachine creates a Machine with an empty collection.
func NewMachine(cfg MachineConfig) *Machine {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Discard
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Machine{
		ctrl:      cfg.Controller,
		notifier:  notifier,
		logger:    logger,
		onEnded:   cfg.OnSessionEnded,
		onChange:  cfg.OnChange,
		onCommand: cfg.OnCommand,
	}
}

// Apply replaces the collection and re-derives both pending slots from it.
func (m *Machine) Apply(statuses []Status) {
	next := slices.Clone(statuses)

	m.mu.Lock()
	m.statuses = next
	m.pendingEnd = derivePending(next, m.pendingEnd, Status.needsEnd)
	m.pendingResume = derivePending(next, m.pendingResume, Status.needsResume)
	m.mu.Unlock()

	m.changed()
}

// derivePending picks the slot's entry for this collection. The current
// entry stays selected while it is still flagged; otherwise the first
// flagged record wins.
func derivePending(statuses []Status, current *Status, flagged func(Status) bool) *Status {
	if current != nil {
		for i := range statuses {
			if statuses[i].GameID == current.GameID && flagged(statuses[i]) {
				s := statuses[i]
				return &s
			}
		}
	}

	for i := range statuses {
		if flagged(statuses[i]) {
			s := statuses[i]
			return &s
		}
	}

	return nil
}

// Statuses returns a copy of the current collection.
func (m *Machine) Statuses() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.statuses)
}

// PendingConfirmation returns the game awaiting an end-of-session answer.
func (m *Machine) PendingConfirmation() (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pendingEnd == nil {
		return Status{}, false
	}

	return *m.pendingEnd, true
}

// PendingResume returns the paused game awaiting a resume answer.
func (m *Machine) PendingResume() (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pendingResume == nil {
		return Status{}, false
	}

	return *m.pendingResume, true
}

// Pause pauses a game's session.
func (m *Machine) Pause(ctx context.Context, gameID string) error {
	return m.forward(ctx, CommandPause, gameID, m.ctrl.PauseSession)
}

// Resume resumes a paused session.
func (m *Machine) Resume(ctx context.Context, gameID string) error {
	return m.forward(ctx, CommandResume, gameID, m.ctrl.ResumeSession)
}

// ConfirmResume answers the resume prompt with "resume".
func (m *Machine) ConfirmResume(ctx context.Context) error {
	s, ok := m.take(&m.pendingResume)
	if !ok {
		return nil
	}

	return m.forward(ctx, CommandResume, s.GameID, m.ctrl.ResumeSession)
}

// KeepPausedOnResume answers the resume prompt with "stay paused". Pausing
// again clears the monitor's resume flag.
func (m *Machine) KeepPausedOnResume(ctx context.Context) error {
	s, ok := m.take(&m.pendingResume)
	if !ok {
		return nil
	}

	return m.forward(ctx, CommandPause, s.GameID, m.ctrl.PauseSession)
}

// ConfirmEnd answers the end prompt with "end session". On success the
// session-ended hook runs with the game's id.
func (m *Machine) ConfirmEnd(ctx context.Context) error {
	s, ok := m.take(&m.pendingEnd)
	if !ok {
		return nil
	}

	if err := m.forward(ctx, CommandEnd, s.GameID, m.ctrl.EndSession); err != nil {
		return err
	}

	if m.onEnded != nil {
		m.onEnded(ctx, s.GameID)
	}

	return nil
}

// KeepPaused answers the end prompt with "keep the session, paused".
func (m *Machine) KeepPaused(ctx context.Context) error {
	s, ok := m.take(&m.pendingEnd)
	if !ok {
		return nil
	}

	return m.forward(ctx, CommandPause, s.GameID, m.ctrl.PauseSession)
}

// take clears a pending slot and returns what it held. Clearing before the
// command is sent makes a double answer a no-op.
func (m *Machine) take(slot **Status) (Status, bool) {
	m.mu.Lock()
	s := *slot
	*slot = nil
	m.mu.Unlock()

	if s == nil {
		return Status{}, false
	}

	m.changed()

	return *s, true
}

func (m *Machine) forward(
	ctx context.Context, command, gameID string, fn func(context.Context, string) error,
) error {
	err := fn(ctx, gameID)

	if m.onCommand != nil {
		m.onCommand(command, err)
	}

	if err != nil {
		m.logger.Warn("session command failed",
			slog.String("command", command),
			slog.String("game_id", gameID),
			slog.String("error", err.Error()),
		)

		m.notifier.Notify(notify.Errorf(gameID,
			fmt.Sprintf("Could not %s %s", command, m.title(gameID)), err))

		return fmt.Errorf("monitor: %s %s: %w", command, gameID, err)
	}

	m.logger.Info("session command sent",
		slog.String("command", command),
		slog.String("game_id", gameID),
	)

	return nil
}

// title returns the display title for a game id from the current collection.
func (m *Machine) title(gameID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.statuses {
		if m.statuses[i].GameID == gameID && m.statuses[i].GameTitle != "" {
			return m.statuses[i].GameTitle
		}
	}

	return gameID
}

func (m *Machine) changed() {
	if m.onChange != nil {
		m.onChange()
	}
}
