package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/playtrack/internal/catalog"
	"github.com/tonimelisma/playtrack/internal/cloud"
	"github.com/tonimelisma/playtrack/internal/savesync"
)

// Command names accepted by Execute.
const (
	CmdFocus             = "focus"
	CmdVisible           = "visible"
	CmdTracking          = "tracking"
	CmdPause             = "pause"
	CmdResume            = "resume"
	CmdResumeConfirm     = "resume_confirm"
	CmdKeepPausedConfirm = "keep_paused_confirm"
	CmdEndConfirm        = "end_confirm"
	CmdKeepPaused        = "keep_paused"
	CmdUpload            = "upload"
	CmdSkip              = "skip"
	CmdImportStart       = "import_start"
	CmdImportResolve     = "import_resolve"
	CmdImportAbort       = "import_abort"
	CmdDrift             = "drift"
)

// Command errors.
var (
	ErrUnknownCommand = errors.New("engine: unknown command")
	ErrMissingGame    = errors.New("engine: command requires a game id")
	ErrMissingValue   = errors.New("engine: command requires a value")
	ErrNothingPending = errors.New("engine: no upload awaiting a decision")
	ErrUnknownEntry   = errors.New("engine: catalog entry not available")
)

// Command is one user action, as received from the bridge or the CLI.
type Command struct {
	Name       string             `json:"name"`
	GameID     string             `json:"game_id,omitempty"`
	Value      *bool              `json:"value,omitempty"`
	Resolution catalog.Resolution `json:"resolution,omitempty"`
	IDs        []string           `json:"ids,omitempty"`
}

// Execute runs cmd. Session commands wake the poller so the next status
// reflects the result without waiting for the idle backoff.
func (e *Engine) Execute(ctx context.Context, cmd Command) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()

	if closed {
		return ErrClosed
	}

	e.logger.Debug("executing command", slog.String("command", cmd.Name), slog.String("game_id", cmd.GameID))

	switch cmd.Name {
	case CmdFocus:
		if cmd.Value == nil {
			return ErrMissingValue
		}

		e.poller.SetFocused(*cmd.Value)

		return nil
	case CmdVisible:
		if cmd.Value == nil {
			return ErrMissingValue
		}

		if *cmd.Value {
			e.poller.Wake()
		}

		return nil
	case CmdTracking:
		if cmd.Value == nil {
			return ErrMissingValue
		}

		e.SetTracking(*cmd.Value)

		return nil
	case CmdUpload:
		if !e.decider.Upload(ctx) {
			return ErrNothingPending
		}

		return nil
	case CmdSkip:
		if !e.decider.Skip() {
			return ErrNothingPending
		}

		return nil
	case CmdImportStart:
		_, err := e.StartImport(ctx, cmd.IDs)
		return err
	case CmdImportResolve:
		_, err := e.ResolveImport(ctx, cmd.Resolution)
		return err
	case CmdImportAbort:
		_, err := e.AbortImport()
		return err
	case CmdDrift:
		if cmd.GameID == "" {
			return ErrMissingGame
		}

		e.CheckDrift(ctx, cmd.GameID)

		return nil
	}

	err := e.sessionCommand(ctx, cmd)
	if errors.Is(err, ErrUnknownCommand) {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Name)
	}

	e.poller.Wake()

	return err
}

func (e *Engine) sessionCommand(ctx context.Context, cmd Command) error {
	switch cmd.Name {
	case CmdPause, CmdResume:
		if cmd.GameID == "" {
			return ErrMissingGame
		}

		if cmd.Name == CmdPause {
			return e.machine.Pause(ctx, cmd.GameID)
		}

		return e.machine.Resume(ctx, cmd.GameID)
	case CmdResumeConfirm:
		return e.machine.ConfirmResume(ctx)
	case CmdKeepPausedConfirm:
		return e.machine.KeepPausedOnResume(ctx)
	case CmdEndConfirm:
		return e.machine.ConfirmEnd(ctx)
	case CmdKeepPaused:
		return e.machine.KeepPaused(ctx)
	default:
		return ErrUnknownCommand
	}
}

// CheckDrift runs a drift check for gameID on demand.
func (e *Engine) CheckDrift(ctx context.Context, gameID string) savesync.Outcome {
	return e.decider.Check(ctx, gameID)
}

// LoadCatalog refreshes and returns the cloud catalog entries available
// for import.
func (e *Engine) LoadCatalog(ctx context.Context) ([]catalog.RemoteEntry, error) {
	return e.importer.LoadRemote(ctx)
}

// AvailableEntries returns the entries from the last LoadCatalog that have
// not been imported yet.
func (e *Engine) AvailableEntries() []catalog.RemoteEntry {
	return e.importer.Available()
}

// StartImport begins an import run over the available entries with the
// given ids, in the given order. No ids selects every available entry.
func (e *Engine) StartImport(ctx context.Context, ids []string) (catalog.Report, error) {
	available := e.importer.Available()

	selected := available
	if len(ids) > 0 {
		byID := make(map[string]catalog.RemoteEntry, len(available))
		for _, a := range available {
			byID[a.ID] = a
		}

		selected = make([]catalog.RemoteEntry, 0, len(ids))
		for _, id := range ids {
			entry, ok := byID[id]
			if !ok {
				return catalog.Report{}, fmt.Errorf("%w: %s", ErrUnknownEntry, id)
			}

			selected = append(selected, entry)
		}
	}

	return e.importer.Start(ctx, selected)
}

// ResolveImport answers the pending import conflict.
func (e *Engine) ResolveImport(ctx context.Context, res catalog.Resolution) (catalog.Report, error) {
	return e.importer.Resolve(ctx, res)
}

// AbortImport ends a blocked import run.
func (e *Engine) AbortImport() (catalog.Report, error) {
	return e.importer.Abort()
}

// ImportConflict returns the collision a blocked run is waiting on.
func (e *Engine) ImportConflict() (catalog.Conflict, bool) {
	return e.importer.Conflict()
}

// ImportReport returns the partition of the current or last import run.
func (e *Engine) ImportReport() catalog.Report {
	return e.importer.Report()
}

// PublishGame writes a local game to the cloud catalog so other machines
// can import it.
func (e *Engine) PublishGame(ctx context.Context, gameID string) error {
	c, err := e.cloudClient()
	if err != nil {
		return err
	}

	g, err := e.store.GetGame(ctx, gameID)
	if err != nil {
		return fmt.Errorf("engine: publishing %s: %w", gameID, err)
	}

	id := g.RemoteID
	if id == "" {
		id = g.ID
	}

	if err := c.PutCatalogEntry(ctx, cloud.CatalogEntry{
		ID:           id,
		Title:        g.Title,
		ProcessLabel: g.ProcessLabel,
	}); err != nil {
		return fmt.Errorf("engine: publishing %s: %w", gameID, err)
	}

	e.logger.Info("game published to cloud catalog", slog.String("game_id", gameID), slog.String("entry_id", id))

	return nil
}
