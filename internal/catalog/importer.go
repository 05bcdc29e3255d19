// Package catalog merges entries from the cloud catalog into the local one.
// An import run drains a queue of selected entries one at a time and stops
// at the first title collision until the user decides how to resolve it.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/tonimelisma/playtrack/internal/notify"
)

// Sentinel errors.
var (
	ErrRunActive  = errors.New("catalog: an import run is already active")
	ErrNoConflict = errors.New("catalog: no conflict awaiting resolution")
)

// LocalEntry is a game in the local catalog.
type LocalEntry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// RemoteEntry is a game in the cloud catalog.
type RemoteEntry struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	ProcessLabel string `json:"process_label,omitempty"`
}

// LocalCatalog lists and deletes local entries.
type LocalCatalog interface {
	ListLocal(ctx context.Context) ([]LocalEntry, error)
	DeleteLocal(ctx context.Context, id string) error
}

// RemoteCatalog lists cloud entries and imports one into the local catalog.
type RemoteCatalog interface {
	ListRemote(ctx context.Context) ([]RemoteEntry, error)
	ImportRemote(ctx context.Context, remoteID string) error
}

// State is the import run's position in its lifecycle.
type State int

// Run states.
const (
	StateIdle State = iota
	StateImporting
	StateBlocked
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateImporting:
		return "importing"
	case StateBlocked:
		return "blocked"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	for st := StateIdle; st <= StateAborted; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}

	return fmt.Errorf("catalog: unknown state %q", b)
}

// Resolution answers a Conflict.
type Resolution string

// Resolutions.
const (
	// ResolveDuplicate imports the entry alongside the local matches.
	ResolveDuplicate Resolution = "duplicate"
	// ResolveReplace deletes every local match, then imports the entry.
	ResolveReplace Resolution = "replace"
)

// Conflict is the single collision awaiting a decision.
type Conflict struct {
	Entry        RemoteEntry   `json:"entry"`
	LocalMatches []LocalEntry  `json:"local_matches"`
	Remaining    []RemoteEntry `json:"remaining"`
}

// Report partitions a run's selected entries.
type Report struct {
	State      State         `json:"state"`
	Imported   []RemoteEntry `json:"imported"`
	Unresolved []RemoteEntry `json:"unresolved,omitempty"`
	Abandoned  []RemoteEntry `json:"abandoned,omitempty"`
	Err        error         `json:"-"`
}

// Config holds an Importer's collaborators.
type Config struct {
	Local    LocalCatalog
	Remote   RemoteCatalog
	Notifier notify.Notifier
	Logger   *slog.Logger

	// OnChange is called after the state or the conflict changes.
	OnChange func()

	// OnImport observes every import attempt.
	OnImport func(err error)
}

// Importer runs import runs. At most one run is active at a time.
type Importer struct {
	cfg      Config
	notifier notify.Notifier
	logger   *slog.Logger

	mu        sync.Mutex
	state     State
	available []RemoteEntry
	index     titleIndex
	conflict  *Conflict
	report    Report
}

// NewImporter creates an idle Importer.
func NewImporter(cfg Config) *Importer {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Discard
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Importer{cfg: cfg, notifier: notifier, logger: logger}
}

// LoadRemote refreshes the in-memory list of cloud entries.
func (im *Importer) LoadRemote(ctx context.Context) ([]RemoteEntry, error) {
	entries, err := im.cfg.Remote.ListRemote(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing remote catalog: %w", err)
	}

	im.mu.Lock()
	im.available = slices.Clone(entries)
	im.mu.Unlock()

	im.logger.Debug("remote catalog loaded", slog.Int("entries", len(entries)))

	return entries, nil
}

// Available returns the cloud entries not yet imported by any run.
func (im *Importer) Available() []RemoteEntry {
	im.mu.Lock()
	defer im.mu.Unlock()

	return slices.Clone(im.available)
}

// State returns the current run state.
func (im *Importer) State() State {
	im.mu.Lock()
	defer im.mu.Unlock()

	return im.state
}

// Active reports whether a run is importing or blocked. Callers must not
// tear down while a run is active.
func (im *Importer) Active() bool {
	s := im.State()
	return s == StateImporting || s == StateBlocked
}

// Conflict returns the collision awaiting resolution, if any.
func (im *Importer) Conflict() (Conflict, bool) {
	im.mu.Lock()
	defer im.mu.Unlock()

	if im.conflict == nil {
		return Conflict{}, false
	}

	return cloneConflict(*im.conflict), true
}

// Report returns the partition of the current or last run.
func (im *Importer) Report() Report {
	im.mu.Lock()
	defer im.mu.Unlock()

	return im.snapshotLocked()
}

// Start begins a run over selected. It refreshes the local catalog, builds
// the title index once and drains the queue until it empties, fails or
// collides. A collision leaves the run Blocked; see Resolve and Abort.
func (im *Importer) Start(ctx context.Context, selected []RemoteEntry) (Report, error) {
	im.mu.Lock()
	if im.state == StateImporting || im.state == StateBlocked {
		im.mu.Unlock()
		return Report{}, ErrRunActive
	}

	im.state = StateImporting
	im.conflict = nil
	im.report = Report{}
	im.mu.Unlock()

	im.logger.Info("import run started", slog.Int("selected", len(selected)))
	im.changed()

	queue := slices.Clone(selected)

	local, err := im.cfg.Local.ListLocal(ctx)
	if err != nil {
		return im.abort(queue, fmt.Errorf("catalog: listing local catalog: %w", err))
	}

	im.mu.Lock()
	im.index = newTitleIndex(local)
	im.mu.Unlock()

	return im.drain(ctx, queue)
}

// Resolve answers the pending conflict and continues the run with the
// stored remainder.
func (im *Importer) Resolve(ctx context.Context, res Resolution) (Report, error) {
	if res != ResolveDuplicate && res != ResolveReplace {
		return Report{}, fmt.Errorf("catalog: unknown resolution %q", res)
	}

	im.mu.Lock()
	if im.state != StateBlocked || im.conflict == nil {
		im.mu.Unlock()
		return Report{}, ErrNoConflict
	}

	c := *im.conflict
	im.conflict = nil
	im.state = StateImporting
	im.mu.Unlock()

	im.logger.Info("import conflict resolved",
		slog.String("entry_id", c.Entry.ID),
		slog.String("resolution", string(res)),
	)
	im.changed()

	queue := append([]RemoteEntry{c.Entry}, c.Remaining...)

	if res == ResolveReplace {
		for _, m := range c.LocalMatches {
			if err := im.cfg.Local.DeleteLocal(ctx, m.ID); err != nil {
				return im.abort(queue, fmt.Errorf("catalog: deleting local entry %s: %w", m.ID, err))
			}

			im.mu.Lock()
			im.index.remove(m.ID)
			im.mu.Unlock()
		}
	}

	if err := im.importEntry(ctx, c.Entry); err != nil {
		return im.abort(queue, err)
	}

	return im.drain(ctx, c.Remaining)
}

// Abort ends a Blocked run. The conflicting entry counts as unresolved and
// the remainder as abandoned.
func (im *Importer) Abort() (Report, error) {
	im.mu.Lock()
	if im.state != StateBlocked || im.conflict == nil {
		im.mu.Unlock()
		return Report{}, ErrNoConflict
	}

	c := im.conflict
	im.conflict = nil
	im.state = StateAborted
	im.report.Unresolved = append(im.report.Unresolved, c.Entry)
	im.report.Abandoned = append(im.report.Abandoned, c.Remaining...)
	report := im.snapshotLocked()
	im.mu.Unlock()

	im.logger.Info("import run aborted by user",
		slog.Int("imported", len(report.Imported)),
		slog.Int("abandoned", len(report.Abandoned)),
	)
	im.changed()

	return report, nil
}

// drain imports queue head to tail, stopping at the first collision.
func (im *Importer) drain(ctx context.Context, queue []RemoteEntry) (Report, error) {
	for len(queue) > 0 {
		head := queue[0]

		im.mu.Lock()
		matches := im.index.lookup(head.Title)
		im.mu.Unlock()

		if len(matches) > 0 {
			return im.block(head, matches, queue[1:]), nil
		}

		if err := im.importEntry(ctx, head); err != nil {
			return im.abort(queue, err)
		}

		queue = queue[1:]
	}

	im.mu.Lock()
	im.state = StateDone
	report := im.snapshotLocked()
	im.mu.Unlock()

	im.logger.Info("import run complete", slog.Int("imported", len(report.Imported)))
	im.changed()

	return report, nil
}

func (im *Importer) block(entry RemoteEntry, matches []LocalEntry, rest []RemoteEntry) Report {
	im.mu.Lock()
	im.state = StateBlocked
	im.conflict = &Conflict{Entry: entry, LocalMatches: matches, Remaining: slices.Clone(rest)}
	report := im.snapshotLocked()
	im.mu.Unlock()

	im.logger.Info("import blocked on title collision",
		slog.String("entry_id", entry.ID),
		slog.String("title", entry.Title),
		slog.Int("local_matches", len(matches)),
	)
	im.notifier.Notify(notify.Notification{
		Level:   notify.LevelWarning,
		Title:   fmt.Sprintf("%s is already in your library", entry.Title),
		Message: "Import as a duplicate, replace the existing entry, or stop the import.",
	})
	im.changed()

	return report
}

// importEntry imports one entry and drops it from the available list.
func (im *Importer) importEntry(ctx context.Context, entry RemoteEntry) error {
	err := im.cfg.Remote.ImportRemote(ctx, entry.ID)

	if im.cfg.OnImport != nil {
		im.cfg.OnImport(err)
	}

	if err != nil {
		return fmt.Errorf("catalog: importing %s: %w", entry.Title, err)
	}

	im.mu.Lock()
	im.report.Imported = append(im.report.Imported, entry)
	im.available = slices.DeleteFunc(im.available, func(e RemoteEntry) bool {
		return e.ID == entry.ID
	})
	im.mu.Unlock()

	im.logger.Debug("catalog entry imported", slog.String("entry_id", entry.ID))

	return nil
}

// abort ends the run after a failure; every entry in queue is abandoned.
func (im *Importer) abort(queue []RemoteEntry, err error) (Report, error) {
	im.mu.Lock()
	im.state = StateAborted
	im.conflict = nil
	im.report.Abandoned = append(im.report.Abandoned, queue...)
	im.report.Err = err
	report := im.snapshotLocked()
	im.mu.Unlock()

	im.logger.Error("import run aborted",
		slog.Int("imported", len(report.Imported)),
		slog.Int("abandoned", len(report.Abandoned)),
		slog.String("error", err.Error()),
	)
	im.notifier.Notify(notify.Errorf("", "Import stopped", err))
	im.changed()

	return report, err
}

func (im *Importer) snapshotLocked() Report {
	return Report{
		State:      im.state,
		Imported:   slices.Clone(im.report.Imported),
		Unresolved: slices.Clone(im.report.Unresolved),
		Abandoned:  slices.Clone(im.report.Abandoned),
		Err:        im.report.Err,
	}
}

func (im *Importer) changed() {
	if im.cfg.OnChange != nil {
		im.cfg.OnChange()
	}
}

func cloneConflict(c Conflict) Conflict {
	c.LocalMatches = slices.Clone(c.LocalMatches)
	c.Remaining = slices.Clone(c.Remaining)

	return c
}
