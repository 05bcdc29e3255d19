// Package savesync decides, after a confirmed session end, whether a game's
// local save folder has drifted from the copy in the cloud, and offers the
// user a single pending upload to resolve it.
package savesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tonimelisma/playtrack/internal/notify"
)

// ErrNoSavePath is returned by a GameLookup for a game with no save folder.
var ErrNoSavePath = errors.New("savesync: no save folder configured")

// CloudGate reports whether cloud features are enabled and usable.
type CloudGate interface {
	CloudReady(ctx context.Context) bool
}

// SaveTarget is what the decider needs to know about a game.
type SaveTarget struct {
	Title          string
	SaveFolderPath string
}

// GameLookup resolves a game's save folder from the catalog.
type GameLookup interface {
	SaveTarget(ctx context.Context, gameID string) (SaveTarget, error)
}

// Fingerprinter digests a local folder.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, path string) (string, error)
}

// RemoteFingerprints reads and records the fingerprint of the cloud copy.
// RemoteFingerprint reports found=false when no record exists.
type RemoteFingerprints interface {
	RemoteFingerprint(ctx context.Context, gameID string) (fp string, found bool, err error)
	SaveRemoteFingerprint(ctx context.Context, gameID, fp string) error
}

// FolderUploader pushes a local folder to a remote path.
type FolderUploader interface {
	UploadFolder(ctx context.Context, localPath, remotePath string) error
}

// PendingUpload is the single drift awaiting the user's decision.
type PendingUpload struct {
	GameID           string `json:"game_id"`
	GameTitle        string `json:"game_title"`
	SaveFolderPath   string `json:"save_folder_path"`
	LocalFingerprint string `json:"local_fingerprint"`
}

// Outcome is the result of one drift check.
type Outcome string

// Check outcomes.
const (
	OutcomeDrift              Outcome = "drift"
	OutcomeInSync             Outcome = "in_sync"
	OutcomeSuppressed         Outcome = "suppressed"
	OutcomeSkippedCloud       Outcome = "skipped_cloud"
	OutcomeSkippedNoPath      Outcome = "skipped_no_path"
	OutcomeSkippedFingerprint Outcome = "skipped_fingerprint"
	OutcomeSkippedRemote      Outcome = "skipped_remote"
)

// RemotePath returns the cloud folder holding a game's saves.
func RemotePath(gameID string) string {
	return "saves/" + gameID
}

// Config holds a Decider's collaborators. Gate may be nil (cloud always ready).
type Config struct {
	Gate          CloudGate
	Games         GameLookup
	Fingerprinter Fingerprinter
	Remote        RemoteFingerprints
	Uploader      FolderUploader
	Notifier      notify.Notifier
	Logger        *slog.Logger

	// OnChange is called after the pending upload is created or cleared.
	OnChange func()

	// OnCheck and OnUpload observe results for metrics.
	OnCheck  func(Outcome)
	OnUpload func(err error)
}

// Decider owns the PendingUpload slot and the per-game upload guard.
type Decider struct {
	cfg      Config
	notifier notify.Notifier
	logger   *slog.Logger

	mu       sync.Mutex
	pending  *PendingUpload
	inFlight map[string]bool
	wg       sync.WaitGroup
}

// NewDecider creates a Decider.
func NewDecider(cfg Config) *Decider {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Discard
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Decider{
		cfg:      cfg,
		notifier: notifier,
		logger:   logger,
		inFlight: make(map[string]bool),
	}
}

// Check runs the drift check for a game whose session just ended.
// Preconditions that do not hold are silent skips.
func (d *Decider) Check(ctx context.Context, gameID string) Outcome {
	outcome := d.check(ctx, gameID)

	d.logger.Debug("drift check finished",
		slog.String("game_id", gameID),
		slog.String("outcome", string(outcome)),
	)

	if d.cfg.OnCheck != nil {
		d.cfg.OnCheck(outcome)
	}

	return outcome
}

func (d *Decider) check(ctx context.Context, gameID string) Outcome {
	if d.uploading(gameID) {
		return OutcomeSuppressed
	}

	if d.cfg.Gate != nil && !d.cfg.Gate.CloudReady(ctx) {
		return OutcomeSkippedCloud
	}

	target, err := d.cfg.Games.SaveTarget(ctx, gameID)
	if err != nil && !errors.Is(err, ErrNoSavePath) {
		d.logger.Warn("resolving save folder failed",
			slog.String("game_id", gameID),
			slog.String("error", err.Error()),
		)
	}

	if err != nil || target.SaveFolderPath == "" {
		return OutcomeSkippedNoPath
	}

	local, err := d.cfg.Fingerprinter.Fingerprint(ctx, target.SaveFolderPath)
	if err != nil {
		d.logger.Warn("computing local fingerprint failed",
			slog.String("game_id", gameID),
			slog.String("path", target.SaveFolderPath),
			slog.String("error", err.Error()),
		)

		return OutcomeSkippedFingerprint
	}

	remote, found, err := d.cfg.Remote.RemoteFingerprint(ctx, gameID)
	if err != nil {
		d.logger.Warn("fetching remote fingerprint failed",
			slog.String("game_id", gameID),
			slog.String("error", err.Error()),
		)

		return OutcomeSkippedRemote
	}

	if found && remote == local {
		return OutcomeInSync
	}

	d.mu.Lock()

	// An upload may have started while the fingerprints were computed.
	if d.inFlight[gameID] {
		d.mu.Unlock()
		return OutcomeSuppressed
	}

	if d.pending != nil {
		other := d.pending.GameID
		d.mu.Unlock()

		d.logger.Info("drift detected while another upload awaits a decision",
			slog.String("game_id", gameID),
			slog.String("pending_game_id", other),
		)

		return OutcomeSuppressed
	}

	d.pending = &PendingUpload{
		GameID:           gameID,
		GameTitle:        target.Title,
		SaveFolderPath:   target.SaveFolderPath,
		LocalFingerprint: local,
	}
	d.mu.Unlock()

	d.logger.Info("save drift detected",
		slog.String("game_id", gameID),
		slog.Bool("remote_found", found),
	)

	d.notifier.Notify(notify.Notification{
		Level:   notify.LevelInfo,
		Title:   fmt.Sprintf("Saves for %s changed", target.Title),
		Message: "Upload them to the cloud?",
		GameID:  gameID,
	})
	d.changed()

	return OutcomeDrift
}

// Pending returns the outstanding upload, if any.
func (d *Decider) Pending() (PendingUpload, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending == nil {
		return PendingUpload{}, false
	}

	return *d.pending, true
}

// Upload accepts the pending upload. The slot is cleared before the upload
// starts; the upload itself runs in the background and outlives ctx's
// cancellation. Returns false when nothing was pending.
func (d *Decider) Upload(ctx context.Context) bool {
	d.mu.Lock()

	p := d.pending
	if p == nil {
		d.mu.Unlock()
		return false
	}

	d.pending = nil
	d.inFlight[p.GameID] = true
	d.wg.Add(1)
	d.mu.Unlock()

	d.changed()

	go d.upload(context.WithoutCancel(ctx), *p)

	return true
}

// Skip discards the pending upload. Returns false when nothing was pending.
func (d *Decider) Skip() bool {
	d.mu.Lock()

	p := d.pending
	d.pending = nil
	d.mu.Unlock()

	if p == nil {
		return false
	}

	d.logger.Info("upload skipped", slog.String("game_id", p.GameID))
	d.changed()

	return true
}

// Wait blocks until every started upload has finished.
func (d *Decider) Wait() {
	d.wg.Wait()
}

func (d *Decider) upload(ctx context.Context, p PendingUpload) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		delete(d.inFlight, p.GameID)
		d.mu.Unlock()
	}()

	d.logger.Info("uploading saves",
		slog.String("game_id", p.GameID),
		slog.String("path", p.SaveFolderPath),
	)

	err := d.cfg.Uploader.UploadFolder(ctx, p.SaveFolderPath, RemotePath(p.GameID))
	if err == nil {
		err = d.cfg.Remote.SaveRemoteFingerprint(ctx, p.GameID, p.LocalFingerprint)
	}

	if d.cfg.OnUpload != nil {
		d.cfg.OnUpload(err)
	}

	if err != nil {
		d.logger.Error("save upload failed",
			slog.String("game_id", p.GameID),
			slog.String("error", err.Error()),
		)
		d.notifier.Notify(notify.Errorf(p.GameID, fmt.Sprintf("Could not upload saves for %s", p.GameTitle), err))

		return
	}

	d.logger.Info("save upload complete", slog.String("game_id", p.GameID))
	d.notifier.Notify(notify.Notification{
		Level:  notify.LevelInfo,
		Title:  fmt.Sprintf("Saves for %s uploaded", p.GameTitle),
		GameID: p.GameID,
	})
}

func (d *Decider) uploading(gameID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.inFlight[gameID]
}

func (d *Decider) changed() {
	if d.cfg.OnChange != nil {
		d.cfg.OnChange()
	}
}
