package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/playtrack/internal/catalog"
	"github.com/tonimelisma/playtrack/internal/cloud"
	"github.com/tonimelisma/playtrack/internal/savesync"
	"github.com/tonimelisma/playtrack/internal/store"
)

// ErrCloudDisabled is returned by cloud-backed operations when cloud
// features are off or unconfigured.
var ErrCloudDisabled = errors.New("engine: cloud features are disabled")

// credentialsTTL bounds how long a credentials check result is trusted.
const credentialsTTL = 5 * time.Minute

// CloudClient is the subset of the cloud client the engine uses.
type CloudClient interface {
	savesync.RemoteFingerprints
	savesync.FolderUploader
	ListCatalog(ctx context.Context) ([]cloud.CatalogEntry, error)
	GetCatalogEntry(ctx context.Context, id string) (*cloud.CatalogEntry, error)
	PutCatalogEntry(ctx context.Context, e cloud.CatalogEntry) error
	CheckCredentials(ctx context.Context) error
}

// saveTargets resolves save folders from the library store.
type saveTargets struct {
	store *store.Store
}

func (s saveTargets) SaveTarget(ctx context.Context, gameID string) (savesync.SaveTarget, error) {
	g, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return savesync.SaveTarget{}, err
	}

	if g.SaveFolderPath == "" {
		return savesync.SaveTarget{Title: g.Title}, savesync.ErrNoSavePath
	}

	return savesync.SaveTarget{Title: g.Title, SaveFolderPath: g.SaveFolderPath}, nil
}

// localCatalog exposes the library store as the import's local side.
type localCatalog struct {
	store *store.Store
}

func (l localCatalog) ListLocal(ctx context.Context) ([]catalog.LocalEntry, error) {
	games, err := l.store.ListGames(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]catalog.LocalEntry, 0, len(games))
	for _, g := range games {
		out = append(out, catalog.LocalEntry{ID: g.ID, Title: g.Title})
	}

	return out, nil
}

func (l localCatalog) DeleteLocal(ctx context.Context, id string) error {
	return l.store.DeleteGame(ctx, id)
}

// remoteCatalog imports cloud catalog entries into the library store.
type remoteCatalog struct {
	engine *Engine
}

func (r remoteCatalog) ListRemote(ctx context.Context) ([]catalog.RemoteEntry, error) {
	c, err := r.engine.cloudClient()
	if err != nil {
		return nil, err
	}

	entries, err := c.ListCatalog(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]catalog.RemoteEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, catalog.RemoteEntry{ID: e.ID, Title: e.Title, ProcessLabel: e.ProcessLabel})
	}

	return out, nil
}

// ImportRemote fetches the entry and adds it under a fresh local id.
func (r remoteCatalog) ImportRemote(ctx context.Context, remoteID string) error {
	c, err := r.engine.cloudClient()
	if err != nil {
		return err
	}

	e, err := c.GetCatalogEntry(ctx, remoteID)
	if err != nil {
		return err
	}

	return r.engine.store.InsertGame(ctx, &store.Game{
		ID:           uuid.NewString(),
		Title:        e.Title,
		ProcessLabel: e.ProcessLabel,
		RemoteID:     e.ID,
	})
}

// cloudGate answers CloudReady from the enabled flag and a cached
// credentials check.
type cloudGate struct {
	engine  *Engine
	logger  *slog.Logger
	nowFunc func() time.Time

	mu      sync.Mutex
	checked time.Time
	valid   bool
}

func (g *cloudGate) CloudReady(ctx context.Context) bool {
	c, err := g.engine.cloudClient()
	if err != nil {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFunc()
	if !g.checked.IsZero() && now.Sub(g.checked) < credentialsTTL {
		return g.valid
	}

	err = c.CheckCredentials(ctx)
	g.valid = err == nil
	g.checked = now

	if err != nil {
		g.logger.Info("cloud credentials unavailable", slog.String("error", err.Error()))
	}

	return g.valid
}

// reset forgets the cached result.
func (g *cloudGate) reset() {
	g.mu.Lock()
	g.checked = time.Time{}
	g.mu.Unlock()
}

// cloudClient returns the client when cloud features are usable.
func (e *Engine) cloudClient() (CloudClient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.cloudEnabled || e.cloud == nil {
		return nil, ErrCloudDisabled
	}

	return e.cloud, nil
}

// cloudSide forwards decider calls to the current client.
type cloudSide struct {
	engine *Engine
}

func (c cloudSide) RemoteFingerprint(ctx context.Context, gameID string) (string, bool, error) {
	client, err := c.engine.cloudClient()
	if err != nil {
		return "", false, err
	}

	return client.RemoteFingerprint(ctx, gameID)
}

func (c cloudSide) SaveRemoteFingerprint(ctx context.Context, gameID, fp string) error {
	client, err := c.engine.cloudClient()
	if err != nil {
		return err
	}

	return client.SaveRemoteFingerprint(ctx, gameID, fp)
}

func (c cloudSide) UploadFolder(ctx context.Context, localPath, remotePath string) error {
	client, err := c.engine.cloudClient()
	if err != nil {
		return fmt.Errorf("uploading %s: %w", localPath, err)
	}

	return client.UploadFolder(ctx, localPath, remotePath)
}
