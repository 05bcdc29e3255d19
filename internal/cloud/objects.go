package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Key layout under the client root.
const (
	savesPrefix       = "saves/"
	catalogPrefix     = "catalog/"
	fingerprintSuffix = ".fingerprint"
	catalogSuffix     = ".json"
	uploadWorkers     = 4
)

// Object is one entry of a bucket listing.
type Object struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

type listResponse struct {
	Objects []Object `json:"objects"`
}

// FingerprintRecord is the stored fingerprint of a game's cloud saves.
type FingerprintRecord struct {
	Fingerprint string    `json:"fingerprint"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CatalogEntry is one game published to the shared catalog.
type CatalogEntry struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	ProcessLabel string `json:"process_label,omitempty"`
}

// List returns the objects whose keys start with prefix. Keys are
// relative to the client root.
func (c *Client) List(ctx context.Context, prefix string) ([]Object, error) {
	q := url.Values{"prefix": {c.fullKey(prefix)}}

	resp, err := c.do(ctx, request{method: http.MethodGet, query: q})
	if err != nil {
		return nil, fmt.Errorf("cloud: listing %q: %w", prefix, err)
	}
	defer drain(resp)

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("cloud: decoding listing: %w", err)
	}

	out := make([]Object, 0, len(lr.Objects))
	for _, o := range lr.Objects {
		o.Key = strings.TrimPrefix(o.Key, c.rootPrefix())
		out = append(out, o)
	}

	return out, nil
}

// getJSON fetches key and decodes it into v.
func (c *Client) getJSON(ctx context.Context, key string, v any) error {
	resp, err := c.do(ctx, request{method: http.MethodGet, key: key})
	if err != nil {
		return err
	}
	defer drain(resp)

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("cloud: decoding %s: %w", key, err)
	}

	return nil
}

// putJSON stores v as JSON at key.
func (c *Client) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cloud: encoding %s: %w", key, err)
	}

	resp, err := c.do(ctx, request{
		method:      http.MethodPut,
		key:         key,
		body:        bytes.NewReader(data),
		contentType: "application/json",
	})
	if err != nil {
		return err
	}

	drain(resp)

	return nil
}

func (c *Client) deleteObject(ctx context.Context, key string) error {
	resp, err := c.do(ctx, request{method: http.MethodDelete, key: key})
	if err != nil {
		return err
	}

	drain(resp)

	return nil
}

// RemoteFingerprint returns the recorded fingerprint of a game's cloud
// saves; found is false when no record exists.
func (c *Client) RemoteFingerprint(ctx context.Context, gameID string) (string, bool, error) {
	var rec FingerprintRecord

	err := c.getJSON(ctx, savesPrefix+gameID+fingerprintSuffix, &rec)
	if errorIsNotFound(err) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("cloud: reading fingerprint for %s: %w", gameID, err)
	}

	return rec.Fingerprint, true, nil
}

// SaveRemoteFingerprint records fp as the fingerprint of a game's cloud saves.
func (c *Client) SaveRemoteFingerprint(ctx context.Context, gameID, fp string) error {
	rec := FingerprintRecord{Fingerprint: fp, UpdatedAt: c.nowFunc().UTC()}

	if err := c.putJSON(ctx, savesPrefix+gameID+fingerprintSuffix, rec); err != nil {
		return fmt.Errorf("cloud: recording fingerprint for %s: %w", gameID, err)
	}

	return nil
}

// UploadFolder mirrors localPath to remotePath: every regular file is
// uploaded, then remote files with no local counterpart are deleted.
func (c *Client) UploadFolder(ctx context.Context, localPath, remotePath string) error {
	remotePath = strings.Trim(remotePath, "/")

	var rels []string

	err := filepath.WalkDir(localPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(localPath, p)
		if err != nil {
			return err
		}

		rels = append(rels, filepath.ToSlash(rel))

		return nil
	})
	if err != nil {
		return fmt.Errorf("cloud: walking %s: %w", localPath, err)
	}

	existing, err := c.List(ctx, remotePath+"/")
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadWorkers)

	var (
		mu       sync.Mutex
		uploaded = make(map[string]bool, len(rels))
	)

	for _, rel := range rels {
		key := path.Join(remotePath, rel)

		g.Go(func() error {
			if err := c.putFile(gctx, key, filepath.Join(localPath, filepath.FromSlash(rel))); err != nil {
				return err
			}

			mu.Lock()
			uploaded[key] = true
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	var stale int

	for _, o := range existing {
		if uploaded[o.Key] {
			continue
		}

		if err := c.deleteObject(ctx, o.Key); err != nil && !errorIsNotFound(err) {
			return fmt.Errorf("cloud: deleting stale %s: %w", o.Key, err)
		}

		stale++
	}

	c.logger.Info("folder uploaded",
		slog.String("local", localPath),
		slog.String("remote", remotePath),
		slog.Int("files", len(rels)),
		slog.Int("stale_deleted", stale),
	)

	return nil
}

func (c *Client) putFile(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("cloud: opening %s: %w", localPath, err)
	}
	defer f.Close()

	resp, err := c.do(ctx, request{
		method:      http.MethodPut,
		key:         key,
		body:        f,
		contentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("cloud: uploading %s: %w", key, err)
	}

	drain(resp)

	return nil
}

// ListCatalog returns every entry in the shared catalog in listing order.
func (c *Client) ListCatalog(ctx context.Context) ([]CatalogEntry, error) {
	objects, err := c.List(ctx, catalogPrefix)
	if err != nil {
		return nil, err
	}

	entries := make([]CatalogEntry, 0, len(objects))

	for _, o := range objects {
		if !strings.HasSuffix(o.Key, catalogSuffix) {
			continue
		}

		var e CatalogEntry
		if err := c.getJSON(ctx, o.Key, &e); err != nil {
			return nil, fmt.Errorf("cloud: reading catalog entry %s: %w", o.Key, err)
		}

		if e.ID == "" {
			e.ID = strings.TrimSuffix(strings.TrimPrefix(o.Key, catalogPrefix), catalogSuffix)
		}

		entries = append(entries, e)
	}

	return entries, nil
}

// GetCatalogEntry fetches one catalog entry.
func (c *Client) GetCatalogEntry(ctx context.Context, id string) (*CatalogEntry, error) {
	var e CatalogEntry
	if err := c.getJSON(ctx, catalogPrefix+id+catalogSuffix, &e); err != nil {
		return nil, fmt.Errorf("cloud: reading catalog entry %s: %w", id, err)
	}

	if e.ID == "" {
		e.ID = id
	}

	return &e, nil
}

// PutCatalogEntry publishes a local game to the shared catalog.
func (c *Client) PutCatalogEntry(ctx context.Context, e CatalogEntry) error {
	if e.ID == "" {
		return fmt.Errorf("cloud: catalog entry id is required")
	}

	if err := c.putJSON(ctx, catalogPrefix+e.ID+catalogSuffix, e); err != nil {
		return fmt.Errorf("cloud: publishing catalog entry %s: %w", e.ID, err)
	}

	return nil
}

// CheckCredentials performs a cheap authenticated listing. It returns nil
// when the store accepts the credentials.
func (c *Client) CheckCredentials(ctx context.Context) error {
	_, err := c.List(ctx, catalogPrefix)
	if err != nil {
		if isAuthError(err) {
			return fmt.Errorf("cloud: credentials rejected: %w", err)
		}

		return err
	}

	return nil
}
