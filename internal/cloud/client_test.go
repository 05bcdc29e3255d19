package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

// noopSleep returns immediately, for fast retry tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

type staticToken string

func (t staticToken) Token() (string, error) {
	return string(t), nil
}

// objectStore is an in-memory bucket served over HTTP.
type objectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	auth    string
	// failures makes the next n requests answer with status.
	failures int
	status   int
}

func newObjectStore(t *testing.T) (*objectStore, *httptest.Server) {
	t.Helper()

	s := &objectStore{objects: make(map[string][]byte), auth: "Bearer test-token"}
	srv := httptest.NewServer(http.StripPrefix("/bucket", s))
	t.Cleanup(srv.Close)

	return s, srv
}

func (s *objectStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures > 0 {
		s.failures--
		w.Header().Set("X-Request-Id", "req-1")
		http.Error(w, "try later", s.status)

		return
	}

	if r.Header.Get("Authorization") != s.auth {
		http.Error(w, "bad token", http.StatusUnauthorized)
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/")

	switch {
	case r.Method == http.MethodGet && key == "":
		prefix := r.URL.Query().Get("prefix")

		var resp listResponse
		for k, v := range s.objects {
			if strings.HasPrefix(k, prefix) {
				resp.Objects = append(resp.Objects, Object{Key: k, Size: int64(len(v))})
			}
		}

		sort.Slice(resp.Objects, func(i, j int) bool { return resp.Objects[i].Key < resp.Objects[j].Key })
		_ = json.NewEncoder(w).Encode(resp)
	case r.Method == http.MethodGet:
		data, ok := s.objects[key]
		if !ok {
			http.NotFound(w, r)
			return
		}

		_, _ = w.Write(data)
	case r.Method == http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		s.objects[key] = data
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodDelete:
		if _, ok := s.objects[key]; !ok {
			http.NotFound(w, r)
			return
		}

		delete(s.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *objectStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for k := range s.objects {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}

func (s *objectStore) put(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[key] = []byte(value)
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()

	c := NewClient(srv.URL+"/bucket", "playtrack", srv.Client(), staticToken("test-token"), testLogger(t), "playtrack-test")
	c.sleepFunc = noopSleep

	return c
}

func TestRemoteFingerprint_RoundTrip(t *testing.T) {
	t.Parallel()

	store, srv := newObjectStore(t)
	c := newTestClient(t, srv)
	c.nowFunc = func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	fp, found, err := c.RemoteFingerprint(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, found, "absent record is not an error")
	assert.Empty(t, fp)

	require.NoError(t, c.SaveRemoteFingerprint(ctx, "g1", "abc123"))
	assert.Equal(t, []string{"playtrack/saves/g1.fingerprint"}, store.keys())

	fp, found, err = c.RemoteFingerprint(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "abc123", fp)
}

func TestUploadFolder_MirrorsAndPrunes(t *testing.T) {
	t.Parallel()

	store, srv := newObjectStore(t)
	c := newTestClient(t, srv)

	store.put("playtrack/saves/g1/old.sav", "stale")
	store.put("playtrack/saves/g1.fingerprint", `{"fingerprint":"x"}`)
	store.put("playtrack/saves/g10/keep.sav", "other game")

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "profile"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "slot1.sav"), []byte("level 3"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile", "stats"), []byte("deaths=1"), 0o644))

	require.NoError(t, c.UploadFolder(context.Background(), dir, "saves/g1"))

	assert.Equal(t, []string{
		"playtrack/saves/g1.fingerprint",
		"playtrack/saves/g1/profile/stats",
		"playtrack/saves/g1/slot1.sav",
		"playtrack/saves/g10/keep.sav",
	}, store.keys())
	assert.Equal(t, "level 3", string(store.objects["playtrack/saves/g1/slot1.sav"]))
}

func TestUploadFolder_MissingFolder(t *testing.T) {
	t.Parallel()

	_, srv := newObjectStore(t)
	c := newTestClient(t, srv)

	err := c.UploadFolder(context.Background(), filepath.Join(t.TempDir(), "nope"), "saves/g1")
	assert.Error(t, err)
}

func TestListCatalog(t *testing.T) {
	t.Parallel()

	store, srv := newObjectStore(t)
	c := newTestClient(t, srv)

	store.put("playtrack/catalog/a.json", `{"id":"a","title":"Celeste","process_label":"Celeste"}`)
	store.put("playtrack/catalog/b.json", `{"title":"Hades"}`)
	store.put("playtrack/catalog/readme.txt", "ignored")

	entries, err := c.ListCatalog(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []CatalogEntry{
		{ID: "a", Title: "Celeste", ProcessLabel: "Celeste"},
		{ID: "b", Title: "Hades"},
	}, entries)

	e, err := c.GetCatalogEntry(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, "b", e.ID)

	_, err = c.GetCatalogEntry(context.Background(), "zzz")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutCatalogEntry(t *testing.T) {
	t.Parallel()

	store, srv := newObjectStore(t)
	c := newTestClient(t, srv)

	require.NoError(t, c.PutCatalogEntry(context.Background(), CatalogEntry{ID: "x", Title: "Tunic"}))
	assert.Equal(t, []string{"playtrack/catalog/x.json"}, store.keys())

	assert.Error(t, c.PutCatalogEntry(context.Background(), CatalogEntry{Title: "No ID"}))
}

func TestDo_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	store, srv := newObjectStore(t)
	store.failures = 2
	store.status = http.StatusServiceUnavailable

	c := newTestClient(t, srv)

	var slept []time.Duration
	c.sleepFunc = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	require.NoError(t, c.SaveRemoteFingerprint(context.Background(), "g1", "fp"))
	assert.Len(t, slept, 2)
	assert.Equal(t, []string{"playtrack/saves/g1.fingerprint"}, store.keys(), "body replayed on retry")
}

func TestDo_GivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	store, srv := newObjectStore(t)
	store.failures = maxRetries + 1
	store.status = http.StatusInternalServerError

	c := newTestClient(t, srv)

	_, _, err := c.RemoteFingerprint(context.Background(), "g1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)

	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, http.StatusInternalServerError, cerr.StatusCode)
	assert.Equal(t, "req-1", cerr.RequestID)
}

func TestDo_RetryAfterHonoured(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		_, _ = w.Write([]byte(`{"objects":[]}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "", srv.Client(), staticToken("t"), testLogger(t), "")

	var slept time.Duration
	c.sleepFunc = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	objects, err := c.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, objects)
	assert.Equal(t, 7*time.Second, slept)
}

func TestCheckCredentials(t *testing.T) {
	t.Parallel()

	_, srv := newObjectStore(t)

	good := newTestClient(t, srv)
	assert.NoError(t, good.CheckCredentials(context.Background()))

	bad := NewClient(srv.URL+"/bucket", "playtrack", srv.Client(), staticToken("wrong"), testLogger(t), "")
	bad.sleepFunc = noopSleep

	err := bad.CheckCredentials(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestDo_TokenFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	_, srv := newObjectStore(t)
	c := NewClient(srv.URL+"/bucket", "", srv.Client(), failingToken{}, testLogger(t), "")
	c.sleepFunc = func(context.Context, time.Duration) error {
		t.Fatal("token failures must not be retried")
		return nil
	}

	_, err := c.List(context.Background(), "")
	assert.ErrorIs(t, err, ErrTokenExpired)
}

type failingToken struct{}

func (failingToken) Token() (string, error) { return "", ErrTokenExpired }

func TestObjectURL_EscapesSegments(t *testing.T) {
	t.Parallel()

	c := NewClient("https://store.example.com/bucket/", "root", nil, nil, nil, "")
	assert.Equal(t, "https://store.example.com/bucket/root/saves/My%20Game/a%3Fb", c.objectURL("saves/My Game/a?b"))
	assert.Equal(t, "https://store.example.com/bucket", c.objectURL(""))
}

func TestCalcBackoff_Bounds(t *testing.T) {
	t.Parallel()

	c := NewClient("http://x", "", nil, nil, nil, "")

	for attempt := range 8 {
		d := c.calcBackoff(attempt)
		assert.Positive(t, d)
		assert.LessOrEqual(t, d, time.Duration(float64(maxBackoff)*(1+jitterFraction)))
	}
}
