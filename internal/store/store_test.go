package store

import (
	"context"
	"log/slog"
	"path/filepath"
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

// newTestStore opens a Store in a temp directory, closed on cleanup.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "library.db"), testLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, s.Close())
	})

	return s
}

func TestOpen_RunsMigrations(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	var count int
	err := s.db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM goose_db_version WHERE version_id > 0",
	).Scan(&count)
	require.NoError(t, err)
	assert.Positive(t, count)
}

func TestOpen_WALMode(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	var mode string
	require.NoError(t, s.db.QueryRowContext(context.Background(), "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestGames_CRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return fixed }

	require.NoError(t, s.InsertGame(ctx, &Game{ID: "b", Title: "celeste", ProcessLabel: "Celeste"}))
	require.NoError(t, s.InsertGame(ctx, &Game{ID: "a", Title: "Hades", SaveFolderPath: "/saves/hades", RemoteID: "r-1"}))

	games, err := s.ListGames(ctx)
	require.NoError(t, err)
	require.Len(t, games, 2)
	assert.Equal(t, "celeste", games[0].Title, "ordering ignores case")
	assert.Equal(t, "Hades", games[1].Title)
	assert.Equal(t, fixed, games[0].AddedAt)

	g, err := s.GetGame(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "/saves/hades", g.SaveFolderPath)
	assert.Equal(t, "r-1", g.RemoteID)
	assert.Empty(t, g.ProcessLabel)

	require.NoError(t, s.DeleteGame(ctx, "a"))

	_, err = s.GetGame(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteGame(ctx, "a"), ErrNotFound)
}

func TestInsertGame_RequiresIDAndTitle(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	assert.Error(t, s.InsertGame(context.Background(), &Game{ID: "x"}))
	assert.Error(t, s.InsertGame(context.Background(), &Game{Title: "x"}))
}

func TestSaveFolderPath(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.InsertGame(ctx, &Game{ID: "g", Title: "Game"}))

	path, err := s.SaveFolderPath(ctx, "g")
	require.NoError(t, err)
	assert.Empty(t, path)

	require.NoError(t, s.SetSaveFolderPath(ctx, "g", "/home/me/saves"))

	path, err = s.SaveFolderPath(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, "/home/me/saves", path)

	assert.ErrorIs(t, s.SetSaveFolderPath(ctx, "missing", "/x"), ErrNotFound)
}

func TestSessions_RecordListAndTotal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.InsertGame(ctx, &Game{ID: "g1", Title: "One"}))
	require.NoError(t, s.InsertGame(ctx, &Game{ID: "g2", Title: "Two"}))

	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	sessions := []Session{
		{ID: "s1", GameID: "g1", StartedAt: base, EndedAt: base.Add(time.Hour), PlaySeconds: 3600},
		{ID: "s2", GameID: "g1", StartedAt: base.Add(2 * time.Hour), EndedAt: base.Add(3 * time.Hour), PlaySeconds: 1800},
		{ID: "s3", GameID: "g2", StartedAt: base.Add(time.Minute), EndedAt: base.Add(2 * time.Minute), PlaySeconds: 60},
	}

	for i := range sessions {
		require.NoError(t, s.RecordSession(ctx, &sessions[i]))
	}

	got, err := s.ListSessions(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s2", got[0].ID, "newest first")
	assert.Equal(t, base.Add(2*time.Hour), got[0].StartedAt)

	all, err := s.ListSessions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	total, err := s.TotalPlaySeconds(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(5400), total)

	total, err = s.TotalPlaySeconds(ctx, "unknown")
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestRecordSession_Validation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	assert.Error(t, s.RecordSession(ctx, &Session{ID: "neg", GameID: "g", PlaySeconds: -1}))
	assert.Error(t, s.RecordSession(ctx, &Session{ID: "orphan", GameID: "missing"}), "foreign key enforced")
}

func TestDeleteGame_CascadesSessions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.InsertGame(ctx, &Game{ID: "g", Title: "Game"}))
	require.NoError(t, s.RecordSession(ctx, &Session{ID: "s", GameID: "g", PlaySeconds: 5}))

	require.NoError(t, s.DeleteGame(ctx, "g"))

	sessions, err := s.ListSessions(ctx, "g")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
