package catalog

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/playtrack/internal/notify"
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

// fakeLibrary implements LocalCatalog and RemoteCatalog and records every
// call in order.
type fakeLibrary struct {
	mu        sync.Mutex
	local     []LocalEntry
	remote    []RemoteEntry
	calls     []string
	importErr map[string]error
	deleteErr map[string]error
	listErr   error
}

func (l *fakeLibrary) ListLocal(context.Context) ([]LocalEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls = append(l.calls, "list")

	return slices.Clone(l.local), l.listErr
}

func (l *fakeLibrary) DeleteLocal(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls = append(l.calls, "delete:"+id)

	if err := l.deleteErr[id]; err != nil {
		return err
	}

	l.local = slices.DeleteFunc(l.local, func(e LocalEntry) bool { return e.ID == id })

	return nil
}

func (l *fakeLibrary) ListRemote(context.Context) ([]RemoteEntry, error) {
	return slices.Clone(l.remote), nil
}

func (l *fakeLibrary) ImportRemote(_ context.Context, remoteID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls = append(l.calls, "import:"+remoteID)

	return l.importErr[remoteID]
}

type noteRecorder struct {
	list []notify.Notification
}

func (r *noteRecorder) Notify(n notify.Notification) { r.list = append(r.list, n) }

var (
	gameA = RemoteEntry{ID: "ra", Title: "GameA"}
	gameB = RemoteEntry{ID: "rb", Title: "GameB"}
	gameC = RemoteEntry{ID: "rc", Title: "GameC"}
)

func newTestImporter(t *testing.T, lib *fakeLibrary) (*Importer, *noteRecorder) {
	t.Helper()

	notes := &noteRecorder{}
	im := NewImporter(Config{
		Local:    lib,
		Remote:   lib,
		Notifier: notes,
		Logger:   testLogger(t),
	})

	return im, notes
}

// assertPartition checks that a finished run accounts for every selected
// entry exactly once.
func assertPartition(t *testing.T, selected []RemoteEntry, r Report) {
	t.Helper()

	var all []string
	for _, group := range [][]RemoteEntry{r.Imported, r.Unresolved, r.Abandoned} {
		for _, e := range group {
			all = append(all, e.ID)
		}
	}

	var want []string
	for _, e := range selected {
		want = append(want, e.ID)
	}

	assert.ElementsMatch(t, want, all)
}

func TestStart_NoCollisionsImportsAll(t *testing.T) {
	t.Parallel()

	lib := &fakeLibrary{remote: []RemoteEntry{gameA, gameB}}
	im, _ := newTestImporter(t, lib)

	_, err := im.LoadRemote(context.Background())
	require.NoError(t, err)

	report, err := im.Start(context.Background(), []RemoteEntry{gameA, gameB})
	require.NoError(t, err)

	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, []RemoteEntry{gameA, gameB}, report.Imported)
	assert.Equal(t, []string{"list", "import:ra", "import:rb"}, lib.calls)
	assert.Empty(t, im.Available(), "imported entries leave the remote list")
	assert.False(t, im.Active())
}

func TestScenario_CollisionThenDuplicate(t *testing.T) {
	t.Parallel()

	lib := &fakeLibrary{local: []LocalEntry{{ID: "l1", Title: "  gameb "}}}
	im, notes := newTestImporter(t, lib)
	selected := []RemoteEntry{gameA, gameB}

	report, err := im.Start(context.Background(), selected)
	require.NoError(t, err)
	assert.Equal(t, StateBlocked, report.State)
	assert.Equal(t, []RemoteEntry{gameA}, report.Imported)
	assert.True(t, im.Active())

	c, ok := im.Conflict()
	require.True(t, ok)
	assert.Equal(t, gameB, c.Entry)
	assert.Equal(t, []LocalEntry{{ID: "l1", Title: "  gameb "}}, c.LocalMatches)
	assert.Empty(t, c.Remaining)
	require.Len(t, notes.list, 1)
	assert.Equal(t, notify.LevelWarning, notes.list[0].Level)

	report, err = im.Resolve(context.Background(), ResolveDuplicate)
	require.NoError(t, err)

	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, []RemoteEntry{gameA, gameB}, report.Imported)
	assert.Equal(t, []string{"list", "import:ra", "import:rb"}, lib.calls, "no deletions")
	assertPartition(t, selected, report)

	_, ok = im.Conflict()
	assert.False(t, ok)
}

func TestScenario_CollisionThenReplace(t *testing.T) {
	t.Parallel()

	lib := &fakeLibrary{local: []LocalEntry{{ID: "l1", Title: "GameB"}, {ID: "l2", Title: "GAMEB"}}}
	im, _ := newTestImporter(t, lib)
	selected := []RemoteEntry{gameA, gameB, gameC}

	_, err := im.Start(context.Background(), selected)
	require.NoError(t, err)

	c, ok := im.Conflict()
	require.True(t, ok)
	assert.Len(t, c.LocalMatches, 2)
	assert.Equal(t, []RemoteEntry{gameC}, c.Remaining)

	report, err := im.Resolve(context.Background(), ResolveReplace)
	require.NoError(t, err)

	assert.Equal(t, StateDone, report.State)
	assert.Equal(t,
		[]string{"list", "import:ra", "delete:l1", "delete:l2", "import:rb", "import:rc"},
		lib.calls, "local matches are deleted before the import")
	assertPartition(t, selected, report)
}

func TestReplace_DeletedTitlesLeaveIndex(t *testing.T) {
	t.Parallel()

	dupB := RemoteEntry{ID: "rb2", Title: "GameB"}
	lib := &fakeLibrary{local: []LocalEntry{{ID: "l1", Title: "GameB"}}}
	im, _ := newTestImporter(t, lib)

	_, err := im.Start(context.Background(), []RemoteEntry{gameB, dupB})
	require.NoError(t, err)

	report, err := im.Resolve(context.Background(), ResolveReplace)
	require.NoError(t, err)

	assert.Equal(t, StateDone, report.State, "second GameB no longer collides once l1 is gone")
	assert.Equal(t, []RemoteEntry{gameB, dupB}, report.Imported)
}

func TestImportFailureAbortsAndAbandonsRemainder(t *testing.T) {
	t.Parallel()

	lib := &fakeLibrary{importErr: map[string]error{"rb": errors.New("quota exceeded")}}
	im, notes := newTestImporter(t, lib)
	selected := []RemoteEntry{gameA, gameB, gameC}

	report, err := im.Start(context.Background(), selected)
	require.Error(t, err)

	assert.Equal(t, StateAborted, report.State)
	assert.Equal(t, []RemoteEntry{gameA}, report.Imported)
	assert.Equal(t, []RemoteEntry{gameB, gameC}, report.Abandoned)
	assert.Equal(t, []string{"list", "import:ra", "import:rb"}, lib.calls, "remaining queue left unprocessed")
	assertPartition(t, selected, report)

	require.Len(t, notes.list, 1)
	assert.Equal(t, notify.LevelError, notes.list[0].Level)
}

func TestReplace_DeleteFailureAbortsRun(t *testing.T) {
	t.Parallel()

	lib := &fakeLibrary{
		local:     []LocalEntry{{ID: "l1", Title: "GameB"}},
		deleteErr: map[string]error{"l1": errors.New("locked")},
	}
	im, _ := newTestImporter(t, lib)
	selected := []RemoteEntry{gameB, gameC}

	_, err := im.Start(context.Background(), selected)
	require.NoError(t, err)

	report, err := im.Resolve(context.Background(), ResolveReplace)
	require.Error(t, err)

	assert.Equal(t, StateAborted, report.State)
	assert.Empty(t, report.Imported)
	assert.Equal(t, []RemoteEntry{gameB, gameC}, report.Abandoned)
	assert.NotContains(t, lib.calls, "import:rb")
	assertPartition(t, selected, report)
}

func TestAbort_CountsConflictAsUnresolved(t *testing.T) {
	t.Parallel()

	lib := &fakeLibrary{local: []LocalEntry{{ID: "l1", Title: "GameB"}}}
	im, _ := newTestImporter(t, lib)
	selected := []RemoteEntry{gameA, gameB, gameC}

	_, err := im.Start(context.Background(), selected)
	require.NoError(t, err)

	report, err := im.Abort()
	require.NoError(t, err)

	assert.Equal(t, StateAborted, report.State)
	assert.Equal(t, []RemoteEntry{gameA}, report.Imported)
	assert.Equal(t, []RemoteEntry{gameB}, report.Unresolved)
	assert.Equal(t, []RemoteEntry{gameC}, report.Abandoned)
	assertPartition(t, selected, report)

	_, err = im.Abort()
	assert.ErrorIs(t, err, ErrNoConflict)
}

func TestStart_RejectedWhileBlocked(t *testing.T) {
	t.Parallel()

	lib := &fakeLibrary{local: []LocalEntry{{ID: "l1", Title: "GameA"}}}
	im, _ := newTestImporter(t, lib)

	_, err := im.Start(context.Background(), []RemoteEntry{gameA})
	require.NoError(t, err)

	_, err = im.Start(context.Background(), []RemoteEntry{gameC})
	assert.ErrorIs(t, err, ErrRunActive)

	_, err = im.Abort()
	require.NoError(t, err)

	// A finished run allows a new one.
	report, err := im.Start(context.Background(), []RemoteEntry{gameC})
	require.NoError(t, err)
	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, []RemoteEntry{gameC}, report.Imported, "report covers only the new run")
}

func TestResolve_WithoutConflict(t *testing.T) {
	t.Parallel()

	im, _ := newTestImporter(t, &fakeLibrary{})

	_, err := im.Resolve(context.Background(), ResolveDuplicate)
	assert.ErrorIs(t, err, ErrNoConflict)

	_, err = im.Resolve(context.Background(), Resolution("merge"))
	assert.Error(t, err)
}

func TestStart_LocalListFailureAbandonsAll(t *testing.T) {
	t.Parallel()

	lib := &fakeLibrary{listErr: errors.New("database locked")}
	im, _ := newTestImporter(t, lib)
	selected := []RemoteEntry{gameA, gameB}

	report, err := im.Start(context.Background(), selected)
	require.Error(t, err)
	assert.Equal(t, StateAborted, report.State)
	assert.Equal(t, selected, report.Abandoned)
}

func TestOnImportAndOnChangeObservers(t *testing.T) {
	t.Parallel()

	var (
		imports int
		changes int
	)

	lib := &fakeLibrary{}
	im := NewImporter(Config{
		Local:    lib,
		Remote:   lib,
		OnImport: func(error) { imports++ },
		OnChange: func() { changes++ },
	})

	_, err := im.Start(context.Background(), []RemoteEntry{gameA, gameB})
	require.NoError(t, err)

	assert.Equal(t, 2, imports)
	assert.Equal(t, 2, changes, "started and done")
}

func TestNormalizeTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b  string
		equal bool
	}{
		{"Hollow Knight", "  hollow knight\t", true},
		{"CAFÉ", "café", true},
		{"Straße", "STRASSE", true},
		{"Hades", "Hades II", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.equal, NormalizeTitle(tt.a) == NormalizeTitle(tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	b, err := StateBlocked.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "blocked", string(b))
	assert.Equal(t, "unknown", State(99).String())
}
