package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/AlecAivazis/survey/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/playtrack/internal/engine"
	"github.com/tonimelisma/playtrack/internal/savesync"
)

type fakeDrift struct {
	outcome  savesync.Outcome
	pending  *savesync.PendingUpload
	executed []string
	waited   bool
}

func (f *fakeDrift) CheckDrift(context.Context, string) savesync.Outcome { return f.outcome }

func (f *fakeDrift) Snapshot() engine.Snapshot {
	return engine.Snapshot{PendingUpload: f.pending}
}

func (f *fakeDrift) Execute(_ context.Context, cmd engine.Command) error {
	f.executed = append(f.executed, cmd.Name)
	f.pending = nil

	return nil
}

func (f *fakeDrift) Wait() { f.waited = true }

func driftFixture() *fakeDrift {
	return &fakeDrift{
		outcome: savesync.OutcomeDrift,
		pending: &savesync.PendingUpload{GameID: "g1", GameTitle: "Celeste", SaveFolderPath: "/saves/celeste"},
	}
}

func TestRunDriftCheck_ConfirmedUploadWaits(t *testing.T) {
	seen := stubAsk(t, true)
	eng := driftFixture()

	uploaded, err := runDriftCheck(context.Background(), eng, "g1", false, true, &bytes.Buffer{})
	require.NoError(t, err)

	assert.True(t, uploaded)
	assert.Equal(t, []string{engine.CmdUpload}, eng.executed)
	assert.True(t, eng.waited)
	require.Len(t, *seen, 1)

	confirm, ok := (*seen)[0].(*survey.Confirm)
	require.True(t, ok)
	assert.Contains(t, confirm.Message, "Celeste")
}

func TestRunDriftCheck_DeclinedSkips(t *testing.T) {
	stubAsk(t, false)
	eng := driftFixture()

	var out bytes.Buffer
	uploaded, err := runDriftCheck(context.Background(), eng, "g1", false, true, &out)
	require.NoError(t, err)

	assert.False(t, uploaded)
	assert.Equal(t, []string{engine.CmdSkip}, eng.executed)
	assert.False(t, eng.waited)
	assert.Contains(t, out.String(), "skipped")
}

func TestRunDriftCheck_YesUploadsWithoutPrompt(t *testing.T) {
	stubAsk(t)
	eng := driftFixture()

	uploaded, err := runDriftCheck(context.Background(), eng, "g1", true, false, &bytes.Buffer{})
	require.NoError(t, err)
	assert.True(t, uploaded)
	assert.Equal(t, []string{engine.CmdUpload}, eng.executed)
}

func TestRunDriftCheck_NonInteractiveWithoutYesFails(t *testing.T) {
	stubAsk(t)
	eng := driftFixture()

	_, err := runDriftCheck(context.Background(), eng, "g1", false, false, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
	assert.Empty(t, eng.executed)
}

func TestRunDriftCheck_NoDriftReportsOutcome(t *testing.T) {
	stubAsk(t)

	for outcome, text := range outcomeText {
		var out bytes.Buffer

		uploaded, err := runDriftCheck(context.Background(), &fakeDrift{outcome: outcome}, "g1", true, true, &out)
		require.NoError(t, err)
		assert.False(t, uploaded)
		assert.Equal(t, text+"\n", out.String())
	}
}
