package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/playtrack/internal/engine"
	"github.com/tonimelisma/playtrack/internal/savesync"
)

// driftEngine is the part of the engine a manual drift check needs.
type driftEngine interface {
	CheckDrift(ctx context.Context, gameID string) savesync.Outcome
	Snapshot() engine.Snapshot
	Execute(ctx context.Context, cmd engine.Command) error
	Wait()
}

// outcomeText describes each check outcome that does not lead to a prompt.
var outcomeText = map[savesync.Outcome]string{
	savesync.OutcomeInSync:             "Save folder matches the cloud copy.",
	savesync.OutcomeSuppressed:         "Another upload is in progress or awaiting a decision.",
	savesync.OutcomeSkippedCloud:       "Cloud is disabled or the stored credentials are not accepted.",
	savesync.OutcomeSkippedNoPath:      "No save folder is set for this game.",
	savesync.OutcomeSkippedFingerprint: "The save folder could not be read.",
	savesync.OutcomeSkippedRemote:      "The cloud copy could not be checked.",
}

func newDriftCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "check-saves <game-id>",
		Short: "Compare a game's save folder with the cloud copy",
		Long: `Compare a game's save folder with the copy in the cloud and, when they
differ, offer to upload the local folder.

The running daemon does this automatically after every session.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			a, err := openApp(cc, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			printer, stop := a.printNotifications(cc)
			defer stop()

			uploaded, err := runDriftCheck(cmd.Context(), a.engine, args[0], yes, isTerminal(os.Stdin), os.Stdout)
			if err != nil || !uploaded {
				return err
			}

			if printer.failed.Load() {
				return errors.New("upload failed")
			}

			cc.Statusf("Upload finished.\n")

			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "upload without asking when the folders differ")

	return cmd
}

// runDriftCheck checks gameID and, on drift, uploads or skips per the
// user's answer. It waits for an accepted upload to finish and reports
// whether one ran.
func runDriftCheck(ctx context.Context, eng driftEngine, gameID string, yes, interactive bool, w io.Writer) (bool, error) {
	outcome := eng.CheckDrift(ctx, gameID)

	if outcome != savesync.OutcomeDrift {
		fmt.Fprintln(w, outcomeText[outcome])
		return false, nil
	}

	pending := eng.Snapshot().PendingUpload
	if pending == nil {
		return false, nil
	}

	upload := yes
	if !yes {
		if !interactive {
			return false, fmt.Errorf("save folder of %s differs from the cloud copy; pass --yes to upload", pending.GameTitle)
		}

		prompt := &survey.Confirm{
			Message: fmt.Sprintf("Save files for %s changed. Upload %s?", pending.GameTitle, pending.SaveFolderPath),
			Default: true,
		}

		if err := askOne(prompt, &upload); err != nil {
			return false, fmt.Errorf("asking for upload: %w", err)
		}
	}

	if !upload {
		if err := eng.Execute(ctx, engine.Command{Name: engine.CmdSkip}); err != nil {
			return false, err
		}

		fmt.Fprintln(w, "Upload skipped.")

		return false, nil
	}

	if err := eng.Execute(ctx, engine.Command{Name: engine.CmdUpload}); err != nil {
		return false, err
	}

	eng.Wait()

	return true, nil
}
