package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/playtrack/internal/catalog"
	"github.com/tonimelisma/playtrack/internal/engine"
)

// commandTimeout bounds every bridge round trip from the CLI.
const commandTimeout = 15 * time.Second

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show tracked games and pending prompts",
		Long: `Display the running engine's view: every game's session state and
accumulated play time, plus any prompt waiting for an answer.

Requires 'playtrack run' to be running.`,
		RunE: runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	client, err := dialBridge(ctx, cc)
	if err != nil {
		return err
	}
	defer client.Close()

	snap, err := client.Snapshot(ctx)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printStatusJSON(os.Stdout, snap)
	}

	printStatusText(os.Stdout, snap)

	return nil
}

func printStatusJSON(w io.Writer, snap engine.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(snap)
}

func printStatusText(w io.Writer, snap engine.Snapshot) {
	fmt.Fprintf(w, "Tracking: %s\n", onOff(snap.Tracking))
	fmt.Fprintf(w, "Cloud:    %s\n\n", onOff(snap.CloudEnabled))

	if len(snap.Games) == 0 {
		fmt.Fprintln(w, "No games in the library. Add one with 'playtrack games add'.")
	} else {
		rows := make([][]string, 0, len(snap.Games))
		for _, g := range snap.Games {
			rows = append(rows, []string{g.GameID, g.GameTitle, g.State.String(), formatPlaytime(g.PlaySeconds)})
		}

		printTable(w, []string{"ID", "TITLE", "STATE", "PLAYED"}, rows)
	}

	if p := snap.PendingConfirmation; p != nil {
		fmt.Fprintf(w, "\n%s is no longer running. End the session with 'playtrack end' or keep it with 'playtrack keep-paused'.\n",
			p.GameTitle)
	}

	if p := snap.PendingResume; p != nil {
		fmt.Fprintf(w, "\n%s is running again. Resume with 'playtrack confirm-resume' or keep it paused with 'playtrack decline-resume'.\n",
			p.GameTitle)
	}

	if p := snap.PendingUpload; p != nil {
		fmt.Fprintf(w, "\nSave files for %s changed (%s). Upload with 'playtrack upload' or skip with 'playtrack skip'.\n",
			p.GameTitle, p.SaveFolderPath)
	}

	switch snap.Import.State {
	case catalog.StateIdle:
	case catalog.StateBlocked:
		if c := snap.Import.Conflict; c != nil {
			fmt.Fprintf(w, "\nImport waiting: %q matches %d local game(s).\n", c.Entry.Title, len(c.LocalMatches))
		}
	default:
		fmt.Fprintf(w, "\nImport: %s\n", snap.Import.State)
	}
}
