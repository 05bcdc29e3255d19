package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/playtrack/internal/store"
)

func newSessionsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions [game-id]",
		Short: "Show recorded play sessions, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			var gameID string
			if len(args) == 1 {
				gameID = args[0]
			}

			st, err := openStore(cc.Cfg, cc.Logger)
			if err != nil {
				return err
			}
			defer st.Close()

			sessions, err := st.ListSessions(cmd.Context(), gameID)
			if err != nil {
				return err
			}

			if limit > 0 && len(sessions) > limit {
				sessions = sessions[:limit]
			}

			if cc.Flags.JSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")

				return enc.Encode(sessions)
			}

			if len(sessions) == 0 {
				fmt.Println("No sessions recorded.")
				return nil
			}

			printSessions(cmd, st, sessions)

			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "show at most this many sessions (0 for all)")

	return cmd
}

// printSessions prints a table with game titles looked up once per game.
func printSessions(cmd *cobra.Command, st *store.Store, sessions []store.Session) {
	titles := make(map[string]string)

	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		title, ok := titles[s.GameID]
		if !ok {
			title = s.GameID
			if g, err := st.GetGame(cmd.Context(), s.GameID); err == nil {
				title = g.Title
			}

			titles[s.GameID] = title
		}

		rows = append(rows, []string{title, formatTime(s.StartedAt), formatTime(s.EndedAt), formatPlaytime(s.PlaySeconds)})
	}

	printTable(os.Stdout, []string{"GAME", "STARTED", "ENDED", "PLAYED"}, rows)
}
