package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/playtrack/internal/store"
)

func newGamesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "games",
		Short: "List and edit the local game library",
		Args:  cobra.NoArgs,
		RunE:  runGamesList,
	}

	cmd.AddCommand(newGamesAddCmd())
	cmd.AddCommand(newGamesRemoveCmd())
	cmd.AddCommand(newGamesSetSavesCmd())

	return cmd
}

// gameRow is one game with its accumulated play time.
type gameRow struct {
	store.Game
	PlaySeconds int64 `json:"play_seconds"`
}

func runGamesList(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	st, err := openStore(cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer st.Close()

	games, err := st.ListGames(ctx)
	if err != nil {
		return err
	}

	rows := make([]gameRow, 0, len(games))
	for _, g := range games {
		total, err := st.TotalPlaySeconds(ctx, g.ID)
		if err != nil {
			return err
		}

		rows = append(rows, gameRow{Game: g, PlaySeconds: total})
	}

	if cc.Flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No games in the library.")
		return nil
	}

	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		saves := r.SaveFolderPath
		if saves == "" {
			saves = "(not set)"
		}

		table = append(table, []string{r.ID, r.Title, r.ProcessLabel, formatPlaytime(r.PlaySeconds), saves})
	}

	printTable(os.Stdout, []string{"ID", "TITLE", "PROCESS", "PLAYED", "SAVES"}, table)

	return nil
}

func newGamesAddCmd() *cobra.Command {
	var process, saves string

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a game to the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			savePath, err := absPath(saves)
			if err != nil {
				return err
			}

			st, err := openStore(cc.Cfg, cc.Logger)
			if err != nil {
				return err
			}
			defer st.Close()

			g := &store.Game{
				ID:             uuid.NewString(),
				Title:          args[0],
				ProcessLabel:   process,
				SaveFolderPath: savePath,
			}

			if err := st.InsertGame(cmd.Context(), g); err != nil {
				return err
			}

			fmt.Println(g.ID)
			cc.Statusf("Added %q.\n", g.Title)

			return nil
		},
	}

	cmd.Flags().StringVar(&process, "process", "", "process name that identifies the running game")
	cmd.Flags().StringVar(&saves, "saves", "", "save folder to keep in sync with the cloud")

	return cmd
}

func newGamesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <game-id>",
		Short: "Remove a game and its recorded sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			st, err := openStore(cc.Cfg, cc.Logger)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.DeleteGame(cmd.Context(), args[0]); err != nil {
				return err
			}

			cc.Statusf("Removed %s.\n", args[0])

			return nil
		},
	}
}

func newGamesSetSavesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-saves <game-id> [folder]",
		Short: "Set or clear a game's save folder",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			var folder string
			if len(args) == 2 {
				p, err := absPath(args[1])
				if err != nil {
					return err
				}

				folder = p
			}

			st, err := openStore(cc.Cfg, cc.Logger)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.SetSaveFolderPath(cmd.Context(), args[0], folder); err != nil {
				return err
			}

			if folder == "" {
				cc.Statusf("Save folder cleared.\n")
			} else {
				cc.Statusf("Save folder set to %s.\n", folder)
			}

			return nil
		},
	}
}

// absPath makes a user-supplied folder absolute. Empty stays empty.
func absPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}

	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", p, err)
	}

	return abs, nil
}
