package main

import (
	"github.com/spf13/cobra"
)

func newPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <game-id>...",
		Short: "Add local games to the cloud catalog",
		Long: `Write local games to the cloud catalog so other machines can import
them with 'playtrack import'.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			a, err := openApp(cc, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, id := range args {
				if err := a.engine.PublishGame(cmd.Context(), id); err != nil {
					return err
				}

				cc.Statusf("Published %s.\n", id)
			}

			return nil
		},
	}
}
