package main

import (
	"context"
	"fmt"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/playtrack/internal/engine"
)

// sessionCommand describes a CLI verb that maps to one engine command on
// the running daemon.
type sessionCommand struct {
	use   string
	short string
	name  string
	game  bool
	done  string
}

var sessionCommands = []sessionCommand{
	{use: "pause <game-id>", short: "Pause the running session of a game", name: engine.CmdPause, game: true, done: "Session paused."},
	{use: "resume <game-id>", short: "Resume a paused session", name: engine.CmdResume, game: true, done: "Session resumed."},
	{use: "end", short: "End the session waiting for confirmation", name: engine.CmdEndConfirm, done: "Session ended."},
	{use: "keep-paused", short: "Keep the session waiting for confirmation paused", name: engine.CmdKeepPaused, done: "Session kept paused."},
	{use: "confirm-resume", short: "Resume the paused session whose game started again", name: engine.CmdResumeConfirm, done: "Session resumed."},
	{use: "decline-resume", short: "Keep the session paused although its game started again", name: engine.CmdKeepPausedConfirm, done: "Session kept paused."},
	{use: "upload", short: "Upload the save folder that changed", name: engine.CmdUpload, done: "Upload started."},
	{use: "skip", short: "Skip the pending save upload", name: engine.CmdSkip, done: "Upload skipped."},
}

// newSessionCmds builds the commands that answer prompts or control
// sessions on the running daemon.
func newSessionCmds() []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(sessionCommands)+1)

	for _, sc := range sessionCommands {
		args := cobra.NoArgs
		if sc.game {
			args = cobra.ExactArgs(1)
		}

		cmds = append(cmds, &cobra.Command{
			Use:   sc.use,
			Short: sc.short,
			Args:  args,
			RunE: func(cmd *cobra.Command, args []string) error {
				c := engine.Command{Name: sc.name}
				if sc.game {
					c.GameID = args[0]
				}

				return sendCommand(cmd, c, sc.done)
			},
		})
	}

	cmds = append(cmds, newReloadCmd())

	return cmds
}

func newTrackingCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "tracking <on|off>",
		Short:     "Turn automatic status polling on or off",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseOnOff(args[0])
			if err != nil {
				return err
			}

			return sendCommand(cmd, engine.Command{Name: engine.CmdTracking, Value: &on},
				fmt.Sprintf("Tracking %s.", onOff(on)))
		},
	}
}

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Make the running daemon re-read its config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := signalOwner(cc.Cfg.Library.Database, syscall.SIGHUP); err != nil {
				return err
			}

			cc.Statusf("Reload requested.\n")

			return nil
		},
	}
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on", "true", "yes":
		return true, nil
	case "off", "false", "no":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
}

// sendCommand executes c on the running daemon and prints done on success.
func sendCommand(cmd *cobra.Command, c engine.Command, done string) error {
	cc := mustCLIContext(cmd.Context())

	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	client, err := dialBridge(ctx, cc)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Send(ctx, c); err != nil {
		return err
	}

	cc.Statusf("%s\n", done)

	return nil
}
