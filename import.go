package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/playtrack/internal/catalog"
)

// askOne is swapped out in tests.
var askOne = survey.AskOne

// Conflict answers offered by the import prompt.
const (
	answerDuplicate = "Import it anyway, keeping the local game"
	answerReplace   = "Replace the local game"
	answerStop      = "Stop importing"
)

// errNeedsTerminal is returned when a prompt would be needed but stdin is
// not interactive.
var errNeedsTerminal = errors.New("no terminal to prompt on; pass entry ids or --all, and --on-conflict")

// importEngine is the part of the engine an import run needs.
type importEngine interface {
	LoadCatalog(ctx context.Context) ([]catalog.RemoteEntry, error)
	StartImport(ctx context.Context, ids []string) (catalog.Report, error)
	ResolveImport(ctx context.Context, res catalog.Resolution) (catalog.Report, error)
	AbortImport() (catalog.Report, error)
	ImportConflict() (catalog.Conflict, bool)
}

// importOptions carries the flags of one import invocation.
type importOptions struct {
	ids         []string
	all         bool
	onConflict  string // "", "duplicate", "replace" or "stop"
	interactive bool
}

func newImportCmd() *cobra.Command {
	var (
		all        bool
		onConflict string
	)

	cmd := &cobra.Command{
		Use:   "import [entry-id...]",
		Short: "Import games from the cloud catalog",
		Long: `Import games from the cloud catalog into the local library.

Without ids or --all, choose entries interactively. When an entry's title
matches a local game, the run stops and asks whether to import it as a
duplicate, replace the local game or stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			switch onConflict {
			case "", "duplicate", "replace", "stop":
			default:
				return fmt.Errorf("--on-conflict must be duplicate, replace or stop, got %q", onConflict)
			}

			a, err := openApp(cc, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			_, stop := a.printNotifications(cc)
			defer stop()

			report, err := runImport(cmd.Context(), a.engine, importOptions{
				ids:         args,
				all:         all,
				onConflict:  onConflict,
				interactive: isTerminal(os.Stdin),
			}, os.Stdout)
			if report == nil {
				return err
			}

			if cc.Flags.JSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")

				if encErr := enc.Encode(report); encErr != nil {
					return encErr
				}
			} else {
				printImportReport(os.Stdout, *report)
			}

			return err
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "import every available entry")
	cmd.Flags().StringVar(&onConflict, "on-conflict", "", "answer title collisions without asking: duplicate, replace or stop")

	return cmd
}

// runImport drives one import run to completion. It returns a nil report
// when no run was started.
func runImport(ctx context.Context, eng importEngine, opts importOptions, w io.Writer) (*catalog.Report, error) {
	entries, err := eng.LoadCatalog(ctx)
	if err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "Nothing to import: every cloud catalog entry is already in the library.")
		return nil, nil
	}

	ids := opts.ids
	if len(ids) == 0 && !opts.all {
		if !opts.interactive {
			return nil, errNeedsTerminal
		}

		ids, err = selectEntries(entries)
		if err != nil {
			return nil, err
		}

		if len(ids) == 0 {
			fmt.Fprintln(w, "Nothing selected.")
			return nil, nil
		}
	}

	report, err := eng.StartImport(ctx, ids)

	for err == nil && report.State == catalog.StateBlocked {
		c, ok := eng.ImportConflict()
		if !ok {
			break
		}

		answer, askErr := conflictAnswer(c, opts)
		if askErr != nil {
			if _, abortErr := eng.AbortImport(); abortErr != nil {
				return nil, errors.Join(askErr, abortErr)
			}

			return nil, askErr
		}

		switch answer {
		case answerDuplicate:
			report, err = eng.ResolveImport(ctx, catalog.ResolveDuplicate)
		case answerReplace:
			report, err = eng.ResolveImport(ctx, catalog.ResolveReplace)
		default:
			report, err = eng.AbortImport()
		}
	}

	if report.State == catalog.StateIdle {
		return nil, err
	}

	return &report, err
}

// selectEntries asks which entries to import and returns their ids in
// catalog order.
func selectEntries(entries []catalog.RemoteEntry) ([]string, error) {
	options := make([]string, len(entries))
	byLabel := make(map[string]string, len(entries))

	for i, e := range entries {
		options[i] = entryLabel(e)
		byLabel[options[i]] = e.ID
	}

	var chosen []string

	prompt := &survey.MultiSelect{
		Message: "Games to import:",
		Options: options,
	}

	if err := askOne(prompt, &chosen); err != nil {
		return nil, fmt.Errorf("selecting entries: %w", err)
	}

	ids := make([]string, 0, len(chosen))
	for _, label := range chosen {
		ids = append(ids, byLabel[label])
	}

	return ids, nil
}

// conflictAnswer returns the answer from --on-conflict or asks for one.
func conflictAnswer(c catalog.Conflict, opts importOptions) (string, error) {
	switch opts.onConflict {
	case "duplicate":
		return answerDuplicate, nil
	case "replace":
		return answerReplace, nil
	case "stop":
		return answerStop, nil
	}

	if !opts.interactive {
		return "", errNeedsTerminal
	}

	titles := make([]string, len(c.LocalMatches))
	for i, m := range c.LocalMatches {
		titles[i] = m.Title
	}

	var answer string

	prompt := &survey.Select{
		Message: fmt.Sprintf("%q matches %s already in the library:", c.Entry.Title, strings.Join(titles, ", ")),
		Options: []string{answerDuplicate, answerReplace, answerStop},
		Default: answerDuplicate,
	}

	if err := askOne(prompt, &answer); err != nil {
		return "", fmt.Errorf("resolving conflict: %w", err)
	}

	return answer, nil
}

func entryLabel(e catalog.RemoteEntry) string {
	return fmt.Sprintf("%s (%s)", e.Title, e.ID)
}

func printImportReport(w io.Writer, r catalog.Report) {
	fmt.Fprintf(w, "Import %s: %d imported", r.State, len(r.Imported))

	if n := len(r.Unresolved); n > 0 {
		fmt.Fprintf(w, ", %d unresolved", n)
	}

	if n := len(r.Abandoned); n > 0 {
		fmt.Fprintf(w, ", %d not attempted", n)
	}

	fmt.Fprintln(w, ".")

	for _, e := range r.Imported {
		fmt.Fprintf(w, "  imported    %s\n", entryLabel(e))
	}

	for _, e := range r.Unresolved {
		fmt.Fprintf(w, "  unresolved  %s\n", entryLabel(e))
	}

	for _, e := range r.Abandoned {
		fmt.Fprintf(w, "  skipped     %s\n", entryLabel(e))
	}
}
