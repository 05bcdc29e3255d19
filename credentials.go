package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/playtrack/internal/cloud"
	"github.com/tonimelisma/playtrack/internal/tokenfile"
)

func newCredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage the cloud access token",
	}

	cmd.AddCommand(newCredentialsSetCmd())
	cmd.AddCommand(newCredentialsCheckCmd())
	cmd.AddCommand(newCredentialsRemoveCmd())

	return cmd
}

func newCredentialsSetCmd() *cobra.Command {
	var (
		token   string
		expires time.Duration
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store an access token for the configured cloud endpoint",
		Long: `Store a bearer token for the object store in the credentials file.

Without --token the token is read from a hidden prompt. Run 'playtrack reload'
afterwards to make a running daemon pick it up.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if token == "" {
				if !isTerminal(os.Stdin) {
					return errors.New("no terminal to prompt on; pass --token")
				}

				prompt := &survey.Password{Message: "Access token:"}
				if err := askOne(prompt, &token, survey.WithValidator(survey.Required)); err != nil {
					return fmt.Errorf("reading token: %w", err)
				}
			}

			var expiry time.Time
			if expires > 0 {
				expiry = time.Now().Add(expires).UTC()
			}

			if err := cloud.SaveCredentials(cc.Cfg.Cloud.TokenFile, token, cc.Cfg.Cloud.Endpoint, expiry); err != nil {
				return err
			}

			cc.Logger.Info("credentials stored", "path", cc.Cfg.Cloud.TokenFile)
			cc.Statusf("Credentials saved to %s.\n", cc.Cfg.Cloud.TokenFile)

			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "access token (prompted for when omitted)")
	cmd.Flags().DurationVar(&expires, "expires", 0, "token lifetime, e.g. 720h (0 never expires)")

	return cmd
}

// credentialsStatus is the JSON schema for `credentials check --json`.
type credentialsStatus struct {
	Path     string    `json:"path"`
	Endpoint string    `json:"endpoint,omitempty"`
	SavedAt  time.Time `json:"saved_at"`
	Expiry   time.Time `json:"expiry,omitzero"`
	Accepted bool      `json:"accepted"`
	Error    string    `json:"error,omitempty"`
}

func newCredentialsCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the stored token against the object store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			path := cc.Cfg.Cloud.TokenFile

			f, err := tokenfile.Load(path)
			if err != nil {
				return err
			}

			if f == nil {
				return fmt.Errorf("no credentials stored at %s; run 'playtrack credentials set'", path)
			}

			if !cc.Cfg.Cloud.Enabled {
				return errors.New("cloud is disabled; set cloud.enabled in the config file")
			}

			client, err := newCloudClient(cc.Cfg, cc.Logger)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			status := credentialsStatus{
				Path:     path,
				Endpoint: f.Endpoint,
				SavedAt:  f.SavedAt,
				Expiry:   f.Token.Expiry,
			}

			checkErr := client.CheckCredentials(ctx)
			status.Accepted = checkErr == nil

			if checkErr != nil {
				status.Error = checkErr.Error()
			}

			if cc.Flags.JSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")

				return enc.Encode(status)
			}

			fmt.Printf("Credentials: %s\n", path)
			fmt.Printf("Saved:       %s\n", formatTime(status.SavedAt))

			if !status.Expiry.IsZero() {
				fmt.Printf("Expires:     %s\n", formatTime(status.Expiry))
			}

			if checkErr != nil {
				return fmt.Errorf("token rejected: %w", checkErr)
			}

			fmt.Println("Token accepted.")

			return nil
		},
	}
}

func newCredentialsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove",
		Short: "Delete the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := tokenfile.Remove(cc.Cfg.Cloud.TokenFile); err != nil {
				return err
			}

			cc.Statusf("Credentials removed.\n")

			return nil
		},
	}
}
