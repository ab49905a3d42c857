package main

import (
	"fmt"

	"github.com/spf13/cobra"

	apperrors "github.com/chatsync/client/internal/errors"
)

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var token, username string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the session token used for the websocket and the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				return apperrors.AuthRequired()
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg, opts.logger(cfg))
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.SaveToken(token, username); err != nil {
				return err
			}
			fmt.Fprintf(opts.stdout, "Token saved to %s\n", cfg.CredentialStore)
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Session token issued by the chat server")
	cmd.Flags().StringVar(&username, "user", "", "Username the token belongs to (informational)")
	return cmd
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg, opts.logger(cfg))
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.ClearToken(); err != nil {
				return err
			}
			fmt.Fprintln(opts.stdout, "Logged out")
			return nil
		},
	}
}
