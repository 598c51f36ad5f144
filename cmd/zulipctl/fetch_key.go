package main

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	gzaw "github.com/jamesprial/go-zulip-api-wrapper"
	"github.com/jamesprial/go-zulip-api-wrapper/internal"
	"github.com/jamesprial/go-zulip-api-wrapper/pkg/types"
)

func fetchKeyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch-key",
		Short: "Print the API key for the configured account",
		Long: `Exchange the configured email and password for the account's API key.
Without a password, the key is requested from a development server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetchKey(cmd.Context(), a, cmd.OutOrStdout())
		},
	}
}

func runFetchKey(ctx context.Context, a *app, out io.Writer) error {
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	if a.cfg.Email == "" {
		return fmt.Errorf("an email is required to fetch an API key")
	}

	userAgent := a.cfg.UserAgent
	if userAgent == "" {
		userAgent = gzaw.DefaultUserAgent
	}

	session, err := internal.NewClient(&http.Client{Timeout: a.cfg.Timeout}, a.cfg.Site, internal.Options{
		UserAgent: userAgent,
		Logger:    a.logger,
	})
	if err != nil {
		return err
	}

	auth := internal.NewAuthenticator(session)
	var creds types.Credentials
	if a.cfg.Password != "" {
		creds, err = auth.FetchAPIKey(ctx, a.cfg.Email, a.cfg.Password)
	} else {
		creds, err = auth.FetchDevAPIKey(ctx, a.cfg.Email)
	}
	if err != nil {
		return err
	}

	a.logger.Debug("fetched api key", "email", creds.Identity)
	_, err = fmt.Fprintln(out, creds.SecretValue())
	return err
}
