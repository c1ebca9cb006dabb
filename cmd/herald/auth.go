package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"herald/internal/googleauth"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize Google access and store the OAuth token",
	Long: `auth runs the OAuth consent flow for an installed-app credentials file
and writes the token to google.token_file. Service account credentials
need no token.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Google.CredentialsFile == "" {
			return fmt.Errorf("google.credentials_file is not set")
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
		defer cancel()
		return googleauth.Authorize(ctx, googleauth.Config{
			CredentialsFile: cfg.Google.CredentialsFile,
			TokenFile:       cfg.Google.TokenFile,
		}, os.Stdout)
	},
}
