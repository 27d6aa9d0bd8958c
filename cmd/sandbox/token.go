package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/code-sandbox/internal/auth"
	"github.com/sakif/code-sandbox/internal/config"
)

var (
	subjectFlag string
	ttlFlag     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the execution history API",
	Long: `Sign a token with auth.secret (SANDBOX_AUTH_SECRET). Send it as
"Authorization: Bearer <token>" to /api/executions.

Examples:
  SANDBOX_AUTH_SECRET=$(openssl rand -hex 32) sandbox token --subject dashboard
  sandbox token --subject ops --ttl 1h`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&subjectFlag, "subject", "api", "Who the token is issued to")
	tokenCmd.Flags().DurationVar(&ttlFlag, "ttl", 0, "Token lifetime (default auth.token_ttl)")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.Secret == "" {
		return errors.New("auth.secret is not set (SANDBOX_AUTH_SECRET)")
	}

	tokens, err := auth.NewTokenService(cfg.Auth.Secret)
	if err != nil {
		return err
	}

	ttl := ttlFlag
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL
	}
	token, err := tokens.Generate(subjectFlag, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
