package command

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mocktide/internal/admin"
	"mocktide/internal/config"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

// tokenCmd mints a bearer token for POST /shutdown, signed with
// ADMIN_JWT_SECRET.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin API token allowed to trigger shutdown",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(envFile)
		if err != nil {
			return err
		}
		if cfg.AdminJWTSecret == "" {
			return errors.New("ADMIN_JWT_SECRET is not set")
		}

		token, err := admin.NewTokenService(cfg.AdminJWTSecret).IssueToken(tokenSubject, []string{admin.ScopeShutdown}, tokenTTL)
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "ci", "token subject, shown in shutdown logs")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
