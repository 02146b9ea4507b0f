package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	v1 "github.com/tinoosan/bizledger/internal/httpapi/v1"
)

func newTokenCommand() *cobra.Command {
	var tenantID int64
	var actor string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.AuthConfig.Enabled() {
				return fmt.Errorf("LEDGER_JWT_SECRET is not set")
			}
			tok, err := v1.IssueToken(cfg.AuthConfig, tenantID, actor, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().Int64Var(&tenantID, "tenant", 0, "tenant id (required)")
	_ = cmd.MarkFlagRequired("tenant")
	cmd.Flags().StringVar(&actor, "actor", "", "subject recorded as the actor (required)")
	_ = cmd.MarkFlagRequired("actor")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
