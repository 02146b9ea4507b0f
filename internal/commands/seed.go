package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinoosan/bizledger/internal/service/account"
	"github.com/tinoosan/bizledger/internal/service/audit"
)

func newSeedChartCommand() *cobra.Command {
	var tenantID int64
	var file, actor string

	cmd := &cobra.Command{
		Use:   "seed-chart",
		Short: "Import a chart of accounts from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("opening chart: %w", err)
			}
			defer f.Close()
			chart, err := account.ParseChart(f)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", file, err)
			}

			ctx := cmd.Context()
			pg, err := openPostgres(ctx, cfg)
			if err != nil {
				return err
			}
			defer pg.Close()

			svc := account.New(pg, audit.NewRecorder())
			if _, err := svc.EnsureSystemAccounts(ctx, tenantID, actor); err != nil {
				return fmt.Errorf("system accounts: %w", err)
			}
			created, err := svc.ImportChart(ctx, tenantID, chart, actor)
			if err != nil {
				return err
			}
			for _, a := range created {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%s\n", a.ID, a.Code, a.Type, a.Name)
			}
			logger.Info("chart imported", "tenant_id", tenantID, "file", file, "created", len(created), "skipped", len(chart.Accounts)-len(created))
			return nil
		},
	}

	cmd.Flags().Int64Var(&tenantID, "tenant", 0, "tenant id (required)")
	_ = cmd.MarkFlagRequired("tenant")
	cmd.Flags().StringVar(&file, "file", "", "chart YAML file (required)")
	_ = cmd.MarkFlagRequired("file")
	cmd.Flags().StringVar(&actor, "actor", "seed", "actor recorded in the audit trail")
	return cmd
}
