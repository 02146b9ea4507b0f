package commands

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tinoosan/bizledger/internal/errs"
	"github.com/tinoosan/bizledger/internal/metrics"
	"github.com/tinoosan/bizledger/internal/service/balance"
)

func newRecalculateCommand() *cobra.Command {
	var tenantID, accountID int64
	var verifyOnly bool

	cmd := &cobra.Command{
		Use:   "recalculate",
		Short: "Rebuild running balances from ledger history, or verify them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pg, err := openPostgres(ctx, cfg)
			if err != nil {
				return err
			}
			defer pg.Close()

			r := balance.NewRecalculator(pg, balance.Options{
				Workers: cfg.RecalcWorkers,
				Logger:  logger,
				Metrics: metrics.NewEngine(prometheus.NewRegistry()),
			})
			out := cmd.OutOrStdout()

			if verifyOnly {
				report, err := r.Verify(ctx, tenantID)
				if err != nil && !errors.Is(err, errs.ErrBalanceDrift) {
					return err
				}
				for _, a := range report.Accounts {
					fmt.Fprintf(out, "account %d (%s): stored %s computed %s\n", a.AccountID, a.Code, a.Stored, a.Computed)
				}
				for _, e := range report.Entries {
					fmt.Fprintf(out, "ledger row %d (account %d): stored %s computed %s\n", e.EntryID, e.AccountID, e.Stored, e.Computed)
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(out, "balances verified: no drift")
				return nil
			}

			var res balance.Result
			if accountID > 0 {
				res, err = r.RecalculateAccount(ctx, tenantID, accountID)
			} else {
				res, err = r.RecalculateAll(ctx, tenantID)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "updated %d accounts, %d ledger rows\n", res.UpdatedAccounts, res.UpdatedEntries)
			return nil
		},
	}

	cmd.Flags().Int64Var(&tenantID, "tenant", 0, "tenant id (required)")
	_ = cmd.MarkFlagRequired("tenant")
	cmd.Flags().Int64Var(&accountID, "account", 0, "limit to one account")
	cmd.Flags().BoolVar(&verifyOnly, "verify", false, "report drift without writing")
	return cmd
}
