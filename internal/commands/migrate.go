package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status|version]",
		Short:     "Apply or inspect database migrations",
		Args:      cobra.RangeArgs(0, 2),
		ValidArgs: []string{"up", "down", "status", "version", "redo", "reset"},
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) > 0 {
				command = args[0]
			}
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

			if err := pg.Migrate(ctx, command, args[min(1, len(args)):]...); err != nil {
				return fmt.Errorf("migrate %s: %w", command, err)
			}
			logger.Info("migrations complete", "command", command)
			return nil
		},
	}
}
