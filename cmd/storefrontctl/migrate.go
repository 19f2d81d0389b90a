package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

func newMigrateCmd(v *viper.Viper) *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:       "migrate up|down|status",
		Short:     "Apply, roll back or inspect database migrations",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := strings.ToLower(strings.TrimSpace(args[0]))
			switch direction {
			case "up", "down", "status":
			default:
				return fmt.Errorf("unsupported direction: %s (use up|down|status)", args[0])
			}
			return withStore(cmd, v, func(ctx context.Context, store *postgres.Store) error {
				return runMigrate(ctx, cmd.OutOrStdout(), store, direction, steps)
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	return cmd
}

func runMigrate(ctx context.Context, out io.Writer, store *postgres.Store, direction string, steps int) error {
	switch direction {
	case "up":
		if err := store.MigrateUp(ctx, steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
	case "down":
		if steps <= 0 {
			steps = 1
		}
		if err := store.MigrateDown(ctx, steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
	}

	state, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	printMigrationState(out, direction, state)
	return nil
}

func printMigrationState(out io.Writer, direction string, state postgres.MigrationState) {
	label := "migration status"
	if direction != "status" {
		label = "migrate " + direction + " ok"
	}
	_, _ = fmt.Fprintf(out, "%s: version=%d applied=%d pending=%d\n", label, state.Version, state.Applied, len(state.Pending))
	for _, name := range state.Pending {
		_, _ = fmt.Fprintf(out, "  pending %s\n", name)
	}
}
