package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/ledger"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

type staleLister interface {
	ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Order, error)
}

func newOrdersCmd(v *viper.Viper) *cobra.Command {
	orders := &cobra.Command{
		Use:   "orders",
		Short: "Inspect orders",
	}

	var (
		olderThan time.Duration
		limit     int
	)
	stale := &cobra.Command{
		Use:   "stale",
		Short: "List pending orders that were never settled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, v, func(ctx context.Context, store *postgres.Store) error {
				svc := ledger.NewService(postgres.NewOrderRepository(store), nil, nil)
				return runStaleOrders(ctx, cmd.OutOrStdout(), svc, olderThan, limit, time.Now().UTC())
			})
		},
	}
	stale.Flags().DurationVar(&olderThan, "older-than", 30*time.Minute, "minimum age of a pending order")
	stale.Flags().IntVar(&limit, "limit", 100, "maximum number of orders to print")

	orders.AddCommand(stale)
	return orders
}

func runStaleOrders(ctx context.Context, out io.Writer, lister staleLister, olderThan time.Duration, limit int, now time.Time) error {
	orders, err := lister.ListStalePending(ctx, olderThan, limit)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		_, _ = fmt.Fprintf(out, "no pending orders older than %s\n", olderThan)
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ORDER\tUSER\tPROVIDER\tTOTAL\tAGE\tEXTERNAL REF")
	for _, o := range orders {
		ref := o.ExternalRef
		if ref == "" {
			ref = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			o.ID, o.UserID, o.Provider, o.Total.StringFixed(2), now.Sub(o.CreatedAt).Truncate(time.Second), ref)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "%d stale pending order(s)\n", len(orders))
	return nil
}
