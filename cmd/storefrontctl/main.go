// Command storefrontctl, операторские команды витрины: миграции, зависшие заказы,
// загрузка каталога и повтор событий из DLQ.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const defaultTimeout = 30 * time.Second

// openStore подменяется в тестах.
var openStore = func(ctx context.Context, dsn string) (*postgres.Store, error) {
	return postgres.Open(ctx, dsn, postgres.Options{Logger: log.WithField("component", "storefrontctl")})
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	_ = v.BindEnv("dsn", "STOREFRONT_POSTGRES_DSN", "POSTGRES_DSN")
	_ = v.BindEnv("jwt_secret", "AUTH_JWT_SECRET")
	_ = v.BindEnv("brokers", "KAFKA_BROKERS")
	v.SetDefault("timeout", defaultTimeout)

	root := &cobra.Command{
		Use:           "storefrontctl",
		Short:         "Operator tooling for the storefront checkout backend",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
			log.SetLevel(log.WarnLevel)
		},
	}
	root.PersistentFlags().String("dsn", "", "PostgreSQL DSN (fallback: STOREFRONT_POSTGRES_DSN, POSTGRES_DSN)")
	root.PersistentFlags().Duration("timeout", defaultTimeout, "overall command timeout")
	_ = v.BindPFlag("dsn", root.PersistentFlags().Lookup("dsn"))
	_ = v.BindPFlag("timeout", root.PersistentFlags().Lookup("timeout"))

	root.AddCommand(newMigrateCmd(v))
	root.AddCommand(newOrdersCmd(v))
	root.AddCommand(newSeedCmd(v))
	root.AddCommand(newTokenCmd(v))
	root.AddCommand(newEventsCmd(v))
	return root
}

// withStore открывает Postgres на время одной команды.
func withStore(cmd *cobra.Command, v *viper.Viper, fn func(ctx context.Context, store *postgres.Store) error) error {
	dsn := strings.TrimSpace(v.GetString("dsn"))
	if dsn == "" {
		return fmt.Errorf("postgres DSN is required: pass --dsn or set STOREFRONT_POSTGRES_DSN")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), v.GetDuration("timeout"))
	defer cancel()

	store, err := openStore(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	return fn(ctx, store)
}
