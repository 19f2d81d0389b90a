package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

// storage: набор репозиториев выбранного драйвера.
type storage struct {
	orders      domain.OrderRepository
	products    domain.ProductRepository
	outbox      domain.OutboxRepository
	idempotency domain.IdempotencyRepository
	support     domain.SupportRepository
	profiles    domain.ProfileRepository

	ping  func(ctx context.Context) error
	close func() error
}

func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (*storage, error) {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		logger.Warn("using in-memory storage, data is lost on restart")
		return &storage{
			orders:      memory.NewOrderRepository(),
			products:    memory.NewProductRepository(),
			outbox:      memory.NewOutboxRepository(),
			idempotency: memory.NewIdempotencyRepository(),
			support:     memory.NewSupportRepository(),
			profiles:    memory.NewProfileRepository(),
			ping:        func(context.Context) error { return nil },
			close:       func() error { return nil },
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage requires POSTGRES_DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.Options{Logger: logger.WithField("layer", "postgres")})
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		logger.Info("postgres storage initialized")
		return &storage{
			orders:      postgres.NewOrderRepository(store),
			products:    postgres.NewProductRepository(store),
			outbox:      postgres.NewOutboxRepository(store),
			idempotency: postgres.NewIdempotencyRepository(store),
			support:     postgres.NewSupportRepository(store),
			profiles:    postgres.NewProfileRepository(store),
			ping:        store.Ping,
			close:       store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
