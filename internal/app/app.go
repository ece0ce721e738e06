// Package app assembles the custody service and its backends from
// configuration. Both the server and the operator CLI build through it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"

	"pharmatrace/internal/custody/domain/catalog"
	"pharmatrace/internal/custody/domain/handoff"
	"pharmatrace/internal/custody/domain/receipt"
	custodymetrics "pharmatrace/internal/custody/metrics"
	"pharmatrace/internal/custody/ports"
	"pharmatrace/internal/custody/service"
	"pharmatrace/internal/custody/store/memory"
	pgstore "pharmatrace/internal/custody/store/postgres"
	"pharmatrace/internal/events"
	"pharmatrace/internal/ledger"
	"pharmatrace/internal/metadata"
	"pharmatrace/internal/platform/config"
	"pharmatrace/internal/platform/kafka"
	"pharmatrace/internal/platform/postgres"
	redisclient "pharmatrace/internal/platform/redis"
	"pharmatrace/internal/provenance"
	"pharmatrace/internal/ratelimit"
)

// CatalogWriter registers reference data.
type CatalogWriter interface {
	ports.Catalog
	SaveParty(ctx context.Context, p catalog.Party) error
	SaveProduct(ctx context.Context, p catalog.Product) error
}

// App holds the assembled components. Optional backends are nil when not
// configured.
type App struct {
	Config     config.Config
	Logger     *slog.Logger
	Custody    *service.Service
	Provenance *provenance.Engine
	Catalog    CatalogWriter

	DB     *sql.DB
	Redis  *redisclient.Client
	Kafka  *kgo.Client
	Outbox *events.Outbox
	// Relay forwards outbox rows to Kafka. Nil unless both are configured.
	Relay *events.Relay
	// Limiter is nil when rate limiting is disabled.
	Limiter *ratelimit.Limiter

	closers []func()
}

// Build connects every configured backend. reg receives the custody and
// provenance metrics; pass a fresh registry for short-lived processes.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, reg prometheus.Registerer) (_ *App, err error) {
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	repos, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	if a.Redis, err = redisclient.New(ctx, cfg.Redis); err != nil {
		return nil, err
	}
	if a.Redis != nil {
		a.closers = append(a.closers, func() { _ = a.Redis.Close() })
	}

	if a.Kafka, err = kafka.New(ctx, cfg.Kafka); err != nil {
		return nil, err
	}
	if a.Kafka != nil {
		a.closers = append(a.closers, a.Kafka.Close)
		if err := events.EnsureTopic(ctx, a.Kafka, cfg.Kafka.Topic, cfg.Kafka.Partitions, cfg.Kafka.Replicas); err != nil {
			logger.WarnContext(ctx, "could not provision event topic", "topic", cfg.Kafka.Topic, "error", err)
		}
	}

	ledgerPort := a.ledger()
	publisher := a.publisher()

	a.Custody = service.New(repos,
		service.WithLogger(logger),
		service.WithMetrics(custodymetrics.New(reg)),
		service.WithLedger(ledgerPort),
		service.WithPublisher(publisher),
	)

	engineOpts := []provenance.Option{
		provenance.WithLogger(logger),
		provenance.WithLedger(ledgerPort),
		provenance.WithMetrics(provenance.NewMetrics(reg)),
	}
	if a.Redis != nil {
		engineOpts = append(engineOpts, provenance.WithCache(
			provenance.NewRedisCache(a.Redis.Client, provenance.WithTTL(cfg.Redis.ProvenanceTTL)),
		))
	}
	if cfg.Metadata.Enabled {
		resolver, err := metadata.NewS3Resolver(ctx, metadata.Config{
			Region:          cfg.Metadata.Region,
			Endpoint:        cfg.Metadata.Endpoint,
			PathStyle:       cfg.Metadata.PathStyle,
			AccessKeyID:     cfg.Metadata.AccessKeyID,
			SecretAccessKey: cfg.Metadata.SecretAccessKey,
			MaxBytes:        cfg.Metadata.MaxBytes,
		})
		if err != nil {
			return nil, fmt.Errorf("metadata resolver: %w", err)
		}
		engineOpts = append(engineOpts, provenance.WithMetadata(resolver))
	}
	a.Provenance = provenance.New(provenance.Sources{
		Units:                 repos.Units,
		Production:            repos.Production,
		ManufacturerTransfers: repos.ManufacturerTransfers,
		DistributorTransfers:  repos.DistributorTransfers,
		DistributionReceipts:  repos.DistributionReceipts,
		PharmacyReceipts:      repos.PharmacyReceipts,
		Catalog:               repos.Catalog,
	}, engineOpts...)

	if cfg.Limits.Requests > 0 {
		var store ratelimit.Store = ratelimit.NewMemoryStore()
		if a.Redis != nil {
			store = ratelimit.NewRedisStore(a.Redis.Client)
		}
		a.Limiter = ratelimit.New(store, cfg.Limits.Requests, cfg.Limits.Window,
			ratelimit.WithLogger(logger),
			ratelimit.WithRegisterer(reg),
		)
	}

	if cfg.Server.CatalogFile != "" {
		if err := a.SeedCatalog(ctx, cfg.Server.CatalogFile); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *App) openStores(ctx context.Context) (service.Repositories, error) {
	cfg := a.Config.Postgres
	if cfg.DSN == "" {
		a.Logger.InfoContext(ctx, "no postgres DSN configured, using in-memory stores")
		cat := memory.NewCatalogStore()
		a.Catalog = cat
		return service.Repositories{
			Units:                 memory.NewUnitStore(),
			Production:            memory.NewProductionStore(),
			ManufacturerTransfers: memory.NewTransferStore(handoff.KindManufacturer),
			DistributorTransfers:  memory.NewTransferStore(handoff.KindDistributor),
			DistributionReceipts:  memory.NewReceiptStore(receipt.KindDistribution),
			PharmacyReceipts:      memory.NewReceiptStore(receipt.KindPharmacy),
			Catalog:               cat,
		}, nil
	}

	db, err := postgres.Open(ctx, cfg.DSN, postgres.Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return service.Repositories{}, err
	}
	a.DB = db
	a.closers = append(a.closers, func() { _ = db.Close() })
	if cfg.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			return service.Repositories{}, err
		}
	}

	cat := pgstore.NewCatalogStore(db)
	a.Catalog = cat
	return service.Repositories{
		Units:                 pgstore.NewUnitStore(db),
		Production:            pgstore.NewProductionStore(db),
		ManufacturerTransfers: pgstore.NewTransferStore(db, handoff.KindManufacturer),
		DistributorTransfers:  pgstore.NewTransferStore(db, handoff.KindDistributor),
		DistributionReceipts:  pgstore.NewReceiptStore(db, receipt.KindDistribution),
		PharmacyReceipts:      pgstore.NewReceiptStore(db, receipt.KindPharmacy),
		Catalog:               cat,
	}, nil
}

func (a *App) ledger() ports.Ledger {
	cfg := a.Config.Ledger
	if cfg.URL == "" {
		a.Logger.Info("no ledger gateway configured, using in-process ledger")
		return ledger.NewMemory()
	}
	return ledger.NewClient(ledger.Config{
		BaseURL:          cfg.URL,
		Timeout:          cfg.Timeout,
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.Cooldown,
	}, ledger.WithLogger(a.Logger))
}

// publisher picks the event sink. With postgres the outbox is written and
// the relay forwards it; without postgres events go straight to Kafka.
func (a *App) publisher() ports.EventPublisher {
	switch {
	case a.DB != nil && a.Kafka != nil:
		a.Outbox = events.NewOutbox(a.DB)
		a.Relay = events.NewRelay(a.Outbox,
			events.NewKafkaPublisher(a.Kafka, a.Config.Kafka.Topic),
			events.WithRelayLogger(a.Logger),
		)
		return a.Outbox
	case a.Kafka != nil:
		return events.NewKafkaPublisher(a.Kafka, a.Config.Kafka.Topic)
	default:
		return events.NewLog(a.Logger)
	}
}

// Ping checks every connected backend.
func (a *App) Ping(ctx context.Context) error {
	var errs []error
	if a.DB != nil {
		if err := a.DB.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Health(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.Kafka != nil {
		if err := a.Kafka.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("kafka: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases backends in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
