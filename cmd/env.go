package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dataland/internal/company"
	"github.com/sells-group/dataland/internal/datapoint"
	"github.com/sells-group/dataland/internal/dataset"
	"github.com/sells-group/dataland/internal/db"
	"github.com/sells-group/dataland/internal/events"
	"github.com/sells-group/dataland/internal/pointtype"
	"github.com/sells-group/dataland/internal/resilience"
	"github.com/sells-group/dataland/internal/sourcing"
	"github.com/sells-group/dataland/internal/spec"
	"github.com/sells-group/dataland/internal/store"
	"github.com/sells-group/dataland/pkg/specclient"
)

// migrator is implemented by every component that owns tables.
type migrator interface {
	Migrate(ctx context.Context) error
}

// bus is implemented by events.Outbox and events.MemoryBus.
type bus interface {
	events.Publisher
	events.Queue
	events.DeadLetters
}

// appEnv holds the wired components shared by the commands.
type appEnv struct {
	Store store.Store
	// Postgres is set when store.database_url is configured. It backs the
	// request, event and company tables regardless of the store driver.
	Postgres *store.PostgresStore
	Pool     db.Pool
	Queue    bus

	SpecSource spec.Source
	Specs      *spec.Registry
	Companies  company.Directory

	DataPoints *datapoint.Manager
	Datasets   *dataset.Assembler
	Sourcing   *sourcing.SourcingManager
	Requests   *sourcing.RequestManager

	migrators []migrator
	closers   []func() error
}

// Close releases the store connections.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close failed", zap.Error(err))
		}
	}
}

// Migrate creates the tables of every wired component.
func (e *appEnv) Migrate(ctx context.Context) error {
	for _, m := range e.migrators {
		if err := m.Migrate(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Ping reports backing store health. Without Postgres there is nothing to ping.
func (e *appEnv) Ping(ctx context.Context) error {
	if e.Postgres == nil {
		return nil
	}
	return e.Postgres.Ping(ctx)
}

// initEnv validates the configuration for mode and wires every component.
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &appEnv{}
	if err := env.initStores(ctx); err != nil {
		env.Close()
		return nil, err
	}
	if err := env.initSpecs(); err != nil {
		env.Close()
		return nil, err
	}
	if err := env.initCompanies(); err != nil {
		env.Close()
		return nil, err
	}
	env.initManagers()
	return env, nil
}

func (e *appEnv) initStores(ctx context.Context) error {
	if cfg.Store.DatabaseURL != "" {
		pg, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return eris.Wrap(err, "init postgres")
		}
		e.Postgres = pg
		e.Pool = pg.Pool()
		e.closers = append(e.closers, pg.Close)
	}

	switch cfg.Store.Driver {
	case "postgres":
		if e.Postgres == nil {
			return eris.New("store.database_url is required for the postgres driver")
		}
		e.Store = e.Postgres
	case "sqlite":
		st, err := store.NewSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return eris.Wrap(err, "init sqlite")
		}
		e.Store = st
		e.closers = append(e.closers, st.Close)
	default:
		return eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	e.migrators = append(e.migrators, e.Store)

	if e.Pool != nil {
		outbox := events.NewOutbox(e.Pool)
		e.Queue = outbox
		e.migrators = append(e.migrators, outbox)
	} else {
		zap.L().Warn("no database_url configured, events stay in process and requests are disabled")
		e.Queue = events.NewMemoryBus()
	}
	return nil
}

func (e *appEnv) initSpecs() error {
	switch cfg.Specs.Source {
	case "postgres":
		if e.Pool == nil {
			return eris.New("specs.source postgres requires store.database_url")
		}
		src := spec.NewPostgresSource(e.Pool)
		e.SpecSource = src
		e.migrators = append(e.migrators, src)
	case "file":
		b, err := spec.LoadBundle(cfg.Specs.Dir)
		if err != nil {
			return eris.Wrap(err, "load spec bundle")
		}
		zap.L().Info("loaded specifications from files",
			zap.String("dir", cfg.Specs.Dir),
			zap.Int("frameworks", len(b.Frameworks)),
			zap.Int("data_point_types", len(b.DataPointTypes)),
		)
		e.SpecSource = spec.NewMemorySource(b)
	case "http":
		e.SpecSource = spec.NewHTTPSource(newSpecClient())
	default:
		return eris.Errorf("unsupported spec source: %s", cfg.Specs.Source)
	}
	e.Specs = spec.NewRegistry(e.SpecSource, cfg.Specs.CacheSize)
	return nil
}

func newSpecClient() specclient.Client {
	cb := resilience.NewCircuitBreaker(resilience.FromCircuitConfig("specs",
		cfg.Circuit.FailureThreshold,
		time.Duration(cfg.Circuit.ResetTimeoutSecs)*time.Second,
	))
	return specclient.NewClient(cfg.Specs.BaseURL,
		specclient.WithRateLimit(cfg.Specs.RatePerSec, cfg.Specs.Burst),
		specclient.WithRetry(retryConfig(cfg.Retry.MaxAttempts)),
		specclient.WithCircuitBreaker(cb),
	)
}

func retryConfig(maxAttempts int) resilience.RetryConfig {
	return resilience.FromRetryConfig(maxAttempts,
		time.Duration(cfg.Retry.InitialBackoffMS)*time.Millisecond,
		time.Duration(cfg.Retry.MaxBackoffMS)*time.Millisecond,
		cfg.Retry.Multiplier,
	)
}

func (e *appEnv) initCompanies() error {
	if e.Pool != nil {
		dir := company.NewPostgresDirectory(e.Pool)
		e.Companies = dir
		e.migrators = append(e.migrators, dir)
		return nil
	}

	var seed []company.Company
	if cfg.Companies.File != "" {
		var err error
		seed, err = company.LoadImportFile(cfg.Companies.File)
		if err != nil {
			return err
		}
	}
	dir, err := company.NewMemoryDirectory(seed...)
	if err != nil {
		return eris.Wrap(err, "init company directory")
	}
	zap.L().Info("using in-memory company directory", zap.Int("companies", len(seed)))
	e.Companies = dir
	return nil
}

func (e *appEnv) initManagers() {
	checker := pointtype.NewChecker(e.Specs, pointtype.NewRegistry())
	e.DataPoints = datapoint.NewManager(e.Store, checker, e.Queue,
		datapoint.WithCompanies(e.Companies),
	)
	e.Datasets = dataset.NewAssembler(e.Specs, e.Store, e.DataPoints, checker, e.Queue,
		dataset.WithIgnoredFields(cfg.Datasets.IgnoredFields...),
		dataset.WithWorkers(cfg.Datasets.Workers),
	)

	if e.Pool == nil {
		return
	}
	repo := sourcing.NewPostgresRepository(e.Pool, e.Queue)
	e.migrators = append(e.migrators, repo)
	e.Sourcing = sourcing.NewSourcingManager(repo, time.Now)
	e.Requests = sourcing.NewRequestManager(repo, e.Sourcing, e.Companies,
		sourcing.WithFrameworks(e.Specs),
		sourcing.WithActiveData(e.Datasets),
		sourcing.WithQuota(sourcing.QuotaConfig{
			MaxRequestsForUser: cfg.Quota.MaxRequestsForUser,
			Timezone:           cfg.Quota.Timezone,
		}),
	)
}

// newConsumer registers the handlers that react to QA decisions.
func (e *appEnv) newConsumer() *events.Consumer {
	c := events.NewConsumer(e.Queue, events.ConsumerConfig{
		PollInterval: cfg.Events.PollInterval(),
		BatchSize:    cfg.Events.BatchSize,
		Workers:      cfg.Events.Workers,
		Lease:        cfg.Events.Lease(),
		Retry:        retryConfig(cfg.Events.MaxAttempts),
		MaxRequeues:  cfg.Events.MaxRequeues,
	})
	c.Handle(events.QaStatusChanged, e.DataPoints.HandleQaStatusChanged)
	c.Handle(events.QaStatusChanged, e.Datasets.HandleQaStatusChanged)
	if e.Sourcing != nil {
		c.Handle(events.QaStatusChanged, e.Sourcing.HandleQaStatusChanged)
	}
	return c
}
