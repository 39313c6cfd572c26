package cmd

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"example.com/afms/config"
	"example.com/afms/internal/cache"
	"example.com/afms/internal/cqrs"
	"example.com/afms/internal/domain"
	"example.com/afms/internal/eventbus"
	"example.com/afms/internal/eventstore"
	"example.com/afms/internal/idempotency"
	"example.com/afms/internal/metrics"
	"example.com/afms/internal/models"
	"example.com/afms/internal/projections"
	"example.com/afms/internal/repository"
	"example.com/afms/internal/rules"
	"example.com/afms/internal/search"
	"example.com/afms/internal/service"
	"example.com/afms/internal/tracing"
)

// app holds every wired component shared by the api and worker commands
type app struct {
	cfg config.Config
	db  *gorm.DB

	bus        *eventbus.Bus
	store      eventstore.EventStore
	idem       *idempotency.Service
	engine     *rules.Engine
	commands   *cqrs.CommandBus
	queries    *cqrs.QueryBus
	readModels *cqrs.ReadModelManager
	attendance *service.AttendanceService

	collector *metrics.Collector
	health    *metrics.HealthChecker
	tracer    tracing.Tracer
	cache     cache.Client
	elastic   *search.Client
}

// newApp loads configuration and wires the full pipeline
func newApp() (*app, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	if cfg.Environment == "development" || cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	db, err := initDatabase(cfg)
	if err != nil {
		return nil, err
	}

	redisCache, err := cache.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		redisCache = nil
	}

	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		return nil, err
	}

	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search")
		elasticClient = nil
	}

	collector := metrics.NewCollector()
	bus := eventbus.NewBus(eventbus.WithDeadLetterBuffer(cfg.Pipeline.DeadLetterCapacity))
	store := eventstore.NewGormEventStore(db)

	idem := idempotency.NewService(
		repository.NewIdempotencyRepository(db),
		repository.NewAttendanceScanRepository(db),
		idempotency.WithDefaultTTL(cfg.Pipeline.IdempotencyTTL),
		idempotency.WithDedupWindow(cfg.Pipeline.DedupWindow),
	)

	engine := rules.NewEngine(
		repository.NewRuleRepository(db),
		repository.NewRuleExecutionLogRepository(db),
		bus,
		collector,
		rules.WithCacheTTL(cfg.Pipeline.RulesCacheTTL),
	)

	commands := cqrs.NewCommandBus(collector)
	queries := cqrs.NewQueryBus(collector)

	readRepo := repository.NewReadModelRepository(db)
	readModels := cqrs.NewReadModelManager(store, bus, readRepo)
	readModels.Register(projections.NewAttendanceSummaryProjection(readRepo, redisCache, elasticClient))

	commands.Register(service.CommandRecordAttendance,
		service.NewRecordAttendanceHandler(store, bus, collector, cfg.Pipeline.WorkdayStart))
	queries.Register(service.QueryGetEmployeeAttendance,
		service.NewEmployeeAttendanceQueryHandler(readRepo, redisCache))

	bus.Subscribe(domain.AttendanceRecorded, service.NewRulesSubscriber(engine))

	attendance := service.NewAttendanceService(idem, commands, queries, collector, tracer)

	health := metrics.NewHealthChecker()
	health.RegisterCheck("database", func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
	if elasticClient != nil && cfg.Elastic.Enabled {
		health.RegisterCheck("elasticsearch", elasticClient.Ping)
	}

	return &app{
		cfg:        cfg,
		db:         db,
		bus:        bus,
		store:      store,
		idem:       idem,
		engine:     engine,
		commands:   commands,
		queries:    queries,
		readModels: readModels,
		attendance: attendance,
		collector:  collector,
		health:     health,
		tracer:     tracer,
		cache:      redisCache,
		elastic:    elasticClient,
	}, nil
}

// watchDeadLetters drains the bus dead-letter channel into logs and metrics
// until the context ends.
func (a *app) watchDeadLetters(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case dl := <-a.bus.DeadLetters():
			a.collector.IncrementCounter(metrics.CounterDeadLetters, 1)
			log.Error().
				Str("event_id", dl.Event.ID).
				Str("event_type", dl.Event.Type).
				Str("handler", dl.Handler).
				Str("error", dl.Error).
				Time("failed_at", dl.FailedAt).
				Msg("Dead-lettered event")
		}
	}
}

// initDatabase opens the database and applies migrations. TranslateError is
// required: unique violations must surface as gorm.ErrDuplicatedKey for the
// event store and idempotency layers.
func initDatabase(cfg config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get underlying DB connection")
	}
	sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	if cfg.DB.EnableMigrations {
		if err := models.SetupModels(db); err != nil {
			return nil, errors.Wrap(err, "failed to run migrations")
		}
	}

	return db, nil
}
