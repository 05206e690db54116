package main

import (
	"context"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/cql2omop/cql2omop/internal/config"
	"github.com/cql2omop/cql2omop/internal/domain/cql"
	"github.com/cql2omop/cql2omop/internal/domain/omop"
	"github.com/cql2omop/cql2omop/internal/domain/sqlgen"
	"github.com/cql2omop/cql2omop/internal/domain/translate"
	"github.com/cql2omop/cql2omop/internal/domain/vsac"
	"github.com/cql2omop/cql2omop/internal/platform/db"
	"github.com/cql2omop/cql2omop/internal/platform/llm"
)

const redisCacheTTL = 24 * time.Hour

// app holds the wired service and everything that must be closed with it.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	svc     *translate.Service
	pinger  db.Pinger
	stats   func() *db.PoolStats
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, newLogger(os.Getenv("ENV")), err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		return nil, logger, err
	}
	return cfg, logger, nil
}

// newApp wires the pipeline from cfg. A vocabulary database that cannot be
// reached is logged and left out: requests that need it fail individually.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *app {
	a := &app{cfg: cfg, logger: logger}

	var mapper translate.ConceptMapper
	switch {
	case cfg.VocabBackend == config.BackendSQLite && cfg.VocabSQLitePath != "":
		sdb, err := db.OpenSQLite(ctx, cfg.VocabSQLitePath, int(cfg.DBMaxConns))
		if err != nil {
			logger.Error().Err(err).Msg("vocabulary database unavailable")
			break
		}
		a.closers = append(a.closers, func() { sdb.Close() })
		a.pinger = db.SQLPinger{DB: sdb}
		a.stats = func() *db.PoolStats { return db.SQLStats(sdb) }
		mapper = omop.NewMapper(omop.NewSQLiteStore(sdb), logger)
		logger.Info().Str("path", cfg.VocabSQLitePath).Msg("opened sqlite vocabulary")
	case cfg.DatabaseURL != "":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Error().Err(err).Msg("vocabulary database unavailable")
			break
		}
		a.closers = append(a.closers, pool.Close)
		a.pinger = pool
		a.stats = poolStats(pool)
		mapper = omop.NewMapper(omop.NewPGStore(pool), logger)
		logger.Info().Msg("connected to vocabulary database")
	default:
		logger.Warn().Msg("no vocabulary database configured, value set mapping is disabled")
	}

	cache := vsacCache(cfg, logger, a)
	resolver := vsac.NewResolver(vsac.NewClient(cfg.VSACBaseURL, cfg.VSACTimeout, logger), cache, cfg.VSACConcurrency, logger)

	completer := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMTimeout, logger)
	if cfg.LLMAPIKey == "" {
		logger.Warn().Msg("LLM_API_KEY not set, SQL generation will fail")
	}
	extractor := cql.NewExtractor(logger)

	deps := translate.Deps{
		Parser:    cql.NewLLMParser(completer, extractor, logger),
		Extractor: extractor,
		Resolver:  resolver,
		Mapper:    mapper,
		Generator: sqlgen.NewLLMGenerator(completer, logger),
		Validator: sqlgen.NewLLMValidator(completer, logger),
		Corrector: sqlgen.NewLLMCorrector(completer, logger),
	}
	if cfg.CodeLookupURL != "" {
		deps.Lookup = vsac.NewDisplayLookup(cfg.CodeLookupURL, cfg.VSACTimeout, logger)
	}

	a.svc = translate.NewService(deps, translate.Defaults{
		Credentials: vsac.Credentials{Username: cfg.VSACUsername, Password: cfg.VSACPassword},
		Schema:      cfg.OMOPDatabaseSchema,
		Dialect:     cfg.Dialect(),
		LibraryDir:  cfg.LibraryDir,
	}, logger)
	return a
}

func vsacCache(cfg *config.Config, logger zerolog.Logger, a *app) vsac.Cache {
	local := vsac.NewMemoryCache()
	if cfg.RedisURL == "" {
		return local
	}
	shared, client, err := vsac.NewRedisCache(cfg.RedisURL, redisCacheTTL, logger)
	if err != nil {
		logger.Error().Err(err).Msg("redis cache disabled")
		return local
	}
	a.closers = append(a.closers, func() { client.Close() })
	logger.Info().Msg("using redis as shared value set cache")
	return vsac.NewLayeredCache(local, shared)
}

func poolStats(pool *pgxpool.Pool) func() *db.PoolStats {
	return func() *db.PoolStats { return db.GetPoolStats(pool) }
}
