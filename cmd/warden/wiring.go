package main

import (
	"context"
	"crypto/rsa"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/quota"
	"github.com/platinummonkey/warden/pkg/ratelimit"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/schema"
)

// storeSet is every backing store the server needs. Postgres, when
// configured, holds identities, usage, ownership and teams; Redis, when
// configured, holds the submission windows. Anything left unconfigured
// runs in memory.
type storeSet struct {
	db  *sql.DB
	rdb *redis.Client

	identities auth.IdentityStore
	usage      quota.UsageStore
	resources  rbac.ResourceStore
	teams      rbac.TeamRegistry
	windows    ratelimit.WindowStore
}

func openStores(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (*storeSet, error) {
	s := &storeSet{}

	if cfg.Storage.PostgresURL != "" {
		db, err := openPostgres(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		s.db = db

		if cfg.Storage.RunMigrations {
			if err := schema.RunMigrations(ctx, db, logger); err != nil {
				s.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}

		s.identities = auth.NewPostgresIdentityStore(db)
		s.usage = quota.NewPostgresUsageStore(db)
		s.resources = rbac.NewPostgresResourceStore(db)
		s.teams = rbac.NewPostgresTeamDirectory(db)
		logger.Info("Using PostgreSQL for identities, usage, ownership and teams")
	} else {
		identities := auth.NewMemoryIdentityStore()
		s.identities = identities
		s.usage = quota.NewMemoryUsageStore()
		s.resources = rbac.NewMemoryResourceStore()
		s.teams = rbac.NewIdentityTeamDirectory(identities)
		logger.Warn("No PostgreSQL URL configured, state is kept in memory")
	}

	if cfg.Storage.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.Storage.RedisURL)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.rdb = rdb
		s.windows = ratelimit.NewRedisWindowStore(rdb, cfg.Storage.RedisKeyPrefix+":ratelimit", cfg.RateLimit.Window)
		if s.db == nil {
			s.usage = quota.NewRedisUsageStore(rdb, cfg.Storage.RedisKeyPrefix+":usage")
		}
		logger.Info("Using Redis for submission windows")
	} else {
		s.windows = ratelimit.NewMemoryWindowStore()
	}

	if cfg.Teams.CacheSize > 0 {
		s.teams = rbac.NewCachedTeamDirectory(s.teams, cfg.Teams.CacheSize, cfg.Teams.CacheTTL, metrics)
	}

	return s, nil
}

func openPostgres(ctx context.Context, cfg config.StorageConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.PostgresMaxConns)
	db.SetMaxIdleConns(cfg.PostgresMaxConns / 2)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func (s *storeSet) healthChecker(version string) *observability.HealthChecker {
	var rdb redis.UniversalClient
	if s.rdb != nil {
		rdb = s.rdb
	}
	return observability.NewHealthChecker(s.db, rdb, version)
}

// Close releases the database and redis connections
func (s *storeSet) Close() error {
	var errs []error
	if s.rdb != nil {
		errs = append(errs, s.rdb.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

// loadPlanTable reads the plans file, or falls back to the built-in plans,
// and keeps the table in sync with the file when watching is enabled
func loadPlanTable(ctx context.Context, cfg config.QuotaConfig, metrics *observability.Metrics) (*quota.PlanTable, error) {
	if cfg.PlansFile == "" {
		return quota.DefaultPlanTable(), nil
	}

	plans, err := quota.LoadPlans(cfg.PlansFile)
	if err != nil {
		return nil, err
	}
	table, err := quota.NewPlanTable(plans)
	if err != nil {
		return nil, fmt.Errorf("invalid plan table %s: %w", cfg.PlansFile, err)
	}

	if cfg.WatchPlans {
		log := logrus.New()
		log.SetFormatter(&logrus.JSONFormatter{})
		err := quota.WatchPlans(ctx, cfg.PlansFile, table, log, func(err error) {
			if err != nil {
				metrics.RecordPlanReload("error")
				return
			}
			metrics.RecordPlanReload("success")
		})
		if err != nil {
			return nil, err
		}
	}
	return table, nil
}

func signingKey(path string, logger *observability.Logger) (*rsa.PrivateKey, error) {
	if path != "" {
		key, err := auth.LoadSigningKey(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load signing key: %w", err)
		}
		return key, nil
	}

	logger.Warn("No signing key configured, generating an ephemeral key; tokens will not survive a restart")
	return auth.GenerateSigningKey()
}

// newAuditLogger builds the configured sinks behind an async queue
func newAuditLogger(cfg config.AuditConfig, db *sql.DB, logger *observability.Logger) (audit.Logger, error) {
	if !cfg.Enabled {
		return audit.NoOp(), nil
	}

	var sinks []audit.Logger
	if cfg.Sink == "stdout" || cfg.Sink == "both" {
		sinks = append(sinks, audit.NewLogrusLogger(os.Stdout))
	}
	if cfg.Sink == "postgres" || cfg.Sink == "both" {
		if db == nil {
			logger.Warn("Postgres audit sink requested without a database, skipping it")
		} else {
			dbLogger, err := audit.NewDBLogger(db)
			if err != nil {
				return nil, fmt.Errorf("failed to create audit sink: %w", err)
			}
			sinks = append(sinks, dbLogger)
		}
	}
	if len(sinks) == 0 {
		return audit.NoOp(), nil
	}

	return audit.NewAsyncLogger(audit.NewMultiLogger(sinks...), 2, 1024, logger), nil
}
