package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/gatekeeper/internal/app"
	"github.com/charlesng35/gatekeeper/internal/authz"
	"github.com/charlesng35/gatekeeper/internal/cache"
	"github.com/charlesng35/gatekeeper/internal/database"
	"github.com/charlesng35/gatekeeper/internal/matrix"
	"github.com/charlesng35/gatekeeper/internal/store"
	"github.com/charlesng35/gatekeeper/pkg/logger"
)

// components bundles the wired engine surface handed to the runtime loop.
type components struct {
	engine *authz.Engine
	matrix *matrix.Service
	admin  *store.AdminService
	audit  *store.AuditService
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// leave driver as-is to surface unsupported driver error during open
	}

	return dbCfg
}

// buildCacheStore selects the cache backend. Redis failures degrade to the
// in-process store so startup never depends on cache availability.
func buildCacheStore(cfg *app.Config, log *zap.Logger) cache.Store {
	if cfg.Cache.Redis.Enabled {
		redisStore, err := cache.NewRedisStore(cfg.Cache.RedisStoreConfig())
		if err != nil {
			log.Warn("redis unavailable; using in-process cache", zap.Error(err))
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
			return redisStore
		}
	}
	return cache.NewMemoryStore()
}

func buildComponents(cfg *app.Config, db *gorm.DB, log *zap.Logger) (*components, error) {
	users, err := store.NewUserStore(db)
	if err != nil {
		return nil, fmt.Errorf("initialise user store: %w", err)
	}
	roles, err := store.NewRoleStore(db)
	if err != nil {
		return nil, fmt.Errorf("initialise role store: %w", err)
	}
	perms, err := store.NewPermissionStore(db)
	if err != nil {
		return nil, fmt.Errorf("initialise permission store: %w", err)
	}
	overrides, err := store.NewOverrideStore(db)
	if err != nil {
		return nil, fmt.Errorf("initialise override store: %w", err)
	}
	audit, err := store.NewAuditService(db)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	effectiveCache := authz.NewEffectiveCache(buildCacheStore(cfg, log), cfg.Authz.EffectiveTTL)

	engine, err := authz.NewEngine(users, perms, effectiveCache,
		authz.WithCacheTTL(cfg.Authz.EffectiveTTL),
		authz.WithLogger(logger.WithModule("authz")),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise decision engine: %w", err)
	}

	admin, err := store.NewAdminService(db, roles, perms, overrides, audit, engine)
	if err != nil {
		return nil, fmt.Errorf("initialise admin service: %w", err)
	}

	matrixSvc, err := matrix.NewService(db, users, roles, perms, audit, engine)
	if err != nil {
		return nil, fmt.Errorf("initialise matrix service: %w", err)
	}

	return &components{
		engine: engine,
		matrix: matrixSvc,
		admin:  admin,
		audit:  audit,
	}, nil
}

// reportConsistency runs one validation pass at startup and logs the
// findings. Defects are an operator concern, never a startup failure.
func reportConsistency(ctx context.Context, svc *matrix.Service, log *zap.Logger) {
	report, err := svc.Validate(ctx)
	if err != nil {
		log.Warn("consistency validation failed", zap.Error(err))
		return
	}

	if report.Clean() {
		log.Info("catalog consistent")
		return
	}

	for _, issue := range report.Errors {
		log.Error("catalog inconsistency",
			zap.String("code", issue.Code),
			zap.String("entity", issue.EntityID),
			zap.String("detail", issue.Detail),
		)
	}
	for _, issue := range report.Warnings {
		log.Warn("catalog hygiene finding",
			zap.String("code", issue.Code),
			zap.String("entity", issue.EntityID),
			zap.String("detail", issue.Detail),
		)
	}
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("database close skipped", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("database close failed", zap.Error(err))
	}
}
