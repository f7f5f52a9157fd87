package main

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-auth-bridge"
	"github.com/goliatone/go-auth-bridge/activitymap"
	"github.com/goliatone/go-auth-bridge/middleware/bridgeware"
	"github.com/goliatone/go-auth-bridge/provider/auth0"
	"github.com/goliatone/go-auth-bridge/repository"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func newApp(cfg auth.Config, logger *zap.Logger) *fx.App {
	return fx.New(
		appOptions(cfg, logger),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
	)
}

func appOptions(cfg auth.Config, logger *zap.Logger) fx.Option {
	return fx.Options(
		fx.Supply(cfg, logger),
		fx.Provide(
			newBridgeLogger,
			newDatabase,
			newSessions,
			newRepositoryManager,
			newStore,
			newReconciler,
			newVerifier,
			newHTTPServer,
		),
		fx.Invoke(registerRoutes, runPurger),
	)
}

func newBridgeLogger(logger *zap.Logger) auth.Logger {
	return auth.NewZapLogger(logger)
}

func newDatabase(lc fx.Lifecycle, cfg auth.Config) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	db := bun.NewDB(sqldb, sqlitedialect.New())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return auth.CreateSchema(ctx, db, cfg.UsersTable())
		},
		OnStop: func(ctx context.Context) error {
			return db.Close()
		},
	})
	return db, nil
}

// newSessions returns nil for the SQL backend, the manager then falls back
// to the bun sessions repository
func newSessions(lc fx.Lifecycle, cfg auth.Config) (auth.Sessions, error) {
	if cfg.SessionBackend != auth.SessionBackendRedis {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return repository.NewRedisSessions(client, repository.WithRedisPrefix(cfg.RedisPrefix)), nil
}

func newRepositoryManager(db *bun.DB, sessions auth.Sessions, cfg auth.Config) (auth.RepositoryManager, error) {
	mngr := auth.NewRepositoryManager(db,
		auth.WithManagerUsersTable(cfg.UsersTable()),
		auth.WithSessionsRepository(sessions),
	)
	return mngr, mngr.Validate()
}

func newStore(mngr auth.RepositoryManager, logger auth.Logger) *auth.Store {
	return auth.NewStoreFromManager(mngr, auth.WithStoreLogger(logger))
}

func newReconciler(store *auth.Store, cfg auth.Config, logger auth.Logger) (auth.SessionResolver, error) {
	mapper, err := auth.NewIdentityMapper(cfg)
	if err != nil {
		return nil, err
	}

	activity := auth.ActivitySinkFunc(func(ctx context.Context, event auth.ActivityEvent) error {
		logger.Info("activity", activitymap.Normalize(event).Fields()...)
		return nil
	})

	return auth.NewSessionReconciler(store, mapper,
		auth.WithReconcilerLogger(logger),
		auth.WithActivitySink(activity),
	), nil
}

func newVerifier(lc fx.Lifecycle, cfg auth.Config, logger auth.Logger) (auth.Verifier, error) {
	vcfg := auth0.FromConfig(cfg)
	vcfg.Logger = logger

	ctx, cancel := context.WithCancel(context.Background())
	verifier, err := auth0.NewTokenVerifier(ctx, vcfg)
	if err != nil {
		cancel()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			verifier.Close()
			cancel()
			return nil
		},
	})
	return verifier, nil
}

func newHTTPServer(lc fx.Lifecycle, cfg auth.Config, logger auth.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
	})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				logger.Info("listening", "addr", cfg.ListenAddr)
				if err := app.Listen(cfg.ListenAddr); err != nil {
					logger.Error("server stopped", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return app.ShutdownWithContext(ctx)
		},
	})
	return app
}

func registerRoutes(app *fiber.App, cfg auth.Config, verifier auth.Verifier, resolver auth.SessionResolver, logger auth.Logger) {
	bcfg := bridgeware.Config{
		Verifier:    verifier,
		Resolver:    resolver,
		TokenLookup: cfg.TokenLookup,
		AuthScheme:  cfg.AuthScheme,
		Logger:      logger,
	}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	api := app.Group("/api", bridgeware.New(bcfg)...)
	api.Get("/session", sessionHandler)
	api.Post("/logout", bridgeware.Logout(bcfg))
}

func sessionHandler(c *fiber.Ctx) error {
	session, ok := auth.SessionFromContext(c.UserContext())
	if !ok {
		return fiber.ErrUnauthorized
	}
	user, _ := auth.UserFromContext(c.UserContext())
	claim, _ := auth.ClaimFromContext(c.UserContext())

	out := fiber.Map{
		"session_id": session.ID,
		"expires_at": session.ExpiresAt,
		"ttl":        session.TTL,
	}
	if user != nil {
		out["user_id"] = user.ID
		out["identity"] = user.Email
	}
	if claim != nil {
		out["subject"] = claim.Subject
	}
	return c.JSON(out)
}

func runPurger(lc fx.Lifecycle, cfg auth.Config, store *auth.Store, logger auth.Logger) {
	if cfg.PurgeInterval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := store.RunPurger(ctx, cfg.PurgeInterval); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("session purger stopped", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
