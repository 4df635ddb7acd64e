package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"healthfolio.org/internal/auth"
	"healthfolio.org/internal/config"
	"healthfolio.org/internal/httpapi"
	"healthfolio.org/internal/obs"
)

var version = "0.3.1"

func main() {
	log := obs.Logger()
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("configuration error")
	}

	var (
		db       *sql.DB
		store    auth.TokenStore
		users    auth.UserStore
		resolver interface {
			auth.ResourceResolver
			auth.RelationshipResolver
		}
		probe httpapi.ReadyProbe
	)

	switch {
	case cfg.PGDSN != "":
		db, err = auth.OpenDB(cfg.PGDSN)
		if err != nil {
			log.WithError(err).Fatal("open postgres")
		}
		store = auth.NewPGTokenStore(db)
		users = auth.NewPGUserStore(db)
		resolver = auth.NewPGResolver(db)
		probe = httpapi.ReadyProbe{DB: db}
	case cfg.RedisAddr != "":
		addr, redisDB, err := auth.ParseRedisAddr(cfg.RedisAddr)
		if err != nil {
			log.WithError(err).Fatal("redis address")
		}
		client, err := auth.OpenRedis(addr, redisDB)
		if err != nil {
			log.WithError(err).Fatal("open redis")
		}
		store = auth.NewRedisTokenStore(client)
		// Account and resource data still come from the dashboard's
		// database even when revocation state lives in Redis; without a
		// DSN this mode only serves token verification.
		users = auth.NewMemoryUserStore()
		resolver = auth.NewMemoryResolver()
		probe = httpapi.ReadyProbe{Ping: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}}
	default:
		log.Warn("no store configured; using in-memory state (development only)")
		store = auth.NewMemoryTokenStore()
		users = auth.NewMemoryUserStore()
		resolver = auth.NewMemoryResolver()
	}

	tokens, err := auth.NewTokenService(store, cfg.AuthSecret,
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithIssuer(cfg.Issuer),
	)
	if err != nil {
		log.WithError(err).Fatal("token service")
	}

	evaluator, err := auth.NewEvaluator(resolver, resolver,
		auth.WithDecisionHook(func(resource auth.ResourceType, action auth.Action, outcome string) {
			obs.RecordAuthzDecision(string(resource), string(action), outcome)
		}),
	)
	if err != nil {
		log.WithError(err).Fatal("permission evaluator")
	}

	api := httpapi.New(httpapi.Options{
		Tokens:     tokens,
		Store:      store,
		Users:      users,
		Evaluator:  evaluator,
		ReadyProbe: probe,
		Version:    version,
		Production: cfg.Production,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if rev, dirty := obs.BuildInfo(); rev != "" {
		log.WithField("revision", rev).WithField("dirty", dirty).Info("build info")
	}
	log.WithField("addr", srv.Addr).WithField("version", version).Info("starting healthfolio-auth")

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Info("stopped")
}
