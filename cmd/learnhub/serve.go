package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joestump/learnhub/internal/auth"
	"github.com/joestump/learnhub/internal/config"
	"github.com/joestump/learnhub/internal/db"
	"github.com/joestump/learnhub/internal/handler"
	"github.com/joestump/learnhub/internal/metrics"
	"github.com/joestump/learnhub/internal/store"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel)
			ctx := cmd.Context()

			// An invalid classification table must stop startup.
			table, err := newRouteTable(cfg)
			if err != nil {
				return err
			}

			database, err := db.New(ctx, cfg.DB.Driver, cfg.DB.DSN)
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			if err := db.Migrate(database, cfg.DB.Driver); err != nil {
				return err
			}

			users := store.NewUserStore(database, cfg.AdminEmail)

			oidcProvider, err := auth.NewOIDCProvider(ctx, cfg)
			if err != nil {
				return err
			}

			provider, closeProvider, err := newSessionProvider(ctx, cfg, database, oidcProvider, users, log)
			if err != nil {
				return err
			}
			defer closeProvider()

			// Providers that can answer presence cheaply let the gate drop stale cookies.
			checker, _ := provider.(auth.PresenceChecker)

			gate := auth.NewGate(table, checker, auth.GateConfig{
				CookieName: cfg.Auth.CookieName,
				LoginPath:  cfg.Routes.LoginPath,
				HomePath:   cfg.Routes.HomePath,
				Timeout:    cfg.Auth.ProviderTimeout,
			}, log)
			resolver := auth.NewResolver(provider, users, auth.ResolverConfig{
				CookieName: cfg.Auth.CookieName,
				Timeout:    cfg.Auth.ProviderTimeout,
			}, log)
			exchanger := auth.NewExchanger(provider, auth.ExchangeConfig{
				CookieName:      cfg.Auth.CookieName,
				Lifetime:        cfg.SessionLifetime,
				InsecureCookies: cfg.HTTP.InsecureCookies,
				Timeout:         cfg.Auth.ProviderTimeout,
			}, log)
			loginFlow := auth.NewLoginFlow(oidcProvider, exchanger, auth.LoginFlowConfig{
				FlowSecret:      []byte(cfg.Auth.FlowSecret),
				InsecureCookies: cfg.HTTP.InsecureCookies,
				LoginPath:       cfg.Routes.LoginPath,
				HomePath:        cfg.Routes.HomePath,
			}, log)

			router := handler.NewRouter(handler.Deps{
				Gate:      gate,
				Resolver:  resolver,
				Exchanger: exchanger,
				LoginFlow: loginFlow,
				Routes:    table,
				Users:     users,
				Ping:      database.PingContext,
				LoginPath: cfg.Routes.LoginPath,
				HomePath:  cfg.Routes.HomePath,
				Log:       log,
			})

			srv := &http.Server{
				Addr:              cfg.HTTP.Addr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info("listening", "addr", cfg.HTTP.Addr, "provider", provider.Name())
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				log.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				trackUserCount(gctx, users, log)
				return nil
			})
			return g.Wait()
		},
	}
}

// newSessionProvider builds the configured SessionProvider and a function
// that releases its background resources.
func newSessionProvider(ctx context.Context, cfg *config.Config, database *sqlx.DB, verifier auth.TokenVerifier, users *store.UserStore, log *slog.Logger) (auth.SessionProvider, func(), error) {
	switch cfg.Auth.Provider {
	case config.ProviderJWT:
		if cfg.Redis.URL == "" {
			log.Warn("redis.url not set; JWT revocations are kept in memory and lost on restart")
			p := auth.NewJWTProvider(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.SessionLifetime, verifier, users, auth.NewMemoryRevocationList())
			return p, func() {}, nil
		}
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis.url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		p := auth.NewJWTProvider(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.SessionLifetime, verifier, users,
			auth.NewRedisRevocationList(client, ""))
		return p, func() { _ = client.Close() }, nil

	default:
		sessions := auth.NewSessionStore(database, cfg.DB.Driver)
		stop := func() {
			if s, ok := sessions.(interface{ StopCleanup() }); ok {
				s.StopCleanup()
			}
		}
		return auth.NewStoreProvider(sessions, verifier, users, cfg.SessionLifetime), stop, nil
	}
}

// trackUserCount refreshes the users gauge once a minute until ctx is done.
func trackUserCount(ctx context.Context, users *store.UserStore, log *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		n, err := users.Count(ctx)
		if err != nil && ctx.Err() == nil {
			log.Warn("count users", "error", err)
		} else if err == nil {
			metrics.UsersTotal.Set(float64(n))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
