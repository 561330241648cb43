package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/django/v3"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-router"
	mflash "github.com/goliatone/go-router/middleware/flash"
	"github.com/popxhq/popx"
	"github.com/popxhq/popx/gateway"
	"github.com/popxhq/popx/middleware/csrf"
	"github.com/popxhq/popx/repository"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := popx.LoadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *popx.Config) error {
	lgr := newLogger(cfg)
	logger := lgr.GetLogger("app")

	repo, err := repository.Open(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer repo.Close()

	applied, err := repo.Migrate(ctx, popx.MigrationsFS())
	if err != nil {
		return err
	}
	if len(applied) > 0 {
		logger.Info("applied migrations", "versions", applied)
	}

	metrics := popx.NewMetrics()

	verifier, err := gateway.NewTokenVerifier(gateway.VerifierConfig{
		Secret:  cfg.JWTSecret,
		JWKSURL: cfg.JWKSURL,
		Logger:  lgr.GetLogger("token"),
	})
	if err != nil {
		return err
	}
	defer verifier.Close()

	gw, err := gateway.New(gateway.Config{
		URL:      cfg.GatewayURL,
		APIKey:   cfg.GatewayKey,
		Timeout:  cfg.GatewayTimeout,
		Verifier: verifier,
		Logger:   lgr.GetLogger("gateway"),
		Observer: metrics.ObserveGateway,
	})
	if err != nil {
		return err
	}

	sessions := repo.Sessions()
	registry := popx.NewClientRegistry(popx.RegistryConfig{
		Factory: func(clientID string) popx.AuthGateway {
			return gw.NewAuth(clientID, sessions)
		},
		ProfileTable: cfg.ProfileTable,
		TTL:          cfg.ClientTTL,
		Retention:    cfg.SessionRetention,
		Purge:        sessions.PurgeBefore,
		Logger:       lgr.GetLogger("sync"),
		Metrics:      metrics,
	})
	defer registry.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go registry.Run(runCtx)

	srv := newHTTPServer(cfg, lgr, registry)

	errCh := make(chan error, 2)
	go func() {
		if err := srv.Serve(cfg.Addr); err != nil {
			errCh <- err
		}
	}()
	logger.Info("serving", "addr", cfg.Addr, "verified_tokens", verifier.Verifying())

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
		logger.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	var serveErr error
	select {
	case serveErr = <-errCh:
		logger.Error("server stopped", "error", serveErr)
	case <-waitSignal(runCtx):
		logger.Info("shutting down")
	}

	cancel()

	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()

	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(sctx); err != nil {
			logger.Warn("metrics shutdown", "error", err)
		}
	}

	return serveErr
}

func waitSignal(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		WaitExitSignal(ctx)
		close(done)
	}()
	return done
}

func newHTTPServer(cfg *popx.Config, lgr *glog.BaseLogger, registry *popx.ClientRegistry) router.Server[*fiber.App] {
	engine := django.NewFileSystem(http.FS(popx.ViewsFS()), ".html")
	engine.AddFuncMap(popx.TemplateHelpers())
	engine.Reload(cfg.Debug)

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			PassLocalsToViews: true,
			Views:             engine,
		}))
	})

	srv.Router().WithLogger(lgr.GetLogger("router"))

	// assets and health checks stay outside the client middleware
	srv.Router().Static(popx.AssetsPrefix, ".", router.Static{
		FS:   popx.PublicFS(),
		Root: "assets",
	})

	srv.Router().Get("/healthz", func(ctx router.Context) error {
		return ctx.JSON(router.StatusOK, map[string]any{
			"status":  "ok",
			"clients": registry.Len(),
		})
	}).SetName("healthz.get")

	auth := popx.NewRouteAuthenticator(registry,
		popx.WithCookieKey(cfg.CookieKey()),
		popx.WithSecureCookies(cfg.SecureCookies),
		popx.WithLoadingGrace(cfg.LoadingGrace),
		popx.WithRouteLogger(lgr.GetLogger("http")),
	)

	srv.Router().Use(mflash.New(mflash.ConfigDefault))
	srv.Router().Use(auth.ClientMiddleware())
	srv.Router().Use(csrf.New(csrf.Config{
		SecureKey:    cfg.CSRFKey(),
		SessionKey:   popx.LocalsSessionIDKey,
		ErrorHandler: auth.CSRFErrorHandler,
	}))
	srv.Router().Use(auth.GuardMiddleware())

	controller := popx.NewAuthController(
		popx.WithControllerLogger(lgr.GetLogger("views")),
		popx.WithDebug(cfg.Debug),
		popx.WithPhoneRegion(cfg.PhoneRegion),
		popx.WithErrorHandler(auth.ErrorHandler),
	)
	popx.RegisterAuthRoutes(srv.Router(), controller)

	return srv
}
