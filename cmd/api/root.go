package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"volunteersync.org/internal/audit"
	"volunteersync.org/internal/auth"
	"volunteersync.org/internal/config"
	"volunteersync.org/internal/errutil"
	"volunteersync.org/internal/httpapi"
	"volunteersync.org/internal/logging"
	"volunteersync.org/internal/obs"
	"volunteersync.org/internal/registry"
	"volunteersync.org/internal/sweep"
)

const (
	serviceName    = "volunteersync-api"
	healthInterval = 10 * time.Second
)

// NewRootCmd creates the root command. Running it starts the servers.
func NewRootCmd() *cobra.Command {
	var (
		configFile  string
		envFile     string
		autoMigrate bool
	)
	cmd := &cobra.Command{
		Use:           "volunteersync-api",
		Short:         "VolunteerSync identity and registry API",
		SilenceUsage:  true,
		SilenceErrors: false,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := config.Options{DotEnv: []string{envFile}}
			if configFile != "" {
				opts.File = configFile
			} else if config.FileExists("volunteersync.yaml") {
				opts.File = "volunteersync.yaml"
			}
			cfg, err := config.Load(cmd.Flags(), opts)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, autoMigrate)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "YAML config file (default ./volunteersync.yaml when present)")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file to load when present")
	cmd.Flags().BoolVar(&autoMigrate, "auto-migrate", false, "apply pending migrations before serving (postgres only)")
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func serve(parent context.Context, cfg config.Config, autoMigrate bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.New(serviceName, version, cfg.Log.Format, cfg.Log.Level, os.Stdout)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	store, err := openStore(ctx, cfg.Store, autoMigrate, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Warn("closing store", "error", cerr)
		}
	}()

	notifier, err := buildNotifier(cfg.Notify, logger)
	if err != nil {
		return err
	}

	authSvc, err := auth.NewService(auth.Deps{
		Identities: store,
		Codes:      store,
		Resets:     store,
		Notifier:   notifier,
		Secret:     []byte(cfg.Auth.Secret),
	},
		auth.WithLogger(logger),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithResetLinkBase(cfg.Auth.ResetLinkBase),
		auth.WithCodeAttemptLimit(cfg.Auth.CodeAttempts, cfg.Auth.CodeLockout),
	)
	if err != nil {
		return err
	}
	registrySvc := registry.NewService(store, nil, notifier, logger)
	proxies, err := httpapi.ParseTrustedProxies(cfg.HTTP.TrustedProxies)
	if err != nil {
		return err
	}
	ready := httpapi.ReadyProbe{Store: store}

	api := httpapi.New(httpapi.Deps{
		Auth:     authSvc,
		Registry: registrySvc,
		Audit:    audit.New(logger),
		Logger:   logger,
		Ready:    ready,
	}, httpapi.Options{
		Version:      version,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		CORSOrigins:  cfg.HTTP.CORSOrigins,
		AuthRPS:      cfg.HTTP.RateLimit.RPS,
		AuthBurst:    cfg.HTTP.RateLimit.Burst,

		TrustedProxies: proxies,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	var grpcSrv *grpc.Server
	health := httpapi.NewGRPCServer(ready, logger)
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return oops.Code("GRPC_LISTEN_FAILED").With("addr", cfg.GRPC.Addr).Wrap(err)
		}
		grpcSrv = grpc.NewServer()
		health.Register(grpcSrv, cfg.GRPC.Reflection)
		go health.Watch(ctx, healthInterval)
		go func() {
			logger.Info("grpc listening", "addr", cfg.GRPC.Addr)
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errutil.LogError(ctx, logger, "grpc server stopped", err)
				stop()
			}
		}()
	}

	worker := sweep.NewWorker(authSvc, cfg.Sweep.Interval, sweep.WithLogger(logger))
	worker.Start(ctx)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", srv.Addr, "store", cfg.Store.Driver, "notifier", cfg.Notify.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- oops.Code("HTTP_SERVE_FAILED").With("addr", srv.Addr).Wrap(err)
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-serveErr:
	}

	health.Shutdown()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errutil.LogError(ctx, logger, "http shutdown", err)
	}
	worker.Stop()
	logger.Info("stopped")
	return runErr
}
