package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"volunteersync.org/internal/auth"
	"volunteersync.org/internal/config"
	"volunteersync.org/internal/migrate"
	"volunteersync.org/internal/notify"
	"volunteersync.org/internal/registry"
	"volunteersync.org/internal/store/memory"
	"volunteersync.org/internal/store/pg"
)

// backend is everything the services need from a store.
type backend interface {
	auth.CredentialStore
	auth.CodeStore
	auth.ResetStore
	registry.Store
	Ping(ctx context.Context) error
	Close() error
}

type memoryBackend struct{ *memory.Store }

func (memoryBackend) Close() error { return nil }

var runMigrations = func(dsn string, logger *slog.Logger) error {
	mgr, err := migrate.NewManager(dsn, migrate.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()
	return mgr.Up()
}

func openStore(ctx context.Context, cfg config.Store, autoMigrate bool, logger *slog.Logger) (backend, error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		return memoryBackend{memory.New()}, nil
	case "postgres":
		if autoMigrate {
			if err := runMigrations(cfg.DSN, logger); err != nil {
				return nil, err
			}
		}
		s, err := pg.Open(cfg.DSN, pg.PoolConfig{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, oops.Code("DB_CONNECT_FAILED").Wrap(err)
		}
		if err := s.Ping(ctx); err != nil {
			logger.Warn("database not reachable yet", "error", err)
		}
		return s, nil
	default:
		return nil, oops.Code("CONFIG_INVALID").With("driver", cfg.Driver).Errorf("unknown store driver %q", cfg.Driver)
	}
}

func buildNotifier(cfg config.Notify, logger *slog.Logger) (auth.Notifier, error) {
	var base auth.Notifier
	switch cfg.Driver {
	case "log":
		base = notify.NewLog(logger)
	case "smtp":
		s, err := notify.NewSMTP(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			TLS:      cfg.SMTP.TLS,
			Timeout:  cfg.SMTP.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		base = s
	default:
		return nil, oops.Code("CONFIG_INVALID").With("driver", cfg.Driver).Errorf("unknown notifier %q", cfg.Driver)
	}
	if cfg.Retry.Attempts == 0 {
		return base, nil
	}
	return notify.NewRetrying(base, notify.RetryPolicy{
		Attempts: cfg.Retry.Attempts,
		Base:     cfg.Retry.Base,
		Max:      cfg.Retry.Max,
	}, logger), nil
}
