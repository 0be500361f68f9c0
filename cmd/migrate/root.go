package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"volunteersync.org/internal/config"
	"volunteersync.org/internal/logging"
	"volunteersync.org/internal/migrate"
)

const dsnEnv = config.EnvPrefix + "STORE__DSN"

type options struct {
	dsn     string
	envFile string
	timeout time.Duration
}

// migrator is the subset of *migrate.Manager the commands use.
type migrator interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
	Force(version int) error
	Status() ([]string, error)
	Seed(ctx context.Context, db *sql.DB) error
	Close() error
}

var newMigrator = func(dsn string, logger *slog.Logger) (migrator, error) {
	return migrate.NewManager(dsn, migrate.WithLogger(logger))
}

func NewRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "volunteersync-migrate",
		Short:         "Apply and inspect VolunteerSync schema migrations",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.DotEnv(opts.envFile); err != nil {
				return err
			}
			if opts.dsn == "" {
				opts.dsn = os.Getenv(dsnEnv)
			}
			if strings.TrimSpace(opts.dsn) == "" {
				return oops.Code("CONFIG_INVALID").Errorf("missing DSN: provide --dsn or %s", dsnEnv)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (default $"+dsnEnv+")")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load when present")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 60*time.Second, "overall timeout")

	cmd.AddCommand(
		newUpCmd(opts),
		newDownCmd(opts),
		newVersionCmd(opts),
		newForceCmd(opts),
		newStatusCmd(opts),
		newSeedCmd(opts),
	)
	return cmd
}

func withMigrator(cmd *cobra.Command, opts *options, fn func(migrator) error) error {
	logger := logging.New("volunteersync-migrate", version, "text", "info", cmd.ErrOrStderr())
	m, err := newMigrator(opts.dsn, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			logger.Warn("closing migrator", "error", cerr)
		}
	}()
	return fn(m)
}

func newUpCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, opts, func(m migrator) error {
				if err := m.Up(); err != nil {
					return err
				}
				return printVersion(cmd, m)
			})
		},
	}
}

func newDownCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, opts, func(m migrator) error {
				if err := m.Down(); err != nil {
					return err
				}
				return printVersion(cmd, m)
			})
		},
	}
}

func newVersionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, opts, func(m migrator) error {
				return printVersion(cmd, m)
			})
		},
	}
}

func newForceCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied without running it (clears a dirty state)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, opts, func(m migrator) error {
				if err := m.Force(v); err != nil {
					return err
				}
				return printVersion(cmd, m)
			})
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, opts, func(m migrator) error {
				applied, err := m.Status()
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
				}
				for _, name := range applied {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	}
}

func newSeedCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Apply pending seed files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			db, err := sql.Open("pgx", opts.dsn)
			if err != nil {
				return oops.Code("DB_CONNECT_FAILED").Wrap(err)
			}
			defer db.Close()
			return withMigrator(cmd, opts, func(m migrator) error {
				if err := m.Seed(ctx, db); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "seeds applied")
				return nil
			})
		},
	}
}

func printVersion(cmd *cobra.Command, m migrator) error {
	v, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if dirty {
		fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty)\n", v)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "version %d\n", v)
	return nil
}

func parseForceVersion(s string) (int, error) {
	var v int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &v); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("version must be an integer: %q", s)
	}
	return v, nil
}
