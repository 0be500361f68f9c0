package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/samber/oops"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

//go:embed seeds/*.sql
var seedsFS embed.FS

const defaultSeedsTable = "schema_seeds"

// engine is the subset of *migrate.Migrate the Manager drives.
type engine interface {
	Up() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Close() (source error, database error)
}

// Manager applies the embedded schema migrations and seed files.
type Manager struct {
	m          engine
	seeds      fs.FS
	seedsTable string
	logger     *slog.Logger
}

// Option configures Manager.
type Option func(*Manager)

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// WithLogger routes golang-migrate progress output to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager opens a migration engine against databaseURL. postgres:// and
// postgresql:// URLs are rewritten to the pgx5:// scheme the driver expects.
func NewManager(databaseURL string, opts ...Option) (*Manager, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, oops.Code("MIGRATION_SOURCE_FAILED").Wrap(err)
	}
	mg, err := migrate.NewWithSourceInstance("iofs", source, driverURL(databaseURL))
	if err != nil {
		_ = source.Close()
		return nil, oops.Code("MIGRATION_INIT_FAILED").Wrap(err)
	}
	m := newManager(mg, opts...)
	mg.Log = migrateLog{logger: m.logger}
	return m, nil
}

func newManager(e engine, opts ...Option) *Manager {
	m := &Manager{m: e, seedsTable: defaultSeedsTable, logger: slog.Default()}
	if sub, err := fs.Sub(seedsFS, "seeds"); err == nil {
		m.seeds = sub
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func driverURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(databaseURL, scheme); ok {
			return "pgx5://" + rest
		}
	}
	return databaseURL
}

// Up applies all pending migrations.
func (m *Manager) Up() error {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_UP_FAILED").Wrap(err)
	}
	return nil
}

// Down rolls back the most recent applied migration.
func (m *Manager) Down() error {
	version, _, err := m.Version()
	if err != nil {
		return err
	}
	if version == 0 {
		return oops.Code("MIGRATION_DOWN_FAILED").Errorf("no migrations applied")
	}
	if err := m.m.Steps(-1); err != nil {
		return oops.Code("MIGRATION_DOWN_FAILED").With("version", version).Wrap(err)
	}
	return nil
}

// Version returns the applied version and whether the last run left the
// schema dirty. A fresh database reports 0.
func (m *Manager) Version() (uint, bool, error) {
	version, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, oops.Code("MIGRATION_VERSION_FAILED").Wrap(err)
	}
	return version, dirty, nil
}

// Force records version as applied without running anything. It is the way
// out of a dirty state after a manual fix.
func (m *Manager) Force(version int) error {
	if version < 0 {
		return oops.Code("INVALID_VERSION").Errorf("version must be non-negative, got %d", version)
	}
	if err := m.m.Force(version); err != nil {
		return oops.Code("MIGRATION_FORCE_FAILED").With("version", version).Wrap(err)
	}
	return nil
}

// Status lists the names of applied migrations, oldest first.
func (m *Manager) Status() ([]string, error) {
	version, _, err := m.Version()
	if err != nil {
		return nil, err
	}
	names, err := migrationNames()
	if err != nil {
		return nil, err
	}
	var applied []string
	for _, n := range names {
		if n.version <= version {
			applied = append(applied, n.name)
		}
	}
	return applied, nil
}

// Close releases the source and database handles.
func (m *Manager) Close() error {
	srcErr, dbErr := m.m.Close()
	if err := errors.Join(srcErr, dbErr); err != nil {
		return oops.Code("MIGRATION_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

type migrationName struct {
	version uint
	name    string
}

func migrationNames() ([]migrationName, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, oops.Code("MIGRATION_LIST_FAILED").Wrap(err)
	}
	var out []migrationName
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".up.sql")
		if !ok {
			continue
		}
		var v uint
		if _, err := fmt.Sscanf(name, "%d_", &v); err != nil {
			continue
		}
		out = append(out, migrationName{version: v, name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// Seed applies each embedded seed file once, recording it in the seeds table.
func (m *Manager) Seed(ctx context.Context, db *sql.DB) error {
	if m.seeds == nil {
		return nil
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`
		create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, m.seedsTable)); err != nil {
		return oops.Code("SEED_FAILED").With("operation", "ensure table").Wrap(err)
	}

	executed, err := m.executedSeeds(ctx, db)
	if err != nil {
		return err
	}
	files, err := fs.Glob(m.seeds, "*.sql")
	if err != nil {
		return oops.Code("SEED_FAILED").Wrap(err)
	}
	sort.Strings(files)
	for _, name := range files {
		if executed[name] {
			continue
		}
		if err := m.applySeed(ctx, db, name); err != nil {
			return oops.Code("SEED_FAILED").With("seed", name).Wrap(err)
		}
		m.logger.InfoContext(ctx, "seed applied", "seed", name)
	}
	return nil
}

func (m *Manager) executedSeeds(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`select name from %s`, m.seedsTable))
	if err != nil {
		return nil, oops.Code("SEED_FAILED").With("operation", "list executed").Wrap(err)
	}
	defer rows.Close()
	result := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, oops.Code("SEED_FAILED").Wrap(err)
		}
		result[name] = true
	}
	return result, rows.Err()
}

func (m *Manager) applySeed(ctx context.Context, db *sql.DB, name string) error {
	body, err := fs.ReadFile(m.seeds, name)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, m.seedsTable),
		name, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

// splitStatements splits SQL on semicolons outside single-quoted literals.
func splitStatements(sql string) []string {
	var stmts []string
	var current strings.Builder
	inString := false
	for _, r := range sql {
		current.WriteRune(r)
		switch r {
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				stmts = append(stmts, current.String())
				current.Reset()
			}
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}

// migrateLog adapts slog to golang-migrate's Logger.
type migrateLog struct {
	logger *slog.Logger
}

func (l migrateLog) Printf(format string, v ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "migrate")
}

func (l migrateLog) Verbose() bool { return false }
