package migrate

import (
	"context"
	"errors"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volunteersync.org/internal/errutil"
)

type fakeEngine struct {
	upErr      error
	stepsErr   error
	steps      []int
	version    uint
	dirty      bool
	versionErr error
	forced     []int
	closeSrc   error
	closeDB    error
}

func (f *fakeEngine) Up() error { return f.upErr }
func (f *fakeEngine) Steps(n int) error {
	f.steps = append(f.steps, n)
	return f.stepsErr
}
func (f *fakeEngine) Version() (uint, bool, error) { return f.version, f.dirty, f.versionErr }
func (f *fakeEngine) Force(v int) error {
	f.forced = append(f.forced, v)
	return nil
}
func (f *fakeEngine) Close() (error, error) { return f.closeSrc, f.closeDB }

func TestDriverURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/vs", driverURL("postgres://u:p@db:5432/vs"))
	assert.Equal(t, "pgx5://db/vs", driverURL("postgresql://db/vs"))
	assert.Equal(t, "pgx5://db/vs", driverURL("pgx5://db/vs"))
}

func TestNewManagerInvalidURL(t *testing.T) {
	_, err := NewManager("badscheme://localhost:5432/vs")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
}

func TestUpIgnoresNoChange(t *testing.T) {
	m := newManager(&fakeEngine{upErr: migrate.ErrNoChange})
	require.NoError(t, m.Up())

	m = newManager(&fakeEngine{upErr: errors.New("syntax error")})
	errutil.AssertErrorCode(t, m.Up(), "MIGRATION_UP_FAILED")
}

func TestDownStepsBackOne(t *testing.T) {
	eng := &fakeEngine{version: 2}
	m := newManager(eng)
	require.NoError(t, m.Down())
	assert.Equal(t, []int{-1}, eng.steps)

	fresh := newManager(&fakeEngine{versionErr: migrate.ErrNilVersion})
	errutil.AssertErrorCode(t, fresh.Down(), "MIGRATION_DOWN_FAILED")
}

func TestVersionFreshDatabase(t *testing.T) {
	m := newManager(&fakeEngine{versionErr: migrate.ErrNilVersion})
	v, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.False(t, dirty)
}

func TestForceRejectsNegative(t *testing.T) {
	eng := &fakeEngine{}
	m := newManager(eng)
	errutil.AssertErrorCode(t, m.Force(-1), "INVALID_VERSION")
	require.NoError(t, m.Force(1))
	assert.Equal(t, []int{1}, eng.forced)
}

func TestStatus(t *testing.T) {
	m := newManager(&fakeEngine{version: 1})
	names, err := m.Status()
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_registry"}, names)

	m = newManager(&fakeEngine{version: 2})
	names, err = m.Status()
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_registry", "000002_credentials"}, names)
}

func TestCloseJoinsErrors(t *testing.T) {
	m := newManager(&fakeEngine{closeSrc: errors.New("src"), closeDB: errors.New("db")})
	err := m.Close()
	errutil.AssertErrorCode(t, err, "MIGRATION_CLOSE_FAILED")
	assert.Contains(t, err.Error(), "src")
	assert.Contains(t, err.Error(), "db")
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrationsFS, "migrations/*.down.sql")
	require.NoError(t, err)
	assert.Len(t, downs, len(ups))
	assert.NotEmpty(t, ups)
}

func TestSeedAppliesPendingFilesOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := newManager(&fakeEngine{}, WithSeedsTable("seed_log"))
	m.seeds = fstest.MapFS{
		"0001_a.sql": {Data: []byte("insert into t values ('a;b');\ninsert into t values (2);")},
		"0002_b.sql": {Data: []byte("insert into t values (3);")},
	}

	mock.ExpectExec("create table if not exists seed_log").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from seed_log").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(`insert into t values \(3\)`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into seed_log").WithArgs("0002_b.sql", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, m.Seed(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("insert into t values ('x;y'); select 1;\n")
	require.Len(t, stmts, 2)
	assert.Equal(t, "insert into t values ('x;y');", stmts[0])
}
