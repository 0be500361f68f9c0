package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volunteersync.org/internal/auth"
	"volunteersync.org/internal/registry"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return New(db), mock
}

var now = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func TestFindByEmail(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectQuery("select id, email, password_hash, role, village_id").
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "role", "village_id"}).
			AddRow(7, "alice@example.com", "$2a$hash", "NGO_ADMIN", 5))
	id, err := s.FindByEmail(ctx, " Alice@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, auth.Identity{ID: 7, Email: "alice@example.com", PasswordHash: "$2a$hash", Role: auth.RoleNGOAdmin, VillageID: 5}, id)

	mock.ExpectQuery("from volunteers").WithArgs("ghost@example.com").WillReturnError(sql.ErrNoRows)
	_, err = s.FindByEmail(ctx, "ghost@example.com")
	require.ErrorIs(t, err, auth.ErrNotFound)
}

func TestReplaceCode(t *testing.T) {
	s, mock := newMock(t)
	exp := now.Add(auth.SecondFactorTTL)

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from volunteers where id = \\$1 for update").WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("delete from two_factor_codes where volunteer_id = \\$1 and not verified").WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("insert into two_factor_codes").WithArgs(int64(7), "123456", exp).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(99))
	mock.ExpectCommit()

	code, err := s.ReplaceCode(context.Background(), auth.SecondFactorCode{IdentityID: 7, Code: "123456", ExpiresAt: exp})
	require.NoError(t, err)
	assert.EqualValues(t, 99, code.ID)
}

func TestReplaceCodeUnknownIdentity(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from volunteers").WithArgs(int64(8)).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.ReplaceCode(context.Background(), auth.SecondFactorCode{IdentityID: 8, Code: "123456", ExpiresAt: now})
	require.ErrorIs(t, err, auth.ErrNotFound)
}

func codeRow(verified bool, exp time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "volunteer_id", "code", "expires_at", "verified"}).
		AddRow(3, 7, "654321", exp, verified)
}

func TestConsumeCode(t *testing.T) {
	tests := []struct {
		name      string
		submitted string
		exp       time.Time
		write     string
		want      auth.CodeOutcome
	}{
		{"accepted", "654321", now.Add(time.Minute), "update two_factor_codes set verified = true", auth.OutcomeAccepted},
		{"expired", "654321", now, "delete from two_factor_codes where id", auth.OutcomeExpired},
		{"mismatch", "000000", now.Add(time.Minute), "", auth.OutcomeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMock(t)
			mock.ExpectBegin()
			mock.ExpectQuery("from two_factor_codes").WithArgs(int64(7)).WillReturnRows(codeRow(false, tt.exp))
			if tt.write != "" {
				mock.ExpectExec(tt.write).WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
			}
			mock.ExpectCommit()

			got, err := s.ConsumeCode(context.Background(), 7, tt.submitted, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConsumeCodeAbsent(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("from two_factor_codes").WithArgs(int64(7)).WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	got, err := s.ConsumeCode(context.Background(), 7, "123456", now)
	require.NoError(t, err)
	assert.Equal(t, auth.OutcomeAbsent, got)
}

func TestRedeemResetToken(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("from password_reset_tokens").WithArgs("tok").
		WillReturnRows(sqlmock.NewRows([]string{"id", "volunteer_id", "expires_at", "used"}).AddRow(4, 7, now.Add(time.Hour), false))
	mock.ExpectExec("update volunteers set password_hash").WithArgs(int64(7), "newhash").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update password_reset_tokens set used = true").WithArgs(int64(4)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	id, err := s.RedeemResetToken(context.Background(), "tok", "newhash", now)
	require.NoError(t, err)
	assert.EqualValues(t, 7, id)
}

func TestRedeemResetTokenRejections(t *testing.T) {
	tests := []struct {
		name string
		rows *sqlmock.Rows
		err  error
		want error
	}{
		{"unknown", nil, sql.ErrNoRows, auth.ErrInvalidToken},
		{"used", sqlmock.NewRows([]string{"id", "volunteer_id", "expires_at", "used"}).AddRow(4, 7, now.Add(time.Hour), true), nil, auth.ErrTokenAlreadyUsed},
		{"expired and used", sqlmock.NewRows([]string{"id", "volunteer_id", "expires_at", "used"}).AddRow(4, 7, now, true), nil, auth.ErrTokenExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMock(t)
			mock.ExpectBegin()
			q := mock.ExpectQuery("from password_reset_tokens").WithArgs("tok")
			if tt.rows != nil {
				q.WillReturnRows(tt.rows)
			} else {
				q.WillReturnError(tt.err)
			}
			mock.ExpectRollback()

			_, err := s.RedeemResetToken(context.Background(), "tok", "h", now)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDeleteExpired(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("delete from two_factor_codes where expires_at < \\$1").WithArgs(now).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("delete from password_reset_tokens where expires_at < \\$1").WithArgs(now).WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := s.DeleteExpiredCodes(context.Background(), now)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	n, err = s.DeleteExpiredResetTokens(context.Background(), now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestLocationByID(t *testing.T) {
	s, mock := newMock(t)
	cols := []string{"id", "name", "code", "kind", "parent_id", "created_at"}
	mock.ExpectQuery("from locations where id = \\$1").WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(1, "Kigali", "KGL", "PROVINCE", nil, now))
	mock.ExpectQuery("from locations where id = \\$1").WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(2, "Gasabo", "GSB", "DISTRICT", 1, now))
	mock.ExpectQuery("from locations where id = \\$1").WithArgs(int64(3)).WillReturnError(sql.ErrNoRows)

	p, err := s.LocationByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, p.ParentID)
	assert.Equal(t, registry.KindProvince, p.Kind)

	d, err := s.LocationByID(context.Background(), 2)
	require.NoError(t, err)
	require.NotNil(t, d.ParentID)
	assert.EqualValues(t, 1, *d.ParentID)

	_, err = s.LocationByID(context.Background(), 3)
	require.ErrorIs(t, err, registry.ErrNotFound)
}

func TestCreateVolunteerConflict(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("insert into volunteers").
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "volunteers_email_key"})

	_, err := s.CreateVolunteer(context.Background(), registry.Volunteer{Email: "a@b.rw", Role: auth.RoleVolunteer})
	require.ErrorIs(t, err, registry.ErrConflict)
	assert.Contains(t, err.Error(), "volunteers_email_key")
}

var volunteerCols = []string{"id", "first_name", "last_name", "email", "phone", "role", "village_id", "password_hash", "created_at", "updated_at"}

func TestUpdateVolunteerLocksRow(t *testing.T) {
	s, mock := newMock(t)
	v := registry.Volunteer{ID: 7, FirstName: "Eric", Email: "eric@example.rw", Role: auth.RoleVolunteer, VillageID: 5}

	mock.ExpectBegin()
	mock.ExpectQuery("select role from volunteers where id = \\$1 for update").WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("NGO_ADMIN"))
	mock.ExpectQuery("select exists\\(select 1 from ngos where admin_id = \\$1\\)").WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("update volunteers").
		WillReturnRows(sqlmock.NewRows(volunteerCols).AddRow(7, "Eric", "", "eric@example.rw", "", "VOLUNTEER", 5, "$2a$hash", now, now))
	mock.ExpectCommit()

	updated, err := s.UpdateVolunteer(context.Background(), v)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleVolunteer, updated.Role)
}

func TestUpdateVolunteerRefusesDemotingLinkedAdmin(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select role from volunteers").WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("NGO_ADMIN"))
	mock.ExpectQuery("select exists").WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := s.UpdateVolunteer(context.Background(), registry.Volunteer{ID: 7, Role: auth.RoleVolunteer})
	require.ErrorIs(t, err, registry.ErrAdminInUse)
}

func TestNGOWritesRequireAdminRole(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()
	ngoCols := []string{"id", "name", "description", "contact_email", "admin_id", "created_at"}

	mock.ExpectBegin()
	mock.ExpectQuery("select role from volunteers where id = \\$1 for update").WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("VOLUNTEER"))
	mock.ExpectRollback()
	_, err := s.CreateNGO(ctx, registry.NGO{Name: "Umuganda", ContactEmail: "info@umuganda.rw", AdminID: 3})
	require.ErrorIs(t, err, registry.ErrNotAdmin)

	mock.ExpectBegin()
	mock.ExpectQuery("select role from volunteers").WithArgs(int64(4)).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()
	_, err = s.SetNGOAdmin(ctx, 1, 4)
	require.ErrorIs(t, err, registry.ErrNotFound)

	mock.ExpectBegin()
	mock.ExpectQuery("select role from volunteers").WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("NGO_ADMIN"))
	mock.ExpectQuery("update ngos set admin_id = \\$2 where id = \\$1").WithArgs(int64(1), int64(7)).
		WillReturnRows(sqlmock.NewRows(ngoCols).AddRow(1, "Umuganda", "", "info@umuganda.rw", 7, now))
	mock.ExpectCommit()
	n, err := s.SetNGOAdmin(ctx, 1, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 7, n.AdminID)
}

func TestRegistryErrorForeignKey(t *testing.T) {
	err := registryError(&pgconn.PgError{Code: pgerrcode.ForeignKeyViolation, ConstraintName: "ngos_admin_id_fkey"})
	require.ErrorIs(t, err, registry.ErrNotFound)

	plain := errors.New("boom")
	assert.Same(t, plain, registryError(plain))
}

func TestNilDB(t *testing.T) {
	s := &Store{}
	_, err := s.FindByEmail(context.Background(), "a@b")
	require.Error(t, err)
	require.Error(t, s.Ping(context.Background()))
}
