//go:build integration

package pg_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"volunteersync.org/internal/auth"
	"volunteersync.org/internal/migrate"
	"volunteersync.org/internal/registry"
	"volunteersync.org/internal/store/pg"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("volunteersync"),
		postgres.WithUsername("volunteersync"),
		postgres.WithPassword("volunteersync"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	m, err := migrate.NewManager(dsn)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	require.NoError(t, m.Close())
	return dsn
}

func TestPostgresFlows(t *testing.T) {
	dsn := startPostgres(t)
	st, err := pg.Open(dsn, pg.PoolConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	mgr, err := migrate.NewManager(dsn)
	require.NoError(t, err)
	require.NoError(t, mgr.Seed(ctx, st.DB()))
	require.NoError(t, mgr.Seed(ctx, st.DB()))
	require.NoError(t, mgr.Close())

	reg := registry.NewService(st, auth.BcryptHasher{Cost: 4}, nil, nil)
	var village registry.Location
	require.NoError(t, st.DB().QueryRowContext(ctx, `select id from locations where code = 'TV'`).Scan(&village.ID))

	province, err := reg.ProvinceOf(ctx, village.ID)
	require.NoError(t, err)
	assert.Equal(t, "TP", province.Code)

	v, err := reg.RegisterVolunteer(ctx, registry.Registration{
		FirstName: "Aline", LastName: "Uwase", Email: "Aline@Example.rw",
		Password: "pw-123456", VillageID: village.ID,
	})
	require.NoError(t, err)

	_, err = reg.RegisterVolunteer(ctx, registry.Registration{
		FirstName: "Dup", LastName: "Dup", Email: "aline@example.rw",
		Password: "pw", VillageID: village.ID,
	})
	require.ErrorIs(t, err, auth.ErrValidationFailed)

	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
	_, err = st.ReplaceCode(ctx, auth.SecondFactorCode{IdentityID: v.ID, Code: "111111", ExpiresAt: exp})
	require.NoError(t, err)
	_, err = st.ReplaceCode(ctx, auth.SecondFactorCode{IdentityID: v.ID, Code: "222222", ExpiresAt: exp})
	require.NoError(t, err)

	out, err := st.ConsumeCode(ctx, v.ID, "111111", time.Now())
	require.NoError(t, err)
	assert.Equal(t, auth.OutcomeMismatch, out)
	out, err = st.ConsumeCode(ctx, v.ID, "222222", time.Now())
	require.NoError(t, err)
	assert.Equal(t, auth.OutcomeAccepted, out)
	out, err = st.ConsumeCode(ctx, v.ID, "222222", time.Now())
	require.NoError(t, err)
	assert.Equal(t, auth.OutcomeAbsent, out)

	_, err = st.ReplaceResetToken(ctx, auth.ResetToken{IdentityID: v.ID, Token: "tok-1", ExpiresAt: exp})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 6)
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.RedeemResetToken(ctx, "tok-1", "new-hash", time.Now())
			results <- err
		}()
	}
	wg.Wait()
	close(results)
	ok := 0
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, auth.ErrTokenAlreadyUsed)
	}
	assert.Equal(t, 1, ok)

	identity, err := st.FindByEmail(ctx, "ALINE@example.rw")
	require.NoError(t, err)
	assert.Equal(t, "new-hash", identity.PasswordHash)

	n, err := st.DeleteExpiredCodes(ctx, exp.Add(time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
