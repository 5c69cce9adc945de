package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adweave/skytrigger/internal/adapter/repo/postgres"
	"github.com/adweave/skytrigger/internal/domain"
)

func TestAccountRepoGet(t *testing.T) {
	t.Parallel()
	pool := &poolStub{row: rowStub{scan: func(dest ...any) error {
		*(dest[0].(*string)) = "u-1"
		*(dest[1].(*string)) = domain.PlatformM
		*(dest[2].(*string)) = "act_42"
		*(dest[3].(*string)) = "token-m"
		*(dest[5].(*time.Time)) = time.Now()
		return nil
	}}}
	repo := postgres.NewAccountRepo(pool)

	acct, err := repo.Get(context.Background(), "u-1", domain.PlatformM)
	require.NoError(t, err)
	assert.Equal(t, "token-m", acct.AccessToken)
	assert.Equal(t, "act_42", acct.AccountID)
}

func TestAccountRepoGetMissing(t *testing.T) {
	t.Parallel()
	pool := &poolStub{row: rowStub{scan: func(_ ...any) error { return pgx.ErrNoRows }}}
	repo := postgres.NewAccountRepo(pool)

	_, err := repo.Get(context.Background(), "u-1", domain.PlatformG)
	assert.ErrorIs(t, err, domain.ErrCredentialsMissing)
	assert.Contains(t, err.Error(), "account not found")
}
