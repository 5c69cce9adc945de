package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/adweave/skytrigger/internal/domain"
)

// AccountRepo looks up the platform credentials connected by a user. Tokens
// are acquired by the OAuth collaborator; this repo only reads them.
type AccountRepo struct{ Pool PgxPool }

// NewAccountRepo constructs an AccountRepo with the given pool.
func NewAccountRepo(p PgxPool) *AccountRepo { return &AccountRepo{Pool: p} }

// Get returns the user's connected account for the platform, or
// ErrCredentialsMissing when no row exists.
func (r *AccountRepo) Get(ctx domain.Context, userID, platform string) (domain.PlatformAccount, error) {
	tracer := otel.Tracer("repo.accounts")
	ctx, span := tracer.Start(ctx, "accounts.Get")
	defer span.End()
	q := `SELECT user_id, platform, account_id, access_token, expires_at, updated_at
		FROM platform_credentials WHERE user_id=$1 AND platform=$2`
	row := r.Pool.QueryRow(ctx, q, userID, platform)
	var a domain.PlatformAccount
	if err := row.Scan(&a.UserID, &a.Platform, &a.AccountID, &a.AccessToken, &a.ExpiresAt, &a.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.PlatformAccount{}, fmt.Errorf("op=account.get: %s account not found: %w", platform, domain.ErrCredentialsMissing)
		}
		return domain.PlatformAccount{}, fmt.Errorf("op=account.get: %w", err)
	}
	return a, nil
}
