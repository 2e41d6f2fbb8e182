package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/erazemk/boxanizer/internal/db"
)

// RevokeToken records a logged-out token id until the token would have
// expired anyway. Tokens that are already expired are not recorded.
func RevokeToken(ctx context.Context, database *db.DB, jti string, expiresAt time.Time) error {
	now := time.Now().UTC()
	if !expiresAt.After(now) {
		return nil
	}

	if _, err := database.ExecContext(ctx,
		`INSERT INTO revoked_tokens (jti, expires_at) VALUES (?, ?) ON CONFLICT (jti) DO NOTHING`,
		jti, expiresAt.UTC(),
	); err != nil {
		return fmt.Errorf("revoking token %s: %w", jti, err)
	}

	if n, err := PurgeExpiredTokens(ctx, database, now); err != nil {
		slog.Warn("can't purge expired token revocations", "error", err)
	} else if n > 0 {
		slog.Debug("purged expired token revocations", "count", n)
	}
	return nil
}

// PurgeExpiredTokens forgets revocations of tokens that expired before now
// and returns how many were dropped.
func PurgeExpiredTokens(ctx context.Context, database *db.DB, now time.Time) (int64, error) {
	res, err := database.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purging token revocations: %w", err)
	}
	return res.RowsAffected()
}

// IsTokenRevoked reports whether the owner logged out the token with jti.
func IsTokenRevoked(ctx context.Context, database *db.DB, jti string) (bool, error) {
	var revoked bool
	err := database.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = ?)`, jti,
	).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("checking token %s: %w", jti, err)
	}
	return revoked, nil
}
