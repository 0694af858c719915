package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/loverose/auth-service/internal/core/domain"
	"github.com/loverose/auth-service/internal/core/port"
	"github.com/loverose/auth-service/internal/repository"
)

var refreshTokenColumns = []string{
	"id",
	"user_id",
	"token_hash",
	"family_id",
	"rotated_from_hash",
	"ip",
	"user_agent",
	"created_at",
	"expires_at",
	"used_at",
	"revoked_at",
	"metadata",
}

// TokenRepository implements port.TokenRepository using PostgreSQL tables.
type TokenRepository struct {
	pool    pgPool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewTokenRepository constructs a new token repository.
func NewTokenRepository(pool pgPool) *TokenRepository {
	return &TokenRepository{
		pool:    pool,
		exec:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// WithTx returns a repository instance executing within the provided transaction.
func (r *TokenRepository) WithTx(tx pgx.Tx) *TokenRepository {
	if tx == nil {
		return r
	}
	return &TokenRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

// CreateRefreshToken inserts a refresh token hash for a user.
func (r *TokenRepository) CreateRefreshToken(ctx context.Context, token domain.RefreshToken) error {
	metadata, err := marshalMetadata(token.Metadata)
	if err != nil {
		return fmt.Errorf("prepare refresh token metadata: %w", err)
	}

	stmt, args, err := r.builder.Insert("auth.refresh_tokens").
		Columns(refreshTokenColumns...).
		Values(
			token.ID,
			token.UserID,
			token.TokenHash,
			token.FamilyID,
			optionalString(token.RotatedFromHash),
			optionalString(token.IP),
			optionalString(token.UserAgent),
			token.CreatedAt,
			token.ExpiresAt,
			optionalTime(token.UsedAt),
			optionalTime(token.RevokedAt),
			metadata,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert refresh token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert refresh token: %w", storageErr(err))
	}

	return nil
}

// GetRefreshTokenByHash retrieves a refresh token record by its hashed value.
func (r *TokenRepository) GetRefreshTokenByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	stmt, args, err := r.builder.Select(refreshTokenColumns...).
		From("auth.refresh_tokens").
		Where(squirrel.Eq{"token_hash": hash}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select refresh token sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)

	var (
		token           domain.RefreshToken
		rotatedFromHash sql.NullString
		ip              sql.NullString
		userAgent       sql.NullString
		usedAt          sql.NullTime
		revokedAt       sql.NullTime
		metadata        []byte
	)

	if err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.FamilyID,
		&rotatedFromHash,
		&ip,
		&userAgent,
		&token.CreatedAt,
		&token.ExpiresAt,
		&usedAt,
		&revokedAt,
		&metadata,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh token: %w", storageErr(err))
	}

	token.RotatedFromHash = nullableStringPtr(rotatedFromHash)
	token.IP = nullableStringPtr(ip)
	token.UserAgent = nullableStringPtr(userAgent)
	token.UsedAt = nullableTimePtr(usedAt)
	token.RevokedAt = nullableTimePtr(revokedAt)
	if len(metadata) > 0 {
		meta, err := unmarshalMetadata(metadata)
		if err != nil {
			return nil, fmt.Errorf("unmarshal refresh metadata: %w", err)
		}
		token.Metadata = meta
	}

	return &token, nil
}

// RotateRefreshToken consumes the current token and inserts its successor in
// one transaction. The consume step is a conditional update on the unused,
// unrevoked row, so of two concurrent rotations exactly one commits; the
// loser observes zero affected rows and gets ErrAlreadyRotated.
func (r *TokenRepository) RotateRefreshToken(ctx context.Context, currentID string, usedAt time.Time, successor domain.RefreshToken) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rotate transaction: %w", storageErr(err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	usedAt = usedAt.UTC()

	stmt, args, err := r.builder.Update("auth.refresh_tokens").
		Set("used_at", usedAt).
		Set("revoked_at", usedAt).
		Where(squirrel.Eq{"id": currentID}).
		Where("used_at IS NULL").
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build consume refresh token sql: %w", err)
	}

	ct, err := tx.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("consume refresh token: %w", storageErr(err))
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrAlreadyRotated
	}

	if err := r.WithTx(tx).CreateRefreshToken(ctx, successor); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rotate transaction: %w", storageErr(err))
	}

	return nil
}

// RevokeRefreshToken marks a single refresh token as revoked.
func (r *TokenRepository) RevokeRefreshToken(ctx context.Context, refreshTokenID string, reason string) error {
	update := r.builder.Update("auth.refresh_tokens").
		Set("revoked_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": refreshTokenID}).
		Where("revoked_at IS NULL")

	if reason = strings.TrimSpace(reason); reason != "" {
		update = update.Set("metadata", squirrel.Expr(
			"jsonb_set(COALESCE(metadata, '{}'::jsonb), '{revoked_reason}', to_jsonb(?::text), true)",
			reason,
		))
	}

	stmt, args, err := update.ToSql()
	if err != nil {
		return fmt.Errorf("build revoke refresh token sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", storageErr(err))
	}

	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// RevokeRefreshTokensByFamily revokes all active refresh tokens within the
// supplied family. Used when reuse detection flags the whole chain.
func (r *TokenRepository) RevokeRefreshTokensByFamily(ctx context.Context, familyID string, reason string) (int, error) {
	reason = strings.TrimSpace(reason)

	stmt := `
		WITH updated AS (
			UPDATE auth.refresh_tokens
			   SET revoked_at = COALESCE(revoked_at, now()),
			       metadata = CASE
			           WHEN $2::text IS NULL THEN metadata
			           ELSE jsonb_set(
			                   COALESCE(metadata, '{}'::jsonb),
			                   '{revoked_reason}',
			                   to_jsonb($2::text),
			                   true
			               )
			       END
			 WHERE family_id = $1
			   AND revoked_at IS NULL
			 RETURNING 1
		)
		SELECT count(*) FROM updated;
	`

	var reasonArg any
	if reason != "" {
		reasonArg = reason
	}

	var count int
	if err := r.exec.QueryRow(ctx, stmt, familyID, reasonArg).Scan(&count); err != nil {
		return 0, fmt.Errorf("revoke refresh tokens by family: %w", storageErr(err))
	}

	return count, nil
}

// RevokeRefreshTokensForUser revokes all active refresh tokens for a user.
func (r *TokenRepository) RevokeRefreshTokensForUser(ctx context.Context, userID string, reason string) (int, error) {
	return r.revokeForUser(ctx, r.exec, userID, reason)
}

func (r *TokenRepository) revokeForUser(ctx context.Context, exec pgExecutor, userID string, reason string) (int, error) {
	reason = strings.TrimSpace(reason)

	stmt := `
		WITH updated AS (
			UPDATE auth.refresh_tokens
			   SET revoked_at = COALESCE(revoked_at, now()),
			       metadata = CASE
			           WHEN $2::text IS NULL THEN metadata
			           ELSE jsonb_set(
			                   COALESCE(metadata, '{}'::jsonb),
			                   '{revoked_reason}',
			                   to_jsonb($2::text),
			                   true
			               )
			       END
			 WHERE user_id = $1
			   AND revoked_at IS NULL
			 RETURNING 1
		)
		SELECT count(*) FROM updated;
	`

	var reasonArg any
	if reason != "" {
		reasonArg = reason
	}

	var count int
	if err := exec.QueryRow(ctx, stmt, userID, reasonArg).Scan(&count); err != nil {
		return 0, fmt.Errorf("revoke refresh tokens for user: %w", storageErr(err))
	}

	return count, nil
}

// CreatePasswordReset inserts a password reset token row.
func (r *TokenRepository) CreatePasswordReset(ctx context.Context, token domain.PasswordResetToken) error {
	metadata, err := marshalMetadata(token.Metadata)
	if err != nil {
		return fmt.Errorf("prepare password reset metadata: %w", err)
	}

	stmt, args, err := r.builder.Insert("auth.password_reset_tokens").
		Columns(
			"id",
			"user_id",
			"token_hash",
			"ip",
			"user_agent",
			"created_at",
			"expires_at",
			"used_at",
			"revoked_at",
			"metadata",
		).
		Values(
			token.ID,
			token.UserID,
			token.TokenHash,
			optionalString(token.IP),
			optionalString(token.UserAgent),
			token.CreatedAt,
			token.ExpiresAt,
			optionalTime(token.UsedAt),
			optionalTime(token.RevokedAt),
			metadata,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert password reset sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert password reset token: %w", storageErr(err))
	}

	return nil
}

// GetPasswordResetByHash fetches a password reset token by its hash.
func (r *TokenRepository) GetPasswordResetByHash(ctx context.Context, hash string) (*domain.PasswordResetToken, error) {
	stmt, args, err := r.builder.Select(
		"id",
		"user_id",
		"token_hash",
		"ip",
		"user_agent",
		"created_at",
		"expires_at",
		"used_at",
		"revoked_at",
		"metadata",
	).
		From("auth.password_reset_tokens").
		Where(squirrel.Eq{"token_hash": hash}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select password reset sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)

	var (
		token     domain.PasswordResetToken
		ip        sql.NullString
		userAgent sql.NullString
		usedAt    sql.NullTime
		revokedAt sql.NullTime
		metadata  []byte
	)

	if err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&ip,
		&userAgent,
		&token.CreatedAt,
		&token.ExpiresAt,
		&usedAt,
		&revokedAt,
		&metadata,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan password reset token: %w", storageErr(err))
	}

	token.IP = nullableStringPtr(ip)
	token.UserAgent = nullableStringPtr(userAgent)
	token.UsedAt = nullableTimePtr(usedAt)
	token.RevokedAt = nullableTimePtr(revokedAt)
	if len(metadata) > 0 {
		meta, err := unmarshalMetadata(metadata)
		if err != nil {
			return nil, fmt.Errorf("unmarshal password reset metadata: %w", err)
		}
		token.Metadata = meta
	}

	return &token, nil
}

// RedeemPasswordReset consumes the reset token, rewrites the user's password
// hash, and revokes every refresh token of that user in one transaction.
// After a successful return no session issued before the reset can refresh.
func (r *TokenRepository) RedeemPasswordReset(ctx context.Context, tokenID string, userID string, newPasswordHash string, at time.Time) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin redeem transaction: %w", storageErr(err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	at = at.UTC()

	stmt, args, err := r.builder.Update("auth.password_reset_tokens").
		Set("used_at", at).
		Where(squirrel.Eq{"id": tokenID}).
		Where("used_at IS NULL").
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build consume password reset sql: %w", err)
	}

	ct, err := tx.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("consume password reset token: %w", storageErr(err))
	}
	if ct.RowsAffected() == 0 {
		return 0, repository.ErrAlreadyRedeemed
	}

	stmt, args, err = r.builder.Update("auth.users").
		Set("password_hash", newPasswordHash).
		Set("password_changed_at", at).
		Where(squirrel.Eq{"id": userID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build update password sql: %w", err)
	}

	ct, err = tx.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("rewrite password hash: %w", storageErr(err))
	}
	if ct.RowsAffected() == 0 {
		return 0, repository.ErrNotFound
	}

	revoked, err := r.revokeForUser(ctx, tx, userID, "password_reset")
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit redeem transaction: %w", storageErr(err))
	}

	return revoked, nil
}

// DeleteExpiredTokens prunes refresh and reset rows whose expiry predates the
// cutoff. Plain row deletes; safe to run alongside normal traffic.
func (r *TokenRepository) DeleteExpiredTokens(ctx context.Context, expiresBefore time.Time) (int, error) {
	total := 0

	for _, table := range []string{"auth.refresh_tokens", "auth.password_reset_tokens"} {
		stmt, args, err := r.builder.Delete(table).
			Where(squirrel.Lt{"expires_at": expiresBefore.UTC()}).
			ToSql()
		if err != nil {
			return total, fmt.Errorf("build delete expired sql for %s: %w", table, err)
		}

		ct, err := r.exec.Exec(ctx, stmt, args...)
		if err != nil {
			return total, fmt.Errorf("delete expired rows from %s: %w", table, storageErr(err))
		}

		total += int(ct.RowsAffected())
	}

	return total, nil
}

var _ port.TokenRepository = (*TokenRepository)(nil)
