// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CareCircle Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/carecircle/carecircle/internal/auth"
)

const sessionColumns = `id, account_id, token_hash, refresh_token_hash, rotated_from_hash,
	       device_info, user_agent, ip_address, is_active,
	       access_expires_at, expires_at, created_at, last_activity_at`

// SessionRepository implements auth.SessionRepository using PostgreSQL.
type SessionRepository struct {
	pool poolIface
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool poolIface) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create stores a new session.
func (r *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (
			id, account_id, token_hash, refresh_token_hash, rotated_from_hash,
			device_info, user_agent, ip_address, is_active,
			access_expires_at, expires_at, created_at, last_activity_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		session.ID.String(),
		session.AccountID.String(),
		session.TokenHash,
		session.RefreshTokenHash,
		session.RotatedFromHash,
		session.DeviceInfo,
		session.UserAgent,
		session.IPAddress,
		session.IsActive,
		session.AccessExpiresAt,
		session.ExpiresAt,
		session.CreatedAt,
		session.LastActivityAt,
	)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("account_id", session.AccountID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a session by ID.
func (r *SessionRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE id = $1
	`, id.String())

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_BY_ID_FAILED").
			With("operation", "get session by id").
			With("id", id.String()).
			Wrap(err)
	}
	return session, nil
}

// GetByTokenHash retrieves a session by its session-token hash.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE token_hash = $1
	`, tokenHash)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_BY_TOKEN_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}
	return session, nil
}

// GetByAccount retrieves all sessions for an account, newest first.
func (r *SessionRepository) GetByAccount(ctx context.Context, accountID ulid.ULID) ([]*auth.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE account_id = $1
		ORDER BY created_at DESC
	`, accountID.String())
	if err != nil {
		return nil, oops.Code("SESSION_GET_BY_ACCOUNT_FAILED").
			With("operation", "get sessions by account").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	defer rows.Close()

	var sessions []*auth.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, oops.Code("SESSION_GET_BY_ACCOUNT_FAILED").
				With("operation", "scan session row").
				With("account_id", accountID.String()).
				Wrap(err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("SESSION_GET_BY_ACCOUNT_FAILED").
			With("operation", "iterate sessions").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return sessions, nil
}

// Rotate installs a new token pair in the same statement that retires the
// old refresh token. Exactly one of any number of concurrent rotations on
// the same token can match the WHERE clause. The retired refresh hash is
// kept in rotated_from_hash so replays are recognizable.
func (r *SessionRepository) Rotate(ctx context.Context, refreshHash string, params auth.RotateParams) (*auth.Session, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE sessions SET
			token_hash = $2,
			refresh_token_hash = $3,
			rotated_from_hash = refresh_token_hash,
			access_expires_at = $4,
			expires_at = $5,
			last_activity_at = $6
		WHERE refresh_token_hash = $1
		  AND is_active
		  AND expires_at > $6
		RETURNING `+sessionColumns+`
	`,
		refreshHash,
		params.NewTokenHash,
		params.NewRefreshTokenHash,
		params.AccessExpiresAt,
		params.ExpiresAt,
		params.Now,
	)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_ROTATE_FAILED").
			With("operation", "rotate session tokens").
			Wrap(err)
	}
	return session, nil
}

// FindRotated retrieves the session whose previous refresh token had the
// given hash. A hit means that token was already rotated away.
func (r *SessionRepository) FindRotated(ctx context.Context, refreshHash string) (*auth.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE rotated_from_hash = $1
	`, refreshHash)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_FIND_ROTATED_FAILED").
			With("operation", "find rotated session").
			Wrap(err)
	}
	return session, nil
}

// UpdateLastActivity stamps the session's activity time.
func (r *SessionRepository) UpdateLastActivity(ctx context.Context, id ulid.ULID, now time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE sessions SET last_activity_at = $2
		WHERE id = $1
	`, id.String(), now)
	if err != nil {
		return oops.Code("SESSION_UPDATE_ACTIVITY_FAILED").
			With("operation", "update last activity").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Revoke deactivates a session. Revoking an already-inactive session is
// not an error.
func (r *SessionRepository) Revoke(ctx context.Context, id ulid.ULID) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE sessions SET is_active = FALSE
		WHERE id = $1
	`, id.String())
	if err != nil {
		return oops.Code("SESSION_REVOKE_FAILED").
			With("operation", "revoke session").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// RevokeByAccount deactivates every session for an account.
func (r *SessionRepository) RevokeByAccount(ctx context.Context, accountID ulid.ULID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sessions SET is_active = FALSE
		WHERE account_id = $1 AND is_active
	`, accountID.String())
	if err != nil {
		return oops.Code("SESSION_REVOKE_ALL_FAILED").
			With("operation", "revoke sessions by account").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return nil
}

// DeleteExpired removes sessions whose refresh window has closed.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM sessions WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired sessions").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanSession scans a single row into a Session.
// Callers are responsible for handling pgx.ErrNoRows.
func scanSession(row pgx.Row) (*auth.Session, error) {
	var (
		idStr           string
		accountIDStr    string
		tokenHash       string
		refreshHash     string
		rotatedFrom     *string
		deviceInfo      string
		userAgent       string
		ipAddress       string
		isActive        bool
		accessExpiresAt time.Time
		expiresAt       time.Time
		createdAt       time.Time
		lastActivityAt  time.Time
	)

	err := row.Scan(
		&idStr,
		&accountIDStr,
		&tokenHash,
		&refreshHash,
		&rotatedFrom,
		&deviceInfo,
		&userAgent,
		&ipAddress,
		&isActive,
		&accessExpiresAt,
		&expiresAt,
		&createdAt,
		&lastActivityAt,
	)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("SESSION_SCAN_FAILED").
			With("operation", "scan session").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("SESSION_INVALID_ID").
			With("operation", "parse session id").
			With("id", idStr).
			Wrap(err)
	}
	accountID, err := ulid.Parse(accountIDStr)
	if err != nil {
		return nil, oops.Code("SESSION_INVALID_ACCOUNT_ID").
			With("operation", "parse account id").
			With("account_id", accountIDStr).
			Wrap(err)
	}

	return &auth.Session{
		ID:               id,
		AccountID:        accountID,
		TokenHash:        tokenHash,
		RefreshTokenHash: refreshHash,
		RotatedFromHash:  rotatedFrom,
		DeviceInfo:       deviceInfo,
		UserAgent:        userAgent,
		IPAddress:        ipAddress,
		IsActive:         isActive,
		AccessExpiresAt:  accessExpiresAt,
		ExpiresAt:        expiresAt,
		CreatedAt:        createdAt,
		LastActivityAt:   lastActivityAt,
	}, nil
}

// Compile-time interface check.
var _ auth.SessionRepository = (*SessionRepository)(nil)
