// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CareCircle Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/carecircle/carecircle/internal/auth"
)

const accountColumns = `id, email, password_hash, status, nickname,
	       failed_attempts, locked_until, last_login_at, created_at, updated_at`

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool poolIface
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool poolIface) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Create stores a new account. A duplicate email maps to
// auth.ErrDuplicateEmail.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO accounts (
			id, email, password_hash, status, nickname,
			failed_attempts, locked_until, last_login_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		account.ID.String(),
		account.Email,
		account.PasswordHash,
		string(account.Status),
		account.Nickname,
		account.FailedAttempts,
		account.LockedUntil,
		account.LastLoginAt,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("ACCOUNT_DUPLICATE_EMAIL").
				Wrap(auth.ErrDuplicateEmail)
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
	`, id.String())

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_ID_FAILED").
			With("operation", "get account by id").
			With("id", id.String()).
			Wrap(err)
	}
	return account, nil
}

// GetByEmail retrieves an account by normalized email.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE email = LOWER($1)
	`, email)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_EMAIL_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}
	return account, nil
}

// RecordFailedLogin increments the failure counter and sets the lock
// timestamp in the same statement when the threshold is reached. Two
// concurrent calls each count; the row lock serializes the increments.
func (r *AccountRepository) RecordFailedLogin(ctx context.Context, id ulid.ULID, threshold int, lockFor time.Duration, now time.Time) (int, *time.Time, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE accounts SET
			failed_attempts = failed_attempts + 1,
			locked_until = CASE
				WHEN failed_attempts + 1 >= $2 THEN $3::timestamptz
				ELSE locked_until
			END,
			updated_at = $4
		WHERE id = $1
		RETURNING failed_attempts, locked_until
	`, id.String(), threshold, now.Add(lockFor), now)

	var (
		attempts    int
		lockedUntil *time.Time
	)
	if err := row.Scan(&attempts, &lockedUntil); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, oops.Code("ACCOUNT_NOT_FOUND").
				With("id", id.String()).
				Wrap(auth.ErrNotFound)
		}
		return 0, nil, oops.Code("ACCOUNT_RECORD_FAILURE_FAILED").
			With("operation", "record failed login").
			With("id", id.String()).
			Wrap(err)
	}
	return attempts, lockedUntil, nil
}

// ResetAndRecordFailure restarts the failure window at one attempt. Used
// when a failure lands after a previous lock has expired.
func (r *AccountRepository) ResetAndRecordFailure(ctx context.Context, id ulid.ULID, now time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE accounts SET
			failed_attempts = 1,
			locked_until = NULL,
			updated_at = $2
		WHERE id = $1
	`, id.String(), now)
	if err != nil {
		return oops.Code("ACCOUNT_RECORD_FAILURE_FAILED").
			With("operation", "reset failure window").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// RecordSuccessfulLogin clears the failure state and stamps the login time.
func (r *AccountRepository) RecordSuccessfulLogin(ctx context.Context, id ulid.ULID, now time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE accounts SET
			failed_attempts = 0,
			locked_until = NULL,
			last_login_at = $2,
			updated_at = $2
		WHERE id = $1
	`, id.String(), now)
	if err != nil {
		return oops.Code("ACCOUNT_RECORD_SUCCESS_FAILED").
			With("operation", "record successful login").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdateStatus changes the account lifecycle status.
func (r *AccountRepository) UpdateStatus(ctx context.Context, id ulid.ULID, status auth.AccountStatus) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE accounts SET status = $2, updated_at = NOW()
		WHERE id = $1
	`, id.String(), string(status))
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_STATUS_FAILED").
			With("operation", "update account status").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// errLinkConflict signals that a concurrent transaction won the race to
// create the account or the identity link.
var errLinkConflict = errors.New("concurrent external link")

// FindOrLinkExternal resolves an external (provider, subject) pair to a
// local account, linking by email or creating a fresh account as needed.
// Calling it twice with the same pair returns the same account id. A caller
// that loses a creation race re-reads the winner's committed row.
func (r *AccountRepository) FindOrLinkExternal(ctx context.Context, provider, subjectID string, identity auth.ProviderIdentity, now time.Time) (*auth.Account, error) {
	account, err := r.linkExternal(ctx, provider, subjectID, identity, now)
	if errors.Is(err, errLinkConflict) {
		// The winner has committed, so a second pass finds its row.
		account, err = r.linkExternal(ctx, provider, subjectID, identity, now)
	}
	if errors.Is(err, errLinkConflict) {
		return nil, oops.Code("ACCOUNT_LINK_EXTERNAL_FAILED").
			With("provider", provider).
			With("operation", "re-read after conflict").
			Wrap(err)
	}
	return account, err
}

func (r *AccountRepository) linkExternal(ctx context.Context, provider, subjectID string, identity auth.ProviderIdentity, now time.Time) (*auth.Account, error) {
	errb := oops.Code("ACCOUNT_LINK_EXTERNAL_FAILED").
		With("provider", provider)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, errb.With("operation", "begin transaction").Wrap(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	account, err := r.findByExternal(ctx, tx, provider, subjectID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, auth.ErrNotFound) {
		return nil, err
	}

	// No link yet. Attach to an existing account with the same email when
	// the provider vouches for it, otherwise create a new account.
	if identity.Email != "" {
		row := tx.QueryRow(ctx, `
			SELECT `+accountColumns+`
			FROM accounts
			WHERE email = LOWER($1)
			FOR UPDATE
		`, identity.Email)
		account, err = scanAccount(row)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, errb.With("operation", "find account by email").Wrap(err)
		}
	}

	if account == nil {
		account = &auth.Account{
			ID:        ulid.Make(),
			Email:     auth.NormalizeEmail(identity.Email),
			Status:    auth.StatusActive,
			Nickname:  identity.DisplayName,
			CreatedAt: now,
			UpdatedAt: now,
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO accounts (
				id, email, password_hash, status, nickname,
				failed_attempts, locked_until, last_login_at, created_at, updated_at
			) VALUES ($1, $2, NULL, $3, $4, 0, NULL, NULL, $5, $5)
		`,
			account.ID.String(),
			account.Email,
			string(account.Status),
			account.Nickname,
			now,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, errLinkConflict
			}
			return nil, errb.With("operation", "insert account").Wrap(err)
		}
	} else if account.Status == auth.StatusPendingVerification && identity.EmailVerified {
		_, err = tx.Exec(ctx, `
			UPDATE accounts SET status = $2, updated_at = $3
			WHERE id = $1
		`, account.ID.String(), string(auth.StatusActive), now)
		if err != nil {
			return nil, errb.With("operation", "activate account").Wrap(err)
		}
		account.Status = auth.StatusActive
	}

	result, err := tx.Exec(ctx, `
		INSERT INTO external_identities (id, account_id, provider, subject_id, email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider, subject_id) DO NOTHING
	`,
		ulid.Make().String(),
		account.ID.String(),
		provider,
		subjectID,
		identity.Email,
		now,
	)
	if err != nil {
		return nil, errb.With("operation", "insert external identity").Wrap(err)
	}
	if result.RowsAffected() == 0 {
		// A concurrent transaction linked this pair first. Roll back so any
		// account created here disappears with it.
		return nil, errLinkConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errb.With("operation", "commit transaction").Wrap(err)
	}
	return account, nil
}

// findByExternal resolves an account through an existing identity link.
func (r *AccountRepository) findByExternal(ctx context.Context, tx pgx.Tx, provider, subjectID string) (*auth.Account, error) {
	row := tx.QueryRow(ctx, `
		SELECT a.id, a.email, a.password_hash, a.status, a.nickname,
		       a.failed_attempts, a.locked_until, a.last_login_at, a.created_at, a.updated_at
		FROM accounts a
		JOIN external_identities e ON e.account_id = a.id
		WHERE e.provider = $1 AND e.subject_id = $2
	`, provider, subjectID)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_LINK_EXTERNAL_FAILED").
			With("operation", "find account by external identity").
			With("provider", provider).
			Wrap(err)
	}
	return account, nil
}

// scanAccount scans a single row into an Account.
// Callers are responsible for handling pgx.ErrNoRows.
func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		idStr          string
		email          string
		passwordHash   *string
		status         string
		nickname       string
		failedAttempts int
		lockedUntil    *time.Time
		lastLoginAt    *time.Time
		createdAt      time.Time
		updatedAt      time.Time
	)

	err := row.Scan(
		&idStr,
		&email,
		&passwordHash,
		&status,
		&nickname,
		&failedAttempts,
		&lockedUntil,
		&lastLoginAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("ACCOUNT_SCAN_FAILED").
			With("operation", "scan account").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").
			With("operation", "parse account id").
			With("id", idStr).
			Wrap(err)
	}

	return &auth.Account{
		ID:             id,
		Email:          email,
		PasswordHash:   passwordHash,
		Status:         auth.AccountStatus(status),
		Nickname:       nickname,
		FailedAttempts: failedAttempts,
		LockedUntil:    lockedUntil,
		LastLoginAt:    lastLoginAt,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}, nil
}

// isUniqueViolation reports whether err is a unique-constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)
