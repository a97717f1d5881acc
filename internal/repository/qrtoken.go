package repository

import (
	"context"
	"time"

	"github.com/quickpass/qr-login-server-go/internal/database"
	"github.com/quickpass/qr-login-server-go/internal/model"
)

// QRTokenRepository is the keyed record store behind the token lifecycle
// engine. MarkVerified and ClearSessionCreationToken are compare-and-set
// operations: under concurrent calls on the same key exactly one caller
// observes won=true.
type QRTokenRepository interface {
	FindByID(ctx context.Context, id string) (*model.QRToken, error)
	FindBySessionCreationToken(ctx context.Context, token string) (*model.QRToken, error)
	Create(ctx context.Context, params model.CreateQRTokenParams) (*model.QRToken, error)
	MarkVerified(ctx context.Context, params model.VerifyQRTokenParams) (won bool, err error)
	ClearSessionCreationToken(ctx context.Context, token string) (won bool, err error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

type qrTokenRepo struct {
	db database.DBTX
}

func NewQRTokenRepository(db database.DBTX) QRTokenRepository {
	return &qrTokenRepo{db: db}
}

func (r *qrTokenRepo) FindByID(ctx context.Context, id string) (*model.QRToken, error) {
	// No expiry filter here: the engine decides liveness so it can evict
	// dead records and report them as expired rather than missing.
	var token model.QRToken
	err := r.db.GetContext(ctx, &token, `
		SELECT * FROM qr_tokens WHERE id = $1
	`, id)
	return HandleNotFound(&token, err)
}

func (r *qrTokenRepo) FindBySessionCreationToken(ctx context.Context, token string) (*model.QRToken, error) {
	var t model.QRToken
	err := r.db.GetContext(ctx, &t, `
		SELECT * FROM qr_tokens WHERE session_creation_token = $1
	`, token)
	return HandleNotFound(&t, err)
}

func (r *qrTokenRepo) Create(ctx context.Context, params model.CreateQRTokenParams) (*model.QRToken, error) {
	var token model.QRToken
	err := r.db.GetContext(ctx, &token, `
		INSERT INTO qr_tokens (id, secret, expires_at)
		VALUES ($1, $2, $3)
		RETURNING *
	`, params.ID, params.Secret, params.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *qrTokenRepo) MarkVerified(ctx context.Context, params model.VerifyQRTokenParams) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE qr_tokens SET
			used = TRUE,
			user_id = $2,
			verified_at = $3,
			session_creation_token = $4,
			session_creation_token_expires_at = $5
		WHERE id = $1 AND used = FALSE
	`, params.ID, params.UserID, params.VerifiedAt,
		params.SessionCreationToken, params.SessionCreationTokenExpiresAt)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *qrTokenRepo) ClearSessionCreationToken(ctx context.Context, token string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE qr_tokens SET
			session_creation_token = NULL,
			session_creation_token_expires_at = NULL
		WHERE session_creation_token = $1
	`, token)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *qrTokenRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM qr_tokens WHERE id = $1
	`, id)
	return err
}

func (r *qrTokenRepo) DeleteExpired(ctx context.Context) (int64, error) {
	now := time.Now()
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM qr_tokens
		WHERE (used = FALSE AND expires_at < $1)
		OR (used = TRUE AND (session_creation_token_expires_at IS NULL OR session_creation_token_expires_at < $1))
	`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
