package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/homeservices/backend/internal/models"
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// AddBalance increases the user's balance and returns the new value.
func (r *Repository) AddBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amountCents int64) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `
		UPDATE users SET wallet_balance_cents = wallet_balance_cents + $1, updated_at = now()
		WHERE id = $2
		RETURNING wallet_balance_cents
	`, amountCents, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errWalletNotFound
	}
	return balance, err
}

// SubtractBalance decreases the balance only if it stays non-negative.
func (r *Repository) SubtractBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amountCents int64) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `
		UPDATE users SET wallet_balance_cents = wallet_balance_cents - $1, updated_at = now()
		WHERE id = $2 AND wallet_balance_cents >= $1
		RETURNING wallet_balance_cents
	`, amountCents, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
			return 0, err
		}
		if !exists {
			return 0, errWalletNotFound
		}
		return 0, errInsufficientFunds
	}
	return balance, err
}

const debitReferenceConstraint = "wallet_ledger_debit_reference_key"

func (r *Repository) InsertEntry(ctx context.Context, tx pgx.Tx, e *models.WalletEntry) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO wallet_ledger (id, user_id, referral_id, entry_type, amount_cents, balance_after, reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, e.ID, e.UserID, e.ReferralID, e.EntryType, e.AmountCents, e.BalanceAfter, e.Reference).Scan(&e.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == debitReferenceConstraint {
		return ErrDuplicateReference
	}
	return err
}
