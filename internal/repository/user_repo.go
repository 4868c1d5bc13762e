package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/homeservices/backend/internal/models"
)

const userColumns = `id, name, email, phone, referral_code, referred_by, wallet_balance_cents, created_at, updated_at`

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.ReferralCode, &u.ReferredBy, &u.WalletBalanceCents, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateTx inserts the user inside the given transaction. wallet_balance_cents
// is always inserted as given; later changes go through the wallet ledger.
func (r *UserRepo) CreateTx(ctx context.Context, tx pgx.Tx, u *models.User) error {
	return tx.QueryRow(ctx, `
		INSERT INTO users (id, name, email, phone, referral_code, referred_by, wallet_balance_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, u.ID, u.Name, u.Email, u.Phone, u.ReferralCode, u.ReferredBy, u.WalletBalanceCents).Scan(&u.CreatedAt, &u.UpdatedAt)
}

// GetByID returns nil, nil when the user has not completed signup.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// GetByIDTx returns nil, nil when the user does not exist.
func (r *UserRepo) GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// GetByReferralCodeTx returns nil, nil when no user owns the code.
func (r *UserRepo) GetByReferralCodeTx(ctx context.Context, tx pgx.Tx, code string) (*models.User, error) {
	u, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE referral_code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return u, err
}
