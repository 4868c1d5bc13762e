package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/homeservices/backend/internal/models"
)

// WalletRepo is the read side of the wallet ledger. Writes go through internal/ledger.
type WalletRepo struct {
	pool *pgxpool.Pool
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

func (r *WalletRepo) ListByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]*models.WalletEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, referral_id, reference, entry_type, amount_cents, balance_after, created_at
		FROM wallet_ledger WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.WalletEntry
	for rows.Next() {
		var e models.WalletEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.ReferralID, &e.Reference, &e.EntryType, &e.AmountCents, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
