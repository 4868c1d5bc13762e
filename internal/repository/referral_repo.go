package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/homeservices/backend/internal/models"
)

const referralColumns = `id, referrer_id, referred_user_id, referred_user_email, ip_address, device_id, ip_country,
	status, referrer_bonus_cents, referred_bonus_cents, created_at, completed_at`

type ReferralRepo struct {
	pool *pgxpool.Pool
}

func NewReferralRepo(pool *pgxpool.Pool) *ReferralRepo {
	return &ReferralRepo{pool: pool}
}

func scanReferral(row pgx.Row) (*models.Referral, error) {
	var f models.Referral
	err := row.Scan(&f.ID, &f.ReferrerID, &f.ReferredUserID, &f.ReferredUserEmail, &f.IPAddress, &f.DeviceID, &f.IPCountry,
		&f.Status, &f.ReferrerBonusCents, &f.ReferredBonusCents, &f.CreatedAt, &f.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *ReferralRepo) CreateTx(ctx context.Context, tx pgx.Tx, f *models.Referral) error {
	return tx.QueryRow(ctx, `
		INSERT INTO referrals (id, referrer_id, referred_user_id, referred_user_email, ip_address, device_id, ip_country,
			status, referrer_bonus_cents, referred_bonus_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, f.ID, f.ReferrerID, f.ReferredUserID, f.ReferredUserEmail, f.IPAddress, f.DeviceID, f.IPCountry,
		f.Status, f.ReferrerBonusCents, f.ReferredBonusCents).Scan(&f.CreatedAt)
}

// LockSignalsTx takes a transaction-scoped advisory lock per key. Keys must be
// passed in a deterministic order so concurrent claimants cannot deadlock.
func (r *ReferralRepo) LockSignalsTx(ctx context.Context, tx pgx.Tx, keys []string) error {
	for _, k := range keys {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, k); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}
	}
	return nil
}

// FindPriorMatchTx returns any referral whose captured email, IP or device id
// equals one of the non-nil arguments, or nil, nil when none does.
func (r *ReferralRepo) FindPriorMatchTx(ctx context.Context, tx pgx.Tx, email, ip, deviceID *string) (*models.Referral, error) {
	var clauses []string
	var args []any
	add := func(column string, v *string) {
		if v == nil {
			return
		}
		args = append(args, *v)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("referred_user_email", email)
	add("ip_address", ip)
	add("device_id", deviceID)
	if len(clauses) == 0 {
		return nil, nil
	}
	f, err := scanReferral(tx.QueryRow(ctx,
		`SELECT `+referralColumns+` FROM referrals WHERE `+strings.Join(clauses, " OR ")+` LIMIT 1`, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return f, err
}

// GetByIDForUpdate locks the referral row. Returns nil, nil when it does not exist.
func (r *ReferralRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Referral, error) {
	f, err := scanReferral(tx.QueryRow(ctx, `SELECT `+referralColumns+` FROM referrals WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return f, err
}

func (r *ReferralRepo) MarkCompletedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE referrals SET status = 'completed', completed_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id)
	return err
}

func (r *ReferralRepo) ListByReferrer(ctx context.Context, referrerID uuid.UUID) ([]*models.Referral, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+referralColumns+` FROM referrals WHERE referrer_id = $1 ORDER BY created_at DESC
	`, referrerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Referral
	for rows.Next() {
		f, err := scanReferral(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, f)
	}
	return list, rows.Err()
}
