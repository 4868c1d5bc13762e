package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/homeservices/backend/internal/models"
)

type SettingsRepo struct {
	pool *pgxpool.Pool
}

func NewSettingsRepo(pool *pgxpool.Pool) *SettingsRepo {
	return &SettingsRepo{pool: pool}
}

// GetTx reads the settings row with FOR SHARE so a concurrent policy change
// conflicts with in-flight settlements instead of interleaving with them.
// A missing row yields disabled defaults.
func (r *SettingsRepo) GetTx(ctx context.Context, tx pgx.Tx) (*models.ReferralSettings, error) {
	var s models.ReferralSettings
	err := tx.QueryRow(ctx, `
		SELECT enabled, referrer_bonus_cents, referred_bonus_cents, code_length, updated_at
		FROM referral_settings WHERE id = 1 FOR SHARE
	`).Scan(&s.Enabled, &s.ReferrerBonusCents, &s.ReferredBonusCents, &s.CodeLength, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.DisabledReferralSettings(), nil
	}
	if err != nil {
		return nil, err
	}
	if s.CodeLength <= 0 {
		s.CodeLength = models.DefaultReferralCodeLength
	}
	return &s, nil
}
