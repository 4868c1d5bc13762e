package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/homeservices/backend/internal/execution"
	"github.com/homeservices/backend/internal/ledger"
	"github.com/homeservices/backend/internal/metrics"
	"github.com/homeservices/backend/internal/models"
)

// ErrReferralNotFound is returned by MarkReferralCompleted for an unknown id.
var ErrReferralNotFound = execution.ErrReferralNotFound

// CompletionReferralRepo locks and completes referrals.
type CompletionReferralRepo interface {
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Referral, error)
	MarkCompletedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
}

// Completer pays the referrer once the referred user's first booking completes.
type Completer struct {
	db        TxBeginner
	referrals CompletionReferralRepo
	ledger    ledger.Service
	retry     RetryPolicy
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewCompleter(db TxBeginner, referrals CompletionReferralRepo, l ledger.Service, retry RetryPolicy, m *metrics.Metrics, logger *slog.Logger) *Completer {
	if logger == nil {
		logger = slog.Default()
	}
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy
	}
	return &Completer{db: db, referrals: referrals, ledger: l, retry: retry, metrics: m, logger: logger}
}

var _ execution.ReferralCompleter = (*Completer)(nil)

// MarkReferralCompleted credits the referrer bonus and flips the referral to
// completed. Completing an already completed referral is a no-op.
func (c *Completer) MarkReferralCompleted(ctx context.Context, referralID uuid.UUID) error {
	var (
		outcome  string
		credited int64
	)
	err := runSerializable(ctx, c.db, c.retry, func(tx pgx.Tx) error {
		ref, err := c.referrals.GetByIDForUpdate(ctx, tx, referralID)
		if err != nil {
			return fmt.Errorf("lock referral: %w", err)
		}
		if ref == nil {
			return ErrReferralNotFound
		}
		credited = 0
		if ref.Status == models.ReferralStatusCompleted {
			outcome = "already_completed"
			return nil
		}
		if ref.ReferrerBonusCents > 0 {
			if _, err := c.ledger.Credit(ctx, tx, ref.ReferrerID, ref.ReferrerBonusCents, models.WalletEntryReferrerBonus, &ref.ID); err != nil {
				return fmt.Errorf("credit referrer bonus: %w", err)
			}
			credited = ref.ReferrerBonusCents
		}
		if err := c.referrals.MarkCompletedTx(ctx, tx, ref.ID); err != nil {
			return fmt.Errorf("mark referral completed: %w", err)
		}
		outcome = "completed"
		return nil
	}, func(int, error) {
		c.metrics.RecordRetry()
	})
	switch {
	case err == nil:
		c.metrics.RecordCompletion(outcome)
		c.metrics.RecordBonus(models.WalletEntryReferrerBonus, credited)
		if outcome == "completed" {
			c.logger.InfoContext(ctx, "referral completed", "referral_id", referralID, "referrer_bonus_cents", credited)
		}
		return nil
	case errors.Is(err, ErrReferralNotFound):
		c.metrics.RecordCompletion("not_found")
		return err
	case errors.Is(err, ErrSettlementConflict):
		c.metrics.RecordCompletion(metrics.OutcomeConflict)
		return err
	default:
		c.metrics.RecordCompletion(metrics.OutcomeError)
		return fmt.Errorf("complete referral %s: %w", referralID, err)
	}
}
