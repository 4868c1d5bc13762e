package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/homeservices/backend/internal/execution"
	"github.com/homeservices/backend/internal/fingerprint"
	"github.com/homeservices/backend/internal/ledger"
	"github.com/homeservices/backend/internal/metrics"
	"github.com/homeservices/backend/internal/models"
)

// SettlementUserRepo is the user persistence settlement needs.
type SettlementUserRepo interface {
	LinkageUserRepo
	GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error)
	CreateTx(ctx context.Context, tx pgx.Tx, u *models.User) error
}

// SettlementReferralRepo is the referral persistence settlement needs.
type SettlementReferralRepo interface {
	DedupReferralRepo
	CreateTx(ctx context.Context, tx pgx.Tx, f *models.Referral) error
}

// SettingsReader reads the program settings inside the settlement transaction.
type SettingsReader interface {
	GetTx(ctx context.Context, tx pgx.Tx) (*models.ReferralSettings, error)
}

type NotificationWriter interface {
	CreateTx(ctx context.Context, tx pgx.Tx, n *models.Notification) error
}

// InsertNotifyReferrerTxFunc enqueues the delivery job within the given transaction.
// Provided by main using river.Client.InsertTx.
type InsertNotifyReferrerTxFunc func(ctx context.Context, tx pgx.Tx, args execution.NotifyReferrerArgs) error

// SettleInput is everything a signup completion carries.
type SettleInput struct {
	UserID      uuid.UUID
	Profile     models.Profile
	ClaimedCode string
	Fingerprint fingerprint.Fingerprint
}

// SettlerDeps wires a Settler. Metrics and Logger may be nil.
type SettlerDeps struct {
	DB            TxBeginner
	Users         SettlementUserRepo
	Referrals     SettlementReferralRepo
	Settings      SettingsReader
	Notifications NotificationWriter
	Ledger        ledger.Service
	InsertNotify  InsertNotifyReferrerTxFunc
	Retry         RetryPolicy
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Settler creates the new user and, when earned, the referral, the referred
// user's wallet credit and the referrer notification, all in one transaction.
type Settler struct {
	db            TxBeginner
	users         SettlementUserRepo
	settings      SettingsReader
	referrals     SettlementReferralRepo
	notifications NotificationWriter
	ledger        ledger.Service
	insertNotify  InsertNotifyReferrerTxFunc
	linkage       *LinkageResolver
	dedup         *DedupGuard
	retry         RetryPolicy
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

func NewSettler(d SettlerDeps) *Settler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := d.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy
	}
	return &Settler{
		db:            d.DB,
		users:         d.Users,
		settings:      d.Settings,
		referrals:     d.Referrals,
		notifications: d.Notifications,
		ledger:        d.Ledger,
		insertNotify:  d.InsertNotify,
		linkage:       NewLinkageResolver(d.Users),
		dedup:         NewDedupGuard(d.Referrals),
		retry:         retry,
		metrics:       d.Metrics,
		logger:        logger,
	}
}

// Settle completes a signup. Calling it again for an existing user returns
// that user unchanged. Disabled programs, unknown codes, self-referrals and
// repeat identities are not errors: the user is created without a bonus.
// ErrSettlementConflict means nothing was written and the call can be repeated.
func (s *Settler) Settle(ctx context.Context, in SettleInput) (*models.User, error) {
	start := time.Now()
	var (
		user    *models.User
		outcome string
	)
	err := runSerializable(ctx, s.db, s.retry, func(tx pgx.Tx) error {
		var err error
		user, outcome, err = s.settleTx(ctx, tx, in)
		return err
	}, func(attempt int, err error) {
		s.metrics.RecordRetry()
		s.logger.WarnContext(ctx, "settlement conflict, retrying", "user_id", in.UserID, "attempt", attempt, "error", err)
	})
	if err != nil {
		if errors.Is(err, ErrSettlementConflict) {
			s.metrics.RecordSettlement(metrics.OutcomeConflict, time.Since(start))
			return nil, err
		}
		s.metrics.RecordSettlement(metrics.OutcomeError, time.Since(start))
		return nil, fmt.Errorf("settle user %s: %w", in.UserID, err)
	}
	s.metrics.RecordSettlement(outcome, time.Since(start))
	if outcome == metrics.OutcomeGranted {
		// New users start at zero, so the balance is the credited bonus.
		s.metrics.RecordBonus(models.WalletEntryReferredBonus, user.WalletBalanceCents)
	}
	return user, nil
}

// settleTx is one attempt. Every decision is re-derived from what tx sees, so
// a retried attempt never reuses an outcome computed against stale data.
func (s *Settler) settleTx(ctx context.Context, tx pgx.Tx, in SettleInput) (*models.User, string, error) {
	existing, err := s.users.GetByIDTx(ctx, tx, in.UserID)
	if err != nil {
		return nil, "", fmt.Errorf("load user: %w", err)
	}
	if existing != nil {
		return existing, metrics.OutcomeExisting, nil
	}

	settings, err := s.settings.GetTx(ctx, tx)
	if err != nil {
		return nil, "", fmt.Errorf("load referral settings: %w", err)
	}

	email := NormalizeEmail(in.Profile.Email)
	signals := Signals{Email: email, IPAddress: in.Fingerprint.IPAddress, DeviceID: in.Fingerprint.DeviceID}

	outcome := metrics.OutcomeNoReferral
	var referrerID *uuid.UUID
	if settings.Enabled && strings.TrimSpace(in.ClaimedCode) != "" {
		referrerID, err = s.linkage.Resolve(ctx, tx, settings, in.ClaimedCode, in.UserID)
		if err != nil {
			return nil, "", fmt.Errorf("resolve referral code: %w", err)
		}
	}
	if referrerID != nil {
		prior, err := s.dedup.FindPriorReferral(ctx, tx, signals)
		if err != nil {
			return nil, "", err
		}
		if prior != nil {
			s.logger.InfoContext(ctx, "referral bonus suppressed", "user_id", in.UserID, "matched_referral_id", prior.ID)
			referrerID = nil
			outcome = metrics.OutcomeSuppressed
		}
	}

	user := &models.User{
		ID:           in.UserID,
		Name:         strings.TrimSpace(in.Profile.Name),
		Email:        strings.TrimSpace(in.Profile.Email),
		Phone:        strings.TrimSpace(in.Profile.Phone),
		ReferralCode: GenerateCode(settings.CodeLength),
		ReferredBy:   referrerID,
	}
	if err := s.users.CreateTx(ctx, tx, user); err != nil {
		return nil, "", fmt.Errorf("create user: %w", err)
	}
	if referrerID == nil {
		return user, outcome, nil
	}

	referral := &models.Referral{
		ID:                 uuid.New(),
		ReferrerID:         *referrerID,
		ReferredUserID:     user.ID,
		ReferredUserEmail:  email,
		IPAddress:          in.Fingerprint.IPAddress,
		DeviceID:           in.Fingerprint.DeviceID,
		IPCountry:          in.Fingerprint.Country,
		Status:             models.ReferralStatusPending,
		ReferrerBonusCents: settings.ReferrerBonusCents,
		ReferredBonusCents: settings.ReferredBonusCents,
	}
	if err := s.referrals.CreateTx(ctx, tx, referral); err != nil {
		return nil, "", fmt.Errorf("create referral: %w", err)
	}

	if referral.ReferredBonusCents > 0 {
		balance, err := s.ledger.Credit(ctx, tx, user.ID, referral.ReferredBonusCents, models.WalletEntryReferredBonus, &referral.ID)
		if err != nil {
			return nil, "", fmt.Errorf("credit referred bonus: %w", err)
		}
		user.WalletBalanceCents = balance
	}

	n := &models.Notification{
		ID:         uuid.New(),
		UserID:     *referrerID,
		Kind:       models.NotificationKindReferralSignup,
		Title:      "Someone joined with your referral code",
		Body:       referralSignupBody(user.Name, referral.ReferrerBonusCents),
		ReferralID: &referral.ID,
	}
	if err := s.notifications.CreateTx(ctx, tx, n); err != nil {
		return nil, "", fmt.Errorf("create notification: %w", err)
	}
	if err := s.insertNotify(ctx, tx, execution.NotifyReferrerArgs{
		NotificationID: n.ID,
		ReferrerID:     *referrerID,
		ReferralID:     referral.ID,
	}); err != nil {
		return nil, "", fmt.Errorf("enqueue referrer notification: %w", err)
	}
	return user, metrics.OutcomeGranted, nil
}

func referralSignupBody(name string, referrerBonusCents int64) string {
	first, _, _ := strings.Cut(name, " ")
	if first == "" {
		first = "A new customer"
	}
	if referrerBonusCents <= 0 {
		return first + " signed up with your referral code."
	}
	return fmt.Sprintf("%s signed up with your referral code. You'll earn %s after their first completed booking.", first, formatCents(referrerBonusCents))
}

func formatCents(c int64) string {
	return fmt.Sprintf("%d.%02d", c/100, c%100)
}
