package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/homeservices/backend/internal/models"
)

var (
	errInsufficientFunds = errors.New("insufficient funds")
	errWalletNotFound    = errors.New("wallet not found")

	// ErrInsufficientFunds is returned by Debit when the balance would go negative.
	ErrInsufficientFunds = errInsufficientFunds
	// ErrWalletNotFound is returned when the user row does not exist.
	ErrWalletNotFound = errWalletNotFound
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrDuplicateReference is returned when the user already has a debit with
	// the same checkout reference.
	ErrDuplicateReference = errors.New("debit reference already used")
)

// Service is the wallet ledger contract. Credit and Debit are the only
// mutators of users.wallet_balance_cents; both run in the caller's transaction
// and append one wallet_ledger row carrying the resulting balance.
type Service interface {
	Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amountCents int64, entryType string, referralID *uuid.UUID) (int64, error)
	Debit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amountCents int64, reference string) (int64, error)
}

// Store is the persistence the ledger needs; *Repository implements it.
type Store interface {
	AddBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amountCents int64) (int64, error)
	SubtractBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amountCents int64) (int64, error)
	InsertEntry(ctx context.Context, tx pgx.Tx, e *models.WalletEntry) error
}

type service struct {
	store Store
}

func NewService(store Store) Service {
	return &service{store: store}
}

var _ Service = (*service)(nil)
var _ Store = (*Repository)(nil)

func (s *service) Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amountCents int64, entryType string, referralID *uuid.UUID) (int64, error) {
	if amountCents <= 0 {
		return 0, ErrInvalidAmount
	}
	balance, err := s.store.AddBalance(ctx, tx, userID, amountCents)
	if err != nil {
		return 0, err
	}
	if err := s.store.InsertEntry(ctx, tx, &models.WalletEntry{
		ID:           uuid.New(),
		UserID:       userID,
		ReferralID:   referralID,
		EntryType:    entryType,
		AmountCents:  amountCents,
		BalanceAfter: balance,
	}); err != nil {
		return 0, err
	}
	return balance, nil
}

// Debit rejects overdrafts; callers that prefer to clamp can retry with the
// current balance. A non-empty reference ties the entry to a checkout and may
// be used once per user.
func (s *service) Debit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amountCents int64, reference string) (int64, error) {
	if amountCents <= 0 {
		return 0, ErrInvalidAmount
	}
	balance, err := s.store.SubtractBalance(ctx, tx, userID, amountCents)
	if err != nil {
		return 0, err
	}
	if err := s.store.InsertEntry(ctx, tx, &models.WalletEntry{
		ID:           uuid.New(),
		UserID:       userID,
		Reference:    optionalString(reference),
		EntryType:    models.WalletEntryDebit,
		AmountCents:  amountCents,
		BalanceAfter: balance,
	}); err != nil {
		return 0, err
	}
	return balance, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
