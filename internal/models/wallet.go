package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet ledger entry_type enums.
const (
	WalletEntryReferredBonus = "referred_bonus"
	WalletEntryReferrerBonus = "referrer_bonus"
	WalletEntryDebit         = "debit"
)

// WalletEntry is one append-only row of the wallet ledger. AmountCents is
// always positive; the entry type carries the direction.
type WalletEntry struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	ReferralID   *uuid.UUID `json:"referral_id,omitempty"`
	Reference    *string    `json:"reference,omitempty"`
	EntryType    string     `json:"entry_type"`
	AmountCents  int64      `json:"amount_cents"`
	BalanceAfter int64      `json:"balance_after"`
	CreatedAt    time.Time  `json:"created_at"`
}

// SignedAmount returns the balance delta the entry represents.
func (e *WalletEntry) SignedAmount() int64 {
	if e.EntryType == WalletEntryDebit {
		return -e.AmountCents
	}
	return e.AmountCents
}
