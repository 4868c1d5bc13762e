package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a marketplace customer. ReferralCode and ReferredBy are write-once:
// they are set on insert and a trigger rejects later changes.
type User struct {
	ID                 uuid.UUID  `json:"id"`
	Name               string     `json:"name"`
	Email              string     `json:"email"`
	Phone              string     `json:"phone"`
	ReferralCode       string     `json:"referral_code"`
	ReferredBy         *uuid.UUID `json:"referred_by,omitempty"`
	WalletBalanceCents int64      `json:"wallet_balance_cents"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Profile holds the fields captured by the signup form.
type Profile struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}
