package models

import (
	"time"

	"github.com/google/uuid"
)

// Referral status enums.
const (
	ReferralStatusPending   = "pending"
	ReferralStatusCompleted = "completed"
)

// Referral links a referrer to the user who signed up with their code.
// Bonus amounts are fixed when the row is created.
type Referral struct {
	ID                 uuid.UUID  `json:"id"`
	ReferrerID         uuid.UUID  `json:"referrer_id"`
	ReferredUserID     uuid.UUID  `json:"referred_user_id"`
	ReferredUserEmail  *string    `json:"referred_user_email,omitempty"`
	IPAddress          *string    `json:"ip_address,omitempty"`
	DeviceID           *string    `json:"device_id,omitempty"`
	IPCountry          string     `json:"ip_country,omitempty"`
	Status             string     `json:"status"`
	ReferrerBonusCents int64      `json:"referrer_bonus_cents"`
	ReferredBonusCents int64      `json:"referred_bonus_cents"`
	CreatedAt          time.Time  `json:"created_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}
