package models

import (
	"time"

	"github.com/google/uuid"
)

const NotificationKindReferralSignup = "referral_signup"

type Notification struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	Kind        string     `json:"kind"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	ReferralID  *uuid.UUID `json:"referral_id,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
