package models

import "time"

// DefaultReferralCodeLength is used when settings are missing or carry a non-positive length.
const DefaultReferralCodeLength = 6

// ReferralSettings is the single-row program configuration. Owned by the admin console.
type ReferralSettings struct {
	Enabled            bool      `json:"enabled"`
	ReferrerBonusCents int64     `json:"referrer_bonus_cents"`
	ReferredBonusCents int64     `json:"referred_bonus_cents"`
	CodeLength         int       `json:"code_length"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// DisabledReferralSettings is what a deployment without a settings row gets.
func DisabledReferralSettings() *ReferralSettings {
	return &ReferralSettings{Enabled: false, CodeLength: DefaultReferralCodeLength}
}
