package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/homeservices/backend/internal/models"
)

// Signals identify the human behind a claim. Nil fields are unknown.
type Signals struct {
	Email     *string
	IPAddress *string
	DeviceID  *string
}

// DedupReferralRepo is the subset of the referral repository the guard needs.
type DedupReferralRepo interface {
	LockSignalsTx(ctx context.Context, tx pgx.Tx, keys []string) error
	FindPriorMatchTx(ctx context.Context, tx pgx.Tx, email, ip, deviceID *string) (*models.Referral, error)
}

// DedupGuard blocks a second bonus for an identity that already produced one.
type DedupGuard struct {
	Referrals DedupReferralRepo
}

func NewDedupGuard(referrals DedupReferralRepo) *DedupGuard {
	return &DedupGuard{Referrals: referrals}
}

// NormalizeEmail lower-cases and trims; an empty result is nil.
func NormalizeEmail(email string) *string {
	e := strings.ToLower(strings.TrimSpace(email))
	if e == "" {
		return nil
	}
	return &e
}

// lockKeys returns one advisory lock key per present signal, sorted so that
// concurrent claimants always acquire them in the same order.
func (s Signals) lockKeys() []string {
	var keys []string
	if s.Email != nil {
		keys = append(keys, "email:"+*s.Email)
	}
	if s.IPAddress != nil {
		keys = append(keys, "ip:"+*s.IPAddress)
	}
	if s.DeviceID != nil {
		keys = append(keys, "device:"+*s.DeviceID)
	}
	sort.Strings(keys)
	return keys
}

// FindPriorReferral returns any existing referral matching ANY present signal,
// or nil. The signal locks are held until tx ends.
func (g *DedupGuard) FindPriorReferral(ctx context.Context, tx pgx.Tx, s Signals) (*models.Referral, error) {
	keys := s.lockKeys()
	if len(keys) == 0 {
		return nil, nil
	}
	if err := g.Referrals.LockSignalsTx(ctx, tx, keys); err != nil {
		return nil, err
	}
	prior, err := g.Referrals.FindPriorMatchTx(ctx, tx, s.Email, s.IPAddress, s.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("find prior referral: %w", err)
	}
	return prior, nil
}
