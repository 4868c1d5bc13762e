package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/homeservices/backend/internal/models"
)

// LinkageUserRepo looks a user up by referral code inside a transaction.
// It returns nil, nil when no user owns the code.
type LinkageUserRepo interface {
	GetByReferralCodeTx(ctx context.Context, tx pgx.Tx, code string) (*models.User, error)
}

// LinkageResolver maps a claimed referral code to the referrer's id.
type LinkageResolver struct {
	Users LinkageUserRepo
}

func NewLinkageResolver(users LinkageUserRepo) *LinkageResolver {
	return &LinkageResolver{Users: users}
}

// NormalizeCode trims and upper-cases a user-typed code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Resolve returns the referrer id, or nil when the program is disabled, the
// code is empty or unknown, or the code belongs to the claimant.
func (r *LinkageResolver) Resolve(ctx context.Context, tx pgx.Tx, settings *models.ReferralSettings, code string, claimantID uuid.UUID) (*uuid.UUID, error) {
	if settings == nil || !settings.Enabled {
		return nil, nil
	}
	code = NormalizeCode(code)
	if code == "" {
		return nil, nil
	}
	u, err := r.Users.GetByReferralCodeTx(ctx, tx, code)
	if err != nil {
		return nil, err
	}
	if u == nil || u.ID == claimantID {
		return nil, nil
	}
	id := u.ID
	return &id, nil
}
