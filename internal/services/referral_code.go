package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/homeservices/backend/internal/models"
)

// referralCodeAlphabet is upper-case letters and digits without 0/O and 1/I/L,
// so codes survive being read aloud or typed from a screenshot.
const referralCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// ErrUserNotFound is returned when an operation needs an existing user.
var ErrUserNotFound = errors.New("user not found")

// GenerateCode returns a random referral code. length <= 0 uses the default.
// Uniqueness is enforced by the users.referral_code index, not here.
func GenerateCode(length int) string {
	if length <= 0 {
		length = models.DefaultReferralCodeLength
	}
	max := big.NewInt(int64(len(referralCodeAlphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails if the OS entropy source is broken.
			panic(fmt.Sprintf("referral code: %v", err))
		}
		b.WriteByte(referralCodeAlphabet[n.Int64()])
	}
	return b.String()
}

// ReferralLinkUserRepo loads the user whose link is requested.
type ReferralLinkUserRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// LinkBuilder builds shareable signup links.
type LinkBuilder struct {
	BaseURL string
	Users   ReferralLinkUserRepo
}

func NewLinkBuilder(baseURL string, users ReferralLinkUserRepo) *LinkBuilder {
	return &LinkBuilder{BaseURL: strings.TrimRight(baseURL, "/"), Users: users}
}

// ReferralLink formats <base>/signup?ref=<code>.
func (b *LinkBuilder) ReferralLink(code string) string {
	return b.BaseURL + "/signup?" + url.Values{"ref": {code}}.Encode()
}

// GenerateReferralLink returns the signup link carrying the user's own code.
func (b *LinkBuilder) GenerateReferralLink(ctx context.Context, userID uuid.UUID) (string, error) {
	u, err := b.Users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if u == nil {
		return "", ErrUserNotFound
	}
	return b.ReferralLink(u.ReferralCode), nil
}
