// Package capture remembers the referral code a visitor arrived with until
// they finish signing up, possibly days later and on another page.
package capture

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "referral:capture:"

// DefaultTTL is how long a captured code stays claimable.
const DefaultTTL = 30 * 24 * time.Hour

var (
	ErrInvalidCode = errors.New("invalid referral code")
	ErrNotFound    = errors.New("capture token not found or expired")
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{4,32}$`)

type Store struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewStore(rdb redis.Cmdable, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func key(token string) string { return keyPrefix + token }

// Capture stores code under a new opaque token and returns the token.
// Codes are not checked against users here; settlement does that.
func (s *Store) Capture(ctx context.Context, code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !codePattern.MatchString(code) {
		return "", ErrInvalidCode
	}
	token := uuid.NewString()
	if err := s.rdb.Set(ctx, key(token), code, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("capture referral code: %w", err)
	}
	return token, nil
}

// Lookup returns the code captured under token.
func (s *Store) Lookup(ctx context.Context, token string) (string, error) {
	if _, err := uuid.Parse(token); err != nil {
		return "", ErrNotFound
	}
	code, err := s.rdb.Get(ctx, key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup capture token: %w", err)
	}
	return code, nil
}

// Clear drops a token once its code has been consumed by a signup.
func (s *Store) Clear(ctx context.Context, token string) error {
	if _, err := uuid.Parse(token); err != nil {
		return nil
	}
	return s.rdb.Del(ctx, key(token)).Err()
}
