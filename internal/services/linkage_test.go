package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/homeservices/backend/internal/models"
)

func withTx(t *testing.T, store *memStore, fn func(tx pgx.Tx)) {
	t.Helper()
	tx, err := store.BeginTx(context.Background(), pgx.TxOptions{})
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	defer tx.Rollback(context.Background())
	fn(tx)
}

func TestResolve(t *testing.T) {
	store := newMemStore(nil)
	referrerID := seedReferrer(store, "K7PQ2M")
	r := NewLinkageResolver(memUsers{store})
	enabled := enabledSettings(100, 100)

	cases := []struct {
		name      string
		settings  *models.ReferralSettings
		code      string
		claimant  uuid.UUID
		wantFound bool
	}{
		{name: "exact", settings: enabled, code: "K7PQ2M", claimant: uuid.New(), wantFound: true},
		{name: "normalized", settings: enabled, code: "  k7pq2m\n", claimant: uuid.New(), wantFound: true},
		{name: "unknown", settings: enabled, code: "AAAAAA", claimant: uuid.New()},
		{name: "empty", settings: enabled, code: "   ", claimant: uuid.New()},
		{name: "self referral", settings: enabled, code: "K7PQ2M", claimant: referrerID},
		{name: "disabled", settings: models.DisabledReferralSettings(), code: "K7PQ2M", claimant: uuid.New()},
		{name: "nil settings", settings: nil, code: "K7PQ2M", claimant: uuid.New()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			withTx(t, store, func(tx pgx.Tx) {
				got, err := r.Resolve(context.Background(), tx, tc.settings, tc.code, tc.claimant)
				if err != nil {
					t.Fatalf("Resolve: %v", err)
				}
				if tc.wantFound {
					if got == nil || *got != referrerID {
						t.Errorf("got %v, want %s", got, referrerID)
					}
				} else if got != nil {
					t.Errorf("got %s, want nil", got)
				}
			})
		})
	}
}
