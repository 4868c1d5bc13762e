package services

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/homeservices/backend/internal/execution"
	"github.com/homeservices/backend/internal/ledger"
	"github.com/homeservices/backend/internal/models"
)

// ---------------------------------------------------------------------------
// memStore is an in-memory database with serial transactions. Each memTx
// works on a private copy of the committed state that Commit swaps in, so a
// rolled-back attempt leaves nothing behind.
// ---------------------------------------------------------------------------

type memState struct {
	settings      *models.ReferralSettings
	users         map[uuid.UUID]models.User
	referrals     map[uuid.UUID]models.Referral
	notifications []models.Notification
	entries       []models.WalletEntry
	jobs          []execution.NotifyReferrerArgs
}

func (s *memState) clone() *memState {
	out := &memState{
		users:         make(map[uuid.UUID]models.User, len(s.users)),
		referrals:     make(map[uuid.UUID]models.Referral, len(s.referrals)),
		notifications: append([]models.Notification(nil), s.notifications...),
		entries:       append([]models.WalletEntry(nil), s.entries...),
		jobs:          append([]execution.NotifyReferrerArgs(nil), s.jobs...),
	}
	if s.settings != nil {
		cp := *s.settings
		out.settings = &cp
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.referrals {
		out.referrals[k] = v
	}
	return out
}

type memStore struct {
	txMu sync.Mutex // held for the life of a transaction

	mu          sync.Mutex
	state       *memState
	begins      int
	commitCalls int
	lockedKeys  [][]string
	// commitHook runs before a commit is applied. A non-nil error fails the
	// commit; the hook may mutate committed to simulate a concurrent winner.
	commitHook func(call int, committed *memState) error
}

func newMemStore(settings *models.ReferralSettings) *memStore {
	return &memStore{state: &memState{
		settings:  settings,
		users:     make(map[uuid.UUID]models.User),
		referrals: make(map[uuid.UUID]models.Referral),
	}}
}

func (m *memStore) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	m.txMu.Lock()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.begins++
	return &memTx{store: m, state: m.state.clone()}, nil
}

func (m *memStore) snapshot() *memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *memStore) seedUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.users[u.ID] = u
}

func (m *memStore) seedReferral(f models.Referral) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.referrals[f.ID] = f
}

func (m *memStore) beginCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.begins
}

// memTx satisfies pgx.Tx. Only Commit and Rollback do anything; the fake
// repositories reach the staged state through stateOf.
type memTx struct {
	store *memStore
	state *memState
	done  bool
}

func stateOf(tx pgx.Tx) *memState {
	return tx.(*memTx).state
}

func (t *memTx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	defer t.store.txMu.Unlock()
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.commitCalls++
	if t.store.commitHook != nil {
		if err := t.store.commitHook(t.store.commitCalls, t.store.state); err != nil {
			return err
		}
	}
	t.store.state = t.state
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.txMu.Unlock()
	return nil
}

func (t *memTx) Begin(context.Context) (pgx.Tx, error) { return nil, errors.New("nested tx not supported") }
func (t *memTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *memTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (t *memTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (t *memTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *memTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *memTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *memTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *memTx) Conn() *pgx.Conn { return nil }

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: constraint}
}

// --- users ---

type memUsers struct{ *memStore }

func (m memUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.state.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (memUsers) GetByIDTx(_ context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error) {
	u, ok := stateOf(tx).users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (memUsers) GetByReferralCodeTx(_ context.Context, tx pgx.Tx, code string) (*models.User, error) {
	for _, u := range stateOf(tx).users {
		if u.ReferralCode == code {
			cp := u
			return &cp, nil
		}
	}
	return nil, nil
}

func (memUsers) CreateTx(_ context.Context, tx pgx.Tx, u *models.User) error {
	st := stateOf(tx)
	if _, ok := st.users[u.ID]; ok {
		return uniqueViolation("users_pkey")
	}
	for _, other := range st.users {
		if other.ReferralCode == u.ReferralCode {
			return uniqueViolation("users_referral_code_key")
		}
	}
	if u.ReferredBy != nil && *u.ReferredBy == u.ID {
		return &pgconn.PgError{Code: "23514", ConstraintName: "users_no_self_referral"}
	}
	st.users[u.ID] = *u
	return nil
}

// --- referrals ---

type memReferrals struct{ *memStore }

func (m memReferrals) LockSignalsTx(_ context.Context, _ pgx.Tx, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockedKeys = append(m.lockedKeys, append([]string(nil), keys...))
	return nil
}

func (memReferrals) FindPriorMatchTx(_ context.Context, tx pgx.Tx, email, ip, deviceID *string) (*models.Referral, error) {
	eq := func(a, b *string) bool { return a != nil && b != nil && *a == *b }
	for _, f := range stateOf(tx).referrals {
		if eq(f.ReferredUserEmail, email) || eq(f.IPAddress, ip) || eq(f.DeviceID, deviceID) {
			cp := f
			return &cp, nil
		}
	}
	return nil, nil
}

func (memReferrals) CreateTx(_ context.Context, tx pgx.Tx, f *models.Referral) error {
	st := stateOf(tx)
	for _, other := range st.referrals {
		if other.ReferredUserID == f.ReferredUserID {
			return uniqueViolation("referrals_referred_user_key")
		}
	}
	st.referrals[f.ID] = *f
	return nil
}

func (memReferrals) GetByIDForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) (*models.Referral, error) {
	f, ok := stateOf(tx).referrals[id]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (memReferrals) MarkCompletedTx(_ context.Context, tx pgx.Tx, id uuid.UUID) error {
	st := stateOf(tx)
	f := st.referrals[id]
	if f.Status == models.ReferralStatusPending {
		f.Status = models.ReferralStatusCompleted
		st.referrals[id] = f
	}
	return nil
}

// --- settings, notifications, ledger ---

type memSettings struct{}

func (memSettings) GetTx(_ context.Context, tx pgx.Tx) (*models.ReferralSettings, error) {
	s := stateOf(tx).settings
	if s == nil {
		return models.DisabledReferralSettings(), nil
	}
	cp := *s
	return &cp, nil
}

type memNotifications struct{}

func (memNotifications) CreateTx(_ context.Context, tx pgx.Tx, n *models.Notification) error {
	st := stateOf(tx)
	st.notifications = append(st.notifications, *n)
	return nil
}

type memLedgerStore struct{}

func (memLedgerStore) AddBalance(_ context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) (int64, error) {
	st := stateOf(tx)
	u, ok := st.users[userID]
	if !ok {
		return 0, ledger.ErrWalletNotFound
	}
	u.WalletBalanceCents += amount
	st.users[userID] = u
	return u.WalletBalanceCents, nil
}

func (memLedgerStore) SubtractBalance(_ context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) (int64, error) {
	st := stateOf(tx)
	u, ok := st.users[userID]
	if !ok {
		return 0, ledger.ErrWalletNotFound
	}
	if u.WalletBalanceCents < amount {
		return 0, ledger.ErrInsufficientFunds
	}
	u.WalletBalanceCents -= amount
	st.users[userID] = u
	return u.WalletBalanceCents, nil
}

func (memLedgerStore) InsertEntry(_ context.Context, tx pgx.Tx, e *models.WalletEntry) error {
	st := stateOf(tx)
	st.entries = append(st.entries, *e)
	return nil
}

func memInsertNotify(_ context.Context, tx pgx.Tx, args execution.NotifyReferrerArgs) error {
	st := stateOf(tx)
	st.jobs = append(st.jobs, args)
	return nil
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

var testRetry = RetryPolicy{MaxAttempts: 5}

func enabledSettings(referrerBonus, referredBonus int64) *models.ReferralSettings {
	return &models.ReferralSettings{
		Enabled:            true,
		ReferrerBonusCents: referrerBonus,
		ReferredBonusCents: referredBonus,
		CodeLength:         8,
	}
}

func newTestSettler(store *memStore) *Settler {
	return NewSettler(SettlerDeps{
		DB:            store,
		Users:         memUsers{store},
		Referrals:     memReferrals{store},
		Settings:      memSettings{},
		Notifications: memNotifications{},
		Ledger:        ledger.NewService(memLedgerStore{}),
		InsertNotify:  memInsertNotify,
		Retry:         testRetry,
	})
}

func newTestCompleter(store *memStore) *Completer {
	return NewCompleter(store, memReferrals{store}, ledger.NewService(memLedgerStore{}), testRetry, nil, nil)
}

// seedReferrer stores an existing user owning code.
func seedReferrer(store *memStore, code string) uuid.UUID {
	id := uuid.New()
	store.seedUser(models.User{ID: id, Name: "Ravi Kumar", Email: "ravi@example.com", ReferralCode: code})
	return id
}

func strPtr(s string) *string { return &s }
