package ledger

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeservices/backend/internal/models"
)

const (
	subtractQuery = "WHERE id = $2 AND wallet_balance_cents >= $1"
	existsQuery   = "SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)"
)

func newMockTx(t *testing.T) (pgxmock.PgxConnIface, pgx.Tx) {
	t.Helper()
	mock, err := pgxmock.NewConn()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mock.Close(context.Background()) })

	mock.ExpectBegin()
	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)
	return mock, tx
}

func TestSubtractBalance(t *testing.T) {
	mock, tx := newMockTx(t)
	user := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(subtractQuery)).
		WithArgs(int64(30), user).
		WillReturnRows(pgxmock.NewRows([]string{"wallet_balance_cents"}).AddRow(int64(70)))

	balance, err := NewRepository().SubtractBalance(context.Background(), tx, user, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(70), balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubtractBalance_Overdraft(t *testing.T) {
	mock, tx := newMockTx(t)
	user := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(subtractQuery)).
		WithArgs(int64(500), user).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(existsQuery)).
		WithArgs(user).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := NewRepository().SubtractBalance(context.Background(), tx, user, 500)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubtractBalance_UnknownUser(t *testing.T) {
	mock, tx := newMockTx(t)
	user := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(subtractQuery)).
		WithArgs(int64(10), user).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(existsQuery)).
		WithArgs(user).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := NewRepository().SubtractBalance(context.Background(), tx, user, 10)
	assert.ErrorIs(t, err, ErrWalletNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddBalance_UnknownUser(t *testing.T) {
	mock, tx := newMockTx(t)
	user := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("SET wallet_balance_cents = wallet_balance_cents + $1")).
		WithArgs(int64(100), user).
		WillReturnError(pgx.ErrNoRows)

	_, err := NewRepository().AddBalance(context.Background(), tx, user, 100)
	assert.ErrorIs(t, err, ErrWalletNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func debitEntry() *models.WalletEntry {
	ref := "booking-981"
	return &models.WalletEntry{
		ID: uuid.New(), UserID: uuid.New(), Reference: &ref,
		EntryType: models.WalletEntryDebit, AmountCents: 1000, BalanceAfter: 1500,
	}
}

func TestInsertEntry_StoresReference(t *testing.T) {
	mock, tx := newMockTx(t)
	e := debitEntry()
	created := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO wallet_ledger")).
		WithArgs(e.ID, e.UserID, e.ReferralID, e.EntryType, e.AmountCents, e.BalanceAfter, e.Reference).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(created))

	require.NoError(t, NewRepository().InsertEntry(context.Background(), tx, e))
	assert.Equal(t, created, e.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// anyInsertEntryArgs matches the seven InsertEntry parameters; pgxmock
// requires the expected argument count to equal the actual one.
func anyInsertEntryArgs() []interface{} {
	args := make([]interface{}, 7)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestInsertEntry_DuplicateReference(t *testing.T) {
	mock, tx := newMockTx(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO wallet_ledger")).
		WithArgs(anyInsertEntryArgs()...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "wallet_ledger_debit_reference_key"})

	err := NewRepository().InsertEntry(context.Background(), tx, debitEntry())
	assert.ErrorIs(t, err, ErrDuplicateReference)
}

func TestInsertEntry_OtherUniqueViolationPassesThrough(t *testing.T) {
	mock, tx := newMockTx(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO wallet_ledger")).
		WithArgs(anyInsertEntryArgs()...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "wallet_ledger_pkey"})

	err := NewRepository().InsertEntry(context.Background(), tx, debitEntry())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrDuplicateReference))
	var pgErr *pgconn.PgError
	assert.True(t, errors.As(err, &pgErr))
}
