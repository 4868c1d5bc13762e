package repository

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

// newMockTx opens a pgxmock connection and begins a transaction on it. The
// caller queues expectations on mock and runs the repository against tx.
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

func strPtr(s string) *string { return &s }
