package repository

import (
	"context"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetByReferralCodeTx_UnknownCode(t *testing.T) {
	mock, tx := newMockTx(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE referral_code = $1")).
		WithArgs("K7PQ2M").
		WillReturnError(pgx.ErrNoRows)

	u, err := NewUserRepo(nil).GetByReferralCodeTx(context.Background(), tx, "K7PQ2M")
	require.NoError(t, err)
	assert.Nil(t, u)
	assert.NoError(t, mock.ExpectationsWereMet())
}
