package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestLinkCodeService_GenerateCode_WithoutRedis(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	// Rate limiting lives in Redis; when it is down codes still issue.
	svc := NewLinkCodeService(db, nil)

	mock.ExpectQuery(`SELECT status FROM accounts WHERE account_id = \$1`).
		WithArgs("1234567890").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("ACTIVE"))
	mock.ExpectExec(`INSERT INTO link_codes \(code_hash, account_id, expires_at, used, created_at\) VALUES \(\$1, \$2, \$3, false, \$4\)`).
		WithArgs(sqlmock.AnyArg(), "1234567890", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	code, expiresAt, err := svc.GenerateCode(context.Background(), "17", "1234567890")
	assert.NoError(t, err)
	assert.Len(t, code, svc.config.CodeLength)
	assert.True(t, expiresAt.After(time.Now()))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkCodeService_RedeemCode(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	svc := NewLinkCodeService(db, nil)
	code := "12345678"
	hashed := svc.hashCode(code)

	t.Run("fresh code links the account", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT account_id, expires_at, used FROM link_codes WHERE code_hash = \$1 FOR UPDATE`).
			WithArgs(hashed).
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "expires_at", "used"}).
				AddRow("1234567890", time.Now().Add(time.Hour), false))
		mock.ExpectExec(`UPDATE link_codes SET used = true, used_at = \$1 WHERE code_hash = \$2`).
			WithArgs(sqlmock.AnyArg(), hashed).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO account_parents \(account_id, parent_user_id, linked_at\) VALUES \(\$1, \$2, \$3\) ON CONFLICT \(account_id, parent_user_id\) DO NOTHING`).
			WithArgs("1234567890", "17", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		accountID, err := svc.RedeemCode(context.Background(), code, "17")
		assert.NoError(t, err)
		assert.Equal(t, "1234567890", accountID)
	})

	t.Run("used code refused", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT account_id, expires_at, used FROM link_codes WHERE code_hash = \$1 FOR UPDATE`).
			WithArgs(hashed).
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "expires_at", "used"}).
				AddRow("1234567890", time.Now().Add(time.Hour), true))
		mock.ExpectRollback()

		_, err := svc.RedeemCode(context.Background(), code, "17")
		assert.EqualError(t, err, "code already used")
	})

	t.Run("expired code refused", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT account_id, expires_at, used FROM link_codes WHERE code_hash = \$1 FOR UPDATE`).
			WithArgs(hashed).
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "expires_at", "used"}).
				AddRow("1234567890", time.Now().Add(-time.Minute), false))
		mock.ExpectRollback()

		_, err := svc.RedeemCode(context.Background(), code, "17")
		assert.EqualError(t, err, "code expired")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
