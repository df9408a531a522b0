package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/campuspay/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

const (
	topUpRequestID = "d4f8a1b2-6c3e-4a9d-8b7f-1e2c3d4a5b6f"
	topUpAccountID = "1234567890"
)

func topUpRequest(t *testing.T, role, channel string, amount int64) *http.Request {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"requestId": topUpRequestID,
		"amount":    amount,
		"channel":   channel,
	})
	assert.NoError(t, err)

	r := httptest.NewRequest("POST", "/accounts/"+topUpAccountID+"/topup", bytes.NewBuffer(body))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("accountId", topUpAccountID)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	ctx = context.WithValue(ctx, "userID", "17")
	ctx = context.WithValue(ctx, "userRole", role)
	return r.WithContext(ctx)
}

func expectTopUpLedger(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`SELECT t.id, a.balance FROM topups t JOIN accounts a ON a.account_id = t.account_id WHERE t.request_id = \$1`).
		WithArgs(topUpRequestID).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, balance, daily_limit, spent_today, last_reset, status, version FROM accounts WHERE account_id = \$1 OR id = \$1 LIMIT 1 FOR UPDATE`).
		WithArgs(topUpAccountID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance", "daily_limit", "spent_today", "last_reset", "status", "version"}).
			AddRow(topUpAccountID, 4000, nil, 0, time.Now(), "ACTIVE", 1))
	mock.ExpectExec(`UPDATE accounts SET balance = \$1`).
		WithArgs(14000, 0, sqlmock.AnyArg(), sqlmock.AnyArg(), topUpAccountID, 1).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func TestTopUpHandler_ParentAccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	handler := NewTopUpHandler(db, services.NewLedgerService(db), services.NewReceiptNotifier(nil))

	t.Run("linked parent tops up via portal", func(t *testing.T) {
		mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM account_parents WHERE account_id = \$1 AND parent_user_id = \$2\)`).
			WithArgs(topUpAccountID, "17").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		expectTopUpLedger(mock)
		mock.ExpectExec("INSERT INTO topups").
			WithArgs(sqlmock.AnyArg(), topUpRequestID, topUpAccountID, 10000, "PORTAL", "17", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()
		mock.ExpectExec("INSERT INTO action_logs").
			WillReturnResult(sqlmock.NewResult(1, 1))

		w := httptest.NewRecorder()
		handler.TopUp(w, topUpRequest(t, "parent", "PORTAL", 10000))

		assert.Equal(t, http.StatusOK, w.Code)
		var result services.TopUpResult
		json.Unmarshal(w.Body.Bytes(), &result)
		assert.Equal(t, int64(14000), result.NewBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unlinked parent refused", func(t *testing.T) {
		mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM account_parents WHERE account_id = \$1 AND parent_user_id = \$2\)`).
			WithArgs(topUpAccountID, "17").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		w := httptest.NewRecorder()
		handler.TopUp(w, topUpRequest(t, "parent", "PORTAL", 10000))

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("parent cannot use the cash channel", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.TopUp(w, topUpRequest(t, "parent", "CASH", 10000))

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("cashier skips the link check", func(t *testing.T) {
		expectTopUpLedger(mock)
		mock.ExpectExec("INSERT INTO topups").
			WithArgs(sqlmock.AnyArg(), topUpRequestID, topUpAccountID, 10000, "CASH", "17", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()
		mock.ExpectExec("INSERT INTO action_logs").
			WillReturnResult(sqlmock.NewResult(1, 1))

		w := httptest.NewRecorder()
		handler.TopUp(w, topUpRequest(t, "cashier", "CASH", 10000))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTopUpHandler_DuplicateRequest(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	handler := NewTopUpHandler(db, services.NewLedgerService(db), services.NewReceiptNotifier(nil))

	// Two terminals race past the dedup pre-check; the unique constraint
	// on request_id catches the second insert.
	expectTopUpLedger(mock)
	mock.ExpectExec("INSERT INTO topups").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	w := httptest.NewRecorder()
	handler.TopUp(w, topUpRequest(t, "admin", "CASH", 10000))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
