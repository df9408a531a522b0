package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestCardService_RegisterCard(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCardService(db)

	registerBody := func() *bytes.Buffer {
		body, _ := json.Marshal(map[string]string{
			"cardUid":   "04A2B3C4D5E6",
			"accountId": testAccountID,
		})
		return bytes.NewBuffer(body)
	}

	t.Run("successful registration", func(t *testing.T) {
		mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM cards WHERE card_uid = \$1\)`).
			WithArgs("04A2B3C4D5E6").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery(`SELECT status FROM accounts WHERE account_id = \$1`).
			WithArgs(testAccountID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("ACTIVE"))
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE cards SET status = \$1, suspended_at = \$2 WHERE account_id = \$3 AND status = \$4`).
			WithArgs("SUSPENDED", sqlmock.AnyArg(), testAccountID, "ACTIVE").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`INSERT INTO cards \(card_uid, account_id, status, activation_code, issued_at\)`).
			WithArgs("04A2B3C4D5E6", testAccountID, "PROVISIONED", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()
		mock.ExpectExec("INSERT INTO action_logs").
			WillReturnResult(sqlmock.NewResult(1, 1))

		r := httptest.NewRequest("POST", "/cards", registerBody())
		r = r.WithContext(context.WithValue(r.Context(), "userID", "admin-1"))
		w := httptest.NewRecorder()

		service.RegisterCard(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		var resp map[string]string
		json.Unmarshal(w.Body.Bytes(), &resp)
		assert.Equal(t, "PROVISIONED", resp["status"])
		assert.Len(t, resp["activationCode"], 6)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate card rejected", func(t *testing.T) {
		mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM cards WHERE card_uid = \$1\)`).
			WithArgs("04A2B3C4D5E6").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		w := httptest.NewRecorder()
		service.RegisterCard(w, httptest.NewRequest("POST", "/cards", registerBody()))

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid card uid rejected", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{
			"cardUid":   "x!",
			"accountId": testAccountID,
		})
		w := httptest.NewRecorder()
		service.RegisterCard(w, httptest.NewRequest("POST", "/cards", bytes.NewBuffer(body)))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCardService_ActivateCard(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCardService(db)

	activateBody := func(code string) *bytes.Buffer {
		body, _ := json.Marshal(map[string]string{
			"cardUid":        "04A2B3C4D5E6",
			"activationCode": code,
		})
		return bytes.NewBuffer(body)
	}

	t.Run("successful activation", func(t *testing.T) {
		mock.ExpectQuery(`SELECT status, activation_code FROM cards WHERE card_uid = \$1`).
			WithArgs("04A2B3C4D5E6").
			WillReturnRows(sqlmock.NewRows([]string{"status", "activation_code"}).AddRow("PROVISIONED", "123456"))
		mock.ExpectExec(`UPDATE cards SET status = \$1, activated_at = \$2 WHERE card_uid = \$3`).
			WithArgs("ACTIVE", sqlmock.AnyArg(), "04A2B3C4D5E6").
			WillReturnResult(sqlmock.NewResult(1, 1))

		w := httptest.NewRecorder()
		service.ActivateCard(w, httptest.NewRequest("POST", "/cards/activate", activateBody("123456")))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wrong activation code", func(t *testing.T) {
		mock.ExpectQuery(`SELECT status, activation_code FROM cards WHERE card_uid = \$1`).
			WithArgs("04A2B3C4D5E6").
			WillReturnRows(sqlmock.NewRows([]string{"status", "activation_code"}).AddRow("PROVISIONED", "123456"))

		w := httptest.NewRecorder()
		service.ActivateCard(w, httptest.NewRequest("POST", "/cards/activate", activateBody("654321")))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already active card", func(t *testing.T) {
		mock.ExpectQuery(`SELECT status, activation_code FROM cards WHERE card_uid = \$1`).
			WithArgs("04A2B3C4D5E6").
			WillReturnRows(sqlmock.NewRows([]string{"status", "activation_code"}).AddRow("ACTIVE", "123456"))

		w := httptest.NewRecorder()
		service.ActivateCard(w, httptest.NewRequest("POST", "/cards/activate", activateBody("123456")))

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCardService_ResolveCard(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCardService(db)

	resolveRequest := func(cardUID string) *http.Request {
		r := httptest.NewRequest("GET", "/cards/"+cardUID+"/account", nil)
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("cardUid", cardUID)
		return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
	}

	t.Run("active card resolves", func(t *testing.T) {
		mock.ExpectQuery(`SELECT c.account_id, a.account_name, c.status FROM cards c JOIN accounts a ON a.account_id = c.account_id WHERE c.card_uid = \$1`).
			WithArgs("04A2B3C4D5E6").
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "account_name", "status"}).
				AddRow(testAccountID, "Juan Dela Cruz", "ACTIVE"))

		w := httptest.NewRecorder()
		service.ResolveCard(w, resolveRequest("04A2B3C4D5E6"))

		assert.Equal(t, http.StatusOK, w.Code)
		var resp map[string]string
		json.Unmarshal(w.Body.Bytes(), &resp)
		assert.Equal(t, testAccountID, resp["accountId"])
		assert.Equal(t, "Juan Dela Cruz", resp["accountName"])
	})

	t.Run("suspended card refused", func(t *testing.T) {
		mock.ExpectQuery(`SELECT c.account_id, a.account_name, c.status FROM cards c JOIN accounts a ON a.account_id = c.account_id WHERE c.card_uid = \$1`).
			WithArgs("04A2B3C4D5E6").
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "account_name", "status"}).
				AddRow(testAccountID, "Juan Dela Cruz", "SUSPENDED"))

		w := httptest.NewRecorder()
		service.ResolveCard(w, resolveRequest("04A2B3C4D5E6"))

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("unknown card", func(t *testing.T) {
		mock.ExpectQuery(`SELECT c.account_id, a.account_name, c.status FROM cards c JOIN accounts a ON a.account_id = c.account_id WHERE c.card_uid = \$1`).
			WithArgs("FFFFFFFF").
			WillReturnError(sql.ErrNoRows)

		w := httptest.NewRecorder()
		service.ResolveCard(w, resolveRequest("FFFFFFFF"))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
