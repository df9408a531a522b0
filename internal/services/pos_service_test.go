package services

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
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func newCheckoutBody(t *testing.T, expectedTotal int64) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"requestId":     testRequestID,
		"accountId":     testAccountID,
		"lines":         []map[string]interface{}{{"itemId": "item-1", "quantity": 2}},
		"expectedTotal": expectedTotal,
	})
	assert.NoError(t, err)
	return bytes.NewBuffer(body)
}

func TestPOSService_Checkout(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewPOSService(db, nil)

	t.Run("successful checkout returns 201", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id FROM sales WHERE request_id = \$1`).
			WithArgs(testRequestID).
			WillReturnError(sql.ErrNoRows)

		mock.ExpectBegin()
		expectLockAccount(mock, testAccountID, 10000, nil, 0, "ACTIVE", 1)

		mock.ExpectQuery(`SELECT name, price FROM items`).
			WithArgs("item-1").
			WillReturnRows(sqlmock.NewRows([]string{"name", "price"}).AddRow("Banana Cue", 3000))

		mock.ExpectExec(`UPDATE accounts SET balance = \$1`).
			WithArgs(4000, 6000, sqlmock.AnyArg(), sqlmock.AnyArg(), testAccountID, 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("INSERT INTO sales").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO sale_lines").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()
		mock.ExpectExec("INSERT INTO action_logs").
			WillReturnResult(sqlmock.NewResult(1, 1))

		r := httptest.NewRequest("POST", "/sales", newCheckoutBody(t, 6000))
		r = r.WithContext(context.WithValue(r.Context(), "userID", "cashier-7"))
		w := httptest.NewRecorder()

		service.Checkout(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		var result CheckoutResult
		json.Unmarshal(w.Body.Bytes(), &result)
		assert.Equal(t, int64(6000), result.Sale.Total)
		assert.Equal(t, int64(4000), result.NewBalance)
	})

	t.Run("insufficient funds maps to 402", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id FROM sales WHERE request_id = \$1`).
			WithArgs(testRequestID).
			WillReturnError(sql.ErrNoRows)

		mock.ExpectBegin()
		expectLockAccount(mock, testAccountID, 1000, nil, 0, "ACTIVE", 1)

		mock.ExpectQuery(`SELECT name, price FROM items`).
			WithArgs("item-1").
			WillReturnRows(sqlmock.NewRows([]string{"name", "price"}).AddRow("Banana Cue", 3000))

		mock.ExpectRollback()

		r := httptest.NewRequest("POST", "/sales", newCheckoutBody(t, 6000))
		w := httptest.NewRecorder()

		service.Checkout(w, r)

		assert.Equal(t, http.StatusPaymentRequired, w.Code)
	})

	t.Run("store failure maps to 503", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id FROM sales WHERE request_id = \$1`).
			WithArgs(testRequestID).
			WillReturnError(sql.ErrConnDone)

		r := httptest.NewRequest("POST", "/sales", newCheckoutBody(t, 6000))
		w := httptest.NewRecorder()

		service.Checkout(w, r)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("missing requestId rejected", func(t *testing.T) {
		body, _ := json.Marshal(map[string]interface{}{
			"accountId": testAccountID,
			"lines":     []map[string]interface{}{{"itemId": "item-1", "quantity": 1}},
		})
		r := httptest.NewRequest("POST", "/sales", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Checkout(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/sales", bytes.NewBufferString(`{"bogus": true}`))
		w := httptest.NewRecorder()

		service.Checkout(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPOSService_VoidLine(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewPOSService(db, nil)

	voidRequest := func(body string) *http.Request {
		r := httptest.NewRequest("POST", "/sales/sale-1/lines/line-1/void", bytes.NewBufferString(body))
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("saleId", "sale-1")
		rctx.URLParams.Add("lineId", "line-1")
		ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
		ctx = context.WithValue(ctx, "userID", "cashier-7")
		return r.WithContext(ctx)
	}

	t.Run("full void succeeds", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT account_id, status FROM sales WHERE id = \$1 FOR UPDATE`).
			WithArgs("sale-1").
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "status"}).AddRow(testAccountID, "NORMAL"))
		mock.ExpectQuery(`SELECT id, sale_id, item_name, item_price, quantity, status FROM sale_lines WHERE id = \$1 AND sale_id = \$2 FOR UPDATE`).
			WithArgs("line-1", "sale-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "sale_id", "item_name", "item_price", "quantity", "status"}).
				AddRow("line-1", "sale-1", "Banana Cue", 3000, 1, "NORMAL"))
		mock.ExpectExec(`UPDATE sale_lines SET status = \$1 WHERE id = \$2`).
			WithArgs("VOID", "line-1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		expectLockAccount(mock, testAccountID, 7000, nil, 3000, "ACTIVE", 2)
		mock.ExpectExec(`UPDATE accounts SET balance = \$1`).
			WithArgs(10000, 0, sqlmock.AnyArg(), sqlmock.AnyArg(), testAccountID, 2).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery(`FROM sale_lines WHERE sale_id = \$1`).
			WithArgs("sale-1").
			WillReturnRows(sqlmock.NewRows([]string{"total", "surviving"}).AddRow(0, 0))
		mock.ExpectExec(`UPDATE sales SET total = \$1, status = \$2 WHERE id = \$3`).
			WithArgs(0, "VOID", "sale-1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO void_records").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()
		mock.ExpectExec("INSERT INTO action_logs").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery(`SELECT account_id FROM sales WHERE id = \$1`).
			WithArgs("sale-1").
			WillReturnRows(sqlmock.NewRows([]string{"account_id"}).AddRow(testAccountID))

		w := httptest.NewRecorder()
		service.VoidLine(w, voidRequest(`{"quantity": 1, "reason": "spoiled"}`))

		assert.Equal(t, http.StatusOK, w.Code)
		var result VoidResult
		json.Unmarshal(w.Body.Bytes(), &result)
		assert.Equal(t, "VOID", result.SaleStatus)
		assert.Equal(t, int64(3000), result.Refund)
	})

	t.Run("already voided maps to 409", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT account_id, status FROM sales WHERE id = \$1 FOR UPDATE`).
			WithArgs("sale-1").
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "status"}).AddRow(testAccountID, "NORMAL"))
		mock.ExpectQuery(`SELECT id, sale_id, item_name, item_price, quantity, status FROM sale_lines WHERE id = \$1 AND sale_id = \$2 FOR UPDATE`).
			WithArgs("line-1", "sale-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "sale_id", "item_name", "item_price", "quantity", "status"}).
				AddRow("line-1", "sale-1", "Banana Cue", 3000, 1, "VOID"))
		mock.ExpectRollback()

		w := httptest.NewRecorder()
		service.VoidLine(w, voidRequest(`{"quantity": 1}`))

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("sale not found maps to 404", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT account_id, status FROM sales WHERE id = \$1 FOR UPDATE`).
			WithArgs("sale-1").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		w := httptest.NewRecorder()
		service.VoidLine(w, voidRequest(`{"quantity": 1}`))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("zero quantity rejected before any query", func(t *testing.T) {
		w := httptest.NewRecorder()
		service.VoidLine(w, voidRequest(`{"quantity": 0}`))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPOSService_GetSale(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewPOSService(db, nil)

	getRequest := func(saleID string) *http.Request {
		r := httptest.NewRequest("GET", "/sales/"+saleID, nil)
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("saleId", saleID)
		return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
	}

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT s.request_id, s.account_id, s.total, s.status, s.cashier_id, s.created_at, a.balance`).
			WithArgs("sale-1").
			WillReturnRows(sqlmock.NewRows([]string{"request_id", "account_id", "total", "status", "cashier_id", "created_at", "balance"}).
				AddRow(testRequestID, testAccountID, 6000, "NORMAL", "cashier-7", time.Now(), 4000))
		mock.ExpectQuery(`SELECT id, sale_id, item_name, item_price, quantity, status FROM sale_lines`).
			WithArgs("sale-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "sale_id", "item_name", "item_price", "quantity", "status"}).
				AddRow("line-1", "sale-1", "Banana Cue", 3000, 2, "NORMAL"))

		w := httptest.NewRecorder()
		service.GetSale(w, getRequest("sale-1"))

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing sale", func(t *testing.T) {
		mock.ExpectQuery(`SELECT s.request_id, s.account_id, s.total, s.status, s.cashier_id, s.created_at, a.balance`).
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		w := httptest.NewRecorder()
		service.GetSale(w, getRequest("missing"))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestPOSService_ListSales(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewPOSService(db, nil)

	t.Run("filters by account", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id, request_id, account_id, total, status, cashier_id, created_at FROM sales WHERE account_id = \$1 ORDER BY created_at DESC LIMIT \$2`).
			WithArgs(testAccountID, 50).
			WillReturnRows(sqlmock.NewRows([]string{"id", "request_id", "account_id", "total", "status", "cashier_id", "created_at"}).
				AddRow("sale-1", testRequestID, testAccountID, 6000, "NORMAL", "cashier-7", time.Now()))

		r := httptest.NewRequest("GET", "/sales?accountId="+testAccountID, nil)
		w := httptest.NewRecorder()

		service.ListSales(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Count int `json:"count"`
		}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, 1, response.Count)
	})
}
