package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/campuspay/backend/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
)

// POSService is the HTTP surface for the cashier terminals: checkout,
// void and sale lookups. The financial work is delegated to the ledger;
// this layer decodes, validates, maps errors to statuses and dispatches
// post-commit notifications.
type POSService struct {
	db        *sql.DB
	ledger    *LedgerService
	notifier  *ReceiptNotifier
	validator *ValidationHelper
}

func NewPOSService(db *sql.DB, redisClient *redis.Client) *POSService {
	return &POSService{
		db:        db,
		ledger:    NewLedgerService(db),
		notifier:  NewReceiptNotifier(redisClient),
		validator: NewValidationHelper(),
	}
}

// Checkout processes one sale
// @Summary Check out a cart
// @Description Debit the account and record the sale atomically. Replays of the same requestId return the original sale.
// @Tags sales
// @Accept json
// @Produce json
// @Param request body CheckoutRequest true "Cart contents"
// @Success 201 {object} CheckoutResult
// @Failure 400 {object} ErrorResponse
// @Failure 402 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /sales [post]
func (ps *POSService) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := ps.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	cashierID, _ := r.Context().Value("userID").(string)
	req.CashierID = cashierID

	log.Printf("[POS] Checkout request %s: account %s, %d line(s)", req.RequestID, req.AccountID, len(req.Lines))

	result, err := ps.ledger.Checkout(req)
	if err != nil {
		ps.writeLedgerError(w, err)
		return
	}

	if !result.Replayed {
		// Post-commit, best-effort. A notification failure must never
		// surface as a checkout failure.
		go ps.notifier.SaleReceipt(result.Sale)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(result)
}

// VoidLine reverses part or all of a sale line
// @Summary Void a sale line
// @Description Void quantity off a line, refund the account and recompute the sale total.
// @Tags sales
// @Accept json
// @Produce json
// @Param saleId path string true "Sale ID"
// @Param lineId path string true "Line ID"
// @Param request body VoidRequest true "Void details"
// @Success 200 {object} VoidResult
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /sales/{saleId}/lines/{lineId}/void [post]
func (ps *POSService) VoidLine(w http.ResponseWriter, r *http.Request) {
	var req VoidRequest

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := ps.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	req.SaleID = chi.URLParam(r, "saleId")
	req.LineID = chi.URLParam(r, "lineId")
	req.ActorID, _ = r.Context().Value("userID").(string)

	log.Printf("[POS] Void request: sale %s line %s qty %d by %s", req.SaleID, req.LineID, req.Quantity, req.ActorID)

	result, err := ps.ledger.VoidLine(req)
	if err != nil {
		ps.writeLedgerError(w, err)
		return
	}

	var accountID string
	if err := ps.db.QueryRow(`SELECT account_id FROM sales WHERE id = $1`, req.SaleID).Scan(&accountID); err == nil {
		go ps.notifier.RefundNotice(accountID, req.SaleID, result.Refund)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// GetSale retrieves a sale with its lines
// @Summary Get sale by ID
// @Tags sales
// @Produce json
// @Param saleId path string true "Sale ID"
// @Success 200 {object} models.Sale
// @Failure 404 {object} ErrorResponse
// @Router /sales/{saleId} [get]
func (ps *POSService) GetSale(w http.ResponseWriter, r *http.Request) {
	saleID := chi.URLParam(r, "saleId")

	sale, _, err := ps.ledger.loadSale(saleID)
	if err != nil {
		if errors.Is(err, ErrSaleNotFound) {
			SendErrorResponse(w, "Sale not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[POS] Failed to fetch sale %s: %v", saleID, err)
			SendErrorResponse(w, "Failed to fetch sale", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sale)
}

// ListSales retrieves sales with optional filters
// @Summary List sales
// @Description List sales filtered by account or status, newest first
// @Tags sales
// @Produce json
// @Param accountId query string false "Filter by account ID"
// @Param status query string false "Filter by status (NORMAL or VOID)"
// @Param limit query int false "Max rows (default 50)"
// @Success 200 {object} object{sales=[]models.Sale,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /sales [get]
func (ps *POSService) ListSales(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("accountId")
	status := r.URL.Query().Get("status")
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 200 {
			limit = l
		}
	}

	sales, err := ps.fetchSales(accountID, status, limit)
	if err != nil {
		log.Printf("[POS] Failed to list sales: %v", err)
		SendErrorResponse(w, "Failed to fetch sales", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"sales": sales,
		"count": len(sales),
	})
}

// RecentSales retrieves the authenticated cashier's recent sales
// @Summary Recent sales for this cashier
// @Tags sales
// @Produce json
// @Param limit query int false "Number of sales to return (default: 10, max: 100)"
// @Success 200 {array} models.Sale
// @Failure 401 {object} ErrorResponse
// @Router /sales/recent [get]
func (ps *POSService) RecentSales(w http.ResponseWriter, r *http.Request) {
	cashierID, ok := r.Context().Value("userID").(string)
	if !ok || cashierID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 10
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l >= 1 && l <= 100 {
			limit = l
		}
	}

	sales, err := ps.fetchSales("", "", limit, cashierID)
	if err != nil {
		log.Printf("[POS] Failed to fetch recent sales for %s: %v", cashierID, err)
		SendErrorResponse(w, "Failed to fetch recent sales", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sales)
}

func (ps *POSService) fetchSales(accountID, status string, limit int, cashierID ...string) ([]models.Sale, error) {
	var conditions []string
	var args []interface{}
	argIndex := 1

	baseQuery := `
		SELECT id, request_id, account_id, total, status, cashier_id, created_at
		FROM sales`

	if accountID != "" {
		conditions = append(conditions, fmt.Sprintf("account_id = $%d", argIndex))
		args = append(args, accountID)
		argIndex++
	}
	if status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, status)
		argIndex++
	}
	if len(cashierID) > 0 && cashierID[0] != "" {
		conditions = append(conditions, fmt.Sprintf("cashier_id = $%d", argIndex))
		args = append(args, cashierID[0])
		argIndex++
	}

	query := baseQuery
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIndex)
	args = append(args, limit)

	rows, err := ps.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := []models.Sale{}
	for rows.Next() {
		var sale models.Sale
		var createdAt time.Time
		err := rows.Scan(&sale.ID, &sale.RequestID, &sale.AccountID, &sale.Total, &sale.Status, &sale.CashierID, &createdAt)
		if err != nil {
			return nil, err
		}
		sale.CreatedAt = createdAt
		sales = append(sales, sale)
	}

	return sales, rows.Err()
}

func (ps *POSService) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		SendErrorResponse(w, "Insufficient balance", http.StatusPaymentRequired, nil)
	case errors.Is(err, ErrDailyLimitExceeded):
		SendErrorResponse(w, "Daily spending limit exceeded", http.StatusUnprocessableEntity, nil)
	case errors.Is(err, ErrLineVoided):
		SendErrorResponse(w, "Line already voided", http.StatusConflict, nil)
	case errors.Is(err, ErrDuplicateRequest):
		SendErrorResponse(w, "Duplicate request", http.StatusConflict, nil)
	case errors.Is(err, ErrEmptyCart), errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrTotalMismatch):
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, ErrAccountInactive):
		SendErrorResponse(w, "Account not active", http.StatusForbidden, nil)
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrSaleNotFound),
		errors.Is(err, ErrLineNotFound), errors.Is(err, ErrItemNotFound):
		SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	default:
		// Store or transport failure. The client may retry with the same
		// requestId; the ledger deduplicates.
		log.Printf("[POS] Store failure: %v", err)
		SendErrorResponse(w, "Store unavailable, retry with the same requestId", http.StatusServiceUnavailable, nil)
	}
}
