package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/campuspay/backend/internal/audit"
	"github.com/go-chi/chi/v5"
)

// AccountService serves account enquiries and the parent-facing limit
// control. Balances are only read here; mutation goes through the ledger.
type AccountService struct {
	db        *sql.DB
	audit     *audit.Logger
	validator *ValidationHelper
}

func NewAccountService(db *sql.DB) *AccountService {
	return &AccountService{
		db:        db,
		audit:     audit.NewLogger(db),
		validator: NewValidationHelper(),
	}
}

var accountIDRegex = regexp.MustCompile(`^[0-9]{10}$`)

func isValidAccountID(s string) bool {
	return accountIDRegex.MatchString(s)
}

// NameEnquiry retrieves the holder name for an account
// @Summary Get account name
// @Description Retrieve the student name for a given account ID or card UID
// @Tags accounts
// @Produce json
// @Param accountId query string true "Account ID or card UID"
// @Success 200 {object} object{responseCode=string,accountId=string,accountName=string,status=string}
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/name-enquiry [get]
func (as *AccountService) NameEnquiry(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(r.URL.Query().Get("accountId"))
	log.Printf("[ACCOUNT] Name enquiry for %s from IP: %s", accountID, r.RemoteAddr)

	if accountID == "" {
		SendErrorResponse(w, "accountId is required", http.StatusBadRequest, nil)
		return
	}

	var accountName, status string
	err := as.db.QueryRow(`
		SELECT a.account_name, a.status FROM accounts a
		LEFT JOIN cards c ON c.account_id = a.account_id
		WHERE a.account_id = $1 OR c.card_uid = $1
		LIMIT 1`, accountID).Scan(&accountName, &status)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[ACCOUNT] Name enquiry failed for %s: %v", accountID, err)
			SendErrorResponse(w, "Enquiry failed", http.StatusInternalServerError, nil)
		}
		return
	}

	if status != "ACTIVE" {
		SendErrorResponse(w, "Account not active", http.StatusForbidden, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"responseCode": "00",
		"accountId":    accountID,
		"accountName":  accountName,
		"status":       "SUCCESS",
	})
}

// BalanceEnquiry retrieves the current balance for an account
// @Summary Get account balance
// @Description Retrieve the prepaid balance for a given account ID or card UID
// @Tags accounts
// @Produce json
// @Param accountId query string true "Account ID or card UID"
// @Success 200 {object} object{responseCode=string,accountId=string,availableBalance=int64,dailyLimit=int64,spentToday=int64,status=string}
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/balance-enquiry [get]
func (as *AccountService) BalanceEnquiry(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(r.URL.Query().Get("accountId"))
	log.Printf("[ACCOUNT] Balance enquiry for %s from IP: %s", accountID, r.RemoteAddr)

	if accountID == "" {
		SendErrorResponse(w, "accountId is required", http.StatusBadRequest, nil)
		return
	}

	var balance, spentToday int64
	var dailyLimit sql.NullInt64
	var status string
	err := as.db.QueryRow(`
		SELECT a.balance, a.daily_limit, a.spent_today, a.status FROM accounts a
		LEFT JOIN cards c ON c.account_id = a.account_id
		WHERE a.account_id = $1 OR c.card_uid = $1
		LIMIT 1`, accountID).Scan(&balance, &dailyLimit, &spentToday, &status)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[ACCOUNT] Balance enquiry failed for %s: %v", accountID, err)
			SendErrorResponse(w, "Enquiry failed", http.StatusInternalServerError, nil)
		}
		return
	}

	if status != "ACTIVE" {
		SendErrorResponse(w, "Account not active", http.StatusForbidden, nil)
		return
	}

	response := map[string]interface{}{
		"responseCode":     "00",
		"accountId":        accountID,
		"availableBalance": balance,
		"spentToday":       spentToday,
		"status":           "SUCCESS",
	}
	if dailyLimit.Valid {
		response["dailyLimit"] = dailyLimit.Int64
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// DailyLimitRequest sets or clears an account's daily spending limit.
type DailyLimitRequest struct {
	DailyLimit *int64 `json:"dailyLimit" validate:"omitempty,gt=0"`
}

// SetDailyLimit updates the daily spending limit
// @Summary Set daily spending limit
// @Description Set or clear (null) the account's daily spending limit
// @Tags accounts
// @Accept json
// @Produce json
// @Param accountId path string true "Account ID"
// @Param request body DailyLimitRequest true "New limit in centavos, null to clear"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId}/daily-limit [put]
func (as *AccountService) SetDailyLimit(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	if !isValidAccountID(accountID) {
		SendErrorResponse(w, "invalid accountId format", http.StatusBadRequest, nil)
		return
	}

	var req DailyLimitRequest

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

	if err := as.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := as.db.Exec(`
		UPDATE accounts SET daily_limit = $1, updated_at = $2 WHERE account_id = $3`,
		req.DailyLimit, time.Now(), accountID)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to set daily limit for %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to update limit", http.StatusInternalServerError, nil)
		return
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}

	actorID, _ := r.Context().Value("userID").(string)
	as.audit.RecordAction(actorID, "SET_DAILY_LIMIT",
		"account "+accountID+" limit updated")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "updated"})
}

// ActivityEntry is one row of the account statement.
type ActivityEntry struct {
	Kind      string    `json:"kind"` // SALE, TOPUP, REFUND
	ID        string    `json:"id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

// Activity retrieves the account statement
// @Summary Account activity
// @Description Sales, top-ups and refunds for the account, newest first
// @Tags accounts
// @Produce json
// @Param accountId path string true "Account ID"
// @Param limit query int false "Max rows (default 50)"
// @Success 200 {object} object{activity=[]ActivityEntry,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /accounts/{accountId}/activity [get]
func (as *AccountService) Activity(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 200 {
			limit = l
		}
	}

	rows, err := as.db.Query(`
		SELECT kind, id, amount, created_at FROM (
			SELECT 'SALE' AS kind, id, total AS amount, created_at FROM sales WHERE account_id = $1
			UNION ALL
			SELECT 'TOPUP', id, amount, created_at FROM topups WHERE account_id = $1
			UNION ALL
			SELECT 'REFUND', v.id, v.amount, v.created_at
			FROM void_records v
			JOIN sales s ON s.id = v.sale_id
			WHERE s.account_id = $1
		) activity
		ORDER BY created_at DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		log.Printf("[ACCOUNT] Activity query failed for %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch activity", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	entries := []ActivityEntry{}
	for rows.Next() {
		var e ActivityEntry
		if err := rows.Scan(&e.Kind, &e.ID, &e.Amount, &e.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch activity", http.StatusInternalServerError, nil)
			return
		}
		entries = append(entries, e)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"activity": entries,
		"count":    len(entries),
	})
}
