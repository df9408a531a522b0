package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/campuspay/backend/internal/models"
	"github.com/campuspay/backend/internal/services"
	"github.com/go-chi/chi/v5"
)

type TopUpHandler struct {
	db        *sql.DB
	ledger    *services.LedgerService
	notifier  *services.ReceiptNotifier
	validator *services.ValidationHelper
}

func NewTopUpHandler(db *sql.DB, ledger *services.LedgerService, notifier *services.ReceiptNotifier) *TopUpHandler {
	return &TopUpHandler{
		db:        db,
		ledger:    ledger,
		notifier:  notifier,
		validator: services.NewValidationHelper(),
	}
}

// TopUp credits an account from the parent portal or the admin desk
// @Summary Top up an account
// @Description Credit the account balance. Parents may top up their linked accounts via PORTAL; staff handle CASH at the desk. Replays of the same requestId return the original result.
// @Tags accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param accountId path string true "Account ID"
// @Param request body services.TopUpRequest true "Top-up details"
// @Success 200 {object} services.TopUpResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /accounts/{accountId}/topup [post]
func (h *TopUpHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	actorID, ok := r.Context().Value("userID").(string)
	if !ok || actorID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req services.TopUpRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	req.AccountID = chi.URLParam(r, "accountId")
	req.ActorID = actorID

	// Parents reach only the accounts linked to their login, and only
	// through the PORTAL channel. CASH stays behind the staff roles.
	role, _ := r.Context().Value("userRole").(string)
	if role == models.RoleParent {
		if req.Channel != "PORTAL" {
			services.SendErrorResponse(w, "Channel not available", http.StatusForbidden, nil)
			return
		}
		var linked bool
		err := h.db.QueryRow(`
			SELECT EXISTS(SELECT 1 FROM account_parents WHERE account_id = $1 AND parent_user_id = $2)`,
			req.AccountID, actorID).Scan(&linked)
		if err != nil {
			log.Printf("[TOPUP] Link check failed for account %s: %v", req.AccountID, err)
			services.SendErrorResponse(w, "Store unavailable, retry with the same requestId", http.StatusServiceUnavailable, nil)
			return
		}
		if !linked {
			services.SendErrorResponse(w, "Account not linked to this user", http.StatusForbidden, nil)
			return
		}
	}

	log.Printf("[TOPUP] Request %s: account %s, amount %d via %s", req.RequestID, req.AccountID, req.Amount, req.Channel)

	result, err := h.ledger.TopUp(req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAccountNotFound):
			services.SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		case errors.Is(err, services.ErrAccountInactive):
			services.SendErrorResponse(w, "Account not active", http.StatusForbidden, nil)
		case errors.Is(err, services.ErrDuplicateRequest):
			services.SendErrorResponse(w, "Duplicate request", http.StatusConflict, nil)
		case errors.Is(err, services.ErrInvalidQuantity):
			services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		default:
			log.Printf("[TOPUP] Store failure: %v", err)
			services.SendErrorResponse(w, "Store unavailable, retry with the same requestId", http.StatusServiceUnavailable, nil)
		}
		return
	}

	if !result.Replayed {
		go h.notifier.TopUpConfirmation(req.AccountID, req.Amount)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
