package services

import (
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"time"

	"github.com/campuspay/backend/internal/audit"
	"github.com/campuspay/backend/internal/models"
	"github.com/go-chi/chi/v5"
)

// CardService manages RFID card lifecycle. A card starts PROVISIONED,
// becomes ACTIVE once the activation code printed on the carrier letter
// is confirmed, and can be SUSPENDED (lost card) and reinstated. Only
// ACTIVE cards resolve at the till.
type CardService struct {
	db        *sql.DB
	audit     *audit.Logger
	validator *ValidationHelper
}

type RegisterCardRequest struct {
	CardUID   string `json:"cardUid" validate:"required,min=8,max=32,alphanum"`
	AccountID string `json:"accountId" validate:"required,len=10,numeric"`
}

type ActivateCardRequest struct {
	CardUID        string `json:"cardUid" validate:"required"`
	ActivationCode string `json:"activationCode" validate:"required,len=6,numeric"`
}

func NewCardService(db *sql.DB) *CardService {
	return &CardService{
		db:        db,
		audit:     audit.NewLogger(db),
		validator: NewValidationHelper(),
	}
}

// RegisterCard links a blank RFID card to an account
// @Summary Register a new card
// @Description Bind a physical card UID to an account. Any existing ACTIVE card on the account is suspended.
// @Tags cards
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body RegisterCardRequest true "Card registration data"
// @Success 201 {object} object{cardUid=string,status=string,activationCode=string}
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /cards [post]
func (cs *CardService) RegisterCard(w http.ResponseWriter, r *http.Request) {
	var req RegisterCardRequest
	if !cs.decodeCardRequest(w, r, &req) {
		return
	}

	var exists bool
	if err := cs.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM cards WHERE card_uid = $1)`, req.CardUID).Scan(&exists); err != nil {
		SendErrorResponse(w, "Card registration failed", http.StatusInternalServerError, nil)
		return
	}
	if exists {
		SendErrorResponse(w, "Card is already registered", http.StatusConflict, nil)
		return
	}

	var accountStatus string
	err := cs.db.QueryRow(`SELECT status FROM accounts WHERE account_id = $1`, req.AccountID).Scan(&accountStatus)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Card registration failed", http.StatusInternalServerError, nil)
		return
	}

	tx, err := cs.db.Begin()
	if err != nil {
		SendErrorResponse(w, "Card registration failed", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	// One ACTIVE card per account: registering a replacement suspends
	// the previous card immediately.
	_, err = tx.Exec(`
		UPDATE cards SET status = $1, suspended_at = $2
		WHERE account_id = $3 AND status = $4`,
		models.CardStatusSuspended, time.Now(), req.AccountID, models.CardStatusActive)
	if err != nil {
		SendErrorResponse(w, "Card registration failed", http.StatusInternalServerError, nil)
		return
	}

	activationCode := generateActivationCode()
	_, err = tx.Exec(`
		INSERT INTO cards (card_uid, account_id, status, activation_code, issued_at)
		VALUES ($1, $2, $3, $4, $5)`,
		req.CardUID, req.AccountID, models.CardStatusProvisioned, activationCode, time.Now())
	if err != nil {
		log.Printf("[CARD] Failed to register card %s: %v", req.CardUID, err)
		SendErrorResponse(w, "Card registration failed", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		SendErrorResponse(w, "Card registration failed", http.StatusInternalServerError, nil)
		return
	}

	actorID, _ := r.Context().Value("userID").(string)
	cs.audit.RecordAction(actorID, "CARD_REGISTER", "card "+req.CardUID+" for account "+req.AccountID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{
		"cardUid":        req.CardUID,
		"status":         models.CardStatusProvisioned,
		"activationCode": activationCode,
	})
}

// ActivateCard confirms the activation code and makes the card usable
// @Summary Activate card
// @Tags cards
// @Accept json
// @Produce json
// @Param request body ActivateCardRequest true "Activation data"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /cards/activate [post]
func (cs *CardService) ActivateCard(w http.ResponseWriter, r *http.Request) {
	var req ActivateCardRequest
	if !cs.decodeCardRequest(w, r, &req) {
		return
	}

	var status, code string
	err := cs.db.QueryRow(`
		SELECT status, activation_code FROM cards WHERE card_uid = $1`,
		req.CardUID).Scan(&status, &code)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Card not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Card activation failed", http.StatusInternalServerError, nil)
		return
	}

	if status != models.CardStatusProvisioned {
		SendErrorResponse(w, "Card is not awaiting activation", http.StatusConflict, nil)
		return
	}
	if code != req.ActivationCode {
		SendErrorResponse(w, "Invalid activation code", http.StatusBadRequest, nil)
		return
	}

	_, err = cs.db.Exec(`
		UPDATE cards SET status = $1, activated_at = $2 WHERE card_uid = $3`,
		models.CardStatusActive, time.Now(), req.CardUID)
	if err != nil {
		log.Printf("[CARD] Failed to activate card %s: %v", req.CardUID, err)
		SendErrorResponse(w, "Card activation failed", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"cardUid": req.CardUID, "status": models.CardStatusActive})
}

// GetCard retrieves card information
// @Summary Get card details
// @Tags cards
// @Produce json
// @Security BearerAuth
// @Param cardUid path string true "Card UID"
// @Success 200 {object} models.Card
// @Failure 404 {object} ErrorResponse
// @Router /cards/{cardUid} [get]
func (cs *CardService) GetCard(w http.ResponseWriter, r *http.Request) {
	cardUID := chi.URLParam(r, "cardUid")

	var card models.Card
	err := cs.db.QueryRow(`
		SELECT card_uid, account_id, status, issued_at, activated_at, suspended_at
		FROM cards WHERE card_uid = $1`, cardUID).Scan(
		&card.CardUID, &card.AccountID, &card.Status, &card.IssuedAt, &card.ActivatedAt, &card.SuspendedAt)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Card not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch card", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(card)
}

// SuspendCard blocks a card from resolving at the till
// @Summary Suspend card
// @Description Suspend a lost or withheld card. The account and balance are untouched.
// @Tags cards
// @Produce json
// @Security BearerAuth
// @Param cardUid path string true "Card UID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /cards/{cardUid}/suspend [put]
func (cs *CardService) SuspendCard(w http.ResponseWriter, r *http.Request) {
	cs.setCardStatus(w, r, models.CardStatusSuspended, "CARD_SUSPEND")
}

// ReinstateCard reactivates a suspended card
// @Summary Reinstate card
// @Tags cards
// @Produce json
// @Security BearerAuth
// @Param cardUid path string true "Card UID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /cards/{cardUid}/reinstate [put]
func (cs *CardService) ReinstateCard(w http.ResponseWriter, r *http.Request) {
	cs.setCardStatus(w, r, models.CardStatusActive, "CARD_REINSTATE")
}

// ResolveCard maps a tapped card UID to its account for the POS terminal
// @Summary Resolve card to account
// @Tags cards
// @Produce json
// @Security BearerAuth
// @Param cardUid path string true "Card UID"
// @Success 200 {object} object{accountId=string,accountName=string}
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /cards/{cardUid}/account [get]
func (cs *CardService) ResolveCard(w http.ResponseWriter, r *http.Request) {
	cardUID := chi.URLParam(r, "cardUid")

	var accountID, accountName, cardStatus string
	err := cs.db.QueryRow(`
		SELECT c.account_id, a.account_name, c.status
		FROM cards c JOIN accounts a ON a.account_id = c.account_id
		WHERE c.card_uid = $1`, cardUID).Scan(&accountID, &accountName, &cardStatus)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Card not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Card lookup failed", http.StatusInternalServerError, nil)
		return
	}

	if cardStatus != models.CardStatusActive {
		SendErrorResponse(w, "Card is not active", http.StatusForbidden, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"accountId":   accountID,
		"accountName": accountName,
	})
}

func (cs *CardService) setCardStatus(w http.ResponseWriter, r *http.Request, status, action string) {
	cardUID := chi.URLParam(r, "cardUid")

	var suspendedAt interface{}
	if status == models.CardStatusSuspended {
		suspendedAt = time.Now()
	}

	result, err := cs.db.Exec(`
		UPDATE cards SET status = $1, suspended_at = $2
		WHERE card_uid = $3 AND status <> $4`,
		status, suspendedAt, cardUID, models.CardStatusProvisioned)
	if err != nil {
		log.Printf("[CARD] Failed to update card %s: %v", cardUID, err)
		SendErrorResponse(w, "Failed to update card", http.StatusInternalServerError, nil)
		return
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		SendErrorResponse(w, "Card not found or not yet activated", http.StatusNotFound, nil)
		return
	}

	actorID, _ := r.Context().Value("userID").(string)
	cs.audit.RecordAction(actorID, action, "card "+cardUID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"cardUid": cardUID, "status": status})
}

func (cs *CardService) decodeCardRequest(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	if err := cs.validator.ValidateStruct(dst); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

func generateActivationCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "000000"
	}
	return fmt.Sprintf("%06d", n.Int64())
}
