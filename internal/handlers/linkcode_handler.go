package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/campuspay/backend/internal/services"
)

type LinkCodeHandler struct {
	service   *services.LinkCodeService
	validator *services.ValidationHelper
}

func NewLinkCodeHandler(service *services.LinkCodeService) *LinkCodeHandler {
	return &LinkCodeHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// GenerateCode issues a link code for a student account
// @Summary Generate link code
// @Description Issue a single-use code a guardian can redeem to attach their login to a student account
// @Tags linking
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{accountId=string} true "Link code request"
// @Success 200 {object} object{code=string,expiresIn=int}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Failure 500 {object} services.ErrorResponse
// @Router /link/generate [post]
func (h *LinkCodeHandler) GenerateCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		AccountID string `json:"accountId" validate:"required,len=10,numeric"`
	}

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

	code, expiresAt, err := h.service.GenerateCode(r.Context(), userID, req.AccountID)
	if err != nil {
		log.Printf("[LINK] GenerateCode - Service error: %v", err)
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	expiresIn := int(h.service.GetCodeTimeout().Seconds())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":   true,
		"code":      code,
		"expiresAt": expiresAt,
		"expiresIn": expiresIn,
	})
}

// RedeemCode attaches the caller's login to a student account
// @Summary Redeem link code
// @Description Consume a link code. Codes are single-use and expire.
// @Tags linking
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{code=string} true "Code redemption request"
// @Success 200 {object} object{accountId=string}
// @Failure 400 {object} services.ErrorResponse
// @Router /link/redeem [post]
func (h *LinkCodeHandler) RedeemCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Code string `json:"code" validate:"required,numeric"`
	}

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

	accountID, err := h.service.RedeemCode(r.Context(), req.Code, userID)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":   true,
		"accountId": accountID,
	})
}

// LinkedAccounts lists the student accounts attached to the caller
// @Summary List linked accounts
// @Tags linking
// @Produce json
// @Security BearerAuth
// @Success 200 {array} object{accountId=string,accountName=string,balance=int64}
// @Failure 401 {object} services.ErrorResponse
// @Router /link/accounts [get]
func (h *LinkCodeHandler) LinkedAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	accounts, err := h.service.LinkedAccounts(r.Context(), userID)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(accounts)
}
