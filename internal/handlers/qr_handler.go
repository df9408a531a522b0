package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/campuspay/backend/internal/services"
)

type QRHandler struct {
	service   *services.QRService
	validator *services.ValidationHelper
}

func NewQRHandler(service *services.QRService) *QRHandler {
	return &QRHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// GeneratePass issues a QR pass for card-less checkout
// @Summary Generate QR pass
// @Description Issue a single-use QR pass that identifies the account at the till. Expires after 5 minutes.
// @Tags QR
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{accountId=string} true "Pass request"
// @Success 200 {object} object{pass=string,qrImage=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /qr/pass [post]
func (h *QRHandler) GeneratePass(w http.ResponseWriter, r *http.Request) {
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

	pass, qrImage, err := h.service.GeneratePass(r.Context(), req.AccountID)
	if errors.Is(err, services.ErrPassServiceDown) {
		services.SendErrorResponse(w, err.Error(), http.StatusServiceUnavailable, nil)
		return
	}
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"pass":    pass,
		"qrImage": qrImage,
	})
}

// RedeemPass resolves a scanned pass at the POS terminal
// @Summary Redeem QR pass
// @Description Resolve a scanned pass to its account. The pass is consumed and cannot be scanned twice.
// @Tags QR
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{pass=string} true "Scanned pass data"
// @Success 200 {object} object{accountId=string,accountName=string}
// @Failure 400 {object} services.ErrorResponse
// @Router /qr/redeem [post]
func (h *QRHandler) RedeemPass(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pass string `json:"pass" validate:"required"`
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

	result, err := h.service.RedeemPass(r.Context(), req.Pass)
	if errors.Is(err, services.ErrPassServiceDown) {
		services.SendErrorResponse(w, err.Error(), http.StatusServiceUnavailable, nil)
		return
	}
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data":    result,
	})
}
