package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

func validCheckoutRequest() CheckoutRequest {
	return CheckoutRequest{
		RequestID: "b1e7c3a0-5f2d-4e8b-9c1a-7d6e5f4a3b2c",
		AccountID: "1234567890",
		Lines: []CheckoutLine{
			{ItemID: "item-1", Quantity: 2},
		},
		ExpectedTotal: 9000,
	}
}

func TestValidationHelper_CheckoutRequest(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid cart passes", func(t *testing.T) {
		err := vh.ValidateStruct(validCheckoutRequest())
		assert.NoError(t, err)
	})

	t.Run("requestId must be a uuid4", func(t *testing.T) {
		req := validCheckoutRequest()
		req.RequestID = "not-a-uuid"

		err := vh.ValidateStruct(req)
		assert.Error(t, err)

		var fieldErrs validator.ValidationErrors
		assert.ErrorAs(t, err, &fieldErrs)
		assert.Len(t, fieldErrs, 1)
		assert.Equal(t, "RequestID", fieldErrs[0].Field())
		assert.Equal(t, "uuid4", fieldErrs[0].Tag())
	})

	t.Run("empty cart rejected", func(t *testing.T) {
		req := validCheckoutRequest()
		req.Lines = []CheckoutLine{}

		err := vh.ValidateStruct(req)
		assert.Error(t, err)

		var fieldErrs validator.ValidationErrors
		assert.ErrorAs(t, err, &fieldErrs)
		assert.Equal(t, "min", fieldErrs[0].Tag())
	})

	t.Run("line quantity must be at least one", func(t *testing.T) {
		req := validCheckoutRequest()
		req.Lines[0].Quantity = 0

		err := vh.ValidateStruct(req)
		assert.Error(t, err)

		var fieldErrs validator.ValidationErrors
		assert.ErrorAs(t, err, &fieldErrs)
		assert.Equal(t, "Quantity", fieldErrs[0].Field())
	})

	t.Run("negative expected total rejected", func(t *testing.T) {
		req := validCheckoutRequest()
		req.ExpectedTotal = -1

		err := vh.ValidateStruct(req)
		assert.Error(t, err)

		var fieldErrs validator.ValidationErrors
		assert.ErrorAs(t, err, &fieldErrs)
		assert.Equal(t, "gte", fieldErrs[0].Tag())
	})
}

func TestValidationHelper_VoidRequest(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("quantity and short reason pass", func(t *testing.T) {
		err := vh.ValidateStruct(VoidRequest{Quantity: 1, Reason: "wrong item"})
		assert.NoError(t, err)
	})

	t.Run("zero quantity rejected", func(t *testing.T) {
		err := vh.ValidateStruct(VoidRequest{Quantity: 0})
		assert.Error(t, err)

		var fieldErrs validator.ValidationErrors
		assert.ErrorAs(t, err, &fieldErrs)
		assert.Equal(t, "Quantity", fieldErrs[0].Field())
	})

	t.Run("reason capped at 200 characters", func(t *testing.T) {
		err := vh.ValidateStruct(VoidRequest{
			Quantity: 1,
			Reason:   strings.Repeat("x", 201),
		})
		assert.Error(t, err)

		var fieldErrs validator.ValidationErrors
		assert.ErrorAs(t, err, &fieldErrs)
		assert.Equal(t, "Reason", fieldErrs[0].Field())
		assert.Equal(t, "max", fieldErrs[0].Tag())
	})
}

func TestValidationHelper_ItemRequest(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid item passes", func(t *testing.T) {
		err := vh.ValidateStruct(ItemRequest{
			Name:     "Chicken Adobo Rice",
			Price:    7500,
			Category: "Rice Meals",
		})
		assert.NoError(t, err)
	})

	t.Run("single character name rejected", func(t *testing.T) {
		err := vh.ValidateStruct(ItemRequest{
			Name:     "A",
			Price:    7500,
			Category: "Rice Meals",
		})
		assert.Error(t, err)

		var fieldErrs validator.ValidationErrors
		assert.ErrorAs(t, err, &fieldErrs)
		assert.Equal(t, "Name", fieldErrs[0].Field())
		assert.Equal(t, "min", fieldErrs[0].Tag())
	})

	t.Run("zero price rejected", func(t *testing.T) {
		err := vh.ValidateStruct(ItemRequest{
			Name:     "Chicken Adobo Rice",
			Price:    0,
			Category: "Rice Meals",
		})
		assert.Error(t, err)

		var fieldErrs validator.ValidationErrors
		assert.ErrorAs(t, err, &fieldErrs)
		assert.Equal(t, "Price", fieldErrs[0].Field())
	})
}

func TestSendErrorResponse(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("plain error without details", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "Account not found", resp.Error)
		assert.Empty(t, resp.Details)
	})

	t.Run("validation failure lists offending fields", func(t *testing.T) {
		req := CheckoutRequest{RequestID: "nope", ExpectedTotal: -5}
		err := vh.ValidateStruct(req)
		assert.Error(t, err)

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "Validation failed", resp.Error)
		assert.Contains(t, resp.Details, "RequestID")
		assert.Contains(t, resp.Details, "AccountID")
		assert.Contains(t, resp.Details, "Lines")
		assert.Contains(t, resp.Details, "ExpectedTotal")
		assert.Contains(t, resp.Details["RequestID"], "uuid4")
	})

	t.Run("non validation error keeps details empty", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Store unavailable", http.StatusServiceUnavailable, assert.AnError)

		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "Store unavailable", resp.Error)
		assert.Empty(t, resp.Details)
	})
}
