package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/campuspay/backend/internal/audit"
	"github.com/campuspay/backend/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Canteen menu categories. New categories are a code change, not a
// runtime concern.
var menuCategories = []string{
	"Rice Meals",
	"Noodles",
	"Sandwiches",
	"Snacks",
	"Drinks",
	"Desserts",
	"School Supplies",
}

// CatalogService manages the canteen menu. Items are retired rather than
// deleted; sale lines snapshot name and price so edits here never touch
// past receipts.
type CatalogService struct {
	db        *sql.DB
	audit     *audit.Logger
	validator *ValidationHelper
}

func NewCatalogService(db *sql.DB) *CatalogService {
	return &CatalogService{
		db:        db,
		audit:     audit.NewLogger(db),
		validator: NewValidationHelper(),
	}
}

type ItemRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Price    int64  `json:"price" validate:"required,gt=0"`
	Category string `json:"category" validate:"required"`
	ImageURL string `json:"imageUrl" validate:"omitempty,max=300"`
}

// GetCategories returns the menu categories
// @Summary List menu categories
// @Tags catalog
// @Produce json
// @Success 200 {array} string
// @Router /catalog/categories [get]
func (cs *CatalogService) GetCategories(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	json.NewEncoder(w).Encode(menuCategories)
}

// ListItems returns menu items, optionally filtered by category
// @Summary List menu items
// @Tags catalog
// @Produce json
// @Param category query string false "Filter by category"
// @Param includeRetired query bool false "Include retired items"
// @Success 200 {object} object{items=[]models.CatalogItem,count=int}
// @Router /catalog/items [get]
func (cs *CatalogService) ListItems(w http.ResponseWriter, r *http.Request) {
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	includeRetired := r.URL.Query().Get("includeRetired") == "true"

	query := `SELECT id, name, price, category, status, image_url, updated_at FROM items`
	var conditions []string
	var args []interface{}
	if !includeRetired {
		conditions = append(conditions, `status = 'ACTIVE'`)
	}
	if category != "" {
		args = append(args, category)
		conditions = append(conditions, `category = $1`)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY category, name"

	rows, err := cs.db.Query(query, args...)
	if err != nil {
		log.Printf("[CATALOG] Failed to list items: %v", err)
		SendErrorResponse(w, "Failed to fetch items", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	items := []models.CatalogItem{}
	for rows.Next() {
		var item models.CatalogItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Price, &item.Category, &item.Status, &item.ImageURL, &item.UpdatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch items", http.StatusInternalServerError, nil)
			return
		}
		items = append(items, item)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

// CreateItem adds a menu item
// @Summary Create menu item
// @Tags catalog
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ItemRequest true "Item data"
// @Success 201 {object} models.CatalogItem
// @Failure 400 {object} ErrorResponse
// @Router /catalog/items [post]
func (cs *CatalogService) CreateItem(w http.ResponseWriter, r *http.Request) {
	req, ok := cs.decodeItemRequest(w, r)
	if !ok {
		return
	}

	item := models.CatalogItem{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Price:     req.Price,
		Category:  req.Category,
		Status:    models.ItemStatusActive,
		ImageURL:  req.ImageURL,
		UpdatedAt: time.Now(),
	}

	_, err := cs.db.Exec(`
		INSERT INTO items (id, name, price, category, status, image_url, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		item.ID, item.Name, item.Price, item.Category, item.Status, item.ImageURL, item.UpdatedAt)
	if err != nil {
		log.Printf("[CATALOG] Failed to create item %s: %v", req.Name, err)
		SendErrorResponse(w, "Failed to create item", http.StatusInternalServerError, nil)
		return
	}

	actorID, _ := r.Context().Value("userID").(string)
	cs.audit.RecordAction(actorID, "ITEM_CREATE", "item "+item.ID+" ("+item.Name+")")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(item)
}

// UpdateItem edits a menu item's name, price or category
// @Summary Update menu item
// @Description Update an item. Past sale lines keep their captured price.
// @Tags catalog
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param itemId path string true "Item ID"
// @Param request body ItemRequest true "Item data"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /catalog/items/{itemId} [put]
func (cs *CatalogService) UpdateItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemId")

	req, ok := cs.decodeItemRequest(w, r)
	if !ok {
		return
	}

	result, err := cs.db.Exec(`
		UPDATE items SET name = $1, price = $2, category = $3, image_url = $4, updated_at = $5
		WHERE id = $6`,
		req.Name, req.Price, req.Category, req.ImageURL, time.Now(), itemID)
	if err != nil {
		log.Printf("[CATALOG] Failed to update item %s: %v", itemID, err)
		SendErrorResponse(w, "Failed to update item", http.StatusInternalServerError, nil)
		return
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		SendErrorResponse(w, "Item not found", http.StatusNotFound, nil)
		return
	}

	actorID, _ := r.Context().Value("userID").(string)
	cs.audit.RecordAction(actorID, "ITEM_UPDATE", "item "+itemID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "updated"})
}

// RetireItem takes an item off the menu
// @Summary Retire menu item
// @Description Mark an item retired so new sales cannot reference it.
// @Tags catalog
// @Produce json
// @Security BearerAuth
// @Param itemId path string true "Item ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /catalog/items/{itemId} [delete]
func (cs *CatalogService) RetireItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemId")

	result, err := cs.db.Exec(`
		UPDATE items SET status = $1, updated_at = $2 WHERE id = $3`,
		models.ItemStatusRetired, time.Now(), itemID)
	if err != nil {
		log.Printf("[CATALOG] Failed to retire item %s: %v", itemID, err)
		SendErrorResponse(w, "Failed to retire item", http.StatusInternalServerError, nil)
		return
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		SendErrorResponse(w, "Item not found", http.StatusNotFound, nil)
		return
	}

	actorID, _ := r.Context().Value("userID").(string)
	cs.audit.RecordAction(actorID, "ITEM_RETIRE", "item "+itemID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "retired"})
}

func (cs *CatalogService) decodeItemRequest(w http.ResponseWriter, r *http.Request) (*ItemRequest, bool) {
	var req ItemRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return nil, false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return nil, false
	}

	if err := cs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return nil, false
	}

	validCategory := false
	for _, c := range menuCategories {
		if c == req.Category {
			validCategory = true
			break
		}
	}
	if !validCategory {
		SendErrorResponse(w, "Unknown category", http.StatusBadRequest, nil)
		return nil, false
	}

	return &req, true
}
