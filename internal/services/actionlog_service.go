package services

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/campuspay/backend/internal/models"
)

// ActionLogService exposes the audit trail to the admin console.
type ActionLogService struct {
	db *sql.DB
}

func NewActionLogService(db *sql.DB) *ActionLogService {
	return &ActionLogService{db: db}
}

// ListLogs returns recent action log entries
// @Summary List action logs
// @Description Fetch the audit trail, newest first. Admin only.
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param actorId query string false "Filter by actor"
// @Param action query string false "Filter by action type"
// @Param limit query int false "Max entries (default 50, max 500)"
// @Success 200 {object} object{logs=[]models.ActionLog,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /logs [get]
func (als *ActionLogService) ListLogs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	query := `SELECT id, actor_id, action, details, created_at FROM action_logs`
	var conditions []string
	var args []interface{}

	if actorID := r.URL.Query().Get("actorId"); actorID != "" {
		args = append(args, actorID)
		conditions = append(conditions, `actor_id = $`+strconv.Itoa(len(args)))
	}
	if action := r.URL.Query().Get("action"); action != "" {
		args = append(args, action)
		conditions = append(conditions, `action = $`+strconv.Itoa(len(args)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit)
	query += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args))

	rows, err := als.db.Query(query, args...)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch logs", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	logs := []models.ActionLog{}
	for rows.Next() {
		var entry models.ActionLog
		if err := rows.Scan(&entry.ID, &entry.ActorID, &entry.Action, &entry.Details, &entry.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch logs", http.StatusInternalServerError, nil)
			return
		}
		logs = append(logs, entry)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}
