// Package calllogs exposes the tenant's call history.
package calllogs

import (
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/voxbridge-ai/voxbridge/backend/internal/middleware"
	"github.com/voxbridge-ai/voxbridge/backend/internal/model/calllog"
	"github.com/voxbridge-ai/voxbridge/backend/pkg/utils"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type Handler struct {
	db *gorm.DB
}

func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// RegisterRoutes mounts the listing under the authenticated group.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/call-logs", h.list)
}

// list returns the caller's calls, newest first. agent_id narrows to one
// agent; limit caps the page size.
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)

	limit := defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			utils.RespondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
		if limit > maxPageSize {
			limit = maxPageSize
		}
	}

	query := h.db.WithContext(r.Context()).Where("user_id = ?", userID)
	if raw := r.URL.Query().Get("agent_id"); raw != "" {
		agentID, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid agent_id")
			return
		}
		query = query.Where("agent_id = ?", uint(agentID))
	}

	logs := make([]calllog.CallLog, 0, limit)
	if err := query.Order("timestamp DESC").Limit(limit).Find(&logs).Error; err != nil {
		log.Printf("[calllogs] list failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to list call logs")
		return
	}
	utils.RespondJSON(w, http.StatusOK, logs)
}
