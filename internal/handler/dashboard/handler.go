// Package dashboard serves aggregate stats for the operator console.
package dashboard

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/voxbridge-ai/voxbridge/backend/internal/handler/agentws"
	"github.com/voxbridge-ai/voxbridge/backend/internal/middleware"
	"github.com/voxbridge-ai/voxbridge/backend/internal/model/agent"
	"github.com/voxbridge-ai/voxbridge/backend/internal/model/calllog"
	"github.com/voxbridge-ai/voxbridge/backend/pkg/utils"
)

type Handler struct {
	db       *gorm.DB
	registry *agentws.Registry
}

func NewHandler(db *gorm.DB, registry *agentws.Registry) *Handler {
	return &Handler{db: db, registry: registry}
}

// RegisterRoutes mounts the stats endpoint under the authenticated group.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/dashboard/stats", h.stats)
}

type statsResponse struct {
	Agents       int64   `json:"agents"`
	Calls        int64   `json:"calls"`
	TotalSeconds float64 `json:"total_seconds"`
	LiveSessions int     `json:"live_sessions"`
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	var resp statsResponse

	if err := h.db.WithContext(r.Context()).Model(&agent.Profile{}).
		Where("user_id = ?", userID).Count(&resp.Agents).Error; err != nil {
		log.Printf("[dashboard] agent count failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	if err := h.db.WithContext(r.Context()).Model(&calllog.CallLog{}).
		Where("user_id = ?", userID).Count(&resp.Calls).Error; err != nil {
		log.Printf("[dashboard] call count failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	if err := h.db.WithContext(r.Context()).Model(&calllog.CallLog{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(duration), 0)").Scan(&resp.TotalSeconds).Error; err != nil {
		log.Printf("[dashboard] duration sum failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	resp.LiveSessions = h.registry.Count()
	utils.RespondJSON(w, http.StatusOK, resp)
}
