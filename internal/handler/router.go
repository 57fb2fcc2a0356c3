// Package handler assembles the HTTP surface.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/voxbridge-ai/voxbridge/backend/internal/handler/agents"
	"github.com/voxbridge-ai/voxbridge/backend/internal/handler/agentws"
	"github.com/voxbridge-ai/voxbridge/backend/internal/handler/authapi"
	"github.com/voxbridge-ai/voxbridge/backend/internal/handler/calllogs"
	"github.com/voxbridge-ai/voxbridge/backend/internal/handler/dashboard"
	"github.com/voxbridge-ai/voxbridge/backend/internal/middleware"
	"github.com/voxbridge-ai/voxbridge/backend/internal/service/auth"
	"github.com/voxbridge-ai/voxbridge/backend/pkg/utils"
)

// Dependencies lists everything the router mounts.
type Dependencies struct {
	Auth      *auth.Service
	AuthAPI   *authapi.Handler
	Agents    *agents.Handler
	CallLogs  *calllogs.Handler
	Dashboard *dashboard.Handler
	Voice     *agentws.Handler
}

// NewRouter wires middleware and routes. The voice endpoint stays outside the
// JWT group: telephony bridges and browser audio clients connect with just an
// agent ID, matching the public dial-in nature of a phone call.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		deps.AuthAPI.RegisterRoutes(r)
		deps.Voice.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(deps.Auth))
			deps.Agents.RegisterRoutes(r)
			deps.CallLogs.RegisterRoutes(r)
			deps.Dashboard.RegisterRoutes(r)
		})
	})

	return r
}
