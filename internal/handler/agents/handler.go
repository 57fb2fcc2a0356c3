// Package agents exposes the tenant-scoped agent management API plus a
// text-mode chat surface for trying an agent out without a voice client.
package agents

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/voxbridge-ai/voxbridge/backend/internal/middleware"
	"github.com/voxbridge-ai/voxbridge/backend/internal/model/agent"
	"github.com/voxbridge-ai/voxbridge/backend/internal/service/brain"
	"github.com/voxbridge-ai/voxbridge/backend/internal/service/memory"
	"github.com/voxbridge-ai/voxbridge/backend/pkg/utils"
)

// Handler manages agent profiles and serves stateless text chat.
type Handler struct {
	store  agent.Store
	engine *brain.Engine
	memory *memory.Memory
}

// NewHandler builds the handler. engine may be nil when model credentials are
// absent; chat endpoints then answer 503.
func NewHandler(store agent.Store, engine *brain.Engine, mem *memory.Memory) *Handler {
	return &Handler{store: store, engine: engine, memory: mem}
}

// RegisterRoutes mounts the agent API under the authenticated router group.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/agents", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{agentID}", h.get)
		r.Put("/{agentID}", h.update)
		r.Delete("/{agentID}", h.delete)
		r.Post("/{agentID}/chat", h.chat)
		r.Post("/{agentID}/chat/stream", h.chatStream)
	})
}

type agentRequest struct {
	Name         string              `json:"name"`
	SystemPrompt string              `json:"system_prompt"`
	Language     string              `json:"language"`
	VoiceName    string              `json:"voice_name"`
	IsActive     *bool               `json:"is_active"`
	Config       agent.Configuration `json:"configuration"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		utils.RespondError(w, http.StatusBadRequest, "name is required")
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	profile := &agent.Profile{
		UserID:       middleware.UserID(r),
		Name:         strings.TrimSpace(req.Name),
		SystemPrompt: req.SystemPrompt,
		Language:     req.Language,
		VoiceName:    req.VoiceName,
		IsActive:     active,
		Config:       req.Config,
	}
	if profile.Language == "" {
		profile.Language = "en-US"
	}

	if err := h.store.Create(r.Context(), profile); err != nil {
		log.Printf("[agents] create failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to create agent")
		return
	}
	utils.RespondJSON(w, http.StatusCreated, profile)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.store.ListByUser(r.Context(), middleware.UserID(r))
	if err != nil {
		log.Printf("[agents] list failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}
	utils.RespondJSON(w, http.StatusOK, profiles)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.ownedProfile(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, profile)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.ownedProfile(w, r)
	if !ok {
		return
	}

	var req agentRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Name) != "" {
		profile.Name = strings.TrimSpace(req.Name)
	}
	if req.SystemPrompt != "" {
		profile.SystemPrompt = req.SystemPrompt
	}
	if req.Language != "" {
		profile.Language = req.Language
	}
	if req.VoiceName != "" {
		profile.VoiceName = req.VoiceName
	}
	if req.IsActive != nil {
		profile.IsActive = *req.IsActive
	}
	if req.Config != nil {
		profile.Config = req.Config
	}

	if err := h.store.Update(r.Context(), profile); err != nil {
		log.Printf("[agents] update failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to update agent")
		return
	}
	utils.RespondJSON(w, http.StatusOK, profile)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseAgentID(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	if err := h.store.Delete(r.Context(), id, middleware.UserID(r)); err != nil {
		if errors.Is(err, agent.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "agent not found")
			return
		}
		log.Printf("[agents] delete failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to delete agent")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type chatRequest struct {
	Message string `json:"message"`
}

// chat answers a single message without touching session history. The agent's
// long-term tenant context still applies, so a text probe sees the same
// personality as a voice call.
func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	profile, req, ok := h.chatSetup(w, r)
	if !ok {
		return
	}

	decision, err := h.engine.Decide(r.Context(), brain.Request{
		UserText: req.Message,
		Profile:  profile,
		Extra:    h.memory.GetTenantContext(r.Context(), profile.TenantKey()),
	})
	if err != nil {
		log.Printf("[agents] chat failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "chat failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"response": decision.Response,
		"intent":   string(decision.Intent),
	})
}

// chatStream streams the reply as SSE deltas and ends with a [DONE] sentinel.
func (h *Handler) chatStream(w http.ResponseWriter, r *http.Request) {
	profile, req, ok := h.chatSetup(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	stream, err := h.engine.Stream(r.Context(), brain.Request{
		UserText: req.Message,
		Profile:  profile,
		Extra:    h.memory.GetTenantContext(r.Context(), profile.TenantKey()),
	})
	if err != nil {
		log.Printf("[agents] chat stream failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "chat failed")
		return
	}
	defer stream.Close()

	utils.SetupSSEHeaders(w)

	for {
		message, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Printf("[agents] chat stream interrupted: %v", err)
			break
		}
		if message.Content == "" {
			continue
		}
		utils.SendSSEChunk(w, flusher, map[string]string{"delta": message.Content})
	}

	utils.SendSSEChunk(w, flusher, "[DONE]")
}

func (h *Handler) chatSetup(w http.ResponseWriter, r *http.Request) (*agent.Profile, chatRequest, bool) {
	if h.engine == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "decision engine is not configured")
		return nil, chatRequest{}, false
	}

	profile, ok := h.ownedProfile(w, r)
	if !ok {
		return nil, chatRequest{}, false
	}

	var req chatRequest
	if err := utils.DecodeJSON(r, &req); err != nil || strings.TrimSpace(req.Message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return nil, chatRequest{}, false
	}
	return profile, req, true
}

// ownedProfile loads the path agent and checks it belongs to the caller.
// Foreign agents read as 404, not 403, so agent IDs do not leak across
// tenants.
func (h *Handler) ownedProfile(w http.ResponseWriter, r *http.Request) (*agent.Profile, bool) {
	id, err := parseAgentID(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid agent id")
		return nil, false
	}

	profile, err := h.store.FindByID(r.Context(), id)
	if err != nil || profile.UserID != middleware.UserID(r) {
		utils.RespondError(w, http.StatusNotFound, "agent not found")
		return nil, false
	}
	return profile, true
}

func parseAgentID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "agentID"), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
