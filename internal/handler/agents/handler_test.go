package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	"github.com/voxbridge-ai/voxbridge/backend/internal/middleware"
	"github.com/voxbridge-ai/voxbridge/backend/internal/model/agent"
	"github.com/voxbridge-ai/voxbridge/backend/internal/service/brain"
	"github.com/voxbridge-ai/voxbridge/backend/internal/service/memory"
)

// stubVerifier maps any bearer token to a fixed user.
type stubVerifier struct {
	userID uint
}

func (v stubVerifier) VerifyToken(string) (uint, error) {
	if v.userID == 0 {
		return 0, fmt.Errorf("invalid token")
	}
	return v.userID, nil
}

type cannedChatModel struct {
	reply string
}

func (m cannedChatModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m cannedChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage(m.reply, nil)}), nil
}

func (cannedChatModel) BindTools([]*schema.ToolInfo) error { return nil }

func setupRouter(t *testing.T, userID uint, engine *brain.Engine) (*chi.Mux, agent.Store) {
	t.Helper()

	store := agent.NewMemoryStore(
		agent.Profile{ID: 1, UserID: userID, Name: "Pizza Bot", SystemPrompt: "You take pizza orders.", IsActive: true},
		agent.Profile{ID: 2, UserID: userID + 1, Name: "Foreign Bot", SystemPrompt: "someone else's", IsActive: true},
	)

	h := NewHandler(store, engine, memory.New(nil))
	r := chi.NewRouter()
	r.Use(middleware.RequireAuth(stubVerifier{userID: userID}))
	h.RegisterRoutes(r)
	return r, store
}

func authedRequest(method, target string, body any) *http.Request {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer test-token")
	return req
}

func TestCreateAgent(t *testing.T) {
	r, _ := setupRouter(t, 7, nil)

	req := authedRequest(http.MethodPost, "/agents/", map[string]any{
		"name":          "Booking Bot",
		"system_prompt": "You book appointments.",
		"voice_name":    "en_female_1",
	})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var created agent.Profile
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if created.UserID != 7 {
		t.Fatalf("agent not bound to caller: user %d", created.UserID)
	}
	if !created.IsActive {
		t.Fatal("new agents should default to active")
	}
	if created.Language != "en-US" {
		t.Fatalf("language default = %q", created.Language)
	}
}

func TestCreateAgentRequiresName(t *testing.T) {
	r, _ := setupRouter(t, 7, nil)

	req := authedRequest(http.MethodPost, "/agents/", map[string]any{"system_prompt": "nameless"})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestListAgentsScopedToCaller(t *testing.T) {
	r, _ := setupRouter(t, 7, nil)

	req := authedRequest(http.MethodGet, "/agents/", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var profiles []agent.Profile
	if err := json.Unmarshal(resp.Body.Bytes(), &profiles); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if len(profiles) != 1 || profiles[0].ID != 1 {
		t.Fatalf("expected only the caller's agent, got %+v", profiles)
	}
}

func TestGetForeignAgentReads404(t *testing.T) {
	r, _ := setupRouter(t, 7, nil)

	req := authedRequest(http.MethodGet, "/agents/2", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign agent, got %d", resp.Code)
	}
}

func TestUpdateAgent(t *testing.T) {
	r, store := setupRouter(t, 7, nil)

	active := false
	req := authedRequest(http.MethodPut, "/agents/1", map[string]any{
		"name":      "Renamed Bot",
		"is_active": &active,
	})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	updated, err := store.FindByID(context.Background(), 1)
	if err != nil {
		t.Fatalf("FindByID err: %v", err)
	}
	if updated.Name != "Renamed Bot" || updated.IsActive {
		t.Fatalf("update not persisted: %+v", updated)
	}
	// Untouched fields survive a partial update.
	if updated.SystemPrompt != "You take pizza orders." {
		t.Fatalf("system prompt lost: %q", updated.SystemPrompt)
	}
}

func TestDeleteAgent(t *testing.T) {
	r, store := setupRouter(t, 7, nil)

	req := authedRequest(http.MethodDelete, "/agents/1", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if _, err := store.FindByID(context.Background(), 1); err == nil {
		t.Fatal("agent survived delete")
	}
}

func TestDeleteForeignAgentReads404(t *testing.T) {
	r, _ := setupRouter(t, 7, nil)

	req := authedRequest(http.MethodDelete, "/agents/2", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestChatWithoutEngineReads503(t *testing.T) {
	r, _ := setupRouter(t, 7, nil)

	req := authedRequest(http.MethodPost, "/agents/1/chat", map[string]string{"message": "hello"})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}

func TestChatReturnsResponseAndIntent(t *testing.T) {
	engine, err := brain.NewEngine(context.Background(), cannedChatModel{reply: "Booked. [ACTION: confirm_order]"})
	if err != nil {
		t.Fatalf("NewEngine err: %v", err)
	}
	r, _ := setupRouter(t, 7, engine)

	req := authedRequest(http.MethodPost, "/agents/1/chat", map[string]string{"message": "book it"})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if body["response"] != "Booked. [ACTION: confirm_order]" {
		t.Fatalf("response = %q", body["response"])
	}
	if body["intent"] != "action_required" {
		t.Fatalf("intent = %q", body["intent"])
	}
}

func TestChatRequiresMessage(t *testing.T) {
	engine, err := brain.NewEngine(context.Background(), cannedChatModel{reply: "ok"})
	if err != nil {
		t.Fatalf("NewEngine err: %v", err)
	}
	r, _ := setupRouter(t, 7, engine)

	req := authedRequest(http.MethodPost, "/agents/1/chat", map[string]string{"message": "  "})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestRequestWithoutTokenRejected(t *testing.T) {
	r, _ := setupRouter(t, 7, nil)

	req := httptest.NewRequest(http.MethodGet, "/agents/", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}
