// Package agentws implements the duplex voice transport. A client opens a
// WebSocket against a specific agent, streams binary audio utterances up and
// receives transcript events, synthesized audio chunks and turn markers back.
package agentws

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxbridge-ai/voxbridge/backend/internal/model/agent"
	"github.com/voxbridge-ai/voxbridge/backend/internal/model/calllog"
	"github.com/voxbridge-ai/voxbridge/backend/internal/service/agentcore"
	"github.com/voxbridge-ai/voxbridge/backend/internal/service/voice"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 90 * time.Second
	pingInterval = 30 * time.Second
)

// Handler serves the real-time voice sessions.
type Handler struct {
	agents      agent.Store
	core        *agentcore.Orchestrator
	transcriber voice.Transcriber
	synthesizer voice.Synthesizer
	calls       calllog.Recorder
	registry    *Registry
	callTimeout time.Duration
	upgrader    websocket.Upgrader
}

// NewHandler wires the voice transport. transcriber and synthesizer may be
// nil when the speech vendor is not configured; sessions then degrade to
// silent turns instead of refusing connections.
func NewHandler(agents agent.Store, core *agentcore.Orchestrator, transcriber voice.Transcriber, synthesizer voice.Synthesizer, calls calllog.Recorder, registry *Registry, callTimeout time.Duration) *Handler {
	if calls == nil {
		calls = calllog.LogRecorder{}
	}
	return &Handler{
		agents:      agents,
		core:        core,
		transcriber: transcriber,
		synthesizer: synthesizer,
		calls:       calls,
		registry:    registry,
		callTimeout: callTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the transport endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/agent/ws/{agentID}", h.handleSession)
}

// eventFrame is the JSON shape of every text frame sent to the client.
type eventFrame struct {
	Type  string `json:"type"`
	Role  string `json:"role,omitempty"`
	Text  string `json:"text,omitempty"`
	Value string `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// liveSession carries the per-connection state. Writes to the connection are
// serialized through writeMu because the turn loop and the ping loop share it.
type liveSession struct {
	conn    *websocket.Conn
	profile *agent.Profile
	callID  string
	started time.Time
	turns   int

	writeMu sync.Mutex
}

func (s *liveSession) writeEvent(frame eventFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(frame)
}

func (s *liveSession) writeAudio(chunk []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.BinaryMessage, chunk)
}

func (s *liveSession) ping() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	agentID, err := strconv.ParseUint(chi.URLParam(r, "agentID"), 10, 32)
	if err != nil {
		http.Error(w, "invalid agent id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[agentws] upgrade failed: %v", err)
		return
	}

	profile, err := h.agents.FindByID(r.Context(), uint(agentID))
	if err != nil {
		if errors.Is(err, agent.ErrNotFound) {
			h.rejectSession(conn, "agent not found")
		} else {
			log.Printf("[agentws] agent lookup failed: %v", err)
			h.rejectSession(conn, "agent lookup failed, try again later")
		}
		return
	}
	if !profile.IsActive {
		h.rejectSession(conn, "agent is disabled")
		return
	}

	sess := &liveSession{
		conn:    conn,
		profile: profile,
		callID:  uuid.NewString(),
		started: time.Now(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.registry.Add(sess.callID, profile.SessionKey(), func() {
		cancel()
		conn.Close()
	}); err != nil {
		h.rejectSession(conn, "server at capacity, try again later")
		return
	}

	log.Printf("[agentws] session %s connected (agent %d)", sess.callID, profile.ID)
	status := "completed"
	defer func() {
		h.registry.Remove(sess.callID)
		h.core.EndSession(profile.SessionKey())
		conn.Close()
		h.recordCall(sess, status)
		log.Printf("[agentws] session %s closed after %d turn(s)", sess.callID, sess.turns)
	}()

	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	go h.pingLoop(ctx, sess)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				status = "error"
			}
			return
		}
		h.registry.Touch(sess.callID)

		if msgType != websocket.BinaryMessage {
			status = "error"
			sess.writeEvent(eventFrame{Type: "error", Error: "expected binary audio frame"})
			return
		}

		if err := h.runTurn(ctx, sess, data); err != nil {
			status = "error"
			return
		}
	}
}

// rejectSession sends one explanatory frame and drops the connection. The
// session never reaches the registry.
func (h *Handler) rejectSession(conn *websocket.Conn, reason string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	conn.WriteJSON(eventFrame{Type: "error", Error: reason})
	conn.Close()
}

// runTurn drives one utterance through the pipeline. Pipeline-stage failures
// degrade inside the turn; only a failed write to the client aborts the
// session.
func (h *Handler) runTurn(ctx context.Context, sess *liveSession, audio []byte) error {
	userText := h.transcribe(ctx, sess, audio)
	if strings.TrimSpace(userText) == "" {
		// Noise or vendor failure. Skip the turn without telling the client.
		return nil
	}

	if err := sess.writeEvent(eventFrame{Type: "transcript", Role: "user", Text: userText}); err != nil {
		return err
	}

	// The decision stage gets the same per-call budget as the speech vendors.
	// A hung provider degrades to the apology turn instead of stalling the
	// session until idle eviction.
	turnCtx, cancel := context.WithTimeout(ctx, h.callTimeout)
	turn := h.core.ProcessTurn(turnCtx, sess.profile.SessionKey(), userText, sess.profile)
	cancel()
	sess.turns++

	if err := sess.writeEvent(eventFrame{Type: "transcript", Role: "assistant", Text: turn.AssistantText}); err != nil {
		return err
	}

	if err := h.streamSynthesis(ctx, sess, turn.AssistantText); err != nil {
		return err
	}

	// The completion marker goes out even when synthesis produced nothing,
	// so the client can always re-open its microphone.
	return sess.writeEvent(eventFrame{Type: "status", Value: "turn_complete"})
}

func (h *Handler) transcribe(ctx context.Context, sess *liveSession, audio []byte) string {
	if h.transcriber == nil {
		return ""
	}

	callCtx, cancel := context.WithTimeout(ctx, h.callTimeout)
	defer cancel()

	text, err := h.transcriber.Transcribe(callCtx, audio, "wav", sess.profile.Language)
	if err != nil {
		log.Printf("[agentws] session %s transcription failed: %v", sess.callID, err)
		return ""
	}
	return text
}

// streamSynthesis forwards audio chunks as they arrive. A mid-stream vendor
// failure keeps whatever was already sent; only client write errors propagate.
func (h *Handler) streamSynthesis(ctx context.Context, sess *liveSession, text string) error {
	if h.synthesizer == nil || strings.TrimSpace(text) == "" {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, h.callTimeout)
	defer cancel()

	stream, err := h.synthesizer.Synthesize(callCtx, text, sess.profile.VoiceName, sess.profile.Language)
	if err != nil {
		log.Printf("[agentws] session %s synthesis failed: %v", sess.callID, err)
		return nil
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			log.Printf("[agentws] session %s synthesis interrupted: %v", sess.callID, err)
			return nil
		}
		if len(chunk) == 0 {
			continue
		}
		if err := sess.writeAudio(chunk); err != nil {
			return err
		}
	}
}

func (h *Handler) pingLoop(ctx context.Context, sess *liveSession) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sess.ping(); err != nil {
				return
			}
		}
	}
}

func (h *Handler) recordCall(sess *liveSession, status string) {
	entry := calllog.CallLog{
		UserID:       sess.profile.UserID,
		AgentID:      sess.profile.ID,
		CallID:       sess.callID,
		CallerNumber: "websocket",
		Duration:     time.Since(sess.started).Seconds(),
		Turns:        sess.turns,
		Status:       status,
		Timestamp:    sess.started,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.calls.Record(ctx, entry); err != nil {
		log.Printf("[agentws] session %s call log write failed: %v", sess.callID, err)
	}
}
