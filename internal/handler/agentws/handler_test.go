package agentws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/voxbridge-ai/voxbridge/backend/internal/model/agent"
	"github.com/voxbridge-ai/voxbridge/backend/internal/model/calllog"
	"github.com/voxbridge-ai/voxbridge/backend/internal/model/conversation"
	"github.com/voxbridge-ai/voxbridge/backend/internal/service/agentcore"
	"github.com/voxbridge-ai/voxbridge/backend/internal/service/brain"
	"github.com/voxbridge-ai/voxbridge/backend/internal/service/memory"
	"github.com/voxbridge-ai/voxbridge/backend/internal/service/voice"
)

// echoTranscriber treats the audio bytes as the spoken text, which lets tests
// script utterances without real speech recognition.
type echoTranscriber struct{}

func (echoTranscriber) Transcribe(_ context.Context, audio []byte, _, _ string) (string, error) {
	return string(audio), nil
}

type failingTranscriber struct{}

func (failingTranscriber) Transcribe(context.Context, []byte, string, string) (string, error) {
	return "", fmt.Errorf("vendor unavailable")
}

// chunkSynthesizer splits the reply into fixed chunks. failAfter > 0 makes
// the stream fail mid-way after that many chunks.
type chunkSynthesizer struct {
	chunkSize int
	failAfter int
}

func (s *chunkSynthesizer) Synthesize(_ context.Context, text, _, _ string) (voice.SynthesisStream, error) {
	var chunks [][]byte
	data := []byte(text)
	for len(data) > 0 {
		n := s.chunkSize
		if n > len(data) {
			n = len(data)
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return &scriptedStream{chunks: chunks, failAfter: s.failAfter}, nil
}

type scriptedStream struct {
	chunks    [][]byte
	failAfter int
	pos       int
	closed    bool
}

func (s *scriptedStream) Recv() ([]byte, error) {
	if s.failAfter > 0 && s.pos >= s.failAfter {
		return nil, fmt.Errorf("synthesis connection dropped")
	}
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

type echoEngine struct{}

func (echoEngine) Decide(_ context.Context, req brain.Request) (brain.Decision, error) {
	return brain.Decision{
		Response: "re: " + req.UserText,
		Intent:   conversation.IntentContinue,
	}, nil
}

// stalledEngine simulates a hung model provider: it only returns once the
// call context expires.
type stalledEngine struct{}

func (stalledEngine) Decide(ctx context.Context, _ brain.Request) (brain.Decision, error) {
	<-ctx.Done()
	return brain.Decision{}, ctx.Err()
}

// brokenStore simulates a transient database failure on lookup.
type brokenStore struct {
	agent.Store
}

func (brokenStore) FindByID(context.Context, uint) (*agent.Profile, error) {
	return nil, fmt.Errorf("db connection lost")
}

type captureRecorder struct {
	mu      sync.Mutex
	entries []calllog.CallLog
	done    chan struct{}
}

func newCaptureRecorder() *captureRecorder {
	return &captureRecorder{done: make(chan struct{}, 8)}
}

func (r *captureRecorder) Record(_ context.Context, entry calllog.CallLog) error {
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func (r *captureRecorder) last() calllog.CallLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[len(r.entries)-1]
}

type testEnv struct {
	server   *httptest.Server
	core     *agentcore.Orchestrator
	recorder *captureRecorder
	registry *Registry
}

func defaultStore() *agent.MemoryStore {
	return agent.NewMemoryStore(
		agent.Profile{ID: 1, UserID: 1, Name: "Pizza Bot", SystemPrompt: "You take pizza orders.", Language: "en-US", IsActive: true},
		agent.Profile{ID: 2, UserID: 1, Name: "Disabled Bot", SystemPrompt: "off", IsActive: false},
		agent.Profile{ID: 3, UserID: 2, Name: "Support Bot", SystemPrompt: "You answer support questions.", Language: "en-US", IsActive: true},
	)
}

func setupEnv(t *testing.T, transcriber voice.Transcriber, synthesizer voice.Synthesizer, maxSessions int) *testEnv {
	t.Helper()
	return setupEnvWith(t, defaultStore(), echoEngine{}, transcriber, synthesizer, maxSessions, 5*time.Second)
}

func setupEnvWith(t *testing.T, store agent.Store, engine brain.DecisionEngine, transcriber voice.Transcriber, synthesizer voice.Synthesizer, maxSessions int, callTimeout time.Duration) *testEnv {
	t.Helper()

	core := agentcore.New(engine, memory.New(nil), nil)
	recorder := newCaptureRecorder()
	registry := NewRegistry(maxSessions, time.Minute)

	h := NewHandler(store, core, transcriber, synthesizer, recorder, registry, callTimeout)
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &testEnv{server: server, core: core, recorder: recorder, registry: registry}
}

func (e *testEnv) dial(t *testing.T, agentID int) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + fmt.Sprintf("/agent/ws/%d", agentID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

// readTurn collects everything the server sends for one utterance, up to and
// including the completion marker.
func readTurn(t *testing.T, conn *websocket.Conn) (events []eventFrame, audio [][]byte) {
	t.Helper()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read err mid-turn: %v", err)
		}
		if msgType == websocket.BinaryMessage {
			audio = append(audio, data)
			continue
		}

		var event eventFrame
		if err := json.Unmarshal(data, &event); err != nil {
			t.Fatalf("bad event frame %q: %v", data, err)
		}
		events = append(events, event)
		if event.Type == "status" && event.Value == "turn_complete" {
			return events, audio
		}
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) eventFrame {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read err: %v", err)
	}
	var event eventFrame
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("bad event frame %q: %v", data, err)
	}
	return event
}

func TestSessionTurnSequence(t *testing.T) {
	env := setupEnv(t, echoTranscriber{}, &chunkSynthesizer{chunkSize: 4}, 4)
	conn := env.dial(t, 1)

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("one large pepperoni")); err != nil {
		t.Fatalf("write err: %v", err)
	}

	events, audio := readTurn(t, conn)
	if len(events) != 3 {
		t.Fatalf("expected 3 event frames, got %d: %+v", len(events), events)
	}
	if events[0].Type != "transcript" || events[0].Role != "user" || events[0].Text != "one large pepperoni" {
		t.Fatalf("unexpected user transcript: %+v", events[0])
	}
	if events[1].Type != "transcript" || events[1].Role != "assistant" || events[1].Text != "re: one large pepperoni" {
		t.Fatalf("unexpected assistant transcript: %+v", events[1])
	}

	var joined []byte
	for _, chunk := range audio {
		joined = append(joined, chunk...)
	}
	if string(joined) != "re: one large pepperoni" {
		t.Fatalf("audio chunks do not reassemble the reply: %q", joined)
	}
}

func TestSessionMultiTurnHistory(t *testing.T) {
	env := setupEnv(t, echoTranscriber{}, nil, 4)
	conn := env.dial(t, 1)

	for i := 0; i < 3; i++ {
		text := fmt.Sprintf("utterance %d", i)
		if err := conn.WriteMessage(websocket.BinaryMessage, []byte(text)); err != nil {
			t.Fatalf("write err: %v", err)
		}
		events, audio := readTurn(t, conn)
		if len(audio) != 0 {
			t.Fatalf("no synthesizer wired, got %d audio frames", len(audio))
		}
		if events[0].Text != text {
			t.Fatalf("turn %d transcript = %q", i, events[0].Text)
		}
	}

	history := env.core.Memory().GetHistory("ws_1")
	if len(history) != 6 {
		t.Fatalf("expected 6 history entries, got %d", len(history))
	}
}

func TestUnknownAgentRejected(t *testing.T) {
	env := setupEnv(t, echoTranscriber{}, nil, 4)
	conn := env.dial(t, 99)

	event := readEvent(t, conn)
	if event.Type != "error" || event.Error == "" {
		t.Fatalf("expected error event, got %+v", event)
	}

	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("connection should be closed after rejection")
	}
	if env.registry.Count() != 0 {
		t.Fatalf("rejected session leaked into registry: %d", env.registry.Count())
	}
}

func TestStalledDecisionDegradesWithinBudget(t *testing.T) {
	env := setupEnvWith(t, defaultStore(), stalledEngine{}, echoTranscriber{}, nil, 4, 100*time.Millisecond)
	conn := env.dial(t, 1)

	start := time.Now()
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("hello")); err != nil {
		t.Fatalf("write err: %v", err)
	}

	events, _ := readTurn(t, conn)
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("turn took %s, expected degradation within the call budget", elapsed)
	}
	if events[1].Role != "assistant" || events[1].Text != brain.ApologyNotice {
		t.Fatalf("expected apology transcript, got %+v", events[1])
	}
	last := events[len(events)-1]
	if last.Type != "status" || last.Value != "turn_complete" {
		t.Fatalf("turn did not complete: %+v", last)
	}
}

func TestLookupFailureIsNotReportedAsUnknownAgent(t *testing.T) {
	env := setupEnvWith(t, brokenStore{}, echoEngine{}, echoTranscriber{}, nil, 4, 5*time.Second)
	conn := env.dial(t, 1)

	event := readEvent(t, conn)
	if event.Type != "error" {
		t.Fatalf("expected error event, got %+v", event)
	}
	if strings.Contains(event.Error, "not found") {
		t.Fatalf("transient lookup failure misreported as unknown agent: %q", event.Error)
	}
}

func TestInactiveAgentRejected(t *testing.T) {
	env := setupEnv(t, echoTranscriber{}, nil, 4)
	conn := env.dial(t, 2)

	event := readEvent(t, conn)
	if event.Type != "error" {
		t.Fatalf("expected error event, got %+v", event)
	}
}

func TestCapacityRejected(t *testing.T) {
	env := setupEnv(t, echoTranscriber{}, nil, 1)

	first := env.dial(t, 1)
	// Prove the first session is live before the second dial.
	if err := first.WriteMessage(websocket.BinaryMessage, []byte("hello")); err != nil {
		t.Fatalf("write err: %v", err)
	}
	readTurn(t, first)

	second := env.dial(t, 3)
	event := readEvent(t, second)
	if event.Type != "error" || !strings.Contains(event.Error, "capacity") {
		t.Fatalf("expected capacity rejection, got %+v", event)
	}
}

func TestEmptyTranscriptionSkipsTurn(t *testing.T) {
	env := setupEnv(t, echoTranscriber{}, nil, 4)
	conn := env.dial(t, 1)

	// Whitespace transcribes to an empty utterance: the server must send
	// nothing at all for it.
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("   ")); err != nil {
		t.Fatalf("write err: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("real question")); err != nil {
		t.Fatalf("write err: %v", err)
	}

	events, _ := readTurn(t, conn)
	if events[0].Text != "real question" {
		t.Fatalf("skipped turn leaked a frame: %+v", events[0])
	}

	if got := len(env.core.Memory().GetHistory("ws_1")); got != 2 {
		t.Fatalf("skipped turn reached history: %d entries", got)
	}
}

func TestTranscriberFailureSkipsTurn(t *testing.T) {
	env := setupEnv(t, failingTranscriber{}, nil, 4)
	conn := env.dial(t, 1)

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("audio")); err != nil {
		t.Fatalf("write err: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("failed transcription should produce no frames")
	}
}

func TestSynthesisFailureStillCompletesTurn(t *testing.T) {
	env := setupEnv(t, echoTranscriber{}, &chunkSynthesizer{chunkSize: 2, failAfter: 2}, 4)
	conn := env.dial(t, 1)

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("hello there")); err != nil {
		t.Fatalf("write err: %v", err)
	}

	events, audio := readTurn(t, conn)
	if len(audio) != 2 {
		t.Fatalf("expected the 2 chunks sent before the failure, got %d", len(audio))
	}
	last := events[len(events)-1]
	if last.Type != "status" || last.Value != "turn_complete" {
		t.Fatalf("turn did not complete after synthesis failure: %+v", last)
	}
}

func TestTextFrameIsProtocolError(t *testing.T) {
	env := setupEnv(t, echoTranscriber{}, nil, 4)
	conn := env.dial(t, 1)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"hello":"world"}`)); err != nil {
		t.Fatalf("write err: %v", err)
	}

	event := readEvent(t, conn)
	if event.Type != "error" {
		t.Fatalf("expected protocol error event, got %+v", event)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("connection should be closed after protocol error")
	}
}

func TestSessionCloseClearsStateAndRecordsCall(t *testing.T) {
	env := setupEnv(t, echoTranscriber{}, nil, 4)
	conn := env.dial(t, 1)

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("hello")); err != nil {
		t.Fatalf("write err: %v", err)
	}
	readTurn(t, conn)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	select {
	case <-env.recorder.done:
	case <-time.After(2 * time.Second):
		t.Fatal("call log never recorded")
	}

	entry := env.recorder.last()
	if entry.AgentID != 1 || entry.Turns != 1 {
		t.Fatalf("unexpected call log entry: %+v", entry)
	}
	if entry.Status != "completed" {
		t.Fatalf("status = %q", entry.Status)
	}

	if got := len(env.core.Memory().GetHistory("ws_1")); got != 0 {
		t.Fatalf("history survived session close: %d entries", got)
	}
	if env.registry.Count() != 0 {
		t.Fatalf("registry still holds %d sessions", env.registry.Count())
	}
}

func TestConcurrentSessionsStayIsolated(t *testing.T) {
	env := setupEnv(t, echoTranscriber{}, nil, 4)
	pizza := env.dial(t, 1)
	support := env.dial(t, 3)

	if err := pizza.WriteMessage(websocket.BinaryMessage, []byte("pizza question")); err != nil {
		t.Fatalf("write err: %v", err)
	}
	if err := support.WriteMessage(websocket.BinaryMessage, []byte("support question")); err != nil {
		t.Fatalf("write err: %v", err)
	}

	pizzaEvents, _ := readTurn(t, pizza)
	supportEvents, _ := readTurn(t, support)

	if pizzaEvents[1].Text != "re: pizza question" {
		t.Fatalf("pizza session got %q", pizzaEvents[1].Text)
	}
	if supportEvents[1].Text != "re: support question" {
		t.Fatalf("support session got %q", supportEvents[1].Text)
	}

	if len(env.core.Memory().GetHistory("ws_1")) != 2 || len(env.core.Memory().GetHistory("ws_3")) != 2 {
		t.Fatal("histories leaked across sessions")
	}
}
