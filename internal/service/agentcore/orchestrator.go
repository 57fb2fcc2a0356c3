// Package agentcore sequences one conversational turn: memory load, decision,
// memory commit, action dispatch. It guarantees at most one turn in flight
// per session while sessions stay fully independent of each other.
package agentcore

import (
	"context"
	"log"
	"sync"

	"github.com/voxbridge-ai/voxbridge/backend/internal/model/agent"
	"github.com/voxbridge-ai/voxbridge/backend/internal/model/conversation"
	"github.com/voxbridge-ai/voxbridge/backend/internal/service/action"
	"github.com/voxbridge-ai/voxbridge/backend/internal/service/brain"
	"github.com/voxbridge-ai/voxbridge/backend/internal/service/memory"
)

// Orchestrator ties the decision engine, session memory and action dispatch
// together for the turn pipeline.
type Orchestrator struct {
	engine     brain.DecisionEngine
	memory     *memory.Memory
	dispatcher action.Dispatcher

	mu    sync.Mutex
	turns map[string]*sync.Mutex // sessionKey -> turn serialization lock
}

// New wires an orchestrator. engine may be nil when no model credentials are
// configured; every turn then degrades to a fixed notice instead of failing.
func New(engine brain.DecisionEngine, mem *memory.Memory, dispatcher action.Dispatcher) *Orchestrator {
	if dispatcher == nil {
		dispatcher = action.LogDispatcher{}
	}
	return &Orchestrator{
		engine:     engine,
		memory:     mem,
		dispatcher: dispatcher,
		turns:      make(map[string]*sync.Mutex),
	}
}

// Memory exposes the session memory for transport-level lifecycle hooks.
func (o *Orchestrator) Memory() *memory.Memory {
	return o.memory
}

// ProcessTurn runs one full turn. Callers must filter empty user text
// upstream; the transport silently skips empty transcriptions.
//
// Exactly one user entry and one assistant entry are appended to the session
// history, in that order, before returning. Turns for the same session are
// serialized; a new turn cannot start until the previous one, including its
// memory commit, has finished.
func (o *Orchestrator) ProcessTurn(ctx context.Context, sessionKey, userText string, profile *agent.Profile) conversation.Turn {
	lock := o.turnLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	history := o.memory.GetHistory(sessionKey)

	tenantKey := ""
	var tenantCtx map[string]string
	if profile != nil {
		tenantKey = profile.TenantKey()
		tenantCtx = o.memory.GetTenantContext(ctx, tenantKey)
	}

	decision := o.decide(ctx, brain.Request{
		UserText: userText,
		History:  history,
		Profile:  profile,
		Extra:    tenantCtx,
	})

	o.memory.AddToHistory(sessionKey, conversation.RoleUser, userText)
	o.memory.AddToHistory(sessionKey, conversation.RoleAssistant, decision.Response)

	if decision.Intent == conversation.IntentActionRequired {
		// Fire and forget: action handling never blocks the user-facing reply.
		payload := action.Payload{
			SessionKey: sessionKey,
			TenantKey:  tenantKey,
			Name:       action.ExtractName(decision.Response),
			Response:   decision.Response,
		}
		go o.dispatcher.Dispatch(context.WithoutCancel(ctx), payload)
	}

	return conversation.Turn{
		UserText:      userText,
		AssistantText: decision.Response,
		Intent:        decision.Intent,
	}
}

// EndSession releases per-session state once the transport closes it.
func (o *Orchestrator) EndSession(sessionKey string) {
	o.memory.ClearHistory(sessionKey)
	o.mu.Lock()
	delete(o.turns, sessionKey)
	o.mu.Unlock()
}

// decide invokes the engine and converts every failure mode into a degraded
// but valid decision. A single failed turn must never tear the session down.
func (o *Orchestrator) decide(ctx context.Context, req brain.Request) brain.Decision {
	if o.engine == nil {
		return brain.Decision{Response: brain.MisconfiguredNotice, Intent: conversation.IntentError}
	}

	decision, err := o.engine.Decide(ctx, req)
	if err != nil {
		log.Printf("[core] decision failed session: %v", err)
		return brain.Decision{Response: brain.ApologyNotice, Intent: conversation.IntentError}
	}
	return decision
}

func (o *Orchestrator) turnLock(sessionKey string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.turns[sessionKey]
	if !ok {
		lock = &sync.Mutex{}
		o.turns[sessionKey] = lock
	}
	return lock
}
