package memory

import (
	"context"
	"log"
	"sync"

	"github.com/voxbridge-ai/voxbridge/backend/internal/model/conversation"
)

// PreferenceStore is the durable long-term backend. The record is read and
// written whole; no partial-field update primitive is assumed.
type PreferenceStore interface {
	Load(ctx context.Context, tenantKey string) (map[string]string, error)
	Store(ctx context.Context, tenantKey string, prefs map[string]string) error
}

// Memory owns short-term per-session transcripts and long-term per-tenant
// preferences as two independently keyed stores.
//
// The short-term map has no eviction of its own: lifecycle is owned by the
// session registry in the WS transport, which clears a session's history
// when the session is evicted or closed.
type Memory struct {
	mu        sync.RWMutex
	shortTerm map[string][]conversation.HistoryEntry

	prefs PreferenceStore

	// Long-term writes replace the whole record, so concurrent writers for
	// one tenant are serialized to avoid lost updates.
	tenantMu sync.Mutex
	tenants  map[string]*sync.Mutex
}

// New returns a Memory backed by the supplied preference store.
func New(prefs PreferenceStore) *Memory {
	return &Memory{
		shortTerm: make(map[string][]conversation.HistoryEntry),
		prefs:     prefs,
		tenants:   make(map[string]*sync.Mutex),
	}
}

// AddToHistory appends one entry to the session transcript. No size cap is
// enforced here; the decision engine bounds what it reads.
func (m *Memory) AddToHistory(sessionKey string, role conversation.Role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shortTerm[sessionKey] = append(m.shortTerm[sessionKey], conversation.HistoryEntry{
		Role:    role,
		Content: content,
	})
}

// GetHistory returns the transcript in insertion order. Unknown session keys
// yield an empty slice, not an error.
func (m *Memory) GetHistory(sessionKey string) []conversation.HistoryEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.shortTerm[sessionKey]
	copied := make([]conversation.HistoryEntry, len(entries))
	copy(copied, entries)
	return copied
}

// ClearHistory drops the session transcript. Clearing an absent session is a
// no-op.
func (m *Memory) ClearHistory(sessionKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.shortTerm, sessionKey)
}

// SessionCount reports how many session transcripts are held.
func (m *Memory) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.shortTerm)
}

// SavePreference performs a whole-record read-modify-write for one tenant
// key, serialized per tenant.
func (m *Memory) SavePreference(ctx context.Context, tenantKey, key, value string) error {
	if m.prefs == nil {
		return nil
	}

	lock := m.tenantLock(tenantKey)
	lock.Lock()
	defer lock.Unlock()

	prefs, err := m.prefs.Load(ctx, tenantKey)
	if err != nil {
		return err
	}
	if prefs == nil {
		prefs = make(map[string]string)
	}
	prefs[key] = value
	return m.prefs.Store(ctx, tenantKey, prefs)
}

// GetTenantContext loads the long-term preference map for a tenant. Store
// failures degrade to an empty map so a session can proceed without
// personalization.
func (m *Memory) GetTenantContext(ctx context.Context, tenantKey string) map[string]string {
	if m.prefs == nil || tenantKey == "" {
		return map[string]string{}
	}

	prefs, err := m.prefs.Load(ctx, tenantKey)
	if err != nil {
		log.Printf("[memory] load tenant context failed tenant=%s: %v", tenantKey, err)
		return map[string]string{}
	}
	if prefs == nil {
		return map[string]string{}
	}
	return prefs
}

func (m *Memory) tenantLock(tenantKey string) *sync.Mutex {
	m.tenantMu.Lock()
	defer m.tenantMu.Unlock()
	lock, ok := m.tenants[tenantKey]
	if !ok {
		lock = &sync.Mutex{}
		m.tenants[tenantKey] = lock
	}
	return lock
}
