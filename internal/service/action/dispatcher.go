package action

import (
	"context"
	"log"
	"regexp"
)

// Payload describes an action the agent asked for inside a reply.
type Payload struct {
	SessionKey string
	TenantKey  string
	Name       string
	Response   string
}

// Dispatcher receives action payloads surfaced by the orchestrator. Dispatch
// runs out-of-band relative to the user-facing reply: implementations must
// not assume the turn is still in flight.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload Payload)
}

var markerPattern = regexp.MustCompile(`\[ACTION:\s*([^\]]+)\]`)

// ExtractName pulls the action name out of a reply's marker. Empty when the
// marker is malformed.
func ExtractName(response string) string {
	match := markerPattern.FindStringSubmatch(response)
	if len(match) < 2 {
		return ""
	}
	return match[1]
}

// LogDispatcher is the default handler: it only records the action.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(_ context.Context, payload Payload) {
	log.Printf("[action] session=%s tenant=%s action=%q", payload.SessionKey, payload.TenantKey, payload.Name)
}
