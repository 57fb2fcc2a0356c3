package brain

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/voxbridge-ai/voxbridge/backend/internal/model/agent"
	"github.com/voxbridge-ai/voxbridge/backend/internal/model/conversation"
)

// historyLimit bounds the history sent to the model. This is a hard
// contract: latency and token cost stay predictable regardless of how long
// the stored transcript grows.
const historyLimit = 10

// actionMarker flags a reply that requires out-of-band handling. Intent
// detection is a plain substring scan over the raw model output.
const actionMarker = "[ACTION:"

// ApologyNotice is spoken when the model fails mid-conversation. A failed
// turn must never surface a raw provider error to the caller.
const ApologyNotice = "I'm having a bit of trouble processing that. Could you repeat it?"

// MisconfiguredNotice is returned when no decision engine is wired at all.
const MisconfiguredNotice = "The voice agent is not fully configured yet. Please ask the operator to add model credentials."

// Decision is the outcome of one engine invocation.
type Decision struct {
	Response string
	Intent   conversation.Intent
}

// Request carries everything one decision needs. Extra holds the tenant's
// long-term context; it is merged into the system instruction but never
// overrides the profile's identity text.
type Request struct {
	UserText string
	History  []conversation.HistoryEntry
	Profile  *agent.Profile
	Extra    map[string]string
}

// DecisionEngine maps user input plus bounded history to one reply and an
// intent classification.
type DecisionEngine interface {
	Decide(ctx context.Context, req Request) (Decision, error)
}

// Engine implements DecisionEngine with an eino prompt-template chain over a
// chat model.
type Engine struct {
	chatModel model.ChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewEngine compiles the chat chain for the supplied model.
func NewEngine(ctx context.Context, chatModel model.ChatModel) (*Engine, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile decision chain: %w", err)
	}

	return &Engine{chatModel: chatModel, chain: runnable}, nil
}

// Decide runs one turn through the chain. Model failures degrade to a fixed
// apology with intent=error; the caller never sees a hard failure.
func (e *Engine) Decide(ctx context.Context, req Request) (Decision, error) {
	response, err := e.chain.Invoke(ctx, e.buildChainInput(req))
	if err != nil {
		log.Printf("[brain] chain invoke failed: %v", err)
		return Decision{Response: ApologyNotice, Intent: conversation.IntentError}, nil
	}

	content := response.Content
	intent := conversation.IntentContinue
	if strings.Contains(content, actionMarker) {
		intent = conversation.IntentActionRequired
	}

	return Decision{Response: content, Intent: intent}, nil
}

// Stream yields the reply incrementally for text-mode SSE clients. The voice
// pipeline does not use this: a turn's reply is always committed whole.
func (e *Engine) Stream(ctx context.Context, req Request) (*schema.StreamReader[*schema.Message], error) {
	stream, err := e.chain.Stream(ctx, e.buildChainInput(req))
	if err != nil {
		return nil, fmt.Errorf("failed to stream decision chain: %w", err)
	}
	return stream, nil
}

func (e *Engine) buildChainInput(req Request) map[string]any {
	return map[string]any{
		"system":  buildSystemInstruction(req.Profile, req.Extra),
		"history": buildHistoryMessages(req.History),
		"query":   req.UserText,
	}
}

// buildHistoryMessages converts the transcript tail into model messages,
// truncated to the last historyLimit entries.
func buildHistoryMessages(entries []conversation.HistoryEntry) []*schema.Message {
	if len(entries) == 0 {
		return nil
	}

	startIdx := 0
	if len(entries) > historyLimit {
		startIdx = len(entries) - historyLimit
	}

	history := make([]*schema.Message, 0, len(entries)-startIdx)
	for _, entry := range entries[startIdx:] {
		switch entry.Role {
		case conversation.RoleUser:
			history = append(history, schema.UserMessage(entry.Content))
		case conversation.RoleAssistant:
			history = append(history, schema.AssistantMessage(entry.Content, nil))
		}
	}

	return history
}
