package brain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/voxbridge-ai/voxbridge/backend/internal/model/agent"
)

// buildSystemInstruction wraps the tenant's instruction profile in the meta
// instruction that governs every turn. The profile's identity text is the
// dominant instruction; tenant context is merged in but never overrides it.
func buildSystemInstruction(profile *agent.Profile, extra map[string]string) string {
	var builder strings.Builder

	builder.WriteString("ROLE: You are an AI Voice Agent.\n")
	builder.WriteString("MASTER INSTRUCTION: ")
	if profile != nil {
		builder.WriteString(profile.SystemPrompt)
	}
	builder.WriteString("\n\nTASK:\n")
	builder.WriteString("1. Analyze User Input.\n")
	builder.WriteString("2. Maintain character personality and rules.\n")
	builder.WriteString("3. If user preferences are in CONTEXT, use them.\n")
	builder.WriteString("4. If an action is required (Transfer, Appointment, etc.), include it in the response as '[ACTION: action_name]'.\n")

	builder.WriteString("\nCONTEXT: ")
	builder.WriteString(formatContext(extra))

	if profile != nil && profile.Language != "" {
		builder.WriteString(fmt.Sprintf("\nLANGUAGE: Respond in %q.", profile.Language))
	}

	builder.WriteString("\n\nRULES:\n")
	builder.WriteString("- Be concise (voice interaction).\n")
	builder.WriteString("- Never break character.\n")
	builder.WriteString("- Handle interruptions gracefully.\n")

	return builder.String()
}

// formatContext renders the tenant preference map deterministically so the
// same context always produces the same prompt.
func formatContext(extra map[string]string) string {
	if len(extra) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(extra))
	for key := range extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", key, extra[key]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
