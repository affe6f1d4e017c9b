// Package tools defines the function-calling surface offered to the
// speech models: four knowledge-base searches and the escalation
// trigger. Adapters render the specs into their own wire formats.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lexvoice/voicegate/internal/kb"
	"github.com/lexvoice/voicegate/internal/voice"
)

// EscalateToolName is the tool the model calls to hand off the call.
const EscalateToolName = "escalate_to_human"

// escalateHoldMessage is spoken context for the caller; the model reads
// it back while the transfer is prepared.
const escalateHoldMessage = "Transferring you to a team member now. Please hold."

// maxResponseLength caps tool output fed back into the model. Realtime
// models choke on long tool results mid-conversation.
const maxResponseLength = 2048

const kbResultCount = 3

// toolContexts prefixes search results so the model knows which corpus
// answered.
var toolContexts = map[string]string{
	"search_products":          "Product information",
	"search_needs":             "Customer needs guidance",
	"search_service_providers": "Service provider directory",
	"search_guardrails":        "Conversation guidelines",
}

var queryInputSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {
			"type": "string",
			"description": "The search query describing what the caller wants to know."
		}
	},
	"required": ["query"]
}`)

var emptyInputSchema = json.RawMessage(`{
	"type": "object",
	"properties": {},
	"required": []
}`)

// Executor runs tool calls against the knowledge base.
type Executor struct {
	kb     kb.Searcher
	logger *slog.Logger
}

var _ voice.ToolRunner = (*Executor)(nil)

// NewExecutor creates an executor. kb may be nil; search tools then
// report the knowledge base as unavailable instead of failing the call.
func NewExecutor(searcher kb.Searcher, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{kb: searcher, logger: logger}
}

// Specs lists every tool offered to the model.
func (e *Executor) Specs() []voice.ToolSpec {
	specs := []voice.ToolSpec{
		{
			Name:        "search_products",
			Description: "Search the product catalog for offerings, pricing and availability.",
			InputSchema: queryInputSchema,
		},
		{
			Name:        "search_needs",
			Description: "Look up guidance for matching a caller's described needs to services.",
			InputSchema: queryInputSchema,
		},
		{
			Name:        "search_service_providers",
			Description: "Search the directory of service providers and their coverage areas.",
			InputSchema: queryInputSchema,
		},
		{
			Name:        "search_guardrails",
			Description: "Check conversation guidelines for topics the assistant must handle carefully.",
			InputSchema: queryInputSchema,
		},
		{
			Name:        EscalateToolName,
			Description: "Transfer the caller to a human agent. Use when the caller asks for a person or the conversation is beyond the assistant's scope.",
			InputSchema: emptyInputSchema,
		},
	}
	return specs
}

// Execute runs one tool call and returns the result to feed back to the
// model.
func (e *Executor) Execute(ctx context.Context, name, argumentsJSON string) (voice.ToolResult, error) {
	if name == EscalateToolName {
		return voice.ToolResult{Output: escalateHoldMessage, TriggersEscalation: true}, nil
	}

	prefix, ok := toolContexts[name]
	if !ok {
		return voice.ToolResult{}, fmt.Errorf("unknown tool %q", name)
	}

	var args struct {
		Query string `json:"query"`
	}
	if argumentsJSON != "" {
		if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
			return voice.ToolResult{}, fmt.Errorf("parse %s arguments: %w", name, err)
		}
	}
	if args.Query == "" {
		return voice.ToolResult{Output: "No search query was provided."}, nil
	}

	if e.kb == nil {
		return voice.ToolResult{Output: "The knowledge base is not available right now."}, nil
	}

	results, err := e.kb.Search(ctx, args.Query, kbResultCount)
	if err != nil {
		e.logger.Warn("knowledge base search failed", "tool", name, "error", err)
		return voice.ToolResult{Output: "The knowledge base is not available right now."}, nil
	}
	if len(results) == 0 {
		return voice.ToolResult{Output: "No relevant information was found."}, nil
	}

	parts := make([]string, 0, len(results)+1)
	parts = append(parts, prefix+":")
	for _, r := range results {
		parts = append(parts, r.Content)
	}
	return voice.ToolResult{Output: truncateAtSentence(strings.Join(parts, "\n"), maxResponseLength)}, nil
}

// truncateAtSentence cuts text to at most max bytes, preferring the last
// sentence boundary in the kept region.
func truncateAtSentence(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := text[:max]
	if idx := strings.LastIndex(cut, ". "); idx > max/2 {
		return cut[:idx+1]
	}
	if idx := strings.LastIndexByte(cut, '.'); idx > max/2 {
		return cut[:idx+1]
	}
	return cut
}
