// Package answer turns retrieval output into a model response. It assembles
// the layered prompt, injects recent conversation history, invokes the
// generation model, and persists the completed turn.
package answer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/ledgerpeak/advisorkb/internal/budget"
	"github.com/ledgerpeak/advisorkb/internal/knowledge"
	"github.com/ledgerpeak/advisorkb/internal/logging"
	"github.com/ledgerpeak/advisorkb/internal/prompt"
	"github.com/ledgerpeak/advisorkb/internal/store"
)

// DefaultHistoryDepth is the number of prior turns injected into the prompt.
const DefaultHistoryDepth = 10

// Request carries one chat turn through generation.
type Request struct {
	// ConversationID keys the history for this exchange.
	ConversationID string

	// Question is the user's message.
	Question string

	// Hits are the in-scope chunks retrieved for the question.
	Hits []knowledge.Hit

	// PackNames are the display names of the attached specialist packs.
	PackNames []string
}

// Response is the generation result with its supporting citations.
type Response struct {
	// Answer is the model's reply text.
	Answer string

	// Citations reference the chunks that backed the answer.
	Citations []knowledge.Citation
}

// Generator produces answers from a chat model and a conversation history
// store. The history store is optional; without it each turn is stateless.
type Generator struct {
	model        model.ToolCallingChatModel
	history      store.HistoryStore
	historyDepth int
}

// NewGenerator constructs a Generator. A nil history store disables
// multi-turn context.
func NewGenerator(m model.ToolCallingChatModel, history store.HistoryStore, historyDepth int) (*Generator, error) {
	if m == nil {
		return nil, fmt.Errorf("answer: chat model must not be nil")
	}
	if historyDepth <= 0 {
		historyDepth = DefaultHistoryDepth
	}
	return &Generator{model: m, history: history, historyDepth: historyDepth}, nil
}

// Generate runs one chat turn: prompt assembly, model invocation, and history
// persistence. History write failures are logged, not returned; the caller
// already has their answer by then.
func (g *Generator) Generate(ctx context.Context, req Request) (*Response, error) {
	messages := g.buildMessages(ctx, req)

	out, err := g.model.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("answer: generation failed: %w", err)
	}

	if g.history != nil && req.ConversationID != "" {
		log := logging.FromContext(ctx)
		if err := g.history.AppendMessage(ctx, req.ConversationID, store.RoleUser, req.Question); err != nil {
			log.Warn("history: failed to persist user message", slog.Any("error", err))
		}
		if err := g.history.AppendMessage(ctx, req.ConversationID, store.RoleAssistant, out.Content); err != nil {
			log.Warn("history: failed to persist assistant message", slog.Any("error", err))
		}
	}

	citations := make([]knowledge.Citation, 0, len(req.Hits))
	for _, h := range req.Hits {
		citations = append(citations, h.Cite())
	}
	return &Response{Answer: out.Content, Citations: citations}, nil
}

// buildMessages assembles the prompt: system instruction, retrieved context,
// prior turns, then the user's question.
func (g *Generator) buildMessages(ctx context.Context, req Request) []*schema.Message {
	system, contextBlock := prompt.Assemble(req.Hits, req.PackNames)

	fixed := []*schema.Message{schema.SystemMessage(system)}
	if contextBlock != "" {
		fixed = append(fixed, schema.SystemMessage(contextBlock))
	}
	question := schema.UserMessage(req.Question)

	var prior []*schema.Message
	if g.history != nil && req.ConversationID != "" {
		msgs, err := g.history.RecentMessages(ctx, req.ConversationID, g.historyDepth*2)
		if err != nil {
			logging.FromContext(ctx).Warn("history: failed to load prior messages", slog.Any("error", err))
		} else {
			for _, m := range msgs {
				switch m.Role {
				case store.RoleUser:
					prior = append(prior, schema.UserMessage(m.Content))
				case store.RoleAssistant:
					prior = append(prior, schema.AssistantMessage(m.Content, nil))
				}
			}
		}
	}

	// System instruction, retrieved context, and the question itself are
	// never trimmed; only old turns fall out when the budget is tight.
	untrimmable := make([]*schema.Message, 0, len(fixed)+1)
	untrimmable = append(untrimmable, fixed...)
	untrimmable = append(untrimmable, question)
	prior = budget.TrimHistory(untrimmable, prior, budget.DefaultMaxContextTokens)

	messages := make([]*schema.Message, 0, len(fixed)+len(prior)+1)
	messages = append(messages, fixed...)
	messages = append(messages, prior...)
	return append(messages, question)
}
