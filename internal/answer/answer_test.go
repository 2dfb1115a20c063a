package answer

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/ledgerpeak/advisorkb/internal/knowledge"
	"github.com/ledgerpeak/advisorkb/internal/store"
)

// fakeModel replays a canned reply and records the messages it received.
type fakeModel struct {
	reply string
	err   error
	got   []*schema.Message
}

func (f *fakeModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.got = in
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeModel) WithTools(_ []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return f, nil
}

func openTestHistory(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Test_Generator_PromptLayout(t *testing.T) {
	t.Parallel()
	m := &fakeModel{reply: "answer"}
	g, err := NewGenerator(m, nil, 0)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}

	hits := []knowledge.Hit{{Scope: knowledge.ScopeOrgPack, Text: "pack evidence"}}
	resp, err := g.Generate(context.Background(), Request{
		Question:  "how do I elect S-corp status?",
		Hits:      hits,
		PackNames: []string{"S-Corp Election"},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Answer != "answer" {
		t.Errorf("want model reply passed through, got %q", resp.Answer)
	}

	if len(m.got) != 3 {
		t.Fatalf("want [system, context, user], got %d messages", len(m.got))
	}
	if m.got[0].Role != schema.System || !strings.Contains(m.got[0].Content, "S-Corp Election") {
		t.Errorf("system instruction wrong: %v", m.got[0])
	}
	if m.got[1].Role != schema.System || !strings.Contains(m.got[1].Content, "pack evidence") {
		t.Errorf("context block wrong: %v", m.got[1])
	}
	if m.got[2].Role != schema.User || m.got[2].Content != "how do I elect S-corp status?" {
		t.Errorf("user message wrong: %v", m.got[2])
	}
}

func Test_Generator_NoHitsOmitsContextMessage(t *testing.T) {
	t.Parallel()
	m := &fakeModel{reply: "general answer"}
	g, _ := NewGenerator(m, nil, 0)

	if _, err := g.Generate(context.Background(), Request{Question: "q"}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(m.got) != 2 {
		t.Fatalf("want [system, user] without hits, got %d messages", len(m.got))
	}
}

func Test_Generator_CitationsFromHits(t *testing.T) {
	t.Parallel()
	m := &fakeModel{reply: "x"}
	g, _ := NewGenerator(m, nil, 0)

	long := strings.Repeat("w", 300)
	resp, err := g.Generate(context.Background(), Request{
		Question: "q",
		Hits: []knowledge.Hit{
			{ChunkID: "c1", DocumentID: "d1", Title: "Memo", Text: long, Scope: knowledge.ScopeTenant},
		},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(resp.Citations) != 1 {
		t.Fatalf("want 1 citation, got %d", len(resp.Citations))
	}
	c := resp.Citations[0]
	if c.DocumentID != "d1" || c.Title != "Memo" {
		t.Errorf("citation fields wrong: %+v", c)
	}
	if len(c.TextPreview) != 203 || !strings.HasSuffix(c.TextPreview, "...") {
		t.Errorf("preview not truncated: len=%d", len(c.TextPreview))
	}
}

func Test_Generator_HistoryRoundTrip(t *testing.T) {
	t.Parallel()
	hist := openTestHistory(t)
	m := &fakeModel{reply: "first answer"}
	g, _ := NewGenerator(m, hist, 5)
	ctx := context.Background()

	if _, err := g.Generate(ctx, Request{ConversationID: "conv1", Question: "first question"}); err != nil {
		t.Fatalf("first turn: %v", err)
	}

	m.reply = "second answer"
	if _, err := g.Generate(ctx, Request{ConversationID: "conv1", Question: "second question"}); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	// second turn sees the first exchange: system, user, assistant, user
	if len(m.got) != 4 {
		t.Fatalf("want 4 messages on second turn, got %d", len(m.got))
	}
	if m.got[1].Content != "first question" || m.got[2].Content != "first answer" {
		t.Errorf("history not injected: %v %v", m.got[1], m.got[2])
	}
	if m.got[3].Content != "second question" {
		t.Errorf("user message not last: %v", m.got[3])
	}
}

func Test_Generator_ModelErrorPropagates(t *testing.T) {
	t.Parallel()
	m := &fakeModel{err: fmt.Errorf("backend down")}
	g, _ := NewGenerator(m, nil, 0)

	if _, err := g.Generate(context.Background(), Request{Question: "q"}); err == nil {
		t.Fatal("want generation error, got nil")
	}
}
