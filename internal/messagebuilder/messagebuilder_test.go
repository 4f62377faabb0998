package messagebuilder

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stepweave/stepweave/internal/agentstate"
	"github.com/stepweave/stepweave/internal/llm"
	"github.com/stepweave/stepweave/internal/tool"
)

type fakeTool struct {
	tool.BasicToolOptions
	name   string
	desc   string
	schema json.RawMessage
}

func (f fakeTool) Name() string                 { return f.name }
func (f fakeTool) Description() string          { return f.desc }
func (f fakeTool) InputSchema() json.RawMessage { return f.schema }
func (f fakeTool) Execute(ctx context.Context, args json.RawMessage) (tool.ToolResult, error) {
	return tool.ToolResult{}, nil
}
func (f fakeTool) Init(ctx context.Context) error { return nil }
func (f fakeTool) Close() error                   { return nil }

func TestBuildNeverFewerThanTwoMessages(t *testing.T) {
	state := &agentstate.AgentState{AgentID: "a1", Goal: "do the thing"}
	msgs := Build(state, nil, DefaultConfig())
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages for an empty history, got %d", len(msgs))
	}
	if msgs[0].Role != llm.RoleSystem || msgs[len(msgs)-1].Role != llm.RoleUser {
		t.Fatalf("expected system-first, user-last: %+v", msgs)
	}
	if msgs[len(msgs)-1].Content != "do the thing" {
		t.Fatalf("expected goal message content, got %q", msgs[len(msgs)-1].Content)
	}
}

func TestBuildSystemMessageListsToolsAndStatusBlock(t *testing.T) {
	state := &agentstate.AgentState{AgentID: "a1", Goal: "g"}
	schema := json.RawMessage(`{"type":"object"}`)
	tools := []tool.Tool{fakeTool{name: "search", desc: "search the web", schema: schema}}

	cfg := DefaultConfig()
	msgs := Build(state, tools, cfg)

	sys := msgs[0].Content
	if !strings.Contains(sys, "search") || !strings.Contains(sys, "search the web") {
		t.Fatalf("expected tool catalog entry in system message, got %q", sys)
	}
	if !strings.Contains(sys, "STATUS UPDATES") {
		t.Fatalf("expected status updates block when EmitPublicStatus is true")
	}

	cfg.EmitPublicStatus = false
	msgs2 := Build(state, tools, cfg)
	if strings.Contains(msgs2[0].Content, "STATUS UPDATES") {
		t.Fatalf("expected no status updates block when EmitPublicStatus is false")
	}
}

func TestBuildSummarizesLeadingTurnsBeyondMaxRecent(t *testing.T) {
	state := &agentstate.AgentState{AgentID: "a1", Goal: "g"}
	for i := 0; i < 7; i++ {
		state.AppendTurn(agentstate.AgentTurn{
			LLMMessage: &agentstate.ModelMessage{Thoughts: "thinking", Action: agentstate.ActionToolCall},
			ToolCall:   &agentstate.ToolCallRequest{Tool: "t", Params: map[string]any{"i": i}},
			ToolResult: &agentstate.ToolExecutionResult{Tool: "t", Success: true},
		})
	}

	cfg := DefaultConfig()
	cfg.MaxRecentTurns = 2
	msgs := Build(state, nil, cfg)

	joined := strings.Builder{}
	for _, m := range msgs {
		joined.WriteString(m.Content)
		joined.WriteString("\n")
	}
	if !strings.Contains(joined.String(), "LLM: tool_call") {
		t.Fatalf("expected a summarized leading-turn line, got %q", joined.String())
	}
	if !strings.Contains(joined.String(), "TOOL_CALL:") {
		t.Fatalf("expected recent turns rendered in full detail, got %q", joined.String())
	}
}

func TestBuildTruncatesLargeToolOutput(t *testing.T) {
	state := &agentstate.AgentState{AgentID: "a1", Goal: "g"}
	big := strings.Repeat("x", 5000)
	state.AppendTurn(agentstate.AgentTurn{
		LLMMessage: &agentstate.ModelMessage{Thoughts: "t", Action: agentstate.ActionToolCall},
		ToolCall:   &agentstate.ToolCallRequest{Tool: "t"},
		ToolResult: &agentstate.ToolExecutionResult{Tool: "t", Success: true, Output: big},
	})

	cfg := DefaultConfig()
	cfg.MaxToolOutputSize = 100
	msgs := Build(state, nil, cfg)

	var found bool
	for _, m := range msgs {
		if strings.Contains(m.Content, `"truncated":true`) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a truncated tool output marker in rendered messages")
	}
}
