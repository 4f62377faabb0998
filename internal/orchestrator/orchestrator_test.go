package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stepweave/stepweave/internal/agentstate"
	"github.com/stepweave/stepweave/internal/events"
	"github.com/stepweave/stepweave/internal/llm"
	"github.com/stepweave/stepweave/internal/llmcomm"
	"github.com/stepweave/stepweave/internal/loopdetect"
	"github.com/stepweave/stepweave/internal/messagebuilder"
	"github.com/stepweave/stepweave/internal/statestore/memstore"
	"github.com/stepweave/stepweave/internal/tool"
	"github.com/stepweave/stepweave/internal/toolexec"
)

type fakeProvider struct {
	replies []llm.Message
	i       int
}

func (f *fakeProvider) next() llm.Message {
	if f.i >= len(f.replies) {
		return f.replies[len(f.replies)-1]
	}
	m := f.replies[f.i]
	f.i++
	return m
}
func (f *fakeProvider) CallLLM(context.Context, []llm.Message) (llm.Message, error) {
	return f.next(), nil
}
func (f *fakeProvider) CallLLMStream(ctx context.Context, messages []llm.Message, _ llm.StreamCallback) (llm.Message, error) {
	return f.CallLLM(ctx, messages)
}
func (f *fakeProvider) CallLLMWithTools(context.Context, []llm.Message, []llm.ToolDefinition) (llm.Message, error) {
	return f.next(), nil
}
func (f *fakeProvider) SupportsFunctionCalling() bool { return false }
func (f *fakeProvider) GetName() string               { return "fake" }

type echoTool struct {
	tool.BasicToolOptions
	fail bool
}

func (echoTool) Name() string                 { return "echo" }
func (echoTool) Description() string          { return "echoes back its input" }
func (echoTool) InputSchema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (echoTool) Init(context.Context) error   { return nil }
func (echoTool) Close() error                 { return nil }
func (e echoTool) Execute(_ context.Context, args json.RawMessage) (tool.ToolResult, error) {
	if e.fail {
		return tool.ToolResult{Error: "always fails"}, nil
	}
	return tool.ToolResult{Output: string(args)}, nil
}

func newOrchestrator(provider llm.LLMProvider, tools ...tool.Tool) *Orchestrator {
	reg := tool.NewRegistry()
	for _, t := range tools {
		reg.Register(t)
	}
	return &Orchestrator{
		Store:         memstore.New(time.Minute),
		Tools:         reg,
		MessageConfig: messagebuilder.DefaultConfig(),
		Communicator:  &llmcomm.Communicator{Provider: provider},
		Executor:      toolexec.New(reg),
		LoopDetector:  loopdetect.New(),
		Events:        events.NewManager(nil),
		Config:        Config{MaxTurns: DefaultMaxTurns},
	}
}

func jsonMsg(s string) llm.Message { return llm.Message{Content: s} }

func TestStepFinishStopsContinuation(t *testing.T) {
	o := newOrchestrator(&fakeProvider{replies: []llm.Message{
		jsonMsg(`{"thoughts":"done","action":"finish","action_input":{"final":"42"}}`),
	}})
	state := &agentstate.AgentState{AgentID: "a1", Goal: "answer"}

	result, err := o.Step(context.Background(), state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Continue {
		t.Fatalf("expected finish to stop continuation")
	}
	if result.FinalOutput != "42" {
		t.Fatalf("final output = %q", result.FinalOutput)
	}
	if len(state.Turns) != 1 {
		t.Fatalf("expected one turn appended, got %d", len(state.Turns))
	}
}

func TestStepToolCallExecutesAndContinues(t *testing.T) {
	o := newOrchestrator(&fakeProvider{replies: []llm.Message{
		jsonMsg(`{"thoughts":"go","action":"tool_call","action_input":{"tool":"echo","params":{"x":1}}}`),
	}}, echoTool{})
	state := &agentstate.AgentState{AgentID: "a1", Goal: "g"}

	result, err := o.Step(context.Background(), state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Continue || !result.ExecutedTool {
		t.Fatalf("expected a continuing, executed step: %+v", result)
	}
	if result.ToolResult == nil || !result.ToolResult.Success {
		t.Fatalf("expected a successful tool result: %+v", result.ToolResult)
	}
	if len(state.Turns) != 1 || state.Turns[0].ToolCall.Tool != "echo" {
		t.Fatalf("expected a tool_call turn recorded")
	}
}

func TestStepToolFailureAppendsRetryHint(t *testing.T) {
	o := newOrchestrator(&fakeProvider{replies: []llm.Message{
		jsonMsg(`{"thoughts":"go","action":"tool_call","action_input":{"tool":"echo","params":{"x":1}}}`),
	}}, echoTool{fail: true})
	state := &agentstate.AgentState{AgentID: "a1", Goal: "g"}

	result, err := o.Step(context.Background(), state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Continue {
		t.Fatalf("a failed tool call should not stop the step")
	}
	if len(state.Turns) != 2 {
		t.Fatalf("expected the tool turn plus a retry-hint turn, got %d", len(state.Turns))
	}
	if state.Turns[1].LLMMessage.Action != agentstate.ActionRetry {
		t.Fatalf("expected the follow-up turn to carry a retry action")
	}
}

func TestStepDedupesRepeatedSuccessfulToolCall(t *testing.T) {
	provider := &fakeProvider{replies: []llm.Message{
		jsonMsg(`{"thoughts":"go","action":"tool_call","action_input":{"tool":"echo","params":{"x":1}}}`),
		jsonMsg(`{"thoughts":"again","action":"tool_call","action_input":{"tool":"echo","params":{"x":1}}}`),
	}}
	o := newOrchestrator(provider, echoTool{})
	state := &agentstate.AgentState{AgentID: "a1", Goal: "g"}

	if _, err := o.Step(context.Background(), state); err != nil {
		t.Fatalf("first step: %v", err)
	}
	first := state.Turns[0].ToolResult

	if _, err := o.Step(context.Background(), state); err != nil {
		t.Fatalf("second step: %v", err)
	}
	second := state.Turns[len(state.Turns)-1]
	if second.ToolResult == nil || second.ToolResult.TurnID != first.TurnID {
		t.Fatalf("expected the second identical call to reuse the first result's turn id")
	}
}

func TestStepInvalidModelOutputContinuesWithoutToolExecution(t *testing.T) {
	o := newOrchestrator(&fakeProvider{replies: []llm.Message{jsonMsg("not json at all")}})
	state := &agentstate.AgentState{AgentID: "a1", Goal: "g"}

	result, err := o.Step(context.Background(), state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Continue || result.ExecutedTool {
		t.Fatalf("expected a non-fatal, no-tool-executed step: %+v", result)
	}
	if len(state.Turns) != 1 {
		t.Fatalf("expected one synthesized error turn, got %d", len(state.Turns))
	}
	toolResult := state.Turns[0].ToolResult
	if toolResult == nil || toolResult.Success || !strings.Contains(toolResult.Error, "Invalid LLM JSON") {
		t.Fatalf("expected a failed tool result mentioning Invalid LLM JSON, got %+v", toolResult)
	}
}

func TestRunStopsAtFinish(t *testing.T) {
	o := newOrchestrator(&fakeProvider{replies: []llm.Message{
		jsonMsg(`{"thoughts":"go","action":"tool_call","action_input":{"tool":"echo","params":{"x":1}}}`),
		jsonMsg(`{"thoughts":"done","action":"finish","action_input":{"final":"ok"}}`),
	}}, echoTool{})
	o.Config.MaxTurns = 10

	state, err := o.Run(context.Background(), "a1", "goal", agentstate.ReasoningNone)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(state.Turns) != 2 {
		t.Fatalf("expected exactly 2 turns (tool call then finish), got %d", len(state.Turns))
	}
}

func TestRunRespectsMaxTurns(t *testing.T) {
	o := newOrchestrator(&fakeProvider{replies: []llm.Message{
		jsonMsg(`{"thoughts":"go","action":"tool_call","action_input":{"tool":"echo","params":{"x":1}}}`),
	}}, echoTool{})
	o.Config.MaxTurns = 3

	state, err := o.Run(context.Background(), "a1", "goal", agentstate.ReasoningNone)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(state.Turns) < 3 {
		t.Fatalf("expected at least MaxTurns turns recorded, got %d", len(state.Turns))
	}
}
