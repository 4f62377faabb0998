// Package events is the orchestrator's pub/sub Event Manager and the
// Status Manager gate sitting in front of it. Handlers are user-supplied
// and run synchronously on the emitting goroutine: a handler must not
// block, and a handler panic propagates to the caller rather than being
// swallowed, mirroring how a direct function call would behave.
package events

import (
	"time"

	"go.uber.org/zap"

	"github.com/stepweave/stepweave/internal/agentstate"
)

// Type names every event the Manager can emit.
type Type string

const (
	TypeRunStarted        Type = "run_started"
	TypeRunCompleted      Type = "run_completed"
	TypeStepStarted       Type = "step_started"
	TypeStepCompleted     Type = "step_completed"
	TypeLlmCallStarted    Type = "llm_call_started"
	TypeLlmCallCompleted  Type = "llm_call_completed"
	TypeToolCallStarted   Type = "tool_call_started"
	TypeToolCallCompleted Type = "tool_call_completed"
	TypeStatusUpdate      Type = "status_update"
)

// Event is the envelope delivered to every subscribed Handler.
type Event struct {
	Type      Type
	AgentID   string
	TurnIndex int
	Payload   any
}

// LlmCallCompletedPayload carries the parsed reply (if any) and/or the
// failure message for an LlmCallCompleted event.
type LlmCallCompletedPayload struct {
	Message *agentstate.ModelMessage
	Error   string
}

// ToolCallStartedPayload names the tool and arguments about to run.
type ToolCallStartedPayload struct {
	Name   string
	Params map[string]any
}

// ToolCallCompletedPayload carries a tool call's outcome.
type ToolCallCompletedPayload struct {
	Name    string
	Success bool
	Output  any
	Error   string
	Elapsed time.Duration
}

// StatusUpdatePayload mirrors emit_status's parameters verbatim — nulls
// and out-of-range percentages are forwarded unchanged, never clamped.
type StatusUpdatePayload struct {
	Title        string
	Details      *string
	NextStepHint *string
	ProgressPct  *int
}

// Handler receives every emitted Event. Implementations must not block.
type Handler func(Event)

// Manager is a synchronous, multi-subscriber event bus.
type Manager struct {
	logger   *zap.Logger
	handlers []Handler
}

// NewManager returns a Manager that logs its own dispatch activity via
// logger (pass zap.NewNop() to silence it).
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger}
}

// Subscribe registers h to receive every future Emit call. Not safe to
// call concurrently with Emit; subscribe during setup, before the
// orchestrator starts running agents.
func (m *Manager) Subscribe(h Handler) {
	m.handlers = append(m.handlers, h)
}

// Emit delivers e to every subscriber in registration order. A handler
// panic is not recovered — it propagates to Emit's caller, same as a
// direct function call would.
func (m *Manager) Emit(e Event) {
	m.logger.Debug("event", zap.String("type", string(e.Type)), zap.String("agent_id", e.AgentID), zap.Int("turn_index", e.TurnIndex))
	for _, h := range m.handlers {
		h(e)
	}
}

// RunStarted emits TypeRunStarted.
func (m *Manager) RunStarted(agentID string) {
	m.Emit(Event{Type: TypeRunStarted, AgentID: agentID})
}

// RunCompleted emits TypeRunCompleted.
func (m *Manager) RunCompleted(agentID string) {
	m.Emit(Event{Type: TypeRunCompleted, AgentID: agentID})
}

// StepStarted emits TypeStepStarted.
func (m *Manager) StepStarted(agentID string, turnIndex int) {
	m.Emit(Event{Type: TypeStepStarted, AgentID: agentID, TurnIndex: turnIndex})
}

// StepCompleted emits TypeStepCompleted.
func (m *Manager) StepCompleted(agentID string, turnIndex int) {
	m.Emit(Event{Type: TypeStepCompleted, AgentID: agentID, TurnIndex: turnIndex})
}

// LlmCallStarted implements llmcomm.EventSink.
func (m *Manager) LlmCallStarted(agentID string, turnIndex int) {
	m.Emit(Event{Type: TypeLlmCallStarted, AgentID: agentID, TurnIndex: turnIndex})
}

// LlmCallCompleted implements llmcomm.EventSink.
func (m *Manager) LlmCallCompleted(agentID string, turnIndex int, success bool) {
	payload := LlmCallCompletedPayload{}
	if !success {
		payload.Error = "llm call failed"
	}
	m.Emit(Event{Type: TypeLlmCallCompleted, AgentID: agentID, TurnIndex: turnIndex, Payload: payload})
}

// LlmCallCompletedWithMessage is the richer variant the orchestrator uses
// when it has the parsed ModelMessage in hand.
func (m *Manager) LlmCallCompletedWithMessage(agentID string, turnIndex int, message *agentstate.ModelMessage, errMsg string) {
	m.Emit(Event{Type: TypeLlmCallCompleted, AgentID: agentID, TurnIndex: turnIndex, Payload: LlmCallCompletedPayload{Message: message, Error: errMsg}})
}

// ToolCallStarted implements toolexec.EventSink.
func (m *Manager) ToolCallStarted(agentID string, turnIndex int, name string, params map[string]any) {
	m.Emit(Event{Type: TypeToolCallStarted, AgentID: agentID, TurnIndex: turnIndex, Payload: ToolCallStartedPayload{Name: name, Params: params}})
}

// ToolCallCompleted implements toolexec.EventSink.
func (m *Manager) ToolCallCompleted(agentID string, turnIndex int, name string, success bool, output any, errMsg string, elapsed time.Duration) {
	m.Emit(Event{Type: TypeToolCallCompleted, AgentID: agentID, TurnIndex: turnIndex, Payload: ToolCallCompletedPayload{
		Name: name, Success: success, Output: output, Error: errMsg, Elapsed: elapsed,
	}})
}

// StatusManager gates StatusUpdate emission behind emit_public_status.
type StatusManager struct {
	Manager          *Manager
	EmitPublicStatus bool
}

// NewStatusManager returns a StatusManager forwarding to mgr.
func NewStatusManager(mgr *Manager, emitPublicStatus bool) *StatusManager {
	return &StatusManager{Manager: mgr, EmitPublicStatus: emitPublicStatus}
}

// EmitStatus forwards to the Event Manager iff EmitPublicStatus is true;
// otherwise it is a no-op. Values pass through unchanged, never clamped.
func (s *StatusManager) EmitStatus(agentID, title string, details, nextStepHint *string, progressPct *int) {
	if !s.EmitPublicStatus {
		return
	}
	s.Manager.Emit(Event{Type: TypeStatusUpdate, AgentID: agentID, Payload: StatusUpdatePayload{
		Title: title, Details: details, NextStepHint: nextStepHint, ProgressPct: progressPct,
	}})
}

// Status implements llmcomm.StatusSink and toolexec.StatusSink with a
// two-string (title, details) shape.
func (s *StatusManager) Status(agentID, title, details string) {
	var d *string
	if details != "" {
		d = &details
	}
	s.EmitStatus(agentID, title, d, nil, nil)
}
