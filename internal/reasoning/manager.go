package reasoning

import (
	"context"
	"fmt"

	"github.com/stepweave/stepweave/internal/agentstate"
	"github.com/stepweave/stepweave/internal/llm"
	"github.com/stepweave/stepweave/internal/tool"
)

// MaxConclusionRunes caps how much of a reasoning conclusion gets folded
// back into an agent's goal; the model is free to ramble, the goal is not.
const MaxConclusionRunes = 2000

// DefaultCadence is the should_perform_reasoning constant: a reasoning pass
// beyond turn 0 only fires every Cadence-th turn, and only after a failure.
const DefaultCadence = 3

// Manager holds one engine per supported reasoning type and exposes the
// single entry point an orchestrator step uses to run a reasoning pass.
type Manager struct {
	engines map[agentstate.ReasoningType]Engine
	Cadence int
	metrics MetricsSink
}

// NewManager builds a Manager with CoT, ToT, and Hybrid engines backed by
// the given provider. metrics may be nil.
func NewManager(provider llm.LLMProvider, maxChainSteps, maxTreeDepth, maxTreeNodes int, strategy Strategy, metrics MetricsSink) *Manager {
	chain := NewChainEngine(provider, maxChainSteps)
	tree := NewTreeEngine(provider, maxTreeDepth, maxTreeNodes, strategy)
	hybrid := NewHybridEngine(chain, tree)
	return &Manager{
		engines: map[agentstate.ReasoningType]Engine{
			agentstate.ReasoningChain:  chain,
			agentstate.ReasoningTree:   tree,
			agentstate.ReasoningHybrid: hybrid,
		},
		Cadence: DefaultCadence,
		metrics: metrics,
	}
}

// IsSupported reports whether t has a registered engine.
func (m *Manager) IsSupported(t agentstate.ReasoningType) bool {
	_, ok := m.engines[t]
	return ok
}

// SupportedTypes lists the reasoning types this Manager can run.
func (m *Manager) SupportedTypes() []agentstate.ReasoningType {
	types := make([]agentstate.ReasoningType, 0, len(m.engines))
	for t := range m.engines {
		types = append(types, t)
	}
	return types
}

// ShouldPerformReasoning implements the should_perform_reasoning predicate:
// true when reasoning is configured and either this is the first turn, or
// the last turn's tool call failed and the cadence interval has elapsed.
// Side-effect-free.
func (m *Manager) ShouldPerformReasoning(state *agentstate.AgentState, turnIndex int) bool {
	if state.ReasoningType == agentstate.ReasoningNone {
		return false
	}
	if turnIndex == 0 {
		return true
	}
	cadence := m.Cadence
	if cadence <= 0 {
		cadence = DefaultCadence
	}
	last, ok := state.LastTurn()
	if !ok || last.ToolResult == nil || last.ToolResult.Success {
		return false
	}
	return turnIndex%cadence == 0
}

// Reason runs the engine registered for t. It returns an error when no
// engine is registered for t, which includes an empty t.
func (m *Manager) Reason(ctx context.Context, t agentstate.ReasoningType, goal, background string, tools []tool.Tool) (Result, error) {
	engine, ok := m.engines[t]
	if !ok {
		return Result{}, fmt.Errorf("no reasoning engine registered for type %q", t)
	}
	result, err := engine.Reason(ctx, goal, background, tools)
	if err != nil {
		return result, err
	}
	if m.metrics != nil && result.Success {
		m.metrics.RecordReasoningExecutionTime(goal, kindOf(t), result.ExecutionTime)
		if conf, ok := confidenceOf(result); ok {
			m.metrics.RecordReasoningConfidence(goal, kindOf(t), conf)
		}
	}
	return result, nil
}

// GetCurrentChain runs the CoT engine directly and returns the chain.
func (m *Manager) GetCurrentChain(ctx context.Context, goal, background string, tools []tool.Tool) (*agentstate.ReasoningChain, error) {
	result, err := m.Reason(ctx, agentstate.ReasoningChain, goal, background, tools)
	if err != nil {
		return nil, err
	}
	return result.Chain, nil
}

// GetCurrentTree runs the ToT engine directly and returns the tree.
func (m *Manager) GetCurrentTree(ctx context.Context, goal, background string, tools []tool.Tool) (*agentstate.ReasoningTree, error) {
	result, err := m.Reason(ctx, agentstate.ReasoningTree, goal, background, tools)
	if err != nil {
		return nil, err
	}
	return result.Tree, nil
}

// PerformHybrid runs the Hybrid engine directly.
func (m *Manager) PerformHybrid(ctx context.Context, goal, background string, tools []tool.Tool) (Result, error) {
	return m.Reason(ctx, agentstate.ReasoningHybrid, goal, background, tools)
}

func kindOf(t agentstate.ReasoningType) Kind {
	switch t {
	case agentstate.ReasoningChain:
		return KindChain
	case agentstate.ReasoningTree:
		return KindTree
	default:
		return KindHybrid
	}
}

// ApplyToState performs the state-merge rule: on successful reasoning, set
// state.ReasoningType to the engine that actually ran, attach chain/tree,
// merge metadata, and fold a truncated conclusion into state.Goal.
func ApplyToState(state *agentstate.AgentState, t agentstate.ReasoningType, result Result) {
	if !result.Success {
		return
	}
	switch {
	case result.Chain != nil && result.Tree == nil:
		state.ReasoningType = agentstate.ReasoningChain
		state.CurrentReasoningChain = result.Chain
	case result.Tree != nil && result.Chain == nil:
		state.ReasoningType = agentstate.ReasoningTree
		state.CurrentReasoningTree = result.Tree
	default:
		state.ReasoningType = agentstate.ReasoningHybrid
		state.CurrentReasoningChain = result.Chain
		state.CurrentReasoningTree = result.Tree
	}

	if result.Metadata != nil {
		if state.ReasoningMetadata == nil {
			state.ReasoningMetadata = make(map[string]any, len(result.Metadata))
		}
		for k, v := range result.Metadata {
			state.ReasoningMetadata[k] = v
		}
	}

	conclusion := truncateRunes(result.Conclusion, MaxConclusionRunes)
	if conclusion != "" {
		state.Goal = state.Goal + "\n\nReasoning Insights: " + conclusion
	}
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 1 {
		return "…"
	}
	return string(r[:max-1]) + "…"
}

