// Package reasoning implements the Chain-of-Thought, Tree-of-Thoughts, and
// Hybrid side-reasoning engines an orchestrator step may invoke before
// building its prompt, plus the Manager that selects among them.
package reasoning

import (
	"context"
	"time"

	"github.com/stepweave/stepweave/internal/agentstate"
	"github.com/stepweave/stepweave/internal/reasoningkind"
	"github.com/stepweave/stepweave/internal/tool"
)

// Kind identifies which reasoning engine produced a Result.
type Kind = reasoningkind.Kind

const (
	KindChain  = reasoningkind.Chain
	KindTree   = reasoningkind.Tree
	KindHybrid = reasoningkind.Hybrid
)

// Result is the outcome of a single reasoning pass, regardless of engine.
type Result struct {
	Success       bool
	Chain         *agentstate.ReasoningChain
	Tree          *agentstate.ReasoningTree
	Conclusion    string
	Metadata      map[string]any
	ExecutionTime time.Duration
	Error         string
}

// Engine is the contract every reasoning engine implements.
type Engine interface {
	// Reason runs one reasoning pass over goal, with background free-text
	// context (usually recent turn history) and the tool catalog available
	// to the agent for situational awareness.
	Reason(ctx context.Context, goal, background string, tools []tool.Tool) (Result, error)
}

// MetricsSink receives reasoning telemetry. internal/metrics implements
// this; reasoning does not import internal/metrics and depends only on
// this interface.
type MetricsSink interface {
	RecordReasoningExecutionTime(goal string, kind Kind, d time.Duration)
	RecordReasoningConfidence(goal string, kind Kind, mean float64)
}

// toolCatalog renders a short tool listing for prompt context. Reasoning
// engines never invoke tools themselves — they only need the names and
// descriptions to reason about what's available.
func toolCatalog(tools []tool.Tool) string {
	if len(tools) == 0 {
		return "(no tools available)"
	}
	s := ""
	for _, t := range tools {
		s += "- " + t.Name() + ": " + t.Description() + "\n"
	}
	return s
}

func meanConfidence(steps []agentstate.ChainStep) float64 {
	if len(steps) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range steps {
		sum += s.Confidence
	}
	return sum / float64(len(steps))
}
