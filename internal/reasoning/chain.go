package reasoning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stepweave/stepweave/internal/agentstate"
	"github.com/stepweave/stepweave/internal/core"
	"github.com/stepweave/stepweave/internal/llm"
	"github.com/stepweave/stepweave/internal/tool"
	"gopkg.in/yaml.v3"
)

// DefaultMaxChainSteps bounds a Chain-of-Thought pass so a model that never
// sets next_step_needed: false cannot loop forever.
const DefaultMaxChainSteps = 8

// ChainEngine produces a linear Chain-of-Thought reasoning pass: a sequence
// of {reasoning, confidence} steps ending in a conclusion.
type ChainEngine struct {
	Provider   llm.LLMProvider
	MaxSteps   int
	MaxRetries int
}

// NewChainEngine returns a ChainEngine with the given step budget. A
// maxSteps <= 0 falls back to DefaultMaxChainSteps.
func NewChainEngine(provider llm.LLMProvider, maxSteps int) *ChainEngine {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxChainSteps
	}
	return &ChainEngine{Provider: provider, MaxSteps: maxSteps, MaxRetries: 1}
}

type chainState struct {
	goal       string
	background string
	catalog    string
	steps      []agentstate.ChainStep
	conclusion string
	failed     string
}

type chainPrep struct {
	stepNo int
}

type chainExec struct {
	reasoning        string
	confidence       float64
	conclusion       string
	nextStepNeeded   bool
	err              string
}

// chainNode adapts ChainEngine's single-step LLM exchange to core.BaseNode.
// pendingState lets Exec (which has no state parameter in the BaseNode
// contract) reach the chain's running state; a chainNode is built fresh
// for each Reason call and never shared across goroutines.
type chainNode struct {
	engine       *ChainEngine
	pendingState *chainState
}

func (n *chainNode) Prep(state *chainState) []chainPrep {
	if len(state.steps) >= n.engine.MaxSteps {
		return nil
	}
	return []chainPrep{{stepNo: len(state.steps) + 1}}
}

func (n *chainNode) Exec(ctx context.Context, prep chainPrep) (chainExec, error) {
	state := n.pendingState
	prompt := buildChainPrompt(state, prep.stepNo)

	resp, err := n.engine.Provider.CallLLM(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	})
	if err != nil {
		return chainExec{}, fmt.Errorf("chain step %d: llm call: %w", prep.stepNo, err)
	}

	block, err := extractYAMLBlock(resp.Content)
	if err != nil {
		return chainExec{}, fmt.Errorf("chain step %d: extract yaml: %w", prep.stepNo, err)
	}

	var parsed struct {
		Reasoning         string  `yaml:"reasoning"`
		Confidence        float64 `yaml:"confidence"`
		NextStepNeeded    bool    `yaml:"next_step_needed"`
		Conclusion        string  `yaml:"conclusion"`
	}
	if err := yaml.Unmarshal([]byte(block), &parsed); err != nil {
		return chainExec{}, fmt.Errorf("chain step %d: parse yaml: %w", prep.stepNo, err)
	}
	if strings.TrimSpace(parsed.Reasoning) == "" {
		return chainExec{}, fmt.Errorf("chain step %d: empty reasoning", prep.stepNo)
	}
	if parsed.Confidence <= 0 {
		parsed.Confidence = 0.5
	}

	return chainExec{
		reasoning:      strings.TrimSpace(parsed.Reasoning),
		confidence:     parsed.Confidence,
		conclusion:     strings.TrimSpace(parsed.Conclusion),
		nextStepNeeded: parsed.NextStepNeeded,
	}, nil
}

func (n *chainNode) Post(state *chainState, preps []chainPrep, execs ...chainExec) core.Action {
	if len(preps) == 0 {
		return core.ActionEnd
	}
	if len(execs) == 0 {
		return core.ActionEnd
	}
	e := execs[0]
	if e.err != "" {
		state.failed = e.err
		return core.ActionEnd
	}
	state.steps = append(state.steps, agentstate.ChainStep{Reasoning: e.reasoning, Confidence: e.confidence})
	if !e.nextStepNeeded || len(state.steps) >= n.engine.MaxSteps {
		if e.conclusion != "" {
			state.conclusion = e.conclusion
		} else {
			state.conclusion = e.reasoning
		}
		return core.ActionEnd
	}
	return core.ActionContinue
}

func (n *chainNode) ExecFallback(err error) chainExec {
	return chainExec{err: err.Error()}
}

func buildChainPrompt(state *chainState, stepNo int) string {
	var sb strings.Builder
	sb.WriteString("Goal:\n")
	sb.WriteString(state.goal)
	sb.WriteString("\n\nContext:\n")
	sb.WriteString(state.background)
	sb.WriteString("\n\nAvailable tools:\n")
	sb.WriteString(state.catalog)
	if len(state.steps) > 0 {
		sb.WriteString("\n\nPrevious reasoning steps:\n")
		for i, s := range state.steps {
			fmt.Fprintf(&sb, "%d. %s (confidence %.2f)\n", i+1, s.Reasoning, s.Confidence)
		}
	}
	fmt.Fprintf(&sb, "\nProduce reasoning step %d. Reply with a ```yaml fenced block containing "+
		"reasoning (string), confidence (0-1 float), next_step_needed (bool), and, only when "+
		"next_step_needed is false, conclusion (string) summarizing the final answer.\n", stepNo)
	return sb.String()
}

// Reason implements Engine.
func (e *ChainEngine) Reason(ctx context.Context, goal, background string, tools []tool.Tool) (Result, error) {
	start := time.Now()
	state := &chainState{goal: goal, background: background, catalog: toolCatalog(tools)}

	node := &chainNode{engine: e, pendingState: state}

	wrapped := core.NewNode[chainState, chainPrep, chainExec](node, e.MaxRetries)
	wrapped.AddSuccessor(wrapped, core.ActionContinue)
	flow := core.NewFlow[chainState](wrapped)
	flow.Run(ctx, state)

	elapsed := time.Since(start)
	if state.failed != "" || len(state.steps) == 0 {
		errMsg := state.failed
		if errMsg == "" {
			errMsg = "chain-of-thought produced no steps"
		}
		return Result{Success: false, Error: errMsg, ExecutionTime: elapsed}, nil
	}

	chain := &agentstate.ReasoningChain{Steps: state.steps, Conclusion: state.conclusion}
	return Result{
		Success:       true,
		Chain:         chain,
		Conclusion:    state.conclusion,
		Metadata:      map[string]any{"steps": len(state.steps), "mean_confidence": meanConfidence(state.steps)},
		ExecutionTime: elapsed,
	}, nil
}

// extractYAMLBlock pulls a fenced ```yaml or ``` block out of free-form LLM
// text, falling back to the whole trimmed response when no fence is found.
func extractYAMLBlock(content string) (string, error) {
	if idx := strings.Index(content, "```yaml"); idx >= 0 {
		rest := content[idx+len("```yaml"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end]), nil
		}
	}
	if idx := strings.Index(content, "```"); idx >= 0 {
		rest := content[idx+3:]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end]), nil
		}
	}
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", fmt.Errorf("empty response")
	}
	return trimmed, nil
}
