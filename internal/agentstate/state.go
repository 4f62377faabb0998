// Package agentstate holds the durable, per-agent data model that the
// orchestrator loads, mutates in place, and writes back through a state
// store at the end of every step.
package agentstate

import (
	"time"

	"github.com/google/uuid"
)

// ReasoningType selects which reasoning engine (if any) an agent uses.
type ReasoningType string

const (
	ReasoningNone   ReasoningType = "none"
	ReasoningChain  ReasoningType = "chain"
	ReasoningTree   ReasoningType = "tree"
	ReasoningHybrid ReasoningType = "hybrid"
)

// Action is the normalized action a parsed ModelMessage carries.
type Action string

const (
	ActionToolCall      Action = "tool_call"
	ActionMultiToolCall Action = "multi_tool_call"
	ActionPlan          Action = "plan"
	ActionFinish        Action = "finish"
	ActionRetry         Action = "retry"
)

// AgentState is the durable state of one agent across its whole run.
type AgentState struct {
	AgentID string
	// Goal is mutable: reasoning passes may append "Reasoning Insights: …"
	// to it, but the orchestrator never replaces it wholesale.
	Goal string
	// Turns is append-only within a step. Only the loop-breaker/retry-hint
	// synthesis appends synthetic turns; past turns are never rewritten.
	Turns []AgentTurn

	ReasoningType         ReasoningType
	CurrentReasoningChain *ReasoningChain
	CurrentReasoningTree  *ReasoningTree
	ReasoningMetadata     map[string]any
}

// NextIndex returns the index the next appended turn must carry.
func (s *AgentState) NextIndex() int { return len(s.Turns) }

// AppendTurn appends t after stamping its index and (if empty) its turn id
// and created-at timestamp, preserving the invariant turns[i].index == i.
func (s *AgentState) AppendTurn(t AgentTurn) AgentTurn {
	t.Index = s.NextIndex()
	if t.TurnID == "" {
		t.TurnID = uuid.NewString()
	}
	if t.CreatedUTC.IsZero() {
		t.CreatedUTC = time.Now().UTC()
	}
	s.Turns = append(s.Turns, t)
	return t
}

// LastTurn returns the most recently appended turn, or false if none.
func (s *AgentState) LastTurn() (AgentTurn, bool) {
	if len(s.Turns) == 0 {
		return AgentTurn{}, false
	}
	return s.Turns[len(s.Turns)-1], true
}

// AgentTurn is one orchestrator step's recorded output.
type AgentTurn struct {
	Index       int
	TurnID      string
	LLMMessage  *ModelMessage
	ToolCall    *ToolCallRequest
	ToolResult  *ToolExecutionResult
	ToolCalls   []ToolCallRequest
	ToolResults []ToolExecutionResult
	CreatedUTC  time.Time
}

// ToolCallRequest names the tool and parameters a ModelMessage asked to
// invoke.
type ToolCallRequest struct {
	Tool   string
	Params map[string]any
	Reason string
}

// ModelMessage is a parsed LLM reply.
type ModelMessage struct {
	Thoughts      string
	Action        Action
	ActionRaw     string
	ActionInput   ActionInput
	StatusTitle   *string
	StatusDetails *string
	NextStepHint  *string
	ProgressPct   *int
}

// ActionInput carries the fields relevant to ModelMessage.Action; only the
// fields matching the action are meaningful.
type ActionInput struct {
	// tool_call
	Tool   string
	Params map[string]any
	// multi_tool_call
	ToolCalls []ToolCallRequest
	// plan / retry
	Summary string
	// finish
	Final string
}

// ToolExecutionResult is the outcome of one tool invocation.
type ToolExecutionResult struct {
	Success       bool
	Tool          string
	Params        map[string]any
	Output        any
	Error         string
	ExecutionTime time.Duration
	TurnID        string
	CreatedUTC    time.Time
}

// ChainStep is one step of a Chain-of-Thought reasoning pass.
type ChainStep struct {
	Reasoning  string
	Confidence float64
}

// ReasoningChain is a linear Chain-of-Thought reasoning pass.
type ReasoningChain struct {
	Steps      []ChainStep
	Conclusion string
}

// TreeNode is one node in a Tree-of-Thoughts exploration arena, addressed
// by ID rather than by pointer so cancellation/cleanup never has to walk
// a pointer graph.
type TreeNode struct {
	ID       string
	ParentID string
	Thought  string
	Score    float64
	Depth    int
	Expanded bool
	ChildIDs []string
}

// ReasoningTree is a rooted Tree-of-Thoughts exploration, stored as an
// arena (map keyed by node ID) rather than a pointer graph.
type ReasoningTree struct {
	Nodes               map[string]*TreeNode
	RootID              string
	BestPath            []string
	MaxDepth            int
	MaxNodes            int
	ExplorationStrategy string
	Conclusion          string
}

// NewReasoningTree returns an empty arena ready to receive a root node.
func NewReasoningTree(maxDepth, maxNodes int, strategy string) *ReasoningTree {
	return &ReasoningTree{
		Nodes:               make(map[string]*TreeNode),
		MaxDepth:            maxDepth,
		MaxNodes:            maxNodes,
		ExplorationStrategy: strategy,
	}
}

// AddNode inserts n into the arena, assigning it a fresh ID if empty.
func (t *ReasoningTree) AddNode(n *TreeNode) *TreeNode {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	t.Nodes[n.ID] = n
	if n.ParentID == "" && t.RootID == "" {
		t.RootID = n.ID
	} else if n.ParentID != "" {
		if parent, ok := t.Nodes[n.ParentID]; ok {
			parent.ChildIDs = append(parent.ChildIDs, n.ID)
		}
	}
	return n
}
