// Package orchestrator drives the per-agent step state machine: a
// pre-reasoning check, prompt construction, an LLM call, response
// dispatch (tool invocation, plan/retry bookkeeping, or finish), and
// state persistence, wiring together every other component in the
// module.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stepweave/stepweave/internal/agentstate"
	"github.com/stepweave/stepweave/internal/canon"
	"github.com/stepweave/stepweave/internal/events"
	"github.com/stepweave/stepweave/internal/llm"
	"github.com/stepweave/stepweave/internal/llmcomm"
	"github.com/stepweave/stepweave/internal/loopdetect"
	"github.com/stepweave/stepweave/internal/messagebuilder"
	"github.com/stepweave/stepweave/internal/metrics"
	"github.com/stepweave/stepweave/internal/orchconfig"
	"github.com/stepweave/stepweave/internal/reasoning"
	"github.com/stepweave/stepweave/internal/statestore"
	"github.com/stepweave/stepweave/internal/tool"
	"github.com/stepweave/stepweave/internal/toolexec"
)

// DefaultMaxTurns is the caller-enforced upper bound on step count per run
// when Config.MaxTurns is zero.
const DefaultMaxTurns = 10

// StepResult is the outcome of exactly one orchestrator step.
type StepResult struct {
	Continue     bool
	ExecutedTool bool
	ToolResult   *agentstate.ToolExecutionResult
	LLMMessage   *agentstate.ModelMessage
	FinalOutput  string
	Err          error
}

// Config holds the orchestrator's own tunables, independent of the
// sub-component configs it wires together.
type Config struct {
	UseFunctionCalling bool
	MaxTurns           int
}

// DefaultConfig matches the documented defaults.
func DefaultConfig() Config {
	return Config{UseFunctionCalling: false, MaxTurns: DefaultMaxTurns}
}

// Orchestrator drives one agent's step loop. Every field is exported so
// callers can assemble a custom wiring; New provides the reference
// wiring described by orchconfig.Config.
type Orchestrator struct {
	Store         statestore.Store
	Tools         *tool.Registry
	MessageConfig messagebuilder.Config
	Communicator  *llmcomm.Communicator
	Executor      *toolexec.Executor
	LoopDetector  *loopdetect.Detector
	Reasoning     *reasoning.Manager
	Events        *events.Manager
	Status        *events.StatusManager
	Metrics       *metrics.Collector
	Config        Config
}

// New wires a reference Orchestrator from env-driven tunables, a provider,
// a tool registry, a state store, and an event bus.
func New(cfg orchconfig.Config, provider llm.LLMProvider, registry *tool.Registry, store statestore.Store, evMgr *events.Manager) *Orchestrator {
	if evMgr == nil {
		evMgr = events.NewManager(nil)
	}
	statusMgr := events.NewStatusManager(evMgr, cfg.EmitPublicStatus)
	metricsCollector := metrics.New(cfg.MetricsNamespace)

	comm := &llmcomm.Communicator{
		Provider: provider,
		Timeout:  cfg.LLMTimeout,
		Events:   evMgr,
		Status:   statusMgr,
		Metrics:  metricsCollector,
	}
	exec := &toolexec.Executor{
		Registry: registry,
		Timeout:  cfg.ToolTimeout,
		Events:   evMgr,
		Metrics:  metricsCollector,
		Status:   statusMgr,
	}
	detector := &loopdetect.Detector{
		WindowSize:          cfg.LoopWindowSize,
		FailureThreshold:    cfg.LoopFailureThreshold,
		SimilarityThreshold: cfg.LoopSimilarityThreshold,
	}
	reasoningMgr := reasoning.NewManager(
		provider,
		reasoning.DefaultMaxChainSteps,
		reasoning.DefaultMaxTreeDepth,
		reasoning.DefaultMaxTreeNodes,
		reasoning.StrategyBestFirst,
		metricsCollector,
	)

	return &Orchestrator{
		Store: store,
		Tools: registry,
		MessageConfig: messagebuilder.Config{
			MaxRecentTurns:             cfg.MaxRecentTurns,
			EnableHistorySummarization: cfg.EnableHistorySummarization,
			MaxToolOutputSize:          cfg.MaxToolOutputSize,
			EmitPublicStatus:           cfg.EmitPublicStatus,
		},
		Communicator: comm,
		Executor:     exec,
		LoopDetector: detector,
		Reasoning:    reasoningMgr,
		Events:       evMgr,
		Status:       statusMgr,
		Metrics:      metricsCollector,
		Config:       Config{UseFunctionCalling: false, MaxTurns: cfg.MaxSteps},
	}
}

// Run loads (or creates) agentID's state, then steps it until it stops
// continuing or MaxTurns is reached, persisting after every step.
func (o *Orchestrator) Run(ctx context.Context, agentID, goal string, reasoningType agentstate.ReasoningType) (*agentstate.AgentState, error) {
	state, ok, err := o.Store.Load(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if !ok {
		state = &agentstate.AgentState{AgentID: agentID, Goal: goal, ReasoningType: reasoningType}
	}

	if o.Events != nil {
		o.Events.RunStarted(agentID)
	}
	if o.Metrics != nil {
		o.Metrics.RecordAgentRun(agentID)
	}
	defer func() {
		if o.Events != nil {
			o.Events.RunCompleted(agentID)
		}
	}()

	maxTurns := o.Config.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	for i := 0; i < maxTurns; i++ {
		result, err := o.Step(ctx, state)
		if err != nil {
			return state, err
		}
		if !result.Continue {
			break
		}
	}
	return state, nil
}

// Step executes exactly one step of the algorithm against state, mutating
// it in place and persisting it through the Store before returning.
func (o *Orchestrator) Step(ctx context.Context, state *agentstate.AgentState) (StepResult, error) {
	if err := ctx.Err(); err != nil {
		return StepResult{Err: err}, err
	}

	turnIndex := state.NextIndex()
	if o.Events != nil {
		o.Events.StepStarted(state.AgentID, turnIndex)
	}
	if o.Metrics != nil {
		o.Metrics.RecordStep(state.AgentID)
	}

	// 1. Pre-reasoning decision. Never fatal to the step.
	if o.Reasoning != nil && o.Reasoning.ShouldPerformReasoning(state, turnIndex) {
		result, err := o.Reasoning.Reason(ctx, state.ReasoningType, state.Goal, recentBackground(state), o.Tools.List())
		if err != nil {
			log.Printf("[Orchestrator] reasoning pass failed: %v", err)
		} else {
			reasoning.ApplyToState(state, state.ReasoningType, result)
		}
	}

	// 2. Build prompt.
	messages := messagebuilder.Build(state, o.Tools.List(), o.MessageConfig)

	// 3 & 4. LLM call + parse.
	turnID := uuid.NewString()
	modelMsg := o.callLLM(ctx, messages, state, turnIndex, turnID)

	var result StepResult
	if modelMsg == nil {
		if o.Status != nil {
			o.Status.Status(state.AgentID, "Invalid model output", "")
		}
		result = StepResult{Continue: true, ExecutedTool: false}
	} else {
		result = o.dispatch(ctx, state, turnIndex, turnID, modelMsg)
	}

	// 6. Persist.
	if o.Store != nil {
		if err := o.Store.Save(ctx, state.AgentID, state); err != nil {
			if result.Err == nil {
				result.Err = fmt.Errorf("save state: %w", err)
			}
		}
	}

	// 7. Emit.
	if o.Events != nil {
		o.Events.StepCompleted(state.AgentID, turnIndex)
	}

	return result, result.Err
}

// callLLM implements step 3/4: prefer function calling when configured and
// supported, falling back to text completion on llm.ErrUnsupported. When
// the provider returned no function call, its assistant content is parsed
// as a JSON reply without a second call.
func (o *Orchestrator) callLLM(ctx context.Context, messages []llm.Message, state *agentstate.AgentState, turnIndex int, turnID string) *agentstate.ModelMessage {
	if !o.Config.UseFunctionCalling {
		return o.Communicator.CallAndParse(ctx, messages, state.AgentID, turnIndex, turnID, state)
	}

	toolDefs := o.Tools.GenerateToolDefinitions()
	fr, err := o.Communicator.CallWithFunctions(ctx, messages, toolDefs, state.AgentID, turnIndex)
	switch {
	case err == nil && fr.HasFunctionCall:
		msg, nerr := llmcomm.NormalizeFunctionCallToReact(fr, turnIndex)
		if nerr != nil {
			appendFailedTurn(state, turnID, nerr.Error())
			return nil
		}
		return msg
	case err == nil:
		return o.Communicator.ParseJSONResponse(fr.AssistantContent, turnIndex, turnID, state)
	case errors.Is(err, llm.ErrUnsupported):
		return o.Communicator.CallAndParse(ctx, messages, state.AgentID, turnIndex, turnID, state)
	default:
		appendFailedTurn(state, turnID, fmt.Sprintf("LLM call failed: %v", err))
		return nil
	}
}

// dispatch implements step 5: routing by the parsed action.
func (o *Orchestrator) dispatch(ctx context.Context, state *agentstate.AgentState, turnIndex int, turnID string, msg *agentstate.ModelMessage) StepResult {
	switch msg.Action {
	case agentstate.ActionPlan, agentstate.ActionRetry:
		state.AppendTurn(agentstate.AgentTurn{TurnID: turnID, LLMMessage: msg})
		return StepResult{Continue: true, LLMMessage: msg}

	case agentstate.ActionFinish:
		state.AppendTurn(agentstate.AgentTurn{TurnID: turnID, LLMMessage: msg})
		return StepResult{LLMMessage: msg, FinalOutput: msg.ActionInput.Final}

	case agentstate.ActionToolCall:
		return o.dispatchSingleTool(ctx, state, turnIndex, msg, msg.ActionInput.Tool, msg.ActionInput.Params)

	case agentstate.ActionMultiToolCall:
		return o.dispatchMultiTool(ctx, state, turnIndex, msg, msg.ActionInput.ToolCalls)

	default:
		state.AppendTurn(agentstate.AgentTurn{TurnID: turnID, LLMMessage: msg})
		return StepResult{Continue: true, LLMMessage: msg}
	}
}

// dispatchSingleTool implements §4.1.a: canonical-hash dedup against prior
// successful turns, a loop-breaker precheck, invocation, and a retry-hint
// (plus a second loop-breaker turn if the failure itself forms a pattern).
func (o *Orchestrator) dispatchSingleTool(ctx context.Context, state *agentstate.AgentState, turnIndex int, llmMsg *agentstate.ModelMessage, toolName string, params map[string]any) StepResult {
	turnID := canon.Hash(toolName, params)

	if t, found := o.Tools.Get(toolName); found && t.AllowDedupe() {
		if prior, ok := findDedupeMatch(state, turnID, dedupeTTL(t)); ok {
			state.AppendTurn(agentstate.AgentTurn{
				TurnID:     turnID,
				LLMMessage: llmMsg,
				ToolCall:   &agentstate.ToolCallRequest{Tool: toolName, Params: params},
				ToolResult: prior,
			})
			return StepResult{Continue: true, ExecutedTool: true, ToolResult: prior, LLMMessage: llmMsg}
		}
	}

	if o.LoopDetector != nil && o.LoopDetector.DetectRepeatedFailures(state.Turns, toolName, params) {
		appendControllerRetry(state, "you are repeating the same failing call; try something else")
	}

	result := o.Executor.Execute(ctx, toolName, params, state.AgentID, turnIndex)

	state.AppendTurn(agentstate.AgentTurn{
		TurnID:     turnID,
		LLMMessage: llmMsg,
		ToolCall:   &agentstate.ToolCallRequest{Tool: toolName, Params: params},
		ToolResult: &result,
	})

	if !result.Success {
		appendControllerRetry(state, fmt.Sprintf("the last tool call failed with: %s; consider an alternative", result.Error))
		if o.LoopDetector != nil {
			if r := o.LoopDetector.Check(state.Turns); r.Detected {
				appendControllerRetry(state, "loop detected: "+r.Description)
			}
		}
	}

	return StepResult{Continue: true, ExecutedTool: true, ToolResult: &result, LLMMessage: llmMsg}
}

// dispatchMultiTool runs every sub-call in order, composing one turn whose
// parallel ToolCalls/ToolResults sequences mirror the shape Message
// Builder already renders for multi-tool history. A cancellation aborts
// the batch; individual tool failures do not (every attempted call is
// still appended, per §4.1's multi_tool_call rule).
func (o *Orchestrator) dispatchMultiTool(ctx context.Context, state *agentstate.AgentState, turnIndex int, llmMsg *agentstate.ModelMessage, calls []agentstate.ToolCallRequest) StepResult {
	var toolCalls []agentstate.ToolCallRequest
	var toolResults []agentstate.ToolExecutionResult
	anyFailed := false
	cancelled := false

	for _, c := range calls {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		callTurnID := canon.Hash(c.Tool, c.Params)
		if t, found := o.Tools.Get(c.Tool); found && t.AllowDedupe() {
			if prior, ok := findDedupeMatch(state, callTurnID, dedupeTTL(t)); ok {
				toolCalls = append(toolCalls, c)
				toolResults = append(toolResults, *prior)
				continue
			}
		}

		if o.LoopDetector != nil && o.LoopDetector.DetectRepeatedFailures(state.Turns, c.Tool, c.Params) {
			appendControllerRetry(state, "you are repeating the same failing call; try something else")
		}

		result := o.Executor.Execute(ctx, c.Tool, c.Params, state.AgentID, turnIndex)
		toolCalls = append(toolCalls, c)
		toolResults = append(toolResults, result)
		if !result.Success {
			anyFailed = true
		}
	}

	state.AppendTurn(agentstate.AgentTurn{
		LLMMessage:  llmMsg,
		ToolCalls:   toolCalls,
		ToolResults: toolResults,
	})

	if anyFailed {
		appendControllerRetry(state, "one or more tool calls in the last batch failed; consider an alternative")
		if o.LoopDetector != nil {
			if r := o.LoopDetector.Check(state.Turns); r.Detected {
				appendControllerRetry(state, "loop detected: "+r.Description)
			}
		}
	}

	if cancelled {
		return StepResult{Continue: false, ExecutedTool: len(toolResults) > 0, LLMMessage: llmMsg, Err: ctx.Err()}
	}
	return StepResult{Continue: true, ExecutedTool: true, LLMMessage: llmMsg}
}

func appendControllerRetry(state *agentstate.AgentState, thoughts string) {
	state.AppendTurn(agentstate.AgentTurn{
		LLMMessage: &agentstate.ModelMessage{Thoughts: thoughts, Action: agentstate.ActionRetry},
	})
}

func appendFailedTurn(state *agentstate.AgentState, turnID, reason string) {
	state.AppendTurn(agentstate.AgentTurn{
		TurnID:     turnID,
		LLMMessage: &agentstate.ModelMessage{Thoughts: reason, Action: agentstate.ActionRetry},
	})
}

func dedupeTTL(t tool.Tool) time.Duration {
	if ttl := t.CustomTTL(); ttl > 0 {
		return ttl
	}
	return tool.DefaultDedupeTTL
}

// findDedupeMatch scans state's turns, most recent first, for a prior
// successful tool result carrying turnID, within ttl.
func findDedupeMatch(state *agentstate.AgentState, turnID string, ttl time.Duration) (*agentstate.ToolExecutionResult, bool) {
	now := time.Now()
	for i := len(state.Turns) - 1; i >= 0; i-- {
		t := state.Turns[i]
		if t.ToolResult != nil && t.ToolResult.TurnID == turnID && t.ToolResult.Success && now.Sub(t.ToolResult.CreatedUTC) <= ttl {
			r := *t.ToolResult
			return &r, true
		}
		for _, r := range t.ToolResults {
			if r.TurnID == turnID && r.Success && now.Sub(r.CreatedUTC) <= ttl {
				rc := r
				return &rc, true
			}
		}
	}
	return nil, false
}

// recentBackground renders a short free-text summary of the last few
// turns' thoughts, for reasoning engines' situational context.
func recentBackground(state *agentstate.AgentState) string {
	n := len(state.Turns)
	if n == 0 {
		return ""
	}
	start := 0
	if n > 5 {
		start = n - 5
	}
	var sb strings.Builder
	for _, t := range state.Turns[start:] {
		if t.LLMMessage != nil && t.LLMMessage.Thoughts != "" {
			sb.WriteString(t.LLMMessage.Thoughts)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
