// Package llmcomm wraps an llm.LLMProvider with the orchestrator's dual
// calling conventions: a text-completion path that parses a JSON reply
// out of free-form content, and a structured function-calling path that
// normalizes a tool call back into the same ModelMessage shape.
package llmcomm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stepweave/stepweave/internal/agentstate"
	"github.com/stepweave/stepweave/internal/llm"
)

// DefaultTimeout bounds a single LLM call when Communicator.Timeout is zero.
const DefaultTimeout = 60 * time.Second

// EventSink receives LLM call lifecycle notifications.
type EventSink interface {
	LlmCallStarted(agentID string, turnIndex int)
	LlmCallCompleted(agentID string, turnIndex int, success bool)
	LlmCallCompletedWithMessage(agentID string, turnIndex int, message *agentstate.ModelMessage, errMsg string)
}

// StatusSink receives human-readable progress narration.
type StatusSink interface {
	Status(agentID, title, details string)
}

// MetricsSink receives per-call token accounting and timing.
type MetricsSink interface {
	RecordLLMCall(model, provider string, inputTokens, outputTokens int, elapsed time.Duration, success bool)
}

// Communicator mediates every LLM call the orchestrator makes.
type Communicator struct {
	Provider llm.LLMProvider
	Timeout  time.Duration
	Events   EventSink
	Status   StatusSink
	Metrics  MetricsSink
}

func (c *Communicator) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// CallAndParse runs the text-completion path: call the provider under a
// composite deadline (the caller's ctx combined with the configured
// llm_timeout — context.WithTimeout already takes whichever is sooner),
// then parse the reply as a ModelMessage. Returns nil and appends a
// failed turn to state on any failure, never propagating an error.
func (c *Communicator) CallAndParse(ctx context.Context, messages []llm.Message, agentID string, turnIndex int, turnID string, state *agentstate.AgentState) *agentstate.ModelMessage {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	if c.Events != nil {
		c.Events.LlmCallStarted(agentID, turnIndex)
	}
	start := time.Now()
	resp, err := c.Provider.CallLLM(callCtx, messages)
	elapsed := time.Since(start)

	if err != nil {
		success := false
		if c.Events != nil {
			c.Events.LlmCallCompleted(agentID, turnIndex, success)
		}
		if c.Metrics != nil {
			c.Metrics.RecordLLMCall("", c.Provider.GetName(), 0, 0, elapsed, success)
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			appendFailedTurn(state, turnID, "LLM deadline exceeded", nil)
		} else {
			appendFailedTurn(state, turnID, fmt.Sprintf("LLM call failed: %v", err), nil)
		}
		return nil
	}

	if c.Metrics != nil {
		inputTokens, outputTokens := 0, 0
		if resp.Usage != nil {
			inputTokens, outputTokens = resp.Usage.InputTokens, resp.Usage.OutputTokens
		}
		c.Metrics.RecordLLMCall("", c.Provider.GetName(), inputTokens, outputTokens, elapsed, true)
	}

	return c.ParseJSONResponse(resp.Content, turnIndex, turnID, state)
}

// CallWithFunctions runs the structured function-calling path. Returns
// llm.ErrUnsupported without calling the provider when it doesn't
// advertise function calling.
func (c *Communicator) CallWithFunctions(ctx context.Context, messages []llm.Message, functionSpecs []llm.ToolDefinition, agentID string, turnIndex int) (llm.FunctionResult, error) {
	if !c.Provider.SupportsFunctionCalling() {
		return llm.FunctionResult{}, llm.ErrUnsupported
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	if c.Events != nil {
		c.Events.LlmCallStarted(agentID, turnIndex)
	}
	start := time.Now()
	resp, err := c.Provider.CallLLMWithTools(callCtx, messages, functionSpecs)
	elapsed := time.Since(start)

	success := err == nil
	if c.Events != nil {
		c.Events.LlmCallCompleted(agentID, turnIndex, success)
	}
	if err != nil {
		if c.Metrics != nil {
			c.Metrics.RecordLLMCall("", c.Provider.GetName(), 0, 0, elapsed, false)
		}
		return llm.FunctionResult{}, err
	}

	result := llm.FunctionResult{AssistantContent: resp.Content, Usage: resp.Usage}
	if len(resp.ToolCalls) > 0 {
		result.HasFunctionCall = true
		result.FunctionName = resp.ToolCalls[0].Name
		result.FunctionArguments = string(resp.ToolCalls[0].Arguments)
	}
	if c.Metrics != nil {
		inputTokens, outputTokens := 0, 0
		if resp.Usage != nil {
			inputTokens, outputTokens = resp.Usage.InputTokens, resp.Usage.OutputTokens
		}
		c.Metrics.RecordLLMCall("", c.Provider.GetName(), inputTokens, outputTokens, elapsed, true)
	}
	return result, nil
}

// wireMessage mirrors the JSON contract the model is asked to reply with.
type wireMessage struct {
	Thoughts      string          `json:"thoughts"`
	Action        string          `json:"action"`
	ActionInput   json.RawMessage `json:"action_input"`
	StatusTitle   *string         `json:"status_title,omitempty"`
	StatusDetails *string         `json:"status_details,omitempty"`
	NextStepHint  *string         `json:"next_step_hint,omitempty"`
	ProgressPct   *int            `json:"progress_pct,omitempty"`
}

// ParseJSONResponse extracts the first JSON object in raw and decodes it
// into a ModelMessage. On malformed or absent JSON, it emits a status and
// appends a failed turn to state, returning nil.
func (c *Communicator) ParseJSONResponse(raw string, turnIndex int, turnID string, state *agentstate.AgentState) *agentstate.ModelMessage {
	objRaw, ok := extractFirstJSONObject(raw)
	if !ok {
		c.emitParseFailure(state, turnID, turnIndex, "Invalid LLM JSON: no JSON object found in response")
		return nil
	}

	var wire wireMessage
	if err := json.Unmarshal([]byte(objRaw), &wire); err != nil {
		c.emitParseFailure(state, turnID, turnIndex, fmt.Sprintf("Invalid LLM JSON: %v", err))
		return nil
	}

	actionInput, err := decodeActionInput(agentstate.Action(wire.Action), wire.ActionInput)
	if err != nil {
		c.emitParseFailure(state, turnID, turnIndex, fmt.Sprintf("Invalid LLM JSON: %v", err))
		return nil
	}

	msg := &agentstate.ModelMessage{
		Thoughts:      wire.Thoughts,
		Action:        agentstate.Action(wire.Action),
		ActionRaw:     objRaw,
		ActionInput:   actionInput,
		StatusTitle:   wire.StatusTitle,
		StatusDetails: wire.StatusDetails,
		NextStepHint:  wire.NextStepHint,
		ProgressPct:   wire.ProgressPct,
	}

	if c.Status != nil && (wire.StatusTitle != nil || wire.StatusDetails != nil) {
		title, details := "", ""
		if wire.StatusTitle != nil {
			title = *wire.StatusTitle
		}
		if wire.StatusDetails != nil {
			details = *wire.StatusDetails
		}
		c.Status.Status(state.AgentID, title, details)
	}

	if c.Events != nil {
		c.Events.LlmCallCompletedWithMessage(state.AgentID, turnIndex, msg, "")
	}
	return msg
}

func (c *Communicator) emitParseFailure(state *agentstate.AgentState, turnID string, turnIndex int, reason string) {
	if c.Status != nil {
		c.Status.Status(state.AgentID, "Invalid model output", "JSON parsing failed")
	}
	if c.Events != nil {
		c.Events.LlmCallCompletedWithMessage(state.AgentID, turnIndex, nil, reason)
	}
	appendFailedTurn(state, turnID, "JSON parsing failed", &agentstate.ToolExecutionResult{Success: false, Error: reason})
}

func decodeActionInput(action agentstate.Action, raw json.RawMessage) (agentstate.ActionInput, error) {
	var input agentstate.ActionInput
	if len(raw) == 0 {
		return input, nil
	}
	switch action {
	case agentstate.ActionToolCall:
		var v struct {
			Tool   string         `json:"tool"`
			Params map[string]any `json:"params"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return input, err
		}
		input.Tool, input.Params = v.Tool, v.Params
	case agentstate.ActionMultiToolCall:
		var v struct {
			ToolCalls []agentstate.ToolCallRequest `json:"tool_calls"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return input, err
		}
		input.ToolCalls = v.ToolCalls
	case agentstate.ActionPlan, agentstate.ActionRetry:
		var v struct {
			Summary string `json:"summary"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return input, err
		}
		input.Summary = v.Summary
	case agentstate.ActionFinish:
		var v struct {
			Final string `json:"final"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return input, err
		}
		input.Final = v.Final
	}
	return input, nil
}

// NormalizeFunctionCallToReact converts a structured function-calling
// result into the same ModelMessage shape the text-completion path
// produces, so the orchestrator never has to branch on which path ran.
func NormalizeFunctionCallToReact(fr llm.FunctionResult, turnIndex int) (*agentstate.ModelMessage, error) {
	if !fr.HasFunctionCall {
		return nil, errors.New("normalize_function_call_to_react: no function call present")
	}

	params := map[string]any{}
	if fr.FunctionArguments != "" {
		_ = json.Unmarshal([]byte(fr.FunctionArguments), &params) // malformed/empty -> empty params, not an error
	}

	return &agentstate.ModelMessage{
		Thoughts: fr.AssistantContent,
		Action:   agentstate.ActionToolCall,
		ActionInput: agentstate.ActionInput{
			Tool:   fr.FunctionName,
			Params: params,
		},
	}, nil
}

func appendFailedTurn(state *agentstate.AgentState, turnID, reason string, toolResult *agentstate.ToolExecutionResult) {
	state.AppendTurn(agentstate.AgentTurn{
		TurnID: turnID,
		LLMMessage: &agentstate.ModelMessage{
			Thoughts: reason,
			Action:   agentstate.ActionRetry,
		},
		ToolResult: toolResult,
	})
}

// extractFirstJSONObject scans raw for the first balanced {...} span,
// ignoring braces inside quoted strings, and returns it verbatim.
func extractFirstJSONObject(raw string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, r := range raw {
		if start == -1 {
			if r == '{' {
				start = i
				depth = 1
			}
			continue
		}
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return raw[start : i+1], true
				}
			}
		}
	}
	return "", false
}
