// Package messagebuilder assembles the ordered message sequence an
// orchestrator step sends to the LLM Communicator: a system message
// describing the agent contract and tool catalog, a rendering of recent
// turn history, and a final user-role goal message.
package messagebuilder

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stepweave/stepweave/internal/agentstate"
	"github.com/stepweave/stepweave/internal/llm"
	"github.com/stepweave/stepweave/internal/tool"
)

// Config holds the History rendering knobs.
type Config struct {
	MaxRecentTurns             int
	EnableHistorySummarization bool
	MaxToolOutputSize          int
	EmitPublicStatus           bool
}

// DefaultConfig matches the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxRecentTurns:             5,
		EnableHistorySummarization: true,
		MaxToolOutputSize:          1000,
		EmitPublicStatus:           true,
	}
}

// Build returns the ordered message sequence: system, history context, goal.
// Never emits fewer than 2 messages (system + goal).
func Build(state *agentstate.AgentState, tools []tool.Tool, cfg Config) []llm.Message {
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: buildSystemMessage(tools, cfg.EmitPublicStatus)},
	}
	msgs = append(msgs, renderHistory(state.Turns, cfg)...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: state.Goal})
	return msgs
}

const systemContractPreamble = `You are an autonomous agent working step by step toward a goal.

Reply with a single JSON object with these fields:
  thoughts: string — your reasoning about what to do next
  action: one of "tool_call", "multi_tool_call", "plan", "finish", "retry"
  action_input: object — shape depends on action:
    tool_call: {"tool": "<name>", "params": {...}}
    multi_tool_call: {"tool_calls": [{"tool": "<name>", "params": {...}}, ...]}
    plan / retry: {"summary": "<text>"}
    finish: {"final": "<text>"}
  status_title, status_details, next_step_hint, progress_pct: optional, user-facing`

const statusUpdatesBlock = `
STATUS UPDATES: when useful, set status_title (short present-progressive phrase),
status_details (one sentence of elaboration), next_step_hint (what happens next),
and progress_pct (0-100 integer) so observers can follow along.`

func buildSystemMessage(tools []tool.Tool, emitPublicStatus bool) string {
	var sb strings.Builder
	sb.WriteString(systemContractPreamble)
	sb.WriteString("\n\n")
	sb.WriteString(buildToolCatalog(tools))
	if emitPublicStatus {
		sb.WriteString(statusUpdatesBlock)
	}
	return sb.String()
}

func buildToolCatalog(tools []tool.Tool) string {
	if len(tools) == 0 {
		return "Available tools: (none)"
	}
	var sb strings.Builder
	sb.WriteString("Available tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&sb, "\n### %s\n%s\nParameters: %s\n", t.Name(), t.Description(), string(t.InputSchema()))
	}
	return sb.String()
}

// renderHistory implements the summarize-leading/detail-recent rule.
func renderHistory(turns []agentstate.AgentTurn, cfg Config) []llm.Message {
	if len(turns) == 0 {
		return nil
	}

	recentCount := cfg.MaxRecentTurns
	if recentCount < 0 {
		recentCount = len(turns)
	}

	var msgs []llm.Message

	if cfg.EnableHistorySummarization && len(turns) > recentCount {
		leading := turns[:len(turns)-recentCount]
		for _, t := range leading {
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: summarizeTurn(t)})
		}
		turns = turns[len(turns)-recentCount:]
	} else if len(turns) > recentCount {
		turns = turns[len(turns)-recentCount:]
	}

	for _, t := range turns {
		msgs = append(msgs, renderTurnDetail(t, cfg.MaxToolOutputSize)...)
	}
	return msgs
}

func summarizeTurn(t agentstate.AgentTurn) string {
	if t.LLMMessage == nil {
		return "LLM: (no message)"
	}
	thoughts := t.LLMMessage.Thoughts
	if len(thoughts) > 80 {
		thoughts = thoughts[:80]
	}
	line := fmt.Sprintf("LLM: %s - %s", t.LLMMessage.Action, thoughts)

	if len(t.ToolCalls) > 0 {
		names := make([]string, len(t.ToolCalls))
		for i, tc := range t.ToolCalls {
			names[i] = tc.Tool
		}
		ok, errc := 0, 0
		for _, r := range t.ToolResults {
			if r.Success {
				ok++
			} else {
				errc++
			}
		}
		line += fmt.Sprintf("\nMULTI_TOOLS: %s\nMULTI_RESULTS: ok=%d err=%d", strings.Join(names, ", "), ok, errc)
	}
	return line
}

func renderTurnDetail(t agentstate.AgentTurn, maxToolOutputSize int) []llm.Message {
	var msgs []llm.Message
	if t.LLMMessage != nil {
		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: "LLM: " + t.LLMMessage.Thoughts})
	}

	switch {
	case len(t.ToolCalls) > 0:
		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: "MULTI_TOOL_CALLS: " + formatJSON(t.ToolCalls)})
		msgs = append(msgs, llm.Message{Role: llm.RoleTool, Content: "MULTI_TOOL_RESULTS: " + formatJSON(truncateResults(t.ToolResults, maxToolOutputSize))})
	case t.ToolCall != nil:
		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: "TOOL_CALL: " + formatJSON(t.ToolCall)})
		if t.ToolResult != nil {
			msgs = append(msgs, llm.Message{Role: llm.RoleTool, Content: "TOOL_RESULT: " + formatJSON(truncateResult(*t.ToolResult, maxToolOutputSize))})
		}
	}
	return msgs
}

// truncated is the shape a tool output is replaced with once it exceeds
// the configured byte budget.
type truncated struct {
	Truncated    bool   `json:"truncated"`
	OriginalSize int    `json:"original_size"`
	Preview      string `json:"preview"`
}

func truncateResult(r agentstate.ToolExecutionResult, maxSize int) any {
	if maxSize <= 0 {
		return r
	}
	serialized := formatJSON(r.Output)
	if len(serialized) <= maxSize {
		return r
	}
	preview := serialized
	if len(preview) > 200 {
		preview = preview[:200]
	}
	r.Output = truncated{Truncated: true, OriginalSize: len(serialized), Preview: preview}
	return r
}

func truncateResults(results []agentstate.ToolExecutionResult, maxSize int) []any {
	out := make([]any, len(results))
	for i, r := range results {
		out[i] = truncateResult(r, maxSize)
	}
	return out
}

func formatJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
