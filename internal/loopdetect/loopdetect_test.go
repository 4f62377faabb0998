package loopdetect

import (
	"testing"

	"github.com/stepweave/stepweave/internal/agentstate"
	"github.com/stepweave/stepweave/internal/canon"
)

func failedTurn(tool string, params map[string]any) agentstate.AgentTurn {
	return agentstate.AgentTurn{
		ToolResult: &agentstate.ToolExecutionResult{
			Tool: tool, Params: params, Success: false,
			TurnID: canon.Hash(tool, params),
		},
	}
}

func TestDetectRepeatedFailuresTripsAtThreshold(t *testing.T) {
	d := New()
	params := map[string]any{"path": "/a"}
	turns := []agentstate.AgentTurn{
		failedTurn("read_file", params),
		failedTurn("read_file", params),
		failedTurn("read_file", params),
	}
	if !d.DetectRepeatedFailures(turns, "read_file", params) {
		t.Fatalf("expected repeated failures to be detected")
	}
}

func TestDetectRepeatedFailuresIgnoresDifferentParams(t *testing.T) {
	d := New()
	turns := []agentstate.AgentTurn{
		failedTurn("read_file", map[string]any{"path": "/a"}),
		failedTurn("read_file", map[string]any{"path": "/b"}),
		failedTurn("read_file", map[string]any{"path": "/c"}),
	}
	if d.DetectRepeatedFailures(turns, "read_file", map[string]any{"path": "/a"}) {
		t.Fatalf("expected no detection across distinct params")
	}
}

func TestDetectRepeatedFailuresIgnoresSuccesses(t *testing.T) {
	d := New()
	params := map[string]any{"path": "/a"}
	turns := []agentstate.AgentTurn{
		{ToolResult: &agentstate.ToolExecutionResult{Tool: "read_file", Params: params, Success: true, TurnID: canon.Hash("read_file", params)}},
		failedTurn("read_file", params),
	}
	if d.DetectRepeatedFailures(turns, "read_file", params) {
		t.Fatalf("expected no detection with only one failure")
	}
}

func TestCheckSameToolFrequency(t *testing.T) {
	d := New()
	params := map[string]any{"path": "/a"}
	turns := []agentstate.AgentTurn{
		failedTurn("read_file", params),
		failedTurn("read_file", params),
		failedTurn("read_file", params),
	}
	result := d.Check(turns)
	if !result.Detected || result.Rule != "same_tool_freq" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCheckConsecutiveErrors(t *testing.T) {
	d := New()
	turns := []agentstate.AgentTurn{
		failedTurn("a", map[string]any{"x": 1.0}),
		failedTurn("b", map[string]any{"x": 2.0}),
		failedTurn("c", map[string]any{"x": 3.0}),
	}
	result := d.Check(turns)
	if !result.Detected || result.Rule != "consecutive_errors" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCheckNoDetectionBelowThreshold(t *testing.T) {
	d := New()
	turns := []agentstate.AgentTurn{
		failedTurn("a", map[string]any{"x": 1.0}),
	}
	if result := d.Check(turns); result.Detected {
		t.Fatalf("unexpected detection: %+v", result)
	}
}
