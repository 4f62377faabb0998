package toolexec

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stepweave/stepweave/internal/stepkind"
	"github.com/stepweave/stepweave/internal/tool"
)

type fakeTool struct {
	tool.BasicToolOptions
	name    string
	schema  json.RawMessage
	output  string
	err     error
	delay   time.Duration
}

func (f *fakeTool) Name() string                 { return f.name }
func (f *fakeTool) Description() string          { return "fake" }
func (f *fakeTool) InputSchema() json.RawMessage { return f.schema }
func (f *fakeTool) Init(context.Context) error   { return nil }
func (f *fakeTool) Close() error                 { return nil }
func (f *fakeTool) Execute(ctx context.Context, _ json.RawMessage) (tool.ToolResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return tool.ToolResult{}, ctx.Err()
		}
	}
	if f.err != nil {
		return tool.ToolResult{}, f.err
	}
	return tool.ToolResult{Output: f.output}, nil
}

func newRegistry(tools ...tool.Tool) *tool.Registry {
	r := tool.NewRegistry()
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

func TestExecuteToolNotFound(t *testing.T) {
	e := New(newRegistry())
	result := e.Execute(context.Background(), "missing", nil, "agent-1", 0)
	if result.Success {
		t.Fatalf("expected failure")
	}
	if result.Error != "Tool 'missing' not found" {
		t.Fatalf("error = %q", result.Error)
	}
	if result.TurnID == "" {
		t.Fatalf("expected a populated turn id")
	}
}

func TestExecuteSucceeds(t *testing.T) {
	e := New(newRegistry(&fakeTool{name: "echo", output: "hi"}))
	result := e.Execute(context.Background(), "echo", map[string]any{"x": 1.0}, "agent-1", 0)
	if !result.Success || result.Output != "hi" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Tool != "echo" {
		t.Fatalf("tool = %q", result.Tool)
	}
}

func TestExecuteValidatesRequiredFields(t *testing.T) {
	schema := []byte(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
	e := New(newRegistry(&fakeTool{name: "read", schema: schema}))
	result := e.Execute(context.Background(), "read", map[string]any{}, "agent-1", 0)
	if result.Success {
		t.Fatalf("expected validation failure")
	}
	if result.Output == nil {
		t.Fatalf("expected output to carry validation issue detail")
	}
}

func TestExecuteTimesOut(t *testing.T) {
	e := New(newRegistry(&fakeTool{name: "slow", delay: 50 * time.Millisecond}))
	e.Timeout = 5 * time.Millisecond
	result := e.Execute(context.Background(), "slow", nil, "agent-1", 0)
	if result.Success || result.Error != "tool deadline exceeded" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestExecuteClassifiesExecutionError(t *testing.T) {
	e := New(newRegistry(&fakeTool{name: "boom", err: errors.New("kaboom")}))
	gotKind := stepkind.None
	e.Metrics = recordingMetrics(func(name string, elapsed time.Duration, success bool, kind stepkind.Kind) {
		gotKind = kind
	})
	result := e.Execute(context.Background(), "boom", nil, "agent-1", 0)
	if result.Success || result.Error != "kaboom" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if gotKind != stepkind.Execution {
		t.Fatalf("kind = %v, want Execution", gotKind)
	}
}

type recordingMetrics func(name string, elapsed time.Duration, success bool, kind stepkind.Kind)

func (f recordingMetrics) RecordToolExecution(name string, elapsed time.Duration, success bool, kind stepkind.Kind) {
	f(name, elapsed, success, kind)
}
