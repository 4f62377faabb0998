// Package builtin holds small, dependency-free reference Tool
// implementations used for demos and tests — production tool catalogs are
// expected to be supplied externally, per the tool contract.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stepweave/stepweave/internal/tool"
)

// TimeTool returns the current time, optionally in a given IANA timezone.
type TimeTool struct {
	tool.BasicToolOptions
}

func NewTimeTool() *TimeTool { return &TimeTool{} }

func (t *TimeTool) Name() string        { return "get_time" }
func (t *TimeTool) Description() string { return "Returns the current time, optionally in a given timezone" }

func (t *TimeTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "timezone", Type: "string", Description: "IANA timezone name, e.g. America/New_York (optional)", Required: false},
	)
}

func (t *TimeTool) Init(_ context.Context) error { return nil }
func (t *TimeTool) Close() error                 { return nil }

// CacheHint overrides BasicToolOptions: "now" is never stable, so this
// tool must never be treated as an idempotent read.
func (t *TimeTool) CacheHint() bool { return false }

type timeArgs struct {
	Timezone string `json:"timezone"`
}

func (t *TimeTool) Execute(_ context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a timeArgs
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &a); err != nil {
			return tool.ToolResult{Error: fmt.Sprintf("parse arguments: %v", err)}, nil
		}
	}

	now := time.Now()

	if a.Timezone != "" {
		loc, err := time.LoadLocation(a.Timezone)
		if err != nil {
			return tool.ToolResult{Error: fmt.Sprintf("invalid timezone %q: %v", a.Timezone, err)}, nil
		}
		now = now.In(loc)
	}

	output := now.Format("2006-01-02 15:04:05 MST (Monday)")
	return tool.ToolResult{Output: output}, nil
}
