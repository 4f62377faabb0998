package tool

import (
	"context"
	"encoding/json"
	"time"
)

// DefaultDedupeTTL is the window during which an identical prior
// successful tool call may be reused instead of re-invoked, for tools
// that don't override it via CustomTTL.
const DefaultDedupeTTL = 5 * time.Minute

// Tool is the unified interface for all tools.
// Both native built-in tools and MCP tool adapters implement this interface.
type Tool interface {
	// Name returns the tool identifier (LLM uses this name to invoke the tool).
	Name() string

	// Description returns a natural-language description for LLM prompt injection.
	Description() string

	// InputSchema returns a standard JSON Schema defining the tool's parameters.
	// Compatible with MCP protocol and OpenAI Function Calling.
	InputSchema() json.RawMessage

	// Execute runs the tool with JSON-encoded arguments.
	Execute(ctx context.Context, args json.RawMessage) (ToolResult, error)

	// Init initializes tool resources (e.g. MCP client connections).
	// Native tools may return nil.
	Init(ctx context.Context) error

	// Close releases tool resources.
	Close() error

	// AllowDedupe reports whether an identical prior successful call may
	// be replayed instead of re-invoking this tool. Tools whose effects
	// depend on side channels outside (tool, params) should return false.
	AllowDedupe() bool

	// CustomTTL overrides DefaultDedupeTTL; zero means use the default.
	CustomTTL() time.Duration

	// CacheHint reports whether this tool's result is cacheable by
	// (name, args) independent of dedupe — used for idempotent reads
	// such as file listings, not for the turn-level dedupe cache.
	CacheHint() bool
}

// BasicToolOptions is embeddable by Tool implementations that want the
// default dedupe/cache policy (dedupe allowed, default TTL, not
// read-cacheable) without repeating the boilerplate.
type BasicToolOptions struct{}

func (BasicToolOptions) AllowDedupe() bool     { return true }
func (BasicToolOptions) CustomTTL() time.Duration { return 0 }
func (BasicToolOptions) CacheHint() bool       { return false }

// ToolResult encapsulates a tool execution result.
type ToolResult struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// SchemaParam describes a single parameter for the SchemaBuilder helper.
type SchemaParam struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // "string", "integer", "boolean", "number"
	Description string   `json:"description"`
	Required    bool     `json:"-"`
	Enum        []string `json:"enum,omitempty"`
}

// BuildSchema generates a standard JSON Schema object from a list of SchemaParams.
// This helper lets native tools avoid hand-writing JSON strings.
//
// Output example:
//
//	{"type":"object","properties":{"command":{"type":"string","description":"要执行的命令"}},"required":["command"]}
func BuildSchema(params ...SchemaParam) json.RawMessage {
	properties := make(map[string]any)
	var required []string

	for _, p := range params {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	data, _ := json.Marshal(schema)
	return data
}
