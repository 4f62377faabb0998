// Package toolexec resolves and invokes a requested tool against a
// registry, validating parameters against the tool's JSON Schema,
// enforcing a timeout, and classifying failures by stepkind.Kind.
package toolexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/stepweave/stepweave/internal/agentstate"
	"github.com/stepweave/stepweave/internal/canon"
	"github.com/stepweave/stepweave/internal/stepkind"
	"github.com/stepweave/stepweave/internal/tool"
)

// DefaultTimeout is used when Executor.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// EventSink receives tool-call lifecycle notifications. Implementations
// must not block.
type EventSink interface {
	ToolCallStarted(agentID string, turnIndex int, name string, params map[string]any)
	ToolCallCompleted(agentID string, turnIndex int, name string, success bool, output any, errMsg string, elapsed time.Duration)
}

// MetricsSink receives tool execution outcomes for aggregation.
type MetricsSink interface {
	RecordToolExecution(name string, elapsed time.Duration, success bool, kind stepkind.Kind)
}

// StatusSink receives human-readable progress narration.
type StatusSink interface {
	Status(agentID, title, details string)
}

// Executor looks up and invokes tools from a registry.
type Executor struct {
	Registry *tool.Registry
	Timeout  time.Duration
	Events   EventSink
	Metrics  MetricsSink
	Status   StatusSink
}

// New returns an Executor with DefaultTimeout.
func New(registry *tool.Registry) *Executor {
	return &Executor{Registry: registry, Timeout: DefaultTimeout}
}

// Execute resolves, validates, and invokes name with params, always
// returning a populated agentstate.ToolExecutionResult rather than an
// error — failures are reported inside the result per its Success field.
func (e *Executor) Execute(ctx context.Context, name string, params map[string]any, agentID string, turnIndex int) agentstate.ToolExecutionResult {
	start := time.Now()
	turnID := canon.Hash(name, params)

	base := agentstate.ToolExecutionResult{
		Tool:       name,
		Params:     params,
		TurnID:     turnID,
		CreatedUTC: start.UTC(),
	}

	if e.Events != nil {
		e.Events.ToolCallStarted(agentID, turnIndex, name, params)
	}
	if e.Status != nil {
		e.Status.Status(agentID, "Executing tool", name)
	}

	result, kind := e.execute(ctx, name, params)
	result.Tool = name
	result.Params = params
	result.TurnID = turnID
	result.CreatedUTC = base.CreatedUTC
	result.ExecutionTime = time.Since(start)

	if e.Events != nil {
		var output any
		var errMsg string
		if result.Success {
			output = result.Output
		} else {
			errMsg = result.Error
		}
		e.Events.ToolCallCompleted(agentID, turnIndex, name, result.Success, output, errMsg, result.ExecutionTime)
	}
	if e.Status != nil {
		e.Status.Status(agentID, "Tool completed", name)
	}
	if e.Metrics != nil {
		e.Metrics.RecordToolExecution(name, result.ExecutionTime, result.Success, kind)
	}

	return result
}

func (e *Executor) execute(ctx context.Context, name string, params map[string]any) (agentstate.ToolExecutionResult, stepkind.Kind) {
	t, ok := e.Registry.Get(name)
	if !ok {
		return agentstate.ToolExecutionResult{
			Success: false,
			Error:   fmt.Sprintf("Tool '%s' not found", name),
		}, stepkind.InvalidInput
	}

	if issues := validate(t, params); issues != nil {
		data, _ := json.Marshal(issues)
		return agentstate.ToolExecutionResult{
			Success: false,
			Error:   "Parameter validation failed: " + issues.summary(),
			Output:  json.RawMessage(data),
		}, stepkind.Validation
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argsJSON, err := json.Marshal(params)
	if err != nil {
		return agentstate.ToolExecutionResult{Success: false, Error: err.Error()}, stepkind.InvalidInput
	}

	toolResult, err := t.Execute(execCtx, argsJSON)
	if err != nil {
		switch {
		case errors.Is(execCtx.Err(), context.DeadlineExceeded):
			return agentstate.ToolExecutionResult{Success: false, Error: "tool deadline exceeded"}, stepkind.Timeout
		case ctx.Err() != nil:
			return agentstate.ToolExecutionResult{Success: false, Error: "cancelled by user"}, stepkind.Cancelled
		default:
			return agentstate.ToolExecutionResult{Success: false, Error: err.Error()}, stepkind.Execution
		}
	}
	if toolResult.Error != "" {
		return agentstate.ToolExecutionResult{Success: false, Error: toolResult.Error}, stepkind.Execution
	}

	return agentstate.ToolExecutionResult{Success: true, Output: toolResult.Output}, stepkind.None
}

// validationIssues holds the two distinguished failure shapes.
type validationIssues struct {
	MissingRequired []string     `json:"missing_required,omitempty"`
	FieldErrors     []fieldError `json:"field_errors,omitempty"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v *validationIssues) summary() string {
	if len(v.MissingRequired) > 0 {
		return fmt.Sprintf("missing required fields: %v", v.MissingRequired)
	}
	return fmt.Sprintf("%d field error(s)", len(v.FieldErrors))
}

// validate checks params against t's InputSchema, returning nil when the
// schema is absent, empty, or params satisfy it.
func validate(t tool.Tool, params map[string]any) *validationIssues {
	raw := t.InputSchema()
	if len(raw) == 0 {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", jsonDecode(raw)); err != nil {
		return nil
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil
	}

	instance := jsonDecode(mustMarshal(params))
	if err := schema.Validate(instance); err != nil {
		return classifyValidationError(err)
	}
	return nil
}

func classifyValidationError(err error) *validationIssues {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &validationIssues{FieldErrors: []fieldError{{Field: "", Message: err.Error()}}}
	}

	// jsonschema/v6's ValidationError tree is walked for leaf errors; we
	// flatten to field/message pairs, treating "required" keyword failures
	// specially so callers can distinguish missing fields from bad values.
	issues := &validationIssues{}
	flattenErrors(ve, issues)
	if len(issues.MissingRequired) == 0 && len(issues.FieldErrors) == 0 {
		issues.FieldErrors = append(issues.FieldErrors, fieldError{Message: err.Error()})
	}
	return issues
}

func flattenErrors(e *jsonschema.ValidationError, out *validationIssues) {
	if len(e.Causes) == 0 {
		msg := e.Error()
		field := instanceLocationString(e)
		if isRequiredError(msg) {
			out.MissingRequired = append(out.MissingRequired, extractRequiredField(msg))
		} else {
			out.FieldErrors = append(out.FieldErrors, fieldError{Field: field, Message: msg})
		}
		return
	}
	for _, cause := range e.Causes {
		flattenErrors(cause, out)
	}
}

func instanceLocationString(e *jsonschema.ValidationError) string {
	loc := e.InstanceLocation
	if len(loc) == 0 {
		return ""
	}
	return loc[len(loc)-1]
}

func isRequiredError(msg string) bool {
	return len(msg) >= 8 && (containsFold(msg, "required"))
}

func containsFold(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		match := true
		for j := 0; j < len(substr); j++ {
			a, b := s[i+j], substr[j]
			if 'A' <= a && a <= 'Z' {
				a += 'a' - 'A'
			}
			if 'A' <= b && b <= 'Z' {
				b += 'a' - 'A'
			}
			if a != b {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func extractRequiredField(msg string) string {
	// jsonschema/v6 messages look like: missing properties: 'foo', 'bar'
	start := -1
	for i, c := range msg {
		if c == '\'' {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return msg
	}
	end := start
	for end < len(msg) && msg[end] != '\'' {
		end++
	}
	return msg[start:end]
}

func jsonDecode(raw []byte) any {
	var v any
	_ = json.Unmarshal(raw, &v)
	return v
}

func mustMarshal(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}
