package builtin

import (
	"context"
	"testing"
)

func TestTimeToolExecuteNoArgs(t *testing.T) {
	tt := NewTimeTool()
	result, err := tt.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Error != "" {
		t.Fatalf("unexpected tool error: %s", result.Error)
	}
	if result.Output == "" {
		t.Fatalf("expected non-empty output")
	}
}

func TestTimeToolExecuteInvalidTimezone(t *testing.T) {
	tt := NewTimeTool()
	result, err := tt.Execute(context.Background(), []byte(`{"timezone":"Not/AZone"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Error == "" {
		t.Fatalf("expected a tool-level error for an invalid timezone")
	}
}

func TestTimeToolExecuteValidTimezone(t *testing.T) {
	tt := NewTimeTool()
	result, err := tt.Execute(context.Background(), []byte(`{"timezone":"UTC"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Error != "" {
		t.Fatalf("unexpected tool error: %s", result.Error)
	}
}

func TestTimeToolDedupeDefaults(t *testing.T) {
	tt := NewTimeTool()
	if !tt.AllowDedupe() {
		t.Fatalf("expected dedupe to be allowed by default")
	}
	if tt.CacheHint() {
		t.Fatalf("get_time must never be read-cacheable")
	}
}
