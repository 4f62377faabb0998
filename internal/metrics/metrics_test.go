package metrics

import (
	"testing"
	"time"

	"github.com/stepweave/stepweave/internal/reasoningkind"
	"github.com/stepweave/stepweave/internal/stepkind"
)

func counterValue(t *testing.T, c *Collector, name string) float64 {
	t.Helper()
	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.Metric {
			if m.Counter != nil {
				total += m.Counter.GetValue()
			}
		}
	}
	return total
}

func TestRecordLLMCallIncrementsCountersAndTokens(t *testing.T) {
	c := New("test")
	c.RecordLLMCall("gpt", "openai", 10, 20, 5*time.Millisecond, true)

	if got := counterValue(t, c, "test_total_llm_calls"); got != 1 {
		t.Fatalf("total_llm_calls = %v", got)
	}
	if got := counterValue(t, c, "test_total_input_tokens"); got != 10 {
		t.Fatalf("total_input_tokens = %v", got)
	}
	if got := counterValue(t, c, "test_total_output_tokens"); got != 20 {
		t.Fatalf("total_output_tokens = %v", got)
	}
}

func TestRecordToolExecutionTagsKind(t *testing.T) {
	c := New("test")
	c.RecordToolExecution("echo", time.Millisecond, false, stepkind.Execution)

	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, fam := range families {
		if fam.GetName() != "test_total_tool_calls" {
			continue
		}
		for _, m := range fam.Metric {
			for _, l := range m.Label {
				if l.GetName() == "kind" && l.GetValue() == "execution" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Fatalf("expected a total_tool_calls series labeled kind=execution")
	}
}

func TestNilCollectorMethodsDoNotPanic(t *testing.T) {
	var c *Collector
	c.RecordAgentRun("a1")
	c.RecordStep("a1")
	c.RecordLLMCall("m", "p", 1, 1, time.Millisecond, true)
	c.RecordToolExecution("t", time.Millisecond, true, stepkind.None)
	c.RecordReasoningExecutionTime("goal", reasoningkind.Chain, time.Millisecond)
	c.RecordReasoningConfidence("goal", reasoningkind.Chain, 0.5)
	c.RecordAPICall("a1", "cat", "sub")
	_ = c.Handler()
}
