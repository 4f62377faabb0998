package orchconfig

import (
	"os"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() should validate cleanly: %v", err)
	}
}

func TestFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("ORCH_MAX_STEPS", "40")
	t.Setenv("LLM_TIMEOUT_SECONDS", "90")
	t.Setenv("MSG_ENABLE_HISTORY_SUMMARIZATION", "false")
	t.Setenv("LOOP_SIMILARITY_THRESHOLD", "0.75")
	t.Setenv("EMIT_PUBLIC_STATUS", "false")

	c := FromEnv()

	if c.MaxSteps != 40 {
		t.Fatalf("MaxSteps = %d, want 40", c.MaxSteps)
	}
	if c.LLMTimeout != 90*time.Second {
		t.Fatalf("LLMTimeout = %s, want 90s", c.LLMTimeout)
	}
	if c.EnableHistorySummarization {
		t.Fatalf("expected EnableHistorySummarization=false")
	}
	if c.LoopSimilarityThreshold != 0.75 {
		t.Fatalf("LoopSimilarityThreshold = %f, want 0.75", c.LoopSimilarityThreshold)
	}
	if c.EmitPublicStatus {
		t.Fatalf("expected EmitPublicStatus=false")
	}
}

func TestFromEnvIgnoresInvalidValues(t *testing.T) {
	t.Setenv("ORCH_MAX_STEPS", "not-a-number")
	c := FromEnv()
	if c.MaxSteps != Default().MaxSteps {
		t.Fatalf("expected default MaxSteps on invalid input, got %d", c.MaxSteps)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	c := Default()
	c.MaxSteps = 0
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for MaxSteps=0")
	}

	c = Default()
	c.LoopSimilarityThreshold = 1.5
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for LoopSimilarityThreshold>1")
	}
}

func TestLoadEnvMissingFileDoesNotPanic(t *testing.T) {
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	defer os.Chdir(cwd)
	_ = os.Chdir(dir)
	LoadEnv()
}
