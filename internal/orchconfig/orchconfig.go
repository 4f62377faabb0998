// Package orchconfig loads the orchestrator's environment-driven tunables:
// per-call timeouts, step caps, Message Builder knobs, loop-detector
// thresholds, and the public-status gate.
package orchconfig

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-tunable knob the orchestrator reads at
// startup. Fields are grouped by the component they configure.
type Config struct {
	// Orchestrator
	MaxSteps int // hard cap on steps per agent run (default: 25)

	// LLM Communicator
	LLMTimeout time.Duration // composite deadline for a single LLM call (default: 60s)

	// Tool Executor
	ToolTimeout time.Duration // deadline for a single tool invocation (default: 30s)

	// Message Builder
	MaxRecentTurns             int  // turns rendered in full detail (default: 5)
	EnableHistorySummarization bool // summarize turns beyond MaxRecentTurns (default: true)
	MaxToolOutputSize          int  // bytes before a tool output is truncated (default: 1000)

	// Loop Detector
	LoopWindowSize          int     // recent turns considered (default: 10)
	LoopFailureThreshold    int     // repeated failures before tripping (default: 3)
	LoopSimilarityThreshold float64 // bigram-Jaccard threshold for similar-params (default: 0.6)

	// Status / Events
	EmitPublicStatus bool // gate on StatusManager forwarding (default: true)

	// Metrics
	MetricsNamespace string // Prometheus namespace prefix (default: "stepweave")
}

// Default returns Config populated with the documented defaults, with no
// environment variables consulted.
func Default() Config {
	return Config{
		MaxSteps:                   25,
		LLMTimeout:                 60 * time.Second,
		ToolTimeout:                30 * time.Second,
		MaxRecentTurns:             5,
		EnableHistorySummarization: true,
		MaxToolOutputSize:          1000,
		LoopWindowSize:             10,
		LoopFailureThreshold:       3,
		LoopSimilarityThreshold:    0.6,
		EmitPublicStatus:           true,
		MetricsNamespace:           "stepweave",
	}
}

// FromEnv builds Config by layering environment variables over Default.
// Expected env vars: ORCH_MAX_STEPS, LLM_TIMEOUT_SECONDS, TOOL_TIMEOUT_SECONDS,
// MSG_MAX_RECENT_TURNS, MSG_ENABLE_HISTORY_SUMMARIZATION, MSG_MAX_TOOL_OUTPUT_SIZE,
// LOOP_WINDOW_SIZE, LOOP_FAILURE_THRESHOLD, LOOP_SIMILARITY_THRESHOLD,
// EMIT_PUBLIC_STATUS, METRICS_NAMESPACE.
func FromEnv() Config {
	c := Default()

	c.MaxSteps = getEnvIntOrDefault("ORCH_MAX_STEPS", c.MaxSteps)
	c.LLMTimeout = getEnvSecondsOrDefault("LLM_TIMEOUT_SECONDS", c.LLMTimeout)
	c.ToolTimeout = getEnvSecondsOrDefault("TOOL_TIMEOUT_SECONDS", c.ToolTimeout)

	c.MaxRecentTurns = getEnvIntOrDefault("MSG_MAX_RECENT_TURNS", c.MaxRecentTurns)
	c.EnableHistorySummarization = getEnvBoolOrDefault("MSG_ENABLE_HISTORY_SUMMARIZATION", c.EnableHistorySummarization)
	c.MaxToolOutputSize = getEnvIntOrDefault("MSG_MAX_TOOL_OUTPUT_SIZE", c.MaxToolOutputSize)

	c.LoopWindowSize = getEnvIntOrDefault("LOOP_WINDOW_SIZE", c.LoopWindowSize)
	c.LoopFailureThreshold = getEnvIntOrDefault("LOOP_FAILURE_THRESHOLD", c.LoopFailureThreshold)
	c.LoopSimilarityThreshold = getEnvFloatOrDefault("LOOP_SIMILARITY_THRESHOLD", c.LoopSimilarityThreshold)

	c.EmitPublicStatus = getEnvBoolOrDefault("EMIT_PUBLIC_STATUS", c.EmitPublicStatus)
	c.MetricsNamespace = getEnvOrDefault("METRICS_NAMESPACE", c.MetricsNamespace)

	return c
}

// Validate checks the configuration for internally-consistent values.
func (c Config) Validate() error {
	if c.MaxSteps <= 0 {
		return fmt.Errorf("ORCH_MAX_STEPS must be positive, got %d", c.MaxSteps)
	}
	if c.LLMTimeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT_SECONDS must be positive, got %s", c.LLMTimeout)
	}
	if c.ToolTimeout <= 0 {
		return fmt.Errorf("TOOL_TIMEOUT_SECONDS must be positive, got %s", c.ToolTimeout)
	}
	if c.MaxRecentTurns < 0 {
		return fmt.Errorf("MSG_MAX_RECENT_TURNS cannot be negative, got %d", c.MaxRecentTurns)
	}
	if c.MaxToolOutputSize <= 0 {
		return fmt.Errorf("MSG_MAX_TOOL_OUTPUT_SIZE must be positive, got %d", c.MaxToolOutputSize)
	}
	if c.LoopWindowSize <= 0 {
		return fmt.Errorf("LOOP_WINDOW_SIZE must be positive, got %d", c.LoopWindowSize)
	}
	if c.LoopFailureThreshold <= 0 {
		return fmt.Errorf("LOOP_FAILURE_THRESHOLD must be positive, got %d", c.LoopFailureThreshold)
	}
	if c.LoopSimilarityThreshold < 0 || c.LoopSimilarityThreshold > 1 {
		return fmt.Errorf("LOOP_SIMILARITY_THRESHOLD must be between 0 and 1, got %f", c.LoopSimilarityThreshold)
	}
	return nil
}

// LoadEnv loads a .env file before FromEnv reads process environment
// variables, searching the executable's directory (walking up to 3
// levels) and then the current working directory. It never fails loudly
// — a missing .env just means the caller relies on the ambient
// environment.
func LoadEnv(paths ...string) {
	if len(paths) > 0 {
		if err := godotenv.Load(paths...); err != nil {
			log.Printf("[orchconfig] no .env file at specified path(s), using system environment variables")
		}
		return
	}

	for _, p := range resolveEnvCandidates() {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			log.Printf("[orchconfig] failed to load .env from %s: %v", p, err)
		} else {
			log.Printf("[orchconfig] loaded .env from %s", p)
		}
		return
	}
	log.Printf("[orchconfig] no .env file found, using system environment variables")
}

func resolveEnvCandidates() []string {
	var candidates []string
	seen := map[string]bool{}
	add := func(p string) {
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			candidates = append(candidates, p)
		}
	}

	if exe, err := os.Executable(); err == nil {
		if real, err := filepath.EvalSymlinks(exe); err == nil {
			exe = real
		}
		dir := filepath.Dir(exe)
		for i := 0; i <= 3; i++ {
			add(filepath.Join(dir, ".env"))
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		add(filepath.Join(cwd, ".env"))
	}
	return candidates
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
		log.Printf("[orchconfig] WARNING: invalid value for %s=%q, using default %d", key, v, defaultValue)
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
		log.Printf("[orchconfig] WARNING: invalid value for %s=%q, using default %f", key, v, defaultValue)
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
		log.Printf("[orchconfig] WARNING: invalid value for %s=%q, using default %t", key, v, defaultValue)
	}
	return defaultValue
}

func getEnvSecondsOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			return time.Duration(parsed) * time.Second
		}
		log.Printf("[orchconfig] WARNING: invalid value for %s=%q, using default %s", key, v, defaultValue)
	}
	return defaultValue
}
