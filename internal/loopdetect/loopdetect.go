// Package loopdetect watches the turn window for repetitive agent
// behavior: the same failing call repeated, near-identical consecutive
// calls, or an unbroken run of failures.
package loopdetect

import (
	"strconv"
	"strings"

	"github.com/stepweave/stepweave/internal/agentstate"
	"github.com/stepweave/stepweave/internal/canon"
)

// DefaultWindowSize bounds how many recent turns are inspected.
const DefaultWindowSize = 10

// DefaultFailureThreshold is the number of matching failures that trips
// detect_repeated_failures.
const DefaultFailureThreshold = 3

// DefaultSimilarityThreshold gates Rule 2's bigram Jaccard comparison.
const DefaultSimilarityThreshold = 0.6

// Detector analyzes an agent's turn history. Stateless: every method
// derives its answer entirely from the turns passed in.
type Detector struct {
	WindowSize          int
	FailureThreshold    int
	SimilarityThreshold float64
}

// New returns a Detector configured with the documented defaults.
func New() *Detector {
	return &Detector{
		WindowSize:          DefaultWindowSize,
		FailureThreshold:    DefaultFailureThreshold,
		SimilarityThreshold: DefaultSimilarityThreshold,
	}
}

func (d *Detector) windowSize() int {
	if d.WindowSize > 0 {
		return d.WindowSize
	}
	return DefaultWindowSize
}

func (d *Detector) failureThreshold() int {
	if d.FailureThreshold > 0 {
		return d.FailureThreshold
	}
	return DefaultFailureThreshold
}

func (d *Detector) similarityThreshold() float64 {
	if d.SimilarityThreshold > 0 {
		return d.SimilarityThreshold
	}
	return DefaultSimilarityThreshold
}

// DetectRepeatedFailures reports whether the recent turn window contains
// at least FailureThreshold failed tool executions whose canonical
// (tool, params) hash matches the candidate call. Dedup opt-out does not
// exempt a tool from this check — it only governs replay-from-cache.
func (d *Detector) DetectRepeatedFailures(turns []agentstate.AgentTurn, toolName string, params map[string]any) bool {
	candidate := canon.Hash(toolName, params)
	window := recentTurns(turns, d.windowSize())

	count := 0
	for _, t := range window {
		for _, r := range toolResults(t) {
			if !r.Success && r.TurnID == candidate {
				count++
			}
		}
	}
	return count >= d.failureThreshold()
}

// DetectionResult describes a detected pattern for prompt injection, so
// the orchestrator can warn the model off a path it's stuck on.
type DetectionResult struct {
	Detected    bool
	Rule        string // "same_tool_freq", "similar_params", "consecutive_errors"
	Description string
	ToolName    string
}

// Check runs all rules over turns in order, returning the first match.
func (d *Detector) Check(turns []agentstate.AgentTurn) DetectionResult {
	calls := toolCalls(turns)
	if len(calls) < 2 {
		return DetectionResult{}
	}
	if r := d.checkSameToolFrequency(calls); r.Detected {
		return r
	}
	if r := d.checkSimilarParams(calls); r.Detected {
		return r
	}
	if r := d.checkConsecutiveErrors(calls); r.Detected {
		return r
	}
	return DetectionResult{}
}

// call pairs a tool invocation with its result for rule evaluation.
type call struct {
	name   string
	params map[string]any
	hash   string
	failed bool
}

func toolCalls(turns []agentstate.AgentTurn) []call {
	var calls []call
	for _, t := range turns {
		for _, r := range toolResults(t) {
			calls = append(calls, call{
				name:   r.Tool,
				params: r.Params,
				hash:   canon.Hash(r.Tool, r.Params),
				failed: !r.Success,
			})
		}
	}
	return calls
}

func toolResults(t agentstate.AgentTurn) []agentstate.ToolExecutionResult {
	if len(t.ToolResults) > 0 {
		return t.ToolResults
	}
	if t.ToolResult != nil {
		return []agentstate.ToolExecutionResult{*t.ToolResult}
	}
	return nil
}

func recentTurns(turns []agentstate.AgentTurn, n int) []agentstate.AgentTurn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

func recentCalls(calls []call, n int) []call {
	if len(calls) <= n {
		return calls
	}
	return calls[len(calls)-n:]
}

func (d *Detector) checkSameToolFrequency(calls []call) DetectionResult {
	window := recentCalls(calls, d.windowSize())
	freq := make(map[string]int)
	for _, c := range window {
		freq[c.name+":"+c.hash]++
	}
	for key, count := range freq {
		if count >= d.failureThreshold() {
			name := strings.SplitN(key, ":", 2)[0]
			return DetectionResult{
				Detected:    true,
				Rule:        "same_tool_freq",
				Description: name + " was called " + strconv.Itoa(count) + " times with the same parameters",
				ToolName:    name,
			}
		}
	}
	return DetectionResult{}
}

func (d *Detector) checkSimilarParams(calls []call) DetectionResult {
	if len(calls) < 2 {
		return DetectionResult{}
	}
	last := calls[len(calls)-1]
	prev := calls[len(calls)-2]
	if last.name != prev.name {
		return DetectionResult{}
	}

	similar := false
	if q1, q2 := stringParam(prev.params, "query"), stringParam(last.params, "query"); q1 != "" && q2 != "" {
		similar = jaccardSimilarity(bigrams(q1), bigrams(q2)) > d.similarityThreshold()
	} else {
		similar = last.hash == prev.hash
	}

	if similar {
		return DetectionResult{
			Detected:    true,
			Rule:        "similar_params",
			Description: last.name + " called consecutively with similar parameters",
			ToolName:    last.name,
		}
	}
	return DetectionResult{}
}

func (d *Detector) checkConsecutiveErrors(calls []call) DetectionResult {
	threshold := d.failureThreshold()
	if len(calls) < threshold {
		return DetectionResult{}
	}
	tail := calls[len(calls)-threshold:]
	for _, c := range tail {
		if !c.failed {
			return DetectionResult{}
		}
	}
	return DetectionResult{
		Detected:    true,
		Rule:        "consecutive_errors",
		Description: "the last " + strconv.Itoa(threshold) + " tool calls all failed",
	}
}

func stringParam(params map[string]any, key string) string {
	v, ok := params[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

func bigrams(s string) map[string]bool {
	runes := []rune(s)
	set := make(map[string]bool)
	for i := 0; i < len(runes)-1; i++ {
		set[string(runes[i:i+2])] = true
	}
	return set
}

func jaccardSimilarity(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	intersection := 0
	for k := range a {
		if b[k] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}
