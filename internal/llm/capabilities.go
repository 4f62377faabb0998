package llm

import "strings"

// ThinkingCapability describes a model's native thinking support.
type ThinkingCapability struct {
	SupportsNativeThinking bool   // Whether the model supports native thinking
	ReasoningEffortParam   string // API parameter name ("reasoning_effort" for OpenAI-compat)
}

// DetectThinkingCapability determines if a model supports native thinking
// based on model name patterns and a known model list.
//
// Detection strategy (priority order):
//  1. Known model list — exact prefix matches for confirmed models
//  2. Keyword matching — model name contains thinking-related keywords
//  3. Default — assume no native thinking support
func DetectThinkingCapability(modelName string) ThinkingCapability {
	lower := strings.ToLower(modelName)

	// Strip common provider prefixes (e.g., "Pro/deepseek-ai/DeepSeek-R1")
	parts := strings.Split(lower, "/")
	baseName := parts[len(parts)-1]

	// 1. Known models with confirmed native thinking support
	knownThinkingModels := []string{
		"deepseek-reasoner",
		"deepseek-r1",
		"deepseek-r2",
		"o1-mini",
		"o1-preview",
		"o1",
		"o3-mini",
		"o3",
		"o4-mini",
		"claude-sonnet-4-5", // Claude with extended thinking
		"claude-3-7-sonnet", // Claude 3.7 Sonnet extended thinking
		"glm-5",             // Zhipu GLM-5 with deep thinking (reasoning_content)
	}

	for _, known := range knownThinkingModels {
		if strings.HasPrefix(baseName, known) {
			return ThinkingCapability{
				SupportsNativeThinking: true,
				ReasoningEffortParam:   "reasoning_effort",
			}
		}
	}

	// 2. Keyword-based detection for unknown/new models
	thinkingKeywords := []string{
		"-r1", "-r2", "reasoner", "thinking",
		"-o1", "-o3", "-o4",
	}

	for _, kw := range thinkingKeywords {
		if strings.Contains(baseName, kw) {
			return ThinkingCapability{
				SupportsNativeThinking: true,
				ReasoningEffortParam:   "reasoning_effort",
			}
		}
	}

	// 3. Default: no native thinking
	return ThinkingCapability{
		SupportsNativeThinking: false,
	}
}

// DetectToolCallingCapability reports whether a model is known to support
// OpenAI-style structured function calling, by name-prefix/keyword match.
func DetectToolCallingCapability(modelName string) bool {
	lower := strings.ToLower(modelName)
	parts := strings.Split(lower, "/")
	baseName := parts[len(parts)-1]

	knownFCModels := []string{
		"gpt-4", "gpt-3.5", "gpt-5",
		"claude-3", "claude-sonnet", "claude-opus", "claude-haiku",
		"deepseek-chat", "deepseek-v3",
		"qwen", "kimi", "glm-4", "glm-5",
		"gemini",
	}
	for _, known := range knownFCModels {
		if strings.HasPrefix(baseName, known) {
			return true
		}
	}
	return false
}

// contextWindowsByPrefix maps known model name prefixes to their context
// window size in tokens. Entries are checked longest-prefix-first.
var contextWindowsByPrefix = map[string]int{
	"gpt-4o":            128_000,
	"gpt-4-turbo":        128_000,
	"gpt-4":              8_192,
	"gpt-3.5":            16_385,
	"o1":                 200_000,
	"o3":                 200_000,
	"o4":                 200_000,
	"claude-3-7-sonnet":  200_000,
	"claude-sonnet-4-5":  200_000,
	"claude-3":           200_000,
	"deepseek-reasoner":  64_000,
	"deepseek-chat":      64_000,
	"deepseek-r1":        64_000,
	"glm-5":              128_000,
	"qwen":               32_000,
	"kimi":               128_000,
	"gemini-1.5":         1_000_000,
	"gemini":              32_000,
}

// GetContextWindow returns the known context window in tokens for modelName,
// or 0 if the model is unrecognized (callers should apply their own default).
func GetContextWindow(modelName string) int {
	lower := strings.ToLower(modelName)
	parts := strings.Split(lower, "/")
	baseName := parts[len(parts)-1]

	best := 0
	bestLen := 0
	for prefix, window := range contextWindowsByPrefix {
		if strings.HasPrefix(baseName, prefix) && len(prefix) > bestLen {
			best = window
			bestLen = len(prefix)
		}
	}
	return best
}
