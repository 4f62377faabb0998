// Package reasoningkind holds the Kind enumeration shared between the
// reasoning engines and the metrics collector, so neither has to import
// the other just to label a timer or confidence sample.
package reasoningkind

// Kind identifies which reasoning engine produced a result.
type Kind string

const (
	Chain  Kind = "chain"
	Tree   Kind = "tree"
	Hybrid Kind = "hybrid"
)
