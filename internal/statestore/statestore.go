// Package statestore defines the durable-state contract an orchestrator
// step loads from before acting and writes back through after mutating.
// Concrete realizations live in the memstore and filestore subpackages.
package statestore

import (
	"context"

	"github.com/stepweave/stepweave/internal/agentstate"
)

// Store is the state store contract: both Load and Save must be atomic
// with respect to a single agentID — the orchestrator assumes at-most-one
// writer per agent, but a single call must never observe a torn read/write
// even under concurrent calls for other agent ids.
type Store interface {
	// Load returns the durable state for agentID, or ok=false if none
	// exists yet (a brand new agent).
	Load(ctx context.Context, agentID string) (state *agentstate.AgentState, ok bool, err error)

	// Save persists state under agentID, replacing any prior value.
	Save(ctx context.Context, agentID string, state *agentstate.AgentState) error
}
