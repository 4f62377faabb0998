package filestore

import (
	"context"
	"testing"

	"github.com/stepweave/stepweave/internal/agentstate"
)

func TestStoreSaveThenLoadRoundTrips(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	want := &agentstate.AgentState{AgentID: "agent-1", Goal: "do it"}
	want.AppendTurn(agentstate.AgentTurn{})
	if err := s.Save(ctx, "agent-1", want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := s.Load(ctx, "agent-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatalf("expected saved state to be found")
	}
	if got.Goal != "do it" || len(got.Turns) != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestStoreLoadMissingReturnsNotOK(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, ok, err := s.Load(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for a never-saved agent id")
	}
}

func TestStoreRejectsUnsafeAgentID(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, _, err := s.Load(context.Background(), "../../etc/passwd"); err == nil {
		t.Fatalf("expected an error for a path-traversal agent id")
	}
	if err := s.Save(context.Background(), "../../etc/passwd", &agentstate.AgentState{}); err == nil {
		t.Fatalf("expected an error for a path-traversal agent id")
	}
}

func TestStoreOverwritesExistingFile(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if err := s.Save(ctx, "agent-1", &agentstate.AgentState{Goal: "first"}); err != nil {
		t.Fatalf("Save 1: %v", err)
	}
	if err := s.Save(ctx, "agent-1", &agentstate.AgentState{Goal: "second"}); err != nil {
		t.Fatalf("Save 2: %v", err)
	}
	got, _, err := s.Load(ctx, "agent-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Goal != "second" {
		t.Fatalf("goal = %q, want 'second'", got.Goal)
	}
}
