package agentstate

import "testing"

func TestAppendTurnPreservesIndexInvariant(t *testing.T) {
	s := &AgentState{AgentID: "a1"}
	for i := 0; i < 5; i++ {
		s.AppendTurn(AgentTurn{})
	}
	for i, turn := range s.Turns {
		if turn.Index != i {
			t.Fatalf("turn %d has index %d, want %d", i, turn.Index, i)
		}
	}
}

func TestAppendTurnAssignsTurnIDWhenAbsent(t *testing.T) {
	s := &AgentState{}
	turn := s.AppendTurn(AgentTurn{})
	if turn.TurnID == "" {
		t.Fatalf("expected a generated turn id")
	}
}

func TestAppendTurnKeepsExplicitTurnID(t *testing.T) {
	s := &AgentState{}
	turn := s.AppendTurn(AgentTurn{TurnID: "fixed-id"})
	if turn.TurnID != "fixed-id" {
		t.Fatalf("expected explicit turn id to be preserved, got %q", turn.TurnID)
	}
}

func TestLastTurnEmpty(t *testing.T) {
	s := &AgentState{}
	if _, ok := s.LastTurn(); ok {
		t.Fatalf("expected ok=false on empty state")
	}
}

func TestReasoningTreeAddNodeTracksRootAndChildren(t *testing.T) {
	tree := NewReasoningTree(3, 20, "best_first")
	root := tree.AddNode(&TreeNode{Thought: "root"})
	if tree.RootID != root.ID {
		t.Fatalf("expected root id to be set")
	}
	child := tree.AddNode(&TreeNode{ParentID: root.ID, Thought: "child"})
	if len(tree.Nodes[root.ID].ChildIDs) != 1 || tree.Nodes[root.ID].ChildIDs[0] != child.ID {
		t.Fatalf("expected root to track its child")
	}
}
