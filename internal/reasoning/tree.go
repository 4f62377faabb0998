package reasoning

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/stepweave/stepweave/internal/agentstate"
	"github.com/stepweave/stepweave/internal/core"
	"github.com/stepweave/stepweave/internal/llm"
	"github.com/stepweave/stepweave/internal/tool"
	"gopkg.in/yaml.v3"
)

// Strategy selects which frontier node a Tree-of-Thoughts pass expands next.
type Strategy string

const (
	StrategyBestFirst    Strategy = "best_first"
	StrategyBreadthFirst Strategy = "breadth_first"
	StrategyDepthFirst   Strategy = "depth_first"
	StrategyBeamSearch   Strategy = "beam_search"
	StrategyMonteCarlo   Strategy = "monte_carlo"
)

const (
	DefaultMaxTreeDepth = 3
	DefaultMaxTreeNodes = 20
	DefaultBeamWidth    = 3
)

// TreeEngine explores a tree of candidate thoughts rooted at an initial
// framing of the goal, scoring and expanding nodes per Strategy until a
// termination budget is exhausted, then asks the model for a conclusion
// summarizing the highest-scoring root-to-leaf path.
type TreeEngine struct {
	Provider   llm.LLMProvider
	MaxDepth   int
	MaxNodes   int
	Strategy   Strategy
	BeamWidth  int
	MaxRetries int
}

// NewTreeEngine returns a TreeEngine with the given budget and strategy.
// Non-positive maxDepth/maxNodes fall back to their package defaults.
func NewTreeEngine(provider llm.LLMProvider, maxDepth, maxNodes int, strategy Strategy) *TreeEngine {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxTreeDepth
	}
	if maxNodes <= 0 {
		maxNodes = DefaultMaxTreeNodes
	}
	if strategy == "" {
		strategy = StrategyBestFirst
	}
	return &TreeEngine{
		Provider:   provider,
		MaxDepth:   maxDepth,
		MaxNodes:   maxNodes,
		Strategy:   strategy,
		BeamWidth:  DefaultBeamWidth,
		MaxRetries: 1,
	}
}

type treeState struct {
	tree       *agentstate.ReasoningTree
	goal       string
	background string
	catalog    string
	unexpanded []string
	beamWidth  int
}

type expandPrep struct {
	nodeID    string
	thought   string
	depth     int
	ancestors []string
}

type childThought struct {
	Thought string
	Score   float64
}

type expandExec struct {
	children []childThought
	err      string
}

// expandNode drives one round of frontier expansion: generate 2-3 child
// thoughts for the selected node, score them, and hand the scored children
// back to Post for insertion into the arena.
type expandNode struct {
	engine *TreeEngine
	state  *treeState
}

func (n *expandNode) Prep(state *treeState) []expandPrep {
	if len(state.tree.Nodes) >= n.engine.MaxNodes {
		return nil
	}
	id := n.engine.selectNext(state)
	if id == "" {
		return nil
	}
	node := state.tree.Nodes[id]
	if node.Depth >= n.engine.MaxDepth {
		return nil
	}
	return []expandPrep{{
		nodeID:    id,
		thought:   node.Thought,
		depth:     node.Depth,
		ancestors: ancestorThoughts(state.tree, id),
	}}
}

func (n *expandNode) Exec(ctx context.Context, prep expandPrep) (expandExec, error) {
	children, err := n.engine.generateChildren(ctx, n.state, prep)
	if err != nil {
		return expandExec{}, err
	}
	scores, err := n.engine.scoreChildren(ctx, n.state, prep, children)
	if err != nil {
		// Scoring failure degrades to a neutral score rather than
		// discarding the generated thoughts outright.
		scores = make([]float64, len(children))
		for i := range scores {
			scores[i] = 0.5
		}
	}
	out := make([]childThought, len(children))
	for i, c := range children {
		score := 0.5
		if i < len(scores) {
			score = scores[i]
		}
		out[i] = childThought{Thought: c, Score: score}
	}
	return expandExec{children: out}, nil
}

func (n *expandNode) Post(state *treeState, preps []expandPrep, execs ...expandExec) core.Action {
	if len(preps) == 0 {
		return core.ActionEnd
	}
	parentID := preps[0].nodeID
	parent := state.tree.Nodes[parentID]
	parent.Expanded = true

	if len(execs) > 0 && execs[0].err == "" {
		for _, c := range execs[0].children {
			if len(state.tree.Nodes) >= n.engine.MaxNodes {
				break
			}
			depth := parent.Depth + 1
			if depth > n.engine.MaxDepth {
				continue
			}
			node := state.tree.AddNode(&agentstate.TreeNode{
				ParentID: parentID,
				Thought:  c.Thought,
				Score:    c.Score,
				Depth:    depth,
			})
			state.unexpanded = append(state.unexpanded, node.ID)
		}
	}

	if n.engine.Strategy == StrategyBeamSearch && len(state.unexpanded) > state.beamWidth {
		state.unexpanded = pruneToTopK(state.tree, state.unexpanded, state.beamWidth)
	}

	if len(state.unexpanded) == 0 || len(state.tree.Nodes) >= n.engine.MaxNodes {
		return core.ActionEnd
	}
	return core.ActionContinue
}

func (n *expandNode) ExecFallback(err error) expandExec {
	return expandExec{err: err.Error()}
}

// selectNext pops the next frontier node id to expand per strategy.
func (e *TreeEngine) selectNext(state *treeState) string {
	if len(state.unexpanded) == 0 {
		return ""
	}
	switch e.Strategy {
	case StrategyBreadthFirst:
		id := state.unexpanded[0]
		state.unexpanded = state.unexpanded[1:]
		return id
	case StrategyDepthFirst:
		last := len(state.unexpanded) - 1
		id := state.unexpanded[last]
		state.unexpanded = state.unexpanded[:last]
		return id
	case StrategyMonteCarlo:
		return popWeightedRandom(state.tree, &state.unexpanded)
	default: // best_first, beam_search
		return popBestScore(state.tree, &state.unexpanded)
	}
}

func popBestScore(tree *agentstate.ReasoningTree, frontier *[]string) string {
	ids := *frontier
	if len(ids) == 0 {
		return ""
	}
	bestIdx := 0
	bestScore := tree.Nodes[ids[0]].Score
	for i, id := range ids[1:] {
		if s := tree.Nodes[id].Score; s > bestScore {
			bestScore = s
			bestIdx = i + 1
		}
	}
	picked := ids[bestIdx]
	*frontier = append(ids[:bestIdx], ids[bestIdx+1:]...)
	return picked
}

func popWeightedRandom(tree *agentstate.ReasoningTree, frontier *[]string) string {
	ids := *frontier
	if len(ids) == 0 {
		return ""
	}
	total := 0.0
	for _, id := range ids {
		total += tree.Nodes[id].Score
	}
	var idx int
	if total <= 0 {
		idx = rand.Intn(len(ids))
	} else {
		target := rand.Float64() * total
		running := 0.0
		for i, id := range ids {
			running += tree.Nodes[id].Score
			if running >= target {
				idx = i
				break
			}
		}
	}
	picked := ids[idx]
	*frontier = append(ids[:idx], ids[idx+1:]...)
	return picked
}

// pruneToTopK keeps only the k highest-scoring frontier nodes, implementing
// beam_search's per-depth cap in terms of the shared frontier slice.
func pruneToTopK(tree *agentstate.ReasoningTree, frontier []string, k int) []string {
	kept := append([]string(nil), frontier...)
	for len(kept) > k {
		worstIdx := 0
		worstScore := tree.Nodes[kept[0]].Score
		for i, id := range kept[1:] {
			if s := tree.Nodes[id].Score; s < worstScore {
				worstScore = s
				worstIdx = i + 1
			}
		}
		kept = append(kept[:worstIdx], kept[worstIdx+1:]...)
	}
	return kept
}

func ancestorThoughts(tree *agentstate.ReasoningTree, id string) []string {
	var chain []string
	cur := tree.Nodes[id]
	for cur.ParentID != "" {
		parent, ok := tree.Nodes[cur.ParentID]
		if !ok {
			break
		}
		chain = append([]string{parent.Thought}, chain...)
		cur = parent
	}
	return chain
}

func (e *TreeEngine) generateRoot(ctx context.Context, goal, background, catalog string) (string, error) {
	prompt := fmt.Sprintf(
		"Goal:\n%s\n\nContext:\n%s\n\nAvailable tools:\n%s\n\n"+
			"State, in one or two sentences, the first framing of this problem worth exploring.",
		goal, background, catalog,
	)
	resp, err := e.Provider.CallLLM(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		return "", fmt.Errorf("root thought: %w", err)
	}
	thought := strings.TrimSpace(resp.Content)
	if thought == "" {
		return "", fmt.Errorf("root thought: empty response")
	}
	return thought, nil
}

func (e *TreeEngine) generateChildren(ctx context.Context, state *treeState, prep expandPrep) ([]string, error) {
	var sb strings.Builder
	sb.WriteString("Goal:\n")
	sb.WriteString(state.goal)
	sb.WriteString("\n\nAvailable tools:\n")
	sb.WriteString(state.catalog)
	if len(prep.ancestors) > 0 {
		sb.WriteString("\n\nPath so far:\n")
		for i, a := range prep.ancestors {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, a)
		}
	}
	fmt.Fprintf(&sb, "\nCurrent thought: %s\n\n", prep.thought)
	sb.WriteString("Propose 2 to 3 distinct next thoughts that continue exploring from the current " +
		"thought. Reply with only a ```yaml fenced block containing a list of strings.")

	resp, err := e.Provider.CallLLM(ctx, []llm.Message{{Role: llm.RoleUser, Content: sb.String()}})
	if err != nil {
		return nil, fmt.Errorf("generate children: %w", err)
	}
	block, err := extractYAMLBlock(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("generate children: %w", err)
	}
	var children []string
	if err := yaml.Unmarshal([]byte(block), &children); err != nil {
		return nil, fmt.Errorf("generate children: parse yaml: %w", err)
	}
	if len(children) == 0 {
		return nil, fmt.Errorf("generate children: empty list")
	}
	return children, nil
}

func (e *TreeEngine) scoreChildren(ctx context.Context, state *treeState, prep expandPrep, children []string) ([]float64, error) {
	var sb strings.Builder
	sb.WriteString("Goal:\n")
	sb.WriteString(state.goal)
	sb.WriteString("\n\nScore how promising each of these candidate thoughts is toward reaching the " +
		"goal, on a scale from 0 to 1:\n")
	for i, c := range children {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, c)
	}
	sb.WriteString("\nReply with only a ```yaml fenced block containing a list of floats, one per " +
		"thought, in the same order.")

	resp, err := e.Provider.CallLLM(ctx, []llm.Message{{Role: llm.RoleUser, Content: sb.String()}})
	if err != nil {
		return nil, fmt.Errorf("score children: %w", err)
	}
	block, err := extractYAMLBlock(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("score children: %w", err)
	}
	var scores []float64
	if err := yaml.Unmarshal([]byte(block), &scores); err != nil {
		return nil, fmt.Errorf("score children: parse yaml: %w", err)
	}
	return scores, nil
}

// bestPath returns the root-to-leaf node id sequence with the highest
// cumulative score, and the concatenated thoughts along it.
func bestPath(tree *agentstate.ReasoningTree) ([]string, []string) {
	if tree.RootID == "" {
		return nil, nil
	}
	var best []string
	var bestThoughts []string
	bestScore := -1.0

	var walk func(id string, path []string, thoughts []string, sum float64)
	walk = func(id string, path []string, thoughts []string, sum float64) {
		node := tree.Nodes[id]
		path = append(path, id)
		thoughts = append(thoughts, node.Thought)
		sum += node.Score
		if len(node.ChildIDs) == 0 {
			if sum > bestScore {
				bestScore = sum
				best = append([]string(nil), path...)
				bestThoughts = append([]string(nil), thoughts...)
			}
			return
		}
		for _, childID := range node.ChildIDs {
			walk(childID, path, thoughts, sum)
		}
	}
	walk(tree.RootID, nil, nil, 0)
	return best, bestThoughts
}

func (e *TreeEngine) conclude(ctx context.Context, goal string, pathThoughts []string) string {
	if len(pathThoughts) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Goal:\n")
	sb.WriteString(goal)
	sb.WriteString("\n\nExploration path:\n")
	for i, t := range pathThoughts {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, t)
	}
	sb.WriteString("\nSummarize this exploration into a final conclusion in 2-4 sentences.")

	resp, err := e.Provider.CallLLM(ctx, []llm.Message{{Role: llm.RoleUser, Content: sb.String()}})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		return strings.Join(pathThoughts, " -> ")
	}
	return strings.TrimSpace(resp.Content)
}

// Reason implements Engine.
func (e *TreeEngine) Reason(ctx context.Context, goal, background string, tools []tool.Tool) (Result, error) {
	start := time.Now()
	catalog := toolCatalog(tools)

	rootThought, err := e.generateRoot(ctx, goal, background, catalog)
	if err != nil {
		return Result{Success: false, Error: err.Error(), ExecutionTime: time.Since(start)}, nil
	}

	tree := agentstate.NewReasoningTree(e.MaxDepth, e.MaxNodes, string(e.Strategy))
	root := tree.AddNode(&agentstate.TreeNode{Thought: rootThought, Score: 1.0, Depth: 0})

	state := &treeState{
		tree:       tree,
		goal:       goal,
		background: background,
		catalog:    catalog,
		unexpanded: []string{root.ID},
		beamWidth:  e.BeamWidth,
	}

	node := &expandNode{engine: e, state: state}
	wrapped := core.NewNode[treeState, expandPrep, expandExec](node, e.MaxRetries)
	wrapped.AddSuccessor(wrapped, core.ActionContinue)
	flow := core.NewFlow[treeState](wrapped)
	flow.Run(ctx, state)

	path, thoughts := bestPath(tree)
	tree.BestPath = path
	tree.Conclusion = e.conclude(ctx, goal, thoughts)

	return Result{
		Success:       true,
		Tree:          tree,
		Conclusion:    tree.Conclusion,
		Metadata:      map[string]any{"nodes_created": len(tree.Nodes)},
		ExecutionTime: time.Since(start),
	}, nil
}
