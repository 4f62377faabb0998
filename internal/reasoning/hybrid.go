package reasoning

import (
	"context"
	"strings"
	"time"

	"github.com/stepweave/stepweave/internal/agentstate"
	"github.com/stepweave/stepweave/internal/tool"
)

// chainWeight and treeWeight combine Chain-of-Thought and Tree-of-Thoughts
// confidence into a single score; chain is weighted higher because it is
// the primary analytical path and tree exploration is corroborating.
const (
	chainWeight = 0.6
	treeWeight  = 0.4
)

// HybridEngine runs Chain-of-Thought first, then enriches Tree-of-Thoughts
// with the chain's conclusion before exploring.
type HybridEngine struct {
	Chain *ChainEngine
	Tree  *TreeEngine
}

func NewHybridEngine(chain *ChainEngine, tree *TreeEngine) *HybridEngine {
	return &HybridEngine{Chain: chain, Tree: tree}
}

// Reason implements Engine.
func (h *HybridEngine) Reason(ctx context.Context, goal, background string, tools []tool.Tool) (Result, error) {
	start := time.Now()

	chainResult, _ := h.Chain.Reason(ctx, goal, background, tools)

	treeBackground := background
	if chainResult.Success {
		var sb strings.Builder
		sb.WriteString(background)
		sb.WriteString("\n\nChain-of-Thought conclusion: ")
		sb.WriteString(chainResult.Conclusion)
		if chainResult.Chain != nil && len(chainResult.Chain.Steps) > 0 {
			sb.WriteString("\nTop insight: ")
			sb.WriteString(topInsight(chainResult.Chain.Steps))
		}
		treeBackground = sb.String()
	}

	treeResult, _ := h.Tree.Reason(ctx, goal, treeBackground, tools)

	if !chainResult.Success && !treeResult.Success {
		return Result{
			Success:       false,
			Error:         "All reasoning approaches failed",
			ExecutionTime: time.Since(start),
		}, nil
	}

	conclusion := combineConclusions(chainResult, treeResult)
	confidence := combinedConfidence(chainResult, treeResult)

	return Result{
		Success:       true,
		Chain:         chainResult.Chain,
		Tree:          treeResult.Tree,
		Conclusion:    conclusion,
		Metadata:      map[string]any{"combined_confidence": confidence},
		ExecutionTime: time.Since(start),
	}, nil
}

func topInsight(steps []agentstate.ChainStep) string {
	best := steps[0]
	for _, s := range steps[1:] {
		if s.Confidence > best.Confidence {
			best = s
		}
	}
	return best.Reasoning
}

func combineConclusions(chain, tree Result) string {
	chainOK := chain.Success && strings.TrimSpace(chain.Conclusion) != ""
	treeOK := tree.Success && strings.TrimSpace(tree.Conclusion) != ""
	switch {
	case chainOK && treeOK:
		return "Analysis: " + chain.Conclusion + "\n\nExploration: " + tree.Conclusion
	case chainOK:
		return chain.Conclusion
	case treeOK:
		return tree.Conclusion
	default:
		return "Reasoning completed with no specific conclusions"
	}
}

// combinedConfidence mixes chain and tree confidence signals per the
// chainWeight/treeWeight split, falling back to whichever side succeeded
// when the other produced no confidence signal of its own.
func combinedConfidence(chain, tree Result) float64 {
	chainConf, chainOK := confidenceOf(chain)
	treeConf, treeOK := confidenceOf(tree)
	switch {
	case chainOK && treeOK:
		return chainWeight*chainConf + treeWeight*treeConf
	case chainOK:
		return chainConf
	case treeOK:
		return treeConf
	default:
		return 0
	}
}

func confidenceOf(r Result) (float64, bool) {
	if !r.Success || r.Metadata == nil {
		return 0, false
	}
	if v, ok := r.Metadata["mean_confidence"].(float64); ok {
		return v, true
	}
	if _, ok := r.Metadata["nodes_created"]; ok {
		// Tree results don't carry a direct confidence metric; treat a
		// completed exploration as moderately confident.
		return 0.7, true
	}
	return 0, false
}
