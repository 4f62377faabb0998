package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stepweave/stepweave/internal/agentstate"
	"github.com/stepweave/stepweave/internal/events"
	"github.com/stepweave/stepweave/internal/llm/openai"
	"github.com/stepweave/stepweave/internal/orchconfig"
	"github.com/stepweave/stepweave/internal/orchestrator"
	"github.com/stepweave/stepweave/internal/statestore"
	"github.com/stepweave/stepweave/internal/statestore/filestore"
	"github.com/stepweave/stepweave/internal/statestore/memstore"
	"github.com/stepweave/stepweave/internal/tool"
	"github.com/stepweave/stepweave/internal/tool/builtin"
	"github.com/stepweave/stepweave/internal/tool/mcp"
)

func main() {
	orchconfig.LoadEnv()

	agentID := flag.String("agent", "default", "agent id whose state to load/resume")
	goal := flag.String("goal", "", "the goal to pursue; reads from stdin if empty")
	useFC := flag.Bool("fc", false, "use function calling instead of text completion")
	reasoningFlag := flag.String("reasoning", "none", "reasoning engine: none|chain|tree|hybrid")
	flag.Parse()

	fmt.Println("stepweave — stateful tool-using agent orchestrator")

	cfg := orchconfig.FromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	llmClient, err := openai.NewClientFromEnv()
	if err != nil {
		log.Fatalf("failed to initialize LLM client: %v", err)
	}
	fmt.Printf("LLM: %s @ %s\n", llmClient.GetConfig().Model, llmClient.GetConfig().BaseURL)

	registry := tool.NewRegistry()
	registry.Register(builtin.NewTimeTool())
	registerMCPTools(registry)

	if err := registry.InitAll(context.Background()); err != nil {
		log.Fatalf("failed to initialize tools: %v", err)
	}
	defer registry.CloseAll()
	fmt.Printf("Tools: %d registered\n", len(registry.List()))

	store := newStore()

	logger, _ := zap.NewProduction()
	defer logger.Sync()
	evMgr := events.NewManager(logger)
	evMgr.Subscribe(func(e events.Event) {
		logger.Debug("event", zap.String("type", string(e.Type)), zap.String("agent_id", e.AgentID))
	})

	orch := orchestrator.New(cfg, llmClient, registry, store, evMgr)
	orch.Config.UseFunctionCalling = *useFC && llmClient.SupportsFunctionCalling()

	reasoningType := parseReasoningType(*reasoningFlag)

	goalText := *goal
	if goalText == "" {
		goalText = readGoalFromStdin()
	}
	if goalText == "" {
		log.Fatalf("no goal provided; pass -goal or pipe one on stdin")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	state, err := orch.Run(ctx, *agentID, goalText, reasoningType)
	if err != nil {
		log.Fatalf("run failed: %v", err)
	}

	if last, ok := state.LastTurn(); ok && last.LLMMessage != nil && last.LLMMessage.Action == agentstate.ActionFinish {
		fmt.Printf("\nFinal answer:\n%s\n", last.LLMMessage.ActionInput.Final)
	} else {
		fmt.Printf("\nStopped after %d turns without a final answer.\n", len(state.Turns))
	}
}

func registerMCPTools(registry *tool.Registry) {
	mcpConfigPath := os.Getenv("MCP_CONFIG")
	if mcpConfigPath == "" {
		mcpConfigPath = "mcp.json"
	}
	if _, err := os.Stat(mcpConfigPath); err != nil {
		return
	}
	servers, err := mcp.LoadConfig(mcpConfigPath)
	if err != nil {
		log.Printf("MCP config load failed: %v", err)
		return
	}
	for name, cfg := range servers {
		client := mcp.NewClient(cfg)
		if err := client.Connect(context.Background()); err != nil {
			log.Printf("MCP server %q connect failed: %v", name, err)
			continue
		}
		infos, err := client.ListTools(context.Background())
		if err != nil {
			log.Printf("MCP server %q list tools failed: %v", name, err)
			continue
		}
		for _, info := range infos {
			registry.Register(mcp.NewMCPToolAdapter(name, info, client, cfg))
		}
		fmt.Printf("MCP: %q connected, %d tool(s)\n", name, len(infos))
	}
}

func newStore() statestore.Store {
	if dir := os.Getenv("STATE_DIR"); dir != "" {
		s, err := filestore.New(dir)
		if err != nil {
			log.Fatalf("failed to open state directory %q: %v", dir, err)
		}
		fmt.Printf("State: file-backed at %s\n", dir)
		return s
	}
	fmt.Println("State: in-memory (set STATE_DIR to persist across runs)")
	return memstore.New(30 * time.Minute)
}

func parseReasoningType(s string) agentstate.ReasoningType {
	switch strings.ToLower(s) {
	case "chain", "chain_of_thought", "cot":
		return agentstate.ReasoningChain
	case "tree", "tree_of_thoughts", "tot":
		return agentstate.ReasoningTree
	case "hybrid":
		return agentstate.ReasoningHybrid
	default:
		return agentstate.ReasoningNone
	}
}

func readGoalFromStdin() string {
	fmt.Print("Goal: ")
	scanner := bufio.NewScanner(os.Stdin)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text())
	}
	return ""
}
