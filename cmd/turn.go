package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nullstream/agentcore/internal/adapters"
	"github.com/nullstream/agentcore/internal/events"
	"github.com/nullstream/agentcore/internal/orchestrator"
	"github.com/nullstream/agentcore/internal/server"
	"github.com/nullstream/agentcore/internal/store"
)

var turnCmd = &cobra.Command{
	Use:   "turn [provider] [instruction]",
	Short: "Run one turn against a provider and print its normalized events",
	Long:  `Drives a single Orchestration Manager turn against the named provider, printing each normalized event as it streams. A manual smoke-test replacement for shelling out to a provider CLI directly.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runTurn,
}

func init() {
	turnCmd.Flags().String("project", ".", "project path the turn runs against")
	turnCmd.Flags().String("model", "", "model alias to request, empty uses the provider's default")
}

func runTurn(cmd *cobra.Command, args []string) error {
	provider := args[0]
	instruction := args[1]

	projectPath, _ := cmd.Flags().GetString("project")
	model, _ := cmd.Flags().GetString("model")

	cfg := cfgMgr.Get()
	st := store.NewMemStore()
	broadcaster := store.NewMemBroadcaster()
	registry, rolloutWatcher := server.BuildRegistry(cfg, st, logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	rolloutWatcher.Start(ctx)

	if _, ok := registry.Get(provider); !ok {
		return fmt.Errorf("unknown provider %q, expected one of %v", provider, registry.List())
	}

	mgr := orchestrator.New(registry, st, broadcaster, logger)

	projectID := "cli-" + provider
	sessionID := uuid.NewString()
	conversationID := uuid.NewString()

	color.Cyan("Running turn: provider=%s project=%s", provider, projectPath)

	outcome := mgr.Execute(ctx, projectID, projectPath, sessionID, conversationID, provider, adapters.Opts{
		Instruction:     instruction,
		Model:           model,
		IsInitialPrompt: true,
	})

	for _, ev := range st.Events(projectID) {
		printEvent(ev)
	}

	if !outcome.Success {
		color.Red("Turn failed: %s", outcome.Error)
		return fmt.Errorf("turn failed: %s", outcome.Error)
	}

	color.Green("Turn succeeded: %d messages, changes=%v", outcome.MessagesCount, outcome.HasChanges)
	return nil
}

func printEvent(ev events.Event) {
	switch ev.Kind {
	case events.KindError:
		color.Red("[%s] error: %s", ev.Provider, ev.Content)
	case events.KindToolUse:
		color.Yellow("[%s] tool_use: %s", ev.Provider, ev.Content)
	case events.KindToolResult:
		color.Yellow("[%s] tool_result: %s", ev.Provider, ev.Content)
	case events.KindThinking:
		color.Magenta("[%s] thinking: %s", ev.Provider, ev.Content)
	default:
		fmt.Printf("[%s] %s/%s: %s\n", ev.Provider, ev.Role, ev.Kind, ev.Content)
	}
}
