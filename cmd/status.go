package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nullstream/agentcore/internal/server"
	"github.com/nullstream/agentcore/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show provider availability",
	Long:  `Check every registered provider adapter and print whether its binary is installed and configured.`,
	Run:   runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) {
	cfg := cfgMgr.Get()

	color.Blue("Status for %s:", AppName)
	fmt.Printf("  %-15s: %s\n", "Host", cfg.Host)
	fmt.Printf("  %-15s: %d\n", "Port", cfg.Port)
	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())
	fmt.Printf("  %-15s: v%s\n", "Version", Version)
	fmt.Println()

	registry, _ := server.BuildRegistry(cfg, store.NewMemStore(), logger)

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	for _, name := range registry.List() {
		adapter, ok := registry.Get(name)
		if !ok {
			continue
		}
		s := adapter.CheckAvailability(ctx)
		mark := color.GreenString("available")
		if !s.Available || !s.Configured {
			mark = color.RedString("unavailable")
		}
		fmt.Printf("  %-10s: %s\n", name, mark)
		if s.Error != "" {
			fmt.Printf("  %-10s  %s\n", "", s.Error)
		}
	}
}
