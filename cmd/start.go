package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nullstream/agentcore/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the orchestration core",
	Long:  `Start the HTTP status/health surface in the foreground, with every configured provider adapter registered.`,
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logFile, _ := cmd.Flags().GetBool("log-file")
	setupLogging(verbose, logFile)

	if err := ensureConfigExists(); err != nil {
		return err
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	color.Green("Starting %s v%s...", AppName, Version)
	logger.Info("Starting server",
		"host", cfg.Host,
		"port", cfg.Port,
		"provider_overrides", len(cfg.Providers),
	)

	srv := server.New(cfgMgr, logger)
	return srv.Start()
}
