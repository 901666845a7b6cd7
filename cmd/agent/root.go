package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/autoedit/autoedit-agent/internal/batch"
	"github.com/autoedit/autoedit-agent/internal/config"
	"github.com/autoedit/autoedit-agent/internal/editor"
	"github.com/autoedit/autoedit-agent/internal/logging"
	"github.com/autoedit/autoedit-agent/internal/pipelines"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.EnvConfig
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.EnvConfig, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = fmt.Errorf("failed to load config: %w", err)
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() *slog.Logger {
	cfg, err := c.ensureConfig()
	if err != nil {
		return logging.NewLogger(config.DefaultLogLevel, config.DefaultLogFormat)
	}
	return logging.NewLogger(cfg.LogLevel(), cfg.LogFormat())
}

// newToolRunner builds the subprocess runner from configuration.
func newToolRunner(cfg config.Config, logger *slog.Logger) *pipelines.SubprocessRunner {
	pc := pipelines.DefaultConfig(logging.WithComponent(logger, "runner"))
	pc.PythonPath = cfg.PythonPath()
	pc.ModuleName = cfg.ModuleName()
	pc.ToolPath = cfg.ToolPath()
	pc.Timeout = cfg.ProcessTimeout()
	pc.ProbeTimeout = cfg.ProbeTimeout()
	pc.DebugPaths = logging.ParseLevel(cfg.LogLevel()) == slog.LevelDebug
	return pipelines.NewRunner(pc)
}

// newOrchestrator wires an orchestrator writing to outputDir.
func newOrchestrator(runner pipelines.Runner, outputDir string, notifier batch.Notifier, logger *slog.Logger) *batch.Orchestrator {
	resolver := editor.NewResolver(outputDir, logging.WithComponent(logger, "resolver"))
	return batch.NewOrchestrator(runner, resolver, nil, notifier, logging.WithComponent(logger, "orchestrator"))
}

func newRootCommand() *cobra.Command {
	var configFlag string

	ctx := newCommandContext(&configFlag)

	rootCmd := &cobra.Command{
		Use:           "autoedit-agent",
		Short:         "Batch front end for auto-editor",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       config.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newPreviewCommand(ctx))
	rootCmd.AddCommand(newCommandCommand(ctx))
	rootCmd.AddCommand(newDoctorCommand(ctx))

	return rootCmd
}
