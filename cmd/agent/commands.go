package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/autoedit/autoedit-agent/internal/batch"
	"github.com/autoedit/autoedit-agent/internal/config"
	"github.com/autoedit/autoedit-agent/internal/editor"
	"github.com/autoedit/autoedit-agent/internal/export"
	"github.com/autoedit/autoedit-agent/internal/logging"
)

// errBatchFailed makes the process exit non-zero once the result table has
// already been printed.
var errBatchFailed = errors.New("batch failed")

type editFlags struct {
	export   string
	loudness float64
	margin   float64
	stats    bool
}

func (f *editFlags) register(cmd *cobra.Command) {
	// Defaults live in the config file; a flag only applies when set.
	cmd.Flags().StringVar(&f.export, "export", "", "Export format (default from config)")
	cmd.Flags().Float64Var(&f.loudness, "loudness", 0, "Silence threshold in dB (default from config)")
	cmd.Flags().Float64Var(&f.margin, "margin", 0, "Seconds kept around loud sections (default from config)")
	cmd.Flags().BoolVar(&f.stats, "stats", false, "Ask the tool to print cut statistics (default from config)")
}

// resolve overlays flags the user actually set on the configured defaults.
func (f *editFlags) resolve(cmd *cobra.Command, defaults editor.EditParameters) (editor.EditParameters, error) {
	params := defaults
	if cmd.Flags().Changed("export") {
		format, err := export.ParseFormat(f.export)
		if err != nil {
			return params, err
		}
		params.ExportFormat = format
	}
	if cmd.Flags().Changed("loudness") {
		params.LoudnessDB = f.loudness
	}
	if cmd.Flags().Changed("margin") {
		params.MarginSeconds = f.margin
	}
	if cmd.Flags().Changed("stats") {
		params.StatsRequested = f.stats
	}
	return params, nil
}

func cliLogger(cmd *cobra.Command, cfg config.Config) *slog.Logger {
	level := "warn"
	if logging.ParseLevel(cfg.LogLevel()) == slog.LevelDebug {
		level = "debug"
	}
	return logging.New(cmd.ErrOrStderr(), level, "text")
}

func validateFiles(args []string) ([]editor.FileRef, error) {
	files := make([]editor.FileRef, 0, len(args))
	for _, arg := range args {
		abs, err := batch.ValidateInput(arg)
		if err != nil {
			return nil, err
		}
		files = append(files, editor.NewFileRef(abs))
	}
	return files, nil
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		flags     editFlags
		outputDir string
	)

	cmd := &cobra.Command{
		Use:   "run <file>...",
		Short: "Process files in order without starting the agent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			params, err := flags.resolve(cmd, cfg.EditDefaults())
			if err != nil {
				return err
			}
			files, err := validateFiles(args)
			if err != nil {
				return err
			}

			dir := cfg.OutputDir()
			if outputDir != "" {
				dir = outputDir
			}
			if err := export.CheckOutputDir(dir); err != nil {
				return err
			}

			logger := cliLogger(cmd, cfg)
			out := cmd.OutOrStdout()
			orch := newOrchestrator(newToolRunner(cfg, logger), dir, newConsoleNotifier(out), logger)

			res, err := orch.RunBatch(cmd.Context(), files, params, batch.WithBatchID(batch.SourceCLI))
			if err != nil {
				return err
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, resultTable(res))
			fmt.Fprintf(out, "Output: %s\n", dir)

			if res.FailureCount > 0 || res.State == batch.StateCancelled {
				return errBatchFailed
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Output directory (defaults to config)")
	return cmd
}

func newPreviewCommand(ctx *commandContext) *cobra.Command {
	var flags editFlags

	cmd := &cobra.Command{
		Use:   "preview <file>",
		Short: "Run the tool on one file and report how much would be cut",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			params, err := flags.resolve(cmd, cfg.EditDefaults())
			if err != nil {
				return err
			}
			files, err := validateFiles(args)
			if err != nil {
				return err
			}

			logger := cliLogger(cmd, cfg)
			out := cmd.OutOrStdout()
			orch := newOrchestrator(newToolRunner(cfg, logger), cfg.OutputDir(), batch.NopNotifier{}, logger)

			st, err := orch.PreviewOne(cmd.Context(), files[0], params)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, batch.PreviewMessage(st))
			fmt.Fprintln(out, statsTable(st))
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func newCommandCommand(ctx *commandContext) *cobra.Command {
	var flags editFlags

	cmd := &cobra.Command{
		Use:   "command [file]...",
		Short: "Print the command line that would be run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			params, err := flags.resolve(cmd, cfg.EditDefaults())
			if err != nil {
				return err
			}
			files := make([]editor.FileRef, 0, len(args))
			for _, arg := range args {
				files = append(files, editor.NewFileRef(arg))
			}
			fmt.Fprintln(cmd.OutOrStdout(), editor.Preview(files, params))
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that auto-editor can be launched",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			runner := newToolRunner(cfg, cliLogger(cmd, cfg))
			caps, err := runner.Probe(cmd.Context())
			if caps == nil {
				return err
			}

			available := "yes"
			if !caps.Available {
				available = "no"
			}
			rows := [][]string{
				{"Available", available},
				{"Version", caps.ToolVersion},
				{"Launcher", caps.Launcher},
				{"Python", caps.Python},
				{"Output dir", cfg.OutputDir()},
				{"Data dir", cfg.DataDir()},
			}
			if caps.Error != "" {
				rows = append(rows, []string{"Error", caps.Error})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Check", "Value"}, rows, nil))

			if !caps.Available {
				if err == nil {
					err = errors.New(caps.Error)
				}
				return fmt.Errorf("auto-editor unavailable: %w", err)
			}
			return nil
		},
	}
}
