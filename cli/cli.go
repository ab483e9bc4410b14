// Package cli holds the cobra commands shared by the clickup-metrics and web
// binaries.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"clickup-metrics/clickup"
	"clickup-metrics/config"
	"clickup-metrics/fetcher"
	"clickup-metrics/metrics"
	"clickup-metrics/report"
	"clickup-metrics/web"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// App carries what the commands need from the outside world.
type App struct {
	Fs  afero.Fs
	Out io.Writer
	Err io.Writer

	// NewSource builds the remote API for a configuration. Defaults to the
	// ClickUp REST client.
	NewSource func(cfg config.Config) fetcher.TaskSource
}

// NewApp returns an App wired to the OS filesystem, stdout and stderr.
func NewApp() *App {
	return &App{Fs: afero.NewOsFs(), Out: os.Stdout, Err: os.Stderr}
}

func (a *App) source(cfg config.Config) fetcher.TaskSource {
	if a.NewSource != nil {
		return a.NewSource(cfg)
	}
	return clickup.NewClient(cfg.ClientConfig())
}

func (a *App) logger(cfg config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(a.Err, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

// NewRootCmd creates the top-level "clickup-metrics" command.
func NewRootCmd(app *App) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "clickup-metrics",
		Short:         "Story points and development time across ClickUp task trees",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultFile, "configuration file")

	root.AddCommand(
		newReportCmd(app, &configPath),
		newSampleConfigCmd(app),
		NewServeCmd(app, &configPath),
	)
	return root
}

type reportFlags struct {
	policy         string
	removeWeekends bool
	weekendMode    string
	customID       bool
	workspace      string
	format         string
	output         string
}

func newReportCmd(app *App, configPath *string) *cobra.Command {
	var flags reportFlags

	cmd := &cobra.Command{
		Use:   "report <task-id>",
		Short: "Fetch a task tree and report points and dev days",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(app.Fs, *configPath)
			if err != nil {
				return err
			}

			opts, err := reportOptions(cmd, cfg, flags)
			if err != nil {
				return err
			}
			format, err := report.ParseFormat(flags.format)
			if err != nil {
				return err
			}

			req := clickup.TaskRequest{TaskID: args[0]}
			if flags.customID {
				req.WorkspaceID = flags.workspace
				if req.WorkspaceID == "" {
					req.WorkspaceID = cfg.WorkspaceID
				}
			}

			logger := app.logger(cfg)
			trees := fetcher.New(app.source(cfg), cfg.MaxConcurrentRequests, logger)

			fmt.Fprintf(app.Err, "🔄 Fetching task tree for %s...\n", req.TaskID)
			tree, err := trees.FetchTree(cmd.Context(), req)
			if err != nil {
				msg, _ := clickup.UserMessage(err)
				return fmt.Errorf("%s (%w)", msg, err)
			}

			root := metrics.Build(tree, opts)

			if flags.output != "" {
				if err := report.Export(app.Fs, root, opts, format, flags.output); err != nil {
					return err
				}
				fmt.Fprintf(app.Err, "✅ Report written to %s\n", flags.output)
				return nil
			}
			if format == report.FormatText {
				report.WriteSummary(app.Out, root, opts)
				return nil
			}
			return report.Write(app.Out, root, opts, format)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.policy, "policy", "", "aggregation policy: leaf, node or node_and_leaf (default from config)")
	f.BoolVar(&flags.removeWeekends, "remove-weekends", false, "take weekends out of dev days")
	f.StringVar(&flags.weekendMode, "weekend-mode", "", "weekend rule: ratio or calendar (default from config)")
	f.BoolVar(&flags.customID, "custom-id", false, "treat the task id as a custom task id")
	f.StringVar(&flags.workspace, "workspace", "", "workspace (team) id for custom task ids (default from config)")
	f.StringVar(&flags.format, "format", "text", "output format: text, json, yaml or csv")
	f.StringVarP(&flags.output, "output", "o", "", "write the report to this file instead of stdout")
	return cmd
}

// reportOptions starts from the configured options and applies the flags
// the user actually set.
func reportOptions(cmd *cobra.Command, cfg config.Config, flags reportFlags) (metrics.Options, error) {
	opts := cfg.MetricsOptions()
	if cmd.Flags().Changed("policy") {
		policy, err := metrics.ParsePolicy(flags.policy)
		if err != nil {
			return opts, err
		}
		opts.Policy = policy
	}
	if cmd.Flags().Changed("remove-weekends") {
		opts.ExcludeWeekends = flags.removeWeekends
	}
	if cmd.Flags().Changed("weekend-mode") {
		mode, err := metrics.ParseWeekendMode(flags.weekendMode)
		if err != nil {
			return opts, err
		}
		opts.WeekendMode = mode
	}
	return opts, nil
}

func newSampleConfigCmd(app *App) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "sample-config",
		Short: "Write a sample configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.CreateSampleConfig(app.Fs, path); err != nil {
				return fmt.Errorf("creating sample config: %w", err)
			}
			fmt.Fprintf(app.Out, "✅ Sample configuration file created: %s\n", path)
			fmt.Fprintf(app.Out, "\nEdit this file with your credentials and rename to %s\n", config.DefaultFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "config.sample.json", "where to write the sample")
	return cmd
}

// NewServeCmd creates the "serve" command running the HTTP API.
func NewServeCmd(app *App, configPath *string) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(app.Fs, *configPath)
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}

			logger := app.logger(cfg)
			trees := fetcher.New(app.source(cfg), cfg.MaxConcurrentRequests, logger)
			return web.NewServer(cfg, trees, logger).Start(cmd.Context(), cfg.Port)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "port to run the server on (default from config)")
	return cmd
}
