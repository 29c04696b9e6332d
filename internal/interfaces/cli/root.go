// Package cli implements the crimesight command-line tool.  Commands run the
// engine in-process against a snapshot file and JSON request files.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/turtacn/CrimeSight-Intelligence/internal/application/engine"
	"github.com/turtacn/CrimeSight-Intelligence/internal/application/snapshot"
	"github.com/turtacn/CrimeSight-Intelligence/internal/config"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Output formats.
const (
	FormatText  = "text"
	FormatTable = "table"
	FormatJSON  = "json"
)

type cliContextKey struct{}

// RootOptions holds global CLI flags.
type RootOptions struct {
	ConfigPath   string
	LogLevel     string
	OutputFormat string
	NoColor      bool
	Engine       string
	SnapshotPath string
	AsOf         string
	Timeout      time.Duration
	ServerAddr   string
}

// CLIContext carries initialized dependencies through the command tree.
// Registry is nil when Engine runs on a remote server.
type CLIContext struct {
	Config       *config.Config
	Logger       logging.Logger
	Registry     *engine.Registry
	Engine       engine.Service
	OutputFormat string
	NoColor      bool
	Timeout      time.Duration
}

// NewRootCommand creates the root command with all global flags and
// subcommands.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "crimesight",
		Short: "CrimeSight crime-analysis engine",
		Long: "crimesight runs the crime-analysis engine locally: spatial binning, risk scoring,\n" +
			"hotspot detection and evolution, forecasting, patrol routing and resource allocation.\n" +
			"Requests are JSON files shaped like the HTTP API bodies.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return persistentPreRun(cmd, opts)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (default: environment only)")
	pf.StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.StringVarP(&opts.OutputFormat, "output", "o", FormatText, "output format (text, table, json)")
	pf.BoolVar(&opts.NoColor, "no-color", false, "disable colored output")
	pf.StringVar(&opts.Engine, "engine", "crime_analysis", "engine instance to run")
	pf.StringVar(&opts.SnapshotPath, "snapshot", "", "reference snapshot JSON file (zones, resources, incidents, jurisdictions)")
	pf.StringVar(&opts.AsOf, "as-of", "", "load time of the snapshot file (RFC3339, default now)")
	pf.DurationVar(&opts.Timeout, "timeout", 30*time.Second, "operation timeout")
	pf.StringVar(&opts.ServerAddr, "server", "", "run operations on this API server instead of locally (e.g. http://localhost:8080)")

	cmd.AddCommand(
		newBinCmd(),
		newScoreCmd(),
		newHotspotsCmd(),
		newEvolutionCmd(),
		newForecastCmd(),
		newRouteCmd(),
		newAllocateCmd(),
		newVersionCmd(),
	)
	return cmd
}

func persistentPreRun(cmd *cobra.Command, opts *RootOptions) error {
	switch opts.OutputFormat {
	case FormatText, FormatTable, FormatJSON:
	default:
		return errors.Newf(errors.ErrCodeValidation, "unknown output format %q", opts.OutputFormat)
	}

	cfg, err := initConfig(opts)
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}
	logger, err := logging.NewLogger(logging.LogConfig{
		Level:            opts.LogLevel,
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
	if err != nil {
		return fmt.Errorf("logger initialization failed: %w", err)
	}

	if opts.NoColor || opts.OutputFormat == FormatJSON {
		color.NoColor = true
	}
	cliCtx := &CLIContext{
		Config:       cfg,
		Logger:       logger,
		OutputFormat: opts.OutputFormat,
		NoColor:      opts.NoColor,
		Timeout:      opts.Timeout,
	}

	if opts.ServerAddr != "" {
		if opts.SnapshotPath != "" {
			return errors.NewValidationError("--snapshot only applies to local runs; drop it or --server")
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		dialCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
		remote, err := dialEngine(dialCtx, opts.ServerAddr, opts.Engine, opts.Timeout, logger)
		if err != nil {
			return err
		}
		cliCtx.Engine = remote
		cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cliCtx))
		return nil
	}

	store := snapshot.NewStore()
	if opts.SnapshotPath != "" {
		at := time.Now()
		if opts.AsOf != "" {
			if at, err = parseTimeFlag("as-of", opts.AsOf); err != nil {
				return err
			}
		}
		if err := loadSnapshotFile(store, opts.SnapshotPath, at); err != nil {
			return err
		}
	}
	reg, err := engine.NewRegistry(cfg.Engine, engine.Deps{Store: store, Logger: logger})
	if err != nil {
		return err
	}
	svc, err := reg.Get(opts.Engine)
	if err != nil {
		return err
	}

	cliCtx.Registry = reg
	cliCtx.Engine = svc
	cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cliCtx))
	return nil
}

func initConfig(opts *RootOptions) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.Load(opts.ConfigPath)
	}
	return config.LoadFromEnv()
}

// loadSnapshotFile publishes the snapshot.Data in path as version 1.
func loadSnapshotFile(store *snapshot.Store, path string, at time.Time) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeValidation, "open snapshot file")
	}
	defer f.Close()

	var d snapshot.Data
	if err := json.NewDecoder(f).Decode(&d); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "decode snapshot file "+path)
	}
	store.Swap(d, at)
	return nil
}

// GetCLIContext extracts the CLIContext stored by the root command.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errors.New(errors.ErrCodeInternal, "command context is nil")
	}
	cliCtx, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cliCtx == nil {
		return nil, errors.New(errors.ErrCodeInternal, "CLIContext not found in command context")
	}
	return cliCtx, nil
}

// Execute is the entry point used by cmd/crimesight.
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		PrintError(rootCmd, err)
		return err
	}
	return nil
}

// PrintError writes err to stderr.
func PrintError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", color.RedString("Error"), err.Error())
}

func printJSON(w io.Writer, data interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		// Skips config and engine setup.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "crimesight %s\n", Version)
			fmt.Fprintf(out, "  commit: %s\n", GitCommit)
			fmt.Fprintf(out, "  built:  %s\n", BuildDate)
			return nil
		},
	}
}

func isJSON(format string) bool { return strings.EqualFold(format, FormatJSON) }
