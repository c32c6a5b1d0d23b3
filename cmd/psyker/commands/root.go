package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/psyker-lang/psyker/internal/config"
	"github.com/psyker-lang/psyker/internal/printer"
	"github.com/psyker-lang/psyker/pkg/runtime"
	"github.com/psyker-lang/psyker/pkg/sandbox"
)

var (
	version string
	commit  string
	date    string
)

var (
	flagSandbox string
	flagConfig  string
	flagVerbose bool
	flagNoColor bool
)

// Built once per invocation by setup; every command works through them.
var (
	logger *zap.Logger
	state  *runtime.State
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "psyker",
	Short: "Psyker - DSL runtime for sandboxed terminal automation",
	Long: `Psyker is an interpreted automation language with three dialects:
tasks (.psy) say what to do, workers (.psyw) say what may be done, and
agents (.psya) say who does it. Statements run inside a sandbox directory
through capability-checked workers selected round-robin from agent pools.

Definitions live in a session registry. One-shot commands start with an
empty registry ('run --load' populates it); 'psyker shell' keeps the
registry alive across commands.`,
	// If no subcommand is specified, show help
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	PersistentPreRunE: setup,
	PersistentPostRun: teardown,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	// Silence Cobra's default error and usage printing; main renders
	// diagnostics through the printer and maps the exit code.
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.ExecuteContext(ctx)
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagSandbox, "sandbox", "", "Sandbox root directory (overrides PSYKER_SANDBOX_ROOT and psyker.yml)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to psyker.yml")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output")
}

// setup resolves configuration, builds the logger, and binds the session
// state to the sandbox before any command runs.
func setup(cmd *cobra.Command, args []string) error {
	if flagNoColor {
		printer.DisableColor()
	}

	// init rewrites psyker.yml, so it runs without reading one.
	var (
		cfg *config.Config
		err error
	)
	if cmd.Name() != "init" {
		cfg, err = loadConfig()
		if err != nil {
			return err
		}
	}

	verbose := flagVerbose || (cfg != nil && cfg.Verbose())
	logger, err = newLogger(verbose)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	root, err := resolveRoot(cfg)
	if err != nil {
		return err
	}
	state = runtime.NewState(sandbox.New(root), runtime.WithLogger(logger))
	logger.Debug("session ready", zap.String("sandbox_root", root))
	return nil
}

func teardown(cmd *cobra.Command, args []string) {
	if logger != nil {
		_ = logger.Sync()
	}
}

// loadConfig reads --config when given, otherwise ./psyker.yml when present.
// A missing implicit file means defaults, not an error.
func loadConfig() (*config.Config, error) {
	if flagConfig != "" {
		return config.Load(flagConfig)
	}
	if _, err := os.Stat("psyker.yml"); err == nil {
		return config.Load("psyker.yml")
	}
	return nil, nil
}

// resolveRoot applies the sandbox root precedence:
// --sandbox flag, then PSYKER_SANDBOX_ROOT, then psyker.yml, then the
// default under the home directory.
func resolveRoot(cfg *config.Config) (string, error) {
	if flagSandbox != "" {
		return filepath.Abs(flagSandbox)
	}
	if os.Getenv(sandbox.EnvRoot) != "" {
		return sandbox.DefaultRoot()
	}
	if cfg != nil && cfg.Root() != "" {
		return filepath.Abs(cfg.Root())
	}
	return sandbox.DefaultRoot()
}

func newLogger(verbose bool) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if verbose {
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return zapCfg.Build()
}
