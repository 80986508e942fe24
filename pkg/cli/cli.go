// Package cli is the aspectweave command line. Programs that define aspects
// build their own weaver binary by registering them and calling Main.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/pkg/aspects"
)

type app struct {
	registry *aspects.Registry
	logger   *zap.Logger
	verbose  bool
}

// Main runs the command line with the aspects of registry and returns the
// process exit code.
func Main(registry *aspects.Registry) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cmd := NewRootCommand(registry)
	if err := cmd.ExecuteContext(ctx); err != nil {
		printError(cmd.ErrOrStderr(), err)
		return 1
	}
	return 0
}

// NewRootCommand builds the command tree over registry.
func NewRootCommand(registry *aspects.Registry) *cobra.Command {
	if registry == nil {
		registry = aspects.NewRegistry()
	}
	return (&app{registry: registry}).root()
}

func (a *app) root() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aspectweave",
		Short: "Weave aspects into compiled modules",
		Long: `aspectweave rewrites compiled module bundles so the aspects applied to
their declarations run at the join points they advise.

Aspects are applied by custom attributes in the module or by the aspects
section of ` + config.ProjectFileName + `.`,
		Version:       config.WeaverVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.logger != nil {
				return nil
			}
			cfg := zap.NewProductionConfig()
			cfg.Encoding = "console"
			cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
			if a.verbose {
				cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			logger, err := cfg.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log every weaving step")

	cmd.AddCommand(a.weaveCmd(), a.cleanCmd(), a.disasmCmd(), a.verifyCmd())
	return cmd
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %v\n", newStyles(w).failure("error:"), err)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
