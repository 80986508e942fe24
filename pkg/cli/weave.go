package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/funvibe/aspectweave/internal/cache"
	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/diagnostics"
	"github.com/funvibe/aspectweave/internal/pipeline"
)

// report is the outcome of weaving one project.
type report struct {
	project     string
	output      string
	cached      bool
	implemented int
	messages    []diagnostics.Message
	err         error
}

func (a *app) weaveCmd() *cobra.Command {
	var watch, noCache bool
	cmd := &cobra.Command{
		Use:   "weave [project...]",
		Short: "Weave the modules of one or more projects",
		Long: `Weave the input module of each project and write the woven bundle.

A project is an ` + config.ProjectFileName + ` file or a directory holding one.
Without arguments the project is looked up from the current directory
upwards. Several projects are woven concurrently, each in its own session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := resolveProjects(args)
			if err != nil {
				return err
			}
			if watch {
				return a.watch(cmd.Context(), cmd.OutOrStdout(), paths, noCache)
			}
			return a.weaveAll(cmd.OutOrStdout(), paths, noCache)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-weave whenever a project or its input changes")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "weave even when a cached output matches")
	return cmd
}

func (a *app) cleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [project...]",
		Short: "Remove cached woven outputs",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := resolveProjects(args)
			if err != nil {
				return err
			}
			for _, path := range paths {
				c := cache.New(filepath.Dir(path))
				if err := c.Clean(); err != nil {
					return fmt.Errorf("cleaning %s: %w", c.Dir(), err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", c.Dir())
			}
			return nil
		},
	}
}

// resolveProjects maps arguments to project file paths.
func resolveProjects(args []string) ([]string, error) {
	if len(args) == 0 {
		found, err := config.FindProject(".")
		if err != nil {
			return nil, err
		}
		if found == "" {
			return nil, fmt.Errorf("no %s found in this directory or its parents", config.ProjectFileName)
		}
		return []string{found}, nil
	}
	paths := make([]string, 0, len(args))
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			arg = filepath.Join(arg, config.ProjectFileName)
		}
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, err
		}
		paths = append(paths, abs)
	}
	return paths, nil
}

// weaveAll weaves every project concurrently and prints the reports in
// argument order.
func (a *app) weaveAll(out io.Writer, paths []string, noCache bool) error {
	reports := make([]*report, len(paths))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range paths {
		g.Go(func() error {
			reports[i] = a.weaveProject(path, noCache)
			return reports[i].err
		})
	}
	err := g.Wait()

	st := newStyles(out)
	failed := 0
	for _, r := range reports {
		printReport(out, st, r)
		if r.err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d projects failed: %w", failed, len(paths), err)
	}
	return nil
}

func (a *app) weaveProject(path string, noCache bool) *report {
	r := &report{project: path}
	log := a.logger.With(zap.String("project", path))

	projectData, err := os.ReadFile(path)
	if err != nil {
		r.err = err
		return r
	}
	p, err := config.ParseProject(projectData, path)
	if err != nil {
		r.err = err
		return r
	}
	r.output = p.OutputPath()
	input, err := os.ReadFile(p.InputPath())
	if err != nil {
		r.err = err
		return r
	}

	var c *cache.Cache
	var key string
	if !noCache && p.CacheEnabled() {
		c = cache.New(p.Dir())
		key = c.Key(input, projectData, a.registry.Names())
		if data, ok := c.Lookup(key); ok {
			log.Debug("cache hit", zap.String("key", key))
			r.cached = true
			r.err = writeFile(r.output, data)
			return r
		}
	}

	ctx := pipeline.Default().Run(&pipeline.PipelineContext{
		Project:    p,
		Input:      input,
		OutputPath: r.output,
		Logger:     log,
		Registry:   a.registry,
	})
	r.messages = ctx.Sink.Messages()
	r.implemented = ctx.Implemented
	if ctx.Err != nil {
		var fatal *diagnostics.FatalError
		if errors.As(ctx.Err, &fatal) || errors.Is(ctx.Err, pipeline.ErrWeaveFailed) {
			r.err = fmt.Errorf("%s: weaving failed", path)
		} else {
			r.err = fmt.Errorf("%s: %w", path, ctx.Err)
		}
		return r
	}
	if c != nil {
		if err := c.Store(key, ctx.Output); err != nil {
			log.Warn("failed to cache output", zap.Error(err))
		}
	}
	return r
}

func printReport(w io.Writer, st styles, r *report) {
	for _, m := range r.messages {
		if m.Code == diagnostics.AW0070 {
			continue
		}
		label := st.severity(m.Severity, fmt.Sprintf("%s %s", m.Severity, m.Code))
		if m.Target != "" {
			fmt.Fprintf(w, "%s %s: %s\n", label, m.Target, m.Text)
		} else {
			fmt.Fprintf(w, "%s %s\n", label, m.Text)
		}
	}
	switch {
	case r.err != nil:
		fmt.Fprintf(w, "%s %v\n", st.failure("FAIL"), r.err)
	case r.cached:
		fmt.Fprintf(w, "%s %s %s\n", st.success("ok"), r.output, st.faint("(cached)"))
	default:
		fmt.Fprintf(w, "%s %s (%d aspects woven)\n", st.success("ok"), r.output, r.implemented)
	}
}
