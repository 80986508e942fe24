package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/funvibe/aspectweave/internal/config"
)

// watchDebounce coalesces the bursts of events an editor or build tool
// produces for one save.
const watchDebounce = 200 * time.Millisecond

// watch weaves every project, then re-weaves the projects whose project
// file or input changes until ctx is done.
func (a *app) watch(ctx context.Context, out io.Writer, paths []string, noCache bool) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Close()

	// Directories are watched rather than files, so editors that replace a
	// file on save keep being observed.
	owners := make(map[string][]string)
	dirs := make(map[string]bool)
	for _, path := range paths {
		files := []string{path}
		if p, err := config.LoadProject(path); err == nil {
			files = append(files, p.InputPath())
		}
		for _, f := range files {
			abs, err := filepath.Abs(f)
			if err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			owners[abs] = append(owners[abs], path)
			dirs[filepath.Dir(abs)] = true
		}
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	if err := a.weaveAll(out, paths, noCache); err != nil {
		a.logger.Warn("initial weave failed", zap.Error(err))
	}
	fmt.Fprintf(out, "watching %d projects\n", len(paths))

	pending := make(map[string]bool)
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			for _, path := range owners[filepath.Clean(ev.Name)] {
				pending[path] = true
			}
			if len(pending) > 0 {
				fire = time.After(watchDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("watch error", zap.Error(err))
		case <-fire:
			fire = nil
			batch := make([]string, 0, len(pending))
			for path := range pending {
				batch = append(batch, path)
			}
			sort.Strings(batch)
			pending = make(map[string]bool)
			a.logger.Debug("re-weaving", zap.Strings("projects", batch))
			if err := a.weaveAll(out, batch, noCache); err != nil {
				a.logger.Warn("re-weave failed", zap.Error(err))
			}
		}
	}
}
