package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long a file must go without writes before it
// counts as fully copied in.
const DefaultSettle = 2 * time.Second

// Handler processes one settled source file. Errors are logged by Run
// and do not stop the watch.
type Handler func(ctx context.Context, path string) error

// Run watches dir for .csv files and hands each one to fn once it has
// settled. Files already present at startup are processed first, in
// name order. Files are processed one at a time; a file written to
// again after processing is picked up again. Run blocks until ctx is
// cancelled, then returns nil.
func Run(ctx context.Context, dir string, settle time.Duration, fn Handler) error {
	if settle <= 0 {
		settle = DefaultSettle
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch: add %s: %w", dir, err)
	}
	slog.Info("watch: watching for source files", "dir", dir, "settle", settle)

	// Files dropped before startup never produce events; sweep them first.
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("watch: scan %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if isSource(filepath.Join(dir, e.Name())) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		process(ctx, filepath.Join(dir, name), fn)
		if ctx.Err() != nil {
			return nil
		}
	}

	pending := make(map[string]time.Time) // path -> last write event
	period := settle / 2
	if period < time.Millisecond {
		period = time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isSource(event.Name) {
				continue
			}
			if _, seen := pending[event.Name]; !seen {
				slog.Info("watch: new source file", "path", event.Name)
			}
			pending[event.Name] = time.Now()

		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < settle {
					continue
				}
				delete(pending, path)
				process(ctx, path, fn)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("watch: watcher error", "err", err)
		}
	}
}

func process(ctx context.Context, path string, fn Handler) {
	slog.Info("watch: processing source", "path", path)
	if err := fn(ctx, path); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("watch: processing failed", "path", path, "err", err)
		return
	}
	slog.Info("watch: source processed", "path", path)
}

// isSource reports whether path names a plain .csv file. Run
// directories created next to a processed source fail the mode test,
// other droppings fail the extension test.
func isSource(path string) bool {
	if !strings.EqualFold(filepath.Ext(path), ".csv") {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}
