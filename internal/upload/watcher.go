package upload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

type WatcherOptions struct {
	// Dir is the directory to watch for new drawings.
	Dir string
	// SettleDelay is how long a file must stay quiet after its last write
	// before it is considered complete. Editors and cameras write in bursts.
	SettleDelay time.Duration
	// SubmitInterval throttles automatic submissions; at most one per
	// interval after the initial burst.
	SubmitInterval time.Duration
	Burst          int
	Logger         *log.Logger
}

// Watcher submits drawings dropped into a directory. Each settled file goes
// through the same validation and submission pipeline as a manual submit;
// rejected files are logged and skipped, they never stop the watch loop.
type Watcher struct {
	pipeline *Pipeline
	dir      string
	settle   time.Duration
	limiter  *rate.Limiter
	logger   *log.Logger

	pending map[string]time.Time
	seen    map[string]time.Time
}

func NewWatcher(pipeline *Pipeline, opts WatcherOptions) (*Watcher, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		return nil, fmt.Errorf("watch directory is required")
	}
	settle := opts.SettleDelay
	if settle <= 0 {
		settle = 2 * time.Second
	}
	interval := opts.SubmitInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 3
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	return &Watcher{
		pipeline: pipeline,
		dir:      dir,
		settle:   settle,
		limiter:  rate.NewLimiter(rate.Every(interval), burst),
		logger:   logger.With("component", "watch", "dir", dir),
		pending:  map[string]time.Time{},
		seen:     map[string]time.Time{},
	}, nil
}

// Run watches the directory until the context is canceled. Files already
// present at startup are not submitted; only files that change while the
// watcher runs are.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start filesystem watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching for drawings")

	ticker := time.NewTicker(w.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return fmt.Errorf("filesystem watcher closed")
			}
			w.handleEvent(event)
		case err, ok := <-fw.Errors:
			if !ok {
				return fmt.Errorf("filesystem watcher closed")
			}
			w.logger.Warn("watch error", "err", err)
		case <-ticker.C:
			w.flushSettled(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
		return
	}
	if _, ok := extContentTypes[strings.ToLower(filepath.Ext(event.Name))]; !ok {
		return
	}
	w.pending[event.Name] = time.Now()
}

func (w *Watcher) flushSettled(ctx context.Context) {
	now := time.Now()
	for path, last := range w.pending {
		if now.Sub(last) < w.settle {
			continue
		}
		delete(w.pending, path)

		info, err := os.Stat(path)
		if err != nil {
			w.logger.Warn("file vanished before submit", "path", path)
			continue
		}
		if mtime, ok := w.seen[path]; ok && mtime.Equal(info.ModTime()) {
			continue
		}

		if err := w.submit(ctx, path); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("automatic submit failed", "path", path, "err", err)
			continue
		}
		w.seen[path] = info.ModTime()
	}
}

func (w *Watcher) submit(ctx context.Context, path string) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := w.pipeline.SelectFile(path); err != nil {
		return err
	}
	taskID, err := w.pipeline.Submit(ctx)
	if err != nil {
		w.pipeline.Clear()
		return err
	}
	w.logger.Info("drawing submitted", "path", path, "task", taskID)
	return nil
}
