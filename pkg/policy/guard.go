package policy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Guard is a Filter backed by a Rego file that can be reloaded in place.
// Until a policy loads successfully every proposal is admitted.
type Guard struct {
	path       string
	entrypoint string
	logger     *slog.Logger

	current atomic.Pointer[Engine]

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewGuard loads the Rego file at path.
func NewGuard(ctx context.Context, path, entrypoint string, logger *slog.Logger) (*Guard, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	g := &Guard{path: absPath, entrypoint: entrypoint, logger: logger}
	if err := g.Reload(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

// Reload re-reads the file and swaps the engine. On failure the previous
// engine stays active.
func (g *Guard) Reload(ctx context.Context) error {
	// #nosec G304 -- File path is configured at startup
	src, err := os.ReadFile(g.path)
	if err != nil {
		return fmt.Errorf("read admission policy: %w", err)
	}
	engine, err := NewEngine(ctx, EngineOptions{
		Entrypoint: g.entrypoint,
		Modules:    map[string]string{filepath.Base(g.path): string(src)},
		Logger:     g.logger,
	})
	if err != nil {
		return fmt.Errorf("load admission policy %s: %w", g.path, err)
	}
	g.current.Store(engine)
	return nil
}

// Evaluate implements Filter.
func (g *Guard) Evaluate(ctx context.Context, input Input) (Decision, error) {
	engine := g.current.Load()
	if engine == nil {
		return Decision{Action: ActionAllow, Metadata: map[string]string{}}, nil
	}
	return engine.Evaluate(ctx, input)
}

// Watch reloads the policy whenever the file changes, until Close is called.
func (g *Guard) Watch() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(g.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.watcher = watcher
	g.cancel = cancel
	g.done = make(chan struct{})
	go g.watchLoop(ctx, watcher, g.done)
	return nil
}

// Close stops watching. The last loaded policy stays active.
func (g *Guard) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.watcher == nil {
		return nil
	}
	g.cancel()
	err := g.watcher.Close()
	<-g.done
	g.watcher = nil
	return err
}

func (g *Guard) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	var debounceTimer *time.Timer
	debounceDuration := 100 * time.Millisecond
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != g.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					if err := g.Reload(ctx); err != nil {
						g.logger.Error("admission policy reload failed", "path", g.path, "error", err)
						return
					}
					g.logger.Info("admission policy reloaded", "path", g.path)
				})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			g.logger.Warn("admission policy watcher error", "error", err)
		}
	}
}
