package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/depthcapture/logging"
	"go.viam.com/depthcapture/utils"
)

// DefaultDebounceDelay coalesces the burst of events an editor produces when saving a file.
const DefaultDebounceDelay = 100 * time.Millisecond

// A Watcher re-reads a config file whenever it changes and publishes each valid new config.
type Watcher struct {
	path     string
	logger   logging.Logger
	onChange func(*Config)
	watcher  *fsnotify.Watcher
	debounce func(func())
	workers  utils.StoppableWorkers

	reloadMu sync.Mutex
}

// NewWatcher starts watching path. onChange is called with each successfully read config, from a
// background goroutine and one call at a time. A change that fails to read or validate is logged
// and skipped.
func NewWatcher(path string, delay time.Duration, onChange func(*Config), logger logging.Logger) (*Watcher, error) {
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create config watcher")
	}
	// Watch the directory: editors often replace the file rather than write it in place.
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		goutils.UncheckedErrorFunc(fsw.Close)
		return nil, errors.Wrapf(err, "failed to watch %s", filepath.Dir(abs))
	}
	w := &Watcher{
		path:     abs,
		logger:   logger,
		onChange: onChange,
		watcher:  fsw,
		debounce: debounce.New(delay),
	}
	w.workers = utils.NewStoppableWorkers(w.run)
	return w, nil
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.debounce(func() { w.reload(ctx) })
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()
	if ctx.Err() != nil {
		return
	}
	cfg, err := Read(w.path, w.logger)
	if err != nil {
		w.logger.Warnw("ignoring invalid config change", "path", w.path, "error", err)
		return
	}
	w.logger.Infow("config changed", "path", w.path)
	w.onChange(cfg)
}

// Close stops watching.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	w.workers.Stop()
	return err
}
