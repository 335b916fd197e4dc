package device_config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher calls onChange after the device document or a rules.d file changed.
// Bursts of events (editors write, rename and chmod) collapse into one call.
type Watcher struct {
	loader   *Loader
	onChange func(ctx context.Context)
	debounce time.Duration
	logger   *log.Logger
}

func NewWatcher(loader *Loader, onChange func(ctx context.Context), debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{loader: loader, onChange: onChange, debounce: debounce, logger: log.Component("device_config")}
}

// Run watches the directories of the document and of rules.d until ctx is done.
// Directories are watched rather than files so atomic replaces are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create config watcher")
	}
	defer func() { _ = fw.Close() }()

	docDir := filepath.Dir(w.loader.Path())
	if err := fw.Add(docDir); err != nil {
		return errors.Wrapf(err, "watch %s", docDir)
	}
	if err := fw.Add(w.loader.RulesDir()); err != nil {
		w.logger.Debug("Rules directory not watched", zap.String("dir", w.loader.RulesDir()), zap.Error(err))
	}
	w.logger.Info("Started device config watcher", zap.String("path", w.loader.Path()))

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Device config watcher error", zap.Error(err))
		case <-fire:
			fire = nil
			w.onChange(ctx)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
		return false
	}
	name := filepath.Clean(ev.Name)
	if name == filepath.Clean(w.loader.Path()) {
		return true
	}
	return filepath.Dir(name) == filepath.Clean(w.loader.RulesDir()) && filepath.Ext(name) == ".yaml"
}
