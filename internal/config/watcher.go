package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the configuration when the config file changes on
// disk and hands the validated result to a callback.
type Watcher struct {
	loader    *Loader
	path      string
	validator *Validator
	onChange  func(*Config)
	logger    zerolog.Logger

	fsw      *fsnotify.Watcher
	debounce time.Duration
}

// NewWatcher creates a config file watcher. onChange is invoked with
// every successfully reloaded and validated config.
func NewWatcher(configPath string, onChange func(*Config), logger zerolog.Logger) (*Watcher, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config path is required")
	}
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback is required")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		loader:    NewLoader(configPath),
		path:      configPath,
		validator: NewValidator(),
		onChange:  onChange,
		logger:    logger.With().Str("module", "config-watcher").Logger(),
		fsw:       fsw,
		debounce:  500 * time.Millisecond,
	}, nil
}

// Start begins watching. It returns once the watch is established; the
// reload loop runs until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	// Watch the directory, not the file: editors and atomic writers
	// replace the file inode on save.
	dir := filepath.Dir(w.path)
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.loop(ctx)
	return nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Config watch error")

		case <-reload:
			cfg, err := w.loader.Load()
			if err != nil {
				w.logger.Error().Err(err).Msg("Failed to reload config")
				continue
			}
			if err := w.validator.Validate(cfg); err != nil {
				w.logger.Error().Err(err).Msg("Reloaded config failed validation, keeping current config")
				continue
			}
			w.logger.Info().Str("path", w.path).Msg("Config reloaded")
			w.onChange(cfg)
		}
	}
}
