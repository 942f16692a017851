package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/corvid-ai/corvid/internal/config"
	"github.com/corvid-ai/corvid/internal/logger"
	"github.com/corvid-ai/corvid/internal/observability"
	"github.com/corvid-ai/corvid/internal/telegram"
	"github.com/corvid-ai/corvid/pkg/agent"
	"github.com/corvid-ai/corvid/pkg/channels"
	"github.com/corvid-ai/corvid/pkg/gateway"
	"github.com/corvid-ai/corvid/pkg/runtime"
	"github.com/corvid-ai/corvid/pkg/session"
)

// Daemon is the long-running process that wires the prompt runtime to
// its channels.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	store       *session.Store
	agents      *agent.Manager
	registry    *runtime.Registry
	coordinator *runtime.Coordinator

	// Channels and services
	channels  *channels.Registry
	gateway   *gateway.Server
	scheduler *cron.Cron
	watcher   *config.Watcher

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	running bool
}

// Status reports daemon state
type Status struct {
	Running    bool     `json:"running"`
	Channels   []string `json:"channels"`
	ActiveRuns int      `json:"active_runs"`
}

// New creates a daemon from a validated configuration
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}

	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config: cfg,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := d.initializeCoreModules(); err != nil {
		cancel()
		return nil, err
	}

	if err := d.initializeServices(); err != nil {
		cancel()
		return nil, err
	}

	return d, nil
}

func (d *Daemon) initializeCoreModules() error {
	zl := d.logger.GetZerolog()

	store, err := session.NewStore(filepath.Join(d.config.DataDir, "sessions"), zl)
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}
	d.store = store
	d.logger.Info().Msg("Session store initialized")

	maxTokens := 0
	defs := make([]agent.Definition, 0, len(d.config.Agents))
	for _, a := range d.config.Agents {
		defs = append(defs, agent.Definition{
			ID:            a.ID,
			Model:         a.Model,
			Fallbacks:     a.Fallbacks,
			SystemPrompt:  a.SystemPrompt,
			PromptTimeout: time.Duration(a.PromptTimeout) * time.Second,
			MaxTokens:     a.MaxTokens,
		})
		if a.MaxTokens > maxTokens {
			maxTokens = a.MaxTokens
		}
	}

	factory, err := agent.NewProviderFactory(agent.ProviderKeys{
		AnthropicAPIKey: d.config.Providers.AnthropicAPIKey,
		OpenAIAPIKey:    d.config.Providers.OpenAIAPIKey,
	}, maxTokens)
	if err != nil {
		return fmt.Errorf("failed to initialize providers: %w", err)
	}

	manager, err := agent.NewManager(agent.ManagerConfig{
		Factory:     factory,
		Store:       store,
		Definitions: defs,
		Logger:      zl,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize agent manager: %w", err)
	}
	d.agents = manager
	d.logger.Info().Int("agents", len(defs)).Msg("Agent manager initialized")

	d.registry = runtime.NewRegistry(zl, time.Duration(d.config.Runtime.SettleWaitMS)*time.Millisecond)

	coordinator, err := runtime.NewCoordinator(manager, d.registry, zl, runtime.Config{
		BusyRetryDelay:      time.Duration(d.config.Runtime.BusyRetryDelayMS) * time.Millisecond,
		TransientBaseDelay:  time.Duration(d.config.Runtime.TransientBaseDelayMS) * time.Millisecond,
		MaxTransientRetries: d.config.Runtime.MaxTransientRetries,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize coordinator: %w", err)
	}
	d.coordinator = coordinator
	d.logger.Info().Msg("Prompt coordinator initialized")

	return nil
}

func (d *Daemon) initializeServices() error {
	zl := d.logger.GetZerolog()

	d.channels = channels.NewRegistry(d.dispatch)

	if d.config.Channels.Telegram.Enabled {
		bot, err := telegram.New(&d.config.Telegram, d.coordinator, zl)
		if err != nil {
			return fmt.Errorf("failed to initialize telegram bot: %w", err)
		}
		if err := d.channels.Register(bot); err != nil {
			return fmt.Errorf("failed to register telegram channel: %w", err)
		}
	}

	if d.config.Channels.Gateway.Enabled {
		server, err := gateway.NewServer(gateway.Config{
			Port:         d.config.Gateway.Port,
			SharedSecret: d.config.Gateway.SharedSecret,
			Runtime:      d.coordinator,
			Dispatcher:   d.gatewayDispatch,
			Sessions:     d.store,
			Logger:       zl,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize gateway server: %w", err)
		}
		d.gateway = server
	}

	d.scheduler = cron.New()
	if _, err := d.scheduler.AddFunc(d.config.Sessions.SweepSchedule, d.sweepSessions); err != nil {
		return fmt.Errorf("invalid session sweep schedule %q: %w", d.config.Sessions.SweepSchedule, err)
	}

	return nil
}

// sweepSessions removes session transcripts past the retention window.
func (d *Daemon) sweepSessions() {
	retention := time.Duration(d.config.Sessions.RetentionDays) * 24 * time.Hour
	if retention <= 0 {
		return
	}

	removed, err := d.store.CleanupOlderThan(retention)
	if err != nil {
		d.logger.Error().Err(err).Msg("Session sweep failed")
		return
	}
	if removed > 0 {
		d.logger.Info().Int("removed", removed).Msg("Session sweep completed")
	}
}

// WatchConfig starts watching the given config file for changes. Most
// settings need a restart; the watcher surfaces edits early so a bad
// config is caught before the next restart.
func (d *Daemon) WatchConfig(configPath string) error {
	watcher, err := config.NewWatcher(configPath, func(cfg *config.Config) {
		d.logger.Warn().Msg("Config file changed on disk; restart the daemon to apply")
	}, d.logger.GetZerolog())
	if err != nil {
		return err
	}

	if err := watcher.Start(d.ctx); err != nil {
		watcher.Close()
		return err
	}

	d.watcher = watcher
	return nil
}

// Start starts all channels and services
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.mu.Unlock()

	d.logger.Info().Msg("Starting daemon")

	if err := d.channels.StartAll(d.ctx); err != nil {
		return fmt.Errorf("failed to start channels: %w", err)
	}

	if d.gateway != nil {
		if err := d.gateway.Start(); err != nil {
			return fmt.Errorf("failed to start gateway: %w", err)
		}
	}

	d.scheduler.Start()

	d.logger.Info().
		Strs("channels", d.channels.Names()).
		Bool("gateway", d.gateway != nil).
		Msg("Daemon started")

	return nil
}

// Stop stops all channels and services
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info().Msg("Stopping daemon")

	d.cancel()

	stopCtx := d.scheduler.Stop()
	<-stopCtx.Done()

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close config watcher")
		}
	}

	if d.gateway != nil {
		if err := d.gateway.Stop(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to stop gateway")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.channels.StopAll(shutdownCtx); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop channels")
	}

	d.logger.Info().Msg("Daemon stopped")

	return nil
}

// Status returns daemon state
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return Status{
		Running:    d.running,
		Channels:   d.channels.Names(),
		ActiveRuns: d.coordinator.ActiveRunCount(),
	}
}

// Wait blocks until the daemon receives an interrupt signal
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
}

// Coordinator exposes the runtime control surface
func (d *Daemon) Coordinator() *runtime.Coordinator {
	return d.coordinator
}
