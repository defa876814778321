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

	"github.com/storyround/storyround/internal/config"
	"github.com/storyround/storyround/internal/logger"
	"github.com/storyround/storyround/internal/observability"
	"github.com/storyround/storyround/internal/tracing"
	"github.com/storyround/storyround/pkg/backfill"
	"github.com/storyround/storyround/pkg/cron"
	"github.com/storyround/storyround/pkg/docstore"
	"github.com/storyround/storyround/pkg/gateway"
	"github.com/storyround/storyround/pkg/identity"
	"github.com/storyround/storyround/pkg/seeder"
	"github.com/storyround/storyround/pkg/story"
)

// Daemon represents the storyround daemon service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	store    *docstore.SQLiteStore
	sessions *story.Manager
	identity identity.Provider

	// Services
	gatewayServer  *gateway.Server
	seeder         *seeder.Seeder
	backfiller     *backfill.Backfiller
	backfillRunner *cron.Runner

	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()
	if err := tracing.InitOpenTelemetry("storyround-daemon"); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		log.Info().Msg("Tracing initialized successfully")
	}

	d := &Daemon{
		config:         cfg,
		logger:         log,
		ctx:            ctx,
		cancel:         cancel,
		tracingEnabled: true,
	}

	// Initialize core modules in dependency order
	if err := d.initializeCoreModules(); err != nil {
		cancel()
		d.teardownTracing()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	// Initialize services
	if err := d.initializeServices(); err != nil {
		cancel()
		if d.store != nil {
			_ = d.store.Close()
		}
		d.teardownTracing()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// initializeCoreModules initializes storage, the session manager and the
// identity provider
func (d *Daemon) initializeCoreModules() error {
	if err := os.MkdirAll(d.config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	auditPath := filepath.Join(d.config.DataDir, "audit.log")
	if err := observability.InitAuditLogger(auditPath); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
	} else {
		d.logger.Info().Str("path", auditPath).Msg("Audit logger initialized")
	}

	storePath := d.config.Storage.Path
	if storePath == "" {
		storePath = filepath.Join(d.config.DataDir, "sessions.db")
	}
	store, err := docstore.Open(docstore.Config{
		Path:           storePath,
		Logger:         d.logger.GetZerolog(),
		TxnMaxAttempts: d.config.Storage.TxnMaxAttempts,
		Indexes:        map[string]string{story.Collection: story.IndexedField},
	})
	if err != nil {
		return fmt.Errorf("failed to open document store: %w", err)
	}
	d.store = store
	d.logger.Info().Str("path", storePath).Msg("Document store opened")

	d.sessions = story.NewManager(store, d.logger.GetZerolog())
	d.logger.Info().Msg("Session manager initialized")

	provider, err := d.newIdentityProvider()
	if err != nil {
		return fmt.Errorf("failed to create identity provider: %w", err)
	}
	d.identity = provider
	d.logger.Info().Str("provider", d.config.Identity.Provider).Msg("Identity provider initialized")

	return nil
}

// initializeServices initializes the gateway, seed watcher and backfill job
func (d *Daemon) initializeServices() error {
	gatewayServer, err := gateway.NewServer(gateway.Config{
		Host:              d.config.Gateway.Host,
		Port:              d.config.Gateway.Port,
		SharedSecret:      d.config.Gateway.SharedSecret,
		RequestsPerMinute: d.config.Gateway.RequestsPerMinute,
		MaxConcurrent:     d.config.Gateway.MaxConcurrent,
		Sessions:          d.sessions,
		Identity:          d.identity,
		Logger:            d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	d.gatewayServer = gatewayServer
	d.logger.Info().Int("port", d.config.Gateway.Port).Msg("Gateway server initialized")

	if d.config.Seeds.Enabled {
		seedDir := d.config.Seeds.Dir
		if !filepath.IsAbs(seedDir) {
			seedDir = filepath.Join(d.config.DataDir, seedDir)
		}
		sd, err := seeder.New(seedDir, d.sessions, d.logger.GetZerolog())
		if err != nil {
			return fmt.Errorf("failed to create seed watcher: %w", err)
		}
		d.seeder = sd
		d.logger.Info().Str("dir", seedDir).Msg("Seed watcher initialized")
	}

	if d.config.Backfill.Enabled {
		d.backfiller = backfill.New(d.store, d.logger.GetZerolog())
		runner, err := cron.NewRunner(
			"membership-backfill",
			cron.CronSchedule(d.config.Backfill.Schedule),
			d.backfiller.Run,
			d.logger.GetZerolog(),
		)
		if err != nil {
			return fmt.Errorf("failed to create backfill runner: %w", err)
		}
		d.backfillRunner = runner
		d.logger.Info().Str("schedule", d.config.Backfill.Schedule).Msg("Backfill runner initialized")
	}

	return nil
}

// newIdentityProvider builds the identity provider selected in config.
func (d *Daemon) newIdentityProvider() (identity.Provider, error) {
	switch d.config.Identity.Provider {
	case "anonymous":
		return identity.NewAnonymousProvider(), nil
	case "static":
		tokensPath := d.config.Identity.TokensPath
		if !filepath.IsAbs(tokensPath) {
			tokensPath = filepath.Join(d.config.DataDir, tokensPath)
		}
		return identity.NewStaticProvider(tokensPath, d.logger.GetZerolog())
	default:
		return nil, fmt.Errorf("unknown identity provider: %s", d.config.Identity.Provider)
	}
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Starting storyround daemon")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.gatewayServer.Start(); err != nil {
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	logger.Info().Msg("Gateway server started")

	if d.seeder != nil {
		if err := d.seeder.Start(); err != nil {
			return fmt.Errorf("failed to start seed watcher: %w", err)
		}
		logger.Info().Msg("Seed watcher started")
	}

	if d.backfillRunner != nil {
		if err := d.backfillRunner.Start(); err != nil {
			return fmt.Errorf("failed to start backfill runner: %w", err)
		}
		// One sweep right away so a store restored from backup does not
		// wait until the next scheduled run for index repair.
		d.backfillRunner.RunNow()
		logger.Info().Msg("Backfill runner started")
	}

	logger.Info().Msg("Daemon started successfully - all core modules active")

	return nil
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Stopping storyround daemon")

	if d.seeder != nil {
		d.seeder.Stop()
		logger.Info().Msg("Seed watcher stopped")
	}

	if d.backfillRunner != nil {
		d.backfillRunner.Stop()
		logger.Info().Msg("Backfill runner stopped")
	}

	if d.gatewayServer != nil {
		if err := d.gatewayServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop gateway server")
		}
	}

	d.cancel()

	if d.store != nil {
		if err := d.store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close document store")
		}
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.teardownTracing()

	if err := observability.GetAuditLogger().Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	logger.Info().Msg("Daemon stopped successfully")

	return nil
}

func (d *Daemon) teardownTracing() {
	if !d.tracingEnabled {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
		d.logger.Error().Err(err).Msg("Failed to shutdown tracing")
	}
	d.tracingEnabled = false
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// Wait waits for the daemon to stop
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetStore returns the document store
func (d *Daemon) GetStore() *docstore.SQLiteStore {
	return d.store
}

// GetSessionManager returns the session state manager
func (d *Daemon) GetSessionManager() *story.Manager {
	return d.sessions
}

// GetGatewayServer returns the gateway server
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}

// GetBackfillRunner returns the membership backfill runner
func (d *Daemon) GetBackfillRunner() *cron.Runner {
	return d.backfillRunner
}

// Status represents daemon status
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
}
