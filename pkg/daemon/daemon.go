package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shaneisley/sigmashift/pkg/config"
	"github.com/shaneisley/sigmashift/pkg/history"
	"github.com/shaneisley/sigmashift/pkg/logging"
	"github.com/shaneisley/sigmashift/pkg/metrics"
	"github.com/shaneisley/sigmashift/pkg/sampling"
	"github.com/shaneisley/sigmashift/pkg/schedulers"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Search metrics kept in memory for stats requests
const (
	DefaultMetricsSize = 10000
	DefaultMetricsAge  = 24 * time.Hour
)

// Config holds daemon configuration
type Config struct {
	// Search holds the defaults for omitted request fields, the cache and
	// throttling settings
	Search *config.Config
	// ConfigFile is watched for changes to the search defaults when set
	ConfigFile        string
	PidFile           string
	MaxConnections    int
	ConnectionTimeout time.Duration
}

// DefaultConfig returns a default daemon configuration
func DefaultConfig() *Config {
	return &Config{
		Search:            config.LoadWithDefaults(),
		MaxConnections:    DefaultMaxConnections,
		ConnectionTimeout: DefaultConnectionTimeout,
	}
}

// Daemon serves shift searches over a unix socket
type Daemon struct {
	config    *Config
	service   *Service
	server    *UnixServer
	store     *history.Store
	recorder  *metrics.Recorder
	logger    *logging.Logger
	startedAt time.Time
}

// NewDaemon creates a daemon, loading presets and opening the result cache
func NewDaemon(cfg *Config, logger *logging.Logger) (*Daemon, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Search == nil {
		cfg.Search = config.LoadWithDefaults()
	}
	if logger == nil {
		logger = logging.Nop()
	}

	presets, err := sampling.LoadPresets(cfg.Search.PresetsFile)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		config:   cfg,
		recorder: metrics.NewRecorder(DefaultMetricsSize, DefaultMetricsAge),
		logger:   logger,
	}

	opts := []ServiceOption{
		WithServiceLogger(logger.WithComponent("service")),
		WithRecorder(d.recorder),
		WithLimiter(rate.NewLimiter(rate.Limit(cfg.Search.RateLimit), cfg.Search.RateBurst)),
	}
	if !cfg.Search.NoCache {
		cachePath := cfg.Search.CachePath
		if cachePath == "" {
			cachePath = history.DefaultPath()
		}
		store, err := history.Open(cachePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open result cache: %w", err)
		}
		d.store = store
		opts = append(opts, WithStore(store))
	}

	d.service = NewService(presets, schedulers.NewEvaluator(), opts...)
	d.service.SetDefaults(cfg.Search.Model, cfg.Search.Request())

	handler := NewHandler(d.service, logger.WithComponent("protocol"))
	d.server = NewUnixServer(cfg.Search.SocketPath, handler, logger.WithComponent("server"))
	if cfg.MaxConnections > 0 {
		d.server.SetMaxConnections(cfg.MaxConnections)
	}
	d.server.SetConnectionTimeout(cfg.ConnectionTimeout)

	return d, nil
}

// Service returns the daemon's search service
func (d *Daemon) Service() *Service {
	return d.service
}

// Start starts serving
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.writePidFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	if err := d.server.Start(ctx); err != nil {
		d.removePidFile()
		return fmt.Errorf("failed to create socket listener: %w", err)
	}

	if d.config.ConfigFile != "" {
		if err := config.WatchFile(d.config.ConfigFile, d.reload); err != nil {
			d.logger.Warn("config file will not be watched", zap.Error(err))
		}
	}

	d.startedAt = time.Now()
	d.logger.Info("daemon started", zap.String("socket", d.server.SocketPath()))
	return nil
}

// Stop stops the daemon and releases the socket, PID file and cache
func (d *Daemon) Stop() error {
	err := d.server.Stop()
	d.removePidFile()
	if d.store != nil {
		if closeErr := d.store.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	d.logger.Info("daemon stopped")
	return err
}

// Run starts the daemon and blocks until ctx is done or SIGINT/SIGTERM
// arrives, then stops it
func (d *Daemon) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	d.logger.Info("shutting down")
	return d.Stop()
}

// reload applies changed search defaults from the watched config file
func (d *Daemon) reload(cfg *config.Config, err error) {
	if err != nil {
		d.logger.Warn("ignoring invalid config change", zap.Error(err))
		return
	}
	d.service.SetDefaults(cfg.Model, cfg.Request())
	d.logger.Info("search defaults reloaded",
		zap.String("model", cfg.Model),
		zap.String("scheduler", cfg.Scheduler))
}

// GetStats returns daemon statistics
func (d *Daemon) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"socket_path": d.server.SocketPath(),
		"models":      d.service.ModelNames(),
	}
	if !d.startedAt.IsZero() {
		stats["uptime"] = time.Since(d.startedAt)
	}
	searches, cache := d.service.Stats()
	stats["searches"] = searches
	if cache != nil {
		stats["cache"] = cache
	}
	stats["runtime"] = metrics.Runtime()
	return stats
}

// writePidFile writes the process ID to a file
func (d *Daemon) writePidFile() error {
	if d.config.PidFile == "" {
		return nil
	}

	dir := filepath.Dir(d.config.PidFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	pid := os.Getpid()
	return os.WriteFile(d.config.PidFile, []byte(fmt.Sprintf("%d\n", pid)), 0644)
}

// removePidFile removes the PID file
func (d *Daemon) removePidFile() {
	if d.config.PidFile != "" {
		os.Remove(d.config.PidFile)
	}
}

// IsRunning checks if the daemon is running by checking the PID file
func IsRunning(pidFile string) (bool, int, error) {
	if pidFile == "" {
		return false, 0, nil
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}

	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return false, 0, fmt.Errorf("invalid PID file format: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, pid, nil
	}

	// Signal 0 checks for existence without delivering anything
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return false, pid, nil
	}

	return true, pid, nil
}
