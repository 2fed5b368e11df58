package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"overdub/internal/config"
	"overdub/internal/history"
	"overdub/internal/logging"
	"overdub/internal/pipeline"
	"overdub/internal/staging"
)

// staleStagingAge is how old a leftover work directory must be before Start
// removes it.
const staleStagingAge = 24 * time.Hour

// Runs is the subset of the pipeline controller the daemon serves.
type Runs interface {
	Start(ctx context.Context, input pipeline.Input, mode pipeline.Mode, opts pipeline.StartOptions) (string, error)
	Progress(id string) (pipeline.Snapshot, error)
	Cancel(id string) error
	Result(id string) (*pipeline.Output, error)
	Subscribe(id string) (<-chan pipeline.Snapshot, func(), error)
	List() []pipeline.Snapshot
	Forget(id string) error
	Close() error
}

var _ Runs = (*pipeline.Controller)(nil)

// Daemon serves the pipeline over HTTP and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	runs    Runs
	history *history.Store

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool                   `json:"running"`
	LockFilePath string                 `json:"lock_file"`
	HistoryPath  string                 `json:"history_path,omitempty"`
	Active       int                    `json:"active"`
	Runs         map[pipeline.State]int `json:"runs"`
	StagingDirs  int                    `json:"staging_dirs"`
	StagingBytes int64                  `json:"staging_bytes"`
}

// New constructs a daemon. store may be nil when history is disabled.
func New(cfg *config.Config, runs Runs, store *history.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || runs == nil {
		return nil, errors.New("daemon requires config and run controller")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		runs:     runs,
		history:  store,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock and starts the API listener.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("ensure lock directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another overdub daemon instance is already running")
	}

	staging.CleanStale(ctx, d.cfg.Paths.StagingDir, staleStagingAge, d.logger)

	apiCtx, cancel := context.WithCancel(ctx)
	if err := d.api.start(apiCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api: %w", err)
	}
	d.cancel = cancel

	d.running.Store(true)
	d.logger.Info("overdub daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("address", d.api.address()),
	)
	return nil
}

// Addr returns the address the API listens on, or "" when stopped.
func (d *Daemon) Addr() string {
	return d.api.address()
}

// Stop stops the API listener and releases the daemon lock. Active runs keep
// going until Close.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.String(logging.FieldEventType, "lock_release_failed"),
			logging.Error(err),
		)
	}
	d.running.Store(false)
	d.logger.Info("overdub daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon, cancels active runs, and closes the history store.
func (d *Daemon) Close() error {
	d.Stop()
	err := d.runs.Close()
	if d.history != nil {
		err = errors.Join(err, d.history.Close())
	}
	return err
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	status := Status{
		Running:      d.running.Load(),
		LockFilePath: d.lockPath,
		Runs:         make(map[pipeline.State]int),
	}
	if d.history != nil {
		status.HistoryPath = d.history.Path()
	}
	if count, bytes, err := staging.Usage(d.cfg.Paths.StagingDir); err == nil {
		status.StagingDirs = count
		status.StagingBytes = bytes
	}
	for _, snap := range d.runs.List() {
		status.Runs[snap.State]++
		if !snap.State.Terminal() {
			status.Active++
		}
	}
	return status
}
