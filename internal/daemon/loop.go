// Package daemon drives the upload cycle: scan the watch directory, upload
// the newest settled stills one at a time, delete them once stored, and
// wait. A watchdog bounds every cycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tonimelisma/motion-uploader/internal/graph"
	"github.com/tonimelisma/motion-uploader/internal/journal"
	"github.com/tonimelisma/motion-uploader/internal/selector"
	"github.com/tonimelisma/motion-uploader/internal/upload"
)

// Defaults for Config fields left zero.
const (
	DefaultFailureCooldown = 30 * time.Second
	DefaultIdleInterval    = 5 * time.Second
	DefaultWatchdogMargin  = 60 * time.Second
)

// State is the loop's lifecycle position.
type State int32

// Loop states, in order.
const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

var stateNames = []string{"starting", "running", "draining", "stopped"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}

	return fmt.Sprintf("state(%d)", int(s))
}

// TokenChecker makes sure an access token is available before a cycle.
// *graph.TokenManager satisfies it.
type TokenChecker interface {
	EnsureValidToken(ctx context.Context) error
	Expiry() time.Time
}

// Uploader is the remote side of the cycle. *upload.Uploader satisfies it.
type Uploader interface {
	EnsureRemoteFolders(ctx context.Context, deviceID string) error
	Upload(ctx context.Context, deviceID, prefix, suffix string, r io.Reader, size int64) (*graph.Item, error)
	Root() string
}

// Recorder persists upload outcomes. *journal.Journal satisfies it.
type Recorder interface {
	RecordUpload(ctx context.Context, e journal.Entry) (journal.Entry, error)
	RecordFailure(ctx context.Context, deviceID, localName string, cause error) error
}

// Observer receives metrics. *metrics.Metrics satisfies it.
type Observer interface {
	ObserveUpload(size int64, d time.Duration, err error)
	TokenFetchFailed()
	CycleDone(pending int)
	SetState(current string, all []string)
}

// Config holds the loop's tunables.
type Config struct {
	DeviceID        string
	WatchDir        string
	BatchLimit      int
	SettleDelay     time.Duration
	FailureCooldown time.Duration
	IdleInterval    time.Duration
	WatchdogMargin  time.Duration

	// UploadTimeout is the HTTP client's per-request bound. It widens the
	// watchdog so a slow token refresh followed by a batch of timed-out
	// uploads does not trip it.
	UploadTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.BatchLimit <= 0 {
		c.BatchLimit = selector.DefaultBatchLimit
	}

	if c.SettleDelay <= 0 {
		c.SettleDelay = selector.DefaultSettleDelay
	}

	if c.FailureCooldown <= 0 {
		c.FailureCooldown = DefaultFailureCooldown
	}

	if c.IdleInterval <= 0 {
		c.IdleInterval = DefaultIdleInterval
	}

	if c.WatchdogMargin <= 0 {
		c.WatchdogMargin = DefaultWatchdogMargin
	}
}

// WatchdogTimeout is the longest a single cycle may take: a token refresh
// whose every attempt times out, then a full batch of failures each
// followed by a cooldown, plus the margin.
func (c Config) WatchdogTimeout() time.Duration {
	refresh := time.Duration(graph.MaxRefreshAttempts) * c.UploadTimeout
	batch := time.Duration(c.BatchLimit) * (c.FailureCooldown + c.UploadTimeout)

	return refresh + batch + c.WatchdogMargin
}

// Loop is the single upload worker.
type Loop struct {
	cfg      Config
	tokens   TokenChecker
	uploader Uploader
	logger   *slog.Logger

	recorder Recorder
	observer Observer
	wake     <-chan struct{}
	watchdog *Watchdog

	// stateMu orders transitions so the observer sees them in sequence;
	// state is also read lock-free by State.
	stateMu sync.Mutex
	state   atomic.Int32

	// Injectable for tests.
	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// Option configures a Loop.
type Option func(*Loop)

// WithRecorder journals every upload outcome.
func WithRecorder(r Recorder) Option {
	return func(l *Loop) { l.recorder = r }
}

// WithObserver reports metrics.
func WithObserver(o Observer) Option {
	return func(l *Loop) { l.observer = o }
}

// WithWaker shortens the idle wait when c delivers.
func WithWaker(c <-chan struct{}) Option {
	return func(l *Loop) { l.wake = c }
}

// WithWatchdogHandler replaces the default expiry action (log and exit
// with ExitWatchdog).
func WithWatchdogHandler(fn func(error)) Option {
	return func(l *Loop) { l.watchdog = NewWatchdog(fn) }
}

// NewLoop creates a Loop in StateStarting.
func NewLoop(cfg Config, tokens TokenChecker, uploader Uploader, logger *slog.Logger, opts ...Option) *Loop {
	cfg.applyDefaults()

	l := &Loop{
		cfg:       cfg,
		tokens:    tokens,
		uploader:  uploader,
		logger:    logger,
		nowFunc:   time.Now,
		sleepFunc: timeSleep,
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.watchdog == nil {
		l.watchdog = NewWatchdog(func(err error) {
			logger.Error("cycle exceeded its deadline, terminating",
				slog.String("error", err.Error()),
				slog.Duration("timeout", l.cfg.WatchdogTimeout()),
			)
			os.Exit(ExitWatchdog)
		})
	}

	return l
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(s State) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	l.setStateLocked(s)
}

func (l *Loop) setStateLocked(s State) {
	l.state.Store(int32(s))
	l.logger.Debug("loop state", slog.String("state", s.String()))

	if l.observer != nil {
		l.observer.SetState(s.String(), stateNames)
	}
}

// beginDraining moves a running loop to StateDraining. It runs as soon as
// shutdown is requested, so an in-flight upload is reported as draining.
func (l *Loop) beginDraining() {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	if l.State() != StateRunning {
		return
	}

	l.logger.Info("shutdown requested, finishing current upload")
	l.setStateLocked(StateDraining)
}

// Run executes the loop until ctx is canceled (graceful, returns nil) or a
// fatal error occurs: remote folder setup failing, or the access token
// being unobtainable.
func (l *Loop) Run(ctx context.Context) error {
	l.setState(StateStarting)

	l.logger.Info("upload loop starting",
		slog.String("device_id", l.cfg.DeviceID),
		slog.String("watch_dir", l.cfg.WatchDir),
		slog.Int("batch_limit", l.cfg.BatchLimit),
		slog.Duration("watchdog_timeout", l.cfg.WatchdogTimeout()),
	)

	if err := l.uploader.EnsureRemoteFolders(ctx, l.cfg.DeviceID); err != nil {
		l.setState(StateStopped)

		if ctx.Err() != nil {
			return nil
		}

		return fmt.Errorf("daemon: preparing remote folders: %w", err)
	}

	l.setState(StateRunning)

	stopDraining := context.AfterFunc(ctx, l.beginDraining)
	defer stopDraining()

	for ctx.Err() == nil {
		hasMore, err := l.cycle(ctx)
		if err != nil {
			l.setState(StateStopped)

			return err
		}

		if hasMore || ctx.Err() != nil {
			continue
		}

		l.logger.Debug("status: alive", slog.Time("token_expiry", l.tokens.Expiry()))
		l.idleWait(ctx)
	}

	l.beginDraining()
	l.logger.Info("upload loop stopping")
	l.setState(StateStopped)

	return nil
}

// cycle runs one scan/upload pass under the watchdog. hasMore reports that
// candidates were left for an immediate next pass.
func (l *Loop) cycle(ctx context.Context) (hasMore bool, err error) {
	l.watchdog.Arm(l.cfg.WatchdogTimeout())
	defer l.watchdog.Disarm()

	if err := l.tokens.EnsureValidToken(ctx); err != nil {
		if ctx.Err() != nil {
			return false, nil
		}

		if l.observer != nil {
			l.observer.TokenFetchFailed()
		}

		return false, fmt.Errorf("daemon: %w", err)
	}

	cands, err := selector.Scan(l.cfg.WatchDir, l.cfg.SettleDelay, l.nowFunc(), l.logger)
	if err != nil {
		l.logger.Error("scanning watch directory failed", slog.String("error", err.Error()))

		return false, nil
	}

	batch, hasMore := selector.SelectBatch(cands, l.cfg.BatchLimit)

	l.logger.Info("scan complete",
		slog.Int("potential_files", len(cands)),
		slog.Int("to_process", len(batch)),
		slog.Bool("has_more", hasMore),
	)

	uploaded := 0

	for _, c := range batch {
		if ctx.Err() != nil {
			break
		}

		err := l.process(ctx, c)
		if err == nil {
			uploaded++

			continue
		}

		if errors.Is(err, graph.ErrTokenFetchFailed) {
			if l.observer != nil {
				l.observer.TokenFetchFailed()
			}

			return false, fmt.Errorf("daemon: %w", err)
		}

		l.logger.Info("cooling down after failed upload",
			slog.String("name", c.Name),
			slog.Duration("cooldown", l.cfg.FailureCooldown),
		)

		if l.sleepFunc(ctx, l.cfg.FailureCooldown) != nil {
			break
		}
	}

	if l.observer != nil {
		l.observer.CycleDone(len(cands) - uploaded)
	}

	return hasMore, nil
}

// process uploads one candidate and deletes it on success. A file that
// vanished since the scan is skipped without error.
func (l *Loop) process(ctx context.Context, c selector.Candidate) error {
	f, err := os.Open(c.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			l.logger.Info("file disappeared before upload", slog.String("name", c.Name))

			return nil
		}

		l.logger.Warn("cannot open file", slog.String("name", c.Name), slog.String("error", err.Error()))
		l.recordFailure(ctx, c, err)

		return err
	}
	defer f.Close()

	// In-flight transfers are not abandoned on shutdown; the HTTP client
	// timeouts and the watchdog bound them.
	uploadCtx := context.WithoutCancel(ctx)

	start := l.nowFunc()
	item, err := l.uploader.Upload(uploadCtx, l.cfg.DeviceID, c.Prefix, c.Suffix, f, c.Size)

	if l.observer != nil {
		l.observer.ObserveUpload(c.Size, l.nowFunc().Sub(start), err)
	}

	if err != nil {
		l.recordFailure(uploadCtx, c, err)

		return err
	}

	f.Close()

	if err := os.Remove(c.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		l.logger.Error("uploaded file could not be deleted",
			slog.String("name", c.Name),
			slog.String("error", err.Error()),
		)
	} else {
		l.logger.Info("deleted local file", slog.String("name", c.Name))
	}

	if l.recorder != nil {
		_, recErr := l.recorder.RecordUpload(uploadCtx, journal.Entry{
			DeviceID:     l.cfg.DeviceID,
			LocalName:    c.Name,
			RemotePath:   upload.RemotePath(l.uploader.Root(), l.cfg.DeviceID, c.Prefix, c.Suffix),
			ItemID:       item.ID,
			Size:         c.Size,
			QuickXorHash: item.QuickXorHash,
			CapturedAt:   c.ModTime,
		})
		if recErr != nil {
			l.logger.Warn("journal write failed", slog.String("error", recErr.Error()))
		}
	}

	return nil
}

func (l *Loop) recordFailure(ctx context.Context, c selector.Candidate, cause error) {
	if l.recorder == nil {
		return
	}

	if err := l.recorder.RecordFailure(ctx, l.cfg.DeviceID, c.Name, cause); err != nil {
		l.logger.Warn("journal write failed", slog.String("error", err.Error()))
	}
}

// idleWait sleeps for the idle interval. A wake-up moves the deadline to
// when the new file will have settled, if that is sooner.
func (l *Loop) idleWait(ctx context.Context) {
	timer := time.NewTimer(l.cfg.IdleInterval)
	defer timer.Stop()

	deadline := time.Now().Add(l.cfg.IdleInterval)

	for {
		select {
		case <-ctx.Done():
			return

		case <-timer.C:
			return

		case <-l.wake:
			settled := time.Now().Add(l.cfg.SettleDelay + settleSlack)
			if settled.Before(deadline) {
				deadline = settled
				timer.Reset(time.Until(deadline))
			}
		}
	}
}

// settleSlack is added to the settle delay after a wake-up because the
// settle comparison is strict.
const settleSlack = 100 * time.Millisecond
