package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tonimelisma/motion-uploader/internal/selector"
)

// Watch error backoff bounds.
const (
	watchErrInitBackoff = time.Second
	watchErrMaxBackoff  = time.Minute
	watchErrBackoffMult = 2
)

// FsWatcher abstracts fsnotify.Watcher for testing.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

// fsnotifyWrapper adapts *fsnotify.Watcher, whose channels are fields,
// to FsWatcher.
type fsnotifyWrapper struct {
	w *fsnotify.Watcher
}

func (f *fsnotifyWrapper) Add(name string) error         { return f.w.Add(name) }
func (f *fsnotifyWrapper) Close() error                  { return f.w.Close() }
func (f *fsnotifyWrapper) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWrapper) Errors() <-chan error          { return f.w.Errors }

// Waker turns filesystem events for camera stills in the watch directory
// into wake-ups that cut the loop's idle wait short.
type Waker struct {
	dir     string
	watcher FsWatcher
	logger  *slog.Logger
	c       chan struct{}
}

// NewWaker starts watching dir.
func NewWaker(dir string, logger *slog.Logger) (*Waker, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("daemon: creating watcher: %w", err)
	}

	return newWakerWith(dir, &fsnotifyWrapper{w: w}, logger)
}

func newWakerWith(dir string, watcher FsWatcher, logger *slog.Logger) (*Waker, error) {
	if err := watcher.Add(dir); err != nil {
		watcher.Close()

		return nil, fmt.Errorf("daemon: watching %s: %w", dir, err)
	}

	return &Waker{
		dir:     dir,
		watcher: watcher,
		logger:  logger,
		c:       make(chan struct{}, 1),
	}, nil
}

// C delivers at most one pending wake-up.
func (w *Waker) C() <-chan struct{} {
	return w.c
}

// Run forwards events until ctx is canceled, then closes the watcher.
func (w *Waker) Run(ctx context.Context) error {
	defer w.watcher.Close()

	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.watcher.Events():
			if !ok {
				return nil
			}

			w.handle(ev)

			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-w.watcher.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			if sleepErr := timeSleep(ctx, errBackoff); sleepErr != nil {
				return nil
			}

			errBackoff = min(errBackoff*watchErrBackoffMult, watchErrMaxBackoff)
		}
	}
}

// handle signals a wake-up for a created, written or renamed-in still.
func (w *Waker) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	name := filepath.Base(ev.Name)
	if _, _, ok := selector.ParseName(name); !ok {
		return
	}

	w.logger.Debug("new still observed", slog.String("name", name))

	select {
	case w.c <- struct{}{}:
	default:
	}
}

// timeSleep waits for d or until ctx is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
