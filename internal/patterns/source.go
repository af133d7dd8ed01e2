package patterns

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/fyrsmithlabs/crewgate/internal/logging"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize pattern file watcher")

// reloadDebounce coalesces the burst of events editors emit on save.
const reloadDebounce = 200 * time.Millisecond

// Source owns the current Matcher. With a file path it can watch the file
// and swap in a recompiled Matcher on change; a reload that fails keeps
// the previous table.
type Source struct {
	path    string
	opts    []CompileOption
	logger  *logging.Logger
	current atomic.Pointer[Matcher]

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	stop     chan struct{}
	done     chan struct{}
	onReload []func(*Matcher)
}

// NewSource loads the table at path, or the embedded default table when
// path is empty.
func NewSource(path string, logger *logging.Logger, opts ...CompileOption) (*Source, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Source{path: path, opts: opts, logger: logger.Named("patterns")}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Matcher returns the current matcher.
func (s *Source) Matcher() *Matcher {
	return s.current.Load()
}

// OnReload registers fn to run after each successful reload.
func (s *Source) OnReload(fn func(*Matcher)) {
	s.mu.Lock()
	s.onReload = append(s.onReload, fn)
	s.mu.Unlock()
}

// Reload re-reads and recompiles the table. On error the current matcher
// is kept.
func (s *Source) Reload() error {
	table := Default()
	if s.path != "" {
		t, err := LoadFile(s.path)
		if err != nil {
			return err
		}
		table = t
	}

	m, err := table.Compile(s.opts...)
	if err != nil {
		return err
	}

	prev := s.current.Swap(m)
	s.mu.Lock()
	hooks := append([]func(*Matcher){}, s.onReload...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(m)
	}

	if prev != nil && prev.Fingerprint() != m.Fingerprint() {
		s.logger.Info(context.Background(), "pattern table reloaded",
			zap.String("version", m.Version()),
			zap.String("fingerprint", m.Fingerprint()),
			zap.String("previous", prev.Fingerprint()))
	}
	return nil
}

// Start watches the table file until ctx is done or Stop is called. It is
// a no-op for the embedded table.
func (s *Source) Start(ctx context.Context) error {
	if s.path == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		return fmt.Errorf("pattern watcher already started")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	// Watch the directory: editors and config management replace the file
	// by rename, which drops a watch on the file itself.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(s.path), err)
	}

	s.watcher = w
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.processEvents(ctx, w, s.stop, s.done)
	return nil
}

// Stop ends watching. It is idempotent.
func (s *Source) Stop() {
	s.mu.Lock()
	w, stop, done := s.watcher, s.stop, s.done
	s.watcher = nil
	s.mu.Unlock()
	if w == nil {
		return
	}
	close(stop)
	_ = w.Close()
	<-done
}

func (s *Source) processEvents(ctx context.Context, w *fsnotify.Watcher, stop, done chan struct{}) {
	defer close(done)

	target := filepath.Clean(s.path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := s.Reload(); err != nil {
				s.logger.Error(ctx, "pattern table reload failed, keeping previous table",
					zap.String("path", s.path),
					zap.String("fingerprint", s.Matcher().Fingerprint()),
					zap.Error(err))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn(ctx, "pattern watcher error", zap.Error(err))
		}
	}
}
