// Package watcher ingests text files dropped into a directory.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/screenpilot/internal/ignore"
	"github.com/fyrsmithlabs/screenpilot/internal/rag"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

const (
	defaultDebounce = 300 * time.Millisecond
	maxFileSize     = 10 << 20
	sourcePrefix    = "file:"
)

// Target receives ingested and removed files.
type Target interface {
	Ingest(ctx context.Context, text, sourceRef string) (rag.IngestResult, error)
	DeleteDocument(ctx context.Context, sourceRef string) error
}

// Options tune a Watcher.
type Options struct {
	// Extensions lists the file suffixes to ingest. Defaults to .txt and .md.
	Extensions []string
	// Debounce coalesces bursts of writes to one file. Defaults to 300ms.
	Debounce time.Duration
	// DeleteOnRemove removes a file's chunks when the file is deleted.
	DeleteOnRemove bool
}

// Watcher ingests matching files when they are created or written.
type Watcher struct {
	dir     string
	target  Target
	opts    Options
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	ignored *ignore.Matcher

	mu      sync.Mutex
	pending map[string]*pendingIngest
	wg      sync.WaitGroup
	stop    chan struct{}
	once    sync.Once
}

// New watches dir, which must exist.
func New(dir string, target Target, opts Options, logger *zap.Logger) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watch directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch directory: %s is not a directory", dir)
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".txt", ".md"}
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ignored, err := ignore.Load(dir, ignore.DefaultFile)
	if err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	return &Watcher{
		dir:     dir,
		target:  target,
		opts:    opts,
		logger:  logger,
		watcher: fw,
		ignored: ignored,
		pending: make(map[string]*pendingIngest),
		stop:    make(chan struct{}),
	}, nil
}

// SourceRef is the source ref a watched file is stored under.
func SourceRef(name string) string {
	return sourcePrefix + filepath.Base(name)
}

// Start ingests the files already present, then watches for changes in a
// background goroutine until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", w.dir, err)
	}
	for _, e := range entries {
		if e.Type().IsRegular() && w.matches(e.Name()) {
			w.ingest(ctx, filepath.Join(w.dir, e.Name()))
		}
	}

	w.wg.Add(1)
	go w.loop(ctx)
	w.logger.Info("watching directory", zap.String("dir", w.dir), zap.Strings("extensions", w.opts.Extensions))
	return nil
}

// Stop ends watching and waits for in-flight ingestions.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
		w.mu.Lock()
		for path, p := range w.pending {
			if p.timer.Stop() {
				w.wg.Done()
			}
			delete(w.pending, path)
		}
		w.mu.Unlock()
	})
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if !w.matches(event.Name) {
		return
	}
	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		w.schedule(ctx, event.Name)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.cancel(event.Name)
		if w.opts.DeleteOnRemove {
			ref := SourceRef(event.Name)
			if err := w.target.DeleteDocument(ctx, ref); err != nil {
				w.logger.Warn("failed to delete removed file", zap.String("source_ref", ref), zap.Error(err))
			}
		}
	}
}

type pendingIngest struct {
	timer *time.Timer
}

// schedule (re)arms the debounce timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.stop:
		return
	default:
	}

	if p, ok := w.pending[path]; ok && p.timer.Stop() {
		p.timer.Reset(w.opts.Debounce)
		return
	}

	p := &pendingIngest{}
	w.wg.Add(1)
	p.timer = time.AfterFunc(w.opts.Debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[path] == p {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		w.ingest(ctx, path)
	})
	w.pending[path] = p
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pending[path]; ok && p.timer.Stop() {
		delete(w.pending, path)
		w.wg.Done()
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	text, err := readText(path)
	if err != nil {
		w.logger.Warn("failed to read file", zap.String("path", path), zap.Error(err))
		return
	}
	ref := SourceRef(path)
	res, err := w.target.Ingest(ctx, text, ref)
	if err != nil {
		w.logger.Error("failed to ingest file", zap.String("source_ref", ref), zap.Error(err))
		return
	}
	w.logger.Info("ingested file", zap.String("source_ref", ref), zap.Int("chunks", res.ChunksCreated))
}

func (w *Watcher) matches(name string) bool {
	if w.ignored.Match(name) {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range w.opts.Extensions {
		if ext == want {
			return true
		}
	}
	return false
}

func readText(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxFileSize+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxFileSize {
		return "", fmt.Errorf("file exceeds %d bytes", maxFileSize)
	}
	return string(data), nil
}
