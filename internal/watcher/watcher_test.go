package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/screenpilot/internal/rag"
)

type fakeTarget struct {
	mu       sync.Mutex
	ingested map[string]string
	calls    map[string]int
	deleted  []string
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{ingested: map[string]string{}, calls: map[string]int{}}
}

func (f *fakeTarget) Ingest(_ context.Context, text, sourceRef string) (rag.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested[sourceRef] = text
	f.calls[sourceRef]++
	return rag.IngestResult{SourceRef: sourceRef, ChunksCreated: 1}, nil
}

func (f *fakeTarget) DeleteDocument(_ context.Context, sourceRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, sourceRef)
	return nil
}

func (f *fakeTarget) text(ref string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.ingested[ref]
	return t, ok
}

func (f *fakeTarget) deletedRefs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func startWatcher(t *testing.T, dir string, target Target, opts Options) *Watcher {
	t.Helper()
	if opts.Debounce == 0 {
		opts.Debounce = 20 * time.Millisecond
	}
	w, err := New(dir, target, opts, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_IngestsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("# Notes"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.png"), []byte("binary"), 0o600))

	target := newFakeTarget()
	startWatcher(t, dir, target, Options{})

	text, ok := target.text("file:notes.md")
	require.True(t, ok)
	assert.Equal(t, "# Notes", text)

	_, ok = target.text("file:image.png")
	assert.False(t, ok)
}

func TestWatcher_IngestsNewFiles(t *testing.T) {
	dir := t.TempDir()
	target := newFakeTarget()
	startWatcher(t, dir, target, Options{})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "page.txt"), []byte("The sky is blue."), 0o600))

	assert.Eventually(t, func() bool {
		text, ok := target.text("file:page.txt")
		return ok && text == "The sky is blue."
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatcher_DeleteOnRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")
	require.NoError(t, os.WriteFile(path, []byte("temporary"), 0o600))

	target := newFakeTarget()
	startWatcher(t, dir, target, Options{DeleteOnRemove: true})

	require.NoError(t, os.Remove(path))

	assert.Eventually(t, func() bool {
		refs := target.deletedRefs()
		return len(refs) == 1 && refs[0] == "file:gone.txt"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatcher_CustomExtensions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.rst"), []byte("b"), 0o600))

	target := newFakeTarget()
	startWatcher(t, dir, target, Options{Extensions: []string{".rst"}})

	_, ok := target.text("file:b.rst")
	assert.True(t, ok)
	_, ok = target.text("file:a.txt")
	assert.False(t, ok)
}

func TestWatcher_HonorsIgnoreFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".screenpilotignore"), []byte("draft-*.md\n!draft-final.md\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "draft-1.md"), []byte("wip"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "draft-final.md"), []byte("done"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("notes"), 0o600))

	target := newFakeTarget()
	startWatcher(t, dir, target, Options{})

	_, ok := target.text("file:draft-1.md")
	assert.False(t, ok)
	_, ok = target.text("file:draft-final.md")
	assert.True(t, ok)
	_, ok = target.text("file:notes.md")
	assert.True(t, ok)
}

func TestNew_RejectsBadIgnoreFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".screenpilotignore"), []byte("[bad\n"), 0o600))

	_, err := New(dir, newFakeTarget(), Options{}, nil)
	assert.ErrorContains(t, err, "ignore file")
}

func TestNew_RejectsMissingDirectory(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), newFakeTarget(), Options{}, nil)
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	_, err = New(file, newFakeTarget(), Options{}, nil)
	assert.ErrorContains(t, err, "not a directory")
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := startWatcher(t, t.TempDir(), newFakeTarget(), Options{})
	w.Stop()
	w.Stop()
}

func TestSourceRef(t *testing.T) {
	assert.Equal(t, "file:notes.md", SourceRef("/tmp/x/notes.md"))
}
