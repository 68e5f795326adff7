package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/jgivc/copytodownload/internal/adapter/fsadapter"
	"github.com/jgivc/copytodownload/internal/common"
	"github.com/jgivc/copytodownload/internal/config"
	"github.com/jgivc/copytodownload/internal/entity"
	"github.com/jgivc/copytodownload/internal/repository/registry"
	"github.com/jgivc/copytodownload/internal/service/notify"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

type notifyCall struct {
	entry            *entity.RegistryEntry
	scannable        bool
	showNotification bool
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (n *recordingNotifier) Notify(ctx context.Context, entry *entity.RegistryEntry, scannable, showNotification bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls = append(n.calls, notifyCall{entry: entry, scannable: scannable, showNotification: showNotification})
}

func (n *recordingNotifier) last() notifyCall {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.calls[len(n.calls)-1]
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.calls)
}

type failingStore struct{}

func (failingStore) Register(ctx context.Context, fields entity.EntryFields) (*entity.RegistryEntry, error) {
	return nil, errors.New("disk full")
}

type env struct {
	fs       afero.Fs
	store    registry.Store
	notifier *recordingNotifier
	engine   CopyEngine
	c        *Coordinator
}

func newEnv(t *testing.T, fs afero.Fs, files map[string]string) *env {
	t.Helper()

	if fs == nil {
		fs = afero.NewMemMapFs()
	}

	require.NoError(t, fs.MkdirAll("/downloads", 0o755))
	require.NoError(t, fs.MkdirAll("/tmp", 0o755))
	for path, content := range files {
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	}

	log := discardLog()

	src, err := fsadapter.NewPathResolver(fs, "/", log)
	require.NoError(t, err)

	downloads, err := fsadapter.NewPathResolver(fs, "/downloads", log)
	require.NoError(t, err)

	e := &env{
		fs:       fs,
		store:    registry.NewMemoryRegistry(log),
		notifier: &recordingNotifier{},
		engine:   fsadapter.NewCopyEngineWithFS(fs, &config.FSAdapterConfig{BufferSize: 8}, log),
	}

	e.c = NewCoordinator(Options{
		Source:    src,
		Downloads: downloads,
		Native:    src,
		Engine:    e.engine,
		Store:     e.store,
		Notify:    e.notifier,
		Workers:   4,
	}, log)

	return e
}

func wait(t *testing.T, f *Future) entity.CopyResult {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	r, err := f.Wait(ctx)
	require.NoError(t, err)

	return r
}

func requireSuccess(t *testing.T, r entity.CopyResult) entity.Success {
	t.Helper()

	s, ok := r.Success()
	if !ok {
		f, _ := r.Failure()
		t.Fatalf("expected success, got %s: %s", f.Kind, f.Message)
	}

	_, failed := r.Failure()
	require.False(t, failed)

	return s
}

func requireFailure(t *testing.T, r entity.CopyResult, kind common.ErrorKind) {
	t.Helper()

	f, ok := r.Failure()
	require.True(t, ok, "expected failure")
	require.Equal(t, kind, f.Kind, f.Message)

	_, succeeded := r.Success()
	require.False(t, succeeded)
}

func reportRequest() entity.CopyRequest {
	return entity.CopyRequest{
		SourcePath:           "/tmp/a.pdf",
		DestinationDirectory: "/downloads",
		Title:                "Report",
		MIMEType:             "application/pdf",
		Scannable:            true,
		Notify:               true,
	}
}

func TestSubmitCopy(t *testing.T) {
	e := newEnv(t, nil, map[string]string{"/tmp/a.pdf": "pdf content"})
	req := reportRequest()

	s := requireSuccess(t, wait(t, e.c.SubmitCopy(req)))
	require.Equal(t, "/downloads/a.pdf", s.Path)
	require.NotEmpty(t, s.ID)

	entry, err := e.store.Lookup(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, "/downloads/a.pdf", entry.ResolvedPath)
	require.Equal(t, "Report", entry.Title)
	require.Equal(t, "", entry.Description)
	require.Equal(t, "application/pdf", entry.MIMEType)
	require.True(t, entry.Scannable)
	require.EqualValues(t, len("pdf content"), entry.Size)

	entries, err := e.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.Equal(t, 1, e.notifier.count())

	data, err := afero.ReadFile(e.fs, "/downloads/a.pdf")
	require.NoError(t, err)
	require.Equal(t, "pdf content", string(data))

	s2 := requireSuccess(t, wait(t, e.c.SubmitCopy(req)))
	require.Equal(t, "/downloads/a.pdf (1)", s2.Path)
	require.NotEqual(t, s.ID, s2.ID)
	require.Equal(t, 2, e.notifier.count())

	req.SourcePath = "file:///tmp/a.pdf"
	s3 := requireSuccess(t, wait(t, e.c.SubmitCopy(req)))
	require.Equal(t, "/downloads/a.pdf (2)", s3.Path)

	req.SourcePath = "file://localhost/tmp/a.pdf"
	s4 := requireSuccess(t, wait(t, e.c.SubmitCopy(req)))
	require.Equal(t, "/downloads/a.pdf (3)", s4.Path)
}

func TestSubmitCopyFailures(t *testing.T) {
	testCases := []struct {
		name       string
		req        entity.CopyRequest
		expectKind common.ErrorKind
	}{
		{
			name:       "Missing source",
			req:        entity.CopyRequest{SourcePath: "/tmp/missing.pdf", DestinationDirectory: "/downloads"},
			expectKind: common.KindSourceNotFound,
		},
		{
			name:       "Traversal in destination",
			req:        entity.CopyRequest{SourcePath: "/tmp/a.pdf", DestinationDirectory: "../../etc"},
			expectKind: common.KindInvalidPath,
		},
		{
			name:       "Destination outside downloads",
			req:        entity.CopyRequest{SourcePath: "/tmp/a.pdf", DestinationDirectory: "/etc"},
			expectKind: common.KindInvalidPath,
		},
		{
			name:       "Empty source",
			req:        entity.CopyRequest{DestinationDirectory: "/downloads"},
			expectKind: common.KindInvalidPath,
		},
		{
			name:       "Empty destination",
			req:        entity.CopyRequest{SourcePath: "/tmp/a.pdf"},
			expectKind: common.KindInvalidPath,
		},
		{
			name:       "Remote source URL",
			req:        entity.CopyRequest{SourcePath: "file://example.com/tmp/a.pdf", DestinationDirectory: "/downloads"},
			expectKind: common.KindInvalidPath,
		},
		{
			name:       "Missing source URL",
			req:        entity.CopyRequest{SourcePath: "file:///tmp/missing.pdf", DestinationDirectory: "/downloads"},
			expectKind: common.KindSourceNotFound,
		},
		{
			name:       "Destination is a file",
			req:        entity.CopyRequest{SourcePath: "/tmp/a.pdf", DestinationDirectory: "/downloads/file"},
			expectKind: common.KindDestinationUnavailable,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, nil, map[string]string{
				"/tmp/a.pdf":      "pdf",
				"/downloads/file": "x",
			})
			tc.req.Notify = true

			requireFailure(t, wait(t, e.c.SubmitCopy(tc.req)), tc.expectKind)

			entries, err := e.store.List(context.Background())
			require.NoError(t, err)
			require.Empty(t, entries)
			require.Zero(t, e.notifier.count())
		})
	}
}

func TestSubmitCopyDefaults(t *testing.T) {
	e := newEnv(t, nil, map[string]string{"/tmp/notes.txt": "hello"})

	s := requireSuccess(t, wait(t, e.c.SubmitCopy(entity.CopyRequest{
		SourcePath:           "/tmp/notes.txt",
		DestinationDirectory: "sub/dir",
	})))
	require.Equal(t, "/downloads/sub/dir/notes.txt", s.Path)

	entry, err := e.store.Lookup(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, "notes.txt", entry.Title)
	require.Equal(t, "text/plain; charset=utf-8", entry.MIMEType)
	require.Zero(t, e.notifier.count())
}

func TestSubmitCopyConcurrentSameDestination(t *testing.T) {
	e := newEnv(t, nil, map[string]string{"/tmp/a.pdf": "pdf"})

	const n = 20

	futures := make([]*Future, 0, n)
	for i := 0; i < n; i++ {
		futures = append(futures, e.c.SubmitCopy(reportRequest()))
	}

	paths := make(map[string]struct{}, n)
	for _, f := range futures {
		s := requireSuccess(t, wait(t, f))
		paths[s.Path] = struct{}{}
	}

	require.Len(t, paths, n)
	require.Contains(t, paths, "/downloads/a.pdf")
	require.Contains(t, paths, fmt.Sprintf("/downloads/a.pdf (%d)", n-1))

	entries, err := afero.ReadDir(e.fs, "/downloads")
	require.NoError(t, err)
	require.Len(t, entries, n)

	require.Zero(t, e.c.locks.size())
}

func TestSubmitCopyRegistrationFailure(t *testing.T) {
	e := newEnv(t, nil, map[string]string{"/tmp/a.pdf": "pdf"})
	e.c.opts.Store = failingStore{}

	requireFailure(t, wait(t, e.c.SubmitCopy(reportRequest())), common.KindIOFailure)

	entries, err := afero.ReadDir(e.fs, "/downloads")
	require.NoError(t, err)
	require.Empty(t, entries)
	require.Zero(t, e.notifier.count())
}

func TestSubmitCopyNotifierFailureIgnored(t *testing.T) {
	e := newEnv(t, nil, map[string]string{"/tmp/a.pdf": "pdf"})

	calls := 0
	e.c.opts.Notify = notify.NewDispatcher(time.Second, discardLog(), notify.SinkFunc(func(ctx context.Context, event *notify.Event) error {
		calls++

		return errors.New("listener is gone")
	}))

	s := requireSuccess(t, wait(t, e.c.SubmitCopy(reportRequest())))
	require.Equal(t, "/downloads/a.pdf", s.Path)
	require.Equal(t, 1, calls)
}

type panickingNotifier struct{}

func (panickingNotifier) Notify(ctx context.Context, entry *entity.RegistryEntry, scannable, showNotification bool) {
	panic("listener exploded")
}

func TestSubmitCopyNotifierPanicIgnored(t *testing.T) {
	e := newEnv(t, nil, map[string]string{"/tmp/a.pdf": "pdf"})
	e.c.opts.Notify = panickingNotifier{}

	s := requireSuccess(t, wait(t, e.c.SubmitCopy(reportRequest())))
	require.Equal(t, "/downloads/a.pdf", s.Path)

	entry, err := e.store.Lookup(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, s.Path, entry.ResolvedPath)

	ok, err := afero.Exists(e.fs, s.Path)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSubmitCopyNotifyFlags(t *testing.T) {
	e := newEnv(t, nil, map[string]string{"/tmp/a.pdf": "pdf"})

	req := reportRequest()
	req.Scannable, req.Notify = true, false
	requireSuccess(t, wait(t, e.c.SubmitCopy(req)))
	require.Equal(t, 1, e.notifier.count())
	require.True(t, e.notifier.last().scannable)
	require.False(t, e.notifier.last().showNotification)

	req.Scannable, req.Notify = false, true
	requireSuccess(t, wait(t, e.c.SubmitCopy(req)))
	require.Equal(t, 2, e.notifier.count())
	require.False(t, e.notifier.last().scannable)
	require.True(t, e.notifier.last().showNotification)

	req.Scannable, req.Notify = false, false
	requireSuccess(t, wait(t, e.c.SubmitCopy(req)))
	require.Equal(t, 2, e.notifier.count())
}

// partialFs fails every write to a newly created file after a few bytes.
type partialFs struct {
	afero.Fs
}

func (f *partialFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil || flag&os.O_CREATE == 0 {
		return file, err
	}

	return &partialFile{File: file}, nil
}

type partialFile struct {
	afero.File
	written int
}

func (f *partialFile) Write(p []byte) (int, error) {
	if f.written > 0 {
		return 0, &os.PathError{Op: "write", Path: f.Name(), Err: syscall.EIO}
	}

	n, err := f.File.Write(p)
	f.written += n

	return n, err
}

func TestSubmitCopyPartialWrite(t *testing.T) {
	fs := &partialFs{Fs: afero.NewMemMapFs()}
	e := newEnv(t, fs, nil)
	require.NoError(t, afero.WriteFile(fs.Fs, "/tmp/a.pdf", []byte("0123456789abcdefghij"), 0o644))

	requireFailure(t, wait(t, e.c.SubmitCopy(reportRequest())), common.KindIOFailure)

	entries, err := afero.ReadDir(e.fs, "/downloads")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSubmitNativeCopy(t *testing.T) {
	e := newEnv(t, nil, map[string]string{"/data/files/photo.png": "\x89PNG\r\n\x1a\n"})

	s := requireSuccess(t, wait(t, e.c.SubmitNativeCopy("file:///data/files/photo.png", "file:///data/export")))
	require.Equal(t, "/data/export/photo.png", s.Path)

	entry, err := e.store.Lookup(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, "photo.png", entry.Title)
	require.Equal(t, "image/png", entry.MIMEType)
	require.False(t, entry.Scannable)
	require.Zero(t, e.notifier.count())

	s = requireSuccess(t, wait(t, e.c.SubmitNativeCopy("/data/files/photo.png", "/data/export")))
	require.Equal(t, "/data/export/photo.png (1)", s.Path)

	requireFailure(t, wait(t, e.c.SubmitNativeCopy("file://example.com/a", "/data/export")), common.KindInvalidPath)
	requireFailure(t, wait(t, e.c.SubmitNativeCopy("file:///data/files/missing", "/data/export")), common.KindSourceNotFound)
	requireFailure(t, wait(t, e.c.SubmitNativeCopy("file:///data/files/photo.png", "")), common.KindInvalidPath)
}

// blockingEngine holds Copy until release is closed.
type blockingEngine struct {
	CopyEngine
	started chan struct{}
	release chan struct{}
}

func (b *blockingEngine) Copy(src, dstDir, desiredName string) (string, int64, error) {
	close(b.started)
	<-b.release

	return b.CopyEngine.Copy(src, dstDir, desiredName)
}

func TestFutureWaitTimeoutDoesNotAbort(t *testing.T) {
	e := newEnv(t, nil, map[string]string{"/tmp/a.pdf": "pdf"})
	engine := &blockingEngine{CopyEngine: e.engine, started: make(chan struct{}), release: make(chan struct{})}
	e.c.opts.Engine = engine

	f := e.c.SubmitCopy(reportRequest())
	<-engine.started

	_, done := f.Result()
	require.False(t, done)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(engine.release)

	s := requireSuccess(t, wait(t, f))
	require.Equal(t, "/downloads/a.pdf", s.Path)

	r, done := f.Result()
	require.True(t, done)
	require.True(t, r.OK())
}

func TestClose(t *testing.T) {
	e := newEnv(t, nil, map[string]string{"/tmp/a.pdf": "pdf"})
	engine := &blockingEngine{CopyEngine: e.engine, started: make(chan struct{}), release: make(chan struct{})}
	e.c.opts.Engine = engine

	running := e.c.SubmitCopy(reportRequest())
	<-engine.started

	closed := make(chan error, 1)
	go func() {
		closed <- e.c.Close(context.Background())
	}()

	require.Eventually(t, func() bool {
		e.c.mu.RLock()
		defer e.c.mu.RUnlock()

		return e.c.closed
	}, waitTimeout, time.Millisecond)

	rejected := e.c.SubmitCopy(reportRequest())
	requireFailure(t, wait(t, rejected), common.KindIOFailure)

	select {
	case <-closed:
		t.Fatal("close returned while a request was running")
	default:
	}

	close(engine.release)
	require.NoError(t, <-closed)
	requireSuccess(t, wait(t, running))
}

func TestCloseTimeout(t *testing.T) {
	e := newEnv(t, nil, map[string]string{"/tmp/a.pdf": "pdf"})
	engine := &blockingEngine{CopyEngine: e.engine, started: make(chan struct{}), release: make(chan struct{})}
	e.c.opts.Engine = engine
	defer close(engine.release)

	e.c.SubmitCopy(reportRequest())
	<-engine.started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, e.c.Close(ctx), context.DeadlineExceeded)
}

func TestPathFromURL(t *testing.T) {
	testCases := []struct {
		raw         string
		expected    string
		expectError bool
	}{
		{raw: "/a/b.txt", expected: "/a/b.txt"},
		{raw: "file:///a/b.txt", expected: "/a/b.txt"},
		{raw: "FILE:///a/b%20c.txt", expected: "/a/b c.txt"},
		{raw: "file://localhost/a", expected: "/a"},
		{raw: "file://host/a", expectError: true},
		{raw: "file://", expectError: true},
		{raw: "relative/path", expected: "relative/path"},
	}

	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			p, err := pathFromURL(tc.raw)
			if tc.expectError {
				require.Error(t, err)
				require.Equal(t, common.KindInvalidPath, common.KindOf(err))

				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.expected, p)
		})
	}
}
