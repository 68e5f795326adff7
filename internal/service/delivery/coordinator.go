package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jgivc/copytodownload/internal/common"
	"github.com/jgivc/copytodownload/internal/entity"
)

const (
	serviceName = "delivery"

	defaultWorkers  = 4
	mimeTypeUnknown = "application/octet-stream"
	fileURLScheme   = "file"
)

type PathResolver interface {
	Resolve(rawPath string, mustExist bool) (string, error)
}

type CopyEngine interface {
	Copy(src, dstDir, desiredName string) (string, int64, error)
	Remove(path string) error
	DetectMIMEType(path string) (string, error)
}

type RegistryStore interface {
	Register(ctx context.Context, fields entity.EntryFields) (*entity.RegistryEntry, error)
}

type Notifier interface {
	Notify(ctx context.Context, entry *entity.RegistryEntry, scannable, showNotification bool)
}

// CopyService is what platform bindings call.
type CopyService interface {
	SubmitCopy(req entity.CopyRequest) *Future
	SubmitNativeCopy(srcURL, dstDirURL string) *Future
}

type Options struct {
	// Source resolves source files of both entry points.
	Source PathResolver
	// Downloads resolves destination directories of SubmitCopy.
	Downloads PathResolver
	// Native resolves destination directories of SubmitNativeCopy.
	Native  PathResolver
	Engine  CopyEngine
	Store   RegistryStore
	Notify  Notifier
	Workers int
}

// Coordinator drives each request through resolve, copy, register and notify,
// and resolves its Future exactly once.
type Coordinator struct {
	opts  Options
	locks *dirLocks
	sem   chan struct{}

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	log *slog.Logger
}

var _ CopyService = (*Coordinator)(nil)

func NewCoordinator(opts Options, log *slog.Logger) *Coordinator {
	if opts.Workers < 1 {
		opts.Workers = defaultWorkers
	}

	if opts.Native == nil {
		opts.Native = opts.Downloads
	}

	return &Coordinator{
		opts:  opts,
		locks: newDirLocks(),
		sem:   make(chan struct{}, opts.Workers),
		log:   log.With(slog.String("service", serviceName)),
	}
}

// SubmitCopy copies req.SourcePath, a file:// URL or a plain path, into the
// downloads directory and registers it.
func (c *Coordinator) SubmitCopy(req entity.CopyRequest) *Future {
	return c.submit(func(ctx context.Context) entity.CopyResult {
		src, err := pathFromURL(req.SourcePath)
		if err != nil {
			return entity.FailureFromError(err)
		}
		req.SourcePath = src

		return c.process(ctx, req, c.opts.Downloads)
	})
}

// SubmitNativeCopy copies the file at srcURL into dstDirURL. Both may be file://
// URLs or plain paths. Title and MIME type are derived from the file, nothing
// is announced.
func (c *Coordinator) SubmitNativeCopy(srcURL, dstDirURL string) *Future {
	return c.submit(func(ctx context.Context) entity.CopyResult {
		src, err := pathFromURL(srcURL)
		if err != nil {
			return entity.FailureFromError(err)
		}

		dst, err := pathFromURL(dstDirURL)
		if err != nil {
			return entity.FailureFromError(err)
		}

		return c.process(ctx, entity.CopyRequest{
			SourcePath:           src,
			DestinationDirectory: dst,
		}, c.opts.Native)
	})
}

// Close stops accepting requests and waits for the running ones until ctx is done.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cannot wait for running requests: %w", ctx.Err())
	}
}

func (c *Coordinator) submit(fn func(ctx context.Context) entity.CopyResult) *Future {
	f := newFuture()

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		f.resolve(entity.FailureFromError(common.Wrap(common.KindIOFailure, "submit", "", common.ErrCoordinatorClosed)))

		return f
	}
	c.wg.Add(1)
	c.mu.RUnlock()

	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("Request panicked", slog.Any("panic", r))
				f.resolve(entity.NewFailure(common.KindIOFailure, fmt.Sprintf("internal error: %v", r)))
			}
		}()

		c.sem <- struct{}{}
		defer func() { <-c.sem }()

		// Requests are not cancelled once started.
		f.resolve(fn(context.Background()))
	}()

	return f
}

func (c *Coordinator) process(ctx context.Context, req entity.CopyRequest, dstResolver PathResolver) entity.CopyResult {
	log := c.log.With(slog.String("src", req.SourcePath), slog.String("dst", req.DestinationDirectory))
	t := newTracker(log)

	failed := func(err error) entity.CopyResult {
		kind := common.KindOf(err)
		t.fail(kind)
		log.Error("Request failed", slog.String("kind", string(kind)), slog.Any("error", err))

		return entity.NewFailure(kind, err.Error())
	}

	if strings.TrimSpace(req.SourcePath) == "" || strings.TrimSpace(req.DestinationDirectory) == "" {
		return failed(common.Wrap(common.KindInvalidPath, "validate", "", common.ErrEmptyPath))
	}

	t.advance(StateResolving)

	src, err := c.opts.Source.Resolve(req.SourcePath, true)
	if err != nil {
		return failed(err)
	}

	dstDir, err := dstResolver.Resolve(req.DestinationDirectory, false)
	if err != nil {
		return failed(err)
	}

	title := req.Title
	if title == "" {
		title = filepath.Base(src)
	}

	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType, err = c.opts.Engine.DetectMIMEType(src)
		if err != nil {
			log.Warn("Cannot detect mime type", slog.Any("error", err))
			mimeType = mimeTypeUnknown
		}
	}

	t.advance(StateCopying)

	unlock := c.locks.Lock(dstDir)

	finalPath, size, err := c.opts.Engine.Copy(src, dstDir, filepath.Base(filepath.Clean(req.SourcePath)))
	if err != nil {
		unlock()

		return failed(err)
	}

	t.advance(StateRegistering)

	entry, err := c.opts.Store.Register(ctx, entity.EntryFields{
		ResolvedPath: finalPath,
		Title:        title,
		Description:  req.Description,
		MIMEType:     mimeType,
		Scannable:    req.Scannable,
		Size:         size,
	})
	if err != nil {
		if rerr := c.opts.Engine.Remove(finalPath); rerr != nil {
			log.Error("Cannot remove unregistered copy", slog.String("path", finalPath), slog.Any("error", rerr))
		}
		unlock()

		return failed(err)
	}

	unlock()

	t.advance(StateNotifying)

	if req.Scannable || req.Notify {
		c.announce(ctx, entry, req, log)
	}

	t.advance(StateCompleted)

	log.Info("Copy completed", slog.String("id", entry.ID), slog.String("path", finalPath), slog.Int64("size", size))

	return entity.NewSuccess(entry.ID, finalPath)
}

// announce hands entry to the notifier. The copy is already registered, so
// nothing here may fail the request.
func (c *Coordinator) announce(ctx context.Context, entry *entity.RegistryEntry, req entity.CopyRequest, log *slog.Logger) {
	if c.opts.Notify == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("Notifier panicked", slog.String("id", entry.ID), slog.Any("panic", r))
		}
	}()

	c.opts.Notify.Notify(ctx, entry, req.Scannable, req.Notify)
}

// pathFromURL accepts file:// URLs and plain paths.
func pathFromURL(raw string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(raw), fileURLScheme+":") {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", common.Wrap(common.KindInvalidPath, "parse url", raw, err)
	}

	if u.Host != "" && u.Host != "localhost" {
		return "", common.Wrap(common.KindInvalidPath, "parse url", raw, fmt.Errorf("remote host %s", u.Host))
	}

	if u.Path == "" {
		return "", common.Wrap(common.KindInvalidPath, "parse url", raw, common.ErrEmptyPath)
	}

	return filepath.FromSlash(u.Path), nil
}
