package delivery

import (
	"context"
	"sync"

	"github.com/jgivc/copytodownload/internal/entity"
)

// Future is the single-shot result of a submitted request. Only the coordinator
// resolves it, and only once.
type Future struct {
	once   sync.Once
	done   chan struct{}
	result entity.CopyResult
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(r entity.CopyResult) bool {
	resolved := false
	f.once.Do(func() {
		f.result = r
		close(f.done)
		resolved = true
	})

	return resolved
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result returns the result and true if the request has finished.
func (f *Future) Result() (entity.CopyResult, bool) {
	select {
	case <-f.done:
		return f.result, true
	default:
		return entity.CopyResult{}, false
	}
}

// Wait blocks until the result is available or ctx is done. Giving up waiting
// does not stop the request.
func (f *Future) Wait(ctx context.Context) (entity.CopyResult, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return entity.CopyResult{}, ctx.Err()
	}
}
