package audit

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/jgivc/copytodownload/internal/common"
	"github.com/jgivc/copytodownload/internal/entity"
	"github.com/spf13/afero"
)

const (
	defaultWorkers = 4

	ProblemMissing      = "missing"
	ProblemNotRegular   = "not a regular file"
	ProblemSizeMismatch = "size mismatch"
	ProblemUnreadable   = "unreadable"
)

type EntryLister interface {
	List(ctx context.Context) ([]*entity.RegistryEntry, error)
}

// Finding is a registry entry whose file no longer matches the record.
type Finding struct {
	Entry   *entity.RegistryEntry `json:"entry"`
	Problem string                `json:"problem"`
	Detail  string                `json:"detail,omitempty"`
}

type Auditor struct {
	running atomic.Bool
	fs      afero.Fs
	store   EntryLister
	workers int
	log     *slog.Logger
}

func NewAuditor(fs afero.Fs, store EntryLister, workers int, log *slog.Logger) *Auditor {
	if workers < 1 {
		workers = defaultWorkers
	}

	return &Auditor{
		fs:      fs,
		store:   store,
		workers: workers,
		log:     log.With(slog.String("service", "audit")),
	}
}

// Run checks every registered file and returns the entries that do not match.
// Only one run at a time is allowed.
func (a *Auditor) Run(ctx context.Context) ([]*Finding, error) {
	if !a.running.CompareAndSwap(false, true) {
		return nil, common.ErrAuditAlreadyRunning
	}
	defer a.running.Store(false)

	entries, err := a.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot list entries: %w", err)
	}

	if len(entries) == 0 {
		return []*Finding{}, nil
	}

	in := make(chan *entity.RegistryEntry, len(entries))
	out := make(chan *Finding, len(entries))

	for _, e := range entries {
		in <- e
	}
	close(in)

	var wg sync.WaitGroup
	wg.Add(a.workers)
	for n := 0; n < a.workers; n++ {
		go a.worker(ctx, n, in, out, &wg)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	findings := []*Finding{}
	for f := range out {
		a.log.Warn("Entry does not match its file",
			slog.String("id", f.Entry.ID), slog.String("path", f.Entry.ResolvedPath), slog.String("problem", f.Problem))
		findings = append(findings, f)
	}

	if err := ctx.Err(); err != nil {
		return findings, fmt.Errorf("audit interrupted: %w", err)
	}

	a.log.Info("Audit done", slog.Int("entries", len(entries)), slog.Int("findings", len(findings)))

	return findings, nil
}

func (a *Auditor) worker(ctx context.Context, n int, in chan *entity.RegistryEntry, out chan *Finding, wg *sync.WaitGroup) {
	defer wg.Done()

	log := a.log.With(slog.Int("worker_id", n))
	log.Debug("Started")

	for e := range in {
		f := a.check(e)
		if f == nil {
			continue
		}

		select {
		case <-ctx.Done():
			log.Info("Interrupted")

			return
		case out <- f:
		}
	}

	log.Debug("Done")
}

func (a *Auditor) check(e *entity.RegistryEntry) *Finding {
	fi, err := a.fs.Stat(e.ResolvedPath)
	switch {
	case os.IsNotExist(err):
		return &Finding{Entry: e, Problem: ProblemMissing}
	case err != nil:
		return &Finding{Entry: e, Problem: ProblemUnreadable, Detail: err.Error()}
	case !fi.Mode().IsRegular():
		return &Finding{Entry: e, Problem: ProblemNotRegular}
	case fi.Size() != e.Size:
		return &Finding{Entry: e, Problem: ProblemSizeMismatch, Detail: fmt.Sprintf("registered %d, found %d", e.Size, fi.Size())}
	}

	return nil
}
