package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/jgivc/copytodownload/internal/entity"
)

type memoryRegistry struct {
	mu      sync.Mutex
	entries sync.Map
	log     *slog.Logger
}

func NewMemoryRegistry(log *slog.Logger) *memoryRegistry {
	return &memoryRegistry{
		log: log.With(slog.String("item", "MemoryRegistry")),
	}
}

func (r *memoryRegistry) Register(ctx context.Context, fields entity.EntryFields) (*entity.RegistryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		entry, err := newEntry(fields)
		if err != nil {
			return nil, err
		}

		if _, loaded := r.entries.LoadOrStore(entry.ID, entry); loaded {
			r.log.Warn("Id collision", slog.String("id", entry.ID))

			continue
		}

		r.log.Debug("Registered", slog.String("id", entry.ID), slog.String("path", entry.ResolvedPath))

		e := *entry

		return &e, nil
	}

	return nil, exhausted()
}

func (r *memoryRegistry) Lookup(ctx context.Context, id string) (*entity.RegistryEntry, error) {
	v, ok := r.entries.Load(id)
	if !ok {
		return nil, notFound(id)
	}

	e := *v.(*entity.RegistryEntry)

	return &e, nil
}

func (r *memoryRegistry) List(ctx context.Context) ([]*entity.RegistryEntry, error) {
	var entries []*entity.RegistryEntry
	r.entries.Range(func(_, v any) bool {
		e := *v.(*entity.RegistryEntry)
		entries = append(entries, &e)

		return true
	})

	sortEntries(entries)

	return entries, nil
}

func (r *memoryRegistry) Close() error {
	return nil
}

func sortEntries(entries []*entity.RegistryEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID < entries[j].ID
		}

		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}
