package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jgivc/copytodownload/internal/common"
	"github.com/jgivc/copytodownload/internal/config"
	"github.com/jgivc/copytodownload/internal/entity"
)

const (
	// maxIDAttempts bounds retries on an id collision. Hitting it means the
	// random source is broken.
	maxIDAttempts = 8
)

// Store records completed copies. All implementations are safe for concurrent use.
type Store interface {
	Register(ctx context.Context, fields entity.EntryFields) (*entity.RegistryEntry, error)
	Lookup(ctx context.Context, id string) (*entity.RegistryEntry, error)
	List(ctx context.Context) ([]*entity.RegistryEntry, error)
	Close() error
}

// Open creates the store selected by cfg.Driver.
func Open(ctx context.Context, cfg *config.RegistryConfig, log *slog.Logger) (Store, error) {
	switch cfg.Driver {
	case config.RegistryDriverMemory, "":
		return NewMemoryRegistry(log), nil
	case config.RegistryDriverSQLite:
		return OpenSQLiteRegistry(ctx, cfg.Path, log)
	case config.RegistryDriverRedis:
		return OpenRedisRegistry(ctx, cfg.RedisURL, log)
	}

	return nil, fmt.Errorf("%w: %s", common.ErrUnknownRegistryKind, cfg.Driver)
}

func newEntry(fields entity.EntryFields) (*entity.RegistryEntry, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("cannot generate id: %w", err)
	}

	return &entity.RegistryEntry{
		ID:           id.String(),
		ResolvedPath: fields.ResolvedPath,
		Title:        fields.Title,
		Description:  fields.Description,
		MIMEType:     fields.MIMEType,
		Scannable:    fields.Scannable,
		Size:         fields.Size,
		CreatedAt:    time.Now().UTC().Round(0),
	}, nil
}

func notFound(id string) error {
	return common.Wrap(common.KindNotFound, "lookup", id, common.ErrEntryNotFound)
}

func exhausted() error {
	return common.Wrap(common.KindIOFailure, "register", "", common.ErrIDSpaceExhausted)
}
