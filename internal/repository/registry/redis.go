package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jgivc/copytodownload/internal/entity"
	"github.com/redis/go-redis/v9"
)

const (
	KeyEntry     = "e"   // HASH. e:{id} -> entry fields
	KeyEntryIDs  = "ids" // SET. All registered ids, used for collision detection and listing.
	KeySeparator = ":"

	fieldPath        = "path"
	fieldTitle       = "title"
	fieldDescription = "description"
	fieldMIMEType    = "mime_type"
	fieldScannable   = "scannable"
	fieldSize        = "size"
	fieldCreatedAt   = "created_at"
)

type redisRegistry struct {
	cl  *redis.Client
	log *slog.Logger
}

// OpenRedisRegistry connects to redisURL and checks the connection.
func OpenRedisRegistry(ctx context.Context, redisURL string, log *slog.Logger) (*redisRegistry, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cannot parse redis url: %w", err)
	}

	cl := redis.NewClient(opt)
	if _, err := cl.Ping(ctx).Result(); err != nil {
		cl.Close()

		return nil, fmt.Errorf("cannot connect to redis: %w", err)
	}

	return NewRedisRegistry(cl, log), nil
}

func NewRedisRegistry(cl *redis.Client, log *slog.Logger) *redisRegistry {
	return &redisRegistry{
		cl:  cl,
		log: log.With(slog.String("item", "RedisRegistry")),
	}
}

func (r *redisRegistry) Register(ctx context.Context, fields entity.EntryFields) (*entity.RegistryEntry, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		entry, err := newEntry(fields)
		if err != nil {
			return nil, err
		}

		added, err := r.cl.SAdd(ctx, KeyEntryIDs, entry.ID).Result()
		if err != nil {
			return nil, fmt.Errorf("cannot reserve id: %w", err)
		}

		if added == 0 {
			r.log.Warn("Id collision", slog.String("id", entry.ID))

			continue
		}

		if _, err := r.cl.HSet(ctx, getKey(KeyEntry, entry.ID), toHash(entry)).Result(); err != nil {
			if _, rerr := r.cl.SRem(ctx, KeyEntryIDs, entry.ID).Result(); rerr != nil {
				r.log.Error("Cannot release id", slog.String("id", entry.ID), slog.Any("error", rerr))
			}

			return nil, fmt.Errorf("cannot save entry %s: %w", entry.ID, err)
		}

		return entry, nil
	}

	return nil, exhausted()
}

func (r *redisRegistry) Lookup(ctx context.Context, id string) (*entity.RegistryEntry, error) {
	m, err := r.cl.HGetAll(ctx, getKey(KeyEntry, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("cannot get entry %s: %w", id, err)
	}

	if len(m) < 1 {
		return nil, notFound(id)
	}

	return fromHash(id, m)
}

func (r *redisRegistry) List(ctx context.Context) ([]*entity.RegistryEntry, error) {
	ids, err := r.cl.SMembers(ctx, KeyEntryIDs).Result()
	if err != nil {
		return nil, fmt.Errorf("cannot get entry ids: %w", err)
	}

	if len(ids) < 1 {
		return nil, nil
	}

	pipe := r.cl.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.HGetAll(ctx, getKey(KeyEntry, id)))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("cannot exec pipe: %w", err)
	}

	entries := make([]*entity.RegistryEntry, 0, len(ids))
	for i, cmd := range cmds {
		m := cmd.Val()
		if len(m) < 1 {
			continue
		}

		entry, err := fromHash(ids[i], m)
		if err != nil {
			r.log.Error("Cannot decode entry", slog.String("id", ids[i]), slog.Any("error", err))

			continue
		}

		entries = append(entries, entry)
	}

	sortEntries(entries)

	return entries, nil
}

func (r *redisRegistry) Close() error {
	return r.cl.Close()
}

func toHash(e *entity.RegistryEntry) map[string]any {
	return map[string]any{
		fieldPath:        e.ResolvedPath,
		fieldTitle:       e.Title,
		fieldDescription: e.Description,
		fieldMIMEType:    e.MIMEType,
		fieldScannable:   strconv.FormatBool(e.Scannable),
		fieldSize:        strconv.FormatInt(e.Size, 10),
		fieldCreatedAt:   e.CreatedAt.Format(time.RFC3339Nano),
	}
}

func fromHash(id string, m map[string]string) (*entity.RegistryEntry, error) {
	scannable, err := strconv.ParseBool(m[fieldScannable])
	if err != nil {
		return nil, fmt.Errorf("cannot parse scannable: %w", err)
	}

	size, err := strconv.ParseInt(m[fieldSize], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("cannot parse size: %w", err)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, m[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("cannot parse created_at: %w", err)
	}

	return &entity.RegistryEntry{
		ID:           id,
		ResolvedPath: m[fieldPath],
		Title:        m[fieldTitle],
		Description:  m[fieldDescription],
		MIMEType:     m[fieldMIMEType],
		Scannable:    scannable,
		Size:         size,
		CreatedAt:    createdAt,
	}, nil
}

func getKey(keys ...string) string {
	return strings.Join(keys, KeySeparator)
}
