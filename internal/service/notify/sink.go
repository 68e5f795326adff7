package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

type logSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *logSink {
	return &logSink{log: log.With(slog.String("item", "LogSink"))}
}

func (s *logSink) Send(ctx context.Context, event *Event) error {
	s.log.Info("Download completed",
		slog.String("id", event.ID),
		slog.String("path", event.Path),
		slog.String("title", event.Title),
		slog.String("mime_type", event.MIMEType),
		slog.Int64("size", event.Size),
		slog.Bool("scannable", event.Scannable),
		slog.Bool("show_notification", event.ShowNotification),
	)

	return nil
}

// redisSink publishes events as JSON. The platform listener subscribed to the
// channel runs the media scanner and shows the notification.
type redisSink struct {
	cl      *redis.Client
	channel string
}

func NewRedisSink(cl *redis.Client, channel string) *redisSink {
	return &redisSink{
		cl:      cl,
		channel: channel,
	}
}

func (s *redisSink) Send(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("cannot marshal event: %w", err)
	}

	if err := s.cl.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("cannot publish event: %w", err)
	}

	return nil
}

func (s *redisSink) Close() error {
	return s.cl.Close()
}
