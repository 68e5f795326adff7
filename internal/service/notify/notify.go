package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jgivc/copytodownload/internal/entity"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

const (
	defaultTimeout = 2 * time.Second
)

// Event is what sinks receive about a completed copy. Media indexing and the
// visible notification are done by whoever listens on the sink.
type Event struct {
	ID               string    `json:"id"`
	Path             string    `json:"path"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	DescriptionHTML  string    `json:"description_html,omitempty"`
	MIMEType         string    `json:"mime_type"`
	Size             int64     `json:"size"`
	Scannable        bool      `json:"scannable"`
	ShowNotification bool      `json:"show_notification"`
	CreatedAt        time.Time `json:"created_at"`
	// CapturedAt is set for scannable images that carry EXIF data.
	CapturedAt *time.Time `json:"captured_at,omitempty"`
}

type Sink interface {
	Send(ctx context.Context, event *Event) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, event *Event) error

func (f SinkFunc) Send(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	md      goldmark.Markdown
	media   CaptureTimeReader
	log     *slog.Logger
}

func NewDispatcher(timeout time.Duration, log *slog.Logger, sinks ...Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	return &Dispatcher{
		sinks:   sinks,
		timeout: timeout,
		md:      md,
		log:     log.With(slog.String("service", "notify")),
	}
}

// SetCaptureTimeReader enables capture times on events for scannable images.
func (d *Dispatcher) SetCaptureTimeReader(r CaptureTimeReader) {
	d.media = r
}

// Notify announces entry to every sink. It never fails: sink errors are logged.
func (d *Dispatcher) Notify(ctx context.Context, entry *entity.RegistryEntry, scannable, showNotification bool) {
	event := &Event{
		ID:               entry.ID,
		Path:             entry.ResolvedPath,
		Title:            entry.Title,
		Description:      entry.Description,
		MIMEType:         entry.MIMEType,
		Size:             entry.Size,
		Scannable:        scannable,
		ShowNotification: showNotification,
		CreatedAt:        entry.CreatedAt,
	}

	if entry.Description != "" {
		content, err := d.renderDescription(entry.Description)
		if err != nil {
			d.log.Error("Cannot render description", slog.String("id", entry.ID), slog.Any("error", err))
		} else {
			event.DescriptionHTML = content
		}
	}

	if scannable && d.media != nil && strings.HasPrefix(entry.MIMEType, "image/") {
		tm, err := d.captureTime(ctx, entry.ResolvedPath)
		if err != nil {
			d.log.Debug("No capture time", slog.String("id", entry.ID), slog.Any("error", err))
		} else {
			event.CapturedAt = &tm
		}
	}

	for i, sink := range d.sinks {
		if err := d.send(ctx, sink, event); err != nil {
			d.log.Error("Cannot notify", slog.String("id", entry.ID), slog.Int("sink", i), slog.Any("error", err))
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, sink Sink, event *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	return sink.Send(ctx, event)
}

func (d *Dispatcher) captureTime(ctx context.Context, path string) (tm time.Time, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capture time reader panic: %v", r)
		}
	}()

	return d.media.CaptureTime(ctx, path)
}

func (d *Dispatcher) renderDescription(src string) (string, error) {
	var buf bytes.Buffer
	if err := d.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("cannot convert markdown: %w", err)
	}

	return buf.String(), nil
}
