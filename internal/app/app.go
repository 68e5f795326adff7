package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jgivc/copytodownload/internal/adapter/fsadapter"
	"github.com/jgivc/copytodownload/internal/config"
	"github.com/jgivc/copytodownload/internal/entity"
	httphandler "github.com/jgivc/copytodownload/internal/handler/http"
	"github.com/jgivc/copytodownload/internal/repository/registry"
	"github.com/jgivc/copytodownload/internal/service/audit"
	"github.com/jgivc/copytodownload/internal/service/delivery"
	"github.com/jgivc/copytodownload/internal/service/notify"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
)

const (
	initTimeout = 5 * time.Second
	stopTimeout = 5 * time.Second
)

type App struct {
	cfgPath string
	cfg     *config.Config
	srv     *http.Server
	store   registry.Store
	coord   *delivery.Coordinator
	notify  *notify.Dispatcher
	auditor *audit.Auditor
	closers []func() error
	log     *slog.Logger
}

func New(cfgPath string) *App {
	return &App{
		cfgPath: cfgPath,
	}
}

func NewLogger(level string) (*slog.Logger, error) {
	lo := &slog.HandlerOptions{}
	switch level {
	case config.LogLevelInfo:
		lo.Level = slog.LevelInfo
	case config.LogLevelWarn:
		lo.Level = slog.LevelWarn
	case config.LogLevelError:
		lo.Level = slog.LevelError
	case config.LogLevelDebug:
		lo.Level = slog.LevelDebug
	default:
		return nil, fmt.Errorf("unknown log level: %s", level)
	}

	return slog.New(slog.NewTextHandler(os.Stderr, lo)), nil
}

// Init builds everything except the HTTP server. The config is loaded unless
// Start already did.
func (a *App) Init(ctx context.Context) (err error) {
	if a.cfg == nil {
		if a.cfg, err = config.Load(a.cfgPath); err != nil {
			return err
		}
	}
	cfg := a.cfg

	log, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.log = log

	defer func() {
		if err != nil {
			a.Stop()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	a.store, err = registry.Open(ctx, &cfg.Registry, log)
	if err != nil {
		return fmt.Errorf("cannot open registry: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	fs := afero.NewOsFs()
	fsCfg := cfg.FSAdapterConfig()

	source, err := fsadapter.NewPathResolver(fs, fsCfg.SourceRoot, log)
	if err != nil {
		return err
	}

	if err := fs.MkdirAll(fsCfg.DownloadsDir, 0o755); err != nil {
		return fmt.Errorf("cannot create downloads dir %s: %w", fsCfg.DownloadsDir, err)
	}

	downloads, err := fsadapter.NewPathResolver(fs, fsCfg.DownloadsDir, log)
	if err != nil {
		return err
	}

	sinks := []notify.Sink{}
	if cfg.Notify.Log {
		sinks = append(sinks, notify.NewLogSink(log))
	}

	if cfg.Notify.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.Notify.RedisURL)
		if err != nil {
			return fmt.Errorf("cannot parse notify redis url: %w", err)
		}

		rdb := redis.NewClient(opt)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()

			return fmt.Errorf("cannot connect to notify redis: %w", err)
		}

		sink := notify.NewRedisSink(rdb, cfg.Notify.RedisChannel)
		sinks = append(sinks, sink)
		a.closers = append(a.closers, sink.Close)
	}

	a.notify = notify.NewDispatcher(cfg.NotifyTimeout, log, sinks...)
	a.notify.SetCaptureTimeReader(notify.NewExifReader(fs))

	a.coord = delivery.NewCoordinator(delivery.Options{
		Source:    source,
		Downloads: downloads,
		Native:    source,
		Engine:    fsadapter.NewCopyEngineWithFS(fs, fsCfg, log),
		Store:     a.store,
		Notify:    a.notify,
		Workers:   cfg.Workers,
	}, log)

	a.auditor = audit.NewAuditor(fs, a.store, cfg.Workers, log)

	return nil
}

func (a *App) Start() {
	a.cfg = config.MustLoad(a.cfgPath)

	if err := a.Init(context.Background()); err != nil {
		panic(err)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /copy/{$}", httphandler.NewCopyHandler(a.cfg.RequestTimeout, a.coord, a.log))
	mux.Handle("POST /native/{$}", httphandler.NewNativeCopyHandler(a.cfg.RequestTimeout, a.coord, a.log))
	mux.Handle("GET /entry/{id}/{$}", httphandler.NewEntryHandler(a.store, a.log))

	a.srv = &http.Server{
		Addr:    a.cfg.Listen,
		Handler: mux,
	}

	go func() {
		a.log.Info("Start listen", slog.String("addr", a.cfg.Listen))

		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Could not serve", slog.String("listen_addr", a.cfg.Listen), slog.Any("error", err))
			os.Exit(2)
		}
	}()
}

// Copy submits req and waits for its result.
func (a *App) Copy(ctx context.Context, req entity.CopyRequest) (entity.CopyResult, error) {
	return a.coord.SubmitCopy(req).Wait(ctx)
}

func (a *App) NativeCopy(ctx context.Context, srcURL, dstDirURL string) (entity.CopyResult, error) {
	return a.coord.SubmitNativeCopy(srcURL, dstDirURL).Wait(ctx)
}

func (a *App) Lookup(ctx context.Context, id string) (*entity.RegistryEntry, error) {
	return a.store.Lookup(ctx, id)
}

// Audit reports registry entries whose files are gone or changed.
func (a *App) Audit(ctx context.Context) ([]*audit.Finding, error) {
	return a.auditor.Run(ctx)
}

func (a *App) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	if a.srv != nil {
		if err := a.srv.Shutdown(ctx); err != nil {
			a.log.Error("Cannot shutdown server", slog.Any("error", err))
		}
	}

	if a.coord != nil {
		if err := a.coord.Close(ctx); err != nil {
			a.log.Error("Cannot close coordinator", slog.Any("error", err))
		}
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Error("Cannot close resource", slog.Any("error", err))
		}
	}
	a.closers = nil
}
