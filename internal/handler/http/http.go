package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/jgivc/copytodownload/internal/common"
	"github.com/jgivc/copytodownload/internal/entity"
	"github.com/jgivc/copytodownload/internal/service/delivery"
)

const (
	maxBodySize = 1 << 20
)

var (
	idRegexp = regexp.MustCompile(`^[a-f\d]{8}-[a-f\d]{4}-[a-f\d]{4}-[a-f\d]{4}-[a-f\d]{12}$`)
)

type CopyService interface {
	SubmitCopy(req entity.CopyRequest) *delivery.Future
	SubmitNativeCopy(srcURL, dstDirURL string) *delivery.Future
}

type EntryService interface {
	Lookup(ctx context.Context, id string) (*entity.RegistryEntry, error)
}

type NativeCopyRequest struct {
	Source      string `json:"src"`
	Destination string `json:"dst"`
}

type NativeCopyResponse struct {
	Path string `json:"path"`
}

func NewCopyHandler(timeout time.Duration, srv CopyService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "CopyHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		var req entity.CopyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		res, ok := waitResult(r.Context(), w, timeout, srv.SubmitCopy(req), log)
		if !ok {
			return
		}

		if s, ok := res.Success(); ok {
			writeJSON(w, http.StatusOK, s, log)

			return
		}

		writeFailure(w, res, log)
	}
}

func NewNativeCopyHandler(timeout time.Duration, srv CopyService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "NativeCopyHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		var req NativeCopyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		res, ok := waitResult(r.Context(), w, timeout, srv.SubmitNativeCopy(req.Source, req.Destination), log)
		if !ok {
			return
		}

		if s, ok := res.Success(); ok {
			writeJSON(w, http.StatusOK, &NativeCopyResponse{Path: s.Path}, log)

			return
		}

		writeFailure(w, res, log)
	}
}

func NewEntryHandler(srv EntryService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "EntryHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !idRegexp.MatchString(id) {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		entry, err := srv.Lookup(r.Context(), id)
		if err != nil {
			switch {
			case errors.Is(err, common.ErrEntryNotFound):
				http.Error(w, "Cannot find entry", http.StatusNotFound)
			default:
				log.Error("Cannot get entry", slog.String("id", id), slog.Any("error", err))
				http.Error(w, "Cannot get entry", http.StatusInternalServerError)
			}

			return
		}

		writeJSON(w, http.StatusOK, entry, log)
	}
}

// waitResult waits for f. On timeout the request keeps running and the client gets 504.
func waitResult(ctx context.Context, w http.ResponseWriter, timeout time.Duration, f *delivery.Future, log *slog.Logger) (entity.CopyResult, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := f.Wait(ctx)
	if err != nil {
		log.Warn("Stop waiting for result", slog.Any("error", err))
		http.Error(w, "Copy is still running", http.StatusGatewayTimeout)

		return res, false
	}

	return res, true
}

func writeFailure(w http.ResponseWriter, res entity.CopyResult, log *slog.Logger) {
	f, _ := res.Failure()
	writeJSON(w, StatusFromKind(f.Kind), f, log)
}

func StatusFromKind(kind common.ErrorKind) int {
	switch kind {
	case common.KindInvalidPath:
		return http.StatusBadRequest
	case common.KindSourceNotFound, common.KindNotFound:
		return http.StatusNotFound
	case common.KindDestinationUnavailable:
		return http.StatusConflict
	case common.KindInsufficientSpace:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()

	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Cannot write response", slog.Any("error", err))
	}
}
