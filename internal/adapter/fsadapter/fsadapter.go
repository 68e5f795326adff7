package fsadapter

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/jgivc/copytodownload/internal/common"
	"github.com/jgivc/copytodownload/internal/config"
	"github.com/spf13/afero"
)

const (
	mimeTypeUnknown       = "application/octet-stream"
	mimeTypeCheckPartSize = 512

	defaultBufferSize = 64 * 1024
	maxDisambiguators = 10000
	filePerm          = 0o644
	tempSuffix        = ".part"
	// maxTempStem keeps temp names well under NAME_MAX whatever the final name is.
	maxTempStem = 64
)

type copyEngine struct {
	fs      afero.Fs
	bufSize int
	log     *slog.Logger
}

func NewCopyEngine(cfg *config.FSAdapterConfig, log *slog.Logger) *copyEngine {
	return NewCopyEngineWithFS(afero.NewOsFs(), cfg, log)
}

func NewCopyEngineWithFS(fs afero.Fs, cfg *config.FSAdapterConfig, log *slog.Logger) *copyEngine {
	bufSize := cfg.BufferSize
	if bufSize < 1 {
		bufSize = defaultBufferSize
	}

	return &copyEngine{
		fs:      fs,
		bufSize: bufSize,
		log:     log.With(slog.String("item", "CopyEngine")),
	}
}

/*
Copy copies src into dstDir under desiredName and returns the final path and size.

1. Bytes go to a hidden temp file inside dstDir, which is synced and closed.
2. The first free name out of "name", "name (1)", "name (2)", ... is picked.
3. The temp file is renamed to it. An existing file is never replaced.

On any failure the temp file is removed, so nothing partial is ever visible
under a final name. Picking the name is not safe against concurrent writers to the
same directory, callers serialize per directory.
*/
func (e *copyEngine) Copy(src, dstDir, desiredName string) (string, int64, error) {
	const op = "copy"

	if !validName(desiredName) {
		return "", 0, common.Wrap(common.KindInvalidPath, op, desiredName, fmt.Errorf("invalid file name"))
	}

	log := e.log.With(slog.String("src", src), slog.String("dst_dir", dstDir))

	in, err := e.fs.Open(src)
	if err != nil {
		if isNotExist(err) {
			return "", 0, common.Wrap(common.KindSourceNotFound, op, src, err)
		}

		return "", 0, common.Wrap(common.KindIOFailure, op, src, err)
	}
	defer in.Close()

	tmp, err := afero.TempFile(e.fs, dstDir, tempPattern(desiredName))
	if err != nil {
		log.Error("Cannot create temp file", slog.Any("error", err))

		return "", 0, classify(op, dstDir, err)
	}
	tmpName := tmp.Name()

	size, err := e.writeTemp(tmp, in)
	if err != nil {
		log.Error("Cannot write temp file", slog.String("tmp", tmpName), slog.Int64("written", size), slog.Any("error", err))
		e.removeTemp(tmpName)

		return "", 0, classify(op, tmpName, err)
	}

	finalPath, err := e.publish(tmpName, dstDir, desiredName)
	if err != nil {
		log.Error("Cannot publish file", slog.String("tmp", tmpName), slog.Any("error", err))
		e.removeTemp(tmpName)

		return "", 0, classify(op, dstDir, err)
	}

	log.Debug("Copied", slog.String("path", finalPath), slog.Int64("size", size))

	return finalPath, size, nil
}

func (e *copyEngine) writeTemp(tmp afero.File, in io.Reader) (int64, error) {
	buf := make([]byte, e.bufSize)

	n, err := io.CopyBuffer(writerOnly{tmp}, in, buf)
	if err != nil {
		tmp.Close()

		return n, err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()

		return n, err
	}

	if err := tmp.Close(); err != nil {
		return n, err
	}

	if err := e.fs.Chmod(tmp.Name(), filePerm); err != nil {
		return n, err
	}

	return n, nil
}

func (e *copyEngine) publish(tmpName, dstDir, desiredName string) (string, error) {
	for n := 0; n < maxDisambiguators; n++ {
		candidate := filepath.Join(dstDir, DisambiguatedName(desiredName, n))

		_, err := lstat(e.fs, candidate)
		if err == nil {
			continue
		}

		if !os.IsNotExist(err) {
			return "", err
		}

		if err := e.fs.Rename(tmpName, candidate); err != nil {
			return "", err
		}

		return candidate, nil
	}

	return "", common.ErrNoFreeName
}

// Remove deletes a published file. Used when a copy cannot be registered.
func (e *copyEngine) Remove(path string) error {
	if err := e.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return common.Wrap(common.KindIOFailure, "remove", path, err)
	}

	return nil
}

func (e *copyEngine) removeTemp(name string) {
	if err := e.fs.Remove(name); err != nil && !os.IsNotExist(err) {
		e.log.Error("Cannot remove temp file", slog.String("tmp", name), slog.Any("error", err))
	}
}

// DetectMIMEType guesses the MIME type by extension first, then by content.
func (e *copyEngine) DetectMIMEType(filePath string) (string, error) {
	if ext := filepath.Ext(filePath); ext != "" {
		if mimeType := mime.TypeByExtension(ext); mimeType != "" {
			return mimeType, nil
		}
	}

	file, err := e.fs.Open(filePath)
	if err != nil {
		return mimeTypeUnknown, err
	}
	defer file.Close()

	buffer := make([]byte, mimeTypeCheckPartSize)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return mimeTypeUnknown, err
	}

	return http.DetectContentType(buffer[:n]), nil
}

// DisambiguatedName returns name for n == 0 and "name (n)" otherwise.
func DisambiguatedName(name string, n int) string {
	if n == 0 {
		return name
	}

	return fmt.Sprintf("%s (%d)", name, n)
}

// tempPattern returns the afero.TempFile pattern for name, cut to maxTempStem
// bytes on a rune boundary.
func tempPattern(name string) string {
	stem := name
	if len(stem) > maxTempStem {
		stem = stem[:maxTempStem]
		for len(stem) > 0 && !utf8.ValidString(stem) {
			stem = stem[:len(stem)-1]
		}
	}

	return "." + stem + ".*" + tempSuffix
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}

	return !strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}

func classify(op, path string, err error) error {
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
		return common.Wrap(common.KindInsufficientSpace, op, path, err)
	}

	return common.Wrap(common.KindIOFailure, op, path, err)
}

// writerOnly hides ReadFrom so the configured buffer is actually used.
type writerOnly struct {
	io.Writer
}
