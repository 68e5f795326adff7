package fsadapter

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jgivc/copytodownload/internal/common"
	"github.com/spf13/afero"
)

const (
	maxLinkHops = 40
	dirPerm     = 0o755
)

type pathResolver struct {
	fs   afero.Fs
	root string
	log  *slog.Logger
}

// NewPathResolver returns a resolver that keeps every path inside root.
// The root itself is canonicalized, so a root reached through symlinks is fine.
func NewPathResolver(fs afero.Fs, root string, log *slog.Logger) (*pathResolver, error) {
	if root == "" {
		return nil, fmt.Errorf("cannot create resolver: %w", common.ErrEmptyPath)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("cannot get absolute root %s: %w", root, err)
	}

	canonical, err := resolveLinks(fs, string(filepath.Separator), abs)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve root %s: %w", root, err)
	}

	return &pathResolver{
		fs:   fs,
		root: canonical,
		log:  log.With(slog.String("item", "PathResolver"), slog.String("root", canonical)),
	}, nil
}

func (r *pathResolver) Root() string {
	return r.root
}

// Resolve validates rawPath and returns its canonical form inside the root.
// With mustExist the path has to name a regular file; otherwise it is treated as a
// directory and created together with all missing parents.
func (r *pathResolver) Resolve(rawPath string, mustExist bool) (string, error) {
	const op = "resolve"

	if strings.TrimSpace(rawPath) == "" {
		return "", common.Wrap(common.KindInvalidPath, op, rawPath, common.ErrEmptyPath)
	}

	if hasParentSegment(rawPath) {
		return "", common.Wrap(common.KindInvalidPath, op, rawPath, common.ErrParentSegment)
	}

	p := filepath.Clean(rawPath)
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.root, p)
	}

	if _, err := relativeToRoot(r.root, p); err != nil {
		return "", common.Wrap(common.KindInvalidPath, op, rawPath, err)
	}

	resolved, err := resolveLinks(r.fs, r.root, p)
	if err != nil {
		if errors.Is(err, common.ErrPathEscapesRoot) || errors.Is(err, common.ErrTooManyLinks) {
			return "", common.Wrap(common.KindInvalidPath, op, rawPath, err)
		}

		return "", common.Wrap(common.KindIOFailure, op, rawPath, err)
	}

	if mustExist {
		return resolved, r.checkRegularFile(resolved)
	}

	return resolved, r.ensureDir(resolved)
}

func (r *pathResolver) checkRegularFile(p string) error {
	const op = "stat source"

	fi, err := r.fs.Stat(p)
	if err != nil {
		if isNotExist(err) {
			return common.Wrap(common.KindSourceNotFound, op, p, err)
		}

		return common.Wrap(common.KindIOFailure, op, p, err)
	}

	if !fi.Mode().IsRegular() {
		return common.Wrap(common.KindSourceNotFound, op, p, common.ErrNotRegularFile)
	}

	return nil
}

func (r *pathResolver) ensureDir(p string) error {
	const op = "prepare destination"

	if err := r.fs.MkdirAll(p, dirPerm); err != nil {
		r.log.Error("Cannot create destination", slog.String("path", p), slog.Any("error", err))

		return common.Wrap(common.KindDestinationUnavailable, op, p, err)
	}

	fi, err := r.fs.Stat(p)
	if err != nil {
		return common.Wrap(common.KindDestinationUnavailable, op, p, err)
	}

	if !fi.IsDir() {
		return common.Wrap(common.KindDestinationUnavailable, op, p, common.ErrNotDirectory)
	}

	return nil
}

// resolveLinks follows symlinks in p component by component, starting below root.
// Components that do not exist yet are joined lexically. Every intermediate result
// has to stay inside root.
func resolveLinks(fs afero.Fs, root, p string) (string, error) {
	for hops := 0; ; {
		rel, err := relativeToRoot(root, p)
		if err != nil {
			return "", err
		}

		if rel == "." {
			return p, nil
		}

		parts := strings.Split(rel, string(filepath.Separator))
		cur := root
		restarted := false

		for i, part := range parts {
			next := filepath.Join(cur, part)

			fi, err := lstat(fs, next)
			if err != nil {
				if isNotExist(err) {
					return filepath.Join(append([]string{cur}, parts[i:]...)...), nil
				}

				return "", err
			}

			if fi.Mode()&os.ModeSymlink == 0 {
				cur = next

				continue
			}

			hops++
			if hops > maxLinkHops {
				return "", common.ErrTooManyLinks
			}

			target, err := readlink(fs, next)
			if err != nil {
				return "", err
			}

			if !filepath.IsAbs(target) {
				target = filepath.Join(cur, target)
			}

			p = filepath.Join(append([]string{filepath.Clean(target)}, parts[i+1:]...)...)
			restarted = true

			break
		}

		if !restarted {
			return cur, nil
		}
	}
}

func relativeToRoot(root, p string) (string, error) {
	rel, err := filepath.Rel(root, filepath.Clean(p))
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrPathEscapesRoot, err)
	}

	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", common.ErrPathEscapesRoot
	}

	return rel, nil
}

func hasParentSegment(p string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == ".." {
			return true
		}
	}

	return false
}

// isNotExist also treats a file used as a directory component as missing.
func isNotExist(err error) bool {
	return os.IsNotExist(err) || errors.Is(err, syscall.ENOTDIR)
}

func lstat(fs afero.Fs, name string) (os.FileInfo, error) {
	if ls, ok := fs.(afero.Lstater); ok {
		fi, _, err := ls.LstatIfPossible(name)

		return fi, err
	}

	return fs.Stat(name)
}

func readlink(fs afero.Fs, name string) (string, error) {
	lr, ok := fs.(afero.LinkReader)
	if !ok {
		return "", fmt.Errorf("cannot read link %s: file system does not support links", name)
	}

	return lr.ReadlinkIfPossible(name)
}
