package notify

import (
	"context"
	"errors"
	"time"

	goexif "github.com/rwcarlsen/goexif/exif"
	"github.com/spf13/afero"
)

const exifTimeLayout = "2006:01:02 15:04:05"

var errNoCaptureTime = errors.New("exif datetime not found")

// CaptureTimeReader tells when a media file was captured.
type CaptureTimeReader interface {
	CaptureTime(ctx context.Context, path string) (time.Time, error)
}

type exifReader struct {
	fs afero.Fs
}

func NewExifReader(fs afero.Fs) *exifReader {
	return &exifReader{fs: fs}
}

func (r *exifReader) CaptureTime(ctx context.Context, path string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}

	file, err := r.fs.Open(path)
	if err != nil {
		return time.Time{}, err
	}
	defer file.Close()

	x, err := goexif.Decode(file)
	if err != nil {
		return time.Time{}, err
	}

	if tag, err := x.Get(goexif.DateTimeOriginal); err == nil {
		if str, err := tag.StringVal(); err == nil {
			if parsed, err := time.Parse(exifTimeLayout, str); err == nil {
				return parsed, nil
			}
		}
	}

	if parsed, err := x.DateTime(); err == nil {
		return parsed, nil
	}

	return time.Time{}, errNoCaptureTime
}
