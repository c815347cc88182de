/*
	Package imageio reads single-plane raster images: PNG, JPEG, GIF, BMP and TIFF.
	Animated GIF frames are exposed as series.
*/
package imageio

import (
	"context"
	"fmt"

	"github.com/blang/semver"

	"github.com/janelia-flyem/planar/planar"
	"github.com/janelia-flyem/planar/reader"
	"github.com/janelia-flyem/planar/storage"
)

const (
	ID      = "imageio"
	Version = "1.0.0"
)

// Extensions lists the file extensions this format claims.
var Extensions = map[string]struct{}{
	".png":  {},
	".bmp":  {},
	".jpeg": {},
	".jpg":  {},
	".gif":  {},
	".tif":  {},
	".tiff": {},
}

// Format decodes raster images.
type Format struct {
	// Downloader fetches remote images.  If nil, storage.DefaultDownloader is used.
	Downloader *storage.Downloader
}

func (f *Format) Name() string {
	return "ImageIO"
}

func (f *Format) Version() semver.Version {
	return semver.MustParse(Version)
}

func (f *Format) downloader() *storage.Downloader {
	if f.Downloader == nil {
		return storage.DefaultDownloader
	}
	return f.Downloader
}

// Score decides from the extension alone.
func (f *Format) Score(ctx context.Context, res *storage.Resource, allowOpen bool) reader.Probe {
	if res.Scheme == storage.SchemeOmero {
		return reader.Scored(reader.CannotRead)
	}
	if res.HasExtension(Extensions) {
		return reader.Scored(reader.ScoreHigh)
	}
	return reader.Scored(reader.CannotRead)
}

// Open decodes a local image, or downloads a remote one first.
func (f *Format) Open(ctx context.Context, path, url string) (reader.Reader, error) {
	ref := path
	if url != "" {
		res, err := storage.ParseResource(url)
		if err != nil {
			return nil, planar.OpenFailure("open", url, err)
		}
		if res.IsLocal() || path == "" {
			ref = url
		}
	}
	if ref == "" {
		return nil, planar.NotFound("open", "")
	}
	res, err := storage.ParseResource(ref)
	if err != nil {
		return nil, planar.OpenFailure("open", ref, err)
	}
	if res.IsLocal() {
		return OpenFile(res.Path, nil)
	}
	if !res.IsRemote() && !res.IsObjectStore() {
		return nil, planar.NewError("open", ref, planar.ErrUnsupportedFormat, fmt.Errorf("scheme %q", res.Scheme))
	}
	fname, err := f.downloader().Download(ctx, res)
	if err != nil {
		return nil, err
	}
	r, err := OpenFile(fname, []string{fname})
	if err != nil {
		storage.RemoveTemp(fname)
		return nil, err
	}
	return r, nil
}
