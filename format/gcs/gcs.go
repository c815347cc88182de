/*
	Package gcs reads raster images held in Google Cloud Storage.  Objects are copied to
	a temporary file and decoded by the imageio format.
*/
package gcs

import (
	"context"
	"fmt"

	"github.com/blang/semver"
	"gocloud.dev/blob"

	"github.com/janelia-flyem/planar/format/imageio"
	"github.com/janelia-flyem/planar/planar"
	"github.com/janelia-flyem/planar/reader"
	"github.com/janelia-flyem/planar/storage"
)

const (
	ID      = "gcs"
	Version = "1.0.0"
)

// BucketOpener opens the bucket holding a resource and returns the key prefix.
type BucketOpener func(ctx context.Context, res *storage.Resource) (*blob.Bucket, string, error)

// Format reads gs:// objects.  Credentials come from the environment as for any
// gocloud gcsblob bucket.
type Format struct {
	// Downloader holds the temporary copies.  If nil, storage.DefaultDownloader is used.
	Downloader *storage.Downloader

	// OpenBucket is used instead of storage.OpenBucket if set.
	OpenBucket BucketOpener
}

func (f *Format) Name() string {
	return "GCS"
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

func (f *Format) openBucket(ctx context.Context, res *storage.Resource) (*blob.Bucket, error) {
	open := f.OpenBucket
	if open == nil {
		open = storage.OpenBucket
	}
	bucket, _, err := open(ctx, res)
	return bucket, err
}

// Score claims gs:// objects with a raster extension.  When opening is allowed the
// object must also exist.
func (f *Format) Score(ctx context.Context, res *storage.Resource, allowOpen bool) reader.Probe {
	if res.Scheme != storage.SchemeGCS || !res.HasExtension(imageio.Extensions) {
		return reader.Scored(reader.CannotRead)
	}
	if !allowOpen {
		return reader.Scored(reader.Exclusive)
	}
	bucket, err := f.openBucket(ctx, res)
	if err != nil {
		return reader.ProbeFailed(err)
	}
	defer bucket.Close()
	exists, err := bucket.Exists(ctx, res.Key())
	if err != nil {
		return reader.ProbeFailed(err)
	}
	if !exists {
		return reader.Scored(reader.CannotRead)
	}
	return reader.Scored(reader.Exclusive)
}

// Open downloads the object named by url, or by path if url is empty.
func (f *Format) Open(ctx context.Context, path, url string) (reader.Reader, error) {
	ref := url
	if ref == "" {
		ref = path
	}
	res, err := storage.ParseResource(ref)
	if err != nil {
		return nil, planar.OpenFailure("open", ref, err)
	}
	if res.Scheme != storage.SchemeGCS {
		return nil, planar.NewError("open", ref, planar.ErrUnsupportedFormat, fmt.Errorf("not a gs:// URL"))
	}
	bucket, err := f.openBucket(ctx, res)
	if err != nil {
		return nil, err
	}
	defer bucket.Close()

	timedLog := planar.NewTimeLog()
	fname, err := f.downloader().DownloadObject(ctx, bucket, res.Key(), res.Extension())
	if err != nil {
		return nil, err
	}
	timedLog.Debugf("Fetched %q from GCS\n", ref)
	r, err := imageio.OpenFile(fname, []string{fname})
	if err != nil {
		storage.RemoveTemp(fname)
		return nil, err
	}
	return r, nil
}
