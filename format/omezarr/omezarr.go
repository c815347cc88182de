/*
	Package omezarr reads planes from Zarr and OME-Zarr stores, including NGFF
	high-content-screening plates, held locally, in object storage, or at remote URLs.
*/
package omezarr

import (
	"context"
	"fmt"

	"github.com/blang/semver"
	"gocloud.dev/blob"

	"github.com/janelia-flyem/planar/planar"
	"github.com/janelia-flyem/planar/reader"
	"github.com/janelia-flyem/planar/storage"
	"github.com/janelia-flyem/planar/zarr"
)

const (
	ID      = "omezarr"
	Version = "1.0.0"
)

// Extension of stores claimed without opening.  ".ome.zarr" shares it.
const Extension = ".zarr"

// Format opens Zarr stores.
type Format struct {
	// Downloader fetches stores at http(s) URLs.  If nil, storage.DefaultDownloader is used.
	Downloader *storage.Downloader

	// Store tunes each opened store.
	Store zarr.Options
}

func (f *Format) Name() string {
	return "OME-Zarr"
}

func (f *Format) Version() semver.Version {
	return semver.MustParse(Version)
}

func (f *Format) String() string {
	return fmt.Sprintf("%s [%s]", f.Name(), Version)
}

func (f *Format) downloader() *storage.Downloader {
	if f.Downloader == nil {
		return storage.DefaultDownloader
	}
	return f.Downloader
}

// Score claims resources with a .zarr extension exclusively.  Other local or object
// storage resources are opened when allowed and scored 2 if they hold a Zarr hierarchy.
func (f *Format) Score(ctx context.Context, res *storage.Resource, allowOpen bool) reader.Probe {
	if res.Scheme == storage.SchemeOmero {
		return reader.Scored(reader.CannotRead)
	}
	if res.Extension() == Extension {
		return reader.Scored(reader.Exclusive)
	}
	if !allowOpen || !(res.IsLocal() || res.IsObjectStore()) {
		return reader.Scored(reader.CannotRead)
	}
	bucket, prefix, err := storage.OpenBucket(ctx, res)
	if err != nil {
		if isNotFound(err) {
			return reader.Scored(reader.CannotRead)
		}
		return reader.ProbeFailed(err)
	}
	store, err := zarr.Open(ctx, bucket, prefix, res.Ref, zarr.Options{})
	if err != nil {
		bucket.Close()
		if isNotFound(err) {
			return reader.Scored(reader.CannotRead)
		}
		return reader.ProbeFailed(err)
	}
	store.Close()
	return reader.Scored(reader.ScoreHigh)
}

// Open resolves the resource and discovers its series.  A file: URL takes precedence
// over path, and path over any other URL.
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

	var temps []string
	switch {
	case res.IsLocal():
	case res.IsObjectStore():
		planar.Infof("Zarr %q is in object storage, reading in place\n", res.Ref)
	case res.IsRemote():
		local, downloaded, err := f.fetch(ctx, res)
		if err != nil {
			return nil, err
		}
		temps = downloaded
		res = storage.MustParseResource(local)
	default:
		return nil, planar.NewError("open", ref, planar.ErrUnsupportedFormat, fmt.Errorf("scheme %q", res.Scheme))
	}

	bucket, prefix, err := storage.OpenBucket(ctx, res)
	if err != nil {
		storage.RemoveTemp(temps...)
		return nil, err
	}
	r, err := newReader(ctx, bucket, prefix, ref, f.Store)
	if err != nil {
		bucket.Close()
		storage.RemoveTemp(temps...)
		return nil, err
	}
	if res.IsObjectStore() && !r.store.Consolidated() {
		planar.Warningf("Zarr %q is in object storage but lacks consolidated metadata; reading may be slow\n", ref)
	}
	r.temps = temps
	return r, nil
}

// fetch downloads a remote store, which must be a zip archive, and extracts it.
func (f *Format) fetch(ctx context.Context, res *storage.Resource) (root string, temps []string, err error) {
	d := f.downloader()
	fname, err := d.Download(ctx, res)
	if err != nil {
		return "", nil, err
	}
	if !storage.IsZip(fname) {
		storage.RemoveTemp(fname)
		return "", nil, planar.OpenFailure("open", res.Ref, fmt.Errorf("downloaded file is not a zipped Zarr store"))
	}
	root, err = d.Unzip(fname)
	storage.RemoveTemp(fname)
	if err != nil {
		return "", nil, err
	}
	return root, []string{root}, nil
}

// OpenBucket opens a reader directly on a bucket, e.g. an in-memory store.  On
// success the reader owns the bucket and closes it with the reader.
func OpenBucket(ctx context.Context, bucket *blob.Bucket, prefix, name string, opts zarr.Options) (*Reader, error) {
	return newReader(ctx, bucket, prefix, name, opts)
}
