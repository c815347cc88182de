package storage

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"

	"github.com/dustin/go-humanize"

	"github.com/janelia-flyem/planar/planar"
)

// TempPrefix prefixes every temporary file and directory created by this package.
const TempPrefix = "planar-"

var zipMagic = []byte("PK\x03\x04")

// Downloader fetches remote resources into temporary local copies.  The caller owns
// returned paths and must eventually pass them to RemoveTemp.
type Downloader struct {
	// Client is used for http and https URLs.  If nil, http.DefaultClient is used.
	Client *http.Client

	// Dir is the directory holding temporary copies.  If empty, os.TempDir() is used.
	Dir string
}

// DefaultDownloader uses the default HTTP client and system temp directory.
var DefaultDownloader = &Downloader{}

func (d *Downloader) client() *http.Client {
	if d.Client == nil {
		return http.DefaultClient
	}
	return d.Client
}

// Download copies a remote resource to a temporary file named with the resource's
// extension and returns the file path.
func (d *Downloader) Download(ctx context.Context, res *Resource) (string, error) {
	switch res.Scheme {
	case SchemeHTTP, SchemeHTTPS:
		return d.downloadHTTP(ctx, res)
	case SchemeS3, SchemeGCS, SchemeMem:
		bucket, _, err := OpenBucket(ctx, res)
		if err != nil {
			return "", err
		}
		defer bucket.Close()
		return d.DownloadObject(ctx, bucket, res.Key(), res.Extension())
	}
	return "", errUnsupportedScheme(res)
}

func (d *Downloader) downloadHTTP(ctx context.Context, res *Resource) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, res.Ref, nil)
	if err != nil {
		return "", planar.OpenFailure("download", res.Ref, err)
	}
	resp, err := d.client().Do(req)
	if err != nil {
		return "", planar.OpenFailure("download", res.Ref, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", planar.NotFound("download", res.Ref)
	case resp.StatusCode != http.StatusOK:
		return "", planar.OpenFailure("download", res.Ref, fmt.Errorf("status %s", resp.Status))
	}
	return d.writeTemp(res.Ref, res.Extension(), resp.Body)
}

// DownloadObject copies one object from a bucket into a temporary file.
func (d *Downloader) DownloadObject(ctx context.Context, bucket *blob.Bucket, key, ext string) (string, error) {
	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		if IsNotExist(err) {
			return "", planar.NotFound("download", key)
		}
		return "", planar.OpenFailure("download", key, err)
	}
	defer r.Close()
	return d.writeTemp(key, ext, r)
}

func (d *Downloader) writeTemp(ref, ext string, r io.Reader) (string, error) {
	timedLog := planar.NewTimeLog()
	f, err := os.CreateTemp(d.Dir, TempPrefix+"*"+ext)
	if err != nil {
		return "", planar.OpenFailure("download", ref, err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", planar.OpenFailure("download", ref, err)
	}
	timedLog.Debugf("Downloaded %s from %q to %s", humanize.Bytes(uint64(n)), ref, f.Name())
	return f.Name(), nil
}

// IsZip returns true if the file starts with a zip local file header.
func IsZip(filename string) bool {
	f, err := os.Open(filename)
	if err != nil {
		return false
	}
	defer f.Close()
	header := make([]byte, len(zipMagic))
	if _, err := io.ReadFull(f, header); err != nil {
		return false
	}
	return bytes.Equal(header, zipMagic)
}

// Unzip extracts a zip archive into a new temporary directory and returns it.
// If the archive holds a single top-level directory, that directory is returned.
func (d *Downloader) Unzip(filename string) (string, error) {
	zr, err := zip.OpenReader(filename)
	if err != nil {
		return "", planar.OpenFailure("unzip", filename, err)
	}
	defer zr.Close()

	dir, err := os.MkdirTemp(d.Dir, TempPrefix)
	if err != nil {
		return "", planar.OpenFailure("unzip", filename, err)
	}
	tops := make(map[string]struct{})
	for _, zf := range zr.File {
		name := filepath.FromSlash(zf.Name)
		target := filepath.Join(dir, name)
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
			os.RemoveAll(dir)
			return "", planar.OpenFailure("unzip", filename, fmt.Errorf("illegal entry %q", zf.Name))
		}
		tops[strings.SplitN(filepath.ToSlash(name), "/", 2)[0]] = struct{}{}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				os.RemoveAll(dir)
				return "", planar.OpenFailure("unzip", filename, err)
			}
			continue
		}
		if err := extractFile(zf, target); err != nil {
			os.RemoveAll(dir)
			return "", planar.OpenFailure("unzip", filename, err)
		}
	}
	if len(tops) == 1 {
		for top := range tops {
			sub := filepath.Join(dir, top)
			if fi, err := os.Stat(sub); err == nil && fi.IsDir() && !strings.HasPrefix(top, ".") {
				return sub, nil
			}
		}
	}
	return dir, nil
}

func extractFile(zf *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	f, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// RemoveTemp deletes temporary paths created by this package.  A path inside an
// extracted archive removes the whole extraction directory.  Paths not created by this
// package are left alone and logged.
func RemoveTemp(paths ...string) {
	tmp := filepath.Clean(os.TempDir())
	for _, p := range paths {
		if p == "" {
			continue
		}
		target := filepath.Clean(p)
		for {
			if strings.HasPrefix(filepath.Base(target), TempPrefix) {
				break
			}
			parent := filepath.Dir(target)
			if parent == target || parent == tmp {
				target = ""
				break
			}
			target = parent
		}
		if target == "" {
			planar.Warningf("Refusing to remove %q: not a temporary path\n", p)
			continue
		}
		if err := os.RemoveAll(target); err != nil {
			planar.Errorf("Unable to remove temporary path %q: %v\n", target, err)
		} else {
			planar.Debugf("Removed temporary path %q\n", target)
		}
	}
}
