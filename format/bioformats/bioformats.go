/*
	Package bioformats proxies reads of microscopy formats without a native reader
	to an external decoding service.  The service is opaque: it receives the resource
	URL and a plane request and returns the plane.
*/
package bioformats

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/blang/semver"

	"github.com/janelia-flyem/planar/planar"
	"github.com/janelia-flyem/planar/reader"
	"github.com/janelia-flyem/planar/storage"
)

const (
	ID      = "bioformats"
	Version = "1.0.0"
)

// Extensions claimed without contacting the service.
var Extensions = map[string]struct{}{
	".czi":  {},
	".nd2":  {},
	".lif":  {},
	".lsm":  {},
	".oib":  {},
	".oif":  {},
	".ims":  {},
	".vsi":  {},
	".svs":  {},
	".ndpi": {},
	".scn":  {},
	".flex": {},
	".mvd2": {},
	".zvi":  {},
	".dv":   {},
	".r3d":  {},
	".ics":  {},
	".ids":  {},
	".lei":  {},
	".liff": {},
	".stk":  {},
	".c01":  {},
	".dib":  {},
	".dcm":  {},
	".ome":  {},
	".btf":  {},
	".tif":  {},
	".tiff": {},
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".bmp":  {},
	".gif":  {},
}

// Format reads through a decoding Service.
type Format struct {
	Service Service
}

func (f *Format) Name() string {
	return "Bio-Formats"
}

func (f *Format) Version() semver.Version {
	return semver.MustParse(Version)
}

// Score claims omero: resources exclusively.  Without opening, known extensions score 3.
// With opening allowed, the service must be able to describe the resource.
func (f *Format) Score(ctx context.Context, res *storage.Resource, allowOpen bool) reader.Probe {
	if res.Scheme == storage.SchemeOmero {
		return reader.Scored(reader.Exclusive)
	}
	if !allowOpen {
		if res.HasExtension(Extensions) {
			return reader.Scored(reader.ScoreMedium)
		}
		return reader.Scored(reader.CannotRead)
	}
	if f.Service == nil {
		return reader.ProbeFailed(fmt.Errorf("no decoding service configured"))
	}
	if _, err := f.Service.SeriesDimensions(ctx, res.URL()); err != nil {
		planar.Debugf("Decoding service cannot describe %q: %v\n", res.Ref, err)
		return reader.Scored(reader.CannotRead)
	}
	return reader.Scored(reader.ScoreMedium)
}

// Open returns a reader bound to the resource URL, or to the path as a file: URL.
func (f *Format) Open(ctx context.Context, path, url string) (reader.Reader, error) {
	if f.Service == nil {
		return nil, planar.OpenFailure("open", url, fmt.Errorf("no decoding service configured"))
	}
	ref := url
	if ref == "" {
		ref = path
	}
	res, err := storage.ParseResource(ref)
	if err != nil {
		return nil, planar.OpenFailure("open", ref, err)
	}
	return &Reader{svc: f.Service, url: res.URL()}, nil
}

// Reader forwards reads of one resource to the service.
type Reader struct {
	svc    Service
	url    string
	closed atomic.Bool
}

func (r *Reader) Read(ctx context.Context, req reader.PlaneRequest) (*planar.Plane, error) {
	if r.closed.Load() {
		return nil, planar.OpenFailure("read", r.url, fmt.Errorf("reader is closed"))
	}
	return r.svc.Read(ctx, r.url, req)
}

func (r *Reader) SeriesDimensions(ctx context.Context) (*reader.Dimensions, error) {
	return r.svc.SeriesDimensions(ctx, r.url)
}

func (r *Reader) Close() error {
	r.closed.Store(true)
	return nil
}
