package storage

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/janelia-flyem/planar/planar"
)

// Scheme names recognized in resource references.
const (
	SchemeFile  = "file"
	SchemeS3    = "s3"
	SchemeGCS   = "gs"
	SchemeMem   = "mem"
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeFTP   = "ftp"
	SchemeOmero = "omero"
)

// Resource is a parsed reference to an image resource: a bare local path or a URL.
type Resource struct {
	// Ref is the reference as given by the caller.
	Ref string

	// Scheme is the lower-cased URL scheme or "" for a bare path.
	Scheme string

	// Path is the local filesystem path for bare paths and file: URLs.
	Path string

	u *url.URL
}

// ParseResource parses a URL or bare local path.
func ParseResource(ref string) (*Resource, error) {
	if ref == "" {
		return nil, fmt.Errorf("empty resource reference")
	}
	res := &Resource{Ref: ref}
	u, err := url.Parse(ref)
	// single letter schemes are Windows drive letters
	if err != nil || len(u.Scheme) <= 1 {
		res.Path = filepath.FromSlash(ref)
		return res, nil
	}
	res.u = u
	res.Scheme = strings.ToLower(u.Scheme)
	if res.Scheme == SchemeFile {
		p := u.Path
		if u.Opaque != "" {
			if p, err = url.PathUnescape(u.Opaque); err != nil {
				return nil, fmt.Errorf("bad file URL %q: %v", ref, err)
			}
		}
		res.Path = filepath.FromSlash(p)
	}
	return res, nil
}

// MustParseResource is like ParseResource but panics on error.  For tests and constants.
func MustParseResource(ref string) *Resource {
	res, err := ParseResource(ref)
	if err != nil {
		panic(err)
	}
	return res
}

func (r *Resource) String() string {
	return r.Ref
}

// IsLocal returns true for bare paths and file: URLs.
func (r *Resource) IsLocal() bool {
	return r.Scheme == "" || r.Scheme == SchemeFile
}

// IsObjectStore returns true for references read in place from a bucket.
func (r *Resource) IsObjectStore() bool {
	switch r.Scheme {
	case SchemeS3, SchemeGCS, SchemeMem:
		return true
	}
	return false
}

// IsRemote returns true for references that must be downloaded before use.
func (r *Resource) IsRemote() bool {
	switch r.Scheme {
	case SchemeHTTP, SchemeHTTPS, SchemeFTP:
		return true
	}
	return false
}

// URL returns the reference as a URL, converting bare paths to file: URLs.
func (r *Resource) URL() string {
	if r.Scheme != "" {
		return r.Ref
	}
	abs, err := filepath.Abs(r.Path)
	if err != nil {
		abs = r.Path
	}
	return (&url.URL{Scheme: SchemeFile, Path: filepath.ToSlash(abs)}).String()
}

// Bucket returns the bucket name of an object-storage reference.
func (r *Resource) Bucket() string {
	if r.u == nil {
		return ""
	}
	return r.u.Host
}

// Key returns the object key (without leading slash) of an object-storage reference.
func (r *Resource) Key() string {
	if r.u == nil {
		return ""
	}
	return strings.TrimPrefix(r.u.Path, "/")
}

// Query returns the raw query of a URL reference, used for bucket options like region.
func (r *Resource) Query() string {
	if r.u == nil {
		return ""
	}
	return r.u.RawQuery
}

// Name returns the last element of the reference path.
func (r *Resource) Name() string {
	var p string
	switch {
	case r.Path != "":
		p = filepath.ToSlash(r.Path)
	case r.u != nil && r.u.Opaque != "":
		p = r.u.Opaque
	case r.u != nil:
		p = r.u.Path
	default:
		p = r.Ref
	}
	return path.Base(strings.TrimRight(p, "/"))
}

// Extension returns the lower-cased extension of the reference, including the dot.
func (r *Resource) Extension() string {
	return strings.ToLower(path.Ext(r.Name()))
}

// HasExtension returns true if the reference extension is one of the given set.
func (r *Resource) HasExtension(exts map[string]struct{}) bool {
	_, found := exts[r.Extension()]
	return found
}

// errUnsupportedScheme is returned for schemes storage cannot resolve.
func errUnsupportedScheme(r *Resource) error {
	return planar.NewError("resolve", r.Ref, planar.ErrUnsupportedFormat, fmt.Errorf("scheme %q", r.Scheme))
}
