package zarr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/golang/groupcache/lru"
	"golang.org/x/sync/singleflight"
	"gocloud.dev/blob"

	"github.com/janelia-flyem/planar/planar"
	"github.com/janelia-flyem/planar/storage"
)

// DefaultMetaEntries is the default number of parsed array descriptors kept per store.
const DefaultMetaEntries = 256

// Options tune a Store.  The zero value is usable.
type Options struct {
	// Chunks caches raw chunk bytes.  It may be shared by stores.
	Chunks *storage.ChunkCache

	// MetaEntries bounds the cache of metadata documents and parsed arrays.  Zero means DefaultMetaEntries.
	MetaEntries int

	// Concurrency bounds parallel chunk fetches per read.  Zero means 8.
	Concurrency int
}

// Store is an opened Zarr v2 hierarchy.  It is safe for concurrent use.
type Store struct {
	bucket *blob.Bucket
	prefix string
	name   string
	opts   Options

	// consolidated metadata keyed by store-relative key, nil if absent.
	consolidated map[string]json.RawMessage

	metaMu sync.Mutex
	metas  *lru.Cache

	fetches singleflight.Group
}

// Open opens the store rooted at prefix within the bucket.  The name identifies the
// store in errors and chunk cache keys.  Open fails with planar.ErrNotFound if the root
// is neither a group nor an array.
func Open(ctx context.Context, bucket *blob.Bucket, prefix, name string, opts Options) (*Store, error) {
	if opts.MetaEntries <= 0 {
		opts.MetaEntries = DefaultMetaEntries
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	s := &Store{
		bucket: bucket,
		prefix: prefix,
		name:   name,
		opts:   opts,
		metas:  lru.New(opts.MetaEntries),
	}
	data, err := storage.ReadObject(ctx, bucket, prefix+ConsolidatedKey)
	switch {
	case err == nil:
		var c consolidated
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, planar.OpenFailure("open", name, fmt.Errorf("bad consolidated metadata: %v", err))
		}
		s.consolidated = c.Metadata
		planar.Debugf("Using consolidated metadata for %q (%d keys)\n", name, len(c.Metadata))
	case errorIsNotFound(err):
	default:
		return nil, err
	}
	isGroup, err := s.IsGroup(ctx, "")
	if err != nil {
		return nil, err
	}
	if !isGroup {
		isArray, err := s.IsArray(ctx, "")
		if err != nil {
			return nil, err
		}
		if !isArray {
			return nil, planar.NotFound("open", name)
		}
	}
	return s, nil
}

// Name returns the name the store was opened with.
func (s *Store) Name() string {
	return s.name
}

// Consolidated returns true if the store has consolidated metadata.
func (s *Store) Consolidated() bool {
	return s.consolidated != nil
}

// Bucket returns the underlying bucket.
func (s *Store) Bucket() *blob.Bucket {
	return s.bucket
}

// Close releases the bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}

func join(p, key string) string {
	if p == "" {
		return key
	}
	return strings.Trim(p, "/") + "/" + key
}

// metaDoc returns a metadata document, preferring consolidated metadata.  Missing
// documents yield planar.ErrNotFound.
func (s *Store) metaDoc(ctx context.Context, key string) ([]byte, error) {
	if s.consolidated != nil {
		doc, found := s.consolidated[key]
		if !found {
			return nil, planar.NotFound("read", s.name+"/"+key)
		}
		return doc, nil
	}
	cacheKey := "doc:" + key
	s.metaMu.Lock()
	v, found := s.metas.Get(cacheKey)
	s.metaMu.Unlock()
	if !found {
		var err error
		v, err, _ = s.fetches.Do(key, func() (interface{}, error) {
			data, err := storage.ReadObject(ctx, s.bucket, s.prefix+key)
			if err != nil && !errorIsNotFound(err) {
				return nil, err
			}
			return cachedDoc{data: data, missing: err != nil}, nil
		})
		if err != nil {
			return nil, err
		}
		s.metaMu.Lock()
		s.metas.Add(cacheKey, v)
		s.metaMu.Unlock()
	}
	doc := v.(cachedDoc)
	if doc.missing {
		return nil, planar.NotFound("read", s.name+"/"+key)
	}
	return doc.data, nil
}

// cachedDoc records a fetched metadata document or its absence.
type cachedDoc struct {
	data    []byte
	missing bool
}

func (s *Store) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.metaDoc(ctx, key)
	if err == nil {
		return true, nil
	}
	if errorIsNotFound(err) {
		return false, nil
	}
	return false, err
}

// IsGroup returns true if the path holds a group.
func (s *Store) IsGroup(ctx context.Context, p string) (bool, error) {
	return s.exists(ctx, join(p, GroupKey))
}

// IsArray returns true if the path holds an array.
func (s *Store) IsArray(ctx context.Context, p string) (bool, error) {
	return s.exists(ctx, join(p, ArrayKey))
}

// Attrs returns the raw .zattrs JSON of a node, or nil if it has none.
func (s *Store) Attrs(ctx context.Context, p string) (json.RawMessage, error) {
	doc, err := s.metaDoc(ctx, join(p, AttrsKey))
	if err != nil {
		if errorIsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return doc, nil
}

// DecodeAttrs unmarshals a node's attributes into v.  It returns false if the node has
// no attributes.
func (s *Store) DecodeAttrs(ctx context.Context, p string, v interface{}) (bool, error) {
	doc, err := s.Attrs(ctx, p)
	if err != nil || doc == nil {
		return false, err
	}
	if err := json.Unmarshal(doc, v); err != nil {
		return false, planar.OpenFailure("attrs", s.name+"/"+p, err)
	}
	return true, nil
}

// ReadFile reads a non-metadata object stored in the hierarchy, e.g. an OME-XML
// document.  Missing objects yield planar.ErrNotFound.
func (s *Store) ReadFile(ctx context.Context, key string) ([]byte, error) {
	return storage.ReadObject(ctx, s.bucket, s.prefix+key)
}

// Array returns the array at the path.
func (s *Store) Array(ctx context.Context, p string) (*Array, error) {
	p = strings.Trim(p, "/")
	s.metaMu.Lock()
	v, found := s.metas.Get("array:" + p)
	s.metaMu.Unlock()
	if found {
		return v.(*Array), nil
	}
	doc, err := s.metaDoc(ctx, join(p, ArrayKey))
	if err != nil {
		return nil, err
	}
	meta, err := ParseArrayMeta(doc)
	if err != nil {
		return nil, planar.OpenFailure("array", s.name+"/"+p, err)
	}
	arr, err := newArray(s, p, meta)
	if err != nil {
		return nil, planar.OpenFailure("array", s.name+"/"+p, err)
	}
	s.metaMu.Lock()
	s.metas.Add("array:"+p, arr)
	s.metaMu.Unlock()
	return arr, nil
}

// Children returns the sorted names of the groups and arrays directly below a group.
func (s *Store) Children(ctx context.Context, p string) ([]string, error) {
	p = strings.Trim(p, "/")
	seen := make(map[string]struct{})
	if s.consolidated != nil {
		base := ""
		if p != "" {
			base = p + "/"
		}
		for key := range s.consolidated {
			if !strings.HasPrefix(key, base) {
				continue
			}
			rest := strings.Split(key[len(base):], "/")
			if len(rest) == 2 && (rest[1] == GroupKey || rest[1] == ArrayKey) {
				seen[rest[0]] = struct{}{}
			}
		}
	} else {
		listPrefix := s.prefix
		if p != "" {
			listPrefix += p + "/"
		}
		iter := s.bucket.List(&blob.ListOptions{Prefix: listPrefix, Delimiter: "/"})
		for {
			obj, err := iter.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, planar.NewError("list", s.name+"/"+p, planar.ErrOpenFailure, err)
			}
			if !obj.IsDir {
				continue
			}
			name := path.Base(strings.TrimSuffix(obj.Key, "/"))
			childPath := join(p, name)
			isGroup, err := s.IsGroup(ctx, childPath)
			if err != nil {
				return nil, err
			}
			isArray := false
			if !isGroup {
				if isArray, err = s.IsArray(ctx, childPath); err != nil {
					return nil, err
				}
			}
			if isGroup || isArray {
				seen[name] = struct{}{}
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func errorIsNotFound(err error) bool {
	return err != nil && isKind(err, planar.ErrNotFound)
}
