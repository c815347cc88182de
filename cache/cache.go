/*
	Package cache shares open readers between callers.  Readers are keyed by the
	(path, url) pair they were opened with, so at most one native handle is open per
	resource, and are reference counted by caller identity.
*/
package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/DmitriyVTitov/size"
	"github.com/dustin/go-humanize"
	"github.com/twinj/uuid"

	"github.com/janelia-flyem/planar/planar"
	"github.com/janelia-flyem/planar/reader"
	"github.com/janelia-flyem/planar/storage"
)

// Opener opens a reader for a resource.  It is called without the cache lock held.
type Opener func(ctx context.Context, path, url string) (reader.Reader, error)

// Key identifies a resource by the path and url it was opened with.
type Key struct {
	Path string
	URL  string
}

func (k Key) String() string {
	return fmt.Sprintf("(%q, %q)", k.Path, k.URL)
}

// NewIdentity returns a fresh caller identity.
func NewIdentity() string {
	return uuid.NewV4().String()
}

// opening is shared by acquirers waiting on the same open.
type opening struct {
	done chan struct{}
	err  error
}

type entry struct {
	used    bool
	key     Key
	rdr     reader.Reader
	refs    int
	opening *opening

	// closing is non-nil while the reader is being closed.  The key stays reserved
	// until it is closed so a new handle is not opened alongside the old one.
	closing chan struct{}
}

// closing is an evicted reader that must be closed outside the lock.
type closing struct {
	idx  int
	rdr  reader.Reader
	done chan struct{}
}

type binding struct {
	idx   int
	count int
}

// Cache is a reference-counted arena of open readers.  It is safe for concurrent use.
type Cache struct {
	open Opener

	mu         sync.Mutex
	entries    []entry
	free       []int
	byKey      map[Key]int
	byIdentity map[string]*binding
}

// New returns an empty cache using the opener.
func New(open Opener) *Cache {
	return &Cache{
		open:       open,
		byKey:      make(map[Key]int),
		byIdentity: make(map[string]*binding),
	}
}

func (c *Cache) alloc(e entry) int {
	if n := len(c.free); n > 0 {
		idx := c.free[n-1]
		c.free = c.free[:n-1]
		c.entries[idx] = e
		return idx
	}
	c.entries = append(c.entries, e)
	return len(c.entries) - 1
}

// evict drops all references to an entry and marks it closing.  The returned
// reader must be passed to finish outside the lock.  Must be called with the lock held.
func (c *Cache) evict(idx int) *closing {
	for id, b := range c.byIdentity {
		if b.idx == idx {
			delete(c.byIdentity, id)
		}
	}
	e := &c.entries[idx]
	e.refs = 0
	e.closing = make(chan struct{})
	return &closing{idx: idx, rdr: e.rdr, done: e.closing}
}

// finish closes an evicted reader, then frees its slot and key.
func (c *Cache) finish(cl *closing) {
	if cl == nil {
		return
	}
	closeReader(cl.rdr)
	c.mu.Lock()
	delete(c.byKey, c.entries[cl.idx].key)
	c.entries[cl.idx] = entry{}
	c.free = append(c.free, cl.idx)
	c.mu.Unlock()
	close(cl.done)
}

// unbind drops every reference an identity holds and returns a reader to close if
// its count reached zero.  Must be called with the lock held.
func (c *Cache) unbind(identity string, b *binding, all bool) *closing {
	n := 1
	if all {
		n = b.count
	}
	b.count -= n
	if b.count <= 0 {
		delete(c.byIdentity, identity)
	}
	e := &c.entries[b.idx]
	e.refs -= n
	if e.refs <= 0 {
		planar.Debugf("Closing reader for %s\n", e.key)
		return c.evict(b.idx)
	}
	return nil
}

func closeReader(rdr reader.Reader) {
	if rdr == nil {
		return
	}
	if err := rdr.Close(); err != nil {
		planar.Errorf("Error closing reader: %v\n", err)
	}
	if tf, ok := rdr.(reader.TempFiler); ok {
		storage.RemoveTemp(tf.TempFiles()...)
	}
}

// Acquire returns the reader for (path, url) on behalf of identity, opening it if
// no caller has it open.  Each Acquire must be balanced by a Release of the identity.
// If the identity holds a reader for a different resource, those references are
// released first.
func (c *Cache) Acquire(ctx context.Context, identity, path, url string) (reader.Reader, error) {
	key := Key{Path: path, URL: url}
	for {
		c.mu.Lock()
		var toClose *closing
		if b, found := c.byIdentity[identity]; found && c.entries[b.idx].key != key {
			toClose = c.unbind(identity, b, true)
		}
		idx, found := c.byKey[key]
		if !found {
			op := &opening{done: make(chan struct{})}
			idx = c.alloc(entry{used: true, key: key, opening: op})
			c.byKey[key] = idx
			c.mu.Unlock()
			c.finish(toClose)
			return c.openEntry(ctx, identity, idx, key, op)
		}
		e := &c.entries[idx]
		if done := e.closing; done != nil {
			c.mu.Unlock()
			c.finish(toClose)
			select {
			case <-done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		if op := e.opening; op != nil {
			c.mu.Unlock()
			c.finish(toClose)
			select {
			case <-op.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if op.err != nil {
				return nil, op.err
			}
			continue
		}
		e.refs++
		c.bind(identity, idx)
		rdr := e.rdr
		c.mu.Unlock()
		c.finish(toClose)
		return rdr, nil
	}
}

// bind records one more reference by identity.  Must be called with the lock held.
func (c *Cache) bind(identity string, idx int) {
	if b, found := c.byIdentity[identity]; found {
		b.count++
		return
	}
	c.byIdentity[identity] = &binding{idx: idx, count: 1}
}

func (c *Cache) openEntry(ctx context.Context, identity string, idx int, key Key, op *opening) (reader.Reader, error) {
	timedLog := planar.NewTimeLog()
	rdr, err := c.open(ctx, key.Path, key.URL)

	c.mu.Lock()
	defer func() {
		c.mu.Unlock()
		close(op.done)
	}()
	if err != nil {
		op.err = err
		delete(c.byKey, key)
		c.entries[idx] = entry{}
		c.free = append(c.free, idx)
		return nil, err
	}
	e := &c.entries[idx]
	e.rdr = rdr
	e.refs = 1
	e.opening = nil
	c.bind(identity, idx)
	timedLog.Debugf("Opened reader for %s", key)
	return rdr, nil
}

// Release drops one reference held by identity.  The reader is closed and its
// temporary files removed when no references remain.  Unknown identities are ignored.
func (c *Cache) Release(identity string) {
	c.mu.Lock()
	b, found := c.byIdentity[identity]
	if !found {
		c.mu.Unlock()
		return
	}
	toClose := c.unbind(identity, b, false)
	c.mu.Unlock()
	c.finish(toClose)
}

// Clear closes and evicts every open reader regardless of references.  Opens and
// closes in progress are unaffected.
func (c *Cache) Clear() {
	c.mu.Lock()
	var toClose []*closing
	for idx := range c.entries {
		if e := c.entries[idx]; e.used && e.opening == nil && e.closing == nil {
			toClose = append(toClose, c.evict(idx))
		}
	}
	c.mu.Unlock()
	for _, cl := range toClose {
		c.finish(cl)
	}
	if len(toClose) > 0 {
		planar.Infof("Cleared %d cached readers\n", len(toClose))
	}
}

// Len returns the number of open readers, not counting those being closed.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	for _, e := range c.entries {
		if e.used && e.opening == nil && e.closing == nil {
			n++
		}
	}
	return n
}

// Stats summarizes the cache.
type Stats struct {
	Open       int
	Opening    int
	Closing    int
	References int
	Identities int

	// Bytes approximates memory held by open readers.
	Bytes int
}

func (s Stats) String() string {
	return fmt.Sprintf("%d open readers (%d opening, %d closing), %d references by %d identities, ~%s",
		s.Open, s.Opening, s.Closing, s.References, s.Identities, humanize.Bytes(uint64(s.Bytes)))
}

// Stats returns current cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{Identities: len(c.byIdentity)}
	for _, e := range c.entries {
		switch {
		case !e.used:
		case e.opening != nil:
			s.Opening++
		case e.closing != nil:
			s.Closing++
		default:
			s.Open++
			s.References += e.refs
			s.Bytes += size.Of(e.rdr)
		}
	}
	return s
}
