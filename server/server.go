package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	"github.com/janelia-flyem/planar/cache"
	"github.com/janelia-flyem/planar/format"
	"github.com/janelia-flyem/planar/memo"
	"github.com/janelia-flyem/planar/ome"
	"github.com/janelia-flyem/planar/planar"
	"github.com/janelia-flyem/planar/reader"
	"github.com/janelia-flyem/planar/storage"
)

// Service ties the reader registry, selection, the reader cache and the memo together.
type Service struct {
	Config   *Config
	Registry *reader.Registry
	Selector *reader.Selector
	Cache    *cache.Cache
	Activity *ActivityLog

	memo *memo.Store

	// pins keep one reference per recently used resource so handles outlive
	// single requests.  Identities evicted from pins are released after unlocking.
	pinMu    sync.Mutex
	pins     *lru.Cache
	unpinned []string
}

// New builds a service from the configuration.
func New(c *Config) (*Service, error) {
	fc, err := c.Formats()
	if err != nil {
		return nil, err
	}
	reg := reader.NewRegistry()
	format.RegisterBuiltins(reg, fc)

	s := &Service{
		Config:   c,
		Registry: reg,
		Selector: &reader.Selector{Registry: reg},
	}
	s.resetPins()
	if !c.Memo.Disable {
		if s.memo, err = memo.Open(c.Memo.Path); err != nil {
			return nil, err
		}
		s.Selector.Memo = s.memo
	}
	if s.Activity, err = NewActivityLog(c.Kafka, c.WebServer()); err != nil {
		s.memo.Close()
		return nil, fmt.Errorf("unable to start kafka activity log: %v", err)
	}
	s.Cache = cache.New(s.open)
	return s, nil
}

// open selects a reader for the resource and opens it.
func (s *Service) open(ctx context.Context, path, url string) (reader.Reader, error) {
	ref := url
	if ref == "" {
		ref = path
	}
	res, err := storage.ParseResource(ref)
	if err != nil {
		return nil, planar.OpenFailure("open", ref, err)
	}
	d, err := s.Selector.Select(ctx, res, s.Config.Readers.AllowOpen)
	if err != nil {
		return nil, err
	}
	planar.Debugf("Opening %q with reader %s\n", ref, d)
	return d.Format.Open(ctx, path, url)
}

// resetPins drops all pins without releasing them.
func (s *Service) resetPins() {
	s.pinMu.Lock()
	defer s.pinMu.Unlock()
	s.pins = lru.New(max(s.Config.Cache.MaxPinned, 0))
	s.pins.OnEvicted = func(key lru.Key, value interface{}) {
		planar.Debugf("Unpinning reader for %s\n", key)
		s.unpinned = append(s.unpinned, value.(string))
	}
	s.unpinned = nil
}

// pin holds a reference to the resource's reader on behalf of the service,
// releasing the least recently used pin if there are too many.
func (s *Service) pin(ctx context.Context, key cache.Key) error {
	s.pinMu.Lock()
	_, found := s.pins.Get(key)
	s.pinMu.Unlock()
	if found {
		return nil
	}
	identity := cache.NewIdentity()
	if _, err := s.Cache.Acquire(ctx, identity, key.Path, key.URL); err != nil {
		return err
	}
	s.pinMu.Lock()
	if _, found := s.pins.Get(key); found {
		s.pinMu.Unlock()
		s.Cache.Release(identity)
		return nil
	}
	s.pins.Add(key, identity)
	unpinned := s.unpinned
	s.unpinned = nil
	s.pinMu.Unlock()
	for _, id := range unpinned {
		s.Cache.Release(id)
	}
	return nil
}

// Pinned returns the number of readers held open between requests.
func (s *Service) Pinned() int {
	s.pinMu.Lock()
	defer s.pinMu.Unlock()
	return s.pins.Len()
}

// withReader runs fn with the reader for the resource held on behalf of the request.
func (s *Service) withReader(ctx context.Context, path, url string, fn func(reader.Reader) error) error {
	key := cache.Key{Path: path, URL: url}
	if err := s.pin(ctx, key); err != nil {
		return err
	}
	identity := cache.NewIdentity()
	rdr, err := s.Cache.Acquire(ctx, identity, path, url)
	if err != nil {
		return err
	}
	defer s.Cache.Release(identity)
	return fn(rdr)
}

// ReadPlane reads one plane of the resource.
func (s *Service) ReadPlane(ctx context.Context, path, url string, req reader.PlaneRequest) (plane *planar.Plane, err error) {
	err = s.withReader(ctx, path, url, func(rdr reader.Reader) error {
		plane, err = rdr.Read(ctx, req)
		return err
	})
	return
}

// Dimensions describes the series of the resource.
func (s *Service) Dimensions(ctx context.Context, path, url string) (dims *reader.Dimensions, err error) {
	err = s.withReader(ctx, path, url, func(rdr reader.Reader) error {
		sd, ok := rdr.(reader.SeriesDimensioner)
		if !ok {
			return planar.NewError("dimensions", url, planar.ErrUnsupportedFormat, fmt.Errorf("reader cannot describe series"))
		}
		dims, err = sd.SeriesDimensions(ctx)
		return err
	})
	return
}

// Metadata returns the OME-XML metadata of the resource.
func (s *Service) Metadata(ctx context.Context, path, url string) (md *ome.Metadata, err error) {
	err = s.withReader(ctx, path, url, func(rdr reader.Reader) error {
		mr, ok := rdr.(reader.MetadataReader)
		if !ok {
			return planar.NewError("metadata", url, planar.ErrUnsupportedFormat, fmt.Errorf("reader has no OME metadata"))
		}
		md, err = mr.Metadata(ctx)
		return err
	})
	return
}

// SetReaderEnabled enables or disables a reader and forgets memo entries naming a
// disabled reader.
func (s *Service) SetReaderEnabled(id string, enabled bool) error {
	if err := s.Registry.SetEnabled(id, enabled); err != nil {
		return err
	}
	if !enabled && s.memo != nil {
		n, err := s.memo.ForgetReader(id)
		if err != nil {
			planar.Errorf("Unable to forget memo entries for reader %q: %v\n", id, err)
		} else if n > 0 {
			planar.Infof("Forgot %d preferred-reader entries for disabled reader %q\n", n, id)
		}
	}
	return nil
}

// ClearReaders closes every cached reader.
func (s *Service) ClearReaders() {
	s.resetPins()
	s.Cache.Clear()
}

// Close releases all readers and stops the memo and activity log.
func (s *Service) Close() {
	s.ClearReaders()
	s.Activity.Close()
	if err := s.memo.Close(); err != nil {
		planar.Errorf("Error closing memo: %v\n", err)
	}
}

// Serve listens for HTTP requests until the context is cancelled, then waits up to
// the configured shutdown delay for requests to finish.
func (s *Service) Serve(ctx context.Context) error {
	addr := s.Config.Server.HTTPAddress
	if addr == "" {
		addr = DefaultWebAddress
	}
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 1 * time.Hour,
	}
	errCh := make(chan error, 1)
	go func() {
		planar.Infof("Web server listening at %s ...\n", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	delay := time.Duration(s.Config.Server.ShutdownDelay) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), delay)
	defer cancel()
	planar.Infof("Shutting down web server, waiting up to %s\n", delay)
	return srv.Shutdown(shutdownCtx)
}
