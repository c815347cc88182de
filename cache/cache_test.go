package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/janelia-flyem/planar/planar"
	"github.com/janelia-flyem/planar/reader"
	"github.com/janelia-flyem/planar/storage"
)

type fakeReader struct {
	key    Key
	closed int32
	temps  []string

	closeDelay time.Duration
	onClose    func()
}

func (r *fakeReader) Read(ctx context.Context, req reader.PlaneRequest) (*planar.Plane, error) {
	return &planar.Plane{Image: planar.NewArray(planar.T_uint8, 1, 1)}, nil
}

func (r *fakeReader) Close() error {
	if r.closeDelay > 0 {
		time.Sleep(r.closeDelay)
	}
	if r.onClose != nil {
		r.onClose()
	}
	atomic.AddInt32(&r.closed, 1)
	return nil
}

func (r *fakeReader) TempFiles() []string {
	return r.temps
}

type counter struct {
	mu     sync.Mutex
	opens  map[Key]int
	delay  time.Duration
	fail   bool
	opened []*fakeReader
}

func (c *counter) open(ctx context.Context, path, url string) (reader.Reader, error) {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opens == nil {
		c.opens = make(map[Key]int)
	}
	key := Key{path, url}
	c.opens[key]++
	if c.fail {
		return nil, planar.NotFound("open", path)
	}
	r := &fakeReader{key: key}
	c.opened = append(c.opened, r)
	return r, nil
}

func TestAcquireReleaseBalanced(t *testing.T) {
	var cnt counter
	c := New(cnt.open)
	ctx := context.Background()

	r1, err := c.Acquire(ctx, "id", "/a.zarr", "")
	if err != nil {
		t.Fatal(err)
	}
	r2, err := c.Acquire(ctx, "id", "/a.zarr", "")
	if err != nil {
		t.Fatal(err)
	}
	if r1 != r2 {
		t.Errorf("expected same handle for repeated acquire")
	}
	if s := c.Stats(); s.Open != 1 || s.References != 2 {
		t.Errorf("bad stats after two acquires: %s", s)
	}
	c.Release("id")
	if c.Len() != 1 {
		t.Errorf("reader closed too early")
	}
	c.Release("id")
	if c.Len() != 0 {
		t.Errorf("expected empty cache, got %d", c.Len())
	}
	if closed := atomic.LoadInt32(&r1.(*fakeReader).closed); closed != 1 {
		t.Errorf("expected one close, got %d", closed)
	}
	c.Release("id")
	c.Release("unknown")
}

func TestSharedAcrossIdentities(t *testing.T) {
	var cnt counter
	c := New(cnt.open)
	ctx := context.Background()
	ra, _ := c.Acquire(ctx, "a", "/x", "file:///x")
	rb, _ := c.Acquire(ctx, "b", "/x", "file:///x")
	if ra != rb {
		t.Errorf("expected shared handle")
	}
	if cnt.opens[Key{"/x", "file:///x"}] != 1 {
		t.Errorf("expected a single open, got %d", cnt.opens[Key{"/x", "file:///x"}])
	}
	c.Release("a")
	if c.Len() != 1 {
		t.Errorf("handle closed while b holds it")
	}
	c.Release("b")
	if c.Len() != 0 {
		t.Errorf("expected empty cache")
	}
}

func TestRebindIdentity(t *testing.T) {
	var cnt counter
	c := New(cnt.open)
	ctx := context.Background()
	old, _ := c.Acquire(ctx, "id", "/one", "")
	c.Acquire(ctx, "id", "/one", "")
	if _, err := c.Acquire(ctx, "id", "/two", ""); err != nil {
		t.Fatal(err)
	}
	if closed := atomic.LoadInt32(&old.(*fakeReader).closed); closed != 1 {
		t.Errorf("expected old binding closed, got %d closes", closed)
	}
	if c.Len() != 1 {
		t.Errorf("expected one open reader, got %d", c.Len())
	}
	c.Release("id")
	if c.Len() != 0 {
		t.Errorf("expected empty cache")
	}
}

func TestConcurrentAcquire(t *testing.T) {
	cnt := counter{delay: 10 * time.Millisecond}
	c := New(cnt.open)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// half share one key, half open distinct keys
			path := "/shared"
			if i%2 == 1 {
				path = fmt.Sprintf("/distinct/%d", i)
			}
			id := NewIdentity()
			if _, err := c.Acquire(ctx, id, path, ""); err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			c.Release(id)
		}(i)
	}
	wg.Wait()
	if c.Len() != 0 {
		t.Errorf("expected empty cache, got %d", c.Len())
	}
	for key, n := range cnt.opens {
		if key.Path != "/shared" && n != 1 {
			t.Errorf("key %s opened %d times", key, n)
		}
	}
	for _, r := range cnt.opened {
		if closed := atomic.LoadInt32(&r.closed); closed != 1 {
			t.Errorf("reader %s closed %d times", r.key, closed)
		}
	}
}

func TestSingleOpenWhileOpening(t *testing.T) {
	cnt := counter{delay: 20 * time.Millisecond}
	c := New(cnt.open)
	ctx := context.Background()
	var wg sync.WaitGroup
	readers := make([]reader.Reader, 8)
	for i := range readers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := c.Acquire(ctx, fmt.Sprintf("id%d", i), "/slow", "")
			if err != nil {
				t.Errorf("acquire failed: %v", err)
			}
			readers[i] = r
		}(i)
	}
	wg.Wait()
	if n := cnt.opens[Key{"/slow", ""}]; n != 1 {
		t.Errorf("expected one open of a key being opened concurrently, got %d", n)
	}
	for _, r := range readers[1:] {
		if r != readers[0] {
			t.Errorf("expected shared reader")
		}
	}
	if s := c.Stats(); s.References != 8 || s.Identities != 8 {
		t.Errorf("bad stats %s", s)
	}
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("expected clear to evict everything")
	}
	if atomic.LoadInt32(&cnt.opened[0].closed) != 1 {
		t.Errorf("expected clear to close reader")
	}
}

func TestOpenFailure(t *testing.T) {
	cnt := counter{fail: true}
	c := New(cnt.open)
	_, err := c.Acquire(context.Background(), "id", "/missing", "")
	if !errors.Is(err, planar.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if c.Len() != 0 || c.Stats().Identities != 0 {
		t.Errorf("failed open left state behind: %s", c.Stats())
	}
}

func TestReleaseRemovesTempFiles(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), storage.TempPrefix+"*.png")
	if err != nil {
		t.Fatal(err)
	}
	tmp.Close()
	c := New(func(ctx context.Context, path, url string) (reader.Reader, error) {
		return &fakeReader{temps: []string{tmp.Name()}}, nil
	})
	ctx := context.Background()
	c.Acquire(ctx, "id", "", "https://host/x.png")
	if _, err := os.Stat(tmp.Name()); err != nil {
		t.Fatalf("temp file removed too early: %v", err)
	}
	c.Release("id")
	if _, err := os.Stat(tmp.Name()); !os.IsNotExist(err) {
		t.Errorf("expected temp file %s removed", filepath.Base(tmp.Name()))
	}
}

func TestNoReopenWhileClosing(t *testing.T) {
	var mu sync.Mutex
	var live, peak, opens int
	c := New(func(ctx context.Context, path, url string) (reader.Reader, error) {
		mu.Lock()
		defer mu.Unlock()
		opens++
		live++
		if live > peak {
			peak = live
		}
		return &fakeReader{
			key:        Key{path, url},
			closeDelay: 50 * time.Millisecond,
			onClose: func() {
				mu.Lock()
				live--
				mu.Unlock()
			},
		}, nil
	})
	ctx := context.Background()
	if _, err := c.Acquire(ctx, "a", "/slow.zarr", ""); err != nil {
		t.Fatal(err)
	}
	released := make(chan struct{})
	go func() {
		c.Release("a")
		close(released)
	}()
	time.Sleep(10 * time.Millisecond)
	if s := c.Stats(); s.Closing != 1 || c.Len() != 0 {
		t.Errorf("expected reader being closed, got %s", s)
	}
	if _, err := c.Acquire(ctx, "b", "/slow.zarr", ""); err != nil {
		t.Fatal(err)
	}
	<-released

	mu.Lock()
	if peak != 1 || opens != 2 {
		t.Errorf("expected one live handle at a time over two opens, got peak %d, %d opens", peak, opens)
	}
	mu.Unlock()
	if c.Len() != 1 {
		t.Errorf("expected reopened reader cached, got %d", c.Len())
	}
	c.Release("b")
	if c.Len() != 0 || c.Stats().Closing != 0 {
		t.Errorf("expected empty cache, got %s", c.Stats())
	}
}

func TestAcquireCancelledWhileClosing(t *testing.T) {
	c := New(func(ctx context.Context, path, url string) (reader.Reader, error) {
		return &fakeReader{closeDelay: 50 * time.Millisecond}, nil
	})
	if _, err := c.Acquire(context.Background(), "a", "/slow.zarr", ""); err != nil {
		t.Fatal(err)
	}
	go c.Release("a")
	time.Sleep(10 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, err := c.Acquire(ctx, "b", "/slow.zarr", ""); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded while waiting on close, got %v", err)
	}
}
