package reader

import (
	"fmt"
	"sync"

	"github.com/blang/semver"

	"github.com/janelia-flyem/planar/planar"
)

// Status is the load state of a registered format.
type Status uint8

const (
	Loaded Status = iota
	Failed
	Disabled
)

func (s Status) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	case Disabled:
		return "disabled"
	}
	return fmt.Sprintf("unknown status %d", s)
}

// Descriptor describes a registered format.
type Descriptor struct {
	ID      string
	Name    string
	Version semver.Version
	Format  Format
	Status  Status

	// Reason records why a format failed to load.
	Reason string
}

func (d Descriptor) String() string {
	s := fmt.Sprintf("%s [%s %s] %s", d.ID, d.Name, d.Version, d.Status)
	if d.Status == Failed {
		s += ": " + d.Reason
	}
	return s
}

// Registry holds the formats available to a process in registration order.  It is safe
// for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	order []string
	descs map[string]*Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{descs: make(map[string]*Descriptor)}
}

// Register adds a format under the id.  Re-registering an id replaces its format but
// keeps its position and any user disable.
func (r *Registry) Register(id string, f Format) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := &Descriptor{
		ID:      id,
		Name:    f.Name(),
		Version: f.Version(),
		Format:  f,
		Status:  Loaded,
	}
	old, found := r.descs[id]
	if !found {
		r.order = append(r.order, id)
	} else {
		planar.Warningf("Multiple definitions of reader %q: %s %s replaced by %s %s\n",
			id, old.Name, old.Version, d.Name, d.Version)
		if old.Status == Disabled {
			d.Status = Disabled
		}
	}
	r.descs[id] = d
	planar.Debugf("Registered reader %s\n", d)
}

// MarkFailed records that the format with the id could not be loaded.  Failed formats
// never take part in selection.
func (r *Registry) MarkFailed(id string, reason error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, found := r.descs[id]
	if !found {
		d = &Descriptor{ID: id, Name: id}
		r.descs[id] = d
		r.order = append(r.order, id)
	}
	d.Status = Failed
	d.Format = nil
	d.Reason = fmt.Sprintf("%v", reason)
	planar.Errorf("Reader %q failed to load: %v\n", id, reason)
}

// SetEnabled enables or disables a loaded format without unregistering it.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, found := r.descs[id]
	if !found {
		return planar.NotFound("set reader", id)
	}
	if d.Status == Failed {
		return planar.NewError("set reader", id, planar.ErrOpenFailure, fmt.Errorf("failed to load: %s", d.Reason))
	}
	if enabled {
		d.Status = Loaded
	} else {
		d.Status = Disabled
	}
	return nil
}

// Get returns the descriptor registered under the id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, found := r.descs[id]
	if !found {
		return Descriptor{}, false
	}
	return *d, true
}

func (r *Registry) filter(keep func(*Descriptor) bool) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Descriptor
	for _, id := range r.order {
		if d := r.descs[id]; keep(d) {
			out = append(out, *d)
		}
	}
	return out
}

// EnabledReaders returns loaded, enabled formats in registration order.
func (r *Registry) EnabledReaders() []Descriptor {
	return r.filter(func(d *Descriptor) bool { return d.Status == Loaded })
}

// Descriptors returns every registered descriptor in registration order.
func (r *Registry) Descriptors() []Descriptor {
	return r.filter(func(*Descriptor) bool { return true })
}

// Failed returns the descriptors of formats that failed to load.
func (r *Registry) Failed() []Descriptor {
	return r.filter(func(d *Descriptor) bool { return d.Status == Failed })
}

// Len returns the number of registered ids, including failed ones.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
