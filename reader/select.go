package reader

import (
	"context"
	"fmt"

	"github.com/janelia-flyem/planar/planar"
	"github.com/janelia-flyem/planar/storage"
)

// probe scores a resource with one format, converting a panic into a failed probe.
func probe(ctx context.Context, d Descriptor, res *storage.Resource, allowOpen bool) (p Probe) {
	defer func() {
		if r := recover(); r != nil {
			p = ProbeFailed(fmt.Errorf("panic while scoring: %v", r))
		}
	}()
	return d.Format.Score(ctx, res, allowOpen)
}

// Select returns the enabled format best suited to the resource.  It returns an error
// wrapping planar.ErrUnsupportedFormat if no format can read it.
func Select(ctx context.Context, reg *Registry, res *storage.Resource, allowOpen bool) (*Descriptor, error) {
	var best *Descriptor
	var bestScore Score
	for _, d := range reg.EnabledReaders() {
		d := d
		p := probe(ctx, d, res, allowOpen)
		switch {
		case p.Err != nil:
			planar.Warningf("Reader %q failed to score %q: %v\n", d.ID, res.Ref, p.Err)
			continue
		case p.Score == CannotRead:
			continue
		case !p.Score.Valid():
			planar.Warningf("Reader %q returned invalid score %d for %q, ignoring\n", d.ID, p.Score, res.Ref)
			continue
		case p.Score == Exclusive:
			planar.Debugf("Reader %q claims %q exclusively\n", d.ID, res.Ref)
			return &d, nil
		}
		if best == nil || p.Score < bestScore {
			best = &d
			bestScore = p.Score
		}
	}
	if best == nil {
		return nil, planar.NewError("select", res.Ref, planar.ErrUnsupportedFormat, nil)
	}
	planar.Debugf("Selected reader %q (score %s) for %q\n", best.ID, bestScore, res.Ref)
	return best, nil
}

// Memo remembers the reader chosen for a resource across selections.
type Memo interface {
	Preferred(url string) (id string, found bool, err error)
	Remember(url, id string) error
}

// Selector selects formats from a registry, consulting a Memo first if set.
type Selector struct {
	Registry *Registry
	Memo     Memo
}

// Select returns the remembered format for the resource if it is still enabled,
// otherwise scores the enabled formats and remembers the winner.
func (s *Selector) Select(ctx context.Context, res *storage.Resource, allowOpen bool) (*Descriptor, error) {
	url := res.URL()
	if s.Memo != nil {
		id, found, err := s.Memo.Preferred(url)
		if err != nil {
			planar.Warningf("Unable to look up preferred reader for %q: %v\n", url, err)
		} else if found {
			if d, ok := s.Registry.Get(id); ok && d.Status == Loaded {
				return &d, nil
			}
		}
	}
	d, err := Select(ctx, s.Registry, res, allowOpen)
	if err != nil {
		return nil, err
	}
	if s.Memo != nil {
		if err := s.Memo.Remember(url, d.ID); err != nil {
			planar.Warningf("Unable to remember reader %q for %q: %v\n", d.ID, url, err)
		}
	}
	return d, nil
}
