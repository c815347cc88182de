package reader

import (
	"context"
	"fmt"

	"github.com/blang/semver"

	"github.com/janelia-flyem/planar/ome"
	"github.com/janelia-flyem/planar/planar"
	"github.com/janelia-flyem/planar/storage"
)

// Score is the suitability of a format for a resource.  Lower is better.
type Score int

const (
	CannotRead Score = -1

	// Exclusive ends selection immediately.
	Exclusive Score = 1

	ScoreHigh   Score = 2
	ScoreMedium Score = 3
	ScoreLow    Score = 4
	ScoreLowest Score = 5
)

// Valid returns true if the score lets a format take part in selection.
func (s Score) Valid() bool {
	return s >= Exclusive && s <= ScoreLowest
}

func (s Score) String() string {
	if s == CannotRead {
		return "cannot read"
	}
	return fmt.Sprintf("%d", int(s))
}

// Probe is the outcome of scoring a resource.  A nil Err with Score CannotRead means the
// format definitely does not handle the resource.  A non-nil Err means the probe itself
// failed and says nothing about the resource.
type Probe struct {
	Score Score
	Err   error
}

// Scored returns a successful probe.
func Scored(s Score) Probe {
	return Probe{Score: s}
}

// ProbeFailed returns a failed probe.
func ProbeFailed(err error) Probe {
	return Probe{Score: CannotRead, Err: err}
}

// PlaneRequest addresses one plane of a resource.  Unset channel, z and time indices
// select the whole axis before length-1 axes are squeezed away.
type PlaneRequest struct {
	C, Z, T planar.Index
	Series  int

	// Crop restricts the plane to a rectangle if not nil.
	Crop *planar.Rect

	// Rescale divides integer data by its type maximum, yielding float64 values.
	Rescale bool

	// WantsMax asks for the intensity ceiling of the source type.
	WantsMax bool
}

func (r PlaneRequest) String() string {
	s := fmt.Sprintf("c=%s z=%s t=%s series=%d", r.C, r.Z, r.T, r.Series)
	if r.Crop != nil {
		s += fmt.Sprintf(" crop=%+v", *r.Crop)
	}
	return s
}

// Format is a pluggable image format.
type Format interface {
	// Name is a human-readable name for the format.
	Name() string

	// Version is the version of the format implementation.
	Version() semver.Version

	// Score rates the format's suitability for the resource.  If allowOpen is false the
	// decision must be made from the reference alone without I/O.  Anything opened to
	// decide must be released before returning.
	Score(ctx context.Context, res *storage.Resource, allowOpen bool) Probe

	// Open returns a reader for the resource given by a local path and/or URL.
	Open(ctx context.Context, path, url string) (Reader, error)
}

// Reader is an open handle on one resource.
type Reader interface {
	Read(ctx context.Context, req PlaneRequest) (*planar.Plane, error)
	Close() error
}

// SeriesSize is the extent of one series.
type SeriesSize struct {
	C, Z, T, Y, X int
}

// Dimensions describes every series of a resource.
type Dimensions struct {
	SizeS  int
	Series []SeriesSize
}

// SeriesDimensioner is implemented by readers that can describe their series.
type SeriesDimensioner interface {
	SeriesDimensions(ctx context.Context) (*Dimensions, error)
}

// MetadataReader is implemented by readers exposing OME-XML metadata.
type MetadataReader interface {
	Metadata(ctx context.Context) (*ome.Metadata, error)
}

// TempFiler is implemented by readers holding temporary local copies.  The owner of the
// reader removes the files after closing it.
type TempFiler interface {
	TempFiles() []string
}
