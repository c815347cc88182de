package omezarr

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"gocloud.dev/blob"

	"github.com/janelia-flyem/planar/ome"
	"github.com/janelia-flyem/planar/planar"
	"github.com/janelia-flyem/planar/reader"
	"github.com/janelia-flyem/planar/zarr"
)

type state int32

const (
	stateOpening state = iota
	stateReady
	stateClosed
)

// Reader is an open Zarr store.  Reads are safe for concurrent use.
type Reader struct {
	store *zarr.Store
	name  string
	temps []string
	state int32

	// plate mode
	plate  *ome.PlateLayout
	wells  map[ome.WellKey]string
	fields []ome.FieldRef

	// flat mode
	arrays []string
}

func isNotFound(err error) bool {
	return errors.Is(err, planar.ErrNotFound)
}

func newReader(ctx context.Context, bucket *blob.Bucket, prefix, name string, opts zarr.Options) (*Reader, error) {
	timedLog := planar.NewTimeLog()
	store, err := zarr.Open(ctx, bucket, prefix, name, opts)
	if err != nil {
		return nil, err
	}
	r := &Reader{store: store, name: name, state: int32(stateOpening)}
	if err := r.discover(ctx); err != nil {
		return nil, err
	}
	atomic.StoreInt32(&r.state, int32(stateReady))
	if r.plate != nil {
		timedLog.Infof("Opened plate %q: %d wells, %d fields", name, len(r.wells), len(r.fields))
	} else {
		timedLog.Infof("Opened Zarr %q: %d series", name, len(r.arrays))
	}
	return r, nil
}

// discover builds the well map and series list.
func (r *Reader) discover(ctx context.Context) error {
	attrs, err := r.store.Attrs(ctx, "")
	if err != nil {
		return err
	}
	plate, err := ome.ParsePlate(attrs)
	if err != nil {
		return planar.OpenFailure("open", r.name, err)
	}
	if plate != nil {
		if v, err := plate.SemVer(); err == nil {
			planar.Debugf("Plate %q uses NGFF %s\n", r.name, v)
		}
		wells, err := plate.WellMap()
		if err != nil {
			return err
		}
		meta, err := ome.Load(ctx, r.store)
		if err != nil {
			return err
		}
		fields, err := ome.PlateSeries([]byte(meta.XML), plate)
		if err != nil {
			return planar.OpenFailure("open", r.name, err)
		}
		r.plate, r.wells, r.fields = plate, wells, fields
		return nil
	}
	arrays, err := r.store.FirstArrays(ctx)
	if err != nil {
		return err
	}
	r.arrays = arrays
	return nil
}

// NumSeries returns the number of series in the store.
func (r *Reader) NumSeries() int {
	if r.plate != nil {
		return len(r.fields)
	}
	return len(r.arrays)
}

// IsPlate returns true if the store is an HCS plate.
func (r *Reader) IsPlate() bool {
	return r.plate != nil
}

// WellMap returns the well coordinates and group paths of a plate store.
func (r *Reader) WellMap() map[ome.WellKey]string {
	return r.wells
}

// arrayPath resolves a series to the store path of its full-resolution array.
func (r *Reader) arrayPath(ctx context.Context, series int) (string, error) {
	if series < 0 || series >= r.NumSeries() {
		return "", planar.OutOfBounds("series %d requested but %q has %d series", series, r.name, r.NumSeries())
	}
	if r.plate == nil {
		return r.arrays[series], nil
	}
	field := r.fields[series]
	wellPath, found := r.wells[field.Well]
	if !found {
		return "", planar.NotFound("read", fmt.Sprintf("%s well %s", r.name, field.Well))
	}
	var wattrs ome.WellAttrs
	if _, err := r.store.DecodeAttrs(ctx, wellPath, &wattrs); err != nil {
		return "", err
	}
	if wattrs.Well == nil || field.Field < 0 || field.Field >= len(wattrs.Well.Images) {
		return "", planar.OutOfBounds("%s has no field %d", wellPath, field.Field)
	}
	imagePath := wellPath + "/" + wattrs.Well.Images[field.Field].Path

	// resolution 0
	var iattrs ome.ImageAttrs
	if _, err := r.store.DecodeAttrs(ctx, imagePath, &iattrs); err != nil {
		return "", err
	}
	level := "0"
	if len(iattrs.Multiscales) > 0 && len(iattrs.Multiscales[0].Datasets) > 0 {
		level = iattrs.Multiscales[0].Datasets[0].Path
	}
	return imagePath + "/" + level, nil
}

func (r *Reader) ready() error {
	if state(atomic.LoadInt32(&r.state)) != stateReady {
		return planar.OpenFailure("read", r.name, fmt.Errorf("reader is closed"))
	}
	return nil
}

// Read returns one plane.  The array is addressed as TCZYX; arrays with fewer axes
// are treated as having leading axes of length 1.
func (r *Reader) Read(ctx context.Context, req reader.PlaneRequest) (*planar.Plane, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	p, err := r.arrayPath(ctx, req.Series)
	if err != nil {
		return nil, err
	}
	arr, err := r.store.Array(ctx, p)
	if err != nil {
		return nil, err
	}
	shape := arr.Shape()
	if len(shape) > 5 {
		return nil, planar.OpenFailure("read", r.name+"/"+p, fmt.Errorf("array has %d axes, expected at most 5", len(shape)))
	}
	full := ome.TCZYX(shape)
	start := make([]int, 5)
	stop := make([]int, 5)
	for i, idx := range []planar.Index{req.T, req.C, req.Z} {
		if start[i], stop[i], err = idx.Range(full[i]); err != nil {
			return nil, fmt.Errorf("%s axis of %s: %w", "TCZ"[i:i+1], r.name, err)
		}
	}
	if req.Crop != nil {
		x0, x1, y0, y1, err := req.Crop.Bounds(full[4], full[3])
		if err != nil {
			return nil, err
		}
		start[3], stop[3], start[4], stop[4] = y0, y1, x0, x1
	} else {
		stop[3], stop[4] = full[3], full[4]
	}

	pad := 5 - len(shape)
	data, err := arr.Read(ctx, start[pad:], stop[pad:])
	if err != nil {
		return nil, err
	}
	region := make([]int, 5)
	for i := range region {
		region[i] = stop[i] - start[i]
	}
	img := (&planar.Array{Shape: region, DType: data.DType, Data: data.Data}).Squeeze()
	if (img.NDim() > 2 && req.Z.Set) || img.NDim() > 3 {
		img = img.MoveAxis(0, -1)
	}
	plane := &planar.Plane{Image: img}
	if req.Rescale {
		divisor, ok := arr.DataType().IntMax()
		if !ok {
			divisor = 1
		}
		plane.Image = img.Scaled(divisor)
	}
	if req.WantsMax {
		plane.MaxIntensity = arr.DataType().MaxIntensity()
	}
	return plane, nil
}

// SeriesDimensions returns the extent of every series.
func (r *Reader) SeriesDimensions(ctx context.Context) (*reader.Dimensions, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	dims := &reader.Dimensions{SizeS: r.NumSeries()}
	for s := 0; s < dims.SizeS; s++ {
		p, err := r.arrayPath(ctx, s)
		if err != nil {
			return nil, err
		}
		arr, err := r.store.Array(ctx, p)
		if err != nil {
			return nil, err
		}
		shape := ome.TCZYX(arr.Shape())
		if len(shape) != 5 {
			return nil, planar.OpenFailure("dimensions", r.name+"/"+p, fmt.Errorf("array has %d axes", len(shape)))
		}
		dims.Series = append(dims.Series, reader.SeriesSize{
			T: shape[0], C: shape[1], Z: shape[2], Y: shape[3], X: shape[4],
		})
	}
	return dims, nil
}

// Metadata returns the store's OME-XML document, synthesized if the store has none.
func (r *Reader) Metadata(ctx context.Context) (*ome.Metadata, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	return ome.Load(ctx, r.store)
}

// TempFiles returns local copies made when opening a remote store.
func (r *Reader) TempFiles() []string {
	return r.temps
}

// Close marks the reader closed and releases its bucket.  Temporary copies belong
// to the reader's owner.  Closing twice is a no-op.
func (r *Reader) Close() error {
	if state(atomic.SwapInt32(&r.state, int32(stateClosed))) == stateClosed {
		return nil
	}
	return r.store.Close()
}
