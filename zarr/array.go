package zarr

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/planar/planar"
)

// Array is an opened Zarr array.  Reads are safe for concurrent use.
type Array struct {
	store     *Store
	path      string
	meta      *ArrayMeta
	dtype     planar.DataType
	bigEndian bool
	codec     Codec
	fill      float64
}

func newArray(s *Store, p string, meta *ArrayMeta) (*Array, error) {
	dtype, bigEndian, err := ParseDType(meta.DType)
	if err != nil {
		return nil, err
	}
	codec, err := NewCodec(meta.Compressor)
	if err != nil {
		return nil, err
	}
	fill, err := meta.Fill()
	if err != nil {
		return nil, err
	}
	return &Array{
		store:     s,
		path:      p,
		meta:      meta,
		dtype:     dtype,
		bigEndian: bigEndian,
		codec:     codec,
		fill:      fill,
	}, nil
}

// Path returns the store-relative path of the array.
func (a *Array) Path() string {
	return a.path
}

// Shape returns the array shape.
func (a *Array) Shape() []int {
	shape := make([]int, len(a.meta.Shape))
	copy(shape, a.meta.Shape)
	return shape
}

// Chunks returns the chunk shape.
func (a *Array) Chunks() []int {
	chunks := make([]int, len(a.meta.Chunks))
	copy(chunks, a.meta.Chunks)
	return chunks
}

// DataType returns the element type.
func (a *Array) DataType() planar.DataType {
	return a.dtype
}

// Meta returns the parsed .zarray document.
func (a *Array) Meta() *ArrayMeta {
	return a.meta
}

func (a *Array) String() string {
	return fmt.Sprintf("%s/%s (%s %v)", a.store.name, a.path, a.dtype, a.meta.Shape)
}

// ReadAll reads the whole array.
func (a *Array) ReadAll(ctx context.Context) (*planar.Array, error) {
	start := make([]int, len(a.meta.Shape))
	return a.Read(ctx, start, a.Shape())
}

// Read returns the half-open region [start, stop) of the array.
func (a *Array) Read(ctx context.Context, start, stop []int) (*planar.Array, error) {
	ndim := len(a.meta.Shape)
	if len(start) != ndim || len(stop) != ndim {
		return nil, fmt.Errorf("region %v-%v does not match %d-d array %s", start, stop, ndim, a)
	}
	outShape := make([]int, ndim)
	for i := range start {
		if start[i] < 0 || stop[i] > a.meta.Shape[i] || start[i] > stop[i] {
			return nil, planar.OutOfBounds("region %v-%v outside array %s", start, stop, a)
		}
		outShape[i] = stop[i] - start[i]
	}
	out := planar.NewArray(a.dtype, outShape...)
	if out.Len() == 0 {
		return out, nil
	}
	if a.fill != 0 {
		for i := 0; i < out.Len(); i++ {
			out.SetValue(i, a.fill)
		}
	}

	// enumerate chunk grid positions intersecting the region
	lo := make([]int, ndim)
	hi := make([]int, ndim)
	for i := 0; i < ndim; i++ {
		lo[i] = start[i] / a.meta.Chunks[i]
		hi[i] = (stop[i] - 1) / a.meta.Chunks[i]
	}
	var positions [][]int
	forEachIndex(lo, hi, func(idx []int) {
		pos := make([]int, len(idx))
		copy(pos, idx)
		positions = append(positions, pos)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.store.opts.Concurrency)
	for _, pos := range positions {
		pos := pos
		g.Go(func() error {
			chunk, err := a.chunk(gctx, pos)
			if err != nil || chunk == nil {
				return err
			}
			a.copyChunk(out, start, stop, pos, chunk)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// chunk returns the decoded little-endian bytes of a chunk or nil if the chunk is
// absent and the fill value applies.
func (a *Array) chunk(ctx context.Context, pos []int) ([]byte, error) {
	key := join(a.path, a.meta.chunkKey(pos))
	cacheKey := a.store.name + "/" + key
	size := a.dtype.Bytes()
	for _, c := range a.meta.Chunks {
		size *= c
	}
	if data, found := a.store.opts.Chunks.Get(cacheKey); found {
		return data, nil
	}
	raw, err := a.store.ReadFile(ctx, key)
	if err != nil {
		if errorIsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	data, err := a.codec.Decode(raw, size)
	if err != nil {
		return nil, planar.OpenFailure("decode", a.store.name+"/"+key, err)
	}
	if len(data) != size {
		return nil, planar.OpenFailure("decode", a.store.name+"/"+key,
			fmt.Errorf("chunk has %d bytes, expected %d", len(data), size))
	}
	if a.bigEndian {
		swapBytes(data, a.dtype.Bytes())
	}
	a.store.opts.Chunks.Set(cacheKey, data)
	return data, nil
}

// copyChunk copies the part of a chunk lying within [start, stop) into out.
func (a *Array) copyChunk(out *planar.Array, start, stop, pos []int, chunk []byte) {
	ndim := len(pos)
	if ndim == 0 {
		copy(out.Data, chunk)
		return
	}
	esize := a.dtype.Bytes()
	chunkShape := a.meta.Chunks
	lo := make([]int, ndim)
	hi := make([]int, ndim)
	for i := 0; i < ndim; i++ {
		origin := pos[i] * chunkShape[i]
		lo[i] = imax(start[i], origin)
		hi[i] = imin(stop[i], origin+chunkShape[i]) - 1
	}
	chunkStrides := stridesOf(chunkShape)
	outStrides := out.Strides()
	run := (hi[ndim-1] - lo[ndim-1] + 1) * esize

	// iterate over all but the last axis and copy contiguous runs
	rowHi := make([]int, ndim)
	copy(rowHi, hi)
	rowHi[ndim-1] = lo[ndim-1]
	forEachIndex(lo, rowHi, func(idx []int) {
		var src, dst int
		for i, n := range idx {
			src += (n - pos[i]*chunkShape[i]) * chunkStrides[i]
			dst += (n - start[i]) * outStrides[i]
		}
		copy(out.Data[dst*esize:dst*esize+run], chunk[src*esize:src*esize+run])
	})
}

// forEachIndex calls fn with every index vector in the inclusive box [lo, hi] in
// C order.  The slice passed to fn is reused.
func forEachIndex(lo, hi []int, fn func([]int)) {
	n := len(lo)
	if n == 0 {
		fn(nil)
		return
	}
	idx := make([]int, n)
	copy(idx, lo)
	for {
		fn(idx)
		d := n - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] <= hi[d] {
				break
			}
			idx[d] = lo[d]
		}
		if d < 0 {
			return
		}
	}
}

func stridesOf(shape []int) []int {
	strides := make([]int, len(shape))
	s := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = s
		s *= shape[i]
	}
	return strides
}

func imin(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func imax(a, b int) int {
	if a > b {
		return a
	}
	return b
}
