package zarr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"gocloud.dev/blob"

	"github.com/janelia-flyem/planar/planar"
)

// WriteGroup writes a group node at the path, with attributes if attrs is not nil.
func WriteGroup(ctx context.Context, bucket *blob.Bucket, prefix, p string, attrs interface{}) error {
	if err := writeJSON(ctx, bucket, prefix+join(p, GroupKey), GroupMeta{ZarrFormat: 2}); err != nil {
		return err
	}
	if attrs == nil {
		return nil
	}
	return writeJSON(ctx, bucket, prefix+join(p, AttrsKey), attrs)
}

// WriteArray writes an in-memory array as a Zarr array at the path with the given chunk
// shape.  The compressor may be nil or one of zlib, gzip and zstd.
func WriteArray(ctx context.Context, bucket *blob.Bucket, prefix, p string, arr *planar.Array,
	chunks []int, compressor *CompressorConfig, attrs interface{}) error {

	if len(chunks) != arr.NDim() {
		return fmt.Errorf("chunk shape %v does not match %s", chunks, arr)
	}
	codec, err := NewCodec(compressor)
	if err != nil {
		return err
	}
	enc, ok := codec.(Encoder)
	if !ok {
		return fmt.Errorf("compressor %q cannot encode", compressor.ID)
	}
	meta := &ArrayMeta{
		ZarrFormat:         2,
		Shape:              arr.Shape,
		Chunks:             chunks,
		DType:              DTypeString(arr.DType),
		Compressor:         compressor,
		FillValue:          json.RawMessage("0"),
		Order:              "C",
		DimensionSeparator: ".",
	}
	if err := writeJSON(ctx, bucket, prefix+join(p, ArrayKey), meta); err != nil {
		return err
	}
	if attrs != nil {
		if err := writeJSON(ctx, bucket, prefix+join(p, AttrsKey), attrs); err != nil {
			return err
		}
	}
	if arr.Len() == 0 {
		return nil
	}
	ndim := arr.NDim()
	esize := arr.DType.Bytes()
	chunkLen := 1
	for _, c := range chunks {
		chunkLen *= c
	}
	grid := meta.gridShape()
	hiGrid := make([]int, ndim)
	for i := range grid {
		hiGrid[i] = grid[i] - 1
	}
	var werr error
	forEachIndex(make([]int, ndim), hiGrid, func(pos []int) {
		if werr != nil {
			return
		}
		chunk := make([]byte, chunkLen*esize)
		extractChunk(chunk, arr, pos, chunks)
		data, err := enc.Encode(chunk)
		if err != nil {
			werr = err
			return
		}
		werr = bucket.WriteAll(ctx, prefix+join(p, meta.chunkKey(pos)), data, nil)
	})
	return werr
}

// extractChunk copies the part of arr covered by the chunk at grid position pos.
func extractChunk(chunk []byte, arr *planar.Array, pos, chunks []int) {
	ndim := len(pos)
	if ndim == 0 {
		copy(chunk, arr.Data)
		return
	}
	esize := arr.DType.Bytes()
	lo := make([]int, ndim)
	hi := make([]int, ndim)
	for i := range pos {
		lo[i] = pos[i] * chunks[i]
		hi[i] = imin(lo[i]+chunks[i], arr.Shape[i]) - 1
	}
	run := (hi[ndim-1] - lo[ndim-1] + 1) * esize
	rowHi := make([]int, ndim)
	copy(rowHi, hi)
	rowHi[ndim-1] = lo[ndim-1]
	chunkStrides := stridesOf(chunks)
	arrStrides := arr.Strides()
	forEachIndex(lo, rowHi, func(idx []int) {
		var src, dst int
		for i, n := range idx {
			src += n * arrStrides[i]
			dst += (n - lo[i]) * chunkStrides[i]
		}
		copy(chunk[dst*esize:dst*esize+run], arr.Data[src*esize:src*esize+run])
	})
}

// Consolidate gathers every metadata document under the prefix into a .zmetadata object.
func Consolidate(ctx context.Context, bucket *blob.Bucket, prefix string) error {
	docs := make(map[string]json.RawMessage)
	iter := bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		switch path.Base(obj.Key) {
		case ArrayKey, GroupKey, AttrsKey:
		default:
			continue
		}
		data, err := bucket.ReadAll(ctx, obj.Key)
		if err != nil {
			return err
		}
		docs[strings.TrimPrefix(obj.Key, prefix)] = data
	}
	return writeJSON(ctx, bucket, prefix+ConsolidatedKey, consolidated{Metadata: docs, Format: 1})
}

func writeJSON(ctx context.Context, bucket *blob.Bucket, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return bucket.WriteAll(ctx, key, data, nil)
}
