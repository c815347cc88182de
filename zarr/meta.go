package zarr

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/janelia-flyem/planar/planar"
)

// Metadata keys within a store.
const (
	ArrayKey        = ".zarray"
	GroupKey        = ".zgroup"
	AttrsKey        = ".zattrs"
	ConsolidatedKey = ".zmetadata"
)

// CompressorConfig is a numcodecs compressor description.  Besides "id" the
// remaining fields depend on the codec.
type CompressorConfig struct {
	ID        string `json:"id"`
	Level     int    `json:"level,omitempty"`
	CName     string `json:"cname,omitempty"`
	CLevel    int    `json:"clevel,omitempty"`
	Shuffle   int    `json:"shuffle,omitempty"`
	BlockSize int    `json:"blocksize,omitempty"`
}

// ArrayMeta is the .zarray document of a Zarr v2 array.
type ArrayMeta struct {
	ZarrFormat         int               `json:"zarr_format"`
	Shape              []int             `json:"shape"`
	Chunks             []int             `json:"chunks"`
	DType              string            `json:"dtype"`
	Compressor         *CompressorConfig `json:"compressor"`
	FillValue          json.RawMessage   `json:"fill_value"`
	Order              string            `json:"order"`
	Filters            []json.RawMessage `json:"filters"`
	DimensionSeparator string            `json:"dimension_separator,omitempty"`
}

// ParseArrayMeta parses and validates a .zarray document.
func ParseArrayMeta(data []byte) (*ArrayMeta, error) {
	var meta ArrayMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("bad array metadata: %v", err)
	}
	if meta.ZarrFormat != 2 {
		return nil, fmt.Errorf("unsupported zarr format %d", meta.ZarrFormat)
	}
	if len(meta.Shape) != len(meta.Chunks) {
		return nil, fmt.Errorf("shape %v and chunks %v differ in dimension", meta.Shape, meta.Chunks)
	}
	for i, c := range meta.Chunks {
		if c <= 0 || meta.Shape[i] < 0 {
			return nil, fmt.Errorf("bad shape %v or chunks %v", meta.Shape, meta.Chunks)
		}
	}
	if meta.Order == "" {
		meta.Order = "C"
	}
	if meta.Order != "C" {
		return nil, fmt.Errorf("unsupported array order %q", meta.Order)
	}
	if len(meta.Filters) != 0 {
		return nil, fmt.Errorf("array filters are not supported")
	}
	switch meta.DimensionSeparator {
	case "":
		meta.DimensionSeparator = "."
	case ".", "/":
	default:
		return nil, fmt.Errorf("bad dimension separator %q", meta.DimensionSeparator)
	}
	return &meta, nil
}

// Fill returns the fill value as a float64.  Null and absent fill values are 0.
func (m *ArrayMeta) Fill() (float64, error) {
	raw := strings.TrimSpace(string(m.FillValue))
	switch raw {
	case "", "null", "false":
		return 0, nil
	case "true":
		return 1, nil
	case `"NaN"`:
		return math.NaN(), nil
	case `"Infinity"`:
		return math.Inf(1), nil
	case `"-Infinity"`:
		return math.Inf(-1), nil
	}
	var v float64
	if err := json.Unmarshal(m.FillValue, &v); err != nil {
		return 0, fmt.Errorf("bad fill value %s: %v", raw, err)
	}
	return v, nil
}

// GroupMeta is the .zgroup document.
type GroupMeta struct {
	ZarrFormat int `json:"zarr_format"`
}

// consolidated is the .zmetadata document.
type consolidated struct {
	Metadata map[string]json.RawMessage `json:"metadata"`
	Format   int                        `json:"zarr_consolidated_format"`
}

// chunkKey returns the key of the chunk with the given grid index relative to the array.
func (m *ArrayMeta) chunkKey(idx []int) string {
	if len(idx) == 0 {
		return "0"
	}
	parts := make([]string, len(idx))
	for i, n := range idx {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, m.DimensionSeparator)
}

// gridShape returns the number of chunks along each axis.
func (m *ArrayMeta) gridShape() []int {
	grid := make([]int, len(m.Shape))
	for i, s := range m.Shape {
		grid[i] = (s + m.Chunks[i] - 1) / m.Chunks[i]
	}
	return grid
}

// DataType returns the planar data type of the array.
func (m *ArrayMeta) DataType() (planar.DataType, error) {
	dt, _, err := ParseDType(m.DType)
	return dt, err
}
