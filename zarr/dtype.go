package zarr

import (
	"fmt"

	"github.com/janelia-flyem/planar/planar"
)

var dtypeKinds = map[string]planar.DataType{
	"b1": planar.T_bool,
	"i1": planar.T_int8,
	"u1": planar.T_uint8,
	"i2": planar.T_int16,
	"u2": planar.T_uint16,
	"i4": planar.T_int32,
	"u4": planar.T_uint32,
	"i8": planar.T_int64,
	"u8": planar.T_uint64,
	"f4": planar.T_float32,
	"f8": planar.T_float64,
}

// ParseDType parses a numpy-style dtype like "<u2" or "|u1".  The second return value
// is true if values are stored big-endian.
func ParseDType(dtype string) (planar.DataType, bool, error) {
	if len(dtype) != 3 {
		return 0, false, fmt.Errorf("unsupported dtype %q", dtype)
	}
	dt, found := dtypeKinds[dtype[1:]]
	if !found {
		return 0, false, fmt.Errorf("unsupported dtype %q", dtype)
	}
	switch dtype[0] {
	case '<', '|':
		return dt, false, nil
	case '>':
		return dt, dt.Bytes() > 1, nil
	}
	return 0, false, fmt.Errorf("bad byte order in dtype %q", dtype)
}

// DTypeString returns the little-endian numpy dtype string for a data type.
func DTypeString(dt planar.DataType) string {
	for kind, t := range dtypeKinds {
		if t == dt {
			if dt.Bytes() == 1 {
				return "|" + kind
			}
			return "<" + kind
		}
	}
	return ""
}

// swapBytes reverses the byte order of each element in place.
func swapBytes(data []byte, size int) {
	for i := 0; i+size <= len(data); i += size {
		for a, b := i, i+size-1; a < b; a, b = a+1, b-1 {
			data[a], data[b] = data[b], data[a]
		}
	}
}
