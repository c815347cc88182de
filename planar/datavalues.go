/*
   This file handles the pixel data types stored in image arrays and the numeric
   limits used when rescaling them.
*/

package planar

import (
	"fmt"
	"math"
)

// DataType is a unique ID for each type of pixel data, e.g., a uint8 or a float32.
type DataType uint8

const (
	T_uint8 DataType = iota
	T_int8
	T_uint16
	T_int16
	T_uint32
	T_int32
	T_uint64
	T_int64
	T_float32
	T_float64
	T_bool
)

var typeBytes = map[DataType]int{
	T_uint8:   1,
	T_int8:    1,
	T_uint16:  2,
	T_int16:   2,
	T_uint32:  4,
	T_int32:   4,
	T_uint64:  8,
	T_int64:   8,
	T_float32: 4,
	T_float64: 8,
	T_bool:    1,
}

var typeNames = map[DataType]string{
	T_uint8:   "uint8",
	T_int8:    "int8",
	T_uint16:  "uint16",
	T_int16:   "int16",
	T_uint32:  "uint32",
	T_int32:   "int32",
	T_uint64:  "uint64",
	T_int64:   "int64",
	T_float32: "float32",
	T_float64: "float64",
	T_bool:    "bool",
}

// Bytes returns the number of bytes for a single value of the type.
func (t DataType) Bytes() int {
	return typeBytes[t]
}

func (t DataType) String() string {
	name, found := typeNames[t]
	if !found {
		return fmt.Sprintf("unknown data type (%d)", uint8(t))
	}
	return name
}

// ParseDataType returns the DataType for a name like "uint16".
func ParseDataType(name string) (DataType, error) {
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown data type %q", name)
}

// IsInteger returns true for signed and unsigned integer types.
func (t DataType) IsInteger() bool {
	switch t {
	case T_uint8, T_int8, T_uint16, T_int16, T_uint32, T_int32, T_uint64, T_int64:
		return true
	}
	return false
}

// IsSigned returns true for signed integer types.
func (t DataType) IsSigned() bool {
	switch t {
	case T_int8, T_int16, T_int32, T_int64:
		return true
	}
	return false
}

// IntMax returns the largest value representable by an integer type.  For signed
// types this is the signed maximum, e.g. 127 for int8.  The second return value is
// false for non-integer types.
func (t DataType) IntMax() (float64, bool) {
	switch t {
	case T_uint8:
		return math.MaxUint8, true
	case T_int8:
		return math.MaxInt8, true
	case T_uint16:
		return math.MaxUint16, true
	case T_int16:
		return math.MaxInt16, true
	case T_uint32:
		return math.MaxUint32, true
	case T_int32:
		return math.MaxInt32, true
	case T_uint64:
		return math.MaxUint64, true
	case T_int64:
		return math.MaxInt64, true
	}
	return 0, false
}

// MaxIntensity returns the intensity ceiling reported alongside plane reads.
// The table is kept bit-for-bit with existing consumers: 8-bit types report 255,
// 16-bit types 65535, int32 2^32-1, uint32 2^32, everything else 1.
func (t DataType) MaxIntensity() float64 {
	switch t {
	case T_int8, T_uint8:
		return 255
	case T_int16, T_uint16:
		return 65535
	case T_int32:
		return math.Exp2(32) - 1
	case T_uint32:
		return math.Exp2(32)
	}
	return 1
}
