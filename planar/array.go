package planar

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Array is an N-dimensional block of pixel values stored in C (row-major) order with
// little-endian encoding of each value.
type Array struct {
	Shape []int
	DType DataType
	Data  []byte
}

// NewArray returns a zero-filled array of the given type and shape.
func NewArray(dtype DataType, shape ...int) *Array {
	s := make([]int, len(shape))
	copy(s, shape)
	return &Array{
		Shape: s,
		DType: dtype,
		Data:  make([]byte, numElements(s)*dtype.Bytes()),
	}
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// NDim returns the number of axes.
func (a *Array) NDim() int {
	return len(a.Shape)
}

// Len returns the number of elements.
func (a *Array) Len() int {
	return numElements(a.Shape)
}

func (a *Array) String() string {
	return fmt.Sprintf("%s array %v", a.DType, a.Shape)
}

// Strides returns the element (not byte) stride of each axis.
func (a *Array) Strides() []int {
	return stridesOf(a.Shape)
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

// Value returns the i-th element in C order as a float64.
func (a *Array) Value(i int) float64 {
	n := a.DType.Bytes()
	b := a.Data[i*n : i*n+n]
	switch a.DType {
	case T_uint8:
		return float64(b[0])
	case T_int8:
		return float64(int8(b[0]))
	case T_bool:
		if b[0] != 0 {
			return 1
		}
		return 0
	case T_uint16:
		return float64(binary.LittleEndian.Uint16(b))
	case T_int16:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case T_uint32:
		return float64(binary.LittleEndian.Uint32(b))
	case T_int32:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case T_uint64:
		return float64(binary.LittleEndian.Uint64(b))
	case T_int64:
		return float64(int64(binary.LittleEndian.Uint64(b)))
	case T_float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case T_float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	return 0
}

// SetValue stores v into the i-th element, converting to the array's type.
func (a *Array) SetValue(i int, v float64) {
	n := a.DType.Bytes()
	b := a.Data[i*n : i*n+n]
	switch a.DType {
	case T_uint8:
		b[0] = uint8(v)
	case T_int8:
		b[0] = byte(int8(v))
	case T_bool:
		if v != 0 {
			b[0] = 1
		} else {
			b[0] = 0
		}
	case T_uint16:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case T_int16:
		binary.LittleEndian.PutUint16(b, uint16(int16(v)))
	case T_uint32:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case T_int32:
		binary.LittleEndian.PutUint32(b, uint32(int32(v)))
	case T_uint64:
		binary.LittleEndian.PutUint64(b, uint64(v))
	case T_int64:
		binary.LittleEndian.PutUint64(b, uint64(int64(v)))
	case T_float32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case T_float64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	}
}

// At returns the element at the given N-d index.
func (a *Array) At(idx ...int) float64 {
	if len(idx) != len(a.Shape) {
		panic(fmt.Sprintf("At() given %d indices for %d-d array", len(idx), len(a.Shape)))
	}
	var offset int
	for i, s := range a.Strides() {
		offset += idx[i] * s
	}
	return a.Value(offset)
}

// Float64s returns every element in C order.
func (a *Array) Float64s() []float64 {
	out := make([]float64, a.Len())
	for i := range out {
		out[i] = a.Value(i)
	}
	return out
}

// Squeeze returns an array sharing the same data with every length-1 axis removed.
func (a *Array) Squeeze() *Array {
	shape := make([]int, 0, len(a.Shape))
	for _, d := range a.Shape {
		if d != 1 {
			shape = append(shape, d)
		}
	}
	return &Array{Shape: shape, DType: a.DType, Data: a.Data}
}

// MoveAxis returns a copy with axis src moved to position dst, shifting the other
// axes to keep their relative order.  Negative positions count from the end.
func (a *Array) MoveAxis(src, dst int) *Array {
	n := len(a.Shape)
	if src < 0 {
		src += n
	}
	if dst < 0 {
		dst += n
	}
	if src < 0 || src >= n || dst < 0 || dst >= n {
		panic(fmt.Sprintf("MoveAxis(%d, %d) out of range for %d-d array", src, dst, n))
	}
	if src == dst {
		return a
	}
	perm := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if i != src {
			perm = append(perm, i)
		}
	}
	perm = append(perm[:dst], append([]int{src}, perm[dst:]...)...)
	return a.Transpose(perm)
}

// Transpose returns a copy whose axis i is the receiver's axis perm[i].
func (a *Array) Transpose(perm []int) *Array {
	n := len(a.Shape)
	shape := make([]int, n)
	inStrides := a.Strides()
	srcStrides := make([]int, n)
	for i, p := range perm {
		shape[i] = a.Shape[p]
		srcStrides[i] = inStrides[p]
	}
	out := NewArray(a.DType, shape...)
	size := a.DType.Bytes()
	if out.Len() == 0 {
		return out
	}
	idx := make([]int, n)
	for o := 0; o < out.Len(); o++ {
		var offset int
		for i := range idx {
			offset += idx[i] * srcStrides[i]
		}
		copy(out.Data[o*size:(o+1)*size], a.Data[offset*size:(offset+1)*size])
		for i := n - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < shape[i] {
				break
			}
			idx[i] = 0
		}
	}
	return out
}

// Stretched returns a float32 copy with values in [lo, hi] mapped linearly onto
// [0, 1], or onto [-1, 1] if lo is negative.  Values outside [lo, hi] are clipped.
// If lo == hi, values are only clipped to the output range.
func (a *Array) Stretched(lo, hi float64) *Array {
	omin := 0.0
	if lo < 0 {
		omin = -1
	}
	out := NewArray(T_float32, a.Shape...)
	for i := 0; i < a.Len(); i++ {
		v := min(max(a.Value(i), lo), hi)
		if lo != hi {
			v = (v-lo)/(hi-lo)*(1-omin) + omin
		} else {
			v = min(max(v, omin), 1)
		}
		out.SetValue(i, v)
	}
	return out
}

// Scaled returns a float64 copy of the array with every value divided by divisor.
func (a *Array) Scaled(divisor float64) *Array {
	out := NewArray(T_float64, a.Shape...)
	for i := 0; i < a.Len(); i++ {
		out.SetValue(i, a.Value(i)/divisor)
	}
	return out
}
