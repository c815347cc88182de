package planar

// MessagePack encoding of arrays and planes, used by the HTTP API and the proxy to
// external decoding services.  Layout follows msgp's generated code so the types
// satisfy msgp.Marshaler and msgp.Unmarshaler.

import (
	"github.com/tinylib/msgp/msgp"
)

// MarshalMsg implements msgp.Marshaler
func (a *Array) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, a.Msgsize())
	// map header, size 3
	o = msgp.AppendMapHeader(o, 3)
	o = msgp.AppendString(o, "shape")
	o = msgp.AppendArrayHeader(o, uint32(len(a.Shape)))
	for _, d := range a.Shape {
		o = msgp.AppendInt(o, d)
	}
	o = msgp.AppendString(o, "dtype")
	o = msgp.AppendString(o, a.DType.String())
	o = msgp.AppendString(o, "data")
	o = msgp.AppendBytes(o, a.Data)
	return
}

// UnmarshalMsg implements msgp.Unmarshaler
func (a *Array) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var zb0001 uint32
	zb0001, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		err = msgp.WrapError(err)
		return
	}
	for zb0001 > 0 {
		zb0001--
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			err = msgp.WrapError(err)
			return
		}
		switch msgp.UnsafeString(field) {
		case "shape":
			var zb0002 uint32
			zb0002, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "shape")
				return
			}
			a.Shape = make([]int, zb0002)
			for i := range a.Shape {
				a.Shape[i], bts, err = msgp.ReadIntBytes(bts)
				if err != nil {
					err = msgp.WrapError(err, "shape", i)
					return
				}
			}
		case "dtype":
			var name string
			name, bts, err = msgp.ReadStringBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "dtype")
				return
			}
			a.DType, err = ParseDataType(name)
			if err != nil {
				err = msgp.WrapError(err, "dtype")
				return
			}
		case "data":
			a.Data, bts, err = msgp.ReadBytesBytes(bts, a.Data)
			if err != nil {
				err = msgp.WrapError(err, "data")
				return
			}
		default:
			bts, err = msgp.Skip(bts)
			if err != nil {
				err = msgp.WrapError(err)
				return
			}
		}
	}
	o = bts
	return
}

// Msgsize returns an upper bound estimate of the number of bytes occupied by the serialized message
func (a *Array) Msgsize() (s int) {
	s = 1 + 6 + msgp.ArrayHeaderSize + len(a.Shape)*msgp.IntSize + 6 + msgp.StringPrefixSize + len(a.DType.String()) + 5 + msgp.BytesPrefixSize + len(a.Data)
	return
}

// MarshalMsg implements msgp.Marshaler
func (p *Plane) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, p.Msgsize())
	// map header, size 2
	o = msgp.AppendMapHeader(o, 2)
	o = msgp.AppendString(o, "image")
	if p.Image == nil {
		o = msgp.AppendNil(o)
	} else {
		o, err = p.Image.MarshalMsg(o)
		if err != nil {
			err = msgp.WrapError(err, "image")
			return
		}
	}
	o = msgp.AppendString(o, "max")
	o = msgp.AppendFloat64(o, p.MaxIntensity)
	return
}

// UnmarshalMsg implements msgp.Unmarshaler
func (p *Plane) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var zb0001 uint32
	zb0001, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		err = msgp.WrapError(err)
		return
	}
	for zb0001 > 0 {
		zb0001--
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			err = msgp.WrapError(err)
			return
		}
		switch msgp.UnsafeString(field) {
		case "image":
			if msgp.IsNil(bts) {
				bts, err = msgp.ReadNilBytes(bts)
				if err != nil {
					return
				}
				p.Image = nil
			} else {
				if p.Image == nil {
					p.Image = new(Array)
				}
				bts, err = p.Image.UnmarshalMsg(bts)
				if err != nil {
					err = msgp.WrapError(err, "image")
					return
				}
			}
		case "max":
			p.MaxIntensity, bts, err = msgp.ReadFloat64Bytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "max")
				return
			}
		default:
			bts, err = msgp.Skip(bts)
			if err != nil {
				err = msgp.WrapError(err)
				return
			}
		}
	}
	o = bts
	return
}

// Msgsize returns an upper bound estimate of the number of bytes occupied by the serialized message
func (p *Plane) Msgsize() (s int) {
	s = 1 + 6
	if p.Image == nil {
		s += msgp.NilSize
	} else {
		s += p.Image.Msgsize()
	}
	s += 4 + msgp.Float64Size
	return
}
