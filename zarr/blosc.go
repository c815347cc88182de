package zarr

import (
	"encoding/binary"
	"fmt"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

const (
	bloscHeaderSize = 16
	bloscMaxSplits  = 16
	bloscMinBuffer  = 128

	bloscDoShuffle    = 0x01
	bloscMemcpyed     = 0x02
	bloscDoBitShuffle = 0x04
	bloscDontSplit    = 0x10
)

// blosc inner compressor codes stored in the top three bits of the flags byte.
const (
	bloscBloscLZ = iota
	bloscLZ4
	bloscSnappy
	bloscZlib
	bloscZstd
)

// bloscCodec decodes blosc 1.x frames.
type bloscCodec struct{}

type bloscHeader struct {
	flags     byte
	typesize  int
	nbytes    int
	blocksize int
	cbytes    int
}

func parseBloscHeader(src []byte) (h bloscHeader, err error) {
	if len(src) < bloscHeaderSize {
		return h, fmt.Errorf("blosc frame too short (%d bytes)", len(src))
	}
	h.flags = src[2]
	h.typesize = int(src[3])
	h.nbytes = int(binary.LittleEndian.Uint32(src[4:8]))
	h.blocksize = int(binary.LittleEndian.Uint32(src[8:12]))
	h.cbytes = int(binary.LittleEndian.Uint32(src[12:16]))
	if h.cbytes > len(src) {
		return h, fmt.Errorf("blosc frame truncated: header says %d bytes, have %d", h.cbytes, len(src))
	}
	if h.typesize == 0 {
		h.typesize = 1
	}
	return h, nil
}

func (bloscCodec) Decode(src []byte, size int) ([]byte, error) {
	h, err := parseBloscHeader(src)
	if err != nil {
		return nil, err
	}
	if h.flags&bloscMemcpyed != 0 {
		if bloscHeaderSize+h.nbytes > len(src) {
			return nil, fmt.Errorf("blosc memcpyed frame truncated")
		}
		out := make([]byte, h.nbytes)
		copy(out, src[bloscHeaderSize:])
		return out, nil
	}
	if h.flags&bloscDoBitShuffle != 0 {
		return nil, fmt.Errorf("blosc bit shuffle is not supported")
	}
	if h.blocksize <= 0 {
		return nil, fmt.Errorf("bad blosc block size %d", h.blocksize)
	}
	compressor := int(h.flags >> 5)

	nblocks := h.nbytes / h.blocksize
	leftover := h.nbytes % h.blocksize
	if leftover > 0 {
		nblocks++
	}
	if bloscHeaderSize+4*nblocks > len(src) {
		return nil, fmt.Errorf("blosc block table truncated")
	}
	out := make([]byte, h.nbytes)
	tmp := make([]byte, h.blocksize)
	for j := 0; j < nblocks; j++ {
		start := int(binary.LittleEndian.Uint32(src[bloscHeaderSize+4*j:]))
		bsize := h.blocksize
		isLeftover := leftover > 0 && j == nblocks-1
		if isLeftover {
			bsize = leftover
		}
		nsplits := 1
		if h.flags&bloscDontSplit == 0 && h.typesize <= bloscMaxSplits &&
			h.blocksize/h.typesize >= bloscMinBuffer && !isLeftover {
			nsplits = h.typesize
		}
		dst := out[j*h.blocksize : j*h.blocksize+bsize]
		if h.flags&bloscDoShuffle != 0 && h.typesize > 1 {
			if err := bloscDecodeBlock(compressor, src, start, tmp[:bsize], nsplits); err != nil {
				return nil, fmt.Errorf("blosc block %d: %v", j, err)
			}
			unshuffle(dst, tmp[:bsize], h.typesize)
		} else if err := bloscDecodeBlock(compressor, src, start, dst, nsplits); err != nil {
			return nil, fmt.Errorf("blosc block %d: %v", j, err)
		}
	}
	return out, nil
}

// bloscDecodeBlock decodes the streams of one block starting at src[pos] into dst.
func bloscDecodeBlock(compressor int, src []byte, pos int, dst []byte, nsplits int) error {
	neblock := len(dst) / nsplits
	for s := 0; s < nsplits; s++ {
		if pos+4 > len(src) {
			return fmt.Errorf("stream %d header past end of frame", s)
		}
		csize := int(int32(binary.LittleEndian.Uint32(src[pos:])))
		pos += 4
		if csize < 0 || pos+csize > len(src) {
			return fmt.Errorf("stream %d has bad size %d", s, csize)
		}
		stream := src[pos : pos+csize]
		pos += csize
		part := dst[s*neblock : (s+1)*neblock]
		if csize == neblock {
			copy(part, stream)
			continue
		}
		if err := bloscDecompress(compressor, stream, part); err != nil {
			return err
		}
	}
	return nil
}

func bloscDecompress(compressor int, stream, dst []byte) error {
	var decoded []byte
	var err error
	switch compressor {
	case bloscLZ4:
		var n int
		if n, err = lz4.UncompressBlock(stream, dst); err == nil && n != len(dst) {
			err = fmt.Errorf("lz4 decoded %d bytes, expected %d", n, len(dst))
		}
		return err
	case bloscSnappy:
		decoded, err = snappy.Decode(nil, stream)
	case bloscZlib:
		decoded, err = zlibCodec{}.Decode(stream, len(dst))
	case bloscZstd:
		decoded, err = zstdCodec{}.Decode(stream, len(dst))
	case bloscBloscLZ:
		return fmt.Errorf("blosclz compression is not supported")
	default:
		return fmt.Errorf("unknown blosc compressor code %d", compressor)
	}
	if err != nil {
		return err
	}
	if len(decoded) != len(dst) {
		return fmt.Errorf("decoded %d bytes, expected %d", len(decoded), len(dst))
	}
	copy(dst, decoded)
	return nil
}

// unshuffle reverses blosc byte shuffling.  Trailing bytes that do not fill a whole
// element are stored unshuffled.
func unshuffle(dst, src []byte, typesize int) {
	nelem := len(src) / typesize
	for j := 0; j < typesize; j++ {
		base := j * nelem
		for i := 0; i < nelem; i++ {
			dst[i*typesize+j] = src[base+i]
		}
	}
	tail := nelem * typesize
	copy(dst[tail:], src[tail:])
}
