package zarr

import (
	"bytes"
	"compress/bzip2"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec decodes chunk bytes.  Decode is given the expected decoded size.
type Codec interface {
	Decode(src []byte, size int) ([]byte, error)
}

// Encoder is implemented by codecs that can also write chunks.
type Encoder interface {
	Encode(src []byte) ([]byte, error)
}

var (
	zstdDecoder, _ = zstd.NewReader(nil)
	zstdEncoder, _ = zstd.NewWriter(nil)
)

// NewCodec returns the codec for a compressor configuration.  A nil configuration
// means chunks are stored raw.
func NewCodec(cfg *CompressorConfig) (Codec, error) {
	if cfg == nil {
		return rawCodec{}, nil
	}
	switch cfg.ID {
	case "zlib":
		return zlibCodec{level: cfg.Level}, nil
	case "gzip":
		return gzipCodec{level: cfg.Level}, nil
	case "zstd":
		return zstdCodec{}, nil
	case "lz4":
		return lz4Codec{}, nil
	case "bz2":
		return bz2Codec{}, nil
	case "blosc":
		return bloscCodec{}, nil
	}
	return nil, fmt.Errorf("unsupported compressor %q", cfg.ID)
}

func readAllSized(r io.Reader, size int) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, size))
	if _, err := io.Copy(buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type rawCodec struct{}

func (rawCodec) Decode(src []byte, size int) ([]byte, error) {
	return src, nil
}

func (rawCodec) Encode(src []byte) ([]byte, error) {
	return src, nil
}

type zlibCodec struct {
	level int
}

func (zlibCodec) Decode(src []byte, size int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("can't uncompress zlib data: %v", err)
	}
	defer zr.Close()
	return readAllSized(zr, size)
}

func (c zlibCodec) Encode(src []byte) ([]byte, error) {
	level := c.level
	if level == 0 {
		level = zlib.DefaultCompression
	}
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(src); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type gzipCodec struct {
	level int
}

func (gzipCodec) Decode(src []byte, size int) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("can't uncompress gzip data: %v", err)
	}
	defer zr.Close()
	return readAllSized(zr, size)
}

func (c gzipCodec) Encode(src []byte) ([]byte, error) {
	level := c.level
	if level == 0 {
		level = gzip.DefaultCompression
	}
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(src); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type zstdCodec struct{}

func (zstdCodec) Decode(src []byte, size int) ([]byte, error) {
	return zstdDecoder.DecodeAll(src, make([]byte, 0, size))
}

func (zstdCodec) Encode(src []byte) ([]byte, error) {
	return zstdEncoder.EncodeAll(src, nil), nil
}

// lz4Codec handles numcodecs LZ4: a little-endian uint32 decoded size then an LZ4 block.
type lz4Codec struct{}

func (lz4Codec) Decode(src []byte, size int) ([]byte, error) {
	if len(src) < 4 {
		return nil, fmt.Errorf("lz4 chunk too short (%d bytes)", len(src))
	}
	n := int(binary.LittleEndian.Uint32(src[:4]))
	dst := make([]byte, n)
	written, err := lz4.UncompressBlock(src[4:], dst)
	if err != nil {
		return nil, fmt.Errorf("can't uncompress lz4 data: %v", err)
	}
	return dst[:written], nil
}

type bz2Codec struct{}

func (bz2Codec) Decode(src []byte, size int) ([]byte, error) {
	return readAllSized(bzip2.NewReader(bytes.NewReader(src)), size)
}
