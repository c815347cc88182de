package imageio

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/janelia-flyem/planar/planar"
	"github.com/janelia-flyem/planar/reader"
)

// Reader holds the decoded frames of one image file.
type Reader struct {
	name   string
	format string
	frames []*planar.Array
	temps  []string
	closed atomic.Bool
}

// OpenFile decodes an image file.  Temps lists temporary copies owned by the reader,
// typically the file itself when it was downloaded.
func OpenFile(filename string, temps []string) (*Reader, error) {
	f, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, planar.NotFound("open", filename)
		}
		return nil, planar.OpenFailure("open", filename, err)
	}
	defer f.Close()

	r := &Reader{name: filename, temps: temps}
	if strings.ToLower(filepath.Ext(filename)) == ".gif" {
		anim, err := gif.DecodeAll(bufio.NewReader(f))
		if err != nil {
			return nil, planar.OpenFailure("decode", filename, err)
		}
		r.format = "gif"
		r.frames = gifFrames(anim)
	} else {
		img, format, err := image.Decode(bufio.NewReader(f))
		if err != nil {
			return nil, planar.OpenFailure("decode", filename, err)
		}
		r.format = format
		r.frames = []*planar.Array{toArray(img)}
	}
	planar.Debugf("Decoded %s image %q with %d frame(s)\n", r.format, filename, len(r.frames))
	return r, nil
}

// gifFrames composites each frame over its predecessors.
func gifFrames(anim *gif.GIF) []*planar.Array {
	bounds := image.Rect(0, 0, anim.Config.Width, anim.Config.Height)
	if bounds.Empty() && len(anim.Image) > 0 {
		bounds = anim.Image[0].Bounds()
	}
	canvas := image.NewRGBA(bounds)
	frames := make([]*planar.Array, 0, len(anim.Image))
	for _, frame := range anim.Image {
		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		frames = append(frames, toArray(canvas))
	}
	return frames
}

// toArray converts an image to a (height, width, channels) array.  Gray images keep a
// single channel, opaque color images get three and the rest four.  Images with 16-bit
// samples produce uint16 arrays.
func toArray(img image.Image) *planar.Array {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	switch src := img.(type) {
	case *image.Gray:
		arr := planar.NewArray(planar.T_uint8, h, w, 1)
		for y := 0; y < h; y++ {
			copy(arr.Data[y*w:(y+1)*w], src.Pix[y*src.Stride:y*src.Stride+w])
		}
		return arr
	case *image.Gray16:
		arr := planar.NewArray(planar.T_uint16, h, w, 1)
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride:]
			for x := 0; x < w; x++ {
				arr.SetValue(y*w+x, float64(uint16(row[2*x])<<8|uint16(row[2*x+1])))
			}
		}
		return arr
	}

	nc := 4
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		nc = 3
	}
	if is16bit(img) {
		arr := planar.NewArray(planar.T_uint16, h, w, nc)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
				i := (y*w + x) * nc
				for k, v := range []uint16{c.R, c.G, c.B, c.A}[:nc] {
					arr.SetValue(i+k, float64(v))
				}
			}
		}
		return arr
	}
	arr := planar.NewArray(planar.T_uint8, h, w, nc)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := (y*w + x) * nc
			copy(arr.Data[i:i+nc], []byte{c.R, c.G, c.B, c.A}[:nc])
		}
	}
	return arr
}

func is16bit(img image.Image) bool {
	switch img.(type) {
	case *image.RGBA64, *image.NRGBA64:
		return true
	}
	return false
}

func (r *Reader) String() string {
	return fmt.Sprintf("%s image %q", r.format, r.name)
}

// NumSeries returns the number of frames.
func (r *Reader) NumSeries() int {
	return len(r.frames)
}

// Read returns a frame, optionally restricted to one channel and a crop rectangle.
// Z and T must be unset or zero.
func (r *Reader) Read(ctx context.Context, req reader.PlaneRequest) (*planar.Plane, error) {
	if r.closed.Load() {
		return nil, planar.OpenFailure("read", r.name, fmt.Errorf("reader is closed"))
	}
	if req.Series < 0 || req.Series >= len(r.frames) {
		return nil, planar.OutOfBounds("series %d not in %q with %d series", req.Series, r.name, len(r.frames))
	}
	for _, idx := range []planar.Index{req.Z, req.T} {
		if _, _, err := idx.Range(1); err != nil {
			return nil, err
		}
	}
	frame := r.frames[req.Series]
	h, w, nc := frame.Shape[0], frame.Shape[1], frame.Shape[2]
	c0, c1, err := req.C.Range(nc)
	if err != nil {
		return nil, err
	}
	x0, x1, y0, y1 := 0, w, 0, h
	if req.Crop != nil {
		if x0, x1, y0, y1, err = req.Crop.Bounds(w, h); err != nil {
			return nil, err
		}
	}

	outC := c1 - c0
	shape := []int{y1 - y0, x1 - x0}
	if outC > 1 {
		shape = append(shape, outC)
	}
	img := planar.NewArray(frame.DType, shape...)
	size := frame.DType.Bytes()
	var o int
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			i := ((y*w+x)*nc + c0) * size
			o += copy(img.Data[o:], frame.Data[i:i+outC*size])
		}
	}

	plane := &planar.Plane{Image: img}
	ceiling, _ := frame.DType.IntMax()
	if req.Rescale {
		lo, hi := channelRange(frame, c0, c1)
		plane.Image = img.Stretched(lo, hi)
		ceiling = 1
	}
	if req.WantsMax {
		plane.MaxIntensity = ceiling
	}
	return plane, nil
}

// channelRange returns the smallest and largest values of channels [c0, c1) over
// the whole frame.
func channelRange(frame *planar.Array, c0, c1 int) (lo, hi float64) {
	nc := frame.Shape[2]
	lo, hi = math.Inf(1), math.Inf(-1)
	for i := 0; i < frame.Len(); i += nc {
		for c := c0; c < c1; c++ {
			v := frame.Value(i + c)
			lo, hi = min(lo, v), max(hi, v)
		}
	}
	return lo, hi
}

// SeriesDimensions describes each frame.
func (r *Reader) SeriesDimensions(ctx context.Context) (*reader.Dimensions, error) {
	dims := &reader.Dimensions{SizeS: len(r.frames)}
	for _, f := range r.frames {
		dims.Series = append(dims.Series, reader.SeriesSize{C: f.Shape[2], Z: 1, T: 1, Y: f.Shape[0], X: f.Shape[1]})
	}
	return dims, nil
}

// TempFiles returns downloaded copies held by the reader.
func (r *Reader) TempFiles() []string {
	return r.temps
}

// Close releases the decoded frames.
func (r *Reader) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.frames = nil
	return nil
}
