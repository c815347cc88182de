package omezarr

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"

	"github.com/janelia-flyem/planar/planar"
	"github.com/janelia-flyem/planar/reader"
	"github.com/janelia-flyem/planar/storage"
	"github.com/janelia-flyem/planar/zarr"
)

func ramp(dtype planar.DataType, shape ...int) *planar.Array {
	arr := planar.NewArray(dtype, shape...)
	for i := 0; i < arr.Len(); i++ {
		arr.SetValue(i, float64(i%250))
	}
	return arr
}

// writeFlat writes a store whose root group holds a single array "0".
func writeFlat(t *testing.T, bucket *blob.Bucket, arr *planar.Array) {
	ctx := context.Background()
	if err := zarr.WriteGroup(ctx, bucket, "", "", nil); err != nil {
		t.Fatal(err)
	}
	chunks := make([]int, arr.NDim())
	for i := range chunks {
		chunks[i] = 1
	}
	chunks[len(chunks)-1] = arr.Shape[len(chunks)-1]
	chunks[len(chunks)-2] = arr.Shape[len(chunks)-2]
	if err := zarr.WriteArray(ctx, bucket, "", "0", arr, chunks, &zarr.CompressorConfig{ID: "zstd"}, nil); err != nil {
		t.Fatal(err)
	}
}

func localStore(t *testing.T, arr *planar.Array) string {
	dir := filepath.Join(t.TempDir(), "img.zarr")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	bucket, err := fileblob.OpenBucket(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer bucket.Close()
	writeFlat(t, bucket, arr)
	return dir
}

func memReader(t *testing.T, arr *planar.Array) *Reader {
	bucket := memblob.OpenBucket(nil)
	writeFlat(t, bucket, arr)
	r, err := OpenBucket(context.Background(), bucket, "", "mem", zarr.Options{})
	if err != nil {
		t.Fatalf("unable to open store: %v", err)
	}
	return r
}

func TestReadSinglePlane(t *testing.T) {
	dir := localStore(t, ramp(planar.T_uint16, 1, 1, 1, 6, 8))
	f := &Format{}
	ctx := context.Background()
	rdr, err := f.Open(ctx, dir, "")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer rdr.Close()
	plane, err := rdr.Read(ctx, reader.PlaneRequest{C: planar.At(0), Z: planar.At(0), T: planar.At(0), Series: 0})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !reflect.DeepEqual(plane.Image.Shape, []int{6, 8}) {
		t.Errorf("expected (6,8) plane, got %v", plane.Image.Shape)
	}
	if plane.Image.DType != planar.T_uint16 || plane.Image.At(2, 3) != 19 {
		t.Errorf("bad plane contents %s, (2,3)=%v", plane.Image, plane.Image.At(2, 3))
	}

	// file: URL takes precedence over path
	rdr2, err := f.Open(ctx, "/nonexistent", storage.MustParseResource(dir).URL())
	if err != nil {
		t.Fatalf("open by file URL failed: %v", err)
	}
	rdr2.Close()
}

func TestRescaleAndCeiling(t *testing.T) {
	arr := planar.NewArray(planar.T_uint8, 1, 1, 1, 2, 2)
	for i := 0; i < 4; i++ {
		arr.SetValue(i, 255)
	}
	r := memReader(t, arr)
	plane, err := r.Read(context.Background(), reader.PlaneRequest{Rescale: true, WantsMax: true})
	if err != nil {
		t.Fatal(err)
	}
	if plane.Image.DType != planar.T_float64 {
		t.Errorf("expected float64 after rescale, got %s", plane.Image.DType)
	}
	for _, v := range plane.Image.Float64s() {
		if v != 1.0 {
			t.Errorf("expected 1.0, got %v", v)
		}
	}
	if plane.MaxIntensity != 255 {
		t.Errorf("expected ceiling 255, got %v", plane.MaxIntensity)
	}

	signed := planar.NewArray(planar.T_int16, 1, 1, 1, 1, 1)
	signed.SetValue(0, 32767)
	r = memReader(t, signed)
	plane, err = r.Read(context.Background(), reader.PlaneRequest{Rescale: true, WantsMax: true})
	if err != nil {
		t.Fatal(err)
	}
	if v := plane.Image.Value(0); v != 1.0 {
		t.Errorf("expected signed max to rescale to 1, got %v", v)
	}
	if plane.MaxIntensity != 65535 {
		t.Errorf("expected ceiling 65535 for int16, got %v", plane.MaxIntensity)
	}

	floats := planar.NewArray(planar.T_float32, 1, 1, 1, 1, 1)
	floats.SetValue(0, 0.25)
	r = memReader(t, floats)
	plane, err = r.Read(context.Background(), reader.PlaneRequest{Rescale: true, WantsMax: true})
	if err != nil {
		t.Fatal(err)
	}
	if v := plane.Image.Value(0); v != 0.25 || plane.MaxIntensity != 1 {
		t.Errorf("float data should not be rescaled: %v, ceiling %v", v, plane.MaxIntensity)
	}
}

func TestAxisOrdering(t *testing.T) {
	r := memReader(t, ramp(planar.T_uint8, 2, 3, 4, 5, 6))
	ctx := context.Background()
	tests := []struct {
		req      reader.PlaneRequest
		expected []int
	}{
		{reader.PlaneRequest{C: planar.At(1), Z: planar.At(2), T: planar.At(0)}, []int{5, 6}},
		{reader.PlaneRequest{Z: planar.At(2), T: planar.At(0)}, []int{5, 6, 3}},
		{reader.PlaneRequest{C: planar.At(0), T: planar.At(1)}, []int{4, 5, 6}},
		{reader.PlaneRequest{T: planar.At(1)}, []int{4, 5, 6, 3}},
		{reader.PlaneRequest{}, []int{3, 4, 5, 6, 2}},
	}
	for _, tc := range tests {
		plane, err := r.Read(ctx, tc.req)
		if err != nil {
			t.Fatalf("%s: %v", tc.req, err)
		}
		if !reflect.DeepEqual(plane.Image.Shape, tc.expected) {
			t.Errorf("%s: expected shape %v, got %v", tc.req, tc.expected, plane.Image.Shape)
		}
	}

	// channel-last value check: t=0, z=2, (y,x)=(1,2), c=2
	plane, _ := r.Read(ctx, reader.PlaneRequest{Z: planar.At(2), T: planar.At(0)})
	expected := float64(((2*4+2)*5+1)*6+2) // flat index of (0,2,2,1,2)
	if v := plane.Image.At(1, 2, 2); v != float64(int(expected)%250) {
		t.Errorf("expected %v, got %v", float64(int(expected)%250), v)
	}
}

func TestCrop(t *testing.T) {
	r := memReader(t, ramp(planar.T_uint8, 10, 10))
	crop := &planar.Rect{X: 2.5, Y: 3.5, W: 3, H: 2}
	plane, err := r.Read(context.Background(), reader.PlaneRequest{Crop: crop})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(plane.Image.Shape, []int{2, 3}) {
		t.Fatalf("bad crop shape %v", plane.Image.Shape)
	}
	// x rounds to 2, y rounds to 4
	if v := plane.Image.At(0, 0); v != 42 {
		t.Errorf("expected crop origin value 42, got %v", v)
	}
	if _, err := r.Read(context.Background(), reader.PlaneRequest{Crop: &planar.Rect{X: 20, W: 1, H: 1}}); !errors.Is(err, planar.ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds for crop outside image, got %v", err)
	}
}

func TestOutOfBounds(t *testing.T) {
	r := memReader(t, ramp(planar.T_uint8, 1, 2, 1, 4, 4))
	ctx := context.Background()
	if r.NumSeries() != 1 {
		t.Fatalf("expected one series, got %d", r.NumSeries())
	}
	if _, err := r.Read(ctx, reader.PlaneRequest{Series: 1}); !errors.Is(err, planar.ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds for series 1, got %v", err)
	}
	if _, err := r.Read(ctx, reader.PlaneRequest{C: planar.At(2)}); !errors.Is(err, planar.ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds for channel 2, got %v", err)
	}
	if _, err := r.Read(ctx, reader.PlaneRequest{Series: -1}); !errors.Is(err, planar.ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds for negative series, got %v", err)
	}
}

func TestOpenMissingPath(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.zarr")
	_, err := (&Format{}).Open(context.Background(), missing, "")
	if !errors.Is(err, planar.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var rerr *planar.ResourceError
	if !errors.As(err, &rerr) || rerr.Ref != missing {
		t.Errorf("expected error naming %q, got %v", missing, err)
	}
}

func TestCloseAndDimensions(t *testing.T) {
	r := memReader(t, ramp(planar.T_uint8, 3, 4, 5))
	ctx := context.Background()
	dims, err := r.SeriesDimensions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	expected := &reader.Dimensions{SizeS: 1, Series: []reader.SeriesSize{{T: 1, C: 1, Z: 3, Y: 4, X: 5}}}
	if !reflect.DeepEqual(dims, expected) {
		t.Errorf("expected %+v, got %+v", expected, dims)
	}
	meta, err := r.Metadata(ctx)
	if err != nil || !meta.Synthesized {
		t.Errorf("expected synthesized metadata, got %v %v", meta, err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("close returned %v", err)
	}
	if _, err := r.Read(ctx, reader.PlaneRequest{}); err == nil {
		t.Errorf("expected read after close to fail")
	}
}

func TestCloseReleasesBucket(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	writeFlat(t, bucket, ramp(planar.T_uint8, 2, 2))
	r, err := OpenBucket(ctx, bucket, "", "mem", zarr.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close returned %v", err)
	}
	if _, err := bucket.Exists(ctx, "0/.zarray"); err == nil {
		t.Errorf("expected bucket closed with the reader")
	}
	if err := r.Close(); err != nil {
		t.Errorf("second close returned %v", err)
	}
}

func writePlate(t *testing.T, bucket *blob.Bucket, explicit bool) {
	ctx := context.Background()
	wells := []map[string]interface{}{{"path": "A/1"}, {"path": "B/2"}}
	if explicit {
		wells[0]["row_index"], wells[0]["column_index"] = 0, 0
		wells[1]["row_index"], wells[1]["column_index"] = 1, 1
	}
	plate := map[string]interface{}{"plate": map[string]interface{}{
		"version": "0.4",
		"rows":    []map[string]string{{"name": "A"}, {"name": "B"}},
		"columns": []map[string]string{{"name": "1"}, {"name": "2"}},
		"wells":   wells,
	}}
	zarr.WriteGroup(ctx, bucket, "", "", plate)
	for _, g := range []string{"A", "B"} {
		zarr.WriteGroup(ctx, bucket, "", g, nil)
	}
	fieldCounts := map[string]int{"A/1": 2, "B/2": 1}
	value := 10.0
	for _, well := range []string{"A/1", "B/2"} {
		var images []map[string]string
		for f := 0; f < fieldCounts[well]; f++ {
			images = append(images, map[string]string{"path": string(rune('0' + f))})
		}
		zarr.WriteGroup(ctx, bucket, "", well, map[string]interface{}{"well": map[string]interface{}{"images": images}})
		for f := 0; f < fieldCounts[well]; f++ {
			field := well + "/" + string(rune('0'+f))
			zarr.WriteGroup(ctx, bucket, "", field, map[string]interface{}{
				"multiscales": []map[string]interface{}{{"datasets": []map[string]string{{"path": "0"}, {"path": "1"}}}},
			})
			arr := planar.NewArray(planar.T_uint16, 1, 1, 1, 2, 2)
			for i := 0; i < 4; i++ {
				arr.SetValue(i, value)
			}
			value += 10
			zarr.WriteArray(ctx, bucket, "", field+"/0", arr, []int{1, 1, 1, 2, 2}, nil, nil)
			zarr.WriteArray(ctx, bucket, "", field+"/1", planar.NewArray(planar.T_uint16, 1, 1, 1, 1, 1), []int{1, 1, 1, 1, 1}, nil, nil)
		}
	}
}

func TestPlateStore(t *testing.T) {
	ctx := context.Background()
	var maps []interface{}
	for _, explicit := range []bool{false, true} {
		bucket := memblob.OpenBucket(nil)
		writePlate(t, bucket, explicit)
		r, err := OpenBucket(ctx, bucket, "", "plate", zarr.Options{})
		if err != nil {
			t.Fatalf("explicit=%t: open failed: %v", explicit, err)
		}
		if !r.IsPlate() || r.NumSeries() != 3 {
			t.Fatalf("explicit=%t: expected plate with 3 fields, got plate=%t series=%d", explicit, r.IsPlate(), r.NumSeries())
		}
		maps = append(maps, r.WellMap())
		// breadth-first synthesized order: A/1/0, A/1/1, B/2/0
		for series, expected := range []float64{10, 20, 30} {
			plane, err := r.Read(ctx, reader.PlaneRequest{Series: series, WantsMax: true})
			if err != nil {
				t.Fatalf("explicit=%t: series %d read failed: %v", explicit, series, err)
			}
			if !reflect.DeepEqual(plane.Image.Shape, []int{2, 2}) || plane.Image.Value(0) != expected {
				t.Errorf("explicit=%t: series %d expected value %v, got %s %v", explicit, series, expected, plane.Image, plane.Image.Value(0))
			}
		}
		if _, err := r.Read(ctx, reader.PlaneRequest{Series: 3}); !errors.Is(err, planar.ErrOutOfBounds) {
			t.Errorf("expected ErrOutOfBounds past last field, got %v", err)
		}
	}
	if !reflect.DeepEqual(maps[0], maps[1]) {
		t.Errorf("well maps differ between encodings: %v vs %v", maps[0], maps[1])
	}
}

func TestScore(t *testing.T) {
	f := &Format{}
	ctx := context.Background()
	dir := localStore(t, ramp(planar.T_uint8, 2, 2))
	plain := filepath.Join(t.TempDir(), "plainstore")
	os.Rename(dir, plain)

	tests := []struct {
		ref       string
		allowOpen bool
		expected  reader.Score
	}{
		{"/data/plate.ome.zarr", false, reader.Exclusive},
		{"s3://bucket/plate.zarr", false, reader.Exclusive},
		{"omero:iid=3", true, reader.CannotRead},
		{plain, false, reader.CannotRead},
		{plain, true, reader.ScoreHigh},
		{filepath.Join(t.TempDir(), "nothing"), true, reader.CannotRead},
		{"https://host/x.png", true, reader.CannotRead},
	}
	for _, tc := range tests {
		p := f.Score(ctx, storage.MustParseResource(tc.ref), tc.allowOpen)
		if p.Err != nil || p.Score != tc.expected {
			t.Errorf("%q allowOpen=%t: expected %s, got %v", tc.ref, tc.allowOpen, tc.expected, p)
		}
	}
}

func zipDir(t *testing.T, dir string) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(filepath.Dir(dir), p)
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	zw.Close()
	return buf.Bytes()
}

func TestOpenRemoteZip(t *testing.T) {
	archive := zipDir(t, localStore(t, ramp(planar.T_uint8, 1, 1, 1, 3, 3)))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	f := &Format{Downloader: &storage.Downloader{Dir: t.TempDir()}}
	ctx := context.Background()
	rdr, err := f.Open(ctx, "", srv.URL+"/img.zarr.zip")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	plane, err := rdr.Read(ctx, reader.PlaneRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(plane.Image.Shape, []int{3, 3}) || plane.Image.At(2, 2) != 8 {
		t.Errorf("bad plane from downloaded store: %s", plane.Image)
	}
	temps := rdr.(reader.TempFiler).TempFiles()
	if len(temps) != 1 {
		t.Fatalf("expected one temp path, got %v", temps)
	}
	rdr.Close()
	if _, err := os.Stat(temps[0]); err != nil {
		t.Errorf("reader must not remove its temp files: %v", err)
	}
	storage.RemoveTemp(temps...)
	if _, err := os.Stat(temps[0]); !os.IsNotExist(err) {
		t.Errorf("expected temp store removed")
	}
}
