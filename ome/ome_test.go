package ome

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"gocloud.dev/blob/memblob"

	"github.com/janelia-flyem/planar/planar"
	"github.com/janelia-flyem/planar/zarr"
)

func TestSynthesizeInt64(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	if err := zarr.WriteGroup(ctx, bucket, "", "", nil); err != nil {
		t.Fatal(err)
	}
	arr := planar.NewArray(planar.T_int64, 2, 3, 1, 10, 10)
	if err := zarr.WriteArray(ctx, bucket, "", "0", arr, []int{1, 1, 1, 10, 10}, nil, nil); err != nil {
		t.Fatal(err)
	}
	store, err := zarr.Open(ctx, bucket, "", "mem", zarr.Options{})
	if err != nil {
		t.Fatal(err)
	}
	meta, err := Load(ctx, store)
	if err != nil {
		t.Fatalf("unable to load metadata: %v", err)
	}
	if !meta.Synthesized || !errors.Is(meta.Warning(), planar.ErrPartialMetadata) {
		t.Errorf("expected synthesized metadata flagged as partial")
	}
	if !strings.HasPrefix(meta.XML, "<?xml") || !strings.Contains(meta.XML, "<OME") {
		t.Errorf("expected OME document, got %s", meta.XML)
	}
	doc, err := Parse([]byte(meta.XML))
	if err != nil {
		t.Fatalf("synthesized document does not parse: %v", err)
	}
	if len(doc.Images) != 1 {
		t.Fatalf("expected 1 image, got %d", len(doc.Images))
	}
	px := doc.Images[0].Pixels
	if px.SizeT != 2 || px.SizeC != 3 || px.SizeZ != 1 || px.SizeY != 10 || px.SizeX != 10 {
		t.Errorf("bad sizes %+v", px)
	}
	if px.Type != "float" {
		t.Errorf("expected int64 declared as float, got %q", px.Type)
	}
	if len(px.Channels) != 3 {
		t.Errorf("expected 3 channels, got %d", len(px.Channels))
	}
}

func TestLoadAuthoritative(t *testing.T) {
	ctx := context.Background()
	const doc = `<?xml version="1.0"?><OME><Image ID="Image:0" Name="x"><Pixels ID="Pixels:0" DimensionOrder="XYZCT" Type="uint16" SizeC="1" SizeT="1" SizeX="4" SizeY="4" SizeZ="1"/></Image></OME>`
	for _, key := range []string{"OME/METADATA.ome.xml", "METADATA.ome.xml"} {
		bucket := memblob.OpenBucket(nil)
		zarr.WriteGroup(ctx, bucket, "", "", nil)
		bucket.WriteAll(ctx, key, []byte(doc), nil)
		store, err := zarr.Open(ctx, bucket, "", "mem", zarr.Options{})
		if err != nil {
			t.Fatal(err)
		}
		meta, err := Load(ctx, store)
		if err != nil {
			t.Fatal(err)
		}
		if meta.Synthesized || meta.Warning() != nil || meta.XML != doc {
			t.Errorf("%s: expected authoritative document, got %+v", key, meta)
		}
	}
}

func TestSynthesizeShapes(t *testing.T) {
	if padded := TCZYX([]int{10, 20}); !reflect.DeepEqual(padded, []int{1, 1, 1, 10, 20}) {
		t.Errorf("bad padding %v", padded)
	}
	if padded := TCZYX([]int{2, 3, 4, 5, 6}); !reflect.DeepEqual(padded, []int{2, 3, 4, 5, 6}) {
		t.Errorf("5-d shape changed: %v", padded)
	}
	tests := map[planar.DataType]string{
		planar.T_uint8:   "uint8",
		planar.T_int16:   "int16",
		planar.T_int64:   "float",
		planar.T_uint64:  "float",
		planar.T_float32: "float",
		planar.T_float64: "double",
	}
	for dt, expected := range tests {
		if got := PixelType(dt); got != expected {
			t.Errorf("%s: expected %q, got %q", dt, expected, got)
		}
	}
}

const explicitPlate = `{"plate": {
	"version": "0.4",
	"name": "test",
	"rows": [{"name": "A"}, {"name": "B"}],
	"columns": [{"name": "1"}, {"name": "2"}, {"name": "3"}],
	"wells": [
		{"path": "A/1", "row_index": 0, "column_index": 0},
		{"path": "A/3", "row_index": 0, "column_index": 2},
		{"path": "B/2", "row_index": 1, "column_index": 1}
	]
}}`

const pathPlate = `{"plate": {
	"version": "0.1",
	"rows": [{"name": "A"}, {"name": "B"}],
	"columns": [{"name": "1"}, {"name": "2"}, {"name": "3"}],
	"wells": [{"path": "A/1"}, {"path": "A/3"}, {"path": "B/2"}]
}}`

func TestWellMapEncodings(t *testing.T) {
	explicit, err := ParsePlate(json.RawMessage(explicitPlate))
	if err != nil {
		t.Fatal(err)
	}
	derived, err := ParsePlate(json.RawMessage(pathPlate))
	if err != nil {
		t.Fatal(err)
	}
	m1, err := explicit.WellMap()
	if err != nil {
		t.Fatal(err)
	}
	m2, err := derived.WellMap()
	if err != nil {
		t.Fatal(err)
	}
	expected := map[WellKey]string{
		{Column: "0", Row: "0"}: "A/1",
		{Column: "2", Row: "0"}: "A/3",
		{Column: "1", Row: "1"}: "B/2",
	}
	if !reflect.DeepEqual(m1, expected) {
		t.Errorf("explicit encoding: expected %v, got %v", expected, m1)
	}
	if !reflect.DeepEqual(m1, m2) {
		t.Errorf("encodings differ: %v vs %v", m1, m2)
	}
	v, err := explicit.SemVer()
	if err != nil || v.Minor != 4 {
		t.Errorf("bad plate version %v: %v", v, err)
	}
}

func TestParsePlateInvalid(t *testing.T) {
	if p, err := ParsePlate(json.RawMessage(`{"multiscales": []}`)); p != nil || err != nil {
		t.Errorf("expected no plate, got %v %v", p, err)
	}
	if p, err := ParsePlate(json.RawMessage(`{"plate": {"wells": []}}`)); p != nil || err != nil {
		t.Errorf("expected no plate for empty wells, got %v %v", p, err)
	}
	if _, err := ParsePlate(json.RawMessage(`{"plate": {"wells": [{"path": "A/1", "row_index": -1}]}}`)); err == nil {
		t.Errorf("expected schema violation for negative index")
	}
	if _, err := ParsePlate(json.RawMessage(`{"plate": {"wells": [{"row_index": 0}]}}`)); err == nil {
		t.Errorf("expected schema violation for missing path")
	}
	bad, err := ParsePlate(json.RawMessage(`{"plate": {"wells": [{"path": "A1"}]}}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bad.WellMap(); !errors.Is(err, planar.ErrOpenFailure) {
		t.Errorf("expected open failure for malformed well path, got %v", err)
	}
}

func TestPlateSeries(t *testing.T) {
	layout, err := ParsePlate(json.RawMessage(pathPlate))
	if err != nil {
		t.Fatal(err)
	}
	const withRefs = `<OME xmlns="http://www.openmicroscopy.org/Schemas/OME/2016-06">
	<Plate ID="Plate:0">
		<Well ID="Well:0" Column="0" Row="0">
			<WellSample ID="WellSample:0" Index="0"><ImageRef ID="Image:0"/></WellSample>
			<WellSample ID="WellSample:1" Index="1"><ImageRef ID="Image:1"/></WellSample>
		</Well>
		<Well ID="Well:1" Column="1" Row="1">
			<WellSample ID="WellSample:2" Index="2"><ImageRef ID="Image:2"/></WellSample>
		</Well>
	</Plate></OME>`
	fields, err := PlateSeries([]byte(withRefs), layout)
	if err != nil {
		t.Fatal(err)
	}
	expected := []FieldRef{
		{WellKey{"0", "0"}, 0},
		{WellKey{"0", "0"}, 1},
		{WellKey{"1", "1"}, 0},
	}
	if !reflect.DeepEqual(fields, expected) {
		t.Errorf("expected %v, got %v", expected, fields)
	}

	const namesOnly = `<OME><Image ID="Image:0" Name="/A/3/0/0"><Pixels/></Image><Image ID="Image:1" Name="/B/2/1/0"><Pixels/></Image></OME>`
	fields, err = PlateSeries([]byte(namesOnly), layout)
	if err != nil {
		t.Fatal(err)
	}
	expected = []FieldRef{
		{WellKey{Column: "2", Row: "0"}, 0},
		{WellKey{Column: "1", Row: "1"}, 1},
	}
	if !reflect.DeepEqual(fields, expected) {
		t.Errorf("expected %v, got %v", expected, fields)
	}
	if _, err := PlateSeries([]byte(`<OME><Image ID="Image:0" Name="flat"/></OME>`), layout); err == nil {
		t.Errorf("expected error for image name without well path")
	}
}
