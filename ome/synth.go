package ome

import (
	"context"
	"fmt"
	"path"

	"github.com/janelia-flyem/planar/planar"
	"github.com/janelia-flyem/planar/zarr"
)

// Locations of an authoritative OME-XML document within a store, in lookup order.
var metadataKeys = []string{"OME/METADATA.ome.xml", "METADATA.ome.xml"}

// Metadata is the descriptive metadata of a store.
type Metadata struct {
	XML string

	// Synthesized is true if XML was built from the store structure.
	Synthesized bool
}

// Warning returns planar.ErrPartialMetadata for synthesized metadata, else nil.
func (m *Metadata) Warning() error {
	if m.Synthesized {
		return planar.ErrPartialMetadata
	}
	return nil
}

// Load returns the store's OME-XML document, synthesizing one if the store has none.
func Load(ctx context.Context, store *zarr.Store) (*Metadata, error) {
	for _, key := range metadataKeys {
		doc, err := store.ReadFile(ctx, key)
		if err == nil {
			return &Metadata{XML: string(doc)}, nil
		}
		if !isNotFound(err) {
			return nil, err
		}
	}
	planar.Warningf("Store %q lacks an OME-XML document; metadata will be constructed from the store structure\n", store.Name())
	return Synthesize(ctx, store)
}

// pixelTypes maps array types onto OME pixel types.  OME has no 64-bit integer types so
// those are declared floating point.
var pixelTypes = map[planar.DataType]string{
	planar.T_uint8:   "uint8",
	planar.T_int8:    "int8",
	planar.T_uint16:  "uint16",
	planar.T_int16:   "int16",
	planar.T_uint32:  "uint32",
	planar.T_int32:   "int32",
	planar.T_uint64:  "float",
	planar.T_int64:   "float",
	planar.T_float32: "float",
	planar.T_float64: "double",
	planar.T_bool:    "bit",
}

// PixelType returns the OME pixel type used for an array type.
func PixelType(dt planar.DataType) string {
	return pixelTypes[dt]
}

// TCZYX left-pads a shape with length-1 axes to five dimensions.  Shapes with more
// than five axes are returned unchanged.
func TCZYX(shape []int) []int {
	if len(shape) >= 5 {
		return shape
	}
	padded := []int{1, 1, 1, 1, 1}
	copy(padded[5-len(shape):], shape)
	return padded
}

// Synthesize builds an OME-XML document with one Image per group of the store, each
// describing the first array found in that group.  Groups are visited breadth-first.
func Synthesize(ctx context.Context, store *zarr.Store) (*Metadata, error) {
	arrays, err := store.FirstArrays(ctx)
	if err != nil {
		return nil, err
	}
	doc := &OME{
		Xmlns:          Namespace,
		XSI:            XSINamespace,
		SchemaLocation: SchemaLocation,
		Instrument: &Instrument{
			ID:        "Instrument:0",
			Objective: &Objective{ID: "Objective:0:0", NominalMagnification: 20.0},
		},
	}
	for i, p := range arrays {
		arr, err := store.Array(ctx, p)
		if err != nil {
			return nil, err
		}
		shape := TCZYX(arr.Shape())
		if len(shape) != 5 {
			return nil, planar.OpenFailure("synthesize", store.Name()+"/"+p,
				fmt.Errorf("array has %d dimensions, expected at most 5", len(shape)))
		}
		sizeT, sizeC, sizeZ, sizeY, sizeX := shape[0], shape[1], shape[2], shape[3], shape[4]
		img := Image{
			ID:                fmt.Sprintf("Image:%d", i),
			Name:              "/" + p,
			AcquisitionDate:   "Unknown",
			Description:       "Synthesized OME metadata",
			InstrumentRef:     &Ref{ID: "Instrument:0"},
			ObjectiveSettings: &Ref{ID: "Objective:0:0"},
			Pixels: Pixels{
				ID:              fmt.Sprintf("Pixels:%s", path.Base("/"+p)),
				DimensionOrder:  "XYZCT",
				Type:            PixelType(arr.DataType()),
				SignificantBits: 8 * arr.DataType().Bytes(),
				SizeT:           sizeT,
				SizeC:           sizeC,
				SizeZ:           sizeZ,
				SizeY:           sizeY,
				SizeX:           sizeX,
			},
		}
		for c := 0; c < sizeC; c++ {
			img.Pixels.Channels = append(img.Pixels.Channels, Channel{
				ID:              fmt.Sprintf("Channel:%d:%d", i, c),
				SamplesPerPixel: 1,
				LightPath:       &struct{}{},
			})
		}
		doc.Images = append(doc.Images, img)
	}
	out, err := doc.Marshal()
	if err != nil {
		return nil, err
	}
	return &Metadata{XML: string(out), Synthesized: true}, nil
}
