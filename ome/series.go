package ome

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/janelia-flyem/planar/planar"
)

func isNotFound(err error) bool {
	return errors.Is(err, planar.ErrNotFound)
}

// FieldRef addresses one field of view within a plate well.
type FieldRef struct {
	Well  WellKey
	Field int
}

func (f FieldRef) String() string {
	return fmt.Sprintf("well %s field %d", f.Well, f.Field)
}

// PlateSeries lists the fields of a plate in document order.  Fields come from the
// WellSample elements that reference an image, the field being the sample's position
// within its well.  If no sample references an image, fields are derived from Image
// names of the form "/<row>/<column>/<field>/..." resolved against the plate layout.
func PlateSeries(doc []byte, layout *PlateLayout) ([]FieldRef, error) {
	ome, err := Parse(doc)
	if err != nil {
		return nil, err
	}
	var fields []FieldRef
	for _, plate := range ome.Plates {
		for _, well := range plate.Wells {
			for i, sample := range well.Samples {
				if sample.ImageRef == nil {
					continue
				}
				fields = append(fields, FieldRef{
					Well:  WellKey{Column: well.Column, Row: well.Row},
					Field: i,
				})
			}
		}
	}
	if len(fields) > 0 {
		return fields, nil
	}
	for _, img := range ome.Images {
		parts := strings.Split(img.Name, "/")
		if len(parts) < 4 {
			return nil, fmt.Errorf("image %q name %q does not locate a well field", img.ID, img.Name)
		}
		field, err := strconv.Atoi(parts[3])
		if err != nil {
			return nil, fmt.Errorf("image %q name %q has bad field: %v", img.ID, img.Name, err)
		}
		fields = append(fields, FieldRef{Well: layout.Resolve(parts[1], parts[2]), Field: field})
	}
	return fields, nil
}
