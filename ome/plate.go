package ome

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/blang/semver"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/janelia-flyem/planar/planar"
)

// plateSchema constrains the parts of the NGFF plate descriptor used for well mapping.
const plateSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"plate": {
			"type": "object",
			"required": ["wells"],
			"properties": {
				"version": {"type": "string"},
				"name": {"type": "string"},
				"field_count": {"type": "integer", "minimum": 0},
				"rows": {
					"type": "array",
					"items": {"type": "object", "required": ["name"], "properties": {"name": {"type": "string"}}}
				},
				"columns": {
					"type": "array",
					"items": {"type": "object", "required": ["name"], "properties": {"name": {"type": "string"}}}
				},
				"wells": {
					"type": "array",
					"minItems": 1,
					"items": {
						"type": "object",
						"required": ["path"],
						"properties": {
							"path": {"type": "string", "minLength": 1},
							"row_index": {"type": "integer", "minimum": 0},
							"column_index": {"type": "integer", "minimum": 0}
						}
					}
				}
			}
		}
	}
}`

var plateValidator = jsonschema.MustCompileString("plate.schema.json", plateSchema)

// WellKey is the (column, row) coordinate of a well as zero-based indices in decimal.
type WellKey struct {
	Column string
	Row    string
}

func (k WellKey) String() string {
	return fmt.Sprintf("(col %s, row %s)", k.Column, k.Row)
}

// Named is a row or column of a plate.
type Named struct {
	Name string `json:"name"`
}

// PlateWell is a well entry of a plate descriptor.  Producers either give explicit
// indices or only a "row/column" path.
type PlateWell struct {
	Path        string `json:"path"`
	RowIndex    *int   `json:"row_index,omitempty"`
	ColumnIndex *int   `json:"column_index,omitempty"`
}

// PlateLayout is the NGFF "plate" attribute of a plate group.
type PlateLayout struct {
	Version    string      `json:"version,omitempty"`
	Name       string      `json:"name,omitempty"`
	FieldCount int         `json:"field_count,omitempty"`
	Rows       []Named     `json:"rows,omitempty"`
	Columns    []Named     `json:"columns,omitempty"`
	Wells      []PlateWell `json:"wells"`
}

// WellLayout is the NGFF "well" attribute of a well group.
type WellLayout struct {
	Version string `json:"version,omitempty"`
	Images  []struct {
		Path        string `json:"path"`
		Acquisition *int   `json:"acquisition,omitempty"`
	} `json:"images"`
}

// Multiscale is one entry of the NGFF "multiscales" attribute of an image group.
type Multiscale struct {
	Version  string `json:"version,omitempty"`
	Name     string `json:"name,omitempty"`
	Datasets []struct {
		Path string `json:"path"`
	} `json:"datasets"`
}

// ImageAttrs holds the attributes of an NGFF image group.
type ImageAttrs struct {
	Multiscales []Multiscale `json:"multiscales"`
}

// WellAttrs holds the attributes of an NGFF well group.
type WellAttrs struct {
	Well *WellLayout `json:"well"`
}

// ParsePlate returns the plate descriptor held in a group's attributes, or nil if the
// attributes describe no plate or a plate without wells.
func ParsePlate(attrs json.RawMessage) (*PlateLayout, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(attrs))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("bad group attributes: %v", err)
	}
	plate, found := raw["plate"].(map[string]interface{})
	if !found {
		return nil, nil
	}
	if wells, ok := plate["wells"].([]interface{}); !ok || len(wells) == 0 {
		return nil, nil
	}
	if err := plateValidator.Validate(raw); err != nil {
		return nil, fmt.Errorf("invalid plate descriptor: %v", err)
	}
	var parsed struct {
		Plate PlateLayout `json:"plate"`
	}
	if err := json.Unmarshal(attrs, &parsed); err != nil {
		return nil, fmt.Errorf("bad plate descriptor: %v", err)
	}
	return &parsed.Plate, nil
}

// SemVer returns the NGFF version of the plate descriptor.
func (p *PlateLayout) SemVer() (semver.Version, error) {
	if p.Version == "" {
		return semver.Version{}, errors.New("plate descriptor has no version")
	}
	return semver.ParseTolerant(p.Version)
}

func indexOf(names []Named, name string) int {
	for i, n := range names {
		if n.Name == name {
			return i
		}
	}
	return -1
}

// Resolve returns the well key for row and column names, e.g. "B" and "3", using the
// plate's row and column lists.  Names absent from the lists are used verbatim.
func (p *PlateLayout) Resolve(rowName, colName string) WellKey {
	key := WellKey{Column: colName, Row: rowName}
	if p == nil {
		return key
	}
	if i := indexOf(p.Columns, colName); i >= 0 {
		key.Column = strconv.Itoa(i)
	}
	if i := indexOf(p.Rows, rowName); i >= 0 {
		key.Row = strconv.Itoa(i)
	}
	return key
}

// WellMap maps well coordinates to the store path of each well group.  Explicit
// column_index/row_index fields are used when the first well carries them; otherwise
// coordinates come from splitting each well path into row and column names.
func (p *PlateLayout) WellMap() (map[WellKey]string, error) {
	if p == nil || len(p.Wells) == 0 {
		return nil, nil
	}
	explicit := p.Wells[0].ColumnIndex != nil && p.Wells[0].RowIndex != nil
	wells := make(map[WellKey]string, len(p.Wells))
	for _, w := range p.Wells {
		var key WellKey
		if explicit && w.ColumnIndex != nil && w.RowIndex != nil {
			key = WellKey{Column: strconv.Itoa(*w.ColumnIndex), Row: strconv.Itoa(*w.RowIndex)}
		} else {
			parts := strings.SplitN(strings.Trim(w.Path, "/"), "/", 2)
			if len(parts) != 2 {
				return nil, planar.OpenFailure("wells", w.Path, fmt.Errorf("well path is not of form row/column"))
			}
			key = p.Resolve(parts[0], parts[1])
		}
		if prev, found := wells[key]; found {
			return nil, planar.OpenFailure("wells", w.Path, fmt.Errorf("well %s already mapped to %q", key, prev))
		}
		wells[key] = strings.Trim(w.Path, "/")
	}
	return wells, nil
}
