package ome

import (
	"encoding/xml"
	"fmt"
)

// OME namespaces written into generated documents.
const (
	Namespace      = "http://www.openmicroscopy.org/Schemas/OME/2016-06"
	XSINamespace   = "http://www.w3.org/2001/XMLSchema-instance"
	SchemaLocation = Namespace + " " + Namespace + "/ome.xsd"
)

// OME is the root element of an OME-XML document.  Only the elements needed to
// describe pixel geometry and plate layout are modeled; others are ignored on parse.
type OME struct {
	XMLName        xml.Name    `xml:"OME"`
	Xmlns          string      `xml:"xmlns,attr,omitempty"`
	XSI            string      `xml:"xmlns:xsi,attr,omitempty"`
	SchemaLocation string      `xml:"xsi:schemaLocation,attr,omitempty"`
	Instrument     *Instrument `xml:"Instrument,omitempty"`
	Plates         []Plate     `xml:"Plate"`
	Images         []Image     `xml:"Image"`
}

type Instrument struct {
	ID        string     `xml:"ID,attr"`
	Objective *Objective `xml:"Objective,omitempty"`
}

type Objective struct {
	ID                  string  `xml:"ID,attr"`
	NominalMagnification float64 `xml:"NominalMagnification,attr,omitempty"`
}

// Ref is any element that only references another by ID.
type Ref struct {
	ID string `xml:"ID,attr"`
}

// Image is one image (series) with its pixel description.
type Image struct {
	ID                string `xml:"ID,attr"`
	Name              string `xml:"Name,attr,omitempty"`
	AcquisitionDate   string `xml:"AcquisitionDate,omitempty"`
	Description       string `xml:"Description,omitempty"`
	InstrumentRef     *Ref   `xml:"InstrumentRef,omitempty"`
	ObjectiveSettings *Ref   `xml:"ObjectiveSettings,omitempty"`
	Pixels            Pixels `xml:"Pixels"`
}

// Pixels describes the geometry and type of an image's pixel data.
type Pixels struct {
	ID              string    `xml:"ID,attr"`
	DimensionOrder  string    `xml:"DimensionOrder,attr"`
	Type            string    `xml:"Type,attr"`
	BigEndian       bool      `xml:"BigEndian,attr"`
	Interleaved     bool      `xml:"Interleaved,attr"`
	SignificantBits int       `xml:"SignificantBits,attr,omitempty"`
	SizeC           int       `xml:"SizeC,attr"`
	SizeT           int       `xml:"SizeT,attr"`
	SizeX           int       `xml:"SizeX,attr"`
	SizeY           int       `xml:"SizeY,attr"`
	SizeZ           int       `xml:"SizeZ,attr"`
	Channels        []Channel `xml:"Channel"`
}

type Channel struct {
	ID              string    `xml:"ID,attr"`
	Name            string    `xml:"Name,attr,omitempty"`
	SamplesPerPixel int       `xml:"SamplesPerPixel,attr,omitempty"`
	LightPath       *struct{} `xml:"LightPath"`
}

// Plate is an HCS plate.  Column and Row of each Well are zero-based indices.
type Plate struct {
	ID    string `xml:"ID,attr"`
	Name  string `xml:"Name,attr,omitempty"`
	Wells []Well `xml:"Well"`
}

type Well struct {
	ID      string       `xml:"ID,attr"`
	Column  string       `xml:"Column,attr"`
	Row     string       `xml:"Row,attr"`
	Samples []WellSample `xml:"WellSample"`
}

type WellSample struct {
	ID       string `xml:"ID,attr"`
	Index    string `xml:"Index,attr,omitempty"`
	ImageRef *Ref   `xml:"ImageRef"`
}

// Parse decodes an OME-XML document.
func Parse(doc []byte) (*OME, error) {
	var ome OME
	if err := xml.Unmarshal(doc, &ome); err != nil {
		return nil, fmt.Errorf("bad OME-XML: %v", err)
	}
	return &ome, nil
}

// Marshal encodes the document with an XML declaration.
func (o *OME) Marshal() ([]byte, error) {
	out, err := xml.Marshal(o)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}
