// Package report loads JMA XML seismic reports, classifies them and
// extracts the fields rendered into notifications.
package report

import (
	"encoding/xml"
	"errors"
	"fmt"
)

// Document is a parsed JMA XML report. Only the elements used by the
// notifier are modelled; everything else is ignored.
type Document struct {
	XMLName xml.Name `xml:"Report"`
	Control *Control `xml:"Control"`
	Head    *Head    `xml:"Head"`
	Body    Body     `xml:"Body"`

	URI string `xml:"-"` // Where the document was loaded from
	Raw []byte `xml:"-"` // Raw document, kept for diagnostics
}

// Control is the report's control section.
type Control struct {
	Title            string `xml:"Title"`
	DateTime         string `xml:"DateTime"`
	Status           string `xml:"Status"`
	EditorialOffice  string `xml:"EditorialOffice"`
	PublishingOffice string `xml:"PublishingOffice"`
}

// Head is the report's head section.
type Head struct {
	Title          string   `xml:"Title"`
	ReportDateTime string   `xml:"ReportDateTime"`
	TargetDateTime string   `xml:"TargetDateTime"`
	EventID        string   `xml:"EventID"`
	InfoType       string   `xml:"InfoType"`
	Serial         string   `xml:"Serial"`
	InfoKind       string   `xml:"InfoKind"`
	Headline       Headline `xml:"Headline"`
}

// Headline holds the headline text and, for quick reports, the affected areas.
type Headline struct {
	Text        string        `xml:"Text"`
	Information []Information `xml:"Information"`
}

// Information groups headline items of one type.
type Information struct {
	Type  string            `xml:"type,attr"`
	Items []InformationItem `xml:"Item"`
}

// InformationItem is one intensity grouping and the areas it covers.
type InformationItem struct {
	KindName string `xml:"Kind>Name"`
	Areas    []Area `xml:"Areas>Area"`
}

// Area is a named area with its code.
type Area struct {
	Name string `xml:"Name"`
	Code string `xml:"Code"`
}

// Body is the report's body section.
type Body struct {
	Earthquake *Earthquake `xml:"Earthquake"`
	Intensity  *Intensity  `xml:"Intensity"`
}

// Earthquake describes the hypocenter and magnitude.
type Earthquake struct {
	OriginTime  string      `xml:"OriginTime"`
	ArrivalTime string      `xml:"ArrivalTime"`
	Hypocenter  *Hypocenter `xml:"Hypocenter"`
	Magnitude   Magnitude   `xml:"Magnitude"`
}

// Hypocenter wraps the hypocenter area.
type Hypocenter struct {
	Area HypocenterArea `xml:"Area"`
}

// HypocenterArea is the epicenter name and its ISO 6709 coordinate.
type HypocenterArea struct {
	Name       string     `xml:"Name"`
	Code       string     `xml:"Code"`
	Coordinate Coordinate `xml:"Coordinate"`
}

// Coordinate is a jmx_eb:Coordinate element.
type Coordinate struct {
	Value       string `xml:",chardata"`
	Description string `xml:"description,attr"`
	Datum       string `xml:"datum,attr"`
}

// Magnitude is a jmx_eb:Magnitude element.
type Magnitude struct {
	Value       string `xml:",chardata"`
	Type        string `xml:"type,attr"`
	Description string `xml:"description,attr"`
}

// Intensity holds observed seismic intensities.
type Intensity struct {
	Observation Observation `xml:"Observation"`
}

// Observation lists intensities per prefecture.
type Observation struct {
	MaxInt string `xml:"MaxInt"`
	Prefs  []Pref `xml:"Pref"`
}

// Pref is a prefecture with its observed areas.
type Pref struct {
	Name   string          `xml:"Name"`
	Code   string          `xml:"Code"`
	MaxInt string          `xml:"MaxInt"`
	Areas  []IntensityArea `xml:"Area"`
}

// IntensityArea is an area with its maximum observed intensity.
type IntensityArea struct {
	Name   string `xml:"Name"`
	Code   string `xml:"Code"`
	MaxInt string `xml:"MaxInt"`
}

// Parse decodes a JMA XML report. The root element must be Report and
// the Control and Head sections must be present.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	if doc.Control == nil {
		return nil, errors.New("missing Control section")
	}
	if doc.Head == nil {
		return nil, errors.New("missing Head section")
	}
	doc.Raw = data
	return &doc, nil
}
