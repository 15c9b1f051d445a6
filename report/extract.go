package report

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"quake-notifier/pkg/quake"
)

// Attachment field titles.
const (
	FieldOriginTime = "Origin time"
	FieldHypocenter = "Hypocenter"
	FieldMagnitude  = "Magnitude"
	FieldIntensity  = "Intensity by region"
)

const originTimeLayout = "2006-01-02 15:04:05 -07:00"

// ErrUnknownKind is returned by Extract for documents that match no known report.
var ErrUnknownKind = errors.New("unknown report kind")

var (
	// ISO 6709 latitude, longitude and depth, e.g. "+35.1+139.2-10000/".
	coordinateRegex = regexp.MustCompile(`([+-][\d.]+?)([+-][\d.]+?)([+-][\d.]+?)/`)
	eventIDRegex    = regexp.MustCompile(`^\d{14}`)
)

// Report is the validated, kind-specific content of a document.
type Report interface {
	Kind() Kind
	// Attachment returns the structured notification content.
	Attachment() quake.Attachment
}

// Base holds the fields every report kind shares.
type Base struct {
	EditorialOffice string
	ReportTime      time.Time
	OriginTime      time.Time // Earthquake origin time, or head target time if absent
	EventID         string
}

func (b Base) attachment() quake.Attachment {
	return quake.Attachment{
		Footer: b.EditorialOffice,
		TS:     b.ReportTime.Unix(),
		Fields: []quake.Field{{
			Title: FieldOriginTime,
			Value: b.OriginTime.Format(originTimeLayout),
		}},
		Actions: []quake.Action{
			{
				Type: "button",
				Text: "Yahoo!",
				URL:  fmt.Sprintf("https://typhoon.yahoo.co.jp/weather/jp/earthquake/%s.html", b.EventID),
			},
			{
				Type: "button",
				Text: "tenki.jp",
				URL:  fmt.Sprintf("http://bousai.tenki.jp/bousai/earthquake/detail-%s.html", b.EventID),
			},
		},
		ImageURL: MapImageURL(b.EventID),
	}
}

// SummaryItem is one intensity grouping of a quick report.
type SummaryItem struct {
	Kind  string
	Areas []string
}

// SummaryReport is a seismic intensity quick report.
type SummaryReport struct {
	Base
	Items []SummaryItem
}

// Kind implements Report.
func (r *SummaryReport) Kind() Kind { return KindSummary }

// Attachment implements Report.
func (r *SummaryReport) Attachment() quake.Attachment {
	a := r.attachment()
	for _, item := range r.Items {
		a.Fields = append(a.Fields, quake.Field{
			Title: item.Kind,
			Value: strings.Join(item.Areas, ","),
		})
	}
	return a
}

// Epicenter is a hypocenter location.
type Epicenter struct {
	Name        string
	Description string
	Latitude    string // Signed decimal token, e.g. "+35.1"
	Longitude   string
}

// MapURL links to the epicenter on a map.
func (e Epicenter) MapURL() string {
	return fmt.Sprintf("https://www.google.com/maps?q=%s,%s", e.Latitude, e.Longitude)
}

// EpicenterReport is hypocenter information.
type EpicenterReport struct {
	Base
	Epicenter Epicenter
	Magnitude string
}

// Kind implements Report.
func (r *EpicenterReport) Kind() Kind { return KindEpicenter }

// Attachment implements Report.
func (r *EpicenterReport) Attachment() quake.Attachment {
	a := r.attachment()
	a.Fields = append(a.Fields, r.epicenterFields()...)
	return a
}

func (r *EpicenterReport) epicenterFields() []quake.Field {
	return []quake.Field{
		{
			Title: FieldHypocenter,
			Value: fmt.Sprintf("%s\n<%s|%s>", r.Epicenter.Name, r.Epicenter.MapURL(), r.Epicenter.Description),
		},
		{
			Title: FieldMagnitude,
			Value: r.Magnitude,
		},
	}
}

// AreaIntensity is the maximum intensity observed in one area.
type AreaIntensity struct {
	Name   string
	MaxInt string
}

// PrefIntensity groups area intensities by prefecture.
type PrefIntensity struct {
	Name  string
	Areas []AreaIntensity
}

// DetailReport is hypocenter and intensity information.
type DetailReport struct {
	EpicenterReport
	Prefectures []PrefIntensity
}

// Kind implements Report.
func (r *DetailReport) Kind() Kind { return KindDetail }

// Attachment implements Report.
func (r *DetailReport) Attachment() quake.Attachment {
	a := r.attachment()
	a.Fields = append(a.Fields, r.epicenterFields()...)
	a.Fields = append(a.Fields, quake.Field{
		Title: FieldIntensity,
		Value: formatIntensities(r.Prefectures),
	})
	return a
}

func formatIntensities(prefs []PrefIntensity) string {
	lines := make([]string, 0, len(prefs))
	for _, pref := range prefs {
		areas := make([]string, 0, len(pref.Areas))
		for _, area := range pref.Areas {
			areas = append(areas, fmt.Sprintf("%s(max %s)", shortAreaName(area.Name, pref.Name), IntensityLabel(area.MaxInt)))
		}
		lines = append(lines, fmt.Sprintf("*%s*:%s", pref.Name, strings.Join(areas, ",")))
	}
	return strings.Join(lines, "\n")
}

// shortAreaName drops the prefecture prefix from an area name.
func shortAreaName(area, pref string) string {
	if area == pref {
		return pref
	}
	return strings.Replace(area, pref, "", 1)
}

// IntensityLabel converts JMA's +/- intensity notation into strong/weak labels.
func IntensityLabel(intensity string) string {
	switch intensity {
	case "6+":
		return "6-strong"
	case "6-":
		return "6-weak"
	case "5+":
		return "5-strong"
	case "5-":
		return "5-weak"
	default:
		return intensity
	}
}

// ParseCoordinate extracts latitude and longitude tokens from ISO 6709 text.
func ParseCoordinate(s string) (lat, lon string, err error) {
	m := coordinateRegex.FindStringSubmatch(s)
	if m == nil {
		return "", "", fmt.Errorf("coordinate %q is not ISO 6709", s)
	}
	return m[1], m[2], nil
}

// MapImageURL builds the tenki.jp epicenter map image URL from an event id
// of the form YYYYMMDDHHmmss. Returns "" for shorter ids.
func MapImageURL(eventID string) string {
	if !eventIDRegex.MatchString(eventID) {
		return ""
	}
	year, month, day := eventID[0:4], eventID[4:6], eventID[6:8]
	hour, minute, second := eventID[8:10], eventID[10:12], eventID[12:14]
	return fmt.Sprintf("https://earthquake.tenki.jp/static-images/earthquake/detail/%s/%s/%s/%s-%s-%s-%s-%s-%s-large.jpg",
		year, month, day, year, month, day, hour, minute, second)
}

// Extract validates a document against its kind and returns the typed report.
// Missing required fields yield a *quake.ParseError; unrecognized titles yield ErrUnknownKind.
func Extract(doc *Document) (Report, error) {
	kind := Classify(doc)
	if kind == KindUnknown {
		return nil, ErrUnknownKind
	}

	base, err := extractBase(doc)
	if err != nil {
		return nil, invalid(doc, err)
	}

	switch kind {
	case KindSummary:
		items, err := extractSummaryItems(doc)
		if err != nil {
			return nil, invalid(doc, err)
		}
		return &SummaryReport{Base: base, Items: items}, nil

	case KindEpicenter:
		epi, err := extractEpicenter(doc, base)
		if err != nil {
			return nil, invalid(doc, err)
		}
		return epi, nil

	default:
		epi, err := extractEpicenter(doc, base)
		if err != nil {
			return nil, invalid(doc, err)
		}
		prefs, err := extractIntensities(doc)
		if err != nil {
			return nil, invalid(doc, err)
		}
		return &DetailReport{EpicenterReport: *epi, Prefectures: prefs}, nil
	}
}

func invalid(doc *Document, err error) *quake.ParseError {
	return &quake.ParseError{URL: doc.URI, Err: err, Body: doc.Raw}
}

func extractBase(doc *Document) (Base, error) {
	head := doc.Head

	eventID := strings.TrimSpace(head.EventID)
	if !eventIDRegex.MatchString(eventID) {
		return Base{}, fmt.Errorf("event id %q is not a timestamp id", eventID)
	}

	reportTime, err := time.Parse(time.RFC3339, strings.TrimSpace(head.ReportDateTime))
	if err != nil {
		return Base{}, fmt.Errorf("report datetime: %w", err)
	}

	var origin string
	if eq := doc.Body.Earthquake; eq != nil && strings.TrimSpace(eq.OriginTime) != "" {
		origin = eq.OriginTime
	} else {
		origin = head.TargetDateTime
	}
	originTime, err := time.Parse(time.RFC3339, strings.TrimSpace(origin))
	if err != nil {
		return Base{}, fmt.Errorf("origin datetime: %w", err)
	}

	return Base{
		EditorialOffice: strings.TrimSpace(doc.Control.EditorialOffice),
		ReportTime:      reportTime,
		OriginTime:      originTime,
		EventID:         eventID,
	}, nil
}

func extractSummaryItems(doc *Document) ([]SummaryItem, error) {
	var items []SummaryItem
	for _, info := range doc.Head.Headline.Information {
		for _, item := range info.Items {
			areas := make([]string, 0, len(item.Areas))
			for _, area := range item.Areas {
				areas = append(areas, strings.TrimSpace(area.Name))
			}
			items = append(items, SummaryItem{
				Kind:  strings.TrimSpace(item.KindName),
				Areas: areas,
			})
		}
	}
	if len(items) == 0 {
		return nil, errors.New("missing headline information items")
	}
	return items, nil
}

func extractEpicenter(doc *Document, base Base) (*EpicenterReport, error) {
	eq := doc.Body.Earthquake
	if eq == nil {
		return nil, errors.New("missing Earthquake section")
	}
	if eq.Hypocenter == nil {
		return nil, errors.New("missing Hypocenter")
	}
	area := eq.Hypocenter.Area
	lat, lon, err := ParseCoordinate(strings.TrimSpace(area.Coordinate.Value))
	if err != nil {
		return nil, err
	}
	return &EpicenterReport{
		Base: base,
		Epicenter: Epicenter{
			Name:        strings.TrimSpace(area.Name),
			Description: strings.TrimSpace(area.Coordinate.Description),
			Latitude:    lat,
			Longitude:   lon,
		},
		Magnitude: strings.TrimSpace(eq.Magnitude.Value),
	}, nil
}

func extractIntensities(doc *Document) ([]PrefIntensity, error) {
	in := doc.Body.Intensity
	if in == nil || len(in.Observation.Prefs) == 0 {
		return nil, errors.New("missing intensity observation")
	}
	prefs := make([]PrefIntensity, 0, len(in.Observation.Prefs))
	for _, p := range in.Observation.Prefs {
		pref := PrefIntensity{Name: strings.TrimSpace(p.Name)}
		for _, a := range p.Areas {
			pref.Areas = append(pref.Areas, AreaIntensity{
				Name:   strings.TrimSpace(a.Name),
				MaxInt: strings.TrimSpace(a.MaxInt),
			})
		}
		prefs = append(prefs, pref)
	}
	return prefs, nil
}
