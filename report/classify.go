package report

import "strings"

// Kind identifies which report format a document carries.
type Kind int

// Recognized report kinds.
const (
	KindUnknown   Kind = iota
	KindSummary        // 震度速報: seismic intensity quick report
	KindEpicenter      // 震源に関する情報: hypocenter information
	KindDetail         // 震源・震度情報: hypocenter and intensity information
)

// Head titles of the recognized reports.
const (
	TitleSummary   = "震度速報"
	TitleEpicenter = "震源に関する情報"
	TitleDetail    = "震源・震度情報"
)

func (k Kind) String() string {
	switch k {
	case KindSummary:
		return "summary"
	case KindEpicenter:
		return "epicenter"
	case KindDetail:
		return "detail"
	default:
		return "unknown"
	}
}

// Classify maps a document to its report kind by head title.
func Classify(doc *Document) Kind {
	if doc == nil || doc.Head == nil {
		return KindUnknown
	}
	switch strings.TrimSpace(doc.Head.Title) {
	case TitleSummary:
		return KindSummary
	case TitleEpicenter:
		return KindEpicenter
	case TitleDetail:
		return KindDetail
	default:
		return KindUnknown
	}
}
