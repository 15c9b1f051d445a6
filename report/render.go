package report

import (
	"fmt"
	"strings"

	"quake-notifier/pkg/quake"
)

// StatusNormal is the control status of regular operational reports.
const StatusNormal = "通常"

// Failure distinguishes the two diagnostic message forms.
type Failure int

const (
	// FailureLoad means the document could not be retrieved.
	FailureLoad Failure = iota
	// FailureParse means the document was retrieved but could not be interpreted.
	FailureParse
)

// Render builds the notification message for an extracted report.
func Render(r Report, doc *Document) *quake.Message {
	var text strings.Builder
	if status := strings.TrimSpace(doc.Control.Status); status != "" && status != StatusNormal {
		text.WriteString("(" + status + ")")
	}
	text.WriteString(strings.TrimSpace(doc.Head.Headline.Text))

	return &quake.Message{
		Username:    fmt.Sprintf("%s(%s)", strings.TrimSpace(doc.Head.Title), strings.TrimSpace(doc.Head.InfoType)),
		Text:        text.String(),
		Attachments: []quake.Attachment{r.Attachment()},
	}
}

// Diagnostic builds the message sent to the error target when a detail
// document cannot be loaded or parsed.
func Diagnostic(f Failure, uri string, err error) *quake.Message {
	verb := "load"
	if f == FailureParse {
		verb = "parse"
	}
	return &quake.Message{
		Text: fmt.Sprintf("cannot %s XML %q\nError: %v", verb, uri, err),
	}
}

// FailureOf reports which diagnostic form an error from Load or Extract calls for.
func FailureOf(err error) Failure {
	if quake.IsParseError(err) {
		return FailureParse
	}
	return FailureLoad
}
