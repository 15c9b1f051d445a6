// Package quake contains the core domain types for the JMA earthquake notification service.
package quake

import (
	"encoding/json"
	"sort"
	"time"
)

// Entry is a single bulletin in the polled feed.
type Entry struct {
	ID      string // Detail-link URL, unique per bulletin
	Title   string
	Summary string // Plain text summary content
	Link    string // URL of the JMA XML detail document
}

// IDSet is a set of entry identities.
// It is persisted as a sorted JSON array.
type IDSet map[string]struct{}

// NewIDSet builds a set from the given ids.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in lexical order.
func (s IDSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MarshalJSON implements json.Marshaler.
func (s IDSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *IDSet) UnmarshalJSON(b []byte) error {
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return err
	}
	if ids == nil {
		*s = nil
		return nil
	}
	*s = NewIDSet(ids...)
	return nil
}

// State is the dedup record persisted between runs.
// Seen holds only the identities of the most recent fetch, not a cumulative history.
type State struct {
	LastModified time.Time `json:"lastModified"` // Last-Modified of the last fetched feed document
	Seen         IDSet     `json:"entry"`        // Entry IDs of the most recent fetch
}

// Field is a titled value inside an attachment.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// Action is a link button inside an attachment.
type Action struct {
	Type string `json:"type"`
	Text string `json:"text"`
	URL  string `json:"url"`
}

// Attachment is the structured part of a notification.
type Attachment struct {
	Footer   string   `json:"footer,omitempty"`
	TS       int64    `json:"ts,omitempty"` // Unix epoch seconds
	Fields   []Field  `json:"fields,omitempty"`
	Actions  []Action `json:"actions,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
}

// Message is a rendered notification in Slack incoming-webhook format.
type Message struct {
	Username    string       `json:"username,omitempty"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Targets holds the webhook groups a message can be routed to.
type Targets struct {
	Notify []string // One or more endpoints for regular notifications
	Error  string   // Exactly one endpoint for diagnostics
}

// Delivery is the settled outcome of posting a message to one webhook.
type Delivery struct {
	URL        string
	StatusCode int
	Duration   time.Duration
	Err        error
}

// OK reports whether the delivery succeeded.
func (d Delivery) OK() bool {
	return d.Err == nil
}
