package federation

import (
	"encoding/json"
	"html"
	"regexp"
	"strings"
)

// Kind is the closed set of inbound activity types this core understands.
// Everything else decodes to KindUnknown and is always a no-op.
type Kind int

const (
	KindUnknown Kind = iota
	KindFollow
	KindUndo
	KindDelete
	KindLike
	KindAnnounce
	KindCreate
)

func (k Kind) String() string {
	switch k {
	case KindFollow:
		return "Follow"
	case KindUndo:
		return "Undo"
	case KindDelete:
		return "Delete"
	case KindLike:
		return "Like"
	case KindAnnounce:
		return "Announce"
	case KindCreate:
		return "Create"
	}
	return "Unknown"
}

// KindOf maps the JSON type field onto the closed enumeration.
func KindOf(t string) Kind {
	switch t {
	case "Follow":
		return KindFollow
	case "Undo":
		return KindUndo
	case "Delete":
		return KindDelete
	case "Like":
		return KindLike
	case "Announce":
		return KindAnnounce
	case "Create":
		return KindCreate
	}
	return KindUnknown
}

// Activity is the generic inbound envelope. Object stays raw until a handler
// knows which shape to expect.
type Activity struct {
	Context json.RawMessage `json:"@context"`
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Actor   string          `json:"actor"`
	Object  json.RawMessage `json:"object"`
}

func (a *Activity) Kind() Kind { return KindOf(a.Type) }

// Decode parses an inbound body. ok is false only for malformed JSON; a
// parseable body with missing fields still decodes, and the handlers decide
// what to do with it.
func Decode(raw []byte) (a Activity, ok bool) {
	if err := json.Unmarshal(raw, &a); err != nil {
		return Activity{}, false
	}
	return a, true
}

// ObjectURI extracts the object as a URI: either a bare string or the id of
// an embedded object. Empty when neither shape applies.
func (a *Activity) ObjectURI() string {
	if len(a.Object) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(a.Object, &s); err == nil {
		return s
	}

	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(a.Object, &obj); err == nil {
		return obj.ID
	}
	return ""
}

// NestedActivity decodes the object as an embedded activity, as in
// Undo{object: Follow{...}}. ok is false when the object is absent, a bare
// string, or otherwise not an object.
func (a *Activity) NestedActivity() (nested Activity, ok bool) {
	if len(a.Object) == 0 || a.Object[0] != '{' {
		return Activity{}, false
	}
	if err := json.Unmarshal(a.Object, &nested); err != nil {
		return Activity{}, false
	}
	return nested, true
}

// Note is the object payload of Create activities this core accepts.
type Note struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	InReplyTo    string `json:"inReplyTo"`
	Content      string `json:"content"`
	AttributedTo string `json:"attributedTo"`
}

// NoteObject decodes the object as a Note. ok is false when the object is
// not an embedded object.
func (a *Activity) NoteObject() (n Note, ok bool) {
	if len(a.Object) == 0 || a.Object[0] != '{' {
		return Note{}, false
	}
	if err := json.Unmarshal(a.Object, &n); err != nil {
		return Note{}, false
	}
	return n, true
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// StripMarkup reduces remote HTML content to trimmed plain text. Used to
// decide whether a reply has any content at all and to store its body.
func StripMarkup(content string) string {
	stripped := tagPattern.ReplaceAllString(content, " ")
	stripped = html.UnescapeString(stripped)
	return strings.TrimSpace(strings.Join(strings.Fields(stripped), " "))
}
