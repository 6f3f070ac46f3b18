package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Direction of one signaling leg relative to the switch.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Leg is one side of a call's signaling dialog. Fields are immutable
// after creation except the CSeq counter, which only the owning Call
// advances; a Leg is never shared between calls.
type Leg struct {
	ID         string
	Direction  Direction
	SIPCallID  string
	FromURI    string
	ToURI      string
	ContactURI string
	Tag        string
	CreatedAt  time.Time

	cseq uint32
}

// NewLeg creates a leg with a fresh identifier and the CSeq counter at 1.
func NewLeg(dir Direction, sipCallID, fromURI, toURI, contactURI, tag string, now time.Time) *Leg {
	return &Leg{
		ID:         uuid.NewString(),
		Direction:  dir,
		SIPCallID:  sipCallID,
		FromURI:    fromURI,
		ToURI:      toURI,
		ContactURI: contactURI,
		Tag:        tag,
		CreatedAt:  now,
		cseq:       1,
	}
}

// CSeq returns the current sequence number for the leg's dialog.
func (l *Leg) CSeq() uint32 { return l.cseq }

// NextCSeq returns the sequence number to use for the next outgoing
// request on this leg and advances the counter. Only the owning Call
// may invoke it.
func (l *Leg) NextCSeq() uint32 {
	n := l.cseq
	l.cseq++
	return n
}

// ExtensionFromURI extracts the user part of a SIP URI, e.g.
// "sip:2001@pbx.example.com" yields "2001". Returns "" when the URI
// has no user part.
func ExtensionFromURI(uri string) string {
	s := strings.TrimSpace(uri)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimPrefix(s, "sips:")
	s = strings.TrimPrefix(s, "sip:")
	at := strings.IndexByte(s, '@')
	if at <= 0 {
		return ""
	}
	return s[:at]
}
