package signaling

// EventType classifies signaling notifications arriving from the SIP
// stack in front of the switch.
type EventType string

const (
	EventCallCreated EventType = "call_created"
	EventProvisional EventType = "provisional"
	EventRinging     EventType = "ringing"
	EventAnswer      EventType = "answer"
	EventBye         EventType = "bye"
	EventCancel      EventType = "cancel"
	EventError       EventType = "error"
)

// Event is one signaling notification for a call. CallID is the
// switch-assigned identifier; for call_created it is empty and the
// dispatcher mints one. The SIP identifiers describe the incoming leg.
type Event struct {
	Type   EventType `json:"type"`
	CallID string    `json:"call_id"`

	SIPCallID  string `json:"sip_call_id,omitempty"`
	FromURI    string `json:"from_uri,omitempty"`
	ToURI      string `json:"to_uri,omitempty"`
	ContactURI string `json:"contact_uri,omitempty"`
	Tag        string `json:"tag,omitempty"`

	// Reason accompanies bye, cancel, and error events.
	Reason string `json:"reason,omitempty"`

	// PayloadType is the negotiated RTP payload type, set on answer.
	PayloadType uint8 `json:"payload_type,omitempty"`
}
