package cdr

import (
	"errors"
	"time"

	"callswitch/internal/session"
)

// Record is the call detail record written once a call reaches a
// terminal state. Field names here are the canonical wire and storage
// names; duration is always duration_seconds.
type Record struct {
	CallID            string     `json:"call_id"`
	SIPCallID         string     `json:"sip_call_id,omitempty"`
	CallerURI         string     `json:"caller_uri,omitempty"`
	CalleeURI         string     `json:"callee_uri,omitempty"`
	CalleeExtension   string     `json:"callee_extension,omitempty"`
	State             string     `json:"state"`
	StartTime         time.Time  `json:"start_time"`
	AnswerTime        *time.Time `json:"answer_time,omitempty"`
	EndTime           *time.Time `json:"end_time,omitempty"`
	DurationSeconds   *int64     `json:"duration_seconds,omitempty"`
	TerminationReason string     `json:"termination_reason,omitempty"`
	MediaMode         string     `json:"media_mode,omitempty"`
	Recorded          bool       `json:"recorded"`
	RecordingPath     string     `json:"recording_path,omitempty"`
}

// ErrNotTerminal rejects record creation for calls still in flight.
var ErrNotTerminal = errors.New("call is not terminal")

// FromCall builds a record from a terminated or failed call. The
// duration field is present only when the call was answered and ended;
// unanswered calls carry no duration at all.
func FromCall(c *session.Call) (Record, error) {
	if !c.State().Terminal() {
		return Record{}, ErrNotTerminal
	}

	r := Record{
		CallID:            c.ID(),
		State:             string(c.State()),
		StartTime:         c.StartTime(),
		TerminationReason: c.TerminationReason(),
	}
	if leg := c.IncomingLeg(); leg != nil {
		r.SIPCallID = leg.SIPCallID
	}
	if uri, found := c.CallerURI(); found {
		r.CallerURI = uri
	}
	if uri, found := c.CalleeURI(); found {
		r.CalleeURI = uri
	}
	if ext, found := c.CalleeExtension(); found {
		r.CalleeExtension = ext
	}
	if t, found := c.AnswerTime(); found {
		answered := t
		r.AnswerTime = &answered
	}
	if t, found := c.EndTime(); found {
		ended := t
		r.EndTime = &ended
	}
	if d, found := c.DurationSeconds(); found {
		dur := d
		r.DurationSeconds = &dur
	}
	return r, nil
}
