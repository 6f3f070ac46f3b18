package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
)

// CommandType tags the typed form of a wire message.
type CommandType string

const (
	CmdSubscribeCall   CommandType = "subscribe_call"
	CmdUnsubscribeCall CommandType = "unsubscribe_call"
	CmdSubmitHITL      CommandType = "submit_hitl_response"
)

// Command is the internal, typed form of a subscriber wire message.
// Raw JSON maps never travel past ParseCommand; everything downstream
// operates on this variant.
type Command struct {
	Type   CommandType
	CallID string

	// HITL fields, set only for CmdSubmitHITL.
	ResponseText string
	SaveToKB     bool
	Category     string
}

type wireMessage struct {
	Type         string `json:"type"`
	CallID       string `json:"call_id"`
	ResponseText string `json:"response_text"`
	SaveToKB     bool   `json:"save_to_kb"`
	Category     string `json:"category"`
}

var errUnknownCommand = errors.New("unknown command type")

// ParseCommand validates and converts one wire message. Unknown types
// and malformed JSON return an error; they never panic.
func ParseCommand(data []byte) (Command, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Command{}, fmt.Errorf("malformed message: %w", err)
	}

	switch CommandType(msg.Type) {
	case CmdSubscribeCall, CmdUnsubscribeCall:
		return Command{Type: CommandType(msg.Type), CallID: msg.CallID}, nil
	case CmdSubmitHITL:
		return Command{
			Type:         CmdSubmitHITL,
			CallID:       msg.CallID,
			ResponseText: msg.ResponseText,
			SaveToKB:     msg.SaveToKB,
			Category:     msg.Category,
		}, nil
	default:
		return Command{}, fmt.Errorf("%w: %q", errUnknownCommand, msg.Type)
	}
}

// Structured rejection codes returned on failed subscribe/HITL
// requests. The connection stays open in every case.
const (
	RejectCallIDRequired       = "call_id required"
	RejectServiceUnavailable   = "service unavailable"
	RejectUnauthorized         = "unauthorized"
	RejectCallNotFound         = "call not found"
	RejectForbidden            = "forbidden"
	RejectTooManySubscriptions = "too_many_subscriptions"
)

// Result is the reply to one subscriber command.
type Result struct {
	Success bool   `json:"success"`
	CallID  string `json:"call_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(callID string) Result {
	return Result{Success: true, CallID: callID}
}

func reject(code string) Result {
	return Result{Success: false, Error: code}
}
