package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"callswitch/internal/auth"
	"callswitch/internal/session"
)

// TokenDecoder turns a bearer token into a subscriber identity. The
// issuing and verification mechanics belong to the auth collaborator;
// the gateway only consumes the decoded principal.
type TokenDecoder interface {
	DecodeBearer(token string) (auth.Identity, error)
}

// HITLResponse is an operator-supplied answer for the attendant.
type HITLResponse struct {
	Text     string
	SaveToKB bool
	Category string
}

// HITLSink receives authorized human-in-the-loop responses.
type HITLSink interface {
	SubmitResponse(ctx context.Context, callID string, r HITLResponse) error
}

// Sender delivers one JSON-encodable event to a subscriber connection.
type Sender interface {
	Send(v any) error
}

// ErrUnauthorized rejects connection admission.
var ErrUnauthorized = errors.New("unauthorized")

// Session is one admitted subscriber connection. It is owned by the
// Hub and torn down implicitly on disconnect.
type Session struct {
	Extension   string
	Role        string
	ConnectedAt time.Time

	sender Sender
	subs   map[string]struct{} // guarded by Hub.mu
}

// Event is one call-scoped notification fanned out to subscribers.
type Event struct {
	Type      string         `json:"type"`
	CallID    string         `json:"call_id"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Hub manages subscriber sessions and call-scoped broadcast groups.
//
// Authorization rule: a subscriber may join a call's group only when
// its authenticated extension matches the extension of the call's
// callee URI. The hub only reads call state; it never mutates calls.
type Hub struct {
	log     *slog.Logger
	decoder TokenDecoder
	calls   session.Lookup
	hitl    HITLSink
	maxSubs int
	clock   func() time.Time

	mu       sync.Mutex
	sessions map[*Session]struct{}
	groups   map[string]map[*Session]struct{}
}

// NewHub wires the gateway core. calls may be nil during partial
// startup; subscribe then degrades to "service unavailable". maxSubs
// <= 0 applies the default cap of 10.
func NewHub(decoder TokenDecoder, calls session.Lookup, hitl HITLSink, maxSubs int, log *slog.Logger) *Hub {
	if maxSubs <= 0 {
		maxSubs = 10
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:      log,
		decoder:  decoder,
		calls:    calls,
		hitl:     hitl,
		maxSubs:  maxSubs,
		clock:    time.Now,
		sessions: make(map[*Session]struct{}),
		groups:   make(map[string]map[*Session]struct{}),
	}
}

// wellFormedToken is a cheap structural check applied before any
// cryptographic work: three non-empty dot-separated segments. Anything
// else is rejected locally without touching the decoder.
func wellFormedToken(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}

// Admit authenticates a connection and registers its session. No
// session state exists until the token decodes to a valid identity.
func (h *Hub) Admit(token string, sender Sender) (*Session, error) {
	if !wellFormedToken(token) {
		return nil, ErrUnauthorized
	}
	id, err := h.decoder.DecodeBearer(token)
	if err != nil || id.Extension == "" {
		return nil, ErrUnauthorized
	}

	s := &Session{
		Extension:   id.Extension,
		Role:        id.Role,
		ConnectedAt: h.clock(),
		sender:      sender,
		subs:        make(map[string]struct{}),
	}
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()

	h.log.Info("subscriber connected", "extension", id.Extension, "role", id.Role)
	return s, nil
}

// Subscribe admits s into the call's broadcast group after the full
// authorization chain. Every failure is a structured rejection; the
// connection is never closed for one.
func (h *Hub) Subscribe(s *Session, callID string) Result {
	if callID == "" {
		return reject(RejectCallIDRequired)
	}
	if h.calls == nil {
		return reject(RejectServiceUnavailable)
	}
	if s == nil || s.Extension == "" {
		return reject(RejectUnauthorized)
	}

	call, found := h.calls.Get(callID)
	if !found {
		return reject(RejectCallNotFound)
	}
	callee, okExt := call.CalleeExtension()
	if !okExt || callee != s.Extension {
		return reject(RejectForbidden)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, already := s.subs[callID]; !already {
		if len(s.subs) >= h.maxSubs {
			return reject(RejectTooManySubscriptions)
		}
		s.subs[callID] = struct{}{}
		group := h.groups[callID]
		if group == nil {
			group = make(map[*Session]struct{})
			h.groups[callID] = group
		}
		group[s] = struct{}{}
	}
	return ok(callID)
}

// Unsubscribe removes s from the call's group. Always succeeds and is
// idempotent.
func (h *Hub) Unsubscribe(s *Session, callID string) Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropSubscription(s, callID)
	return Result{Success: true}
}

// SubmitHITL forwards an operator answer to the attendant pipeline.
// The submitter must be authorized for the call under the same rule as
// Subscribe.
func (h *Hub) SubmitHITL(ctx context.Context, s *Session, cmd Command) Result {
	if cmd.CallID == "" {
		return reject(RejectCallIDRequired)
	}
	if h.calls == nil || h.hitl == nil {
		return reject(RejectServiceUnavailable)
	}
	if s == nil || s.Extension == "" {
		return reject(RejectUnauthorized)
	}
	call, found := h.calls.Get(cmd.CallID)
	if !found {
		return reject(RejectCallNotFound)
	}
	callee, okExt := call.CalleeExtension()
	if !okExt || callee != s.Extension {
		return reject(RejectForbidden)
	}

	err := h.hitl.SubmitResponse(ctx, cmd.CallID, HITLResponse{
		Text:     cmd.ResponseText,
		SaveToKB: cmd.SaveToKB,
		Category: cmd.Category,
	})
	if err != nil {
		h.log.Warn("hitl handoff failed", "call_id", cmd.CallID, "err", err)
		return reject(RejectServiceUnavailable)
	}
	return ok(cmd.CallID)
}

// Disconnect tears down all of the session's subscriptions and forgets
// it. Idempotent.
func (h *Hub) Disconnect(s *Session) {
	if s == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for callID := range s.subs {
		h.dropSubscription(s, callID)
	}
	delete(h.sessions, s)
}

func (h *Hub) dropSubscription(s *Session, callID string) {
	if s == nil {
		return
	}
	delete(s.subs, callID)
	if group, found := h.groups[callID]; found {
		delete(group, s)
		if len(group) == 0 {
			delete(h.groups, callID)
		}
	}
}

// Broadcast delivers an event to every subscriber of the call's group.
// No members means no work. Send failures are logged, not propagated;
// the reader loop notices a dead connection on its own.
func (h *Hub) Broadcast(callID string, eventType string, data map[string]any) {
	h.mu.Lock()
	members := make([]*Session, 0, len(h.groups[callID]))
	for s := range h.groups[callID] {
		members = append(members, s)
	}
	h.mu.Unlock()

	if len(members) == 0 {
		return
	}
	ev := Event{Type: eventType, CallID: callID, Data: data, Timestamp: h.clock()}
	for _, s := range members {
		if err := s.sender.Send(ev); err != nil {
			h.log.Debug("event delivery failed", "call_id", callID, "extension", s.Extension, "err", err)
		}
	}
}

// SubscriptionCount reports how many calls the session is currently
// subscribed to.
func (h *Hub) SubscriptionCount(s *Session) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(s.subs)
}
