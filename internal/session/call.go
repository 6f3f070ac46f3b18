package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State of a call session.
//
// Transitions are monotonic: a terminal state is never left, and any
// write against a terminal call is a no-op rather than an error.
type State string

const (
	StateInitial     State = "initial"
	StateProceeding  State = "proceeding"
	StateRinging     State = "ringing"
	StateEstablished State = "established"
	StateTerminated  State = "terminated"
	StateFailed      State = "failed"
)

// Terminal reports whether no further transitions are permitted.
func (s State) Terminal() bool {
	return s == StateTerminated || s == StateFailed
}

// Active reports whether the call is in a live signaling or media phase.
func (s State) Active() bool {
	switch s {
	case StateProceeding, StateRinging, StateEstablished:
		return true
	default:
		return false
	}
}

// rank orders the non-terminal states so provisional transitions never
// move a call backwards (a late "proceeding" after "ringing" is a no-op).
var stateRank = map[State]int{
	StateInitial:     0,
	StateProceeding:  1,
	StateRinging:     2,
	StateEstablished: 3,
}

// MediaSession is the cancellable media pump attached to a call. Stop
// must be safe to call more than once and must not block.
type MediaSession interface {
	Stop()
}

// Call is the aggregate root of one call from creation to termination.
//
// Invariants:
//   - answer time is set iff the call has ever reached established
//   - end time and termination reason are set iff the call is terminal
//   - all mutation goes through the transition methods below; the
//     single owning signaling flow drives them in arrival order
type Call struct {
	mu sync.Mutex

	id    string
	state State

	incoming *Leg
	outgoing *Leg

	startTime         time.Time
	answerTime        time.Time
	endTime           time.Time
	terminationReason string

	media      MediaSession
	onTerminal func(*Call)

	clock func() time.Time
}

// NewCall creates a call in the initial state. A nil clock uses
// time.Now; tests inject a deterministic one.
func NewCall(clock func() time.Time) *Call {
	if clock == nil {
		clock = time.Now
	}
	return &Call{
		id:        uuid.NewString(),
		state:     StateInitial,
		startTime: clock(),
		clock:     clock,
	}
}

func (c *Call) ID() string {
	return c.id
}

func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Call) StartTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startTime
}

// AnswerTime returns the answer timestamp; ok is false if the call has
// never been established.
func (c *Call) AnswerTime() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answerTime, !c.answerTime.IsZero()
}

// EndTime returns the termination timestamp; ok is false for
// non-terminal calls.
func (c *Call) EndTime() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endTime, !c.endTime.IsZero()
}

func (c *Call) TerminationReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminationReason
}

// SetIncomingLeg attaches the inbound leg. Ignored once terminal.
func (c *Call) SetIncomingLeg(l *Leg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Terminal() {
		return
	}
	c.incoming = l
}

// SetOutgoingLeg attaches the outbound leg. Ignored once terminal.
func (c *Call) SetOutgoingLeg(l *Leg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Terminal() {
		return
	}
	c.outgoing = l
}

func (c *Call) IncomingLeg() *Leg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.incoming
}

func (c *Call) OutgoingLeg() *Leg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outgoing
}

// SetMediaSession attaches the call's media pump so termination can
// cancel it. Attaching to a terminal call stops the pump immediately.
func (c *Call) SetMediaSession(m MediaSession) {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		if m != nil {
			m.Stop()
		}
		return
	}
	c.media = m
	c.mu.Unlock()
}

// OnTerminal registers a hook invoked exactly once when the call first
// enters a terminal state. The hook runs outside the call lock.
func (c *Call) OnTerminal(fn func(*Call)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTerminal = fn
}

// MarkProceeding records that the signaling dialog opened. Forward-only;
// no-op from ringing, established, or terminal states.
func (c *Call) MarkProceeding() {
	c.advance(StateProceeding)
}

// MarkRinging records that the destination is alerting.
func (c *Call) MarkRinging() {
	c.advance(StateRinging)
}

func (c *Call) advance(to State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Terminal() {
		return
	}
	if stateRank[to] <= stateRank[c.state] {
		return
	}
	c.state = to
}

// MarkEstablished moves the call to established and stamps the answer
// time if not already set. Idempotent once established.
func (c *Call) MarkEstablished() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Terminal() {
		return
	}
	c.state = StateEstablished
	if c.answerTime.IsZero() {
		c.answerTime = c.clock()
	}
}

// MarkTerminated ends the call gracefully. No-op if already terminal.
func (c *Call) MarkTerminated(reason string) {
	c.finish(StateTerminated, reason)
}

// MarkFailed ends the call abnormally. No-op if already terminal.
func (c *Call) MarkFailed(reason string) {
	c.finish(StateFailed, reason)
}

func (c *Call) finish(to State, reason string) {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	c.state = to
	c.endTime = c.clock()
	c.terminationReason = reason
	media := c.media
	hook := c.onTerminal
	c.mu.Unlock()

	// Cancellation is synchronous from the state machine's point of
	// view: by the time finish returns, the media flows are signalled.
	if media != nil {
		media.Stop()
	}
	if hook != nil {
		hook(c)
	}
}

// DurationSeconds returns the whole-second distance between answer and
// end. ok is false when either timestamp is missing: a call that never
// answered has no duration, not a zero one.
func (c *Call) DurationSeconds() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answerTime.IsZero() || c.endTime.IsZero() {
		return 0, false
	}
	return int64(c.endTime.Sub(c.answerTime).Seconds()), true
}

// IsActive reports whether the call is in proceeding, ringing, or
// established.
func (c *Call) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Active()
}

// CallerURI is the incoming leg's from-URI; ok is false without an
// incoming leg.
func (c *Call) CallerURI() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.incoming == nil {
		return "", false
	}
	return c.incoming.FromURI, true
}

// CalleeURI is the incoming leg's to-URI; ok is false without an
// incoming leg.
func (c *Call) CalleeURI() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.incoming == nil {
		return "", false
	}
	return c.incoming.ToURI, true
}

// CalleeExtension is the user part of the callee URI, the identity the
// event gateway authorizes subscribers against.
func (c *Call) CalleeExtension() (string, bool) {
	uri, ok := c.CalleeURI()
	if !ok {
		return "", false
	}
	ext := ExtensionFromURI(uri)
	if ext == "" {
		return "", false
	}
	return ext, true
}
