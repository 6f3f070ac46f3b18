package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"callswitch/internal/bridge"
	"callswitch/internal/media"
	"callswitch/internal/session"
	"callswitch/pkg/utils"
)

// Broadcaster fans a call-scoped event out to gateway subscribers.
type Broadcaster interface {
	Broadcast(callID string, eventType string, data map[string]any)
}

// CDREmitter records the terminal state of a call.
type CDREmitter interface {
	Emit(ctx context.Context, c *session.Call)
}

// WriterFactory opens the RTP return path for one answered call.
type WriterFactory func(callID string) (bridge.PacketWriter, error)

// ErrCallCapReached rejects new calls for an extension already at its
// concurrent-call limit.
var ErrCallCapReached = errors.New("extension call cap reached")

// ErrUnknownCall rejects events that reference no registered call.
var ErrUnknownCall = errors.New("unknown call")

const callSlotTTL = 2 * time.Hour

// Config wires the dispatcher's collaborators. Registry and NewWriter
// are required; everything else degrades gracefully when nil.
type Config struct {
	Registry    *session.Registry
	Pipeline    bridge.SpeechPipeline
	Broadcaster Broadcaster
	CDR         CDREmitter
	NewWriter   WriterFactory

	// Redis enforces the per-extension concurrent-call cap when
	// ExtensionCallCap > 0.
	Redis            *redis.Client
	ExtensionCallCap int

	Logger *slog.Logger
	Clock  func() time.Time
}

// Dispatcher drives call sessions from signaling events and routes
// media datagrams to the per-call bridge. One dispatcher serves the
// whole switch; per-call ordering is the caller's responsibility, as
// SIP events for one dialog arrive on one flow.
type Dispatcher struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	bridges map[string]*callMedia
}

// callMedia pairs a call's bridge with the transport it writes to, so
// termination can release both.
type callMedia struct {
	bridge *bridge.Bridge
	closer func()
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Dispatcher{
		cfg:     cfg,
		log:     cfg.Logger,
		bridges: make(map[string]*callMedia),
	}
}

// SetWriterFactory installs the return-path factory after
// construction. The factory usually needs the dispatcher's own
// HandleMedia for the inbound direction, which makes this a two-step
// wiring. Must be called before any answer event is handled.
func (d *Dispatcher) SetWriterFactory(fn WriterFactory) {
	d.cfg.NewWriter = fn
}

// HandleEvent applies one signaling event. For call_created it returns
// the new call; for everything else it returns the affected call.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev Event) (*session.Call, error) {
	if ev.Type == EventCallCreated {
		return d.createCall(ctx, ev)
	}

	call, found := d.cfg.Registry.Get(ev.CallID)
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCall, ev.CallID)
	}

	switch ev.Type {
	case EventProvisional:
		call.MarkProceeding()
		d.broadcast(call, "call_proceeding", nil)
	case EventRinging:
		call.MarkRinging()
		d.broadcast(call, "call_ringing", nil)
	case EventAnswer:
		call.MarkEstablished()
		if call.State() == session.StateEstablished {
			d.attachMedia(ctx, call, ev.PayloadType)
			d.broadcast(call, "call_established", nil)
		}
	case EventBye:
		call.MarkTerminated(reasonOr(ev.Reason, "user_hangup"))
	case EventCancel:
		if call.State() == session.StateEstablished {
			call.MarkTerminated(reasonOr(ev.Reason, "user_hangup"))
		} else {
			call.MarkFailed(reasonOr(ev.Reason, "cancelled"))
		}
	case EventError:
		call.MarkFailed(reasonOr(ev.Reason, "network_error"))
	default:
		return nil, fmt.Errorf("unhandled event type %q", ev.Type)
	}
	return call, nil
}

func (d *Dispatcher) createCall(ctx context.Context, ev Event) (*session.Call, error) {
	ext := session.ExtensionFromURI(ev.ToURI)

	if d.cfg.Redis != nil && d.cfg.ExtensionCallCap > 0 && ext != "" {
		acquired, err := utils.AcquireCallSlot(ctx, d.cfg.Redis, capKey(ext), d.cfg.ExtensionCallCap, callSlotTTL)
		if err != nil {
			// The cap is protective, not load-bearing; a broken
			// limiter must not take call setup down with it.
			d.log.Warn("call cap check failed, admitting call", "extension", ext, "err", err)
		} else if !acquired {
			return nil, fmt.Errorf("%w: %s", ErrCallCapReached, ext)
		}
	}

	call := session.NewCall(d.cfg.Clock)
	call.SetIncomingLeg(session.NewLeg(
		session.DirectionIncoming,
		ev.SIPCallID,
		ev.FromURI,
		ev.ToURI,
		ev.ContactURI,
		ev.Tag,
		d.cfg.Clock(),
	))
	call.OnTerminal(d.onTerminal)
	d.cfg.Registry.Put(call)

	d.log.Info("call created",
		"call_id", call.ID(),
		"sip_call_id", ev.SIPCallID,
		"from", ev.FromURI,
		"to", ev.ToURI,
	)
	d.broadcast(call, "call_created", map[string]any{
		"caller_uri": ev.FromURI,
		"callee_uri": ev.ToURI,
	})
	return call, nil
}

// attachMedia builds and starts the per-call media bridge. Bridge
// construction failure degrades the call to signaling-only; the call
// itself keeps running.
func (d *Dispatcher) attachMedia(ctx context.Context, call *session.Call, payloadType uint8) {
	if d.cfg.Pipeline == nil || d.cfg.NewWriter == nil {
		return
	}

	codec, known := media.CodecForPayloadType(payloadType)
	if !known {
		d.log.Warn("unsupported payload type, media disabled", "call_id", call.ID(), "payload_type", payloadType)
		return
	}
	writer, err := d.cfg.NewWriter(call.ID())
	if err != nil {
		d.log.Error("media writer unavailable, media disabled", "call_id", call.ID(), "err", err)
		return
	}

	b := bridge.New(call.ID(), codec, d.cfg.Pipeline, writer,
		bridge.WithLogger(d.log),
		bridge.WithDegradedFunc(func(direction string, err error) {
			d.broadcast(call, "media_degraded", map[string]any{"direction": direction})
		}),
	)

	cm := &callMedia{bridge: b}
	if closer, canClose := writer.(interface{ Close() }); canClose {
		cm.closer = closer.Close
	}
	d.mu.Lock()
	d.bridges[call.ID()] = cm
	d.mu.Unlock()

	// Start before attaching: SetMediaSession stops the bridge
	// immediately if a terminal event raced the answer, and Stop only
	// reaches running pumps. The bridge's lifetime is bound to the
	// call, not to the request that delivered the answer event.
	b.Start(context.WithoutCancel(ctx))
	call.SetMediaSession(b)
}

// HandleMedia routes one inbound RTP datagram to the call's bridge.
// Datagrams for unknown or media-less calls are dropped.
func (d *Dispatcher) HandleMedia(callID string, datagram []byte) {
	d.mu.Lock()
	cm := d.bridges[callID]
	d.mu.Unlock()
	if cm != nil {
		cm.bridge.HandlePacket(datagram)
	}
}

func (d *Dispatcher) onTerminal(call *session.Call) {
	d.mu.Lock()
	cm := d.bridges[call.ID()]
	delete(d.bridges, call.ID())
	d.mu.Unlock()
	if cm != nil {
		cm.bridge.Stop()
		if cm.closer != nil {
			cm.closer()
		}
	}

	ctx := context.Background()
	if ext, found := call.CalleeExtension(); found && d.cfg.Redis != nil && d.cfg.ExtensionCallCap > 0 {
		if err := utils.ReleaseCallSlot(ctx, d.cfg.Redis, capKey(ext)); err != nil {
			d.log.Warn("call slot release failed", "extension", ext, "err", err)
		}
	}
	if d.cfg.CDR != nil {
		d.cfg.CDR.Emit(ctx, call)
	}

	data := map[string]any{
		"state":  string(call.State()),
		"reason": call.TerminationReason(),
	}
	if dur, found := call.DurationSeconds(); found {
		data["duration_seconds"] = dur
	}
	d.broadcast(call, "call_ended", data)

	d.cfg.Registry.ScheduleRemove(call.ID())
	d.log.Info("call ended",
		"call_id", call.ID(),
		"state", string(call.State()),
		"reason", call.TerminationReason(),
	)
}

func (d *Dispatcher) broadcast(call *session.Call, eventType string, data map[string]any) {
	if d.cfg.Broadcaster == nil {
		return
	}
	d.cfg.Broadcaster.Broadcast(call.ID(), eventType, data)
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}

func capKey(extension string) string {
	return "callcap:" + extension
}
