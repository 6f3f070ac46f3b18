package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"callswitch/internal/media"

	"github.com/pion/rtp"
)

// SpeechPipeline is the external STT/LLM/TTS collaborator. Inbound
// audio is 16-bit linear PCM at media.PipelineRate; synthesized audio
// comes back at SynthesisRate and is re-encoded before transmission.
type SpeechPipeline interface {
	// SendAudio hands one chunk of caller audio to the pipeline. It
	// must honor ctx cancellation.
	SendAudio(ctx context.Context, callID string, pcm []int16) error
	// Synthesized returns the stream of attendant audio for a call.
	// The channel closes when the pipeline is done with the call.
	Synthesized(callID string) <-chan []int16
	SynthesisRate() int
}

// PacketWriter transmits one outbound RTP packet for a call.
type PacketWriter interface {
	WritePacket(pkt *rtp.Packet) error
}

// Bridge pumps media between the telephony trunk and the speech
// pipeline for one established call. It owns the call's codec and
// resampler state; nothing here is shared across calls.
//
// Pipeline failures degrade that direction to silence and are reported
// through onDegraded; they never terminate the call.
type Bridge struct {
	callID     string
	log        *slog.Logger
	pipeline   SpeechPipeline
	writer     PacketWriter
	onDegraded func(direction string, err error)

	up  *media.Resampler
	pkt *media.Packetizer

	inbound chan []byte

	startOnce sync.Once

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc

	done chan struct{}
}

// Option tweaks bridge construction.
type Option func(*Bridge)

// WithDegradedFunc registers the non-fatal failure callback.
func WithDegradedFunc(fn func(direction string, err error)) Option {
	return func(b *Bridge) { b.onDegraded = fn }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// New creates a bridge for callID speaking the given trunk codec.
func New(callID string, codec media.Codec, pipeline SpeechPipeline, writer PacketWriter, opts ...Option) *Bridge {
	b := &Bridge{
		callID:   callID,
		log:      slog.Default(),
		pipeline: pipeline,
		writer:   writer,
		up:       media.NewResampler(media.SourceRate, media.PipelineRate),
		pkt:      media.NewPacketizer(0, codec, pipeline.SynthesisRate()),
		// ~200ms of backlog; the trunk keeps sending whether or not
		// the pipeline keeps up, so overflow drops the oldest frame.
		inbound: make(chan []byte, 10),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With("call_id", callID)
	return b
}

// Start launches the inbound and outbound pump flows. Both exit when
// ctx is cancelled or Stop is called.
func (b *Bridge) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		b.mu.Lock()
		b.cancel = cancel
		if b.stopped {
			// Stop beat Start; the pumps below exit immediately.
			cancel()
		}
		b.mu.Unlock()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			b.pumpInbound(ctx)
		}()
		go func() {
			defer wg.Done()
			b.pumpOutbound(ctx)
		}()
		go func() {
			wg.Wait()
			close(b.done)
		}()
	})
}

// HandlePacket enqueues one inbound RTP datagram. It never blocks the
// transport: when the backlog is full the oldest frame is dropped.
func (b *Bridge) HandlePacket(datagram []byte) {
	frame := make([]byte, len(datagram))
	copy(frame, datagram)

	select {
	case b.inbound <- frame:
	default:
		select {
		case <-b.inbound:
			select {
			case b.inbound <- frame:
			default:
			}
		default:
		}
	}
}

// Stop cancels both flows and discards buffered audio. Safe to call
// multiple times and from the call's terminal transition.
func (b *Bridge) Stop() {
	b.mu.Lock()
	b.stopped = true
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done closes once both flows have exited.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

func (b *Bridge) pumpInbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case datagram := <-b.inbound:
			pcm, ok := media.ExtractAudio(datagram, b.up)
			if !ok {
				continue
			}
			if err := b.pipeline.SendAudio(ctx, b.callID, pcm); err != nil {
				if ctx.Err() != nil {
					return
				}
				b.log.Warn("speech pipeline rejected audio", "err", err)
				b.degraded("inbound", err)
			}
		}
	}
}

// outboundQueueMax bounds the paced transmit backlog to 10s of audio
// (500 20ms frames). A pipeline synthesizing faster than real time for
// the whole call would otherwise grow the queue without limit.
const outboundQueueMax = 500

// appendBounded appends pkts to queue, dropping the oldest entries
// once the backlog exceeds max. The freshest audio survives.
func appendBounded(queue, pkts []*rtp.Packet, max int) []*rtp.Packet {
	queue = append(queue, pkts...)
	if over := len(queue) - max; over > 0 {
		queue = queue[over:]
	}
	return queue
}

func (b *Bridge) pumpOutbound(ctx context.Context) {
	synth := b.pipeline.Synthesized(b.callID)

	// Packets leave on a fixed cadence regardless of how synthesis
	// bursts arrive; the queue absorbs the difference.
	ticker := time.NewTicker(media.FrameDuration)
	defer ticker.Stop()

	var queue []*rtp.Packet
	for {
		select {
		case <-ctx.Done():
			return
		case pcm, ok := <-synth:
			if !ok {
				synth = nil
				continue
			}
			queue = appendBounded(queue, b.pkt.Packetize(pcm), outboundQueueMax)
		case <-ticker.C:
			if len(queue) == 0 {
				continue
			}
			pkt := queue[0]
			queue = queue[1:]
			if err := b.writer.WritePacket(pkt); err != nil {
				b.log.Warn("rtp transmit failed", "err", err)
				b.degraded("outbound", err)
			}
		}
	}
}

func (b *Bridge) degraded(direction string, err error) {
	if b.onDegraded != nil {
		b.onDegraded(direction, err)
	}
}
