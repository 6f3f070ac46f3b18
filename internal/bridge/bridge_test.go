package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"callswitch/internal/media"

	"github.com/pion/rtp"
)

type fakePipeline struct {
	mu       sync.Mutex
	received [][]int16
	sendErr  error
	synth    chan []int16
	rate     int
}

func newFakePipeline(rate int) *fakePipeline {
	return &fakePipeline{synth: make(chan []int16, 16), rate: rate}
}

func (p *fakePipeline) SendAudio(ctx context.Context, callID string, pcm []int16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return p.sendErr
	}
	cp := make([]int16, len(pcm))
	copy(cp, pcm)
	p.received = append(p.received, cp)
	return nil
}

func (p *fakePipeline) Synthesized(callID string) <-chan []int16 { return p.synth }
func (p *fakePipeline) SynthesisRate() int                       { return p.rate }

func (p *fakePipeline) receivedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.received)
}

type fakeWriter struct {
	mu   sync.Mutex
	pkts []*rtp.Packet
}

func (w *fakeWriter) WritePacket(pkt *rtp.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pkts = append(w.pkts, pkt)
	return nil
}

func (w *fakeWriter) packets() []*rtp.Packet {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*rtp.Packet, len(w.pkts))
	copy(out, w.pkts)
	return out
}

func ulawDatagram(t *testing.T) []byte {
	t.Helper()
	payload := make([]byte, media.FrameSamples)
	for i := range payload {
		payload[i] = 0xFF
	}
	pkt := &rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: media.PayloadTypePCMU, SSRC: 5},
		Payload: payload,
	}
	buf, err := pkt.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return buf
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBridgeForwardsInboundAudioToPipeline(t *testing.T) {
	pipe := newFakePipeline(8000)
	w := &fakeWriter{}
	b := New("call-1", media.CodecULaw, pipe, w)
	b.Start(context.Background())
	defer b.Stop()

	b.HandlePacket(ulawDatagram(t))
	waitFor(t, func() bool { return pipe.receivedCount() > 0 }, "pipeline audio")

	pipe.mu.Lock()
	pcm := pipe.received[0]
	pipe.mu.Unlock()
	if len(pcm) < 2*media.FrameSamples-2 {
		t.Fatalf("expected upsampled audio, got %d samples", len(pcm))
	}
}

func TestBridgeFiltersDTMFFromPipeline(t *testing.T) {
	pipe := newFakePipeline(8000)
	b := New("call-1", media.CodecULaw, pipe, &fakeWriter{})
	b.Start(context.Background())
	defer b.Stop()

	dtmf := &rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: media.PayloadTypeTelephoneEvent, SSRC: 5},
		Payload: []byte{0x05, 0x0A, 0x00, 0xA0},
	}
	buf, err := dtmf.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b.HandlePacket(buf)
	b.HandlePacket(ulawDatagram(t))

	waitFor(t, func() bool { return pipe.receivedCount() > 0 }, "pipeline audio")
	if pipe.receivedCount() != 1 {
		t.Fatalf("expected only the audio packet through, got %d", pipe.receivedCount())
	}
}

func TestBridgeTransmitsSynthesizedAudio(t *testing.T) {
	pipe := newFakePipeline(8000)
	w := &fakeWriter{}
	b := New("call-1", media.CodecULaw, pipe, w)
	b.Start(context.Background())
	defer b.Stop()

	pipe.synth <- make([]int16, 2*media.FrameSamples)
	waitFor(t, func() bool { return len(w.packets()) >= 2 }, "outbound packets")

	pkts := w.packets()
	if pkts[1].SequenceNumber != pkts[0].SequenceNumber+1 {
		t.Fatalf("seq %d then %d, want +1", pkts[0].SequenceNumber, pkts[1].SequenceNumber)
	}
	if pkts[1].Timestamp != pkts[0].Timestamp+media.FrameSamples {
		t.Fatalf("ts %d then %d, want +%d", pkts[0].Timestamp, pkts[1].Timestamp, media.FrameSamples)
	}
	if pkts[0].PayloadType != media.PayloadTypePCMU {
		t.Fatalf("payload type %d, want %d", pkts[0].PayloadType, media.PayloadTypePCMU)
	}
}

func TestBridgeStopCancelsBothFlows(t *testing.T) {
	pipe := newFakePipeline(8000)
	w := &fakeWriter{}
	b := New("call-1", media.CodecULaw, pipe, w)
	b.Start(context.Background())

	b.Stop()
	b.Stop() // idempotent

	select {
	case <-b.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("flows did not exit after Stop")
	}

	// Audio after stop goes nowhere.
	b.HandlePacket(ulawDatagram(t))
	time.Sleep(30 * time.Millisecond)
	if pipe.receivedCount() != 0 {
		t.Fatalf("pipeline received audio after stop")
	}
}

func TestBridgePipelineFailureIsNonFatal(t *testing.T) {
	pipe := newFakePipeline(8000)
	pipe.sendErr = errors.New("transcriber down")

	var mu sync.Mutex
	var degraded []string
	b := New("call-1", media.CodecULaw, pipe, &fakeWriter{},
		WithDegradedFunc(func(direction string, err error) {
			mu.Lock()
			degraded = append(degraded, direction)
			mu.Unlock()
		}))
	b.Start(context.Background())
	defer b.Stop()

	b.HandlePacket(ulawDatagram(t))
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(degraded) > 0
	}, "degraded report")

	mu.Lock()
	dir := degraded[0]
	mu.Unlock()
	if dir != "inbound" {
		t.Fatalf("degraded direction %q, want inbound", dir)
	}

	// The bridge keeps running; a recovered pipeline gets audio again.
	pipe.mu.Lock()
	pipe.sendErr = nil
	pipe.mu.Unlock()
	b.HandlePacket(ulawDatagram(t))
	waitFor(t, func() bool { return pipe.receivedCount() > 0 }, "recovered audio")
}

func TestOutboundBacklogDropsOldestWhenFull(t *testing.T) {
	mk := func(seq uint16) *rtp.Packet {
		return &rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: seq}}
	}

	var queue []*rtp.Packet
	for seq := uint16(0); seq < 8; seq++ {
		queue = appendBounded(queue, []*rtp.Packet{mk(seq)}, 5)
	}
	if len(queue) != 5 {
		t.Fatalf("queue length = %d, want 5", len(queue))
	}
	// The oldest three were dropped; 3..7 remain in order.
	for i, pkt := range queue {
		if want := uint16(i + 3); pkt.SequenceNumber != want {
			t.Errorf("queue[%d].SequenceNumber = %d, want %d", i, pkt.SequenceNumber, want)
		}
	}

	// A burst larger than the cap keeps only its freshest tail.
	burst := make([]*rtp.Packet, 12)
	for i := range burst {
		burst[i] = mk(uint16(100 + i))
	}
	queue = appendBounded(nil, burst, 5)
	if len(queue) != 5 || queue[0].SequenceNumber != 107 || queue[4].SequenceNumber != 111 {
		t.Fatalf("burst tail = len %d first %d last %d", len(queue), queue[0].SequenceNumber, queue[len(queue)-1].SequenceNumber)
	}
}
