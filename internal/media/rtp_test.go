package media

import (
	"testing"

	"github.com/pion/rtp"
)

func marshalPacket(t *testing.T, pkt *rtp.Packet) []byte {
	t.Helper()
	buf, err := pkt.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return buf
}

func TestExtractAudioDecodesPCMU(t *testing.T) {
	payload := make([]byte, FrameSamples)
	for i := range payload {
		payload[i] = 0xFF // ulaw silence
	}
	buf := marshalPacket(t, &rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: PayloadTypePCMU, SequenceNumber: 7, Timestamp: 1000, SSRC: 42},
		Payload: payload,
	})

	up := NewResampler(SourceRate, PipelineRate)
	pcm, ok := ExtractAudio(buf, up)
	if !ok {
		t.Fatalf("expected audio")
	}
	if len(pcm) < 2*FrameSamples-2 {
		t.Fatalf("expected ~%d samples at 16kHz, got %d", 2*FrameSamples, len(pcm))
	}
	for i, s := range pcm {
		if s != 0 {
			t.Fatalf("sample %d: expected silence, got %d", i, s)
		}
	}
}

func TestExtractAudioHandlesCSRCAndExtension(t *testing.T) {
	pkt := &rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: PayloadTypePCMA, SSRC: 1, CSRC: []uint32{10, 20}},
		Payload: make([]byte, FrameSamples),
	}
	if err := pkt.Header.SetExtension(1, []byte{0xAA}); err != nil {
		t.Fatalf("set extension: %v", err)
	}
	buf := marshalPacket(t, pkt)

	up := NewResampler(SourceRate, PipelineRate)
	if _, ok := ExtractAudio(buf, up); !ok {
		t.Fatalf("expected audio despite CSRCs and extension header")
	}
}

func TestExtractAudioDiscardsTelephoneEvents(t *testing.T) {
	buf := marshalPacket(t, &rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: PayloadTypeTelephoneEvent, SSRC: 1},
		Payload: []byte{0x01, 0x0A, 0x00, 0xA0},
	})
	up := NewResampler(SourceRate, PipelineRate)
	if _, ok := ExtractAudio(buf, up); ok {
		t.Fatalf("telephone-event payload must be discarded")
	}
}

func TestExtractAudioDiscardsMalformedAndUnknown(t *testing.T) {
	up := NewResampler(SourceRate, PipelineRate)

	if _, ok := ExtractAudio([]byte{0x80, 0x00, 0x01}, up); ok {
		t.Fatalf("truncated header must be discarded")
	}
	if _, ok := ExtractAudio(nil, up); ok {
		t.Fatalf("empty datagram must be discarded")
	}

	opus := marshalPacket(t, &rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 96, SSRC: 1},
		Payload: []byte{1, 2, 3},
	})
	if _, ok := ExtractAudio(opus, up); ok {
		t.Fatalf("unknown payload type must be discarded")
	}
}

func TestPacketizerSequenceAndTimestamp(t *testing.T) {
	p := NewPacketizer(99, CodecULaw, SourceRate)
	pcm := make([]int16, 5*FrameSamples)

	pkts := p.Packetize(pcm)
	if len(pkts) != 5 {
		t.Fatalf("expected 5 packets, got %d", len(pkts))
	}

	seq0 := pkts[0].SequenceNumber
	ts0 := pkts[0].Timestamp
	for i, pkt := range pkts {
		if pkt.SequenceNumber != seq0+uint16(i) {
			t.Fatalf("packet %d: seq %d, want %d", i, pkt.SequenceNumber, seq0+uint16(i))
		}
		if pkt.Timestamp != ts0+uint32(i)*FrameSamples {
			t.Fatalf("packet %d: ts %d, want %d", i, pkt.Timestamp, ts0+uint32(i)*FrameSamples)
		}
		if pkt.SSRC != 99 {
			t.Fatalf("packet %d: ssrc %d, want 99", i, pkt.SSRC)
		}
		if len(pkt.Payload) != FrameSamples {
			t.Fatalf("packet %d: payload %d bytes, want %d", i, len(pkt.Payload), FrameSamples)
		}
	}
}

func TestPacketizerSequenceWraps(t *testing.T) {
	p := NewPacketizer(1, CodecULaw, SourceRate)
	p.seq = 65534

	pkts := p.Packetize(make([]int16, 4*FrameSamples))
	want := []uint16{65534, 65535, 0, 1}
	for i, pkt := range pkts {
		if pkt.SequenceNumber != want[i] {
			t.Fatalf("packet %d: seq %d, want %d", i, pkt.SequenceNumber, want[i])
		}
	}
}

func TestPacketizerDropsTrailingFragment(t *testing.T) {
	p := NewPacketizer(1, CodecALaw, SourceRate)
	pkts := p.Packetize(make([]int16, FrameSamples+40))
	if len(pkts) != 1 {
		t.Fatalf("expected 1 packet, got %d", len(pkts))
	}
}

func TestPacketizerRandomSSRCWhenUnspecified(t *testing.T) {
	a := NewPacketizer(0, CodecULaw, PipelineRate)
	b := NewPacketizer(0, CodecULaw, PipelineRate)
	if a.SSRC() == 0 && b.SSRC() == 0 {
		t.Fatalf("expected random ssrc")
	}
}

func TestPacketizerResamplesInput(t *testing.T) {
	// 16kHz input: 320 input samples become one 160-byte frame.
	p := NewPacketizer(1, CodecULaw, PipelineRate)
	pkts := p.Packetize(make([]int16, 2*FrameSamples))
	if len(pkts) != 1 {
		t.Fatalf("expected 1 packet from 16kHz input, got %d", len(pkts))
	}
}

func TestSkipSamplesAdvancesTimestamp(t *testing.T) {
	p := NewPacketizer(1, CodecULaw, SourceRate)
	first := p.Packetize(make([]int16, FrameSamples))
	p.SkipSamples(320)
	second := p.Packetize(make([]int16, FrameSamples))

	gap := second[0].Timestamp - first[0].Timestamp
	if gap != FrameSamples+320 {
		t.Fatalf("expected gap %d, got %d", FrameSamples+320, gap)
	}
}

func TestPacketizerZeroInputRateAssumesTrunkRate(t *testing.T) {
	p := NewPacketizer(7, CodecULaw, 0)
	pkts := p.Packetize(make([]int16, FrameSamples*2))
	if len(pkts) != 2 {
		t.Fatalf("got %d packets, want 2", len(pkts))
	}
	for _, pkt := range pkts {
		if len(pkt.Payload) != FrameSamples {
			t.Fatalf("payload length = %d, want %d", len(pkt.Payload), FrameSamples)
		}
	}
}
