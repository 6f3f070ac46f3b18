package media

import (
	"math/rand"
	"time"

	"github.com/pion/rtp"
)

// RTP payload types on the telephony trunk.
const (
	PayloadTypePCMU           uint8 = 0
	PayloadTypePCMA           uint8 = 8
	PayloadTypeTelephoneEvent uint8 = 101 // DTMF, RFC 4733; never audio
)

const (
	// SourceRate is the telephony sampling rate.
	SourceRate = 8000
	// PipelineRate is what the speech pipeline consumes.
	PipelineRate = 16000
	// FrameDuration is the fixed packetization interval.
	FrameDuration = 20 * time.Millisecond
	// FrameSamples is samples (and companded bytes) per frame at 8kHz.
	FrameSamples = 160
)

// CodecForPayloadType maps an RTP payload type to its companding
// scheme. The second return is false for anything that is not G.711
// audio.
func CodecForPayloadType(pt uint8) (Codec, bool) {
	switch pt {
	case PayloadTypePCMU:
		return CodecULaw, true
	case PayloadTypePCMA:
		return CodecALaw, true
	default:
		return "", false
	}
}

// PayloadTypeForCodec is the inverse of CodecForPayloadType. Unknown
// codecs map to PCMU, matching the Decode/Encode fallback.
func PayloadTypeForCodec(codec Codec) uint8 {
	if codec == CodecALaw {
		return PayloadTypePCMA
	}
	return PayloadTypePCMU
}

// ExtractAudio parses one RTP datagram and returns its audio decoded
// and resampled to PipelineRate. The upsampler must be the persistent
// per-stream Resampler(SourceRate, PipelineRate) owned by the caller.
//
// Malformed packets, telephone-event payloads, and unknown payload
// types all return (nil, false); a live trunk delivers plenty of each
// and none of them may abort the stream.
func ExtractAudio(datagram []byte, up *Resampler) ([]int16, bool) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(datagram); err != nil {
		return nil, false
	}
	if pkt.PayloadType == PayloadTypeTelephoneEvent {
		return nil, false
	}
	codec, ok := CodecForPayloadType(pkt.PayloadType)
	if !ok || len(pkt.Payload) == 0 {
		return nil, false
	}
	pcm := up.Process(Decode(pkt.Payload, codec))
	if len(pcm) == 0 {
		return nil, false
	}
	return pcm, true
}

// Packetizer frames PCM audio into G.711 RTP packets for one outbound
// media stream. It owns the stream's sequence number, timestamp,
// synchronization source, and resampler state, so it must not be
// shared across calls.
type Packetizer struct {
	codec       Codec
	payloadType uint8
	ssrc        uint32
	seq         uint16
	ts          uint32
	down        *Resampler
}

// NewPacketizer returns a packetizer for a stream whose input PCM is
// at inputRate. A zero ssrc picks a random one; sequence number and
// timestamp start at random values per RFC 3550.
func NewPacketizer(ssrc uint32, codec Codec, inputRate int) *Packetizer {
	if ssrc == 0 {
		ssrc = rand.Uint32()
	}
	// A collaborator misreporting its rate must not wedge the stream;
	// assume trunk rate and skip the downsample.
	if inputRate <= 0 {
		inputRate = SourceRate
	}
	return &Packetizer{
		codec:       codec,
		payloadType: PayloadTypeForCodec(codec),
		ssrc:        ssrc,
		seq:         uint16(rand.Uint32()),
		ts:          rand.Uint32(),
		down:        NewResampler(inputRate, SourceRate),
	}
}

// SSRC returns the stream's synchronization source identifier.
func (p *Packetizer) SSRC() uint32 { return p.ssrc }

// Packetize resamples pcm down to 8kHz, compands it, and slices the
// result into fixed 20ms frames, one packet each. Sequence numbers
// advance by exactly 1 per packet (wrapping at 2^16) and timestamps by
// FrameSamples. A trailing fragment shorter than one frame is dropped,
// never padded.
func (p *Packetizer) Packetize(pcm []int16) []*rtp.Packet {
	encoded := Encode(p.down.Process(pcm), p.codec)

	var pkts []*rtp.Packet
	for len(encoded) >= FrameSamples {
		frame := encoded[:FrameSamples:FrameSamples]
		encoded = encoded[FrameSamples:]

		pkts = append(pkts, &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    p.payloadType,
				SequenceNumber: p.seq,
				Timestamp:      p.ts,
				SSRC:           p.ssrc,
			},
			Payload: frame,
		})
		p.seq++
		p.ts += FrameSamples
	}
	return pkts
}

// SkipSamples advances the timestamp without emitting packets, used to
// represent an intentional silence gap in the outbound stream.
func (p *Packetizer) SkipSamples(samples uint32) {
	p.ts += samples
}
