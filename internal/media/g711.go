package media

import "log/slog"

// Codec identifies a G.711 companding scheme.
type Codec string

const (
	CodecULaw Codec = "ulaw" // PCMU, RTP payload type 0
	CodecALaw Codec = "alaw" // PCMA, RTP payload type 8
)

const (
	ulawBias = 0x84
	ulawClip = 32635
	alawClip = 32635
)

// Decode tables are built once at init; per-sample decode is a lookup.
var (
	ulawToPCM = buildULawTable()
	alawToPCM = buildALawTable()
)

func buildULawTable() [256]int16 {
	var table [256]int16
	for i := 0; i < 256; i++ {
		table[i] = ulawDecodeSample(byte(i))
	}
	return table
}

func buildALawTable() [256]int16 {
	var table [256]int16
	for i := 0; i < 256; i++ {
		table[i] = alawDecodeSample(byte(i))
	}
	return table
}

func ulawDecodeSample(u byte) int16 {
	u = ^u
	t := int32((u&0x0F)<<3) + ulawBias
	t <<= (u & 0x70) >> 4
	if u&0x80 != 0 {
		return int16(ulawBias - t)
	}
	return int16(t - ulawBias)
}

func ulawEncodeSample(pcm int16) byte {
	sample := int32(pcm)
	sign := byte(0)
	if sample < 0 {
		sample = -sample
		sign = 0x80
	}
	if sample > ulawClip {
		sample = ulawClip
	}
	sample += ulawBias

	exponent := byte(7)
	for mask := int32(0x4000); sample&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((sample >> (exponent + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}

func alawDecodeSample(a byte) int16 {
	a ^= 0x55
	t := int32(a&0x0F) << 4
	seg := (a & 0x70) >> 4
	switch seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= seg - 1
	}
	if a&0x80 != 0 {
		return int16(t)
	}
	return int16(-t)
}

func alawEncodeSample(pcm int16) byte {
	sample := int32(pcm) >> 3 // 16-bit to 13-bit domain
	mask := byte(0xD5)
	if sample < 0 {
		mask = 0x55
		sample = -sample - 1
	}
	if sample > 0x0FFF {
		sample = 0x0FFF
	}

	seg := byte(0)
	for s := sample >> 5; s != 0; s >>= 1 {
		seg++
	}
	var aval byte
	if seg < 2 {
		aval = seg<<4 | byte((sample>>1)&0x0F)
	} else {
		aval = seg<<4 | byte((sample>>seg)&0x0F)
	}
	return aval ^ mask
}

// Decode converts companded telephony audio to 16-bit linear PCM at the
// source rate. Unknown codecs decode as mu-law; malformed or empty
// input never errors, it just yields the corresponding output.
func Decode(payload []byte, codec Codec) []int16 {
	if len(payload) == 0 {
		return nil
	}
	table := &ulawToPCM
	switch codec {
	case CodecULaw:
	case CodecALaw:
		table = &alawToPCM
	default:
		slog.Warn("unknown codec, decoding as ulaw", "codec", string(codec))
	}
	out := make([]int16, len(payload))
	for i, b := range payload {
		out[i] = table[b]
	}
	return out
}

// Encode converts 16-bit linear PCM to companded telephony audio.
// Fallback and empty-input rules mirror Decode.
func Encode(pcm []int16, codec Codec) []byte {
	if len(pcm) == 0 {
		return nil
	}
	enc := ulawEncodeSample
	switch codec {
	case CodecULaw:
	case CodecALaw:
		enc = alawEncodeSample
	default:
		slog.Warn("unknown codec, encoding as ulaw", "codec", string(codec))
	}
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = enc(s)
	}
	return out
}
