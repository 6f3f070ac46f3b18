package media

import "testing"

func roundTripMaxError(t *testing.T, codec Codec) int32 {
	t.Helper()
	var max int32
	for s := int32(-32768); s <= 32767; s += 7 {
		in := []int16{int16(s)}
		out := Decode(Encode(in, codec), codec)
		if len(out) != 1 {
			t.Fatalf("expected 1 sample, got %d", len(out))
		}
		diff := int32(out[0]) - s
		if diff < 0 {
			diff = -diff
		}
		if diff > max {
			max = diff
		}
	}
	return max
}

func TestULawRoundTripBounded(t *testing.T) {
	// G.711 is lossy, but the residual stays within one quantization
	// step of the coarsest segment (1024 in the 16-bit domain).
	if max := roundTripMaxError(t, CodecULaw); max > 1024 {
		t.Fatalf("ulaw round-trip error %d exceeds bound", max)
	}
}

func TestALawRoundTripBounded(t *testing.T) {
	if max := roundTripMaxError(t, CodecALaw); max > 1024 {
		t.Fatalf("alaw round-trip error %d exceeds bound", max)
	}
}

func TestDecodeEmptyInput(t *testing.T) {
	if out := Decode(nil, CodecULaw); len(out) != 0 {
		t.Fatalf("expected empty output, got %d samples", len(out))
	}
	if out := Encode(nil, CodecALaw); len(out) != 0 {
		t.Fatalf("expected empty output, got %d bytes", len(out))
	}
}

func TestUnknownCodecFallsBackToULaw(t *testing.T) {
	payload := []byte{0x00, 0x7F, 0xFF, 0x80}
	want := Decode(payload, CodecULaw)
	got := Decode(payload, Codec("g729"))
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}

	pcm := []int16{0, 1000, -1000, 32000}
	wantEnc := Encode(pcm, CodecULaw)
	gotEnc := Encode(pcm, Codec("opus"))
	for i := range wantEnc {
		if gotEnc[i] != wantEnc[i] {
			t.Fatalf("byte %d: got %#x, want %#x", i, gotEnc[i], wantEnc[i])
		}
	}
}

func TestULawSilenceByte(t *testing.T) {
	// 0xFF is the canonical ulaw silence byte; it must decode to zero.
	if s := ulawToPCM[0xFF]; s != 0 {
		t.Fatalf("expected 0, got %d", s)
	}
}
