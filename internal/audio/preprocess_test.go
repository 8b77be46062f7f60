package audio

import (
	"math"
	"testing"

	"github.com/hammamikhairi/wisprd/internal/domain"
)

func TestPreprocessEmptyInput(t *testing.T) {
	out := Preprocess(nil, domain.AudioFormat{SampleRateHz: 16000, Channels: 1}, TrimEnabled)
	if len(out) != 0 {
		t.Fatalf("expected empty output, got %d samples", len(out))
	}
}

func TestPreprocessFastPathIdentity(t *testing.T) {
	in := make([]float32, 1600)
	for i := range in {
		in[i] = 0.5 * float32(math.Sin(float64(i)/10))
	}
	format := domain.AudioFormat{SampleRateHz: 16000, Channels: 1, BitsPerSample: 16}

	out := Preprocess(in, format, TrimDisabled)
	if len(out) != len(in) {
		t.Fatalf("expected unchanged length %d, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("fast path mutated sample %d: %v != %v", i, out[i], in[i])
		}
	}
}

func TestPreprocessDownmixAndResample(t *testing.T) {
	// 48kHz stereo, 2 seconds.
	n := 48000 * 2
	in := make([]float32, n*2)
	for i := 0; i < n; i++ {
		v := float32(0.1 * math.Sin(float64(i)/20))
		in[i*2] = v
		in[i*2+1] = v
	}
	format := domain.AudioFormat{SampleRateHz: 48000, Channels: 2, BitsPerSample: 16}

	out := Preprocess(in, format, TrimDisabled)
	wantLen := int(math.Round(float64(n) / 3.0))
	if abs(len(out)-wantLen) > 1 {
		t.Fatalf("expected ~%d samples at 16kHz, got %d", wantLen, len(out))
	}
}

func TestPreprocessQuietGainBoundsPeak(t *testing.T) {
	in := make([]float32, 16000)
	for i := range in {
		in[i] = 0.05 * float32(math.Sin(float64(i)/8))
	}
	format := domain.AudioFormat{SampleRateHz: 16000, Channels: 1, BitsPerSample: 16}

	out := Preprocess(in, format, TrimDisabled)
	peak := peakAmplitude(out)
	if peak <= 0.1 || peak > 1.0 {
		t.Fatalf("expected peak in (0.1, 1.0], got %v", peak)
	}
}

func TestPreprocessClampsNonFinite(t *testing.T) {
	in := []float32{float32(math.NaN()), float32(math.Inf(1)), float32(math.Inf(-1)), 2.0, -2.0, 0.1}
	format := domain.AudioFormat{SampleRateHz: 16000, Channels: 1, BitsPerSample: 16}

	out := Preprocess(in, format, TrimDisabled)
	for _, s := range out {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			t.Fatalf("non-finite sample survived preprocessing: %v", s)
		}
		if s > 1 || s < -1 {
			t.Fatalf("sample out of [-1,1]: %v", s)
		}
	}
}

func TestPreprocessIdempotentOnAlreadyClean(t *testing.T) {
	in := make([]float32, 16000)
	for i := range in {
		in[i] = 0.4 * float32(math.Sin(float64(i)/12))
	}
	format := domain.AudioFormat{SampleRateHz: 16000, Channels: 1, BitsPerSample: 16}

	once := Preprocess(in, format, TrimDisabled)
	twice := Preprocess(once, domain.AudioFormat{SampleRateHz: 16000, Channels: 1, BitsPerSample: 16}, TrimDisabled)

	if len(once) != len(twice) {
		t.Fatalf("not idempotent: %d vs %d samples", len(once), len(twice))
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
