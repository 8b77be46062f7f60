// Package audio implements the pure preprocessing pipeline (downmix,
// resample, gain, silence trim) and the malgo-backed capture engine that
// feeds the Session Orchestrator's buffer.
package audio

import (
	"math"

	"github.com/hammamikhairi/wisprd/internal/domain"
)

// TrimMode selects whether Preprocess trims leading/trailing silence.
// Fast-dictation mode trims; fallback mode skips it to preserve context
// for the permissive decode profile (spec §4.A).
type TrimMode int

const (
	TrimEnabled TrimMode = iota
	TrimDisabled
)

const (
	targetSampleRate = 16000
	lowPeakThreshold = 0.20
	targetPeak       = 0.35
	minGain          = 1.0
	maxGain          = 80.0
	silencePadding   = 125 // ms
)

// Preprocess converts samples captured in the given format into mono
// f32 PCM at 16 kHz, applying downmix, resample, gain normalisation, and
// (optionally) silence trim, in that order (spec §4.A).
//
// Empty input yields empty output. Already-16kHz-mono input that needs
// neither gain nor trim is returned unmodified (no allocation on that
// path). Non-finite samples are clamped to [-1, 1] before any further
// processing.
func Preprocess(samples []float32, format domain.AudioFormat, trim TrimMode) []float32 {
	if len(samples) == 0 {
		return samples
	}

	out := clampFinite(samples)

	if format.Channels > 1 {
		out = downmix(out, int(format.Channels))
	}

	if format.SampleRateHz != 0 && format.SampleRateHz != targetSampleRate {
		out = resampleLinear(out, int(format.SampleRateHz), targetSampleRate)
	}

	peak := peakAmplitude(out)
	if peak < lowPeakThreshold && peak > 0 {
		gain := targetPeak / peak
		if gain < minGain {
			gain = minGain
		}
		if gain > maxGain {
			gain = maxGain
		}
		out = applyGain(out, gain)
	}

	if trim == TrimEnabled {
		out = trimSilence(out, peakAmplitude(out))
	}

	return out
}

// clampFinite clamps every sample to [-1, 1], replacing NaN/Inf with 0.
// Returns the input slice unmodified (no copy) if nothing needed clamping.
func clampFinite(samples []float32) []float32 {
	dirty := false
	for _, s := range samples {
		if !isCleanSample(s) {
			dirty = true
			break
		}
	}
	if !dirty {
		return samples
	}

	out := make([]float32, len(samples))
	for i, s := range samples {
		switch {
		case math.IsNaN(float64(s)):
			out[i] = 0
		case math.IsInf(float64(s), 1):
			out[i] = 1
		case math.IsInf(float64(s), -1):
			out[i] = -1
		case s > 1:
			out[i] = 1
		case s < -1:
			out[i] = -1
		default:
			out[i] = s
		}
	}
	return out
}

func isCleanSample(s float32) bool {
	f := float64(s)
	return !math.IsNaN(f) && !math.IsInf(f, 0) && s >= -1 && s <= 1
}

// downmix averages per-frame samples across channels into mono.
func downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for f := 0; f < frames; f++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[f*channels+c]
		}
		out[f] = sum / float32(channels)
	}
	return out
}

// resampleLinear resamples mono samples from inRate to outRate using
// linear interpolation, producing round(len(in) / ratio) output samples.
func resampleLinear(in []float32, inRate, outRate int) []float32 {
	if inRate <= 0 || outRate <= 0 || inRate == outRate || len(in) == 0 {
		return in
	}

	ratio := float64(inRate) / float64(outRate)
	outLen := int(math.Round(float64(len(in)) / ratio))
	if outLen <= 0 {
		return nil
	}

	out := make([]float32, outLen)
	for i := 0; i < outLen; i++ {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := srcPos - float64(idx)

		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		a, b := in[idx], in[idx+1]
		out[i] = a + float32(frac)*(b-a)
	}
	return out
}

func peakAmplitude(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		a := math.Abs(float64(s))
		if a > peak {
			peak = a
		}
	}
	return peak
}

func applyGain(samples []float32, gain float64) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		v := float64(s) * gain
		if v > 1 {
			v = 1
		}
		if v < -1 {
			v = -1
		}
		out[i] = float32(v)
	}
	return out
}

// trimSilence removes leading/trailing silence below
// max(0.002, peak*0.08), keeping 125ms of padding on either side.
func trimSilence(samples []float32, peak float64) []float32 {
	threshold := peak * 0.08
	if threshold < 0.002 {
		threshold = 0.002
	}

	start := 0
	for start < len(samples) && math.Abs(float64(samples[start])) < threshold {
		start++
	}
	end := len(samples)
	for end > start && math.Abs(float64(samples[end-1])) < threshold {
		end--
	}

	padSamples := int(silencePadding * targetSampleRate / 1000)
	start -= padSamples
	if start < 0 {
		start = 0
	}
	end += padSamples
	if end > len(samples) {
		end = len(samples)
	}
	if start >= end {
		return samples[:0]
	}
	return samples[start:end]
}

// RMS computes the root-mean-square amplitude of a buffer, used by the
// orchestrator's silence-floor check and the live audio-level meter.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		sumSq += float64(s) * float64(s)
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}

// DBFS converts an RMS amplitude (0..1) to decibels full-scale.
func DBFS(rms float64) float64 {
	if rms <= 0 {
		return -120
	}
	return 20 * math.Log10(rms)
}

// Level maps an RMS amplitude to a 0-100 UI meter value using a fixed
// dynamic range floor of -60 dBFS.
func Level(rms float64) float64 {
	const floorDB = -60.0
	db := DBFS(rms)
	if db < floorDB {
		return 0
	}
	if db > 0 {
		return 100
	}
	return (db - floorDB) / -floorDB * 100
}
