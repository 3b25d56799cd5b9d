package audio

import (
	"encoding/binary"
	"math"
)

// Samples in this file are interleaved float32 values nominally in [-1, 1].

// Resample converts interleaved samples from srcRate to dstRate using linear
// interpolation per channel. If the rates match, or either rate is not
// positive, the input is returned unchanged.
func Resample(samples []float32, channels, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) < channels {
		return samples
	}
	srcFrames := len(samples) / channels
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]float32, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))
		next := srcIdx + 1
		if next >= srcFrames {
			next = srcFrames - 1
		}
		for ch := range channels {
			s0 := samples[srcIdx*channels+ch]
			s1 := samples[next*channels+ch]
			out[i*channels+ch] = s0*(1-frac) + s1*frac
		}
	}
	return out
}

// ConvertChannels changes the channel count of interleaved samples. Mono is
// duplicated into every output channel; any other layout is first averaged
// down to mono. Converting to the same count returns the input unchanged.
func ConvertChannels(samples []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 {
		return samples
	}
	mono := samples
	if from != 1 {
		frames := len(samples) / from
		mono = make([]float32, frames)
		for i := range frames {
			var sum float32
			for ch := range from {
				sum += samples[i*from+ch]
			}
			mono[i] = sum / float32(from)
		}
	}
	if to == 1 {
		return mono
	}
	out := make([]float32, len(mono)*to)
	for i, s := range mono {
		for ch := range to {
			out[i*to+ch] = s
		}
	}
	return out
}

// PadSilence adds frames of silence to both ends of interleaved samples.
func PadSilence(samples []float32, channels, frames int) []float32 {
	if frames <= 0 || channels <= 0 {
		return samples
	}
	pad := frames * channels
	out := make([]float32, len(samples)+2*pad)
	copy(out[pad:], samples)
	return out
}

// Quantize clamps each sample to [-1, 1] and converts it to signed 16-bit
// little-endian PCM. Clamping first keeps loud input from wrapping around.
func Quantize(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		switch {
		case math.IsNaN(float64(s)):
			s = 0
		case s > 1:
			s = 1
		case s < -1:
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 32768)
		} else {
			v = int16(s * 32767)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// PCM16ToFloat converts signed 16-bit little-endian PCM to float32 samples
// normalised to [-1.0, 1.0]. A trailing odd byte is ignored.
func PCM16ToFloat(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}
