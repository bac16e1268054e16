package audio

import (
	"encoding/binary"
	"fmt"
)

// Standard audio sample rates for common use cases.
const (
	SampleRate16kHz = 16000 // microphone capture and realtime input
	SampleRate24kHz = 24000 // realtime audio output
	SampleRate48kHz = 48000 // common native speaker rate
)

// ResamplePCM16 resamples PCM16 audio data from one sample rate to another.
// Uses linear interpolation for reasonable quality resampling.
// Input and output are little-endian 16-bit signed PCM samples.
func ResamplePCM16(input []byte, fromRate, toRate int) ([]byte, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: from=%d, to=%d", fromRate, toRate)
	}
	if len(input)%pcmBytesPerSample != 0 {
		return nil, fmt.Errorf("input length %d is not a multiple of %d bytes per sample", len(input), pcmBytesPerSample)
	}

	if fromRate == toRate {
		out := make([]byte, len(input))
		copy(out, input)
		return out, nil
	}

	in := decodePCM16(input)
	if len(in) == 0 {
		return []byte{}, nil
	}

	outLen := int(int64(len(in)) * int64(toRate) / int64(fromRate))
	if outLen == 0 {
		return []byte{}, nil
	}

	out := make([]int16, outLen)
	step := float64(fromRate) / float64(toRate)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = in[last]
			continue
		}
		frac := pos - float64(idx)
		s0, s1 := float64(in[idx]), float64(in[idx+1])
		out[i] = int16(s0 + frac*(s1-s0))
	}

	return encodePCM16(out), nil
}

// decodePCM16 converts little-endian bytes into samples.
func decodePCM16(b []byte) []int16 {
	samples := make([]int16, len(b)/pcmBytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*pcmBytesPerSample:])) //nolint:gosec // Safe PCM16 conversion
	}
	return samples
}

// encodePCM16 converts samples into little-endian bytes.
func encodePCM16(samples []int16) []byte {
	b := make([]byte, len(samples)*pcmBytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*pcmBytesPerSample:], uint16(s)) //nolint:gosec // Safe PCM16 conversion
	}
	return b
}
