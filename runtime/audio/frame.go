package audio

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	// pcmBytesPerSample is the number of bytes per 16-bit PCM sample.
	pcmBytesPerSample = 2
)

// AudioFrame is one captured buffer of PCM16 little-endian mono audio.
// Frames are immutable once created.
type AudioFrame struct {
	seq        uint64
	data       []byte
	capturedAt time.Time
}

// NewAudioFrame copies pcm into a new frame.
func NewAudioFrame(seq uint64, pcm []byte, capturedAt time.Time) AudioFrame {
	data := make([]byte, len(pcm))
	copy(data, pcm)
	return AudioFrame{seq: seq, data: data, capturedAt: capturedAt}
}

// Seq returns the capture sequence number. Sequence numbers increase
// monotonically within one IOManager, across capture restarts.
func (f AudioFrame) Seq() uint64 { return f.seq }

// CapturedAt returns when the frame was read from the device.
func (f AudioFrame) CapturedAt() time.Time { return f.capturedAt }

// Len returns the payload size in bytes.
func (f AudioFrame) Len() int { return len(f.data) }

// Data returns a copy of the PCM payload.
func (f AudioFrame) Data() []byte {
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out
}

// RMS returns the root mean square of the frame in int16 units.
func (f AudioFrame) RMS() float64 {
	return RMS(f.data)
}

// Duration returns the playback duration of the frame at sampleRate.
func (f AudioFrame) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(f.data) / pcmBytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// RMS computes the root mean square of PCM16 little-endian samples in int16
// units (0..32768). A trailing odd byte is ignored.
func RMS(pcm []byte) float64 {
	n := len(pcm) / pcmBytesPerSample
	if n == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i < n; i++ {
		// #nosec G115 -- overflow is intentional for signed PCM conversion
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*pcmBytesPerSample:])))
		sumSquares += s * s
	}
	return math.Sqrt(sumSquares / float64(n))
}
