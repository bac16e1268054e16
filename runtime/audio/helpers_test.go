package audio

import "encoding/binary"

// pcmConst returns samples of PCM16 at a constant amplitude, alternating sign.
func pcmConst(samples int, amp int16) []byte {
	b := make([]byte, samples*pcmBytesPerSample)
	for i := 0; i < samples; i++ {
		v := amp
		if i%2 == 1 {
			v = -amp
		}
		binary.LittleEndian.PutUint16(b[i*pcmBytesPerSample:], uint16(v)) //nolint:gosec // test data
	}
	return b
}

// pcmMarked returns a buffer filled with a single repeated byte so chunks
// can be told apart in recorded output.
func pcmMarked(size int, mark byte) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = mark
	}
	return b
}
