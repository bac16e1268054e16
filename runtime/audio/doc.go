// Package audio owns the local audio devices of a voice session: microphone
// capture, speaker playback, and the energy-based interrupt detector that
// watches the microphone while the assistant is talking.
//
// # Architecture
//
// IOManager runs two long-lived loops on top of a Device:
//
//  1. The capture loop reads fixed-size PCM16 frames and pushes immutable
//     AudioFrame values into a bounded channel. A full channel drops the
//     newest frame; the loop never blocks on its consumer.
//  2. The playback loop pops chunks from a bounded queue and writes them in
//     small sub-chunks, checking a stop flag and a generation counter around
//     every write so FlushAndAbortPlayback can silence output within a single
//     sub-chunk.
//
// InterruptDetector is a pure function of recent frame energy: a calibrated
// noise floor, an adaptive threshold, and a short debounce window.
//
// # Usage Example
//
//	dev := audio.NewMemoryDevice()
//	io := audio.NewIOManager(dev, audio.DefaultIOConfig())
//	h, err := io.StartCapture(ctx)
//	if err != nil {
//	    return err
//	}
//	det, _ := audio.NewInterruptDetector(audio.DefaultDetectorParams())
//	for frame := range h.Frames() {
//	    if det.Observe(frame).Speaking {
//	        _ = io.FlushAndAbortPlayback()
//	    }
//	}
package audio
