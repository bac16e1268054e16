package audio

import (
	"errors"
	"fmt"
)

// Sentinel errors for device failures. They are wrapped in a
// pkg/errors.ContextualError of kind "device" by IOManager.
var (
	// ErrDeviceUnavailable is returned when no usable audio device exists.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrPermissionDenied is returned when the OS refuses microphone or speaker access.
	ErrPermissionDenied = errors.New("audio device permission denied")
	// ErrStreamClosed is returned by reads and writes on a closed stream.
	ErrStreamClosed = errors.New("audio stream closed")
	// ErrManagerClosed is returned by IOManager operations after Close.
	ErrManagerClosed = errors.New("audio io manager closed")
)

// StreamConfig describes one direction of a device stream.
type StreamConfig struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
}

// BufferBytes returns the byte size of one PCM16 buffer for this config.
func (c StreamConfig) BufferBytes() int {
	return c.FramesPerBuffer * c.Channels * pcmBytesPerSample
}

// String implements fmt.Stringer.
func (c StreamConfig) String() string {
	return fmt.Sprintf("%dHz/%dch/%d", c.SampleRate, c.Channels, c.FramesPerBuffer)
}

// Device opens audio streams. Implementations must allow an input and an
// output stream to be open at the same time.
type Device interface {
	// Name identifies the backend in logs.
	Name() string
	// OpenInput opens a capture stream.
	OpenInput(cfg StreamConfig) (InputStream, error)
	// OpenOutput opens a playback stream.
	OpenOutput(cfg StreamConfig) (OutputStream, error)
	// Close releases backend resources.
	Close() error
}

// InputStream reads captured PCM16 audio.
//
// Read fills p with one buffer of audio and returns the number of bytes
// written. Close must be safe to call concurrently with Read and must make a
// pending Read return within one buffer period.
type InputStream interface {
	Read(p []byte) (int, error)
	Close() error
}

// OutputStream writes PCM16 audio to a speaker.
//
// Close must be safe to call more than once.
type OutputStream interface {
	Write(p []byte) (int, error)
	Close() error
}

// DeviceEventType enumerates fatal loop notifications.
type DeviceEventType int

const (
	// DeviceCaptureStopped reports that the capture loop exited on an error.
	DeviceCaptureStopped DeviceEventType = iota
	// DevicePlaybackStopped reports that the playback loop exited on an error.
	DevicePlaybackStopped
)

// String returns a human-readable representation of the event type.
func (t DeviceEventType) String() string {
	switch t {
	case DeviceCaptureStopped:
		return "capture_stopped"
	case DevicePlaybackStopped:
		return "playback_stopped"
	default:
		return "unknown"
	}
}

// DeviceEvent is published on IOManager.Events when a loop gives up.
type DeviceEvent struct {
	Type DeviceEventType
	Err  error
}
