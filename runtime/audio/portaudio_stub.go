//go:build !portaudio

package audio

import "fmt"

// PortAudioAvailable reports whether this binary was built with the
// portaudio backend.
const PortAudioAvailable = false

var errNoPortAudio = fmt.Errorf("%w: built without the portaudio tag", ErrDeviceUnavailable)

// PortAudioDevice is unavailable without the portaudio build tag.
type PortAudioDevice struct{}

// NewPortAudioDevice always fails; rebuild with -tags portaudio.
func NewPortAudioDevice() (*PortAudioDevice, error) {
	return nil, errNoPortAudio
}

// Name returns the backend identifier.
func (d *PortAudioDevice) Name() string { return "portaudio" }

// OpenInput always fails.
func (d *PortAudioDevice) OpenInput(StreamConfig) (InputStream, error) { return nil, errNoPortAudio }

// OpenOutput always fails.
func (d *PortAudioDevice) OpenOutput(StreamConfig) (OutputStream, error) { return nil, errNoPortAudio }

// Close is a no-op.
func (d *PortAudioDevice) Close() error { return nil }
