//go:build portaudio

package audio

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/RRiiiccckkk/FractFlow/runtime/logger"
)

// PortAudioAvailable reports whether this binary was built with the
// portaudio backend.
const PortAudioAvailable = true

// PortAudioDevice is a Device backed by the system's default PortAudio
// input and output devices.
type PortAudioDevice struct {
	mu          sync.Mutex
	initialized bool
}

// NewPortAudioDevice initializes PortAudio.
func NewPortAudioDevice() (*PortAudioDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", classifyPortAudioError(err), err)
	}
	logger.Debug("Audio: portaudio initialized", "version", portaudio.VersionText())
	return &PortAudioDevice{initialized: true}, nil
}

// Name returns the backend identifier.
func (d *PortAudioDevice) Name() string { return "portaudio" }

// OpenInput opens the default microphone.
func (d *PortAudioDevice) OpenInput(cfg StreamConfig) (InputStream, error) {
	buf := make([]int16, cfg.FramesPerBuffer*cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), cfg.FramesPerBuffer, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: open input: %v", classifyPortAudioError(err), err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("%w: start input: %v", classifyPortAudioError(err), err)
	}
	return &portAudioInput{stream: stream, buf: buf}, nil
}

// OpenOutput opens the default speaker.
func (d *PortAudioDevice) OpenOutput(cfg StreamConfig) (OutputStream, error) {
	buf := make([]int16, cfg.FramesPerBuffer*cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(0, cfg.Channels, float64(cfg.SampleRate), cfg.FramesPerBuffer, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: open output: %v", classifyPortAudioError(err), err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("%w: start output: %v", classifyPortAudioError(err), err)
	}
	return &portAudioOutput{stream: stream, buf: buf}, nil
}

// Close terminates PortAudio.
func (d *PortAudioDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return nil
	}
	d.initialized = false
	return portaudio.Terminate()
}

func classifyPortAudioError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "not permitted") {
		return ErrPermissionDenied
	}
	return ErrDeviceUnavailable
}

// portAudioInput serializes Read and Close: a blocking read returns after
// one buffer, then Close stops the stream.
type portAudioInput struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	closed bool
}

func (s *portAudioInput) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStreamClosed
	}
	if err := s.stream.Read(); err != nil {
		// Overflows lose samples but the buffer is still usable.
		if err != portaudio.InputOverflowed {
			return 0, err
		}
	}
	n := 0
	for _, sample := range s.buf {
		if n+pcmBytesPerSample > len(p) {
			break
		}
		binary.LittleEndian.PutUint16(p[n:], uint16(sample)) //nolint:gosec // Safe PCM16 conversion
		n += pcmBytesPerSample
	}
	return n, nil
}

func (s *portAudioInput) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.stream.Stop()
	return s.stream.Close()
}

type portAudioOutput struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	closed bool
}

func (s *portAudioOutput) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStreamClosed
	}

	written := 0
	for written < len(p) {
		n := 0
		for n < len(s.buf) && written+pcmBytesPerSample <= len(p) {
			s.buf[n] = int16(binary.LittleEndian.Uint16(p[written:])) //nolint:gosec // Safe PCM16 conversion
			n++
			written += pcmBytesPerSample
		}
		if n == 0 {
			break
		}
		clear(s.buf[n:])
		if err := s.stream.Write(); err != nil && err != portaudio.OutputUnderflowed {
			return written, err
		}
	}
	return len(p), nil
}

func (s *portAudioOutput) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.stream.Abort()
	return s.stream.Close()
}
