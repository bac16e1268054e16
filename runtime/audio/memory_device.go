package audio

import (
	"sync"
	"time"
)

// MemoryDevice is an in-process Device. Input is scripted with PushInput and
// every output write is recorded. It backs tests and the CLI dry-run mode.
type MemoryDevice struct {
	mu sync.Mutex

	input      [][]byte
	inputReady chan struct{}
	// silenceEvery, when set, makes reads without scripted input return a
	// buffer of silence after that delay instead of blocking.
	silenceEvery time.Duration

	writes       [][]byte
	writeLatency time.Duration

	openInputErr  error
	openOutputErr error
	readFailures  int
	readErr       error
	writeFailures int
	writeErr      error

	inputOpens  int
	outputOpens int
	openInputs  int
	openOutputs int
	closed      bool
}

// MemoryDeviceOption configures a MemoryDevice.
type MemoryDeviceOption func(*MemoryDevice)

// WithWriteLatency delays every output write by d.
func WithWriteLatency(d time.Duration) MemoryDeviceOption {
	return func(m *MemoryDevice) { m.writeLatency = d }
}

// WithSilence makes input reads return silence every d when no scripted
// input is pending, like an idle microphone.
func WithSilence(d time.Duration) MemoryDeviceOption {
	return func(m *MemoryDevice) { m.silenceEvery = d }
}

// NewMemoryDevice creates an empty memory device.
func NewMemoryDevice(opts ...MemoryDeviceOption) *MemoryDevice {
	m := &MemoryDevice{inputReady: make(chan struct{}, 1)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the backend identifier.
func (m *MemoryDevice) Name() string { return "memory" }

// PushInput queues frames to be returned by subsequent input reads.
func (m *MemoryDevice) PushInput(frames ...[]byte) {
	m.mu.Lock()
	for _, f := range frames {
		c := make([]byte, len(f))
		copy(c, f)
		m.input = append(m.input, c)
	}
	m.mu.Unlock()
	m.signalInput()
}

// PendingInput returns the number of scripted frames not yet read.
func (m *MemoryDevice) PendingInput() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.input)
}

// Written returns a copy of every buffer written to output streams, in order.
func (m *MemoryDevice) Written() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	for i, w := range m.writes {
		out[i] = append([]byte(nil), w...)
	}
	return out
}

// WrittenBytes returns the total number of bytes written to output streams.
func (m *MemoryDevice) WrittenBytes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, w := range m.writes {
		n += len(w)
	}
	return n
}

// ResetWritten discards recorded output.
func (m *MemoryDevice) ResetWritten() {
	m.mu.Lock()
	m.writes = nil
	m.mu.Unlock()
}

// FailOpen makes the next opens fail with the given errors. Nil clears.
func (m *MemoryDevice) FailOpen(inputErr, outputErr error) {
	m.mu.Lock()
	m.openInputErr = inputErr
	m.openOutputErr = outputErr
	m.mu.Unlock()
}

// FailReads makes the next n reads fail with err.
func (m *MemoryDevice) FailReads(n int, err error) {
	m.mu.Lock()
	m.readFailures = n
	m.readErr = err
	m.mu.Unlock()
	m.signalInput()
}

// FailWrites makes the next n writes fail with err.
func (m *MemoryDevice) FailWrites(n int, err error) {
	m.mu.Lock()
	m.writeFailures = n
	m.writeErr = err
	m.mu.Unlock()
}

// Opens returns how many input and output streams have been opened.
func (m *MemoryDevice) Opens() (inputs, outputs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inputOpens, m.outputOpens
}

// OpenStreams returns how many input and output streams are currently open.
func (m *MemoryDevice) OpenStreams() (inputs, outputs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openInputs, m.openOutputs
}

// OpenInput opens a scripted input stream.
func (m *MemoryDevice) OpenInput(cfg StreamConfig) (InputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrDeviceUnavailable
	}
	if m.openInputErr != nil {
		return nil, m.openInputErr
	}
	m.inputOpens++
	m.openInputs++
	return &memoryInput{dev: m, cfg: cfg, done: make(chan struct{})}, nil
}

// OpenOutput opens a recording output stream.
func (m *MemoryDevice) OpenOutput(cfg StreamConfig) (OutputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrDeviceUnavailable
	}
	if m.openOutputErr != nil {
		return nil, m.openOutputErr
	}
	m.outputOpens++
	m.openOutputs++
	return &memoryOutput{dev: m, cfg: cfg, done: make(chan struct{})}, nil
}

// Close marks the device unusable. Open streams keep working until closed.
func (m *MemoryDevice) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *MemoryDevice) signalInput() {
	select {
	case m.inputReady <- struct{}{}:
	default:
	}
}

// nextInput pops a scripted frame or an injected failure.
func (m *MemoryDevice) nextInput() (frame []byte, ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readFailures > 0 {
		m.readFailures--
		return nil, true, m.readErr
	}
	if len(m.input) == 0 {
		return nil, false, nil
	}
	frame = m.input[0]
	m.input = m.input[1:]
	if len(m.input) > 0 {
		m.signalInput()
	}
	return frame, true, nil
}

type memoryInput struct {
	dev       *MemoryDevice
	cfg       StreamConfig
	done      chan struct{}
	closeOnce sync.Once
}

func (s *memoryInput) Read(p []byte) (int, error) {
	for {
		select {
		case <-s.done:
			return 0, ErrStreamClosed
		default:
		}

		if frame, ok, err := s.dev.nextInput(); ok {
			if err != nil {
				return 0, err
			}
			return copy(p, frame), nil
		}

		var silence <-chan time.Time
		if s.dev.silenceEvery > 0 {
			silence = time.After(s.dev.silenceEvery)
		}
		select {
		case <-s.done:
			return 0, ErrStreamClosed
		case <-s.dev.inputReady:
		case <-silence:
			clear(p)
			return len(p), nil
		}
	}
}

func (s *memoryInput) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.dev.mu.Lock()
		s.dev.openInputs--
		s.dev.mu.Unlock()
	})
	return nil
}

type memoryOutput struct {
	dev       *MemoryDevice
	cfg       StreamConfig
	done      chan struct{}
	closeOnce sync.Once
}

func (s *memoryOutput) Write(p []byte) (int, error) {
	select {
	case <-s.done:
		return 0, ErrStreamClosed
	default:
	}

	if s.dev.writeLatency > 0 {
		t := time.NewTimer(s.dev.writeLatency)
		select {
		case <-t.C:
		case <-s.done:
			t.Stop()
			return 0, ErrStreamClosed
		}
	}

	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.dev.writeFailures > 0 {
		s.dev.writeFailures--
		return 0, s.dev.writeErr
	}
	s.dev.writes = append(s.dev.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (s *memoryOutput) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.dev.mu.Lock()
		s.dev.openOutputs--
		s.dev.mu.Unlock()
	})
	return nil
}
