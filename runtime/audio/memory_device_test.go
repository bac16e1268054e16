package audio

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestMemoryDevice_ReadScriptedInput(t *testing.T) {
	dev := NewMemoryDevice()
	in, err := dev.OpenInput(StreamConfig{SampleRate: 16000, Channels: 1, FramesPerBuffer: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()

	dev.PushInput([]byte{1, 2, 3, 4}, []byte{5, 6, 7, 8})

	buf := make([]byte, 4)
	for _, want := range [][]byte{{1, 2, 3, 4}, {5, 6, 7, 8}} {
		n, err := in.Read(buf)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(buf[:n], want) {
			t.Errorf("Read() = %v, want %v", buf[:n], want)
		}
	}
	if dev.PendingInput() != 0 {
		t.Errorf("PendingInput() = %d, want 0", dev.PendingInput())
	}
}

func TestMemoryDevice_CloseUnblocksRead(t *testing.T) {
	dev := NewMemoryDevice()
	in, _ := dev.OpenInput(StreamConfig{SampleRate: 16000, Channels: 1, FramesPerBuffer: 2})

	errCh := make(chan error, 1)
	go func() {
		_, err := in.Read(make([]byte, 4))
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	if err := in.Close(); err != nil {
		t.Fatal(err)
	}
	if err := in.Close(); err != nil {
		t.Fatalf("second Close() = %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrStreamClosed) {
			t.Errorf("Read() error = %v, want ErrStreamClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not return after Close")
	}
	if ins, _ := dev.OpenStreams(); ins != 0 {
		t.Errorf("open inputs = %d, want 0", ins)
	}
}

func TestMemoryDevice_Silence(t *testing.T) {
	dev := NewMemoryDevice(WithSilence(time.Millisecond))
	in, _ := dev.OpenInput(StreamConfig{SampleRate: 16000, Channels: 1, FramesPerBuffer: 4})
	defer in.Close()

	buf := pcmMarked(8, 0xff)
	n, err := in.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != 8 || !bytes.Equal(buf, make([]byte, 8)) {
		t.Errorf("expected 8 bytes of silence, got %v", buf[:n])
	}
}

func TestMemoryDevice_WritesAndFailures(t *testing.T) {
	dev := NewMemoryDevice()
	out, err := dev.OpenOutput(StreamConfig{SampleRate: 24000, Channels: 1, FramesPerBuffer: 32})
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	dev.FailWrites(1, boom)
	if _, err := out.Write([]byte{1}); !errors.Is(err, boom) {
		t.Fatalf("Write() error = %v, want boom", err)
	}
	if _, err := out.Write([]byte{1, 2}); err != nil {
		t.Fatal(err)
	}
	if got := dev.WrittenBytes(); got != 2 {
		t.Errorf("WrittenBytes() = %d, want 2", got)
	}

	_ = out.Close()
	if _, err := out.Write([]byte{3}); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Write after Close error = %v, want ErrStreamClosed", err)
	}
}

func TestMemoryDevice_OpenFailures(t *testing.T) {
	dev := NewMemoryDevice()
	dev.FailOpen(ErrPermissionDenied, ErrDeviceUnavailable)

	if _, err := dev.OpenInput(StreamConfig{}); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("OpenInput error = %v", err)
	}
	if _, err := dev.OpenOutput(StreamConfig{}); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("OpenOutput error = %v", err)
	}

	dev.FailOpen(nil, nil)
	_ = dev.Close()
	if _, err := dev.OpenInput(StreamConfig{}); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("OpenInput after Close error = %v", err)
	}
}
