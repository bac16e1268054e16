package audio

import "time"

// Default IOManager settings.
const (
	DefaultFramesPerBuffer       = 512 // 32 ms at 16 kHz
	DefaultCaptureQueueSize      = 64
	DefaultPlaybackQueueSize     = 256
	DefaultPlaybackSubChunkBytes = 64
	DefaultCaptureJoinTimeout    = 2 * time.Second
	DefaultPlaybackJoinTimeout   = 500 * time.Millisecond
	DefaultMaxDeviceRetries      = 3
	DefaultDeviceRetryDelay      = 20 * time.Millisecond
	DefaultPopTimeout            = 10 * time.Millisecond
	defaultChannels              = 1
)

// IOConfig configures an IOManager.
type IOConfig struct {
	// InputSampleRate is the capture rate in Hz.
	InputSampleRate int
	// OutputSampleRate is the rate the output device is opened at.
	OutputSampleRate int
	// PlaybackSourceRate is the rate of chunks handed to EnqueuePlayback.
	// Chunks are resampled when it differs from OutputSampleRate.
	PlaybackSourceRate int
	Channels           int
	FramesPerBuffer    int

	CaptureQueueSize      int
	PlaybackQueueSize     int
	PlaybackSubChunkBytes int

	CaptureJoinTimeout  time.Duration
	PlaybackJoinTimeout time.Duration
	MaxDeviceRetries    int
	DeviceRetryDelay    time.Duration
	PopTimeout          time.Duration
}

// DefaultIOConfig returns 16 kHz capture and 24 kHz playback defaults.
func DefaultIOConfig() IOConfig {
	return IOConfig{
		InputSampleRate:       SampleRate16kHz,
		OutputSampleRate:      SampleRate24kHz,
		PlaybackSourceRate:    SampleRate24kHz,
		Channels:              defaultChannels,
		FramesPerBuffer:       DefaultFramesPerBuffer,
		CaptureQueueSize:      DefaultCaptureQueueSize,
		PlaybackQueueSize:     DefaultPlaybackQueueSize,
		PlaybackSubChunkBytes: DefaultPlaybackSubChunkBytes,
		CaptureJoinTimeout:    DefaultCaptureJoinTimeout,
		PlaybackJoinTimeout:   DefaultPlaybackJoinTimeout,
		MaxDeviceRetries:      DefaultMaxDeviceRetries,
		DeviceRetryDelay:      DefaultDeviceRetryDelay,
		PopTimeout:            DefaultPopTimeout,
	}
}

// withDefaults fills zero fields from DefaultIOConfig.
func (c IOConfig) withDefaults() IOConfig {
	d := DefaultIOConfig()
	if c.InputSampleRate <= 0 {
		c.InputSampleRate = d.InputSampleRate
	}
	if c.OutputSampleRate <= 0 {
		c.OutputSampleRate = d.OutputSampleRate
	}
	if c.PlaybackSourceRate <= 0 {
		c.PlaybackSourceRate = c.OutputSampleRate
	}
	if c.Channels <= 0 {
		c.Channels = d.Channels
	}
	if c.FramesPerBuffer <= 0 {
		c.FramesPerBuffer = d.FramesPerBuffer
	}
	if c.CaptureQueueSize <= 0 {
		c.CaptureQueueSize = d.CaptureQueueSize
	}
	if c.PlaybackQueueSize <= 0 {
		c.PlaybackQueueSize = d.PlaybackQueueSize
	}
	if c.PlaybackSubChunkBytes <= 0 {
		c.PlaybackSubChunkBytes = d.PlaybackSubChunkBytes
	}
	// Sub-chunks must hold whole samples.
	c.PlaybackSubChunkBytes -= c.PlaybackSubChunkBytes % pcmBytesPerSample
	if c.PlaybackSubChunkBytes == 0 {
		c.PlaybackSubChunkBytes = pcmBytesPerSample
	}
	if c.CaptureJoinTimeout <= 0 {
		c.CaptureJoinTimeout = d.CaptureJoinTimeout
	}
	if c.PlaybackJoinTimeout <= 0 {
		c.PlaybackJoinTimeout = d.PlaybackJoinTimeout
	}
	if c.MaxDeviceRetries < 0 {
		c.MaxDeviceRetries = 0
	}
	if c.DeviceRetryDelay <= 0 {
		c.DeviceRetryDelay = d.DeviceRetryDelay
	}
	if c.PopTimeout <= 0 {
		c.PopTimeout = d.PopTimeout
	}
	return c
}

func (c IOConfig) inputStream() StreamConfig {
	return StreamConfig{SampleRate: c.InputSampleRate, Channels: c.Channels, FramesPerBuffer: c.FramesPerBuffer}
}

func (c IOConfig) outputStream() StreamConfig {
	// Output buffers hold one sub-chunk so an abort never waits on a long write.
	frames := c.PlaybackSubChunkBytes / (c.Channels * pcmBytesPerSample)
	if frames == 0 {
		frames = 1
	}
	return StreamConfig{SampleRate: c.OutputSampleRate, Channels: c.Channels, FramesPerBuffer: frames}
}
