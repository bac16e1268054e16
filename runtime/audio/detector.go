package audio

import (
	"math"
)

// Default detector parameter values.
const (
	DefaultBaseThreshold     = 25.0
	DefaultNoiseMargin       = 15.0
	DefaultCalibrationFrames = 50
	DefaultCalibrationAlpha  = 0.1
	DefaultWindowSize        = 3
	DefaultMinWindow         = 2
	DefaultSpeechRatio       = 0.6
)

// DetectorParams configures InterruptDetector.
type DetectorParams struct {
	// BaseThreshold is the minimum RMS, in int16 units, that can count as speech.
	BaseThreshold float64
	// NoiseMargin is added to the calibrated noise floor.
	NoiseMargin float64
	// CalibrationFrames is how many initial frames update the noise floor.
	CalibrationFrames int
	// CalibrationAlpha is the exponential averaging factor for the noise floor.
	CalibrationAlpha float64
	// WindowSize is the number of recent observations kept for debouncing.
	WindowSize int
	// MinWindow is the number of observations required before speech is reported.
	MinWindow int
	// SpeechRatio is the fraction of the window that must be above threshold.
	SpeechRatio float64
}

// DefaultDetectorParams returns the default detector tuning.
func DefaultDetectorParams() DetectorParams {
	return DetectorParams{
		BaseThreshold:     DefaultBaseThreshold,
		NoiseMargin:       DefaultNoiseMargin,
		CalibrationFrames: DefaultCalibrationFrames,
		CalibrationAlpha:  DefaultCalibrationAlpha,
		WindowSize:        DefaultWindowSize,
		MinWindow:         DefaultMinWindow,
		SpeechRatio:       DefaultSpeechRatio,
	}
}

// Validate checks that detector parameters are within acceptable ranges.
func (p DetectorParams) Validate() error {
	if p.BaseThreshold < 0 {
		return &ValidationError{Field: "BaseThreshold", Message: "must be non-negative"}
	}
	if p.NoiseMargin < 0 {
		return &ValidationError{Field: "NoiseMargin", Message: "must be non-negative"}
	}
	if p.CalibrationFrames < 0 {
		return &ValidationError{Field: "CalibrationFrames", Message: "must be non-negative"}
	}
	if p.CalibrationAlpha <= 0 || p.CalibrationAlpha > 1 {
		return &ValidationError{Field: "CalibrationAlpha", Message: "must be in (0.0, 1.0]"}
	}
	if p.WindowSize <= 0 {
		return &ValidationError{Field: "WindowSize", Message: "must be positive"}
	}
	if p.MinWindow <= 0 || p.MinWindow > p.WindowSize {
		return &ValidationError{Field: "MinWindow", Message: "must be between 1 and WindowSize"}
	}
	if p.SpeechRatio <= 0 || p.SpeechRatio > 1 {
		return &ValidationError{Field: "SpeechRatio", Message: "must be in (0.0, 1.0]"}
	}
	return nil
}

// ValidationError represents a parameter validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Message
}

// NoiseProfile is the detector's view of the room.
type NoiseProfile struct {
	// Baseline is the exponentially averaged background energy.
	Baseline float64
	// Frames is the number of calibration frames seen.
	Frames int
	// window holds the most recent above-threshold decisions, oldest first.
	window []bool
}

// SpeechState is the detector's verdict for one frame.
type SpeechState struct {
	Speaking    bool
	Energy      float64
	Threshold   float64
	Confidence  float64
	Calibrating bool
}

// InterruptDetector decides whether the user is talking from frame energy.
//
// It is not safe for concurrent use; one capture pump owns it.
type InterruptDetector struct {
	params  DetectorParams
	profile NoiseProfile
}

// NewInterruptDetector creates a detector with the given parameters.
func NewInterruptDetector(params DetectorParams) (*InterruptDetector, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &InterruptDetector{
		params:  params,
		profile: NoiseProfile{window: make([]bool, 0, params.WindowSize)},
	}, nil
}

// Observe analyses one frame.
func (d *InterruptDetector) Observe(frame AudioFrame) SpeechState {
	return d.ObserveEnergy(frame.RMS())
}

// ObservePCM analyses a raw PCM16 buffer.
func (d *InterruptDetector) ObservePCM(pcm []byte) SpeechState {
	return d.ObserveEnergy(RMS(pcm))
}

// ObserveEnergy analyses a precomputed RMS value in int16 units.
func (d *InterruptDetector) ObserveEnergy(energy float64) SpeechState {
	calibrating := d.profile.Frames < d.params.CalibrationFrames
	if calibrating {
		if d.profile.Frames == 0 {
			d.profile.Baseline = energy
		} else {
			a := d.params.CalibrationAlpha
			d.profile.Baseline = a*energy + (1-a)*d.profile.Baseline
		}
		d.profile.Frames++
	}

	threshold := d.Threshold()
	above := energy > threshold

	if len(d.profile.window) == d.params.WindowSize {
		copy(d.profile.window, d.profile.window[1:])
		d.profile.window = d.profile.window[:len(d.profile.window)-1]
	}
	d.profile.window = append(d.profile.window, above)

	hits := 0
	for _, v := range d.profile.window {
		if v {
			hits++
		}
	}
	ratio := float64(hits) / float64(len(d.profile.window))
	speaking := len(d.profile.window) >= d.params.MinWindow && ratio >= d.params.SpeechRatio

	return SpeechState{
		Speaking:    speaking,
		Energy:      energy,
		Threshold:   threshold,
		Confidence:  confidence(energy, threshold, ratio),
		Calibrating: calibrating,
	}
}

// Threshold returns the current adaptive threshold.
func (d *InterruptDetector) Threshold() float64 {
	return math.Max(d.params.BaseThreshold, d.profile.Baseline+d.params.NoiseMargin)
}

// Profile returns a copy of the noise profile.
func (d *InterruptDetector) Profile() NoiseProfile {
	p := d.profile
	p.window = append([]bool(nil), d.profile.window...)
	return p
}

// Window returns the recent above-threshold decisions, oldest first.
func (p NoiseProfile) Window() []bool {
	return append([]bool(nil), p.window...)
}

// Reset clears calibration and the debounce window.
func (d *InterruptDetector) Reset() {
	d.profile = NoiseProfile{window: make([]bool, 0, d.params.WindowSize)}
}

// confidence blends how far the frame clears the threshold with how full
// the debounce window is.
func confidence(energy, threshold, ratio float64) float64 {
	if threshold <= 0 {
		return ratio
	}
	level := energy / (2 * threshold)
	if level > 1 {
		level = 1
	}
	return (level + ratio) / 2
}
