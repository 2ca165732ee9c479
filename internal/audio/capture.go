package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

const (
	DefaultSampleRate      = 44100
	DefaultFramesPerBuffer = 1024
)

// Buffer is a mono float32 recording. Samples are nominally in [-1, 1].
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration reports the length of the recording.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// SampleCount returns how many samples a capture of duration at sampleRate holds.
func SampleCount(duration time.Duration, sampleRate int) int {
	return int(math.Round(duration.Seconds() * float64(sampleRate)))
}

// Capturer records fixed-length clips from the default input device.
type Capturer struct {
	framesPerBuffer int
	open            openFunc
	logger          *slog.Logger
}

func NewCapturer(framesPerBuffer int, logger *slog.Logger) *Capturer {
	if framesPerBuffer <= 0 {
		framesPerBuffer = DefaultFramesPerBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Capturer{framesPerBuffer: framesPerBuffer, open: openDefaultStream, logger: logger}
}

// Capture blocks for duration while reading from the default input device and
// returns exactly SampleCount(duration, sampleRate) samples. The device is
// released before Capture returns.
func (c *Capturer) Capture(duration time.Duration, sampleRate int) (Buffer, error) {
	if duration <= 0 {
		return Buffer{}, fmt.Errorf("capture duration must be positive, got %s", duration)
	}
	if sampleRate <= 0 {
		return Buffer{}, fmt.Errorf("capture sample rate must be positive, got %d", sampleRate)
	}

	total := SampleCount(duration, sampleRate)
	chunk := make([]float32, c.framesPerBuffer)

	stream, err := c.open(sampleRate, c.framesPerBuffer, chunk)
	if err != nil {
		return Buffer{}, &DeviceError{Op: "open", SampleRate: sampleRate, Err: err}
	}
	defer func() {
		if err := stream.Close(); err != nil {
			c.logger.Warn("close input stream", "error", err)
		}
	}()

	if err := stream.Start(); err != nil {
		return Buffer{}, &DeviceError{Op: "start", SampleRate: sampleRate, Err: err}
	}

	samples := make([]float32, 0, total)
	var readErr error
	for len(samples) < total {
		if err := stream.Read(); err != nil {
			readErr = err
			break
		}
		need := total - len(samples)
		if need > len(chunk) {
			need = len(chunk)
		}
		samples = append(samples, chunk[:need]...)
	}

	stopErr := stream.Stop()
	if readErr != nil {
		return Buffer{}, &DeviceError{Op: "read", SampleRate: sampleRate, Err: readErr}
	}
	if stopErr != nil {
		c.logger.Warn("stop input stream", "error", stopErr)
	}

	buf := Buffer{Samples: samples, SampleRate: sampleRate}
	c.logger.Debug("capture complete", "samples", len(samples), "sample_rate", sampleRate, "duration", buf.Duration())
	return buf, nil
}

// Probe returns the first candidate rate the default device accepts.
func (c *Capturer) Probe(candidates []int) (int, error) {
	chunk := make([]float32, c.framesPerBuffer)
	var errs []error
	for _, rate := range candidates {
		if rate <= 0 {
			continue
		}
		stream, err := c.open(rate, c.framesPerBuffer, chunk)
		if err != nil {
			c.logger.Warn("microphone open failed", "sample_rate", rate, "error", err)
			errs = append(errs, fmt.Errorf("%d Hz: %w", rate, err))
			continue
		}
		_ = stream.Close()
		return rate, nil
	}
	if len(errs) == 0 {
		errs = append(errs, errors.New("no sample rate candidates"))
	}
	return 0, &DeviceError{Op: "probe", Err: errors.Join(errs...)}
}
