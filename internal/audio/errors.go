package audio

import "fmt"

// DeviceError reports that the input device is missing or rejected the
// requested stream parameters.
type DeviceError struct {
	Op         string
	SampleRate int
	Err        error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %s at %d Hz: %v", e.Op, e.SampleRate, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// EncodingError reports a failure to build or persist an audio file.
type EncodingError struct {
	Path string
	Err  error
}

func (e *EncodingError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("encode audio: %v", e.Err)
	}
	return fmt.Sprintf("encode audio %s: %v", e.Path, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }
