package audio

import (
	"github.com/gordonklaus/portaudio"
)

// inputStream is the subset of *portaudio.Stream the capturer drives.
type inputStream interface {
	Start() error
	Read() error
	Stop() error
	Close() error
}

// openFunc opens a mono capture stream that fills buf on every Read.
type openFunc func(sampleRate, framesPerBuffer int, buf []float32) (inputStream, error)

// Initialize loads PortAudio. It must be called once before any capture.
func Initialize() error { return portaudio.Initialize() }

// Terminate releases PortAudio.
func Terminate() error { return portaudio.Terminate() }

func openDefaultStream(sampleRate, framesPerBuffer int, buf []float32) (inputStream, error) {
	if _, err := portaudio.DefaultInputDevice(); err != nil {
		return nil, err
	}
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), framesPerBuffer, buf)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
