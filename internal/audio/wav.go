package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	pcmChannels   = 1
	pcmBitDepth   = 16
	pcmFullScale  = 32767
	wavHeaderSize = 44
)

// PCM16 converts float samples to 16-bit PCM as round(s * 32767). Samples
// outside [-1, 1] are clamped first so loud input saturates instead of wrapping.
func PCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s)
		if math.IsNaN(v) {
			v = 0
		}
		v = math.Max(-1, math.Min(1, v))
		out[i] = int16(math.Round(v * pcmFullScale))
	}
	return out
}

// EncodeWAV renders buf as a RIFF/WAVE file: PCM, mono, 16 bit, buf.SampleRate.
func EncodeWAV(buf Buffer) ([]byte, error) {
	if buf.SampleRate <= 0 {
		return nil, &EncodingError{Err: fmt.Errorf("sample rate must be positive, got %d", buf.SampleRate)}
	}

	pcm := PCM16(buf.Samples)
	dataSize := len(pcm) * pcmBitDepth / 8

	header, err := wavHeader(dataSize, buf.SampleRate, pcmChannels, pcmBitDepth)
	if err != nil {
		return nil, &EncodingError{Err: fmt.Errorf("build wav header: %w", err)}
	}

	out := bytes.NewBuffer(make([]byte, 0, len(header)+dataSize))
	out.Write(header)
	if err := binary.Write(out, binary.LittleEndian, pcm); err != nil {
		return nil, &EncodingError{Err: fmt.Errorf("write wav payload: %w", err)}
	}
	return out.Bytes(), nil
}

// WriteTempWAV encodes buf into a new temp file under dir ("" means os.TempDir).
func WriteTempWAV(dir string, buf Buffer) (*TempFile, error) {
	data, err := EncodeWAV(buf)
	if err != nil {
		return nil, err
	}
	return CreateTemp(dir, "turn-*.wav", bytes.NewReader(data))
}

func wavHeader(dataSize, sampleRate, channels, bitDepth int) ([]byte, error) {
	byteRate := sampleRate * channels * bitDepth / 8
	blockAlign := channels * bitDepth / 8

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize))
	fields := []any{
		[4]byte{'R', 'I', 'F', 'F'},
		uint32(36 + dataSize),
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(16),
		uint16(1),
		uint16(channels),
		uint32(sampleRate),
		uint32(byteRate),
		uint16(blockAlign),
		uint16(bitDepth),
		[4]byte{'d', 'a', 't', 'a'},
		uint32(dataSize),
	}
	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
