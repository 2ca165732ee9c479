package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// wavInfo describes a decoded PCM WAV file.
type wavInfo struct {
	Channels   int
	SampleRate int
	BitDepth   int
	Frames     int
}

// decodeWAV parses a PCM 16-bit WAV file and returns its samples. Unknown
// chunks between "fmt " and "data" are skipped.
func decodeWAV(data []byte) ([]int16, wavInfo, error) {
	var info wavInfo
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, info, errors.New("not a RIFF/WAVE file")
	}

	var fmtSeen bool
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			return nil, info, fmt.Errorf("chunk %q overruns file", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, info, fmt.Errorf("fmt chunk too short: %d", size)
			}
			if format := binary.LittleEndian.Uint16(data[body : body+2]); format != 1 {
				return nil, info, fmt.Errorf("unsupported wav format %d", format)
			}
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			info.BitDepth = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			fmtSeen = true
		case "data":
			if !fmtSeen {
				return nil, info, errors.New("data chunk before fmt chunk")
			}
			if info.BitDepth != pcmBitDepth {
				return nil, info, fmt.Errorf("unsupported bit depth %d", info.BitDepth)
			}
			samples := make([]int16, size/2)
			if err := binary.Read(bytes.NewReader(data[body:body+size]), binary.LittleEndian, samples); err != nil {
				return nil, info, fmt.Errorf("read samples: %w", err)
			}
			if info.Channels > 0 {
				info.Frames = len(samples) / info.Channels
			}
			return samples, info, nil
		}

		pos = body + size + size%2
	}

	return nil, info, errors.New("missing data chunk")
}
