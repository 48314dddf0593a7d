package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAVInfo holds the format metadata extracted from a RIFF/WAVE header.
type WAVInfo struct {
	DataOffset    int // byte offset of the first PCM sample
	DataLength    int // length of the data chunk in bytes, clipped to the buffer
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// ParseWAV walks the RIFF chunks of wav and returns the data offset and the
// format from the "fmt " chunk. The fmt chunk size is honoured rather than
// assuming a fixed 44-byte header.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 {
		return WAVInfo{}, errors.New("audio: WAV too short to be a RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return WAVInfo{}, errors.New("audio: WAV missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("audio: WAV missing WAVE identifier")
	}

	var info WAVInfo
	foundFmt := false

	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch id {
		case "fmt ":
			if size >= 16 && offset+8+16 <= len(wav) {
				f := wav[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(f[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(f[4:8]))
				info.BitsPerSample = int(binary.LittleEndian.Uint16(f[14:16]))
				foundFmt = true
			}
		case "data":
			if !foundFmt {
				return WAVInfo{}, errors.New("audio: WAV data chunk precedes fmt chunk")
			}
			info.DataOffset = offset + 8
			// Streaming servers write 0 or 0xFFFFFFFF when the length is unknown.
			info.DataLength = min(size, len(wav)-info.DataOffset)
			if size == 0 {
				info.DataLength = len(wav) - info.DataOffset
			}
			return info, nil
		}

		// Chunks are word-aligned.
		offset += 8 + size
		if size%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, errors.New("audio: WAV missing data chunk")
}

// DecodeWAV extracts 16-bit PCM from wav, downmixes stereo to mono and
// resamples to rate. A non-positive rate keeps the source rate. It returns
// the PCM and its sample rate.
func DecodeWAV(wav []byte, rate int) ([]byte, int, error) {
	info, err := ParseWAV(wav)
	if err != nil {
		return nil, 0, err
	}
	if info.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("audio: unsupported WAV bit depth %d", info.BitsPerSample)
	}

	pcm := wav[info.DataOffset : info.DataOffset+info.DataLength]
	switch info.Channels {
	case 1:
	case 2:
		pcm = StereoToMono(pcm)
	default:
		return nil, 0, fmt.Errorf("audio: unsupported WAV channel count %d", info.Channels)
	}

	if rate <= 0 {
		return pcm, info.SampleRate, nil
	}
	return ResampleMono16(pcm, info.SampleRate, rate), rate, nil
}

// EncodeWAV wraps mono 16-bit PCM in a minimal RIFF/WAVE container.
func EncodeWAV(pcm []byte, rate int) []byte {
	out := make([]byte, 44+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], 1) // mono
	binary.LittleEndian.PutUint32(out[24:28], uint32(rate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(rate*2))
	binary.LittleEndian.PutUint16(out[32:34], 2)
	binary.LittleEndian.PutUint16(out[34:36], 16)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}
