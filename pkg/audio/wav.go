package audio

import (
	"encoding/binary"
	"fmt"
)

const (
	// WAVHeaderSize is the size of the canonical PCM wave header written by
	// [EncodeWAV] and expected by [Validate].
	WAVHeaderSize = 44

	// bitsPerSample is fixed at 16 for the output format.
	bitsPerSample = 16

	formatPCM        = 1
	formatFloat      = 3
	formatExtensible = 0xFFFE
)

// WAVHeader holds the fields of a canonical 44-byte PCM wave header.
type WAVHeader struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataSize      uint32
}

// Format returns the sample rate and channel count described by h.
func (h WAVHeader) Format() Format {
	return Format{SampleRate: int(h.SampleRate), Channels: int(h.Channels)}
}

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container with a 44-byte header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, WAVHeaderSize+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], formatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// ParseHeader reads the canonical 44-byte header at the start of wav. It
// checks the chunk identifiers but not the field values; use [Validate] for
// the full boundary check.
func ParseHeader(wav []byte) (WAVHeader, error) {
	if len(wav) < WAVHeaderSize {
		return WAVHeader{}, fmt.Errorf("%w: header truncated (%d bytes)", ErrInvalidFormat, len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return WAVHeader{}, fmt.Errorf("%w: not a RIFF/WAVE file", ErrInvalidFormat)
	}
	if string(wav[12:16]) != "fmt " {
		return WAVHeader{}, fmt.Errorf("%w: missing fmt chunk", ErrInvalidFormat)
	}
	if size := binary.LittleEndian.Uint32(wav[16:20]); size != 16 {
		return WAVHeader{}, fmt.Errorf("%w: fmt chunk size %d, want 16", ErrInvalidFormat, size)
	}
	if string(wav[36:40]) != "data" {
		return WAVHeader{}, fmt.Errorf("%w: missing data chunk", ErrInvalidFormat)
	}
	return WAVHeader{
		AudioFormat:   binary.LittleEndian.Uint16(wav[20:22]),
		Channels:      binary.LittleEndian.Uint16(wav[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(wav[24:28]),
		ByteRate:      binary.LittleEndian.Uint32(wav[28:32]),
		BlockAlign:    binary.LittleEndian.Uint16(wav[32:34]),
		BitsPerSample: binary.LittleEndian.Uint16(wav[34:36]),
		DataSize:      binary.LittleEndian.Uint32(wav[40:44]),
	}, nil
}

// Validation is the outcome of [Validate].
type Validation struct {
	IsValid bool
	Header  WAVHeader
	// Err wraps [ErrInvalidFormat] when IsValid is false.
	Err error
}

// Validate parses the header of wav and rejects anything the scoring service
// would not accept: non RIFF/WAVE input, a format tag other than PCM, a bit
// depth other than 16, more than two channels, a sample rate outside
// [MinSampleRate, MaxSampleRate], or a data chunk that does not fit the file.
func Validate(wav []byte) Validation {
	h, err := ParseHeader(wav)
	if err != nil {
		return Validation{Err: err}
	}
	invalid := func(format string, args ...any) Validation {
		return Validation{Header: h, Err: fmt.Errorf("%w: "+format, append([]any{ErrInvalidFormat}, args...)...)}
	}

	switch {
	case h.AudioFormat != formatPCM:
		return invalid("format tag %d is not PCM", h.AudioFormat)
	case h.BitsPerSample != bitsPerSample:
		return invalid("%d bits per sample, want 16", h.BitsPerSample)
	case h.Channels != 1 && h.Channels != 2:
		return invalid("%d channels, want mono or stereo", h.Channels)
	case h.SampleRate < MinSampleRate || h.SampleRate > MaxSampleRate:
		return invalid("sample rate %d Hz outside [%d, %d]", h.SampleRate, MinSampleRate, MaxSampleRate)
	case h.BlockAlign != h.Channels*2:
		return invalid("block align %d inconsistent with %d channels", h.BlockAlign, h.Channels)
	case h.ByteRate != h.SampleRate*uint32(h.BlockAlign):
		return invalid("byte rate %d inconsistent with sample rate", h.ByteRate)
	case h.DataSize == 0:
		return invalid("empty data chunk")
	case int64(h.DataSize) > int64(len(wav)-WAVHeaderSize):
		return invalid("data chunk claims %d bytes, %d present", h.DataSize, len(wav)-WAVHeaderSize)
	case h.DataSize%uint32(h.BlockAlign) != 0:
		return invalid("data size %d not a multiple of block align", h.DataSize)
	}
	return Validation{IsValid: true, Header: h}
}
