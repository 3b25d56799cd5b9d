// Package audio turns captured microphone audio into the linear-PCM wave
// files that pronunciation assessment services accept.
//
// The pipeline is decode → resample → channel convert → pad → quantize →
// frame. [Encoder.Encode] runs it end to end and [Validate] is the boundary
// check that must pass before any bytes leave the process.
//
// Microphone handling lives in the capture sub-package; this package only
// deals with finished buffers.
package audio

import (
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"
)

var (
	// ErrEncodingFailed is returned when captured audio cannot be decoded or
	// turned into a wave file. The recording should be discarded and redone.
	ErrEncodingFailed = errors.New("audio: encoding failed")

	// ErrInvalidFormat is returned by [Validate] when wave bytes do not match
	// the format accepted by the scoring service.
	ErrInvalidFormat = errors.New("audio: invalid wave format")
)

// Supported sample-rate range for the scoring service, inclusive.
const (
	MinSampleRate = 16000
	MaxSampleRate = 48000
)

// Accepted range for captured audio before conversion, inclusive.
const (
	MinSourceSampleRate = 8000
	MaxSourceSampleRate = 192000
	MaxSourceChannels   = 8
)

// MaxCaptureDuration bounds the length of a single recording.
const MaxCaptureDuration = 5 * time.Minute

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// CheckSource reports an error if f is not a plausible capture format.
func (f Format) CheckSource() error {
	if f.SampleRate < MinSourceSampleRate || f.SampleRate > MaxSourceSampleRate {
		return fmt.Errorf("sample rate %d Hz outside [%d, %d]", f.SampleRate, MinSourceSampleRate, MaxSourceSampleRate)
	}
	if f.Channels < 1 || f.Channels > MaxSourceChannels {
		return fmt.Errorf("%d channels outside [1, %d]", f.Channels, MaxSourceChannels)
	}
	return nil
}

// String returns e.g. "16000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// Container identifies how the bytes of a [Capture] are framed.
type Container string

const (
	// ContainerWAV is a RIFF/WAVE file with integer or float PCM samples.
	ContainerWAV Container = "wav"

	// ContainerPCM16 is headerless signed 16-bit little-endian PCM. The
	// sample rate and channel count come from [Capture.Format].
	ContainerPCM16 Container = "pcm16"

	// ContainerOpus is a sequence of Opus packets, each prefixed with its
	// length as a big-endian uint16. Packets decode at 48 kHz.
	ContainerOpus Container = "opus"
)

// IsValid reports whether c is a recognised container.
func (c Container) IsValid() bool {
	switch c {
	case ContainerWAV, ContainerPCM16, ContainerOpus:
		return true
	}
	return false
}

// Capture is one finalized recording of a single user utterance.
type Capture struct {
	// Data holds the captured bytes in the layout named by Container.
	Data []byte

	// Container selects the decoder.
	Container Container

	// Format is required for ContainerPCM16. For ContainerOpus only Channels
	// is consulted (default mono). It is ignored for ContainerWAV.
	Format Format
}

// ContainerFromMIME maps an HTTP Content-Type onto a [Container]. The second
// return value is false when the media type is not supported.
func ContainerFromMIME(contentType string) (Container, bool) {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", false
	}
	switch strings.ToLower(mt) {
	case "audio/wav", "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return ContainerWAV, true
	case "audio/l16", "audio/pcm", "application/octet-stream":
		return ContainerPCM16, true
	case "audio/opus", "audio/x-opus-packets":
		return ContainerOpus, true
	}
	return "", false
}

// formatString returns a human-readable string for a sample rate and channel
// count, e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
