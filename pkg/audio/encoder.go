package audio

import (
	"fmt"
	"time"
)

const (
	// DefaultSampleRate is the rate the scoring service is fed.
	DefaultSampleRate = 16000

	// DefaultPadding is the silence added to each end of an encoded
	// recording so that onsets and tails are not clipped by the recogniser.
	DefaultPadding = 100 * time.Millisecond
)

// Encoder converts a [Capture] into a validated 16-bit PCM wave file.
// The zero value is not usable; construct with [NewEncoder].
type Encoder struct {
	target  Format
	padding time.Duration
}

// EncoderOption is a functional option for [NewEncoder].
type EncoderOption func(*Encoder)

// WithTargetFormat sets the output sample rate and channel count. The rate
// must lie in [MinSampleRate, MaxSampleRate] and channels must be 1 or 2.
func WithTargetFormat(f Format) EncoderOption {
	return func(e *Encoder) {
		e.target = f
	}
}

// WithPadding sets the silence added to each end of the recording.
func WithPadding(d time.Duration) EncoderOption {
	return func(e *Encoder) {
		e.padding = d
	}
}

// NewEncoder returns an Encoder that targets 16 kHz mono with 100 ms of
// padding unless overridden by opts.
func NewEncoder(opts ...EncoderOption) (*Encoder, error) {
	e := &Encoder{
		target:  Format{SampleRate: DefaultSampleRate, Channels: 1},
		padding: DefaultPadding,
	}
	for _, o := range opts {
		o(e)
	}
	if e.target.SampleRate < MinSampleRate || e.target.SampleRate > MaxSampleRate {
		return nil, fmt.Errorf("audio: target sample rate %d outside [%d, %d]", e.target.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if e.target.Channels != 1 && e.target.Channels != 2 {
		return nil, fmt.Errorf("audio: target channels %d, want 1 or 2", e.target.Channels)
	}
	if e.padding < 0 {
		return nil, fmt.Errorf("audio: negative padding %s", e.padding)
	}
	return e, nil
}

// Target returns the format produced by [Encoder.Encode].
func (e *Encoder) Target() Format { return e.target }

// Encode decodes c, converts it to the target format, pads both ends with
// silence and frames the result as a wave file. The output always passes
// [Validate]. Empty, undecodable or overlong captures and source formats
// outside [Format.CheckSource] return [ErrEncodingFailed].
func (e *Encoder) Encode(c Capture) ([]byte, error) {
	samples, src, err := Decode(c)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: capture contains no samples", ErrEncodingFailed)
	}
	if frames := int64(len(samples) / src.Channels); frames > int64(MaxCaptureDuration/time.Second)*int64(src.SampleRate) {
		return nil, fmt.Errorf("%w: capture longer than %s", ErrEncodingFailed, MaxCaptureDuration)
	}

	samples = Resample(samples, src.Channels, src.SampleRate, e.target.SampleRate)
	samples = ConvertChannels(samples, src.Channels, e.target.Channels)
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: capture too short to resample", ErrEncodingFailed)
	}
	padFrames := int(e.padding * time.Duration(e.target.SampleRate) / time.Second)
	samples = PadSilence(samples, e.target.Channels, padFrames)

	wav := EncodeWAV(Quantize(samples), e.target.SampleRate, e.target.Channels)
	if v := Validate(wav); !v.IsValid {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, v.Err)
	}
	return wav, nil
}

// Duration returns the playback length of a valid wave file, or zero.
func Duration(wav []byte) time.Duration {
	v := Validate(wav)
	if !v.IsValid || v.Header.ByteRate == 0 {
		return 0
	}
	return time.Duration(int64(v.Header.DataSize) * int64(time.Second) / int64(v.Header.ByteRate))
}
