package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"layeh.com/gopus"
)

const (
	opusSampleRate = 48000
	// opusMaxFrameSize is the number of samples per channel in a 120 ms
	// frame, the longest Opus allows.
	opusMaxFrameSize = opusSampleRate * 120 / 1000
)

// Decode converts a [Capture] into interleaved float32 samples and reports
// the format they are in. Every failure wraps [ErrEncodingFailed].
func Decode(c Capture) ([]float32, Format, error) {
	var (
		samples []float32
		f       Format
		err     error
	)
	switch c.Container {
	case ContainerWAV:
		samples, f, err = decodeWAV(c.Data)
	case ContainerPCM16:
		samples, f, err = decodePCM16(c.Data, c.Format)
	case ContainerOpus:
		samples, f, err = decodeOpus(c.Data, c.Format.Channels)
	default:
		err = fmt.Errorf("unsupported container %q", c.Container)
	}
	if err == nil {
		err = f.CheckSource()
	}
	if err != nil {
		return nil, Format{}, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}
	return samples, f, nil
}

func decodePCM16(data []byte, f Format) ([]float32, Format, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, Format{}, errors.New("pcm16 capture needs a sample rate and channel count")
	}
	if err := f.CheckSource(); err != nil {
		return nil, Format{}, err
	}
	if len(data)%(2*f.Channels) != 0 {
		return nil, Format{}, fmt.Errorf("pcm16 capture of %d bytes is not frame aligned for %s", len(data), f)
	}
	return PCM16ToFloat(data), f, nil
}

// decodeWAV walks the RIFF chunk list instead of assuming the canonical
// layout, because browser and mobile recorders emit LIST and fact chunks.
func decodeWAV(data []byte) ([]float32, Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, errors.New("not a RIFF/WAVE file")
	}

	var (
		haveFmt             bool
		tag, channels, bits uint16
		rate                uint32
		pcm                 []byte
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		// Streaming writers leave the size at 0 or 0xFFFFFFFF; take what is there.
		if size < 0 || end > len(data) || end < body {
			end = len(data)
		}
		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, Format{}, errors.New("fmt chunk too short")
			}
			tag = binary.LittleEndian.Uint16(data[body : body+2])
			channels = binary.LittleEndian.Uint16(data[body+2 : body+4])
			rate = binary.LittleEndian.Uint32(data[body+4 : body+8])
			bits = binary.LittleEndian.Uint16(data[body+14 : body+16])
			if tag == formatExtensible && end-body >= 26 {
				tag = binary.LittleEndian.Uint16(data[body+24 : body+26])
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, errors.New("data chunk before fmt chunk")
			}
			pcm = data[body:end]
		}
		if pcm != nil {
			break
		}
		// Chunks are word aligned.
		pos = end + (end-body)%2
	}

	if !haveFmt {
		return nil, Format{}, errors.New("missing fmt chunk")
	}
	if pcm == nil {
		return nil, Format{}, errors.New("missing data chunk")
	}
	if channels == 0 || rate == 0 {
		return nil, Format{}, fmt.Errorf("invalid fmt chunk: %d channels at %d Hz", channels, rate)
	}

	f := Format{SampleRate: int(rate), Channels: int(channels)}
	samples, err := wavSamples(pcm, tag, bits)
	if err != nil {
		return nil, Format{}, err
	}
	// Drop a trailing partial frame.
	samples = samples[:len(samples)-len(samples)%f.Channels]
	return samples, f, nil
}

func wavSamples(pcm []byte, tag, bits uint16) ([]float32, error) {
	switch {
	case tag == formatPCM && bits == 8:
		out := make([]float32, len(pcm))
		for i, b := range pcm {
			out[i] = (float32(b) - 128) / 128
		}
		return out, nil
	case tag == formatPCM && bits == 16:
		return PCM16ToFloat(pcm), nil
	case tag == formatPCM && bits == 24:
		n := len(pcm) / 3
		out := make([]float32, n)
		for i := range n {
			v := int32(pcm[i*3]) | int32(pcm[i*3+1])<<8 | int32(int8(pcm[i*3+2]))<<16
			out[i] = float32(v) / 8388608
		}
		return out, nil
	case tag == formatPCM && bits == 32:
		n := len(pcm) / 4
		out := make([]float32, n)
		for i := range n {
			v := int32(binary.LittleEndian.Uint32(pcm[i*4:]))
			out[i] = float32(float64(v) / 2147483648)
		}
		return out, nil
	case tag == formatFloat && bits == 32:
		n := len(pcm) / 4
		out := make([]float32, n)
		for i := range n {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(pcm[i*4:]))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported wave encoding: format tag %d, %d bits", tag, bits)
}

func decodeOpus(data []byte, channels int) ([]float32, Format, error) {
	if channels <= 0 {
		channels = 1
	}
	dec, err := gopus.NewDecoder(opusSampleRate, channels)
	if err != nil {
		return nil, Format{}, fmt.Errorf("create opus decoder: %w", err)
	}

	var out []float32
	for pos := 0; pos < len(data); {
		if pos+2 > len(data) {
			return nil, Format{}, errors.New("truncated opus packet length")
		}
		n := int(binary.BigEndian.Uint16(data[pos : pos+2]))
		pos += 2
		if n == 0 || pos+n > len(data) {
			return nil, Format{}, fmt.Errorf("opus packet of %d bytes at offset %d overruns capture", n, pos)
		}
		pcm, err := dec.Decode(data[pos:pos+n], opusMaxFrameSize, false)
		if err != nil {
			return nil, Format{}, fmt.Errorf("opus decode: %w", err)
		}
		for _, s := range pcm {
			out = append(out, float32(s)/32768.0)
		}
		pos += n
	}
	return out, Format{SampleRate: opusSampleRate, Channels: channels}, nil
}
