package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// pcmScale maps float samples in [-1, 1] onto the int16 range.
const pcmScale = 32768

// FloatToInt16 converts float samples to s16le PCM. Each sample is scaled
// by 32768 and truncated toward zero. Values outside [-1, 1] saturate at the
// int16 limits (so +1.0 becomes 32767) and NaN becomes silence. The
// conversion is lossy and never an error.
func FloatToInt16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	FloatToInt16Into(out, samples)
	return out
}

// FloatToInt16Into is [FloatToInt16] without allocation: it writes as many
// samples as fit into dst and returns how many it wrote.
func FloatToInt16Into(dst []byte, samples []float32) int {
	n := min(len(dst)/2, len(samples))
	for i, s := range samples[:n] {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(floatToSample(s)))
	}
	return n
}

func floatToSample(s float32) int16 {
	v := float64(s) * pcmScale
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// Int16ToFloat de-interleaves s16le PCM into one float slice per channel,
// dividing every sample by 32768. It fails with [ErrInvalidBufferLength] if
// len(pcm) is not a multiple of 2×channels.
func Int16ToFloat(pcm []byte, channels int) ([][]float32, error) {
	if channels < 1 {
		return nil, fmt.Errorf("%w: channel count %d", ErrInvalidBufferLength, channels)
	}
	frameBytes := 2 * channels
	if len(pcm)%frameBytes != 0 {
		return nil, fmt.Errorf("%w: %d bytes for %d channel(s)", ErrInvalidBufferLength, len(pcm), channels)
	}
	frames := len(pcm) / frameBytes
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := range frames {
		for ch := range channels {
			off := i*frameBytes + ch*2
			out[ch][i] = float32(int16(binary.LittleEndian.Uint16(pcm[off:]))) / pcmScale
		}
	}
	return out, nil
}

// DecodeBuffer converts a chunk into a playable [Buffer].
func DecodeBuffer(c Chunk) (Buffer, error) {
	data, err := Int16ToFloat(c.Data, c.Channels)
	if err != nil {
		return Buffer{}, err
	}
	return Buffer{Data: data, SampleRate: c.SampleRate}, nil
}
