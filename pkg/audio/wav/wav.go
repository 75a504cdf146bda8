// Package wav serializes raw PCM into the canonical 44-byte RIFF/WAVE
// container and reads such files back.
//
// [Encode] and [Write] are pure and bit-exact: the same payload and
// parameters always yield the same bytes. [Inspect] and [Decode] go through
// github.com/go-audio/wav so exported files are checked against an
// independent reader.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// MIMEType is the media type of serialized files.
const MIMEType = "audio/wav"

// HeaderSize is the length of the canonical header preceding the payload.
const HeaderSize = 44

// formatPCM is the WAVE format code for linear PCM.
const formatPCM = 1

// ErrInvalidFormat is returned for non-positive rates or channel counts, bit
// depths that are not a whole number of bytes, and payloads too large for a
// 32-bit RIFF size field.
var ErrInvalidFormat = errors.New("wav: invalid format")

// Encode returns a complete WAV file: the 44-byte header followed by pcm
// verbatim.
func Encode(pcm []byte, sampleRate, channels, bitsPerSample int) ([]byte, error) {
	hdr, err := header(len(pcm), sampleRate, channels, bitsPerSample)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, HeaderSize+len(pcm))
	out = append(out, hdr[:]...)
	return append(out, pcm...), nil
}

// Write streams the same bytes [Encode] would return to w.
func Write(w io.Writer, pcm []byte, sampleRate, channels, bitsPerSample int) error {
	hdr, err := header(len(pcm), sampleRate, channels, bitsPerSample)
	if err != nil {
		return err
	}
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("wav: write header: %w", err)
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("wav: write payload: %w", err)
	}
	return nil
}

func header(payload, sampleRate, channels, bitsPerSample int) ([HeaderSize]byte, error) {
	var h [HeaderSize]byte
	switch {
	case sampleRate <= 0:
		return h, fmt.Errorf("%w: sample rate %d", ErrInvalidFormat, sampleRate)
	case channels <= 0 || channels > math.MaxUint16:
		return h, fmt.Errorf("%w: channel count %d", ErrInvalidFormat, channels)
	case bitsPerSample <= 0 || bitsPerSample%8 != 0 || bitsPerSample > math.MaxUint16:
		return h, fmt.Errorf("%w: bits per sample %d", ErrInvalidFormat, bitsPerSample)
	case int64(payload) > math.MaxUint32-36:
		return h, fmt.Errorf("%w: payload of %d bytes", ErrInvalidFormat, payload)
	}

	blockAlign := channels * bitsPerSample / 8
	le := binary.LittleEndian

	copy(h[0:4], "RIFF")
	le.PutUint32(h[4:8], uint32(36+payload))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	le.PutUint32(h[16:20], 16)
	le.PutUint16(h[20:22], formatPCM)
	le.PutUint16(h[22:24], uint16(channels))
	le.PutUint32(h[24:28], uint32(sampleRate))
	le.PutUint32(h[28:32], uint32(sampleRate*blockAlign))
	le.PutUint16(h[32:34], uint16(blockAlign))
	le.PutUint16(h[34:36], uint16(bitsPerSample))
	copy(h[36:40], "data")
	le.PutUint32(h[40:44], uint32(payload))
	return h, nil
}
