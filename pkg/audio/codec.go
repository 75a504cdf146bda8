package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"strconv"
	"strings"
)

var (
	// ErrMalformedEncoding is returned when transport text is not valid
	// base64 or carries an unusable MIME tag.
	ErrMalformedEncoding = errors.New("audio: malformed encoding")

	// ErrInvalidBufferLength is returned when PCM data does not divide evenly
	// into whole 16-bit sample frames.
	ErrInvalidBufferLength = errors.New("audio: invalid buffer length")
)

// pcmMediaType is the media type used for raw s16le audio on the wire.
const pcmMediaType = "audio/pcm"

// EncodeBase64 encodes b with the standard padded base64 alphabet.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBase64 is the inverse of [EncodeBase64]. Input containing characters
// outside the alphabet (line breaks included) or with invalid padding fails
// with [ErrMalformedEncoding].
func DecodeBase64(s string) ([]byte, error) {
	// The stdlib decoder silently skips CR and LF.
	if strings.ContainsAny(s, "\r\n") {
		return nil, fmt.Errorf("%w: line break in base64 input", ErrMalformedEncoding)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEncoding, err)
	}
	return b, nil
}

// PCMMimeType returns the MIME tag for s16le PCM at rate, e.g.
// "audio/pcm;rate=16000".
func PCMMimeType(rate int) string {
	return fmt.Sprintf("%s;rate=%d", pcmMediaType, rate)
}

// ParsePCMMimeType extracts the sample rate from a PCM MIME tag. A tag
// without a rate parameter returns rate 0 so the caller can apply its
// default. Any media type other than audio/pcm is rejected.
func ParsePCMMimeType(mimeType string) (int, error) {
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return 0, fmt.Errorf("%w: mime type %q: %v", ErrMalformedEncoding, mimeType, err)
	}
	if mediaType != pcmMediaType {
		return 0, fmt.Errorf("%w: unsupported mime type %q", ErrMalformedEncoding, mediaType)
	}
	raw, ok := params["rate"]
	if !ok {
		return 0, nil
	}
	rate, err := strconv.Atoi(raw)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("%w: invalid rate %q", ErrMalformedEncoding, raw)
	}
	return rate, nil
}

// Encode converts the chunk into its transport form. Channel count is not
// carried on the wire; the live protocol is mono.
func (c Chunk) Encode() EncodedChunk {
	return EncodedChunk{
		MIMEType: PCMMimeType(c.SampleRate),
		Data:     EncodeBase64(c.Data),
	}
}

// Decode converts the transport form back into a mono [Chunk]. defaultRate
// is used when the MIME tag omits the rate.
func (e EncodedChunk) Decode(defaultRate int) (Chunk, error) {
	rate := defaultRate
	if e.MIMEType != "" {
		r, err := ParsePCMMimeType(e.MIMEType)
		if err != nil {
			return Chunk{}, err
		}
		if r > 0 {
			rate = r
		}
	}
	if rate <= 0 {
		return Chunk{}, fmt.Errorf("%w: no sample rate for chunk", ErrMalformedEncoding)
	}
	data, err := DecodeBase64(e.Data)
	if err != nil {
		return Chunk{}, err
	}
	if len(data)%2 != 0 {
		return Chunk{}, fmt.Errorf("%w: %d bytes is not whole s16 samples", ErrInvalidBufferLength, len(data))
	}
	return Chunk{Data: data, SampleRate: rate, Channels: 1}, nil
}
