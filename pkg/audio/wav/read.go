package wav

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"

	"github.com/MrWong99/livetalk/pkg/audio"
)

// Info describes a decoded WAV file.
type Info struct {
	SampleRate    int
	Channels      int
	BitsPerSample int

	// Frames is the number of samples per channel.
	Frames int

	Duration time.Duration
}

// Inspect reads the header and payload of a linear-PCM WAV file and reports
// its format.
func Inspect(r io.ReadSeeker) (Info, error) {
	info, _, err := read(r)
	return info, err
}

// Decode reads a 16-bit linear-PCM WAV file into an [audio.Chunk].
func Decode(r io.ReadSeeker) (audio.Chunk, error) {
	info, buf, err := read(r)
	if err != nil {
		return audio.Chunk{}, err
	}
	if info.BitsPerSample != 16 {
		return audio.Chunk{}, fmt.Errorf("%w: decode supports 16-bit PCM, file is %d-bit", ErrInvalidFormat, info.BitsPerSample)
	}
	return audio.Chunk{
		Data:       intBufferToPCM(buf),
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
	}, nil
}

func read(r io.ReadSeeker) (Info, *goaudio.IntBuffer, error) {
	dec := gowav.NewDecoder(r)
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return Info{}, nil, fmt.Errorf("wav: read header: %w", err)
	}
	if dec.WavAudioFormat != formatPCM {
		return Info{}, nil, fmt.Errorf("%w: audio format %d is not linear PCM", ErrInvalidFormat, dec.WavAudioFormat)
	}
	if dec.NumChans == 0 || dec.SampleRate == 0 {
		return Info{}, nil, fmt.Errorf("%w: %d channel(s) at %d Hz", ErrInvalidFormat, dec.NumChans, dec.SampleRate)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Info{}, nil, fmt.Errorf("wav: read payload: %w", err)
	}

	info := Info{
		SampleRate:    int(dec.SampleRate),
		Channels:      int(dec.NumChans),
		BitsPerSample: int(dec.BitDepth),
		Frames:        len(buf.Data) / int(dec.NumChans),
	}
	info.Duration = time.Duration(int64(info.Frames) * int64(time.Second) / int64(info.SampleRate))
	return info, buf, nil
}

func intBufferToPCM(buf *goaudio.IntBuffer) []byte {
	out := make([]byte, len(buf.Data)*2)
	for i, s := range buf.Data {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
	}
	return out
}
