package session

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/MrWong99/livetalk/pkg/audio"
	"github.com/MrWong99/livetalk/pkg/audio/wav"
)

// recorder keeps the most recent model speech at the playback format.
type recorder struct {
	mu       sync.Mutex
	format   audio.Format
	maxBytes int
	pcm      []byte
}

// reset clears the recording and switches it to format.
func (r *recorder) reset(format audio.Format) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.format = format
	r.pcm = r.pcm[:0]
}

// add appends a scheduled chunk. Once the recording exceeds maxBytes the
// oldest whole frames are discarded.
func (r *recorder) add(c audio.Chunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pcm = append(r.pcm, c.Data...)
	if r.maxBytes <= 0 || len(r.pcm) <= r.maxBytes {
		return
	}
	block := 2 * max(r.format.Channels, 1)
	excess := len(r.pcm) - r.maxBytes
	excess += (block - excess%block) % block
	n := copy(r.pcm, r.pcm[excess:])
	r.pcm = r.pcm[:n]
}

func (r *recorder) snapshot() ([]byte, audio.Format) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, len(r.pcm))
	copy(out, r.pcm)
	return out, r.format
}

// RecordedBytes returns the size of the PCM payload Export would write.
func (c *Controller) RecordedBytes() int {
	c.rec.mu.Lock()
	defer c.rec.mu.Unlock()
	return len(c.rec.pcm)
}

// Export writes the model speech received so far as a 16-bit WAV file to w.
// The recording survives Stop and is cleared by the next Start. Failures are
// returned as *[ExportError] and leave the session untouched.
func (c *Controller) Export(w io.Writer) error {
	if err := c.writeWAV(w); err != nil {
		return &ExportError{Err: err}
	}
	return nil
}

func (c *Controller) writeWAV(w io.Writer) error {
	pcm, f := c.rec.snapshot()
	if f.SampleRate == 0 {
		f = audio.Format{SampleRate: c.cfg.PlaybackSampleRate, Channels: c.cfg.PlaybackChannels}
	}
	return wav.Write(w, pcm, f.SampleRate, f.Channels, 16)
}

// ExportFile writes the recording to path. The file is written to a
// temporary sibling first and renamed into place, so path never holds a
// partial file.
func (c *Controller) ExportFile(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".livetalk-export-*")
	if err != nil {
		return &ExportError{Path: path, Err: err}
	}
	defer os.Remove(tmp.Name())

	if err := c.writeWAV(tmp); err != nil {
		_ = tmp.Close()
		return &ExportError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &ExportError{Path: path, Err: fmt.Errorf("close: %w", err)}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return &ExportError{Path: path, Err: err}
	}
	return nil
}
