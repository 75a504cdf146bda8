package timeline

import "github.com/MrWong99/livetalk/pkg/audio"

// source is one buffer placed on a [Timeline]. Fields other than t, buf,
// start, seq and onEnded are guarded by t.mu.
type source struct {
	t       *Timeline
	buf     audio.Buffer
	start   int64
	seq     uint64
	onEnded func()

	index int  // position in the pending heap, -1 once playing
	done  bool // finished, stopped, or dropped by Close
}

// Stop implements [audio.Source].
func (s *source) Stop() {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	s.t.removeLocked(s)
}

func (s *source) end() int64 {
	return s.start + int64(s.buf.Frames())
}

// mix adds the part of s that overlaps [from, from+n) into interleaved dst.
func (s *source) mix(dst []float32, from, n int64, channels int) {
	lo := max(s.start, from)
	hi := min(s.end(), from+n)
	mono := s.buf.Channels() == 1
	for f := lo; f < hi; f++ {
		srcIdx := f - s.start
		out := int(f-from) * channels
		for c := range channels {
			data := s.buf.Data[0]
			if !mono {
				data = s.buf.Data[c]
			}
			dst[out+c] += data[srcIdx]
		}
	}
}
