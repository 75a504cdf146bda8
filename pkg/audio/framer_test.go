package audio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/livetalk/pkg/audio"
)

func TestFramer_RechunksCallbacks(t *testing.T) {
	t.Parallel()

	var frames []audio.AudioFrame
	f := audio.NewFramer(4, 1, 16000, func(fr audio.AudioFrame) { frames = append(frames, fr) })

	f.Write([]float32{1, 2, 3})
	if len(frames) != 0 {
		t.Fatalf("emitted %d frames before a full frame was buffered", len(frames))
	}
	f.Write([]float32{4, 5, 6, 7, 8, 9, 10})
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[1].Samples[0] != 5 || frames[1].Samples[3] != 8 {
		t.Errorf("second frame = %v", frames[1].Samples)
	}
	if frames[1].Timestamp != 250*time.Microsecond {
		t.Errorf("second frame timestamp = %v, want 250µs", frames[1].Timestamp)
	}
	if frames[0].Len() != 4 || frames[0].SampleRate != 16000 {
		t.Errorf("frame shape = %d samples @ %d Hz", frames[0].Len(), frames[0].SampleRate)
	}
}

func TestFramer_FramesDoNotAlias(t *testing.T) {
	t.Parallel()

	var frames []audio.AudioFrame
	f := audio.NewFramer(2, 1, 16000, func(fr audio.AudioFrame) { frames = append(frames, fr) })
	f.Write([]float32{1, 2, 3, 4})
	frames[0].Samples[0] = 99
	if frames[1].Samples[0] != 3 {
		t.Error("frames share a backing array")
	}
}

func TestFramer_Reset(t *testing.T) {
	t.Parallel()

	var frames []audio.AudioFrame
	f := audio.NewFramer(2, 1, 16000, func(fr audio.AudioFrame) { frames = append(frames, fr) })
	f.Write([]float32{1, 2, 3})
	f.Reset()
	f.Write([]float32{7, 8})
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[1].Samples[0] != 7 || frames[1].Timestamp != 0 {
		t.Errorf("after reset: samples %v at %v", frames[1].Samples, frames[1].Timestamp)
	}
}
