package session_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/livetalk/internal/session"
	"github.com/MrWong99/livetalk/pkg/audio"
	"github.com/MrWong99/livetalk/pkg/audio/wav"
	"github.com/MrWong99/livetalk/pkg/live"
)

func TestExport_RecordsModelSpeech(t *testing.T) {
	t.Parallel()

	f := newFixture(t, session.Config{})
	f.start(t)

	f.ch.Push(live.Message{Audio: []audio.EncodedChunk{halfSecond(), halfSecond()}})
	waitFor(t, "two chunks", func() bool { return f.playCalls() == 2 })

	var buf bytes.Buffer
	if err := f.ctrl.Export(&buf); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if got, want := buf.Len(), wav.HeaderSize+48000; got != want {
		t.Fatalf("export size = %d, want %d", got, want)
	}

	info, err := wav.Inspect(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if info.SampleRate != 24000 || info.Channels != 1 || info.BitsPerSample != 16 || info.Frames != 24000 {
		t.Errorf("Info = %+v", info)
	}
}

func TestExport_SurvivesStopAndClearsOnStart(t *testing.T) {
	t.Parallel()

	f := newFixture(t, session.Config{})
	f.start(t)
	f.ch.Push(live.Message{Audio: []audio.EncodedChunk{halfSecond()}})
	waitFor(t, "chunk", func() bool { return f.playCalls() == 1 })

	if err := f.ctrl.Stop(); err != nil {
		t.Fatal(err)
	}
	if got := f.ctrl.RecordedBytes(); got != 24000 {
		t.Errorf("RecordedBytes after Stop = %d, want 24000", got)
	}

	f.dialer.Channel = nil
	f.start(t)
	if got := f.ctrl.RecordedBytes(); got != 0 {
		t.Errorf("RecordedBytes after restart = %d, want 0", got)
	}
}

func TestExport_BoundedKeepsNewestAudio(t *testing.T) {
	t.Parallel()

	f := newFixture(t, session.Config{ExportMaxBytes: 30000})
	f.start(t)

	first := make([]byte, 24000)
	second := make([]byte, 24000)
	for i := range second {
		second[i] = 0x11
	}
	f.ch.Push(live.Message{Audio: []audio.EncodedChunk{
		audio.Chunk{Data: first, SampleRate: 24000, Channels: 1}.Encode(),
		audio.Chunk{Data: second, SampleRate: 24000, Channels: 1}.Encode(),
	}})
	waitFor(t, "two chunks", func() bool { return f.playCalls() == 2 })

	if got := f.ctrl.RecordedBytes(); got != 30000 {
		t.Fatalf("RecordedBytes = %d, want 30000", got)
	}

	var buf bytes.Buffer
	if err := f.ctrl.Export(&buf); err != nil {
		t.Fatal(err)
	}
	payload := buf.Bytes()[wav.HeaderSize:]
	if n := binary.LittleEndian.Uint32(buf.Bytes()[40:44]); n != 30000 {
		t.Errorf("data size = %d, want 30000", n)
	}
	if !bytes.Equal(payload[len(payload)-24000:], second) {
		t.Error("newest chunk was trimmed")
	}
}

func TestExport_EmptyRecordingIsValid(t *testing.T) {
	t.Parallel()

	f := newFixture(t, session.Config{})
	var buf bytes.Buffer
	if err := f.ctrl.Export(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != wav.HeaderSize {
		t.Errorf("size = %d, want %d", buf.Len(), wav.HeaderSize)
	}
}

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

func TestExport_WriteFailure(t *testing.T) {
	t.Parallel()

	full := errors.New("disk full")
	f := newFixture(t, session.Config{})
	f.start(t)

	err := f.ctrl.Export(failingWriter{err: full})
	var eerr *session.ExportError
	if !errors.As(err, &eerr) || !errors.Is(err, full) {
		t.Fatalf("Export = %v, want ExportError wrapping %v", err, full)
	}
	if got := f.ctrl.State(); got != session.StateLive {
		t.Errorf("State = %v, export failure must not affect the session", got)
	}
}

func TestExportFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t, session.Config{})
	f.start(t)
	f.ch.Push(live.Message{Audio: []audio.EncodedChunk{halfSecond()}})
	waitFor(t, "chunk", func() bool { return f.playCalls() == 1 })

	dir := t.TempDir()
	path := filepath.Join(dir, "reply.wav")
	if err := f.ctrl.ExportFile(path); err != nil {
		t.Fatalf("ExportFile: %v", err)
	}

	fh, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()
	chunk, err := wav.Decode(fh)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if chunk.SampleRate != 24000 || chunk.Channels != 1 || len(chunk.Data) != 24000 {
		t.Errorf("decoded %d Hz, %d ch, %d bytes", chunk.SampleRate, chunk.Channels, len(chunk.Data))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory holds %d entries, want only the export", len(entries))
	}
}

func TestExportFile_MissingDirectory(t *testing.T) {
	t.Parallel()

	f := newFixture(t, session.Config{})
	path := filepath.Join(t.TempDir(), "missing", "reply.wav")

	err := f.ctrl.ExportFile(path)
	var eerr *session.ExportError
	if !errors.As(err, &eerr) {
		t.Fatalf("ExportFile = %v, want *ExportError", err)
	}
	if eerr.Path != path {
		t.Errorf("Path = %q, want %q", eerr.Path, path)
	}
}
