// Package miniaudio implements [audio.Device] on top of miniaudio through
// github.com/gen2brain/malgo.
//
// Every opened input or output owns its own malgo context, so the microphone
// and the speaker can be released independently of each other.
package miniaudio

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/livetalk/pkg/audio"
	"github.com/MrWong99/livetalk/pkg/audio/timeline"
)

// Compile-time interface assertion.
var _ audio.Device = (*Device)(nil)

// Option configures a [Device].
type Option func(*Device)

// WithPeriodSize sets the device period in frames. Smaller periods lower
// latency at the cost of more callbacks. Zero keeps the backend default.
func WithPeriodSize(frames uint32) Option {
	return func(d *Device) { d.periodFrames = frames }
}

// WithBackendLogging forwards miniaudio's own log messages to slog at debug
// level.
func WithBackendLogging() Option {
	return func(d *Device) {
		d.logf = func(msg string) { slog.Debug("miniaudio", "message", msg) }
	}
}

// Device opens capture and playback streams on the system's default audio
// devices.
type Device struct {
	periodFrames uint32
	logf         func(string)
}

// New returns a Device. No hardware is touched until a stream is opened.
func New(opts ...Option) *Device {
	d := &Device{logf: func(string) {}}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Device) newContext() (*malgo.AllocatedContext, error) {
	actx, err := malgo.InitContext(nil, malgo.ContextConfig{}, d.logf)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %w", err)
	}
	return actx, nil
}

// OpenInput implements [audio.Device]. The microphone is opened in 32-bit
// float format and its callback buffers are re-chunked into frames of
// cfg.FrameSize samples per channel.
func (d *Device) OpenInput(ctx context.Context, cfg audio.InputConfig, onFrame func(audio.AudioFrame)) (audio.Input, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Channels < 1 {
		cfg.Channels = 1
	}

	actx, err := d.newContext()
	if err != nil {
		return nil, err
	}

	framer := audio.NewFramer(cfg.FrameSize, cfg.Channels, cfg.SampleRate, onFrame)
	bytesPerFrame := malgo.SampleSizeInBytes(malgo.FormatF32) * cfg.Channels
	var scratch []float32

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.SampleRate = uint32(cfg.SampleRate)
	devCfg.Capture.Format = malgo.FormatF32
	devCfg.Capture.Channels = uint32(cfg.Channels)
	devCfg.Alsa.NoMMap = 1
	devCfg.PeriodSizeInFrames = d.periodFrames

	dev, err := malgo.InitDevice(actx.Context, devCfg, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if n == 0 || len(pInput) < n {
				return
			}
			scratch = decodeF32(scratch[:0], pInput[:n])
			framer.Write(scratch)
		},
	})
	if err != nil {
		freeContext(actx)
		return nil, fmt.Errorf("miniaudio: open capture device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		freeContext(actx)
		return nil, fmt.Errorf("miniaudio: start capture device: %w", err)
	}

	return &stream{actx: actx, dev: dev}, nil
}

// OpenOutput implements [audio.Device]. The returned output renders a
// [timeline.Timeline] into a 16-bit playback device; its clock advances as
// the hardware consumes audio.
func (d *Device) OpenOutput(ctx context.Context, format audio.Format) (audio.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if format.Channels < 1 {
		format.Channels = 1
	}

	actx, err := d.newContext()
	if err != nil {
		return nil, err
	}

	tl := timeline.New(format)
	bytesPerFrame := malgo.SampleSizeInBytes(malgo.FormatS16) * format.Channels
	var mixBuf []float32

	devCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	devCfg.SampleRate = uint32(format.SampleRate)
	devCfg.Playback.Format = malgo.FormatS16
	devCfg.Playback.Channels = uint32(format.Channels)
	devCfg.Alsa.NoMMap = 1
	devCfg.PeriodSizeInFrames = d.periodFrames

	dev, err := malgo.InitDevice(actx.Context, devCfg, malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, frameCount uint32) {
			n := int(frameCount) * format.Channels
			if n == 0 || len(pOutput) < int(frameCount)*bytesPerFrame {
				return
			}
			if cap(mixBuf) < n {
				mixBuf = make([]float32, n)
			}
			mixBuf = mixBuf[:n]
			tl.Render(mixBuf)
			audio.FloatToInt16Into(pOutput, mixBuf)
		},
	})
	if err != nil {
		freeContext(actx)
		return nil, fmt.Errorf("miniaudio: open playback device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		freeContext(actx)
		return nil, fmt.Errorf("miniaudio: start playback device: %w", err)
	}

	return &output{Timeline: tl, stream: stream{actx: actx, dev: dev}}, nil
}

// stream owns one malgo device and the context it was opened on.
type stream struct {
	actx *malgo.AllocatedContext
	dev  *malgo.Device

	closeOnce sync.Once
	closeErr  error
}

// Close stops the device, waits for its callback to return and releases the
// context. Safe to call more than once.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.dev.Uninit()
		s.closeErr = freeContext(s.actx)
	})
	return s.closeErr
}

// output is a playback stream whose clock and scheduling come from the
// embedded timeline.
type output struct {
	*timeline.Timeline
	stream stream
}

// Close implements [audio.Output].
func (o *output) Close() error {
	err := o.stream.Close()
	_ = o.Timeline.Close()
	return err
}

func freeContext(actx *malgo.AllocatedContext) error {
	err := actx.Uninit()
	actx.Free()
	if err != nil {
		return fmt.Errorf("miniaudio: release context: %w", err)
	}
	return nil
}

// decodeF32 appends the native float32 samples in b to dst. miniaudio
// delivers samples in host byte order; every supported host is
// little-endian.
func decodeF32(dst []float32, b []byte) []float32 {
	for i := 0; i+3 < len(b); i += 4 {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(b[i:])))
	}
	return dst
}
