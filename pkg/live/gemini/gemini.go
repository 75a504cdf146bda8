// Package gemini implements [live.Dialer] for Google's Gemini Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live endpoint
// and exchanges JSON messages according to the BidiGenerateContent protocol.
// Microphone audio is transmitted as base64-encoded PCM media chunks; model
// speech, input/output transcriptions, turn boundaries and interruption
// signals are surfaced as [live.Message] values.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/livetalk/pkg/audio"
	"github.com/MrWong99/livetalk/pkg/live"
)

// Compile-time assertions that Dialer and channel satisfy the live interfaces.
var _ live.Dialer = (*Dialer)(nil)
var _ live.Channel = (*channel)(nil)

const (
	defaultModel   = "gemini-2.0-flash-live-001"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	defaultOutboxSize = 32
	messageBuffer     = 64

	// readLimit bounds a single inbound frame. Model turns carry base64 audio
	// and regularly exceed the websocket library's 32 KiB default.
	readLimit = 8 << 20

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Dialer.
type Option func(*Dialer)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(d *Dialer) {
		if model != "" {
			d.model = model
		}
	}
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(u string) Option {
	return func(d *Dialer) {
		if u != "" {
			d.baseURL = u
		}
	}
}

// WithOutboxSize sets how many outbound chunks may be queued before Send
// starts reporting [live.ErrBackpressure].
func WithOutboxSize(n int) Option {
	return func(d *Dialer) {
		if n > 0 {
			d.outboxSize = n
		}
	}
}

// ── Dialer ─────────────────────────────────────────────────────────────────────

// Dialer opens Gemini Live sessions.
type Dialer struct {
	apiKey     string
	model      string
	baseURL    string
	outboxSize int
}

// New creates a Gemini Live Dialer with the given API key and options.
func New(apiKey string, opts ...Option) *Dialer {
	d := &Dialer{
		apiKey:     apiKey,
		model:      defaultModel,
		baseURL:    defaultBaseURL,
		outboxSize: defaultOutboxSize,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial connects, sends the setup message and waits for the server's
// setupComplete acknowledgement. The returned channel is ready for audio.
func (d *Dialer) Dial(ctx context.Context, cfg live.Config) (live.Channel, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		d.baseURL, url.QueryEscape(d.apiKey),
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	if err := handshake(ctx, conn, d.model, cfg); err != nil {
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	rate := cfg.InputSampleRate
	if rate <= 0 {
		rate = 16000
	}

	chCtx, chCancel := context.WithCancel(context.Background())
	ch := &channel{
		conn:     conn,
		mimeType: audio.PCMMimeType(rate),
		outbox:   make(chan []byte, d.outboxSize),
		messages: make(chan live.Message, messageBuffer),
		done:     make(chan struct{}),
		ctx:      chCtx,
		cancel:   chCancel,
	}

	go ch.writeLoop()
	go ch.receiveLoop()
	go ch.keepaliveLoop()

	return ch, nil
}

// handshake sends the setup message and blocks until setupComplete arrives.
func handshake(ctx context.Context, conn *websocket.Conn, model string, cfg live.Config) error {
	data, err := json.Marshal(newSetupMessage(model, cfg))
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("await setupComplete: %w", err)
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != nil {
			return msg.Error
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

func newSetupMessage(model string, cfg live.Config) setupMessage {
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
			InputAudioTranscription:  &struct{}{},
			OutputAudioTranscription: &struct{}{},
		},
	}

	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}

	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	return msg
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string             `json:"model"`
	GenerationConfig         generationConfig   `json:"generationConfig"`
	SystemInstruction        *systemInstruction `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}          `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}          `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *goAway          `json:"goAway,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

func (e *geminiError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	if e.Status != "" {
		return fmt.Sprintf("gemini: %s (%d %s)", msg, e.Code, e.Status)
	}
	return fmt.Sprintf("gemini: %s", msg)
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

// ── channel ────────────────────────────────────────────────────────────────────

type channel struct {
	conn     *websocket.Conn
	mimeType string
	outbox   chan []byte
	messages chan live.Message

	mu     sync.Mutex
	errVal error
	done   chan struct{}
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Send implements [live.Sender]. The chunk is queued for the writer goroutine;
// if the queue is full it is dropped with [live.ErrBackpressure].
func (c *channel) Send(chunk audio.EncodedChunk) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return live.ErrClosed
	}

	mimeType := chunk.MIMEType
	if mimeType == "" {
		mimeType = c.mimeType
	}
	data, err := json.Marshal(realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []inlineData{{MIMEType: mimeType, Data: chunk.Data}},
		},
	})
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}

	select {
	case c.outbox <- data:
		return nil
	case <-c.done:
		return live.ErrClosed
	default:
		return live.ErrBackpressure
	}
}

// Messages implements [live.Channel].
func (c *channel) Messages() <-chan live.Message { return c.messages }

// writeLoop drains the outbox onto the connection in order.
func (c *channel) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.outbox:
			if err := c.conn.Write(c.ctx, websocket.MessageText, data); err != nil {
				if c.ctx.Err() != nil {
					return
				}
				c.setErr(fmt.Errorf("gemini: write: %w", err))
				// Unblocks receiveLoop, which reports the failure.
				c.conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// receiveLoop reads messages from the WebSocket and dispatches them.
// It owns the messages channel and closes it when it exits.
func (c *channel) receiveLoop() {
	defer close(c.messages)

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			// If the channel was closed locally, exit without a final message.
			if c.ctx.Err() != nil {
				return
			}
			c.finish(c.readErr(err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("gemini: skipping malformed frame", "err", err)
			continue
		}

		if msg.Error != nil {
			c.setErr(msg.Error)
			c.finish(msg.Error)
			c.conn.Close(websocket.StatusNormalClosure, "server error")
			return
		}
		if msg.GoAway != nil {
			slog.Warn("gemini: server is going away", "time_left", msg.GoAway.TimeLeft)
		}
		if msg.ServerContent != nil {
			if out, ok := convertServerContent(msg.ServerContent); ok {
				if !c.emit(out) {
					return
				}
			}
		}
	}
}

// readErr maps a read failure to the channel's terminal error. A normal
// close by the server is not an error.
func (c *channel) readErr(err error) error {
	if prev := c.Err(); prev != nil {
		return prev
	}
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return nil
	}
	err = fmt.Errorf("gemini: read: %w", err)
	c.setErr(err)
	return err
}

// finish delivers the final message of the stream.
func (c *channel) finish(err error) {
	c.emit(live.Message{Closed: true, Err: err})
}

// emit delivers m unless the channel is closed locally first.
func (c *channel) emit(m live.Message) bool {
	select {
	case c.messages <- m:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// convertServerContent maps one serverContent payload onto a [live.Message].
// It reports false if the payload carried nothing of interest.
func convertServerContent(sc *serverContent) (live.Message, bool) {
	var m live.Message

	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		m.Transcripts = append(m.Transcripts, live.TranscriptFragment{Role: live.RoleUser, Text: sc.InputTranscription.Text})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		m.Transcripts = append(m.Transcripts, live.TranscriptFragment{Role: live.RoleModel, Text: sc.OutputTranscription.Text})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.Text != "" {
				m.Transcripts = append(m.Transcripts, live.TranscriptFragment{Role: live.RoleModel, Text: p.Text})
			}
			if p.InlineData != nil && p.InlineData.Data != "" {
				m.Audio = append(m.Audio, audio.EncodedChunk{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data})
			}
		}
	}
	m.Interrupted = sc.Interrupted
	m.TurnComplete = sc.TurnComplete

	ok := len(m.Transcripts) > 0 || len(m.Audio) > 0 || m.Interrupted || m.TurnComplete
	return m, ok
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (c *channel) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, keepaliveTimeout)
			_ = c.conn.Ping(pingCtx)
			cancel()
		}
	}
}

func (c *channel) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errVal == nil {
		c.errVal = err
	}
}

// Err returns the first error that caused the channel to terminate.
func (c *channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

// Close terminates the channel and releases all resources. Idempotent.
func (c *channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()    // unblocks receiveLoop, writeLoop and keepaliveLoop
	close(c.done) // signals keepaliveLoop via done channel
	c.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
