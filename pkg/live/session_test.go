package live

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeCapture struct {
	mu        sync.Mutex
	openErr   error
	startErr  error
	opened    int
	started   int
	stopCalls int
	onFrame   func(AudioFrame)
}

func (f *fakeCapture) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.opened++
	return nil
}

func (f *fakeCapture) Start(onFrame func(AudioFrame)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started++
	f.onFrame = onFrame
	return nil
}

func (f *fakeCapture) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return nil
}

// deliver feeds a frame through the registered callback, as the device
// driver would.
func (f *fakeCapture) deliver(frame AudioFrame) {
	f.mu.Lock()
	cb := f.onFrame
	f.mu.Unlock()
	if cb != nil {
		cb(frame)
	}
}

type fakeStream struct {
	mu         sync.Mutex
	openErr    error
	handlers   StreamHandlers
	sent       []EncodedAudioChunk
	closeCalls int
}

func (f *fakeStream) Open(ctx context.Context, cfg StreamConfig, h StreamHandlers) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.handlers = h
	return nil
}

func (f *fakeStream) Send(chunk EncodedAudioChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, chunk)
	return nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakeStream) sentChunks() []EncodedAudioChunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]EncodedAudioChunk(nil), f.sent...)
}

func newTestController(capture CaptureSource, stream *fakeStream, sink *fakeSink) *Controller {
	return NewController(DefaultSessionConfig(), stream, capture, &fakeClock{}, sink)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitState(t *testing.T, c *Controller, want SessionState) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return c.State() == want })
}

func TestSessionStartToConnected(t *testing.T) {
	capture := &fakeCapture{}
	stream := &fakeStream{}
	c := newTestController(capture, stream, &fakeSink{})
	defer c.Close()

	if c.State() != StateConnecting {
		t.Fatalf("initial state: got %v", c.State())
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if c.State() != StateInitializing {
		t.Fatalf("after start: got %v, want initializing", c.State())
	}

	stream.handlers.OnOpen()
	waitState(t, c, StateConnected)
	waitFor(t, "capture started", func() bool {
		capture.mu.Lock()
		defer capture.mu.Unlock()
		return capture.started == 1
	})
}

func TestSessionStartTwice(t *testing.T) {
	capture := &fakeCapture{}
	stream := &fakeStream{}
	c := newTestController(capture, stream, &fakeSink{})
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err == nil {
		t.Error("second start should fail")
	}
}

func TestSessionDeviceFailure(t *testing.T) {
	capture := &fakeCapture{openErr: errors.New("no such device")}
	stream := &fakeStream{}
	c := newTestController(capture, stream, &fakeSink{})

	err := c.Start(context.Background())
	if !IsCode(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if c.State() != StateError {
		t.Errorf("state: got %v, want error", c.State())
	}
	// Partial teardown still attempts every release.
	if capture.stopCalls != 1 {
		t.Errorf("capture stop calls: got %d, want 1", capture.stopCalls)
	}
	if stream.closeCalls != 1 {
		t.Errorf("stream close calls: got %d, want 1", stream.closeCalls)
	}
}

func TestSessionConnectFailure(t *testing.T) {
	capture := &fakeCapture{}
	stream := &fakeStream{openErr: errors.New("dial tcp: connection refused")}
	sink := &fakeSink{}
	c := newTestController(capture, stream, sink)

	err := c.Start(context.Background())
	if !IsCode(err, ErrConnectionRefused) {
		t.Fatalf("expected ErrConnectionRefused, got %v", err)
	}
	if c.State() != StateError {
		t.Errorf("state: got %v, want error", c.State())
	}
	if capture.stopCalls != 1 {
		t.Errorf("microphone not released after connect failure")
	}
	if sink.closeCalls() != 1 {
		t.Errorf("output device not released after connect failure")
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	capture := &fakeCapture{}
	stream := &fakeStream{}
	sink := &fakeSink{}
	c := newTestController(capture, stream, sink)

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	stream.handlers.OnOpen()
	waitState(t, c, StateConnected)

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	if c.State() != StateClosed {
		t.Errorf("state: got %v, want closed", c.State())
	}
	if capture.stopCalls != 1 {
		t.Errorf("capture stop calls: got %d, want 1", capture.stopCalls)
	}
	if stream.closeCalls != 1 {
		t.Errorf("stream close calls: got %d, want 1", stream.closeCalls)
	}
	if sink.closeCalls() != 1 {
		t.Errorf("sink close calls: got %d, want 1", sink.closeCalls())
	}

	// The events channel closes with the session.
	waitFor(t, "events channel close", func() bool {
		select {
		case _, ok := <-c.Events():
			return !ok
		default:
			return false
		}
	})
}

func TestSessionTranscriptFlow(t *testing.T) {
	capture := &fakeCapture{}
	stream := &fakeStream{}
	c := newTestController(capture, stream, &fakeSink{})
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	stream.handlers.OnOpen()
	waitState(t, c, StateConnected)

	stream.handlers.OnMessage(UserTranscriptDelta{Text: "He"})
	stream.handlers.OnMessage(UserTranscriptDelta{Text: "llo"})
	stream.handlers.OnMessage(ModelTranscriptDelta{Text: "Hi"})
	stream.handlers.OnMessage(TurnComplete{})

	waitFor(t, "turn sealed", func() bool { return len(c.Turns()) == 1 })
	turn := c.Turns()[0]
	if turn.User != "Hello" || turn.Model != "Hi" {
		t.Errorf("sealed turn: got %+v", turn)
	}
	if !c.CurrentTurn().Empty() {
		t.Errorf("current turn not reset: %+v", c.CurrentTurn())
	}
}

func TestSessionPartialTurnSurvivesClose(t *testing.T) {
	capture := &fakeCapture{}
	stream := &fakeStream{}
	c := newTestController(capture, stream, &fakeSink{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	stream.handlers.OnOpen()
	waitState(t, c, StateConnected)

	stream.handlers.OnMessage(UserTranscriptDelta{Text: "par"})
	waitFor(t, "delta applied", func() bool { return c.CurrentTurn().User == "par" })

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if len(c.Turns()) != 0 {
		t.Errorf("partial turn must not be sealed on close: %+v", c.Turns())
	}
	if c.CurrentTurn().User != "par" {
		t.Errorf("partial turn lost on close: %+v", c.CurrentTurn())
	}
}

func TestSessionOutboundPath(t *testing.T) {
	capture := &fakeCapture{}
	stream := &fakeStream{}
	c := newTestController(capture, stream, &fakeSink{})
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	stream.handlers.OnOpen()
	waitState(t, c, StateConnected)

	capture.deliver(AudioFrame{Samples: []float32{0.5, -0.5}, SampleRate: 16000, Channels: 1})

	waitFor(t, "chunk sent", func() bool { return len(stream.sentChunks()) == 1 })
	chunk := stream.sentChunks()[0]
	if chunk.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("mime type: got %q", chunk.MIMEType)
	}
	if len(chunk.Data) != 4 {
		t.Errorf("encoded length: got %d, want 4", len(chunk.Data))
	}
}

func TestSessionNoSendAfterClose(t *testing.T) {
	capture := &fakeCapture{}
	stream := &fakeStream{}
	c := newTestController(capture, stream, &fakeSink{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	stream.handlers.OnOpen()
	waitState(t, c, StateConnected)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	capture.deliver(AudioFrame{Samples: []float32{0.1}, SampleRate: 16000, Channels: 1})
	if got := len(stream.sentChunks()); got != 0 {
		t.Errorf("frames must not be sent after close, got %d", got)
	}
}

func TestSessionInboundAudioScheduled(t *testing.T) {
	capture := &fakeCapture{}
	stream := &fakeStream{}
	sink := &fakeSink{}
	c := newTestController(capture, stream, sink)
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	stream.handlers.OnOpen()
	waitState(t, c, StateConnected)

	stream.handlers.OnMessage(AudioPayload{Data: make([]byte, 4800), SampleRate: 24000, Channels: 1})
	waitFor(t, "audio scheduled", func() bool { return len(sink.scheduledCalls()) == 1 })
	if got := sink.scheduledCalls()[0].dur; got != 100*time.Millisecond {
		t.Errorf("scheduled duration: got %v, want 100ms", got)
	}
}

func TestSessionTransportErrorTerminal(t *testing.T) {
	capture := &fakeCapture{}
	stream := &fakeStream{}
	c := newTestController(capture, stream, &fakeSink{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	stream.handlers.OnOpen()
	waitState(t, c, StateConnected)

	stream.handlers.OnError(errors.New("websocket: close 1006"))
	waitState(t, c, StateError)

	if !IsCode(c.Err(), ErrTransport) {
		t.Errorf("expected ErrTransport, got %v", c.Err())
	}
	waitFor(t, "capture released", func() bool {
		capture.mu.Lock()
		defer capture.mu.Unlock()
		return capture.stopCalls == 1
	})
}

// gateCapture blocks inside Open until released, so tests can interleave
// Close with a device acquisition already in flight.
type gateCapture struct {
	entered   chan struct{}
	release   chan struct{}
	openErr   error
	stopCalls atomic.Int32
}

func newGateCapture(openErr error) *gateCapture {
	return &gateCapture{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		openErr: openErr,
	}
}

func (g *gateCapture) Open() error {
	close(g.entered)
	<-g.release
	return g.openErr
}

func (g *gateCapture) Start(func(AudioFrame)) error { return nil }

func (g *gateCapture) Stop() error {
	g.stopCalls.Add(1)
	return nil
}

func TestSessionCloseDuringDeviceFailure(t *testing.T) {
	capture := newGateCapture(errors.New("no such device"))
	stream := &fakeStream{}
	sink := &fakeSink{}
	c := newTestController(capture, stream, sink)

	startErr := make(chan error, 1)
	go func() { startErr <- c.Start(context.Background()) }()
	<-capture.entered

	// Cancel while the device is still being acquired.
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	close(capture.release)

	if err := <-startErr; err == nil {
		t.Error("start should fail after cancellation")
	}
	if !c.State().Terminal() {
		t.Errorf("state: got %v, want terminal", c.State())
	}
	if got := sink.closeCalls(); got != 1 {
		t.Errorf("sink close calls: got %d, want 1", got)
	}
	if stream.closeCalls != 1 {
		t.Errorf("stream close calls: got %d, want 1", stream.closeCalls)
	}
	// The events channel closed exactly once; draining it must not hang.
	waitFor(t, "events channel close", func() bool {
		select {
		case _, ok := <-c.Events():
			return !ok
		default:
			return false
		}
	})
}

func TestSessionCloseDuringStartupReleasesDevice(t *testing.T) {
	capture := newGateCapture(nil)
	stream := &fakeStream{}
	c := newTestController(capture, stream, &fakeSink{})

	startErr := make(chan error, 1)
	go func() { startErr <- c.Start(context.Background()) }()
	<-capture.entered

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	close(capture.release)

	if err := <-startErr; err == nil {
		t.Error("start should fail after cancellation")
	}
	// The acquisition that completed after Close must be released.
	if got := capture.stopCalls.Load(); got < 1 {
		t.Error("microphone never released after cancelled startup")
	}
	if c.State() != StateClosed {
		t.Errorf("state: got %v, want closed", c.State())
	}
}

func TestSessionMalformedPayloadNonFatal(t *testing.T) {
	capture := &fakeCapture{}
	stream := &fakeStream{}
	sink := &fakeSink{}
	c := newTestController(capture, stream, sink)
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	stream.handlers.OnOpen()
	waitState(t, c, StateConnected)

	stream.handlers.OnMessage(MalformedPayload{Err: NewMalformedAudioError("bad part")})
	stream.handlers.OnMessage(AudioPayload{Data: make([]byte, 4800), SampleRate: 24000, Channels: 1})

	waitFor(t, "good payload scheduled", func() bool { return len(sink.scheduledCalls()) == 1 })
	if c.State() != StateConnected {
		t.Errorf("malformed payload must not end the session: %v", c.State())
	}
}

func TestSessionRemoteClose(t *testing.T) {
	capture := &fakeCapture{}
	stream := &fakeStream{}
	c := newTestController(capture, stream, &fakeSink{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	stream.handlers.OnOpen()
	waitState(t, c, StateConnected)

	stream.handlers.OnClose()
	waitState(t, c, StateClosed)
	if c.Err() != nil {
		t.Errorf("clean remote close should not record an error: %v", c.Err())
	}
}
