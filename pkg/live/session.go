package live

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// CaptureSource owns the microphone device and produces a continuous,
// ordered stream of fixed-size frames.
type CaptureSource interface {
	// Open acquires the device. It fails with a device-unavailable or
	// permission-denied error.
	Open() error

	// Start begins frame delivery. Each onFrame invocation occurs off
	// the caller's control flow, in device-driven real time, in strict
	// capture order.
	Start(onFrame func(AudioFrame)) error

	// Stop releases the device. It is idempotent, and no frame is
	// delivered after it returns.
	Stop() error
}

// StreamHandlers is the callback surface a StreamClient invokes as the
// remote party emits messages. Invocations preserve emission order.
type StreamHandlers struct {
	OnOpen    func()
	OnMessage func(ServerEvent)
	OnError   func(error)
	OnClose   func()
}

// StreamClient owns a single bidirectional streaming channel to the remote
// inference session.
type StreamClient interface {
	// Open establishes the channel. It fails with a connection-refused
	// or config-rejected error. OnOpen fires asynchronously once the
	// remote party acknowledges the session setup.
	Open(ctx context.Context, cfg StreamConfig, h StreamHandlers) error

	// Send transmits one encoded chunk, fire-and-forget, in call order.
	// It must only be called between Open and Close.
	Send(chunk EncodedAudioChunk) error

	// Close releases the channel. It is idempotent and guarantees no
	// handler invocation after it returns.
	Close() error
}

// queuedEvent is one entry on the controller's event queue. Every transport
// and device callback is funneled through this queue so the run loop is the
// single writer of all session state.
type queuedEvent struct {
	opened bool
	level  *AudioLevelEvent
	server ServerEvent
}

// Controller orchestrates one live session: it owns the lifecycle state
// machine, startup and teardown ordering, and all wiring between capture,
// transport, transcripts, and playback.
type Controller struct {
	config    SessionConfig
	client    StreamClient
	capture   CaptureSource
	scheduler *PlaybackScheduler

	mu         sync.RWMutex
	state      SessionState
	stateErr   *Error
	aggregator *TranscriptAggregator

	sessionID string

	queue    chan queuedEvent
	events   chan Event
	done     chan struct{}
	loopDone chan struct{}

	closed      atomic.Bool
	loopStarted bool
	started     bool

	debugEnabled bool
}

// NewController creates a session over the given channel, microphone, and
// output device. The clock and sink are typically the same device object.
func NewController(config SessionConfig, client StreamClient, capture CaptureSource, clock Clock, sink Sink) *Controller {
	return &Controller{
		config:     config,
		client:     client,
		capture:    capture,
		scheduler:  NewPlaybackScheduler(clock, sink),
		state:      StateConnecting,
		aggregator: NewTranscriptAggregator(),
		sessionID:  uuid.NewString(),
		queue:      make(chan queuedEvent, 256),
		events:     make(chan Event, 100),
		done:       make(chan struct{}),
		loopDone:   make(chan struct{}),
	}
}

// EnableDebug enables debug logging to stderr.
func (c *Controller) EnableDebug() {
	c.debugEnabled = true
}

// SessionID returns the session identifier.
func (c *Controller) SessionID() string {
	return c.sessionID
}

// State returns the current session state.
func (c *Controller) State() SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Err returns the fatal error that moved the session to StateError, if any.
func (c *Controller) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stateErr == nil {
		return nil
	}
	return c.stateErr
}

// Events returns the channel for receiving session events. It is closed
// when the session ends.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Turns returns the sealed turn history in arrival order.
func (c *Controller) Turns() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.aggregator.History()
}

// CurrentTurn returns the in-progress turn. After an abnormal close the
// partial turn remains observable here.
func (c *Controller) CurrentTurn() Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.aggregator.Current()
}

// Start acquires the microphone and opens the streaming channel, then moves
// the session to StateInitializing. Capture wiring completes and the state
// reaches StateConnected once the remote party acknowledges the setup.
//
// On any failure the session moves to StateError and every resource acquired
// so far is released.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started || c.closed.Load() {
		c.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	c.started = true
	c.mu.Unlock()

	c.debug("SESSION", "Acquiring capture device")
	if err := c.capture.Open(); err != nil {
		lerr := asSessionError(err, ErrDeviceUnavailable)
		c.failStartup(lerr)
		return lerr
	}
	if c.closed.Load() {
		// Close ran while the device was being acquired and could not
		// see it; release what this call just opened.
		if err := c.capture.Stop(); err != nil {
			c.debug("SESSION", "Capture release failed: "+err.Error())
		}
		return fmt.Errorf("session closed")
	}

	c.debug("SESSION", "Opening streaming channel")
	if err := c.client.Open(ctx, c.config.StreamConfig(), c.handlers()); err != nil {
		lerr := asSessionError(err, ErrConnectionRefused)
		c.failStartup(lerr)
		return lerr
	}

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		c.releaseCaptureAndChannel()
		return fmt.Errorf("session closed")
	}
	c.loopStarted = true
	c.mu.Unlock()
	c.setState(StateInitializing)
	go c.run()
	return nil
}

// handlers builds the callback surface handed to the stream client. Each
// callback enqueues a typed event; none of them mutates session state
// directly.
func (c *Controller) handlers() StreamHandlers {
	return StreamHandlers{
		OnOpen:    func() { c.enqueue(queuedEvent{opened: true}) },
		OnMessage: func(ev ServerEvent) { c.enqueue(queuedEvent{server: ev}) },
		OnError:   func(err error) { c.enqueue(queuedEvent{server: StreamError{Err: err}}) },
		OnClose:   func() { c.enqueue(queuedEvent{server: StreamClosed{}}) },
	}
}

func (c *Controller) enqueue(ev queuedEvent) {
	select {
	case c.queue <- ev:
	case <-c.done:
	default:
		// Queue full, drop.
		c.debug("SESSION", "Event queue full, dropping event")
	}
}

// onFrame is the capture callback: encode and send, in strict capture
// order. Send is fire-and-forget; there is no backpressure from the channel
// back to the device.
func (c *Controller) onFrame(frame AudioFrame) {
	if c.closed.Load() {
		return
	}
	chunk := EncodePCM16(frame)
	if err := c.client.Send(chunk); err != nil {
		c.debug("AUDIO", "Send failed: "+err.Error())
		return
	}
	c.enqueue(queuedEvent{level: &AudioLevelEvent{
		RMS:  RMSEnergy(frame.Samples),
		Peak: PeakAmplitude(frame.Samples),
	}})
}

// run drains the event queue one entry at a time, preserving delivery
// order. It is the only goroutine that mutates the transcript, the playback
// timeline, and the session state after startup.
func (c *Controller) run() {
	defer close(c.loopDone)
	defer close(c.events)
	defer func() {
		if err := c.scheduler.Stop(); err != nil {
			c.debug("SESSION", "Output release failed: "+err.Error())
		}
	}()

	for {
		select {
		case <-c.done:
			c.finalize(StateClosed, nil, "closed")
			return
		case ev := <-c.queue:
			if !c.handle(ev) {
				return
			}
		}
	}
}

// handle processes one queued event. It returns false when the session has
// reached a terminal state and the run loop should exit.
func (c *Controller) handle(ev queuedEvent) bool {
	if ev.opened {
		if c.State() != StateInitializing {
			return true
		}
		c.debug("SESSION", "Channel acknowledged, starting capture")
		if err := c.capture.Start(c.onFrame); err != nil {
			c.shutdown(StateError, asSessionError(err, ErrPermissionDenied), "capture start failed")
			return false
		}
		c.setState(StateConnected)
		return true
	}

	if ev.level != nil {
		c.emit(ev.level)
		return true
	}

	switch e := ev.server.(type) {
	case UserTranscriptDelta:
		c.mu.Lock()
		c.aggregator.AddUserDelta(e.Text)
		c.mu.Unlock()
		c.emit(&TranscriptDeltaEvent{Role: RoleUser, Delta: e.Text})

	case ModelTranscriptDelta:
		c.mu.Lock()
		c.aggregator.AddModelDelta(e.Text)
		c.mu.Unlock()
		c.emit(&TranscriptDeltaEvent{Role: RoleModel, Delta: e.Text})

	case TurnComplete:
		c.mu.Lock()
		sealed := c.aggregator.CompleteTurn()
		c.mu.Unlock()
		c.emit(&TurnCompletedEvent{Turn: sealed})

	case AudioPayload:
		if err := c.scheduler.Schedule(e); err != nil {
			// Fatal to this payload only: drop it, keep the session.
			c.debug("AUDIO", "Dropping payload: "+err.Error())
		}

	case MalformedPayload:
		c.debug("AUDIO", "Dropping payload: "+e.Err.Error())

	case StreamClosed:
		c.debug("SESSION", "Channel closed by remote")
		c.shutdown(StateClosed, nil, e.Reason)
		return false

	case StreamError:
		c.shutdown(StateError, NewTransportError(e.Err), "")
		return false
	}
	return true
}

// shutdown releases the microphone and the channel, then records the
// terminal state. Called only from the run loop; the scheduler's sink is
// released by the run loop's deferred stop.
func (c *Controller) shutdown(state SessionState, serr *Error, reason string) {
	if !c.closed.Swap(true) {
		c.releaseCaptureAndChannel()
	}
	c.finalize(state, serr, reason)
}

// finalize records the terminal state if none is set yet and emits the
// closing events.
func (c *Controller) finalize(state SessionState, serr *Error, reason string) {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	from := c.state
	c.state = state
	c.stateErr = serr
	c.mu.Unlock()

	c.debug("SESSION", fmt.Sprintf("State: %s -> %s", from, state))
	c.emit(&StateChangedEvent{From: from, To: state})
	if serr != nil {
		c.emit(&ErrorEvent{Code: serr.Code, Message: serr.Error()})
	} else {
		c.emit(&SessionClosedEvent{Reason: reason})
	}
}

// releaseCaptureAndChannel attempts both releases even if one fails.
// Teardown has no caller to report to, so failures are logged, not
// propagated.
func (c *Controller) releaseCaptureAndChannel() {
	if err := c.capture.Stop(); err != nil {
		c.debug("SESSION", "Capture release failed: "+err.Error())
	}
	if err := c.client.Close(); err != nil {
		c.debug("SESSION", "Channel release failed: "+err.Error())
	}
}

// failStartup tears down a partially constructed session before the run
// loop exists. All three releases are attempted regardless of how far
// startup got. The Swap gate leaves exactly one owner for the done and
// events channels when teardown races Close.
func (c *Controller) failStartup(serr *Error) {
	if c.closed.Swap(true) {
		return
	}
	c.releaseCaptureAndChannel()
	if err := c.scheduler.Stop(); err != nil {
		c.debug("SESSION", "Output release failed: "+err.Error())
	}
	c.finalize(StateError, serr, "")
	close(c.done)
	close(c.events)
}

// Close cancels the session from any state, including mid-startup. It is
// idempotent and releases the microphone, the channel, and the output
// device exactly once. It is safe to call concurrently with inbound
// traffic.
func (c *Controller) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.debug("SESSION", "Closing session")

	c.releaseCaptureAndChannel()

	c.mu.Lock()
	loopStarted := c.loopStarted
	c.mu.Unlock()

	close(c.done)
	if loopStarted {
		// The run loop performs the final state transition and releases
		// the output device on exit.
		<-c.loopDone
		return nil
	}

	if err := c.scheduler.Stop(); err != nil {
		c.debug("SESSION", "Output release failed: "+err.Error())
	}
	c.finalize(StateClosed, nil, "closed")
	close(c.events)
	return nil
}

// setState updates the session state and emits an event. Terminal states
// are never left.
func (c *Controller) setState(state SessionState) {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	from := c.state
	c.state = state
	c.mu.Unlock()

	if from != state {
		c.debug("SESSION", fmt.Sprintf("State: %s -> %s", from, state))
		c.emit(&StateChangedEvent{From: from, To: state})
	}
}

// emit sends an event to the events channel, dropping it if the consumer
// is not keeping up.
func (c *Controller) emit(event Event) {
	select {
	case c.events <- event:
	default:
	}
}

// debug logs a debug message if debug mode is enabled.
func (c *Controller) debug(category, message string) {
	if c.debugEnabled {
		timestamp := time.Now().Format("15:04:05.000")
		fmt.Fprintf(os.Stderr, "%s [%-8s] %s\n", timestamp, category, message)
	}
}
