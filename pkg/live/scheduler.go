package live

import "time"

// Clock reports the current position of the output device's timeline.
type Clock interface {
	Now() time.Duration
}

// Sink accepts decoded audio for playback at a given timeline position.
// Implementations never preempt or reorder already-scheduled audio.
type Sink interface {
	// ScheduleAt queues the frame to begin playing at start on the
	// device timeline.
	ScheduleAt(frame AudioFrame, start time.Duration) error

	// Close releases the output device. Audio already scheduled is
	// allowed to finish naturally.
	Close() error
}

// PlaybackScheduler converts inbound audio payloads into decoded frames and
// sequences them on the output timeline with zero gap and zero overlap,
// assuming in-order, non-concurrent delivery.
//
// The scheduler owns nextStart, the earliest time newly decoded audio may
// begin. It is the field's only writer; callers drive the scheduler from a
// single goroutine.
type PlaybackScheduler struct {
	clock     Clock
	sink      Sink
	nextStart time.Duration
	stopped   bool
}

// NewPlaybackScheduler creates a scheduler over the given device clock and sink.
func NewPlaybackScheduler(clock Clock, sink Sink) *PlaybackScheduler {
	return &PlaybackScheduler{clock: clock, sink: sink}
}

// Schedule decodes the payload and queues it to start at
// max(nextStart, clock now). Taking the max keeps audio out of the device's
// past when delivery outpaces real time or a gap follows idle. On success
// nextStart advances by the frame duration, so start times are monotonically
// non-decreasing and buffers never overlap.
//
// A malformed payload fails with ErrMalformedAudio and leaves nextStart
// untouched; the error is fatal to that payload only.
func (p *PlaybackScheduler) Schedule(payload AudioPayload) error {
	frame, err := DecodePCM16(payload.Data, payload.SampleRate, payload.Channels)
	if err != nil {
		return err
	}

	start := p.nextStart
	if now := p.clock.Now(); now > start {
		start = now
	}
	if err := p.sink.ScheduleAt(frame, start); err != nil {
		return err
	}
	p.nextStart = start + frame.Duration()
	return nil
}

// NextStart returns the earliest timeline position for the next buffer.
func (p *PlaybackScheduler) NextStart() time.Duration {
	return p.nextStart
}

// Stop releases the output device. Buffers the playback clock has not
// reached are allowed to finish naturally; there is no auto-stop on the last
// buffer. Stop is idempotent.
func (p *PlaybackScheduler) Stop() error {
	if p.stopped {
		return nil
	}
	p.stopped = true
	return p.sink.Close()
}
