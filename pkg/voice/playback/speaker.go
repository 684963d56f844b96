// Package playback plays scheduled PCM audio through the default output
// device.
package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/manetar-ai/manetar-live/pkg/live"
)

// Speaker renders scheduled frames through the default output device. It
// implements both live.Clock and live.Sink: the device pull loop defines the
// timeline, and scheduled frames are placed on it by padding silence up to
// each frame's start.
//
// The device pulls continuously; when no audio is queued it plays silence,
// so the timeline never pauses.
type Speaker struct {
	player *oto.Player
	format live.AudioConfig
	epoch  time.Time

	mu     sync.Mutex
	buf    []byte
	closed bool
}

// NewSpeaker opens the default output device at the given format and starts
// the pull loop.
func NewSpeaker(sampleRate, channels int) (*Speaker, error) {
	opts := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	}
	ctx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, live.NewDeviceUnavailableError("init output device", err)
	}
	<-ready

	s := &Speaker{
		format: live.AudioConfig{SampleRate: sampleRate, Channels: channels, BitsPerSample: 16},
		epoch:  time.Now(),
	}
	s.player = ctx.NewPlayer(s)
	s.player.Play()
	return s, nil
}

// Now returns the current position on the playback timeline.
func (s *Speaker) Now() time.Duration {
	return time.Since(s.epoch)
}

// ScheduleAt queues the frame to begin at start. A start beyond the end of
// already-queued audio becomes silence padding, so playback position stays
// true to the timeline without a timer.
func (s *Speaker) ScheduleAt(frame live.AudioFrame, start time.Duration) error {
	pcm := live.EncodePCM16(frame).Data

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("speaker closed")
	}

	queuedEnd := s.Now() + s.bufferedLocked()
	if pad := padBytes(start, queuedEnd, s.format.BytesPerSecond(), s.format.Channels*2); pad > 0 {
		s.buf = append(s.buf, make([]byte, pad)...)
	}
	s.buf = append(s.buf, pcm...)
	return nil
}

// Buffered returns the duration of audio queued but not yet pulled.
func (s *Speaker) Buffered() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufferedLocked()
}

func (s *Speaker) bufferedLocked() time.Duration {
	bps := s.format.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(len(s.buf)) * time.Second / time.Duration(bps)
}

// Read feeds the device pull loop. Queued bytes play back-to-back; the
// remainder of every pull is silence.
func (s *Speaker) Read(p []byte) (int, error) {
	s.mu.Lock()
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	s.mu.Unlock()

	for i := n; i < len(p); i++ {
		p[i] = 0
	}
	return len(p), nil
}

// Close releases the output device. Idempotent.
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.player != nil {
		return s.player.Close()
	}
	return nil
}

// padBytes returns how many silence bytes to queue so audio queued now
// begins at start rather than at queuedEnd. The count is aligned down to a
// whole sample frame.
func padBytes(start, queuedEnd time.Duration, bytesPerSecond, align int) int {
	if start <= queuedEnd || bytesPerSecond <= 0 || align <= 0 {
		return 0
	}
	gap := start - queuedEnd
	n := int(gap * time.Duration(bytesPerSecond) / time.Second)
	return n - n%align
}
