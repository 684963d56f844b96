// Package live implements real-time bidirectional audio tutoring sessions
// for the Manetar platform.
//
// A session captures microphone audio, streams it continuously to a remote
// speech model, and plays the model's synthesized speech back gaplessly while
// reconstructing both sides of the conversation as text, turn by turn.
//
// # Architecture
//
// The package provides several core components:
//
//   - Controller: the session orchestrator; owns the lifecycle state machine,
//     startup/teardown ordering, and all cross-component wiring
//   - TranscriptAggregator: accumulates partial transcript text into
//     finalized user/model turns
//   - PlaybackScheduler: owns the output timeline and computes gapless,
//     non-overlapping start times for inbound audio
//   - AudioFrame codec: pure conversion between float samples and the
//     16-bit little-endian PCM wire format
//
// The microphone device, the streaming channel, and the output device sit
// behind the CaptureSource, StreamClient, Clock, and Sink interfaces, so each
// can be replaced with a fake that records calls instead of touching hardware.
//
// # Data Flow
//
//	Microphone → AudioFrame → EncodePCM16 → StreamClient (outbound)
//
//	StreamClient (inbound) → ServerEvent → { TranscriptAggregator,
//	                                         PlaybackScheduler → Sink }
//
// No component holds a reference to another; the Controller mediates all
// wiring. Transport callbacks enqueue typed events onto a single queue that
// the Controller drains in order, so each piece of mutable state has exactly
// one writer.
//
// # State Machine
//
// The session progresses through these states:
//
//	CONNECTING → INITIALIZING → CONNECTED → CLOSED
//	                                      ↘ ERROR
//
// CLOSED and ERROR are terminal. Teardown is idempotent from any state and
// always releases the microphone, the channel, and the output device.
//
// # Usage
//
//	ctrl := live.NewController(live.DefaultSessionConfig(), client, mic, speaker, speaker)
//	if err := ctrl.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer ctrl.Close()
//
//	for event := range ctrl.Events() {
//	    switch e := event.(type) {
//	    case *live.TranscriptDeltaEvent:
//	        fmt.Println(e.Role, e.Delta)
//	    case *live.TurnCompletedEvent:
//	        fmt.Println("You:", e.Turn.User, "Tutor:", e.Turn.Model)
//	    }
//	}
package live
