// Package main provides a terminal client for live voice tutoring sessions.
//
// It connects the default microphone and speakers to a realtime tutoring
// session and prints both sides of the conversation as it happens.
//
// Usage:
//
//	go run ./cmd/tutor-live
//
// Environment variables:
//
//	GEMINI_API_KEY - Required
//
// Flags:
//
//	-model   Realtime model name
//	-voice   Prebuilt voice name
//	-debug   Verbose session logging to stderr
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/manetar-ai/manetar-live/pkg/live"
	"github.com/manetar-ai/manetar-live/pkg/voice/capture"
	"github.com/manetar-ai/manetar-live/pkg/voice/gemini"
	"github.com/manetar-ai/manetar-live/pkg/voice/playback"
)

func main() {
	_ = godotenv.Load()

	cfg := live.DefaultSessionConfig()
	model := flag.String("model", cfg.Model, "realtime model name")
	voice := flag.String("voice", cfg.Voice, "prebuilt voice name")
	debug := flag.Bool("debug", false, "verbose session logging")
	flag.Parse()
	cfg.Model = *model
	cfg.Voice = *voice

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		log.Fatal("GEMINI_API_KEY required")
	}

	fmt.Println("Manetar live tutor")
	fmt.Println("Speak naturally. Press Ctrl+C to end the session.")
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	speaker, err := playback.NewSpeaker(cfg.OutputSampleRate, cfg.Channels)
	if err != nil {
		log.Fatalf("Failed to open output device: %v", err)
	}

	mic := capture.NewMicrophone(cfg.InputSampleRate, cfg.Channels, cfg.FrameSize)
	stream := gemini.NewSession(apiKey)

	session := live.NewController(cfg, stream, mic, speaker, speaker)
	if *debug {
		session.EnableDebug()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nEnding session...")
		session.Close()
		cancel()
	}()

	if err := session.Start(ctx); err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}

	run(session)

	if err := session.Err(); err != nil {
		log.Fatalf("Session ended with error: %v", err)
	}
	fmt.Printf("\nSession %s ended. %d turns.\n", session.SessionID(), len(session.Turns()))
}

// run consumes session events until the session ends, rendering transcripts
// as they stream in.
func run(session *live.Controller) {
	var lastRole live.Role
	for event := range session.Events() {
		switch e := event.(type) {
		case *live.StateChangedEvent:
			if e.To == live.StateConnected {
				fmt.Println("Connected. The tutor is listening.")
			}

		case *live.TranscriptDeltaEvent:
			if e.Role != lastRole {
				if lastRole != "" {
					fmt.Println()
				}
				if e.Role == live.RoleModel {
					fmt.Print("Tutor: ")
				} else {
					fmt.Print("You:   ")
				}
				lastRole = e.Role
			}
			fmt.Print(e.Delta)

		case *live.TurnCompletedEvent:
			if lastRole != "" {
				fmt.Println()
				lastRole = ""
			}
			fmt.Println("---")

		case *live.ErrorEvent:
			fmt.Fprintf(os.Stderr, "\nSession error: %s\n", e.Message)

		case *live.SessionClosedEvent:
			if e.Reason != "" {
				fmt.Printf("\nSession closed: %s\n", e.Reason)
			}
		}
	}
}
