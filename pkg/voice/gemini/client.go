// Package gemini implements the live streaming channel over the Gemini
// BidiGenerateContent websocket API.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/manetar-ai/manetar-live/pkg/live"
)

const defaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// Session is one bidirectional streaming channel. It implements
// live.StreamClient. A Session is single-use: once closed it cannot be
// reopened.
type Session struct {
	apiKey   string
	endpoint string

	conn     *websocket.Conn
	handlers live.StreamHandlers

	writeMu sync.Mutex
	closed  atomic.Bool
	done    chan struct{}
}

// NewSession creates an unopened session authenticated with the given API key.
func NewSession(apiKey string) *Session {
	return &Session{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
	}
}

// NewSessionWithEndpoint creates a session against a custom endpoint.
// Used for testing against a local server.
func NewSessionWithEndpoint(apiKey, endpoint string) *Session {
	return &Session{
		apiKey:   apiKey,
		endpoint: endpoint,
	}
}

// Open dials the websocket endpoint and transmits the session setup. The
// remote party's acknowledgment arrives asynchronously and fires OnOpen;
// a setup rejection before that point fires OnError with a config-rejected
// error.
func (s *Session) Open(ctx context.Context, cfg live.StreamConfig, h live.StreamHandlers) error {
	if s.conn != nil {
		return fmt.Errorf("session already open")
	}

	u, err := url.Parse(s.endpoint)
	if err != nil {
		return live.NewConnectionRefusedError("parse endpoint", err)
	}
	q := u.Query()
	q.Set("key", s.apiKey)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if len(body) > 0 {
				return live.NewConnectionRefusedError(
					fmt.Sprintf("websocket connect (status %d): %s", resp.StatusCode, string(body)), err)
			}
			return live.NewConnectionRefusedError(
				fmt.Sprintf("websocket connect: status %d", resp.StatusCode), err)
		}
		return live.NewConnectionRefusedError("websocket connect", err)
	}

	s.conn = conn
	s.handlers = h

	if err := s.writeJSON(newSessionSetup(cfg)); err != nil {
		conn.Close()
		s.conn = nil
		return live.NewConnectionRefusedError("send setup", err)
	}

	s.done = make(chan struct{})
	go s.readLoop()
	return nil
}

// Send transmits one encoded audio chunk as realtime input. Chunks are
// written in call order; there is no acknowledgment.
func (s *Session) Send(chunk live.EncodedAudioChunk) error {
	if s.closed.Load() {
		return fmt.Errorf("session closed")
	}
	if s.conn == nil {
		return fmt.Errorf("session not open")
	}
	if err := s.writeJSON(newRealtimeInput(chunk)); err != nil {
		return live.NewTransportError(err)
	}
	return nil
}

// Close tears down the channel. It is idempotent, and no handler runs after
// it returns.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.conn == nil {
		return nil
	}

	s.writeMu.Lock()
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()

	err := s.conn.Close()
	<-s.done
	return err
}

func (s *Session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// readLoop drains inbound messages until the connection dies, classifying
// each into typed events in emission order. It is the only reader and the
// only goroutine that invokes handlers.
func (s *Session) readLoop() {
	defer close(s.done)

	setupDone := false
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				s.handlers.OnClose()
			case !setupDone:
				// Setup rejections surface as an abnormal close before
				// any acknowledgment.
				s.handlers.OnError(live.NewConfigRejectedError("session setup rejected", err))
			default:
				s.handlers.OnError(live.NewTransportError(err))
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		if msg.Error != nil {
			err := fmt.Errorf("%s (%d): %s", msg.Error.Status, msg.Error.Code, msg.Error.Message)
			if !setupDone {
				s.handlers.OnError(live.NewConfigRejectedError("session setup rejected", err))
			} else {
				s.handlers.OnError(live.NewTransportError(err))
			}
			return
		}

		if msg.SetupComplete != nil {
			if !setupDone {
				setupDone = true
				s.handlers.OnOpen()
			}
			continue
		}

		for _, ev := range classify(msg) {
			s.handlers.OnMessage(ev)
		}
	}
}
