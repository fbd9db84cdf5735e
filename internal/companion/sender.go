package companion

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/msto63/wake/pkg/core/fault"
	"github.com/msto63/wake/pkg/core/logging"
)

// SenderConfig configures a Sender
type SenderConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	Attempts         int
	RetryDelay       time.Duration
	Logger           *logging.Logger
}

// DefaultSenderConfig returns three attempts one second apart
func DefaultSenderConfig(url string) SenderConfig {
	return SenderConfig{
		URL:              url,
		HandshakeTimeout: 5 * time.Second,
		Attempts:         3,
		RetryDelay:       time.Second,
	}
}

// Sender pushes voice-input messages to a companion hub. It connects on
// first use and reconnects after a failed send.
type Sender struct {
	cfg    SenderConfig
	logger *logging.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	sent int
}

// NewSender creates a disconnected sender
func NewSender(cfg SenderConfig) *Sender {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 5 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New("companion-sender")
	}
	return &Sender{cfg: cfg, logger: cfg.Logger}
}

// Send emits text as a voice-input message
func (s *Sender) Send(ctx context.Context, text string) error {
	msg, err := NewMessage(EventVoiceInput, TextPayload{Text: text})
	if err != nil {
		return fault.Wrap(err, "failed to encode voice input").WithCode(fault.CodeInternal)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(s.cfg.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if err := s.connect(ctx); err != nil {
			lastErr = err
			s.logger.Warn("companion connect failed", "attempt", attempt, "error", err)
			continue
		}

		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteJSON(msg); err != nil {
			lastErr = err
			s.logger.Warn("companion send failed", "attempt", attempt, "error", err)
			s.drop()
			continue
		}

		s.sent++
		s.logger.Info("voice input sent", "chars", len(text))
		return nil
	}

	return fault.Wrap(lastErr, "companion unreachable").
		WithCode(fault.CodeUpstreamUnavailable).
		WithDetail("attempts", s.cfg.Attempts)
}

// Forward lets the sender act as a voice pipeline sink
func (s *Sender) Forward(ctx context.Context, text string) error {
	return s.Send(ctx, text)
}

// connect dials when no connection is open; s.mu is held
func (s *Sender) connect(ctx context.Context) error {
	if s.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: s.cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return err
	}
	s.conn = conn
	s.logger.Info("companion connected", "url", s.cfg.URL)

	go s.drain(conn)
	return nil
}

// drain reads replies so control frames are processed and a closed
// connection is noticed before the next send
func (s *Sender) drain(conn *websocket.Conn) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			s.mu.Lock()
			if s.conn == conn {
				s.drop()
			}
			s.mu.Unlock()
			return
		}
		if msg.Event == EventChatInput {
			s.logger.Debug("companion acknowledged input")
		}
		if msg.Event == EventError {
			s.logger.Warn("companion rejected message", "data", string(msg.Data))
		}
	}
}

// drop closes the current connection; s.mu is held
func (s *Sender) drop() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// Connected reports whether a connection is open
func (s *Sender) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Sent returns how many messages were delivered
func (s *Sender) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// Close closes the connection
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.drop()
	return nil
}
