// ============================================================================
// Wake - Sprachgesteuerter Chat-Zugang
// ============================================================================
//
// Package:     companion
// Description: WebSocket channel between the wake listener and chat pages
// Author:      Mike Stoffels
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package companion

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/msto63/wake/pkg/core/logging"
)

const (
	pongWait   = 120 * time.Second
	pingPeriod = 50 * time.Second
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local use
	},
}

// peer is one connected client. Writes are serialized per connection.
type peer struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *peer) write(msg Message) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteJSON(msg)
}

func (p *peer) ping() error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Hub accepts companion connections. A voice-input message is answered
// with a chat-input message on the same connection only.
type Hub struct {
	mu     sync.RWMutex
	peers  map[string]*peer
	logger *logging.Logger
}

// NewHub creates an empty hub
func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.New("companion")
	}
	return &Hub{peers: make(map[string]*peer), logger: logger}
}

// ServeHTTP upgrades the request and serves the connection until it closes
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	p := &peer{id: uuid.NewString(), conn: conn}
	h.add(p)
	defer h.remove(p)

	h.logger.Info("companion connected", "peer", p.id, "remote", conn.RemoteAddr().String())
	h.serve(p)
}

func (h *Hub) serve(p *peer) {
	conn := p.conn
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := p.ping(); err != nil {
					return
				}
			}
		}
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("companion read error", "peer", p.id, "error", err)
			} else {
				h.logger.Info("companion disconnected", "peer", p.id)
			}
			return
		}
		h.dispatch(p, msg)
	}
}

func (h *Hub) dispatch(p *peer, msg Message) {
	switch msg.Event {
	case EventVoiceInput:
		var payload TextPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			h.reject(p, "invalid_payload", "voice-input needs {\"text\": ...}")
			return
		}
		text := strings.TrimSpace(payload.Text)
		if text == "" {
			return
		}
		reply, _ := NewMessage(EventChatInput, TextPayload{Text: text})
		if err := p.write(reply); err != nil {
			h.logger.Error("companion send error", "peer", p.id, "error", err)
			return
		}
		h.logger.Debug("voice input relayed", "peer", p.id, "chars", len(text))

	case EventPing:
		pong, _ := NewMessage(EventPong, nil)
		p.write(pong)

	default:
		h.reject(p, "unknown_event", "unknown event: "+msg.Event)
	}
}

func (h *Hub) reject(p *peer, code, message string) {
	msg, _ := NewMessage(EventError, ErrorPayload{Code: code, Message: message})
	if err := p.write(msg); err != nil {
		h.logger.Error("companion send error", "peer", p.id, "error", err)
	}
}

func (h *Hub) add(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[p.id] = p
}

func (h *Hub) remove(p *peer) {
	h.mu.Lock()
	delete(h.peers, p.id)
	h.mu.Unlock()
	p.conn.Close()
}

// Count returns the number of connected peers
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Close disconnects every peer
func (h *Hub) Close() {
	h.mu.RLock()
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	for _, p := range peers {
		p.writeMu.Lock()
		p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		p.writeMu.Unlock()
		p.conn.Close()
	}
}
