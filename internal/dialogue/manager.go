// ============================================================================
// Wake - Sprachgesteuerter Chat-Zugang
// ============================================================================
//
// Package:     dialogue
// Description: Bounded session pool with one shared in-flight generation
// Author:      Mike Stoffels
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package dialogue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/msto63/wake/internal/upstream"
	"github.com/msto63/wake/pkg/core/fault"
	"github.com/msto63/wake/pkg/core/logging"
)

// DefaultMaxSessions is the pool size when none is configured
const DefaultMaxSessions = 3

var (
	// ErrFull is returned by Create when the pool is saturated
	ErrFull = fault.New("too many active dialogues, try again later").WithCode(fault.CodeSessionPoolFull)

	// ErrNotFound is returned for unknown session ids
	ErrNotFound = fault.New("dialogue not found").WithCode(fault.CodeSessionNotFound)
)

// Generation is an in-flight upstream call
type Generation interface {
	Next() (string, error)
	Cancel()
}

// Generator opens generations
type Generator interface {
	Generate(ctx context.Context, prompt string) (Generation, error)
}

// TranscriptStore persists committed turns
type TranscriptStore interface {
	SaveTurn(ctx context.Context, sessionID, user, assistant string) error
}

// Options configures a Manager
type Options struct {
	MaxSessions int
	Store       TranscriptStore
	Logger      *logging.Logger
	Now         func() time.Time
	NewID       func() string
}

// Manager owns the session pool and the single current generation.
// The session map and the current handle are guarded by one mutex;
// upstream reads never happen while it is held.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	current  Generation
	seq      uint64

	gen    Generator
	max    int
	store  TranscriptStore
	logger *logging.Logger
	now    func() time.Time
	newID  func() string
}

// NewManager creates a manager backed by gen
func NewManager(gen Generator, opts Options) *Manager {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.Logger == nil {
		opts.Logger = logging.New("dialogue")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Manager{
		sessions: make(map[string]*session),
		gen:      gen,
		max:      opts.MaxSessions,
		store:    opts.Store,
		logger:   opts.Logger,
		now:      opts.Now,
		newID:    opts.NewID,
	}
}

// Create admits a new session. The oldest completed session is recycled
// under its old id when one exists and every other completed session is
// purged; otherwise a fresh session is created unless the pool is full.
func (m *Manager) Create() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var completed []*session
	for _, s := range m.sessions {
		if s.status == StatusCompleted {
			completed = append(completed, s)
		}
	}

	now := m.now()
	m.seq++

	if len(completed) > 0 {
		sort.Slice(completed, func(i, j int) bool {
			return completed[i].seq < completed[j].seq
		})
		recycled := completed[0]
		for _, s := range completed[1:] {
			delete(m.sessions, s.id)
		}
		recycled.status = StatusActive
		recycled.history = nil
		recycled.createdAt = now
		recycled.updatedAt = now
		recycled.seq = m.seq
		m.logger.Info("dialogue recycled", "dialogue", recycled.id, "purged", len(completed)-1)
		return recycled.id, nil
	}

	if len(m.sessions) >= m.max {
		m.logger.Warn("dialogue pool full", "max", m.max)
		return "", ErrFull
	}

	id := m.newID()
	m.sessions[id] = &session{
		id:        id,
		status:    StatusActive,
		createdAt: now,
		updatedAt: now,
		seq:       m.seq,
	}
	m.logger.Info("dialogue created", "dialogue", id, "active", len(m.sessions))
	return id, nil
}

// Send starts a turn for sessionID. The returned reply is lazy: nothing
// reaches the backend until its first Next. For an unknown id the text is
// sent as is and no history is kept.
func (m *Manager) Send(ctx context.Context, sessionID, text string) *Reply {
	m.mu.Lock()
	prompt := text
	s, known := m.sessions[sessionID]
	if known {
		prompt = BuildPrompt(s.history, text)
	}
	m.mu.Unlock()

	return &Reply{
		m:         m,
		ctx:       ctx,
		sessionID: sessionID,
		known:     known,
		text:      text,
		prompt:    prompt,
		logger:    m.logger.With("dialogue", sessionID),
	}
}

// InterruptCurrent cancels the current generation, if any
func (m *Manager) InterruptCurrent() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return
	}
	m.current.Cancel()
	m.current = nil
	m.logger.Info("current generation interrupted")
}

// Complete marks a session completed; it is purged on a later Create
func (m *Manager) Complete(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.status = StatusCompleted
	s.updatedAt = m.now()
	m.logger.Info("dialogue completed", "dialogue", sessionID)
	return nil
}

// Get returns a snapshot of a session
func (m *Manager) Get(sessionID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return s.snapshot(), true
}

// List returns snapshots of all tracked sessions, oldest first
func (m *Manager) List() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	tracked := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		tracked = append(tracked, s)
	}
	sort.Slice(tracked, func(i, j int) bool { return tracked[i].seq < tracked[j].seq })

	out := make([]Session, len(tracked))
	for i, s := range tracked {
		out[i] = s.snapshot()
	}
	return out
}

// Usage returns the number of active sessions and the pool size
func (m *Manager) Usage() (active, max int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.status == StatusActive {
			active++
		}
	}
	return active, m.max
}

// Busy reports whether a generation is in flight
func (m *Manager) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// install makes gen the current generation, cancelling the previous one
func (m *Manager) install(gen Generation, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current != gen {
		m.current.Cancel()
		m.logger.Info("previous generation cancelled", "dialogue", sessionID)
	}
	m.current = gen
}

// release clears the current handle if it still belongs to gen
func (m *Manager) release(gen Generation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == gen {
		m.current = nil
	}
}

// cancelIfCurrent cancels and clears gen when it is still the current
// handle and reports whether it did
func (m *Manager) cancelIfCurrent(gen Generation) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != gen {
		return false
	}
	gen.Cancel()
	m.current = nil
	return true
}

// commit appends a finished turn to the session history
func (m *Manager) commit(sessionID, user, assistant string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		s.history = append(s.history,
			Message{Role: RoleUser, Text: user},
			Message{Role: RoleAssistant, Text: assistant},
		)
		s.updatedAt = m.now()
	}
	m.mu.Unlock()

	if !ok || m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.SaveTurn(ctx, sessionID, user, assistant); err != nil {
		m.logger.Error("failed to persist turn", "dialogue", sessionID, "error", err)
	}
}

// clientGenerator adapts the upstream client to Generator
type clientGenerator struct {
	client *upstream.Client
}

// Backend wraps an upstream client as a Generator
func Backend(client *upstream.Client) Generator {
	return clientGenerator{client: client}
}

func (g clientGenerator) Generate(ctx context.Context, prompt string) (Generation, error) {
	gen, err := g.client.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return gen, nil
}
