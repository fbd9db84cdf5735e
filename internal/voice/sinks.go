package voice

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/msto63/wake/internal/dialogue"
	"github.com/msto63/wake/internal/relay"
	"github.com/msto63/wake/pkg/core/logging"
)

// EventQueue buffers voice events for a streaming client. Forwarded text
// becomes a transcript event and recognizer errors become error events.
// When the queue is full the oldest event is dropped.
type EventQueue struct {
	events chan relay.Event
	active atomic.Bool
	drops  atomic.Int64
	logger *logging.Logger
}

// NewEventQueue creates a queue holding up to size events
func NewEventQueue(size int, logger *logging.Logger) *EventQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = logging.New("voice-events")
	}
	return &EventQueue{events: make(chan relay.Event, size), logger: logger}
}

// Forward implements Sink
func (q *EventQueue) Forward(ctx context.Context, text string) error {
	q.push(relay.Transcript(text))
	return nil
}

// Fail implements ErrorSink
func (q *EventQueue) Fail(err error) {
	q.push(relay.VoiceError(err.Error()))
}

// SetActive implements StateSink
func (q *EventQueue) SetActive(active bool) {
	q.active.Store(active)
}

// Active reports whether capture is producing events
func (q *EventQueue) Active() bool {
	return q.active.Load()
}

// Reset discards buffered events
func (q *EventQueue) Reset() {
	for {
		select {
		case <-q.events:
		default:
			return
		}
	}
}

// Len returns the number of buffered events
func (q *EventQueue) Len() int {
	return len(q.events)
}

// Dropped returns how many events were discarded on overflow
func (q *EventQueue) Dropped() int64 {
	return q.drops.Load()
}

func (q *EventQueue) push(ev relay.Event) {
	for {
		select {
		case q.events <- ev:
			return
		default:
		}
		select {
		case <-q.events:
			q.drops.Add(1)
			q.logger.Warn("voice event queue full, dropping oldest")
		default:
		}
	}
}

// Source returns a relay source reading from the queue. onClose runs
// once when the relay releases the source.
func (q *EventQueue) Source(onClose func()) *QueueSource {
	return &QueueSource{q: q, closed: make(chan struct{}), onClose: onClose}
}

// QueueSource adapts an EventQueue to relay.Source and relay.Liveness
type QueueSource struct {
	q       *EventQueue
	closed  chan struct{}
	once    sync.Once
	onClose func()
}

// Next blocks until an event is queued or the source is closed
func (s *QueueSource) Next() (relay.Event, bool) {
	select {
	case ev := <-s.q.events:
		return ev, true
	case <-s.closed:
		return relay.Event{}, false
	}
}

// Active reports whether capture still runs
func (s *QueueSource) Active() bool {
	return s.q.Active()
}

// Close releases the source
func (s *QueueSource) Close() {
	s.once.Do(func() {
		close(s.closed)
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// Conversation is the part of the dialogue manager a DialogueSink needs
type Conversation interface {
	Send(ctx context.Context, sessionID, text string) *dialogue.Reply
}

// DialogueSink sends forwarded text as a turn of one session. Replies are
// drained in the background; a newer turn interrupts an older one.
type DialogueSink struct {
	conv      Conversation
	sessionID string
	onReply   func(text string, ev relay.Event)
	logger    *logging.Logger
	wg        sync.WaitGroup
}

// NewDialogueSink creates a sink for sessionID. onReply, when set, is
// called with the full reply and the terminal event of every turn.
func NewDialogueSink(conv Conversation, sessionID string, onReply func(string, relay.Event), logger *logging.Logger) *DialogueSink {
	if logger == nil {
		logger = logging.New("voice-dialogue")
	}
	return &DialogueSink{conv: conv, sessionID: sessionID, onReply: onReply, logger: logger}
}

// Forward implements Sink
func (d *DialogueSink) Forward(ctx context.Context, text string) error {
	reply := d.conv.Send(context.Background(), d.sessionID, text)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer reply.Close()

		var b strings.Builder
		for {
			ev, ok := reply.Next()
			if !ok {
				return
			}
			if ev.Kind == relay.KindToken {
				b.WriteString(ev.Text)
				continue
			}
			if ev.Terminal() {
				d.logger.Info("voice turn finished", "dialogue", d.sessionID, "result", ev.Kind, "chars", b.Len())
				if d.onReply != nil {
					d.onReply(b.String(), ev)
				}
				return
			}
		}
	}()
	return nil
}

// Wait blocks until every started turn has finished
func (d *DialogueSink) Wait() {
	d.wg.Wait()
}
