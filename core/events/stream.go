package events

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultStreamHistory = 1024
	streamBuffer         = 32
)

// StreamUpdate is one event as delivered to live subscribers.
type StreamUpdate struct {
	Sequence   uint64            `json:"-"`
	Cursor     string            `json:"cursor"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Timestamp  int64             `json:"ts"`
}

func (u StreamUpdate) clone() StreamUpdate {
	cloned := u
	if len(u.Attributes) > 0 {
		cloned.Attributes = make(map[string]string, len(u.Attributes))
		for k, v := range u.Attributes {
			cloned.Attributes[k] = v
		}
	}
	return cloned
}

// Broadcaster keeps a bounded history of emitted events and fans new ones
// out to subscribers. Slow subscribers miss updates instead of blocking the
// emitting engine.
type Broadcaster struct {
	mu      sync.Mutex
	limit   int
	seq     uint64
	history []StreamUpdate
	subs    map[uint64]chan StreamUpdate
	nextID  uint64
	closed  bool
	now     func() time.Time
}

// NewBroadcaster returns a broadcaster retaining up to limit events for
// replay. A non-positive limit selects the default.
func NewBroadcaster(limit int) *Broadcaster {
	if limit <= 0 {
		limit = defaultStreamHistory
	}
	return &Broadcaster{limit: limit, subs: make(map[uint64]chan StreamUpdate), now: time.Now}
}

// Emit implements the Emitter interface.
func (b *Broadcaster) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	update := StreamUpdate{Type: evt.EventType()}
	if payload, ok := evt.(Payload); ok {
		if raw := payload.Event(); raw != nil {
			update.Attributes = raw.Clone().Attributes
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.seq++
	update.Sequence = b.seq
	update.Cursor = strconv.FormatUint(b.seq, 10)
	update.Timestamp = b.now().Unix()
	b.history = append(b.history, update.clone())
	if len(b.history) > b.limit {
		trimmed := make([]StreamUpdate, b.limit)
		copy(trimmed, b.history[len(b.history)-b.limit:])
		b.history = trimmed
	}
	for _, ch := range b.subs {
		select {
		case ch <- update.clone():
		default:
		}
	}
	b.mu.Unlock()
}

// Subscribe registers a subscriber and returns the retained events after
// cursor. An empty or malformed cursor replays the whole history. The
// returned channel is closed by cancel, by ctx ending or by Close.
func (b *Broadcaster) Subscribe(ctx context.Context, cursor string) (<-chan StreamUpdate, func(), []StreamUpdate) {
	updates := make(chan StreamUpdate, streamBuffer)
	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(updates)
		return updates, func() {}, nil
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = updates
	backlog := make([]StreamUpdate, 0, len(b.history))
	for _, entry := range b.history {
		if entry.Sequence > since {
			backlog = append(backlog, entry.clone())
		}
	}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
			b.mu.Unlock()
		})
	}
	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, backlog
}

// Subscribers reports the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription. Later events are dropped.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
