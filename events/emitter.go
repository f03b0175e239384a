package events

import (
	"log/slog"
	"sync"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockCommit        EventType = "block_commit"
	EventBlockAborted       EventType = "block_aborted" // execution ran but the block was not stored
	EventTxExecuted         EventType = "tx_executed"
	EventTxFailed           EventType = "tx_failed"
	EventConfigInitialized  EventType = "config_initialized"
	EventPlayerInitialized  EventType = "player_initialized"
	EventPoolCreated        EventType = "pool_created"
	EventCreditsContributed EventType = "credits_contributed"
	EventReceiptMinted      EventType = "receipt_minted"
	EventTokensMinted       EventType = "tokens_minted"
	EventBrickConverted     EventType = "brick_converted"
)

// Event carries a typed payload emitted after a state change. TxID and
// BlockHeight are empty for mutations applied outside a block.
type Event struct {
	Type        EventType      `json:"type"`
	TxID        string         `json:"tx_id,omitempty"`
	BlockHeight int64          `json:"block_height,omitempty"`
	Data        map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

type subscription struct {
	id int
	h  Handler
}

// Emitter is a synchronous pub/sub broker.
type Emitter struct {
	logger *slog.Logger

	mu       sync.RWMutex
	nextID   int
	handlers map[EventType][]subscription
	all      []subscription
}

// NewEmitter creates an Emitter with no subscribers. A nil logger selects
// slog.Default().
func NewEmitter(logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		logger:   logger.With("component", "events"),
		handlers: make(map[EventType][]subscription),
	}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.handlers[typ] = append(e.handlers[typ], subscription{id: e.nextID, h: h})
}

// SubscribeAll registers h for every event type. The returned function
// removes the subscription.
func (e *Emitter) SubscribeAll(h Handler) (unsubscribe func()) {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.all = append(e.all, subscription{id: id, h: h})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.all {
			if s.id == id {
				e.all = append(e.all[:i:i], e.all[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers ev to all matching subscribers synchronously, type-specific
// handlers first. A panicking handler is logged and skipped.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	subs := make([]subscription, 0, len(e.handlers[ev.Type])+len(e.all))
	subs = append(subs, e.handlers[ev.Type]...)
	subs = append(subs, e.all...)
	e.mu.RUnlock()

	for _, s := range subs {
		e.deliver(s.h, ev)
	}
}

func (e *Emitter) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked", "event", ev.Type, "panic", r)
		}
	}()
	h(ev)
}
