package api

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Broker fans decision summaries out to SSE subscribers. Unlike the
// teacher's Broker, which relays Postgres LISTEN/NOTIFY payloads across
// process boundaries, VERITAS's canonical store is the local TrustLog
// file, so there is nothing to listen to outside this process: Publish
// is called in-process, directly from the decide handler, right after
// Service.Decide returns.
type Broker struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan []byte]struct{}
}

// NewBroker creates an empty Broker.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{logger: logger, subscribers: make(map[chan []byte]struct{})}
}

// Subscribe registers a new SSE client and returns its channel plus an
// unsubscribe func the caller must defer.
func (b *Broker) Subscribe() (chan []byte, func()) {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subscribers, ch)
		b.mu.Unlock()
		close(ch)
	}
}

// decisionEvent is one row of the /v1/events SSE stream.
type decisionEvent struct {
	RequestID      string  `json:"request_id"`
	DecisionStatus string  `json:"decision_status"`
	Risk           float64 `json:"risk"`
}

// Publish fans out evt to every current subscriber. A slow subscriber
// whose buffered channel is full has the event dropped for it rather
// than blocking every other subscriber or the publishing request.
func (b *Broker) Publish(evt decisionEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		b.logger.Warn("api: marshal decision event", slog.Any("error", err))
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- payload:
		default:
			b.logger.Warn("api: dropping event for slow subscriber")
		}
	}
}
