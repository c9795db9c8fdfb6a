// Package events carries session-lifecycle notifications from the session
// registry to the room broker (and any other interested subscriber) over
// NATS JetStream, the same transport and stream/subject conventions the rest
// of this codebase's event bus used for its own domain events.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

type EventType string

const (
	EventSessionOnline  EventType = "session.online"
	EventSessionOffline EventType = "session.offline"
	EventSessionClosed  EventType = "session.closed"
	EventTerminalClosed EventType = "session.terminal_closed"
)

// Event is the wire shape published on every subject; fields not relevant to
// a given EventType are left zero.
type Event struct {
	Type         EventType `json:"type"`
	SessionID    string    `json:"sessionId"`
	TerminalName string    `json:"terminalName,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	ExitCode     int       `json:"exitCode,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Bus publishes and subscribes to session events over JetStream. An empty
// natsURL yields an inactive bus whose Publish calls are no-ops, so the
// relay runs standalone (no room broker fan-out) without NATS configured.
type Bus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	subs   []*nats.Subscription
	active bool
}

func NewBus(natsURL string) (*Bus, error) {
	if natsURL == "" {
		return &Bus{active: false}, nil
	}

	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	bus := &Bus{nc: nc, js: js, active: true}
	if err := bus.createStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return bus, nil
}

func (b *Bus) createStream() error {
	_, err := b.js.AddStream(&nats.StreamConfig{
		Name:      "TERMRELAY_SESSIONS",
		Subjects:  []string{"termrelay.session.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

func (b *Bus) Publish(event Event) error {
	if !b.active {
		return nil
	}
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = b.js.Publish(b.subjectFor(event), data)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// subjectFor routes by session id so a subscriber can follow one session
// with a single wildcard subscription (see SubscribeSession).
func (b *Bus) subjectFor(event Event) string {
	return fmt.Sprintf("termrelay.session.%s.%s", event.SessionID, event.Type)
}

// Subscribe to events matching a subject pattern. Returns an unsubscribe func.
func (b *Bus) Subscribe(subject string, handler func(Event)) (func(), error) {
	if !b.active {
		return func() {}, nil
	}

	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		handler(event)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	b.subs = append(b.subs, sub)
	return func() { sub.Unsubscribe() }, nil
}

// SubscribeSession subscribes to every event for one session id.
func (b *Bus) SubscribeSession(sessionID string, handler func(Event)) (func(), error) {
	return b.Subscribe(fmt.Sprintf("termrelay.session.%s.>", sessionID), handler)
}

func (b *Bus) Close() error {
	if !b.active {
		return nil
	}
	for _, sub := range b.subs {
		sub.Unsubscribe()
	}
	b.nc.Close()
	return nil
}

func (b *Bus) IsActive() bool {
	return b.active
}
