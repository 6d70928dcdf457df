// Package events is the append-only record of market activity. The market
// engine writes to it; nothing else mutates it. Sinks include an in-memory
// log, a Redis stream and a WebSocket hub.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event names emitted by the market engine.
const (
	MarketInitialized = "MarketInitialized"
	LiquidityAdded    = "LiquidityAdded"
	Trade             = "Trade"
	MarketSettled     = "MarketSettled"
	PositionSettled   = "PositionSettled"
)

// Field is one named event parameter.
type Field struct {
	Key   string
	Value any
}

// F builds a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Params is an ordered parameter list. It marshals to a JSON object whose
// keys keep their insertion order.
type Params []Field

// Get returns the value stored under key.
func (p Params) Get(key string) (any, bool) {
	for _, f := range p {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

func (p Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Event is an immutable log record.
type Event struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Params Params    `json:"params"`
	Time   time.Time `json:"time"`
}

// New stamps a fresh event.
func New(name string, params ...Field) Event {
	return Event{
		ID:     uuid.New(),
		Name:   name,
		Params: params,
		Time:   time.Now().UTC(),
	}
}

// Log accepts events. Emit never fails the caller: the log is for
// observability, and the state change it describes has already happened.
type Log interface {
	Emit(ctx context.Context, e Event)
}

// Multi fans one event out to several logs in order.
type Multi []Log

func (m Multi) Emit(ctx context.Context, e Event) {
	for _, l := range m {
		if l != nil {
			l.Emit(ctx, e)
		}
	}
}

// Discard drops every event.
var Discard Log = discard{}

type discard struct{}

func (discard) Emit(context.Context, Event) {}
