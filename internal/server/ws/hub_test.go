package ws

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/domain"
	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/service"
)

// fakeBus serves a canned lifecycle stream.
type fakeBus struct {
	stream  []domain.StreamMessage
	readErr error
	reads   int
}

func (f *fakeBus) Publish(context.Context, string, []byte) error { return nil }

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (f *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (f *fakeBus) StreamRead(_ context.Context, stream, _ string, _ int) ([]domain.StreamMessage, error) {
	f.reads++
	if f.readErr != nil {
		return nil, f.readErr
	}
	if stream != service.LifecycleStream {
		return nil, nil
	}
	return f.stream, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(h *Hub, ids ...int64) *client {
	c := &client{
		hub:  h,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[int64]bool),
	}
	for _, id := range ids {
		c.subs[id] = true
	}
	return c
}

func drain(c *client) []string {
	var out []string
	for {
		select {
		case msg := <-c.send:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestBackfill(t *testing.T) {
	ctx := context.Background()

	t.Run("replays only watched orders", func(t *testing.T) {
		bus := &fakeBus{stream: []domain.StreamMessage{
			{ID: "1-0", Payload: []byte(`{"orderId":1,"event":"step","step":"polymarket"}`)},
			{ID: "2-0", Payload: []byte(`{"orderId":2,"event":"step","step":"polymarket"}`)},
			{ID: "3-0", Payload: []byte(`{"orderId":1,"event":"step","step":"transaction"}`)},
		}}
		h := NewHub(bus, testLogger())
		c := newTestClient(h, 1)

		h.backfill(ctx, c)

		got := drain(c)
		if len(got) != 2 {
			t.Fatalf("replayed %d events, want 2: %v", len(got), got)
		}
		if got[0] != `{"orderId":1,"event":"step","step":"polymarket"}` {
			t.Errorf("first event = %s", got[0])
		}
		if got[1] != `{"orderId":1,"event":"step","step":"transaction"}` {
			t.Errorf("second event = %s", got[1])
		}
	})

	t.Run("unroutable payloads skipped", func(t *testing.T) {
		bus := &fakeBus{stream: []domain.StreamMessage{
			{ID: "1-0", Payload: []byte(`not json`)},
			{ID: "2-0", Payload: []byte(`{"event":"step"}`)},
			{ID: "3-0", Payload: []byte(`{"orderId":5,"event":"step","step":"signed"}`)},
		}}
		h := NewHub(bus, testLogger())
		c := newTestClient(h, 5)

		h.backfill(ctx, c)

		got := drain(c)
		if len(got) != 1 {
			t.Fatalf("replayed %d events, want 1: %v", len(got), got)
		}
	})

	t.Run("stream failure degrades to live events", func(t *testing.T) {
		bus := &fakeBus{readErr: errors.New("redis down")}
		h := NewHub(bus, testLogger())
		c := newTestClient(h, 1)

		h.backfill(ctx, c)

		if got := drain(c); len(got) != 0 {
			t.Errorf("replayed %d events after a failed read", len(got))
		}
		if bus.reads != 1 {
			t.Errorf("stream reads = %d, want 1", bus.reads)
		}
	})
}

func TestEventOrderID(t *testing.T) {
	if id := eventOrderID([]byte(`{"orderId":42,"event":"progress"}`)); id != 42 {
		t.Errorf("id = %d, want 42", id)
	}
	if id := eventOrderID([]byte(`{}`)); id != 0 {
		t.Errorf("id = %d, want 0", id)
	}
	if id := eventOrderID([]byte(`garbage`)); id != 0 {
		t.Errorf("id = %d, want 0", id)
	}
}
