package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/punku-chat/pkg/session"
)

type stubSubscriber struct {
	ch chan *message.Message
}

func (s *stubSubscriber) Subscribe(_ context.Context, _ string) (<-chan *message.Message, error) {
	return s.ch, nil
}

func (s *stubSubscriber) Close() error { return nil }

func TestInMemoryBus_RoundTrip(t *testing.T) {
	bus := NewInMemoryBus()
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Subscribe(ctx, "w1")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(Event{
		Type:     TypeMessageAdded,
		WidgetID: "w1",
		Message:  &session.Message{Text: "hi", IsOutgoing: true},
	}))
	require.NoError(t, bus.Publish(Event{Type: TypeOpened, WidgetID: "other"}))

	select {
	case ev := <-ch:
		require.Equal(t, TypeMessageAdded, ev.Type)
		require.Equal(t, "hi", ev.Message.Text)
		require.NotZero(t, ev.AtMs)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_SkipsUndecodable(t *testing.T) {
	ch := make(chan *message.Message, 2)
	bus := NewBus(nil, &stubSubscriber{ch: ch})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out, err := bus.Subscribe(ctx, "w1")
	require.NoError(t, err)

	ch <- message.NewMessage("1", []byte("not json"))
	ch <- message.NewMessage("2", []byte(`{"type":"closed","widget_id":"w1"}`))
	close(ch)

	ev, ok := <-out
	require.True(t, ok)
	require.Equal(t, TypeClosed, ev.Type)
	_, ok = <-out
	require.False(t, ok)
}

func TestBus_NilPublisher(t *testing.T) {
	var b *Bus
	require.NoError(t, b.Publish(Event{Type: TypeOpened}))
	require.NoError(t, NewBus(nil, nil).Publish(Event{Type: TypeOpened}))
}

func TestBuildBus_InMemoryByDefault(t *testing.T) {
	b, err := BuildBus(Settings{})
	require.NoError(t, err)
	require.Nil(t, b.redis)
	require.NoError(t, b.Close())
}

func TestInMemoryBus_StalledSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewInMemoryBus()
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stalled, err := bus.Subscribe(ctx, "w1")
	require.NoError(t, err)

	total := SubscriberBuffer + 200
	published := make(chan error, 1)
	go func() {
		for i := 0; i < total; i++ {
			if err := bus.Publish(Event{Type: TypeStateChanged, WidgetID: "w1", State: fmt.Sprintf("s%d", i)}); err != nil {
				published <- err
				return
			}
		}
		published <- nil
	}()

	select {
	case err := <-published:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a subscriber that does not read")
	}

	// the buffered prefix is delivered in publish order
	for i := 0; i < SubscriberBuffer; i++ {
		select {
		case ev := <-stalled:
			require.Equal(t, fmt.Sprintf("s%d", i), ev.State)
		case <-time.After(2 * time.Second):
			t.Fatalf("missing buffered event %d", i)
		}
	}

	// a subscriber that drains again receives new events
	require.NoError(t, bus.Publish(Event{Type: TypeOpened, WidgetID: "w1"}))
	for {
		select {
		case ev := <-stalled:
			if ev.Type == TypeOpened {
				return
			}
			require.Equal(t, TypeStateChanged, ev.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for event after catching up")
		}
	}
}
