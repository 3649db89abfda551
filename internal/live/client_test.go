package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthview/tours-api/internal/models"
)

// fakeTransport hands out pre-scripted streams, one per Open call.
type fakeTransport struct {
	mu      sync.Mutex
	streams []chan models.LiveEvent
	errs    []error
	opens   int
}

func (f *fakeTransport) Open(ctx context.Context) (<-chan models.LiveEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.opens
	f.opens++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	if idx < len(f.streams) {
		return f.streams[idx], nil
	}
	// Keep later dials open so the loop parks instead of spinning.
	return make(chan models.LiveEvent), nil
}

func (f *fakeTransport) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func newStream() chan models.LiveEvent {
	return make(chan models.LiveEvent, 4)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestClientDeliversEventsSkippingHeartbeats(t *testing.T) {
	stream := newStream()
	transport := &fakeTransport{streams: []chan models.LiveEvent{stream}}
	client := NewClient(transport, 10*time.Millisecond, nil)

	var mu sync.Mutex
	var got []models.LiveEvent
	client.OnEvent = func(event models.LiveEvent) {
		mu.Lock()
		got = append(got, event)
		mu.Unlock()
	}

	client.Connect(context.Background())
	defer client.Disconnect()

	stream <- models.LiveEvent{Type: models.EventHeartbeat}
	stream <- models.LiveEvent{Type: models.EventTourCreated, Data: models.EventPayload{EntityID: "b-1"}}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, models.EventTourCreated, got[0].Type)
	assert.Equal(t, "b-1", got[0].Data.EntityID)
}

func TestClientReconnectsAfterStreamCloses(t *testing.T) {
	first := newStream()
	transport := &fakeTransport{streams: []chan models.LiveEvent{first}}
	client := NewClient(transport, 5*time.Millisecond, nil)

	client.Connect(context.Background())
	defer client.Disconnect()

	waitFor(t, func() bool { return client.State() == StateConnected })
	close(first)

	// After the backoff delay the client dials again.
	waitFor(t, func() bool { return transport.openCount() >= 2 })
	waitFor(t, func() bool { return client.State() == StateConnected })
}

func TestClientRetriesFailedDials(t *testing.T) {
	transport := &fakeTransport{errs: []error{
		errors.New("dial refused"),
		errors.New("dial refused"),
	}}
	client := NewClient(transport, 5*time.Millisecond, nil)

	client.Connect(context.Background())
	defer client.Disconnect()

	waitFor(t, func() bool { return transport.openCount() >= 3 })
	waitFor(t, func() bool { return client.State() == StateConnected })
}

func TestClientStateSequence(t *testing.T) {
	transport := &fakeTransport{errs: []error{errors.New("dial refused")}}
	client := NewClient(transport, 5*time.Millisecond, nil)

	var mu sync.Mutex
	var states []State
	client.OnStateChange = func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}

	client.Connect(context.Background())
	waitFor(t, func() bool { return client.State() == StateConnected })
	client.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(states), 4)
	assert.Equal(t, StateConnecting, states[0])
	assert.Equal(t, StateError, states[1])
	assert.Equal(t, StateConnecting, states[2])
	assert.Equal(t, StateConnected, states[3])
	assert.Equal(t, StateDisconnected, states[len(states)-1])
}

func TestClientDisconnectStopsLoop(t *testing.T) {
	transport := &fakeTransport{}
	client := NewClient(transport, 5*time.Millisecond, nil)

	client.Connect(context.Background())
	waitFor(t, func() bool { return client.State() == StateConnected })

	client.Disconnect()
	assert.Equal(t, StateDisconnected, client.State())

	opens := transport.openCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, opens, transport.openCount(), "loop kept dialing after disconnect")
}

func TestClientConnectTwiceIsNoOp(t *testing.T) {
	transport := &fakeTransport{}
	client := NewClient(transport, 5*time.Millisecond, nil)

	ctx := context.Background()
	client.Connect(ctx)
	client.Connect(ctx)
	defer client.Disconnect()

	waitFor(t, func() bool { return client.State() == StateConnected })
	assert.Equal(t, 1, transport.openCount())
}
