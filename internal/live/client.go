package live

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hearthview/tours-api/internal/models"
)

// State describes the client connection lifecycle:
// disconnected -> connecting -> connected -> error -> (backoff) -> connecting.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Transport opens one push stream. The returned channel is closed when the
// connection drops; Open is called again for every (re)connect attempt with
// credentials reattached by the implementation.
type Transport interface {
	Open(ctx context.Context) (<-chan models.LiveEvent, error)
}

// Client consumes a live-event stream and reconnects with a fixed backoff
// delay after errors. Non-heartbeat events are handed to the OnEvent hook so
// callers can invalidate cached views.
type Client struct {
	transport Transport
	backoff   time.Duration
	logger    *zap.Logger

	// OnEvent receives every non-heartbeat event. Optional.
	OnEvent func(models.LiveEvent)
	// OnStateChange observes lifecycle transitions. Optional.
	OnStateChange func(State)

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient constructs a disconnected client.
func NewClient(transport Transport, backoff time.Duration, logger *zap.Logger) *Client {
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		transport: transport,
		backoff:   backoff,
		logger:    logger,
		state:     StateDisconnected,
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the consume loop. Calling Connect on a running client is a
// no-op.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(runCtx)
}

// Disconnect stops the loop and waits for it to exit.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Reconnect drops the current connection and dials again immediately.
func (c *Client) Reconnect(ctx context.Context) {
	c.Disconnect()
	c.Connect(ctx)
}

func (c *Client) run(ctx context.Context) {
	defer func() {
		c.setState(StateDisconnected)
		c.mu.Lock()
		done := c.done
		c.mu.Unlock()
		close(done)
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		c.setState(StateConnecting)
		events, err := c.transport.Open(ctx)
		if err != nil {
			c.setState(StateError)
			c.logger.Sugar().Warnw("live connection failed", "error", err, "retry_in", c.backoff)
			if !c.sleep(ctx) {
				return
			}
			continue
		}

		c.setState(StateConnected)
		if !c.consume(ctx, events) {
			return
		}

		// Stream closed by the server; back off before redialing.
		c.setState(StateError)
		if !c.sleep(ctx) {
			return
		}
	}
}

// consume drains the stream until it closes. Returns false when ctx ended.
func (c *Client) consume(ctx context.Context, events <-chan models.LiveEvent) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-events:
			if !ok {
				return true
			}
			if event.Type == models.EventHeartbeat {
				continue
			}
			if c.OnEvent != nil {
				c.OnEvent(event)
			}
		}
	}
}

func (c *Client) sleep(ctx context.Context) bool {
	timer := time.NewTimer(c.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.OnStateChange != nil {
		c.OnStateChange(s)
	}
}
