package repl

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Hub is the host-side websocket endpoint. Each accepted connection
// becomes a channel peer with its own ordered send queue; a peer that
// cannot keep up is dropped rather than allowed to stall the session.
type Hub struct {
	ch  *Channel
	log *zap.Logger
}

func NewHub(ch *Channel, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{ch: ch, log: log}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		h.log.Warn("repl_ws_accept_error", zap.Error(err))
		return
	}
	// Peers never send; CloseRead surfaces disconnects through ctx.
	ctx := conn.CloseRead(r.Context())

	out := make(chan Event, 256)
	detach := h.ch.Attach(PeerFunc(func(ev Event) error {
		select {
		case out <- ev:
			return nil
		default:
			return fmt.Errorf("peer send queue full")
		}
	}))
	defer detach()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusGoingAway, "session closed")
			return
		case ev := <-out:
			wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				h.log.Warn("repl_ws_write_error", zap.Uint64("seq", ev.Seq), zap.Error(err))
				_ = conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// Client dials a host hub and feeds received events to an apply callback
// in delivery order. Reconnects are attempted a bounded number of times;
// dedup on duplicate delivery after a reconnect is the applier's job.
type Client struct {
	wsURL string
	apply func(Event) error
	log   *zap.Logger

	maxReconnectAttempts int
	reconnectDelay       time.Duration

	mu   sync.Mutex
	conn *websocket.Conn

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewClient(wsURL string, apply func(Event) error, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		wsURL:                wsURL,
		apply:                apply,
		log:                  log,
		maxReconnectAttempts: 5,
		reconnectDelay:       time.Second,
		stopCh:               make(chan struct{}),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.wsURL, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.wg.Add(1)
	go c.listen(conn)
	return nil
}

func (c *Client) listen(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}
		var ev Event
		if err := wsjson.Read(context.Background(), conn, &ev); err != nil {
			if c.isStopping() {
				return
			}
			c.log.Warn("repl_ws_read_error", zap.Error(err))
			c.reconnect()
			return
		}
		if err := c.apply(ev); err != nil {
			c.log.Warn("repl_apply_error", zap.Uint64("seq", ev.Seq), zap.String("type", string(ev.Type)), zap.Error(err))
		}
	}
}

func (c *Client) reconnect() {
	for attempt := 1; attempt <= c.maxReconnectAttempts; attempt++ {
		select {
		case <-c.stopCh:
			return
		case <-time.After(c.reconnectDelay):
		}
		c.log.Info("repl_ws_reconnect", zap.Int("attempt", attempt))
		if err := c.Connect(context.Background()); err == nil {
			return
		}
	}
	c.log.Error("repl_ws_reconnect_exhausted", zap.Int("attempts", c.maxReconnectAttempts))
}

func (c *Client) isStopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Client) Close(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	done := make(chan struct{})
	go func() { c.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
