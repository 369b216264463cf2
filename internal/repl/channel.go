package repl

import (
	"sync"

	"go.uber.org/zap"
)

// Peer receives events in emission order. Send must not be called
// concurrently for the same peer; the channel serializes delivery.
type Peer interface {
	Send(ev Event) error
}

// PeerFunc adapts a function to the Peer interface.
type PeerFunc func(ev Event) error

func (f PeerFunc) Send(ev Event) error { return f(ev) }

// Channel is the host-side fan-out point. It has no state beyond the
// sequence counter and the current peer set: pure routing from host to
// peers plus self-delivery for the host's own projection.
type Channel struct {
	log *zap.Logger

	mu     sync.Mutex
	seq    uint64
	nextID int
	peers  map[int]Peer
	self   Peer
}

func NewChannel(log *zap.Logger) *Channel {
	if log == nil {
		log = zap.NewNop()
	}
	return &Channel{log: log, peers: make(map[int]Peer)}
}

// SetSelf registers the host's own receiver. Self-delivery happens before
// peer fan-out so the host never lags its replicas.
func (c *Channel) SetSelf(p Peer) {
	c.mu.Lock()
	c.self = p
	c.mu.Unlock()
}

// Attach registers a peer and returns its detach function.
func (c *Channel) Attach(p Peer) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.peers[id] = p
	n := len(c.peers)
	c.mu.Unlock()
	c.log.Info("repl_peer_attach", zap.Int("peer_id", id), zap.Int("peers", n))
	return func() {
		c.mu.Lock()
		delete(c.peers, id)
		n := len(c.peers)
		c.mu.Unlock()
		c.log.Info("repl_peer_detach", zap.Int("peer_id", id), zap.Int("peers", n))
	}
}

// Broadcast stamps the event with the next sequence number and delivers it
// to the host projection and every attached peer. The lock is held across
// delivery so per-peer order always matches emission order. A failed Send
// is logged and the peer skipped for this event; the transport layer is
// responsible for eventually detaching dead peers.
func (c *Channel) Broadcast(ev Event) Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	ev.Seq = c.seq
	if c.self != nil {
		if err := c.self.Send(ev); err != nil {
			c.log.Warn("repl_self_deliver_error", zap.Uint64("seq", ev.Seq), zap.Error(err))
		}
	}
	for id, p := range c.peers {
		if err := p.Send(ev); err != nil {
			c.log.Warn("repl_peer_send_error", zap.Int("peer_id", id), zap.Uint64("seq", ev.Seq), zap.Error(err))
		}
	}
	return ev
}
