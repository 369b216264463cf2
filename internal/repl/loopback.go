package repl

import "fmt"

// Loopback is an in-process peer backed by a buffered channel. It serves
// the host's self-delivery and single-process tests without sockets.
type Loopback struct {
	ch chan Event
}

func NewLoopback(size int) *Loopback {
	if size <= 0 {
		size = 64
	}
	return &Loopback{ch: make(chan Event, size)}
}

func (l *Loopback) Send(ev Event) error {
	select {
	case l.ch <- ev:
		return nil
	default:
		return fmt.Errorf("loopback buffer full, dropping seq %d", ev.Seq)
	}
}

// Events exposes the delivery stream in emission order.
func (l *Loopback) Events() <-chan Event { return l.ch }
