package message

import (
	"errors"
	"sync"
)

// ErrMailboxClosed is returned by Post after Close.
var ErrMailboxClosed = errors.New("mailbox closed")

// DefaultMailboxSize is the buffer depth used by NewMailbox. Deep enough that
// a burst of bids or completions never blocks a sender in practice.
const DefaultMailboxSize = 256

// Envelope wraps a message with the name of the actor that sent it, stamped
// by the Router. Handlers that care about provenance (the dispatcher's risk
// gate) check Source rather than trusting fields inside the message.
type Envelope struct {
	Source string
	Msg    Message
}

// Mailbox is a FIFO inbox for one actor. Exactly one goroutine should range
// over C; any number may Post. Delivery from a single sender preserves send
// order.
type Mailbox struct {
	C chan Envelope

	mu     sync.RWMutex
	closed bool
}

// NewMailbox creates a mailbox with the default buffer depth.
func NewMailbox() *Mailbox {
	return NewMailboxSize(DefaultMailboxSize)
}

// NewMailboxSize creates a mailbox with an explicit buffer depth.
func NewMailboxSize(size int) *Mailbox {
	return &Mailbox{C: make(chan Envelope, size)}
}

// Post delivers an envelope, blocking if the buffer is full. Returns
// ErrMailboxClosed after Close instead of panicking, so a late timer firing
// into a stopped actor is harmless.
func (m *Mailbox) Post(env Envelope) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrMailboxClosed
	}
	// Send under the read lock so Close cannot race the channel close.
	m.C <- env
	return nil
}

// Close stops the mailbox. The owning actor's range over C drains buffered
// envelopes and then terminates.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.C)
}
