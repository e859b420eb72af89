package message

import (
	"fmt"
	"sync"
)

// Well-known actor names. Agents register under their agent id.
const (
	AddrOrchestrator = "orchestrator"
	AddrDispatcher   = "dispatcher"
	AddrSupervisor   = "supervisor"
)

// Router maps actor names to mailboxes and stamps every delivery with the
// sender's name. The stamped Source is the only provenance a receiver can
// trust, which is what makes the dispatcher's approver check meaningful.
type Router struct {
	mu    sync.RWMutex
	boxes map[string]*Mailbox
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{boxes: make(map[string]*Mailbox)}
}

// Register binds a name to a mailbox, replacing any previous binding.
func (r *Router) Register(name string, mb *Mailbox) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.boxes[name] = mb
}

// Deregister removes a binding. The mailbox itself is not closed; that is
// its owner's job.
func (r *Router) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.boxes, name)
}

// Lookup returns the mailbox bound to name, if any.
func (r *Router) Lookup(name string) (*Mailbox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mb, ok := r.boxes[name]
	return mb, ok
}

// Send delivers msg to the named actor with Source set to from. Returns an
// error for unknown or closed destinations; senders treat both as "the actor
// is gone" and move on.
func (r *Router) Send(from, to string, msg Message) error {
	mb, ok := r.Lookup(to)
	if !ok {
		return fmt.Errorf("no actor registered as %q", to)
	}
	if err := mb.Post(Envelope{Source: from, Msg: msg}); err != nil {
		return fmt.Errorf("posting %s to %q: %w", msg.Kind(), to, err)
	}
	return nil
}

// Names returns the currently registered actor names.
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.boxes))
	for name := range r.boxes {
		names = append(names, name)
	}
	return names
}
