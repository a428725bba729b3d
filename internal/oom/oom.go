// Package oom is a channel-based low-memory notification, adapted
// from biscuit's oommsg package (oommsg/oommsg.go: a package-level
// OomCh channel carrying an Oommsg_t{Need, Resume}). Here the channel
// is instance-scoped rather than a package global, since a Kernel is
// constructed per simulation rather than being the one true kernel in
// the process, but the publish/resume shape is unchanged: the fault
// handler publishes and moves on without waiting, so a host can react
// (log, shed load, free something and signal Resume) on its own
// schedule without the core ever retrying internally.
package oom

// Event is sent on a Channel when the frame pool is exhausted.
type Event struct {
	// Need is the number of frames the failed allocation wanted.
	Need int
	// Resume, if non-nil, lets a listener signal the core that more
	// memory is now available. Nothing in this package waits on it;
	// it exists for a host that wants to coordinate retries itself.
	Resume chan bool
}

// Channel is a low-memory notification channel. The zero value is not
// usable; construct with New.
type Channel struct {
	C chan Event
}

// New returns a Channel with a small buffer, so Publish never blocks
// a fault handler waiting for a reader that may not exist.
func New() *Channel {
	return &Channel{C: make(chan Event, 8)}
}

// Publish sends ev without blocking. If the buffer is full, the event
// is dropped rather than stalling the caller — an OOM notification is
// advisory, not a handshake the fault handler depends on.
func (c *Channel) Publish(ev Event) {
	select {
	case c.C <- ev:
	default:
	}
}
