package relay

import "mergeboard/internal/hosting"

// Mailbox is a one-slot, latest-value buffer between the relay and a slow
// consumer such as a streaming HTTP response. Put never blocks; an unread
// value is replaced by the newer one.
type Mailbox struct {
	ch chan hosting.PipelineStatus
}

// NewMailbox returns an empty Mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{ch: make(chan hosting.PipelineStatus, 1)}
}

// Put stores status, dropping any value not yet received. Callers must not
// Put concurrently; Relay.Publish is serialized so a Mailbox fed from a
// Callback satisfies this.
func (m *Mailbox) Put(status hosting.PipelineStatus) {
	select {
	case <-m.ch:
	default:
	}
	m.ch <- status
}

// C returns the channel to receive from.
func (m *Mailbox) C() <-chan hosting.PipelineStatus {
	return m.ch
}
