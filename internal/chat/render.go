// ABOUTME: Renderer turns stored messages into outbound envelopes
// ABOUTME: Default implementation emits structured message events

package chat

import (
	"github.com/2389/coven-chat/internal/envelope"
)

// Renderer produces the envelope published for a message. Deployments that
// serve pre-rendered HTML supply their own.
type Renderer interface {
	RenderMessage(m envelope.Message) envelope.Envelope
}

// StructuredRenderer publishes messages as structured "message" events.
type StructuredRenderer struct{}

func (StructuredRenderer) RenderMessage(m envelope.Message) envelope.Envelope {
	return envelope.Structured(envelope.NewMessage(m))
}
