package registry

import (
	"time"

	"github.com/canvakit/graphsync/pkg/schema"
)

// Sink receives unsolicited broadcast messages for one session. The
// gateway implements it on top of the connection's write pump.
type Sink interface {
	// Send queues msg for delivery and reports whether it was accepted.
	// A full or closed sink drops the message; the client recovers by
	// re-registering with its last seen timestamp.
	Send(msg *schema.Envelope) bool
}

// Session is one user's registration on one resource.
type Session struct {
	ID           string
	UserID       string
	ResourceKey  string
	RegisteredAt time.Time

	sink Sink
}

// deliver sends msg to the session, honoring echo suppression: the
// originating session only receives the instructions not flagged
// dontApplyToMySelf (it already applied those optimistically).
func (s *Session) deliver(msg *schema.Envelope, originator bool) bool {
	if !originator {
		return s.sink.Send(msg)
	}
	if len(msg.Instructions) == 0 {
		// Non-instruction broadcasts (batch create/delete) always echo:
		// the originator gets its authoritative copy via the response,
		// so it is excluded entirely.
		return true
	}
	var keep []schema.GraphInstruction
	for _, ins := range msg.Instructions {
		if !ins.DontApplyToMySelf {
			keep = append(keep, ins)
		}
	}
	if len(keep) == 0 {
		return true
	}
	filtered := *msg
	filtered.Instructions = keep
	return s.sink.Send(&filtered)
}
