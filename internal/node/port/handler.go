package port

import (
	"context"

	"github.com/anthanhphan/go-chord/internal/node/domain"
	"github.com/anthanhphan/go-chord/pkg/ring"
)

// InboundHandler receives the work a transport cannot answer by itself.
type InboundHandler interface {
	// Self is the descriptor the transport stamps on outgoing envelopes.
	Self() ring.Node

	// HandleCommand runs a command on behalf of a peer.
	HandleCommand(ctx context.Context, cmd domain.Command) (any, error)

	// HandleMessage delivers a text message.
	HandleMessage(sender ring.Node, text string)
}

// MessageObserver is told about every text message a node receives.
type MessageObserver interface {
	OnMessage(sender ring.Node, text string)
}
