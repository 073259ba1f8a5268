package service

import (
	"context"

	"github.com/anthanhphan/gosdk/logger"

	"github.com/anthanhphan/go-chord/internal/node/domain"
	"github.com/anthanhphan/go-chord/pkg/ring"
)

// Ping checks that target answers within PingTimeout. Pinging self succeeds
// without a round trip.
func (n *Node) Ping(ctx context.Context, target ring.Node) error {
	if n.isSelf(target) {
		return nil
	}
	if target.IsNull() {
		return domain.ErrNullExecuter
	}

	ctx, cancel := context.WithTimeout(ctx, n.opts.PingTimeout)
	defer cancel()
	_, err := n.transport.Call(ctx, target, domain.KindPing, nil)
	return err
}

// Message sends text to target and waits up to MessageTimeout for the
// acknowledgement.
func (n *Node) Message(ctx context.Context, target ring.Node, text string) error {
	if n.isSelf(target) {
		n.HandleMessage(n.self, text)
		return nil
	}
	if target.IsNull() {
		return domain.ErrNullExecuter
	}

	ctx, cancel := context.WithTimeout(ctx, n.opts.MessageTimeout)
	defer cancel()
	_, err := n.transport.Call(ctx, target, domain.KindMessage, domain.TextMessage{Message: text})
	return err
}

// HandleMessage delivers an inbound text message.
func (n *Node) HandleMessage(sender ring.Node, text string) {
	logger.Infow("Message received", "from", sender.ID, "fingerprint", sender.Fingerprint, "message", text)
	if n.opts.Observer != nil {
		n.opts.Observer.OnMessage(sender, text)
	}
}
