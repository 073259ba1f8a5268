package service

import (
	"context"
	"fmt"

	"github.com/anthanhphan/gosdk/logger"

	"github.com/anthanhphan/go-chord/internal/node/domain"
	"github.com/anthanhphan/go-chord/pkg/ring"
)

// Join builds the finger table through contact and starts maintenance. The
// absent contact makes this node the sole member of a new ring.
func (n *Node) Join(ctx context.Context, contact ring.Node) error {
	if err := n.initFingerTable(ctx, contact); err != nil {
		return err
	}
	if !contact.IsZero() && n.opts.EagerFingerUpdates {
		n.updateOthers(ctx)
	}
	n.StartLoop()
	return nil
}

func (n *Node) initFingerTable(ctx context.Context, contact ring.Node) error {
	n.resetSolitary()
	if contact.IsZero() {
		logger.Infow("Started a new ring", "id", n.id)
		return nil
	}
	if contact.IsNull() {
		return domain.ErrNullExecuter
	}

	successor, err := n.FindSuccessor(ctx, n.finger(0).Start(), contact)
	if err != nil {
		return fmt.Errorf("failed to locate successor through %s: %w", contact.HostPort(), err)
	}
	if successor.IsNull() {
		return fmt.Errorf("%w: contact %s returned no successor", domain.ErrLookupExhausted, contact.HostPort())
	}
	n.setPredecessor(n.GetPredecessor(ctx, successor), "join")
	n.setSuccessor(successor, "join")

	for i := 0; i < ring.M-1; i++ {
		prev := n.finger(i).Node
		start := n.finger(i + 1).Start()
		if ring.InRange(start, n.id, prev.ID, ring.Start) {
			n.setFinger(i+1, prev, "join")
			continue
		}
		node, err := n.FindSuccessor(ctx, start, contact)
		if err != nil {
			return fmt.Errorf("failed to resolve finger %d through %s: %w", i+1, contact.HostPort(), err)
		}
		n.setFinger(i+1, node, "join")
	}

	logger.Infow("Joined ring", "id", n.id, "contact", contact.ID, "successor", successor.ID)
	return nil
}
