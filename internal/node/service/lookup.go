package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthanhphan/gosdk/logger"

	"github.com/anthanhphan/go-chord/internal/node/domain"
	"github.com/anthanhphan/go-chord/internal/telemetry"
	"github.com/anthanhphan/go-chord/pkg/ring"
)

// FindSuccessor returns the node owning id. A remote executer answers the
// whole query itself.
func (n *Node) FindSuccessor(ctx context.Context, id int, executer ring.Node) (ring.Node, error) {
	if !n.isLocal(executer) {
		return n.executeNode(ctx, executer, domain.FindSuccessorCmd(id))
	}

	prime, err := n.FindPredecessor(ctx, id, ring.Node{})
	if err != nil {
		return ring.Node{}, err
	}
	return n.GetSuccessor(ctx, prime), nil
}

// FindPredecessor walks the ring toward id until it reaches the node whose
// successor interval contains id.
func (n *Node) FindPredecessor(ctx context.Context, id int, executer ring.Node) (ring.Node, error) {
	if !n.isLocal(executer) {
		return n.executeNode(ctx, executer, domain.FindPredecessorCmd(id))
	}

	prime := n.self
	primeSuccessor := n.successor()
	hops := 0
	defer func() { telemetry.LookupHops.Observe(float64(hops)) }()

	for !ring.InRange(id, prime.ID, primeSuccessor.ID, ring.End) {
		if prime.ID == primeSuccessor.ID {
			break
		}
		if hops >= ring.Size {
			return ring.Node{}, fmt.Errorf("%w: id %d after %d hops", domain.ErrLookupExhausted, id, hops)
		}

		next, err := n.executeNode(ctx, prime, domain.ClosestPrecedingFingerCmd(id))
		if err != nil {
			return ring.Node{}, fmt.Errorf("closest preceding finger of %d at %s: %w", id, prime, err)
		}
		hops++
		if next.ID == prime.ID {
			break
		}
		prime = next

		primeSuccessor, err = n.executeNode(ctx, prime, domain.GetSuccessorCmd())
		if err != nil {
			return ring.Node{}, fmt.Errorf("successor of %s: %w", prime, err)
		}
	}

	return prime, nil
}

// ClosestPrecedingFinger returns the highest finger strictly between this
// node and id, or self when none is.
func (n *Node) ClosestPrecedingFinger(id int) ring.Node {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for i := ring.M - 1; i >= 0; i-- {
		f := n.fingers[i].Node
		if f.IsNull() {
			continue
		}
		if ring.InRange(f.ID, n.id, id, ring.None) {
			return f
		}
	}
	return n.self
}

// GetSuccessor asks node for its successor. Failures yield ring.Unreachable.
func (n *Node) GetSuccessor(ctx context.Context, node ring.Node) ring.Node {
	if n.isLocal(node) {
		return n.successor()
	}
	succ, err := n.executeNode(ctx, node, domain.GetSuccessorCmd())
	if err != nil {
		logger.Debugw("getSuccessor failed", "target", node.String(), "error", err.Error())
		return ring.Unreachable
	}
	return succ
}

// GetPredecessor asks node for its predecessor. Failures yield ring.Unreachable.
func (n *Node) GetPredecessor(ctx context.Context, node ring.Node) ring.Node {
	if n.isLocal(node) {
		return n.currentPredecessor()
	}
	pred, err := n.executeNode(ctx, node, domain.GetPredecessorCmd())
	if err != nil {
		logger.Debugw("getPredecessor failed", "target", node.String(), "error", err.Error())
		return ring.Unreachable
	}
	return pred
}

// GetInfo returns the routing state of node.
func (n *Node) GetInfo(ctx context.Context, node ring.Node) (domain.Info, error) {
	if n.isLocal(node) {
		return n.Info(), nil
	}
	raw, err := n.Execute(ctx, node, domain.GetInfoCmd())
	if err != nil {
		return domain.Info{}, err
	}
	var info domain.Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return domain.Info{}, fmt.Errorf("%w: getInfo returned %s", domain.ErrSerialization, raw)
	}
	return info, nil
}
