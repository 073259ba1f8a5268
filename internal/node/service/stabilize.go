package service

import (
	"context"
	"math/rand/v2"

	"github.com/anthanhphan/gosdk/logger"

	"github.com/anthanhphan/go-chord/internal/node/domain"
	"github.com/anthanhphan/go-chord/internal/telemetry"
	"github.com/anthanhphan/go-chord/pkg/ring"
)

// CheckSuccessor reports whether the successor answers a ping.
func (n *Node) CheckSuccessor(ctx context.Context) bool {
	return n.alive(ctx, n.successor())
}

// CheckPredecessor reports whether the predecessor answers a ping.
func (n *Node) CheckPredecessor(ctx context.Context) bool {
	return n.alive(ctx, n.currentPredecessor())
}

func (n *Node) alive(ctx context.Context, node ring.Node) bool {
	if node.IsNull() {
		return false
	}
	if n.isSelf(node) {
		return true
	}
	return n.Ping(ctx, node) == nil
}

// Stabilize repairs the successor and predecessor pointers, looks for a
// closer successor and notifies the successor about this node.
func (n *Node) Stabilize(ctx context.Context) {
	defer telemetry.StabilizeRuns.Inc()

	successorOK := n.CheckSuccessor(ctx)
	predecessorOK := n.CheckPredecessor(ctx)
	// A cancelled round says nothing about the peers.
	if ctx.Err() != nil {
		return
	}

	// Successor is down, take the first live finger.
	if !successorOK {
		current := n.successor()
		for _, f := range n.Fingers() {
			if n.fallbackCandidate(f.Node, current) && n.Ping(ctx, f.Node) == nil {
				n.setSuccessor(f.Node, "finger fallback")
				successorOK = true
				break
			}
		}
		if !successorOK && ctx.Err() != nil {
			return
		}
	}

	if !successorOK && predecessorOK {
		n.setSuccessor(n.currentPredecessor(), "predecessor fallback")
		successorOK = true
	}

	// Nobody answers, this node is alone.
	if !successorOK && !predecessorOK {
		logger.Warnw("Successor and predecessor lost, collapsing to self", "id", n.id)
		n.setSuccessor(n.self, "collapse")
		n.setPredecessor(n.self, "collapse")
		predecessorOK = true
	}

	// Predecessor is down, take the furthest live finger.
	if !predecessorOK {
		current := n.currentPredecessor()
		fingers := n.Fingers()
		for i := len(fingers) - 1; i >= 0; i-- {
			f := fingers[i].Node
			if n.fallbackCandidate(f, current) && n.Ping(ctx, f) == nil {
				n.setPredecessor(f, "finger fallback")
				predecessorOK = true
				break
			}
		}
		if !predecessorOK && ctx.Err() != nil {
			return
		}
	}

	if !predecessorOK {
		n.setPredecessor(n.successor(), "successor fallback")
	}

	prime := n.GetPredecessor(ctx, n.successor())
	if n.isSelf(prime) {
		return
	}

	if prime.IsNull() || n.Ping(ctx, prime) != nil {
		logger.Debugw("Successor's predecessor unreachable, successor kept", "prime", prime.String())
	} else if ring.InRange(prime.ID, n.id, n.successor().ID, ring.None) {
		n.setSuccessor(prime, "stabilize")
	}

	if succ := n.successor(); !n.isSelf(succ) {
		n.Notify(ctx, n.self, succ)
	}
}

func (n *Node) fallbackCandidate(candidate, current ring.Node) bool {
	return !candidate.IsNull() && !n.isSelf(candidate) && candidate.ID != current.ID
}

// FixFingers refreshes one randomly chosen finger.
func (n *Node) FixFingers(ctx context.Context) {
	index := rand.IntN(ring.M)
	if err := n.FixFinger(ctx, index); err != nil {
		logger.Debugw("Fix finger failed", "index", index, "error", err.Error())
	}
}

// FixFinger re-resolves the node for finger index. It does nothing while the
// predecessor is unreachable.
func (n *Node) FixFinger(ctx context.Context, index int) error {
	if index < 0 || index >= ring.M {
		return domain.ErrFingerIndex
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !n.CheckPredecessor(ctx) {
		return ctx.Err()
	}

	node, err := n.FindSuccessor(ctx, n.finger(index).Start(), ring.Node{})
	if err != nil {
		return err
	}
	if node.IsNull() {
		return nil
	}
	if n.finger(index).Node.ID != node.ID {
		n.setFinger(index, node, "fix fingers")
	}
	return nil
}

// Notify offers candidate as executer's predecessor, which takes it exactly
// when candidate lies strictly between the current predecessor and itself.
// Remote failures are ignored.
func (n *Node) Notify(ctx context.Context, candidate ring.Node, executer ring.Node) {
	if !n.isLocal(executer) {
		if _, err := n.Execute(ctx, executer, domain.NotifyCmd(candidate)); err != nil {
			logger.Debugw("Notify failed", "target", executer.String(), "error", err.Error())
		}
		return
	}

	if candidate.IsNull() {
		return
	}
	n.mu.Lock()
	pred := n.predecessor
	adopt := ring.InRange(candidate.ID, pred.ID, n.id, ring.None)
	n.mu.Unlock()

	if adopt {
		n.setPredecessor(candidate, "notify")
	}
}

// SetPredecessor overwrites executer's predecessor.
func (n *Node) SetPredecessor(ctx context.Context, node ring.Node, executer ring.Node) error {
	if !n.isLocal(executer) {
		_, err := n.Execute(ctx, executer, domain.SetPredecessorCmd(node))
		return err
	}
	n.setPredecessor(node, "set")
	return nil
}

// UpdateFingerTable installs s as finger index of executer when s is a
// better fit, then passes the update on to the predecessor.
func (n *Node) UpdateFingerTable(ctx context.Context, s ring.Node, index int, executer ring.Node) error {
	if !n.isLocal(executer) {
		_, err := n.Execute(ctx, executer, domain.UpdateFingerTableCmd(s, index))
		return err
	}
	if index < 0 || index >= ring.M {
		return domain.ErrFingerIndex
	}
	if s.IsNull() || n.isSelf(s) {
		return nil
	}

	n.mu.Lock()
	f := n.fingers[index]
	update := s.ID != f.Node.ID && ring.InRange(s.ID, f.Start(), f.Node.ID, ring.Start)
	pred := n.predecessor
	n.mu.Unlock()

	if !update {
		return nil
	}
	n.setFinger(index, s, "update finger table")

	if pred.IsNull() || pred.Same(s) || n.isSelf(pred) {
		return nil
	}
	if err := n.UpdateFingerTable(ctx, s, index, pred); err != nil {
		logger.Debugw("Finger update not forwarded", "target", pred.String(), "index", index, "error", err.Error())
	}
	return nil
}

// updateOthers pushes this node into the finger tables that should now
// point at it.
func (n *Node) updateOthers(ctx context.Context) {
	for i := 1; i <= ring.M; i++ {
		target := ring.Normalize(n.id - (1 << (i - 1)) + 1)
		p, err := n.FindPredecessor(ctx, target, ring.Node{})
		if err != nil {
			logger.Debugw("Update others lookup failed", "target", target, "error", err.Error())
			continue
		}
		if p.IsNull() || n.isSelf(p) {
			continue
		}
		if err := n.UpdateFingerTable(ctx, n.self, i-1, p); err != nil {
			logger.Debugw("Update others failed", "target", p.String(), "index", i-1, "error", err.Error())
		}
	}
}
