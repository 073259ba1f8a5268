package service

import (
	"context"
	"time"

	"github.com/anthanhphan/gosdk/logger"
)

// StartLoop runs Stabilize then FixFingers every Interval. A running loop is
// left alone.
func (n *Node) StartLoop() {
	n.loopMu.Lock()
	defer n.loopMu.Unlock()

	if n.loopCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	n.loopCancel, n.loopDone = cancel, done

	go n.runLoop(ctx, n.opts.Interval, done)
	logger.Infow("Maintenance loop started", "id", n.id, "interval", n.opts.Interval.String())
}

// EndLoop stops the loop and waits for the current round to finish.
func (n *Node) EndLoop() {
	n.loopMu.Lock()
	defer n.loopMu.Unlock()

	if n.loopCancel == nil {
		return
	}
	n.loopCancel()
	<-n.loopDone
	n.loopCancel, n.loopDone = nil, nil
	logger.Infow("Maintenance loop stopped", "id", n.id)
}

func (n *Node) LoopRunning() bool {
	n.loopMu.Lock()
	defer n.loopMu.Unlock()
	return n.loopCancel != nil
}

func (n *Node) runLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.Stabilize(ctx)
			n.FixFingers(ctx)
		}
	}
}
