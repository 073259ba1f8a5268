package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anthanhphan/gosdk/logger"

	"github.com/anthanhphan/go-chord/internal/node/domain"
	"github.com/anthanhphan/go-chord/internal/node/port"
	"github.com/anthanhphan/go-chord/internal/telemetry"
	"github.com/anthanhphan/go-chord/pkg/ring"
)

const (
	DefaultInterval       = time.Second
	DefaultPingTimeout    = 500 * time.Millisecond
	DefaultMessageTimeout = 2000 * time.Millisecond
	DefaultExecuteTimeout = time.Second
)

// Options tunes the protocol engine.
type Options struct {
	Interval       time.Duration
	PingTimeout    time.Duration
	MessageTimeout time.Duration
	ExecuteTimeout time.Duration

	// EagerFingerUpdates makes a joining node push itself into the finger
	// tables of existing members instead of waiting for fix-fingers.
	EagerFingerUpdates bool

	Observer port.MessageObserver
}

func DefaultOptions() Options {
	return Options{
		Interval:       DefaultInterval,
		PingTimeout:    DefaultPingTimeout,
		MessageTimeout: DefaultMessageTimeout,
		ExecuteTimeout: DefaultExecuteTimeout,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Interval <= 0 {
		o.Interval = def.Interval
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = def.PingTimeout
	}
	if o.MessageTimeout <= 0 {
		o.MessageTimeout = def.MessageTimeout
	}
	if o.ExecuteTimeout <= 0 {
		o.ExecuteTimeout = def.ExecuteTimeout
	}
	return o
}

// Node is one member of the ring. Its pointers are only changed by its own
// algorithms. The mutex is never held across a network call, so every
// algorithm re-reads state after each remote round trip.
type Node struct {
	id        int
	self      ring.Node
	transport port.Transport
	opts      Options

	mu          sync.RWMutex
	predecessor ring.Node
	fingers     [ring.M]domain.FingerEntry

	loopMu     sync.Mutex
	loopCancel func()
	loopDone   chan struct{}
}

var (
	_ port.InboundHandler = (*Node)(nil)
	_ port.RingService    = (*Node)(nil)
)

// NewNode creates a node on an already bound transport and attaches to it.
// Until Join is called the node is the sole member of its own ring.
func NewNode(id int, transport port.Transport, opts Options) (*Node, error) {
	if id < 0 || id >= ring.Size {
		return nil, fmt.Errorf("node id %d outside ring of size %d", id, ring.Size)
	}
	address, p := transport.LocalAddr()
	if p == 0 {
		return nil, domain.ErrNotBound
	}

	n := &Node{
		id:        id,
		self:      ring.NewNode(id, address, p),
		transport: transport,
		opts:      opts.withDefaults(),
	}
	n.resetSolitary()
	transport.Attach(n)

	logger.Infow("Node created", "id", id, "fingerprint", n.self.Fingerprint, "address", address, "port", p)
	return n, nil
}

// Self returns this node's descriptor.
func (n *Node) Self() ring.Node {
	return n.self
}

func (n *Node) ID() int {
	return n.id
}

// Info returns a snapshot of the routing state.
func (n *Node) Info() domain.Info {
	n.mu.RLock()
	defer n.mu.RUnlock()

	fingers := make([]domain.FingerEntry, ring.M)
	copy(fingers, n.fingers[:])
	return domain.Info{
		Node:        n.self,
		Predecessor: n.predecessor,
		Successor:   n.fingers[0].Node,
		Fingers:     fingers,
	}
}

// Fingers returns a copy of the finger table.
func (n *Node) Fingers() []domain.FingerEntry {
	n.mu.RLock()
	defer n.mu.RUnlock()

	fingers := make([]domain.FingerEntry, ring.M)
	copy(fingers, n.fingers[:])
	return fingers
}

func (n *Node) successor() ring.Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.fingers[0].Node
}

func (n *Node) currentPredecessor() ring.Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.predecessor
}

func (n *Node) finger(index int) domain.FingerEntry {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.fingers[index]
}

func (n *Node) setSuccessor(node ring.Node, reason string) {
	n.setFinger(0, node, reason)
}

func (n *Node) setFinger(index int, node ring.Node, reason string) {
	n.mu.Lock()
	old := n.fingers[index].Node
	n.fingers[index].Node = node
	n.mu.Unlock()

	if old.Same(node) {
		return
	}
	pointer := "finger"
	if index == 0 {
		pointer = "successor"
	}
	telemetry.PointerChanges.WithLabelValues(pointer).Inc()
	logger.Infow("Finger changed", "index", index, "from", old.ID, "to", node.ID, "reason", reason)
}

func (n *Node) setPredecessor(node ring.Node, reason string) {
	n.mu.Lock()
	old := n.predecessor
	n.predecessor = node
	n.mu.Unlock()

	if old.Same(node) {
		return
	}
	telemetry.PointerChanges.WithLabelValues("predecessor").Inc()
	logger.Infow("Predecessor changed", "from", old.ID, "to", node.ID, "reason", reason)
}

// resetSolitary makes this node the only member: every finger and the
// predecessor point to self.
func (n *Node) resetSolitary() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i := 0; i < ring.M; i++ {
		n.fingers[i] = domain.FingerEntry{
			Node:     n.self,
			Interval: [2]int{ring.FingerIndex(n.id, i+1), fingerEnd(n.id, i)},
		}
	}
	n.predecessor = n.self
}

// fingerEnd is the exclusive end of the interval of finger index (0-based).
func fingerEnd(id, index int) int {
	return ring.Normalize(id + (1 << (index + 1)))
}

// isLocal reports whether executer designates this node. The absent
// descriptor means "here".
func (n *Node) isLocal(executer ring.Node) bool {
	return executer.IsZero() || executer.ID == n.id
}

func (n *Node) isSelf(node ring.Node) bool {
	return node.Same(n.self)
}

// Pending lists outstanding transport calls.
func (n *Node) Pending() []string {
	return n.transport.Pending()
}

// Flush abandons every outstanding transport call.
func (n *Node) Flush() {
	n.transport.Flush()
}

// Terminate stops maintenance and releases the endpoint.
func (n *Node) Terminate(ctx context.Context) error {
	n.EndLoop()
	if err := n.transport.Unbind(ctx); err != nil && !errors.Is(err, domain.ErrNotBound) {
		return fmt.Errorf("failed to unbind transport: %w", err)
	}
	logger.Infow("Node terminated", "id", n.id)
	return nil
}
