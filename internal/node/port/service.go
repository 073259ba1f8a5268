package port

import (
	"context"

	"github.com/anthanhphan/go-chord/internal/node/domain"
	"github.com/anthanhphan/go-chord/pkg/ring"
)

// RingService is the operator-facing surface of a ring node.
type RingService interface {
	Self() ring.Node
	Info() domain.Info

	FindSuccessor(ctx context.Context, id int, executer ring.Node) (ring.Node, error)
	FindPredecessor(ctx context.Context, id int, executer ring.Node) (ring.Node, error)
	ClosestPrecedingFinger(id int) ring.Node
	GetSuccessor(ctx context.Context, node ring.Node) ring.Node
	GetPredecessor(ctx context.Context, node ring.Node) ring.Node
	GetInfo(ctx context.Context, node ring.Node) (domain.Info, error)

	Stabilize(ctx context.Context)
	FixFingers(ctx context.Context)
	FixFinger(ctx context.Context, index int) error

	StartLoop()
	EndLoop()
	LoopRunning() bool

	Ping(ctx context.Context, target ring.Node) error
	Message(ctx context.Context, target ring.Node, text string) error

	Pending() []string
	Flush()
	Terminate(ctx context.Context) error
}
