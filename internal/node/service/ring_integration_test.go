package service

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthanhphan/go-chord/internal/node/adapter/inbound/udp"
	"github.com/anthanhphan/go-chord/internal/node/domain"
	"github.com/anthanhphan/go-chord/pkg/ring"
)

func newUDPNode(t *testing.T, id int, opts Options) *Node {
	t.Helper()
	transport := udp.NewTransport(udp.Config{Address: "127.0.0.1"})
	_, _, err := transport.Bind(context.Background())
	require.NoError(t, err)

	if opts.Interval == 0 {
		opts.Interval = time.Hour
	}
	n, err := NewNode(id, transport, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Terminate(context.Background()) })
	return n
}

// settle drives maintenance by hand so the outcome does not depend on timers.
func settle(ctx context.Context, nodes ...*Node) {
	for round := 0; round < 3; round++ {
		for _, n := range nodes {
			n.Stabilize(ctx)
		}
	}
	for _, n := range nodes {
		for i := 0; i < ring.M; i++ {
			_ = n.FixFinger(ctx, i)
		}
	}
}

func TestRing_SingleNodeOwnsEveryID(t *testing.T) {
	ctx := context.Background()
	a := newUDPNode(t, 5, Options{})
	require.NoError(t, a.Join(ctx, ring.Node{}))
	a.EndLoop()

	info := a.Info()
	assert.Equal(t, a.Self(), info.Successor)
	assert.Equal(t, a.Self(), info.Predecessor)

	for id := 0; id < ring.Size; id++ {
		got, err := a.FindSuccessor(ctx, id, ring.Node{})
		require.NoError(t, err)
		assert.Equal(t, a.Self(), got, "id %d", id)
	}
}

func TestRing_TwoNodesConverge(t *testing.T) {
	ctx := context.Background()
	a := newUDPNode(t, 2, Options{})
	b := newUDPNode(t, 3, Options{})

	require.NoError(t, a.Join(ctx, ring.Node{}))
	require.NoError(t, b.Join(ctx, a.Self()))
	a.EndLoop()
	b.EndLoop()

	settle(ctx, a, b)

	assert.Equal(t, b.Self(), a.Info().Successor)
	assert.Equal(t, a.Self(), b.Info().Predecessor)
	assert.Equal(t, a.Self(), b.Info().Successor)
	assert.Equal(t, b.Self(), a.Info().Predecessor)

	for id := 0; id < ring.Size; id++ {
		want := a.Self()
		if id == 3 {
			want = b.Self()
		}

		fromA, err := a.FindSuccessor(ctx, id, ring.Node{})
		require.NoError(t, err)
		fromB, err := b.FindSuccessor(ctx, id, ring.Node{})
		require.NoError(t, err)
		viaB, err := a.FindSuccessor(ctx, id, b.Self())
		require.NoError(t, err)

		assert.Equal(t, want, fromA, "id %d from A", id)
		assert.Equal(t, want, fromB, "id %d from B", id)
		assert.Equal(t, want, viaB, "id %d via B", id)

		predA, err := a.FindPredecessor(ctx, id, ring.Node{})
		require.NoError(t, err)
		predB, err := b.FindPredecessor(ctx, id, ring.Node{})
		require.NoError(t, err)
		assert.Equal(t, predA, predB, "predecessor of %d", id)
	}
}

func TestRing_StabilizeIdempotentOnceConverged(t *testing.T) {
	ctx := context.Background()
	a := newUDPNode(t, 2, Options{})
	b := newUDPNode(t, 3, Options{})

	require.NoError(t, a.Join(ctx, ring.Node{}))
	require.NoError(t, b.Join(ctx, a.Self()))
	a.EndLoop()
	b.EndLoop()
	settle(ctx, a, b)

	beforeA, beforeB := a.Info(), b.Info()
	a.Stabilize(ctx)
	b.Stabilize(ctx)
	assert.Equal(t, beforeA, a.Info())
	assert.Equal(t, beforeB, b.Info())
}

func TestRing_SurvivorCollapsesToSelf(t *testing.T) {
	ctx := context.Background()
	a := newUDPNode(t, 2, Options{PingTimeout: 100 * time.Millisecond})
	b := newUDPNode(t, 6, Options{})

	require.NoError(t, a.Join(ctx, ring.Node{}))
	require.NoError(t, b.Join(ctx, a.Self()))
	a.EndLoop()
	b.EndLoop()
	settle(ctx, a, b)
	require.Equal(t, b.Self(), a.Info().Successor)

	require.NoError(t, b.Terminate(ctx))
	a.Stabilize(ctx)

	assert.Equal(t, a.Self(), a.Info().Successor)
	assert.Equal(t, a.Self(), a.Info().Predecessor)

	got, err := a.FindSuccessor(ctx, 6, ring.Node{})
	require.NoError(t, err)
	assert.Equal(t, a.Self(), got)
}

func TestRing_EagerJoinUpdatesExistingFingers(t *testing.T) {
	ctx := context.Background()
	opts := Options{EagerFingerUpdates: true}
	a := newUDPNode(t, 2, opts)
	b := newUDPNode(t, 3, opts)

	require.NoError(t, a.Join(ctx, ring.Node{}))
	require.NoError(t, b.Join(ctx, a.Self()))
	a.EndLoop()
	b.EndLoop()

	assert.Equal(t, b.Self(), a.Info().Successor)
}

func TestRing_GetInfoRemote(t *testing.T) {
	ctx := context.Background()
	a := newUDPNode(t, 1, Options{})
	b := newUDPNode(t, 4, Options{})
	require.NoError(t, a.Join(ctx, ring.Node{}))
	require.NoError(t, b.Join(ctx, a.Self()))
	a.EndLoop()
	b.EndLoop()

	info, err := a.GetInfo(ctx, b.Self())
	require.NoError(t, err)
	assert.Equal(t, b.Info(), info)
}

func TestRing_PingUnreachableTakesExactlyItsTimeout(t *testing.T) {
	a := newUDPNode(t, 1, Options{})

	silent, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer silent.Close()
	target := ring.NewNode(4, "127.0.0.1", silent.LocalAddr().(*net.UDPAddr).Port)

	start := time.Now()
	err = a.Ping(context.Background(), target)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTimeout))
	assert.GreaterOrEqual(t, elapsed, DefaultPingTimeout)
	assert.Less(t, elapsed, DefaultPingTimeout+400*time.Millisecond)
}

func TestRing_MessageBetweenNodes(t *testing.T) {
	observer := &recordingObserver{}
	a := newUDPNode(t, 1, Options{})
	b := newUDPNode(t, 4, Options{Observer: observer})

	require.NoError(t, a.Message(context.Background(), b.Self(), "hello"))

	observer.mu.Lock()
	defer observer.mu.Unlock()
	assert.Equal(t, []string{"hello"}, observer.seen)
}
