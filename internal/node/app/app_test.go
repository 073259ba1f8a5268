package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthanhphan/go-chord/internal/node/adapter/inbound/udp"
	"github.com/anthanhphan/go-chord/internal/node/config"
	"github.com/anthanhphan/go-chord/internal/node/service"
	"github.com/anthanhphan/go-chord/pkg/ring"
)

type stubContacts struct {
	mu    sync.Mutex
	nodes []ring.Node
	err   error
	calls int
}

func (s *stubContacts) Contacts(ctx context.Context) ([]ring.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.nodes, s.err
}

func (s *stubContacts) Close() error { return nil }

func (s *stubContacts) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestNode(t *testing.T, id int) *service.Node {
	t.Helper()
	transport := udp.NewTransport(udp.Config{Address: "127.0.0.1"})
	_, _, err := transport.Bind(context.Background())
	require.NoError(t, err)

	n, err := service.NewNode(id, transport, service.Options{
		Interval:       time.Hour,
		PingTimeout:    100 * time.Millisecond,
		ExecuteTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Terminate(context.Background()) })
	return n
}

// deadContact is a ring node whose socket never answers.
func deadContact(t *testing.T, id int) ring.Node {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return ring.NewNode(id, "127.0.0.1", conn.LocalAddr().(*net.UDPAddr).Port)
}

func ref(n ring.Node) string {
	return fmt.Sprintf("%d@%s", n.ID, n.HostPort())
}

func newTestApp(node *service.Node, contact string, source *stubContacts, retries int) *App {
	cfg := config.DefaultConfig()
	cfg.Contact = contact
	cfg.Maintenance.JoinRetries = retries
	cfg.Maintenance.IntervalMS = 10

	a := &App{
		cfg:        cfg,
		node:       node,
		terminated: make(chan struct{}),
	}
	if source != nil {
		a.discovery = source
	}
	return a
}

func TestApp_Join(t *testing.T) {
	tests := []struct {
		name string
		// setup returns the configured contact, the discovered contacts and
		// the node the joiner should end up with as successor (zero for self)
		setup     func(t *testing.T) (string, []ring.Node, ring.Node)
		discErr   error
		retries   int
		wantCalls int
	}{
		{
			name: "nothing known starts a new ring",
			setup: func(t *testing.T) (string, []ring.Node, ring.Node) {
				return "", nil, ring.Node{}
			},
			retries:   2,
			wantCalls: 2,
		},
		{
			name: "configured contact",
			setup: func(t *testing.T) (string, []ring.Node, ring.Node) {
				live := newTestNode(t, 1)
				require.NoError(t, live.Join(context.Background(), ring.Node{}))
				live.EndLoop()
				return ref(live.Self()), nil, live.Self()
			},
			retries:   3,
			wantCalls: 1,
		},
		{
			name: "dead configured contact falls through to a discovered one",
			setup: func(t *testing.T) (string, []ring.Node, ring.Node) {
				live := newTestNode(t, 1)
				require.NoError(t, live.Join(context.Background(), ring.Node{}))
				live.EndLoop()
				dead := deadContact(t, 3)
				return ref(dead), []ring.Node{live.Self()}, live.Self()
			},
			retries:   3,
			wantCalls: 1,
		},
		{
			name: "every contact dead after all retries starts a new ring",
			setup: func(t *testing.T) (string, []ring.Node, ring.Node) {
				return "", []ring.Node{deadContact(t, 3), deadContact(t, 6)}, ring.Node{}
			},
			retries:   2,
			wantCalls: 2,
		},
		{
			name: "discovery failure still tries the configured contact",
			setup: func(t *testing.T) (string, []ring.Node, ring.Node) {
				live := newTestNode(t, 1)
				require.NoError(t, live.Join(context.Background(), ring.Node{}))
				live.EndLoop()
				return ref(live.Self()), nil, live.Self()
			},
			discErr:   errors.New("registry down"),
			retries:   1,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			contact, discovered, want := tt.setup(t)
			joiner := newTestNode(t, 5)
			source := &stubContacts{nodes: discovered, err: tt.discErr}
			a := newTestApp(joiner, contact, source, tt.retries)

			require.NoError(t, a.join(context.Background()))
			defer joiner.EndLoop()

			if want.IsZero() {
				want = joiner.Self()
			}
			assert.Equal(t, want, joiner.Info().Successor)
			assert.True(t, joiner.LoopRunning())
			assert.Equal(t, tt.wantCalls, source.callCount())
		})
	}
}

func TestApp_JoinSkipsSelfAsContact(t *testing.T) {
	joiner := newTestNode(t, 5)
	source := &stubContacts{nodes: []ring.Node{joiner.Self()}}
	a := newTestApp(joiner, "", source, 1)

	require.NoError(t, a.join(context.Background()))
	defer joiner.EndLoop()

	assert.Equal(t, joiner.Self(), joiner.Info().Successor)
	assert.Equal(t, joiner.Self(), joiner.Info().Predecessor)
}

func TestApp_JoinWithoutDiscovery(t *testing.T) {
	joiner := newTestNode(t, 5)
	a := newTestApp(joiner, "", nil, 1)

	require.NoError(t, a.join(context.Background()))
	defer joiner.EndLoop()
	assert.Equal(t, joiner.Self(), joiner.Info().Successor)
}

func TestApp_MarkTerminatedIsIdempotent(t *testing.T) {
	a := &App{terminated: make(chan struct{})}
	a.markTerminated()
	a.markTerminated()

	select {
	case <-a.terminated:
	default:
		t.Fatal("terminated channel not closed")
	}
}
