package udp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/anthanhphan/gosdk/logger"
	"github.com/google/uuid"

	"github.com/anthanhphan/go-chord/internal/node/domain"
	"github.com/anthanhphan/go-chord/internal/node/port"
	"github.com/anthanhphan/go-chord/internal/telemetry"
	"github.com/anthanhphan/go-chord/pkg/resilience"
	"github.com/anthanhphan/go-chord/pkg/ring"
)

const (
	maxDatagramSize = 64 * 1024

	DefaultBindTimeout    = 2 * time.Second
	DefaultUnbindTimeout  = 2 * time.Second
	DefaultHandlerTimeout = 5 * time.Second
)

var errBusy = errors.New("node busy")

// Config controls a Transport.
type Config struct {
	Address        string
	Port           int
	Verbose        bool
	Workers        int
	QueueSize      int
	HandlerTimeout time.Duration
}

// Transport is a UDP endpoint with request/response correlation on top.
type Transport struct {
	cfg Config

	mu        sync.RWMutex
	conn      net.PacketConn
	boundAddr string
	boundPort int
	handler   port.InboundHandler
	pool      *resilience.WorkerPool
	baseCtx   context.Context
	cancel    context.CancelFunc
	done      chan struct{}

	pendingMu sync.Mutex
	pending   map[string]chan domain.Response
}

var _ port.Transport = (*Transport)(nil)

func NewTransport(cfg Config) *Transport {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = DefaultHandlerTimeout
	}
	return &Transport{
		cfg:     cfg,
		pending: make(map[string]chan domain.Response),
	}
}

// Bind opens the socket and starts the read loop. Binding an already bound
// transport returns the existing endpoint.
func (t *Transport) Bind(ctx context.Context) (string, int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return t.boundAddr, t.boundPort, nil
	}

	target := net.JoinHostPort(t.cfg.Address, strconv.Itoa(t.cfg.Port))
	bindCtx, cancel := context.WithTimeout(ctx, DefaultBindTimeout)
	defer cancel()

	type result struct {
		conn net.PacketConn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		var lc net.ListenConfig
		conn, err := lc.ListenPacket(bindCtx, "udp", target)
		ch <- result{conn: conn, err: err}
	}()

	var conn net.PacketConn
	select {
	case r := <-ch:
		if r.err != nil {
			return "", 0, &domain.BindError{Address: t.cfg.Address, Port: t.cfg.Port, Err: r.err}
		}
		conn = r.conn
	case <-bindCtx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		return "", 0, &domain.TimeoutError{Op: "bind", Target: target, After: DefaultBindTimeout}
	}

	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		_ = conn.Close()
		return "", 0, &domain.BindError{Address: t.cfg.Address, Port: t.cfg.Port, Err: fmt.Errorf("unexpected local address %v", conn.LocalAddr())}
	}

	t.conn = conn
	t.boundAddr = local.IP.String()
	t.boundPort = local.Port
	t.pool = resilience.NewWorkerPool(t.cfg.Workers, t.cfg.QueueSize)
	t.baseCtx, t.cancel = context.WithCancel(context.Background())
	t.done = make(chan struct{})

	go t.readLoop(conn, t.done)

	logger.Infow("UDP transport bound", "address", t.boundAddr, "port", t.boundPort)
	return t.boundAddr, t.boundPort, nil
}

// Unbind stops accepting commands, waits for running ones to reply, then
// closes the socket and waits for the read loop to exit.
func (t *Transport) Unbind(ctx context.Context) error {
	t.mu.Lock()
	conn, done, pool, cancel := t.conn, t.done, t.pool, t.cancel
	address, port := t.boundAddr, t.boundPort
	t.conn, t.done, t.pool, t.cancel = nil, nil, nil, nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	cancel()
	pool.Close()

	waitCtx, stop := context.WithTimeout(ctx, DefaultUnbindTimeout)
	defer stop()
	timeout := &domain.TimeoutError{Op: "unbind", Target: net.JoinHostPort(address, strconv.Itoa(port)), After: DefaultUnbindTimeout}

	drained := make(chan struct{})
	go func() {
		pool.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-waitCtx.Done():
		_ = conn.Close()
		return timeout
	}

	closeErr := conn.Close()
	select {
	case <-done:
	case <-waitCtx.Done():
		return timeout
	}

	if closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
		return fmt.Errorf("failed to close socket: %w", closeErr)
	}
	logger.Infow("UDP transport unbound", "address", address, "port", port)
	return nil
}

func (t *Transport) Attach(handler port.InboundHandler) {
	t.mu.Lock()
	t.handler = handler
	t.mu.Unlock()
}

func (t *Transport) LocalAddr() (string, int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.boundAddr, t.boundPort
}

// Call sends one envelope and waits for its response. The context deadline
// bounds the wait; on expiry the call is forgotten and a late response is
// ignored.
func (t *Transport) Call(ctx context.Context, receiver ring.Node, kind domain.Kind, payload any) (json.RawMessage, error) {
	conn, self, err := t.endpoint()
	if err != nil {
		return nil, err
	}

	env := domain.Envelope{
		Sender:        self,
		Receiver:      receiver,
		Kind:          kind,
		CorrelationID: uuid.NewString(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", kind, err)
		}
		env.Payload = raw
	}

	ch := make(chan domain.Response, 1)
	t.track(env.CorrelationID, ch)

	start := time.Now()
	if err := t.send(conn, receiver, env); err != nil {
		t.evict(env.CorrelationID)
		telemetry.CallDuration.WithLabelValues(string(kind), "send_error").Observe(time.Since(start).Seconds())
		return nil, err
	}

	select {
	case res := <-ch:
		result, err := res.Settle()
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		telemetry.CallDuration.WithLabelValues(string(kind), outcome).Observe(time.Since(start).Seconds())
		return result, err
	case <-ctx.Done():
		t.evict(env.CorrelationID)
		telemetry.CallDuration.WithLabelValues(string(kind), "timeout").Observe(time.Since(start).Seconds())
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s to %s abandoned: %w", kind, receiver.HostPort(), ctx.Err())
		}
		after := time.Since(start)
		if deadline, ok := ctx.Deadline(); ok {
			after = deadline.Sub(start)
		}
		return nil, &domain.TimeoutError{Op: string(kind), Target: receiver.HostPort(), After: after.Round(time.Millisecond)}
	}
}

// Pending returns the outstanding correlation ids in sorted order.
func (t *Transport) Pending() []string {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()

	ids := make([]string, 0, len(t.pending))
	for id := range t.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Flush forgets every outstanding call. Their callers are not woken and end
// at their own deadline.
func (t *Transport) Flush() {
	t.pendingMu.Lock()
	n := len(t.pending)
	t.pending = make(map[string]chan domain.Response)
	t.pendingMu.Unlock()

	telemetry.PendingCalls.Set(0)
	logger.Infow("Flushed pending calls", "count", n)
}

func (t *Transport) endpoint() (net.PacketConn, ring.Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn == nil {
		return nil, ring.Node{}, domain.ErrNotBound
	}
	return t.conn, t.selfLocked(), nil
}

func (t *Transport) selfLocked() ring.Node {
	if t.handler != nil {
		return t.handler.Self()
	}
	return ring.NewNode(-1, t.boundAddr, t.boundPort)
}

func (t *Transport) track(id string, ch chan domain.Response) {
	t.pendingMu.Lock()
	t.pending[id] = ch
	n := len(t.pending)
	t.pendingMu.Unlock()
	telemetry.PendingCalls.Set(float64(n))
}

func (t *Transport) evict(id string) {
	t.pendingMu.Lock()
	delete(t.pending, id)
	n := len(t.pending)
	t.pendingMu.Unlock()
	telemetry.PendingCalls.Set(float64(n))
}

// settle hands a response to its waiting caller, if any is still waiting.
func (t *Transport) settle(id string, res domain.Response) bool {
	t.pendingMu.Lock()
	ch, ok := t.pending[id]
	delete(t.pending, id)
	n := len(t.pending)
	t.pendingMu.Unlock()
	telemetry.PendingCalls.Set(float64(n))

	if !ok {
		return false
	}
	ch <- res
	return true
}

func (t *Transport) send(conn net.PacketConn, receiver ring.Node, env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	addr, err := net.ResolveUDPAddr("udp", receiver.HostPort())
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", receiver.HostPort(), err)
	}
	if _, err := conn.WriteTo(data, addr); err != nil {
		return fmt.Errorf("failed to send %s to %s: %w", env.Kind, receiver.HostPort(), err)
	}
	telemetry.MessagesTotal.WithLabelValues("out", string(env.Kind)).Inc()
	return nil
}

// reply answers an inbound envelope. It never touches the pending table.
func (t *Transport) reply(conn net.PacketConn, self, receiver ring.Node, correlationID string, res domain.Response) {
	payload, err := json.Marshal(res)
	if err != nil {
		logger.Warnw("Failed to encode response", "correlationId", correlationID, "error", err.Error())
		return
	}
	env := domain.Envelope{
		Sender:        self,
		Receiver:      receiver,
		Kind:          domain.KindResponse,
		CorrelationID: correlationID,
		Payload:       payload,
	}
	if err := t.send(conn, receiver, env); err != nil {
		logger.Debugw("Failed to send response", "receiver", receiver.String(), "correlationId", correlationID, "error", err.Error())
	}
}

func (t *Transport) readLoop(conn net.PacketConn, done chan struct{}) {
	defer close(done)

	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warnw("UDP read failed", "error", err.Error())
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		t.handleDatagram(conn, from, data)
	}
}

func (t *Transport) handleDatagram(conn net.PacketConn, from net.Addr, data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.drop("malformed", fmt.Errorf("%w: %v", domain.ErrSerialization, err))
		return
	}

	t.mu.RLock()
	handler := t.handler
	boundAddr, boundPort := t.boundAddr, t.boundPort
	self := t.selfLocked()
	baseCtx, pool := t.baseCtx, t.pool
	t.mu.RUnlock()

	remote, ok := from.(*net.UDPAddr)
	if !ok {
		t.drop("unknown_source", fmt.Errorf("unexpected source address %v", from))
		return
	}
	local := net.ParseIP(boundAddr)
	if !local.IsUnspecified() && sameEndpoint(env.Sender.Address, env.Sender.Port, local, boundPort) {
		t.drop("loopback", nil)
		return
	}
	if !sameEndpoint(env.Sender.Address, env.Sender.Port, remote.IP, remote.Port) {
		t.drop("spoofed", fmt.Errorf("sender %s arrived from %s", env.Sender.HostPort(), remote.String()))
		return
	}
	if !sameEndpoint(env.Receiver.Address, env.Receiver.Port, local, boundPort) {
		t.drop("misrouted", fmt.Errorf("addressed to %s", env.Receiver.HostPort()))
		return
	}

	telemetry.MessagesTotal.WithLabelValues("in", string(env.Kind)).Inc()

	switch env.Kind {
	case domain.KindResponse:
		var res domain.Response
		if err := json.Unmarshal(env.Payload, &res); err != nil {
			res = domain.Failure(fmt.Errorf("%w: %v", domain.ErrSerialization, err))
		}
		t.trace(env, "")
		if !t.settle(env.CorrelationID, res) {
			logger.Debugw("Response for unknown call ignored", "sender", env.Sender.String(), "correlationId", env.CorrelationID)
		}

	case domain.KindPing:
		t.trace(env, "")
		t.reply(conn, self, env.Sender, env.CorrelationID, domain.Response{OK: true, Ping: true})

	case domain.KindMessage:
		var msg domain.TextMessage
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			t.reply(conn, self, env.Sender, env.CorrelationID, domain.Failure(domain.ErrSerialization))
			return
		}
		t.trace(env, "")
		if handler != nil {
			handler.HandleMessage(env.Sender, msg.Message)
		}
		t.reply(conn, self, env.Sender, env.CorrelationID, domain.Response{OK: true})

	case domain.KindCommand:
		var cmd domain.Command
		if err := json.Unmarshal(env.Payload, &cmd); err != nil {
			t.reply(conn, self, env.Sender, env.CorrelationID, domain.Failure(domain.ErrSerialization))
			return
		}
		t.trace(env, string(cmd.Function))
		if handler == nil || pool == nil {
			return
		}
		job := func() {
			ctx, cancel := context.WithTimeout(baseCtx, t.cfg.HandlerTimeout)
			defer cancel()
			result, err := handler.HandleCommand(ctx, cmd)
			t.reply(conn, self, env.Sender, env.CorrelationID, commandResponse(result, err))
		}
		if err := pool.TrySubmit(job); err != nil {
			logger.Warnw("Command rejected", "function", cmd.Function, "sender", env.Sender.String(), "error", err.Error())
			t.reply(conn, self, env.Sender, env.CorrelationID, domain.Failure(errBusy))
		}

	default:
		t.trace(env, "")
		t.reply(conn, self, env.Sender, env.CorrelationID, domain.Failure(domain.ErrUnknownKind))
	}
}

func (t *Transport) trace(env domain.Envelope, function string) {
	if !t.cfg.Verbose {
		return
	}
	if function == "" {
		function = string(env.Kind)
	}
	logger.Infow("Inbound envelope",
		"sender", env.Sender.ID,
		"correlationId", env.CorrelationID,
		"function", function)
}

func (t *Transport) drop(reason string, err error) {
	telemetry.DroppedTotal.WithLabelValues(reason).Inc()
	if err != nil {
		logger.Debugw("Datagram dropped", "reason", reason, "error", err.Error())
		return
	}
	logger.Debugw("Datagram dropped", "reason", reason)
}

func commandResponse(result any, err error) domain.Response {
	if err != nil {
		return domain.Failure(err)
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return domain.Failure(fmt.Errorf("%w: %v", domain.ErrSerialization, err))
	}
	return domain.Response{OK: true, Result: raw}
}

// sameEndpoint compares a descriptor address with a socket address. An
// unspecified ip matches any host on the same port.
func sameEndpoint(address string, port int, ip net.IP, p int) bool {
	if port != p || ip == nil {
		return false
	}
	if ip.IsUnspecified() {
		return true
	}
	other := net.ParseIP(address)
	if other == nil {
		return false
	}
	return ip.Equal(other)
}
