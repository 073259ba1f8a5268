package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/anthanhphan/gosdk/logger"

	httpHandler "github.com/anthanhphan/go-chord/internal/node/adapter/inbound/http"
	"github.com/anthanhphan/go-chord/internal/node/adapter/inbound/udp"
	"github.com/anthanhphan/go-chord/internal/node/adapter/outbound/registry"
	"github.com/anthanhphan/go-chord/internal/node/config"
	"github.com/anthanhphan/go-chord/internal/node/port"
	"github.com/anthanhphan/go-chord/internal/node/service"
	"github.com/anthanhphan/go-chord/pkg/gossip"
	"github.com/anthanhphan/go-chord/pkg/ring"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	cfg       *config.Config
	transport *udp.Transport
	node      *service.Node
	discovery port.ContactSource
	server    *httpHandler.Server

	terminated chan struct{}
	once       sync.Once
}

func New(configPath string) (*App, error) {
	// 1. Load Config
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Initialize Logger
	logger.InitLogger(&cfg.Logger)

	// 3. Bind the ring endpoint
	transport := udp.NewTransport(udp.Config{
		Address:   cfg.Server.Address,
		Port:      cfg.Server.Port,
		Verbose:   cfg.Server.Verbose,
		Workers:   cfg.Maintenance.Workers,
		QueueSize: cfg.Maintenance.QueueSize,
	})
	address, boundPort, err := transport.Bind(context.Background())
	if err != nil {
		return nil, err
	}

	// 4. Protocol engine
	a := &App{
		cfg:        cfg,
		transport:  transport,
		terminated: make(chan struct{}),
	}
	node, err := service.NewNode(cfg.NodeID(address, boundPort), transport, service.Options{
		Interval:           cfg.Maintenance.Interval(),
		PingTimeout:        cfg.Maintenance.PingTimeout(),
		MessageTimeout:     cfg.Maintenance.MessageTimeout(),
		ExecuteTimeout:     cfg.Maintenance.ExecuteTimeout(),
		EagerFingerUpdates: cfg.Maintenance.EagerFingerUpdates,
	})
	if err != nil {
		_ = transport.Unbind(context.Background())
		return nil, fmt.Errorf("failed to create node: %w", err)
	}
	a.node = node

	// 5. Contact discovery
	discovery, err := newDiscovery(cfg, node.Self())
	if err != nil {
		_ = transport.Unbind(context.Background())
		return nil, err
	}
	a.discovery = discovery

	// 6. Admin HTTP
	if cfg.Admin.Enabled {
		a.server = httpHandler.NewServer(cfg.Admin.Addr, node, a.markTerminated)
	}

	return a, nil
}

func newDiscovery(cfg *config.Config, self ring.Node) (port.ContactSource, error) {
	switch cfg.Discovery.Mode {
	case config.DiscoveryGossip:
		d, err := gossip.NewDiscovery(self, cfg.Server.Address, cfg.Discovery.Gossip.Port)
		if err != nil {
			return nil, err
		}
		if err := d.Join(cfg.Discovery.Gossip.Seeds); err != nil {
			logger.Warnw("Gossip seeds unreachable, continuing alone", "error", err.Error())
		}
		return d, nil
	case config.DiscoveryRedis:
		r := registry.NewRedisRegistry(registry.Config{
			Addr:     cfg.Discovery.Redis.Addr,
			Password: cfg.Discovery.Redis.Password,
			DB:       cfg.Discovery.Redis.DB,
			Prefix:   cfg.Discovery.Redis.Prefix,
			TTL:      cfg.Discovery.Redis.TTL(),
		}, self)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.Register(ctx); err != nil {
			_ = r.Close()
			return nil, err
		}
		return r, nil
	default:
		return nil, nil
	}
}

// contacts lists join candidates: the configured contact first, then
// whatever discovery knows about.
func (a *App) contacts(ctx context.Context) []ring.Node {
	var out []ring.Node
	if a.cfg.Contact != "" {
		if c, err := ring.ParseNode(a.cfg.Contact); err == nil {
			out = append(out, c)
		}
	}
	if a.discovery == nil {
		return out
	}
	found, err := a.discovery.Contacts(ctx)
	if err != nil {
		logger.Warnw("Contact discovery failed", "error", err.Error())
		return out
	}
	return append(out, found...)
}

func (a *App) join(ctx context.Context) error {
	retries := a.cfg.Maintenance.JoinRetries
	if retries < 1 {
		retries = 1
	}

	for attempt := 1; attempt <= retries; attempt++ {
		for _, contact := range a.contacts(ctx) {
			if contact.Same(a.node.Self()) {
				continue
			}
			err := a.node.Join(ctx, contact)
			if err == nil {
				return nil
			}
			logger.Warnw("Join attempt failed", "attempt", attempt, "contact", contact.String(), "error", err.Error())
		}
		if attempt < retries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.cfg.Maintenance.Interval()):
			}
		}
	}

	logger.Info("No contact reachable, starting a new ring")
	return a.node.Join(ctx, ring.Node{})
}

func (a *App) markTerminated() {
	a.once.Do(func() { close(a.terminated) })
}

func (a *App) Run() error {
	if err := a.join(context.Background()); err != nil {
		return fmt.Errorf("failed to join ring: %w", err)
	}
	self := a.node.Self()
	logger.Infow("Ring node running", "id", self.ID, "address", self.Address, "port", self.Port)

	// Start HTTP
	serverErrCh := make(chan error, 1)
	if a.server != nil {
		logger.Infow("Admin server starting", "addr", a.cfg.Admin.Addr)
		go func() {
			if err := a.server.Start(); err != nil {
				serverErrCh <- err
			}
		}()
	}

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	var runErr error
	select {
	case sig := <-stop:
		logger.Infow("Shutdown signal received", "signal", sig.String())
	case <-a.terminated:
		logger.Info("Terminate requested")
	case err := <-serverErrCh:
		runErr = fmt.Errorf("admin server failed: %w", err)
		logger.Errorw("Admin server exited unexpectedly", "error", err.Error())
	}

	return errors.Join(runErr, a.shutdown())
}

func (a *App) shutdown() error {
	logger.Info("Shutting down ring node")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	a.node.EndLoop()
	if a.discovery != nil {
		if err := a.discovery.Close(); err != nil {
			logger.Errorw("Discovery shutdown error", "error", err.Error())
			errs = append(errs, err)
		}
	}
	if a.server != nil {
		if err := a.server.Stop(ctx); err != nil {
			logger.Errorw("Admin shutdown error", "error", err.Error())
			errs = append(errs, err)
		}
	}
	if err := a.node.Terminate(ctx); err != nil {
		logger.Errorw("Node shutdown error", "error", err.Error())
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
