package http_handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	sdklogger "github.com/anthanhphan/gosdk/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/anthanhphan/go-chord/internal/node/domain"
	"github.com/anthanhphan/go-chord/internal/node/port"
	"github.com/anthanhphan/go-chord/internal/telemetry"
	"github.com/anthanhphan/go-chord/pkg/ring"
)

// Server exposes the operator surface of a ring node over HTTP.
type Server struct {
	app         *fiber.App
	addr        string
	service     port.RingService
	onTerminate func()
}

type nodeRequest struct {
	Node string `json:"node"`
	Text string `json:"text,omitempty"`
}

func NewServer(addr string, service port.RingService, onTerminate func()) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	s := &Server{
		app:         app,
		addr:        addr,
		service:     service,
		onTerminate: onTerminate,
	}

	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	s.app.Get("/info", s.handleInfo)
	s.app.Get("/successor", s.handleSuccessor)
	s.app.Get("/predecessor", s.handlePredecessor)
	s.app.Get("/finger", s.handleFinger)
	s.app.Get("/lookup", s.handleLookup)
	s.app.Get("/range", s.handleRange)
	s.app.Get("/pending", s.handlePending)
	s.app.Get("/metrics", adaptor.HTTPHandler(telemetry.MetricsHandler()))

	s.app.Post("/stabilize", s.handleStabilize)
	s.app.Post("/fix", s.handleFix)
	s.app.Post("/loop/start", s.handleLoopStart)
	s.app.Post("/loop/stop", s.handleLoopStop)
	s.app.Post("/flush", s.handleFlush)
	s.app.Post("/ping", s.handlePing)
	s.app.Post("/message", s.handleMessage)
	s.app.Post("/terminate", s.handleTerminate)
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Start() error {
	return s.app.Listen(s.addr)
}

func (s *Server) Stop(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) sendJSONError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}

// optionalNode reads a node reference from query key. Missing means local.
func optionalNode(c *fiber.Ctx, key string) (ring.Node, error) {
	ref := c.Query(key)
	if ref == "" {
		return ring.Node{}, nil
	}
	return ring.ParseNode(ref)
}

func queryID(c *fiber.Ctx) (int, bool, error) {
	raw := c.Query("id")
	if raw == "" {
		return 0, false, nil
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id < 0 || id >= ring.Size {
		return 0, true, fmt.Errorf("id must be an integer in [0, %d)", ring.Size)
	}
	return id, true, nil
}

func lookupStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNullExecuter):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrTimeout):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusBadGateway
	}
}

func (s *Server) handleInfo(c *fiber.Ctx) error {
	node, err := optionalNode(c, "node")
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, err.Error())
	}
	info, err := s.service.GetInfo(c.UserContext(), node)
	if err != nil {
		return s.sendJSONError(c, lookupStatus(err), fmt.Sprintf("Info request failed: %v", err))
	}
	return c.JSON(info)
}

func (s *Server) handleSuccessor(c *fiber.Ctx) error {
	id, ok, err := queryID(c)
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, err.Error())
	}
	via, err := optionalNode(c, "via")
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, err.Error())
	}
	if !ok {
		return c.JSON(s.service.GetSuccessor(c.UserContext(), via))
	}

	node, err := s.service.FindSuccessor(c.UserContext(), id, via)
	if err != nil {
		sdklogger.Warnw("Successor lookup failed", "id", id, "error", err.Error())
		return s.sendJSONError(c, lookupStatus(err), fmt.Sprintf("Lookup failed: %v", err))
	}
	return c.JSON(node)
}

func (s *Server) handlePredecessor(c *fiber.Ctx) error {
	id, ok, err := queryID(c)
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, err.Error())
	}
	via, err := optionalNode(c, "via")
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, err.Error())
	}
	if !ok {
		return c.JSON(s.service.GetPredecessor(c.UserContext(), via))
	}

	node, err := s.service.FindPredecessor(c.UserContext(), id, via)
	if err != nil {
		sdklogger.Warnw("Predecessor lookup failed", "id", id, "error", err.Error())
		return s.sendJSONError(c, lookupStatus(err), fmt.Sprintf("Lookup failed: %v", err))
	}
	return c.JSON(node)
}

func (s *Server) handleFinger(c *fiber.Ctx) error {
	id, ok, err := queryID(c)
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, err.Error())
	}
	if !ok {
		return s.sendJSONError(c, fiber.StatusBadRequest, "Missing 'id' query parameter")
	}
	return c.JSON(s.service.ClosestPrecedingFinger(id))
}

func (s *Server) handleLookup(c *fiber.Ctx) error {
	key := c.Query("key")
	if key == "" {
		return s.sendJSONError(c, fiber.StatusBadRequest, "Missing 'key' query parameter")
	}

	id := ring.HashID(key)
	node, err := s.service.FindSuccessor(c.UserContext(), id, ring.Node{})
	if err != nil {
		return s.sendJSONError(c, lookupStatus(err), fmt.Sprintf("Lookup failed: %v", err))
	}
	return c.JSON(fiber.Map{
		"key":  key,
		"id":   id,
		"node": node,
	})
}

func (s *Server) handleRange(c *fiber.Ctx) error {
	values := make(map[string]int, 3)
	for _, key := range []string{"x", "start", "end"} {
		v, err := strconv.Atoi(c.Query(key))
		if err != nil {
			return s.sendJSONError(c, fiber.StatusBadRequest, fmt.Sprintf("'%s' must be an integer", key))
		}
		values[key] = v
	}

	modeRaw := c.Query("mode", string(ring.None))
	mode, err := ring.ParseMode(modeRaw)
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, err.Error())
	}

	return c.JSON(fiber.Map{
		"inRange": ring.InRange(values["x"], values["start"], values["end"], mode),
	})
}

func (s *Server) handlePending(c *fiber.Ctx) error {
	pending := s.service.Pending()
	return c.JSON(fiber.Map{
		"count":   len(pending),
		"pending": pending,
	})
}

func (s *Server) handleStabilize(c *fiber.Ctx) error {
	s.service.Stabilize(c.UserContext())
	return c.JSON(s.service.Info())
}

func (s *Server) handleFix(c *fiber.Ctx) error {
	raw := c.Query("index")
	if raw == "" {
		s.service.FixFingers(c.UserContext())
		return c.JSON(s.service.Info())
	}

	index, err := strconv.Atoi(raw)
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, "'index' must be an integer")
	}
	if err := s.service.FixFinger(c.UserContext(), index); err != nil {
		if errors.Is(err, domain.ErrFingerIndex) {
			return s.sendJSONError(c, fiber.StatusBadRequest, err.Error())
		}
		return s.sendJSONError(c, lookupStatus(err), fmt.Sprintf("Fix finger failed: %v", err))
	}
	return c.JSON(s.service.Info())
}

func (s *Server) handleLoopStart(c *fiber.Ctx) error {
	s.service.StartLoop()
	return c.JSON(fiber.Map{"running": s.service.LoopRunning()})
}

func (s *Server) handleLoopStop(c *fiber.Ctx) error {
	s.service.EndLoop()
	return c.JSON(fiber.Map{"running": s.service.LoopRunning()})
}

func (s *Server) handleFlush(c *fiber.Ctx) error {
	s.service.Flush()
	return c.JSON(fiber.Map{"count": len(s.service.Pending())})
}

func (s *Server) parseNodeRequest(c *fiber.Ctx) (nodeRequest, ring.Node, error) {
	var req nodeRequest
	if err := c.BodyParser(&req); err != nil {
		return req, ring.Node{}, fmt.Errorf("invalid body: %w", err)
	}
	node, err := ring.ParseNode(req.Node)
	if err != nil {
		return req, ring.Node{}, err
	}
	return req, node, nil
}

func (s *Server) handlePing(c *fiber.Ctx) error {
	_, target, err := s.parseNodeRequest(c)
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, err.Error())
	}

	start := time.Now()
	if err := s.service.Ping(c.UserContext(), target); err != nil {
		return s.sendJSONError(c, lookupStatus(err), fmt.Sprintf("Ping failed: %v", err))
	}
	return c.JSON(fiber.Map{
		"ok":        true,
		"elapsedMs": time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleMessage(c *fiber.Ctx) error {
	req, target, err := s.parseNodeRequest(c)
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, err.Error())
	}
	if req.Text == "" {
		return s.sendJSONError(c, fiber.StatusBadRequest, "Missing 'text'")
	}

	if err := s.service.Message(c.UserContext(), target, req.Text); err != nil {
		return s.sendJSONError(c, lookupStatus(err), fmt.Sprintf("Message failed: %v", err))
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (s *Server) handleTerminate(c *fiber.Ctx) error {
	if err := s.service.Terminate(c.UserContext()); err != nil {
		sdklogger.Errorw("Terminate failed", "error", err.Error())
		return s.sendJSONError(c, fiber.StatusInternalServerError, fmt.Sprintf("Terminate failed: %v", err))
	}
	if s.onTerminate != nil {
		s.onTerminate()
	}
	return c.JSON(fiber.Map{"terminated": true})
}
