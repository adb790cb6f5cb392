// Package control exposes the Decision Engine's host-facing lifecycle
// operations over HTTP: start, stop, liquidate_all, set_param, and
// status (spec.md section 6). Grounded on internal/signal/server.go's
// fiber wiring, generalized from a single POST /signal endpoint into a
// small control-plane route table.
package control

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// Engine is the subset of engine.Engine's surface this package calls.
type Engine interface {
	Start(mode EngineMode)
	Stop()
	LiquidateAll()
	SetParam(name string, value float64) error
	Status() EngineStatus
}

// EngineMode and EngineStatus mirror engine.Mode/engine.Status without
// importing internal/engine, keeping this package wireable against a
// fake in tests.
type EngineMode int

const (
	ModeSim EngineMode = iota
	ModeReal
)

type EngineStatus struct {
	Running          bool
	Mode             string
	UptimeSeconds    float64
	OpenPositions    int
	AvailableCapital float64
	Params           map[string]float64
}

// Server is the control-plane HTTP server.
type Server struct {
	app    *fiber.App
	engine Engine
	host   string
	port   int
}

// NewServer constructs a Server bound to host:port, routing every
// operation to engine.
func NewServer(host string, port int, engine Engine) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          5 * time.Second,
	})

	s := &Server{app: app, engine: engine, host: host, port: port}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "time": time.Now().Unix()})
	})

	s.app.Get("/status", s.handleStatus)
	s.app.Post("/control/start", s.handleStart)
	s.app.Post("/control/stop", s.handleStop)
	s.app.Post("/control/liquidate-all", s.handleLiquidateAll)
	s.app.Post("/control/param", s.handleSetParam)
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.engine.Status())
}

type startRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleStart(c *fiber.Ctx) error {
	var req startRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid payload"})
	}

	mode := ModeSim
	if req.Mode == "REAL" {
		mode = ModeReal
	}

	s.engine.Start(mode)
	log.Info().Str("mode", req.Mode).Msg("engine started via control server")
	return c.JSON(fiber.Map{"status": "started"})
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	s.engine.Stop()
	log.Info().Msg("engine stopped via control server")
	return c.JSON(fiber.Map{"status": "stopped"})
}

func (s *Server) handleLiquidateAll(c *fiber.Ctx) error {
	s.engine.LiquidateAll()
	log.Warn().Msg("forced liquidation requested via control server")
	return c.JSON(fiber.Map{"status": "liquidated"})
}

type setParamRequest struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func (s *Server) handleSetParam(c *fiber.Ctx) error {
	var req setParamRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid payload"})
	}

	if err := s.engine.SetParam(req.Name, req.Value); err != nil {
		log.Warn().Err(err).Str("param", req.Name).Msg("rejected param write")
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{"status": "ok"})
}

// Start runs the HTTP server, blocking until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	log.Info().Str("addr", addr).Msg("starting control server")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
