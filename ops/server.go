// Package ops serves liveness, readiness and counters over HTTP.
package ops

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Status reports bot state that is not a dependency ping.
type Status interface {
	// GatewayReady reports whether the Discord gateway session is up.
	GatewayReady() bool
	PendingPrompts() int
}

type Server struct {
	app      *fiber.App
	deps     map[string]Pinger
	status   Status
	counters *Counters
	logger   *zap.Logger
}

func NewServer(deps map[string]Pinger, status Status, counters *Counters, logger *zap.Logger) *Server {
	s := &Server{
		app:      fiber.New(fiber.Config{DisableStartupMessage: true}),
		deps:     deps,
		status:   status,
		counters: counters,
		logger:   logger.Named("ops"),
	}
	s.app.Get("/health/live", s.live)
	s.app.Get("/health/ready", s.ready)
	s.app.Get("/metrics", s.metrics)
	return s
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

// Start listens on addr in the background.
func (s *Server) Start(addr string) {
	go func() {
		if err := s.app.Listen(addr); err != nil {
			s.logger.Error("ops listen", zap.String("addr", addr), zap.Error(err))
		}
	}()
	s.logger.Info("ops server listening", zap.String("addr", addr))
}

func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(5 * time.Second)
}

func (s *Server) live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "alive"})
}

func (s *Server) ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	depStatus := fiber.Map{}
	ready := true
	for name, dep := range s.deps {
		if err := dep.Ping(ctx); err != nil {
			depStatus[name] = err.Error()
			ready = false
			continue
		}
		depStatus[name] = "ok"
	}
	if s.status != nil {
		if s.status.GatewayReady() {
			depStatus["gateway"] = "ok"
		} else {
			depStatus["gateway"] = "disconnected"
			ready = false
		}
	}

	if ready {
		return c.JSON(fiber.Map{
			"status":       "ready",
			"dependencies": depStatus,
		})
	}
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "DEPENDENCY_UNAVAILABLE",
			"message": "one or more dependencies unavailable",
			"details": depStatus,
		},
	})
}

func (s *Server) metrics(c *fiber.Ctx) error {
	body := fiber.Map{"counters": s.counters.Snapshot()}
	if s.status != nil {
		body["pending_prompts"] = s.status.PendingPrompts()
	}
	return c.JSON(body)
}
