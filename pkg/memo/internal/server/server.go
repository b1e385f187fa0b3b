// Package server exposes the engine over HTTP: health, status and history for diagnostics, plus an
// ingest route for producers running out of process.
package server

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/open-xiv/memo-uploader/pkg/memo/duty"
	"github.com/open-xiv/memo-uploader/pkg/memo/event"
	"github.com/open-xiv/memo-uploader/pkg/memo/internal/history"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

const (
	DefaultAddress  = "127.0.0.1:4399"
	shutdownTimeout = 5 * time.Second
	maxHistoryLimit = 10_000
)

// Backend is the engine as seen by the HTTP routes.
type Backend interface {
	Stage() string
	Status() any
	History(limit int) []history.Entry
	PostEvent(e event.Event) bool
}

type Options struct {
	Address string
	Backend Backend
	Logger  zerolog.Logger
}

type Server struct {
	app     *fiber.App
	address string
	backend Backend
	log     zerolog.Logger
}

func New(opts Options) (*Server, error) {
	if opts.Backend == nil {
		return nil, eris.New("server requires a non-nil backend")
	}
	if opts.Address == "" {
		opts.Address = DefaultAddress
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler:          errorHandler,
	})

	s := &Server{
		app:     app,
		address: opts.Address,
		backend: opts.Backend,
		log:     opts.Logger,
	}
	s.setupRoutes()
	return s, nil
}

// App returns the underlying fiber app, for tests.
func (s *Server) App() *fiber.App { return s.app }

// Serve listens until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		s.log.Info().Str("address", s.address).Msg("starting HTTP server")
		if err := s.app.Listen(s.address); err != nil {
			serverErr <- eris.Wrap(err, "error starting http server")
		}
	}()

	select {
	case err := <-serverErr:
		return eris.Wrap(err, "server encountered an error")
	case <-ctx.Done():
		s.log.Info().Msg("shutting down HTTP server")
		if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			return eris.Wrap(err, "error shutting down server")
		}
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.getHealth)
	s.app.Get("/status", s.getStatus)
	s.app.Get("/history", s.getHistory)
	s.app.Post("/events", s.postEvents)
	s.app.Get("/schema/duty", getDutySchema)
}

type healthResponse struct {
	OK    bool   `json:"ok"`
	Stage string `json:"stage"`
}

func (s *Server) getHealth(c *fiber.Ctx) error {
	return c.JSON(healthResponse{OK: true, Stage: s.backend.Stage()})
}

func (s *Server) getStatus(c *fiber.Ctx) error {
	return c.JSON(s.backend.Status())
}

func (s *Server) getHistory(c *fiber.Ctx) error {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return fiber.NewError(fiber.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = min(n, maxHistoryLimit)
	}
	return c.JSON(s.backend.History(limit))
}

type postEventsResponse struct {
	Accepted int `json:"accepted"`
	Dropped  int `json:"dropped"`
}

func (s *Server) postEvents(c *fiber.Ctx) error {
	events, err := event.Decode(c.Body())
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid event payload: "+err.Error())
	}

	var res postEventsResponse
	for _, e := range events {
		if s.backend.PostEvent(e) {
			res.Accepted++
		} else {
			res.Dropped++
		}
	}
	return c.Status(fiber.StatusAccepted).JSON(res)
}

func getDutySchema(c *fiber.Ctx) error {
	schema, err := duty.SchemaJSON()
	if err != nil {
		return eris.Wrap(err, "failed to build duty schema")
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(schema)
}

type errorResponse struct {
	Error string `json:"error"`
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(errorResponse{Error: err.Error()})
}
