package api

import (
	"context"
	"io"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/pjgq/relay/pkg/auth"
	"github.com/pjgq/relay/pkg/storage"
	"github.com/pjgq/relay/pkg/upstream"
	"github.com/pjgq/relay/pkg/worker"
)

// StreamOpener opens a streaming chat exchange against the upstream API.
// *upstream.Client satisfies it; tests substitute fakes.
type StreamOpener interface {
	OpenStream(ctx context.Context, req *upstream.ChatRequest) (io.ReadCloser, error)
}

// Server is the HTTP server for the relay.
type Server struct {
	config Config
	store  storage.Store
	tokens *auth.TokenIssuer
	opener StreamOpener
	pool   *worker.Pool
	logger *zap.Logger
	app    *fiber.App

	// streamSlot serializes streaming: at most one pipeline runs at a
	// time, concurrent stream requests queue on it.
	streamSlot chan struct{}
}

// NewServer creates a new relay server.
// The store and worker pool are injected to allow sharing with other components.
func NewServer(config Config, store storage.Store, tokens *auth.TokenIssuer, opener StreamOpener, pool *worker.Pool, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:     config,
		store:      store,
		tokens:     tokens,
		opener:     opener,
		pool:       pool,
		logger:     logger,
		app:        app,
		streamSlot: make(chan struct{}, 1),
	}

	app.Use(s.logRequests)

	app.Get("/", s.handleRoot)
	app.Post("/register", s.handleRegister)
	app.Post("/login", s.handleLogin)

	app.Get("/protected", s.requireAuth, s.handleProtected)
	app.Put("/health-data", s.requireAuth, s.handlePutHealthData)
	app.Get("/health-data", s.requireAuth, s.handleGetHealthData)
	app.Get("/conversation-history", s.requireAuth, s.handleGetHistory)
	app.Delete("/conversation-history", s.requireAuth, s.handleClearHistory)
	app.Post("/stream", s.requireAuth, s.handleStream)

	return s
}

// Run starts the server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting relay server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
