// Package server exposes PTZ controllers over HTTP and streams their
// events to websocket subscribers.
package server

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/SridarDhandapani/onvif"
	"github.com/SridarDhandapani/onvif/config"
)

// Server owns one controller per configured camera
type Server struct {
	cfg         *config.Config
	logger      zerolog.Logger
	hub         *Hub
	controllers map[string]*onvif.Controller
	engine      *gin.Engine
	httpServer  *http.Server
}

// New creates a server and starts initializing a controller for every
// configured camera.
func New(cfg *config.Config, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		logger:      logger,
		hub:         NewHub(logger.With().Str("component", "hub").Logger()),
		controllers: make(map[string]*onvif.Controller, len(cfg.Cameras)),
	}

	sink := onvif.MultiSink{onvif.LogSink{Logger: logger.With().Str("component", "events").Logger()}, s.hub}
	for _, cam := range cfg.Cameras {
		s.controllers[cam.Name] = onvif.NewController(cam.Address(),
			onvif.WithSink(sink),
			onvif.WithLogger(logger.With().Str("camera", cam.Name).Logger()),
			onvif.WithStopDelay(cfg.PTZ.StopDelay),
			onvif.WithTimeout(cfg.PTZ.Timeout),
		)
	}

	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Hub returns the event hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Controller returns the controller for the named camera
func (s *Server) Controller(name string) (*onvif.Controller, bool) {
	c, ok := s.controllers[name]
	return c, ok
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/ws", gin.WrapF(s.hub.ServeWS))

	api := s.engine.Group("/api/cameras")
	api.GET("", s.handleListCameras)
	api.GET("/:name", s.handleGetCamera)
	api.GET("/:name/info", s.handleDeviceInfo)
	api.GET("/:name/stream", s.handleStream)
	api.POST("/:name/move/:direction", s.handleMove)
	api.POST("/:name/stop", s.handleStop)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	}
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("listen", s.cfg.Server.Listen).Msg("PTZ control server starting")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- errors.Annotate(err, "listen")
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			s.closeControllers()
			return err
		}
	}
	return s.Shutdown()
}

// Shutdown stops the HTTP server, the event hub and every controller
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)

	s.hub.Close()
	s.closeControllers()
	return errors.Trace(err)
}

func (s *Server) closeControllers() {
	for _, c := range s.controllers {
		c.Close()
	}
}

func (s *Server) cameraNames() []string {
	names := make([]string, 0, len(s.controllers))
	for name := range s.controllers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
