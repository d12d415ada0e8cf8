package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/printfarm/enclosure-cam/internal/api/middleware"
	"github.com/printfarm/enclosure-cam/internal/enclosure"
	"github.com/printfarm/enclosure-cam/internal/logger"
	"github.com/printfarm/enclosure-cam/internal/orchestrator"
)

// StatusSource exposes the capture loop state the API reports.
type StatusSource interface {
	Snapshot() []orchestrator.EnclosureStatus
	Enclosures() []*enclosure.Enclosure
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status        string    `json:"status"`
	Version       string    `json:"version,omitempty"`
	Uptime        string    `json:"uptime"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	Enclosures    int       `json:"enclosures"`
	Cameras       int       `json:"cameras"`
	Timestamp     time.Time `json:"timestamp"`
}

// LightResponse is the body of a light toggle.
type LightResponse struct {
	Enclosure      string `json:"enclosure"`
	State          string `json:"state"`
	ManualOverride bool   `json:"manual_override"`
}

// ErrorResponse is the body of every non-2xx API answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server is the HTTP server of the status API.
type Server struct {
	echo      *echo.Echo
	config    *Config
	source    StatusSource
	metrics   http.Handler
	version   string
	log       logger.Logger
	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithMetrics serves h on /metrics.
func WithMetrics(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithVersion sets the version reported by the health endpoint.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// WithLogger sets the logger for the server.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// New creates a server reporting the state of src.
func New(config *Config, src StatusSource, opts ...ServerOption) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	s := &Server{
		config:    config,
		source:    src,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = GetLogger()
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = config.Debug
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout
	s.echo.HTTPErrorHandler = s.errorHandler

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware must be first
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewRequestLogger(s.log))

	s.echo.Use(mw.CORS(s.config.AllowedOrigins))
	s.echo.Use(mw.BodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.SecureHeaders())
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	v1 := s.echo.Group("/api/v1")
	v1.GET("/health", s.healthCheck)
	v1.GET("/enclosures", s.listEnclosures)
	v1.GET("/enclosures/:name", s.getEnclosure)
	v1.POST("/enclosures/:name/light/toggle", s.toggleLight)

	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}
}

func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	encs := s.source.Enclosures()
	return c.JSON(http.StatusOK, HealthResponse{
		Status:        "healthy",
		Version:       s.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		Enclosures:    len(encs),
		Cameras:       enclosure.CameraCount(encs),
		Timestamp:     time.Now(),
	})
}

func (s *Server) listEnclosures(c echo.Context) error {
	return c.JSON(http.StatusOK, s.source.Snapshot())
}

func (s *Server) getEnclosure(c echo.Context) error {
	name := c.Param("name")
	for _, st := range s.source.Snapshot() {
		if st.Name == name {
			return c.JSON(http.StatusOK, st)
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("enclosure %q not found", name))
}

// toggleLight acts as a software button press. It goes through the same
// debounced edge path as the physical button.
func (s *Server) toggleLight(c echo.Context) error {
	name := c.Param("name")
	enc := enclosure.Find(s.source.Enclosures(), name)
	if enc == nil {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("enclosure %q not found", name))
	}
	if enc.Light == nil || !enc.Light.Enabled() {
		return echo.NewHTTPError(http.StatusConflict, fmt.Sprintf("light control is not enabled for enclosure %q", name))
	}

	enc.Light.OnButtonEdge()
	s.log.Info("light toggled over API", logger.String("enclosure", name), logger.String("ip", c.RealIP()))

	return c.JSON(http.StatusOK, LightResponse{
		Enclosure:      name,
		State:          enc.Light.State().String(),
		ManualOverride: enc.Light.ManualOverride(),
	})
}

// errorHandler renders every error as an ErrorResponse.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	} else {
		s.log.Error("unhandled API error", logger.Error(err))
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, ErrorResponse{Error: msg})
	}
	if err != nil {
		s.log.Debug("failed to write error response", logger.Error(err))
	}
}

// Run serves until ctx is done, then shuts down gracefully. It returns nil
// after a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.echo.Listener = ln
	s.log.Info("HTTP server starting", logger.String("address", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start("")
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}
	<-errCh
	s.log.Info("HTTP server stopped")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
