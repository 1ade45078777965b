package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gazobot/gazobot/gazodb"

	"github.com/flosch/pongo2/v6"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

type Config struct {
	Bind string
	// Debug reads templates from TemplateDir on every request.
	Debug       bool
	TemplateDir string
	// Registerer and Gatherer default to the prometheus globals.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Logger     *slog.Logger
}

// Server is the moderation web UI.
type Server struct {
	echo   *echo.Echo
	httpd  *http.Server
	ds     *gazodb.Dataset
	logger *slog.Logger
}

func NewServer(ds *gazodb.Dataset, cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.TemplateDir == "" {
		cfg.TemplateDir = "viewer/templates"
	}

	renderer, err := NewRenderer(cfg.TemplateDir, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}

	e := echo.New()

	// httpd
	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)

	srv := &Server{
		echo:   e,
		ds:     ds,
		logger: cfg.Logger.With("system", "viewer"),
	}
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           cfg.Bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.HideBanner = true
	e.Use(slogecho.New(srv.logger))
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("gazobot-viewer"))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "gazobot_viewer",
		Registerer: cfg.Registerer,
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.HTTPErrorHandler = srv.errorHandler
	e.Renderer = renderer
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	}))
	e.Use(middleware.RemoveTrailingSlashWithConfig(middleware.TrailingSlashConfig{
		RedirectCode: http.StatusFound,
	}))

	e.GET("/_health", srv.HandleHealthCheck)
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: cfg.Gatherer}))

	e.GET("/", srv.WebHome)
	e.GET("/images/unchecked", srv.WebUnchecked)
	e.GET("/images/all", srv.WebAll)
	e.GET("/history", srv.WebHistory)
	e.GET("/blobs/:filename", srv.HandleBlob)

	e.POST("/register", srv.HandleRegister)
	e.GET("/register/all_ok", srv.HandleRegisterAllOK)
	e.POST("/register/all_ok", srv.HandleRegisterAllOK)

	return srv, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (srv *Server) Run(ctx context.Context) error {
	srv.logger.Info("starting server", "bind", srv.httpd.Addr)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server shutting down unexpectedly: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	if err := srv.Shutdown(); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	srv.logger.Info("graceful shutdown complete")
	return nil
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	var errorMessage string
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		errorMessage = fmt.Sprintf("%s", he.Message)
	}
	if code >= 500 {
		srv.logger.Warn("viewer-http-internal-error", "err", err)
	}
	if c.Response().Committed {
		return
	}
	if strings.HasPrefix(c.Request().URL.Path, "/register") {
		c.JSON(code, map[string]any{"success": false, "error": errorMessage})
		return
	}
	data := pongo2.Context{
		"statusCode":   code,
		"errorMessage": errorMessage,
	}
	if rerr := c.Render(code, "error.html", data); rerr != nil {
		srv.logger.Error("failed to render error page", "err", rerr)
	}
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

func (srv *Server) Shutdown() error {
	srv.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.httpd.Shutdown(ctx)
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	if err := srv.ds.DB.WithContext(c.Request().Context()).Exec("SELECT 1").Error; err != nil {
		srv.logger.Error("healthcheck can't connect to database", "err", err)
		return c.JSON(http.StatusServiceUnavailable, GenericStatus{Status: "error", Daemon: "gazobot-viewer", Message: "can't connect to database"})
	}
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "gazobot-viewer"})
}
