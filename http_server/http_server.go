package http_server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/danthegoodman1/usedcars/gologger"
	"github.com/danthegoodman1/usedcars/models"
	"github.com/danthegoodman1/usedcars/utils"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
)

var logger = gologger.NewComponentLogger("http")

type (
	// Committer ends the transaction the handlers' statements ran in. *crdb.Conn implements it.
	Committer interface {
		Commit(ctx context.Context) error
		Rollback(ctx context.Context) error
	}

	HTTPServer struct {
		Echo *echo.Echo

		tables *models.Tables
		tx     Committer
		// the tables share one connection, so requests touching the store are serialized
		dbMu sync.Mutex
	}

	CustomValidator struct {
		validator *validator.Validate
	}
)

// NewHTTPServer registers the routes without listening; see Start.
func NewHTTPServer(tables *models.Tables, tx Committer) *HTTPServer {
	s := &HTTPServer{
		Echo:   echo.New(),
		tables: tables,
		tx:     tx,
	}
	s.Echo.HideBanner = true
	s.Echo.HidePort = true
	s.Echo.JSONSerializer = &utils.NoEscapeJSONSerializer{}

	s.Echo.Use(CreateReqContext)
	s.Echo.Use(LoggerMiddleware)
	s.Echo.Use(middleware.CORS())
	s.Echo.Validator = &CustomValidator{validator: validator.New()}

	// technical - no auth
	s.Echo.GET("/hc", s.HealthCheck)

	sites := s.Echo.Group("/sites")
	sites.GET("", ccHandler(s.ListSites))
	sites.POST("", ccHandler(s.CreateSite))
	sites.GET("/:id", ccHandler(s.GetSite))
	sites.PATCH("/:id", ccHandler(s.UpdateSite))

	listings := s.Echo.Group("/listings")
	listings.GET("/export.parquet", ccHandler(s.ExportListings))
	listings.GET("/:id", ccHandler(s.GetListing))

	return s
}

// Start serves h2c on HTTP_PORT in the background.
func (s *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%s", utils.HTTP_PORT))
	if err != nil {
		return fmt.Errorf("error creating tcp listener: %w", err)
	}
	s.Echo.Listener = listener
	go func() {
		logger.Info().Msg("starting h2c server on " + listener.Addr().String())
		err := s.Echo.StartH2CServer("", &http2.Server{})
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start h2c server, exiting")
		}
	}()
	return nil
}

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func ValidateRequest(c echo.Context, s interface{}) error {
	if err := c.Bind(s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(s); err != nil {
		return err
	}
	return nil
}

func (*HTTPServer) HealthCheck(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	err := s.Echo.Shutdown(ctx)
	return err
}

// withDB runs fn holding the connection, then commits, or rolls back if fn failed.
func (s *HTTPServer) withDB(ctx context.Context, fn func(ctx context.Context) error) error {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()
	if err := fn(ctx); err != nil {
		if rbErr := s.tx.Rollback(ctx); rbErr != nil {
			zerolog.Ctx(ctx).Error().Err(rbErr).Msg("error rolling back")
		}
		return err
	}
	if err := s.tx.Commit(ctx); err != nil {
		return fmt.Errorf("error committing: %w", err)
	}
	return nil
}

func LoggerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		if err := next(c); err != nil {
			// default handler
			c.Error(err)
		}
		stop := time.Since(start)
		logger := zerolog.Ctx(c.Request().Context())
		req := c.Request()
		res := c.Response()

		p := req.URL.Path
		if p == "" {
			p = "/"
		}

		cl := req.Header.Get(echo.HeaderContentLength)
		if cl == "" {
			cl = "0"
		}
		logger.Debug().Str("method", req.Method).Str("remote_ip", c.RealIP()).Str("req_uri", req.RequestURI).Str("handler_path", c.Path()).Str("path", p).Int("status", res.Status).Int64("latency_ns", int64(stop)).Str("protocol", req.Proto).Str("bytes_in", cl).Int64("bytes_out", res.Size).Msg("req received")
		return nil
	}
}
