package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/david/bidwatch/internal/config"
	"github.com/david/bidwatch/internal/db"
	"github.com/david/bidwatch/internal/logging"
	"github.com/david/bidwatch/internal/metrics"
	"github.com/david/bidwatch/internal/models"
	"github.com/david/bidwatch/internal/store"
)

// Server exposes the persisted documents and the run ledger read-only.
type Server struct {
	Echo      *echo.Echo
	Documents config.DocumentsConfig
	Ledger    *db.RunLedger
	Logger    *zap.Logger
}

// ListResult is one page of records from a document.
type ListResult struct {
	Items  []store.Record `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
	// Today and FutureDate are copied from the openings document envelope.
	Today      string `json:"today,omitempty"`
	FutureDate string `json:"future_date,omitempty"`
}

func NewServer(docs config.DocumentsConfig, srv config.ServerConfig, ledger *db.RunLedger, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	// CORS: the local frontend plus configured origins
	allowedOrigins := []string{"http://localhost:4200"}
	for _, o := range srv.CORSOrigins {
		allowedOrigins = append(allowedOrigins, splitCSV(o)...)
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	s := &Server{
		Echo:      e,
		Documents: docs,
		Ledger:    ledger,
		Logger:    logging.OrNop(logger),
	}
	e.Use(s.requestLogger)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	s.Echo.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	api := s.Echo.Group("/api/v1")
	api.GET("/projects", s.handleListProjects)
	api.GET("/bulletins", s.handleListBulletins)
	api.GET("/runs", s.handleListRuns)
}

// requestLogger logs each request through zap and feeds the HTTP metrics.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		status := c.Response().Status
		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveHTTPRequest(c.Request().Method, route, status, time.Since(start))
		s.Logger.Debug("request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)))
		return nil
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleListProjects(c echo.Context) error {
	return s.listDocument(c, s.Documents.Openings, store.KindOpenings)
}

func (s *Server) handleListBulletins(c echo.Context) error {
	return s.listDocument(c, s.Documents.Bulletins, store.KindBulletins)
}

func (s *Server) listDocument(c echo.Context, path string, kind store.Kind) error {
	doc, err := store.LoadKind(path, kind)
	if err != nil {
		if errors.Is(err, store.ErrSourceRead) {
			s.Logger.Warn("document unavailable", zap.String("path", path), zap.Error(err))
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "document unavailable"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}

	types, err := parseTypes(c.QueryParam("type"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	q := strings.TrimSpace(c.QueryParam("q"))

	limit := 50
	offset := 0
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 500 {
		limit = l
	}
	if o, err := strconv.Atoi(c.QueryParam("offset")); err == nil && o >= 0 {
		offset = o
	}

	matched := make([]store.Record, 0, len(doc.Records))
	for _, r := range doc.Records {
		if len(types) > 0 && !types[r.PrjType()] {
			continue
		}
		if q != "" && !strings.Contains(r.Title(), q) {
			continue
		}
		matched = append(matched, r)
	}

	res := ListResult{Total: len(matched), Limit: limit, Offset: offset, Items: []store.Record{}}
	if offset < len(matched) {
		end := offset + limit
		if end > len(matched) {
			end = len(matched)
		}
		res.Items = matched[offset:end]
	}
	if kind == store.KindOpenings {
		res.Today, _ = doc.Envelope["today"].(string)
		res.FutureDate, _ = doc.Envelope["future_date"].(string)
	}
	return c.JSON(http.StatusOK, res)
}

// parseTypes reads a comma-separated list of project types. Labels outside
// the taxonomy are rejected.
func parseTypes(v string) (map[models.ProjectType]bool, error) {
	out := map[models.ProjectType]bool{}
	for _, part := range splitCSV(v) {
		t := models.ProjectType(part)
		if !t.Valid() {
			return nil, errors.New("unknown project type: " + part)
		}
		out[t] = true
	}
	return out, nil
}

// splitCSV splits a comma-separated query parameter into trimmed non-empty strings.
func splitCSV(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}

func (s *Server) handleListRuns(c echo.Context) error {
	if !s.Ledger.Enabled() {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "run ledger not configured"})
	}
	limit := 20
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 200 {
		limit = l
	}
	runs, err := s.Ledger.ListRecent(c.Request().Context(), limit)
	if err != nil {
		s.Logger.Error("list runs", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}
