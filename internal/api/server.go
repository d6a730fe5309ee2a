// Package api serves stroke analyses over HTTP: start a run, poll its
// status, then fetch the result, strokes or timeline chart.
package api

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/banshee-data/stroke.report/internal/config"
	"github.com/banshee-data/stroke.report/internal/db"
	"github.com/banshee-data/stroke.report/internal/httputil"
	"github.com/banshee-data/stroke.report/internal/monitoring"
	"github.com/banshee-data/stroke.report/internal/rally/pipeline"
	"github.com/banshee-data/stroke.report/internal/rally/progress"
)

const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server owns the run lifecycle for the HTTP surface. Runs outlive the
// request that started them and are cancelled by Close.
type Server struct {
	tuning *config.TuningConfig
	apiKey string
	table  *progress.Table
	store  *db.RunStore
	client httputil.HTTPClient
	admin  *http.ServeMux

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithHTTPClient sets the transport for external classification.
func WithHTTPClient(c httputil.HTTPClient) Option {
	return func(s *Server) { s.client = c }
}

// WithAdmin mounts mux under /debug/.
func WithAdmin(mux *http.ServeMux) Option {
	return func(s *Server) { s.admin = mux }
}

// NewServer creates a Server. tuning is the base configuration each
// request's params overlay; apiKey is passed to the external classifier.
func NewServer(tuning *config.TuningConfig, apiKey string, table *progress.Table, store *db.RunStore, opts ...Option) *Server {
	if tuning == nil {
		tuning = config.EmptyTuningConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		tuning: tuning,
		apiKey: apiKey,
		table:  table,
		store:  store,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close cancels in-flight runs and waits for them to persist.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until every started run has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	runs := r.Group("/api/runs")
	runs.POST("", s.createRun)
	runs.GET("", s.listRuns)
	runs.GET("/:id", s.getRun)
	runs.GET("/:id/status", s.runStatus)
	runs.GET("/:id/strokes", s.runStrokes)
	runs.GET("/:id/chart", s.runChart)

	if s.admin != nil {
		r.Any("/debug/*path", gin.WrapH(s.admin))
	}
	return r
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// requestLogger logs method, path, status and duration.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(c.Writer.Status()), c.Request.Method,
			colorCyan, c.Request.URL.RequestURI(), colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	}
}

// Start serves on addr until ctx is cancelled, then shuts down and
// cancels outstanding runs.
func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	monitoring.Logf("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	s.Close()
	return nil
}

func newRunner(cfg pipeline.Config, table *progress.Table, client httputil.HTTPClient) *pipeline.Runner {
	opts := []pipeline.Option{pipeline.WithProgress(table), pipeline.WithAudit(true)}
	if client != nil {
		opts = append(opts, pipeline.WithHTTPClient(client))
	}
	return pipeline.New(cfg, opts...)
}
