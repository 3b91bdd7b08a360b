package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"favprobe/internal/fingerprint"
	"favprobe/internal/output"
	"favprobe/internal/runner"
	"favprobe/pkg/version"
)

// Scanner runs one matching batch
type Scanner interface {
	Run(ctx context.Context, specs []string, table *fingerprint.Table) (*runner.Result, error)
}

// MatchRequest is the body of POST /md5-matching
type MatchRequest struct {
	IPAddresses []string `json:"ip_addresses" binding:"required"`
}

// MatchResponse is returned by POST /md5-matching. Targets and Rejected are
// only filled when the caller asks for ?report=true.
type MatchResponse struct {
	MatchedData []output.MatchRecord  `json:"matched_data"`
	Targets     []output.TargetReport `json:"targets,omitempty"`
	Rejected    []output.TargetReport `json:"rejected,omitempty"`
}

// Server exposes the matcher over HTTP
type Server struct {
	engine  *gin.Engine
	scanner Scanner
	table   *fingerprint.Table
	logger  *slog.Logger
}

// New builds the gin engine. table is loaded once by the caller and shared
// read-only by every request.
func New(scanner Scanner, table *fingerprint.Table, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		engine:  gin.New(),
		scanner: scanner,
		table:   table,
		logger:  logger,
	}
	s.engine.Use(gin.Recovery(), requestLogger(logger))
	s.engine.POST("/md5-matching", s.handleMatch)
	s.engine.GET("/healthz", s.handleHealth)
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("service listening", "addr", addr, "fingerprints", s.table.Len())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleMatch(c *gin.Context) {
	var req MatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, _ := strconv.ParseBool(c.DefaultQuery("report", "false"))

	result, err := s.scanner.Run(c.Request.Context(), req.IPAddresses, s.table)
	if err != nil {
		s.logger.Error("matching failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := MatchResponse{MatchedData: result.Matches}
	if resp.MatchedData == nil {
		resp.MatchedData = []output.MatchRecord{}
	}
	if report {
		resp.Targets = result.Targets
		timestamp := time.Now().UTC().Format(time.RFC3339)
		for _, rej := range result.Rejected {
			resp.Rejected = append(resp.Rejected, output.RejectedReport(rej, timestamp))
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"fingerprints": s.table.Len(),
		"version":      version.GetInfo(),
	})
}

// requestLogger logs one structured line per request
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"client_ip", c.ClientIP(),
			"duration", time.Since(start),
		)
	}
}
