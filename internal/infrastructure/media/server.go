package media

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"roverlink/internal/core/ports"
	"roverlink/internal/infrastructure/monitoring"
	"roverlink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config carries the media channel settings.
type Config struct {
	Boundary      string
	FrameInterval time.Duration
}

// Server owns the MJPEG endpoints. Every /stream request runs its own frame
// pump against the shared source; there is no per-channel client cap here,
// the frame source's buffer pool provides the natural back-pressure.
type Server struct {
	cfg     Config
	log     *zap.SugaredLogger
	src     ports.FrameSource
	tput    ports.ThroughputRecorder
	metrics *monitoring.Collector

	clients     atomic.Int64
	framesTotal atomic.Uint64
}

func NewServer(cfg Config, log *zap.SugaredLogger, src ports.FrameSource, tput ports.ThroughputRecorder, metrics *monitoring.Collector) *Server {
	return &Server{
		cfg:     cfg,
		log:     log,
		src:     src,
		tput:    tput,
		metrics: metrics,
	}
}

// RegisterRoutes mounts the media endpoints on router. streamMiddleware
// runs in front of /stream only, so admission caps do not affect the
// landing page or health probes.
func (s *Server) RegisterRoutes(router *gin.Engine, streamMiddleware ...gin.HandlerFunc) {
	router.GET("/", s.handleIndex)
	router.GET("/stream", append(streamMiddleware, s.handleStream)...)
	router.GET("/health", s.handleHealth)
}

// handleStream serves one MJPEG session for the life of the request.
func (s *Server) handleStream(c *gin.Context) {
	sessionID := uuid.New().String()
	ctx, span := tracing.TraceStreamSession(c.Request.Context(), sessionID)
	defer span.End()

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+s.cfg.Boundary)
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Status(http.StatusOK)

	count := s.clients.Add(1)
	s.metrics.StreamClientConnected()
	s.log.Infow("stream session started",
		"session_id", sessionID, "remote_addr", c.ClientIP(), "clients", count)

	pump := NewFramePump(s.src, s.cfg.Boundary, s.cfg.FrameInterval, s.tput, s.log)
	frames, err := pump.Run(ctx, c.Writer, flusher.Flush)

	s.framesTotal.Add(uint64(frames))
	s.metrics.AddFramesSent(frames)

	count = s.clients.Add(-1)
	s.metrics.StreamClientDisconnected()
	if err != nil {
		tracing.RecordError(ctx, err)
		s.log.Warnw("stream session failed",
			"session_id", sessionID, "frames", frames, "error", err)
		return
	}
	s.log.Infow("stream session ended",
		"session_id", sessionID, "frames", frames, "clients", count)
}

// handleIndex serves a minimal landing page with the live stream embedded
// and the current channel stats, handy for bring-up without any client app.
func (s *Server) handleIndex(c *gin.Context) {
	page := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>roverlink</title></head>
<body style="background:#111;color:#eee;font-family:monospace">
<h1>roverlink</h1>
<p>viewers: %d | frames served: %d | resolution: %s</p>
<img src="/stream" alt="live stream">
</body>
</html>`, s.clients.Load(), s.framesTotal.Load(), s.src.Resolution())

	c.Header("Access-Control-Allow-Origin", "*")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(page))
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"timestamp":  time.Now().Unix(),
		"clients":    s.clients.Load(),
		"frames":     s.framesTotal.Load(),
		"resolution": s.src.Resolution(),
	})
}

// ClientCount returns the number of active stream sessions.
func (s *Server) ClientCount() int {
	return int(s.clients.Load())
}

// FramesTotal returns the cumulative number of frames served.
func (s *Server) FramesTotal() uint64 {
	return s.framesTotal.Load()
}
