// Package media implements the HTTP media channel: an MJPEG stream served
// as multipart/x-mixed-replace, one independent frame pump per request, plus
// an informational landing page and health/metrics endpoints.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"roverlink/internal/core/ports"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// FramePump drives one streaming session: acquire a frame, write one
// multipart part, release, pace, repeat. Each request gets its own pump so a
// slow client only stalls itself.
type FramePump struct {
	src      ports.FrameSource
	boundary string
	interval time.Duration
	tput     ports.ThroughputRecorder
	log      *zap.SugaredLogger
}

func NewFramePump(src ports.FrameSource, boundary string, interval time.Duration, tput ports.ThroughputRecorder, log *zap.SugaredLogger) *FramePump {
	return &FramePump{
		src:      src,
		boundary: boundary,
		interval: interval,
		tput:     tput,
		log:      log,
	}
}

// Run streams frames to w until ctx is done or a write fails. flush is
// called after every frame so parts reach the client immediately instead of
// sitting in the response buffer. Returns the number of frames delivered;
// a client disconnect is the normal exit and reports a nil error.
func (p *FramePump) Run(ctx context.Context, w io.Writer, flush func()) (int, error) {
	limiter := rate.NewLimiter(rate.Every(p.interval), 1)
	frames := 0

	for {
		if err := limiter.Wait(ctx); err != nil {
			return frames, nil
		}

		f, err := p.src.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return frames, nil
			}
			return frames, fmt.Errorf("acquire frame: %w", err)
		}

		n, err := p.writePart(w, f.Data)
		p.src.Release(f)
		p.tput.AddTx(n)
		if err != nil {
			if isClientGone(ctx, err) {
				return frames, nil
			}
			return frames, fmt.Errorf("write frame: %w", err)
		}

		flush()
		frames++
	}
}

// writePart emits one multipart part: boundary line, part headers, JPEG
// payload. Returns the bytes written before any error.
func (p *FramePump) writePart(w io.Writer, jpeg []byte) (int, error) {
	total := 0

	n, err := fmt.Fprintf(w, "\r\n--%s\r\n", p.boundary)
	total += n
	if err != nil {
		return total, err
	}

	n, err = fmt.Fprintf(w, "Content-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpeg))
	total += n
	if err != nil {
		return total, err
	}

	n, err = w.Write(jpeg)
	total += n
	return total, err
}

// isClientGone reports whether a write failure just means the viewer closed
// the stream, which ends the session without being an error worth surfacing.
func isClientGone(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, context.Canceled)
}
