package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"roverlink/internal/core/domain"
	"roverlink/internal/infrastructure/monitoring"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testBoundary = "123456789000000000000987654321"

// stubSource hands out a fixed payload and counts the acquire/release
// traffic. cancelAfter, when set, cancels the session once that many frames
// have been acquired.
type stubSource struct {
	payload     []byte
	acquires    int
	releases    int
	cancelAfter int
	cancel      context.CancelFunc
}

func (s *stubSource) Acquire(ctx context.Context) (*domain.Frame, error) {
	if ctx.Err() != nil {
		return nil, domain.ErrNoFrame
	}
	s.acquires++
	if s.cancelAfter > 0 && s.acquires > s.cancelAfter {
		s.cancel()
		return nil, domain.ErrNoFrame
	}
	return &domain.Frame{Data: s.payload, Seq: uint64(s.acquires), CapturedAt: time.Now()}, nil
}

func (s *stubSource) Release(*domain.Frame) { s.releases++ }

func (s *stubSource) Resolution() string { return "640x480" }

func newTestPump(src *stubSource) *FramePump {
	tput := monitoring.NewThroughput(time.Second, zap.NewNop().Sugar(), nil)
	return NewFramePump(src, testBoundary, time.Millisecond, tput, zap.NewNop().Sugar())
}

func TestFramePump_WritesMultipartParts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &stubSource{payload: []byte("jpegdata"), cancelAfter: 3, cancel: cancel}
	pump := newTestPump(src)

	var out bytes.Buffer
	flushes := 0
	frames, err := pump.Run(ctx, &out, func() { flushes++ })
	require.NoError(t, err)

	assert.Equal(t, 3, frames)
	assert.Equal(t, 3, flushes)
	assert.Equal(t, 3, src.releases, "every delivered frame was released")

	body := out.String()
	assert.Equal(t, 3, strings.Count(body, "--"+testBoundary+"\r\n"))
	assert.Equal(t, 3, strings.Count(body, "Content-Type: image/jpeg\r\nContent-Length: 8\r\n\r\n"))
	assert.Equal(t, 3, strings.Count(body, "jpegdata"))
}

// failingWriter accepts writes until the fuse runs out, then fails.
type failingWriter struct {
	fuse int
	err  error
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.fuse <= 0 {
		return 0, w.err
	}
	w.fuse--
	return len(p), nil
}

func TestFramePump_HardWriteErrorEndsSession(t *testing.T) {
	src := &stubSource{payload: []byte("jpegdata")}
	pump := newTestPump(src)

	w := &failingWriter{fuse: 0, err: errors.New("broken pipe")}
	frames, err := pump.Run(context.Background(), w, func() {})

	require.Error(t, err)
	assert.Zero(t, frames)
	assert.Equal(t, 1, src.acquires)
	assert.Equal(t, 1, src.releases, "frame released even when the write failed")
}

func TestFramePump_ClientDisconnectIsNotAnError(t *testing.T) {
	src := &stubSource{payload: []byte("jpegdata")}
	pump := newTestPump(src)

	w := &failingWriter{fuse: 3, err: io.ErrClosedPipe} // first frame delivered, then the pipe closes
	frames, err := pump.Run(context.Background(), w, func() {})

	assert.NoError(t, err)
	assert.Equal(t, 1, frames)
	assert.Equal(t, src.acquires, src.releases)
}

func TestFramePump_CancelledContextStopsCleanly(t *testing.T) {
	src := &stubSource{payload: []byte("jpegdata")}
	pump := newTestPump(src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	frames, err := pump.Run(ctx, &out, func() {})
	assert.NoError(t, err)
	assert.Zero(t, frames)
	assert.Zero(t, out.Len())
}
