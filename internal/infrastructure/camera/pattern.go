// Package camera provides frame sources for the media channel. The sensor
// itself is out of scope; these sources stand in for it with synthesized or
// prerecorded JPEG frames behind the same acquire/release contract a real
// capture driver would use.
package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"

	"roverlink/internal/core/domain"
	"roverlink/internal/core/ports"

	"go.uber.org/zap"
)

// frameBuffers is the number of reusable encode buffers. Two lets one frame
// be on the wire while the next is being encoded.
const frameBuffers = 2

// PatternSource synthesizes a moving test pattern and encodes it as JPEG.
// Frames draw from a fixed pool of encode buffers, so at most frameBuffers
// frames can be outstanding; Acquire waits for a buffer to come back.
type PatternSource struct {
	width   int
	height  int
	quality int
	log     *zap.SugaredLogger

	pool chan *bytes.Buffer

	mu    sync.Mutex
	img   *image.RGBA
	seq   uint64
	owned map[*domain.Frame]*bytes.Buffer
}

func NewPatternSource(width, height, quality int, log *zap.SugaredLogger) *PatternSource {
	s := &PatternSource{
		width:   width,
		height:  height,
		quality: quality,
		log:     log,
		pool:    make(chan *bytes.Buffer, frameBuffers),
		img:     image.NewRGBA(image.Rect(0, 0, width, height)),
		owned:   make(map[*domain.Frame]*bytes.Buffer),
	}
	for i := 0; i < frameBuffers; i++ {
		s.pool <- &bytes.Buffer{}
	}
	return s
}

// Acquire encodes the next pattern frame. It blocks until an encode buffer
// is free or ctx is done, in which case no frame is available.
func (s *PatternSource) Acquire(ctx context.Context) (*domain.Frame, error) {
	var buf *bytes.Buffer
	select {
	case buf = <-s.pool:
	case <-ctx.Done():
		return nil, domain.ErrNoFrame
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.draw(s.seq)

	buf.Reset()
	if err := jpeg.Encode(buf, s.img, &jpeg.Options{Quality: s.quality}); err != nil {
		s.pool <- buf
		return nil, fmt.Errorf("encode pattern frame: %w", err)
	}

	f := &domain.Frame{Data: buf.Bytes(), Seq: s.seq, CapturedAt: time.Now()}
	s.owned[f] = buf
	return f, nil
}

// Release returns the frame's encode buffer to the pool. Releasing a frame
// this source did not produce is a no-op.
func (s *PatternSource) Release(f *domain.Frame) {
	if f == nil {
		return
	}
	s.mu.Lock()
	buf, ok := s.owned[f]
	if ok {
		delete(s.owned, f)
	}
	s.mu.Unlock()
	if ok {
		s.pool <- buf
	}
}

func (s *PatternSource) Resolution() string {
	return fmt.Sprintf("%dx%d", s.width, s.height)
}

// draw renders a color-bar background with a sweeping vertical marker whose
// position encodes the frame sequence, so stalls are visible at a glance.
func (s *PatternSource) draw(seq uint64) {
	bars := []color.RGBA{
		{R: 192, G: 192, B: 192, A: 255},
		{R: 192, G: 192, B: 0, A: 255},
		{R: 0, G: 192, B: 192, A: 255},
		{R: 0, G: 192, B: 0, A: 255},
		{R: 192, G: 0, B: 192, A: 255},
		{R: 192, G: 0, B: 0, A: 255},
		{R: 0, G: 0, B: 192, A: 255},
	}
	barWidth := s.width / len(bars)
	if barWidth == 0 {
		barWidth = 1
	}

	for x := 0; x < s.width; x++ {
		bar := x / barWidth
		if bar >= len(bars) {
			bar = len(bars) - 1
		}
		for y := 0; y < s.height; y++ {
			s.img.SetRGBA(x, y, bars[bar])
		}
	}

	marker := int(seq) % s.width
	for dx := 0; dx < 4 && marker+dx < s.width; dx++ {
		for y := 0; y < s.height; y++ {
			s.img.SetRGBA(marker+dx, y, color.RGBA{A: 255})
		}
	}
}

var _ ports.FrameSource = (*PatternSource)(nil)
