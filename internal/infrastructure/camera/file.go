package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"roverlink/internal/core/domain"
	"roverlink/internal/core/ports"

	"go.uber.org/zap"
)

// FileSource replays a directory of JPEG files in name order, looping
// forever. Frames reference the cached file contents, so Release has nothing
// to reclaim but is still required by the source contract.
type FileSource struct {
	frames [][]byte
	names  []string
	log    *zap.SugaredLogger

	mu  sync.Mutex
	idx int
	seq uint64
}

// NewFileSource loads every .jpg/.jpeg in dir into memory. An empty
// directory is an error: a media channel with no frames to serve should fail
// at startup, not per request.
func NewFileSource(dir string, log *zap.SugaredLogger) (*FileSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".jpg" || ext == ".jpeg" {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("frame dir %s: %w", dir, domain.ErrNoFrame)
	}
	sort.Strings(names)

	frames := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read frame %s: %w", name, err)
		}
		frames = append(frames, data)
	}

	log.Infow("loaded frame directory", "dir", dir, "frames", len(frames))
	return &FileSource{frames: frames, names: names, log: log}, nil
}

func (s *FileSource) Acquire(ctx context.Context) (*domain.Frame, error) {
	select {
	case <-ctx.Done():
		return nil, domain.ErrNoFrame
	default:
	}

	s.mu.Lock()
	data := s.frames[s.idx]
	s.idx = (s.idx + 1) % len(s.frames)
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	return &domain.Frame{Data: data, Seq: seq, CapturedAt: time.Now()}, nil
}

func (s *FileSource) Release(*domain.Frame) {}

func (s *FileSource) Resolution() string {
	return "prerecorded"
}

var _ ports.FrameSource = (*FileSource)(nil)
