package ports

import (
	"context"
	"net"

	"roverlink/internal/core/domain"
)

// ProbeResult classifies what a liveness probe learned about a peer.
type ProbeResult int

const (
	// ProbeAlive means the probe saw no evidence of failure (including the
	// would-block case, which is the common healthy outcome).
	ProbeAlive ProbeResult = iota
	// ProbeClosed means the remote end shut down gracefully.
	ProbeClosed
	// ProbeDead means the probe hit a hard error.
	ProbeDead
)

// LivenessProber checks whether a peer connection is still reachable without
// blocking and without consuming any of its pending data. The polling peek
// implementation is the default; an event-driven readiness mechanism can be
// substituted without touching registry or dispatcher contracts.
type LivenessProber interface {
	Probe(conn net.Conn) ProbeResult
}

// FrameSource supplies media frames. Acquire blocks until a frame is ready
// or the source's own timeout elapses; every acquired frame must be handed
// back with Release exactly once, whether or not it was delivered.
type FrameSource interface {
	Acquire(ctx context.Context) (*domain.Frame, error)
	Release(f *domain.Frame)
	Resolution() string
}

// ThroughputRecorder accumulates process-wide byte totals for the periodic
// rate reporter. Purely observational, never used for flow control.
type ThroughputRecorder interface {
	AddRx(n int)
	AddTx(n int)
}
