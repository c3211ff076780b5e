package control

import (
	"errors"
	"net"
	"syscall"

	"roverlink/internal/core/ports"

	"golang.org/x/sys/unix"
)

// peekProber detects dead peers with a one-byte MSG_PEEK|MSG_DONTWAIT recv:
// O(1), allocation-free, and non-consuming. A zero-length read means the
// remote closed gracefully; a hard errno means it is dead; EAGAIN means it
// is presumed alive. A half-open peer is therefore only detected once the
// remote actually sends FIN/RST — failed sends in the dispatcher provide the
// faster second eviction path.
type peekProber struct{}

// NewPeekProber returns the default polling liveness prober.
func NewPeekProber() ports.LivenessProber {
	return peekProber{}
}

func (peekProber) Probe(conn net.Conn) ports.ProbeResult {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		// Nothing to peek at; presume alive and let send errors decide.
		return ports.ProbeAlive
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return ports.ProbeDead
	}

	result := ports.ProbeAlive
	var buf [1]byte
	ctrlErr := raw.Read(func(fd uintptr) bool {
		n, _, rerr := unix.Recvfrom(int(fd), buf[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
		switch {
		case rerr == nil && n == 0:
			result = ports.ProbeClosed
		case rerr != nil && !isWouldBlock(rerr):
			result = ports.ProbeDead
		}
		return true // never wait for readiness
	})
	if ctrlErr != nil {
		return ports.ProbeDead
	}
	return result
}

// sendNonblock writes payload with MSG_DONTWAIT so one congested peer cannot
// stall a broadcast scan. Returns the bytes the kernel accepted; a
// would-block error surfaces as-is for the caller to classify.
func sendNonblock(conn net.Conn, payload []byte) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return conn.Write(payload)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}

	var n int
	var serr error
	werr := raw.Write(func(fd uintptr) bool {
		n, serr = unix.SendmsgN(int(fd), payload, nil, nil, unix.MSG_DONTWAIT)
		return true // never wait for readiness
	})
	if werr != nil {
		return 0, werr
	}
	if n < 0 {
		n = 0
	}
	return n, serr
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
