// Package control implements the raw TCP control/telemetry channel: a
// bounded registry of client connections fed by a polling accept loop,
// swept by a peek-based liveness monitor, and written to by a best-effort
// broadcast dispatcher.
package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"roverlink/internal/core/domain"
	"roverlink/internal/core/ports"
	"roverlink/internal/core/registry"
	"roverlink/internal/infrastructure/monitoring"
	"roverlink/pkg/tracing"

	"go.uber.org/zap"
)

// PayloadChunkSize is the nominal maximum payload that fits one TCP segment
// on a typical path: MTU 1500 minus IP and TCP headers, rounded down for
// safety. Informational only, never enforced.
const PayloadChunkSize = 1400

// Config carries the control channel settings.
type Config struct {
	Port              int // 0 disables the channel
	MaxClients        int
	PollInterval      time.Duration
	KeepAliveIdle     time.Duration
	KeepAliveInterval time.Duration
	KeepAliveCount    int
}

// Server is the TCP control channel. Clients connect unauthenticated and
// receive every broadcast payload verbatim; there is no application framing,
// so message boundaries are the caller's concern.
type Server struct {
	cfg     Config
	log     *zap.SugaredLogger
	reg     *registry.Registry
	tput    ports.ThroughputRecorder
	metrics *monitoring.Collector

	// Injected so the polling peek can be swapped for an event-driven
	// readiness mechanism, and so tests can script failures.
	prober ports.LivenessProber
	send   func(conn net.Conn, payload []byte) (int, error)

	ln       *net.TCPListener
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewServer(cfg Config, log *zap.SugaredLogger, tput ports.ThroughputRecorder, metrics *monitoring.Collector) *Server {
	return &Server{
		cfg:     cfg,
		log:     log,
		reg:     registry.New(cfg.MaxClients, log),
		tput:    tput,
		metrics: metrics,
		prober:  NewPeekProber(),
		send:    sendNonblock,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start binds the listening socket and launches the background worker.
// A bind or listen failure is fatal to this channel only; the caller logs
// it and runs on without the control channel.
func (s *Server) Start() error {
	if s.cfg.Port == 0 {
		return domain.ErrChannelDisabled
	}

	ln, err := net.ListenTCP("tcp", &net.TCPAddr{Port: s.cfg.Port})
	if err != nil {
		return fmt.Errorf("control channel listen on port %d: %w", s.cfg.Port, err)
	}
	s.ln = ln

	s.log.Infow("control channel listening",
		"port", s.cfg.Port,
		"max_clients", s.cfg.MaxClients,
		"payload_chunk_size", PayloadChunkSize,
	)

	go s.run()
	return nil
}

// Stop shuts the worker down and closes the listener. Live client
// connections are closed through the registry.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.ln != nil {
			s.ln.Close()
		}
		<-s.done

		s.reg.ForEachLive(func(int, *domain.Peer) registry.Verdict {
			return registry.Evict
		})
	})
}

// run is the channel's scheduling backbone: admit at most one new peer,
// sweep for dead ones, sleep, repeat.
func (s *Server) run() {
	defer close(s.done)

	for {
		s.acceptOnce()
		s.sweep()
		s.metrics.SetControlClients(s.reg.Count())

		select {
		case <-s.stop:
			return
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

// acceptOnce polls the listener for one pending connection. No pending
// connection is the normal no-op case.
func (s *Server) acceptOnce() {
	// A near-immediate deadline turns Accept into a bounded poll. The
	// deadline must lie in the future: an already-expired one makes the
	// poller fail with a timeout before it ever looks at the backlog.
	s.ln.SetDeadline(time.Now().Add(time.Millisecond))

	conn, err := s.ln.AcceptTCP()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return
		}
		if !errors.Is(err, net.ErrClosed) {
			s.log.Errorw("accept failed", "error", err)
		}
		return
	}

	// Socket options are applied before Insert so no syscall runs while
	// the registry lock is held.
	ka := net.KeepAliveConfig{
		Enable:   true,
		Idle:     s.cfg.KeepAliveIdle,
		Interval: s.cfg.KeepAliveInterval,
		Count:    s.cfg.KeepAliveCount,
	}
	if err := conn.SetKeepAliveConfig(ka); err != nil {
		s.log.Warnw("failed to enable keepalive", "remote_addr", conn.RemoteAddr(), "error", err)
	}

	remote := conn.RemoteAddr().String()
	slot, err := s.reg.Insert(conn, remote)
	if err != nil {
		// Back-pressure is rejection, never queueing.
		s.log.Warnw("maximum clients reached, rejecting connection", "remote_addr", remote)
		s.metrics.RecordCapacityReject("control")
		conn.Close()
		return
	}

	s.log.Infow("new client connected", "remote_addr", remote, "slot", slot)
}

// sweep evicts peers whose remote end closed or errored. The peek keeps the
// pass O(1) per slot and consumes nothing.
func (s *Server) sweep() {
	s.reg.ForEachLive(func(slot int, p *domain.Peer) registry.Verdict {
		conn, ok := p.Handle.(net.Conn)
		if !ok {
			return registry.Evict
		}
		switch s.prober.Probe(conn) {
		case ports.ProbeClosed:
			s.log.Infow("client disconnected", "slot", slot, "remote_addr", p.RemoteAddr)
		case ports.ProbeDead:
			s.log.Infow("client connection dead", "slot", slot, "remote_addr", p.RemoteAddr)
		default:
			return registry.Keep
		}
		s.metrics.RecordEviction("control")
		return registry.Evict
	})
}

// Broadcast sends payload to every live client, best effort, and returns the
// total bytes the kernel accepted across all peers. One peer's failure never
// blocks the others: would-block peers are skipped until the next call,
// partial accepts are counted and logged as degraded, hard errors evict the
// peer on the spot. Zero live peers is a normal zero result.
func (s *Server) Broadcast(payload []byte) int {
	if len(payload) == 0 {
		return 0
	}

	_, span := tracing.TraceBroadcast(context.Background(), "control")
	defer span.End()

	total := 0
	reached := 0
	s.reg.ForEachLive(func(slot int, p *domain.Peer) registry.Verdict {
		conn, ok := p.Handle.(net.Conn)
		if !ok {
			return registry.Evict
		}

		n, err := s.send(conn, payload)
		if err != nil && !isWouldBlock(err) {
			s.log.Warnw("send to client failed", "slot", slot, "error", err)
			s.metrics.RecordEviction("control")
			return registry.Evict
		}
		total += n
		if n > 0 {
			reached++
		}
		if err == nil && n < len(payload) {
			s.log.Warnw("partial send to client", "slot", slot, "sent", n, "payload_len", len(payload))
			s.metrics.RecordDegradedSend("control")
		}
		return registry.Keep
	})

	span.SetAttributes(tracing.BytesKey.Int(total), tracing.ClientsKey.Int(reached))
	s.tput.AddTx(total)
	return total
}

// ClientCount returns the number of live control clients.
func (s *Server) ClientCount() int {
	return s.reg.Count()
}
