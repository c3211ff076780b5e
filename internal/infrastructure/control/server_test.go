package control

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"roverlink/internal/core/domain"
	"roverlink/internal/core/ports"
	"roverlink/internal/infrastructure/monitoring"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

func newTestServer(t *testing.T, maxClients int) *Server {
	t.Helper()
	cfg := Config{
		Port:              1, // unused: tests inject their own listener
		MaxClients:        maxClients,
		PollInterval:      10 * time.Millisecond,
		KeepAliveIdle:     5 * time.Second,
		KeepAliveInterval: 5 * time.Second,
		KeepAliveCount:    3,
	}
	metrics := monitoring.NewCollector(prometheus.NewRegistry())
	tput := monitoring.NewThroughput(time.Second, zap.NewNop().Sugar(), nil)
	return NewServer(cfg, zap.NewNop().Sugar(), tput, metrics)
}

// startTestServer runs the worker loop against an ephemeral loopback port.
func startTestServer(t *testing.T, maxClients int) (*Server, string) {
	t.Helper()
	s := newTestServer(t, maxClients)

	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	s.ln = ln

	go s.run()
	t.Cleanup(s.Stop)

	return s, ln.Addr().String()
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServer_AcceptPollSeesPendingConnection(t *testing.T) {
	s := newTestServer(t, 4)

	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer ln.Close()
	s.ln = ln

	// The connection completes and waits in the listen backlog well before
	// the poll runs; one acceptOnce pass must still pick it up.
	dial(t, ln.Addr().String())
	time.Sleep(200 * time.Millisecond)

	s.acceptOnce()
	assert.Equal(t, 1, s.ClientCount())
}

func TestServer_AcceptsUpToCapacity(t *testing.T) {
	s, addr := startTestServer(t, 4)

	for i := 0; i < 4; i++ {
		dial(t, addr)
	}
	waitFor(t, "4 clients", func() bool { return s.ClientCount() == 4 })

	// The fifth connection is accepted by the kernel but closed immediately.
	fifth := dial(t, addr)
	fifth.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := fifth.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 4, s.ClientCount())
}

func TestServer_SlotFreedByDisconnectIsReused(t *testing.T) {
	s, addr := startTestServer(t, 4)

	conns := make([]net.Conn, 4)
	for i := range conns {
		conns[i] = dial(t, addr)
	}
	waitFor(t, "4 clients", func() bool { return s.ClientCount() == 4 })

	// Peer #2 leaves; the liveness sweep reclaims exactly one slot.
	conns[1].Close()
	waitFor(t, "eviction", func() bool { return s.ClientCount() == 3 })

	sixth := dial(t, addr)
	waitFor(t, "slot reuse", func() bool { return s.ClientCount() == 4 })

	// The new peer holds a live slot: it must not be torn down.
	sixth.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, err := sixth.Read(make([]byte, 1))
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout())
}

func TestServer_BroadcastReachesAllClients(t *testing.T) {
	s, addr := startTestServer(t, 4)

	a := dial(t, addr)
	b := dial(t, addr)
	waitFor(t, "2 clients", func() bool { return s.ClientCount() == 2 })

	payload := []byte{0x01, 0x02, 0x03}
	sent := s.Broadcast(payload)
	assert.Equal(t, 6, sent) // 3 bytes to each of 2 peers

	for _, conn := range []net.Conn{a, b} {
		buf := make([]byte, 3)
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err := io.ReadFull(conn, buf)
		require.NoError(t, err)
		assert.Equal(t, payload, buf)
	}
}

func TestServer_BroadcastHardErrorEvictsOnlyThatPeer(t *testing.T) {
	s := newTestServer(t, 4)

	connA, peerA := net.Pipe()
	connB, peerB := net.Pipe()
	defer peerA.Close()
	defer peerB.Close()

	_, err := s.reg.Insert(connA, "peer-a")
	require.NoError(t, err)
	_, err = s.reg.Insert(connB, "peer-b")
	require.NoError(t, err)

	s.send = func(conn net.Conn, payload []byte) (int, error) {
		if conn == connB {
			return 0, errors.New("connection reset by peer")
		}
		return len(payload), nil
	}

	sent := s.Broadcast([]byte{0x01, 0x02, 0x03})
	assert.Equal(t, 3, sent) // only peer A's bytes count
	assert.Equal(t, 1, s.ClientCount())
}

func TestServer_BroadcastWouldBlockKeepsPeer(t *testing.T) {
	s := newTestServer(t, 2)

	conn, peer := net.Pipe()
	defer peer.Close()
	_, err := s.reg.Insert(conn, "congested")
	require.NoError(t, err)

	s.send = func(net.Conn, []byte) (int, error) { return 0, unix.EAGAIN }

	sent := s.Broadcast([]byte("telemetry"))
	assert.Zero(t, sent)
	assert.Equal(t, 1, s.ClientCount(), "a congested peer is retried next cycle, not evicted")
}

func TestServer_BroadcastPartialSendCountsAcceptedBytes(t *testing.T) {
	s := newTestServer(t, 2)

	conn, peer := net.Pipe()
	defer peer.Close()
	_, err := s.reg.Insert(conn, "slow")
	require.NoError(t, err)

	s.send = func(_ net.Conn, payload []byte) (int, error) { return 2, nil }

	sent := s.Broadcast([]byte{0x01, 0x02, 0x03})
	assert.Equal(t, 2, sent)
	assert.Equal(t, 1, s.ClientCount())
}

func TestServer_BroadcastEmitsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	s := newTestServer(t, 2)
	conn, peer := net.Pipe()
	defer peer.Close()
	_, err := s.reg.Insert(conn, "peer")
	require.NoError(t, err)
	s.send = func(_ net.Conn, payload []byte) (int, error) { return len(payload), nil }

	s.Broadcast([]byte{0x01, 0x02})

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "control.broadcast", spans[0].Name())

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "control", attrs["channel"].AsString())
	assert.Equal(t, int64(2), attrs["bytes"].AsInt64())
	assert.Equal(t, int64(1), attrs["clients"].AsInt64())
}

func TestServer_BroadcastWithNoPeers(t *testing.T) {
	s := newTestServer(t, 4)
	assert.Zero(t, s.Broadcast([]byte("nobody home")))
	assert.Zero(t, s.Broadcast(nil))
}

func TestServer_DisabledByPortZero(t *testing.T) {
	s := newTestServer(t, 4)
	s.cfg.Port = 0
	assert.ErrorIs(t, s.Start(), domain.ErrChannelDisabled)
}

func TestPeekProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server := <-accepted
	defer server.Close()

	prober := NewPeekProber()

	t.Run("open connection is alive", func(t *testing.T) {
		assert.Equal(t, ports.ProbeAlive, prober.Probe(server))
	})

	t.Run("pending data does not mark the peer dead or get consumed", func(t *testing.T) {
		_, err := client.Write([]byte("ping"))
		require.NoError(t, err)
		waitFor(t, "data visible to peek", func() bool {
			return prober.Probe(server) == ports.ProbeAlive
		})

		buf := make([]byte, 4)
		server.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err = io.ReadFull(server, buf)
		require.NoError(t, err)
		assert.Equal(t, "ping", string(buf))
	})

	t.Run("graceful close is detected", func(t *testing.T) {
		client.Close()
		waitFor(t, "probe sees close", func() bool {
			return prober.Probe(server) == ports.ProbeClosed
		})
	})
}
