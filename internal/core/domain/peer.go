package domain

// Handle is the minimal surface the connection core needs from a peer
// connection. Concrete channels store richer types (*net.TCPConn,
// *websocket.Conn) behind it and assert back when they need to send.
type Handle interface {
	Close() error
}

// Peer is one tracked remote endpoint occupying a registry slot.
// A peer with Connected=false is free capacity and must never be sent to.
type Peer struct {
	Handle     Handle
	Connected  bool
	RemoteAddr string
}
