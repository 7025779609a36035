package transport

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxWindow bounds the number of in-flight send-window entries.
const maxWindow = 10

// maxReceiveBuffer bounds the out-of-order receive buffer at twice the send
// window so a fast peer can't grow it without limit while a gap is pending.
const maxReceiveBuffer = 2 * maxWindow

// sendEntry is one unacknowledged packet sitting in a connection's send
// window.
type sendEntry struct {
	seq      uint32
	flags    byte
	ack      uint32
	payload  []byte
	lastSend time.Time
}

// Connection is the per-peer record tracking one handshake, send window,
// and receive sequence. All of its mutable fields are guarded by the owning
// Endpoint's lock, not by a lock of their own: a single endpoint-wide lock
// protects the connection table, each connection's send window, and the
// aggregate counters, so Connection has no lock for that state and it must
// only be touched while holding Endpoint.mu. Its one mutex, cbMu, guards
// only the registered callbacks.
type Connection struct {
	// ID is a locally unique label assigned at creation. A random UUID is
	// used rather than a monotonic counter; any unique identifier source
	// suffices here.
	ID string

	peerAddr *net.UDPAddr

	nextSeq     uint32
	expectedSeq uint32

	sendWindow []sendEntry
	recvBuffer map[uint32][]byte

	rtt rttEstimator

	pendingSend map[uint32]time.Time

	established bool
	connected   bool

	lastActivity time.Time

	// cbMu guards onMessage/onDisconnect independently of Endpoint.mu:
	// callbacks are ordinarily registered once, right after a connection is
	// created, rather than on the hot path the endpoint lock protects.
	cbMu         sync.Mutex
	onMessage    func([]byte)
	onDisconnect func()
}

func newConnection(addr *net.UDPAddr) *Connection {
	return &Connection{
		ID:           uuid.NewString(),
		peerAddr:     addr,
		recvBuffer:   make(map[uint32][]byte),
		pendingSend:  make(map[uint32]time.Time),
		rtt:          newRTTEstimator(),
		connected:    true,
		lastActivity: time.Now(),
	}
}

// OnMessage registers the callback invoked, on the endpoint's receive-loop
// goroutine, once per delivered payload, in strictly ascending sequence
// order.
func (c *Connection) OnMessage(cb func([]byte)) {
	c.cbMu.Lock()
	c.onMessage = cb
	c.cbMu.Unlock()
}

// OnDisconnect registers the callback invoked when the peer's FIN is
// received.
func (c *Connection) OnDisconnect(cb func()) {
	c.cbMu.Lock()
	c.onDisconnect = cb
	c.cbMu.Unlock()
}

func (c *Connection) messageCallback() func([]byte) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	return c.onMessage
}

func (c *Connection) disconnectCallback() func() {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	return c.onDisconnect
}

// PeerAddr returns the remote address this connection talks to.
func (c *Connection) PeerAddr() *net.UDPAddr {
	return c.peerAddr
}

// Established reports whether the three-way handshake has completed.
func (c *Connection) Established() bool {
	return c.established
}

// Connected reports whether the connection is still open: it turns false
// when the peer's FIN is received. Endpoint.Shutdown does not clear it.
func (c *Connection) Connected() bool {
	return c.connected
}

// windowFull reports whether the send window has reached its capacity.
func (c *Connection) windowFull() bool {
	return len(c.sendWindow) >= maxWindow
}

// appendSend records a newly emitted packet in the send window.
func (c *Connection) appendSend(flags byte, seq, ack uint32, payload []byte, now time.Time) {
	c.sendWindow = append(c.sendWindow, sendEntry{
		seq:      seq,
		flags:    flags,
		ack:      ack,
		payload:  payload,
		lastSend: now,
	})
}

// ackWindow removes every send-window entry whose sequence number is
// strictly less than ack (cumulative ACK semantics).
func (c *Connection) ackWindow(ack uint32) {
	kept := c.sendWindow[:0]
	for _, e := range c.sendWindow {
		if e.seq < ack {
			continue
		}
		kept = append(kept, e)
	}
	c.sendWindow = kept
}

// bufferOutOfOrder stores a DATA payload received ahead of expectedSeq. It
// is a no-op once the buffer is at capacity, so a peer that never fills a
// gap can't grow this map without bound.
func (c *Connection) bufferOutOfOrder(seq uint32, payload []byte) {
	if _, exists := c.recvBuffer[seq]; !exists && len(c.recvBuffer) >= maxReceiveBuffer {
		return
	}
	c.recvBuffer[seq] = payload
}

// drainInOrder delivers payload, then repeatedly drains any buffered entry
// whose key equals the new expectedSeq, returning every payload delivered in
// order so the caller can invoke the message callback outside the lock if it
// wishes. The caller must already hold the endpoint lock.
func (c *Connection) drainInOrder(seq uint32, payload []byte) [][]byte {
	delivered := [][]byte{payload}
	c.expectedSeq = seq + 1

	for {
		next, ok := c.recvBuffer[c.expectedSeq]
		if !ok {
			break
		}
		delete(c.recvBuffer, c.expectedSeq)
		delivered = append(delivered, next)
		c.expectedSeq++
	}
	return delivered
}
