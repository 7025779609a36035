package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

type mode int

const (
	modeUnset mode = iota
	modeListening
	modeConnecting
)

// pollInterval is how often Send and Connect poll for a condition (window
// space, handshake completion) rather than blocking on a channel.
const pollInterval = 10 * time.Millisecond

// handshakeTimeout bounds both Connect's wait for establishment and Send's
// wait for a handshake already in flight.
const handshakeTimeout = 5 * time.Second

// shutdownJoinTimeout bounds how long Shutdown waits for the receive and
// timer loops to exit.
const shutdownJoinTimeout = 2 * time.Second

// readDeadline is applied to the socket between reads so the receive loop
// wakes periodically to check whether it should stop.
const readDeadline = time.Second

// outPacket is a reply queued by a packet handler while the endpoint lock is
// held, to be written to the socket once the lock is released.
type outPacket struct {
	addr    *net.UDPAddr
	flags   byte
	seq     uint32
	ack     uint32
	payload []byte
}

// dispatchResult carries everything a handler produced for a single inbound
// datagram: replies to send, payloads to deliver, and whether the peer
// disconnected.
type dispatchResult struct {
	outbound     []outPacket
	delivered    [][]byte
	disconnected bool
}

// Endpoint is the core of the transport: it owns the UDP socket, the
// connection table (listening mode) or single connection (connecting mode),
// the receive loop, the retransmission-timer loop, and the aggregate
// counters.
type Endpoint struct {
	mu sync.Mutex

	localPort int
	mode      mode

	conn       *net.UDPConn
	remoteAddr *net.UDPAddr

	connections map[string]*Connection
	single      *Connection

	onNewConnection func(*Connection)

	counters *counters

	running int32 // atomic bool; read without the lock by Send's polls
	group   *errgroup.Group
	cancel  context.CancelFunc

	log *logrus.Entry
}

// New constructs an unstarted endpoint bound to the given UDP port (0 lets
// the OS assign one).
func New(localPort int) *Endpoint {
	return &Endpoint{
		localPort:   localPort,
		connections: make(map[string]*Connection),
		counters:    newCounters(),
		log:         logrus.WithField("component", "transport"),
	}
}

func (e *Endpoint) isRunning() bool {
	return atomic.LoadInt32(&e.running) == 1
}

// OnNewConnection registers the callback invoked exactly once per newly
// observed peer address, before any payload is delivered for it. Only
// meaningful in listening mode. Safe to call at any time; the receive loop
// reads it under the same lock.
func (e *Endpoint) OnNewConnection(cb func(*Connection)) {
	e.mu.Lock()
	e.onNewConnection = cb
	e.mu.Unlock()
}

// Listen starts the endpoint in listening (server) mode.
func (e *Endpoint) Listen() error {
	e.mu.Lock()
	if e.mode != modeUnset {
		e.mu.Unlock()
		return ErrWrongMode
	}
	e.mode = modeListening
	e.mu.Unlock()

	lc := net.ListenConfig{Control: reuseAddrControl}
	pc, err := lc.ListenPacket(context.Background(), "udp", fmt.Sprintf(":%d", e.localPort))
	if err != nil {
		return wrapf(err, "listen udp on port %d", e.localPort)
	}
	e.conn = pc.(*net.UDPConn)

	e.startLoops(e.receiveLoopServer)
	return nil
}

// Connect starts the endpoint in connecting (client) mode, sends the
// initial SYN, and blocks the caller until the connection is established or
// timeout elapses. It does not itself return an error on handshake
// timeout — background progress continues and a warning is logged instead;
// ErrHandshakeTimeout is surfaced from Send if the handshake still has not
// completed by then.
func (e *Endpoint) Connect(addr *net.UDPAddr, timeout time.Duration) (*Connection, error) {
	e.mu.Lock()
	if e.mode != modeUnset {
		e.mu.Unlock()
		return nil, ErrWrongMode
	}
	e.mode = modeConnecting
	e.remoteAddr = addr
	e.mu.Unlock()

	localAddr := &net.UDPAddr{Port: e.localPort}
	conn, err := net.DialUDP("udp", localAddr, addr)
	if err != nil {
		return nil, wrapf(err, "dial udp %s", addr)
	}
	e.conn = conn

	single := newConnection(addr)
	e.mu.Lock()
	e.single = single
	e.mu.Unlock()

	e.startLoops(e.receiveLoopClient)

	e.transmit(addr, FlagSyn, 0, 0, nil)

	if timeout <= 0 {
		timeout = handshakeTimeout
	}
	deadline := time.Now().Add(timeout)
	for {
		e.mu.Lock()
		established := single.established
		e.mu.Unlock()
		if established {
			break
		}
		if time.Now().After(deadline) {
			e.log.Warn("handshake did not complete within timeout, continuing in background")
			break
		}
		time.Sleep(pollInterval)
	}

	return single, nil
}

func (e *Endpoint) startLoops(receiveLoop func(context.Context) error) {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	atomic.StoreInt32(&e.running, 1)

	g, _ := errgroup.WithContext(context.Background())
	e.group = g
	g.Go(func() error { return receiveLoop(ctx) })
	g.Go(func() error { return e.retransmitLoop(ctx) })
}

// reuseAddrControl sets SO_REUSEADDR on the listening socket so a restarted
// server can rebind immediately. Go's net package has no portable knob for
// this, so it is reached via golang.org/x/sys/unix inside a ListenConfig
// Control callback.
func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// Send partitions data into chunks of up to MaxPayloadSize bytes and
// reliably delivers each one, in order, over conn.
func (e *Endpoint) Send(conn *Connection, data []byte) error {
	if !e.isRunning() {
		return ErrNotRunning
	}

	deadline := time.Now().Add(handshakeTimeout)
	for {
		e.mu.Lock()
		established := conn.established
		closed := !conn.connected
		e.mu.Unlock()

		if closed {
			return ErrPeerClosed
		}
		if established {
			break
		}
		if time.Now().After(deadline) {
			return ErrHandshakeTimeout
		}
		time.Sleep(pollInterval)
	}

	e.counters.addMessageSent()

	for start := 0; start < len(data); start += MaxPayloadSize {
		end := start + MaxPayloadSize
		if end > len(data) {
			end = len(data)
		}
		if err := e.sendChunk(conn, data[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Endpoint) sendChunk(conn *Connection, chunk []byte) error {
	payload := append([]byte(nil), chunk...)
	for {
		if !e.isRunning() {
			return ErrNotRunning
		}

		e.mu.Lock()
		if !conn.windowFull() {
			seq := conn.nextSeq
			conn.nextSeq++
			now := time.Now()
			conn.appendSend(FlagData, seq, 0, payload, now)
			conn.pendingSend[seq] = now
			e.mu.Unlock()

			e.transmit(conn.peerAddr, FlagData, seq, 0, payload)
			return nil
		}
		e.mu.Unlock()
		time.Sleep(pollInterval)
	}
}

// Shutdown stops the endpoint: it clears the running flag, emits a FIN to
// every still-connected peer on a best-effort basis, joins the background
// loops with a timeout, and closes the socket. Idempotent.
func (e *Endpoint) Shutdown() error {
	if !atomic.CompareAndSwapInt32(&e.running, 1, 0) {
		return nil
	}

	e.mu.Lock()
	conns := e.allConnectionsLocked()
	e.mu.Unlock()

	for _, c := range conns {
		if c.connected {
			e.transmit(c.peerAddr, FlagFin, c.nextSeq, 0, nil)
		}
	}

	if e.cancel != nil {
		e.cancel()
	}

	if e.group != nil {
		done := make(chan error, 1)
		go func() { done <- e.group.Wait() }()
		select {
		case <-done:
		case <-time.After(shutdownJoinTimeout):
			e.log.Warn("timed out waiting for background loops to stop")
		}
	}

	if e.conn != nil {
		e.conn.Close()
	}
	return nil
}

// Stats returns a point-in-time snapshot of the endpoint's counters and
// derived metrics.
func (e *Endpoint) Stats() Stats {
	return e.counters.snapshot()
}

// LocalAddr returns the address the endpoint's socket is bound to. Useful
// after Listen(0) or Connect with localPort 0 to discover the assigned
// port.
func (e *Endpoint) LocalAddr() *net.UDPAddr {
	if e.conn == nil {
		return nil
	}
	addr, _ := e.conn.LocalAddr().(*net.UDPAddr)
	return addr
}

// allConnectionsLocked returns every live connection. Caller must hold mu.
func (e *Endpoint) allConnectionsLocked() []*Connection {
	if e.mode == modeConnecting {
		if e.single == nil {
			return nil
		}
		return []*Connection{e.single}
	}
	out := make([]*Connection, 0, len(e.connections))
	for _, c := range e.connections {
		out = append(out, c)
	}
	return out
}

// getOrCreateConnectionLocked returns the connection for addr, creating it (and
// reporting isNew) if this is the first datagram seen from that peer. Caller
// must hold mu.
func (e *Endpoint) getOrCreateConnectionLocked(addr *net.UDPAddr) (conn *Connection, isNew bool) {
	if e.mode == modeConnecting {
		return e.single, false
	}
	key := addr.String()
	if c, ok := e.connections[key]; ok {
		return c, false
	}
	c := newConnection(addr)
	e.connections[key] = c
	return c, true
}

func (e *Endpoint) transmit(addr *net.UDPAddr, flags byte, seq, ack uint32, payload []byte) {
	buf := encode(flags, seq, ack, payload)

	var err error
	if e.mode == modeConnecting {
		_, err = e.conn.Write(buf)
	} else {
		_, err = e.conn.WriteToUDP(buf, addr)
	}
	if err != nil {
		e.log.WithError(err).Warn("send failed")
		return
	}
	e.counters.addPacketSent(len(buf))
}

func (e *Endpoint) receiveLoopServer(ctx context.Context) error {
	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		e.conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, addr, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if !e.isRunning() {
				return nil
			}
			e.log.WithError(err).Warn("receive error")
			continue
		}

		raw := append([]byte(nil), buf[:n]...)
		e.handleInbound(addr, raw)
	}
}

func (e *Endpoint) receiveLoopClient(ctx context.Context) error {
	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		e.conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, err := e.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if !e.isRunning() {
				return nil
			}
			e.log.WithError(err).Warn("receive error")
			continue
		}

		raw := append([]byte(nil), buf[:n]...)
		e.handleInbound(e.remoteAddr, raw)
	}
}

func (e *Endpoint) handleInbound(addr *net.UDPAddr, raw []byte) {
	p, ok := decode(raw)
	if !ok {
		e.counters.addIntegrityFailure()
		return
	}
	e.counters.addPacketReceived(len(raw))

	e.mu.Lock()
	conn, isNew := e.getOrCreateConnectionLocked(addr)
	onNewConnection := e.onNewConnection
	e.mu.Unlock()

	if isNew && onNewConnection != nil {
		onNewConnection(conn)
	}

	e.mu.Lock()
	conn.lastActivity = time.Now()
	result := e.dispatchLocked(conn, p)
	e.mu.Unlock()

	for _, out := range result.outbound {
		e.transmit(out.addr, out.flags, out.seq, out.ack, out.payload)
	}
	for _, payload := range result.delivered {
		e.counters.addMessageReceived()
		if cb := conn.messageCallback(); cb != nil {
			cb(payload)
		}
	}
	if result.disconnected {
		if cb := conn.disconnectCallback(); cb != nil {
			cb()
		}
	}
}

// dispatchLocked classifies one inbound packet by flag and advances state.
// Caller must hold mu; it must not perform socket I/O or invoke application
// callbacks itself — both are deferred to the returned result.
func (e *Endpoint) dispatchLocked(conn *Connection, p packet) dispatchResult {
	switch {
	case hasFlag(p.flags, FlagSyn) && hasFlag(p.flags, FlagAck):
		return e.handleSynAckLocked(conn, p)
	case hasFlag(p.flags, FlagSyn):
		return e.handleSynLocked(conn, p)
	case hasFlag(p.flags, FlagFin):
		return e.handleFinLocked(conn, p)
	case hasFlag(p.flags, FlagData):
		return e.handleDataLocked(conn, p)
	case hasFlag(p.flags, FlagAck):
		return e.handleAckLocked(conn, p)
	default:
		return dispatchResult{}
	}
}

// handleSynLocked is the responder branch of the handshake. Re-receipt of a
// SYN after establishment is idempotent: it re-sends the SYN|ACK without
// touching sequence state again.
func (e *Endpoint) handleSynLocked(conn *Connection, p packet) dispatchResult {
	if !conn.established {
		conn.expectedSeq = p.seq + 1
		conn.nextSeq = 1
	}
	return dispatchResult{outbound: []outPacket{
		{addr: conn.peerAddr, flags: FlagSyn | FlagAck, seq: 0, ack: conn.expectedSeq},
	}}
}

// handleSynAckLocked is the initiator branch of the handshake.
func (e *Endpoint) handleSynAckLocked(conn *Connection, p packet) dispatchResult {
	if conn.established {
		return dispatchResult{}
	}
	conn.expectedSeq = p.seq + 1
	conn.nextSeq = 1
	conn.established = true
	return dispatchResult{outbound: []outPacket{
		{addr: conn.peerAddr, flags: FlagAck, seq: 1, ack: 1},
	}}
}

// handleAckLocked processes an ACK-alone packet.
func (e *Endpoint) handleAckLocked(conn *Connection, p packet) dispatchResult {
	conn.ackWindow(p.ack)

	if sendTime, ok := conn.pendingSend[p.ack]; ok {
		rtt := time.Since(sendTime)
		conn.rtt.sample(rtt)
		delete(conn.pendingSend, p.ack)
		e.counters.addLatencySample(rtt)
	}

	if !conn.established && p.ack > 0 {
		conn.established = true
	}
	return dispatchResult{}
}

// handleDataLocked delivers or buffers a DATA packet and always replies with
// a cumulative ACK.
func (e *Endpoint) handleDataLocked(conn *Connection, p packet) dispatchResult {
	var result dispatchResult

	switch {
	case p.seq == conn.expectedSeq:
		result.delivered = conn.drainInOrder(p.seq, p.payload)
	case p.seq > conn.expectedSeq:
		conn.bufferOutOfOrder(p.seq, p.payload)
		e.counters.addOutOfOrder()
	default:
		// duplicate, seq < expectedSeq: discard silently
	}

	result.outbound = []outPacket{
		{addr: conn.peerAddr, flags: FlagAck, seq: conn.nextSeq, ack: conn.expectedSeq},
	}
	return result
}

// handleFinLocked marks a connection closed and replies with FIN|ACK.
func (e *Endpoint) handleFinLocked(conn *Connection, p packet) dispatchResult {
	conn.connected = false
	return dispatchResult{
		outbound: []outPacket{
			{addr: conn.peerAddr, flags: FlagFin | FlagAck, seq: conn.nextSeq, ack: p.seq + 1},
		},
		disconnected: true,
	}
}
