package transport

import (
	"context"
	"net"
	"time"
)

// retransmitTick is how often the timer loop scans send windows for
// entries overdue for retransmission.
const retransmitTick = 100 * time.Millisecond

// retransmitLoop is the endpoint's second background goroutine: it wakes on
// a fixed tick, independent of any particular connection's RTO, and
// re-emits whatever is overdue.
func (e *Endpoint) retransmitLoop(ctx context.Context) error {
	ticker := time.NewTicker(retransmitTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.retransmitDue()
		}
	}
}

// dueRetransmission is one send-window entry that has aged past its
// connection's current RTO and needs re-emission.
type dueRetransmission struct {
	addr    *net.UDPAddr
	flags   byte
	seq     uint32
	ack     uint32
	payload []byte
}

// retransmitDue scans every established connection's send window under the
// endpoint lock, collecting overdue entries, then performs the actual
// socket writes after releasing the lock so retransmission never blocks
// other goroutines waiting on it.
func (e *Endpoint) retransmitDue() {
	now := time.Now()
	var due []dueRetransmission

	e.mu.Lock()
	for _, conn := range e.allConnectionsLocked() {
		if !conn.established {
			continue
		}
		for i := range conn.sendWindow {
			entry := &conn.sendWindow[i]
			if now.Sub(entry.lastSend) <= conn.rtt.rto {
				continue
			}
			due = append(due, dueRetransmission{
				addr:    conn.peerAddr,
				flags:   entry.flags,
				seq:     entry.seq,
				ack:     entry.ack,
				payload: entry.payload,
			})
			entry.lastSend = now
		}
	}
	e.mu.Unlock()

	for _, r := range due {
		e.transmit(r.addr, r.flags, r.seq, r.ack, r.payload)
		e.counters.addRetransmit()
	}
}
