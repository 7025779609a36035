package transport

import (
	"testing"
	"time"
)

func TestSnapshotDerivesGoodputAndRetransmissionRate(t *testing.T) {
	c := newCounters()
	c.startedAt = time.Now().Add(-2 * time.Second)

	c.addPacketSent(1024)
	c.addPacketSent(1024)
	c.addRetransmit()
	c.addMessageReceived()
	c.addMessageReceived()
	c.addOutOfOrder()
	c.addPacketReceived(100)
	c.addPacketReceived(100)

	s := c.snapshot()

	if s.BytesSent != 2048 {
		t.Errorf("BytesSent = %d, want 2048", s.BytesSent)
	}
	if s.PacketsRetransmitted != 1 {
		t.Errorf("PacketsRetransmitted = %d, want 1", s.PacketsRetransmitted)
	}
	wantPerKB := float64(1*1024) / float64(2048)
	if diff := s.RetransmissionsPerKB - wantPerKB; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("RetransmissionsPerKB = %v, want %v", s.RetransmissionsPerKB, wantPerKB)
	}
	if s.GoodputMsgsPerSec <= 0 {
		t.Errorf("GoodputMsgsPerSec should be positive given messages and elapsed time, got %v", s.GoodputMsgsPerSec)
	}
	wantOutOfOrderPct := float64(1) / float64(2) * 100
	if diff := s.OutOfOrderPercentage - wantOutOfOrderPct; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("OutOfOrderPercentage = %v, want %v", s.OutOfOrderPercentage, wantOutOfOrderPct)
	}
}

func TestSnapshotWithNoTrafficIsAllZero(t *testing.T) {
	c := newCounters()
	s := c.snapshot()

	if s.BytesSent != 0 || s.PacketsRetransmitted != 0 || s.RetransmissionsPerKB != 0 {
		t.Errorf("expected zeroed stats on a fresh endpoint, got %+v", s)
	}
	if s.P95LatencyMillis != 0 {
		t.Errorf("P95LatencyMillis = %v, want 0 with no samples", s.P95LatencyMillis)
	}
}

func TestPercentile95MillisPicksHighSample(t *testing.T) {
	latencies := make([]time.Duration, 0, 20)
	for i := 1; i <= 20; i++ {
		latencies = append(latencies, time.Duration(i)*time.Millisecond)
	}
	p95 := percentile95Millis(latencies)
	// idx = int(20 * 0.95) = 19, zero-based -> the 20ms sample
	if p95 != 20 {
		t.Errorf("p95 = %v, want 20", p95)
	}
}

func TestPercentile95MillisEmpty(t *testing.T) {
	if got := percentile95Millis(nil); got != 0 {
		t.Errorf("percentile95Millis(nil) = %v, want 0", got)
	}
}
