package transport

import (
	"testing"
	"time"
)

func TestRTTEstimatorFirstSample(t *testing.T) {
	e := newRTTEstimator()
	e.sample(200 * time.Millisecond)

	if e.srtt != 200*time.Millisecond {
		t.Errorf("srtt = %v, want 200ms", e.srtt)
	}
	if e.rttvar != 100*time.Millisecond {
		t.Errorf("rttvar = %v, want 100ms", e.rttvar)
	}
	// rto = srtt + 4*rttvar = 200ms + 400ms = 600ms
	if e.rto != 600*time.Millisecond {
		t.Errorf("rto = %v, want 600ms", e.rto)
	}
}

func TestRTTEstimatorConvergesOnStableSamples(t *testing.T) {
	e := newRTTEstimator()
	for i := 0; i < 50; i++ {
		e.sample(100 * time.Millisecond)
	}

	if e.srtt < 99*time.Millisecond || e.srtt > 101*time.Millisecond {
		t.Errorf("srtt = %v, want close to 100ms after convergence", e.srtt)
	}
	if e.rttvar > 2*time.Millisecond {
		t.Errorf("rttvar = %v, want near zero after convergence on identical samples", e.rttvar)
	}
}

func TestRTTEstimatorClampsToMinimum(t *testing.T) {
	e := newRTTEstimator()
	for i := 0; i < 10; i++ {
		e.sample(time.Microsecond)
	}
	if e.rto != minRTO {
		t.Errorf("rto = %v, want clamped to minRTO %v", e.rto, minRTO)
	}
}

func TestRTTEstimatorClampsToMaximum(t *testing.T) {
	e := newRTTEstimator()
	e.sample(time.Minute)
	if e.rto != maxRTO {
		t.Errorf("rto = %v, want clamped to maxRTO %v", e.rto, maxRTO)
	}
}

func TestRTTEstimatorStaysWithinBoundsAcrossJitter(t *testing.T) {
	e := newRTTEstimator()
	samples := []time.Duration{
		50 * time.Millisecond, 500 * time.Millisecond, 20 * time.Millisecond,
		2 * time.Second, 10 * time.Millisecond, 80 * time.Millisecond,
	}
	for _, s := range samples {
		e.sample(s)
		if e.rto < minRTO || e.rto > maxRTO {
			t.Fatalf("rto = %v, out of bounds [%v, %v]", e.rto, minRTO, maxRTO)
		}
	}
}
