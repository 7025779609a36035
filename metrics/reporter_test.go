package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"chatspace/transport"
)

type fakeProvider struct {
	stats transport.Stats
}

func (f fakeProvider) Stats() transport.Stats {
	return f.stats
}

func TestRegisterGaugesPopulatesRegistry(t *testing.T) {
	p := fakeProvider{stats: transport.Stats{
		PacketsSent:          10,
		PacketsRetransmitted: 2,
		P95LatencyMillis:     42.5,
	}}
	r := NewReporter(p, "Test")
	r.registerGauges()

	got, err := testutil.GatherAndCount(r.registry)
	require.NoError(t, err)
	require.Greater(t, got, 0)
}

func TestServeWithEmptyAddrIsNoop(t *testing.T) {
	r := NewReporter(fakeProvider{}, "Test")
	err := r.Serve(context.Background(), "")
	require.NoError(t, err)
}

func TestPrintReportDoesNotPanic(t *testing.T) {
	p := fakeProvider{stats: transport.Stats{Uptime: 5 * time.Second}}
	r := NewReporter(p, "Test")
	require.NotPanics(t, r.PrintReport)
}
