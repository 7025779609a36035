package chat

import (
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type envelopeCollector struct {
	mu   sync.Mutex
	envs []Envelope
}

func (c *envelopeCollector) add(e Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, e)
}

func (c *envelopeCollector) snapshot() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Envelope(nil), c.envs...)
}

func (c *envelopeCollector) hasType(want string) bool {
	for _, e := range c.snapshot() {
		if e.Type == want {
			return true
		}
	}
	return false
}

func newTestServer(t *testing.T) (*Server, int) {
	t.Helper()
	s := NewServer(0, 100)
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Shutdown() })

	addr := s.ep.LocalAddr()
	require.NotNil(t, addr)
	return s, addr.Port
}

func newTestClient(t *testing.T, port int) (*Client, *envelopeCollector) {
	t.Helper()
	c, err := NewClient(0, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { c.Shutdown() })

	col := &envelopeCollector{}
	c.OnEnvelope(col.add)
	return c, col
}

func TestLoginRejectsDuplicateName(t *testing.T) {
	_, port := newTestServer(t)

	alice, aliceEvents := newTestClient(t, port)
	require.NoError(t, alice.Login("alice"))
	require.Eventually(t, func() bool { return aliceEvents.hasType(TypeInfo) }, 2*time.Second, 10*time.Millisecond)

	bob, bobEvents := newTestClient(t, port)
	require.NoError(t, bob.Login("alice"))
	require.Eventually(t, func() bool { return bobEvents.hasType(TypeInfo) }, 2*time.Second, 10*time.Millisecond)

	msg := bobEvents.snapshot()[0]
	require.Contains(t, msg.Msg, "already taken")
}

func TestJoinAndBroadcastMsg(t *testing.T) {
	_, port := newTestServer(t)

	alice, aliceEvents := newTestClient(t, port)
	bob, bobEvents := newTestClient(t, port)

	require.NoError(t, alice.Login("alice"))
	require.NoError(t, bob.Login("bob"))
	require.NoError(t, alice.Join("general"))
	require.NoError(t, bob.Join("general"))

	require.Eventually(t, func() bool {
		return len(aliceEvents.snapshot()) >= 2 && len(bobEvents.snapshot()) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.SendMsg("general", "hello room"))

	require.Eventually(t, func() bool { return bobEvents.hasType(TypeChat) }, 2*time.Second, 10*time.Millisecond, "bob never received the broadcast chat message")

	for _, e := range bobEvents.snapshot() {
		if e.Type == TypeChat {
			require.Equal(t, "alice", e.Sender)
			require.Equal(t, "hello room", e.Text)
		}
	}
}

func TestJoinReplaysHistory(t *testing.T) {
	_, port := newTestServer(t)

	alice, _ := newTestClient(t, port)
	require.NoError(t, alice.Login("alice"))
	require.NoError(t, alice.Join("general"))
	time.Sleep(100 * time.Millisecond) // let the JOIN round trip complete before sending
	require.NoError(t, alice.SendMsg("general", "first message"))

	time.Sleep(200 * time.Millisecond) // let the message land and be recorded in history

	bob, bobEvents := newTestClient(t, port)
	require.NoError(t, bob.Login("bob"))
	require.NoError(t, bob.Join("general"))

	require.Eventually(t, func() bool { return bobEvents.hasType(TypeHistory) }, 2*time.Second, 10*time.Millisecond)

	for _, e := range bobEvents.snapshot() {
		if e.Type == TypeHistory {
			require.Len(t, e.History, 1)
			require.Equal(t, "first message", e.History[0].Text)
		}
	}
}

func TestDirectMessageToUnknownUserFails(t *testing.T) {
	_, port := newTestServer(t)

	alice, aliceEvents := newTestClient(t, port)
	require.NoError(t, alice.Login("alice"))
	require.Eventually(t, func() bool { return aliceEvents.hasType(TypeInfo) }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.SendDM("ghost", "hi?"))

	require.Eventually(t, func() bool {
		for _, e := range aliceEvents.snapshot() {
			if e.Type == TypeInfo && strings.Contains(e.Msg, "not found") {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}
