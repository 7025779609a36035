package chat

import (
	"encoding/json"
	"net"
	"time"

	"chatspace/pkg/logger"
	"chatspace/transport"
)

// Client is a thin chat-protocol wrapper around a connecting-mode
// transport.Endpoint.
type Client struct {
	ep   *transport.Endpoint
	conn *transport.Connection

	onEnvelope func(Envelope)
}

// NewClient dials serverAddr and completes the transport handshake.
func NewClient(localPort int, serverAddr *net.UDPAddr, timeout time.Duration) (*Client, error) {
	ep := transport.New(localPort)
	conn, err := ep.Connect(serverAddr, timeout)
	if err != nil {
		return nil, err
	}

	c := &Client{ep: ep, conn: conn}
	conn.OnMessage(c.handlePayload)
	return c, nil
}

// OnEnvelope registers the callback invoked once per decoded server
// message.
func (c *Client) OnEnvelope(cb func(Envelope)) {
	c.onEnvelope = cb
}

// Shutdown closes the client's endpoint.
func (c *Client) Shutdown() error {
	return c.ep.Shutdown()
}

// Stats exposes the underlying transport's counters.
func (c *Client) Stats() transport.Stats {
	return c.ep.Stats()
}

func (c *Client) handlePayload(payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		logger.Warn("malformed message from server: %v", err)
		return
	}
	if c.onEnvelope != nil {
		c.onEnvelope(env)
	}
}

func (c *Client) send(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.ep.Send(c.conn, data)
}

// Login sends a LOGIN request with the given display name.
func (c *Client) Login(name string) error {
	return c.send(Envelope{Type: TypeLogin, Name: name})
}

// Join sends a JOIN request for room.
func (c *Client) Join(room string) error {
	return c.send(Envelope{Type: TypeJoin, Room: room})
}

// Leave sends a LEAVE request for room.
func (c *Client) Leave(room string) error {
	return c.send(Envelope{Type: TypeLeave, Room: room})
}

// SendMsg broadcasts text to everyone in room.
func (c *Client) SendMsg(room, text string) error {
	return c.send(Envelope{Type: TypeMsg, Room: room, Text: text})
}

// SendDM sends a direct message to target.
func (c *Client) SendDM(target, text string) error {
	return c.send(Envelope{Type: TypeDM, Target: target, Text: text})
}
