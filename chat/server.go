package chat

import (
	"encoding/json"
	"strings"
	"sync"

	"chatspace/pkg/logger"
	"chatspace/transport"
)

const defaultRoom = "general"

// Server is the group-chat application: it owns room membership, per-room
// history, and username registration on top of a single listening
// transport.Endpoint.
type Server struct {
	ep *transport.Endpoint

	mu           sync.Mutex
	conns        map[string]*transport.Connection
	usernames    map[string]string
	rooms        map[string][]string
	history      map[string][]HistoryEntry
	historyLimit int
}

// NewServer constructs a chat server bound to localPort. historyLimit caps
// how many messages each room's replay buffer retains; 100 is the default,
// configurable via internal/config.
func NewServer(localPort int, historyLimit int) *Server {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	s := &Server{
		ep:           transport.New(localPort),
		conns:        make(map[string]*transport.Connection),
		usernames:    make(map[string]string),
		rooms:        map[string][]string{defaultRoom: {}},
		history:      map[string][]HistoryEntry{defaultRoom: {}},
		historyLimit: historyLimit,
	}
	s.ep.OnNewConnection(s.onNewConnection)
	return s
}

// Start binds the listening socket and begins accepting connections.
func (s *Server) Start() error {
	return s.ep.Listen()
}

// Shutdown stops the server's endpoint.
func (s *Server) Shutdown() error {
	return s.ep.Shutdown()
}

// Stats exposes the underlying transport's counters for metrics.Reporter.
func (s *Server) Stats() transport.Stats {
	return s.ep.Stats()
}

func (s *Server) onNewConnection(conn *transport.Connection) {
	logger.Info("new client connected: %s", conn.ID)

	s.mu.Lock()
	s.conns[conn.ID] = conn
	s.mu.Unlock()

	conn.OnMessage(func(payload []byte) { s.handleMessage(conn, payload) })
	conn.OnDisconnect(func() { s.handleDisconnect(conn) })
}

func (s *Server) handleMessage(conn *transport.Connection, payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		logger.Warn("malformed message from %s: %v", conn.ID, err)
		return
	}

	switch env.Type {
	case TypeLogin:
		s.handleLogin(conn, env)
	case TypeJoin:
		s.handleJoin(conn, env)
	case TypeLeave:
		s.handleLeave(conn, env)
	case TypeMsg:
		s.handleMsg(conn, env)
	case TypeDM:
		s.handleDM(conn, env)
	default:
		logger.Warn("unknown message type %q from %s", env.Type, conn.ID)
	}
}

func (s *Server) handleLogin(conn *transport.Connection, env Envelope) {
	name := strings.TrimSpace(env.Name)

	s.mu.Lock()
	taken := false
	for _, u := range s.usernames {
		if u == name {
			taken = true
			break
		}
	}
	if !taken {
		s.usernames[conn.ID] = name
	}
	s.mu.Unlock()

	if taken {
		s.sendInfo(conn, "Name '"+name+"' is already taken")
		return
	}
	logger.Info("user %q logged in (%s)", name, conn.ID)
	s.sendInfo(conn, "Welcome, "+name+"!")
}

func (s *Server) handleJoin(conn *transport.Connection, env Envelope) {
	room := strings.TrimSpace(env.Room)
	if room == "" {
		room = defaultRoom
	}

	s.mu.Lock()
	username, loggedIn := s.usernames[conn.ID]
	if !loggedIn {
		s.mu.Unlock()
		s.sendInfo(conn, "Please login first before joining a room")
		return
	}

	if _, ok := s.rooms[room]; !ok {
		s.rooms[room] = nil
		s.history[room] = nil
		logger.Info("new room created: %s", room)
	}
	for r, members := range s.rooms {
		s.rooms[r] = removeID(members, conn.ID)
	}
	s.rooms[room] = append(s.rooms[room], conn.ID)
	roomHistory := append([]HistoryEntry(nil), s.history[room]...)
	s.mu.Unlock()

	logger.Info("%s joined room %q", username, room)

	if len(roomHistory) > 0 {
		s.send(conn, Envelope{Type: TypeHistory, Room: room, History: roomHistory})
	}
	s.broadcast(room, Envelope{Type: TypeInfo, Msg: username + " joined " + room}, conn.ID)
	s.sendInfo(conn, "You joined "+room)
}

func (s *Server) handleLeave(conn *transport.Connection, env Envelope) {
	room := strings.TrimSpace(env.Room)

	s.mu.Lock()
	members, ok := s.rooms[room]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.rooms[room] = removeID(members, conn.ID)
	username := s.usernames[conn.ID]
	s.mu.Unlock()

	s.broadcast(room, Envelope{Type: TypeInfo, Msg: username + " left " + room}, "")
}

func (s *Server) handleMsg(conn *transport.Connection, env Envelope) {
	room := strings.TrimSpace(env.Room)
	text := strings.TrimSpace(env.Text)
	if room == "" || text == "" {
		return
	}

	s.mu.Lock()
	members := s.rooms[room]
	inRoom := containsID(members, conn.ID)
	username := s.usernames[conn.ID]
	s.mu.Unlock()

	if !inRoom {
		s.sendInfo(conn, "You are not in room '"+room+"'")
		return
	}

	logger.Info("[%s] %s: %s", room, username, text)

	s.broadcast(room, Envelope{Type: TypeChat, Room: room, Sender: username, Text: text}, "")

	s.mu.Lock()
	s.history[room] = append(s.history[room], HistoryEntry{Sender: username, Text: text})
	if len(s.history[room]) > s.historyLimit {
		s.history[room] = s.history[room][len(s.history[room])-s.historyLimit:]
	}
	s.mu.Unlock()
}

func (s *Server) handleDM(conn *transport.Connection, env Envelope) {
	target := strings.TrimSpace(env.Target)
	text := strings.TrimSpace(env.Text)
	if target == "" || text == "" {
		return
	}

	s.mu.Lock()
	var targetConn *transport.Connection
	for id, uname := range s.usernames {
		if uname == target {
			targetConn = s.conns[id]
			break
		}
	}
	sender := s.usernames[conn.ID]
	s.mu.Unlock()

	if targetConn == nil {
		s.sendInfo(conn, "User '"+target+"' not found")
		return
	}

	logger.Info("DM: %s -> %s: %s", sender, target, text)
	s.send(targetConn, Envelope{Type: TypeDM, Sender: sender, Text: text})
	s.sendInfo(conn, "DM sent to "+target)
}

func (s *Server) handleDisconnect(conn *transport.Connection) {
	logger.Info("client %s disconnected", conn.ID)

	s.mu.Lock()
	username := s.usernames[conn.ID]
	affected := make([]string, 0)
	for room, members := range s.rooms {
		if containsID(members, conn.ID) {
			s.rooms[room] = removeID(members, conn.ID)
			affected = append(affected, room)
		}
	}
	delete(s.conns, conn.ID)
	delete(s.usernames, conn.ID)
	s.mu.Unlock()

	for _, room := range affected {
		s.broadcast(room, Envelope{Type: TypeInfo, Msg: username + " disconnected"}, "")
	}
}

func (s *Server) broadcast(room string, env Envelope, excludeID string) {
	s.mu.Lock()
	members := append([]string(nil), s.rooms[room]...)
	recipients := make([]*transport.Connection, 0, len(members))
	for _, id := range members {
		if id == excludeID {
			continue
		}
		if c, ok := s.conns[id]; ok {
			recipients = append(recipients, c)
		}
	}
	s.mu.Unlock()

	for _, c := range recipients {
		s.send(c, env)
	}
}

func (s *Server) sendInfo(conn *transport.Connection, msg string) {
	s.send(conn, Envelope{Type: TypeInfo, Msg: msg})
}

func (s *Server) send(conn *transport.Connection, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		logger.Error("encoding %s message: %v", env.Type, err)
		return
	}
	if err := s.ep.Send(conn, data); err != nil {
		logger.Warn("sending %s message to %s: %v", env.Type, conn.ID, err)
	}
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
