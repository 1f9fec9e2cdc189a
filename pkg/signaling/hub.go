package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/sigweihq/companionpay/pkg/metrics"
)

// Message types relayed between peers
const (
	TypeOffer  = "offer"
	TypeAnswer = "answer"
	TypeICE    = "ice"
	TypeHangup = "hangup"
)

// Message types emitted by the relay
const (
	TypeJoined     = "joined"
	TypePeerJoined = "peer-joined"
	TypePeerLeft   = "peer-left"
	TypeError      = "error"
)

const maxPeersPerRoom = 2

var (
	ErrRoomFull      = errors.New("room full")
	ErrAlreadyJoined = errors.New("already joined this room")
)

// Envelope is the wire format of every signaling message
type Envelope struct {
	Type    string          `json:"type"`
	From    string          `json:"from,omitempty"`
	Peers   int             `json:"peers,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Relayable reports whether peers may send this type to each other
func Relayable(msgType string) bool {
	switch msgType {
	case TypeOffer, TypeAnswer, TypeICE, TypeHangup:
		return true
	}
	return false
}

// Peer is one connected participant. Outbound messages are buffered; a peer
// that falls behind loses messages instead of blocking the room.
type Peer struct {
	UserID string
	send   chan []byte
}

func NewPeer(userID string, buffer int) *Peer {
	return &Peer{UserID: userID, send: make(chan []byte, buffer)}
}

// Outbound is the peer's queue of encoded messages
func (p *Peer) Outbound() <-chan []byte {
	return p.send
}

func (p *Peer) deliver(data []byte) bool {
	select {
	case p.send <- data:
		return true
	default:
		return false
	}
}

// room holds at most two peers
type room struct {
	peers map[string]*Peer
}

type Hub struct {
	mu      sync.Mutex
	rooms   map[string]*room
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewHub(m *metrics.Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{rooms: make(map[string]*room), metrics: m, logger: logger}
}

// Join adds the peer to the room, tells it how many peers are present and
// announces it to the other peer
func (h *Hub) Join(roomID string, p *Peer) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		r = &room{peers: make(map[string]*Peer)}
		h.rooms[roomID] = r
	}
	if _, exists := r.peers[p.UserID]; exists {
		return ErrAlreadyJoined
	}
	if len(r.peers) >= maxPeersPerRoom {
		return ErrRoomFull
	}
	r.peers[p.UserID] = p
	h.metrics.PeerConnected()

	p.deliver(encode(Envelope{Type: TypeJoined, Peers: len(r.peers)}))
	h.broadcastLocked(r, p.UserID, Envelope{Type: TypePeerJoined, From: p.UserID})
	h.logger.Debug("signaling peer joined", "room", roomID, "user_id", p.UserID, "peers", len(r.peers))
	return nil
}

// Leave removes the peer and tells the other one. Empty rooms are dropped.
func (h *Hub) Leave(roomID string, p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		return
	}
	if current, ok := r.peers[p.UserID]; !ok || current != p {
		return
	}
	delete(r.peers, p.UserID)
	h.metrics.PeerDisconnected()
	h.broadcastLocked(r, p.UserID, Envelope{Type: TypePeerLeft, From: p.UserID})
	if len(r.peers) == 0 {
		delete(h.rooms, roomID)
	}
}

// Relay forwards a peer's message to the other peer in the room
func (h *Hub) Relay(roomID string, from *Peer, msg Envelope) {
	if !Relayable(msg.Type) {
		from.deliver(encode(Envelope{Type: TypeError, Error: "unsupported message type " + msg.Type}))
		return
	}
	msg.From = from.UserID
	msg.Error = ""
	msg.Peers = 0

	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[roomID]; ok {
		h.broadcastLocked(r, from.UserID, msg)
	}
}

// PeerCount returns how many peers are in a room
func (h *Hub) PeerCount(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[roomID]; ok {
		return len(r.peers)
	}
	return 0
}

func (h *Hub) broadcastLocked(r *room, sender string, msg Envelope) {
	data := encode(msg)
	for uid, peer := range r.peers {
		if uid == sender {
			continue
		}
		if !peer.deliver(data) {
			h.logger.Warn("signaling peer too slow, dropped message", "user_id", uid, "type", msg.Type)
		}
	}
}

func encode(msg Envelope) []byte {
	data, _ := json.Marshal(msg)
	return data
}
