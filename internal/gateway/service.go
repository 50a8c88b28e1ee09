package gateway

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"storypoker/internal/room"
)

// Service routes inbound client actions to the room engine and fans
// the resulting snapshots back out. It tracks per-connection room
// membership so a disconnect can leave the right room without the
// client naming it. Every action either succeeds or degrades to a
// no-op; nothing here errors back across the wire.
type Service struct {
	registry *room.Registry
	reaper   *room.Reaper
	cm       *ConnectionManager

	// ctx bounds the broadcast loop and the reaper timers armed on
	// behalf of disconnects. Set once at construction, before any
	// connection goroutine can read it.
	ctx context.Context
}

// Config holds configuration for the gateway service.
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the gateway.
func DefaultConfig() Config {
	return Config{ConnectionConfig: DefaultConnectionConfig()}
}

// NewService wires the gateway over an externally owned registry and
// reaper. The context bounds everything the service starts.
func NewService(ctx context.Context, config Config, registry *room.Registry, reaper *room.Reaper) *Service {
	s := &Service{
		registry: registry,
		reaper:   reaper,
		ctx:      ctx,
	}
	s.cm = NewConnectionManager(config.ConnectionConfig, s.handleMessage, s.handleDisconnect)
	return s
}

// Start runs the broadcast loop until the service context is
// cancelled.
func (s *Service) Start() {
	s.cm.Start(s.ctx)
}

// ConnectionManager exposes the underlying manager for HTTP wiring.
func (s *Service) ConnectionManager() *ConnectionManager {
	return s.cm
}

// handleMessage runs on the connection's read goroutine for every
// inbound frame. Malformed frames are dropped; the boundary validates
// nothing beyond JSON shape.
func (s *Service) handleMessage(conn *Connection, message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", conn.ID).
			Msg("dropping malformed client message")
		return
	}

	// Room ids are case-normalized at the boundary, never by the core.
	roomID := strings.ToUpper(msg.RoomID)

	switch msg.Type {
	case MessageCheckRoom:
		s.handleCheckRoom(conn, roomID)
	case MessageJoinRoom:
		s.handleJoin(conn, roomID, msg.Name, msg.Role)
	case MessageUpdateDescription:
		s.handleUpdateDescription(roomID, msg.Description)
	case MessageVote:
		s.handleVote(conn, roomID, room.Vote(msg.Vote))
	case MessageRevealResults:
		s.handleReveal(roomID)
	case MessageResetRound:
		s.handleReset(roomID)
	default:
		log.Debug().
			Str("connection_id", conn.ID).
			Str("type", msg.Type).
			Msg("dropping client message of unknown type")
	}
}

// handleCheckRoom answers a pure existence query to the asking
// connection only. No side effects, no broadcast.
func (s *Service) handleCheckRoom(conn *Connection, roomID string) {
	reply, err := json.Marshal(RoomStatusMessage{
		Type:   MessageRoomStatus,
		RoomID: roomID,
		Exists: s.registry.Exists(roomID),
	})
	if err != nil {
		return
	}
	select {
	case conn.Send <- reply:
	default:
	}
}

// handleJoin creates-or-joins the room, cancelling any pending
// deletion first so a rejoin during the grace period revives the room
// intact. A connection already in another room leaves it on the way.
func (s *Service) handleJoin(conn *Connection, roomID, name string, role room.Role) {
	if roomID == "" {
		return
	}
	if role != room.RoleObserver {
		role = room.RoleEstimator
	}

	if conn.RoomID != "" && conn.RoomID != roomID {
		s.leaveRoom(conn, conn.RoomID)
	}

	s.reaper.Cancel(roomID)
	r, _ := s.registry.GetOrCreate(roomID)
	snap := r.Join(conn.ID, name, role)

	s.cm.JoinRoom(conn, roomID)
	conn.RoomID = roomID

	s.broadcast(roomID, snap)

	log.Info().
		Str("room_id", roomID).
		Str("connection_id", conn.ID).
		Str("name", name).
		Str("role", string(role)).
		Msg("participant joined room")
}

func (s *Service) handleUpdateDescription(roomID, description string) {
	r := s.registry.Get(roomID)
	if r == nil {
		return
	}
	s.broadcast(roomID, r.UpdateDescription(description))
}

// handleVote records the caller's vote. Observer votes and votes from
// connections no longer on the roster change nothing and broadcast
// nothing.
func (s *Service) handleVote(conn *Connection, roomID string, vote room.Vote) {
	r := s.registry.Get(roomID)
	if r == nil {
		return
	}
	if snap, changed := r.CastVote(conn.ID, vote); changed {
		s.broadcast(roomID, snap)
	}
}

func (s *Service) handleReveal(roomID string) {
	r := s.registry.Get(roomID)
	if r == nil {
		return
	}
	s.broadcast(roomID, r.Reveal())
}

func (s *Service) handleReset(roomID string) {
	r := s.registry.Get(roomID)
	if r == nil {
		return
	}
	s.broadcast(roomID, r.Reset())
}

// handleDisconnect runs once per connection when its read loop ends,
// and routes the implicit leave to whichever room the connection was
// in.
func (s *Service) handleDisconnect(conn *Connection) {
	log.Info().Str("connection_id", conn.ID).Msg("WebSocket connection closed")

	if conn.RoomID == "" {
		return
	}
	s.leaveRoom(conn, conn.RoomID)
	conn.RoomID = ""
}

// leaveRoom applies the leave transition. A room drained to zero
// members is handed to the reaper instead of being deleted outright;
// otherwise the remaining members see the updated roster.
func (s *Service) leaveRoom(conn *Connection, roomID string) {
	s.cm.LeaveRoom(conn, roomID)

	r := s.registry.Get(roomID)
	if r == nil {
		return
	}
	snap, empty, found := r.Leave(conn.ID)
	if !found {
		return
	}
	if empty {
		s.reaper.Schedule(s.ctx, roomID)
		return
	}
	s.broadcast(roomID, snap)
}

// broadcast marshals the snapshot at mutation time and enqueues the
// exact bytes, so a later mutation can never bleed into this update.
func (s *Service) broadcast(roomID string, snap room.Snapshot) {
	data, err := json.Marshal(RoomUpdateMessage{Type: MessageRoomUpdate, Room: snap})
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to marshal room snapshot")
		return
	}
	s.cm.Broadcast(roomID, data)
}
