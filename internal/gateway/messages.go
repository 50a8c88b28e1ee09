package gateway

import (
	"encoding/json"

	"storypoker/internal/room"
)

// Message types exchanged over the WebSocket. Client messages share one
// envelope with optional fields; which fields matter depends on Type.
const (
	// client -> server
	MessageCheckRoom         = "check_room"
	MessageJoinRoom          = "join_room"
	MessageUpdateDescription = "update_description"
	MessageVote              = "vote"
	MessageRevealResults     = "reveal_results"
	MessageResetRound        = "reset_round"

	// server -> client
	MessageRoomUpdate = "room_update"
	MessageRoomStatus = "room_status"
)

// ClientMessage is the inbound envelope.
type ClientMessage struct {
	Type        string          `json:"type"`
	RoomID      string          `json:"roomId"`
	Name        string          `json:"name,omitempty"`
	Role        room.Role       `json:"role,omitempty"`
	Description string          `json:"description,omitempty"`
	Vote        json.RawMessage `json:"vote,omitempty"`
}

// RoomUpdateMessage carries the full room snapshot pushed to every
// member after a mutation.
type RoomUpdateMessage struct {
	Type string        `json:"type"`
	Room room.Snapshot `json:"room"`
}

// RoomStatusMessage is the reply to a check_room existence query.
type RoomStatusMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	Exists bool   `json:"exists"`
}
