package room

import (
	"encoding/json"
	"sync"
)

// DefaultDescription is assigned to a room the moment it is created,
// before anyone edits the story text.
const DefaultDescription = "New Story"

// Role determines whether a participant may cast votes.
type Role string

const (
	RoleEstimator Role = "estimator"
	RoleObserver  Role = "observer"
)

// Vote is an opaque card value as JSON (a number, "?", "☕", ...).
// A nil Vote means no vote has been cast and marshals as null.
type Vote = json.RawMessage

// User is one participant's membership record within a room.
type User struct {
	ConnectionID string
	Name         string
	Role         Role
	Vote         Vote
}

// Room is one estimation session. All mutations go through the
// transition methods, which hold the room's own lock so that no two
// transitions on the same room ever interleave. Every transition
// returns a Snapshot captured under the lock, so a broadcast built
// from it always reflects exactly the state that transition produced.
type Room struct {
	mu          sync.Mutex
	id          string
	description string
	users       []*User
	reveal      bool
}

// New creates an empty, unrevealed room with the default description.
func New(id string) *Room {
	return &Room{
		id:          id,
		description: DefaultDescription,
	}
}

// ID returns the room's external identifier.
func (r *Room) ID() string {
	return r.id
}

// Join adds a participant to the roster with no vote cast. Joining with
// a connection id that is already on the roster replaces that entry in
// place: the same live connection re-announcing itself is a rejoin, not
// a second participant. Distinct connections with identical display
// names stay distinct.
func (r *Room) Join(connectionID, name string, role Role) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	user := &User{ConnectionID: connectionID, Name: name, Role: role}
	for i, u := range r.users {
		if u.ConnectionID == connectionID {
			r.users[i] = user
			return r.snapshotLocked()
		}
	}
	r.users = append(r.users, user)
	return r.snapshotLocked()
}

// UpdateDescription replaces the story text unconditionally;
// last write wins.
func (r *Room) UpdateDescription(text string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.description = text
	return r.snapshotLocked()
}

// CastVote records a vote for the participant with the given connection
// id. Observers never accumulate a vote regardless of the value sent; a
// connection id not on the roster is a no-op. The returned bool reports
// whether anything changed.
func (r *Room) CastVote(connectionID string, vote Vote) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.ConnectionID != connectionID {
			continue
		}
		if u.Role == RoleObserver {
			return r.snapshotLocked(), false
		}
		u.Vote = vote
		return r.snapshotLocked(), true
	}
	return r.snapshotLocked(), false
}

// Reveal makes all cast votes visible. Idempotent; revealing an
// already-revealed room still yields a broadcastable snapshot.
func (r *Room) Reveal() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reveal = true
	return r.snapshotLocked()
}

// Reset clears every vote and hides results again. Idempotent.
func (r *Room) Reset() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reveal = false
	for _, u := range r.users {
		u.Vote = nil
	}
	return r.snapshotLocked()
}

// Leave removes the first roster entry matching the connection id (a
// connection belongs to at most one room, so at most one entry can
// match). The returned empty flag tells the caller whether the room
// just drained to zero members and should be handed to the reaper.
func (r *Room) Leave(connectionID string) (snap Snapshot, empty, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, u := range r.users {
		if u.ConnectionID == connectionID {
			r.users = append(r.users[:i], r.users[i+1:]...)
			found = true
			break
		}
	}
	return r.snapshotLocked(), len(r.users) == 0, found
}

// Empty reports whether the roster has drained to zero members.
func (r *Room) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users) == 0
}

// Snapshot returns the current state without mutating anything.
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() Snapshot {
	users := make([]UserSnapshot, len(r.users))
	for i, u := range r.users {
		users[i] = UserSnapshot{
			ID:   u.ConnectionID,
			Name: u.Name,
			Role: u.Role,
			Vote: u.Vote,
		}
	}
	return Snapshot{
		ID:          r.id,
		Description: r.description,
		Users:       users,
		Reveal:      r.reveal,
	}
}

// Snapshot is the full room state pushed to clients after every
// mutation. Clients replace their entire view with it; nothing is
// diffed. Field names are the wire contract.
type Snapshot struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Users       []UserSnapshot `json:"users"`
	Reveal      bool           `json:"reveal"`
}

// UserSnapshot mirrors one roster entry on the wire.
type UserSnapshot struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
	Vote Vote   `json:"vote"`
}
