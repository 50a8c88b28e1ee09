package room

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry is the process-wide mapping from room id to live room.
// It is constructed once at startup and handed to the gateway and the
// reaper; nothing reaches it as ambient global state. Unknown ids are
// valid inputs everywhere and simply report false or no-op.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// GetOrCreate returns the room with the given id, creating it
// atomically if absent. The created flag tells the caller whether this
// call brought the room into existence.
func (reg *Registry) GetOrCreate(id string) (*Room, bool) {
	reg.mu.RLock()
	r, ok := reg.rooms[id]
	reg.mu.RUnlock()
	if ok {
		return r, false
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok = reg.rooms[id]; ok {
		return r, false
	}
	r = New(id)
	reg.rooms[id] = r
	log.Info().Str("room_id", id).Msg("room created")
	return r, true
}

// Get returns the room with the given id, or nil if it does not exist.
func (reg *Registry) Get(id string) *Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.rooms[id]
}

// Exists reports whether a room with the given id is currently alive.
func (reg *Registry) Exists(id string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	_, ok := reg.rooms[id]
	return ok
}

// Delete removes the room if it exists; deleting an unknown id is a
// no-op.
func (reg *Registry) Delete(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.rooms[id]; ok {
		delete(reg.rooms, id)
		log.Info().Str("room_id", id).Msg("room deleted")
	}
}

// DeleteIfEmpty removes the room only if it exists and its roster is
// empty. The roster check happens under the registry write lock, so
// the check and the removal are atomic with respect to every other
// registry operation. Reports whether the room was removed.
func (reg *Registry) DeleteIfEmpty(id string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[id]
	if !ok || !r.Empty() {
		return false
	}
	delete(reg.rooms, id)
	log.Info().Str("room_id", id).Msg("room deleted")
	return true
}

// Len returns the number of live rooms.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}
