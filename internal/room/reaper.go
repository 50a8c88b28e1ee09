package room

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DefaultGracePeriod is how long an emptied room stays alive to
// tolerate a reconnect before it is reclaimed.
const DefaultGracePeriod = 5 * time.Minute

// Reaper reclaims rooms that have sat empty for a full grace period.
// Schedule arms a one-shot timer for a room id; Cancel disarms it.
// When the timer fires, the room is deleted only if it still exists and
// is still empty at that moment, which closes the race against a rejoin
// landing just before the timer goes off.
type Reaper struct {
	registry *Registry
	clock    clockwork.Clock
	grace    time.Duration

	mu     sync.Mutex
	timers map[string]reaperTimer
}

// reaperTimer pairs a pending timer with a done channel that releases
// the waiting goroutine when the timer is cancelled or replaced, since
// a stopped timer's channel never fires.
type reaperTimer struct {
	timer clockwork.Timer
	done  chan struct{}
}

// NewReaper creates a reaper over the given registry using the real
// clock. Tests substitute a fake clock via NewReaperWithClock.
func NewReaper(registry *Registry, grace time.Duration) *Reaper {
	return NewReaperWithClock(registry, grace, clockwork.NewRealClock())
}

// NewReaperWithClock is NewReaper with an injectable clock.
func NewReaperWithClock(registry *Registry, grace time.Duration, clock clockwork.Clock) *Reaper {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Reaper{
		registry: registry,
		clock:    clock,
		grace:    grace,
		timers:   make(map[string]reaperTimer),
	}
}

// Schedule arms deferred deletion for a room id. An already-armed timer
// for the same id is replaced cleanly, so at most one timer is ever
// active per room. The ctx cancels the wait without deleting anything.
func (rp *Reaper) Schedule(ctx context.Context, roomID string) {
	rt := reaperTimer{
		timer: rp.clock.NewTimer(rp.grace),
		done:  make(chan struct{}),
	}
	rp.replaceTimer(roomID, rt)

	go func() {
		select {
		case <-rt.timer.Chan():
			rp.removeTimer(roomID)
			rp.reap(roomID)
		case <-rt.done:
			// Cancelled or replaced; whoever closed done already
			// stopped the timer and cleaned up the map.
		case <-ctx.Done():
			stopAndDrainTimer(rt.timer)
			rp.removeTimer(roomID)
		}
	}()

	log.Info().
		Str("room_id", roomID).
		Dur("grace_period", rp.grace).
		Msg("room empty, deletion scheduled")
}

// Cancel disarms a pending deletion if one is armed; calling it when
// none is armed is safe.
func (rp *Reaper) Cancel(roomID string) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rt, ok := rp.timers[roomID]; ok {
		stopAndDrainTimer(rt.timer)
		close(rt.done)
		delete(rp.timers, roomID)
		log.Info().Str("room_id", roomID).Msg("room deletion cancelled")
	}
}

// reap deletes the room only if it still exists and is still empty at
// fire time. The emptiness re-check and the removal happen as one
// registry operation rather than a check-then-delete pair.
func (rp *Reaper) reap(roomID string) {
	if rp.registry.DeleteIfEmpty(roomID) {
		log.Info().Str("room_id", roomID).Msg("room reclaimed after grace period")
	}
}

// replaceTimer atomically swaps in a new timer for a room, cancelling
// any existing one so a stale timer can never fire for this id and its
// goroutine does not linger.
func (rp *Reaper) replaceTimer(roomID string, rt reaperTimer) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if existing, ok := rp.timers[roomID]; ok {
		stopAndDrainTimer(existing.timer)
		close(existing.done)
	}
	rp.timers[roomID] = rt
}

func (rp *Reaper) removeTimer(roomID string) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	delete(rp.timers, roomID)
}

// stopAndDrainTimer stops a timer and drains its channel if it already
// fired, per the time.Timer.Stop documentation.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
