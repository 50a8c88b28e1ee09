package room

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

const testGrace = 5 * time.Minute

func newTestReaper(t *testing.T) (*Registry, *Reaper, *clockwork.FakeClock) {
	t.Helper()
	reg := NewRegistry()
	clock := clockwork.NewFakeClock()
	return reg, NewReaperWithClock(reg, testGrace, clock), clock
}

func TestReaper_DeletesEmptyRoomAfterGracePeriod(t *testing.T) {
	req := require.New(t)
	reg, reaper, clock := newTestReaper(t)
	reg.GetOrCreate("XY99")

	reaper.Schedule(context.Background(), "XY99")
	clock.Advance(testGrace + time.Second)

	req.Eventually(func() bool {
		return !reg.Exists("XY99")
	}, time.Second, 10*time.Millisecond, "room should be reclaimed after the grace period")
}

func TestReaper_RoomSurvivesUntilGracePeriodElapses(t *testing.T) {
	req := require.New(t)
	reg, reaper, clock := newTestReaper(t)
	reg.GetOrCreate("XY99")

	reaper.Schedule(context.Background(), "XY99")
	clock.Advance(testGrace - time.Second)

	req.Never(func() bool {
		return !reg.Exists("XY99")
	}, 100*time.Millisecond, 10*time.Millisecond, "room must stay alive before the grace period elapses")
}

func TestReaper_CancelDisarmsPendingDeletion(t *testing.T) {
	req := require.New(t)
	reg, reaper, clock := newTestReaper(t)
	reg.GetOrCreate("XY99")

	reaper.Schedule(context.Background(), "XY99")
	reaper.Cancel("XY99")
	clock.Advance(2 * testGrace)

	req.Never(func() bool {
		return !reg.Exists("XY99")
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestReaper_CancelWithoutScheduleIsSafe(t *testing.T) {
	_, reaper, _ := newTestReaper(t)
	reaper.Cancel("XY99")
}

func TestReaper_RecheckAtFireTimeSparesRejoinedRoom(t *testing.T) {
	req := require.New(t)
	reg, reaper, clock := newTestReaper(t)
	r, _ := reg.GetOrCreate("XY99")

	// A participant rejoins after scheduling but before the timer
	// fires; firing must re-check emptiness, not trust schedule time.
	reaper.Schedule(context.Background(), "XY99")
	r.Join("conn-1", "Alice", RoleEstimator)
	clock.Advance(testGrace + time.Second)

	req.Never(func() bool {
		return !reg.Exists("XY99")
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestReaper_RescheduleReplacesActiveTimer(t *testing.T) {
	req := require.New(t)
	reg, reaper, clock := newTestReaper(t)
	reg.GetOrCreate("XY99")

	reaper.Schedule(context.Background(), "XY99")
	clock.Advance(testGrace / 2)
	reaper.Schedule(context.Background(), "XY99")

	// The replaced timer's original deadline passes without effect
	clock.Advance(testGrace / 2)
	req.Never(func() bool {
		return !reg.Exists("XY99")
	}, 100*time.Millisecond, 10*time.Millisecond)

	// The replacement timer's deadline reclaims the room
	clock.Advance(testGrace/2 + time.Second)
	req.Eventually(func() bool {
		return !reg.Exists("XY99")
	}, time.Second, 10*time.Millisecond)
}

func TestReaper_CancelReleasesTimerGoroutine(t *testing.T) {
	req := require.New(t)
	reg, reaper, _ := newTestReaper(t)
	reg.GetOrCreate("XY99")

	before := runtime.NumGoroutine()
	for i := 0; i < 100; i++ {
		reaper.Schedule(context.Background(), "XY99")
		reaper.Cancel("XY99")
	}

	// Every cancelled timer's goroutine exits instead of parking until
	// process shutdown
	req.Eventually(func() bool {
		return runtime.NumGoroutine() <= before+5
	}, time.Second, 10*time.Millisecond, "cancelled reaper timers must not leak goroutines")
	req.True(reg.Exists("XY99"))
}

func TestReaper_ContextCancelStopsTimerWithoutDeleting(t *testing.T) {
	req := require.New(t)
	reg, reaper, clock := newTestReaper(t)
	reg.GetOrCreate("XY99")

	ctx, cancel := context.WithCancel(context.Background())
	reaper.Schedule(ctx, "XY99")
	cancel()

	// Give the waiting goroutine a chance to observe the cancellation
	time.Sleep(50 * time.Millisecond)
	clock.Advance(2 * testGrace)

	req.Never(func() bool {
		return !reg.Exists("XY99")
	}, 100*time.Millisecond, 10*time.Millisecond)
}
