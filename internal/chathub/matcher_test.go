package chathub_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tastechat/backend/internal/chathub"
	"tastechat/backend/internal/models"
	"tastechat/backend/internal/taste"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestMatching_PairsCompatibleUsers(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, taste.Constant(0.8))

	status, err := env.matcher.RequestMatching(ctx, "user_A")
	require.NoError(t, err)
	assert.Equal(t, chathub.StateWaiting, status.State)

	status, err = env.matcher.RequestMatching(ctx, "user_B")
	require.NoError(t, err)
	assert.Equal(t, chathub.StateChatting, status.State)

	a := env.matcher.GetMatchingStatus(ctx, "user_A")
	b := env.matcher.GetMatchingStatus(ctx, "user_B")
	assert.Equal(t, chathub.StateChatting, a.State)
	assert.Equal(t, chathub.StateChatting, b.State)
	assert.Equal(t, a.RoomID, b.RoomID)
	assert.Equal(t, status.RoomID, a.RoomID)

	found := env.notes.ofType(models.MessageTypeMatchFound)
	require.Len(t, found, 1)
	assert.ElementsMatch(t, []string{"user_A", "user_B"}, found[0].UserIDs)

	waiting, err := env.store.GetSearchingUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, waiting)
}

func TestRequestMatching_RejectsSecondRequest(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	_, err := env.matcher.RequestMatching(ctx, "user_A")
	require.NoError(t, err)

	_, err = env.matcher.RequestMatching(ctx, "user_A")
	assert.ErrorIs(t, err, chathub.ErrAlreadyQueued)
	assert.Equal(t, chathub.KindConflict, chathub.Kind(err))

	assert.Equal(t, 1, env.matcher.GetSystemStatus().Waiting)
}

func TestRequestMatching_RejectsUserInRoom(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	room := env.pair(t, "user_A", "user_B")

	status, err := env.matcher.RequestMatching(ctx, "user_A")
	assert.ErrorIs(t, err, chathub.ErrAlreadyMatched)
	assert.Equal(t, room.RoomID, status.RoomID)
}

func TestRequestMatching_MissingID(t *testing.T) {
	_, err := newTestEnv(t, nil).matcher.RequestMatching(context.Background(), "")
	assert.Equal(t, chathub.KindValidation, chathub.Kind(err))
}

func TestPairing_PicksHighestScoreAboveThreshold(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	scorer := scoreTable(map[string]float64{"A|B": 0.1, "C|A": 0.6, "C|B": 0.9})
	env.matcher = chathub.NewMatcherService(env.registry, scorer, env.store, env.notes, withMinScore(env, 0.5), zerologNop())
	env.matcher.SetClock(env.clock.Now)

	_, err := env.matcher.RequestMatching(ctx, "A")
	require.NoError(t, err)
	status, err := env.matcher.RequestMatching(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, chathub.StateWaiting, status.State, "below threshold")

	status, err = env.matcher.RequestMatching(ctx, "C")
	require.NoError(t, err)
	require.Equal(t, chathub.StateChatting, status.State)

	room, ok := env.registry.GetUserChatRoom(ctx, "C")
	require.True(t, ok)
	assert.Equal(t, "C", room.User1ID)
	assert.Equal(t, "B", room.User2ID)
	assert.Equal(t, chathub.StateWaiting, env.matcher.GetMatchingStatus(ctx, "A").State)
}

func TestPairing_EqualScoresPreferEarliestRequest(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	scorer := scoreTable(map[string]float64{"A|B": 0, "C|A": 0.7, "C|B": 0.7})
	env.matcher = chathub.NewMatcherService(env.registry, scorer, env.store, env.notes, withMinScore(env, 0.5), zerologNop())
	env.matcher.SetClock(env.clock.Now)

	_, err := env.matcher.RequestMatching(ctx, "B")
	require.NoError(t, err)
	env.clock.Advance(time.Second)
	_, err = env.matcher.RequestMatching(ctx, "A")
	require.NoError(t, err)
	env.clock.Advance(time.Second)

	_, err = env.matcher.RequestMatching(ctx, "C")
	require.NoError(t, err)

	room, ok := env.registry.GetUserChatRoom(ctx, "C")
	require.True(t, ok)
	assert.Equal(t, "B", room.Partner("C"))
}

func TestPairing_SkipsCandidatesWhenScoringFails(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	scorer := taste.ScorerFunc(func(_ context.Context, a, b string) (float64, error) {
		if a == "bad" || b == "bad" {
			return 0, errors.New("profile service down")
		}
		return 1, nil
	})
	env.matcher = chathub.NewMatcherService(env.registry, scorer, env.store, env.notes, env.cfg.Matching, zerologNop())

	_, err := env.matcher.RequestMatching(ctx, "bad")
	require.NoError(t, err)
	status, err := env.matcher.RequestMatching(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, chathub.StateWaiting, status.State)
}

func TestCancelMatching(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	_, err := env.matcher.RequestMatching(ctx, "user_A")
	require.NoError(t, err)
	users, _ := env.store.GetSearchingUsers(ctx)
	assert.Equal(t, []string{"user_A"}, users)

	require.NoError(t, env.matcher.CancelMatching(ctx, "user_A"))
	assert.Equal(t, chathub.StateIdle, env.matcher.GetMatchingStatus(ctx, "user_A").State)
	users, _ = env.store.GetSearchingUsers(ctx)
	assert.Empty(t, users)

	err = env.matcher.CancelMatching(ctx, "user_A")
	assert.ErrorIs(t, err, chathub.ErrNotWaiting)
	assert.Equal(t, chathub.KindNotFound, chathub.Kind(err))

	// A cancelled user may queue again.
	_, err = env.matcher.RequestMatching(ctx, "user_A")
	assert.NoError(t, err)
}

func TestEndMatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	_, _ = env.matcher.RequestMatching(ctx, "user_A")
	_, _ = env.matcher.RequestMatching(ctx, "user_B")

	require.NoError(t, env.matcher.EndMatch(ctx, "user_A"))
	assert.Equal(t, chathub.StateIdle, env.matcher.GetMatchingStatus(ctx, "user_A").State)
	assert.Equal(t, chathub.StateIdle, env.matcher.GetMatchingStatus(ctx, "user_B").State)

	closed := env.notes.ofType(models.MessageTypeRoomClosed)
	require.Len(t, closed, 1)
	assert.ElementsMatch(t, []string{"user_A", "user_B"}, closed[0].UserIDs)
	assert.Equal(t, 1, env.registry.GetChatRoomStats().Closed)

	err := env.matcher.EndMatch(ctx, "user_A")
	assert.ErrorIs(t, err, chathub.ErrNoActiveMatch)
}

func TestEndMatch_ClearsWaitingRequest(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	_, _ = env.matcher.RequestMatching(ctx, "user_A")
	require.NoError(t, env.matcher.EndMatch(ctx, "user_A"))
	assert.Equal(t, chathub.StateIdle, env.matcher.GetMatchingStatus(ctx, "user_A").State)
}

func TestGetMatchingStatus_ReportsWaitTime(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	_, _ = env.matcher.RequestMatching(ctx, "user_A")
	env.clock.Advance(90 * time.Second)

	status := env.matcher.GetMatchingStatus(ctx, "user_A")
	assert.Equal(t, chathub.StateWaiting, status.State)
	assert.Equal(t, 90*time.Second, status.Waiting)
	assert.Equal(t, int64(90), status.WaitingSeconds)
}

func TestExpireStaleRequests(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	_, _ = env.matcher.RequestMatching(ctx, "early")

	env.clock.Advance(env.cfg.Matching.WaitTimeout - time.Second)
	assert.Equal(t, 0, env.matcher.ExpireStaleRequests(ctx))

	env.clock.Advance(time.Second)
	assert.Equal(t, 1, env.matcher.ExpireStaleRequests(ctx))
	assert.Equal(t, chathub.StateIdle, env.matcher.GetMatchingStatus(ctx, "early").State)

	timeouts := env.notes.ofType(models.MessageTypeMatchTimeout)
	require.Len(t, timeouts, 1)
	assert.Equal(t, []string{"early"}, timeouts[0].UserIDs)
}

func TestRunPairingPass_PairsWaitersLater(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	var compatible atomic.Bool
	scorer := taste.ScorerFunc(func(context.Context, string, string) (float64, error) {
		if compatible.Load() {
			return 1, nil
		}
		return 0, nil
	})
	env.matcher = chathub.NewMatcherService(env.registry, scorer, env.store, env.notes, withMinScore(env, 0.5), zerologNop())

	_, _ = env.matcher.RequestMatching(ctx, "user_A")
	_, _ = env.matcher.RequestMatching(ctx, "user_B")
	assert.Equal(t, 0, env.matcher.RunPairingPass(ctx))

	compatible.Store(true)
	assert.Equal(t, 1, env.matcher.RunPairingPass(ctx))
	assert.Equal(t, 0, env.matcher.GetSystemStatus().Waiting)
	assert.Equal(t, 1, env.matcher.GetSystemStatus().ActiveRooms)
}

func TestRequestMatching_ConcurrentUsersNeverDoublePaired(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	const users = 60
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.matcher.RequestMatching(ctx, fmt.Sprintf("user_%02d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rooms := make(map[string][]string)
	for i := 0; i < users; i++ {
		userID := fmt.Sprintf("user_%02d", i)
		status := env.matcher.GetMatchingStatus(ctx, userID)
		require.Equal(t, chathub.StateChatting, status.State, userID)
		rooms[status.RoomID] = append(rooms[status.RoomID], userID)
	}

	assert.Len(t, rooms, users/2)
	for roomID, members := range rooms {
		assert.Len(t, members, 2, roomID)
	}
	assert.Len(t, env.notes.ofType(models.MessageTypeMatchFound), users/2)
}

func TestGetSystemStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	_, _ = env.matcher.RequestMatching(ctx, "a")
	_, _ = env.matcher.RequestMatching(ctx, "b")
	_, _ = env.matcher.RequestMatching(ctx, "c")

	status := env.matcher.GetSystemStatus()
	assert.Equal(t, 1, status.Waiting)
	assert.Equal(t, 1, status.ActiveRooms)
	assert.Equal(t, chathub.RoomStats{Active: 1}, status.Rooms)
}

func TestResetMirror(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	require.NoError(t, env.store.AddUserToSearchQueue(ctx, "stale"))

	require.NoError(t, env.matcher.ResetMirror(ctx))

	users, err := env.store.GetSearchingUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}
