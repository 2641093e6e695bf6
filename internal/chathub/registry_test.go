package chathub_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"tastechat/backend/internal/chathub"
	"tastechat/backend/internal/models"
	"tastechat/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCreateChatRoom(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	room := env.pair(t, "user_A", "user_B")
	assert.Equal(t, models.RoomActive, room.Status)
	assert.Equal(t, []string{"user_A", "user_B"}, room.Members())

	stored, err := env.store.GetRoomByID(ctx, room.RoomID)
	require.NoError(t, err)
	assert.Equal(t, room.RoomID, stored.RoomID)

	_, err = env.registry.CreateChatRoom(ctx, "user_B", "user_C")
	assert.ErrorIs(t, err, chathub.ErrAlreadyInRoom)

	_, err = env.registry.CreateChatRoom(ctx, "user_C", "user_C")
	assert.ErrorIs(t, err, chathub.ErrSameUser)

	_, err = env.registry.CreateChatRoom(ctx, "", "user_C")
	assert.ErrorIs(t, err, chathub.ErrMissingID)
}

type mockRooms struct {
	mock.Mock
}

func (m *mockRooms) SaveRoom(ctx context.Context, room *models.ChatRoom) error {
	return m.Called(ctx, room).Error(0)
}

func (m *mockRooms) GetRoomByID(ctx context.Context, roomID string) (*models.ChatRoom, error) {
	args := m.Called(ctx, roomID)
	room, _ := args.Get(0).(*models.ChatRoom)
	return room, args.Error(1)
}

func (m *mockRooms) GetOpenRooms(ctx context.Context) ([]models.ChatRoom, error) {
	args := m.Called(ctx)
	rooms, _ := args.Get(0).([]models.ChatRoom)
	return rooms, args.Error(1)
}

func TestCreateChatRoom_RollsBackWhenSaveFails(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	rooms := new(mockRooms)
	rooms.On("SaveRoom", mock.Anything, mock.AnythingOfType("*models.ChatRoom")).Return(errors.New("db down")).Once()
	rooms.On("SaveRoom", mock.Anything, mock.AnythingOfType("*models.ChatRoom")).Return(nil)

	registry := chathub.NewRegistry(rooms, env.messages, nil, env.notes, env.cfg.Session, zerologNop())

	_, err := registry.CreateChatRoom(ctx, "user_A", "user_B")
	require.Error(t, err)
	assert.Equal(t, chathub.KindInternal, chathub.Kind(err))

	_, ok := registry.GetUserChatRoom(ctx, "user_A")
	assert.False(t, ok)

	_, err = registry.CreateChatRoom(ctx, "user_A", "user_B")
	assert.NoError(t, err)
	rooms.AssertNumberOfCalls(t, "SaveRoom", 2)
}

func TestIdlePolicy(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	room := env.pair(t, "user_A", "user_B")

	env.clock.Advance(env.cfg.Session.MaxIdle - time.Second)
	warned, err := env.registry.ProcessIdleRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, warned)

	env.clock.Advance(time.Second)
	assert.Equal(t, chathub.RoomStats{IdleWarned: 1}, env.registry.GetChatRoomStats())

	warned, err = env.registry.ProcessIdleRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, warned)
	require.Len(t, env.notes.ofType(models.MessageTypeIdleWarning), 1)

	current, ok := env.registry.GetUserChatRoom(ctx, "user_A")
	require.True(t, ok)
	assert.Equal(t, models.RoomIdleWarned, current.Status)

	// No repeat until the repeat interval has passed.
	warned, _ = env.registry.ProcessIdleRooms(ctx)
	assert.Equal(t, 0, warned)
	env.clock.Advance(env.cfg.Session.WarningRepeat)
	warned, _ = env.registry.ProcessIdleRooms(ctx)
	assert.Equal(t, 1, warned)

	env.clock.Set(room.LastActivityAt.Add(env.cfg.Session.AutoClose))
	_, ok = env.registry.GetUserChatRoom(ctx, "user_A")
	assert.False(t, ok, "expired room is not returned before the sweep")
	assert.Equal(t, chathub.RoomStats{Closed: 1}, env.registry.GetChatRoomStats())

	warned, _ = env.registry.ProcessIdleRooms(ctx)
	assert.Equal(t, 0, warned)

	closed, err := env.registry.CloseExpiredRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)
	assert.Equal(t, chathub.RoomStats{Closed: 1}, env.registry.GetChatRoomStats())

	stored, err := env.store.GetRoomByID(ctx, room.RoomID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomClosed, stored.Status)
	assert.Equal(t, models.CloseReasonIdle, stored.CloseReason)
	assert.Nil(t, stored.WarnedAt)

	closedNotes := env.notes.ofType(models.MessageTypeRoomClosed)
	require.Len(t, closedNotes, 1)
	assert.ElementsMatch(t, []string{"user_A", "user_B"}, closedNotes[0].UserIDs)

	// A new pairing creates a new room.
	again := env.pair(t, "user_A", "user_B")
	assert.NotEqual(t, room.RoomID, again.RoomID)
}

func TestCloseExpiredRooms_SkipsMembersAlreadyRematched(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	old := env.pair(t, "user_A", "user_B")

	env.clock.Advance(env.cfg.Session.AutoClose)

	_, err := env.matcher.RequestMatching(ctx, "user_A")
	require.NoError(t, err)
	status, err := env.matcher.RequestMatching(ctx, "user_C")
	require.NoError(t, err)
	require.Equal(t, chathub.StateChatting, status.State)
	require.NotEqual(t, old.RoomID, status.RoomID)

	closed, err := env.registry.CloseExpiredRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	closedNotes := env.notes.ofType(models.MessageTypeRoomClosed)
	require.Len(t, closedNotes, 1)
	assert.Equal(t, old.RoomID, closedNotes[0].Msg.RoomID)
	assert.Equal(t, []string{"user_B"}, closedNotes[0].UserIDs)

	current, ok := env.registry.GetUserChatRoom(ctx, "user_A")
	require.True(t, ok)
	assert.Equal(t, status.RoomID, current.RoomID)
}

func TestIdlePolicy_ActivityLiftsWarning(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	room := env.pair(t, "user_A", "user_B")

	env.clock.Advance(env.cfg.Session.MaxIdle)
	_, err := env.registry.ProcessIdleRooms(ctx)
	require.NoError(t, err)

	_, err = env.registry.SendMessage(ctx, room.RoomID, "user_B", "still here")
	require.NoError(t, err)

	current, ok := env.registry.GetUserChatRoom(ctx, "user_A")
	require.True(t, ok)
	assert.Equal(t, models.RoomActive, current.Status)
	assert.Nil(t, current.WarnedAt)
	assert.Equal(t, env.clock.Now(), current.LastActivityAt)

	env.clock.Advance(env.cfg.Session.AutoClose - time.Second)
	closed, _ := env.registry.CloseExpiredRooms(ctx)
	assert.Equal(t, 0, closed)
}

func TestSendMessage_ToExpiredRoomClosesIt(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	room := env.pair(t, "user_A", "user_B")

	env.clock.Advance(env.cfg.Session.AutoClose)
	_, err := env.registry.SendMessage(ctx, room.RoomID, "user_A", "hello?")
	assert.ErrorIs(t, err, chathub.ErrRoomClosed)
	assert.Equal(t, 1, env.registry.GetChatRoomStats().Closed)
}

func TestGetChatHistory(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	room := env.pair(t, "user_A", "user_B")

	_, err := env.registry.SendMessage(ctx, room.RoomID, "user_A", "first")
	require.NoError(t, err)
	env.clock.Advance(time.Second)
	_, err = env.registry.SendMessage(ctx, room.RoomID, "user_B", "second")
	require.NoError(t, err)

	history, err := env.registry.GetChatHistory(ctx, room.RoomID, "user_B", 50, true)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "second", history[1].Content)

	_, err = env.registry.GetChatHistory(ctx, room.RoomID, "intruder", 50, true)
	assert.ErrorIs(t, err, chathub.ErrNotMember)
	assert.Equal(t, chathub.KindAuthorization, chathub.Kind(err))

	_, err = env.registry.GetChatHistory(ctx, "no-such-room", "user_A", 50, true)
	assert.ErrorIs(t, err, chathub.ErrNotMember, "unknown rooms look the same as foreign ones")

	// Members can still read a closed room.
	_, err = env.registry.CloseUserRoom(ctx, "user_A", models.CloseReasonEnded)
	require.NoError(t, err)
	history, err = env.registry.GetChatHistory(ctx, room.RoomID, "user_A", 50, false)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "second", history[0].Content)
}

func TestSendMessage_RejectsNonMembers(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	room := env.pair(t, "user_A", "user_B")

	_, err := env.registry.SendMessage(ctx, room.RoomID, "intruder", "hi")
	assert.ErrorIs(t, err, chathub.ErrNotMember)

	_, err = env.registry.SendMessage(ctx, "no-such-room", "user_A", "hi")
	assert.ErrorIs(t, err, chathub.ErrNotMember)

	history, _ := env.messages.GetMessages(ctx, room.RoomID, 10, true)
	assert.Empty(t, history)
}

func TestLeaveChatRoom(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	room := env.pair(t, "user_A", "user_B")

	require.NoError(t, env.registry.LeaveChatRoom(ctx, room.RoomID, "user_A"))

	_, ok := env.registry.GetUserChatRoom(ctx, "user_A")
	assert.False(t, ok)
	current, ok := env.registry.GetUserChatRoom(ctx, "user_B")
	require.True(t, ok)
	assert.Equal(t, room.RoomID, current.RoomID)

	left := env.notes.ofType(models.MessageTypePartnerLeft)
	require.Len(t, left, 1)
	assert.Equal(t, []string{"user_B"}, left[0].UserIDs)

	_, err := env.registry.SendMessage(ctx, room.RoomID, "user_A", "wait")
	assert.ErrorIs(t, err, chathub.ErrRoomClosed)
	assert.ErrorIs(t, env.registry.LeaveChatRoom(ctx, room.RoomID, "user_A"), chathub.ErrNoActiveMatch)
	assert.ErrorIs(t, env.registry.LeaveChatRoom(ctx, room.RoomID, "intruder"), chathub.ErrNotMember)

	// The leaver is free to pair again.
	_ = env.pair(t, "user_A", "user_C")

	require.NoError(t, env.registry.LeaveChatRoom(ctx, room.RoomID, "user_B"))
	stored, err := env.store.GetRoomByID(ctx, room.RoomID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomClosed, stored.Status)
	assert.Equal(t, models.CloseReasonLeft, stored.CloseReason)

	assert.ErrorIs(t, env.registry.LeaveChatRoom(ctx, room.RoomID, "user_B"), chathub.ErrRoomClosed)
	assert.Equal(t, chathub.RoomStats{Active: 1, Closed: 1}, env.registry.GetChatRoomStats())
}

func TestCloseRoom(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	room := env.pair(t, "user_A", "user_B")

	closed, err := env.registry.CloseRoom(ctx, room.RoomID, models.CloseReasonReported)
	require.NoError(t, err)
	assert.Equal(t, models.RoomClosed, closed.Status)
	require.NotNil(t, closed.EndedAt)

	_, err = env.registry.CloseRoom(ctx, room.RoomID, models.CloseReasonReported)
	assert.ErrorIs(t, err, chathub.ErrRoomNotFound)
}

func TestRecover(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	now := env.clock.Now()

	require.NoError(t, env.store.SaveRoom(ctx, &models.ChatRoom{
		RoomID: "r1", User1ID: "a", User2ID: "b", Status: models.RoomActive,
		StartedAt: now, LastActivityAt: now,
	}))
	require.NoError(t, env.store.SaveRoom(ctx, &models.ChatRoom{
		RoomID: "r2", User1ID: "c", User2ID: "d", Status: models.RoomIdleWarned,
		User1Left: true, StartedAt: now, LastActivityAt: now,
	}))
	require.NoError(t, env.store.SaveRoom(ctx, &models.ChatRoom{
		RoomID: "r3", User1ID: "e", User2ID: "f", Status: models.RoomClosed,
	}))

	restored, err := env.registry.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, restored)

	room, ok := env.registry.GetUserChatRoom(ctx, "b")
	require.True(t, ok)
	assert.Equal(t, "r1", room.RoomID)

	_, ok = env.registry.GetUserChatRoom(ctx, "c")
	assert.False(t, ok, "members who left stay out")
	_, ok = env.registry.GetUserChatRoom(ctx, "d")
	assert.True(t, ok)
	_, ok = env.registry.GetUserChatRoom(ctx, "e")
	assert.False(t, ok)
}

func TestRegistry_MembershipIsImmutable(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	room := env.pair(t, "user_A", "user_B")

	require.NoError(t, env.registry.LeaveChatRoom(ctx, room.RoomID, "user_A"))
	_, err := env.registry.SendMessage(ctx, room.RoomID, "user_B", "anyone?")
	require.NoError(t, err)

	stored, err := env.store.GetRoomByID(ctx, room.RoomID)
	require.NoError(t, err)
	assert.Equal(t, []string{"user_A", "user_B"}, stored.Members())
}

func TestGetChatHistory_StorageFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	rooms := new(mockRooms)
	rooms.On("GetRoomByID", mock.Anything, "gone").Return(nil, errors.New("timeout"))
	registry := chathub.NewRegistry(rooms, env.messages, nil, nil, env.cfg.Session, zerologNop())

	_, err := registry.GetChatHistory(ctx, "gone", "user_A", 10, true)
	require.Error(t, err)
	assert.NotErrorIs(t, err, chathub.ErrNotMember)
	assert.Equal(t, chathub.KindInternal, chathub.Kind(err))
}

var _ storage.RoomRepository = (*mockRooms)(nil)
