package storage_test

import (
	"context"
	"testing"
	"time"

	"tastechat/backend/internal/models"
	"tastechat/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time checks that both implementations satisfy Storage.
var (
	_ storage.Storage = (*storage.Memory)(nil)
	_ storage.Storage = (*storage.Service)(nil)

	_ storage.AdminRepository = (*storage.Memory)(nil)
	_ storage.AdminRepository = (*storage.Service)(nil)
)

func TestMemory_ChatHistoryOrdering(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemory()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveMessage(ctx, &models.ChatHistory{ID: "03", RoomID: "r1", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, s.SaveMessage(ctx, &models.ChatHistory{ID: "02", RoomID: "r1", CreatedAt: base}))
	require.NoError(t, s.SaveMessage(ctx, &models.ChatHistory{ID: "01", RoomID: "r1", CreatedAt: base}))
	require.NoError(t, s.SaveMessage(ctx, &models.ChatHistory{ID: "04", RoomID: "r2", CreatedAt: base}))

	asc, err := s.GetChatHistory(ctx, "r1", 10, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"01", "02", "03"}, ids(asc))

	desc, err := s.GetChatHistory(ctx, "r1", 2, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"03", "02"}, ids(desc))
}

func TestMemory_DeleteMessagesBeforeSkipsHeld(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemory()
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveMessage(ctx, &models.ChatHistory{ID: "old", RoomID: "r1", CreatedAt: cutoff.Add(-time.Hour)}))
	require.NoError(t, s.SaveMessage(ctx, &models.ChatHistory{ID: "held", RoomID: "r1", CreatedAt: cutoff.Add(-time.Hour), HoldForDispute: true}))
	require.NoError(t, s.SaveMessage(ctx, &models.ChatHistory{ID: "new", RoomID: "r1", CreatedAt: cutoff.Add(time.Hour)}))

	deleted, err := s.DeleteMessagesBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	left, err := s.GetChatHistory(ctx, "r1", 10, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"held", "new"}, ids(left))
}

func TestMemory_DisputeHolds(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemory()

	require.NoError(t, s.SaveMessage(ctx, &models.ChatHistory{ID: "a", RoomID: "r1"}))
	require.NoError(t, s.SaveMessage(ctx, &models.ChatHistory{ID: "b", RoomID: "r1"}))

	n, err := s.SetRoomDisputeHold(ctx, "r1", true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, s.SetDisputeHold(ctx, "a", false))
	assert.ErrorIs(t, s.SetDisputeHold(ctx, "missing", true), storage.ErrNotFound)

	history, _ := s.GetChatHistory(ctx, "r1", 10, true)
	assert.False(t, history[0].HoldForDispute)
	assert.True(t, history[1].HoldForDispute)
}

func TestMemory_RoomsAndUsers(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemory()

	require.NoError(t, s.SaveRoom(ctx, &models.ChatRoom{RoomID: "open", Status: models.RoomActive}))
	require.NoError(t, s.SaveRoom(ctx, &models.ChatRoom{RoomID: "closed", Status: models.RoomClosed}))

	open, err := s.GetOpenRooms(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "open", open[0].RoomID)

	_, err = s.GetRoomByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	first, err := s.SaveUserIfNotExists(ctx, "42")
	require.NoError(t, err)
	again, err := s.SaveUserIfNotExists(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	found, err := s.GetUserByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "42", found.TelegramID)

	found.Language = "uk"
	found.Interests = []string{"jazz", "chess"}
	require.NoError(t, s.UpdateUser(ctx, found))
	updated, err := s.GetUserByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "uk", updated.Language)
	assert.Equal(t, []string{"jazz", "chess"}, []string(updated.Interests))

	assert.ErrorIs(t, s.UpdateUser(ctx, &models.User{ID: "ghost"}), storage.ErrNotFound)
}

func TestMemory_SearchQueueMirror(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemory()

	require.NoError(t, s.AddUserToSearchQueue(ctx, "b"))
	require.NoError(t, s.AddUserToSearchQueue(ctx, "a"))
	require.NoError(t, s.RemoveUserFromSearchQueue(ctx, "b"))

	users, err := s.GetSearchingUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, users)
}

func ids(history []models.ChatHistory) []string {
	out := make([]string, len(history))
	for i, h := range history {
		out[i] = h.ID
	}
	return out
}

func TestMemory_StatsAndResolveComplaints(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemory()
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveRoom(ctx, &models.ChatRoom{RoomID: "r1", User1ID: "a", User2ID: "b", Status: models.RoomActive}))
	require.NoError(t, s.SaveRoom(ctx, &models.ChatRoom{RoomID: "r2", User1ID: "c", User2ID: "d", Status: models.RoomClosed}))
	require.NoError(t, s.SaveMessage(ctx, &models.ChatHistory{ID: "m1", RoomID: "r1", CreatedAt: now}))
	require.NoError(t, s.SaveMessage(ctx, &models.ChatHistory{ID: "m2", RoomID: "r2", CreatedAt: now, HoldForDispute: true}))
	require.NoError(t, s.SaveComplaint(ctx, &models.Complaint{RoomID: "r2", ReporterID: "c", TargetID: "d"}))
	_, err := s.SaveUserIfNotExists(ctx, "1")
	require.NoError(t, err)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.Stats{OpenRooms: 1, ClosedRooms: 1, Messages: 2, HeldMessages: 1, Users: 1, OpenComplaints: 1}, st)

	n, err := s.ResolveComplaints(ctx, "r2")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, models.ComplaintResolved, s.Complaints()[0].Status)

	n, err = s.ResolveComplaints(ctx, "r2")
	require.NoError(t, err)
	assert.Zero(t, n)
}
