package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"tastechat/backend/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Memory is an in-process Storage used when no database is configured
// and in tests. Messages and rooms are guarded by separate locks so a
// purge over messages does not block room updates.
type Memory struct {
	roomsMu sync.RWMutex
	rooms   map[string]models.ChatRoom

	messagesMu sync.RWMutex
	messages   map[string][]models.ChatHistory // by room, append order

	usersMu sync.RWMutex
	users   map[string]models.User

	complaintsMu sync.Mutex
	complaints   []models.Complaint

	queueMu sync.Mutex
	queue   map[string]struct{}
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		rooms:    make(map[string]models.ChatRoom),
		messages: make(map[string][]models.ChatHistory),
		users:    make(map[string]models.User),
		queue:    make(map[string]struct{}),
	}
}

func (m *Memory) SaveRoom(_ context.Context, room *models.ChatRoom) error {
	m.roomsMu.Lock()
	defer m.roomsMu.Unlock()
	m.rooms[room.RoomID] = *room
	return nil
}

func (m *Memory) GetRoomByID(_ context.Context, roomID string) (*models.ChatRoom, error) {
	m.roomsMu.RLock()
	defer m.roomsMu.RUnlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	return &room, nil
}

func (m *Memory) GetOpenRooms(_ context.Context) ([]models.ChatRoom, error) {
	m.roomsMu.RLock()
	defer m.roomsMu.RUnlock()

	var open []models.ChatRoom
	for _, room := range m.rooms {
		if room.IsOpen() {
			open = append(open, room)
		}
	}
	return open, nil
}

func (m *Memory) SaveMessage(_ context.Context, msg *models.ChatHistory) error {
	m.messagesMu.Lock()
	defer m.messagesMu.Unlock()
	m.messages[msg.RoomID] = append(m.messages[msg.RoomID], *msg)
	return nil
}

func (m *Memory) GetChatHistory(_ context.Context, roomID string, limit int, ascending bool) ([]models.ChatHistory, error) {
	m.messagesMu.RLock()
	history := append([]models.ChatHistory(nil), m.messages[roomID]...)
	m.messagesMu.RUnlock()

	sort.Slice(history, func(i, j int) bool {
		a, b := history[i], history[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if ascending {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if ascending {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})

	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	return history, nil
}

func (m *Memory) DeleteMessagesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.messagesMu.Lock()
	defer m.messagesMu.Unlock()

	var deleted int64
	for roomID, history := range m.messages {
		kept := history[:0]
		for _, msg := range history {
			if msg.CreatedAt.Before(cutoff) && !msg.HoldForDispute {
				deleted++
				continue
			}
			kept = append(kept, msg)
		}
		if len(kept) == 0 {
			delete(m.messages, roomID)
			continue
		}
		m.messages[roomID] = kept
	}
	return deleted, nil
}

func (m *Memory) SetDisputeHold(_ context.Context, messageID string, hold bool) error {
	m.messagesMu.Lock()
	defer m.messagesMu.Unlock()

	for _, history := range m.messages {
		for i := range history {
			if history[i].ID == messageID {
				history[i].HoldForDispute = hold
				return nil
			}
		}
	}
	return ErrNotFound
}

func (m *Memory) SetRoomDisputeHold(_ context.Context, roomID string, hold bool) (int64, error) {
	m.messagesMu.Lock()
	defer m.messagesMu.Unlock()

	history := m.messages[roomID]
	for i := range history {
		history[i].HoldForDispute = hold
	}
	return int64(len(history)), nil
}

func (m *Memory) SaveUserIfNotExists(_ context.Context, telegramID string) (*models.User, error) {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()

	for _, user := range m.users {
		if user.TelegramID == telegramID {
			return &user, nil
		}
	}
	user := models.User{ID: uuid.New().String(), TelegramID: telegramID}
	m.users[user.ID] = user
	return &user, nil
}

// PutUser stores or replaces a user profile.
func (m *Memory) PutUser(user models.User) {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	m.users[user.ID] = user
}

func (m *Memory) GetUserByID(_ context.Context, userID string) (*models.User, error) {
	m.usersMu.RLock()
	defer m.usersMu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}

func (m *Memory) UpdateUser(_ context.Context, user *models.User) error {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()

	current, ok := m.users[user.ID]
	if !ok {
		return ErrNotFound
	}
	current.Language = user.Language
	current.Interests = append(pq.StringArray(nil), user.Interests...)
	m.users[user.ID] = current
	return nil
}

func (m *Memory) SaveComplaint(_ context.Context, complaint *models.Complaint) error {
	if complaint.ComplaintID == "" {
		complaint.ComplaintID = uuid.New().String()
	}
	if complaint.Status == "" {
		complaint.Status = models.ComplaintNew
	}

	m.complaintsMu.Lock()
	defer m.complaintsMu.Unlock()
	m.complaints = append(m.complaints, *complaint)
	return nil
}

// Complaints returns a copy of the stored complaints.
func (m *Memory) Complaints() []models.Complaint {
	m.complaintsMu.Lock()
	defer m.complaintsMu.Unlock()
	return append([]models.Complaint(nil), m.complaints...)
}

func (m *Memory) AddUserToSearchQueue(_ context.Context, userID string) error {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	m.queue[userID] = struct{}{}
	return nil
}

func (m *Memory) RemoveUserFromSearchQueue(_ context.Context, userID string) error {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	delete(m.queue, userID)
	return nil
}

func (m *Memory) GetSearchingUsers(_ context.Context) ([]string, error) {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()

	users := make([]string, 0, len(m.queue))
	for userID := range m.queue {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users, nil
}
