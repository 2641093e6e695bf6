package storage

import (
	"context"
	"fmt"

	"tastechat/backend/internal/models"
)

// Stats is a snapshot of stored data for operators.
type Stats struct {
	OpenRooms      int64 `json:"open_rooms"`
	ClosedRooms    int64 `json:"closed_rooms"`
	Messages       int64 `json:"messages"`
	HeldMessages   int64 `json:"held_messages"`
	Users          int64 `json:"users"`
	OpenComplaints int64 `json:"open_complaints"`
}

// AdminRepository is the operator-only surface used by the admin CLI.
type AdminRepository interface {
	Stats(ctx context.Context) (Stats, error)
	// ResolveComplaints marks the room's open complaints resolved.
	ResolveComplaints(ctx context.Context, roomID string) (int64, error)
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	db := s.DB.WithContext(ctx)
	open := []models.RoomStatus{models.RoomActive, models.RoomIdleWarned}

	counts := []struct {
		name  string
		query func() error
	}{
		{"open rooms", func() error {
			return db.Model(&models.ChatRoom{}).Where("status IN ?", open).Count(&st.OpenRooms).Error
		}},
		{"closed rooms", func() error {
			return db.Model(&models.ChatRoom{}).Where("status = ?", models.RoomClosed).Count(&st.ClosedRooms).Error
		}},
		{"messages", func() error {
			return db.Model(&models.ChatHistory{}).Count(&st.Messages).Error
		}},
		{"held messages", func() error {
			return db.Model(&models.ChatHistory{}).Where("hold_for_dispute = ?", true).Count(&st.HeldMessages).Error
		}},
		{"users", func() error {
			return db.Model(&models.User{}).Count(&st.Users).Error
		}},
		{"open complaints", func() error {
			return db.Model(&models.Complaint{}).Where("status = ?", models.ComplaintNew).Count(&st.OpenComplaints).Error
		}},
	}
	for _, c := range counts {
		if err := c.query(); err != nil {
			return Stats{}, fmt.Errorf("count %s: %w", c.name, err)
		}
	}
	return st, nil
}

func (s *Service) ResolveComplaints(ctx context.Context, roomID string) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.Complaint{}).
		Where("room_id = ? AND status = ?", roomID, models.ComplaintNew).
		Update("status", models.ComplaintResolved)
	if res.Error != nil {
		return 0, fmt.Errorf("resolve complaints for room %s: %w", roomID, res.Error)
	}
	return res.RowsAffected, nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	var st Stats

	m.roomsMu.RLock()
	for _, room := range m.rooms {
		if room.IsOpen() {
			st.OpenRooms++
		} else {
			st.ClosedRooms++
		}
	}
	m.roomsMu.RUnlock()

	m.messagesMu.RLock()
	for _, history := range m.messages {
		for _, msg := range history {
			st.Messages++
			if msg.HoldForDispute {
				st.HeldMessages++
			}
		}
	}
	m.messagesMu.RUnlock()

	m.usersMu.RLock()
	st.Users = int64(len(m.users))
	m.usersMu.RUnlock()

	m.complaintsMu.Lock()
	for _, c := range m.complaints {
		if c.Status == models.ComplaintNew {
			st.OpenComplaints++
		}
	}
	m.complaintsMu.Unlock()

	return st, nil
}

func (m *Memory) ResolveComplaints(_ context.Context, roomID string) (int64, error) {
	m.complaintsMu.Lock()
	defer m.complaintsMu.Unlock()

	var n int64
	for i := range m.complaints {
		if m.complaints[i].RoomID == roomID && m.complaints[i].Status == models.ComplaintNew {
			m.complaints[i].Status = models.ComplaintResolved
			n++
		}
	}
	return n, nil
}
