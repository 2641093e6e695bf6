package chathub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"tastechat/backend/internal/config"
	"tastechat/backend/internal/metrics"
	"tastechat/backend/internal/models"
	"tastechat/backend/internal/storage"
	"tastechat/backend/internal/taste"

	"github.com/rs/zerolog"
)

// MatchState is what a user is doing from the matcher's point of view.
type MatchState string

const (
	StateIdle     MatchState = "IDLE"
	StateWaiting  MatchState = "WAITING"
	StateChatting MatchState = "CHATTING"
)

// MatchingStatus is the answer to GetMatchingStatus.
type MatchingStatus struct {
	State          MatchState    `json:"state"`
	Waiting        time.Duration `json:"-"`
	WaitingSeconds int64         `json:"waiting_seconds,omitempty"`
	RoomID         string        `json:"room_id,omitempty"`
}

// SystemStatus aggregates queue and room counts.
type SystemStatus struct {
	Waiting     int       `json:"waiting"`
	ActiveRooms int       `json:"active_rooms"`
	Rooms       RoomStats `json:"rooms"`
}

// pairing is a room made during a pass, announced after the lock is released.
type pairing struct {
	room  models.ChatRoom
	score float64
}

// MatcherService keeps the queue of users waiting for a partner and
// pairs them by taste. A single mutex covers the whole waiter set for
// the duration of a pairing pass, so a user can never be handed to two
// rooms.
type MatcherService struct {
	mu      sync.Mutex
	waiting map[string]*models.MatchRequest

	registry *Registry
	scorer   taste.Scorer
	mirror   storage.SearchQueue
	notifier Notifier
	policy   config.Matching
	logger   zerolog.Logger
	now      func() time.Time
}

// NewMatcherService creates a matcher. mirror and notifier may be nil.
func NewMatcherService(registry *Registry, scorer taste.Scorer, mirror storage.SearchQueue, notifier Notifier, policy config.Matching, logger zerolog.Logger) *MatcherService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &MatcherService{
		waiting:  make(map[string]*models.MatchRequest),
		registry: registry,
		scorer:   scorer,
		mirror:   mirror,
		notifier: notifier,
		policy:   policy,
		logger:   logger,
		now:      time.Now,
	}
}

func (m *MatcherService) SetClock(now func() time.Time) {
	m.now = now
}

// RequestMatching queues the user and runs a pairing pass for them. The
// returned status is CHATTING when a partner was found right away.
func (m *MatcherService) RequestMatching(ctx context.Context, userID string) (MatchingStatus, error) {
	if userID == "" {
		return MatchingStatus{}, ErrMissingID
	}

	m.mu.Lock()
	if _, ok := m.waiting[userID]; ok {
		m.mu.Unlock()
		metrics.MatchRequests.WithLabelValues("already_queued").Inc()
		return MatchingStatus{}, ErrAlreadyQueued
	}
	if room, ok := m.registry.GetUserChatRoom(ctx, userID); ok {
		m.mu.Unlock()
		metrics.MatchRequests.WithLabelValues("already_matched").Inc()
		return MatchingStatus{State: StateChatting, RoomID: room.RoomID}, ErrAlreadyMatched
	}

	req := &models.MatchRequest{
		UserID:      userID,
		RequestedAt: m.now().UTC(),
		Status:      models.MatchWaiting,
	}
	m.waiting[userID] = req
	p, matched := m.pairLocked(ctx, req)
	if !matched {
		m.mirrorAdd(ctx, userID)
	}
	m.recordWaitingLocked()
	m.mu.Unlock()

	metrics.MatchRequests.WithLabelValues("queued").Inc()
	m.logger.Info().Str("user_id", userID).Msg("match request queued")

	if !matched {
		return MatchingStatus{State: StateWaiting}, nil
	}
	m.announce(ctx, p)
	return MatchingStatus{State: StateChatting, RoomID: p.room.RoomID}, nil
}

// pairLocked looks for the best partner for req among the other waiters
// and opens a room. Caller holds m.mu.
func (m *MatcherService) pairLocked(ctx context.Context, req *models.MatchRequest) (pairing, bool) {
	var (
		best      *models.MatchRequest
		bestScore float64
	)

	for _, cand := range m.waiting {
		if cand.UserID == req.UserID || cand.Status != models.MatchWaiting {
			continue
		}

		score, err := m.scorer.Score(ctx, req.UserID, cand.UserID)
		if err != nil {
			m.logger.Warn().Err(err).Str("user_id", req.UserID).Str("candidate_id", cand.UserID).Msg("taste scoring failed, skipping candidate")
			continue
		}
		if score < m.policy.MinScore {
			continue
		}
		if best == nil || better(score, cand, bestScore, best) {
			best, bestScore = cand, score
		}
	}
	if best == nil {
		return pairing{}, false
	}

	room, err := m.registry.CreateChatRoom(ctx, req.UserID, best.UserID)
	if err != nil {
		m.logger.Error().Err(err).Str("user_id", req.UserID).Str("candidate_id", best.UserID).Msg("failed to create room for match")
		return pairing{}, false
	}

	req.Status = models.MatchMatched
	best.Status = models.MatchMatched
	delete(m.waiting, req.UserID)
	delete(m.waiting, best.UserID)
	metrics.MatchesMade.Inc()

	return pairing{room: room, score: bestScore}, true
}

// better orders candidates by score, then earliest request, then user id.
func better(score float64, cand *models.MatchRequest, bestScore float64, best *models.MatchRequest) bool {
	if score != bestScore {
		return score > bestScore
	}
	if !cand.RequestedAt.Equal(best.RequestedAt) {
		return cand.RequestedAt.Before(best.RequestedAt)
	}
	return cand.UserID < best.UserID
}

func (m *MatcherService) announce(ctx context.Context, p pairing) {
	metrics.MatchRequests.WithLabelValues("matched").Add(2)
	for _, userID := range p.room.Members() {
		m.mirrorRemove(ctx, userID)
	}

	m.logger.Info().
		Str("room_id", p.room.RoomID).
		Str("user1_id", p.room.User1ID).
		Str("user2_id", p.room.User2ID).
		Float64("score", p.score).
		Msg("match found")

	msg := models.NewSystemMessage(p.room.RoomID, models.MessageTypeMatchFound, textMatchFound, p.room.StartedAt)
	if err := m.notifier.Notify(ctx, p.room.Members(), msg); err != nil {
		m.logger.Warn().Err(err).Str("room_id", p.room.RoomID).Msg("failed to announce match")
	}
}

// RunPairingPass retries every waiter in request order. It returns the
// number of rooms opened.
func (m *MatcherService) RunPairingPass(ctx context.Context) int {
	m.mu.Lock()
	queue := m.orderedLocked()
	var made []pairing
	for _, req := range queue {
		if ctx.Err() != nil {
			break
		}
		if req.Status != models.MatchWaiting {
			continue
		}
		if p, ok := m.pairLocked(ctx, req); ok {
			made = append(made, p)
		}
	}
	m.recordWaitingLocked()
	m.mu.Unlock()

	for _, p := range made {
		m.announce(ctx, p)
	}
	return len(made)
}

func (m *MatcherService) orderedLocked() []*models.MatchRequest {
	queue := make([]*models.MatchRequest, 0, len(m.waiting))
	for _, req := range m.waiting {
		queue = append(queue, req)
	}
	sort.Slice(queue, func(i, j int) bool {
		if !queue[i].RequestedAt.Equal(queue[j].RequestedAt) {
			return queue[i].RequestedAt.Before(queue[j].RequestedAt)
		}
		return queue[i].UserID < queue[j].UserID
	})
	return queue
}

// CancelMatching takes the user out of the queue. It returns
// ErrNotWaiting if there was nothing to cancel.
func (m *MatcherService) CancelMatching(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrMissingID
	}

	m.mu.Lock()
	req, ok := m.waiting[userID]
	if ok {
		req.Status = models.MatchCancelled
		delete(m.waiting, userID)
	}
	m.recordWaitingLocked()
	m.mu.Unlock()

	if !ok {
		return ErrNotWaiting
	}

	m.mirrorRemove(ctx, userID)
	metrics.MatchRequests.WithLabelValues("cancelled").Inc()
	m.logger.Info().Str("user_id", userID).Msg("match request cancelled")
	return nil
}

// EndMatch closes the user's open room and drops any waiting request.
// It returns ErrNoActiveMatch when the user had neither.
func (m *MatcherService) EndMatch(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrMissingID
	}

	cancelErr := m.CancelMatching(ctx, userID)

	_, err := m.registry.CloseUserRoom(ctx, userID, models.CloseReasonEnded)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNoActiveMatch) && cancelErr == nil:
		return nil
	}
	return err
}

// GetMatchingStatus reports whether the user is idle, waiting or chatting.
func (m *MatcherService) GetMatchingStatus(ctx context.Context, userID string) MatchingStatus {
	m.mu.Lock()
	req, ok := m.waiting[userID]
	var requestedAt time.Time
	if ok {
		requestedAt = req.RequestedAt
	}
	m.mu.Unlock()

	if ok {
		waited := m.now().UTC().Sub(requestedAt)
		return MatchingStatus{State: StateWaiting, Waiting: waited, WaitingSeconds: int64(waited / time.Second)}
	}
	if room, ok := m.registry.GetUserChatRoom(ctx, userID); ok {
		return MatchingStatus{State: StateChatting, RoomID: room.RoomID}
	}
	return MatchingStatus{State: StateIdle}
}

// GetSystemStatus returns aggregate queue and room counts.
func (m *MatcherService) GetSystemStatus() SystemStatus {
	m.mu.Lock()
	waiting := len(m.waiting)
	m.mu.Unlock()

	rooms := m.registry.GetChatRoomStats()
	return SystemStatus{
		Waiting:     waiting,
		ActiveRooms: rooms.Active + rooms.IdleWarned,
		Rooms:       rooms,
	}
}

// ExpireStaleRequests cancels requests that waited longer than
// WaitTimeout and tells their owners.
func (m *MatcherService) ExpireStaleRequests(ctx context.Context) int {
	now := m.now().UTC()

	m.mu.Lock()
	var expired []string
	for userID, req := range m.waiting {
		if now.Sub(req.RequestedAt) >= m.policy.WaitTimeout {
			req.Status = models.MatchCancelled
			delete(m.waiting, userID)
			expired = append(expired, userID)
		}
	}
	m.recordWaitingLocked()
	m.mu.Unlock()

	sort.Strings(expired)
	for _, userID := range expired {
		m.mirrorRemove(ctx, userID)
		metrics.MatchRequests.WithLabelValues("timeout").Inc()
		msg := models.NewSystemMessage("", models.MessageTypeMatchTimeout, textMatchTimeout, now)
		if err := m.notifier.Notify(ctx, []string{userID}, msg); err != nil {
			m.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to send match timeout")
		}
	}
	if len(expired) > 0 {
		m.logger.Info().Int("count", len(expired)).Msg("expired stale match requests")
	}
	return len(expired)
}

// ResetMirror empties the search-queue mirror. Waiters live in memory,
// so entries left by a previous process are stale.
func (m *MatcherService) ResetMirror(ctx context.Context) error {
	if m.mirror == nil {
		return nil
	}
	users, err := m.mirror.GetSearchingUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to read search queue: %w", err)
	}
	for _, userID := range users {
		if err := m.mirror.RemoveUserFromSearchQueue(ctx, userID); err != nil {
			return fmt.Errorf("failed to clear search queue: %w", err)
		}
	}
	return nil
}

func (m *MatcherService) mirrorAdd(ctx context.Context, userID string) {
	if m.mirror == nil {
		return
	}
	if err := m.mirror.AddUserToSearchQueue(ctx, userID); err != nil {
		m.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to mirror search queue")
	}
}

func (m *MatcherService) mirrorRemove(ctx context.Context, userID string) {
	if m.mirror == nil {
		return
	}
	if err := m.mirror.RemoveUserFromSearchQueue(ctx, userID); err != nil {
		m.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to mirror search queue")
	}
}

func (m *MatcherService) recordWaitingLocked() {
	metrics.WaitingUsers.Set(float64(len(m.waiting)))
}
