package chathub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tastechat/backend/internal/config"
	"tastechat/backend/internal/metrics"
	"tastechat/backend/internal/models"
	"tastechat/backend/internal/ratelimit"
	"tastechat/backend/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RoomStats counts rooms by status. Closed counts rooms closed since the
// registry started.
type RoomStats struct {
	Active     int `json:"active"`
	IdleWarned int `json:"idle_warned"`
	Closed     int `json:"closed"`
}

type roomEntry struct {
	mu   sync.Mutex
	room models.ChatRoom
}

// Registry owns open chat rooms: creation, membership, idle policy and
// message sends. Rooms are indexed in memory and written through to the
// RoomRepository.
//
// Lock order is Queue.mu, then Registry.mu, then a room's own mutex.
// Storage writes for a room happen under that room's mutex only, so
// operations on different rooms do not wait on each other.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*roomEntry
	byUser map[string]string
	closed int

	repo     storage.RoomRepository
	messages *MessageStore
	limiter  *ratelimit.Limiter
	notifier Notifier
	policy   config.Session
	logger   zerolog.Logger
	now      func() time.Time
}

// NewRegistry creates a registry and registers it as the activity
// tracker of messages. limiter and notifier may be nil.
func NewRegistry(repo storage.RoomRepository, messages *MessageStore, limiter *ratelimit.Limiter, notifier Notifier, policy config.Session, logger zerolog.Logger) *Registry {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	r := &Registry{
		rooms:    make(map[string]*roomEntry),
		byUser:   make(map[string]string),
		repo:     repo,
		messages: messages,
		limiter:  limiter,
		notifier: notifier,
		policy:   policy,
		logger:   logger,
		now:      time.Now,
	}
	messages.SetActivityTracker(r)
	return r
}

func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// Recover reloads open rooms from storage after a restart.
func (r *Registry) Recover(ctx context.Context) (int, error) {
	rooms, err := r.repo.GetOpenRooms(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load open rooms: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	restored := 0
	for _, room := range rooms {
		if _, ok := r.rooms[room.RoomID]; ok {
			continue
		}
		r.rooms[room.RoomID] = &roomEntry{room: room}
		for _, userID := range room.Members() {
			if room.HasLeft(userID) {
				continue
			}
			if other, ok := r.byUser[userID]; ok {
				r.logger.Warn().Str("user_id", userID).Str("room_id", room.RoomID).Str("other_room_id", other).Msg("user has more than one open room, keeping the first")
				continue
			}
			r.byUser[userID] = room.RoomID
		}
		restored++
	}

	r.logger.Info().Int("rooms", restored).Msg("recovered open rooms")
	return restored, nil
}

// observe returns the status a room has at now under the idle policy,
// without mutating it.
func (r *Registry) observe(room models.ChatRoom, now time.Time) models.RoomStatus {
	if !room.IsOpen() {
		return room.Status
	}
	idle := now.Sub(room.LastActivityAt)
	switch {
	case idle >= r.policy.AutoClose:
		return models.RoomClosed
	case idle >= r.policy.MaxIdle:
		return models.RoomIdleWarned
	}
	return room.Status
}

func closeRoom(room *models.ChatRoom, reason string, now time.Time) {
	room.Status = models.RoomClosed
	room.EndedAt = &now
	room.WarnedAt = nil
	room.CloseReason = reason
}

// expire closes a room past the auto-close limit. Caller holds the room mutex.
func (r *Registry) expire(room *models.ChatRoom, now time.Time) bool {
	if !room.IsOpen() || r.observe(*room, now) != models.RoomClosed {
		return false
	}
	closeRoom(room, models.CloseReasonIdle, now)
	return true
}

// persist writes a room snapshot. Caller holds the room mutex.
func (r *Registry) persist(ctx context.Context, room models.ChatRoom) error {
	if err := r.repo.SaveRoom(ctx, &room); err != nil {
		r.logger.Error().Err(err).Str("room_id", room.RoomID).Str("status", string(room.Status)).Msg("failed to save room")
		return fmt.Errorf("failed to save room %s: %w", room.RoomID, err)
	}
	return nil
}

func (r *Registry) notify(ctx context.Context, userIDs []string, msg models.ChatMessage) {
	if len(userIDs) == 0 {
		return
	}
	if err := r.notifier.Notify(ctx, userIDs, msg); err != nil {
		r.logger.Warn().Err(err).Str("room_id", msg.RoomID).Str("type", msg.Type).Msg("notification failed")
	}
}

func present(room models.ChatRoom) []string {
	var ids []string
	for _, userID := range room.Members() {
		if !room.HasLeft(userID) {
			ids = append(ids, userID)
		}
	}
	return ids
}

// finishClose completes a close made under the room mutex: drops the room from
// the index and tells the members still indexed to it. A member already
// paired into another room is not told.
func (r *Registry) finishClose(ctx context.Context, room models.ChatRoom) {
	var recipients []string
	r.mu.Lock()
	delete(r.rooms, room.RoomID)
	for _, userID := range room.Members() {
		if r.byUser[userID] != room.RoomID {
			continue
		}
		delete(r.byUser, userID)
		if !room.HasLeft(userID) {
			recipients = append(recipients, userID)
		}
	}
	r.closed++
	r.mu.Unlock()

	metrics.RoomsClosed.WithLabelValues(room.CloseReason).Inc()
	r.logger.Info().Str("room_id", room.RoomID).Str("reason", room.CloseReason).Msg("room closed")

	at := r.now().UTC()
	if room.EndedAt != nil {
		at = *room.EndedAt
	}
	r.notify(ctx, recipients, models.NewSystemMessage(room.RoomID, models.MessageTypeRoomClosed, textRoomClosed, at))
}

func (r *Registry) entry(roomID string) *roomEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[roomID]
}

// CreateChatRoom opens a room for two users. It fails with
// ErrAlreadyInRoom if either user already has an open room.
func (r *Registry) CreateChatRoom(ctx context.Context, userA, userB string) (models.ChatRoom, error) {
	if userA == "" || userB == "" {
		return models.ChatRoom{}, ErrMissingID
	}
	if userA == userB {
		return models.ChatRoom{}, ErrSameUser
	}

	now := r.now().UTC()
	e := &roomEntry{room: models.ChatRoom{
		RoomID:         uuid.New().String(),
		User1ID:        userA,
		User2ID:        userB,
		Status:         models.RoomActive,
		StartedAt:      now,
		LastActivityAt: now,
	}}
	roomID := e.room.RoomID

	r.mu.Lock()
	for _, userID := range []string{userA, userB} {
		if _, ok := r.openRoomLocked(userID, now); ok {
			r.mu.Unlock()
			return models.ChatRoom{}, fmt.Errorf("%w: %s", ErrAlreadyInRoom, userID)
		}
	}
	r.rooms[roomID] = e
	r.byUser[userA] = roomID
	r.byUser[userB] = roomID
	e.mu.Lock()
	r.mu.Unlock()

	err := r.persist(ctx, e.room)
	if err != nil {
		// Anyone who found the entry meanwhile sees a closed room.
		e.room.Status = models.RoomClosed
	}
	room := e.room
	e.mu.Unlock()

	if err != nil {
		r.mu.Lock()
		delete(r.rooms, roomID)
		for _, userID := range room.Members() {
			if r.byUser[userID] == roomID {
				delete(r.byUser, userID)
			}
		}
		r.mu.Unlock()
		return models.ChatRoom{}, err
	}

	r.logger.Info().Str("room_id", roomID).Str("user1_id", userA).Str("user2_id", userB).Msg("room created")
	return room, nil
}

// openRoomLocked returns the observed open room the user is present in.
// Caller holds r.mu.
func (r *Registry) openRoomLocked(userID string, now time.Time) (models.ChatRoom, bool) {
	e := r.rooms[r.byUser[userID]]
	if e == nil {
		return models.ChatRoom{}, false
	}

	e.mu.Lock()
	room := e.room
	e.mu.Unlock()

	room.Status = r.observe(room, now)
	if !room.IsOpen() || room.HasLeft(userID) {
		return models.ChatRoom{}, false
	}
	return room, true
}

// GetUserChatRoom returns the open room the user is in. Rooms past the
// auto-close limit are not returned even before a sweep closes them.
func (r *Registry) GetUserChatRoom(_ context.Context, userID string) (models.ChatRoom, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.openRoomLocked(userID, r.now().UTC())
}

// membership reports whether userID is a member of roomID, open or closed.
// Unknown rooms report false.
func (r *Registry) membership(ctx context.Context, roomID, userID string) (models.ChatRoom, bool, error) {
	if e := r.entry(roomID); e != nil {
		e.mu.Lock()
		room := e.room
		e.mu.Unlock()
		return room, room.HasMember(userID), nil
	}

	room, err := r.repo.GetRoomByID(ctx, roomID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.ChatRoom{}, false, nil
	}
	if err != nil {
		return models.ChatRoom{}, false, fmt.Errorf("failed to load room: %w", err)
	}
	return *room, room.HasMember(userID), nil
}

// MemberRoom returns a room, open or closed, that userID belongs to.
func (r *Registry) MemberRoom(ctx context.Context, roomID, userID string) (models.ChatRoom, error) {
	if roomID == "" || userID == "" {
		return models.ChatRoom{}, ErrMissingID
	}

	room, member, err := r.membership(ctx, roomID, userID)
	if err != nil {
		return models.ChatRoom{}, err
	}
	if !member {
		return models.ChatRoom{}, ErrNotMember
	}
	return room, nil
}

// GetChatHistory returns a decrypted page of a room's messages to one of
// its members. Non-members and unknown rooms both get ErrNotMember.
func (r *Registry) GetChatHistory(ctx context.Context, roomID, userID string, limit int, ascending bool) ([]models.ChatMessage, error) {
	if _, err := r.MemberRoom(ctx, roomID, userID); err != nil {
		return nil, err
	}
	return r.messages.GetMessages(ctx, roomID, limit, ascending)
}

// SendMessage validates, rate limits, stores and delivers a text message.
func (r *Registry) SendMessage(ctx context.Context, roomID, senderID, content string) (models.ChatMessage, error) {
	if roomID == "" || senderID == "" {
		metrics.MessagesRejected.WithLabelValues("validation").Inc()
		return models.ChatMessage{}, ErrMissingID
	}
	if err := r.messages.ValidateContent(content); err != nil {
		metrics.MessagesRejected.WithLabelValues("validation").Inc()
		return models.ChatMessage{}, err
	}

	room, err := r.authorizeSend(ctx, roomID, senderID)
	if err != nil {
		metrics.MessagesRejected.WithLabelValues(Kind(err).String()).Inc()
		return models.ChatMessage{}, err
	}

	if r.limiter != nil {
		if err := r.limiter.CheckAndIncrementAll(ctx, senderID, ratelimit.WindowMessageMinute, ratelimit.WindowMessageHour); err != nil {
			metrics.MessagesRejected.WithLabelValues("throttle").Inc()
			return models.ChatMessage{}, err
		}
	}

	msg, err := r.messages.SaveText(ctx, roomID, senderID, content)
	if err != nil {
		return models.ChatMessage{}, err
	}

	r.notify(ctx, present(room), msg)
	return msg, nil
}

func (r *Registry) authorizeSend(ctx context.Context, roomID, senderID string) (models.ChatRoom, error) {
	e := r.entry(roomID)
	if e == nil {
		_, member, err := r.membership(ctx, roomID, senderID)
		if err != nil {
			return models.ChatRoom{}, err
		}
		if !member {
			return models.ChatRoom{}, ErrNotMember
		}
		return models.ChatRoom{}, ErrRoomClosed
	}

	e.mu.Lock()
	closed := r.expire(&e.room, r.now().UTC())
	if closed {
		_ = r.persist(ctx, e.room)
	}
	room := e.room
	e.mu.Unlock()

	if closed {
		r.finishClose(ctx, room)
	}

	switch {
	case !room.HasMember(senderID):
		return room, ErrNotMember
	case !room.IsOpen(), room.HasLeft(senderID):
		return room, ErrRoomClosed
	}
	return room, nil
}

// TouchActivity records message activity in an open room and lifts a
// pending idle warning.
func (r *Registry) TouchActivity(ctx context.Context, roomID string, at time.Time) error {
	e := r.entry(roomID)
	if e == nil {
		return ErrRoomNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.room.IsOpen() {
		return ErrRoomClosed
	}
	if at.After(e.room.LastActivityAt) {
		e.room.LastActivityAt = at
	}
	if e.room.Status == models.RoomIdleWarned {
		e.room.Status = models.RoomActive
		e.room.WarnedAt = nil
	}
	return r.persist(ctx, e.room)
}

// LeaveChatRoom removes the user's presence from a room. The partner is
// told; once both members have left the room is closed.
func (r *Registry) LeaveChatRoom(ctx context.Context, roomID, userID string) error {
	if roomID == "" || userID == "" {
		return ErrMissingID
	}

	e := r.entry(roomID)
	if e == nil {
		_, member, err := r.membership(ctx, roomID, userID)
		if err != nil {
			return err
		}
		if !member {
			return ErrNotMember
		}
		return ErrRoomClosed
	}

	now := r.now().UTC()
	e.mu.Lock()
	expired := r.expire(&e.room, now)
	var leaveErr error
	switch {
	case !e.room.HasMember(userID):
		leaveErr = ErrNotMember
	case !e.room.IsOpen():
		leaveErr = ErrRoomClosed
	case e.room.HasLeft(userID):
		leaveErr = ErrNoActiveMatch
	}

	closed := expired
	if leaveErr == nil {
		if userID == e.room.User1ID {
			e.room.User1Left = true
		} else {
			e.room.User2Left = true
		}
		if e.room.User1Left && e.room.User2Left {
			closeRoom(&e.room, models.CloseReasonLeft, now)
			closed = true
		}
	}
	var saveErr error
	if expired || leaveErr == nil {
		saveErr = r.persist(ctx, e.room)
	}
	room := e.room
	e.mu.Unlock()

	if closed {
		r.finishClose(ctx, room)
	}
	if leaveErr != nil {
		return leaveErr
	}

	if !closed {
		r.mu.Lock()
		if r.byUser[userID] == roomID {
			delete(r.byUser, userID)
		}
		r.mu.Unlock()
		r.notify(ctx, present(room), models.NewSystemMessage(roomID, models.MessageTypePartnerLeft, textPartnerLeft, now))
	}

	r.logger.Info().Str("room_id", roomID).Str("user_id", userID).Msg("user left room")
	return saveErr
}

// CloseUserRoom closes the open room the user is in.
func (r *Registry) CloseUserRoom(ctx context.Context, userID, reason string) (models.ChatRoom, error) {
	if userID == "" {
		return models.ChatRoom{}, ErrMissingID
	}

	r.mu.RLock()
	e := r.rooms[r.byUser[userID]]
	r.mu.RUnlock()
	if e == nil {
		return models.ChatRoom{}, ErrNoActiveMatch
	}
	return r.closeEntry(ctx, e, userID, reason, ErrNoActiveMatch)
}

// CloseRoom closes a room by id.
func (r *Registry) CloseRoom(ctx context.Context, roomID, reason string) (models.ChatRoom, error) {
	if roomID == "" {
		return models.ChatRoom{}, ErrMissingID
	}

	e := r.entry(roomID)
	if e == nil {
		return models.ChatRoom{}, ErrRoomNotFound
	}
	return r.closeEntry(ctx, e, "", reason, ErrRoomNotFound)
}

// closeEntry closes e on behalf of userID ("" for none). notOpen is
// returned when the room is already closed or the user left it.
func (r *Registry) closeEntry(ctx context.Context, e *roomEntry, userID, reason string, notOpen error) (models.ChatRoom, error) {
	now := r.now().UTC()

	e.mu.Lock()
	expired := r.expire(&e.room, now)
	ok := e.room.IsOpen() && (userID == "" || !e.room.HasLeft(userID))
	if ok {
		closeRoom(&e.room, reason, now)
	}
	var err error
	if ok || expired {
		err = r.persist(ctx, e.room)
	}
	room := e.room
	e.mu.Unlock()

	if ok || expired {
		r.finishClose(ctx, room)
	}
	if !ok {
		return room, notOpen
	}
	return room, err
}

func (r *Registry) entries() []*roomEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*roomEntry, 0, len(r.rooms))
	for _, e := range r.rooms {
		entries = append(entries, e)
	}
	return entries
}

// ProcessIdleRooms moves quiet rooms to IDLE_WARNED and repeats the
// warning every WarningRepeat while they stay quiet. It returns the
// number of warnings sent. Rooms past the auto-close limit are left to
// CloseExpiredRooms. A failing room does not stop the sweep.
func (r *Registry) ProcessIdleRooms(ctx context.Context) (int, error) {
	var (
		errs   []error
		warned int
	)

	for _, e := range r.entries() {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		now := r.now().UTC()
		e.mu.Lock()
		send := false
		if e.room.IsOpen() && r.observe(e.room, now) == models.RoomIdleWarned {
			switch {
			case e.room.Status == models.RoomActive:
				e.room.Status = models.RoomIdleWarned
				send = true
			case e.room.WarnedAt == nil || now.Sub(*e.room.WarnedAt) >= r.policy.WarningRepeat:
				send = true
			}
		}
		if send {
			e.room.WarnedAt = &now
			if err := r.persist(ctx, e.room); err != nil {
				errs = append(errs, err)
			}
		}
		room := e.room
		e.mu.Unlock()

		if send {
			warned++
			r.notify(ctx, present(room), models.NewSystemMessage(room.RoomID, models.MessageTypeIdleWarning, textIdleWarning, now))
		}
	}

	r.recordStats()
	return warned, errors.Join(errs...)
}

// CloseExpiredRooms closes every room idle past the auto-close limit and
// returns how many it closed.
func (r *Registry) CloseExpiredRooms(ctx context.Context) (int, error) {
	var (
		errs   []error
		closed int
	)

	for _, e := range r.entries() {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		e.mu.Lock()
		expired := r.expire(&e.room, r.now().UTC())
		if expired {
			if err := r.persist(ctx, e.room); err != nil {
				errs = append(errs, err)
			}
		}
		room := e.room
		e.mu.Unlock()

		if expired {
			closed++
			r.finishClose(ctx, room)
		}
	}

	r.recordStats()
	return closed, errors.Join(errs...)
}

// GetChatRoomStats counts rooms by observed status.
func (r *Registry) GetChatRoomStats() RoomStats {
	now := r.now().UTC()

	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RoomStats{Closed: r.closed}
	for _, e := range r.rooms {
		e.mu.Lock()
		status := r.observe(e.room, now)
		e.mu.Unlock()

		switch status {
		case models.RoomActive:
			stats.Active++
		case models.RoomIdleWarned:
			stats.IdleWarned++
		case models.RoomClosed:
			stats.Closed++
		}
	}
	return stats
}

func (r *Registry) recordStats() {
	stats := r.GetChatRoomStats()
	metrics.OpenRooms.WithLabelValues(string(models.RoomActive)).Set(float64(stats.Active))
	metrics.OpenRooms.WithLabelValues(string(models.RoomIdleWarned)).Set(float64(stats.IdleWarned))
}
