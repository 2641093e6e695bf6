package chathub

import (
	"errors"

	"tastechat/backend/internal/ratelimit"
	"tastechat/backend/internal/storage"
)

var (
	// Validation
	ErrMissingID        = errors.New("missing identifier")
	ErrSameUser         = errors.New("cannot pair a user with themselves")
	ErrEmptyContent     = errors.New("message content is empty")
	ErrMessageTooLong   = errors.New("message is too long")
	ErrMessageTooLarge  = errors.New("message is too large")
	ErrInvalidEncoding  = errors.New("message is not valid UTF-8")
	ErrInvalidRetention = errors.New("retention must be at least one month")

	// Authorization. Also returned for rooms that do not exist, so room
	// ids cannot be probed.
	ErrNotMember = errors.New("not a member of this room")

	// Not found
	ErrNotWaiting    = errors.New("not waiting for a match")
	ErrNoActiveMatch = errors.New("no active match")
	ErrRoomNotFound  = errors.New("room not found")

	// Conflict
	ErrAlreadyQueued  = errors.New("already waiting for a match")
	ErrAlreadyMatched = errors.New("already chatting")
	ErrAlreadyInRoom  = errors.New("user already has an open room")
	ErrRoomClosed     = errors.New("room is closed")
)

// ErrorKind is the class of a failure as seen by callers.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindAuthorization
	KindThrottle
	KindNotFound
	KindConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindThrottle:
		return "throttle"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	}
	return "internal"
}

// Kind classifies err. Unknown errors are internal.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrMissingID),
		errors.Is(err, ErrSameUser),
		errors.Is(err, ErrEmptyContent),
		errors.Is(err, ErrMessageTooLong),
		errors.Is(err, ErrMessageTooLarge),
		errors.Is(err, ErrInvalidEncoding),
		errors.Is(err, ErrInvalidRetention):
		return KindValidation
	case errors.Is(err, ErrNotMember):
		return KindAuthorization
	case errors.Is(err, ratelimit.ErrRateLimited),
		errors.Is(err, ratelimit.ErrTooManyConnections):
		return KindThrottle
	case errors.Is(err, ErrNotWaiting),
		errors.Is(err, ErrNoActiveMatch),
		errors.Is(err, ErrRoomNotFound),
		errors.Is(err, storage.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyQueued),
		errors.Is(err, ErrAlreadyMatched),
		errors.Is(err, ErrAlreadyInRoom),
		errors.Is(err, ErrRoomClosed):
		return KindConflict
	}
	return KindInternal
}
