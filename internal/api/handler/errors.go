package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"tastechat/backend/internal/chathub"
	"tastechat/backend/internal/ratelimit"

	"github.com/gin-gonic/gin"
)

// ErrBadRequest marks malformed request bodies and query parameters.
var ErrBadRequest = errors.New("bad request")

var kindStatus = map[chathub.ErrorKind]int{
	chathub.KindValidation:    http.StatusBadRequest,
	chathub.KindAuthorization: http.StatusForbidden,
	chathub.KindThrottle:      http.StatusTooManyRequests,
	chathub.KindNotFound:      http.StatusNotFound,
	chathub.KindConflict:      http.StatusConflict,
	chathub.KindInternal:      http.StatusInternalServerError,
}

func kindOf(err error) chathub.ErrorKind {
	if errors.Is(err, ErrBadRequest) {
		return chathub.KindValidation
	}
	return chathub.Kind(err)
}

// StatusFor maps an error to its HTTP status code.
func StatusFor(err error) int {
	return kindStatus[kindOf(err)]
}

// writeError renders err as {"error", "code"}. Internal errors are not
// echoed to the caller.
func writeError(c *gin.Context, err error) {
	kind := kindOf(err)
	msg := err.Error()
	if kind == chathub.KindInternal {
		msg = "internal error"
		_ = c.Error(err)
	}

	var throttled *ratelimit.ThrottleError
	if errors.As(err, &throttled) {
		setQuotaHeaders(c, throttled.Quota, time.Now())
	}
	c.JSON(kindStatus[kind], gin.H{"error": msg, "code": kind.String()})
}

func setQuotaHeaders(c *gin.Context, q ratelimit.Quota, now time.Time) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(q.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(q.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(q.ResetAt.Unix(), 10))
	if q.Remaining == 0 {
		c.Header("Retry-After", strconv.FormatInt(retryAfter(q.ResetAt, now), 10))
	}
}

// retryAfter is the whole seconds until reset, at least one.
func retryAfter(resetAt, now time.Time) int64 {
	secs := int64(math.Ceil(resetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
