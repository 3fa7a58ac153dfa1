// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the caller. The messaging front end authenticates users
// and forwards their numeric account id in X-User-ID (and the current handle
// in X-User-Handle). Identify turns that into a *domain.User by running the
// account entry hook, which creates unknown users and normalizes lapsed
// subscriptions before any handler sees them.
package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/postgate/internal/domain"
)

// Caller identity headers.
const (
	HeaderUserID     = "X-User-ID"
	HeaderUserHandle = "X-User-Handle"
)

const (
	ctxKeyUserID = "userID" // string form, read by logging and rate limiting
	ctxKeyUser   = "user"
)

// EnterFunc records an interaction and returns the up-to-date user.
type EnterFunc func(ctx context.Context, accountID int64, handle *string) (*domain.User, error)

// MemberFunc reports whether u has joined the destination channel.
type MemberFunc func(ctx context.Context, u *domain.User) (bool, error)

// CodeMembershipRequired is returned with 403 to callers outside the channel.
const CodeMembershipRequired = "channel_membership_required"

// Identify requires a positive X-User-ID and stores the entered user in the
// context. Missing or malformed ids get 401. When member is non-nil, callers
// other than the owner must also pass it or get 403.
func Identify(enter EnterFunc, member MemberFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderUserID))
		id, err := strconv.ParseInt(raw, 10, 64)
		if raw == "" || err != nil || id <= 0 {
			abort(c, http.StatusUnauthorized, "unauthorized", "X-User-ID must be a positive account id")
			return
		}
		var handle *string
		if h := strings.TrimSpace(c.GetHeader(HeaderUserHandle)); h != "" {
			handle = &h
		}

		u, err := enter(c.Request.Context(), id, handle)
		if err != nil {
			LoggerFrom(c).Error().Err(err).Int64("account_id", id).Msg("identify")
			abort(c, http.StatusInternalServerError, "internal_error", "could not load caller")
			return
		}
		if member != nil && !u.IsOwner {
			allowed, err := member(c.Request.Context(), u)
			if err != nil {
				LoggerFrom(c).Error().Err(err).Int64("account_id", id).Msg("membership check")
				abort(c, http.StatusInternalServerError, "internal_error", "could not check channel membership")
				return
			}
			if !allowed {
				abort(c, http.StatusForbidden, CodeMembershipRequired, "join the channel to use this service")
				return
			}
		}
		c.Set(ctxKeyUserID, raw)
		c.Set(ctxKeyUser, u)
		c.Next()
	}
}

// CurrentUser returns the user stored by Identify.
func CurrentUser(c *gin.Context) (*domain.User, bool) {
	v, ok := c.Get(ctxKeyUser)
	if !ok {
		return nil, false
	}
	u, ok := v.(*domain.User)
	return u, ok && u != nil
}

// RequireModerator lets admins and the owner through.
func RequireModerator() gin.HandlerFunc {
	return requireRole(func(u *domain.User) bool { return u.IsModerator() }, "moderator rights required")
}

// RequireOwner lets only the owner through.
func RequireOwner() gin.HandlerFunc {
	return requireRole(func(u *domain.User) bool { return u.IsOwner }, "owner only")
}

func requireRole(allowed func(*domain.User) bool, msg string) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := CurrentUser(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "unauthorized", "caller not identified")
			return
		}
		if !allowed(u) {
			abort(c, http.StatusForbidden, "forbidden", msg)
			return
		}
		c.Next()
	}
}

// abort writes the shared error envelope from middleware.
func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       code,
		"message":    msg,
	})
}
