// Admin and owner endpoints.
//
// Moderators:
//   - GET /admin/stats, GET /admin/channel
//
// Owner only:
//   - PUT /owner/channel
//   - GET /owner/users, GET /owner/admins
//   - PUT|DELETE /owner/users/{id}/admin
//   - PUT /owner/users/{id}/trust
//   - PUT|DELETE /owner/users/{id}/subscription
//
// The services re-check the owner role, so a misrouted request still fails
// with 403.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/postgate/internal/domain"
	"github.com/tbourn/postgate/internal/utils"
)

// ChannelResponse reports the publication destination.
type ChannelResponse struct {
	Channel string `json:"channel" example:"@postgate_news"`
}

// SetChannelRequest replaces the destination. Accepts @name, t.me links or
// numeric -100 ids.
type SetChannelRequest struct {
	Channel string `json:"channel" binding:"required" example:"t.me/postgate_news"`
}

// UsersPageResponse is one page of the user list.
type UsersPageResponse struct {
	Users      []domain.User `json:"users"`
	Pagination Pagination    `json:"pagination"`
}

// Pagination describes a page of results.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// ModeratorsResponse lists the owner and admins.
type ModeratorsResponse struct {
	Moderators []domain.User `json:"moderators"`
}

// SetTrustRequest sets the trust label.
type SetTrustRequest struct {
	Label domain.Trust `json:"label" binding:"required" example:"verified"`
}

// GrantSubscriptionRequest grants a tier for Days, or with no expiry when
// Forever is set. Exactly one of the two must be given.
type GrantSubscriptionRequest struct {
	Tier    domain.Tier `json:"tier" binding:"required" example:"vip"`
	Days    *int        `json:"days,omitempty" example:"30"`
	Forever bool        `json:"forever,omitempty"`
}

// UserResponse wraps a single user.
type UserResponse struct {
	User *domain.User `json:"user"`
}

// Stats godoc
// @Summary  Dashboard counters
// @Tags     Admin
// @Success  200  {object}  services.Stats
// @Router   /admin/stats [get]
func (h *Handlers) Stats(c *gin.Context) {
	st, err := h.stats.Collect(c.Request.Context())
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// GetChannel godoc
// @Summary  Current destination channel
// @Tags     Admin
// @Success  200  {object}  handlers.ChannelResponse
// @Router   /admin/channel [get]
func (h *Handlers) GetChannel(c *gin.Context) {
	ch, err := h.chans.Destination(c.Request.Context())
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, ChannelResponse{Channel: ch})
}

// SetChannel godoc
// @Summary  Replace the destination channel
// @Tags     Owner
// @Param    body  body  handlers.SetChannelRequest  true  "Channel"
// @Success  200  {object}  handlers.ChannelResponse
// @Router   /owner/channel [put]
func (h *Handlers) SetChannel(c *gin.Context) {
	u, found := caller(c)
	if !found {
		return
	}
	var req SetChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "channel required")
		return
	}
	ch, err := h.chans.Set(c.Request.Context(), u.AccountID, req.Channel)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, ChannelResponse{Channel: ch})
}

// ListUsers godoc
// @Summary  Users by most recent activity
// @Tags     Owner
// @Param    page  query  integer  false  "Page (1-based)"
// @Success  200  {object}  handlers.UsersPageResponse
// @Router   /owner/users [get]
func (h *Handlers) ListUsers(c *gin.Context) {
	u, found := caller(c)
	if !found {
		return
	}
	res, err := h.users.ListPage(c.Request.Context(), u.AccountID, utils.PageParam(c.Query("page")))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, UsersPageResponse{
		Users: res.Items,
		Pagination: Pagination{
			Page:       res.Page,
			PageSize:   res.PageSize,
			Total:      res.Total,
			TotalPages: utils.TotalPages(res.Total, res.PageSize),
		},
	})
}

// ListAdmins godoc
// @Summary  Owner and admins
// @Tags     Owner
// @Success  200  {object}  handlers.ModeratorsResponse
// @Router   /owner/admins [get]
func (h *Handlers) ListAdmins(c *gin.Context) {
	u, found := caller(c)
	if !found {
		return
	}
	mods, err := h.users.ListModerators(c.Request.Context(), u.AccountID)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, ModeratorsResponse{Moderators: mods})
}

// GrantAdmin godoc
// @Summary  Give a user moderator rights
// @Tags     Owner
// @Param    id  path  integer  true  "Account id"
// @Success  204
// @Router   /owner/users/{id}/admin [put]
func (h *Handlers) GrantAdmin(c *gin.Context) {
	h.setAdmin(c, true)
}

// RevokeAdmin godoc
// @Summary  Remove moderator rights
// @Tags     Owner
// @Param    id  path  integer  true  "Account id"
// @Success  204
// @Failure  409  {object}  handlers.ErrorResponse  "Owner cannot be demoted"
// @Router   /owner/users/{id}/admin [delete]
func (h *Handlers) RevokeAdmin(c *gin.Context) {
	h.setAdmin(c, false)
}

func (h *Handlers) setAdmin(c *gin.Context, grant bool) {
	u, found := caller(c)
	if !found {
		return
	}
	target, valid := idParam(c, "id")
	if !valid {
		return
	}
	var err error
	if grant {
		err = h.users.GrantAdmin(c.Request.Context(), u.AccountID, target)
	} else {
		err = h.users.RevokeAdmin(c.Request.Context(), u.AccountID, target)
	}
	if err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}

// SetTrust godoc
// @Summary  Set a user's trust label
// @Tags     Owner
// @Param    id    path  integer                   true  "Account id"
// @Param    body  body  handlers.SetTrustRequest  true  "Label"
// @Success  204
// @Router   /owner/users/{id}/trust [put]
func (h *Handlers) SetTrust(c *gin.Context) {
	u, found := caller(c)
	if !found {
		return
	}
	target, valid := idParam(c, "id")
	if !valid {
		return
	}
	var req SetTrustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "label required")
		return
	}
	label := domain.Trust(strings.ToLower(strings.TrimSpace(string(req.Label))))
	if err := h.users.SetTrust(c.Request.Context(), u.AccountID, target, label); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}

// GrantSubscription godoc
// @Summary  Grant or replace a paid tier
// @Tags     Owner
// @Param    id    path  integer                            true  "Account id"
// @Param    body  body  handlers.GrantSubscriptionRequest  true  "Tier and duration"
// @Success  200  {object}  handlers.UserResponse
// @Router   /owner/users/{id}/subscription [put]
func (h *Handlers) GrantSubscription(c *gin.Context) {
	u, found := caller(c)
	if !found {
		return
	}
	target, valid := idParam(c, "id")
	if !valid {
		return
	}
	var req GrantSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "tier required")
		return
	}
	if req.Forever == (req.Days != nil) {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "give either days or forever")
		return
	}
	tier := domain.Tier(strings.ToLower(strings.TrimSpace(string(req.Tier))))
	got, err := h.subs.Grant(c.Request.Context(), u.AccountID, target, tier, req.Days)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, UserResponse{User: got})
}

// RevokeSubscription godoc
// @Summary  Reset a user to the free tier
// @Tags     Owner
// @Param    id  path  integer  true  "Account id"
// @Success  200  {object}  handlers.UserResponse
// @Router   /owner/users/{id}/subscription [delete]
func (h *Handlers) RevokeSubscription(c *gin.Context) {
	u, found := caller(c)
	if !found {
		return
	}
	target, valid := idParam(c, "id")
	if !valid {
		return
	}
	got, err := h.subs.Revoke(c.Request.Context(), u.AccountID, target)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, UserResponse{User: got})
}
