// Post submission and caller-facing endpoints:
//   - POST /posts           submit content for publication
//   - GET  /me              caller profile with today's remaining quota
//   - GET  /users/lookup    public trust check by id or @handle
//
// Idempotency:
// With an Idempotency-Key whose earlier submission by the same caller
// succeeded, POST /posts returns the stored post with 200 and
// `Idempotency-Replayed: true` instead of submitting again.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/postgate/internal/domain"
	"github.com/tbourn/postgate/internal/http/middleware"
	"github.com/tbourn/postgate/internal/services"
)

// SubmitPostRequest is the payload for POST /posts.
type SubmitPostRequest struct {
	Type     domain.ContentType `json:"type" binding:"required" example:"text"`
	Text     string             `json:"text" example:"Selling a bike, DM me"`
	MediaRef *string            `json:"media_ref,omitempty" example:"AgACAgIAAxkBAAIB"`
}

// SubmitPostResponse reports the stored post and whether it went straight
// to the channel.
type SubmitPostResponse struct {
	Post      *domain.Post `json:"post"`
	Published bool         `json:"published"`
}

// ProfileResponse is the caller's own view of their account.
type ProfileResponse struct {
	AccountID      int64        `json:"account_id"`
	Handle         *string      `json:"handle,omitempty"`
	Tier           domain.Tier  `json:"tier"`
	TierLabel      string       `json:"tier_label"`
	ExpiresAt      *time.Time   `json:"expires_at,omitempty"`
	Privileged     bool         `json:"privileged"`
	QuotaRemaining *int         `json:"quota_remaining,omitempty"`
	Trust          domain.Trust `json:"trust"`
	IsAdmin        bool         `json:"is_admin"`
	IsOwner        bool         `json:"is_owner"`
	PostsTotal     int64        `json:"posts_total"`
	PostsApproved  int64        `json:"posts_approved"`
	PostsRejected  int64        `json:"posts_rejected"`
}

// PublicProfile is what anyone may learn about another account.
type PublicProfile struct {
	AccountID   int64        `json:"account_id"`
	DisplayName string       `json:"display_name"`
	Trust       domain.Trust `json:"trust"`
	Tier        string       `json:"tier"`
	Moderator   bool         `json:"moderator"`
	MemberSince time.Time    `json:"member_since"`
}

// SubmitPost godoc
// @Summary  Submit a post
// @Tags     Posts
// @Param    X-User-ID        header  integer  true   "Account id"
// @Param    Idempotency-Key  header  string   false  "Key for safe retries"
// @Param    body             body    handlers.SubmitPostRequest  true  "Content"
// @Success  201  {object}  handlers.SubmitPostResponse
// @Success  200  {object}  handlers.SubmitPostResponse  "Replayed"
// @Failure  400  {object}  handlers.ErrorResponse
// @Failure  409  {object}  handlers.ErrorResponse  "Same key still in progress"
// @Failure  429  {object}  handlers.ErrorResponse  "Daily limit reached"
// @Failure  500  {object}  handlers.ErrorResponse  "already_public: published but not recorded"
// @Failure  502  {object}  handlers.ErrorResponse  "Publication failed"
// @Router   /posts [post]
func (h *Handlers) SubmitPost(c *gin.Context) {
	u, found := caller(c)
	if !found {
		return
	}
	ctx := c.Request.Context()

	var req SubmitPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "type required")
		return
	}

	key, _ := middleware.GetIdempotencyKey(c)
	if key != "" && h.idem != nil && middleware.IsReplay(c) {
		if postID, hit, err := h.idem.Lookup(ctx, u.AccountID, key); err == nil && hit {
			if prev, err := h.posts.Get(ctx, postID); err == nil {
				replay(c, prev)
				return
			}
		}
	}

	p, replayed, err := h.posts.SubmitOnce(ctx, u.AccountID, key, services.Content{
		Type:     domain.ContentType(strings.ToLower(strings.TrimSpace(string(req.Type)))),
		Text:     strings.TrimSpace(req.Text),
		MediaRef: req.MediaRef,
	})
	if err != nil {
		failService(c, err)
		return
	}
	if replayed {
		replay(c, p)
		return
	}
	ok(c, http.StatusCreated, SubmitPostResponse{Post: p, Published: p.Status == domain.StatusApproved})
}

func replay(c *gin.Context, p *domain.Post) {
	c.Header(middleware.HeaderReplayed, "true")
	ok(c, http.StatusOK, SubmitPostResponse{Post: p, Published: p.Status == domain.StatusApproved})
}

// Me godoc
// @Summary  Caller profile
// @Tags     Users
// @Param    X-User-ID  header  integer  true  "Account id"
// @Success  200  {object}  handlers.ProfileResponse
// @Router   /me [get]
func (h *Handlers) Me(c *gin.Context) {
	u, found := caller(c)
	if !found {
		return
	}
	resp := ProfileResponse{
		AccountID:     u.AccountID,
		Handle:        u.Handle,
		Tier:          u.Tier,
		TierLabel:     u.Tier.Label(),
		ExpiresAt:     u.ExpiresAt,
		Privileged:    services.IsPrivileged(u, h.clock.Now()),
		Trust:         u.Trust,
		IsAdmin:       u.IsAdmin,
		IsOwner:       u.IsOwner,
		PostsTotal:    u.PostsTotal,
		PostsApproved: u.PostsApproved,
		PostsRejected: u.PostsRejected,
	}
	// Privileged users have no quota to report.
	if !resp.Privileged && h.quota != nil {
		left := h.quota.Remaining(u)
		resp.QuotaRemaining = &left
	}
	ok(c, http.StatusOK, resp)
}

// LookupUser godoc
// @Summary  Check a user's trust label
// @Tags     Users
// @Param    q  query  string  true  "Account id or @handle"
// @Success  200  {object}  handlers.PublicProfile
// @Failure  404  {object}  handlers.ErrorResponse
// @Router   /users/lookup [get]
func (h *Handlers) LookupUser(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "q required")
		return
	}
	u, err := h.users.Lookup(c.Request.Context(), q)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, PublicProfile{
		AccountID:   u.AccountID,
		DisplayName: u.DisplayName(),
		Trust:       u.Trust,
		Tier:        u.Tier.Label(),
		Moderator:   u.IsModerator(),
		MemberSince: u.CreatedAt,
	})
}
