// Moderation queue endpoints (moderators only):
//   - GET  /moderation/next                 oldest pending post
//   - POST /moderation/posts/{id}/approve   publish and approve
//   - POST /moderation/posts/{id}/reject    reject with an optional reason
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/postgate/internal/domain"
)

// QueueItemResponse is the head of the queue plus its length.
type QueueItemResponse struct {
	Post    *domain.Post `json:"post"`
	Pending int64        `json:"pending"`
}

// RejectRequest carries the optional rejection reason.
type RejectRequest struct {
	Reason string `json:"reason" example:"duplicate listing"`
}

// PostResponse wraps a single post.
type PostResponse struct {
	Post *domain.Post `json:"post"`
}

func postIDParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

// NextPending godoc
// @Summary  Oldest pending post
// @Tags     Moderation
// @Success  200  {object}  handlers.QueueItemResponse
// @Success  204  "Queue is empty"
// @Router   /moderation/next [get]
func (h *Handlers) NextPending(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := h.posts.NextPending(ctx)
	if err != nil {
		failService(c, err)
		return
	}
	if p == nil {
		noContent(c)
		return
	}
	n, err := h.posts.PendingCount(ctx)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, QueueItemResponse{Post: p, Pending: n})
}

// ApprovePost godoc
// @Summary  Approve and publish a pending post
// @Tags     Moderation
// @Param    id  path  integer  true  "Post id"
// @Success  200  {object}  handlers.PostResponse
// @Failure  404  {object}  handlers.ErrorResponse
// @Failure  409  {object}  handlers.ErrorResponse  "Already handled"
// @Failure  502  {object}  handlers.ErrorResponse  "Publication failed"
// @Router   /moderation/posts/{id}/approve [post]
func (h *Handlers) ApprovePost(c *gin.Context) {
	u, found := caller(c)
	if !found {
		return
	}
	id, valid := postIDParam(c)
	if !valid {
		return
	}
	p, err := h.posts.Approve(c.Request.Context(), id, u.AccountID)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, PostResponse{Post: p})
}

// RejectPost godoc
// @Summary  Reject a pending post
// @Tags     Moderation
// @Param    id    path  integer                     true   "Post id"
// @Param    body  body  handlers.RejectRequest  false  "Reason"
// @Success  200  {object}  handlers.PostResponse
// @Failure  409  {object}  handlers.ErrorResponse  "Already handled"
// @Router   /moderation/posts/{id}/reject [post]
func (h *Handlers) RejectPost(c *gin.Context) {
	u, found := caller(c)
	if !found {
		return
	}
	id, valid := postIDParam(c)
	if !valid {
		return
	}
	var req RejectRequest
	// The body is optional.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid body")
			return
		}
	}
	p, err := h.posts.Reject(c.Request.Context(), id, u.AccountID, req.Reason)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, PostResponse{Post: p})
}
