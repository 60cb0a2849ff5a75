// Message HTTP handlers.
//
// This file exposes REST endpoints over a room's message ledger:
//   - GET  /chat/rooms/{id}/messages  (history after a sequence cursor, weak ETag)
//   - POST /chat/rooms/{id}/messages  (append, Idempotency-Key aware)
//   - POST /chat/rooms/{id}/read      (advance the caller's read marker)
//   - GET  /chat/rooms/{id}/unread    (caller's unread counter)
//
// Idempotency:
// A send carrying an Idempotency-Key that the caller already used in the
// room returns the originally stored message with 200 and
// `Idempotency-Replayed: true` instead of appending a second copy.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-consult-chat/internal/domain"
	"github.com/tbourn/go-consult-chat/internal/http/middleware"
	"github.com/tbourn/go-consult-chat/internal/repo"
	"github.com/tbourn/go-consult-chat/internal/utils"
)

//
// DTOs
//

// PostMessageRequest is the JSON payload for sending a message.
type PostMessageRequest struct {
	// Body is trimmed and NFC-normalized by the ledger; it must not be empty.
	Body string `json:"body" binding:"required" example:"The rash has spread since yesterday."`
}

// PostMessageResponse wraps the stored message.
type PostMessageResponse struct {
	Message *domain.Message `json:"message"`
}

// ListMessagesResponse is one page of history in ascending seq order plus
// the room's current last_seq. More history exists when the last returned
// seq is below last_seq.
type ListMessagesResponse struct {
	Messages []domain.Message `json:"messages"`
	LastSeq  int64            `json:"last_seq" example:"57"`
}

// MarkReadRequest advances the caller's read marker.
type MarkReadRequest struct {
	// ThroughSeq is clamped to the room's last_seq; lower values than the
	// current marker are ignored.
	ThroughSeq *int64 `json:"through_seq" binding:"required" example:"57"`
}

// ReadMarkerResponse reports the caller's marker after an update.
type ReadMarkerResponse struct {
	RoomID      string `json:"room_id"`
	LastReadSeq int64  `json:"last_read_seq" example:"57"`
	UnreadCount int64  `json:"unread_count" example:"0"`
}

// UnreadResponse reports the caller's unread counter for a room.
type UnreadResponse struct {
	RoomID      string `json:"room_id"`
	UnreadCount int64  `json:"unread_count" example:"3"`
}

const defaultHistoryLimit = 50

//
// Handlers
//

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages after a cursor
// @Description Returns messages with seq > since in ascending order. Reconnecting clients pass the last seq they saw.
// @Description Supports weak ETag via If-None-Match.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
//
// @Param       id             path    string  true   "Room ID (UUID)"  format(uuid)
// @Param       since          query   int     false  "Return messages after this seq"  minimum(0) default(0)
// @Param       limit          query   int     false  "Max messages (capped by the server page limit)"  minimum(1) default(50)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
//
// @Success     200  {object}  handlers.ListMessagesResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     403  {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chat/rooms/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	p, found := caller(c)
	if !found {
		return
	}
	ctx := c.Request.Context()
	roomID := c.Param("id")

	since, err := utils.Int64Param(c.Query("since"), 0)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "since must be an integer")
		return
	}
	limit := utils.ClampInt(utils.AtoiDefault(c.Query("limit"), defaultHistoryLimit), 1, 0)

	// Authorize before the ETag check so outsiders cannot read room stats.
	if _, err := h.rooms.Get(ctx, roomID, p); err != nil {
		failErr(c, err)
		return
	}

	if db := h.statsDB(); db != nil {
		count, readCount, err := repo.MessagesStats(ctx, db, roomID)
		if err == nil {
			etag := fmt.Sprintf(`W/"messages:%s:%d:%d:%d:%d"`, roomID, count, readCount, since, limit)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, lastSeq, err := h.msgs.List(ctx, roomID, p, since, limit)
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.Message{}
	}
	ok(c, http.StatusOK, ListMessagesResponse{Messages: items, LastSeq: lastSeq})
}

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a message
// @Description Appends a message to the room with the next sequence number and fans it out to live sessions.
// @Description Supports idempotency via the Idempotency-Key header (same key, same message).
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string  true   "Room ID (UUID)"  format(uuid)
// @Param       body             body    handlers.PostMessageRequest  true  "Message payload"
//
// @Success     201  {object}  handlers.PostMessageResponse  "Stored"
// @Success     200  {object}  handlers.PostMessageResponse  "Replayed by Idempotency-Key"
// @Header      200  {string}  Idempotency-Replayed  "true on replay"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     403  {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     503  {object}  handlers.ErrorResponse  "Room busy, retry"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chat/rooms/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	p, found := caller(c)
	if !found {
		return
	}
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body required")
		return
	}
	key, _ := middleware.GetIdempotencyKey(c)

	m, replayed, err := h.msgs.AppendWithKey(c.Request.Context(), c.Param("id"), p, req.Body, key)
	if err != nil {
		failErr(c, err)
		return
	}
	if replayed {
		c.Header("Idempotency-Replayed", "true")
		ok(c, http.StatusOK, PostMessageResponse{Message: m})
		return
	}
	ok(c, http.StatusCreated, PostMessageResponse{Message: m})
}

// MarkRead godoc
// @ID          markRead
// @Summary     Mark messages read
// @Description Advances the caller's read marker through the given seq and recomputes the unread counter.
// @Description The marker never moves backwards.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  string  true  "Room ID (UUID)"  format(uuid)
// @Param       body  body  handlers.MarkReadRequest  true  "Read position"
//
// @Success     200  {object}  handlers.ReadMarkerResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     403  {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chat/rooms/{id}/read [post]
func (h *Handlers) MarkRead(c *gin.Context) {
	p, found := caller(c)
	if !found {
		return
	}
	var req MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ThroughSeq == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "through_seq required")
		return
	}
	roomID := c.Param("id")
	marker, err := h.msgs.MarkRead(c.Request.Context(), roomID, p, *req.ThroughSeq)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ReadMarkerResponse{
		RoomID:      roomID,
		LastReadSeq: marker.LastReadSeq,
		UnreadCount: marker.UnreadCount,
	})
}

// Unread godoc
// @ID          unreadCount
// @Summary     Unread counter
// @Description Number of counterpart messages after the caller's read marker.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Room ID (UUID)"  format(uuid)
//
// @Success     200  {object}  handlers.UnreadResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     403  {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chat/rooms/{id}/unread [get]
func (h *Handlers) Unread(c *gin.Context) {
	p, found := caller(c)
	if !found {
		return
	}
	roomID := c.Param("id")
	n, err := h.msgs.UnreadCount(c.Request.Context(), roomID, p)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, UnreadResponse{RoomID: roomID, UnreadCount: n})
}
