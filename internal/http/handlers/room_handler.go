// Room HTTP handlers.
//
// This file exposes REST endpoints for consultation rooms:
//   - POST /chat/rooms       (open the room with a counterpart)
//   - GET  /chat/rooms       (caller's rooms with unread counts, weak ETag)
//   - GET  /chat/rooms/{id}  (one room, participants only)
//
// Handlers are transport-thin: they bind input, take the caller from the
// Authenticate middleware and delegate authorization to the services.
package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-consult-chat/internal/domain"
	"github.com/tbourn/go-consult-chat/internal/http/middleware"
	"github.com/tbourn/go-consult-chat/internal/repo"
	"github.com/tbourn/go-consult-chat/internal/services"
)

//
// Service contracts
//

// RoomService is the room directory as used by the handlers.
type RoomService interface {
	Open(ctx context.Context, caller domain.Participant, counterpartID uint64) (*domain.Room, bool, error)
	Get(ctx context.Context, roomID string, caller domain.Participant) (*domain.Room, error)
	ListFor(ctx context.Context, caller domain.Participant) ([]repo.RoomSummary, error)
}

// MessageService is the message ledger as used by the handlers.
type MessageService interface {
	AppendWithKey(ctx context.Context, roomID string, sender domain.Participant, body, key string) (*domain.Message, bool, error)
	List(ctx context.Context, roomID string, caller domain.Participant, since int64, limit int) ([]domain.Message, int64, error)
	MarkRead(ctx context.Context, roomID string, caller domain.Participant, through int64) (*domain.ReadMarker, error)
	UnreadCount(ctx context.Context, roomID string, caller domain.Participant) (int64, error)
}

// Handlers groups the chat REST endpoints.
type Handlers struct {
	rooms RoomService
	msgs  MessageService
}

// New constructs Handlers bound to the given services.
func New(rooms RoomService, msgs MessageService) *Handlers {
	return &Handlers{rooms: rooms, msgs: msgs}
}

// caller returns the authenticated participant or aborts with 401.
func caller(c *gin.Context) (domain.Participant, bool) {
	p, found := middleware.ParticipantFrom(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing or invalid credential")
	}
	return p, found
}

// statsDB returns the store behind the concrete services for ETag queries.
// Other implementations simply skip conditional responses.
func (h *Handlers) statsDB() *gorm.DB {
	if svc, isConcrete := h.rooms.(*services.RoomService); isConcrete {
		return svc.DB
	}
	return nil
}

//
// DTOs
//

// OpenRoomRequest names the counterpart: a patient sends doctor_id, a doctor
// sends patient_id.
type OpenRoomRequest struct {
	DoctorID  uint64 `json:"doctor_id,omitempty" example:"7"`
	PatientID uint64 `json:"patient_id,omitempty" example:"42"`
}

// OpenRoomResponse carries the room shared with the counterpart.
type OpenRoomResponse struct {
	RoomID string       `json:"room_id" example:"0b6f3c1e-6a52-4a43-9c59-2f6d1f0b9e11"`
	Room   *domain.Room `json:"room"`
}

// ListRoomsResponse lists the caller's rooms, most recent activity first.
type ListRoomsResponse struct {
	Rooms []repo.RoomSummary `json:"rooms"`
}

//
// Handlers
//

// OpenRoom godoc
// @ID          openRoom
// @Summary     Open a consultation room
// @Description Returns the single room shared by the caller and the counterpart, creating it on first contact.
// @Description Patients send doctor_id, doctors send patient_id. 201 when created, 200 when it already existed.
// @Tags        Rooms
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.OpenRoomRequest  true  "Counterpart"
//
// @Success     201  {object}  handlers.OpenRoomResponse  "Created"
// @Success     200  {object}  handlers.OpenRoomResponse  "Already existed"
// @Failure     400  {object}  handlers.ErrorResponse     "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse     "Unauthorized"
// @Failure     403  {object}  handlers.ErrorResponse     "Contact not allowed"
// @Failure     503  {object}  handlers.ErrorResponse     "Busy, retry"
// @Failure     500  {object}  handlers.ErrorResponse     "Internal error"
// @Router      /chat/rooms [post]
func (h *Handlers) OpenRoom(c *gin.Context) {
	p, found := caller(c)
	if !found {
		return
	}
	var req OpenRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	counterpart := req.DoctorID
	if p.Role == domain.RoleDoctor {
		counterpart = req.PatientID
	}
	if counterpart == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest,
			fmt.Sprintf("%s_id required", p.Role.Counterpart()))
		return
	}

	room, created, err := h.rooms.Open(c.Request.Context(), p, counterpart)
	if err != nil {
		failErr(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	ok(c, status, OpenRoomResponse{RoomID: room.ID, Room: room})
}

// ListRooms godoc
// @ID          listRooms
// @Summary     List the caller's rooms
// @Description Rooms with the caller's unread count, most recent activity first. Supports weak ETag via If-None-Match.
// @Tags        Rooms
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
//
// @Success     200  {object}  handlers.ListRoomsResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chat/rooms [get]
func (h *Handlers) ListRooms(c *gin.Context) {
	p, found := caller(c)
	if !found {
		return
	}
	ctx := c.Request.Context()

	if db := h.statsDB(); db != nil {
		count, maxTS, unread, err := repo.RoomsStats(ctx, db, p)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.UnixMilli()
			}
			etag := fmt.Sprintf(`W/"rooms:%s:%d:%d:%d"`, p, count, ts, unread)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	rooms, err := h.rooms.ListFor(ctx, p)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListRoomsResponse{Rooms: rooms})
}

// GetRoom godoc
// @ID          getRoom
// @Summary     Get a room
// @Description Returns the room when the caller is one of its two participants.
// @Tags        Rooms
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Room ID (UUID)"  format(uuid)
//
// @Success     200  {object}  domain.Room
// @Failure     400  {object}  handlers.ErrorResponse  "Malformed room id"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     403  {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chat/rooms/{id} [get]
func (h *Handlers) GetRoom(c *gin.Context) {
	p, found := caller(c)
	if !found {
		return
	}
	room, err := h.rooms.Get(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, room)
}
