// Package domain defines the persistence models for consultation rooms,
// messages, and read markers. These types are mapped with GORM and form the
// core data layer of the messaging service.
package domain

import "time"

// SnippetRunes bounds Room.LastMessageSnippet.
const SnippetRunes = 120

// Room is the conversation container for exactly one (patient, doctor) pair.
// Rooms are created on first contact and never deleted; only the
// denormalized last-message fields and LastSeq change afterwards.
//
// Fields:
//   - ID: opaque UUID primary key (char(36)).
//   - PatientID / DoctorID: the pair; unique together (ux_rooms_pair).
//   - LastMessageSnippet / LastMessageAt: preview of the newest message.
//   - LastSeq: highest committed message sequence in this room.
type Room struct {
	ID                 string     `json:"id"                   gorm:"type:char(36);primaryKey"`
	PatientID          uint64     `json:"patient_id"           gorm:"not null;uniqueIndex:ux_rooms_pair,priority:1;index:idx_rooms_patient"`
	DoctorID           uint64     `json:"doctor_id"            gorm:"not null;uniqueIndex:ux_rooms_pair,priority:2;index:idx_rooms_doctor"`
	LastMessageSnippet string     `json:"last_message_snippet" gorm:"type:varchar(512);not null;default:''"`
	LastMessageAt      *time.Time `json:"last_message_at"`
	LastSeq            int64      `json:"last_seq"             gorm:"not null;default:0"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Room.
func (Room) TableName() string { return "rooms" }

// Has reports whether p is one of the room's two participants.
func (r Room) Has(p Participant) bool {
	switch p.Role {
	case RolePatient:
		return p.ID == r.PatientID
	case RoleDoctor:
		return p.ID == r.DoctorID
	}
	return false
}

// Counterpart returns the other participant of the room.
func (r Room) Counterpart(p Participant) Participant {
	if p.Role == RolePatient {
		return Participant{Role: RoleDoctor, ID: r.DoctorID}
	}
	return Participant{Role: RolePatient, ID: r.PatientID}
}

// Message is one immutable utterance in a room. Seq is assigned under the
// room's serialization point and is gapless, starting at 1.
type Message struct {
	ID         string     `json:"id"          gorm:"type:char(36);primaryKey"`
	RoomID     string     `json:"room_id"     gorm:"type:char(36);not null;uniqueIndex:ux_messages_room_seq,priority:1"`
	Seq        int64      `json:"seq"         gorm:"not null;uniqueIndex:ux_messages_room_seq,priority:2"`
	SenderRole Role       `json:"sender_role" gorm:"type:varchar(16);not null;check:sender_role IN ('patient','doctor')"`
	SenderID   uint64     `json:"sender_id"   gorm:"not null"`
	Body       string     `json:"body"        gorm:"type:text;not null"`
	Read       bool       `json:"read"        gorm:"not null;default:false"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`

	Room Room `json:"-" gorm:"foreignKey:RoomID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Sender returns the authoring participant.
func (m Message) Sender() Participant {
	return Participant{Role: m.SenderRole, ID: m.SenderID}
}

// ReadMarker tracks how far one participant has read a room and how many
// counterpart messages are still unread. LastReadSeq never decreases.
type ReadMarker struct {
	RoomID          string    `json:"room_id"        gorm:"type:char(36);primaryKey"`
	ParticipantRole Role      `json:"role"           gorm:"type:varchar(16);primaryKey"`
	ParticipantID   uint64    `json:"participant_id" gorm:"primaryKey;autoIncrement:false"`
	LastReadSeq     int64     `json:"last_read_seq"  gorm:"not null;default:0"`
	UnreadCount     int64     `json:"unread_count"   gorm:"not null;default:0"`
	UpdatedAt       time.Time `json:"updated_at"`

	Room Room `json:"-" gorm:"foreignKey:RoomID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ReadMarker.
func (ReadMarker) TableName() string { return "read_markers" }

// Snippet truncates body to SnippetRunes runes.
func Snippet(body string) string {
	n := 0
	for i := range body {
		if n == SnippetRunes {
			return body[:i]
		}
		n++
	}
	return body
}
