package domain

import (
	"errors"
	"strconv"
	"strings"
)

// Role distinguishes the two sides of a consultation.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// ErrInvalidParticipant is returned by ParseParticipant and ParseRole.
var ErrInvalidParticipant = errors.New("invalid participant")

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool { return r == RolePatient || r == RoleDoctor }

// Counterpart returns the opposite role.
func (r Role) Counterpart() Role {
	if r == RolePatient {
		return RoleDoctor
	}
	return RolePatient
}

// ParseRole accepts "patient" or "doctor" in any case.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", ErrInvalidParticipant
	}
	return r, nil
}

// Participant identifies an authenticated caller. Its canonical string form
// is "<role>:<id>", e.g. "patient:42".
type Participant struct {
	Role Role   `json:"role"`
	ID   uint64 `json:"id"`
}

func (p Participant) String() string {
	return string(p.Role) + ":" + strconv.FormatUint(p.ID, 10)
}

// IsZero reports whether p carries no identity.
func (p Participant) IsZero() bool { return p.Role == "" && p.ID == 0 }

// ParseParticipant parses the canonical "<role>:<id>" form.
func ParseParticipant(s string) (Participant, error) {
	role, id, ok := strings.Cut(s, ":")
	if !ok {
		return Participant{}, ErrInvalidParticipant
	}
	r, err := ParseRole(role)
	if err != nil {
		return Participant{}, err
	}
	n, err := strconv.ParseUint(strings.TrimSpace(id), 10, 64)
	if err != nil || n == 0 {
		return Participant{}, ErrInvalidParticipant
	}
	return Participant{Role: r, ID: n}, nil
}
