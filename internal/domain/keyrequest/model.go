package keyrequest

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusOpen    Status = "open"
	StatusHandled Status = "handled"
	StatusClosed  Status = "closed"
)

// StatusAll is the list filter that matches every status.
const StatusAll = "all"

type KeyRequest struct {
	ID        uuid.UUID      `db:"id"`
	DeviceID  string         `db:"device_id"`
	Status    Status         `db:"status"`
	Note      sql.NullString `db:"note"`
	CreatedAt time.Time      `db:"created_at"`
	HandledAt sql.NullTime   `db:"handled_at"`
}

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusHandled, StatusClosed:
		return true
	}
	return false
}

// CanTransition allows open -> handled|closed and handled -> closed only.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusOpen:
		return to == StatusHandled || to == StatusClosed
	case StatusHandled:
		return to == StatusClosed
	}
	return false
}
