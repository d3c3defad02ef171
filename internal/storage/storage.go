package storage

import (
	"errors"
	"time"

	"github.com/arqut/arqut-desk/internal/pkg/models"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// Storage defines the interface for the session audit log
type Storage interface {
	// Initialize the storage (create tables, run migrations)
	Init() error

	// Close the storage connection
	Close() error

	// Session records
	CreateSession(rec *models.SessionRecord) error
	EndSession(id, endedBy string, at time.Time) error
	GetSession(id string) (*models.SessionRecord, error)
	ListSessions(limit int) ([]*models.SessionRecord, error)
	ListActiveSessions() ([]*models.SessionRecord, error)
	CloseOpenSessions(at time.Time) (int64, error)

	// Connect attempts
	RecordAttempt(attempt *models.ConnectAttempt) error
	ListAttempts(limit int) ([]*models.ConnectAttempt, error)
}
