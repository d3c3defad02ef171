package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/arqut/arqut-desk/internal/pkg/models"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultListLimit = 100

// SQLiteStorage implements the Storage interface using SQLite with GORM
type SQLiteStorage struct {
	db *gorm.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Init initializes the database schema
func (s *SQLiteStorage) Init() error {
	if err := s.db.AutoMigrate(&models.SessionRecord{}, &models.ConnectAttempt{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	if err := s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_session_records_ended_at
		ON session_records(ended_at)
	`).Error; err != nil {
		return fmt.Errorf("failed to create ended_at index: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying DB: %w", err)
	}
	return sqlDB.Close()
}

// CreateSession stores a new session record
func (s *SQLiteStorage) CreateSession(rec *models.SessionRecord) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	if err := s.db.Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// EndSession marks a session as ended. Ending an already ended session is a no-op.
func (s *SQLiteStorage) EndSession(id, endedBy string, at time.Time) error {
	result := s.db.Model(&models.SessionRecord{}).
		Where("id = ? AND ended_at IS NULL", id).
		Updates(map[string]interface{}{
			"ended_at": at,
			"ended_by": endedBy,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to end session: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		if _, err := s.GetSession(id); err != nil {
			return err
		}
	}

	return nil
}

// GetSession retrieves a session by ID
func (s *SQLiteStorage) GetSession(id string) (*models.SessionRecord, error) {
	var rec models.SessionRecord
	result := s.db.Where("id = ?", id).First(&rec)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", result.Error)
	}

	return &rec, nil
}

// ListSessions lists the most recent sessions first
func (s *SQLiteStorage) ListSessions(limit int) ([]*models.SessionRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	var recs []*models.SessionRecord
	result := s.db.Order("started_at DESC").Limit(limit).Find(&recs)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", result.Error)
	}

	return recs, nil
}

// ListActiveSessions lists sessions that have not ended
func (s *SQLiteStorage) ListActiveSessions() ([]*models.SessionRecord, error) {
	var recs []*models.SessionRecord
	result := s.db.Where("ended_at IS NULL").
		Order("started_at DESC").
		Find(&recs)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", result.Error)
	}

	return recs, nil
}

// CloseOpenSessions ends every session still open, used at startup since
// sessions never survive a server restart
func (s *SQLiteStorage) CloseOpenSessions(at time.Time) (int64, error) {
	result := s.db.Model(&models.SessionRecord{}).
		Where("ended_at IS NULL").
		Updates(map[string]interface{}{
			"ended_at": at,
			"ended_by": "server-restart",
		})

	if result.Error != nil {
		return 0, fmt.Errorf("failed to close open sessions: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// RecordAttempt stores a connect attempt
func (s *SQLiteStorage) RecordAttempt(attempt *models.ConnectAttempt) error {
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now()
	}
	if err := s.db.Create(attempt).Error; err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// ListAttempts lists the most recent connect attempts first
func (s *SQLiteStorage) ListAttempts(limit int) ([]*models.ConnectAttempt, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	var attempts []*models.ConnectAttempt
	result := s.db.Order("created_at DESC, id DESC").Limit(limit).Find(&attempts)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", result.Error)
	}

	return attempts, nil
}
