package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/arqut/arqut-desk/internal/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	storage, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)

	err = storage.Init()
	require.NoError(t, err)

	cleanup := func() {
		storage.Close()
	}

	return storage, cleanup
}

func TestCreateSession(t *testing.T) {
	storage, cleanup := setupTestStorage(t)
	defer cleanup()

	rec := &models.SessionRecord{
		ID:           "8c4b8c4e-0000-4000-8000-000000000001",
		ControllerID: "111111",
		TargetID:     "222222",
		ControllerIP: "192.0.2.1",
	}

	require.NoError(t, storage.CreateSession(rec))
	assert.False(t, rec.StartedAt.IsZero())

	retrieved, err := storage.GetSession(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "111111", retrieved.ControllerID)
	assert.Equal(t, "222222", retrieved.TargetID)
	assert.True(t, retrieved.Active())
}

func TestCreateSession_DuplicateID(t *testing.T) {
	storage, cleanup := setupTestStorage(t)
	defer cleanup()

	require.NoError(t, storage.CreateSession(&models.SessionRecord{ID: "s1", ControllerID: "a", TargetID: "b"}))
	err := storage.CreateSession(&models.SessionRecord{ID: "s1", ControllerID: "c", TargetID: "d"})
	assert.Error(t, err)
}

func TestEndSession(t *testing.T) {
	storage, cleanup := setupTestStorage(t)
	defer cleanup()

	require.NoError(t, storage.CreateSession(&models.SessionRecord{ID: "s1", ControllerID: "a", TargetID: "b"}))

	endedAt := time.Now()
	require.NoError(t, storage.EndSession("s1", "a", endedAt))

	rec, err := storage.GetSession("s1")
	require.NoError(t, err)
	require.NotNil(t, rec.EndedAt)
	assert.False(t, rec.Active())
	assert.Equal(t, "a", rec.EndedBy)

	// Ending twice keeps the first outcome
	require.NoError(t, storage.EndSession("s1", "b", endedAt.Add(time.Minute)))
	rec, err = storage.GetSession("s1")
	require.NoError(t, err)
	assert.Equal(t, "a", rec.EndedBy)
}

func TestEndSession_NotFound(t *testing.T) {
	storage, cleanup := setupTestStorage(t)
	defer cleanup()

	err := storage.EndSession("missing", "a", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetSession_NotFound(t *testing.T) {
	storage, cleanup := setupTestStorage(t)
	defer cleanup()

	_, err := storage.GetSession("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSessions(t *testing.T) {
	storage, cleanup := setupTestStorage(t)
	defer cleanup()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, storage.CreateSession(&models.SessionRecord{
			ID:           id,
			ControllerID: "a",
			TargetID:     "b",
			StartedAt:    base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, storage.EndSession("s2", "b", time.Now()))

	all, err := storage.ListSessions(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "s3", all[0].ID)

	limited, err := storage.ListSessions(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	active, err := storage.ListActiveSessions()
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "s3", active[0].ID)
	assert.Equal(t, "s1", active[1].ID)
}

func TestCloseOpenSessions(t *testing.T) {
	storage, cleanup := setupTestStorage(t)
	defer cleanup()

	require.NoError(t, storage.CreateSession(&models.SessionRecord{ID: "s1", ControllerID: "a", TargetID: "b"}))
	require.NoError(t, storage.CreateSession(&models.SessionRecord{ID: "s2", ControllerID: "c", TargetID: "d"}))
	require.NoError(t, storage.EndSession("s2", "c", time.Now()))

	closed, err := storage.CloseOpenSessions(time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), closed)

	active, err := storage.ListActiveSessions()
	require.NoError(t, err)
	assert.Empty(t, active)

	rec, err := storage.GetSession("s1")
	require.NoError(t, err)
	assert.Equal(t, "server-restart", rec.EndedBy)
}

func TestRecordAttempt(t *testing.T) {
	storage, cleanup := setupTestStorage(t)
	defer cleanup()

	require.NoError(t, storage.RecordAttempt(&models.ConnectAttempt{
		ControllerID: "a", TargetID: "b", RemoteIP: "192.0.2.1", Success: false, Reason: "wrong password",
	}))
	require.NoError(t, storage.RecordAttempt(&models.ConnectAttempt{
		ControllerID: "a", TargetID: "b", RemoteIP: "192.0.2.1", Success: true,
	}))

	attempts, err := storage.ListAttempts(10)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.True(t, attempts[0].Success)
	assert.Equal(t, "wrong password", attempts[1].Reason)
}

func TestStorageInterface(t *testing.T) {
	var _ Storage = (*SQLiteStorage)(nil)
}
