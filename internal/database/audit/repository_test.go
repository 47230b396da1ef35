package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mrlokans/secrets/internal/entities"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "audit.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&entities.AuditEvent{})
	require.NoError(t, err)

	return db
}

func TestRepository_LogEvent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)

	event := &entities.AuditEvent{
		UserID:    "4b0c4a4e-2f53-4f4b-9f0b-4b8b7d9e1a11",
		EventType: entities.AuditEventAuth,
		Action:    entities.AuditActionLogin,
		Status:    entities.AuditStatusSuccess,
	}

	err := repo.LogEvent(context.Background(), event)
	require.NoError(t, err)
	assert.NotZero(t, event.ID)
	assert.False(t, event.CreatedAt.IsZero())
}

func TestRepository_GetEvents(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	events := []entities.AuditEvent{
		{UserID: "u1", EventType: entities.AuditEventAuth, Action: entities.AuditActionLogin, Status: entities.AuditStatusSuccess, CreatedAt: base},
		{UserID: "u1", EventType: entities.AuditEventAuth, Action: entities.AuditActionLogin, Status: entities.AuditStatusFailed, CreatedAt: base.Add(time.Minute)},
		{UserID: "u2", EventType: entities.AuditEventSecret, Action: entities.AuditActionSecretUpdate, Status: entities.AuditStatusSuccess, CreatedAt: base.Add(2 * time.Minute)},
		{EventType: entities.AuditEventAuth, Action: entities.AuditActionRateLimited, Status: entities.AuditStatusFailed, CreatedAt: base.Add(3 * time.Minute)},
	}
	for i := range events {
		require.NoError(t, repo.LogEvent(ctx, &events[i]))
	}

	t.Run("all events newest first", func(t *testing.T) {
		got, total, err := repo.GetEvents(ctx, Filter{}, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(4), total)
		require.Len(t, got, 4)
		assert.Equal(t, entities.AuditActionRateLimited, got[0].Action)
	})

	t.Run("by user", func(t *testing.T) {
		got, total, err := repo.GetEvents(ctx, Filter{UserID: "u1"}, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Equal(t, entities.AuditStatusFailed, got[0].Status)
	})

	t.Run("by type and action", func(t *testing.T) {
		_, total, err := repo.GetEvents(ctx, Filter{EventType: entities.AuditEventAuth, Action: entities.AuditActionLogin}, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
	})

	t.Run("pagination", func(t *testing.T) {
		got, total, err := repo.GetEvents(ctx, Filter{}, 2, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(4), total)
		require.Len(t, got, 2)
		assert.Equal(t, "u1", got[0].UserID)
	})

	t.Run("since", func(t *testing.T) {
		_, total, err := repo.GetEvents(ctx, Filter{Since: base.Add(90 * time.Second)}, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
	})
}

func TestRepository_DeleteOldEvents(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	old := &entities.AuditEvent{EventType: entities.AuditEventAuth, Action: "old", CreatedAt: time.Now().AddDate(0, 0, -40)}
	recent := &entities.AuditEvent{EventType: entities.AuditEventAuth, Action: "recent"}
	require.NoError(t, repo.LogEvent(ctx, old))
	require.NoError(t, repo.LogEvent(ctx, recent))

	deleted, err := repo.DeleteOldEvents(ctx, time.Now().AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var remaining []entities.AuditEvent
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, "recent", remaining[0].Action)
}
