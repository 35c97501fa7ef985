package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fyerfyer/deal-ai/internal/database"
	"github.com/fyerfyer/deal-ai/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	// 使用唯一的内存数据库标识符
	dbName := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err, "Failed to open in-memory database")

	// 运行迁移以创建所需的表
	require.NoError(t, database.AutoMigrate(db), "Failed to run migrations")

	t.Cleanup(func() {
		_ = database.Close(db)
	})
	return db
}

func newDeal(t *testing.T, id, folder string, status models.DealStatus, docs ...models.ParsedDocument) *models.ParsedDeal {
	t.Helper()
	deal := &models.ParsedDeal{DealID: id, FolderID: folder, Status: status}
	require.NoError(t, deal.SetData(&models.DealData{DealID: id, Documents: docs}))
	return deal
}

func TestDealRepository_CreateAndGet(t *testing.T) {
	repo := NewDealRepository(setupTestDB(t))
	ctx := context.Background()

	doc := *models.NewParsedDocument("cim.pdf", "file-1")
	doc.Text = "Confidential information memorandum"
	deal := newDeal(t, "deal_folder_1700000000", "folder", models.DealStatusCompleted, doc)

	require.NoError(t, repo.Create(ctx, deal))
	assert.False(t, deal.CreatedAt.IsZero())

	saved, err := repo.GetByID(ctx, deal.DealID)
	require.NoError(t, err)
	assert.Equal(t, "folder", saved.FolderID)
	assert.Equal(t, 1, saved.NumDocuments)
	assert.Equal(t, models.DealStatusCompleted, saved.Status)

	payload, err := saved.Payload()
	require.NoError(t, err)
	require.Len(t, payload.Documents, 1)
	assert.Equal(t, "Confidential information memorandum", payload.Documents[0].Text)
	assert.Empty(t, payload.Documents[0].Tables)
}

func TestDealRepository_CreateDuplicate(t *testing.T) {
	repo := NewDealRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newDeal(t, "deal_dup", "f", models.DealStatusCompleted)))

	err := repo.Create(ctx, newDeal(t, "deal_dup", "f", models.DealStatusCompleted))
	assert.ErrorIs(t, err, models.ErrDealExists)

	err = repo.Create(ctx, &models.ParsedDeal{})
	assert.Error(t, err)
}

func TestDealRepository_GetMissing(t *testing.T) {
	repo := NewDealRepository(setupTestDB(t))

	_, err := repo.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrDealNotFound)
}

func TestDealRepository_Update(t *testing.T) {
	repo := NewDealRepository(setupTestDB(t))
	ctx := context.Background()

	deal := newDeal(t, "deal_upd", "f", models.DealStatusPending)
	require.NoError(t, repo.Create(ctx, deal))

	doc := *models.NewParsedDocument("notes.txt", "n1")
	require.NoError(t, deal.SetData(&models.DealData{DealID: deal.DealID, Documents: []models.ParsedDocument{doc}}))
	deal.Status = models.DealStatusCompleted
	deal.NumFailed = 2
	require.NoError(t, repo.Update(ctx, deal))

	saved, err := repo.GetByID(ctx, "deal_upd")
	require.NoError(t, err)
	assert.Equal(t, models.DealStatusCompleted, saved.Status)
	assert.Equal(t, 1, saved.NumDocuments)
	assert.Equal(t, 2, saved.NumFailed)

	err = repo.Update(ctx, newDeal(t, "deal_missing", "f", models.DealStatusCompleted))
	assert.ErrorIs(t, err, models.ErrDealNotFound)
}

func TestDealRepository_UpdateStatus(t *testing.T) {
	repo := NewDealRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newDeal(t, "deal_status", "f", models.DealStatusPending)))

	require.NoError(t, repo.UpdateStatus(ctx, "deal_status", models.DealStatusFailed, "drive unavailable"))
	saved, err := repo.GetByID(ctx, "deal_status")
	require.NoError(t, err)
	assert.Equal(t, models.DealStatusFailed, saved.Status)
	assert.Equal(t, "drive unavailable", saved.Error)

	assert.ErrorIs(t, repo.UpdateStatus(ctx, "deal_status", "bogus", ""), models.ErrInvalidDealStatus)
	assert.ErrorIs(t, repo.UpdateStatus(ctx, "missing", models.DealStatusCompleted, ""), models.ErrDealNotFound)
}

func TestDealRepository_List(t *testing.T) {
	repo := NewDealRepository(setupTestDB(t))
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		deal := newDeal(t, fmt.Sprintf("deal_%d", i), "f1", models.DealStatusCompleted)
		if i%2 == 1 {
			deal.FolderID = "f2"
			deal.Status = models.DealStatusFailed
		}
		deal.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, repo.Create(ctx, deal))
	}

	deals, total, err := repo.List(ctx, 0, 2, DealFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, deals, 2)
	// 按创建时间倒序
	assert.Equal(t, "deal_4", deals[0].DealID)
	assert.Equal(t, "deal_3", deals[1].DealID)

	deals, _, err = repo.List(ctx, 2, 2, DealFilter{})
	require.NoError(t, err)
	assert.Equal(t, "deal_2", deals[0].DealID)

	deals, total, err = repo.List(ctx, 0, 10, DealFilter{Status: models.DealStatusFailed})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, deals, 2)

	_, total, err = repo.List(ctx, 0, 10, DealFilter{FolderID: "f1"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestDealRepository_Delete(t *testing.T) {
	repo := NewDealRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newDeal(t, "deal_del", "f", models.DealStatusCompleted)))
	require.NoError(t, repo.Delete(ctx, "deal_del"))

	_, err := repo.GetByID(ctx, "deal_del")
	assert.ErrorIs(t, err, models.ErrDealNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "deal_del"), models.ErrDealNotFound)
}
