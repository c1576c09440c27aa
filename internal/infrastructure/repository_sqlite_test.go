package infrastructure

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mjehrhart/viewu-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRepo(t *testing.T) *SQLiteTransferRepository {
	t.Helper()
	repo, err := NewSQLiteTransferRepository(filepath.Join(t.TempDir(), "db", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newRecord(sessionID, name string) *domain.TransferRecord {
	task := domain.NewTransferTask(sessionID, "https://192.168.1.50:8971/"+name, name)
	return domain.NewTransferRecord(task)
}

func TestSQLiteTransferRepository_CreateAndFind(t *testing.T) {
	repo := setupTestRepo(t)

	record := newRecord("s1", "clip.mp4")
	require.NoError(t, repo.Create(record))

	found, err := repo.FindByID(record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.SourceURL, found.SourceURL)
	assert.Equal(t, domain.TransferPending, found.State)
	assert.Nil(t, found.CompletedAt)
}

func TestSQLiteTransferRepository_FindByIDMissing(t *testing.T) {
	repo := setupTestRepo(t)

	_, err := repo.FindByID("nope")
	assert.ErrorIs(t, err, domain.ErrTransferNotFound)
}

func TestSQLiteTransferRepository_UpdateFinished(t *testing.T) {
	repo := setupTestRepo(t)

	record := newRecord("s1", "clip.mp4")
	require.NoError(t, repo.Create(record))

	record.MarkFinished(domain.TransferFailed, "", 10, domain.NewHTTPStatusError(404))
	require.NoError(t, repo.Update(record))

	found, err := repo.FindByID(record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferFailed, found.State)
	assert.Equal(t, "http_status", found.ErrorKind)
	assert.Contains(t, found.ErrorMessage, "404")
	assert.NotNil(t, found.CompletedAt)
}

func TestSQLiteTransferRepository_FindAllFilters(t *testing.T) {
	repo := setupTestRepo(t)

	first := newRecord("s1", "a.mp4")
	require.NoError(t, repo.Create(first))
	time.Sleep(5 * time.Millisecond)
	second := newRecord("s2", "b.mp4")
	second.State = domain.TransferSucceeded
	require.NoError(t, repo.Create(second))

	all, err := repo.FindAll(nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID, "newest first")

	bySession, err := repo.FindAll(map[string]interface{}{"session_id": "s1"})
	require.NoError(t, err)
	require.Len(t, bySession, 1)
	assert.Equal(t, first.ID, bySession[0].ID)

	_, err = repo.FindAll(map[string]interface{}{"1=1; DROP TABLE transfers; --": "x"})
	assert.Error(t, err)
}

func TestSQLiteTransferRepository_Stats(t *testing.T) {
	repo := setupTestRepo(t)

	states := []domain.TransferState{
		domain.TransferSucceeded, domain.TransferSucceeded,
		domain.TransferFailed, domain.TransferCancelled, domain.TransferActive,
	}
	for i, state := range states {
		record := newRecord("s", string(rune('a'+i))+".mp4")
		record.State = state
		require.NoError(t, repo.Create(record))
	}

	stats, err := repo.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.Total)
	assert.Equal(t, int64(2), stats.Succeeded)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Cancelled)
	assert.Equal(t, int64(1), stats.Active)
	assert.Equal(t, int64(0), stats.Pending)
}

func TestSQLiteTransferRepository_ResetInterrupted(t *testing.T) {
	repo := setupTestRepo(t)

	pending := newRecord("s1", "a.mp4")
	require.NoError(t, repo.Create(pending))
	active := newRecord("s2", "b.mp4")
	active.State = domain.TransferActive
	require.NoError(t, repo.Create(active))
	done := newRecord("s3", "c.mp4")
	done.State = domain.TransferSucceeded
	require.NoError(t, repo.Create(done))

	n, err := repo.ResetInterrupted()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	found, err := repo.FindByID(active.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferFailed, found.State)
	assert.Equal(t, "network", found.ErrorKind)

	found, err = repo.FindByID(done.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferSucceeded, found.State)
}
