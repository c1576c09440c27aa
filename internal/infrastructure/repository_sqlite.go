package infrastructure

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mjehrhart/viewu-sub000/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// filterColumns are the columns FindAll accepts as filters
var filterColumns = map[string]bool{
	"state":            true,
	"session_id":       true,
	"source_url":       true,
	"destination_name": true,
	"error_kind":       true,
}

// SQLiteTransferRepository implements TransferRepository using SQLite
type SQLiteTransferRepository struct {
	db *gorm.DB
}

// NewSQLiteTransferRepository creates a new SQLite repository
func NewSQLiteTransferRepository(dbPath string) (*SQLiteTransferRepository, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&domain.TransferRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteTransferRepository{db: db}, nil
}

// Create creates a new record
func (r *SQLiteTransferRepository) Create(record *domain.TransferRecord) error {
	return r.db.Create(record).Error
}

// Update updates an existing record
func (r *SQLiteTransferRepository) Update(record *domain.TransferRecord) error {
	return r.db.Save(record).Error
}

// FindByID finds a record by ID
func (r *SQLiteTransferRepository) FindByID(id string) (*domain.TransferRecord, error) {
	var record domain.TransferRecord
	err := r.db.First(&record, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTransferNotFound
		}
		return nil, err
	}
	return &record, nil
}

// FindAll finds all records with optional filters
func (r *SQLiteTransferRepository) FindAll(filters map[string]interface{}) ([]*domain.TransferRecord, error) {
	var records []*domain.TransferRecord
	query := r.db

	for key, value := range filters {
		if !filterColumns[key] {
			return nil, fmt.Errorf("unsupported filter: %s", key)
		}
		query = query.Where(fmt.Sprintf("%s = ?", key), value)
	}

	err := query.Order("created_at DESC").Find(&records).Error
	return records, err
}

// GetStats returns transfer statistics
func (r *SQLiteTransferRepository) GetStats() (*domain.TransferStats, error) {
	stats := &domain.TransferStats{}

	if err := r.db.Model(&domain.TransferRecord{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}

	stateCounts := []struct {
		State domain.TransferState
		Count int64
	}{}

	if err := r.db.Model(&domain.TransferRecord{}).
		Select("state, count(*) as count").
		Group("state").
		Scan(&stateCounts).Error; err != nil {
		return nil, err
	}

	for _, sc := range stateCounts {
		switch sc.State {
		case domain.TransferPending:
			stats.Pending = sc.Count
		case domain.TransferActive:
			stats.Active = sc.Count
		case domain.TransferSucceeded:
			stats.Succeeded = sc.Count
		case domain.TransferFailed:
			stats.Failed = sc.Count
		case domain.TransferCancelled:
			stats.Cancelled = sc.Count
		}
	}

	return stats, nil
}

// ResetInterrupted marks records that were in flight when the previous
// process exited as failed network transfers
func (r *SQLiteTransferRepository) ResetInterrupted() (int64, error) {
	now := time.Now()
	result := r.db.Model(&domain.TransferRecord{}).
		Where("state IN ?", []domain.TransferState{domain.TransferPending, domain.TransferActive}).
		Updates(map[string]interface{}{
			"state":         domain.TransferFailed,
			"error_kind":    string(domain.ErrorKindNetwork),
			"error_message": "interrupted by restart",
			"completed_at":  now,
			"updated_at":    now,
		})
	return result.RowsAffected, result.Error
}

// Close closes the database connection
func (r *SQLiteTransferRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
