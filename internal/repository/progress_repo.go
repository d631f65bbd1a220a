package repository

import (
	"context"
	"time"

	"github.com/timmy/autograde/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormProgressStore keeps progress records in a SQL table.
type GormProgressStore struct {
	db *gorm.DB
}

// NewGormProgressStore creates a new GormProgressStore.
// Parameters:
//   - db: GORM database handle with the progress_records table migrated.
//
// Returns:
//   - *GormProgressStore: store bound to db.
func NewGormProgressStore(db *gorm.DB) *GormProgressStore {
	return &GormProgressStore{db: db}
}

// Load returns every record keyed by student ID.
func (r *GormProgressStore) Load(ctx context.Context) (map[string]domain.ProgressRecord, error) {
	var records []domain.ProgressRecord
	if err := r.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, &StoreError{Op: "load", Err: err}
	}
	out := make(map[string]domain.ProgressRecord, len(records))
	for _, rec := range records {
		out[rec.StudentID] = rec
	}
	return out, nil
}

// Upsert creates or replaces the record keyed by student ID in its own transaction.
// The current status is read in the same transaction and the change is rejected when it moves backwards.
func (r *GormProgressStore) Upsert(ctx context.Context, rec domain.ProgressRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prev []domain.ProgressRecord
		if err := tx.Select("student_id", "status").Where("student_id = ?", rec.StudentID).Limit(1).Find(&prev).Error; err != nil {
			return err
		}
		if len(prev) > 0 {
			if err := checkTransition(prev[0].Status, rec); err != nil {
				return err
			}
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "student_id"}},
			UpdateAll: true,
		}).Create(&rec).Error
	})
	if err != nil {
		return &StoreError{Op: "upsert", Err: err}
	}
	return nil
}

// Snapshot returns every record sorted by student ID.
func (r *GormProgressStore) Snapshot(ctx context.Context) ([]domain.ProgressRecord, error) {
	var records []domain.ProgressRecord
	if err := r.db.WithContext(ctx).Order("student_id").Find(&records).Error; err != nil {
		return nil, &StoreError{Op: "snapshot", Err: err}
	}
	return records, nil
}

// Reset deletes every record.
func (r *GormProgressStore) Reset(ctx context.Context) error {
	err := r.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&domain.ProgressRecord{}).Error
	if err != nil {
		return &StoreError{Op: "reset", Err: err}
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *GormProgressStore) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
