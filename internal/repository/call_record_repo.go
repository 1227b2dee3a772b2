package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/MrAlaminH/voice-agent-launchpad/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CallRecordRepository persists finished call records so they outlive the
// in-memory tracker's retention window.
type CallRecordRepository struct {
	db *gorm.DB
}

// NewCallRecordRepository creates a new call record repository
func NewCallRecordRepository(db *gorm.DB) *CallRecordRepository {
	return &CallRecordRepository{db: db}
}

// Archive upserts a call record keyed by call_id. Archiving the same call
// twice (duplicate completion events) overwrites with the latest snapshot.
func (r *CallRecordRepository) Archive(ctx context.Context, rec *domain.CallRecord) error {
	if rec.CallID == "" {
		return fmt.Errorf("call record has no call_id")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.UpdatedAt = time.Now()

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "call_id"}},
		UpdateAll: true,
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to archive call record: %w", err)
	}
	return nil
}

// GetByCallID retrieves an archived call record. A missing record returns
// (nil, nil).
func (r *CallRecordRepository) GetByCallID(ctx context.Context, callID string) (*domain.CallRecord, error) {
	var rec domain.CallRecord
	if err := r.db.WithContext(ctx).Where("call_id = ?", callID).First(&rec).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call record: %w", err)
	}
	return &rec, nil
}

// ListRecent returns the most recently updated archived records.
func (r *CallRecordRepository) ListRecent(ctx context.Context, limit int) ([]*domain.CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []*domain.CallRecord
	err := r.db.WithContext(ctx).
		Order("updated_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list call records: %w", err)
	}
	return recs, nil
}

// ListByPhoneNumber returns archived records for a phone number, newest first.
func (r *CallRecordRepository) ListByPhoneNumber(ctx context.Context, phoneNumber string, limit int) ([]*domain.CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []*domain.CallRecord
	err := r.db.WithContext(ctx).
		Where("phone_number = ?", phoneNumber).
		Order("updated_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list call records by phone number: %w", err)
	}
	return recs, nil
}

// DeleteOlderThan prunes archive rows last touched before the cutoff.
func (r *CallRecordRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("updated_at < ?", cutoff).
		Delete(&domain.CallRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune call records: %w", res.Error)
	}
	return res.RowsAffected, nil
}
