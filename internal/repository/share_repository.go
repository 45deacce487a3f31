package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/tailorfit/internal/apperr"
)

// ShareRepository provides persistence APIs for shared measurements.
type ShareRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	retrier
}

// NewShareRepository creates a new repository instance.
func NewShareRepository(db *gorm.DB, logger *zap.Logger) *ShareRepository {
	logger = logger.Named("share_repository")
	return &ShareRepository{db: db, logger: logger, retrier: newRetrier(logger)}
}

// Create persists a new share. The composite unique index makes a concurrent
// duplicate for the same (measurement, provider) pair a conflict.
func (r *ShareRepository) Create(ctx context.Context, share *SharedMeasurement) error {
	err := r.executeWithRetry(ctx, "repository.share.create", share.ID, func() error {
		return r.db.WithContext(ctx).Create(share).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.Wrap(apperr.KindConflict, "measurement already shared with this provider", err)
		}
		return apperr.Wrap(apperr.KindStorage, "failed to persist share", err)
	}
	return nil
}

// FindByID retrieves one share with all three parties resolved.
func (r *ShareRepository) FindByID(ctx context.Context, id string) (*SharedMeasurement, error) {
	var share SharedMeasurement
	err := r.executeWithRetry(ctx, "repository.share.find_by_id", id, func() error {
		return r.db.WithContext(ctx).
			Preload("Subject").
			Preload("Measurement").
			Preload("Provider").
			First(&share, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Wrap(apperr.KindNotFound, "share not found", err)
		}
		return nil, apperr.Wrap(apperr.KindStorage, "failed to load share", err)
	}
	return &share, nil
}

// FindByMeasurementAndProvider looks up the share for a pair, if any.
func (r *ShareRepository) FindByMeasurementAndProvider(ctx context.Context, measurementID, providerID string) (*SharedMeasurement, error) {
	var share SharedMeasurement
	err := r.executeWithRetry(ctx, "repository.share.find_by_pair", measurementID, func() error {
		return r.db.WithContext(ctx).
			First(&share, "measurement_id = ? AND provider_id = ?", measurementID, providerID).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Wrap(apperr.KindNotFound, "share not found", err)
		}
		return nil, apperr.Wrap(apperr.KindStorage, "failed to load share", err)
	}
	return &share, nil
}

// FindBySubject lists a subject's outgoing shares, newest first, with the
// counterpart provider and the measurement resolved.
func (r *ShareRepository) FindBySubject(ctx context.Context, subjectID string) ([]*SharedMeasurement, error) {
	var list []*SharedMeasurement
	err := r.executeWithRetry(ctx, "repository.share.find_by_subject", subjectID, func() error {
		return r.db.WithContext(ctx).
			Preload("Provider").
			Preload("Measurement").
			Where("subject_id = ?", subjectID).
			Order("shared_at DESC").
			Find(&list).Error
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "failed to list shares", err)
	}
	return list, nil
}

// FindByProvider lists a provider's incoming shares, newest first, with the
// counterpart subject and the measurement resolved.
func (r *ShareRepository) FindByProvider(ctx context.Context, providerID string) ([]*SharedMeasurement, error) {
	var list []*SharedMeasurement
	err := r.executeWithRetry(ctx, "repository.share.find_by_provider", providerID, func() error {
		return r.db.WithContext(ctx).
			Preload("Subject").
			Preload("Measurement").
			Where("provider_id = ?", providerID).
			Order("shared_at DESC").
			Find(&list).Error
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "failed to list shares", err)
	}
	return list, nil
}

// MarkViewed transitions pending → viewed and stamps viewedAt. The status
// precondition makes it idempotent once the share is viewed or terminal.
func (r *ShareRepository) MarkViewed(ctx context.Context, id string, when time.Time) error {
	err := r.executeWithRetry(ctx, "repository.share.mark_viewed", id, func() error {
		return r.db.WithContext(ctx).
			Model(&SharedMeasurement{}).
			Where("id = ? AND status = ?", id, ShareStatusPending).
			Updates(map[string]interface{}{"status": ShareStatusViewed, "viewed_at": when}).Error
	})
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "failed to mark share viewed", err)
	}
	return nil
}

// Transition moves a share into a terminal status, guarded by an optimistic
// precondition on the current status so concurrent accept/reject attempts on
// the same share cannot both win. Returns false when the share was not in an
// actionable state.
func (r *ShareRepository) Transition(ctx context.Context, id string, to ShareStatus, providerNotes string) (bool, error) {
	var affected int64
	err := r.executeWithRetry(ctx, "repository.share.transition", id, func() error {
		result := r.db.WithContext(ctx).
			Model(&SharedMeasurement{}).
			Where("id = ? AND status IN ?", id, []ShareStatus{ShareStatusPending, ShareStatusViewed}).
			Updates(map[string]interface{}{"status": to, "provider_notes": providerNotes})
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return false, apperr.Wrap(apperr.KindStorage, "failed to update share status", err)
	}
	return affected > 0, nil
}

// DeleteByMeasurement removes every share of a measurement, the first step
// of the delete cascade.
func (r *ShareRepository) DeleteByMeasurement(ctx context.Context, measurementID string) error {
	err := r.executeWithRetry(ctx, "repository.share.delete_by_measurement", measurementID, func() error {
		return r.db.WithContext(ctx).Delete(&SharedMeasurement{}, "measurement_id = ?", measurementID).Error
	})
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "failed to delete shares", err)
	}
	return nil
}
