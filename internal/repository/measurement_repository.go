package repository

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/tailorfit/internal/apperr"
)

// MeasurementRepository provides persistence APIs for measurement records.
type MeasurementRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	retrier
}

// NewMeasurementRepository creates a new repository instance.
func NewMeasurementRepository(db *gorm.DB, logger *zap.Logger) *MeasurementRepository {
	logger = logger.Named("measurement_repository")
	return &MeasurementRepository{db: db, logger: logger, retrier: newRetrier(logger)}
}

// AutoMigrate ensures the full schema is available.
func (r *MeasurementRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(
		&Subject{},
		&Provider{},
		&Measurement{},
		&SharedMeasurement{},
	)
}

// Create persists a freshly mapped measurement in a single shot.
func (r *MeasurementRepository) Create(ctx context.Context, m *Measurement) error {
	err := r.executeWithRetry(ctx, "repository.measurement.create", m.ID, func() error {
		return r.db.WithContext(ctx).Create(m).Error
	})
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "failed to persist measurement", err)
	}
	return nil
}

// FindByID retrieves one measurement with its shares and their providers
// resolved, so a caller can render every share without a second round trip.
func (r *MeasurementRepository) FindByID(ctx context.Context, id string) (*Measurement, error) {
	var m Measurement
	err := r.executeWithRetry(ctx, "repository.measurement.find_by_id", id, func() error {
		return r.db.WithContext(ctx).
			Preload("Subject").
			Preload("Shares").
			Preload("Shares.Provider").
			First(&m, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Wrap(apperr.KindNotFound, "measurement not found", err)
		}
		return nil, apperr.Wrap(apperr.KindStorage, "failed to load measurement", err)
	}
	return &m, nil
}

// FindBySubject lists a subject's measurements, newest first.
func (r *MeasurementRepository) FindBySubject(ctx context.Context, subjectID string) ([]*Measurement, error) {
	var list []*Measurement
	err := r.executeWithRetry(ctx, "repository.measurement.find_by_subject", subjectID, func() error {
		return r.db.WithContext(ctx).
			Preload("Shares").
			Preload("Shares.Provider").
			Where("subject_id = ?", subjectID).
			Order("created_at DESC").
			Find(&list).Error
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "failed to list measurements", err)
	}
	return list, nil
}

// FindAll lists every measurement, newest first.
func (r *MeasurementRepository) FindAll(ctx context.Context) ([]*Measurement, error) {
	var list []*Measurement
	err := r.executeWithRetry(ctx, "repository.measurement.find_all", "", func() error {
		return r.db.WithContext(ctx).
			Preload("Subject").
			Order("created_at DESC").
			Find(&list).Error
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "failed to list measurements", err)
	}
	return list, nil
}

// Delete removes the measurement row. Share rows are deleted separately
// first so each cascade step has its own failure handling.
func (r *MeasurementRepository) Delete(ctx context.Context, id string) error {
	err := r.executeWithRetry(ctx, "repository.measurement.delete", id, func() error {
		return r.db.WithContext(ctx).Delete(&Measurement{}, "id = ?", id).Error
	})
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "failed to delete measurement", err)
	}
	return nil
}

// UpdateFavorite flips the one subject-mutable flag on a measurement.
func (r *MeasurementRepository) UpdateFavorite(ctx context.Context, id string, favorite bool) error {
	err := r.executeWithRetry(ctx, "repository.measurement.update_favorite", id, func() error {
		return r.db.WithContext(ctx).
			Model(&Measurement{}).
			Where("id = ?", id).
			Update("is_favorite", favorite).Error
	})
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "failed to update favorite flag", err)
	}
	return nil
}
