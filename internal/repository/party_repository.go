package repository

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/tailorfit/internal/apperr"
)

// PartyRepository provides persistence APIs for the two party profiles,
// subjects and providers.
type PartyRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	retrier
}

// NewPartyRepository creates a new repository instance.
func NewPartyRepository(db *gorm.DB, logger *zap.Logger) *PartyRepository {
	logger = logger.Named("party_repository")
	return &PartyRepository{db: db, logger: logger, retrier: newRetrier(logger)}
}

// CreateSubject persists a new subject profile. Duplicate email conflicts.
func (r *PartyRepository) CreateSubject(ctx context.Context, subject *Subject) error {
	err := r.executeWithRetry(ctx, "repository.subject.create", subject.ID, func() error {
		return r.db.WithContext(ctx).Create(subject).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.Wrap(apperr.KindConflict, "email already exists", err)
		}
		return apperr.Wrap(apperr.KindStorage, "failed to persist subject", err)
	}
	return nil
}

// FindSubject retrieves a subject by id.
func (r *PartyRepository) FindSubject(ctx context.Context, id string) (*Subject, error) {
	var subject Subject
	err := r.executeWithRetry(ctx, "repository.subject.find", id, func() error {
		return r.db.WithContext(ctx).First(&subject, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Wrap(apperr.KindNotFound, "subject not found", err)
		}
		return nil, apperr.Wrap(apperr.KindStorage, "failed to load subject", err)
	}
	return &subject, nil
}

// ListSubjects lists all subject profiles, newest first.
func (r *PartyRepository) ListSubjects(ctx context.Context) ([]*Subject, error) {
	var list []*Subject
	err := r.executeWithRetry(ctx, "repository.subject.list", "", func() error {
		return r.db.WithContext(ctx).Order("created_at DESC").Find(&list).Error
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "failed to list subjects", err)
	}
	return list, nil
}

// UpdateSubject applies the non-zero fields of updates to a subject profile.
func (r *PartyRepository) UpdateSubject(ctx context.Context, id string, updates map[string]interface{}) (*Subject, error) {
	err := r.executeWithRetry(ctx, "repository.subject.update", id, func() error {
		return r.db.WithContext(ctx).Model(&Subject{}).Where("id = ?", id).Updates(updates).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.Wrap(apperr.KindConflict, "email already exists", err)
		}
		return nil, apperr.Wrap(apperr.KindStorage, "failed to update subject", err)
	}
	return r.FindSubject(ctx, id)
}

// DeleteSubject removes a subject profile.
func (r *PartyRepository) DeleteSubject(ctx context.Context, id string) error {
	err := r.executeWithRetry(ctx, "repository.subject.delete", id, func() error {
		return r.db.WithContext(ctx).Delete(&Subject{}, "id = ?", id).Error
	})
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "failed to delete subject", err)
	}
	return nil
}

// CreateProvider persists a new provider profile. Duplicate email conflicts.
func (r *PartyRepository) CreateProvider(ctx context.Context, provider *Provider) error {
	err := r.executeWithRetry(ctx, "repository.provider.create", provider.ID, func() error {
		return r.db.WithContext(ctx).Create(provider).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.Wrap(apperr.KindConflict, "email already exists", err)
		}
		return apperr.Wrap(apperr.KindStorage, "failed to persist provider", err)
	}
	return nil
}

// FindProvider retrieves a provider by id.
func (r *PartyRepository) FindProvider(ctx context.Context, id string) (*Provider, error) {
	var provider Provider
	err := r.executeWithRetry(ctx, "repository.provider.find", id, func() error {
		return r.db.WithContext(ctx).First(&provider, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Wrap(apperr.KindNotFound, "provider not found", err)
		}
		return nil, apperr.Wrap(apperr.KindStorage, "failed to load provider", err)
	}
	return &provider, nil
}

// ListProviders lists active providers, best rated first.
func (r *PartyRepository) ListProviders(ctx context.Context) ([]*Provider, error) {
	var list []*Provider
	err := r.executeWithRetry(ctx, "repository.provider.list", "", func() error {
		return r.db.WithContext(ctx).
			Where("is_active = ?", true).
			Order("rating DESC, total_orders DESC").
			Find(&list).Error
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "failed to list providers", err)
	}
	return list, nil
}

// UpdateProvider applies the non-zero fields of updates to a provider profile.
func (r *PartyRepository) UpdateProvider(ctx context.Context, id string, updates map[string]interface{}) (*Provider, error) {
	err := r.executeWithRetry(ctx, "repository.provider.update", id, func() error {
		return r.db.WithContext(ctx).Model(&Provider{}).Where("id = ?", id).Updates(updates).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.Wrap(apperr.KindConflict, "email already exists", err)
		}
		return nil, apperr.Wrap(apperr.KindStorage, "failed to update provider", err)
	}
	return r.FindProvider(ctx, id)
}

// DeleteProvider removes a provider profile.
func (r *PartyRepository) DeleteProvider(ctx context.Context, id string) error {
	err := r.executeWithRetry(ctx, "repository.provider.delete", id, func() error {
		return r.db.WithContext(ctx).Delete(&Provider{}, "id = ?", id).Error
	})
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "failed to delete provider", err)
	}
	return nil
}
