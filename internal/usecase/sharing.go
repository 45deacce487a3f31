package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/tailorfit/internal/apperr"
	"github.com/example/tailorfit/internal/logging"
	"github.com/example/tailorfit/internal/repository"
)

// ShareRepository defines the persistence operations needed by the sharing
// workflow.
type ShareRepository interface {
	Create(ctx context.Context, share *repository.SharedMeasurement) error
	FindByID(ctx context.Context, id string) (*repository.SharedMeasurement, error)
	FindByMeasurementAndProvider(ctx context.Context, measurementID, providerID string) (*repository.SharedMeasurement, error)
	FindBySubject(ctx context.Context, subjectID string) ([]*repository.SharedMeasurement, error)
	FindByProvider(ctx context.Context, providerID string) ([]*repository.SharedMeasurement, error)
	MarkViewed(ctx context.Context, id string, when time.Time) error
	Transition(ctx context.Context, id string, to repository.ShareStatus, providerNotes string) (bool, error)
}

// MeasurementFinder resolves measurements for ownership checks.
type MeasurementFinder interface {
	FindByID(ctx context.Context, id string) (*repository.Measurement, error)
}

// ProviderDirectory resolves provider profiles for existence checks.
type ProviderDirectory interface {
	FindProvider(ctx context.Context, id string) (*repository.Provider, error)
}

// SharingUseCase governs the offer/accept/reject workflow between a
// measurement's owner and a provider. Every mutating action re-checks the
// caller's claimed identity; nothing is trusted across calls.
type SharingUseCase struct {
	shares       ShareRepository
	measurements MeasurementFinder
	providers    ProviderDirectory
	cache        Cache
	logger       *zap.Logger
}

// NewSharingUseCase constructs a new use case instance.
func NewSharingUseCase(
	shares ShareRepository,
	measurements MeasurementFinder,
	providers ProviderDirectory,
	cache Cache,
	logger *zap.Logger,
) *SharingUseCase {
	return &SharingUseCase{
		shares:       shares,
		measurements: measurements,
		providers:    providers,
		cache:        cache,
		logger:       logger.Named("sharing_usecase"),
	}
}

// Create offers a measurement to a provider. Only the owning subject may
// share, and a (measurement, provider) pair can hold one share at a time,
// whatever its status. Re-offering after a rejection requires deleting the
// existing share first.
func (uc *SharingUseCase) Create(ctx context.Context, actorSubjectID, measurementID, providerID, message string) (*repository.SharedMeasurement, error) {
	m, err := uc.measurements.FindByID(ctx, measurementID)
	if err != nil {
		return nil, err
	}
	if m.SubjectID != actorSubjectID {
		return nil, apperr.New(apperr.KindForbidden, "you can only share your own measurements")
	}
	if _, err := uc.providers.FindProvider(ctx, providerID); err != nil {
		return nil, err
	}

	if _, err := uc.shares.FindByMeasurementAndProvider(ctx, measurementID, providerID); err == nil {
		return nil, apperr.New(apperr.KindConflict, "measurement already shared with this provider")
	} else if !apperr.IsKind(err, apperr.KindNotFound) {
		return nil, err
	}

	share := &repository.SharedMeasurement{
		ID:            uuid.NewString(),
		SubjectID:     actorSubjectID,
		MeasurementID: measurementID,
		ProviderID:    providerID,
		Status:        repository.ShareStatusPending,
		Message:       message,
		SharedAt:      time.Now().UTC(),
	}
	if err := uc.shares.Create(ctx, share); err != nil {
		return nil, err
	}

	uc.invalidateMeasurement(ctx, measurementID)
	return share, nil
}

// Get returns one share to either party. A provider's first read of a
// pending share transitions it to viewed.
func (uc *SharingUseCase) Get(ctx context.Context, shareID, actorID string) (*repository.SharedMeasurement, error) {
	share, err := uc.shares.FindByID(ctx, shareID)
	if err != nil {
		return nil, err
	}
	if actorID != share.SubjectID && actorID != share.ProviderID {
		return nil, apperr.New(apperr.KindForbidden, "share is not visible to this caller")
	}
	if actorID == share.ProviderID {
		uc.markViewed(ctx, share)
	}
	return share, nil
}

// ListForSubject lists a subject's outgoing shares with the counterpart
// provider resolved.
func (uc *SharingUseCase) ListForSubject(ctx context.Context, subjectID string) ([]*repository.SharedMeasurement, error) {
	return uc.shares.FindBySubject(ctx, subjectID)
}

// ListForProvider lists a provider's inbox with the counterpart subject
// resolved. Reading the inbox marks pending shares viewed, so it is
// restricted to the provider itself.
func (uc *SharingUseCase) ListForProvider(ctx context.Context, providerID, actorID string) ([]*repository.SharedMeasurement, error) {
	if actorID != providerID {
		return nil, apperr.New(apperr.KindForbidden, "only the provider can read their inbox")
	}
	if _, err := uc.providers.FindProvider(ctx, providerID); err != nil {
		return nil, err
	}
	list, err := uc.shares.FindByProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	for _, share := range list {
		uc.markViewed(ctx, share)
	}
	return list, nil
}

// Accept resolves a share in the provider's favor.
func (uc *SharingUseCase) Accept(ctx context.Context, shareID, actorProviderID, notes string) (*repository.SharedMeasurement, error) {
	return uc.resolve(ctx, shareID, actorProviderID, repository.ShareStatusAccepted, notes)
}

// Reject resolves a share against the subject's offer.
func (uc *SharingUseCase) Reject(ctx context.Context, shareID, actorProviderID, notes string) (*repository.SharedMeasurement, error) {
	return uc.resolve(ctx, shareID, actorProviderID, repository.ShareStatusRejected, notes)
}

// resolve moves a share into a terminal state. The repository transition
// carries an optimistic status precondition, so two concurrent resolutions
// of the same share cannot both succeed.
func (uc *SharingUseCase) resolve(ctx context.Context, shareID, actorProviderID string, to repository.ShareStatus, notes string) (*repository.SharedMeasurement, error) {
	share, err := uc.shares.FindByID(ctx, shareID)
	if err != nil {
		return nil, err
	}
	if share.ProviderID != actorProviderID {
		return nil, apperr.New(apperr.KindForbidden, "only the recipient provider can act on a share")
	}
	if !share.Status.Actionable() {
		return nil, apperr.Newf(apperr.KindConflict, "share is already %s", share.Status)
	}

	ok, err := uc.shares.Transition(ctx, shareID, to, notes)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.KindConflict, "share was resolved concurrently")
	}

	share.Status = to
	share.ProviderNotes = notes
	uc.invalidateMeasurement(ctx, share.MeasurementID)
	return share, nil
}

// markViewed performs the implicit pending → viewed transition. Failures
// are logged only; a read must not fail because the stamp did.
func (uc *SharingUseCase) markViewed(ctx context.Context, share *repository.SharedMeasurement) {
	if share.Status != repository.ShareStatusPending {
		return
	}
	now := time.Now().UTC()
	if err := uc.shares.MarkViewed(ctx, share.ID, now); err != nil {
		logging.WithOperation(uc.logger, "usecase.mark_viewed", share.ID).Warn("failed to mark share viewed", zap.Error(err))
		return
	}
	share.Status = repository.ShareStatusViewed
	share.ViewedAt = &now
	uc.invalidateMeasurement(ctx, share.MeasurementID)
}

func (uc *SharingUseCase) invalidateMeasurement(ctx context.Context, measurementID string) {
	if err := uc.cache.Del(ctx, measurementCacheKey(measurementID)); err != nil {
		uc.logger.Warn("failed to invalidate measurement cache", zap.String("measurement_id", measurementID), zap.Error(err))
	}
}
