package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/tailorfit/internal/apperr"
	"github.com/example/tailorfit/internal/repository"
)

// PartyRepository defines the persistence operations for the two party
// profiles.
type PartyRepository interface {
	CreateSubject(ctx context.Context, subject *repository.Subject) error
	FindSubject(ctx context.Context, id string) (*repository.Subject, error)
	ListSubjects(ctx context.Context) ([]*repository.Subject, error)
	UpdateSubject(ctx context.Context, id string, updates map[string]interface{}) (*repository.Subject, error)
	DeleteSubject(ctx context.Context, id string) error

	CreateProvider(ctx context.Context, provider *repository.Provider) error
	FindProvider(ctx context.Context, id string) (*repository.Provider, error)
	ListProviders(ctx context.Context) ([]*repository.Provider, error)
	UpdateProvider(ctx context.Context, id string, updates map[string]interface{}) (*repository.Provider, error)
	DeleteProvider(ctx context.Context, id string) error
}

// PartyUseCase handles subject and provider profile management. These are
// collaborators of the pipeline, kept deliberately thin.
type PartyUseCase struct {
	repo   PartyRepository
	logger *zap.Logger
}

// NewPartyUseCase constructs a new use case instance.
func NewPartyUseCase(repo PartyRepository, logger *zap.Logger) *PartyUseCase {
	return &PartyUseCase{repo: repo, logger: logger.Named("party_usecase")}
}

// CreateSubject registers a new subject profile.
func (uc *PartyUseCase) CreateSubject(ctx context.Context, subject *repository.Subject) (*repository.Subject, error) {
	if subject.Email == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "email is required")
	}
	if subject.Gender != "" {
		if subject.Gender != "male" && subject.Gender != "female" {
			return nil, apperr.New(apperr.KindInvalidInput, "gender must be male or female")
		}
	}
	subject.ID = uuid.NewString()
	subject.IsActive = true
	now := time.Now().UTC()
	subject.CreatedAt = now
	subject.UpdatedAt = now
	if err := uc.repo.CreateSubject(ctx, subject); err != nil {
		return nil, err
	}
	return subject, nil
}

// GetSubject retrieves a subject profile.
func (uc *PartyUseCase) GetSubject(ctx context.Context, id string) (*repository.Subject, error) {
	return uc.repo.FindSubject(ctx, id)
}

// ListSubjects lists all subject profiles.
func (uc *PartyUseCase) ListSubjects(ctx context.Context) ([]*repository.Subject, error) {
	return uc.repo.ListSubjects(ctx)
}

// UpdateSubject applies a partial profile update.
func (uc *PartyUseCase) UpdateSubject(ctx context.Context, id string, updates map[string]interface{}) (*repository.Subject, error) {
	if _, err := uc.repo.FindSubject(ctx, id); err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return uc.repo.FindSubject(ctx, id)
	}
	updates["updated_at"] = time.Now().UTC()
	return uc.repo.UpdateSubject(ctx, id, updates)
}

// DeleteSubject removes a subject profile.
func (uc *PartyUseCase) DeleteSubject(ctx context.Context, id string) error {
	if _, err := uc.repo.FindSubject(ctx, id); err != nil {
		return err
	}
	return uc.repo.DeleteSubject(ctx, id)
}

// CreateProvider registers a new provider profile.
func (uc *PartyUseCase) CreateProvider(ctx context.Context, provider *repository.Provider) (*repository.Provider, error) {
	if provider.Email == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "email is required")
	}
	provider.ID = uuid.NewString()
	provider.IsActive = true
	now := time.Now().UTC()
	provider.CreatedAt = now
	provider.UpdatedAt = now
	if err := uc.repo.CreateProvider(ctx, provider); err != nil {
		return nil, err
	}
	return provider, nil
}

// GetProvider retrieves a provider profile.
func (uc *PartyUseCase) GetProvider(ctx context.Context, id string) (*repository.Provider, error) {
	return uc.repo.FindProvider(ctx, id)
}

// ListProviders lists active provider profiles, best rated first.
func (uc *PartyUseCase) ListProviders(ctx context.Context) ([]*repository.Provider, error) {
	return uc.repo.ListProviders(ctx)
}

// UpdateProvider applies a partial profile update.
func (uc *PartyUseCase) UpdateProvider(ctx context.Context, id string, updates map[string]interface{}) (*repository.Provider, error) {
	if _, err := uc.repo.FindProvider(ctx, id); err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return uc.repo.FindProvider(ctx, id)
	}
	updates["updated_at"] = time.Now().UTC()
	return uc.repo.UpdateProvider(ctx, id, updates)
}

// DeleteProvider removes a provider profile.
func (uc *PartyUseCase) DeleteProvider(ctx context.Context, id string) error {
	if _, err := uc.repo.FindProvider(ctx, id); err != nil {
		return err
	}
	return uc.repo.DeleteProvider(ctx, id)
}
