package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/tailorfit/internal/apperr"
	"github.com/example/tailorfit/internal/engine"
	"github.com/example/tailorfit/internal/logging"
	"github.com/example/tailorfit/internal/repository"
	"github.com/example/tailorfit/internal/storage"
)

// MeasurementRepository defines the persistence operations needed by the
// measurement pipeline.
type MeasurementRepository interface {
	Create(ctx context.Context, m *repository.Measurement) error
	FindByID(ctx context.Context, id string) (*repository.Measurement, error)
	FindBySubject(ctx context.Context, subjectID string) ([]*repository.Measurement, error)
	FindAll(ctx context.Context) ([]*repository.Measurement, error)
	Delete(ctx context.Context, id string) error
	UpdateFavorite(ctx context.Context, id string, favorite bool) error
}

// ShareCleaner removes the shares of a measurement during the delete cascade.
type ShareCleaner interface {
	DeleteByMeasurement(ctx context.Context, measurementID string) error
}

// SubjectDirectory resolves subject profiles for existence checks.
type SubjectDirectory interface {
	FindSubject(ctx context.Context, id string) (*repository.Subject, error)
}

// Stager stages validated image pairs and cleans up artifacts.
type Stager interface {
	StagePair(front, side storage.Upload) (frontPath, sidePath string, err error)
	Remove(paths ...string)
}

// ProcessInput is one measurement submission.
type ProcessInput struct {
	SubjectID string
	Height    float64
	Gender    string
	Notes     string
	Front     storage.Upload
	Side      storage.Upload
}

// MeasurementUseCase orchestrates the processing pipeline: stage the image
// pair, run the external computation, map the result and persist it, with
// artifact cleanup on every failure path.
type MeasurementUseCase struct {
	repo           MeasurementRepository
	shares         ShareCleaner
	subjects       SubjectDirectory
	staging        Stager
	engine         engine.Invoker
	cache          Cache
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewMeasurementUseCase constructs a new use case instance.
func NewMeasurementUseCase(
	repo MeasurementRepository,
	shares ShareCleaner,
	subjects SubjectDirectory,
	staging Stager,
	invoker engine.Invoker,
	cache Cache,
	logger *zap.Logger,
) *MeasurementUseCase {
	return &MeasurementUseCase{
		repo:           repo,
		shares:         shares,
		subjects:       subjects,
		staging:        staging,
		engine:         invoker,
		cache:          cache,
		logger:         logger.Named("measurement_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Process runs the full pipeline for one submission.
func (uc *MeasurementUseCase) Process(ctx context.Context, in ProcessInput) (*repository.Measurement, error) {
	id := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.process_measurement", id)

	if in.Height < 50 || in.Height > 300 {
		return nil, apperr.New(apperr.KindInvalidInput, "height must be between 50 and 300")
	}
	gender, err := engine.ParseGender(in.Gender)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, "invalid gender", err)
	}
	if _, err := uc.subjects.FindSubject(ctx, in.SubjectID); err != nil {
		return nil, err
	}

	frontPath, sidePath, err := uc.staging.StagePair(in.Front, in.Side)
	if err != nil {
		return nil, err
	}

	result, err := uc.engine.Compute(ctx, frontPath, sidePath, in.Height, gender)
	if err != nil {
		uc.staging.Remove(frontPath, sidePath)
		wrapped := apperr.Wrap(apperr.KindComputation, "measurement processing failed", err)
		opLogger.Error("engine invocation failed", zap.Error(wrapped))
		return nil, wrapped
	}

	m := mapResult(id, in, frontPath, sidePath, result)
	if err := uc.repo.Create(ctx, m); err != nil {
		uc.staging.Remove(frontPath, sidePath)
		opLogger.Error("failed to persist measurement", zap.Error(err))
		return nil, err
	}

	uc.cacheRecord(ctx, m)
	return m, nil
}

// mapResult translates raw engine output into the canonical record. Metric
// fields the engine did not report stay nil.
func mapResult(id string, in ProcessInput, frontPath, sidePath string, result *engine.Result) *repository.Measurement {
	now := time.Now().UTC()
	return &repository.Measurement{
		ID:        id,
		SubjectID: in.SubjectID,
		Height:    in.Height,

		ShoulderWidth:      result.Measurements.ShoulderWidth,
		ChestCircumference: result.Measurements.ChestCircumference,
		WaistCircumference: result.Measurements.WaistCircumference,
		HipCircumference:   result.Measurements.HipCircumference,
		SleeveLength:       result.Measurements.SleeveLength,
		UpperArmLength:     result.Measurements.UpperArmLength,
		NeckCircumference:  result.Measurements.NeckCircumference,
		Inseam:             result.Measurements.Inseam,
		TorsoLength:        result.Measurements.TorsoLength,
		BicepCircumference: result.Measurements.BicepCircumference,
		WristCircumference: result.Measurements.WristCircumference,
		ThighCircumference: result.Measurements.ThighCircumference,

		FrontImagePath: frontPath,
		SideImagePath:  sidePath,
		Metadata:       repository.JSONText(result.Metadata),
		Confidence:     repository.JSONText(result.Confidence),
		Notes:          in.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Get retrieves one measurement, read-through cached.
func (uc *MeasurementUseCase) Get(ctx context.Context, id string) (*repository.Measurement, error) {
	cacheKey := measurementCacheKey(id)
	if cached, err := uc.withRedisGet(ctx, id, "cache.get.measurement", cacheKey); err == nil {
		var m repository.Measurement
		if err := json.Unmarshal([]byte(cached), &m); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_measurement", id).Warn("failed to decode cached measurement", zap.Error(err))
		} else {
			return &m, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_measurement", id).Warn("failed to read cache", zap.Error(err))
	}

	m, err := uc.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	uc.cacheRecord(ctx, m)
	return m, nil
}

// ListBySubject lists a subject's measurements, newest first.
func (uc *MeasurementUseCase) ListBySubject(ctx context.Context, subjectID string) ([]*repository.Measurement, error) {
	if _, err := uc.subjects.FindSubject(ctx, subjectID); err != nil {
		return nil, err
	}
	return uc.repo.FindBySubject(ctx, subjectID)
}

// ListAll lists every measurement, newest first.
func (uc *MeasurementUseCase) ListAll(ctx context.Context) ([]*repository.Measurement, error) {
	return uc.repo.FindAll(ctx)
}

// Delete removes a measurement on behalf of its owning subject, cascading
// to its shares and staged artifacts. Artifact removal is best-effort.
func (uc *MeasurementUseCase) Delete(ctx context.Context, id, actorID string) error {
	opLogger := logging.WithOperation(uc.logger, "usecase.delete_measurement", id)

	m, err := uc.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if m.SubjectID != actorID {
		return apperr.New(apperr.KindForbidden, "you can only delete your own measurements")
	}

	if err := uc.shares.DeleteByMeasurement(ctx, id); err != nil {
		opLogger.Error("failed to delete shares", zap.Error(err))
		return err
	}
	uc.staging.Remove(m.FrontImagePath, m.SideImagePath)
	if err := uc.repo.Delete(ctx, id); err != nil {
		opLogger.Error("failed to delete measurement", zap.Error(err))
		return err
	}

	uc.invalidate(ctx, id)
	return nil
}

// SetFavorite flips the favorite flag, owner only.
func (uc *MeasurementUseCase) SetFavorite(ctx context.Context, id, actorID string, favorite bool) (*repository.Measurement, error) {
	m, err := uc.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.SubjectID != actorID {
		return nil, apperr.New(apperr.KindForbidden, "you can only update your own measurements")
	}
	if err := uc.repo.UpdateFavorite(ctx, id, favorite); err != nil {
		return nil, err
	}
	m.IsFavorite = favorite
	uc.invalidate(ctx, id)
	return m, nil
}

func measurementCacheKey(id string) string {
	return fmt.Sprintf("measurement:%s", id)
}

// cacheRecord writes the record through to Redis best-effort. The
// measurement is already durable, so a cache failure is logged only.
func (uc *MeasurementUseCase) cacheRecord(ctx context.Context, m *repository.Measurement) {
	serialized, err := json.Marshal(m)
	if err != nil {
		uc.logger.Warn("failed to serialize measurement for cache", zap.Error(err))
		return
	}
	if err := uc.withRedisRetry(ctx, m.ID, "cache.set.measurement", func() error {
		return uc.cache.Set(ctx, measurementCacheKey(m.ID), string(serialized), 5*time.Minute)
	}); err != nil {
		uc.logger.Warn("failed to cache measurement", zap.Error(err))
	}
}

func (uc *MeasurementUseCase) invalidate(ctx context.Context, id string) {
	if err := uc.cache.Del(ctx, measurementCacheKey(id)); err != nil {
		uc.logger.Warn("failed to invalidate measurement cache", zap.String("measurement_id", id), zap.Error(err))
	}
}

func (uc *MeasurementUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *MeasurementUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
