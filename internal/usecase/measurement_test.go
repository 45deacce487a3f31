package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/tailorfit/internal/apperr"
	"github.com/example/tailorfit/internal/engine"
	"github.com/example/tailorfit/internal/repository"
	"github.com/example/tailorfit/internal/storage"
)

type stubMeasurementRepo struct {
	created   []*repository.Measurement
	createErr error
	byID      map[string]*repository.Measurement
	findCalls int
	deleted   []string
	deleteErr error
	favorites map[string]bool
}

func (s *stubMeasurementRepo) Create(ctx context.Context, m *repository.Measurement) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, m)
	return nil
}

func (s *stubMeasurementRepo) FindByID(ctx context.Context, id string) (*repository.Measurement, error) {
	s.findCalls++
	if m, ok := s.byID[id]; ok {
		return m, nil
	}
	return nil, apperr.New(apperr.KindNotFound, "measurement not found")
}

func (s *stubMeasurementRepo) FindBySubject(ctx context.Context, subjectID string) ([]*repository.Measurement, error) {
	var list []*repository.Measurement
	for _, m := range s.byID {
		if m.SubjectID == subjectID {
			list = append(list, m)
		}
	}
	return list, nil
}

func (s *stubMeasurementRepo) FindAll(ctx context.Context) ([]*repository.Measurement, error) {
	var list []*repository.Measurement
	for _, m := range s.byID {
		list = append(list, m)
	}
	return list, nil
}

func (s *stubMeasurementRepo) Delete(ctx context.Context, id string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubMeasurementRepo) UpdateFavorite(ctx context.Context, id string, favorite bool) error {
	if s.favorites == nil {
		s.favorites = map[string]bool{}
	}
	s.favorites[id] = favorite
	return nil
}

type stubShareCleaner struct {
	deletedFor []string
	err        error
}

func (s *stubShareCleaner) DeleteByMeasurement(ctx context.Context, measurementID string) error {
	if s.err != nil {
		return s.err
	}
	s.deletedFor = append(s.deletedFor, measurementID)
	return nil
}

type stubSubjects struct {
	err error
}

func (s *stubSubjects) FindSubject(ctx context.Context, id string) (*repository.Subject, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &repository.Subject{ID: id}, nil
}

type stubStager struct {
	stageErr   error
	stageCalls int
	removed    []string
}

func (s *stubStager) StagePair(front, side storage.Upload) (string, string, error) {
	s.stageCalls++
	if s.stageErr != nil {
		return "", "", s.stageErr
	}
	return "uploads/front_1.jpg", "uploads/side_1.jpg", nil
}

func (s *stubStager) Remove(paths ...string) {
	s.removed = append(s.removed, paths...)
}

type stubInvoker struct {
	result    *engine.Result
	err       error
	gotFront  string
	gotSide   string
	gotHeight float64
	gotGender engine.Gender
	calls     int
}

func (s *stubInvoker) Compute(ctx context.Context, frontPath, sidePath string, height float64, gender engine.Gender) (*engine.Result, error) {
	s.calls++
	s.gotFront, s.gotSide, s.gotHeight, s.gotGender = frontPath, sidePath, height, gender
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubCache struct {
	setErrs   []error
	getErrs   []error
	getValues []string
	setKeys   []string
	getKeys   []string
	delKeys   []string
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	if len(s.setErrs) == 0 {
		return nil
	}
	err := s.setErrs[0]
	s.setErrs = s.setErrs[1:]
	return err
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.getKeys = append(s.getKeys, key)
	var value string
	if len(s.getValues) > 0 {
		value = s.getValues[0]
		s.getValues = s.getValues[1:]
	}
	var err error
	if len(s.getErrs) > 0 {
		err = s.getErrs[0]
		s.getErrs = s.getErrs[1:]
	}
	return value, err
}

func (s *stubCache) Del(ctx context.Context, key string) error {
	s.delKeys = append(s.delKeys, key)
	return nil
}

func f(v float64) *float64 { return &v }

func validInput() ProcessInput {
	return ProcessInput{
		SubjectID: "subject-1",
		Height:    175,
		Gender:    "female",
		Notes:     "first fitting",
		Front:     storage.Upload{Filename: "front.jpg", ContentType: "image/jpeg", Data: []byte("front")},
		Side:      storage.Upload{Filename: "side.jpg", ContentType: "image/jpeg", Data: []byte("side")},
	}
}

func newPipeline(repo *stubMeasurementRepo, stager *stubStager, invoker *stubInvoker, cache *stubCache) *MeasurementUseCase {
	return NewMeasurementUseCase(repo, &stubShareCleaner{}, &stubSubjects{}, stager, invoker, cache, zap.NewNop())
}

func TestProcessPersistsMappedResult(t *testing.T) {
	repo := &stubMeasurementRepo{}
	stager := &stubStager{}
	invoker := &stubInvoker{result: &engine.Result{
		Measurements: engine.Measurements{ShoulderWidth: f(40.2), Inseam: f(78.5)},
		Metadata:     json.RawMessage(`{"body_height_pixels":1024.5}`),
		Confidence:   json.RawMessage(`{"front_detection":true}`),
	}}
	uc := newPipeline(repo, stager, invoker, &stubCache{})

	m, err := uc.Process(context.Background(), validInput())
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	if len(repo.created) != 1 {
		t.Fatalf("expected one persisted measurement, got %d", len(repo.created))
	}
	if m.SubjectID != "subject-1" || m.Height != 175 {
		t.Fatalf("submitted values not preserved: %+v", m)
	}
	if m.ShoulderWidth == nil || *m.ShoulderWidth != 40.2 {
		t.Fatalf("shoulder width not mapped: %v", m.ShoulderWidth)
	}
	if m.ChestCircumference != nil {
		t.Fatal("undetected metric must stay nil")
	}
	if m.FrontImagePath != "uploads/front_1.jpg" || m.SideImagePath != "uploads/side_1.jpg" {
		t.Fatalf("image references not retained: %s %s", m.FrontImagePath, m.SideImagePath)
	}
	if string(m.Metadata) != `{"body_height_pixels":1024.5}` {
		t.Fatalf("metadata not carried verbatim: %s", m.Metadata)
	}
	if invoker.gotHeight != 175 || invoker.gotGender != engine.GenderFemale {
		t.Fatalf("engine called with wrong scalars: %v %v", invoker.gotHeight, invoker.gotGender)
	}
	if len(stager.removed) != 0 {
		t.Fatalf("no cleanup expected on success, removed %v", stager.removed)
	}
}

func TestProcessValidatesBeforeAnyIO(t *testing.T) {
	cases := []ProcessInput{
		func() ProcessInput { in := validInput(); in.Height = 20; return in }(),
		func() ProcessInput { in := validInput(); in.Height = 400; return in }(),
		func() ProcessInput { in := validInput(); in.Gender = "other"; return in }(),
	}

	for _, in := range cases {
		stager := &stubStager{}
		invoker := &stubInvoker{}
		uc := newPipeline(&stubMeasurementRepo{}, stager, invoker, &stubCache{})

		_, err := uc.Process(context.Background(), in)
		if !apperr.IsKind(err, apperr.KindInvalidInput) {
			t.Fatalf("expected invalid input, got %v", err)
		}
		if stager.stageCalls != 0 || invoker.calls != 0 {
			t.Fatal("validation failures must precede staging and computation")
		}
	}
}

func TestProcessUnknownSubject(t *testing.T) {
	stager := &stubStager{}
	uc := NewMeasurementUseCase(&stubMeasurementRepo{}, &stubShareCleaner{},
		&stubSubjects{err: apperr.New(apperr.KindNotFound, "subject not found")},
		stager, &stubInvoker{}, &stubCache{}, zap.NewNop())

	_, err := uc.Process(context.Background(), validInput())
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if stager.stageCalls != 0 {
		t.Fatal("unknown subject must not stage files")
	}
}

func TestProcessCleansUpOnComputationFailure(t *testing.T) {
	repo := &stubMeasurementRepo{}
	stager := &stubStager{}
	invoker := &stubInvoker{err: errors.New("no person detected")}
	uc := newPipeline(repo, stager, invoker, &stubCache{})

	_, err := uc.Process(context.Background(), validInput())
	if !apperr.IsKind(err, apperr.KindComputation) {
		t.Fatalf("expected computation failure, got %v", err)
	}
	if len(repo.created) != 0 {
		t.Fatal("no measurement may be persisted on computation failure")
	}
	if len(stager.removed) != 2 {
		t.Fatalf("both staged artifacts must be removed, got %v", stager.removed)
	}
}

func TestProcessCleansUpOnStorageFailure(t *testing.T) {
	repo := &stubMeasurementRepo{createErr: apperr.New(apperr.KindStorage, "failed to persist measurement")}
	stager := &stubStager{}
	invoker := &stubInvoker{result: &engine.Result{}}
	uc := newPipeline(repo, stager, invoker, &stubCache{})

	_, err := uc.Process(context.Background(), validInput())
	if !apperr.IsKind(err, apperr.KindStorage) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if len(stager.removed) != 2 {
		t.Fatalf("staged artifacts must be removed when persistence fails, got %v", stager.removed)
	}
}

func TestProcessCacheFailureDoesNotFailRequest(t *testing.T) {
	repo := &stubMeasurementRepo{}
	cache := &stubCache{setErrs: []error{errors.New("redis down")}}
	uc := newPipeline(repo, &stubStager{}, &stubInvoker{result: &engine.Result{}}, cache)

	if _, err := uc.Process(context.Background(), validInput()); err != nil {
		t.Fatalf("cache failure must not fail a persisted measurement: %v", err)
	}
	if len(repo.created) != 1 {
		t.Fatal("measurement should have been persisted")
	}
}

func TestGetFallsBackToRepositoryOnCacheMiss(t *testing.T) {
	expected := &repository.Measurement{ID: "m-1", SubjectID: "subject-1", Height: 175}
	repo := &stubMeasurementRepo{byID: map[string]*repository.Measurement{"m-1": expected}}
	cache := &stubCache{getErrs: []error{redis.Nil}}
	uc := newPipeline(repo, &stubStager{}, &stubInvoker{}, cache)

	m, err := uc.Get(context.Background(), "m-1")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if m != expected {
		t.Fatalf("expected repository copy, got %+v", m)
	}
	if len(cache.setKeys) != 1 || cache.setKeys[0] != "measurement:m-1" {
		t.Fatalf("expected read-through cache fill, got %v", cache.setKeys)
	}
}

func TestGetServesCachedCopy(t *testing.T) {
	record := &repository.Measurement{ID: "m-1", SubjectID: "subject-1", Height: 175, ShoulderWidth: f(40.2), Metadata: `{"k":1}`}
	serialized, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("failed to serialize fixture: %v", err)
	}
	repo := &stubMeasurementRepo{}
	cache := &stubCache{getValues: []string{string(serialized)}}
	uc := newPipeline(repo, &stubStager{}, &stubInvoker{}, cache)

	m, err := uc.Get(context.Background(), "m-1")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if repo.findCalls != 0 {
		t.Fatal("cache hit must not touch the repository")
	}
	if m.ShoulderWidth == nil || *m.ShoulderWidth != 40.2 {
		t.Fatalf("cached copy lost data: %+v", m)
	}
	if string(m.Metadata) != `{"k":1}` {
		t.Fatalf("cached copy lost metadata: %q", m.Metadata)
	}
}

func TestDeleteCascades(t *testing.T) {
	m := &repository.Measurement{ID: "m-1", SubjectID: "subject-1", FrontImagePath: "uploads/front.jpg", SideImagePath: "uploads/side.jpg"}
	repo := &stubMeasurementRepo{byID: map[string]*repository.Measurement{"m-1": m}}
	shares := &stubShareCleaner{}
	stager := &stubStager{}
	cache := &stubCache{}
	uc := NewMeasurementUseCase(repo, shares, &stubSubjects{}, stager, &stubInvoker{}, cache, zap.NewNop())

	if err := uc.Delete(context.Background(), "m-1", "subject-1"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(shares.deletedFor) != 1 || shares.deletedFor[0] != "m-1" {
		t.Fatalf("shares must be deleted first, got %v", shares.deletedFor)
	}
	if len(stager.removed) != 2 {
		t.Fatalf("both artifacts must be removed, got %v", stager.removed)
	}
	if len(repo.deleted) != 1 || repo.deleted[0] != "m-1" {
		t.Fatalf("record must be deleted, got %v", repo.deleted)
	}
	if len(cache.delKeys) != 1 {
		t.Fatalf("cache entry must be invalidated, got %v", cache.delKeys)
	}
}

func TestDeleteForbiddenLeavesEverythingUntouched(t *testing.T) {
	m := &repository.Measurement{ID: "m-1", SubjectID: "subject-1"}
	repo := &stubMeasurementRepo{byID: map[string]*repository.Measurement{"m-1": m}}
	shares := &stubShareCleaner{}
	stager := &stubStager{}
	uc := NewMeasurementUseCase(repo, shares, &stubSubjects{}, stager, &stubInvoker{}, &stubCache{}, zap.NewNop())

	err := uc.Delete(context.Background(), "m-1", "intruder")
	if !apperr.IsKind(err, apperr.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if len(shares.deletedFor) != 0 || len(stager.removed) != 0 || len(repo.deleted) != 0 {
		t.Fatal("forbidden delete must leave all data untouched")
	}
}

func TestSetFavoriteChecksOwnership(t *testing.T) {
	m := &repository.Measurement{ID: "m-1", SubjectID: "subject-1"}
	repo := &stubMeasurementRepo{byID: map[string]*repository.Measurement{"m-1": m}}
	uc := newPipeline(repo, &stubStager{}, &stubInvoker{}, &stubCache{})

	if _, err := uc.SetFavorite(context.Background(), "m-1", "intruder", true); !apperr.IsKind(err, apperr.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	updated, err := uc.SetFavorite(context.Background(), "m-1", "subject-1", true)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !updated.IsFavorite || !repo.favorites["m-1"] {
		t.Fatal("favorite flag not updated")
	}
}
