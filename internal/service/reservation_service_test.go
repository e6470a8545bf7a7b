package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"labbooking/internal/config"
	"labbooking/internal/events"
	"labbooking/internal/metrics"
	"labbooking/internal/models"
	"labbooking/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const (
	fiscalCode = "RSSMRA85T10A562S"
	healthCard = "80380000101234567890"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishJSON(eventType string, payload interface{}) error {
	return m.Called(eventType, payload).Error(0)
}

var testNow = time.Date(2098, time.December, 22, 10, 15, 30, 500, time.Local)

func newTestService(t *testing.T, catalog *models.Catalog) (*ReservationService, *mockPublisher, *repository.FileReservationRepository) {
	t.Helper()
	store := repository.NewFileReservationRepository(config.StorageConfig{Dir: filepath.Join(t.TempDir(), "prenotazioni")}, nil)
	pub := new(mockPublisher)
	s := NewReservationService(store, pub, catalog, nil)
	s.now = func() time.Time { return testNow }
	return s, pub, store
}

func candidate(t *testing.T, lab, scheduled string) *models.Reservation {
	t.Helper()
	r, err := models.FromRecord(models.Record{
		FirstName:   "Mario",
		LastName:    "Rossi",
		Email:       "mario.rossi@example.it",
		ScheduledAt: scheduled,
		FiscalCode:  fiscalCode,
		HealthCard:  healthCard,
		Lab:         lab,
		Exams:       []string{"EMO"},
	})
	require.NoError(t, err)
	return r
}

var withReservationID = mock.MatchedBy(func(p events.ReservationEventPayload) bool {
	return p.ReservationID != "" && p.ScheduledAt != ""
})

func TestAddThenGet(t *testing.T) {
	s, pub, store := newTestService(t, nil)
	ctx := context.Background()
	pub.On("PublishJSON", events.EventReservationCreated, withReservationID).Return(nil).Once()

	in := candidate(t, "Centrale", "2099-01-05 09:00:00")
	added, err := s.AddReservation(ctx, in)
	require.NoError(t, err)

	assert.Empty(t, in.ID(), "candidate is not modified")
	parsed, err := uuid.Parse(added.ID())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.Equal(t, testNow.Truncate(time.Second), added.InsertedAt())
	assert.True(t, added.ModifiedAt().IsZero())

	assert.FileExists(t, store.Locate(added.Key()))

	got, err := s.GetReservation(ctx, added.ID(), " rssmra85t10a562s ", healthCard)
	require.NoError(t, err)
	assert.Equal(t, added, got)
	assert.Equal(t, added.ToRecord(), got.ToRecord())

	pub.AssertExpectations(t)
}

func TestAddReservation_Rejected(t *testing.T) {
	catalog := models.NewCatalog([]models.Lab{
		{Name: "Centrale", Exams: []models.Exam{{Code: "EMO"}}},
	})
	s, pub, store := newTestService(t, catalog)
	ctx := context.Background()

	tests := []struct {
		name  string
		in    *models.Reservation
		field string
	}{
		{"nil candidate", nil, "reservation"},
		{"same day", candidate(t, "Centrale", "2098-12-22 16:00:00"), models.FieldScheduledAt},
		{"unknown lab", candidate(t, "Nord", "2099-01-05 09:00:00"), models.FieldLab},
		{"incomplete", &models.Reservation{}, models.FieldFirstName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.AddReservation(ctx, tt.in)
			var ve *models.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	pub.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything)
}

func TestAddReservation_Duplicate(t *testing.T) {
	s, pub, _ := newTestService(t, nil)
	ctx := context.Background()
	s.newID = func() (string, error) { return "0192f0c8-7b1e-7cc3-9d5a-3f1b2c4d5e6f", nil }
	pub.On("PublishJSON", events.EventReservationCreated, mock.Anything).Return(nil).Once()

	_, err := s.AddReservation(ctx, candidate(t, "Centrale", "2099-01-05 09:00:00"))
	require.NoError(t, err)

	_, err = s.AddReservation(ctx, candidate(t, "Centrale", "2099-01-06 09:00:00"))
	assert.ErrorIs(t, err, models.ErrDuplicate)
	pub.AssertExpectations(t)
}

func TestGetReservation(t *testing.T) {
	s, _, store := newTestService(t, nil)
	ctx := context.Background()

	t.Run("InvalidKey", func(t *testing.T) {
		_, err := s.GetReservation(ctx, "../../etc/passwd", fiscalCode, healthCard)
		assert.True(t, models.IsValidation(err))
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := s.GetReservation(ctx, uuid.NewString(), fiscalCode, healthCard)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("ContentMismatch", func(t *testing.T) {
		key := models.Key{ID: uuid.NewString(), FiscalCode: fiscalCode, HealthCard: healthCard}
		rec := candidate(t, "Centrale", "2099-01-05 09:00:00").ToRecord()
		rec.ID = uuid.NewString()
		_, err := store.Write(ctx, key, rec)
		require.NoError(t, err)

		_, err = s.GetReservation(ctx, key.ID, fiscalCode, healthCard)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("CorruptContent", func(t *testing.T) {
		key := models.Key{ID: uuid.NewString(), FiscalCode: fiscalCode, HealthCard: healthCard}
		rec := candidate(t, "Centrale", "2099-01-05 09:00:00").ToRecord()
		rec.ID = key.ID
		rec.Email = "broken"
		_, err := store.Write(ctx, key, rec)
		require.NoError(t, err)

		_, err = s.GetReservation(ctx, key.ID, fiscalCode, healthCard)
		var se *models.StorageError
		assert.ErrorAs(t, err, &se)
	})
}

func TestListReservations(t *testing.T) {
	s, pub, _ := newTestService(t, nil)
	ctx := context.Background()
	pub.On("PublishJSON", mock.Anything, mock.Anything).Return(nil)

	list, err := s.ListReservations(ctx, fiscalCode, healthCard)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)

	for _, day := range []string{"2099-01-05", "2099-01-06"} {
		_, err := s.AddReservation(ctx, candidate(t, "Centrale", day+" 09:00:00"))
		require.NoError(t, err)
	}

	list, err = s.ListReservations(ctx, fiscalCode, healthCard)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = s.ListReservations(ctx, "BNCLRA90A41H501Z", healthCard)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = s.ListReservations(ctx, "short", healthCard)
	assert.True(t, models.IsValidation(err))
}

func TestUpdateReservation(t *testing.T) {
	s, pub, store := newTestService(t, nil)
	ctx := context.Background()
	pub.On("PublishJSON", mock.Anything, mock.Anything).Return(nil)

	added, err := s.AddReservation(ctx, candidate(t, "Centrale", "2099-01-05 09:00:00"))
	require.NoError(t, err)

	t.Run("Success", func(t *testing.T) {
		later := testNow.Add(time.Hour)
		s.now = func() time.Time { return later }

		rec := added.ToRecord()
		rec.FirstName = "Luigi"
		rec.Email = "nuova@example.it"
		rec.ScheduledAt = "2099-01-07 11:00:00"
		rec.Lab = "Nord"
		rec.Exams = []string{"GLI", "COL"}
		patch, err := models.PatchFromRecord(rec)
		require.NoError(t, err)

		updated, err := s.UpdateReservation(ctx, patch)
		require.NoError(t, err)
		assert.Equal(t, added.ID(), updated.ID())
		assert.Equal(t, "Mario", updated.FirstName(), "names never change")
		assert.Equal(t, "nuova@example.it", updated.Email())
		assert.Equal(t, "Nord", updated.Lab())
		assert.Equal(t, []string{"GLI", "COL"}, updated.Exams())
		assert.Equal(t, added.InsertedAt(), updated.InsertedAt())
		assert.Equal(t, later.Truncate(time.Second), updated.ModifiedAt())

		got, err := s.GetReservation(ctx, added.ID(), fiscalCode, healthCard)
		require.NoError(t, err)
		assert.Equal(t, updated, got)
		pub.AssertCalled(t, "PublishJSON", events.EventReservationUpdated, mock.Anything)
	})

	t.Run("MissingCreatesNothing", func(t *testing.T) {
		rec := added.ToRecord()
		rec.ID = uuid.NewString()
		patch, err := models.PatchFromRecord(rec)
		require.NoError(t, err)

		_, err = s.UpdateReservation(ctx, patch)
		assert.ErrorIs(t, err, models.ErrNotFound)

		_, statErr := os.Stat(store.Locate(patch.Key))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("PastSchedule", func(t *testing.T) {
		rec := added.ToRecord()
		rec.ScheduledAt = "2098-12-18 09:00:00"
		patch, err := models.PatchFromRecord(rec)
		require.NoError(t, err)

		_, err = s.UpdateReservation(ctx, patch)
		assert.True(t, models.IsValidation(err))
	})

	t.Run("KeyIsRevalidated", func(t *testing.T) {
		patch, err := models.PatchFromRecord(added.ToRecord())
		require.NoError(t, err)

		escaping := *patch
		escaping.Key.ID = "../escaped"
		_, err = s.UpdateReservation(ctx, &escaping)
		assert.True(t, models.IsValidation(err))
		assert.NoFileExists(t, filepath.Join(filepath.Dir(store.Dir()), "escaped.json"))

		badCard := *patch
		badCard.Key.HealthCard = "123"
		_, err = s.UpdateReservation(ctx, &badCard)
		assert.True(t, models.IsValidation(err))

		lower := *patch
		lower.Key.FiscalCode = " rssmra85t10a562s "
		updated, err := s.UpdateReservation(ctx, &lower)
		require.NoError(t, err)
		assert.Equal(t, fiscalCode, updated.FiscalCode())
	})

	t.Run("NilPatch", func(t *testing.T) {
		_, err := s.UpdateReservation(ctx, nil)
		assert.True(t, models.IsValidation(err))
	})
}

func TestDeleteReservationTwice(t *testing.T) {
	s, pub, store := newTestService(t, nil)
	ctx := context.Background()
	pub.On("PublishJSON", events.EventReservationCreated, mock.Anything).Return(nil).Once()
	pub.On("PublishJSON", events.EventReservationDeleted, mock.MatchedBy(func(p events.ReservationEventPayload) bool {
		return p.FiscalCode == fiscalCode && p.Locator != ""
	})).Return(nil).Once()

	added, err := s.AddReservation(ctx, candidate(t, "Centrale", "2099-01-05 09:00:00"))
	require.NoError(t, err)

	require.NoError(t, s.DeleteReservation(ctx, added.ID(), fiscalCode, healthCard))
	assert.NoFileExists(t, store.Locate(added.Key()))

	err = s.DeleteReservation(ctx, added.ID(), fiscalCode, healthCard)
	assert.ErrorIs(t, err, models.ErrNotFound)

	pub.AssertExpectations(t)
	assert.Zero(t, s.locks.size())
}

func TestListForExport(t *testing.T) {
	s, pub, _ := newTestService(t, nil)
	ctx := context.Background()
	pub.On("PublishJSON", mock.Anything, mock.Anything).Return(nil)

	for _, c := range []struct{ lab, at string }{
		{"Centrale", "2099-01-09 15:00:00"},
		{"Centrale", "2099-01-05 09:00:00"},
		{"Nord", "2099-01-06 09:00:00"},
		{"Centrale", "2099-02-02 09:00:00"},
	} {
		_, err := s.AddReservation(ctx, candidate(t, c.lab, c.at))
		require.NoError(t, err)
	}

	list, err := s.ListForExport(ctx, models.ExportFilter{
		Lab:  "centrale",
		From: time.Date(2099, 1, 1, 0, 0, 0, 0, time.Local),
		To:   time.Date(2099, 2, 1, 0, 0, 0, 0, time.Local),
	})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 5, list[0].ScheduledAt().Day())
	assert.Equal(t, 9, list[1].ScheduledAt().Day())

	all, err := s.ListForExport(ctx, models.ExportFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestGeneratedIDsAreDistinct(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id, err := newReservationID()
		require.NoError(t, err)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 1000)
}

func TestConcurrentAdds(t *testing.T) {
	s, pub, store := newTestService(t, nil)
	ctx := context.Background()
	pub.On("PublishJSON", mock.Anything, mock.Anything).Return(nil)

	const n = 50
	in := candidate(t, "Centrale", "2099-01-05 09:00:00")
	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := s.AddReservation(ctx, in)
			errs[i] = err
			if err == nil {
				ids[i] = r.ID()
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		seen[ids[i]] = struct{}{}
	}
	assert.Len(t, seen, n)

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, n)
}

// trackingStore records how many read-modify-write cycles overlap.
type trackingStore struct {
	*repository.FileReservationRepository
	active    atomic.Int32
	maxActive atomic.Int32
}

func (s *trackingStore) Read(ctx context.Context, key models.Key) (*models.StoredRecord, error) {
	n := s.active.Add(1)
	for {
		m := s.maxActive.Load()
		if n <= m || s.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	return s.FileReservationRepository.Read(ctx, key)
}

func (s *trackingStore) Write(ctx context.Context, key models.Key, rec models.Record) (string, error) {
	defer s.active.Add(-1)
	return s.FileReservationRepository.Write(ctx, key, rec)
}

func TestConcurrentUpdatesAreSerialized(t *testing.T) {
	base, pub, store := newTestService(t, nil)
	ctx := context.Background()
	pub.On("PublishJSON", mock.Anything, mock.Anything).Return(nil)

	added, err := base.AddReservation(ctx, candidate(t, "Centrale", "2099-01-05 09:00:00"))
	require.NoError(t, err)

	tracked := &trackingStore{FileReservationRepository: store}
	s := NewReservationService(tracked, pub, nil, nil)
	s.now = base.now

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := added.ToRecord()
			rec.Email = fmt.Sprintf("user%d@example.it", i)
			patch, err := models.PatchFromRecord(rec)
			if assert.NoError(t, err) {
				_, err = s.UpdateReservation(ctx, patch)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), tracked.maxActive.Load())
	assert.Zero(t, s.locks.size())
}

func TestOperationSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	s, pub, _ := newTestService(t, nil)
	ctx := context.Background()
	pub.On("PublishJSON", events.EventReservationCreated, withReservationID).Return(nil).Once()

	_, err := s.AddReservation(ctx, candidate(t, "Centrale", "2099-01-05 09:00:00"))
	require.NoError(t, err)
	_, err = s.GetReservation(ctx, "not-a-uuid", fiscalCode, healthCard)
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	outcomes := map[string]string{}
	for _, span := range spans {
		for _, kv := range span.Attributes() {
			if kv.Key == "reservation.outcome" {
				outcomes[span.Name()] = kv.Value.AsString()
			}
		}
	}
	assert.Equal(t, map[string]string{
		"reservation.add": metrics.OutcomeOK,
		"reservation.get": metrics.OutcomeInvalid,
	}, outcomes)
}
