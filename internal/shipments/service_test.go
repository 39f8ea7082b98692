package shipments

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"waste-track/tracking/tracking-backend/pkg/geospatial"
	"waste-track/tracking/tracking-backend/pkg/integrity"
)

// MockRepository is a mock implementation of the Repository interface
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Insert(ctx context.Context, rec *Record) error {
	args := m.Called(ctx, rec)
	if args.Error(0) == nil {
		rec.ID = uuid.New()
		rec.CreatedAt = time.Now().UTC()
	}
	return args.Error(0)
}

func (m *MockRepository) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Record), args.Error(1)
}

func (m *MockRepository) ListByOwner(ctx context.Context, ownerUserID string) ([]Record, error) {
	args := m.Called(ctx, ownerUserID)
	return args.Get(0).([]Record), args.Error(1)
}

func (m *MockRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error {
	args := m.Called(ctx, id, from, to)
	return args.Error(0)
}

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[uuid.UUID]*Session)}
}

func (f *fakeSessions) Save(ctx context.Context, s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeSessions) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, ErrDraftNotFound
	}
	return s, nil
}

func (f *fakeSessions) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	return nil
}

type recorder struct {
	mu     sync.Mutex
	audit  []AuditEvent
	events []Event
	puts   map[string]string
}

func newRecorder() *recorder {
	return &recorder{puts: make(map[string]string)}
}

func (r *recorder) Append(ctx context.Context, e AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audit = append(r.audit, e)
	return nil
}

func (r *recorder) Publish(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Put(ctx context.Context, key, contentType string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.puts[key] = contentType
	return nil
}

func (r *recorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.audit))
	for _, e := range r.audit {
		out = append(out, e.Action)
	}
	return out
}

var pngSignature = "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("\x89PNG fake"))

func newTestService(repo Repository, rec *recorder) (*Service, *fakeSessions) {
	sessions := newFakeSessions()
	return newTestServiceWithStore(repo, rec, sessions), sessions
}

func newTestServiceWithStore(repo Repository, rec *recorder, sessions SessionStore) *Service {
	return NewService(repo, sessions, ServiceOptions{
		Digester:    integrity.NewService(""),
		KeyMaterial: testKeyMaterial,
		Codes:       StaticCodeIssuer{Codes: ExpectedCodes{Producer: "111111", Transporter: "222222"}},
		Audit:       rec,
		Events:      rec,
		Archive:     rec,
		HashCode:    BcryptCodeHasher(bcrypt.MinCost),
	}, nil)
}

func strPtr(s string) *string { return &s }

func TestServiceDraftLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	repo.On("Insert", mock.Anything, mock.AnythingOfType("*shipments.Record")).Return(nil).Once()
	rec := newRecorder()
	svc, _ := newTestService(repo, rec)

	session, err := svc.StartDraft(ctx, "user-1", "  producer@example.com ")
	require.NoError(t, err)
	assert.Equal(t, "producer@example.com", session.Draft.ContactEmail)
	id := session.ID

	_, err = svc.UpdateDraft(ctx, "user-1", id, DraftUpdate{Destination: strPtr("Namur")})
	require.NoError(t, err)

	_, err = svc.SubmitSignature(ctx, "user-1", id, pngSignature)
	require.NoError(t, err)

	var mismatch *CodeMismatchError
	_, _, err = svc.Confirm(ctx, "user-1", id, ConfirmRequest{Code: strPtr("222222")})
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 1, mismatch.Attempts)

	session, shipment, err := svc.Confirm(ctx, "user-1", id, ConfirmRequest{Code: strPtr("111111")})
	require.NoError(t, err)
	assert.Nil(t, shipment)
	assert.Equal(t, StepTransporterSignature, session.Step)

	_, err = svc.SubmitSignature(ctx, "user-1", id, pngSignature)
	require.NoError(t, err)
	_, err = svc.EnterCode(ctx, "user-1", id, "222222")
	require.NoError(t, err)

	session, shipment, err = svc.Confirm(ctx, "user-1", id, ConfirmRequest{
		Position: &geospatial.Coordinates{Latitude: 50.46, Longitude: 4.87},
	})
	require.NoError(t, err)
	require.NotNil(t, shipment)
	assert.Equal(t, StepCompleted, session.Step)
	assert.Equal(t, "Namur", shipment.Destination)
	assert.Equal(t, shipment.ID, *session.RecordID)

	require.Len(t, rec.events, 1)
	assert.Equal(t, EventShipmentCreated, rec.events[0].Type)
	assert.Equal(t, shipment.ID, rec.events[0].ShipmentID)

	assert.Equal(t, "image/png", rec.puts[SignatureArchiveKey(shipment.ID, "producer", "image/png")])
	assert.Equal(t, "image/png", rec.puts[SignatureArchiveKey(shipment.ID, "transporter", "image/png")])

	assert.Equal(t, []string{
		ActionDraftStarted,
		ActionDraftUpdated,
		ActionSignatureSubmitted,
		ActionCodeRejected,
		ActionCodeAccepted,
		ActionSignatureSubmitted,
		ActionCodeAccepted,
		ActionShipmentCreated,
	}, rec.actions())
	repo.AssertExpectations(t)
}

func TestServiceConfirmWithoutPositionKeepsDraft(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	rec := newRecorder()
	svc, sessions := newTestService(repo, rec)

	session, err := svc.StartDraft(ctx, "user-1", "producer@example.com")
	require.NoError(t, err)
	id := session.ID
	_, err = svc.SubmitSignature(ctx, "user-1", id, "sig-A")
	require.NoError(t, err)
	_, _, err = svc.Confirm(ctx, "user-1", id, ConfirmRequest{Code: strPtr("111111")})
	require.NoError(t, err)
	_, err = svc.SubmitSignature(ctx, "user-1", id, "sig-B")
	require.NoError(t, err)

	var unavailable *LocationUnavailableError
	_, _, err = svc.Confirm(ctx, "user-1", id, ConfirmRequest{
		Code:       strPtr("222222"),
		Permission: geospatial.PermissionDenied,
	})
	require.ErrorAs(t, err, &unavailable)
	assert.ErrorIs(t, err, geospatial.ErrPermissionDenied)

	stored, err := sessions.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StepTransporterConfirm, stored.Step)
	assert.Equal(t, "sig-B", stored.Draft.TransporterSignatureImage)
	assert.Contains(t, rec.actions(), ActionLocationUnavailable)
	assert.Empty(t, rec.events)
	repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestServicePersistenceFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	repo.On("Insert", mock.Anything, mock.Anything).Return(errors.New("connection reset")).Once()
	repo.On("Insert", mock.Anything, mock.Anything).Return(nil).Once()
	rec := newRecorder()
	svc, _ := newTestService(repo, rec)

	session, err := svc.StartDraft(ctx, "user-1", "producer@example.com")
	require.NoError(t, err)
	id := session.ID
	_, err = svc.SubmitSignature(ctx, "user-1", id, "sig-A")
	require.NoError(t, err)
	_, _, err = svc.Confirm(ctx, "user-1", id, ConfirmRequest{Code: strPtr("111111")})
	require.NoError(t, err)
	_, err = svc.SubmitSignature(ctx, "user-1", id, "sig-B")
	require.NoError(t, err)

	position := &geospatial.Coordinates{Latitude: 50.4, Longitude: 4.4}
	var persistence *PersistenceError
	_, _, err = svc.Confirm(ctx, "user-1", id, ConfirmRequest{Code: strPtr("222222"), Position: position})
	require.ErrorAs(t, err, &persistence)
	assert.Contains(t, rec.actions(), ActionPersistenceFailed)

	session, shipment, err := svc.Confirm(ctx, "user-1", id, ConfirmRequest{Code: strPtr("222222"), Position: position})
	require.NoError(t, err)
	require.NotNil(t, shipment)
	assert.Equal(t, StepCompleted, session.Step)
	repo.AssertExpectations(t)
}

// flakySessions fails the first save of a completed draft
type flakySessions struct {
	*fakeSessions
	failed bool
}

func (f *flakySessions) Save(ctx context.Context, s *Session) error {
	if s.Step == StepCompleted && !f.failed {
		f.failed = true
		return errors.New("redis timeout")
	}
	return f.fakeSessions.Save(ctx, s)
}

func TestServiceConfirmSurvivesDraftSaveFailure(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	repo.On("Insert", mock.Anything, mock.Anything).Return(nil).Once()
	rec := newRecorder()
	store := &flakySessions{fakeSessions: newFakeSessions()}
	svc := newTestServiceWithStore(repo, rec, store)

	session, err := svc.StartDraft(ctx, "user-1", "producer@example.com")
	require.NoError(t, err)
	id := session.ID
	_, err = svc.SubmitSignature(ctx, "user-1", id, "sig-A")
	require.NoError(t, err)
	_, _, err = svc.Confirm(ctx, "user-1", id, ConfirmRequest{Code: strPtr("111111")})
	require.NoError(t, err)
	_, err = svc.SubmitSignature(ctx, "user-1", id, "sig-B")
	require.NoError(t, err)

	position := &geospatial.Coordinates{Latitude: 50.4, Longitude: 4.4}
	session, shipment, err := svc.Confirm(ctx, "user-1", id, ConfirmRequest{Code: strPtr("222222"), Position: position})
	require.NoError(t, err)
	require.NotNil(t, shipment)
	assert.True(t, store.failed)
	assert.Equal(t, StepCompleted, session.Step)

	require.Len(t, rec.events, 1)
	assert.Equal(t, shipment.ID, rec.events[0].ShipmentID)
	assert.Contains(t, rec.actions(), ActionShipmentCreated)
	assert.Len(t, rec.puts, 2)
	repo.AssertNumberOfCalls(t, "Insert", 1)
}

func TestServiceDraftOwnership(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(new(MockRepository), newRecorder())

	session, err := svc.StartDraft(ctx, "user-1", "producer@example.com")
	require.NoError(t, err)

	_, err = svc.GetDraft(ctx, "user-2", session.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.SubmitSignature(ctx, "user-2", session.ID, "sig")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, svc.AbandonDraft(ctx, "user-2", session.ID), ErrForbidden)

	_, err = svc.GetDraft(ctx, "user-1", uuid.New())
	assert.ErrorIs(t, err, ErrDraftNotFound)
}

func TestServiceAbandonDraft(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	rec := newRecorder()
	svc, _ := newTestService(repo, rec)

	session, err := svc.StartDraft(ctx, "user-1", "producer@example.com")
	require.NoError(t, err)
	_, err = svc.SubmitSignature(ctx, "user-1", session.ID, "sig-A")
	require.NoError(t, err)

	require.NoError(t, svc.AbandonDraft(ctx, "user-1", session.ID))
	_, err = svc.GetDraft(ctx, "user-1", session.ID)
	assert.ErrorIs(t, err, ErrDraftNotFound)
	assert.Contains(t, rec.actions(), ActionDraftAbandoned)
	repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestServiceUpdateDraftRejectsUnknownDestination(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(new(MockRepository), newRecorder())

	session, err := svc.StartDraft(ctx, "user-1", "producer@example.com")
	require.NoError(t, err)

	var invalid *InvalidFieldError
	_, err = svc.UpdateDraft(ctx, "user-1", session.ID, DraftUpdate{Destination: strPtr("Paris")})
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "destination", invalid.Field)

	stored, err := svc.GetDraft(ctx, "user-1", session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Charleroi", stored.Draft.Destination)
}

func TestServiceUpdateStatus(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	rec := newRecorder()
	svc, _ := newTestService(repo, rec)

	id := uuid.New()
	inProgress := &Record{ID: id, OwnerUserID: "user-1", Status: StatusInProgress}
	completed := &Record{ID: id, OwnerUserID: "user-1", Status: StatusCompleted}
	repo.On("GetByID", ctx, id).Return(inProgress, nil).Once()
	repo.On("UpdateStatus", ctx, id, StatusInProgress, StatusCompleted).Return(nil).Once()
	repo.On("GetByID", ctx, id).Return(completed, nil).Once()

	updated, err := svc.UpdateStatus(ctx, "user-1", id, StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, updated.Status)
	assert.Equal(t, 3, updated.Stage())
	require.Len(t, rec.events, 1)
	assert.Equal(t, EventShipmentStatusChanged, rec.events[0].Type)

	var transition *StatusTransitionError
	_, err = svc.UpdateStatus(ctx, "user-1", id, StatusInProgress)
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, StatusCompleted, transition.From)

	var invalid *InvalidFieldError
	_, err = svc.UpdateStatus(ctx, "user-1", id, Status("Shipped"))
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "status", invalid.Field)
	repo.AssertExpectations(t)
}

func TestServiceGetShipmentForbidden(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	id := uuid.New()
	repo.On("GetByID", ctx, id).Return(&Record{ID: id, OwnerUserID: "user-1"}, nil)
	svc, _ := newTestService(repo, newRecorder())

	_, err := svc.GetShipment(ctx, "user-2", id)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestServiceVerifyIntegrity(t *testing.T) {
	ctx := context.Background()
	digester := integrity.NewService("")
	producer, err := digester.ComputeDigest(ctx, "sig-A", testKeyMaterial)
	require.NoError(t, err)
	transporter, err := digester.ComputeDigest(ctx, "sig-B", testKeyMaterial)
	require.NoError(t, err)

	id := uuid.New()
	repo := new(MockRepository)
	repo.On("GetByID", ctx, id).Return(&Record{
		ID:                       id,
		OwnerUserID:              "user-1",
		ProducerSignature:        "sig-A",
		ProducerSignatureHash:    producer,
		TransporterSignature:     "sig-B-tampered",
		TransporterSignatureHash: transporter,
	}, nil)
	svc, _ := newTestService(repo, newRecorder())

	report, err := svc.VerifyIntegrity(ctx, "user-1", id)
	require.NoError(t, err)
	assert.True(t, report.ProducerValid)
	assert.False(t, report.TransporterValid)
	assert.Equal(t, integrity.DefaultKeyVersion, report.KeyVersion)
}

func TestDecodeDataURL(t *testing.T) {
	contentType, body := DecodeDataURL(pngSignature)
	assert.Equal(t, "image/png", contentType)
	assert.Equal(t, []byte("\x89PNG fake"), body)

	contentType, body = DecodeDataURL("not a data url")
	assert.Equal(t, "application/octet-stream", contentType)
	assert.Equal(t, []byte("not a data url"), body)

	contentType, _ = DecodeDataURL("data:image/png;base64,@@@")
	assert.Equal(t, "application/octet-stream", contentType)
}

func TestDraftLocksSerializeAndRelease(t *testing.T) {
	locks := newDraftLocks()
	id := uuid.New()

	var (
		wg      sync.WaitGroup
		active  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(id)
			defer unlock()

			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, locks.size())
}
