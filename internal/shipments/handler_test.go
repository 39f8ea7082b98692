package shipments

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"waste-track/tracking/tracking-backend/internal/auth"
	"waste-track/tracking/tracking-backend/pkg/geospatial"
)

func newTestRouter(svc *Service, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		auth.WithUser(c, auth.User{ID: userID, Email: userID + "@example.com"})
		c.Next()
	})
	NewHandler(svc, zap.NewNop()).RegisterRoutes(router.Group("/api/v1"))
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandlerDraftFlow(t *testing.T) {
	repo := new(MockRepository)
	repo.On("Insert", mock.Anything, mock.Anything).Return(nil).Once()
	svc, _ := newTestService(repo, newRecorder())
	router := newTestRouter(svc, "user-1")

	w := doJSON(t, router, http.MethodPost, "/api/v1/drafts", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var view DraftView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, StepProducerSignature, view.Step)
	assert.Equal(t, "user-1@example.com", view.ContactEmail)
	assert.NotContains(t, w.Body.String(), "111111")

	base := "/api/v1/drafts/" + view.ID.String()

	w = doJSON(t, router, http.MethodPost, base+"/signature", signatureRequest{Image: "  "})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "empty_signature")

	w = doJSON(t, router, http.MethodPost, base+"/code", enterCodeRequest{Code: "1"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, router, http.MethodPost, base+"/signature", signatureRequest{Image: "sig-A"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, base+"/confirm", ConfirmRequest{Code: strPtr("000000")})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"attempts":1`)

	w = doJSON(t, router, http.MethodPost, base+"/confirm", ConfirmRequest{Code: strPtr("111111")})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, base+"/signature", signatureRequest{Image: "sig-B"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, base+"/confirm", ConfirmRequest{Code: strPtr("222222")})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "location_unavailable")

	w = doJSON(t, router, http.MethodPost, base+"/confirm", ConfirmRequest{
		Code:     strPtr("222222"),
		Position: &geospatial.Coordinates{Latitude: 50.41, Longitude: 4.44},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var resp confirmResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StepCompleted, resp.Draft.Step)
	require.NotNil(t, resp.Shipment)
	assert.Equal(t, StatusInProgress, resp.Shipment.Status)
	assert.NotContains(t, w.Body.String(), "validationCodeHash")

	w = doJSON(t, router, http.MethodPost, base+"/signature", signatureRequest{Image: "sig-C"})
	assert.Equal(t, http.StatusConflict, w.Code)
	repo.AssertExpectations(t)
}

func TestHandlerDraftOwnershipAndIDs(t *testing.T) {
	svc, _ := newTestService(new(MockRepository), newRecorder())
	owner := newTestRouter(svc, "user-1")
	other := newTestRouter(svc, "user-2")

	w := doJSON(t, owner, http.MethodPost, "/api/v1/drafts", startDraftRequest{ContactEmail: "x@example.com"})
	require.Equal(t, http.StatusCreated, w.Code)
	var view DraftView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))

	w = doJSON(t, other, http.MethodGet, "/api/v1/drafts/"+view.ID.String(), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, owner, http.MethodGet, "/api/v1/drafts/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, owner, http.MethodGet, "/api/v1/drafts/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, owner, http.MethodPut, "/api/v1/drafts/"+view.ID.String(), map[string]string{"wasteCategory": "glass"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = doJSON(t, owner, http.MethodPut, "/api/v1/drafts/"+view.ID.String(), map[string]string{"wasteCategory": "organic"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"wasteCategory":"organic"`)

	w = doJSON(t, owner, http.MethodDelete, "/api/v1/drafts/"+view.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = doJSON(t, owner, http.MethodGet, "/api/v1/drafts/"+view.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerListShipments(t *testing.T) {
	repo := new(MockRepository)
	rec := sampleRecord()
	rec.ID = uuid.New()
	rec.CreatedAt = rec.Location.CapturedAt
	repo.On("ListByOwner", mock.Anything, "user-1").Return([]Record{*rec}, nil)
	svc, _ := newTestService(repo, newRecorder())

	w := doJSON(t, newTestRouter(svc, "user-1"), http.MethodGet, "/api/v1/shipments", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var summaries []Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "2025-03-01", summaries[0].Date)
	assert.Equal(t, "Déchets plastiques", summaries[0].WasteTypeLabel)
	assert.Equal(t, 1, summaries[0].Stage)
	assert.NotContains(t, w.Body.String(), "sig-A")
}

func TestHandlerUpdateStatus(t *testing.T) {
	repo := new(MockRepository)
	id := uuid.New()
	repo.On("GetByID", mock.Anything, id).Return(&Record{ID: id, OwnerUserID: "user-1", Status: StatusCompleted}, nil)
	svc, _ := newTestService(repo, newRecorder())
	router := newTestRouter(svc, "user-1")

	w := doJSON(t, router, http.MethodPatch, "/api/v1/shipments/"+id.String()+"/status", statusRequest{Status: StatusInProgress})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_transition")

	w = doJSON(t, router, http.MethodPatch, "/api/v1/shipments/"+id.String()+"/status", statusRequest{Status: "Shipped"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_field")

	w = doJSON(t, router, http.MethodPatch, "/api/v1/shipments/"+id.String()+"/status", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerCatalog(t *testing.T) {
	svc, _ := newTestService(new(MockRepository), newRecorder())
	w := doJSON(t, newTestRouter(svc, "user-1"), http.MethodGet, "/api/v1/catalog", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Déchets électroniques")
	assert.Contains(t, w.Body.String(), "Liège")
}

func TestRespondErrorStatusCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		err  error
		want int
	}{
		{&InvalidStepError{Op: "x", Step: StepCompleted}, http.StatusConflict},
		{&StatusTransitionError{From: StatusCompleted, To: StatusInProgress}, http.StatusConflict},
		{fmt.Errorf("update: %w", ErrStatusChanged), http.StatusConflict},
		{&EmptySignatureError{Step: StepProducerSignature}, http.StatusUnprocessableEntity},
		{&MissingFieldError{Field: "contactEmail"}, http.StatusUnprocessableEntity},
		{&InvalidFieldError{Field: "code"}, http.StatusUnprocessableEntity},
		{&CodeMismatchError{Step: StepProducerConfirm, Attempts: 2}, http.StatusUnprocessableEntity},
		{&LocationUnavailableError{Err: geospatial.ErrNoFix}, http.StatusServiceUnavailable},
		{&PersistenceError{Err: errors.New("down")}, http.StatusBadGateway},
		{ErrNotFound, http.StatusNotFound},
		{ErrDraftNotFound, http.StatusNotFound},
		{ErrForbidden, http.StatusForbidden},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		RespondError(c, zap.NewNop(), tt.err)
		assert.Equal(t, tt.want, w.Code, tt.err.Error())
	}
}
