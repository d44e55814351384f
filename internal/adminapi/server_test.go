package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tg-crm/internal/broadcast"
	"tg-crm/internal/database"
	"tg-crm/internal/database/models"
	"tg-crm/internal/keyboard"
	"tg-crm/internal/locales"
	"tg-crm/internal/media"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const testToken = "secret"

type mockService struct {
	mock.Mock
}

func (m *mockService) Create(ctx context.Context, b *models.Broadcast) error {
	return m.Called(ctx, b).Error(0)
}

func (m *mockService) Send(ctx context.Context, id primitive.ObjectID) (*broadcast.Summary, error) {
	args := m.Called(ctx, id)
	if s, ok := args.Get(0).(*broadcast.Summary); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockService) Enqueue(ctx context.Context, id primitive.ObjectID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockService) Stats(ctx context.Context, id primitive.ObjectID) (models.StatusCounts, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.StatusCounts), args.Error(1)
}

func (m *mockService) Deliveries(ctx context.Context, id primitive.ObjectID) ([]models.Delivery, error) {
	args := m.Called(ctx, id)
	if d, ok := args.Get(0).([]models.Delivery); ok {
		return d, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockSubmitter struct {
	mock.Mock
}

func (m *mockSubmitter) Submit(id primitive.ObjectID) bool {
	return m.Called(id).Bool(0)
}

func newTestServer(t *testing.T, svc Service, sub Submitter) *Server {
	t.Helper()
	require.NoError(t, locales.Init("ru"))
	reg := prometheus.NewRegistry()
	return New(context.Background(), Config{Token: testToken, Language: "en", Registerer: reg, Gatherer: reg}, svc, sub)
}

func do(s *Server, method, target string) *httptest.ResponseRecorder {
	return doBody(s, method, target, "")
}

func doBody(s *Server, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestSendReturnsSummary(t *testing.T) {
	id := primitive.NewObjectID()
	svc := new(mockService)
	svc.On("Send", mock.Anything, id).Return(&broadcast.Summary{BroadcastID: id, Sent: 2, Failed: 1, Total: 3}, nil)
	s := newTestServer(t, svc, nil)

	rec := do(s, http.MethodPost, "/api/broadcasts/"+id.Hex()+"/send")
	require.Equal(t, http.StatusOK, rec.Code)

	var body sendResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Summary.Sent)
	assert.Equal(t, 1, body.Summary.Failed)
	assert.Contains(t, body.Message, "Sent: 2, failed: 1")
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestSendErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"not found", database.ErrBroadcastNotFound, http.StatusNotFound},
		{"in progress", broadcast.ErrAlreadyInProgress, http.StatusConflict},
		{"bad buttons", keyboard.ErrInvalidButtons, http.StatusUnprocessableEntity},
		{"media outside root", media.ErrMediaOutsideRoot, http.StatusUnprocessableEntity},
		{"nothing to send", media.ErrNoContent, http.StatusUnprocessableEntity},
		{"unexpected", assert.AnError, http.StatusInternalServerError},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			id := primitive.NewObjectID()
			svc := new(mockService)
			svc.On("Send", mock.Anything, id).Return(nil, c.err)
			s := newTestServer(t, svc, nil)

			rec := do(s, http.MethodPost, "/api/broadcasts/"+id.Hex()+"/send")
			assert.Equal(t, c.code, rec.Code)
			assert.NotEmpty(t, decodeError(t, rec))
		})
	}
}

func TestInvalidBroadcastID(t *testing.T) {
	svc := new(mockService)
	s := newTestServer(t, svc, nil)

	rec := do(s, http.MethodGet, "/api/broadcasts/nope/stats")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid broadcast id.", decodeError(t, rec))
	svc.AssertNotCalled(t, "Stats", mock.Anything, mock.Anything)
}

func TestQueueSubmitsToDispatcher(t *testing.T) {
	id := primitive.NewObjectID()
	svc := new(mockService)
	svc.On("Enqueue", mock.Anything, id).Return(nil)
	sub := new(mockSubmitter)
	sub.On("Submit", id).Return(true)
	s := newTestServer(t, svc, sub)

	rec := do(s, http.MethodPost, "/api/broadcasts/"+id.Hex()+"/queue")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body queueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Submitted)
	assert.Equal(t, models.StateQueued, body.State)
	sub.AssertExpectations(t)
}

func TestStats(t *testing.T) {
	id := primitive.NewObjectID()
	svc := new(mockService)
	svc.On("Stats", mock.Anything, id).Return(models.StatusCounts{Pending: 1, Sent: 4, Failed: 2}, nil)
	s := newTestServer(t, svc, nil)

	rec := do(s, http.MethodGet, "/api/broadcasts/"+id.Hex()+"/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"broadcast_id":"`+id.Hex()+`","pending":1,"sent":4,"failed":2}`, rec.Body.String())
}

func TestDeliveriesCSV(t *testing.T) {
	id := primitive.NewObjectID()
	recipient := primitive.NewObjectID()
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := new(mockService)
	svc.On("Deliveries", mock.Anything, id).Return([]models.Delivery{{
		MessageID:   id,
		RecipientID: recipient,
		Status:      models.DeliveryFailed,
		ErrorText:   "Forbidden: bot was blocked, by the user",
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}}, nil)
	s := newTestServer(t, svc, nil)

	rec := do(s, http.MethodGet, "/api/broadcasts/"+id.Hex()+"/deliveries.csv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "recipient_id,status,error_text,created_at,updated_at", lines[0])
	assert.Equal(t, recipient.Hex()+`,failed,"Forbidden: bot was blocked, by the user",2024-03-01T12:00:00Z,2024-03-01T12:00:00Z`, lines[1])
}

func TestDeliveriesJSONEmpty(t *testing.T) {
	id := primitive.NewObjectID()
	svc := new(mockService)
	svc.On("Deliveries", mock.Anything, id).Return(nil, nil)
	s := newTestServer(t, svc, nil)

	rec := do(s, http.MethodGet, "/api/broadcasts/"+id.Hex()+"/deliveries")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, new(mockService), nil)
	target := "/api/broadcasts/" + primitive.NewObjectID().Hex() + "/stats"

	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, new(mockService), nil)
	do(s, http.MethodGet, "/healthz")

	rec := do(s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "admin_requests_total")
}

func TestCreateBroadcast(t *testing.T) {
	recipient := primitive.NewObjectID()
	svc := new(mockService)
	svc.On("Create", mock.Anything, mock.MatchedBy(func(b *models.Broadcast) bool {
		return b.Text == "Hello" &&
			b.ButtonsJSON == `[[{"text":"Site","url":"https://example.com"}]]` &&
			len(b.RecipientIDs) == 1 && b.RecipientIDs[0] == recipient
	})).Run(func(args mock.Arguments) {
		b := args.Get(1).(*models.Broadcast)
		b.ID = primitive.NewObjectID()
		b.State = models.StateDraft
	}).Return(nil)
	s := newTestServer(t, svc, nil)

	body := `{"text":"Hello","buttons":[[{"text":"Site","url":"https://example.com"}]],"recipient_ids":["` + recipient.Hex() + `"]}`
	rec := doBody(s, http.MethodPost, "/api/broadcasts", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.Broadcast
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.False(t, created.ID.IsZero())
	assert.Equal(t, models.StateDraft, created.State)
	svc.AssertExpectations(t)
}

func TestCreateBroadcastValidation(t *testing.T) {
	svc := new(mockService)
	svc.On("Create", mock.Anything, mock.Anything).Return(media.ErrNoContent)
	s := newTestServer(t, svc, nil)

	rec := doBody(s, http.MethodPost, "/api/broadcasts", `{"text":"x","buttons":[[{"text":"Both","url":"https://a","callback_data":"b"}]]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	svc.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)

	rec = doBody(s, http.MethodPost, "/api/broadcasts", `{"text":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body.", decodeError(t, rec))

	rec = doBody(s, http.MethodPost, "/api/broadcasts", `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "A broadcast needs text or at least one media file.", decodeError(t, rec))
}
