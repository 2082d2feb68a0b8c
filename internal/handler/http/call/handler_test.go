package call

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"schoolportal-backend/internal/domain"
	callsvc "schoolportal-backend/internal/service/call"
	apperrors "schoolportal-backend/pkg/errors"
)

// MockService is a mock implementation of Service
type MockService struct {
	mock.Mock
}

func (m *MockService) Initiate(ctx context.Context, callerID uuid.UUID, recipientIDs []uuid.UUID, kind domain.CallKind) (*callsvc.InitiateOutput, error) {
	args := m.Called(ctx, callerID, recipientIDs, kind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*callsvc.InitiateOutput), args.Error(1)
}

func (m *MockService) session(args mock.Arguments) (*domain.CallSession, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallSession), args.Error(1)
}

func (m *MockService) Answer(ctx context.Context, callerID, sessionID uuid.UUID) (*domain.CallSession, error) {
	return m.session(m.Called(ctx, callerID, sessionID))
}

func (m *MockService) Decline(ctx context.Context, callerID, sessionID uuid.UUID) (*domain.CallSession, error) {
	return m.session(m.Called(ctx, callerID, sessionID))
}

func (m *MockService) End(ctx context.Context, callerID, sessionID uuid.UUID) (*domain.CallSession, error) {
	return m.session(m.Called(ctx, callerID, sessionID))
}

func (m *MockService) MarkBusy(ctx context.Context, callerID, sessionID uuid.UUID) (*domain.CallSession, error) {
	return m.session(m.Called(ctx, callerID, sessionID))
}

func (m *MockService) Get(ctx context.Context, callerID, sessionID uuid.UUID) (*domain.CallSession, error) {
	return m.session(m.Called(ctx, callerID, sessionID))
}

func (m *MockService) ActiveFor(ctx context.Context, userID uuid.UUID) []*domain.CallSession {
	args := m.Called(ctx, userID)
	return args.Get(0).([]*domain.CallSession)
}

// MockHistoryReader is a mock implementation of HistoryReader
type MockHistoryReader struct {
	mock.Mock
}

func (m *MockHistoryReader) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallLogEntry, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.CallLogEntry), args.Error(1)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func setupRouter(h *Handler, userID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	group := r.Group("/v1/calls", func(c *gin.Context) {
		if userID != uuid.Nil {
			c.Set("user_id", userID)
		}
		c.Next()
	})
	h.RegisterRoutes(group)
	return r
}

func do(t *testing.T, r *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w, env
}

func TestInitiateCall(t *testing.T) {
	caller, recipient := uuid.New(), uuid.New()
	svc := new(MockService)
	session := &domain.CallSession{ID: uuid.New(), InitiatorID: caller, Status: domain.SessionRinging}
	svc.On("Initiate", mock.Anything, caller, []uuid.UUID{recipient}, domain.CallKindVideo).
		Return(&callsvc.InitiateOutput{Session: session}, nil)

	r := setupRouter(NewHandler(svc, nil), caller)
	w, env := do(t, r, http.MethodPost, "/v1/calls/initiate", gin.H{
		"kind":         "video",
		"recipientIds": []string{recipient.String()},
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, env.Success)
	var out callsvc.InitiateOutput
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, session.ID, out.Session.ID)
	svc.AssertExpectations(t)
}

func TestInitiateCall_BusyCarriesSession(t *testing.T) {
	caller, recipient := uuid.New(), uuid.New()
	svc := new(MockService)
	session := &domain.CallSession{ID: uuid.New(), Status: domain.SessionBusy}
	svc.On("Initiate", mock.Anything, caller, []uuid.UUID{recipient}, domain.CallKindAudio).
		Return(&callsvc.InitiateOutput{Session: session}, apperrors.BusyError("All recipients are in another call"))

	r := setupRouter(NewHandler(svc, nil), caller)
	w, env := do(t, r, http.MethodPost, "/v1/calls/initiate", gin.H{
		"kind":         "audio",
		"recipientIds": []string{recipient.String()},
	})

	assert.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "BUSY", env.Error.Code)
	assert.Contains(t, string(env.Data), session.ID.String())
}

func TestInitiateCall_BadRequests(t *testing.T) {
	caller := uuid.New()
	r := setupRouter(NewHandler(new(MockService), nil), caller)

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing kind", gin.H{"recipientIds": []string{uuid.NewString()}}},
		{"bad kind", gin.H{"kind": "fax", "recipientIds": []string{uuid.NewString()}}},
		{"no recipients", gin.H{"kind": "audio", "recipientIds": []string{}}},
		{"bad recipient id", gin.H{"kind": "audio", "recipientIds": []string{"nope"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := do(t, r, http.MethodPost, "/v1/calls/initiate", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "VALIDATION", env.Error.Code)
		})
	}
}

func TestTransitions(t *testing.T) {
	user, sessionID := uuid.New(), uuid.New()
	session := &domain.CallSession{ID: sessionID, Status: domain.SessionActive}

	tests := []struct {
		method   string
		path     string
		mockName string
		err      error
		status   int
		code     string
	}{
		{http.MethodPost, "/answer", "Answer", nil, http.StatusOK, ""},
		{http.MethodPost, "/answer", "Answer", apperrors.CallNotFoundError(), http.StatusNotFound, "NOT_FOUND"},
		{http.MethodPost, "/decline", "Decline", apperrors.InvalidStateError("not ringing"), http.StatusConflict, "INVALID_STATE"},
		{http.MethodPost, "/end", "End", nil, http.StatusOK, ""},
		{http.MethodPost, "/busy", "MarkBusy", nil, http.StatusOK, ""},
		{http.MethodGet, "", "Get", nil, http.StatusOK, ""},
		{http.MethodPost, "/end", "End", errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.mockName+tt.path, func(t *testing.T) {
			svc := new(MockService)
			if tt.err != nil {
				svc.On(tt.mockName, mock.Anything, user, sessionID).Return(nil, tt.err)
			} else {
				svc.On(tt.mockName, mock.Anything, user, sessionID).Return(session, nil)
			}
			r := setupRouter(NewHandler(svc, nil), user)

			w, env := do(t, r, tt.method, "/v1/calls/"+sessionID.String()+tt.path, nil)

			assert.Equal(t, tt.status, w.Code)
			if tt.code != "" {
				require.NotNil(t, env.Error)
				assert.Equal(t, tt.code, env.Error.Code)
			} else {
				assert.True(t, env.Success)
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestTransition_InvalidID(t *testing.T) {
	r := setupRouter(NewHandler(new(MockService), nil), uuid.New())

	w, env := do(t, r, http.MethodPost, "/v1/calls/not-a-uuid/answer", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION", env.Error.Code)
}

func TestUnauthenticated(t *testing.T) {
	r := setupRouter(NewHandler(new(MockService), nil), uuid.Nil)

	w, env := do(t, r, http.MethodGet, "/v1/calls/active", nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)
}

func TestGetActiveCalls(t *testing.T) {
	user := uuid.New()
	svc := new(MockService)
	svc.On("ActiveFor", mock.Anything, user).Return([]*domain.CallSession{{ID: uuid.New()}})

	r := setupRouter(NewHandler(svc, nil), user)
	w, env := do(t, r, http.MethodGet, "/v1/calls/active", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var data struct {
		Sessions []*domain.CallSession `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Len(t, data.Sessions, 1)
}

func TestGetCallHistory(t *testing.T) {
	user := uuid.New()

	t.Run("clamps limit", func(t *testing.T) {
		history := new(MockHistoryReader)
		history.On("ListByUser", mock.Anything, user, MaxHistoryLimit, 5).
			Return([]*domain.CallLogEntry{{SessionID: uuid.New(), Outcome: domain.SessionEnded}}, nil)
		r := setupRouter(NewHandler(new(MockService), history), user)

		w, _ := do(t, r, http.MethodGet, "/v1/calls/history?limit=500&offset=5", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		history.AssertExpectations(t)
	})

	t.Run("default limit", func(t *testing.T) {
		history := new(MockHistoryReader)
		history.On("ListByUser", mock.Anything, user, DefaultHistoryLimit, 0).
			Return([]*domain.CallLogEntry{}, nil)
		r := setupRouter(NewHandler(new(MockService), history), user)

		w, _ := do(t, r, http.MethodGet, "/v1/calls/history", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		history.AssertExpectations(t)
	})

	t.Run("bad offset", func(t *testing.T) {
		r := setupRouter(NewHandler(new(MockService), new(MockHistoryReader)), user)

		w, _ := do(t, r, http.MethodGet, "/v1/calls/history?offset=-1", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("disabled", func(t *testing.T) {
		r := setupRouter(NewHandler(new(MockService), nil), user)

		w, _ := do(t, r, http.MethodGet, "/v1/calls/history", nil)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
