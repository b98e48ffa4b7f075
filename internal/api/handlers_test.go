package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bozbot/internal/database"
)

type fakeStore struct {
	operator *database.Operator
	pending  []database.PendingTrade
	trades   []database.Trade
	pred     *database.Prediction
	sick     bool
}

func (s *fakeStore) GetOperator(ctx context.Context) (*database.Operator, error) {
	return s.operator, nil
}

func (s *fakeStore) ListPendingTrades(ctx context.Context, operatorID int64) ([]database.PendingTrade, error) {
	return s.pending, nil
}

func (s *fakeStore) RecentTrades(ctx context.Context, operatorID int64, limit int) ([]database.Trade, error) {
	return s.trades, nil
}

func (s *fakeStore) LatestPrediction(ctx context.Context, city string, date time.Time) (*database.Prediction, error) {
	return s.pred, nil
}

func (s *fakeStore) HealthCheck(ctx context.Context) error {
	if s.sick {
		return errors.New("database unreachable")
	}
	return nil
}

type fakeApprover struct {
	approved []int64
	rejected []int64
	fail     bool
}

func (a *fakeApprover) Approve(ctx context.Context, pendingID int64, now time.Time) (*database.Trade, error) {
	if a.fail {
		return nil, errors.New("pending trade not approvable")
	}
	a.approved = append(a.approved, pendingID)
	return &database.Trade{ID: 42, Status: database.TradeOpen}, nil
}

func (a *fakeApprover) Reject(ctx context.Context, pendingID int64) error {
	if a.fail {
		return errors.New("pending trade is not PENDING")
	}
	a.rejected = append(a.rejected, pendingID)
	return nil
}

func newTestServer(store *fakeStore, approver *fakeApprover, config Config) *Server {
	if store.operator == nil {
		store.operator = &database.Operator{ID: 1}
	}
	return NewServer(config, store, approver, NewHub(zerolog.Nop()), zerolog.Nop())
}

func do(s *Server, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := newTestServer(&fakeStore{}, &fakeApprover{}, Config{})
	w := do(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	s = newTestServer(&fakeStore{sick: true}, &fakeApprover{}, Config{})
	w = do(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListPending(t *testing.T) {
	store := &fakeStore{pending: []database.PendingTrade{{ID: 7, City: "NYC", Status: database.PendingPending}}}
	s := newTestServer(store, &fakeApprover{}, Config{})

	w := do(s, http.MethodGet, "/api/pending", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Pending []database.PendingTrade `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Pending, 1)
	assert.Equal(t, int64(7), body.Pending[0].ID)
}

func TestApproveEndpoint(t *testing.T) {
	approver := &fakeApprover{}
	s := newTestServer(&fakeStore{}, approver, Config{})

	w := do(s, http.MethodPost, "/api/pending/7/approve", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{7}, approver.approved)

	w = do(s, http.MethodPost, "/api/pending/abc/approve", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	approver.fail = true
	w = do(s, http.MethodPost, "/api/pending/8/approve", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRejectEndpoint(t *testing.T) {
	approver := &fakeApprover{}
	s := newTestServer(&fakeStore{}, approver, Config{})

	w := do(s, http.MethodPost, "/api/pending/9/reject", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{9}, approver.rejected)
}

func TestGetPrediction(t *testing.T) {
	store := &fakeStore{pred: &database.Prediction{City: "NYC", EnsembleMeanF: 55.1}}
	s := newTestServer(store, &fakeApprover{}, Config{})

	w := do(s, http.MethodGet, "/api/predictions/nyc", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(s, http.MethodGet, "/api/predictions/LAX", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	store.pred = nil
	w = do(s, http.MethodGet, "/api/predictions/NYC", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNoOperatorIs404(t *testing.T) {
	s := NewServer(Config{}, &fakeStore{}, &fakeApprover{}, NewHub(zerolog.Nop()), zerolog.Nop())
	w := do(s, http.MethodGet, "/api/trades", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthMiddleware(t *testing.T) {
	config := Config{AuthEnabled: true, JWTSecret: "test-secret"}
	s := newTestServer(&fakeStore{}, &fakeApprover{}, config)

	w := do(s, http.MethodGet, "/api/pending", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(s, http.MethodGet, "/api/pending", map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "operator",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	w = do(s, http.MethodGet, "/api/pending", map[string]string{"Authorization": "Bearer " + signed})
	assert.Equal(t, http.StatusOK, w.Code)

	// Health stays unauthenticated.
	w = do(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
