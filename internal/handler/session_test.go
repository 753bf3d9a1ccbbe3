package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kidflix/watch-server-go/internal/database"
	"github.com/kidflix/watch-server-go/internal/middleware"
	"github.com/kidflix/watch-server-go/internal/model"
	"github.com/kidflix/watch-server-go/internal/repository"
	"github.com/kidflix/watch-server-go/internal/service"
)

type passthroughTx struct{}

func (passthroughTx) WithTx(ctx context.Context, fn database.TxFunc) error {
	return fn(nil)
}

const (
	testAccountID = "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"
	testProfileID = "11111111-1111-1111-1111-111111111111"
	testVideoID   = "22222222-2222-2222-2222-222222222222"
	testSessionID = "33333333-3333-3333-3333-333333333333"
	testChipID    = "44444444-4444-4444-4444-444444444444"
)

type mockSessionRepo struct{ mock.Mock }

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.WatchSession, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WatchSession), args.Error(1)
}

func (m *mockSessionRepo) FindByProfileID(ctx context.Context, profileID string, limit, offset int) ([]model.WatchSession, error) {
	args := m.Called(ctx, profileID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.WatchSession), args.Error(1)
}

func (m *mockSessionRepo) CountByProfileID(ctx context.Context, profileID string) (int, error) {
	args := m.Called(ctx, profileID)
	return args.Int(0), args.Error(1)
}

func (m *mockSessionRepo) Create(ctx context.Context, params model.CreateWatchSessionParams) (*model.WatchSession, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WatchSession), args.Error(1)
}

func (m *mockSessionRepo) End(ctx context.Context, id string, reason model.StoppedReason) (*model.WatchSession, error) {
	args := m.Called(ctx, id, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WatchSession), args.Error(1)
}

func (m *mockSessionRepo) WithTx(tx *sqlx.Tx) repository.WatchSessionRepository { return m }

type mockBudgetRepo struct{ mock.Mock }

func (m *mockBudgetRepo) Commit(ctx context.Context, profileID, watchDate, timezone string, minutes int) (int, error) {
	args := m.Called(ctx, profileID, watchDate, timezone, minutes)
	return args.Int(0), args.Error(1)
}

func (m *mockBudgetRepo) GetTotal(ctx context.Context, profileID, watchDate string) (int, error) {
	args := m.Called(ctx, profileID, watchDate)
	return args.Int(0), args.Error(1)
}

func (m *mockBudgetRepo) Find(ctx context.Context, profileID, watchDate string) (*model.DailyBudget, error) {
	args := m.Called(ctx, profileID, watchDate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DailyBudget), args.Error(1)
}

func (m *mockBudgetRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockBudgetRepo) WithTx(tx *sqlx.Tx) repository.DailyBudgetRepository { return m }

type mockProfileRepo struct{ mock.Mock }

func (m *mockProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Profile), args.Error(1)
}

type mockVideoRepo struct{ mock.Mock }

func (m *mockVideoRepo) FindByID(ctx context.Context, id string) (*model.Video, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Video), args.Error(1)
}

type mockChipRepo struct{ mock.Mock }

func (m *mockChipRepo) FindByUID(ctx context.Context, uid string) (*model.NfcChip, error) {
	args := m.Called(ctx, uid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.NfcChip), args.Error(1)
}

type handlerMocks struct {
	sessions *mockSessionRepo
	budgets  *mockBudgetRepo
	profiles *mockProfileRepo
	videos   *mockVideoRepo
	chips    *mockChipRepo
}

func newTestRouter(_ *testing.T) (chi.Router, *handlerMocks) {
	m := &handlerMocks{
		sessions: new(mockSessionRepo),
		budgets:  new(mockBudgetRepo),
		profiles: new(mockProfileRepo),
		videos:   new(mockVideoRepo),
		chips:    new(mockChipRepo),
	}
	watch := service.NewWatchService(passthroughTx{}, m.sessions, m.budgets, m.profiles, m.videos, service.DefaultPositionTolerance, 16)
	h := NewSessionHandler(watch, m.profiles, m.chips)

	r := chi.NewRouter()
	r.Post("/v1/sessions", h.Start)
	r.Post("/kiosk/sessions", h.KioskStart)
	r.Post("/v1/sessions/{sessionID}/heartbeat", h.Heartbeat)
	r.Post("/v1/sessions/{sessionID}/end", h.End)
	return r, m
}

func testAccount() *model.Account {
	return &model.Account{ID: testAccountID, Email: "parent@example.com"}
}

func testProfile() *model.Profile {
	return &model.Profile{
		ID:                testProfileID,
		AccountID:         testAccountID,
		Name:              "Mika",
		DailyLimitMinutes: 60,
		Timezone:          "UTC",
	}
}

func doRequest(router chi.Router, method, path string, body any, account *model.Account) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if account != nil {
		ctx := context.WithValue(req.Context(), middleware.AccountContextKey, account)
		req = req.WithContext(ctx)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestSessionHandler_Start(t *testing.T) {
	t.Run("creates a session for an owned profile", func(t *testing.T) {
		router, m := newTestRouter(t)

		profileID := testProfileID
		m.profiles.On("FindByID", mock.Anything, testProfileID).Return(testProfile(), nil)
		m.videos.On("FindByID", mock.Anything, testVideoID).
			Return(&model.Video{ID: testVideoID, DurationSeconds: 300}, nil)
		m.budgets.On("GetTotal", mock.Anything, testProfileID, mock.Anything).Return(30, nil)
		m.sessions.On("Create", mock.Anything, mock.Anything).Return(&model.WatchSession{
			ID:        testSessionID,
			ProfileID: &profileID,
			VideoID:   testVideoID,
			StartedAt: time.Now().UTC(),
		}, nil)

		rec := doRequest(router, http.MethodPost, "/v1/sessions", map[string]any{
			"profileId": testProfileID,
			"videoId":   testVideoID,
		}, testAccount())

		require.Equal(t, http.StatusCreated, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, testSessionID, body["sessionId"])
		assert.Equal(t, float64(30), body["remainingMinutes"])
	})

	t.Run("rejects a profile owned by another account", func(t *testing.T) {
		router, m := newTestRouter(t)

		other := testProfile()
		other.AccountID = "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"
		m.profiles.On("FindByID", mock.Anything, testProfileID).Return(other, nil)

		rec := doRequest(router, http.MethodPost, "/v1/sessions", map[string]any{
			"profileId": testProfileID,
			"videoId":   testVideoID,
		}, testAccount())

		require.Equal(t, http.StatusForbidden, rec.Code)
		m.sessions.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("rejects when the daily budget is exhausted", func(t *testing.T) {
		router, m := newTestRouter(t)

		m.profiles.On("FindByID", mock.Anything, testProfileID).Return(testProfile(), nil)
		m.videos.On("FindByID", mock.Anything, testVideoID).
			Return(&model.Video{ID: testVideoID, DurationSeconds: 300}, nil)
		m.budgets.On("GetTotal", mock.Anything, testProfileID, mock.Anything).Return(60, nil)

		rec := doRequest(router, http.MethodPost, "/v1/sessions", map[string]any{
			"profileId": testProfileID,
			"videoId":   testVideoID,
		}, testAccount())

		require.Equal(t, http.StatusForbidden, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "DAILY_BUDGET_EXHAUSTED", body["code"])
		m.sessions.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("requires videoId", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := doRequest(router, http.MethodPost, "/v1/sessions", map[string]any{}, testAccount())

		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "MISSING_REQUIRED", body["code"])
	})

	t.Run("rejects a malformed videoId", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := doRequest(router, http.MethodPost, "/v1/sessions", map[string]any{
			"videoId": "not-a-uuid",
		}, testAccount())

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("requires an authenticated account", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := doRequest(router, http.MethodPost, "/v1/sessions", map[string]any{
			"videoId": testVideoID,
		}, nil)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestSessionHandler_KioskStart(t *testing.T) {
	t.Run("starts from a chip binding", func(t *testing.T) {
		router, m := newTestRouter(t)

		profileID := testProfileID
		m.chips.On("FindByUID", mock.Anything, "04:a3:22:b1").Return(&model.NfcChip{
			ID:        testChipID,
			UID:       "04:a3:22:b1",
			VideoID:   testVideoID,
			ProfileID: &profileID,
		}, nil)
		m.videos.On("FindByID", mock.Anything, testVideoID).
			Return(&model.Video{ID: testVideoID, DurationSeconds: 300}, nil)
		m.profiles.On("FindByID", mock.Anything, testProfileID).Return(testProfile(), nil)
		m.budgets.On("GetTotal", mock.Anything, testProfileID, mock.Anything).Return(0, nil)
		m.sessions.On("Create", mock.Anything, mock.Anything).Return(&model.WatchSession{
			ID:        testSessionID,
			ProfileID: &profileID,
			VideoID:   testVideoID,
			StartedAt: time.Now().UTC(),
		}, nil)

		rec := doRequest(router, http.MethodPost, "/kiosk/sessions", map[string]any{
			"nfcChipUid": "04:a3:22:b1",
		}, nil)

		require.Equal(t, http.StatusCreated, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, testSessionID, body["sessionId"])
	})

	t.Run("rejects a profile that does not match the chip", func(t *testing.T) {
		router, m := newTestRouter(t)

		boundProfile := "99999999-9999-9999-9999-999999999999"
		m.chips.On("FindByUID", mock.Anything, "04:a3:22:b1").Return(&model.NfcChip{
			ID:        testChipID,
			UID:       "04:a3:22:b1",
			VideoID:   testVideoID,
			ProfileID: &boundProfile,
		}, nil)

		rec := doRequest(router, http.MethodPost, "/kiosk/sessions", map[string]any{
			"nfcChipUid": "04:a3:22:b1",
			"profileId":  testProfileID,
		}, nil)

		require.Equal(t, http.StatusForbidden, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "CHIP_PROFILE_MISMATCH", body["code"])
		m.sessions.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("unknown chip is a 404", func(t *testing.T) {
		router, m := newTestRouter(t)

		m.chips.On("FindByUID", mock.Anything, "ff:ff:ff:ff").Return(nil, nil)

		rec := doRequest(router, http.MethodPost, "/kiosk/sessions", map[string]any{
			"nfcChipUid": "ff:ff:ff:ff",
		}, nil)

		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("requires nfcChipUid", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := doRequest(router, http.MethodPost, "/kiosk/sessions", map[string]any{}, nil)

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSessionHandler_Heartbeat(t *testing.T) {
	t.Run("reports elapsed seconds for an anonymous session", func(t *testing.T) {
		router, m := newTestRouter(t)

		m.sessions.On("FindByID", mock.Anything, testSessionID).Return(&model.WatchSession{
			ID:        testSessionID,
			VideoID:   testVideoID,
			StartedAt: time.Now().UTC().Add(-2 * time.Minute),
		}, nil)

		rec := doRequest(router, http.MethodPost, "/v1/sessions/"+testSessionID+"/heartbeat", nil, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.InDelta(t, 120, body["elapsedSeconds"], 5)
		assert.Equal(t, false, body["limitReached"])
		assert.NotContains(t, body, "remainingMinutes")
	})

	t.Run("rejects an implausible reported position", func(t *testing.T) {
		router, m := newTestRouter(t)

		m.sessions.On("FindByID", mock.Anything, testSessionID).Return(&model.WatchSession{
			ID:        testSessionID,
			VideoID:   testVideoID,
			StartedAt: time.Now().UTC(),
		}, nil)
		m.videos.On("FindByID", mock.Anything, testVideoID).
			Return(&model.Video{ID: testVideoID, DurationSeconds: 300}, nil)

		rec := doRequest(router, http.MethodPost, "/v1/sessions/"+testSessionID+"/heartbeat", map[string]any{
			"currentPositionSeconds": 311,
		}, nil)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "INVALID_POSITION", body["code"])
	})

	t.Run("ended session reports SESSION_ENDED", func(t *testing.T) {
		router, m := newTestRouter(t)

		endedAt := time.Now().UTC()
		m.sessions.On("FindByID", mock.Anything, testSessionID).Return(&model.WatchSession{
			ID:        testSessionID,
			VideoID:   testVideoID,
			StartedAt: endedAt.Add(-time.Minute),
			EndedAt:   &endedAt,
		}, nil)

		rec := doRequest(router, http.MethodPost, "/v1/sessions/"+testSessionID+"/heartbeat", nil, nil)

		require.Equal(t, http.StatusNotFound, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "SESSION_ENDED", body["code"])
	})

	t.Run("unknown session is a 404", func(t *testing.T) {
		router, m := newTestRouter(t)

		m.sessions.On("FindByID", mock.Anything, testSessionID).Return(nil, nil)

		rec := doRequest(router, http.MethodPost, "/v1/sessions/"+testSessionID+"/heartbeat", nil, nil)

		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("rejects a malformed session id", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := doRequest(router, http.MethodPost, "/v1/sessions/nope/heartbeat", nil, nil)

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSessionHandler_End(t *testing.T) {
	t.Run("ends a session and reports the duration", func(t *testing.T) {
		router, m := newTestRouter(t)

		endedAt := time.Now().UTC()
		duration := 95
		reason := model.StoppedManual
		m.sessions.On("End", mock.Anything, testSessionID, model.StoppedManual).
			Return(&model.WatchSession{
				ID:              testSessionID,
				VideoID:         testVideoID,
				StartedAt:       endedAt.Add(-95 * time.Second),
				EndedAt:         &endedAt,
				DurationSeconds: &duration,
				StoppedReason:   &reason,
			}, nil)

		rec := doRequest(router, http.MethodPost, "/v1/sessions/"+testSessionID+"/end", map[string]any{
			"stoppedReason": "manual",
		}, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, float64(95), body["durationSeconds"])
		assert.Equal(t, "manual", body["stoppedReason"])
		assert.Equal(t, false, body["alreadyEnded"])
	})

	t.Run("second end reports alreadyEnded with the recorded values", func(t *testing.T) {
		router, m := newTestRouter(t)

		endedAt := time.Now().UTC()
		duration := 95
		reason := model.StoppedManual
		m.sessions.On("End", mock.Anything, testSessionID, model.StoppedSwipeExit).Return(nil, nil)
		m.sessions.On("FindByID", mock.Anything, testSessionID).Return(&model.WatchSession{
			ID:              testSessionID,
			VideoID:         testVideoID,
			StartedAt:       endedAt.Add(-95 * time.Second),
			EndedAt:         &endedAt,
			DurationSeconds: &duration,
			StoppedReason:   &reason,
		}, nil)

		rec := doRequest(router, http.MethodPost, "/v1/sessions/"+testSessionID+"/end", map[string]any{
			"stoppedReason": "swipe_exit",
		}, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, true, body["alreadyEnded"])
		assert.Equal(t, float64(95), body["durationSeconds"])
		assert.Equal(t, "manual", body["stoppedReason"])
	})

	t.Run("requires stoppedReason", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := doRequest(router, http.MethodPost, "/v1/sessions/"+testSessionID+"/end", map[string]any{}, nil)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "MISSING_REQUIRED", body["code"])
	})

	t.Run("rejects an unknown stoppedReason", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := doRequest(router, http.MethodPost, "/v1/sessions/"+testSessionID+"/end", map[string]any{
			"stoppedReason": "rage_quit",
		}, nil)

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown session is a 404", func(t *testing.T) {
		router, m := newTestRouter(t)

		m.sessions.On("End", mock.Anything, testSessionID, model.StoppedManual).Return(nil, nil)
		m.sessions.On("FindByID", mock.Anything, testSessionID).Return(nil, nil)

		rec := doRequest(router, http.MethodPost, "/v1/sessions/"+testSessionID+"/end", map[string]any{
			"stoppedReason": "manual",
		}, nil)

		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}
