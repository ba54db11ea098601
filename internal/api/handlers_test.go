package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hcpvision/induction-sync/internal/app"
	"github.com/hcpvision/induction-sync/internal/store"
)

type fakeIngester struct {
	dates  []string
	report app.IngestReport
	err    error
}

func (f *fakeIngester) IngestDates(_ context.Context, dates []string) (app.IngestReport, error) {
	f.dates = dates
	return f.report, f.err
}

type fakeKIB struct {
	ok    bool
	calls []string
}

func (f *fakeKIB) UpdateCustomField(_ context.Context, personID, fieldName, fieldValue string) bool {
	f.calls = append(f.calls, personID+"/"+fieldName+"="+fieldValue)
	return f.ok
}

type fakeOutcomes struct {
	outcome *store.SyncOutcome
	err     error
}

func (f *fakeOutcomes) LatestOutcome(_ context.Context, _ string) (*store.SyncOutcome, error) {
	return f.outcome, f.err
}

func serve(t *testing.T, router http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	router := NewRouter(NewHandler(&fakeIngester{}, nil, nil, zaptest.NewLogger(t)), "", []string{"*"})

	rec := serve(t, router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestEposhInduction(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		ingester  *fakeIngester
		wantCode  int
		wantDates []string
	}{
		{
			name:      "range with skipped dates",
			body:      `{"from":"2026-01-01","to":"2026-01-05","skip_dates":["2026-01-02","2026-01-05"]}`,
			ingester:  &fakeIngester{report: app.IngestReport{Dates: 3, Pages: 4, Employees: 310}},
			wantCode:  http.StatusAccepted,
			wantDates: []string{"2026-01-01", "2026-01-03", "2026-01-04"},
		},
		{
			name:      "single day",
			body:      `{"from":"2026-01-19"}`,
			ingester:  &fakeIngester{},
			wantCode:  http.StatusAccepted,
			wantDates: []string{"2026-01-19"},
		},
		{
			name:     "inverted range",
			body:     `{"from":"2026-01-05","to":"2026-01-01"}`,
			ingester: &fakeIngester{},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "bad body",
			body:     `{`,
			ingester: &fakeIngester{},
			wantCode: http.StatusBadRequest,
		},
		{
			name:      "source failure",
			body:      `{"from":"2026-01-01"}`,
			ingester:  &fakeIngester{err: errors.New("eposh API request failed with status 502")},
			wantCode:  http.StatusInternalServerError,
			wantDates: []string{"2026-01-01"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(NewHandler(tt.ingester, nil, nil, zaptest.NewLogger(t)), "", []string{"*"})

			rec := serve(t, router, http.MethodPost, "/eposh-induction", tt.body, nil)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantDates, tt.ingester.dates)
		})
	}
}

func TestEposhInduction_ReportsCounts(t *testing.T) {
	ingester := &fakeIngester{report: app.IngestReport{Dates: 1, Pages: 2, Employees: 150}}
	router := NewRouter(NewHandler(ingester, nil, nil, zaptest.NewLogger(t)), "", []string{"*"})

	rec := serve(t, router, http.MethodPost, "/eposh-induction", `{"from":"2026-01-03"}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "queued", body["status"])
	assert.EqualValues(t, 2, body["pages"])
	assert.EqualValues(t, 150, body["employees"])
}

func TestKIB(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		kib := &fakeKIB{ok: true}
		router := NewRouter(NewHandler(&fakeIngester{}, kib, nil, zaptest.NewLogger(t)), "", []string{"*"})

		rec := serve(t, router, http.MethodPost, "/kib", `{"person_id":"16863","kib_number":"12312312321"}`, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"16863/KIB=12312312321"}, kib.calls)
	})

	t.Run("upstream failure", func(t *testing.T) {
		router := NewRouter(NewHandler(&fakeIngester{}, &fakeKIB{}, nil, zaptest.NewLogger(t)), "", []string{"*"})

		rec := serve(t, router, http.MethodPost, "/kib", `{"person_id":"1","kib_number":"2"}`, nil)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, false, decodeBody(t, rec)["success"])
	})

	t.Run("missing fields", func(t *testing.T) {
		kib := &fakeKIB{ok: true}
		router := NewRouter(NewHandler(&fakeIngester{}, kib, nil, zaptest.NewLogger(t)), "", []string{"*"})

		rec := serve(t, router, http.MethodPost, "/kib", `{"person_id":"1"}`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, kib.calls)
	})

	t.Run("not configured", func(t *testing.T) {
		router := NewRouter(NewHandler(&fakeIngester{}, nil, nil, zaptest.NewLogger(t)), "", []string{"*"})

		rec := serve(t, router, http.MethodPost, "/kib", `{"person_id":"1","kib_number":"2"}`, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestSyncOutcome(t *testing.T) {
	processedAt := time.Date(2026, 1, 19, 1, 2, 3, 0, time.UTC)
	personID := "4021"

	tests := []struct {
		name     string
		outcomes OutcomeReader
		wantCode int
	}{
		{
			name: "found",
			outcomes: &fakeOutcomes{outcome: &store.SyncOutcome{
				IdentityNumber: "6401",
				PersonID:       &personID,
				Outcome:        "completed",
				ProcessedAt:    processedAt,
			}},
			wantCode: http.StatusOK,
		},
		{name: "not found", outcomes: &fakeOutcomes{}, wantCode: http.StatusNotFound},
		{name: "db error", outcomes: &fakeOutcomes{err: errors.New("conn refused")}, wantCode: http.StatusInternalServerError},
		{name: "ledger disabled", outcomes: nil, wantCode: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(NewHandler(&fakeIngester{}, nil, tt.outcomes, zaptest.NewLogger(t)), "", []string{"*"})

			rec := serve(t, router, http.MethodGet, "/sync-outcomes/6401", "", nil)
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode == http.StatusOK {
				body := decodeBody(t, rec)
				assert.Equal(t, "4021", body["person_id"])
				assert.Equal(t, "2026-01-19T01:02:03Z", body["processed_at"])
			}
		})
	}
}

func TestJWTAuthMiddleware(t *testing.T) {
	const secret = "ingest-secret"
	sign := func(t *testing.T, key string, method jwt.SigningMethod, expiresIn time.Duration) string {
		t.Helper()
		token := jwt.NewWithClaims(method, jwt.RegisteredClaims{
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		})
		signed, err := token.SignedString([]byte(key))
		require.NoError(t, err)
		return signed
	}

	tests := []struct {
		name     string
		header   func(t *testing.T) string
		wantCode int
	}{
		{name: "no header", header: func(*testing.T) string { return "" }, wantCode: http.StatusUnauthorized},
		{name: "not bearer", header: func(*testing.T) string { return "Basic abc" }, wantCode: http.StatusUnauthorized},
		{name: "wrong key", header: func(t *testing.T) string { return "Bearer " + sign(t, "other", jwt.SigningMethodHS256, time.Hour) }, wantCode: http.StatusUnauthorized},
		{name: "wrong algorithm", header: func(t *testing.T) string { return "Bearer " + sign(t, secret, jwt.SigningMethodHS512, time.Hour) }, wantCode: http.StatusUnauthorized},
		{name: "expired", header: func(t *testing.T) string { return "Bearer " + sign(t, secret, jwt.SigningMethodHS256, -time.Hour) }, wantCode: http.StatusUnauthorized},
		{name: "valid", header: func(t *testing.T) string { return "Bearer " + sign(t, secret, jwt.SigningMethodHS256, time.Hour) }, wantCode: http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(NewHandler(&fakeIngester{}, nil, nil, zaptest.NewLogger(t)), secret, []string{"*"})

			headers := map[string]string{}
			if h := tt.header(t); h != "" {
				headers["Authorization"] = h
			}
			rec := serve(t, router, http.MethodPost, "/eposh-induction", `{"from":"2026-01-01"}`, headers)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}

	t.Run("health stays open", func(t *testing.T) {
		router := NewRouter(NewHandler(&fakeIngester{}, nil, nil, zaptest.NewLogger(t)), secret, []string{"*"})
		assert.Equal(t, http.StatusOK, serve(t, router, http.MethodGet, "/health", "", nil).Code)
	})
}

func TestMetricsRouter(t *testing.T) {
	router := NewMetricsRouter()
	assert.Equal(t, http.StatusOK, serve(t, router, http.MethodGet, "/metrics", "", nil).Code)
	assert.Equal(t, http.StatusOK, serve(t, router, http.MethodGet, "/health", "", nil).Code)
}

func TestEposhInduction_LogsTokenSubject(t *testing.T) {
	const secret = "ingest-secret"
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops@hcpvision",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	core, logs := observer.New(zap.InfoLevel)
	router := NewRouter(NewHandler(&fakeIngester{}, nil, nil, zap.New(core)), secret, []string{"*"})

	rec := serve(t, router, http.MethodPost, "/eposh-induction", `{"from":"2026-01-01"}`, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusAccepted, rec.Code)

	entries := logs.FilterMessage("eposh ingestion requested").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ops@hcpvision", entries[0].ContextMap()["requested_by"])
}

func TestSubjectFromContext(t *testing.T) {
	assert.Empty(t, SubjectFromContext(context.Background()))
	assert.Equal(t, "ops", SubjectFromContext(context.WithValue(context.Background(), SubjectContextKey, "ops")))
}
