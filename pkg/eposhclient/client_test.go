package eposhclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/induction/employees", r.URL.Path)
		assert.Equal(t, "2026-01-03", r.URL.Query().Get("induction_date"))
		assert.Equal(t, "false", r.URL.Query().Get("include_base64"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Equal(t, "api-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "hcpvision", r.Header.Get("x-app-id"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"data": [{"identity_number": "6401", "name": "Budi", "regionals": [{"name": "Zona I", "slug": "zona-i"}]}],
			"pagination": {"current_page": 2, "last_page": 3, "total": 101}
		}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/v1/induction/employees", "api-key", "hcpvision", 50)
	page, err := client.FetchPage(context.Background(), "2026-01-03", 2)
	require.NoError(t, err)

	require.Len(t, page.Data, 1)
	assert.Equal(t, "6401", page.Data[0].IdentityNumber)
	assert.Equal(t, "zona-i", page.Data[0].Regionals[0].Slug)
	assert.Equal(t, 3, page.Pagination.LastPage)
	assert.Equal(t, 101, page.Pagination.Total)
}

func TestFetchPage_MissingDataBecomesEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pagination": {"current_page": 1, "last_page": 1, "total": 0}}`))
	}))
	defer srv.Close()

	page, err := NewClient(srv.URL, "k", "a", 0).FetchPage(context.Background(), "2026-01-01", 1)
	require.NoError(t, err)
	assert.NotNil(t, page.Data)
	assert.Empty(t, page.Data)
}

func TestFetchPage_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid api key"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "bad", "a", 10).FetchPage(context.Background(), "2026-01-01", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestFetchPage_LooselyTypedRecordsKeepThePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"data": [
				{"identity_number": "A1"},
				{"identity_number": "B2", "kib_number": 12345, "photo": ""},
				"garbage",
				{"identity_number": "C3"}
			],
			"pagination": {"current_page": 1, "last_page": 1, "total": 4}
		}`))
	}))
	defer srv.Close()

	page, err := NewClient(srv.URL, "k", "a", 0).FetchPage(context.Background(), "2026-01-01", 1)
	require.NoError(t, err)

	require.Len(t, page.Data, 4)
	assert.Equal(t, "12345", page.Data[1].KIBNumber)
	assert.Nil(t, page.Data[1].Photo)
	assert.Error(t, page.Data[2].DecodeError())
	assert.Equal(t, "C3", page.Data[3].IdentityNumber)
}
