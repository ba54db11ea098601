package hikvisionclient

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignKnownVectors(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		accept      string
		contentType string
		path        string
		secret      string
		want        string
	}{
		{
			name:        "person add",
			method:      "POST",
			accept:      "application/json",
			contentType: "application/json;charset=UTF-8",
			path:        "/artemis/api/resource/v1/person/single/add",
			secret:      "test-secret",
			want:        "A2JORQObVgIuxxrxh7+RhbZvGvPBKecQhMnnNsZpSII=",
		},
		{
			name:        "privilege group add persons",
			method:      "POST",
			accept:      "application/json",
			contentType: "application/json;charset=UTF-8",
			path:        "/artemis/api/acs/v1/privilege/group/single/addPersons",
			secret:      "test-secret",
			want:        "CF/D2Kd8nPe+mbEwYwkRe5jtIg8C6AM0HtLT4Htj5+s=",
		},
		{
			name: "all fields empty still joins with newlines",
			want: "9YGtplhX+EPrLkV9JQX1p1yVYCWLBTgRnVL0nJrr53s=",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sign(tt.method, tt.accept, tt.contentType, tt.path, tt.secret)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSignDeterministic(t *testing.T) {
	first := Sign("POST", "application/json", "application/json;charset=UTF-8", "/a", "s")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Sign("POST", "application/json", "application/json;charset=UTF-8", "/a", "s"))
	}
}

func TestSignChangesWithEveryField(t *testing.T) {
	base := []string{"POST", "application/json", "application/json;charset=UTF-8", "/artemis/a", "secret"}
	want := Sign(base[0], base[1], base[2], base[3], base[4])

	for i := range base {
		fields := append([]string(nil), base...)
		fields[i] = fields[i] + "x"
		got := Sign(fields[0], fields[1], fields[2], fields[3], fields[4])
		assert.NotEqualf(t, want, got, "changing field %d must change the signature", i)
	}
}

func TestSignerApplySetsHeaders(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "https://hcp.local/artemis/api/resource/v1/person/single/add", nil)
	require.NoError(t, err)

	Signer{AppKey: "26295356", AppSecret: "test-secret"}.Apply(req, "application/json", "application/json;charset=UTF-8", "/artemis/api/resource/v1/person/single/add")

	assert.Equal(t, "application/json;charset=UTF-8", req.Header.Get("Content-Type"))
	assert.Equal(t, "application/json", req.Header.Get("Accept"))
	assert.Equal(t, "26295356", req.Header.Get("X-Ca-Key"))
	assert.Equal(t, "A2JORQObVgIuxxrxh7+RhbZvGvPBKecQhMnnNsZpSII=", req.Header.Get("X-Ca-Signature"))
}
