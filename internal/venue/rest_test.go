package venue

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"main/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"
)

func TestNextNonce(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/nextNonce", r.URL.Path)
		assert.Equal(t, "11", r.URL.Query().Get("account_index"))
		assert.Equal(t, "2", r.URL.Query().Get("api_key_index"))
		_, _ = w.Write([]byte(`{"code":200,"nonce":42}`))
	}))
	defer server.Close()

	client := NewRestClient(server.URL, 0)
	nonce, err := client.NextNonce(t.Context(), 11, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(42), nonce)
}

func TestNextNonceHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewRestClient(server.URL, 0)
	_, err := client.NextNonce(t.Context(), 11, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrProtocol))
}

func TestNextNonceVenueError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":21000,"message":"unknown account"}`))
	}))
	defer server.Close()

	client := NewRestClient(server.URL, 0)
	_, err := client.NextNonce(t.Context(), 11, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrProtocol))
	assert.Contains(t, err.Error(), "unknown account")
}

func TestNextNonceUndecodableBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	client := NewRestClient(server.URL, 0)
	_, err := client.NextNonce(t.Context(), 11, 2)
	assert.Error(t, err)
}
