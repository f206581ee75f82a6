package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsBillions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/models/gpt-j-6b", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"gpt-j-6b","safetensors":{"total":6050882784}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	got, err := c.ParamsBillions(context.Background(), "gpt-j-6b")
	require.NoError(t, err)
	assert.InDelta(t, 6.05, got, 0.01)
}

func TestParamsBillionsEscapesModelName(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_, _ = w.Write([]byte(`{"id":"x","safetensors":{"total":1000000000}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	_, err := c.ParamsBillions(context.Background(), "org/model v2")
	require.NoError(t, err)
	assert.Equal(t, "/api/models/org%2Fmodel%20v2", gotPath)
}

func TestParamsBillionsUnknownModelDoesNotRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	_, err := c.ParamsBillions(context.Background(), "no-such-model")
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestParamsBillionsRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"id":"x","safetensors":{"total":2000000000}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 30*time.Second)
	got, err := c.ParamsBillions(context.Background(), "flaky-model")
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)
	assert.GreaterOrEqual(t, hits.Load(), int32(3))
}

func TestParamsBillionsRejectsMissingCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"x"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	_, err := c.ParamsBillions(context.Background(), "x")
	assert.Error(t, err)

	_, err = c.ParamsBillions(context.Background(), "")
	assert.Error(t, err)
}
