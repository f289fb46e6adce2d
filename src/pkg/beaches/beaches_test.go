package beaches

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestClient_List(t *testing.T) {
	srv, hits := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("invalid token"))
			return
		}
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`[{"_id":"b1","name":"Gordon"},{"_id":"b2","name":"Frishman","lat":32.08}]`))
	})
	c := NewClient(Options{URL: srv.URL, CacheTTL: time.Minute, Client: srv.Client()})

	list, err := c.List(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, []Beach{{ID: "b1", Name: "Gordon"}, {ID: "b2", Name: "Frishman"}}, list)

	// 修改返回值不影响缓存
	list[0].Name = "changed"
	again, err := c.List(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "Gordon", again[0].Name)
	assert.Equal(t, int32(1), hits.Load(), "第二次应命中缓存")

	c.Invalidate()
	_, err = c.List(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())

	_, err = c.List(context.Background(), "bad")
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusUnauthorized, fe.Status)
	assert.Equal(t, "invalid token", fe.Message)
}

func TestClient_HTMLErrorBody(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("<html><body>Application Error</body></html>"))
	})
	c := NewClient(Options{URL: srv.URL, Client: srv.Client()})

	_, err := c.List(context.Background(), "tok")
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusServiceUnavailable, fe.Status)
	assert.Equal(t, UnknownErrorMessage, fe.Message)
}

func TestClient_NoCacheAndBadInput(t *testing.T) {
	srv, hits := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not":"an array"}`))
	})
	c := NewClient(Options{URL: srv.URL, Client: srv.Client()})

	_, err := c.List(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoToken)
	assert.Equal(t, int32(0), hits.Load())

	_, err = c.List(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrBadResponse)
	_, err = c.List(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrBadResponse)
	assert.Equal(t, int32(2), hits.Load())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.List(ctx, "tok")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseBeaches_Empty(t *testing.T) {
	list, err := parseBeaches([]byte(`[]`))
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}
