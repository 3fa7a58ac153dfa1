package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMembershipClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/members", r.URL.Path)
		assert.Equal(t, "@board", r.URL.Query().Get("channel"))
		switch r.URL.Query().Get("account_id") {
		case "1":
			_, _ = w.Write([]byte(`{"member":true}`))
		case "2":
			_, _ = w.Write([]byte(`{"member":false}`))
		case "3":
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte(`not json`))
		}
	}))
	t.Cleanup(srv.Close)
	c := NewMembershipClient(srv.URL+"/members", time.Second)
	ctx := context.Background()

	ok, err := c.IsMember(ctx, "@board", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.IsMember(ctx, "@board", 2)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.IsMember(ctx, "@board", 3)
	assert.ErrorContains(t, err, "status 502")

	_, err = c.IsMember(ctx, "@board", 4)
	assert.ErrorContains(t, err, "decode")
}

func TestMembershipClient_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() { close(block); srv.Close() })

	c := NewMembershipClient(srv.URL, 50*time.Millisecond)
	_, err := c.IsMember(context.Background(), "@board", 1)
	assert.Error(t, err)
}
