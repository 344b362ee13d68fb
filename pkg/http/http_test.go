package http_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/helmbuild/pkg/http"
)

func TestClient_Download(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte("payload"))
		case "/busy":
			w.WriteHeader(nethttp.StatusServiceUnavailable)
			_, _ = w.Write([]byte("try later"))
		default:
			nethttp.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	c := http.NewClient(5 * time.Second)

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		buf := &bytes.Buffer{}
		n, err := c.Download(t.Context(), srv.URL+"/ok", buf)
		require.NoError(t, err)
		assert.Equal(t, int64(7), n)
		assert.Equal(t, "payload", buf.String())
	})

	t.Run("server error is retryable", func(t *testing.T) {
		t.Parallel()

		_, err := c.Download(t.Context(), srv.URL+"/busy", &bytes.Buffer{})
		require.Error(t, err)

		var se *http.StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, nethttp.StatusServiceUnavailable, se.StatusCode)
		assert.Equal(t, "try later", se.Body)
		assert.True(t, http.IsRetryable(err))
	})

	t.Run("not found is permanent", func(t *testing.T) {
		t.Parallel()

		_, err := c.Download(t.Context(), srv.URL+"/missing", &bytes.Buffer{})
		require.Error(t, err)
		assert.False(t, http.IsRetryable(err))
	})
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		err  error
		want bool
	}{
		"nil":          {err: nil, want: false},
		"transport":    {err: fmt.Errorf("%w: connection reset", http.ErrRequestFailed), want: true},
		"rate limited": {err: &http.StatusError{StatusCode: nethttp.StatusTooManyRequests}, want: true},
		"bad gateway":  {err: &http.StatusError{StatusCode: nethttp.StatusBadGateway}, want: true},
		"unauthorized": {err: &http.StatusError{StatusCode: nethttp.StatusUnauthorized}, want: false},
		"canceled":     {err: fmt.Errorf("send request: %w", context.Canceled), want: false},
		"other":        {err: errors.New("boom"), want: false},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, http.IsRetryable(tc.err))
		})
	}
}
