package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
	"time"
)

const maxErrorBody = 4096

var ErrRequestFailed = errors.New("request failed")

// StatusError is returned for responses with a non-2xx status code.
type StatusError struct {
	Method     string
	URL        string
	Body       string
	StatusCode int
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}

	return msg
}

// IsRetryable reports whether err is worth retrying: transport failures,
// server errors and rate limiting. Context cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == nethttp.StatusTooManyRequests
	}

	return errors.Is(err, ErrRequestFailed)
}

type Client struct {
	http *nethttp.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		http: &nethttp.Client{Timeout: timeout},
	}
}

// Download writes the body of a GET request for url to w.
func (c *Client) Download(ctx context.Context, url string, w io.Writer) (int64, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.Do(req)
	if err != nil {
		return 0, err
	}
	defer tryClose(resp.Body)

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("%w: read body: %w", ErrRequestFailed, err)
	}

	return n, nil
}

// Do sends req. The caller must close the response body when err is nil.
func (c *Client) Do(req *nethttp.Request) (*nethttp.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, fmt.Errorf("send request: %w", ctxErr)
		}

		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		tryClose(resp.Body)

		return nil, &StatusError{
			Method:     req.Method,
			URL:        req.URL.Redacted(),
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	return resp, nil
}

func tryClose(c io.Closer) {
	err := c.Close()
	if err != nil {
		slog.Warn("failed to close",
			slog.Any("closer", c),
			slog.Any("err", err),
		)
	}
}
