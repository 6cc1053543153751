package remote

// Package remote sends requests to the batch lookup services and honors the
// server's explicit Retry-After signal by resending the identical request.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultMaxRetries bounds how many Retry-After resends one call may do.
const DefaultMaxRetries = 5

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote returned status %d: %s", e.StatusCode, e.Body)
}

// ErrRetriesExhausted is returned when the server keeps asking to retry.
var ErrRetriesExhausted = errors.New("retry-after limit reached")

// Doer performs HTTP requests; *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Requester sends requests built by a factory so each resend is identical.
type Requester struct {
	Client     Doer
	MaxRetries int
	UserAgent  string
	Logger     *log.Logger
	// Sleep waits out a Retry-After delay; nil uses a timer that stops
	// early when ctx is done.
	Sleep func(context.Context, time.Duration) error
}

// NewRequester returns a requester with a 2 minute client timeout.
func NewRequester(logger *log.Logger) *Requester {
	return &Requester{
		Client:     &http.Client{Timeout: 2 * time.Minute},
		MaxRetries: DefaultMaxRetries,
		UserAgent:  "peptaxa/1.0",
		Logger:     logger,
	}
}

// Do sends the request built by newReq and returns the response body. A
// response carrying a Retry-After header is waited out and the identical
// request sent again, at most MaxRetries times.
func (r *Requester) Do(ctx context.Context, newReq func(context.Context) (*http.Request, error)) ([]byte, error) {
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	for attempt := 0; ; attempt++ {
		req, err := newReq(ctx)
		if err != nil {
			return nil, err
		}
		if r.UserAgent != "" {
			req.Header.Set("User-Agent", r.UserAgent)
		}
		resp, err := r.Client.Do(req)
		if err != nil {
			return nil, err
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		if wait, ok := retryAfter(resp.Header); ok {
			if attempt >= r.MaxRetries {
				return nil, fmt.Errorf("%w: %d resends to %s", ErrRetriesExhausted, attempt, req.URL.Host)
			}
			if r.Logger != nil {
				r.Logger.Debug("server asked to retry", "host", req.URL.Host, "status", resp.StatusCode, "wait", wait)
			}
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}
		return body, nil
	}
}

// retryAfter reads a Retry-After header given in seconds. One extra second
// is added to stay clear of the server's window.
func retryAfter(h http.Header) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs+1) * time.Second, true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
