package spotify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"

	"github.com/justestif/song-roulette/internal/catalog"
)

// classifyError maps Spotify API failures onto the catalog error taxonomy.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rl *catalog.RateLimitError
	if errors.As(err, &rl) {
		return rl
	}

	var se spotify.Error
	if errors.As(err, &se) {
		switch {
		case se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden:
			return fmt.Errorf("%w: %s", catalog.ErrAuthFailure, se.Message)
		case se.Status == http.StatusTooManyRequests:
			return &catalog.RateLimitError{}
		case se.Status >= 500:
			return fmt.Errorf("%w: %s", catalog.ErrTransientFetch, se.Message)
		}
		return err
	}

	// Token refresh failures come back from the oauth2 transport.
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return fmt.Errorf("%w: %v", catalog.ErrAuthFailure, err)
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return fmt.Errorf("%w: %v", catalog.ErrTransientFetch, err)
	}

	return err
}

// rateLimitTransport turns 429 responses into *catalog.RateLimitError carrying
// the server's Retry-After hint.
type rateLimitTransport struct {
	base http.RoundTripper
}

func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return nil, &catalog.RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())}
}

// parseRetryAfter reads a Retry-After header given either in seconds or as an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
