// Package webstatus checks that a SOS site's web front end answers.
package webstatus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 5 * time.Second

// ErrInaccessible is returned when the site does not answer with 200 OK.
var ErrInaccessible = errors.New("site is inaccessible")

// Checker issues the status request.
type Checker struct {
	Client  *http.Client
	Timeout time.Duration
}

// Check fetches url and succeeds only on a 200 response.
func (c *Checker) Check(ctx context.Context, url string) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", url, ErrInaccessible, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", url, ErrInaccessible, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %w: status %d", url, ErrInaccessible, resp.StatusCode)
	}
	return nil
}
