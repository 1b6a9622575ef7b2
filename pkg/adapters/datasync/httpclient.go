package datasync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datasync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-datasync/pkg/retry"
)

// maxBodyBytes bounds how much of a response is read from a source.
const maxBodyBytes = 64 << 20

// StatusError is a non-2xx response from an external source.
type StatusError struct {
	StatusCode int
	Host       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.Host, e.StatusCode)
}

// IsRetryable reports whether the status is worth retrying (429 and 5xx).
func (e *StatusError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// HTTPClient performs GET requests against external sources with a per
// request timeout and retries of transient failures. Every failure that is
// not a cancellation of the caller's context comes back as a SyncError.
type HTTPClient struct {
	client *http.Client
	retry  *retry.Config
	logger *zap.Logger
}

// NewHTTPClient creates a client. A nil retry config uses retry.DefaultConfig.
func NewHTTPClient(timeout time.Duration, retryCfg *retry.Config, logger *zap.Logger) *HTTPClient {
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	return &HTTPClient{
		client: &http.Client{Timeout: timeout},
		retry:  retryCfg,
		logger: logger.Named("http"),
	}
}

// Get fetches rawURL and returns the response body.
func (c *HTTPClient) Get(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, apperrors.NewSyncError("The URL %q is not valid.", rawURL)
	}

	var body []byte
	err = retry.DoIfRetryable(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := c.client.Do(req)
		if err != nil {
			c.logger.Debug("Request failed", zap.String("host", u.Host), zap.Error(err))
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
			return &StatusError{StatusCode: resp.StatusCode, Host: u.Host}
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		return err
	})
	if err == nil {
		return body, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, toSyncError(u.Host, err)
}

// GetJSON fetches rawURL and decodes the JSON body into dst.
func (c *HTTPClient) GetJSON(ctx context.Context, rawURL string, header http.Header, dst any) error {
	body, err := c.Get(ctx, rawURL, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperrors.WrapSyncError(err, "The source returned a response that is not valid JSON.")
	}
	return nil
}

func toSyncError(host string, err error) *apperrors.SyncError {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return apperrors.WrapSyncError(err, fmt.Sprintf("Authentication with %s failed (HTTP %d).", host, statusErr.StatusCode))
		case http.StatusNotFound:
			return apperrors.WrapSyncError(err, fmt.Sprintf("%s returned HTTP 404, the resource was not found.", host))
		}
		return apperrors.WrapSyncError(err, fmt.Sprintf("%s returned HTTP %d.", host, statusErr.StatusCode))
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.WrapSyncError(err, fmt.Sprintf("The request to %s timed out.", host))
	}
	// url.Error repeats the full URL, which may carry a token in its query.
	cause := err
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		cause = urlErr.Err
	}
	return apperrors.WrapSyncError(err, fmt.Sprintf("Could not fetch data from %s: %v", host, cause))
}
