// Package remote holds detectors that call out over the network: third-party threat
// intelligence APIs and a fetch of the scanned page itself.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const maxBodyBytes = 1024 * 1024

// errNotFound marks a 404 from a lookup endpoint.
var errNotFound = errors.New("resource not found")

// Options configure a remote detector. Zero values pick production defaults.
type Options struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func (o Options) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return NewRetryClient()
}

// NewRetryClient returns an http.Client that retries 429 and 5xx responses a couple of
// times with short backoff. The last response is handed back once retries run out, so
// callers still see the real status code.
func NewRetryClient() *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.HTTPClient.Timeout = 10 * time.Second
	return rc.StandardClient()
}

func (o Options) baseURL(fallback string) string {
	if o.BaseURL != "" {
		return o.BaseURL
	}
	return fallback
}

// call sends one request and returns the raw body. body is JSON-encoded when non-nil.
func call(ctx context.Context, client *http.Client, method, url string, header http.Header, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		return data, errNotFound
	}
	if resp.StatusCode >= 400 {
		return data, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
	return data, nil
}

func decode(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}
	return nil
}
