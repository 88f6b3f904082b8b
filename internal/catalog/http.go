package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"reviewpulse/pkg/logging/logging"
)

const maxBodySize = 16 * 1024 * 1024

// fetcher is the HTTP plumbing shared by the sources.
type fetcher struct {
	baseURL    string
	httpClient *http.Client
	name       string
}

func newFetcher(name, baseURL string, httpClient *http.Client, timeout time.Duration) fetcher {
	if httpClient == nil {
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		}
	}
	return fetcher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		name:       name,
	}
}

// get returns the body of a 2xx answer. 404 maps to ErrNotFound, anything
// else to ErrUpstream.
func (f fetcher) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := f.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", f.name, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrUpstream, f.name, err)
	}
	defer resp.Body.Close()

	logging.L(ctx).Debug("store request",
		zap.String("source", f.name),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %w", ErrUpstream, f.name, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, f.name)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: %s: status %d", ErrUpstream, f.name, resp.StatusCode)
	}
	return body, nil
}

func upstreamDecodeError(name string, err error) error {
	if errors.Is(err, ErrUpstream) {
		return err
	}
	return fmt.Errorf("%w: %s: decode: %w", ErrUpstream, name, err)
}
