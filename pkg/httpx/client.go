package httpx

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// attemptJSON performs one request. retry reports whether the failure or
// status is transient enough to try again.
func attemptJSON(ctx context.Context, client *http.Client, method, url string, body []byte, headers map[string]string) (status int, respBody []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, false, err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, true, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, true, err
	}
	return resp.StatusCode, respBody, resp.StatusCode >= 500, nil
}

// RequestJSON issues a JSON request and retries transport errors and 5xx
// responses up to retries extra attempts, sleeping retryDelay between them.
// 4xx responses are returned as-is; callers interpret the status themselves.
func RequestJSON(ctx context.Context, client *http.Client, method, url string, body []byte, headers map[string]string, retries int, retryDelay time.Duration) (int, []byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if retries < 0 {
		retries = 0
	}
	for attempt := 0; ; attempt++ {
		status, respBody, retry, err := attemptJSON(ctx, client, method, url, body, headers)
		if err != nil {
			if !retry || attempt >= retries {
				return 0, nil, err
			}
		} else if !retry || attempt >= retries {
			return status, respBody, nil
		}
		time.Sleep(retryDelay)
	}
}
