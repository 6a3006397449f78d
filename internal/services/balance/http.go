package balance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPLookup asks a balance service over HTTP. The service answers
// GET <url>/<pubkey> (or the URL with %s replaced by the pubkey) with
// {"balance": <sats>}.
type HTTPLookup struct {
	baseURL string
	client  *http.Client
}

type balanceResponse struct {
	Balance *int64 `json:"balance"`
}

func NewHTTPLookup(baseURL string, timeout time.Duration) *HTTPLookup {
	return &HTTPLookup{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (l *HTTPLookup) endpoint(pubkey string) string {
	escaped := url.PathEscape(pubkey)
	if strings.Contains(l.baseURL, "%s") {
		return fmt.Sprintf(l.baseURL, escaped)
	}
	return strings.TrimRight(l.baseURL, "/") + "/" + escaped
}

func (l *HTTPLookup) Balance(ctx context.Context, pubkey string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.endpoint(pubkey), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("balance service returned %s", resp.Status)
	}

	var body balanceResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode balance response: %w", err)
	}
	if body.Balance == nil {
		return 0, fmt.Errorf("balance missing from response")
	}
	return *body.Balance, nil
}
