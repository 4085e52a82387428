package boltz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Api struct {
	URL    string
	WSURL  string
	Client http.Client
}

// GetReversePairs returns the reverse swap pairs offered by the service,
// indexed by source and destination currency.
func (boltz *Api) GetReversePairs(ctx context.Context) (ReversePairs, error) {
	resp, err := sendGetRequest[ReversePairs](ctx, boltz, "/swap/reverse")
	if err != nil {
		return nil, err
	}
	return *resp, nil
}

func (boltz *Api) CreateReverseSwap(
	ctx context.Context, request CreateReverseSwapRequest,
) (*CreateReverseSwapResponse, error) {
	resp, err := sendPostRequest[CreateReverseSwapResponse](ctx, boltz, "/swap/reverse", request)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s", resp.Error)
	}

	return resp, nil
}

// BroadcastTransaction submits a raw transaction to the service's chain
// backend for the given currency and returns the resulting txid.
func (boltz *Api) BroadcastTransaction(
	ctx context.Context, currency Currency, txHex string,
) (string, error) {
	endpoint := fmt.Sprintf("/chain/%s/transaction", url.PathEscape(string(currency)))
	resp, err := sendPostRequest[BroadcastTransactionResponse](
		ctx, boltz, endpoint, BroadcastTransactionRequest{Hex: txHex},
	)
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("%s", resp.Error)
	}

	return resp.Id, nil
}

// WebsocketURL returns the push channel endpoint. When WSURL is not set it
// is derived from URL by swapping the scheme and appending /v2/ws.
func (boltz *Api) WebsocketURL() (string, error) {
	if boltz.WSURL != "" {
		return boltz.WSURL, nil
	}

	u, err := url.Parse(boltz.URL)
	if err != nil {
		return "", fmt.Errorf("invalid boltz url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported boltz url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v2/ws"

	return u.String(), nil
}

const defaultHTTPTimeout = 15 * time.Second

func withTimeoutCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, defaultHTTPTimeout)
}

func sendGetRequest[T any](parent context.Context, boltz *Api, endpoint string) (*T, error) {
	ctx, cancel := withTimeoutCtx(parent)
	defer cancel()

	url := strings.TrimRight(boltz.URL, "/") + "/v2" + endpoint
	return callApi[T](ctx, &boltz.Client, http.MethodGet, url, nil)
}

func sendPostRequest[T any](
	parent context.Context, boltz *Api, endpoint string, requestBody any,
) (*T, error) {
	ctx, cancel := withTimeoutCtx(parent)
	defer cancel()

	url := strings.TrimRight(boltz.URL, "/") + "/v2" + endpoint
	return callApi[T](ctx, &boltz.Client, http.MethodPost, url, requestBody)
}

func callApi[T any](ctx context.Context, c *http.Client, method, url string, reqBody any) (*T, error) {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("new %s %s: %w", method, url, err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 2000 {
			msg = msg[:2000] + "...(truncated)"
		}
		return nil, &HTTPError{
			Method:     method,
			URL:        url,
			StatusCode: res.StatusCode,
			Body:       msg,
		}
	}

	// 204 and friends
	if len(bytes.TrimSpace(raw)) == 0 {
		var zero T
		return &zero, nil
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		snip := strings.TrimSpace(string(raw))
		if len(snip) > 300 {
			snip = snip[:300] + "...(truncated)"
		}
		return nil, fmt.Errorf("unmarshal JSON: %w (body: %q)", err, snip)
	}

	return &out, nil
}

type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}
