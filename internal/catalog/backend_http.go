package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// TokenProvider resolves the current backend credential. Hot-reloaded config
// plugs in here, so a rotated token takes effect without restarting.
type TokenProvider func(ctx context.Context) (string, error)

type BackendHTTPOptions struct {
	BaseURL       string
	TokenProvider TokenProvider
	HTTPClient    *http.Client
	UserAgent     string
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

// backendHTTPCore is the shared request/retry/error-mapping engine both
// backend clients are built on. 429 and 5xx responses are retried with
// exponential backoff honoring Retry-After; every terminal failure maps onto
// the core error taxonomy.
type backendHTTPCore struct {
	baseURL       string
	tokenProvider TokenProvider
	httpClient    *http.Client
	userAgent     string
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
	setAuth       func(req *http.Request, token string)
}

func newBackendHTTPCore(opts BackendHTTPOptions, defaultBaseURL string, setAuth func(*http.Request, string)) *backendHTTPCore {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &backendHTTPCore{
		baseURL:       baseURL,
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		userAgent:     strings.TrimSpace(opts.UserAgent),
		maxRetries:    maxRetries,
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
		setAuth:       setAuth,
	}
}

func (c *backendHTTPCore) do(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: backend http client is nil", ErrUnknown)
	}
	if c.tokenProvider == nil {
		return nil, fmt.Errorf("%w: token provider is required", ErrUnknown)
	}
	token, err := c.tokenProvider(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving token: %v", ErrUnknown, err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: backend token is empty", ErrUnknown)
	}

	var bodyBytes []byte
	if payload != nil {
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding request: %v", ErrUnknown, err)
		}
	}
	target := c.baseURL + path

	for attempt := 0; ; attempt++ {
		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			return nil, fmt.Errorf("%w: building request: %v", ErrUnknown, err)
		}
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}
		c.setAuth(req, token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			classified := classifyTransportError(ctx, err)
			if errors.Is(classified, ErrNetwork) && attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, fmt.Errorf("%w: %v", ErrCancelled, waitErr)
				}
				continue
			}
			return nil, classified
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, classifyTransportError(ctx, readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return json.RawMessage(respBody), nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, fmt.Errorf("%w: %v", ErrCancelled, waitErr)
			}
			continue
		}

		message := strings.TrimSpace(string(respBody))
		var parsed map[string]any
		if json.Unmarshal(respBody, &parsed) == nil {
			if errs, ok := parsed["errors"].(string); ok && strings.TrimSpace(errs) != "" {
				message = errs
			} else if msg, ok := parsed["message"].(string); ok && strings.TrimSpace(msg) != "" {
				message = msg
			}
		}
		return nil, &ServerError{Code: resp.StatusCode, Message: message}
	}
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

func (c *backendHTTPCore) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ShopifyHTTPClient talks to a Shopify-style admin API. Auth rides on the
// X-Shopify-Access-Token header.
type ShopifyHTTPClient struct {
	core *backendHTTPCore
}

func NewShopifyHTTPClient(opts BackendHTTPOptions) *ShopifyHTTPClient {
	core := newBackendHTTPCore(opts, "https://shop.example.myshopify.com", func(req *http.Request, token string) {
		req.Header.Set("X-Shopify-Access-Token", token)
	})
	return &ShopifyHTTPClient{core: core}
}

func (c *ShopifyHTTPClient) FetchCatalog(ctx context.Context) (json.RawMessage, error) {
	return c.core.do(ctx, http.MethodGet, "/admin/api/2024-01/products.json", nil)
}

func (c *ShopifyHTTPClient) FetchInventoryLevels(ctx context.Context, inventoryItemID string) (json.RawMessage, error) {
	return c.core.do(ctx, http.MethodGet, "/admin/api/2024-01/inventory_levels.json?inventory_item_ids="+url.QueryEscape(inventoryItemID), nil)
}

func (c *ShopifyHTTPClient) AdjustInventory(ctx context.Context, inventoryItemID, locationID string, quantity int) (json.RawMessage, error) {
	itemID, err := strconv.ParseInt(inventoryItemID, 10, 64)
	if err != nil {
		return nil, &DataConsistencyError{Detail: fmt.Sprintf("inventory item id %q is not numeric", inventoryItemID)}
	}
	location, err := strconv.ParseInt(locationID, 10, 64)
	if err != nil {
		return nil, &DataConsistencyError{Detail: fmt.Sprintf("location id %q is not numeric", locationID)}
	}
	return c.core.do(ctx, http.MethodPost, "/admin/api/2024-01/inventory_levels/set.json", map[string]any{
		"inventory_item_id": itemID,
		"location_id":       location,
		"available":         quantity,
	})
}

// SquareHTTPClient talks to a Square-style catalog API with bearer auth.
type SquareHTTPClient struct {
	core *backendHTTPCore
}

func NewSquareHTTPClient(opts BackendHTTPOptions) *SquareHTTPClient {
	core := newBackendHTTPCore(opts, "https://connect.example.squareup.com", func(req *http.Request, token string) {
		req.Header.Set("Authorization", "Bearer "+token)
	})
	return &SquareHTTPClient{core: core}
}

func (c *SquareHTTPClient) FetchCatalog(ctx context.Context) (json.RawMessage, error) {
	return c.core.do(ctx, http.MethodGet, "/v2/catalog/items", nil)
}

func (c *SquareHTTPClient) FetchInventoryCount(ctx context.Context, sku string) (json.RawMessage, error) {
	return c.core.do(ctx, http.MethodGet, "/v2/inventory/"+url.PathEscape(sku), nil)
}

func (c *SquareHTTPClient) WriteInventoryCount(ctx context.Context, sku string, quantity int) (json.RawMessage, error) {
	return c.core.do(ctx, http.MethodPost, "/v2/inventory/"+url.PathEscape(sku), map[string]any{
		"sku":      sku,
		"quantity": quantity,
	})
}
