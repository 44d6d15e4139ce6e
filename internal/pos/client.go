// Package pos предоставляет клиент для чтения записей об использовании наград из кассовой системы.
package pos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/loyalty-engine/internal/model"
)

// RateLimitError возвращается, если кассовая система ответила 429.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("pos rate limited, retry after %s", e.RetryAfter)
}

// Unwrap относит ограничение частоты к недоступности внешнего источника.
func (e *RateLimitError) Unwrap() error {
	return model.ErrUpstreamUnavailable
}

// ErrNotConfigured возвращается клиентом без адреса.
var ErrNotConfigured = errors.New("pos client not configured")

// Client инкапсулирует HTTP-взаимодействие с кассовой системой.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Redemption описывает запись кассовой системы об использовании награды.
type Redemption struct {
	ID         string     `json:"id"`
	RewardID   string     `json:"rewardId"`
	RedeemedAt *time.Time `json:"redeemedAt,omitempty"`
}

// NewClient создаёт HTTP-клиент кассовой системы по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// ListRedemptions запрашивает записи об использовании наград клиентом.
// Ответы 204 и 404 означают отсутствие записей.
func (c *Client) ListRedemptions(ctx context.Context, customerID string) ([]model.Redemption, error) {
	if c == nil || c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	endpoint := fmt.Sprintf("%s/api/customers/%s/redemptions", base, url.PathEscape(customerID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: do request: %v", model.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode == http.StatusNoContent, resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: pos status %d", model.ErrUpstreamUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var list []Redemption
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	res := make([]model.Redemption, 0, len(list))
	for _, r := range list {
		res = append(res, model.Redemption{ID: r.ID, RewardID: r.RewardID, RedeemedAt: r.RedeemedAt})
	}
	return res, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
