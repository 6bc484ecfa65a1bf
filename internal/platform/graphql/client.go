// Package graphql is the small GraphQL-over-HTTP client shared by the yield
// source adapters.
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

// Client posts queries to one GraphQL endpoint.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Client for url. apiKey is sent as a bearer token when
// set.
func NewClient(url, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:        url,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Query runs query and decodes its "data" field into out.
func (c *Client) Query(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(request{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP 429", domain.ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var gql response
	if err := json.Unmarshal(respBody, &gql); err != nil {
		return fmt.Errorf("decode graphql response: %w", err)
	}
	if len(gql.Errors) > 0 {
		return fmt.Errorf("graphql error: %s", gql.Errors[0].Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(gql.Data, out); err != nil {
		return fmt.Errorf("decode graphql data: %w", err)
	}
	return nil
}

// Number decodes a GraphQL numeric scalar that may arrive as a JSON number
// or a quoted string (BigInt, BigDecimal).
type Number struct {
	decimal.Decimal
	Valid bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*n = Number{}
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("graphql: number %q: %w", s, err)
	}
	*n = Number{Decimal: d, Valid: true}
	return nil
}

// Float returns the value as float64, zero when absent.
func (n Number) Float() float64 {
	if !n.Valid {
		return 0
	}
	return n.InexactFloat64()
}

// Raw returns the integer part as a RawAmount, "0" when absent or negative.
func (n Number) Raw() domain.RawAmount {
	if !n.Valid || n.Sign() < 0 {
		return "0"
	}
	return domain.RawFromBig(n.Truncate(0).BigInt())
}
