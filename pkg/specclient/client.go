// Package specclient provides a client for a specification service serving
// framework, data point type and base type definitions over HTTP.
package specclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/dataland/internal/resilience"
)

// Client fetches specifications. Unknown ids yield nil, nil.
type Client interface {
	Framework(ctx context.Context, id string) (*Framework, error)
	DataPointType(ctx context.Context, id string) (*DataPointType, error)
	BaseType(ctx context.Context, id string) (*BaseType, error)
}

// Framework is the framework document served by the service.
type Framework struct {
	ID                       string          `json:"id"`
	Name                     string          `json:"name"`
	Schema                   json.RawMessage `json:"schema"`
	ReferencedReportJSONPath string          `json:"referencedReportJsonPath"`
}

// DataPointType is the data point type document served by the service.
type DataPointType struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	BaseTypeID string   `json:"dataPointBaseTypeId"`
	SumOf      []string `json:"sumOf"`
}

// BaseType is the base type document served by the service.
type BaseType struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(perSec float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithCircuitBreaker routes every request through cb.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) {
		c.breaker = cb
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(20, 20),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("specclient", "get")
	}
	return c
}

func (c *httpClient) Framework(ctx context.Context, id string) (*Framework, error) {
	var f Framework
	ok, err := c.get(ctx, "frameworks", id, &f)
	if err != nil || !ok {
		return nil, err
	}
	return &f, nil
}

func (c *httpClient) DataPointType(ctx context.Context, id string) (*DataPointType, error) {
	var t DataPointType
	ok, err := c.get(ctx, "data-point-types", id, &t)
	if err != nil || !ok {
		return nil, err
	}
	return &t, nil
}

func (c *httpClient) BaseType(ctx context.Context, id string) (*BaseType, error) {
	var b BaseType
	ok, err := c.get(ctx, "base-types", id, &b)
	if err != nil || !ok {
		return nil, err
	}
	return &b, nil
}

// get decodes the document at collection/id into out. It reports false
// when the service answers 404.
func (c *httpClient) get(ctx context.Context, collection, id string, out any) (bool, error) {
	reqURL := fmt.Sprintf("%s/%s/%s", c.baseURL, collection, url.PathEscape(id))

	body, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		if c.breaker == nil {
			return c.do(ctx, reqURL)
		}
		return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
			return c.do(ctx, reqURL)
		})
	})
	if err != nil {
		return false, eris.Wrapf(err, "specclient: get %s %s", collection, id)
	}
	if body == nil {
		return false, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, eris.Wrapf(err, "specclient: unmarshal %s %s", collection, id)
	}
	return true, nil
}

// do performs one GET. A 404 yields a nil body and no error.
func (c *httpClient) do(ctx context.Context, reqURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "specclient: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "specclient: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "specclient: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "specclient: read response body")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if body == nil {
			body = []byte{}
		}
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(
			eris.Errorf("specclient: status %d: %s", resp.StatusCode, string(body)), resp.StatusCode)
	default:
		return nil, eris.Errorf("specclient: unexpected status %d: %s", resp.StatusCode, string(body))
	}
}
