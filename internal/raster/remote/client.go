// Package remote is the HTTP client of the hosted raster engine.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/mgci/internal/metrics"
	"github.com/sells-group/mgci/internal/model"
	"github.com/sells-group/mgci/internal/raster"
	"github.com/sells-group/mgci/internal/resilience"
)

// Config holds connection settings for the engine.
type Config struct {
	BaseURL       string                   `yaml:"base_url" mapstructure:"base_url"`
	Token         string                   `yaml:"token" mapstructure:"token"`
	Timeout       time.Duration            `yaml:"timeout" mapstructure:"timeout"`
	RatePerSecond float64                  `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Burst         int                      `yaml:"burst" mapstructure:"burst"`
	Retry         resilience.RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit       resilience.CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// Client implements raster.Engine over HTTP.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	limiter *resilience.AdaptiveLimiter
	breaker *resilience.Breaker
	retry   resilience.RetryConfig
}

var _ raster.Engine = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a Client for cfg.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, eris.New("remote: base_url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 2
	}

	circuit := cfg.Circuit
	circuit.ShouldTrip = resilience.IsTransient
	circuit.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("remote: circuit state change",
			zap.String("from", from.String()), zap.String("to", to.String()))
	}

	c := &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		limiter: resilience.NewAdaptiveLimiter(cfg.RatePerSecond, cfg.Burst),
		breaker: resilience.NewBreaker(circuit),
		retry:   cfg.Retry,
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("remote reduce")
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type reduceBody struct {
	Expression *raster.Expr      `json:"expression"`
	Geometry   *geojson.Geometry `json:"geometry"`
	Reducer    raster.Reducer    `json:"reducer"`
	Scale      float64           `json:"scale"`
	MaxPixels  int64             `json:"max_pixels"`
}

type reduceResponse struct {
	Value *float64 `json:"value"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ReduceRegion posts the request to /v1/reduce. Throttling, 5xx responses
// and network failures are retried; once retries are exhausted or the
// circuit is open the error wraps model.ErrRemoteUnavailable.
func (c *Client) ReduceRegion(ctx context.Context, req raster.ReduceRequest) (raster.Reduction, error) {
	if err := req.Validate(); err != nil {
		return raster.Reduction{}, err
	}
	geometry, err := geojson.Encode(req.Region.Geometry)
	if err != nil {
		return raster.Reduction{}, eris.Wrapf(err, "remote: encode geometry of %s", req.Region.ID)
	}
	payload, err := json.Marshal(reduceBody{
		Expression: req.Image.Expr(),
		Geometry:   geometry,
		Reducer:    req.Reducer,
		Scale:      req.ResolutionM,
		MaxPixels:  req.Ceiling(),
	})
	if err != nil {
		return raster.Reduction{}, eris.Wrap(err, "remote: marshal request")
	}

	red, err := resilience.Do(ctx, c.retry, func(ctx context.Context) (raster.Reduction, error) {
		return resilience.Call(ctx, c.breaker, func(ctx context.Context) (raster.Reduction, error) {
			return c.post(ctx, payload)
		})
	})
	if err == nil {
		return red, nil
	}
	switch {
	case ctx.Err() != nil:
		return raster.Reduction{}, ctx.Err()
	case errors.Is(err, resilience.ErrCircuitOpen):
		metrics.CircuitOpenTotal.Inc()
		return raster.Reduction{}, eris.Wrap(model.ErrRemoteUnavailable, "remote: circuit open")
	case resilience.IsTransient(err):
		return raster.Reduction{}, eris.Wrapf(model.ErrRemoteUnavailable, "remote: %v", err)
	}
	return raster.Reduction{}, err
}

func (c *Client) post(ctx context.Context, payload []byte) (raster.Reduction, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return raster.Reduction{}, eris.Wrap(err, "remote: rate limiter wait")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/reduce", bytes.NewReader(payload))
	if err != nil {
		return raster.Reduction{}, eris.Wrap(err, "remote: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return raster.Reduction{}, ctx.Err()
		}
		return raster.Reduction{}, resilience.NewTransientError(eris.Wrap(err, "remote: send request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return raster.Reduction{}, resilience.NewTransientError(eris.Wrap(err, "remote: read response"), resp.StatusCode)
	}

	if resp.StatusCode == http.StatusOK {
		c.limiter.OnSuccess()
		var out reduceResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return raster.Reduction{}, eris.Wrap(err, "remote: decode response")
		}
		if out.Value == nil {
			return raster.Reduction{}, nil
		}
		return raster.Reduction{Value: *out.Value, Valid: true}, nil
	}
	return raster.Reduction{}, c.statusError(resp, body)
}

func (c *Client) statusError(resp *http.Response, body []byte) error {
	var e errorResponse
	_ = json.Unmarshal(body, &e)
	msg := e.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	detail := fmt.Sprintf("remote: http %d: %s", resp.StatusCode, msg)

	switch {
	case resp.StatusCode == http.StatusRequestEntityTooLarge || e.Error.Code == "too_many_pixels":
		return eris.Wrap(model.ErrAggregationTooLarge, detail)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return eris.Wrap(model.ErrRemoteUnavailable, detail)
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		if resp.StatusCode == http.StatusTooManyRequests {
			c.limiter.OnThrottle()
		}
		return &resilience.TransientError{
			Err:        eris.New(detail),
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return eris.New(detail)
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
