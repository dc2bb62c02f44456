// Package fetch talks to the monitoring API that feeds the dashboard:
// typed accessors over a resty client with retries, rate limiting, and a
// circuit breaker so a struggling source cannot stall the update engine.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/wpperf/dashkeeper/internal/infrastructure/config"
	"github.com/wpperf/dashkeeper/internal/infrastructure/monitoring"
	"github.com/wpperf/dashkeeper/internal/infrastructure/resilience"
)

// Client wraps resty with rate limiting and circuit breaker protection.
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	metrics *monitoring.Metrics
}

// New creates a client for the configured monitoring API.
func New(cfg config.SourceConfig, metrics *monitoring.Metrics) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil

	restyClient := resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "dashkeeper/1.0").
		SetHeader("Accept", "application/json")

	rps := cfg.RequestsPerSc
	limiter := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), rps)
	}

	return &Client{
		resty:   restyClient,
		limiter: limiter,
		breaker: resilience.New("monitoring-api", resilience.Settings{}),
		metrics: metrics,
	}
}

// BreakerState returns the circuit breaker state.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// get fetches an endpoint and decodes its JSON body into out.
func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	return c.do(ctx, endpoint, func(req *resty.Request) (*resty.Response, error) {
		return req.Get(endpoint)
	}, out)
}

func (c *Client) do(ctx context.Context, endpoint string, send func(*resty.Request) (*resty.Response, error), out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	start := time.Now()
	err := c.breaker.Execute(func() error {
		resp, err := send(c.resty.R().SetContext(ctx))
		if err != nil {
			return err
		}
		if resp.StatusCode() != http.StatusOK {
			return fmt.Errorf("source returned %s for %s", resp.Status(), endpoint)
		}
		if out == nil {
			return nil
		}
		if err := sonic.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("decode %s response: %w", endpoint, err)
		}
		return nil
	})

	c.metrics.FetchDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.FetchErrors.WithLabelValues(endpoint).Inc()
		return fmt.Errorf("fetch %s: %w", endpoint, err)
	}
	return nil
}

// Metrics fetches the performance metric time series, oldest first.
func (c *Client) Metrics(ctx context.Context) ([]MetricSample, error) {
	var out []MetricSample
	if err := c.get(ctx, "/api/metrics", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SlowQueries fetches the captured slow queries.
func (c *Client) SlowQueries(ctx context.Context) ([]SlowQuery, error) {
	var out []SlowQuery
	if err := c.get(ctx, "/api/slow-queries", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AjaxCalls fetches the aggregated admin-ajax traffic.
func (c *Client) AjaxCalls(ctx context.Context) ([]AjaxAction, error) {
	var out []AjaxAction
	if err := c.get(ctx, "/api/admin-ajax", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Plugins fetches the per-plugin performance impact.
func (c *Client) Plugins(ctx context.Context) ([]PluginImpact, error) {
	var out []PluginImpact
	if err := c.get(ctx, "/api/plugins", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SystemHealth fetches the system health summary.
func (c *Client) SystemHealth(ctx context.Context) (*SystemHealth, error) {
	var out SystemHealth
	if err := c.get(ctx, "/api/system-health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DemoStatus fetches whether the source is in demo mode.
func (c *Client) DemoStatus(ctx context.Context) (*DemoStatus, error) {
	var out DemoStatus
	if err := c.get(ctx, "/api/demo-status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TriggerDemoRefresh asks the source to regenerate its demo dataset.
func (c *Client) TriggerDemoRefresh(ctx context.Context) error {
	return c.do(ctx, "/api/demo-refresh", func(req *resty.Request) (*resty.Response, error) {
		return req.Post("/api/demo-refresh")
	}, nil)
}
