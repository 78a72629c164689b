package adapters

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"

	"package-mirror/internal/shared"
)

const defaultHTTPTimeout = 60 * time.Second
const defaultHTTPRetries = 3
const defaultHTTPRetryDelay = 200 * time.Millisecond
const maxHTTPRetryDelay = 2 * time.Second
const breakerThreshold = 5

// HTTPConfig tunes the feed HTTP client. Zero values select defaults.
type HTTPConfig struct {
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	APIKey     string
	UserAgent  string
}

func normalizeHTTPConfig(cfg HTTPConfig) HTTPConfig {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	} else if cfg.Retries == 0 {
		cfg.Retries = defaultHTTPRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultHTTPRetryDelay
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = "package-mirror"
	}
	return cfg
}

// HTTPClient issues GET requests against package feeds with retries, a
// per-host circuit breaker and a caching DNS resolver.
type HTTPClient struct {
	cfg      HTTPConfig
	client   *http.Client
	resolver *dnscache.Resolver

	mu       sync.Mutex
	breakers map[string]*circuit.Breaker
}

func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	cfg = normalizeHTTPConfig(cfg)
	resolver := &dnscache.Resolver{}
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			if ip := net.ParseIP(host); ip != nil || host == "localhost" {
				return dialer.DialContext(ctx, network, addr)
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var lastErr error
			for _, ip := range ips {
				conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
				if err == nil {
					return conn, nil
				}
				lastErr = err
			}
			return nil, fmt.Errorf("dial %s: %w", host, lastErr)
		},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &HTTPClient{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout, Transport: transport},
		resolver: resolver,
		breakers: map[string]*circuit.Breaker{},
	}
}

// Close drops idle connections and cached DNS entries.
func (c *HTTPClient) Close() {
	c.client.CloseIdleConnections()
	c.resolver.Refresh(true)
}

func (c *HTTPClient) breaker(host string) *circuit.Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.breakers[host]; ok {
		return b
	}
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()
	b := circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(breakerThreshold),
	})
	c.breakers[host] = b
	return b
}

func (c *HTTPClient) retryPolicy() *backoff.ExponentialBackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryDelay
	policy.MaxInterval = maxHTTPRetryDelay
	policy.Multiplier = 2.0
	policy.RandomizationFactor = 0.5
	policy.MaxElapsedTime = 0
	policy.Reset()
	return policy
}

// Get fetches rawURL and hands a successful response to handle. A 404 is
// returned as CodeNotFound. Connection errors, 429 and 5xx responses are
// retried before handle is called; failures inside handle are not retried
// because the body may already have been partially consumed.
func (c *HTTPClient) Get(ctx context.Context, rawURL string, handle func(*http.Response) error) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid url %q", rawURL)).
			WithCause(err)
	}
	breaker := c.breaker(parsed.Host)
	policy := c.retryPolicy()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !breaker.Ready() {
			return errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg(fmt.Sprintf("upstream %s unavailable: circuit open", parsed.Host))
		}
		retry := false
		var outcome error
		callErr := breaker.Call(func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				outcome = errbuilder.New().
					WithCode(errbuilder.CodeInternal).
					WithMsg("failed to create request").
					WithCause(err)
				return nil
			}
			req.Header.Set("User-Agent", c.cfg.UserAgent)
			if key := strings.TrimSpace(c.cfg.APIKey); key != "" {
				req.Header.Set("X-NuGet-ApiKey", key)
			}
			resp, err := c.client.Do(req)
			if err != nil {
				if ctx.Err() != nil {
					outcome = ctx.Err()
					return nil
				}
				retry = true
				outcome = errbuilder.New().
					WithCode(errbuilder.CodeInternal).
					WithMsg("request failed").
					WithCause(err)
				return err
			}
			defer resp.Body.Close()
			switch {
			case resp.StatusCode == http.StatusNotFound:
				_, _ = io.Copy(io.Discard, resp.Body)
				outcome = errbuilder.New().
					WithCode(errbuilder.CodeNotFound).
					WithMsg(fmt.Sprintf("not found: %s", rawURL))
				return nil
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
				_, _ = io.Copy(io.Discard, resp.Body)
				retry = true
				statusErr := shared.HTTPStatusError(resp.StatusCode, rawURL)
				outcome = errbuilder.New().
					WithCode(errbuilder.CodeInternal).
					WithMsg("upstream request failed").
					WithCause(statusErr)
				return statusErr
			case resp.StatusCode >= http.StatusBadRequest:
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				outcome = errbuilder.New().
					WithCode(errbuilder.CodeInternal).
					WithMsg("upstream request rejected").
					WithCause(shared.HTTPStatusErrorWithBody(resp.StatusCode, rawURL, strings.TrimSpace(string(body))))
				return nil
			}
			outcome = handle(resp)
			return nil
		}, 0)
		if outcome == nil && callErr != nil {
			outcome = errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg(fmt.Sprintf("upstream %s unavailable", parsed.Host)).
				WithCause(callErr)
		}
		if outcome == nil {
			return nil
		}
		if !retry || attempt >= c.cfg.Retries {
			return outcome
		}
		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			return outcome
		}
		log.Ctx(ctx).Debug().
			Str("url", rawURL).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("retrying request")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
