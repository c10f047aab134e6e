// Package fetch is the shared outbound transport. It owns the client's
// identity, per-host politeness (spacing and daily quotas), retries with
// exponential backoff and a per-host circuit breaker.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/joestump/congress-roster/internal/redact"
)

// Kind selects the Accept header sent with a request.
type Kind string

const (
	HTML Kind = "html"
	JSON Kind = "json"
)

const maxBodyBytes = 32 << 20

// Response is a successful fetch.
type Response struct {
	Body         []byte
	FinalURL     string
	StatusCode   int
	ResponseTime time.Duration
	Headers      http.Header
}

// Config holds the fetcher's politeness and retry settings.
type Config struct {
	UserAgent        string
	AcceptLanguage   string
	DefaultDelay     time.Duration            // minimum spacing between requests to one host
	HostDelays       map[string]time.Duration // per-host overrides of DefaultDelay
	Timeout          time.Duration            // per request attempt
	MaxRetries       int
	BackoffBase      time.Duration // retry n (from 1) waits BackoffBase * 2^(n-1)
	DailyQuotas      map[string]int
	BreakerThreshold int
	BreakerCooldown  time.Duration
	Location         *time.Location // where "midnight" is for quota resets
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		UserAgent:        "rosterd/1.0 (+https://github.com/joestump/congress-roster)",
		AcceptLanguage:   "en-US,en;q=0.9",
		DefaultDelay:     2 * time.Second,
		Timeout:          30 * time.Second,
		MaxRetries:       3,
		BackoffBase:      2 * time.Second,
		DailyQuotas:      map[string]int{"api.congress.gov": 5000},
		BreakerThreshold: 5,
		BreakerCooldown:  10 * time.Minute,
		Location:         time.Local,
	}
}

// Option configures optional Fetcher collaborators.
type Option func(*Fetcher)

// WithHTTPClient replaces the default HTTP client. Its CheckRedirect is
// overwritten so cross-host redirects are never followed.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithClock injects the time source used for quotas and the breaker.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.log = l }
}

// WithRegisterer registers metrics on reg instead of a private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(f *Fetcher) { f.reg = reg }
}

// WithRedactor scrubs secrets out of logged URLs and errors.
func WithRedactor(r *redact.Filter) Option {
	return func(f *Fetcher) { f.redactor = r }
}

// Fetcher performs polite HTTP GETs. All per-host state lives on the
// instance; two Fetchers never share limits, quotas or breakers.
type Fetcher struct {
	cfg      Config
	client   *http.Client
	now      func() time.Time
	log      *slog.Logger
	reg      prometheus.Registerer
	redactor *redact.Filter
	metrics  *Metrics

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	quotas   map[string]*quota
	breakers map[string]*breaker
}

// New creates a Fetcher.
func New(cfg Config, opts ...Option) *Fetcher {
	f := &Fetcher{
		cfg:      cfg,
		now:      time.Now,
		log:      slog.Default(),
		limiters: make(map[string]*rate.Limiter),
		quotas:   make(map[string]*quota),
		breakers: make(map[string]*breaker),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = &http.Client{}
	}
	f.client.CheckRedirect = sameHostRedirects
	if f.reg == nil {
		f.reg = prometheus.NewRegistry()
	}
	f.metrics = NewMetrics(f.reg)
	if f.cfg.BreakerThreshold <= 0 {
		f.cfg.BreakerThreshold = 5
	}
	for host, limit := range cfg.DailyQuotas {
		f.quotas[strings.ToLower(host)] = newQuota(limit, cfg.Location)
		f.metrics.QuotaRemaining.WithLabelValues(host).Set(float64(limit))
	}
	return f
}

// Metrics exposes the collectors, mainly for tests.
func (f *Fetcher) Metrics() *Metrics { return f.metrics }

func sameHostRedirects(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return errors.New("stopped after 10 redirects")
	}
	if !strings.EqualFold(req.URL.Host, via[0].URL.Host) {
		return http.ErrUseLastResponse
	}
	return nil
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		delay := f.cfg.DefaultDelay
		if d, ok := f.cfg.HostDelays[host]; ok {
			delay = d
		}
		limit := rate.Inf
		if delay > 0 {
			limit = rate.Every(delay)
		}
		l = rate.NewLimiter(limit, 1)
		f.limiters[host] = l
	}
	return l
}

func (f *Fetcher) breaker(host string) *breaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.breakers[host]
	if !ok {
		b = newBreaker(f.cfg.BreakerThreshold, f.cfg.BreakerCooldown)
		f.breakers[host] = b
	}
	return b
}

func (f *Fetcher) quota(host string) *quota {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quotas[host]
}

// CircuitState reports the breaker state for host.
func (f *Fetcher) CircuitState(host string) BreakerState {
	return f.breaker(strings.ToLower(host)).current()
}

// ResetCircuit is the operator-initiated breaker reset.
func (f *Fetcher) ResetCircuit(host string) {
	host = strings.ToLower(host)
	f.breaker(host).reset()
	f.metrics.CircuitState.WithLabelValues(host).Set(float64(StateClosed))
}

// QuotaRemaining returns today's remaining budget for host, if it has one.
func (f *Fetcher) QuotaRemaining(host string) (int, bool) {
	q := f.quota(strings.ToLower(host))
	if q == nil {
		return 0, false
	}
	return q.remaining(f.now()), true
}

// Fetch GETs rawURL, retrying transient failures. The returned error is
// always an *Error.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, kind Kind) (*Response, error) {
	return f.FetchWithHeader(ctx, rawURL, kind, nil)
}

// FetchWithHeader is Fetch with extra request headers, such as an API key.
func (f *Fetcher) FetchWithHeader(ctx context.Context, rawURL string, kind Kind, header http.Header) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, &Error{Kind: KindTransport, URL: f.redact(rawURL), Err: fmt.Errorf("invalid url: %v", err)}
	}
	host := strings.ToLower(u.Host)
	safeURL := f.redact(rawURL)

	b := f.breaker(host)
	allowed, state := b.allow(f.now())
	f.metrics.CircuitState.WithLabelValues(host).Set(float64(state))
	if !allowed {
		f.metrics.Attempts.WithLabelValues(host, string(KindCircuitOpen)).Inc()
		return nil, &Error{Kind: KindCircuitOpen, Host: host, URL: safeURL}
	}

	backoff := f.backoff()

	var resp *Response
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		r, err := f.attempt(ctx, host, rawURL, safeURL, kind, header, attempt)
		if err != nil {
			if err.Retryable() {
				return retry.RetryableError(err)
			}
			return err
		}
		resp = r
		return nil
	})

	if err == nil {
		state = b.record(true, f.now())
		f.metrics.CircuitState.WithLabelValues(host).Set(float64(state))
		return resp, nil
	}

	var fe *Error
	if !errors.As(err, &fe) {
		// Context ended while waiting between attempts.
		fe = &Error{Kind: ctxKind(err), Host: host, URL: safeURL, Err: err}
	}

	switch {
	case fe.Kind == KindRateLimited:
		b.release()
	case ctx.Err() != nil:
		// Our own cancellation says nothing about the host.
		b.release()
	default:
		state = b.record(!fe.countsAgainstHost(), f.now())
		f.metrics.CircuitState.WithLabelValues(host).Set(float64(state))
		if state == StateOpen {
			f.log.Warn("circuit open", "host", host, "url", safeURL, "cooldown", f.cfg.BreakerCooldown)
		}
	}
	return nil, fe
}

// backoff waits 2^n seconds before retry n with the default base.
func (f *Fetcher) backoff() retry.Backoff {
	base := f.cfg.BackoffBase
	if base <= 0 {
		base = 2 * time.Second
	}
	return retry.WithMaxRetries(uint64(max(f.cfg.MaxRetries, 0)), retry.NewExponential(base))
}

// attempt performs one request: spacing, quota, then the round trip.
func (f *Fetcher) attempt(ctx context.Context, host, rawURL, safeURL string, kind Kind, header http.Header, n int) (*Response, *Error) {
	if err := f.limiter(host).Wait(ctx); err != nil {
		return nil, &Error{Kind: ctxKind(ctx.Err()), Host: host, URL: safeURL, Err: err}
	}
	if q := f.quota(host); q != nil {
		ok := q.take(f.now())
		f.metrics.QuotaRemaining.WithLabelValues(host).Set(float64(q.remaining(f.now())))
		if !ok {
			f.metrics.Attempts.WithLabelValues(host, string(KindRateLimited)).Inc()
			f.log.Warn("fetch quota exhausted", "host", host, "url", safeURL)
			return nil, &Error{Kind: KindRateLimited, Host: host, URL: safeURL}
		}
	}

	reqCtx := ctx
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Host: host, URL: safeURL, Err: err}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	if f.cfg.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", f.cfg.AcceptLanguage)
	}
	switch kind {
	case JSON:
		req.Header.Set("Accept", "application/json")
	default:
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	res, err := f.client.Do(req)
	elapsed := time.Since(start)
	f.metrics.Duration.WithLabelValues(host).Observe(elapsed.Seconds())
	if err != nil {
		fe := &Error{Kind: KindTransport, Host: host, URL: safeURL, Err: errors.New(f.redact(err.Error()))}
		if isTimeout(err) && ctx.Err() == nil {
			fe.Kind = KindTimeout
		} else if ctx.Err() != nil {
			fe.Kind = ctxKind(ctx.Err())
			fe.Err = ctx.Err()
		}
		f.logAttempt(safeURL, host, n, 0, elapsed, fe)
		return nil, fe
	}
	defer res.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		fe := &Error{Kind: KindTransport, Host: host, URL: safeURL, Err: fmt.Errorf("read body: %w", err)}
		if isTimeout(err) {
			fe.Kind = KindTimeout
		}
		f.logAttempt(safeURL, host, n, res.StatusCode, elapsed, fe)
		return nil, fe
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		fe := &Error{Kind: KindHTTP, Host: host, URL: safeURL, Code: res.StatusCode}
		f.logAttempt(safeURL, host, n, res.StatusCode, elapsed, fe)
		return nil, fe
	}

	f.logAttempt(safeURL, host, n, res.StatusCode, elapsed, nil)
	return &Response{
		Body:         body,
		FinalURL:     res.Request.URL.String(),
		StatusCode:   res.StatusCode,
		ResponseTime: elapsed,
		Headers:      res.Header,
	}, nil
}

func (f *Fetcher) logAttempt(safeURL, host string, attempt, status int, d time.Duration, fe *Error) {
	outcome := "ok"
	if fe != nil {
		outcome = string(fe.Kind)
		if fe.Kind == KindHTTP {
			outcome = "http_" + strconv.Itoa(fe.Code)
		}
	}
	f.metrics.Attempts.WithLabelValues(host, outcome).Inc()
	attrs := []any{"url", safeURL, "attempt", attempt, "status", status, "duration", d, "outcome", outcome}
	if fe != nil {
		f.log.Warn("fetch attempt failed", attrs...)
		return
	}
	f.log.Debug("fetch attempt", attrs...)
}

func (f *Fetcher) redact(s string) string {
	return f.redactor.Redact(s)
}

func ctxKind(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindTransport
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
