package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"

	"github.com/mobilyecommerce/storefront/pkg/auth"
	"github.com/mobilyecommerce/storefront/pkg/contextkeys"
	"github.com/mobilyecommerce/storefront/pkg/httputil"
	"github.com/mobilyecommerce/storefront/pkg/observability"
)

// Endpoint classes
const (
	ClassAuth    = "auth"
	ClassGeneral = "general"
)

const (
	// HeaderRateLimitRemaining carries the tokens left after an admitted request
	HeaderRateLimitRemaining = "X-Rate-Limit-Remaining"
	// HeaderRetryAfter carries the seconds until the next token on a 429
	HeaderRetryAfter = "Retry-After"

	unknownAgent = "unknown-agent"
)

// Limit is a token bucket holding Capacity tokens that refills completely
// over Window.
type Limit struct {
	Capacity int           `yaml:"capacity"`
	Window   time.Duration `yaml:"window"`
}

// tokensFor returns the tokens refilled over d
func (l Limit) tokensFor(d time.Duration) float64 {
	return d.Seconds() * float64(l.Capacity) / l.Window.Seconds()
}

// timeFor returns the seconds needed to refill n tokens
func (l Limit) timeFor(n float64) float64 {
	return n * l.Window.Seconds() / float64(l.Capacity)
}

// RateLimitConfig defines the buckets of each endpoint class
type RateLimitConfig struct {
	Auth    Limit `yaml:"auth"`
	General Limit `yaml:"general"`
	// AuthPaths are path prefixes that belong to the auth class
	AuthPaths []string `yaml:"auth_paths"`
}

// DefaultRateLimitConfig protects login and signup against brute force and
// gives everything else a generous budget.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Auth:      Limit{Capacity: 3, Window: 10 * time.Minute},
		General:   Limit{Capacity: 60, Window: 15 * time.Minute},
		AuthPaths: []string{"/api/v1/auth/login", "/api/v1/auth/signup"},
	}
}

// Validate checks the configuration
func (c RateLimitConfig) Validate() error {
	for class, l := range map[string]Limit{ClassAuth: c.Auth, ClassGeneral: c.General} {
		if l.Capacity <= 0 {
			return fmt.Errorf("rate limit %s: capacity must be positive, got %d", class, l.Capacity)
		}
		if l.Window <= 0 {
			return fmt.Errorf("rate limit %s: window must be positive, got %s", class, l.Window)
		}
	}
	return nil
}

// Classify returns the endpoint class of path
func (c RateLimitConfig) Classify(path string) string {
	for _, prefix := range c.AuthPaths {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return ClassAuth
		}
	}
	return ClassGeneral
}

func (c RateLimitConfig) limit(class string) Limit {
	if class == ClassAuth {
		return c.Auth
	}
	return c.General
}

// Decision is the outcome of one admission check
type Decision struct {
	Allowed bool
	// Remaining is the whole number of tokens left after this request
	Remaining int
	// RetryAfterSeconds is set on denial: seconds until one token is available
	RetryAfterSeconds int
	Limit             int
	Class             string
}

// Admitter decides whether a client may issue a request to path.
type Admitter interface {
	Admit(ctx context.Context, clientKey, path string) (Decision, error)
}

// bucket is a token bucket with continuous refill.
type bucket struct {
	mu         sync.Mutex
	class      string
	tokens     float64
	lastRefill time.Time
	// evicted is set once the bucket left the registry; holders must look
	// the key up again.
	evicted atomic.Bool
}

func newBucket(class string, l Limit, now time.Time) *bucket {
	return &bucket{class: class, tokens: float64(l.Capacity), lastRefill: now}
}

// refill must be called with mu held.
func (b *bucket) refill(l Limit, now time.Time) {
	if elapsed := now.Sub(b.lastRefill); elapsed > 0 {
		b.tokens = math.Min(float64(l.Capacity), b.tokens+l.tokensFor(elapsed))
		b.lastRefill = now
	}
	// a lowered capacity applies immediately
	if b.tokens > float64(l.Capacity) {
		b.tokens = float64(l.Capacity)
	}
}

// take consumes one token. ok is false when the bucket was evicted.
func (b *bucket) take(l Limit, now time.Time) (d Decision, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.evicted.Load() {
		return Decision{}, false
	}
	b.refill(l, now)

	d = Decision{Limit: l.Capacity, Class: b.class}
	if b.tokens >= 1 {
		b.tokens--
		d.Allowed = true
		d.Remaining = int(math.Floor(b.tokens))
		return d, true
	}

	d.RetryAfterSeconds = int(math.Ceil(l.timeFor(1 - b.tokens)))
	if d.RetryAfterSeconds < 1 {
		d.RetryAfterSeconds = 1
	}
	return d, true
}

// idle reports whether the bucket has been untouched for a full window, in
// which case it is full and dropping it cannot be observed.
func (b *bucket) idle(l Limit, now time.Time) bool {
	return now.Sub(b.lastRefill) >= l.Window
}

// BucketRegistry owns the buckets of one limiter. Lookup-or-create is a single
// atomic operation and the number of buckets is capped; the least recently
// used bucket is dropped when the cap is reached.
type BucketRegistry struct {
	cache *lru.Cache[string, *bucket]
}

// DefaultMaxBuckets caps the registry when no size is given
const DefaultMaxBuckets = 100000

// NewBucketRegistry creates a registry holding at most size buckets
func NewBucketRegistry(size int) (*BucketRegistry, error) {
	if size <= 0 {
		size = DefaultMaxBuckets
	}
	cache, err := lru.NewWithEvict[string, *bucket](size, func(_ string, b *bucket) {
		b.evicted.Store(true)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket registry: %w", err)
	}
	return &BucketRegistry{cache: cache}, nil
}

// getOrCreate returns the bucket for key, inserting create() when absent.
func (r *BucketRegistry) getOrCreate(key string, create func() *bucket) *bucket {
	if b, ok := r.cache.Get(key); ok {
		return b
	}
	fresh := create()
	if previous, ok, _ := r.cache.PeekOrAdd(key, fresh); ok {
		return previous
	}
	return fresh
}

// Len returns the number of buckets held
func (r *BucketRegistry) Len() int {
	return r.cache.Len()
}

// sweep drops every bucket for which drop returns true.
func (r *BucketRegistry) sweep(drop func(b *bucket) bool) int {
	removed := 0
	for _, key := range r.cache.Keys() {
		b, ok := r.cache.Peek(key)
		if !ok {
			continue
		}
		b.mu.Lock()
		if drop(b) {
			b.evicted.Store(true)
			r.cache.Remove(key)
			removed++
		}
		b.mu.Unlock()
	}
	return removed
}

// RateLimiter is an in-process token bucket limiter keyed by client and
// endpoint class. Different buckets never share a lock on the admit path.
type RateLimiter struct {
	config   atomic.Pointer[RateLimitConfig]
	registry *BucketRegistry
	clock    clockwork.Clock
	metrics  *observability.Metrics
}

// NewRateLimiter creates a limiter over registry. A nil registry gets a
// default-sized one.
func NewRateLimiter(config RateLimitConfig, registry *BucketRegistry, clock clockwork.Clock, metrics *observability.Metrics) (*RateLimiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		var err error
		if registry, err = NewBucketRegistry(DefaultMaxBuckets); err != nil {
			return nil, err
		}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	rl := &RateLimiter{registry: registry, clock: clock, metrics: metrics}
	rl.config.Store(&config)
	return rl, nil
}

// Config returns the limits in effect
func (rl *RateLimiter) Config() RateLimitConfig {
	return *rl.config.Load()
}

// UpdateLimits replaces the limits. Existing buckets keep their token count
// and refill at the new rate from now on.
func (rl *RateLimiter) UpdateLimits(config RateLimitConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	rl.config.Store(&config)
	return nil
}

// Admit consumes one token from the bucket of (clientKey, class of path).
func (rl *RateLimiter) Admit(ctx context.Context, clientKey, path string) (Decision, error) {
	config := rl.config.Load()
	class := config.Classify(path)
	limit := config.limit(class)
	key := clientKey + "#" + class

	for {
		now := rl.clock.Now()
		b := rl.registry.getOrCreate(key, func() *bucket {
			return newBucket(class, limit, now)
		})
		if d, ok := b.take(limit, now); ok {
			rl.metrics.SetRateLimitBuckets(rl.registry.Len())
			return d, nil
		}
	}
}

// Sweep drops buckets idle for at least their class window and returns how
// many were removed.
func (rl *RateLimiter) Sweep() int {
	config := rl.config.Load()
	now := rl.clock.Now()
	removed := rl.registry.sweep(func(b *bucket) bool {
		return b.idle(config.limit(b.class), now)
	})
	rl.metrics.SetRateLimitBuckets(rl.registry.Len())
	return removed
}

// StartCleanup sweeps idle buckets every interval until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := rl.clock.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				rl.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ClientKey identifies the client of r by address and User-Agent.
func ClientKey(r *http.Request) string {
	agent := r.UserAgent()
	if agent == "" {
		agent = unknownAgent
	}
	return httputil.ClientIP(r) + "|" + agent
}

// RateLimitMiddleware rejects requests whose bucket is empty. It runs before
// authentication so credential guessing is throttled too.
type RateLimitMiddleware struct {
	limiter Admitter
	audit   *auth.AuditLogger
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRateLimitMiddleware creates the middleware around limiter
func NewRateLimitMiddleware(limiter Admitter, audit *auth.AuditLogger, logger *observability.Logger, metrics *observability.Metrics) *RateLimitMiddleware {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RateLimitMiddleware{
		limiter: limiter,
		audit:   audit,
		logger:  logger.WithField("component", "rate_limit"),
		metrics: metrics,
	}
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ClientKey(r)
		ctx := contextkeys.WithClientKey(r.Context(), key)
		r = r.WithContext(ctx)

		decision, err := m.limiter.Admit(ctx, key, r.URL.Path)
		if err != nil {
			var backendErr *BackendError
			if !errors.As(err, &backendErr) {
				m.logger.WithError(err).Error("rate limit check failed")
				httputil.WriteInternalError(w)
				return
			}
			// fail open
			m.logger.WithError(err).Warn("rate limit backend unavailable, admitting request")
			next.ServeHTTP(w, r)
			return
		}

		m.metrics.RecordRateLimitDecision(decision.Class, decision.Allowed)
		if !decision.Allowed {
			m.rateLimitExceeded(w, r, decision)
			return
		}

		w.Header().Set(HeaderRateLimitRemaining, strconv.Itoa(decision.Remaining))
		next.ServeHTTP(w, r)
	})
}

func (m *RateLimitMiddleware) rateLimitExceeded(w http.ResponseWriter, r *http.Request, d Decision) {
	m.logger.WithFields(map[string]interface{}{
		"class":       d.Class,
		"path":        r.URL.Path,
		"retry_after": d.RetryAfterSeconds,
	}).Info("rate limit exceeded")
	if m.audit != nil {
		_ = m.audit.LogFromRequest(r, auth.ActionRateLimitExceeded, "endpoint", d.Class, auth.StatusDenied, nil)
	}

	w.Header().Set(HeaderRetryAfter, strconv.Itoa(d.RetryAfterSeconds))
	w.Header().Set(HeaderRateLimitRemaining, "0")
	httputil.WriteTooManyRequests(w, fmt.Sprintf("rate limit exceeded, retry in %d seconds", d.RetryAfterSeconds))
}
