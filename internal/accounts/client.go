package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ClientConfig configures the account service client
type ClientConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Token     string        `yaml:"token"`
	RPS       float64       `yaml:"rps"`
	Burst     int           `yaml:"burst"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
	Breaker   BreakerConfig `yaml:"breaker"`
}

// BreakerConfig controls when the client stops calling a failing service
type BreakerConfig struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	FailureRatio        float64       `yaml:"failure_ratio"`
	MinRequests         uint32        `yaml:"min_requests"`
	Interval            time.Duration `yaml:"interval"`
	OpenTimeout         time.Duration `yaml:"open_timeout"`
}

// DefaultClientConfig targets the public lichess API within its rate limits
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:   "https://lichess.org",
		RPS:       1,
		Burst:     1,
		Timeout:   10 * time.Second,
		UserAgent: "perfguard",
		Breaker: BreakerConfig{
			ConsecutiveFailures: 3,
			FailureRatio:        0.05,
			MinRequests:         20,
			Interval:            60 * time.Second,
			OpenTimeout:         60 * time.Second,
		},
	}
}

// userResponse is the subset of the public user document we read
type userResponse struct {
	ID           string `json:"id"`
	Disabled     bool   `json:"disabled"`
	TOSViolation bool   `json:"tosViolation"`
}

// HTTPLookup resolves statuses against the account service over HTTP
type HTTPLookup struct {
	base      *url.URL
	token     string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
}

// NewHTTPLookup builds a rate-limited client guarded by a circuit breaker
func NewHTTPLookup(cfg ClientConfig) (*HTTPLookup, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid account service url %q", cfg.BaseURL)
	}
	if cfg.RPS <= 0 {
		return nil, fmt.Errorf("account service rps must be positive, got %v", cfg.RPS)
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}

	bc := cfg.Breaker
	st := gobreaker.Settings{
		Name:     "account-service",
		Interval: bc.Interval,
		Timeout:  bc.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if bc.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= bc.ConsecutiveFailures {
				return true
			}
			if counts.Requests < bc.MinRequests || bc.FailureRatio <= 0 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) > bc.FailureRatio
		},
		// not-found is an answer, not a failure
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("account service circuit state changed")
		},
	}

	return &HTTPLookup{
		base:      base,
		token:     cfg.Token,
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		breaker:   gobreaker.NewCircuitBreaker(st),
	}, nil
}

// Lookup implements Lookup
func (c *HTTPLookup) Lookup(ctx context.Context, player string) (Status, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return StatusUnknown, err
	}

	v, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, player)
	})
	if err != nil {
		return StatusUnknown, err
	}
	return v.(Status), nil
}

func (c *HTTPLookup) fetch(ctx context.Context, player string) (Status, error) {
	endpoint := c.base.JoinPath("api", "user", player)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return StatusUnknown, err
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return StatusUnknown, fmt.Errorf("account service request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return StatusUnknown, fmt.Errorf("%w: %s", ErrNotFound, player)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return StatusUnknown, fmt.Errorf("account service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var user userResponse
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return StatusUnknown, fmt.Errorf("failed to decode account response: %w", err)
	}

	switch {
	case user.TOSViolation:
		return StatusTOSViolation, nil
	case user.Disabled:
		return StatusClosed, nil
	default:
		return StatusOpen, nil
	}
}
