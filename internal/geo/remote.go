package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/opensource-finance/tripwire/internal/domain"
	"github.com/opensource-finance/tripwire/internal/metrics"
)

// remoteAnswer is the JSON body returned by the distance endpoint.
type remoteAnswer struct {
	DistanceKm float64 `json:"distanceKm"`
	Known      bool    `json:"known"`
}

// Remote asks an HTTP service for city distances:
//
//	GET {base}/distance?from=A&to=B -> {"distanceKm": 1213.4, "known": true}
//
// A 404 means unknown. Calls are rate limited and wrapped in a circuit
// breaker; any failure is reported as unknown.
type Remote struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[remoteAnswer]
}

// NewRemote creates a remote backend from config.
func NewRemote(cfg domain.GeoConfig) *Remote {
	timeout := time.Duration(cfg.RemoteTimeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	rps := cfg.RemoteRPS
	if rps <= 0 {
		rps = 20
	}
	maxFailures := cfg.RemoteMaxFailure
	if maxFailures == 0 {
		maxFailures = 5
	}

	name := "distance-remote"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[remoteAnswer](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return &Remote{
		baseURL: strings.TrimRight(cfg.RemoteURL, "/"),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		cb:      cb,
	}
}

// DistanceKm implements DistanceService.
func (r *Remote) DistanceKm(ctx context.Context, cityA, cityB string) (float64, bool) {
	ans, err := r.Lookup(ctx, cityA, cityB)
	if err != nil {
		metrics.DistanceLookups.WithLabelValues("remote", "error").Inc()
		slog.Debug("remote distance lookup failed", "from", cityA, "to", cityB, "error", err)
		return 0, false
	}
	if !ans.Known {
		metrics.DistanceLookups.WithLabelValues("remote", "unknown").Inc()
		return 0, false
	}
	metrics.DistanceLookups.WithLabelValues("remote", "known").Inc()
	return ans.DistanceKm, true
}

// Lookup performs one rate-limited, breaker-protected request.
func (r *Remote) Lookup(ctx context.Context, cityA, cityB string) (remoteAnswer, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return remoteAnswer{}, fmt.Errorf("rate limit: %w", err)
	}
	ans, err := r.cb.Execute(func() (remoteAnswer, error) {
		return r.fetch(ctx, cityA, cityB)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return remoteAnswer{}, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	return ans, err
}

func (r *Remote) fetch(ctx context.Context, cityA, cityB string) (remoteAnswer, error) {
	q := url.Values{}
	q.Set("from", cityA)
	q.Set("to", cityB)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/distance?"+q.Encode(), nil)
	if err != nil {
		return remoteAnswer{}, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return remoteAnswer{}, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return remoteAnswer{Known: false}, nil
	case resp.StatusCode != http.StatusOK:
		return remoteAnswer{}, fmt.Errorf("%w: status %d", ErrRemoteUnavailable, resp.StatusCode)
	}

	var ans remoteAnswer
	if err := json.NewDecoder(resp.Body).Decode(&ans); err != nil {
		return remoteAnswer{}, fmt.Errorf("decode distance: %w", err)
	}
	if ans.DistanceKm < 0 {
		ans.Known = false
	}
	return ans, nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}
