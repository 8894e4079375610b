package tokens

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for token rotation.
var (
	tokenErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghub_token_errors_total",
		Help: "Total number of errors recorded across the token pool",
	})

	tokensHealthy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ghub_tokens_healthy",
		Help: "Current number of healthy tokens in the pool",
	})

	tokenQuarantinesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghub_token_quarantines_total",
		Help: "Total number of tokens placed in quarantine",
	})

	tokenExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghub_token_pool_exhausted_total",
		Help: "Total number of selections that found no eligible token",
	})
)

// Rotation strategies.
const (
	StrategyRoundRobin = "round-robin"
	StrategyLeastUsed  = "least-used"
)

// ErrNoAvailableToken is returned when no healthy token matches the
// required scopes.
var ErrNoAvailableToken = errors.New("no available token")

// Config holds the rotation manager configuration.
type Config struct {
	// Tokens is the credential pool, in configuration order. Required.
	Tokens []Token

	// RotationStrategy selects tokens among the eligible set:
	// "round-robin" (default) or "least-used".
	RotationStrategy string

	// UnhealthyThreshold is the number of consecutive errors after which a
	// token is quarantined. Default: 5.
	UnhealthyThreshold int

	// QuarantineDuration is the cooldown applied when a token becomes
	// unhealthy. Default: 5m.
	QuarantineDuration time.Duration

	// RequireSuccessAfterQuarantine controls recovery. When false
	// (default), a token is eligible again as soon as its cooldown
	// elapses (probation). When true, cooldown expiry alone does not
	// restore eligibility: the token is only offered as a last-resort
	// probe when no other token is eligible, and a recorded success
	// restores it fully.
	RequireSuccessAfterQuarantine bool
}

// Metrics is a point-in-time snapshot of the pool counters.
type Metrics struct {
	TotalTokens   int
	HealthyTokens int
	TotalErrors   int

	// ErrorRate is total errors / total outcomes, 0 when nothing recorded.
	ErrorRate float64

	Strategy string
}

// Manager selects tokens by health and strategy and tracks call outcomes.
// The health records and rotation pointer are guarded by a single mutex so
// concurrent callers never select the same round-robin slot twice.
type Manager struct {
	mu     sync.Mutex
	tokens []Token
	health []*Health
	next   int // round-robin pointer (index into tokens)

	cfg    Config
	logger zerolog.Logger

	// now is stubbed in tests
	now func() time.Time
}

// NewManager creates a token rotation manager.
func NewManager(cfg Config, logger zerolog.Logger) (*Manager, error) {
	if len(cfg.Tokens) == 0 {
		return nil, fmt.Errorf("at least one token is required")
	}

	switch cfg.RotationStrategy {
	case "":
		cfg.RotationStrategy = StrategyRoundRobin
	case StrategyRoundRobin, StrategyLeastUsed:
	default:
		return nil, fmt.Errorf("unknown rotation strategy %q", cfg.RotationStrategy)
	}

	if cfg.UnhealthyThreshold <= 0 {
		cfg.UnhealthyThreshold = 5
	}
	if cfg.QuarantineDuration <= 0 {
		cfg.QuarantineDuration = 5 * time.Minute
	}

	health := make([]*Health, len(cfg.Tokens))
	for i := range health {
		health[i] = &Health{}
	}

	return &Manager{
		tokens: cfg.Tokens,
		health: health,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Next selects the next token whose scopes cover requiredScopes, honoring
// the configured rotation strategy. Returns ErrNoAvailableToken when no
// healthy token is eligible.
func (m *Manager) Next(requiredScopes ...string) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	eligible := m.eligibleLocked(now, requiredScopes)

	if len(eligible) == 0 && m.cfg.RequireSuccessAfterQuarantine {
		// Last-resort probe: offer a cooled-down token so the pool can
		// prove itself healthy again.
		eligible = m.probeCandidatesLocked(now, requiredScopes)
	}

	if len(eligible) == 0 {
		tokenExhaustedTotal.Inc()
		return Token{}, ErrNoAvailableToken
	}

	var idx int
	switch m.cfg.RotationStrategy {
	case StrategyLeastUsed:
		idx = eligible[0]
		for _, i := range eligible[1:] {
			// Strict less-than keeps configuration order on ties
			if m.health[i].uses() < m.health[idx].uses() {
				idx = i
			}
		}
	default: // round-robin
		// Advance exactly one position over the eligible set, wrapping.
		idx = eligible[0]
		for _, i := range eligible {
			if i >= m.next {
				idx = i
				break
			}
		}
		m.next = idx + 1
		if m.next >= len(m.tokens) {
			m.next = 0
		}
	}

	return m.tokens[idx], nil
}

// eligibleLocked returns indices of healthy tokens matching the scopes, in
// configuration order. Caller must hold the mutex.
func (m *Manager) eligibleLocked(now time.Time, requiredScopes []string) []int {
	var eligible []int
	for i, tok := range m.tokens {
		if !tok.HasScopes(requiredScopes) || tok.IsExpired(now) {
			continue
		}
		if m.isHealthyLocked(i, now) {
			eligible = append(eligible, i)
		}
	}
	return eligible
}

// probeCandidatesLocked returns cooled-down quarantined tokens for the
// require-success recovery mode. Caller must hold the mutex.
func (m *Manager) probeCandidatesLocked(now time.Time, requiredScopes []string) []int {
	var candidates []int
	for i, tok := range m.tokens {
		if !tok.HasScopes(requiredScopes) || tok.IsExpired(now) {
			continue
		}
		h := m.health[i]
		if h.ConsecutiveErrors >= m.cfg.UnhealthyThreshold && !now.Before(h.QuarantineUntil) {
			candidates = append(candidates, i)
		}
	}
	return candidates
}

// isHealthyLocked applies the health invariant for one token.
// Caller must hold the mutex.
func (m *Manager) isHealthyLocked(i int, now time.Time) bool {
	h := m.health[i]
	if now.Before(h.QuarantineUntil) {
		return false
	}
	if h.ConsecutiveErrors < m.cfg.UnhealthyThreshold {
		return true
	}
	// Cooldown elapsed. Under probation recovery the token is trusted
	// again immediately; under require-success it stays out of the
	// regular pool until a success is recorded.
	return !m.cfg.RequireSuccessAfterQuarantine
}

// RecordSuccess marks a call outcome for the token: consecutive errors
// reset to zero and any quarantine is cleared.
func (m *Manager) RecordSuccess(token Token) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOfLocked(token)
	if i < 0 {
		return
	}

	h := m.health[i]
	h.ConsecutiveErrors = 0
	h.TotalSuccesses++
	h.QuarantineUntil = time.Time{}

	tokensHealthy.Set(float64(len(m.eligibleLocked(m.now(), nil))))
}

// RecordError marks a failed call outcome for the token. Reaching the
// unhealthy threshold quarantines it for the configured cooldown; errors
// beyond the threshold restart the cooldown.
func (m *Manager) RecordError(token Token) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOfLocked(token)
	if i < 0 {
		return
	}

	h := m.health[i]
	h.ConsecutiveErrors++
	h.TotalErrors++
	tokenErrorsTotal.Inc()

	// At or past the threshold every further error re-arms the cooldown,
	// so a token that keeps failing after probation goes straight back
	// into quarantine.
	if h.ConsecutiveErrors >= m.cfg.UnhealthyThreshold {
		h.QuarantineUntil = m.now().Add(m.cfg.QuarantineDuration)
		tokenQuarantinesTotal.Inc()

		m.logger.Warn().
			Str("token", token.String()).
			Int("consecutive_errors", h.ConsecutiveErrors).
			Time("quarantine_until", h.QuarantineUntil).
			Msg("Token quarantined")
	}

	tokensHealthy.Set(float64(len(m.eligibleLocked(m.now(), nil))))
}

// Metrics returns a snapshot of the pool counters.
func (m *Manager) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Metrics{
		TotalTokens:   len(m.tokens),
		HealthyTokens: len(m.eligibleLocked(m.now(), nil)),
		Strategy:      m.cfg.RotationStrategy,
	}

	totalOutcomes := 0
	for _, h := range m.health {
		snap.TotalErrors += h.TotalErrors
		totalOutcomes += h.uses()
	}
	if totalOutcomes > 0 {
		snap.ErrorRate = float64(snap.TotalErrors) / float64(totalOutcomes)
	}
	return snap
}

// HealthOf returns a copy of the health record for a token, for
// observability. The zero Health is returned for unknown tokens.
func (m *Manager) HealthOf(token Token) Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i := m.indexOfLocked(token); i >= 0 {
		return *m.health[i]
	}
	return Health{}
}

// indexOfLocked locates a token in the pool by secret.
// Caller must hold the mutex.
func (m *Manager) indexOfLocked(token Token) int {
	for i, tok := range m.tokens {
		if tok.Secret == token.Secret {
			return i
		}
	}
	return -1
}
