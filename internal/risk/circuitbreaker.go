package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// BreakerType identifies one of the independent circuit breakers.
type BreakerType string

const (
	DailyLoss         BreakerType = "daily_loss"
	WeeklyLoss        BreakerType = "weekly_loss"
	Drawdown          BreakerType = "drawdown"
	Volatility        BreakerType = "volatility"
	Liquidity         BreakerType = "liquidity"
	APIFailure        BreakerType = "api_failure"
	ConsecutiveLosses BreakerType = "consecutive_losses"
)

// BreakerState is the state of a single breaker. A breaker in cooldown is
// represented as Open with a trip timestamp; it transitions back to Closed
// lazily once the cooldown elapses.
type BreakerState string

const (
	Closed BreakerState = "closed" // Normal operation
	Open   BreakerState = "open"   // Trading halted
)

// BreakerConfig configures one breaker. A disabled breaker never trips.
type BreakerConfig struct {
	Type      BreakerType
	Threshold decimal.Decimal
	Cooldown  time.Duration
	Enabled   bool
}

// BreakerEvent is an immutable record of a breaker trip.
type BreakerEvent struct {
	Type      BreakerType
	Timestamp time.Time
	Threshold decimal.Decimal
	Observed  decimal.Decimal
	Message   string
}

// BreakerStatus is an observability view of one breaker.
type BreakerStatus struct {
	Type      BreakerType
	State     BreakerState
	Threshold decimal.Decimal
	Cooldown  time.Duration
	Enabled   bool
	TrippedAt time.Time // zero value when closed
}

// DefaultBreakerConfigs returns the default configuration for every breaker
// type. Thresholds for the loss/drawdown breakers are percentages, the
// volatility breaker is an index level, liquidity is dollars and the two
// counter breakers are counts.
func DefaultBreakerConfigs() map[BreakerType]BreakerConfig {
	return map[BreakerType]BreakerConfig{
		DailyLoss:         {Type: DailyLoss, Threshold: decimal.RequireFromString("5.0"), Cooldown: 120 * time.Minute, Enabled: true},
		WeeklyLoss:        {Type: WeeklyLoss, Threshold: decimal.RequireFromString("10.0"), Cooldown: 1440 * time.Minute, Enabled: true},
		Drawdown:          {Type: Drawdown, Threshold: decimal.RequireFromString("15.0"), Cooldown: 2880 * time.Minute, Enabled: true},
		Volatility:        {Type: Volatility, Threshold: decimal.RequireFromString("100.0"), Cooldown: 60 * time.Minute, Enabled: true},
		Liquidity:         {Type: Liquidity, Threshold: decimal.NewFromInt(50000), Cooldown: 30 * time.Minute, Enabled: true},
		APIFailure:        {Type: APIFailure, Threshold: decimal.NewFromInt(3), Cooldown: 15 * time.Minute, Enabled: true},
		ConsecutiveLosses: {Type: ConsecutiveLosses, Threshold: decimal.NewFromInt(5), Cooldown: 240 * time.Minute, Enabled: true},
	}
}

type breaker struct {
	cfg       BreakerConfig
	state     BreakerState
	trippedAt time.Time
}

// CircuitBreaker is the bank of independent breakers gating all order
// submission. It is the system's terminal safety net: no order may be
// submitted while any breaker is open. All methods are safe for use from a
// single logical caller; a mutex serializes concurrent access.
type CircuitBreaker struct {
	mu       sync.Mutex
	breakers map[BreakerType]*breaker
	events   []BreakerEvent

	consecutiveLosses      int
	consecutiveAPIFailures int

	now func() time.Time
}

// NewCircuitBreaker creates a breaker bank. Types missing from configs get
// their defaults; passing nil uses defaults for everything.
func NewCircuitBreaker(configs map[BreakerType]BreakerConfig) *CircuitBreaker {
	merged := DefaultBreakerConfigs()
	for bt, cfg := range configs {
		cfg.Type = bt
		merged[bt] = cfg
	}

	breakers := make(map[BreakerType]*breaker, len(merged))
	for bt, cfg := range merged {
		breakers[bt] = &breaker{cfg: cfg, state: Closed}
	}

	return &CircuitBreaker{
		breakers: breakers,
		now:      time.Now,
	}
}

// CheckDailyLoss trips the daily-loss breaker when the loss from the start of
// day exceeds the threshold percentage. Strictly greater: a loss of exactly
// the threshold does not trip.
func (cb *CircuitBreaker) CheckDailyLoss(currentValue, startOfDayValue decimal.Decimal) bool {
	return cb.checkLossBasis(DailyLoss, currentValue, startOfDayValue)
}

// CheckWeeklyLoss trips the weekly-loss breaker on the same rule over a
// weekly basis.
func (cb *CircuitBreaker) CheckWeeklyLoss(currentValue, startOfWeekValue decimal.Decimal) bool {
	return cb.checkLossBasis(WeeklyLoss, currentValue, startOfWeekValue)
}

// CheckDrawdown trips the drawdown breaker when the decline from peak exceeds
// the threshold percentage.
func (cb *CircuitBreaker) CheckDrawdown(currentValue, peakValue decimal.Decimal) bool {
	return cb.checkLossBasis(Drawdown, currentValue, peakValue)
}

func (cb *CircuitBreaker) checkLossBasis(bt BreakerType, currentValue, basisValue decimal.Decimal) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	b := cb.breakers[bt]
	if !b.cfg.Enabled {
		return false
	}
	if basisValue.Sign() <= 0 {
		return false
	}

	lossPct := basisValue.Sub(currentValue).Div(basisValue).Mul(hundred)
	if lossPct.GreaterThan(b.cfg.Threshold) {
		cb.trip(bt, lossPct, fmt.Sprintf("%s of %s%% exceeds threshold of %s%%", bt, lossPct.StringFixed(2), b.cfg.Threshold))
		return true
	}
	return false
}

// CheckVolatility trips the volatility breaker when the external volatility
// index exceeds the threshold.
func (cb *CircuitBreaker) CheckVolatility(volatilityIndex decimal.Decimal) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	b := cb.breakers[Volatility]
	if !b.cfg.Enabled {
		return false
	}
	if volatilityIndex.GreaterThan(b.cfg.Threshold) {
		cb.trip(Volatility, volatilityIndex, fmt.Sprintf("volatility index %s exceeds threshold of %s", volatilityIndex.StringFixed(2), b.cfg.Threshold))
		return true
	}
	return false
}

// CheckLiquidity trips the liquidity breaker when available liquidity falls
// below the threshold.
func (cb *CircuitBreaker) CheckLiquidity(liquidity decimal.Decimal) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	b := cb.breakers[Liquidity]
	if !b.cfg.Enabled {
		return false
	}
	if liquidity.LessThan(b.cfg.Threshold) {
		cb.trip(Liquidity, liquidity, fmt.Sprintf("liquidity $%s below threshold of $%s", liquidity.StringFixed(0), b.cfg.Threshold.StringFixed(0)))
		return true
	}
	return false
}

// RecordTradeResult updates the consecutive-loss counter: a win resets it, a
// loss increments it and trips the breaker once the count reaches the
// threshold.
func (cb *CircuitBreaker) RecordTradeResult(isWin bool) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if isWin {
		cb.consecutiveLosses = 0
		return false
	}
	cb.consecutiveLosses++

	b := cb.breakers[ConsecutiveLosses]
	if !b.cfg.Enabled {
		return false
	}
	threshold := int(b.cfg.Threshold.IntPart())
	if cb.consecutiveLosses >= threshold {
		cb.trip(ConsecutiveLosses, decimal.NewFromInt(int64(cb.consecutiveLosses)),
			fmt.Sprintf("%d consecutive losses reached threshold of %d", cb.consecutiveLosses, threshold))
		return true
	}
	return false
}

// RecordAPIFailure increments the consecutive API failure counter and trips
// the breaker once the count reaches the threshold.
func (cb *CircuitBreaker) RecordAPIFailure() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveAPIFailures++

	b := cb.breakers[APIFailure]
	if !b.cfg.Enabled {
		return false
	}
	threshold := int(b.cfg.Threshold.IntPart())
	if cb.consecutiveAPIFailures >= threshold {
		cb.trip(APIFailure, decimal.NewFromInt(int64(cb.consecutiveAPIFailures)),
			fmt.Sprintf("%d consecutive API failures reached threshold of %d", cb.consecutiveAPIFailures, threshold))
		return true
	}
	return false
}

// RecordAPISuccess resets the consecutive API failure counter.
func (cb *CircuitBreaker) RecordAPISuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveAPIFailures = 0
}

// trip records the event and opens the breaker. Caller must hold the mutex.
func (cb *CircuitBreaker) trip(bt BreakerType, observed decimal.Decimal, message string) {
	b := cb.breakers[bt]
	b.state = Open
	b.trippedAt = cb.now()

	cb.events = append(cb.events, BreakerEvent{
		Type:      bt,
		Timestamp: b.trippedAt,
		Threshold: b.cfg.Threshold,
		Observed:  observed,
		Message:   message,
	})
}

// IsTradingAllowed re-evaluates every breaker: open breakers whose cooldown
// has elapsed auto-transition back to closed. Trading is allowed only when no
// breaker remains open after the sweep.
func (cb *CircuitBreaker) IsTradingAllowed() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	allowed := true
	for _, b := range cb.breakers {
		if b.state != Open {
			continue
		}
		if b.trippedAt.IsZero() || cb.now().Sub(b.trippedAt) >= b.cfg.Cooldown {
			b.state = Closed
			b.trippedAt = time.Time{}
			continue
		}
		allowed = false
	}
	return allowed
}

// ActiveBreakers returns the types currently open, without running the
// cooldown sweep.
func (cb *CircuitBreaker) ActiveBreakers() []BreakerType {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var active []BreakerType
	for bt, b := range cb.breakers {
		if b.state == Open {
			active = append(active, bt)
		}
	}
	return active
}

// RecentEvents returns trip events from the last window.
func (cb *CircuitBreaker) RecentEvents(window time.Duration) []BreakerEvent {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cutoff := cb.now().Add(-window)
	var recent []BreakerEvent
	for _, e := range cb.events {
		if !e.Timestamp.Before(cutoff) {
			recent = append(recent, e)
		}
	}
	return recent
}

// Status returns an observability snapshot of every breaker.
func (cb *CircuitBreaker) Status() []BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	statuses := make([]BreakerStatus, 0, len(cb.breakers))
	for bt, b := range cb.breakers {
		statuses = append(statuses, BreakerStatus{
			Type:      bt,
			State:     b.state,
			Threshold: b.cfg.Threshold,
			Cooldown:  b.cfg.Cooldown,
			Enabled:   b.cfg.Enabled,
			TrippedAt: b.trippedAt,
		})
	}
	return statuses
}

// ManualReset forces one breaker closed and clears its associated counter.
// Dangerous: intended for tests and manual intervention only.
func (cb *CircuitBreaker) ManualReset(bt BreakerType) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.manualReset(bt)
}

func (cb *CircuitBreaker) manualReset(bt BreakerType) {
	b, ok := cb.breakers[bt]
	if !ok {
		return
	}
	b.state = Closed
	b.trippedAt = time.Time{}

	switch bt {
	case ConsecutiveLosses:
		cb.consecutiveLosses = 0
	case APIFailure:
		cb.consecutiveAPIFailures = 0
	}
}

// ResetAll forces every breaker closed and clears the event history.
// Dangerous: intended for tests and emergencies only.
func (cb *CircuitBreaker) ResetAll() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	for bt := range cb.breakers {
		cb.manualReset(bt)
	}
	cb.events = nil
}
