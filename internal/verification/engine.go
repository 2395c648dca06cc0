package verification

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

const (
	MinLandSizeHectares   = 0.5
	MinFarmingPractices   = 2
	ImageryRejectionRate  = 0.10
	CreditsPerHectare     = 0.5
	PracticeBonus         = 0.1
	ConfidenceFloor       = 0.85
	ConfidenceSpan        = 0.10
	DefaultSimulatedDelay = 2 * time.Second
)

// lowCarbonCrops only trigger a rejection when planted as the single crop
var lowCarbonCrops = map[string]bool{
	"Cotton":  true,
	"Tobacco": true,
}

// Engine scores farm submissions. It holds no per-call state.
type Engine struct {
	rng     RandomSource
	delay   time.Duration
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithRandomSource injects the generator used for the imagery check and confidence draw
func WithRandomSource(rng RandomSource) Option {
	return func(e *Engine) {
		e.rng = rng
	}
}

// WithDelay sets the simulated processing latency
func WithDelay(d time.Duration) Option {
	return func(e *Engine) {
		e.delay = d
	}
}

// WithLogger sets the engine logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics records outcomes into the given collectors
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates a verification engine. Without options it has no delay and a time-seeded source.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = NewLockedSource(uint64(time.Now().UnixNano()))
	}
	return e
}

// Evaluate scores a submission. The only error is ctx being done during the simulated delay.
func (e *Engine) Evaluate(ctx context.Context, sub FarmSubmission) (*Result, error) {
	start := e.now()

	if e.delay > 0 {
		timer := time.NewTimer(e.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	reasons := e.rejectionReasons(sub)

	result := &Result{EvaluatedAt: e.now()}
	if len(reasons) > 0 {
		result.Status = StatusRejected
		result.RejectionReasons = reasons
	} else {
		credits := CalculateCredits(sub.LandSize, len(sub.FarmingPractices))
		confidence := Confidence(e.rng.Float64())
		result.Status = StatusVerified
		result.CarbonCredits = &credits
		result.ConfidenceScore = &confidence
	}

	e.metrics.observe(result, e.now().Sub(start))
	e.logger.Debug("Farm submission evaluated",
		zap.String("status", string(result.Status)),
		zap.Strings("rejection_reasons", result.RejectionReasons))

	return result, nil
}

// rejectionReasons runs every check; none short-circuits.
func (e *Engine) rejectionReasons(sub FarmSubmission) []string {
	var reasons []string

	if sub.LandSize < MinLandSizeHectares {
		reasons = append(reasons, ReasonLandSize)
	}

	if len(sub.FarmingPractices) < MinFarmingPractices {
		reasons = append(reasons, ReasonPractices)
	}

	if len(sub.CropTypes) == 1 && IsLowCarbonCrop(sub.CropTypes[0]) {
		reasons = append(reasons, ReasonLowCarbonCrop)
	}

	// exact zero is treated as unset on either axis
	if c := sub.Coordinates; c == nil || c.Latitude == 0 || c.Longitude == 0 {
		reasons = append(reasons, ReasonCoordinates)
	}

	if e.rng.Float64() < ImageryRejectionRate {
		reasons = append(reasons, ReasonImageryAnomaly)
	}

	return reasons
}

// CalculateCredits returns tons of CO2 credited, rounded to one decimal
func CalculateCredits(landSize float64, practices int) float64 {
	base := landSize * CreditsPerHectare
	multiplier := 1 + float64(practices)*PracticeBonus
	return Round1(base * multiplier)
}

// Round1 rounds half away from zero to one decimal
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Confidence maps a uniform draw onto [ConfidenceFloor, ConfidenceFloor+ConfidenceSpan).
// Float rounding can land a draw just below 1 on the upper bound, so the result is clamped under it.
func Confidence(u float64) float64 {
	upper := ConfidenceFloor + ConfidenceSpan
	return math.Min(ConfidenceFloor+u*ConfidenceSpan, math.Nextafter(upper, 0))
}

// IsLowCarbonCrop reports whether a crop is in the low sequestration set
func IsLowCarbonCrop(crop string) bool {
	return lowCarbonCrops[crop]
}
