package simulation

import (
	"math"
	"math/rand"
	"time"
)

// Pattern shapes the probability that simulated player activity is a join
// rather than a leave.
type Pattern interface {
	Apply(base float64) float64
	Name() string
}

var (
	PatternSteady Pattern = &SteadyPattern{}
	PatternDaily  Pattern = &DailyPattern{}
	PatternWeekly Pattern = &WeeklyPattern{}
	PatternRandom Pattern = &RandomPattern{}
)

func ParsePattern(name string) Pattern {
	switch name {
	case "daily":
		return PatternDaily
	case "weekly":
		return PatternWeekly
	case "random":
		return PatternRandom
	case "gradual_rise":
		return &GradualRisePattern{startTime: time.Now()}
	case "sine_wave":
		return &SineWavePattern{}
	default:
		return PatternSteady
	}
}

func clamp(p float64) float64 {
	return math.Max(0, math.Min(1, p))
}

// SteadyPattern - constant load
type SteadyPattern struct{}

func (p *SteadyPattern) Apply(base float64) float64 {
	return clamp(base)
}

func (p *SteadyPattern) Name() string {
	return "steady"
}

// DailyPattern - evening peak, quiet nights
type DailyPattern struct{}

func (p *DailyPattern) Apply(base float64) float64 {
	return clamp(base * dailyModifier(time.Now().Hour()))
}

func (p *DailyPattern) Name() string {
	return "daily"
}

func dailyModifier(hour int) float64 {
	switch {
	case hour >= 18 && hour <= 22:
		return 1.4
	case hour >= 14 && hour <= 17:
		return 1.2
	case hour >= 0 && hour <= 6:
		return 0.5
	default:
		return 1.0
	}
}

// WeeklyPattern - busier weekends on top of the daily cycle
type WeeklyPattern struct{}

func (p *WeeklyPattern) Apply(base float64) float64 {
	now := time.Now()
	modifier := dailyModifier(now.Hour())
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		modifier *= 1.3
	}
	return clamp(base * modifier)
}

func (p *WeeklyPattern) Name() string {
	return "weekly"
}

// RandomPattern - unpredictable surges and drops
type RandomPattern struct{}

func (p *RandomPattern) Apply(base float64) float64 {
	return clamp(base * (0.5 + rand.Float64()))
}

func (p *RandomPattern) Name() string {
	return "random"
}

// GradualRisePattern - slowly increasing demand
type GradualRisePattern struct {
	startTime time.Time
}

func (p *GradualRisePattern) Apply(base float64) float64 {
	// +2% per minute, capped at +50%
	increase := math.Min(time.Since(p.startTime).Minutes()*2, 50)
	return clamp(base * (1.0 + increase/100))
}

func (p *GradualRisePattern) Name() string {
	return "gradual_rise"
}

// SineWavePattern - smooth oscillation
type SineWavePattern struct {
	Period    time.Duration
	Amplitude float64
}

func (p *SineWavePattern) Apply(base float64) float64 {
	period := p.Period
	if period == 0 {
		period = 10 * time.Minute
	}
	amplitude := p.Amplitude
	if amplitude == 0 {
		amplitude = 0.3
	}

	phase := float64(time.Now().UnixNano()) / float64(period.Nanoseconds()) * 2 * math.Pi
	return clamp(base + math.Sin(phase)*amplitude)
}

func (p *SineWavePattern) Name() string {
	return "sine_wave"
}
