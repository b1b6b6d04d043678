package anomaly

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/barledger/barledger-backend/pkg/config"
	"github.com/shopspring/decimal"
)

// Config holds the detection thresholds. Closed hours are offsets from
// local midnight in Location; ClosedStart after ClosedEnd wraps midnight.
type Config struct {
	RapidRepeatInterval     time.Duration
	MinVolume               decimal.Decimal
	MaxVolume               decimal.Decimal
	CriticalVolume          decimal.Decimal
	ClosedStart             time.Duration
	ClosedEnd               time.Duration
	Location                *time.Location
	ErrorBurstThreshold     int
	MismatchWarningPercent  int64
	MismatchCriticalPercent int64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		RapidRepeatInterval:     30 * time.Second,
		MinVolume:               decimal.NewFromInt(10),
		MaxVolume:               decimal.NewFromInt(100),
		CriticalVolume:          decimal.NewFromInt(150),
		ClosedStart:             3 * time.Hour,
		ClosedEnd:               6 * time.Hour,
		Location:                time.UTC,
		ErrorBurstThreshold:     3,
		MismatchWarningPercent:  5,
		MismatchCriticalPercent: 20,
	}
}

// NewConfig converts loaded settings into detector thresholds.
func NewConfig(c config.AnomalyConfig) (Config, error) {
	start, err := ParseClock(c.ClosedStart)
	if err != nil {
		return Config{}, fmt.Errorf("closed_start: %w", err)
	}
	end, err := ParseClock(c.ClosedEnd)
	if err != nil {
		return Config{}, fmt.Errorf("closed_end: %w", err)
	}

	loc := time.UTC
	if c.Timezone != "" {
		loc, err = time.LoadLocation(c.Timezone)
		if err != nil {
			return Config{}, fmt.Errorf("timezone: %w", err)
		}
	}

	return Config{
		RapidRepeatInterval:     c.RapidRepeatInterval,
		MinVolume:               decimal.NewFromFloat(c.MinPourVolume),
		MaxVolume:               decimal.NewFromFloat(c.MaxPourVolume),
		CriticalVolume:          decimal.NewFromFloat(c.CriticalPourVolume),
		ClosedStart:             start,
		ClosedEnd:               end,
		Location:                loc,
		ErrorBurstThreshold:     c.ErrorBurstThreshold,
		MismatchWarningPercent:  c.MismatchWarningPercent,
		MismatchCriticalPercent: c.MismatchCriticalPercent,
	}, nil
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
