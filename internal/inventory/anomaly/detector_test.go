package anomaly_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/barledger/barledger-backend/internal/inventory/anomaly"
	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/pkg/config"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 20:00 UTC, well outside the default closed hours.
var evening = time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)

func pour(id, device, volume string, at time.Time) domain.StockMovement {
	return domain.StockMovement{
		ID:         id,
		ItemID:     "vodka",
		LocationID: "loc-1",
		Delta:      decimal.RequireFromString(volume).Neg(),
		Kind:       domain.KindPour,
		SourceRef:  id,
		OccurredAt: at,
		RecordedAt: at,
		DeviceID:   &device,
	}
}

func errorPour(id, device string, at time.Time) domain.StockMovement {
	m := pour(id, device, "0", at)
	m.DeviceError = true
	return m
}

func newDetector() *anomaly.Detector {
	return anomaly.New(anomaly.DefaultConfig()).WithClock(func() time.Time { return evening.Add(time.Hour) })
}

func ofType(records []domain.AnomalyRecord, typ domain.AnomalyType) []domain.AnomalyRecord {
	var out []domain.AnomalyRecord
	for _, r := range records {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}

func TestDetectDevice_RapidRepeat(t *testing.T) {
	tests := []struct {
		name string
		gap  time.Duration
		want int
	}{
		{"20 seconds apart", 20 * time.Second, 1},
		{"40 seconds apart", 40 * time.Second, 0},
		{"exactly the interval", 30 * time.Second, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := newDetector().DetectDevice("p-1", []domain.StockMovement{
				pour("b", "p-1", "30", evening.Add(tt.gap)),
				pour("a", "p-1", "30", evening),
			})
			require.NoError(t, err)

			rapid := ofType(records, domain.AnomalyRapidRepeatPour)
			require.Len(t, rapid, tt.want)
			assert.Len(t, records, tt.want, "no other rule should fire")
			if tt.want == 1 {
				assert.Equal(t, domain.SeverityWarning, rapid[0].Severity)
				assert.Equal(t, []string{"a", "b"}, rapid[0].Evidence.MovementIDs)
				assert.Equal(t, domain.ReviewOpen, rapid[0].ReviewState)
			}
		})
	}
}

func TestDetectDevice_RapidRepeatOnePerPair(t *testing.T) {
	records, err := newDetector().DetectDevice("p-1", []domain.StockMovement{
		pour("a", "p-1", "30", evening),
		pour("b", "p-1", "30", evening.Add(10*time.Second)),
		pour("c", "p-1", "30", evening.Add(20*time.Second)),
	})
	require.NoError(t, err)
	assert.Len(t, ofType(records, domain.AnomalyRapidRepeatPour), 2)
}

func TestDetectDevice_OutOfRangeVolume(t *testing.T) {
	tests := []struct {
		volume  string
		wantSev domain.Severity
	}{
		{"9.9", domain.SeverityWarning},
		{"10", ""},
		{"100", ""},
		{"100.5", domain.SeverityWarning},
		{"150", domain.SeverityWarning},
		{"151", domain.SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.volume, func(t *testing.T) {
			records, err := newDetector().DetectDevice("p-1", []domain.StockMovement{pour("a", "p-1", tt.volume, evening)})
			require.NoError(t, err)

			got := ofType(records, domain.AnomalyOutOfRangeVolume)
			if tt.wantSev == "" {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, tt.wantSev, got[0].Severity)
			assert.Equal(t, "volume", got[0].Evidence.Metric)
		})
	}
}

func TestDetectDevice_OffHours(t *testing.T) {
	night := time.Date(2026, 3, 3, 4, 15, 0, 0, time.UTC)
	records, err := newDetector().DetectDevice("p-1", []domain.StockMovement{
		pour("a", "p-1", "30", night),
		pour("b", "p-1", "30", night.Add(2*time.Hour)),
	})
	require.NoError(t, err)

	got := ofType(records, domain.AnomalyOffHoursActivity)
	require.Len(t, got, 1)
	assert.Equal(t, domain.SeverityInfo, got[0].Severity)
	assert.Equal(t, []string{"a"}, got[0].Evidence.MovementIDs)
}

func TestDetectDevice_OffHoursWrapsMidnightInLocalTime(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	cfg := anomaly.DefaultConfig()
	cfg.ClosedStart, cfg.ClosedEnd = 23*time.Hour, 2*time.Hour
	cfg.Location = berlin
	d := anomaly.New(cfg)

	// 23:30 UTC is 00:30 in Berlin in winter.
	inside := time.Date(2026, 1, 10, 23, 30, 0, 0, time.UTC)
	outside := time.Date(2026, 1, 10, 21, 30, 0, 0, time.UTC)

	records, err := d.DetectDevice("p-1", []domain.StockMovement{
		pour("in", "p-1", "30", inside),
		pour("out", "p-1", "30", outside),
	})
	require.NoError(t, err)

	got := ofType(records, domain.AnomalyOffHoursActivity)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"in"}, got[0].Evidence.MovementIDs)
}

func TestDetectDevice_ErrorBurst(t *testing.T) {
	build := func(n int) []domain.StockMovement {
		var pours []domain.StockMovement
		for i := 0; i < n; i++ {
			pours = append(pours, errorPour(fmt.Sprintf("e%d", i), "p-1", evening.Add(time.Duration(i)*time.Second)))
		}
		return pours
	}

	records, err := newDetector().DetectDevice("p-1", build(3))
	require.NoError(t, err)
	assert.Empty(t, records, "three errors is not a burst, and errors never count as rapid repeats")

	records, err = newDetector().DetectDevice("p-1", build(5))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.AnomalyDeviceErrorBurst, records[0].Type)
	assert.Equal(t, domain.SeverityCritical, records[0].Severity)
	assert.Equal(t, []string{"e0", "e1", "e2", "e3", "e4"}, records[0].Evidence.MovementIDs)
	assert.Equal(t, "5", records[0].Evidence.Value.String())
}

func TestDetectDevice_RejectsForeignMovements(t *testing.T) {
	_, err := newDetector().DetectDevice("p-1", []domain.StockMovement{pour("a", "p-2", "30", evening)})
	assert.Error(t, err)
}

func TestDetect_IsolatesFailingUnits(t *testing.T) {
	orphan := pour("orphan", "x", "30", evening)
	orphan.DeviceID = nil

	out := newDetector().Detect(context.Background(), anomaly.Input{
		Pours: []domain.StockMovement{
			orphan,
			pour("a", "p-1", "30", evening),
			pour("b", "p-1", "30", evening.Add(5*time.Second)),
		},
	})

	require.Len(t, out.UnitErrors, 1)
	assert.Equal(t, "device/", out.UnitErrors[0].Unit)
	assert.Len(t, ofType(out.Records, domain.AnomalyRapidRepeatPour), 1)
}

func TestDetectMismatches(t *testing.T) {
	pct := func(n int64) *int64 { return &n }
	start := evening.Add(-24 * time.Hour)
	result := func(item string, status domain.ReconciliationStatus, p *int64) domain.ReconciliationResult {
		return domain.ReconciliationResult{
			ItemID: item, LocationID: "loc-1", WindowStart: start, WindowEnd: evening,
			Status: status, State: domain.StateComputed, VariancePercent: p,
		}
	}

	records := newDetector().DetectMismatches([]domain.ReconciliationResult{
		result("matched", domain.StatusMatched, pct(4)),
		result("small", domain.StatusSurplus, pct(5)),
		result("warn", domain.StatusShortage, pct(-12)),
		result("crit", domain.StatusSurplus, pct(35)),
		result("nodata", domain.StatusInsufficientData, nil),
	})

	require.Len(t, records, 2)
	assert.Equal(t, "warn", *records[0].ItemID)
	assert.Equal(t, domain.SeverityWarning, records[0].Severity)
	assert.Equal(t, "-12", records[0].Evidence.Value.String())
	assert.Equal(t, "crit", *records[1].ItemID)
	assert.Equal(t, domain.SeverityCritical, records[1].Severity)

	ev := records[0].Evidence
	assert.Empty(t, ev.MovementIDs, "a mismatch cites no movements")
	require.NotNil(t, ev.Unit)
	assert.Equal(t, domain.StockUnit{ItemID: "warn", LocationID: "loc-1"}, *ev.Unit)
	require.NotNil(t, ev.Window)
	assert.Equal(t, domain.Window{Start: start, End: evening}, *ev.Window)

	again := newDetector().DetectMismatches([]domain.ReconciliationResult{result("warn", domain.StatusShortage, pct(-15))})
	assert.Equal(t, records[0].Fingerprint, again[0].Fingerprint, "same unit and window dedupes")

	later := result("warn", domain.StatusShortage, pct(-12))
	later.WindowStart, later.WindowEnd = evening, evening.Add(24*time.Hour)
	next := newDetector().DetectMismatches([]domain.ReconciliationResult{later})
	assert.NotEqual(t, records[0].Fingerprint, next[0].Fingerprint, "a new window is a new record")
}

func TestFingerprint_OrderIndependent(t *testing.T) {
	a := anomaly.Fingerprint(domain.AnomalyRapidRepeatPour, []string{"x", "y"})
	b := anomaly.Fingerprint(domain.AnomalyRapidRepeatPour, []string{"y", "x"})
	c := anomaly.Fingerprint(domain.AnomalyOffHoursActivity, []string{"x", "y"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestNewConfig(t *testing.T) {
	cfg, err := anomaly.NewConfig(config.AnomalyConfig{
		RapidRepeatInterval: 30 * time.Second,
		MinPourVolume:       10,
		MaxPourVolume:       100,
		CriticalPourVolume:  150,
		ClosedStart:         "22:30",
		ClosedEnd:           "06:00",
		Timezone:            "Europe/London",
		ErrorBurstThreshold: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 22*time.Hour+30*time.Minute, cfg.ClosedStart)
	assert.Equal(t, 6*time.Hour, cfg.ClosedEnd)
	assert.Equal(t, "Europe/London", cfg.Location.String())

	_, err = anomaly.NewConfig(config.AnomalyConfig{ClosedStart: "25:00", ClosedEnd: "06:00"})
	assert.Error(t, err)
}
