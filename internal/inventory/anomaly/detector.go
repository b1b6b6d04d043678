// Package anomaly flags irregular dispensing in raw pour movements and
// turns non-matched reconciliations into stock-mismatch records.
package anomaly

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/shopspring/decimal"
)

// UnitError reports a device or stock unit whose detection failed.
type UnitError struct {
	Unit string
	Err  error
}

func (e UnitError) Error() string {
	return e.Unit + ": " + e.Err.Error()
}

// Input is one detection run: pour movements in the trailing window and the
// reconciliation results of the same sweep.
type Input struct {
	Pours   []domain.StockMovement
	Results []domain.ReconciliationResult
}

// Output holds the candidate records and the units that failed.
type Output struct {
	Records    []domain.AnomalyRecord
	UnitErrors []UnitError
}

// Detector applies the detection rules. It is stateless; dedupe against
// earlier runs happens on insert by (type, fingerprint).
type Detector struct {
	cfg Config
	now func() time.Time
}

// New creates a detector.
func New(cfg Config) *Detector {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Detector{cfg: cfg, now: time.Now}
}

// WithClock replaces the clock used for DetectedAt.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// Detect runs every rule over in. Pours are grouped by device and a
// failing device does not stop the others.
func (d *Detector) Detect(ctx context.Context, in Input) Output {
	byDevice := make(map[string][]domain.StockMovement)
	for _, m := range in.Pours {
		id := ""
		if m.DeviceID != nil {
			id = *m.DeviceID
		}
		byDevice[id] = append(byDevice[id], m)
	}

	devices := make([]string, 0, len(byDevice))
	for id := range byDevice {
		devices = append(devices, id)
	}
	sort.Strings(devices)

	var out Output
	for _, id := range devices {
		if err := ctx.Err(); err != nil {
			out.UnitErrors = append(out.UnitErrors, UnitError{Unit: "device/" + id, Err: err})
			break
		}
		records, err := d.DetectDevice(id, byDevice[id])
		if err != nil {
			out.UnitErrors = append(out.UnitErrors, UnitError{Unit: "device/" + id, Err: err})
			continue
		}
		out.Records = append(out.Records, records...)
	}

	out.Records = append(out.Records, d.DetectMismatches(in.Results)...)
	return out
}

// DetectDevice applies the per-event and per-device rules to the pours of
// one device.
func (d *Detector) DetectDevice(deviceID string, pours []domain.StockMovement) ([]domain.AnomalyRecord, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%d pours without a device", len(pours))
	}
	for _, m := range pours {
		if m.Kind != domain.KindPour || m.DeviceID == nil || *m.DeviceID != deviceID {
			return nil, fmt.Errorf("movement %s is not a pour of device %s", m.ID, deviceID)
		}
	}

	sorted := append([]domain.StockMovement(nil), pours...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].OccurredAt.Equal(sorted[j].OccurredAt) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].OccurredAt.Before(sorted[j].OccurredAt)
	})

	var (
		records []domain.AnomalyRecord
		prev    *domain.StockMovement
		errored []domain.StockMovement
	)
	for i := range sorted {
		m := sorted[i]

		if d.offHours(m.OccurredAt) {
			local := m.OccurredAt.In(d.cfg.Location)
			minute := int64(local.Hour()*60 + local.Minute())
			records = append(records, d.record(domain.AnomalyOffHoursActivity, domain.SeverityInfo, m,
				"local_minute_of_day", decimal.NewFromInt(minute), m.ID))
		}

		if m.DeviceError {
			errored = append(errored, m)
			continue
		}

		volume := m.Delta.Abs()
		if sev, ok := d.volumeSeverity(volume); ok {
			records = append(records, d.record(domain.AnomalyOutOfRangeVolume, sev, m, "volume", volume, m.ID))
		}

		if prev != nil {
			gap := m.OccurredAt.Sub(prev.OccurredAt)
			if gap < d.cfg.RapidRepeatInterval {
				records = append(records, d.record(domain.AnomalyRapidRepeatPour, domain.SeverityWarning, m,
					"interval_seconds", decimal.NewFromFloat(gap.Seconds()), prev.ID, m.ID))
			}
		}
		prev = &sorted[i]
	}

	if len(errored) > d.cfg.ErrorBurstThreshold {
		ids := make([]string, len(errored))
		for i, m := range errored {
			ids[i] = m.ID
		}
		last := errored[len(errored)-1]
		records = append(records, d.record(domain.AnomalyDeviceErrorBurst, domain.SeverityCritical, last,
			"error_count", decimal.NewFromInt(int64(len(errored))), ids...))
	}

	return records, nil
}

// DetectMismatches emits a stock-mismatch record for each computed result
// whose variance percent exceeds the warning threshold. The record is
// fingerprinted on its unit and window, so re-reconciling the same window
// maps to the same record whatever the variance has become.
func (d *Detector) DetectMismatches(results []domain.ReconciliationResult) []domain.AnomalyRecord {
	var records []domain.AnomalyRecord
	for _, r := range results {
		if r.State != domain.StateComputed || r.VariancePercent == nil {
			continue
		}
		if r.Status != domain.StatusSurplus && r.Status != domain.StatusShortage {
			continue
		}

		pct := *r.VariancePercent
		if pct < 0 {
			pct = -pct
		}
		var sev domain.Severity
		switch {
		case pct > d.cfg.MismatchCriticalPercent:
			sev = domain.SeverityCritical
		case pct > d.cfg.MismatchWarningPercent:
			sev = domain.SeverityWarning
		default:
			continue
		}

		itemID := r.ItemID
		unit := domain.StockUnit{ItemID: r.ItemID, LocationID: r.LocationID}
		window := domain.Window{Start: r.WindowStart.UTC(), End: r.WindowEnd.UTC()}
		evidence := domain.Evidence{
			MovementIDs: []string{},
			Unit:        &unit,
			Window:      &window,
			Metric:      "variance_percent",
			Value:       decimal.NewFromInt(*r.VariancePercent),
		}
		records = append(records, domain.AnomalyRecord{
			Type:        domain.AnomalyStockMismatch,
			Severity:    sev,
			ItemID:      &itemID,
			LocationID:  r.LocationID,
			Evidence:    evidence,
			Fingerprint: Fingerprint(domain.AnomalyStockMismatch, []string{
				unit.String(), window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339),
			}),
			DetectedAt:  d.now().UTC(),
			ReviewState: domain.ReviewOpen,
		})
	}
	return records
}

func (d *Detector) volumeSeverity(v decimal.Decimal) (domain.Severity, bool) {
	switch {
	case v.GreaterThan(d.cfg.CriticalVolume):
		return domain.SeverityCritical, true
	case v.LessThan(d.cfg.MinVolume), v.GreaterThan(d.cfg.MaxVolume):
		return domain.SeverityWarning, true
	}
	return "", false
}

func (d *Detector) offHours(t time.Time) bool {
	start, end := d.cfg.ClosedStart, d.cfg.ClosedEnd
	if start == end {
		return false
	}
	local := t.In(d.cfg.Location)
	tod := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second
	if start < end {
		return tod >= start && tod < end
	}
	return tod >= start || tod < end
}

func (d *Detector) record(typ domain.AnomalyType, sev domain.Severity, m domain.StockMovement, metric string, value decimal.Decimal, ids ...string) domain.AnomalyRecord {
	itemID := m.ItemID
	deviceID := *m.DeviceID
	return domain.AnomalyRecord{
		Type:        typ,
		Severity:    sev,
		ItemID:      &itemID,
		LocationID:  m.LocationID,
		DeviceID:    &deviceID,
		Evidence:    domain.Evidence{MovementIDs: ids, Metric: metric, Value: value},
		Fingerprint: Fingerprint(typ, ids),
		DetectedAt:  d.now().UTC(),
		ReviewState: domain.ReviewOpen,
	}
}

// Fingerprint identifies an anomaly by its type and evidence set,
// independent of evidence order.
func Fingerprint(typ domain.AnomalyType, evidenceIDs []string) string {
	ids := append([]string(nil), evidenceIDs...)
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(string(typ) + "|" + strings.Join(ids, ",")))
	return hex.EncodeToString(sum[:])
}
