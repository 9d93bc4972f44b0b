package engine

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"btc-dominance-alerts/internal/market"
)

// SpikeResult carries the accumulation verdict plus its severity so ranking can
// weight by magnitude instead of a bare boolean.
type SpikeResult struct {
	Asset     market.Asset
	Spike     bool
	Magnitude decimal.Decimal
	Baseline  decimal.Decimal
	Current   decimal.Decimal
}

// AccumulationOptions tune spike detection.
type AccumulationOptions struct {
	// Lookback bounds the volume history considered.
	Lookback time.Duration
	// BaselinePeriods caps how many trailing points (excluding the most recent)
	// feed the median baseline.
	BaselinePeriods int
	// Multiplier is the spike threshold: current >= baseline * multiplier.
	Multiplier decimal.Decimal
}

// AccumulationDetector flags volume spikes against a rolling median baseline.
type AccumulationDetector struct {
	snap *market.Snapshot
	opts AccumulationOptions
}

// NewAccumulationDetector binds the detector to one cycle snapshot.
func NewAccumulationDetector(snap *market.Snapshot, opts AccumulationOptions) *AccumulationDetector {
	if opts.Lookback <= 0 {
		opts.Lookback = 24 * time.Hour
	}
	if opts.BaselinePeriods <= 0 {
		opts.BaselinePeriods = 20
	}
	if opts.Multiplier.LessThanOrEqual(decimal.NewFromInt(1)) {
		opts.Multiplier = decimal.NewFromInt(3)
	}
	return &AccumulationDetector{snap: snap, opts: opts}
}

// Detect compares the most recent volume against the median of the trailing
// baseline. Missing periods are simply absent from the window; they never enter
// the baseline as zeros. Propagates market.ErrInsufficientData.
func (d *AccumulationDetector) Detect(symbol string, asOf time.Time) (SpikeResult, error) {
	window, err := d.snap.Window(symbol, d.opts.Lookback, asOf)
	if err != nil {
		return SpikeResult{}, err
	}

	points := window.Points
	current := points[len(points)-1].Volume

	baselinePoints := points[:len(points)-1]
	if len(baselinePoints) > d.opts.BaselinePeriods {
		baselinePoints = baselinePoints[len(baselinePoints)-d.opts.BaselinePeriods:]
	}

	baseline := medianVolume(baselinePoints)
	result := SpikeResult{
		Asset:    window.Asset,
		Baseline: baseline,
		Current:  current,
	}

	if baseline.IsZero() {
		// No meaningful baseline; never signal off an empty book.
		return result, nil
	}

	result.Magnitude = current.Div(baseline)
	result.Spike = result.Magnitude.GreaterThanOrEqual(d.opts.Multiplier)
	return result, nil
}

func medianVolume(points []market.PricePoint) decimal.Decimal {
	if len(points) == 0 {
		return decimal.Zero
	}
	volumes := make([]decimal.Decimal, len(points))
	for i, p := range points {
		volumes[i] = p.Volume
	}
	sort.Slice(volumes, func(i, j int) bool { return volumes[i].LessThan(volumes[j]) })

	mid := len(volumes) / 2
	if len(volumes)%2 == 1 {
		return volumes[mid]
	}
	return volumes[mid-1].Add(volumes[mid]).Div(decimal.NewFromInt(2))
}
