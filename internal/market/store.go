package market

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrOutOfOrder indicates a write whose timestamp is not after the last stored point.
	ErrOutOfOrder = errors.New("market: out of order data")
	// ErrInsufficientData indicates a window with fewer points than the configured minimum.
	ErrInsufficientData = errors.New("market: insufficient data")
	// ErrUnknownAsset indicates a read for an asset that was never registered.
	ErrUnknownAsset = errors.New("market: unknown asset")
)

// StoreOptions tune the in-memory store.
type StoreOptions struct {
	// MinPoints is the minimum number of points a window must contain.
	MinPoints int
	// Retention bounds how much history is kept per asset; zero keeps everything.
	Retention time.Duration
}

// Store keeps the recent time series per asset. Writes are append-only and
// strictly ordered per asset; reads go through a Snapshot taken at cycle start.
type Store struct {
	mu     sync.RWMutex
	series map[string]*assetSeries
	opts   StoreOptions
}

type assetSeries struct {
	asset  Asset
	points []PricePoint
}

// NewStore constructs an empty store.
func NewStore(opts StoreOptions) *Store {
	if opts.MinPoints <= 0 {
		opts.MinPoints = 2
	}
	return &Store{
		series: make(map[string]*assetSeries),
		opts:   opts,
	}
}

// Record appends one point to the asset series. The timestamp must be strictly
// after the last stored timestamp for that asset; backdated writes are rejected
// with ErrOutOfOrder and leave the series untouched.
func (s *Store) Record(asset Asset, point PricePoint) error {
	if point.Timestamp.IsZero() {
		return fmt.Errorf("record %s: zero timestamp", asset.Symbol)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ser, ok := s.series[asset.Symbol]
	if !ok {
		ser = &assetSeries{asset: asset}
		s.series[asset.Symbol] = ser
	}

	if n := len(ser.points); n > 0 {
		last := ser.points[n-1].Timestamp
		if !point.Timestamp.After(last) {
			return fmt.Errorf("record %s at %s (last %s): %w",
				asset.Symbol, point.Timestamp.UTC().Format(time.RFC3339), last.UTC().Format(time.RFC3339), ErrOutOfOrder)
		}
	}

	ser.points = append(ser.points, point)
	s.trimLocked(ser, point.Timestamp)
	return nil
}

// trimLocked drops points older than the retention horizon. Points are
// immutable, so trimming reslices; snapshots taken earlier keep their view.
func (s *Store) trimLocked(ser *assetSeries, now time.Time) {
	if s.opts.Retention <= 0 {
		return
	}
	horizon := now.Add(-s.opts.Retention)
	idx := sort.Search(len(ser.points), func(i int) bool {
		return !ser.points[i].Timestamp.Before(horizon)
	})
	if idx > 0 {
		ser.points = ser.points[idx:]
	}
}

// Assets lists the registered assets, symbol-sorted.
func (s *Store) Assets() []Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assets := make([]Asset, 0, len(s.series))
	for _, ser := range s.series {
		assets = append(assets, ser.asset)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Symbol < assets[j].Symbol })
	return assets
}

// Snapshot captures a consistent read view. The pipeline performs every read of
// one evaluation cycle against the same snapshot, so concurrent ingestion can
// never change results mid-cycle.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	view := make(map[string]SeriesWindow, len(s.series))
	for symbol, ser := range s.series {
		// Slices are append-only; capturing the header freezes the view.
		view[symbol] = SeriesWindow{Asset: ser.asset, Points: ser.points[:len(ser.points):len(ser.points)]}
	}
	return &Snapshot{view: view, minPoints: s.opts.MinPoints}
}

// Snapshot is an immutable view over the store contents at one instant.
type Snapshot struct {
	view      map[string]SeriesWindow
	minPoints int
}

// Window returns the points for symbol within [asOf-lookback, asOf]. It fails
// with ErrInsufficientData rather than returning a silently short window.
func (s *Snapshot) Window(symbol string, lookback time.Duration, asOf time.Time) (SeriesWindow, error) {
	full, ok := s.view[symbol]
	if !ok {
		return SeriesWindow{}, fmt.Errorf("window %s: %w", symbol, ErrUnknownAsset)
	}

	from := asOf.Add(-lookback)
	points := full.Points
	lo := sort.Search(len(points), func(i int) bool { return !points[i].Timestamp.Before(from) })
	hi := sort.Search(len(points), func(i int) bool { return points[i].Timestamp.After(asOf) })

	window := SeriesWindow{Asset: full.Asset, From: from, To: asOf, Points: points[lo:hi]}
	if window.Len() < s.minPoints {
		return SeriesWindow{}, fmt.Errorf("window %s: %d of %d points: %w",
			symbol, window.Len(), s.minPoints, ErrInsufficientData)
	}
	return window, nil
}

// Latest returns the most recent point for symbol, if any.
func (s *Snapshot) Latest(symbol string) (PricePoint, bool) {
	full, ok := s.view[symbol]
	if !ok || len(full.Points) == 0 {
		return PricePoint{}, false
	}
	return full.Points[len(full.Points)-1], true
}
