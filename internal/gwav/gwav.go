/*

This file contains the geometric time-weighted average (GWAV) oracle: an
append-only series of strictly positive observations answering windowed
geometric-mean queries. It smooths the implied volatility and skew inputs the
collateral engine prices forced closes with.

The series keeps a running cumulative log-sum q(t) = ∫ ln(v) dt. An
observation recorded at t_i applies over the elapsed interval (t_{i-1}, t_i],
so q_i = q_{i-1} + ln(v_i)·(t_i − t_{i-1}) and q is linear between stored
points. The geometric mean over [a, b] is exp((q(b) − q(a)) / (b − a)).

*/

package gwav

import (
	"errors"
	"fmt"
	"math"
	"sort"

	sdkmath "cosmossdk.io/math"

	"github.com/arcadia-markets/ovm/internal/utils"
)

var (
	ErrAlreadyInitialized    = errors.New("series already initialized")
	ErrNotInitialized        = errors.New("series not initialized")
	ErrInvalidBlockTimestamp = errors.New("observation timestamp precedes latest")
	ErrInvalidValue          = errors.New("observation value must be positive")
	ErrInvalidWindow         = errors.New("window start must not follow window end")
	ErrWindowPrecedesSeries  = errors.New("window start precedes earliest observation")
)

type observation struct {
	timestamp int64
	lnValue   float64 // ln of the value recorded at this point
	q         float64 // cumulative log-sum up to timestamp
}

// Series is a single GWAV time series. It is not safe for concurrent use; the
// owning engine serializes access.
type Series struct {
	obs []observation
}

// New returns an empty, uninitialized series.
func New() *Series {
	return &Series{}
}

// Initialized reports whether the series has been seeded.
func (s *Series) Initialized() bool {
	return len(s.obs) > 0
}

// Initialize seeds the series with its first observation. Fails if called
// twice.
func (s *Series) Initialize(value sdkmath.LegacyDec, timestamp int64) error {
	if s.Initialized() {
		return ErrAlreadyInitialized
	}
	ln, err := lnOf(value)
	if err != nil {
		return err
	}
	s.obs = append(s.obs, observation{timestamp: timestamp, lnValue: ln, q: 0})
	return nil
}

// Record appends a new observation. A timestamp equal to the latest overwrites
// the latest value in place (multiple writes in the same block); an earlier
// timestamp fails with ErrInvalidBlockTimestamp.
func (s *Series) Record(value sdkmath.LegacyDec, timestamp int64) error {
	if !s.Initialized() {
		return ErrNotInitialized
	}
	ln, err := lnOf(value)
	if err != nil {
		return err
	}
	last := &s.obs[len(s.obs)-1]
	if timestamp < last.timestamp {
		return fmt.Errorf("%w: %d < %d", ErrInvalidBlockTimestamp, timestamp, last.timestamp)
	}
	if timestamp == last.timestamp {
		// Same-block overwrite. The cumulative sum up to this point was
		// accrued with this observation's value, so it must be rebuilt too.
		last.lnValue = ln
		if len(s.obs) > 1 {
			prev := s.obs[len(s.obs)-2]
			last.q = prev.q + ln*float64(last.timestamp-prev.timestamp)
		}
		return nil
	}
	s.obs = append(s.obs, observation{
		timestamp: timestamp,
		lnValue:   ln,
		q:         last.q + ln*float64(timestamp-last.timestamp),
	})
	return nil
}

// ValueBetween returns the geometric mean of the series over the window
// [now − secondsAgoStart, now − secondsAgoEnd]. A degenerate window
// (secondsAgoStart == secondsAgoEnd) returns the interpolated instantaneous
// value at that point.
func (s *Series) ValueBetween(now int64, secondsAgoStart, secondsAgoEnd int64) (sdkmath.LegacyDec, error) {
	if !s.Initialized() {
		return sdkmath.LegacyDec{}, ErrNotInitialized
	}
	if secondsAgoStart < secondsAgoEnd {
		return sdkmath.LegacyDec{}, ErrInvalidWindow
	}
	timeA := now - secondsAgoStart
	timeB := now - secondsAgoEnd
	if timeA < s.obs[0].timestamp {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %d < %d", ErrWindowPrecedesSeries, timeA, s.obs[0].timestamp)
	}
	if timeA == timeB {
		return utils.Float64ToDec(math.Exp(s.lnValueAt(timeA)))
	}
	qA := s.qAt(timeA)
	qB := s.qAt(timeB)
	mean := (qB - qA) / float64(timeB-timeA)
	return utils.Float64ToDec(math.Exp(mean))
}

// qAt interpolates the cumulative log-sum at time t. Times beyond the latest
// observation extrapolate with the latest value held flat.
func (s *Series) qAt(t int64) float64 {
	last := s.obs[len(s.obs)-1]
	if t >= last.timestamp {
		return last.q + last.lnValue*float64(t-last.timestamp)
	}
	// Index of the first observation at or after t; its value applies over the
	// interval that contains t.
	i := sort.Search(len(s.obs), func(i int) bool { return s.obs[i].timestamp >= t })
	if s.obs[i].timestamp == t {
		return s.obs[i].q
	}
	prev := s.obs[i-1]
	return prev.q + s.obs[i].lnValue*float64(t-prev.timestamp)
}

// lnValueAt returns ln of the instantaneous value at time t.
func (s *Series) lnValueAt(t int64) float64 {
	last := s.obs[len(s.obs)-1]
	if t >= last.timestamp {
		return last.lnValue
	}
	i := sort.Search(len(s.obs), func(i int) bool { return s.obs[i].timestamp >= t })
	return s.obs[i].lnValue
}

// FirstTimestamp returns the timestamp of the earliest observation, the lower
// bound on queryable window starts.
func (s *Series) FirstTimestamp() (int64, error) {
	if !s.Initialized() {
		return 0, ErrNotInitialized
	}
	return s.obs[0].timestamp, nil
}

// Latest returns the most recently recorded value.
func (s *Series) Latest() (sdkmath.LegacyDec, error) {
	if !s.Initialized() {
		return sdkmath.LegacyDec{}, ErrNotInitialized
	}
	return utils.Float64ToDec(math.Exp(s.obs[len(s.obs)-1].lnValue))
}

func lnOf(value sdkmath.LegacyDec) (float64, error) {
	f, err := utils.DecToFloat64(value)
	if err != nil {
		return 0, err
	}
	if f <= 0 {
		return 0, ErrInvalidValue
	}
	return math.Log(f), nil
}
