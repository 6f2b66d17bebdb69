/*

This file contains the board greek cache. Each live board carries a cached set
of net greeks, a GWAV series smoothing its base IV and one per strike smoothing
skew. Smoothed vols feed force-close pricing; the IV/skew variance readings
feed the pool's variance circuit breaker.

*/

package ledger

import (
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/arcadia-markets/ovm/internal/gwav"
	"github.com/arcadia-markets/ovm/internal/logger"
	"github.com/arcadia-markets/ovm/internal/pricing"
	"github.com/arcadia-markets/ovm/internal/types"
	"github.com/arcadia-markets/ovm/internal/utils"
)

var ErrBoardNotCached = errors.New("board has no cached greeks")

const (
	secondsPerYear   = 365 * 24 * 3600
	stdVegaWindowSec = 30 * 24 * 3600 // std vega normalizes to 30 days of expiry
	vegaBump         = 0.01           // vol bump for finite-difference vega
)

type boardGreeks struct {
	updatedAt      int64
	netDelta       sdkmath.LegacyDec
	netStdVega     sdkmath.LegacyDec
	netOptionValue sdkmath.LegacyDec

	iv              *gwav.Series
	skews           map[types.StrikeID]*gwav.Series
	ivVariance      sdkmath.LegacyDec // |current base IV - smoothed| at last update
	maxSkewVariance sdkmath.LegacyDec
}

// GreekCache maintains per-board net greeks and smoothed volatility series.
// Like the ledger it relies on the pool for serialization.
type GreekCache struct {
	log    zerolog.Logger
	params types.GreekCacheParameters
	model  pricing.Model
	boards map[types.BoardID]*boardGreeks
}

func NewGreekCache(params types.GreekCacheParameters, model pricing.Model) (*GreekCache, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if model == nil {
		return nil, errors.New("pricing model cannot be nil")
	}
	return &GreekCache{
		log:    logger.GetForComponent("greek_cache"),
		params: params,
		model:  model,
		boards: make(map[types.BoardID]*boardGreeks),
	}, nil
}

// UpdateBoard recomputes a board's net greeks at the current spot, records the
// board IV and per-strike skews into their GWAV series, and refreshes the
// variance readings. Greeks are taken from the pool's side of the book: trader
// shorts are assets, trader longs liabilities.
func (c *GreekCache) UpdateBoard(board types.Board, strikes []types.Strike, spot sdkmath.LegacyDec, now int64) error {
	if spot.IsNil() || !spot.IsPositive() {
		return errors.New("spot price must be positive")
	}
	bg, ok := c.boards[board.ID]
	if !ok {
		bg = &boardGreeks{
			iv:    gwav.New(),
			skews: make(map[types.StrikeID]*gwav.Series),
		}
		c.boards[board.ID] = bg
	}
	if err := recordOrInit(bg.iv, board.BaseIV, now); err != nil {
		return fmt.Errorf("recording board IV: %w", err)
	}
	smoothedIV, err := c.smoothed(bg.iv, now, c.params.VolGWAVPeriod)
	if err != nil {
		return fmt.Errorf("smoothing board IV: %w", err)
	}
	bg.ivVariance = board.BaseIV.Sub(smoothedIV).Abs()

	tte := board.Expiry - now
	if tte < 0 {
		tte = 0
	}
	tteYears := float64(tte) / secondsPerYear

	netDelta := sdkmath.LegacyZeroDec()
	netStdVega := sdkmath.LegacyZeroDec()
	netOptionValue := sdkmath.LegacyZeroDec()
	maxSkewVariance := sdkmath.LegacyZeroDec()

	for _, s := range strikes {
		sk, ok := bg.skews[s.ID]
		if !ok {
			sk = gwav.New()
			bg.skews[s.ID] = sk
		}
		if err := recordOrInit(sk, s.Skew, now); err != nil {
			return fmt.Errorf("recording skew for strike %d: %w", s.ID, err)
		}
		smoothedSkew, err := c.smoothed(sk, now, c.params.SkewGWAVPeriod)
		if err != nil {
			return fmt.Errorf("smoothing skew for strike %d: %w", s.ID, err)
		}
		maxSkewVariance = utils.MaxDec(maxSkewVariance, s.Skew.Sub(smoothedSkew).Abs())

		vol := s.Vol(board.BaseIV)
		netCalls := s.Exposure.NetShortCalls().Sub(s.Exposure.LongCall)
		netPuts := s.Exposure.ShortPutQuote.Sub(s.Exposure.LongPut)
		if netCalls.IsZero() && netPuts.IsZero() {
			continue
		}

		callPrice, err := c.model.Price(true, spot, s.StrikePrice, vol, tteYears, c.params.RateAndCarry)
		if err != nil {
			return fmt.Errorf("pricing strike %d: %w", s.ID, err)
		}
		putPrice, err := c.model.Price(false, spot, s.StrikePrice, vol, tteYears, c.params.RateAndCarry)
		if err != nil {
			return fmt.Errorf("pricing strike %d: %w", s.ID, err)
		}
		callDelta, err := c.model.Delta(true, spot, s.StrikePrice, vol, tteYears, c.params.RateAndCarry)
		if err != nil {
			return fmt.Errorf("delta for strike %d: %w", s.ID, err)
		}
		putDelta, err := c.model.Delta(false, spot, s.StrikePrice, vol, tteYears, c.params.RateAndCarry)
		if err != nil {
			return fmt.Errorf("delta for strike %d: %w", s.ID, err)
		}
		vega, err := c.vega(spot, s.StrikePrice, vol, tteYears)
		if err != nil {
			return fmt.Errorf("vega for strike %d: %w", s.ID, err)
		}
		stdVega := vega.Mul(stdVegaFactor(tte))

		netDelta = netDelta.Add(netCalls.Mul(callDelta)).Add(netPuts.Mul(putDelta))
		netOptionValue = netOptionValue.Add(netCalls.Mul(callPrice)).Add(netPuts.Mul(putPrice))
		netStdVega = netStdVega.Add(netCalls.Add(netPuts).Mul(stdVega))
	}

	bg.netDelta = netDelta
	bg.netStdVega = netStdVega
	bg.netOptionValue = netOptionValue
	bg.maxSkewVariance = maxSkewVariance
	bg.updatedAt = now
	c.log.Debug().
		Uint64("boardId", uint64(board.ID)).
		Str("netDelta", netDelta.String()).
		Str("netOptionValue", netOptionValue.String()).
		Msg("Board greeks updated")
	return nil
}

// IsBoardStale reports whether a board's cache is older than the staleness
// duration. A board never cached is stale.
func (c *GreekCache) IsBoardStale(boardID types.BoardID, now int64) bool {
	bg, ok := c.boards[boardID]
	if !ok {
		return true
	}
	return now-bg.updatedAt > c.params.StalenessDuration
}

// AnyStale reports whether any of the given boards has a stale cache.
func (c *GreekCache) AnyStale(boardIDs []types.BoardID, now int64) bool {
	for _, id := range boardIDs {
		if c.IsBoardStale(id, now) {
			return true
		}
	}
	return false
}

// BoardGreeks returns the cached net greeks for one board.
func (c *GreekCache) BoardGreeks(boardID types.BoardID) (types.NetGreeks, error) {
	bg, ok := c.boards[boardID]
	if !ok {
		return types.NetGreeks{}, fmt.Errorf("%w: %d", ErrBoardNotCached, boardID)
	}
	return types.NetGreeks{
		NetDelta:       bg.netDelta,
		NetStdVega:     bg.netStdVega,
		NetOptionValue: bg.netOptionValue,
	}, nil
}

// GlobalNetGreeks sums cached greeks across the given boards. Boards with no
// cache contribute nothing; staleness is the caller's concern.
func (c *GreekCache) GlobalNetGreeks(boardIDs []types.BoardID) types.NetGreeks {
	out := types.NetGreeks{
		NetDelta:       sdkmath.LegacyZeroDec(),
		NetStdVega:     sdkmath.LegacyZeroDec(),
		NetOptionValue: sdkmath.LegacyZeroDec(),
	}
	for _, id := range boardIDs {
		bg, ok := c.boards[id]
		if !ok {
			continue
		}
		out.NetDelta = out.NetDelta.Add(bg.netDelta)
		out.NetStdVega = out.NetStdVega.Add(bg.netStdVega)
		out.NetOptionValue = out.NetOptionValue.Add(bg.netOptionValue)
	}
	return out
}

// Variances returns the board's IV variance and worst strike skew variance as
// of the last update, for the variance circuit breaker.
func (c *GreekCache) Variances(boardID types.BoardID) (ivVariance, skewVariance sdkmath.LegacyDec, err error) {
	bg, ok := c.boards[boardID]
	if !ok {
		return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, fmt.Errorf("%w: %d", ErrBoardNotCached, boardID)
	}
	return bg.ivVariance, bg.maxSkewVariance, nil
}

// ForceCloseVol returns the GWAV-smoothed strike volatility, smoothed IV times
// smoothed skew, used as the base vol for force closes and liquidations.
func (c *GreekCache) ForceCloseVol(boardID types.BoardID, strikeID types.StrikeID, now int64) (sdkmath.LegacyDec, error) {
	bg, ok := c.boards[boardID]
	if !ok {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %d", ErrBoardNotCached, boardID)
	}
	sk, ok := bg.skews[strikeID]
	if !ok {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: strike %d", ErrBoardNotCached, strikeID)
	}
	iv, err := c.smoothed(bg.iv, now, c.params.VolGWAVPeriod)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	skew, err := c.smoothed(sk, now, c.params.SkewGWAVPeriod)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return iv.Mul(skew), nil
}

// RemoveBoard drops a settled board's cache and series.
func (c *GreekCache) RemoveBoard(boardID types.BoardID) {
	delete(c.boards, boardID)
}

// smoothed queries a series over its configured window, clamped to the series
// age so young series do not fail the window bound.
func (c *GreekCache) smoothed(s *gwav.Series, now, period int64) (sdkmath.LegacyDec, error) {
	first, err := s.FirstTimestamp()
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	window := period
	if age := now - first; age < window {
		window = age
	}
	if window < 0 {
		window = 0
	}
	return s.ValueBetween(now, window, 0)
}

// vega is the finite-difference sensitivity to a unit vol move.
func (c *GreekCache) vega(spot, strike, vol sdkmath.LegacyDec, tteYears float64) (sdkmath.LegacyDec, error) {
	bump, err := utils.Float64ToDec(vegaBump)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	volDown := vol.Sub(bump)
	if !volDown.IsPositive() {
		volDown = vol
	}
	up, err := c.model.Price(true, spot, strike, vol.Add(bump), tteYears, c.params.RateAndCarry)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	down, err := c.model.Price(true, spot, strike, volDown, tteYears, c.params.RateAndCarry)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	spread := vol.Add(bump).Sub(volDown)
	if spread.IsZero() {
		return sdkmath.LegacyZeroDec(), nil
	}
	return up.Sub(down).Quo(spread), nil
}

func stdVegaFactor(tte int64) sdkmath.LegacyDec {
	if tte <= 0 {
		return sdkmath.LegacyZeroDec()
	}
	f, err := utils.Float64ToDec(math.Sqrt(float64(stdVegaWindowSec) / float64(tte)))
	if err != nil {
		return sdkmath.LegacyOneDec()
	}
	return f
}

func recordOrInit(s *gwav.Series, value sdkmath.LegacyDec, now int64) error {
	if !s.Initialized() {
		return s.Initialize(value, now)
	}
	return s.Record(value, now)
}
