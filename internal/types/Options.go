/*

This file contains the types for option positions, strikes and expiry boards,
which carry all the state needed by the collateral and liquidity engines.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
)

type (
	PositionID uint64
	StrikeID   uint64
	BoardID    uint64
)

// OptionType identifies the five supported option variants. Short types name
// the asset posted as collateral.
type OptionType int8

const (
	LongCall OptionType = iota
	LongPut
	ShortCallBase
	ShortCallQuote
	ShortPutQuote
)

func (t OptionType) String() string {
	switch t {
	case LongCall:
		return "LONG_CALL"
	case LongPut:
		return "LONG_PUT"
	case ShortCallBase:
		return "SHORT_CALL_BASE"
	case ShortCallQuote:
		return "SHORT_CALL_QUOTE"
	case ShortPutQuote:
		return "SHORT_PUT_QUOTE"
	default:
		return "UNKNOWN"
	}
}

// IsLong reports whether the pool is the option writer for this type.
func (t OptionType) IsLong() bool {
	return t == LongCall || t == LongPut
}

func (t OptionType) IsShort() bool {
	return !t.IsLong()
}

func (t OptionType) IsCall() bool {
	return t == LongCall || t == ShortCallBase || t == ShortCallQuote
}

// IsBaseCollateral reports whether the short is physically collateralized in
// the base asset rather than quote.
func (t OptionType) IsBaseCollateral() bool {
	return t == ShortCallBase
}

// PositionState tracks the lifecycle of a position. Terminal states keep the
// record around for auditing; only ACTIVE positions carry exposure.
type PositionState int8

const (
	Empty PositionState = iota
	Active
	Closed
	Liquidated
	Settled
	Merged
)

func (s PositionState) String() string {
	switch s {
	case Empty:
		return "EMPTY"
	case Active:
		return "ACTIVE"
	case Closed:
		return "CLOSED"
	case Liquidated:
		return "LIQUIDATED"
	case Settled:
		return "SETTLED"
	case Merged:
		return "MERGED"
	default:
		return "UNKNOWN"
	}
}

// Position is a single option position held against the pool.
type Position struct {
	ID         PositionID        `json:"position_id"`
	StrikeID   StrikeID          `json:"strike_id"`
	OptionType OptionType        `json:"option_type"`
	Amount     sdkmath.LegacyDec `json:"amount"`
	Collateral sdkmath.LegacyDec `json:"collateral"` // only meaningful for short types
	State      PositionState     `json:"state"`
	Owner      string            `json:"owner"`
}

// Exposure holds the aggregate open amounts at a strike, per option type.
type Exposure struct {
	LongCall       sdkmath.LegacyDec `json:"long_call"`
	LongPut        sdkmath.LegacyDec `json:"long_put"`
	ShortCallBase  sdkmath.LegacyDec `json:"short_call_base"`
	ShortCallQuote sdkmath.LegacyDec `json:"short_call_quote"`
	ShortPutQuote  sdkmath.LegacyDec `json:"short_put_quote"`
}

// ZeroExposure returns an Exposure with every leg zeroed.
func ZeroExposure() Exposure {
	z := sdkmath.LegacyZeroDec()
	return Exposure{LongCall: z, LongPut: z, ShortCallBase: z, ShortCallQuote: z, ShortPutQuote: z}
}

// NetShortCalls is the total short call amount across collateral types.
func (e Exposure) NetShortCalls() sdkmath.LegacyDec {
	return e.ShortCallBase.Add(e.ShortCallQuote)
}

// Strike is a single strike listed on a board.
type Strike struct {
	ID          StrikeID          `json:"strike_id"`
	BoardID     BoardID           `json:"board_id"`
	StrikePrice sdkmath.LegacyDec `json:"strike_price"`
	Skew        sdkmath.LegacyDec `json:"skew"` // multiplier applied to the board base IV
	Exposure    Exposure          `json:"exposure"`
}

// Vol is the strike implied volatility, board base IV scaled by skew.
func (s Strike) Vol(baseIV sdkmath.LegacyDec) sdkmath.LegacyDec {
	return baseIV.Mul(s.Skew)
}

// Board is one expiry listing a set of strikes.
type Board struct {
	ID        BoardID           `json:"board_id"`
	Expiry    int64             `json:"expiry"` // unix seconds
	BaseIV    sdkmath.LegacyDec `json:"base_iv"`
	StrikeIDs []StrikeID        `json:"strike_ids"`
	Frozen    bool              `json:"frozen"`
	Settled   bool              `json:"settled"`
}

// NetGreeks is the pool-wide aggregate greek exposure from the greek cache.
type NetGreeks struct {
	NetDelta       sdkmath.LegacyDec `json:"net_delta"`
	NetStdVega     sdkmath.LegacyDec `json:"net_std_vega"`
	NetOptionValue sdkmath.LegacyDec `json:"net_option_value"` // positive = asset to the pool
}

// LockedCollateral is the pool collateral backing open positions, split by
// denomination.
type LockedCollateral struct {
	Base  sdkmath.LegacyDec `json:"base"`
	Quote sdkmath.LegacyDec `json:"quote"`
}

// HedgerState is the externally visible state of the delta hedger, consumed
// by the liquidity accounting engine.
type HedgerState struct {
	CurrentHedge    sdkmath.LegacyDec `json:"current_hedge"` // signed, positive = long base
	Collateral      sdkmath.LegacyDec `json:"collateral"`    // quote posted against the hedge
	LastInteraction int64             `json:"last_interaction"`
}
