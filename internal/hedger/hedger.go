/*

This file contains the delta hedger interface consumed by the liquidity pool,
plus the no-op implementation used when no hedging venue is configured.

*/

package hedger

import (
	"errors"

	sdkmath "cosmossdk.io/math"
)

var (
	ErrInteractionDelayNotExpired = errors.New("hedger interaction delay has not expired")
)

// DeltaHedger maintains a hedge position against the pool's aggregate option
// delta. Implementations are selected by configuration; the pool never
// special-cases a missing hedger.
type DeltaHedger interface {
	// ExpectedHedge is the capped hedge target in signed base units,
	// positive = long the base asset.
	ExpectedHedge() (sdkmath.LegacyDec, error)

	// CurrentHedge is the live hedge position, sign-consistent with
	// ExpectedHedge.
	CurrentHedge() sdkmath.LegacyDec

	// HedgeDelta moves the hedge toward the target, respecting the
	// interaction delay and available free liquidity. Returns the hedge after
	// the move; a partial move toward target is success, not failure.
	HedgeDelta() (sdkmath.LegacyDec, error)

	// HedgingLiquidity reports the quote value reserved for hedge growth
	// (pending) and tied up in the live hedge (used).
	HedgingLiquidity(spotPrice sdkmath.LegacyDec) (pending, used sdkmath.LegacyDec, err error)

	// ResetInteractionDelay clears the interaction timer, called by the pool
	// after a board settlement discontinuously changes aggregate delta.
	ResetInteractionDelay()
}

// NoOp is the hedger installed when no venue is configured. It holds no
// position and reserves no liquidity.
type NoOp struct{}

func NewNoOp() *NoOp { return &NoOp{} }

func (NoOp) ExpectedHedge() (sdkmath.LegacyDec, error) { return sdkmath.LegacyZeroDec(), nil }
func (NoOp) CurrentHedge() sdkmath.LegacyDec           { return sdkmath.LegacyZeroDec() }
func (NoOp) HedgeDelta() (sdkmath.LegacyDec, error)    { return sdkmath.LegacyZeroDec(), nil }
func (NoOp) HedgingLiquidity(sdkmath.LegacyDec) (sdkmath.LegacyDec, sdkmath.LegacyDec, error) {
	return sdkmath.LegacyZeroDec(), sdkmath.LegacyZeroDec(), nil
}
func (NoOp) ResetInteractionDelay() {}
