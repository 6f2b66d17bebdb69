/*

This file contains the synthetic delta hedger. It hedges the pool's aggregate
option delta with a spot leg: long exposure is hedged by holding base bought on
the exchange, short exposure by posting quote collateral against a synthetic
short. Funding is drawn from and returned to the pool through callbacks wired
at construction.

*/

package hedger

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/arcadia-markets/ovm/internal/logger"
	"github.com/arcadia-markets/ovm/internal/oracle"
	"github.com/arcadia-markets/ovm/internal/types"
	"github.com/arcadia-markets/ovm/internal/utils"
)

// Funding is the pool-side money interface the hedger draws on. Draw moves
// quote from the pool's free balance into hedge custody, Return gives it back.
type Funding struct {
	FreeLiquidity func() (sdkmath.LegacyDec, error)
	Draw          func(amount sdkmath.LegacyDec) error
	Return        func(amount sdkmath.LegacyDec)
}

// Synthetic is the production DeltaHedger.
type Synthetic struct {
	log      zerolog.Logger
	params   types.HedgerParameters
	feed     oracle.PriceFeed
	exchange oracle.Exchange
	netDelta func() (sdkmath.LegacyDec, error)
	funding  Funding
	now      func() int64

	currentHedge    sdkmath.LegacyDec // signed base units, positive = long
	baseHeld        sdkmath.LegacyDec // base bought for the long leg
	collateral      sdkmath.LegacyDec // quote posted against the short leg
	lastInteraction int64
}

func NewSynthetic(
	params types.HedgerParameters,
	feed oracle.PriceFeed,
	exchange oracle.Exchange,
	netDelta func() (sdkmath.LegacyDec, error),
	funding Funding,
) (*Synthetic, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if feed == nil || exchange == nil || netDelta == nil {
		return nil, errors.New("hedger dependencies cannot be nil")
	}
	if funding.FreeLiquidity == nil || funding.Draw == nil || funding.Return == nil {
		return nil, errors.New("hedger funding callbacks cannot be nil")
	}
	return &Synthetic{
		log:          logger.GetForComponent("delta_hedger"),
		params:       params,
		feed:         feed,
		exchange:     exchange,
		netDelta:     netDelta,
		funding:      funding,
		now:          func() int64 { return time.Now().Unix() },
		currentHedge: sdkmath.LegacyZeroDec(),
		baseHeld:     sdkmath.LegacyZeroDec(),
		collateral:   sdkmath.LegacyZeroDec(),
	}, nil
}

// SetClock overrides the time source, for deterministic tests and simulation.
func (h *Synthetic) SetClock(now func() int64) {
	h.now = now
}

// ExpectedHedge negates the pool's net option delta and clamps it to the
// configured cap.
func (h *Synthetic) ExpectedHedge() (sdkmath.LegacyDec, error) {
	netDelta, err := h.netDelta()
	if err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("reading net delta: %w", err)
	}
	return utils.ClampDec(netDelta.Neg(), h.params.HedgeCap.Neg(), h.params.HedgeCap), nil
}

func (h *Synthetic) CurrentHedge() sdkmath.LegacyDec {
	return h.currentHedge
}

// State snapshots the hedger for telemetry.
func (h *Synthetic) State() types.HedgerState {
	return types.HedgerState{
		CurrentHedge:    h.currentHedge,
		Collateral:      h.collateral,
		LastInteraction: h.lastInteraction,
	}
}

// HedgeDelta rebalances toward the capped target. A call that leaves the
// hedge where it was, either a target equal to the current hedge or a growth
// attempt that found no funding, does not touch the interaction timer. The
// interaction delay rejects early rebalances unless the target is exactly
// flat. Growth is bounded by free liquidity and may stop short of target;
// shrinking always completes.
func (h *Synthetic) HedgeDelta() (sdkmath.LegacyDec, error) {
	target, err := h.ExpectedHedge()
	if err != nil {
		return h.currentHedge, err
	}
	if target.Equal(h.currentHedge) {
		return h.currentHedge, nil
	}
	now := h.now()
	if now-h.lastInteraction < h.params.InteractionDelay && !target.IsZero() {
		return h.currentHedge, fmt.Errorf("%w: %ds remaining",
			ErrInteractionDelayNotExpired, h.params.InteractionDelay-(now-h.lastInteraction))
	}
	spot, err := h.feed.SpotPrice()
	if err != nil {
		return h.currentHedge, fmt.Errorf("reading spot for rebalance: %w", err)
	}

	// A leg on the wrong side of the target is unwound first; shrinking is
	// never liquidity-gated.
	before := h.currentHedge
	if (h.currentHedge.IsPositive() && !target.IsPositive()) ||
		(h.currentHedge.IsNegative() && !target.IsNegative()) {
		if err := h.flatten(); err != nil {
			return h.currentHedge, err
		}
	}

	switch {
	case target.Abs().LT(h.currentHedge.Abs()):
		if err := h.shrink(target, spot); err != nil {
			return h.currentHedge, err
		}
	case target.Abs().GT(h.currentHedge.Abs()):
		if err := h.grow(target, spot); err != nil {
			return h.currentHedge, err
		}
	}

	if h.currentHedge.Equal(before) {
		// nothing moved, typically because growth found no free liquidity;
		// the interaction timer stays untouched
		return h.currentHedge, nil
	}

	h.lastInteraction = now
	h.log.Info().
		Str("target", target.String()).
		Str("hedge", h.currentHedge.String()).
		Msg("Hedge rebalanced")
	return h.currentHedge, nil
}

// HedgingLiquidity reports the pending reservation for hedge growth, inflated
// by the short buffer, and the quote value currently tied up in the hedge.
// Used value is recomputed from live balances every call so that collateral
// donated directly to the hedger is never stale.
func (h *Synthetic) HedgingLiquidity(spotPrice sdkmath.LegacyDec) (pending, used sdkmath.LegacyDec, err error) {
	zero := sdkmath.LegacyZeroDec()
	if spotPrice.IsNil() || !spotPrice.IsPositive() {
		return zero, zero, errors.New("spot price must be positive")
	}
	target, err := h.ExpectedHedge()
	if err != nil {
		return zero, zero, err
	}

	pending = zero
	growth := target.Abs()
	if sameSign(target, h.currentHedge) {
		growth = utils.FloorZero(target.Abs().Sub(h.currentHedge.Abs()))
	}
	if growth.IsPositive() {
		pending = growth.Mul(spotPrice).Mul(h.params.ShortBuffer)
	}

	used = h.collateral.Add(h.baseHeld.Mul(spotPrice))
	return pending, used, nil
}

// ResetInteractionDelay clears the timer so a post-settlement rebalance can
// run immediately.
func (h *Synthetic) ResetInteractionDelay() {
	h.lastInteraction = 0
}

// Donate posts extra quote collateral directly to the hedger, outside the
// normal funding flow.
func (h *Synthetic) Donate(amount sdkmath.LegacyDec) {
	if amount.IsNil() || !amount.IsPositive() {
		return
	}
	h.collateral = h.collateral.Add(amount)
}

// flatten unwinds the entire hedge, returning all value to the pool.
func (h *Synthetic) flatten() error {
	if h.baseHeld.IsPositive() {
		quote, err := h.exchange.BaseForQuote(h.baseHeld)
		if err != nil {
			return fmt.Errorf("unwinding long hedge: %w", err)
		}
		h.funding.Return(quote)
		h.baseHeld = sdkmath.LegacyZeroDec()
	}
	if h.collateral.IsPositive() {
		h.funding.Return(h.collateral)
		h.collateral = sdkmath.LegacyZeroDec()
	}
	h.currentHedge = sdkmath.LegacyZeroDec()
	return nil
}

// shrink reduces the hedge magnitude toward target within the same sign.
func (h *Synthetic) shrink(target, spot sdkmath.LegacyDec) error {
	if target.IsZero() {
		return h.flatten()
	}
	excess := h.currentHedge.Abs().Sub(target.Abs())
	if h.currentHedge.IsPositive() {
		sellBase := utils.MinDec(excess, h.baseHeld)
		if sellBase.IsPositive() {
			quote, err := h.exchange.BaseForQuote(sellBase)
			if err != nil {
				return fmt.Errorf("reducing long hedge: %w", err)
			}
			h.funding.Return(quote)
			h.baseHeld = h.baseHeld.Sub(sellBase)
		}
	} else {
		release := utils.MinDec(excess.Mul(spot), h.collateral)
		if release.IsPositive() {
			h.funding.Return(release)
			h.collateral = h.collateral.Sub(release)
		}
	}
	h.currentHedge = target
	return nil
}

// grow extends the hedge toward target, spending at most the pool's free
// liquidity. Stopping short of target is expected; later calls close the gap.
func (h *Synthetic) grow(target, spot sdkmath.LegacyDec) error {
	need := target.Abs().Sub(h.currentHedge.Abs()).Mul(spot)
	free, err := h.funding.FreeLiquidity()
	if err != nil {
		return fmt.Errorf("reading free liquidity: %w", err)
	}
	spend := utils.MinDec(need, utils.FloorZero(free))
	if !spend.IsPositive() {
		return nil
	}
	if err := h.funding.Draw(spend); err != nil {
		return fmt.Errorf("drawing hedge funding: %w", err)
	}

	if target.IsPositive() {
		bought, err := h.exchange.QuoteForBase(spend)
		if err != nil {
			// the draw precedes the swap; give the funds back on failure
			h.funding.Return(spend)
			return fmt.Errorf("buying base for long hedge: %w", err)
		}
		h.baseHeld = h.baseHeld.Add(bought)
		h.currentHedge = utils.MinDec(h.currentHedge.Add(bought), target)
	} else {
		h.collateral = h.collateral.Add(spend)
		h.currentHedge = utils.MaxDec(h.currentHedge.Sub(spend.Quo(spot)), target)
	}
	return nil
}

func sameSign(a, b sdkmath.LegacyDec) bool {
	return (a.IsPositive() && b.IsPositive()) || (a.IsNegative() && b.IsNegative())
}
