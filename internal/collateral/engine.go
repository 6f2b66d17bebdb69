/*

This file contains the collateral/margin engine: minimum collateral for short
positions under shocked volatility and spot, shocked pricing for forced closes
and liquidations, and the liquidation fee waterfall.

*/

package collateral

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/arcadia-markets/ovm/internal/logger"
	"github.com/arcadia-markets/ovm/internal/pricing"
	"github.com/arcadia-markets/ovm/internal/types"
	"github.com/arcadia-markets/ovm/internal/utils"
)

var (
	ErrNotShortPosition = errors.New("min collateral applies only to short positions")
	ErrInvalidVol       = errors.New("volatility must be positive")
)

const secondsPerYear = 365 * 24 * 3600

// Engine computes collateral requirements and liquidation outcomes. It is
// stateless apart from its configuration; all market inputs arrive per call.
type Engine struct {
	minCollat  types.MinCollateralParameters
	forceClose types.ForceCloseParameters
	liqFees    types.LiquidationFeeParameters
	rate       sdkmath.LegacyDec // annualized rate-and-carry used in shocked pricing
	model      pricing.Model
	log        zerolog.Logger
}

// NewEngine validates the parameter sets and returns a ready engine.
func NewEngine(
	minCollat types.MinCollateralParameters,
	forceClose types.ForceCloseParameters,
	liqFees types.LiquidationFeeParameters,
	rate sdkmath.LegacyDec,
	model pricing.Model,
) (*Engine, error) {
	if err := minCollat.Validate(); err != nil {
		return nil, err
	}
	if err := forceClose.Validate(); err != nil {
		return nil, err
	}
	if err := liqFees.Validate(); err != nil {
		return nil, err
	}
	if rate.IsNil() {
		return nil, fmt.Errorf("%w: rate not set", types.ErrInvalidMinCollateralParameters)
	}
	if model == nil {
		return nil, errors.New("pricing model cannot be nil")
	}
	return &Engine{
		minCollat:  minCollat,
		forceClose: forceClose,
		liqFees:    liqFees,
		rate:       rate,
		model:      model,
		log:        logger.GetForComponent("collateral_engine"),
	}, nil
}

// MinCollateral returns the minimum collateral a short position of the given
// size must post. Base-collateralized shorts are denominated in base units,
// quote-collateralized shorts in quote. The result is
// clamp(max(staticFloor, volShockedPremium), 0, fullCollateralization); the
// SHORT_CALL_QUOTE ceiling is unbounded since quote collateral can always
// fully cover.
func (e *Engine) MinCollateral(
	optionType types.OptionType,
	strikePrice sdkmath.LegacyDec,
	expiry, now int64,
	spotPrice sdkmath.LegacyDec,
	amount sdkmath.LegacyDec,
) (sdkmath.LegacyDec, error) {
	if optionType.IsLong() {
		return sdkmath.LegacyDec{}, ErrNotShortPosition
	}
	if !amount.IsPositive() {
		return sdkmath.LegacyZeroDec(), nil
	}

	tte := expiry - now
	if tte < 0 {
		tte = 0
	}
	shockedVol := e.ShockVol(tte)

	var spotShock sdkmath.LegacyDec
	switch optionType {
	case types.ShortCallBase:
		spotShock = e.minCollat.CallSpotShockBase
	case types.ShortCallQuote:
		spotShock = e.minCollat.CallSpotShock
	case types.ShortPutQuote:
		spotShock = e.minCollat.PutSpotShock
	default:
		return sdkmath.LegacyDec{}, fmt.Errorf("unhandled option type %s", optionType)
	}
	shockedSpot := spotPrice.Mul(spotShock)

	premium, err := e.model.Price(optionType.IsCall(), shockedSpot, strikePrice, shockedVol, yearsOf(tte), e.rate)
	if err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("shocked premium pricing failed: %w", err)
	}
	volShocked := premium.Mul(amount)

	var static, fullCollat sdkmath.LegacyDec
	switch optionType {
	case types.ShortCallBase:
		// Convert the shocked quote premium into base; a fully covered call
		// needs one base unit per contract.
		volShocked = volShocked.Quo(shockedSpot)
		static = e.minCollat.MinStaticBaseCollateral
		fullCollat = amount
	case types.ShortCallQuote:
		static = e.minCollat.MinStaticQuoteCollateral
		fullCollat = sdkmath.LegacyDec{} // unbounded
	case types.ShortPutQuote:
		static = e.minCollat.MinStaticQuoteCollateral
		fullCollat = strikePrice.Mul(amount)
	}

	min := utils.MaxDec(static, volShocked)
	if !fullCollat.IsNil() {
		min = utils.MinDec(min, fullCollat)
	}
	return utils.FloorZero(min), nil
}

// ShockVol interpolates the shock volatility on time-to-expiry between the two
// configured points, flat outside the range.
func (e *Engine) ShockVol(tte int64) sdkmath.LegacyDec {
	a, b := e.minCollat.ShockVolPointA, e.minCollat.ShockVolPointB
	volA, volB := e.minCollat.ShockVolA, e.minCollat.ShockVolB
	if tte <= a {
		return volA
	}
	if tte >= b {
		return volB
	}
	frac := sdkmath.LegacyNewDec(tte - a).Quo(sdkmath.LegacyNewDec(b - a))
	return volA.Add(volB.Sub(volA).Mul(frac))
}

// ForceClosePrice prices a forced close or liquidation of a position. The vol
// shock is asymmetric: closing the trader's long marks the premium down,
// closing a short marks it up, and both get harsher once time-to-expiry
// crosses the cutoff. gwavVol is the smoothed strike vol (IV x skew);
// overrideVol, when positive, replaces it. Long-side closes are floored at
// intrinsic value plus a spot buffer so a deep ITM close can never be
// under-priced. Returns the trade price per contract and the vol it was
// priced at.
func (e *Engine) ForceClosePrice(
	optionType types.OptionType,
	strikePrice sdkmath.LegacyDec,
	expiry, now int64,
	spotPrice sdkmath.LegacyDec,
	gwavVol, overrideVol sdkmath.LegacyDec,
) (price, volUsed sdkmath.LegacyDec, err error) {
	baseVol := gwavVol
	if !overrideVol.IsNil() && overrideVol.IsPositive() {
		baseVol = overrideVol
	}
	if baseVol.IsNil() || !baseVol.IsPositive() {
		return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, ErrInvalidVol
	}

	tte := expiry - now
	if tte < 0 {
		tte = 0
	}
	postCutoff := tte < e.forceClose.CutoffSeconds

	var shock sdkmath.LegacyDec
	if optionType.IsLong() {
		shock = e.forceClose.LongVolShock
		if postCutoff {
			shock = e.forceClose.LongPostCutoffShock
		}
	} else {
		shock = e.forceClose.ShortVolShock
		if postCutoff {
			shock = e.forceClose.ShortPostCutoffShock
		}
	}
	volUsed = baseVol.Mul(shock)

	price, err = e.model.Price(optionType.IsCall(), spotPrice, strikePrice, volUsed, yearsOf(tte), e.rate)
	if err != nil {
		return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, fmt.Errorf("force close pricing failed: %w", err)
	}

	if optionType.IsLong() {
		floor := intrinsicValue(optionType.IsCall(), spotPrice, strikePrice).
			Add(spotPrice.Mul(e.forceClose.MinSpotBuffer))
		if price.LT(floor) {
			e.log.Debug().
				Str("price", price.String()).
				Str("floor", floor.String()).
				Msg("Force close premium below parity floor, using floor")
			price = floor
		}
	}
	return price, volUsed, nil
}

// LiquidationFees is the outcome of the liquidation waterfall over a
// position's posted collateral. When the position is insolvent,
// ReturnCollateral is zero and InsolventAmount carries the (multiplied)
// shortfall absorbed by the pool.
type LiquidationFees struct {
	ReturnCollateral sdkmath.LegacyDec `json:"return_collateral"`
	LPPremiums       sdkmath.LegacyDec `json:"lp_premiums"`
	LiquidatorFee    sdkmath.LegacyDec `json:"liquidator_fee"`
	SMFee            sdkmath.LegacyDec `json:"sm_fee"`
	LPFee            sdkmath.LegacyDec `json:"lp_fee"`
	InsolventAmount  sdkmath.LegacyDec `json:"insolvent_amount"`
}

// TotalFee is the full fee taken from collateral across recipients.
func (f LiquidationFees) TotalFee() sdkmath.LegacyDec {
	return f.LiquidatorFee.Add(f.SMFee).Add(f.LPFee)
}

// Liquidate runs the fee waterfall for a liquidated position. premiumOwed is
// the shocked buy-back cost of the short, userCollateral the posted collateral
// in quote terms. insolvencyMultiplier (>= 1) amplifies the recorded shortfall
// when pool-wide conditions require overcharging; it deliberately scales the
// final insolvent amount, not the input premium.
func (e *Engine) Liquidate(premiumOwed, userCollateral, insolvencyMultiplier sdkmath.LegacyDec) (LiquidationFees, error) {
	if premiumOwed.IsNil() || premiumOwed.IsNegative() {
		return LiquidationFees{}, errors.New("premium owed must be >= 0")
	}
	if userCollateral.IsNil() || userCollateral.IsNegative() {
		return LiquidationFees{}, errors.New("user collateral must be >= 0")
	}
	if insolvencyMultiplier.IsNil() || insolvencyMultiplier.LT(sdkmath.LegacyOneDec()) {
		return LiquidationFees{}, errors.New("insolvency multiplier must be >= 1")
	}

	zero := sdkmath.LegacyZeroDec()
	minFee := e.liqFees.MinLiquidationFee
	out := LiquidationFees{
		ReturnCollateral: zero, LPPremiums: zero,
		LiquidatorFee: zero, SMFee: zero, LPFee: zero,
		InsolventAmount: zero,
	}

	var fee sdkmath.LegacyDec
	switch {
	case userCollateral.GTE(premiumOwed.Add(minFee)):
		// Solvent. The fee is a portion of what remains after the premium,
		// forced up to the minimum when that portion is too small.
		fee = utils.MaxDec(minFee, userCollateral.Sub(premiumOwed).Mul(e.liqFees.FeePortion))
		out.LPPremiums = premiumOwed
		out.ReturnCollateral = utils.FloorZero(userCollateral.Sub(premiumOwed).Sub(fee))

	case userCollateral.GTE(minFee):
		// Insolvent, but the minimum fee is still payable. Whatever is left
		// after the fee goes to LPs as partial premium; the rest is shortfall.
		fee = minFee
		out.LPPremiums = userCollateral.Sub(minFee)
		out.InsolventAmount = premiumOwed.Sub(out.LPPremiums)

	default:
		// Deep insolvency: the entire collateral becomes the fee, LPs get no
		// premium and absorb the full shortfall.
		fee = userCollateral
		out.InsolventAmount = premiumOwed
	}

	out.LiquidatorFee = fee.Mul(e.liqFees.LiquidatorFeeRatio)
	out.SMFee = fee.Mul(e.liqFees.SMFeeRatio)
	out.LPFee = fee.Sub(out.LiquidatorFee).Sub(out.SMFee)
	out.InsolventAmount = out.InsolventAmount.Mul(insolvencyMultiplier)

	if out.InsolventAmount.IsPositive() {
		e.log.Warn().
			Str("premiumOwed", premiumOwed.String()).
			Str("userCollateral", userCollateral.String()).
			Str("insolventAmount", out.InsolventAmount.String()).
			Msg("Insolvent liquidation")
	}
	return out, nil
}

// CanLiquidate reports whether an active short position has fallen below its
// minimum collateral. Every other state and every long position returns false.
func (e *Engine) CanLiquidate(
	position types.Position,
	expiry, now int64,
	strikePrice, spotPrice sdkmath.LegacyDec,
) (bool, error) {
	if position.State != types.Active || position.OptionType.IsLong() {
		return false, nil
	}
	if !position.Amount.IsPositive() {
		return false, nil
	}
	min, err := e.MinCollateral(position.OptionType, strikePrice, expiry, now, spotPrice, position.Amount)
	if err != nil {
		return false, err
	}
	return position.Collateral.LT(min), nil
}

func intrinsicValue(isCall bool, spot, strike sdkmath.LegacyDec) sdkmath.LegacyDec {
	if isCall {
		return utils.FloorZero(spot.Sub(strike))
	}
	return utils.FloorZero(strike.Sub(spot))
}

func yearsOf(tte int64) float64 {
	return float64(tte) / secondsPerYear
}
