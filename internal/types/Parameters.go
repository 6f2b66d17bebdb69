/*

This file contains the configurable parameter sets for the pool, greek cache,
collateral engine, force closes and the delta hedger. Every set is validated
on load; out-of-bounds values are rejected before they can reach the engines.

*/

package types

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

var (
	ErrInvalidPoolParameters           = errors.New("invalid liquidity pool parameters")
	ErrInvalidGreekCacheParameters     = errors.New("invalid greek cache parameters")
	ErrInvalidMinCollateralParameters  = errors.New("invalid min collateral parameters")
	ErrInvalidForceCloseParameters     = errors.New("invalid force close parameters")
	ErrInvalidLiquidationFeeParameters = errors.New("invalid liquidation fee parameters")
	ErrInvalidHedgerParameters         = errors.New("invalid hedger parameters")
)

/// PoolParameters holds the tunable knobs of the liquidity accounting engine:
// deposit/withdrawal gating, fees and the circuit-breaker policy.
type PoolParameters struct {
	// --- Deposit / withdrawal gating ---
	DepositDelay      int64             `json:"deposit_delay"`       // seconds a deposit ticket must age before processing
	WithdrawalDelay   int64             `json:"withdrawal_delay"`    // seconds a withdrawal ticket must age before processing
	MinDepositQuote   sdkmath.LegacyDec `json:"min_deposit_quote"`   // minimum quote amount per deposit
	MinWithdrawTokens sdkmath.LegacyDec `json:"min_withdraw_tokens"` // minimum token amount per withdrawal
	WithdrawalFee     sdkmath.LegacyDec `json:"withdrawal_fee"`      // fraction charged while boards are live

	// --- Circuit breakers ---
	LiquidityCBThreshold     sdkmath.LegacyDec `json:"liquidity_cb_threshold"`      // free/NAV fraction below which the breaker trips
	LiquidityCBTimeout       int64             `json:"liquidity_cb_timeout"`        // seconds
	VarianceCBTimeout        int64             `json:"variance_cb_timeout"`         // seconds, for IV/skew variance trips
	BoardSettlementCBTimeout int64             `json:"board_settlement_cb_timeout"` // seconds, mandatory post-settlement cooldown
	IVVarianceCBThreshold    sdkmath.LegacyDec `json:"iv_variance_cb_threshold"`
	SkewVarianceCBThreshold  sdkmath.LegacyDec `json:"skew_variance_cb_threshold"`

	// --- Guardian ---
	Guardian      string `json:"guardian_address"` // may bypass the liquidity breaker, empty disables
	GuardianDelay int64  `json:"guardian_delay"`   // extra seconds before the guardian bypass applies
}

// Validate enforces bounds on the pool parameters.
func (p PoolParameters) Validate() error {
	if p.DepositDelay < 0 || p.WithdrawalDelay < 0 {
		return fmt.Errorf("%w: negative queue delay", ErrInvalidPoolParameters)
	}
	if p.MinDepositQuote.IsNil() || p.MinDepositQuote.IsNegative() {
		return fmt.Errorf("%w: min deposit must be >= 0", ErrInvalidPoolParameters)
	}
	if p.MinWithdrawTokens.IsNil() || p.MinWithdrawTokens.IsNegative() {
		return fmt.Errorf("%w: min withdraw must be >= 0", ErrInvalidPoolParameters)
	}
	if p.WithdrawalFee.IsNil() || p.WithdrawalFee.IsNegative() || p.WithdrawalFee.GT(sdkmath.LegacyNewDecWithPrec(1, 1)) {
		return fmt.Errorf("%w: withdrawal fee must be in [0, 0.1]", ErrInvalidPoolParameters)
	}
	if p.LiquidityCBThreshold.IsNil() || p.LiquidityCBThreshold.IsNegative() || p.LiquidityCBThreshold.GT(sdkmath.LegacyOneDec()) {
		return fmt.Errorf("%w: liquidity CB threshold must be in [0, 1]", ErrInvalidPoolParameters)
	}
	if p.LiquidityCBTimeout < 0 || p.VarianceCBTimeout < 0 || p.BoardSettlementCBTimeout < 0 {
		return fmt.Errorf("%w: negative circuit breaker timeout", ErrInvalidPoolParameters)
	}
	if p.IVVarianceCBThreshold.IsNil() || p.IVVarianceCBThreshold.IsNegative() {
		return fmt.Errorf("%w: IV variance threshold must be >= 0", ErrInvalidPoolParameters)
	}
	if p.SkewVarianceCBThreshold.IsNil() || p.SkewVarianceCBThreshold.IsNegative() {
		return fmt.Errorf("%w: skew variance threshold must be >= 0", ErrInvalidPoolParameters)
	}
	if p.GuardianDelay < 0 {
		return fmt.Errorf("%w: negative guardian delay", ErrInvalidPoolParameters)
	}
	return nil
}

// GreekCacheParameters configures the board greek cache and its GWAV windows.
type GreekCacheParameters struct {
	StalenessDuration int64             `json:"staleness_duration"` // seconds after which a board cache is stale
	VolGWAVPeriod     int64             `json:"vol_gwav_period"`    // seconds of IV smoothing window
	SkewGWAVPeriod    int64             `json:"skew_gwav_period"`   // seconds of skew smoothing window
	RateAndCarry      sdkmath.LegacyDec `json:"rate_and_carry"`     // annualized risk-free rate used in pricing
}

func (p GreekCacheParameters) Validate() error {
	if p.StalenessDuration <= 0 {
		return fmt.Errorf("%w: staleness duration must be positive", ErrInvalidGreekCacheParameters)
	}
	if p.VolGWAVPeriod <= 0 || p.SkewGWAVPeriod <= 0 {
		return fmt.Errorf("%w: GWAV periods must be positive", ErrInvalidGreekCacheParameters)
	}
	if p.RateAndCarry.IsNil() {
		return fmt.Errorf("%w: rate and carry not set", ErrInvalidGreekCacheParameters)
	}
	return nil
}

// MinCollateralParameters configures the shocked-volatility minimum collateral
// formula for short positions.
type MinCollateralParameters struct {
	MinStaticQuoteCollateral sdkmath.LegacyDec `json:"min_static_quote_collateral"` // flat floor for quote-collateralized shorts
	MinStaticBaseCollateral  sdkmath.LegacyDec `json:"min_static_base_collateral"`  // flat floor for base-collateralized shorts

	// Shock volatility is linearly interpolated between (PointA, VolA) and
	// (PointB, VolB) on time-to-expiry, flat outside the range.
	ShockVolA      sdkmath.LegacyDec `json:"shock_vol_a"`
	ShockVolB      sdkmath.LegacyDec `json:"shock_vol_b"`
	ShockVolPointA int64             `json:"shock_vol_point_a"` // seconds to expiry
	ShockVolPointB int64             `json:"shock_vol_point_b"` // seconds to expiry, > PointA

	CallSpotShock     sdkmath.LegacyDec `json:"call_spot_shock"`      // > 1, quote-collateralized calls
	CallSpotShockBase sdkmath.LegacyDec `json:"call_spot_shock_base"` // > 1, lenient shock for base-collateralized calls
	PutSpotShock      sdkmath.LegacyDec `json:"put_spot_shock"`       // < 1
}

func (p MinCollateralParameters) Validate() error {
	if p.MinStaticQuoteCollateral.IsNil() || p.MinStaticQuoteCollateral.IsNegative() {
		return fmt.Errorf("%w: static quote collateral must be >= 0", ErrInvalidMinCollateralParameters)
	}
	if p.MinStaticBaseCollateral.IsNil() || p.MinStaticBaseCollateral.IsNegative() {
		return fmt.Errorf("%w: static base collateral must be >= 0", ErrInvalidMinCollateralParameters)
	}
	if p.ShockVolA.IsNil() || !p.ShockVolA.IsPositive() || p.ShockVolB.IsNil() || !p.ShockVolB.IsPositive() {
		return fmt.Errorf("%w: shock vols must be positive", ErrInvalidMinCollateralParameters)
	}
	if p.ShockVolPointA >= p.ShockVolPointB {
		return fmt.Errorf("%w: shock vol point A must precede point B", ErrInvalidMinCollateralParameters)
	}
	if p.CallSpotShock.IsNil() || p.CallSpotShock.LTE(sdkmath.LegacyOneDec()) {
		return fmt.Errorf("%w: call spot shock must exceed 1", ErrInvalidMinCollateralParameters)
	}
	if p.CallSpotShockBase.IsNil() || p.CallSpotShockBase.LTE(sdkmath.LegacyOneDec()) {
		return fmt.Errorf("%w: base call spot shock must exceed 1", ErrInvalidMinCollateralParameters)
	}
	if p.PutSpotShock.IsNil() || !p.PutSpotShock.IsPositive() || p.PutSpotShock.GTE(sdkmath.LegacyOneDec()) {
		return fmt.Errorf("%w: put spot shock must be in (0, 1)", ErrInvalidMinCollateralParameters)
	}
	return nil
}

// ForceCloseParameters configures shocked pricing for force closes and
// liquidations.
type ForceCloseParameters struct {
	CutoffSeconds        int64             `json:"cutoff_seconds"`          // time-to-expiry below which the harsher shock applies
	LongVolShock         sdkmath.LegacyDec `json:"long_vol_shock"`          // multiplier when closing the trader's long (< 1)
	LongPostCutoffShock  sdkmath.LegacyDec `json:"long_post_cutoff_shock"`
	ShortVolShock        sdkmath.LegacyDec `json:"short_vol_shock"`         // multiplier when closing the trader's short (> 1)
	ShortPostCutoffShock sdkmath.LegacyDec `json:"short_post_cutoff_shock"`
	MinSpotBuffer        sdkmath.LegacyDec `json:"min_spot_buffer"`         // fraction of spot added to intrinsic as a price floor
}

func (p ForceCloseParameters) Validate() error {
	if p.CutoffSeconds < 0 {
		return fmt.Errorf("%w: negative cutoff", ErrInvalidForceCloseParameters)
	}
	if p.LongVolShock.IsNil() || !p.LongVolShock.IsPositive() || p.LongVolShock.GT(sdkmath.LegacyOneDec()) {
		return fmt.Errorf("%w: long vol shock must be in (0, 1]", ErrInvalidForceCloseParameters)
	}
	if p.LongPostCutoffShock.IsNil() || !p.LongPostCutoffShock.IsPositive() || p.LongPostCutoffShock.GT(p.LongVolShock) {
		return fmt.Errorf("%w: post-cutoff long shock must be in (0, long shock]", ErrInvalidForceCloseParameters)
	}
	if p.ShortVolShock.IsNil() || p.ShortVolShock.LT(sdkmath.LegacyOneDec()) {
		return fmt.Errorf("%w: short vol shock must be >= 1", ErrInvalidForceCloseParameters)
	}
	if p.ShortPostCutoffShock.IsNil() || p.ShortPostCutoffShock.LT(p.ShortVolShock) {
		return fmt.Errorf("%w: post-cutoff short shock must be >= short shock", ErrInvalidForceCloseParameters)
	}
	if p.MinSpotBuffer.IsNil() || p.MinSpotBuffer.IsNegative() || p.MinSpotBuffer.GT(sdkmath.LegacyNewDecWithPrec(5, 1)) {
		return fmt.Errorf("%w: min spot buffer must be in [0, 0.5]", ErrInvalidForceCloseParameters)
	}
	return nil
}

// LiquidationFeeParameters configures the liquidation fee waterfall split.
type LiquidationFeeParameters struct {
	MinLiquidationFee  sdkmath.LegacyDec `json:"min_liquidation_fee"`  // quote
	FeePortion         sdkmath.LegacyDec `json:"fee_portion"`          // fraction of post-premium collateral taken as fee
	LiquidatorFeeRatio sdkmath.LegacyDec `json:"liquidator_fee_ratio"`
	SMFeeRatio         sdkmath.LegacyDec `json:"sm_fee_ratio"`
}

func (p LiquidationFeeParameters) Validate() error {
	if p.MinLiquidationFee.IsNil() || p.MinLiquidationFee.IsNegative() {
		return fmt.Errorf("%w: min liquidation fee must be >= 0", ErrInvalidLiquidationFeeParameters)
	}
	if p.FeePortion.IsNil() || p.FeePortion.IsNegative() || p.FeePortion.GT(sdkmath.LegacyOneDec()) {
		return fmt.Errorf("%w: fee portion must be in [0, 1]", ErrInvalidLiquidationFeeParameters)
	}
	if p.LiquidatorFeeRatio.IsNil() || p.LiquidatorFeeRatio.IsNegative() ||
		p.SMFeeRatio.IsNil() || p.SMFeeRatio.IsNegative() ||
		p.LiquidatorFeeRatio.Add(p.SMFeeRatio).GT(sdkmath.LegacyOneDec()) {
		return fmt.Errorf("%w: liquidator + SM fee ratios must sum to at most 1", ErrInvalidLiquidationFeeParameters)
	}
	return nil
}

// HedgerParameters configures the delta hedging controller.
type HedgerParameters struct {
	InteractionDelay int64             `json:"interaction_delay"` // seconds between rebalances
	HedgeCap         sdkmath.LegacyDec `json:"hedge_cap"`         // absolute cap on the hedge size, in base units
	ShortBuffer      sdkmath.LegacyDec `json:"short_buffer"`      // >= 1, inflates the pending liquidity reservation
}

func (p HedgerParameters) Validate() error {
	if p.InteractionDelay < 0 {
		return fmt.Errorf("%w: negative interaction delay", ErrInvalidHedgerParameters)
	}
	if p.HedgeCap.IsNil() || p.HedgeCap.IsNegative() {
		return fmt.Errorf("%w: hedge cap must be >= 0", ErrInvalidHedgerParameters)
	}
	if p.ShortBuffer.IsNil() || p.ShortBuffer.LT(sdkmath.LegacyOneDec()) {
		return fmt.Errorf("%w: short buffer must be >= 1", ErrInvalidHedgerParameters)
	}
	return nil
}

// Parameters bundles every parameter set the engine needs. A single bundle is
// versioned and persisted via the state package.
type Parameters struct {
	Pool          PoolParameters           `json:"pool"`
	GreekCache    GreekCacheParameters     `json:"greek_cache"`
	MinCollateral MinCollateralParameters  `json:"min_collateral"`
	ForceClose    ForceCloseParameters     `json:"force_close"`
	Liquidation   LiquidationFeeParameters `json:"liquidation"`
	Hedger        HedgerParameters         `json:"hedger"`
}

// Validate validates every parameter set in the bundle.
func (p Parameters) Validate() error {
	if err := p.Pool.Validate(); err != nil {
		return err
	}
	if err := p.GreekCache.Validate(); err != nil {
		return err
	}
	if err := p.MinCollateral.Validate(); err != nil {
		return err
	}
	if err := p.ForceClose.Validate(); err != nil {
		return err
	}
	if err := p.Liquidation.Validate(); err != nil {
		return err
	}
	return p.Hedger.Validate()
}
