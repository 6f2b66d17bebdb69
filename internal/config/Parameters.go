/*

This file contains the default parameter bundle for the OVM.

These parameters are designed for managing pooled LP capital in a production
options market. Each value balances LP protection against trader experience:
gates that are too tight strand capital, gates that are too loose let a fast
market drain the pool.

*/

package config

import (
	sdkmath "cosmossdk.io/math"

	"github.com/arcadia-markets/ovm/internal/types"
)

// DefaultParameters provides a baseline parameter bundle for the OVM engines.
// These values are used if no active parameters are found in the database
// during initialization.
var DefaultParameters = types.Parameters{
	Pool: types.PoolParameters{
		DepositDelay:    7 * 24 * 3600, // One week.
		// Rationale: deposits mint pool tokens at the prevailing token price. A
		// delay prevents sniping a stale NAV around large trades or settlements.

		WithdrawalDelay: 7 * 24 * 3600, // One week, symmetric with deposits.

		MinDepositQuote:   sdkmath.LegacyNewDec(1),
		MinWithdrawTokens: sdkmath.LegacyNewDec(1),
		// Rationale: dust tickets cost a queue slot each; a 1-unit floor keeps
		// the queues meaningful without excluding small LPs.

		WithdrawalFee: sdkmath.LegacyNewDecWithPrec(5, 3), // 0.5%
		// Rationale: withdrawing LPs exit live option risk that remaining LPs
		// keep carrying. The fee compensates the pool; it is waived once every
		// board has settled and there is no risk left to price.

		LiquidityCBThreshold: sdkmath.LegacyNewDecWithPrec(1, 2), // 1% of NAV
		// Rationale: when free liquidity falls this low the pool can no longer
		// safely absorb withdrawals; processing pauses until conditions recover.

		LiquidityCBTimeout:       3 * 24 * 3600,
		VarianceCBTimeout:        12 * 3600,
		BoardSettlementCBTimeout: 6 * 3600,
		// Rationale: liquidity crunches take days to unwind, vol dislocations
		// hours. Settlement gets a mandatory cooldown so token prices reflect
		// the post-settlement NAV before the queues move.

		IVVarianceCBThreshold:   sdkmath.LegacyNewDecWithPrec(1, 1),  // 0.10 absolute IV move
		SkewVarianceCBThreshold: sdkmath.LegacyNewDecWithPrec(15, 2), // 0.15 absolute skew move

		Guardian:      "",
		GuardianDelay: 14 * 24 * 3600,
		// Rationale: the guardian can release the liquidity breaker for stuck
		// withdrawals, but only after a delay long enough that it cannot be
		// used to front-run ordinary LPs.
	},

	GreekCache: types.GreekCacheParameters{
		StalenessDuration: 6 * 3600,
		// Rationale: queue processing against stale greeks mints/burns tokens
		// at a wrong NAV. Six hours is tight enough to matter, loose enough to
		// survive quiet weekends.

		VolGWAVPeriod:  12 * 3600,
		SkewGWAVPeriod: 3 * 3600,
		// Rationale: IV smoothing dampens single-print manipulation; skew moves
		// faster and gets a shorter window.

		RateAndCarry: sdkmath.LegacyNewDecWithPrec(5, 2), // 5% annualized
	},

	MinCollateral: types.MinCollateralParameters{
		MinStaticQuoteCollateral: sdkmath.LegacyNewDec(500),
		MinStaticBaseCollateral:  sdkmath.LegacyNewDecWithPrec(5, 1), // 0.5 base
		// Rationale: a flat floor makes every short position worth liquidating
		// even when the shocked premium is tiny.

		ShockVolA:      sdkmath.LegacyNewDecWithPrec(25, 1), // 2.5 at the short end
		ShockVolB:      sdkmath.LegacyNewDecWithPrec(18, 1), // 1.8 at the long end
		ShockVolPointA: 1 * 24 * 3600,
		ShockVolPointB: 30 * 24 * 3600,
		// Rationale: gamma risk concentrates near expiry, so the vol shock is
		// interpolated from harsh (short-dated) to milder (long-dated).

		CallSpotShock:     sdkmath.LegacyNewDecWithPrec(12, 1), // 1.2x spot
		CallSpotShockBase: sdkmath.LegacyNewDecWithPrec(11, 1), // 1.1x spot
		PutSpotShock:      sdkmath.LegacyNewDecWithPrec(8, 1),  // 0.8x spot
		// Rationale: base-collateralized calls are physically covered, so their
		// shock is lenient; quote-collateralized shorts carry the full shock.
	},

	ForceClose: types.ForceCloseParameters{
		CutoffSeconds:        12 * 3600,
		LongVolShock:         sdkmath.LegacyNewDecWithPrec(85, 2), // price longs down at 0.85x vol
		LongPostCutoffShock:  sdkmath.LegacyNewDecWithPrec(7, 1),
		ShortVolShock:        sdkmath.LegacyNewDecWithPrec(115, 2), // price shorts up at 1.15x vol
		ShortPostCutoffShock: sdkmath.LegacyNewDecWithPrec(13, 1),
		MinSpotBuffer:        sdkmath.LegacyNewDecWithPrec(1, 2), // intrinsic + 1% of spot floor
		// Rationale: the asymmetric shock always moves the forced price against
		// the closer, and intrinsic plus a spot buffer stops a deep ITM close
		// from ever being under-priced.
	},

	Liquidation: types.LiquidationFeeParameters{
		MinLiquidationFee:  sdkmath.LegacyNewDec(15),
		FeePortion:         sdkmath.LegacyNewDecWithPrec(2, 1), // 20% of post-premium collateral
		LiquidatorFeeRatio: sdkmath.LegacyNewDecWithPrec(4, 1),
		SMFeeRatio:         sdkmath.LegacyNewDecWithPrec(3, 1),
		// Rationale: 40/30/30 liquidator/security-module/LP split keeps keeper
		// incentives live while routing real value back to the pool.
	},

	Hedger: types.HedgerParameters{
		InteractionDelay: 24 * 3600,
		// Rationale: rebalancing costs spread and fees on every touch; once a
		// day tracks delta well enough for a smoothed book.

		HedgeCap:    sdkmath.LegacyNewDec(1_000_000),
		ShortBuffer: sdkmath.LegacyNewDecWithPrec(11, 1), // reserve 1.1x the required hedge growth
		// Rationale: the buffer tolerates spot drift between rebalances without
		// re-reserving liquidity mid-cycle.
	},
}
