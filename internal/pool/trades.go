/*

This file contains the pool side of the trade path: opening and closing
positions against the pool, liquidating under-collateralized shorts through
the fee waterfall, and settling expired boards with the long-scale-factor
haircut.

*/

package pool

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/arcadia-markets/ovm/internal/collateral"
	"github.com/arcadia-markets/ovm/internal/types"
	"github.com/arcadia-markets/ovm/internal/utils"
)

var errNotLiquidatable = fmt.Errorf("position is not liquidatable")

const secondsPerYear = 365 * 24 * 3600

// premium prices one contract at the strike's current vol.
func (p *Pool) premium(optionType types.OptionType, strike types.Strike, board types.Board, spot sdkmath.LegacyDec, now int64) (sdkmath.LegacyDec, error) {
	tte := board.Expiry - now
	if tte < 0 {
		tte = 0
	}
	return p.model.Price(optionType.IsCall(), spot, strike.StrikePrice, strike.Vol(board.BaseIV), float64(tte)/secondsPerYear, p.rate)
}

// OpenPosition opens a trade against the pool. Trader longs pay the premium
// in and force the pool to lock collateral, gated on free liquidity; trader
// shorts must post at least the minimum collateral and receive the premium
// from the pool.
func (p *Pool) OpenPosition(
	owner string,
	strikeID types.StrikeID,
	optionType types.OptionType,
	amount, traderCollateral sdkmath.LegacyDec,
) (types.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	spot, err := p.feed.SpotPrice()
	if err != nil {
		return types.Position{}, err
	}
	strike, err := p.ledger.Strike(strikeID)
	if err != nil {
		return types.Position{}, err
	}
	board, err := p.ledger.Board(strike.BoardID)
	if err != nil {
		return types.Position{}, err
	}
	prem, err := p.premium(optionType, strike, board, spot, now)
	if err != nil {
		return types.Position{}, err
	}
	premium := prem.Mul(amount)

	if optionType.IsLong() {
		if err := p.checkLongOpenLiquidity(optionType, strike, spot, amount, premium); err != nil {
			return types.Position{}, err
		}
	} else {
		min, err := p.collat.MinCollateral(optionType, strike.StrikePrice, board.Expiry, now, spot, amount)
		if err != nil {
			return types.Position{}, err
		}
		if traderCollateral.IsNil() || traderCollateral.LT(min) {
			return types.Position{}, fmt.Errorf("collateral %s below minimum %s", traderCollateral, min)
		}
	}

	pos, err := p.ledger.OpenPosition(owner, strikeID, optionType, amount, traderCollateral, now)
	if err != nil {
		return types.Position{}, err
	}

	if optionType.IsLong() {
		p.addBalance(p.quoteDenom, premium)
		if optionType.IsCall() {
			// cover the new long with base bought at the exchange
			if err := p.exchangeBaseLocked(); err != nil {
				return types.Position{}, err
			}
		}
	} else {
		// pool pays the writer; trader collateral is held as custody
		if err := p.subBalance(p.quoteDenom, premium); err != nil {
			return types.Position{}, err
		}
		if optionType.IsBaseCollateral() {
			p.shortCollatBase = p.shortCollatBase.Add(traderCollateral)
		} else {
			p.shortCollatQuote = p.shortCollatQuote.Add(traderCollateral)
		}
	}

	if err := p.refreshBoardLocked(board.ID, spot, now); err != nil {
		return pos, err
	}
	return pos, p.updateCircuitBreakersLocked()
}

// checkLongOpenLiquidity verifies the pool can lock the collateral a new
// trader long requires, at worst-case exchange cost for calls.
func (p *Pool) checkLongOpenLiquidity(optionType types.OptionType, strike types.Strike, spot, amount, premium sdkmath.LegacyDec) error {
	liq, err := p.liquidityLocked()
	if err != nil {
		return err
	}
	available := liq.Free.Add(premium)
	if optionType.IsCall() {
		params, err := p.feed.Params()
		if err != nil {
			return err
		}
		cost := amount.Mul(spot).Quo(sdkmath.LegacyOneDec().Sub(params.QuoteBaseFeeRate))
		if cost.GT(available) {
			return fmt.Errorf("%w: need %s to lock base, free %s", ErrInsufficientFreeLiquidityForBaseExchange, cost, available)
		}
		return nil
	}
	needed := amount.Mul(strike.StrikePrice)
	if needed.GT(available) {
		return fmt.Errorf("%w: need %s to lock quote, free %s", ErrInsufficientFreeLiquidity, needed, available)
	}
	return nil
}

// ClosePosition closes amount of a position voluntarily at the current
// premium. Longs are paid out by the pool; shorts pay the premium back and
// recover their collateral on a full close.
func (p *Pool) ClosePosition(positionID types.PositionID, amount sdkmath.LegacyDec) (types.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	spot, err := p.feed.SpotPrice()
	if err != nil {
		return types.Position{}, err
	}
	pos, err := p.ledger.Position(positionID)
	if err != nil {
		return types.Position{}, err
	}
	strike, err := p.ledger.Strike(pos.StrikeID)
	if err != nil {
		return types.Position{}, err
	}
	board, err := p.ledger.Board(strike.BoardID)
	if err != nil {
		return types.Position{}, err
	}
	prem, err := p.premium(pos.OptionType, strike, board, spot, now)
	if err != nil {
		return types.Position{}, err
	}

	snapshot, err := p.ledger.ClosePosition(positionID, amount, now)
	if err != nil {
		return types.Position{}, err
	}
	premium := prem.Mul(amount)

	if pos.OptionType.IsLong() {
		if err := p.subBalance(p.quoteDenom, premium); err != nil {
			return types.Position{}, err
		}
		if pos.OptionType.IsCall() {
			// freed base cover goes back to quote
			if err := p.exchangeBaseLocked(); err != nil {
				return types.Position{}, err
			}
		}
	} else {
		p.addBalance(p.quoteDenom, premium)
		after, err := p.ledger.Position(positionID)
		if err != nil {
			return types.Position{}, err
		}
		if after.State == types.Closed {
			// custody releases the full collateral back to the trader
			if pos.OptionType.IsBaseCollateral() {
				p.shortCollatBase = p.shortCollatBase.Sub(snapshot.Collateral)
			} else {
				p.shortCollatQuote = p.shortCollatQuote.Sub(snapshot.Collateral)
			}
		}
	}

	if err := p.refreshBoardLocked(board.ID, spot, now); err != nil {
		return snapshot, err
	}
	return snapshot, p.updateCircuitBreakersLocked()
}

// LiquidationResult reports where a liquidated position's collateral went.
type LiquidationResult struct {
	Position types.Position
	Fees     collateral.LiquidationFees
}

// LiquidatePosition force-closes an under-collateralized short. The premium
// owed is priced with the short-side force-close shock over the GWAV vol, the
// waterfall splits the collateral, and any shortfall is recorded as
// insolvency and trips the breaker.
func (p *Pool) LiquidatePosition(positionID types.PositionID, liquidator string) (LiquidationResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	spot, err := p.feed.SpotPrice()
	if err != nil {
		return LiquidationResult{}, err
	}
	pos, err := p.ledger.Position(positionID)
	if err != nil {
		return LiquidationResult{}, err
	}
	strike, err := p.ledger.Strike(pos.StrikeID)
	if err != nil {
		return LiquidationResult{}, err
	}
	board, err := p.ledger.Board(strike.BoardID)
	if err != nil {
		return LiquidationResult{}, err
	}

	ok, err := p.collat.CanLiquidate(pos, board.Expiry, now, strike.StrikePrice, spot)
	if err != nil {
		return LiquidationResult{}, err
	}
	if !ok {
		return LiquidationResult{}, fmt.Errorf("%w: %d", errNotLiquidatable, positionID)
	}

	gwavVol, err := p.cache.ForceCloseVol(board.ID, strike.ID, now)
	if err != nil {
		return LiquidationResult{}, err
	}
	price, _, err := p.collat.ForceClosePrice(pos.OptionType, strike.StrikePrice, board.Expiry, now, spot, gwavVol, sdkmath.LegacyDec{})
	if err != nil {
		return LiquidationResult{}, err
	}
	premiumOwed := price.Mul(pos.Amount)

	snapshot, err := p.ledger.LiquidatePosition(positionID)
	if err != nil {
		return LiquidationResult{}, err
	}

	// custody releases the whole collateral; the waterfall decides where it
	// goes. Base collateral is sold for quote first so the waterfall splits
	// the realized proceeds, and the recorded insolvency is grossed up by the
	// exchange fee the sale paid.
	collateralValue := pos.Collateral
	insolvencyMultiplier := sdkmath.LegacyOneDec()
	if pos.OptionType.IsBaseCollateral() {
		p.shortCollatBase = p.shortCollatBase.Sub(pos.Collateral)
		quote, err := p.exchange.BaseForQuote(pos.Collateral)
		if err != nil {
			return LiquidationResult{}, fmt.Errorf("selling liquidated base collateral: %w", err)
		}
		collateralValue = quote
		exParams, err := p.feed.Params()
		if err != nil {
			return LiquidationResult{}, err
		}
		insolvencyMultiplier = sdkmath.LegacyOneDec().Quo(sdkmath.LegacyOneDec().Sub(exParams.BaseQuoteFeeRate))
	} else {
		p.shortCollatQuote = p.shortCollatQuote.Sub(pos.Collateral)
	}

	fees, err := p.collat.Liquidate(premiumOwed, collateralValue, insolvencyMultiplier)
	if err != nil {
		return LiquidationResult{}, err
	}

	// LP premiums and LP fee stay in the pool; liquidator, SM and trader
	// shares leave custody entirely
	p.addBalance(p.quoteDenom, fees.LPPremiums.Add(fees.LPFee))

	if fees.InsolventAmount.IsPositive() {
		p.insolventAmount = p.insolventAmount.Add(fees.InsolventAmount)
		extendCB(&p.cbInsolvency, now+p.params.LiquidityCBTimeout)
		p.log.Warn().
			Uint64("positionId", uint64(positionID)).
			Str("insolventAmount", fees.InsolventAmount.String()).
			Msg("Insolvent liquidation tripped circuit breaker")
	}

	if err := p.refreshBoardLocked(board.ID, spot, now); err != nil {
		return LiquidationResult{}, err
	}
	if err := p.updateCircuitBreakersLocked(); err != nil {
		return LiquidationResult{}, err
	}
	p.log.Info().
		Uint64("positionId", uint64(positionID)).
		Str("liquidator", liquidator).
		Str("premiumOwed", premiumOwed.String()).
		Msg("Position liquidated")
	return LiquidationResult{Position: snapshot, Fees: fees}, nil
}

// SettleBoard settles an expired board: in-the-money longs are owed their
// intrinsic value, haircut by the long scale factor when NAV cannot cover the
// full payout; short collateral absorbs each short's intrinsic loss, with any
// shortfall recorded as insolvency. Settlement starts the mandatory breaker
// cooldown and unlocks an immediate hedger rebalance.
func (p *Pool) SettleBoard(boardID types.BoardID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	spot, err := p.feed.SpotPrice()
	if err != nil {
		return err
	}
	settled, err := p.ledger.SettleBoard(boardID, now)
	if err != nil {
		return err
	}

	totalOwedToLongs := sdkmath.LegacyZeroDec()
	for _, pos := range settled {
		if !pos.OptionType.IsLong() {
			continue
		}
		strike, err := p.ledger.Strike(pos.StrikeID)
		if err != nil {
			return err
		}
		totalOwedToLongs = totalOwedToLongs.Add(intrinsic(pos.OptionType.IsCall(), spot, strike.StrikePrice).Mul(pos.Amount))
	}

	factor := sdkmath.LegacyOneDec()
	if totalOwedToLongs.IsPositive() {
		nav, err := p.navLocked(spot)
		if err != nil {
			return err
		}
		available := utils.FloorZero(nav)
		if available.LT(totalOwedToLongs) {
			factor = available.Quo(totalOwedToLongs)
			p.log.Warn().
				Uint64("boardId", uint64(boardID)).
				Str("factor", factor.String()).
				Msg("Insolvent settlement, haircutting long payouts")
		}
		p.settlementReserve = p.settlementReserve.Add(utils.MinDec(totalOwedToLongs.Mul(factor), available))
	}
	p.longScaleFactors[boardID] = factor
	p.settlementSpots[boardID] = spot

	for _, pos := range settled {
		if pos.OptionType.IsLong() {
			continue
		}
		strike, err := p.ledger.Strike(pos.StrikeID)
		if err != nil {
			return err
		}
		loss := intrinsic(pos.OptionType.IsCall(), spot, strike.StrikePrice).Mul(pos.Amount)
		collateralValue := pos.Collateral
		if pos.OptionType.IsBaseCollateral() {
			collateralValue = pos.Collateral.Mul(spot)
			p.shortCollatBase = p.shortCollatBase.Sub(pos.Collateral)
		} else {
			p.shortCollatQuote = p.shortCollatQuote.Sub(pos.Collateral)
		}
		captured := utils.MinDec(loss, collateralValue)
		p.addBalance(p.quoteDenom, captured)
		if loss.GT(collateralValue) {
			shortfall := loss.Sub(collateralValue)
			p.insolventAmount = p.insolventAmount.Add(shortfall)
			p.log.Warn().
				Uint64("positionId", uint64(pos.ID)).
				Str("shortfall", shortfall.String()).
				Msg("Short settled insolvent")
		}
		// the remainder of the collateral returns to the trader off-book
	}

	p.cache.RemoveBoard(boardID)
	extendCB(&p.cbSettlement, now+p.params.BoardSettlementCBTimeout)
	p.hedge.ResetInteractionDelay()

	// base cover for settled long calls is no longer locked
	if err := p.exchangeBaseLocked(); err != nil {
		return err
	}
	p.log.Info().
		Uint64("boardId", uint64(boardID)).
		Str("owedToLongs", totalOwedToLongs.String()).
		Str("longScaleFactor", factor.String()).
		Msg("Board settled")
	return p.updateCircuitBreakersLocked()
}

// SettlementReserve is the quote owed to settled longs, awaiting claims.
func (p *Pool) SettlementReserve() sdkmath.LegacyDec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settlementReserve
}

// ClaimSettlement pays a settled long its haircut intrinsic entitlement from
// the settlement reserve, priced at the board's settlement spot. A position
// claims at most once.
func (p *Pool) ClaimSettlement(positionID types.PositionID) (sdkmath.LegacyDec, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, err := p.ledger.Position(positionID)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if pos.State != types.Settled || !pos.OptionType.IsLong() || p.claimedSettlements[positionID] {
		return sdkmath.LegacyZeroDec(), nil
	}
	strike, err := p.ledger.Strike(pos.StrikeID)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	settleSpot, ok := p.settlementSpots[strike.BoardID]
	if !ok {
		return sdkmath.LegacyZeroDec(), nil
	}
	factor := sdkmath.LegacyOneDec()
	if f, found := p.longScaleFactors[strike.BoardID]; found {
		factor = f
	}
	payout := intrinsic(pos.OptionType.IsCall(), settleSpot, strike.StrikePrice).Mul(pos.Amount).Mul(factor)
	payout = utils.MinDec(payout, p.settlementReserve)
	p.claimedSettlements[positionID] = true
	if !payout.IsPositive() {
		return sdkmath.LegacyZeroDec(), nil
	}
	if err := p.subBalance(p.quoteDenom, payout); err != nil {
		return sdkmath.LegacyDec{}, err
	}
	p.settlementReserve = p.settlementReserve.Sub(payout)
	return payout, nil
}

// refreshBoardLocked refreshes the greek cache after a book change.
func (p *Pool) refreshBoardLocked(boardID types.BoardID, spot sdkmath.LegacyDec, now int64) error {
	board, err := p.ledger.Board(boardID)
	if err != nil {
		return err
	}
	strikes, err := p.ledger.StrikesOf(boardID)
	if err != nil {
		return err
	}
	return p.cache.UpdateBoard(board, strikes, spot, now)
}

func intrinsic(isCall bool, spot, strike sdkmath.LegacyDec) sdkmath.LegacyDec {
	if isCall {
		return utils.FloorZero(spot.Sub(strike))
	}
	return utils.FloorZero(strike.Sub(spot))
}
