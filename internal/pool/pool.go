/*

This file contains the liquidity pool core: custody balances, NAV and the
partitioned liquidity computation, the circuit breaker ladder, and the base
asset exchange operation. Deposit/withdrawal queues live in queues.go, the
trade path in trades.go.

*/

package pool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/rs/zerolog"

	"github.com/arcadia-markets/ovm/internal/collateral"
	"github.com/arcadia-markets/ovm/internal/hedger"
	"github.com/arcadia-markets/ovm/internal/ledger"
	"github.com/arcadia-markets/ovm/internal/logger"
	"github.com/arcadia-markets/ovm/internal/oracle"
	"github.com/arcadia-markets/ovm/internal/pricing"
	"github.com/arcadia-markets/ovm/internal/types"
	"github.com/arcadia-markets/ovm/internal/utils"
)

var (
	ErrInvalidBeneficiaryAddress = errors.New("beneficiary address cannot be empty")
	ErrMinimumDepositNotMet      = errors.New("deposit below configured minimum")
	ErrMinimumWithdrawNotMet     = errors.New("withdrawal below configured minimum")
	ErrInsufficientFreeLiquidity = errors.New("insufficient free liquidity")
	ErrInsufficientFreeLiquidityForBaseExchange = errors.New("insufficient free liquidity to cover base exchange fee")
	ErrInsufficientBalance       = errors.New("pool balance insufficient")
)

// Pool is the liquidity accounting engine. Every mutating operation takes the
// pool mutex; the invariants in the liquidity partition depend on
// read-then-write atomicity.
type Pool struct {
	mu  sync.Mutex
	log zerolog.Logger

	params     types.PoolParameters
	quoteDenom string
	baseDenom  string

	feed     oracle.PriceFeed
	exchange oracle.Exchange
	ledger   *ledger.Ledger
	cache    *ledger.GreekCache
	collat   *collateral.Engine
	hedge    hedger.DeltaHedger
	model    pricing.Model
	rate     sdkmath.LegacyDec

	now func() int64

	balances    sdk.DecCoins      // pool custody: quote + base
	totalSupply sdkmath.LegacyDec // liquidity tokens outstanding

	queuedDepositValue     sdkmath.LegacyDec // quote held for unprocessed deposit tickets
	queuedWithdrawalTokens sdkmath.LegacyDec // tokens escrowed to unresolved withdrawal tickets
	settlementReserve      sdkmath.LegacyDec // quote owed to settled longs, not yet claimed
	insolventAmount        sdkmath.LegacyDec // running insolvency write-offs

	shortCollatQuote sdkmath.LegacyDec // trader-posted quote collateral, custody only
	shortCollatBase  sdkmath.LegacyDec // trader-posted base collateral, custody only

	longScaleFactors    map[types.BoardID]sdkmath.LegacyDec
	settlementSpots     map[types.BoardID]sdkmath.LegacyDec
	claimedSettlements  map[types.PositionID]bool

	// Per-trigger circuit breaker expiries; the effective CBTimestamp is the
	// max. Kept separate so the guardian can bypass exactly the liquidity
	// trigger.
	cbLiquidity  int64
	cbVariance   int64
	cbSettlement int64
	cbInsolvency int64

	deposits       []types.QueuedDeposit
	depositHead    int
	withdrawals    []types.QueuedWithdrawal
	withdrawalHead int

	nextDepositID    uint64
	nextWithdrawalID uint64
}

// Config wires the pool's collaborators.
type Config struct {
	Params       types.PoolParameters
	QuoteDenom   string
	BaseDenom    string
	Feed         oracle.PriceFeed
	Exchange     oracle.Exchange
	Ledger       *ledger.Ledger
	GreekCache   *ledger.GreekCache
	Collateral   *collateral.Engine
	Hedger       hedger.DeltaHedger
	Model        pricing.Model
	RateAndCarry sdkmath.LegacyDec
}

func New(cfg Config) (*Pool, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if cfg.QuoteDenom == "" || cfg.BaseDenom == "" {
		return nil, errors.New("quote and base denoms must be set")
	}
	if cfg.Feed == nil || cfg.Exchange == nil || cfg.Ledger == nil || cfg.GreekCache == nil || cfg.Collateral == nil || cfg.Model == nil {
		return nil, errors.New("pool collaborators cannot be nil")
	}
	if cfg.RateAndCarry.IsNil() {
		return nil, errors.New("rate and carry must be set")
	}
	if cfg.Hedger == nil {
		cfg.Hedger = hedger.NewNoOp()
	}
	return &Pool{
		log:                    logger.GetForComponent("liquidity_pool"),
		params:                 cfg.Params,
		quoteDenom:             cfg.QuoteDenom,
		baseDenom:              cfg.BaseDenom,
		feed:                   cfg.Feed,
		exchange:               cfg.Exchange,
		ledger:                 cfg.Ledger,
		cache:                  cfg.GreekCache,
		collat:                 cfg.Collateral,
		hedge:                  cfg.Hedger,
		model:                  cfg.Model,
		rate:                   cfg.RateAndCarry,
		now:                    func() int64 { return time.Now().Unix() },
		balances:               sdk.DecCoins{},
		totalSupply:            sdkmath.LegacyZeroDec(),
		queuedDepositValue:     sdkmath.LegacyZeroDec(),
		queuedWithdrawalTokens: sdkmath.LegacyZeroDec(),
		settlementReserve:      sdkmath.LegacyZeroDec(),
		insolventAmount:        sdkmath.LegacyZeroDec(),
		shortCollatQuote:       sdkmath.LegacyZeroDec(),
		shortCollatBase:        sdkmath.LegacyZeroDec(),
		longScaleFactors:       make(map[types.BoardID]sdkmath.LegacyDec),
		settlementSpots:        make(map[types.BoardID]sdkmath.LegacyDec),
		claimedSettlements:     make(map[types.PositionID]bool),
	}, nil
}

// SetClock overrides the time source, for deterministic tests and simulation.
func (p *Pool) SetClock(now func() int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// SetHedger swaps the hedging strategy.
func (p *Pool) SetHedger(h hedger.DeltaHedger) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h == nil {
		h = hedger.NewNoOp()
	}
	p.hedge = h
}

func (p *Pool) quoteBalance() sdkmath.LegacyDec {
	return p.balances.AmountOf(p.quoteDenom)
}

func (p *Pool) baseBalance() sdkmath.LegacyDec {
	return p.balances.AmountOf(p.baseDenom)
}

func (p *Pool) addBalance(denom string, amount sdkmath.LegacyDec) {
	if !amount.IsPositive() {
		return
	}
	p.balances = p.balances.Add(sdk.NewDecCoinFromDec(denom, amount))
}

func (p *Pool) subBalance(denom string, amount sdkmath.LegacyDec) error {
	if !amount.IsPositive() {
		return nil
	}
	if p.balances.AmountOf(denom).LT(amount) {
		return fmt.Errorf("%w: %s %s held, %s needed", ErrInsufficientBalance, p.balances.AmountOf(denom), denom, amount)
	}
	p.balances = p.balances.Sub(sdk.NewDecCoins(sdk.NewDecCoinFromDec(denom, amount)))
	return nil
}

// TotalPoolValueQuote is the pool NAV in quote units: custody balances at
// spot, plus the hedge's quote value, plus the net option book, minus quote
// held for unprocessed deposits and unpaid settlement obligations.
func (p *Pool) TotalPoolValueQuote() (sdkmath.LegacyDec, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	spot, err := p.feed.SpotPrice()
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return p.navLocked(spot)
}

func (p *Pool) navLocked(spot sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	_, usedDelta, err := p.hedge.HedgingLiquidity(spot)
	if err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("reading hedging liquidity: %w", err)
	}
	netOptionValue := p.cache.GlobalNetGreeks(p.ledger.LiveBoardIDs()).NetOptionValue
	return p.quoteBalance().
		Add(p.baseBalance().Mul(spot)).
		Add(usedDelta).
		Add(netOptionValue).
		Sub(p.queuedDepositValue).
		Sub(p.settlementReserve), nil
}

// Liquidity computes the partitioned liquidity state at the current spot.
func (p *Pool) Liquidity() (types.LiquidityState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.liquidityLocked()
}

// liquidityLocked floors every category at zero in a fixed priority order:
// used-delta and used-collateral reflect funds actually held, then the
// pending-delta reservation is satisfied ahead of the reserved-collateral
// bucket, and whatever remains is free. The categories always sum back to NAV.
func (p *Pool) liquidityLocked() (types.LiquidityState, error) {
	spot, err := p.feed.SpotPrice()
	if err != nil {
		return types.LiquidityState{}, err
	}
	nav, err := p.navLocked(spot)
	if err != nil {
		return types.LiquidityState{}, err
	}
	pendingTarget, usedDelta, err := p.hedge.HedgingLiquidity(spot)
	if err != nil {
		return types.LiquidityState{}, fmt.Errorf("reading hedging liquidity: %w", err)
	}
	locked := p.ledger.LockedCollateral()
	usedCollatTarget := locked.Base.Mul(spot).Add(locked.Quote)

	pot := utils.FloorZero(nav)
	usedDeltaF := utils.MinDec(usedDelta, pot)
	pot = pot.Sub(usedDeltaF)
	usedCollatF := utils.MinDec(usedCollatTarget, pot)
	pot = pot.Sub(usedCollatF)
	pendingDeltaF := utils.MinDec(pendingTarget, pot)
	pot = pot.Sub(pendingDeltaF)
	reservedF := utils.MinDec(p.settlementReserve, pot)
	pot = pot.Sub(reservedF)
	free := pot

	// while boards are live a safety margin stays unburnable; a fully
	// settled pool can drain to zero
	burnable := free
	if p.ledger.HasLiveBoards() {
		burnable = utils.FloorZero(free.Sub(p.params.LiquidityCBThreshold.Mul(utils.FloorZero(nav))))
	}

	return types.LiquidityState{
		NAV:             nav,
		Free:            free,
		UsedCollat:      usedCollatF,
		ReservedCollat:  reservedF,
		PendingDelta:    pendingDeltaF,
		UsedDelta:       usedDeltaF,
		Burnable:        burnable,
		TokenPrice:      p.tokenPriceLocked(nav),
		LongScaleFactor: p.lastLongScaleFactor(),
	}, nil
}

func (p *Pool) tokenPriceLocked(nav sdkmath.LegacyDec) sdkmath.LegacyDec {
	if p.totalSupply.IsZero() {
		return sdkmath.LegacyOneDec()
	}
	return utils.FloorZero(nav).Quo(p.totalSupply)
}

func (p *Pool) lastLongScaleFactor() sdkmath.LegacyDec {
	factor := sdkmath.LegacyOneDec()
	for _, f := range p.longScaleFactors {
		if f.LT(factor) {
			factor = f
		}
	}
	return factor
}

// LongScaleFactor is the settlement haircut applied to long payouts on a
// settled board, 1 when the board settled fully solvent.
func (p *Pool) LongScaleFactor(boardID types.BoardID) sdkmath.LegacyDec {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.longScaleFactors[boardID]; ok {
		return f
	}
	return sdkmath.LegacyOneDec()
}

// TotalSupply is the number of liquidity tokens outstanding.
func (p *Pool) TotalSupply() sdkmath.LegacyDec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalSupply
}

// InsolventAmount is the running total of insolvency write-offs.
func (p *Pool) InsolventAmount() sdkmath.LegacyDec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.insolventAmount
}

// CBTimestamp is the effective circuit breaker expiry, the max across all
// trigger kinds.
func (p *Pool) CBTimestamp() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cbTimestampLocked()
}

func (p *Pool) cbTimestampLocked() int64 {
	ts := p.cbLiquidity
	for _, t := range []int64{p.cbVariance, p.cbSettlement, p.cbInsolvency} {
		if t > ts {
			ts = t
		}
	}
	return ts
}

func extendCB(slot *int64, until int64) {
	if until > *slot {
		*slot = until
	}
}

// updateCircuitBreakersLocked evaluates the liquidity and variance triggers
// after a state-changing operation. Settlement and insolvency triggers fire at
// their event sites.
func (p *Pool) updateCircuitBreakersLocked() error {
	now := p.now()
	liq, err := p.liquidityLocked()
	if err != nil {
		return err
	}
	if liq.NAV.IsPositive() && liq.Free.Quo(liq.NAV).LT(p.params.LiquidityCBThreshold) {
		extendCB(&p.cbLiquidity, now+p.params.LiquidityCBTimeout)
		p.log.Warn().
			Str("free", liq.Free.String()).
			Str("nav", liq.NAV.String()).
			Int64("until", p.cbLiquidity).
			Msg("Liquidity circuit breaker tripped")
	}
	for _, boardID := range p.ledger.LiveBoardIDs() {
		ivVar, skewVar, err := p.cache.Variances(boardID)
		if err != nil {
			continue // board not cached yet; staleness gating covers it
		}
		if ivVar.GT(p.params.IVVarianceCBThreshold) || skewVar.GT(p.params.SkewVarianceCBThreshold) {
			extendCB(&p.cbVariance, now+p.params.VarianceCBTimeout)
			p.log.Warn().
				Uint64("boardId", uint64(boardID)).
				Str("ivVariance", ivVar.String()).
				Str("skewVariance", skewVar.String()).
				Msg("Variance circuit breaker tripped")
		}
	}
	return nil
}

// UpdateBoardCache refreshes a board's greek cache at the current spot and
// re-evaluates the variance breaker.
func (p *Pool) UpdateBoardCache(boardID types.BoardID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	spot, err := p.feed.SpotPrice()
	if err != nil {
		return err
	}
	board, err := p.ledger.Board(boardID)
	if err != nil {
		return err
	}
	strikes, err := p.ledger.StrikesOf(boardID)
	if err != nil {
		return err
	}
	if err := p.cache.UpdateBoard(board, strikes, spot, p.now()); err != nil {
		return err
	}
	return p.updateCircuitBreakersLocked()
}

// ExchangeBase reconciles the pool's base balance with its locked base
// collateral: excess base is sold for quote, a shortfall is bought with free
// liquidity. Callable by anyone. Buying fails when free liquidity cannot
// cover the purchase.
func (p *Pool) ExchangeBase() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exchangeBaseLocked()
}

func (p *Pool) exchangeBaseLocked() error {
	locked := p.ledger.LockedCollateral()
	held := p.baseBalance()

	switch {
	case held.GT(locked.Base):
		excess := held.Sub(locked.Base)
		quote, err := p.exchange.BaseForQuote(excess)
		if err != nil {
			return fmt.Errorf("selling excess base: %w", err)
		}
		if err := p.subBalance(p.baseDenom, excess); err != nil {
			return err
		}
		p.addBalance(p.quoteDenom, quote)
		p.log.Debug().Str("sold", excess.String()).Str("received", quote.String()).Msg("Excess base exchanged")

	case held.LT(locked.Base):
		needed := locked.Base.Sub(held)
		spot, err := p.feed.SpotPrice()
		if err != nil {
			return err
		}
		params, err := p.feed.Params()
		if err != nil {
			return err
		}
		// worst-case quote cost including the exchange fee
		cost := needed.Mul(spot).Quo(sdkmath.LegacyOneDec().Sub(params.QuoteBaseFeeRate))
		liq, err := p.liquidityLocked()
		if err != nil {
			return err
		}
		if cost.GT(liq.Free) {
			return fmt.Errorf("%w: need %s, free %s", ErrInsufficientFreeLiquidityForBaseExchange, cost, liq.Free)
		}
		base, err := p.exchange.QuoteForBase(cost)
		if err != nil {
			return fmt.Errorf("buying base collateral: %w", err)
		}
		if err := p.subBalance(p.quoteDenom, cost); err != nil {
			return err
		}
		p.addBalance(p.baseDenom, base)
		p.log.Debug().Str("spent", cost.String()).Str("bought", base.String()).Msg("Base collateral bought")
	}
	return nil
}

// HedgerFunding returns the funding callbacks a hedger needs to draw on and
// return pool capital. The callbacks are lock-free: the hedger is only ever
// entered through pool operations that already hold the pool mutex.
func (p *Pool) HedgerFunding() hedger.Funding {
	return hedger.Funding{
		FreeLiquidity: func() (sdkmath.LegacyDec, error) {
			liq, err := p.liquidityLocked()
			if err != nil {
				return sdkmath.LegacyDec{}, err
			}
			return liq.Free, nil
		},
		Draw: func(amount sdkmath.LegacyDec) error {
			return p.subBalance(p.quoteDenom, amount)
		},
		Return: func(amount sdkmath.LegacyDec) {
			p.addBalance(p.quoteDenom, amount)
		},
	}
}

// HedgerNetDelta returns the lock-free net-delta source wired into the
// hedger. See HedgerFunding for the locking contract.
func (p *Pool) HedgerNetDelta() func() (sdkmath.LegacyDec, error) {
	return func() (sdkmath.LegacyDec, error) {
		return p.cache.GlobalNetGreeks(p.ledger.LiveBoardIDs()).NetDelta, nil
	}
}

// NetDelta returns the pool's aggregate option delta.
func (p *Pool) NetDelta() (sdkmath.LegacyDec, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.GlobalNetGreeks(p.ledger.LiveBoardIDs()).NetDelta, nil
}

// HedgeDelta runs a hedger rebalance under the pool lock and then
// re-evaluates circuit breakers.
func (p *Pool) HedgeDelta() (sdkmath.LegacyDec, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	got, err := p.hedge.HedgeDelta()
	if err != nil {
		return got, err
	}
	return got, p.updateCircuitBreakersLocked()
}

// QueuedDeposits returns a copy of the deposit tickets, processed and pending.
func (p *Pool) QueuedDeposits() []types.QueuedDeposit {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.QueuedDeposit, len(p.deposits))
	copy(out, p.deposits)
	return out
}

// QueuedWithdrawals returns a copy of the withdrawal tickets.
func (p *Pool) QueuedWithdrawals() []types.QueuedWithdrawal {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.QueuedWithdrawal, len(p.withdrawals))
	copy(out, p.withdrawals)
	return out
}

// Params returns the active pool parameters.
func (p *Pool) Params() types.PoolParameters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.params
}
