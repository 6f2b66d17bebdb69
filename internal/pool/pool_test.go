package pool

import (
	"testing"

	sdkmath "cosmossdk.io/math"

	"github.com/arcadia-markets/ovm/internal/collateral"
	"github.com/arcadia-markets/ovm/internal/hedger"
	"github.com/arcadia-markets/ovm/internal/ledger"
	"github.com/arcadia-markets/ovm/internal/oracle"
	"github.com/arcadia-markets/ovm/internal/pricing"
	"github.com/arcadia-markets/ovm/internal/types"
	"github.com/arcadia-markets/ovm/internal/utils"
)

const (
	hour = int64(3600)
	day  = int64(86400)
)

func d(s string) sdkmath.LegacyDec {
	return sdkmath.LegacyMustNewDecFromStr(s)
}

func closeTo(a, b sdkmath.LegacyDec, tol string) bool {
	return a.Sub(b).Abs().LTE(d(tol))
}

func testPoolParams() types.PoolParameters {
	return types.PoolParameters{
		DepositDelay:             60,
		WithdrawalDelay:          60,
		MinDepositQuote:          d("1"),
		MinWithdrawTokens:        d("1"),
		WithdrawalFee:            d("0.005"),
		LiquidityCBThreshold:     d("0.01"),
		LiquidityCBTimeout:       3 * day,
		VarianceCBTimeout:        12 * hour,
		BoardSettlementCBTimeout: 6 * hour,
		IVVarianceCBThreshold:    d("0.1"),
		SkewVarianceCBThreshold:  d("0.15"),
		Guardian:                 "guardian",
		GuardianDelay:            300,
	}
}

type fixture struct {
	t      *testing.T
	pool   *Pool
	feed   *oracle.Static
	ledger *ledger.Ledger
	cache  *ledger.GreekCache
	clock  int64
}

func newFixture(t *testing.T, spot string) *fixture {
	t.Helper()
	feed := oracle.NewStatic(d(spot), "usdc", "eth", sdkmath.LegacyZeroDec(), sdkmath.LegacyZeroDec())
	led := ledger.NewLedger()
	model := pricing.NewBlackScholes()

	cache, err := ledger.NewGreekCache(types.GreekCacheParameters{
		StalenessDuration: 6 * hour,
		VolGWAVPeriod:     12 * hour,
		SkewGWAVPeriod:    3 * hour,
		RateAndCarry:      d("0.05"),
	}, model)
	if err != nil {
		t.Fatalf("greek cache: %v", err)
	}

	eng, err := collateral.NewEngine(
		types.MinCollateralParameters{
			MinStaticQuoteCollateral: d("500"),
			MinStaticBaseCollateral:  d("0.4"),
			ShockVolA:                d("2.5"),
			ShockVolB:                d("1.8"),
			ShockVolPointA:           day,
			ShockVolPointB:           30 * day,
			CallSpotShock:            d("1.2"),
			CallSpotShockBase:        d("1.1"),
			PutSpotShock:             d("0.8"),
		},
		types.ForceCloseParameters{
			CutoffSeconds:        12 * hour,
			LongVolShock:         d("0.85"),
			LongPostCutoffShock:  d("0.7"),
			ShortVolShock:        d("1.15"),
			ShortPostCutoffShock: d("1.3"),
			MinSpotBuffer:        d("0.01"),
		},
		types.LiquidationFeeParameters{
			MinLiquidationFee:  d("15"),
			FeePortion:         d("0.2"),
			LiquidatorFeeRatio: d("0.4"),
			SMFeeRatio:         d("0.3"),
		},
		d("0.05"), model,
	)
	if err != nil {
		t.Fatalf("collateral engine: %v", err)
	}

	p, err := New(Config{
		Params:       testPoolParams(),
		QuoteDenom:   "usdc",
		BaseDenom:    "eth",
		Feed:         feed,
		Exchange:     feed,
		Ledger:       led,
		GreekCache:   cache,
		Collateral:   eng,
		Model:        model,
		RateAndCarry: d("0.05"),
	})
	if err != nil {
		t.Fatalf("pool: %v", err)
	}

	f := &fixture{t: t, pool: p, feed: feed, ledger: led, cache: cache, clock: 1_000_000}
	p.SetClock(func() int64 { return f.clock })
	return f
}

func (f *fixture) advance(sec int64) { f.clock += sec }

// seed deposits quote while no boards are live, so it mints immediately.
func (f *fixture) seed(beneficiary, amount string) {
	f.t.Helper()
	if _, err := f.pool.InitiateDeposit(beneficiary, d(amount)); err != nil {
		f.t.Fatalf("seed deposit: %v", err)
	}
}

func (f *fixture) addBoard(ttl int64, baseIV, strike, skew string) (types.Board, types.Strike) {
	f.t.Helper()
	b, err := f.ledger.AddBoard(f.clock+ttl, f.clock, d(baseIV))
	if err != nil {
		f.t.Fatalf("add board: %v", err)
	}
	s, err := f.ledger.AddStrike(b.ID, d(strike), d(skew))
	if err != nil {
		f.t.Fatalf("add strike: %v", err)
	}
	if err := f.pool.UpdateBoardCache(b.ID); err != nil {
		f.t.Fatalf("update board cache: %v", err)
	}
	return b, s
}

func (f *fixture) withSyntheticHedger(cap, buffer string, delay int64) *hedger.Synthetic {
	f.t.Helper()
	h, err := hedger.NewSynthetic(
		types.HedgerParameters{InteractionDelay: delay, HedgeCap: d(cap), ShortBuffer: d(buffer)},
		f.feed, f.feed,
		f.pool.HedgerNetDelta(),
		f.pool.HedgerFunding(),
	)
	if err != nil {
		f.t.Fatalf("synthetic hedger: %v", err)
	}
	h.SetClock(func() int64 { return f.clock })
	f.pool.SetHedger(h)
	return h
}

func (f *fixture) liq() types.LiquidityState {
	f.t.Helper()
	liq, err := f.pool.Liquidity()
	if err != nil {
		f.t.Fatalf("liquidity: %v", err)
	}
	return liq
}

// reconcile asserts the partition sums back to NAV and no category is
// negative.
func (f *fixture) reconcile() types.LiquidityState {
	f.t.Helper()
	liq := f.liq()
	sum := liq.Free.
		Add(liq.UsedCollat).
		Add(liq.ReservedCollat).
		Add(liq.PendingDelta).
		Add(liq.UsedDelta)
	tol := utils.MaxDec(liq.NAV.Abs().Mul(d("0.000000001")), d("0.000000001"))
	if sum.Sub(utils.FloorZero(liq.NAV)).Abs().GT(tol) {
		f.t.Fatalf("partition does not reconcile: nav %s, sum %s", liq.NAV, sum)
	}
	for name, v := range map[string]sdkmath.LegacyDec{
		"free":           liq.Free,
		"usedCollat":     liq.UsedCollat,
		"reservedCollat": liq.ReservedCollat,
		"pendingDelta":   liq.PendingDelta,
		"usedDelta":      liq.UsedDelta,
		"burnable":       liq.Burnable,
	} {
		if v.IsNegative() {
			f.t.Fatalf("%s is negative: %s", name, v)
		}
	}
	return liq
}

func TestEmptyPoolLiquidity(t *testing.T) {
	f := newFixture(t, "1742")
	liq := f.reconcile()
	if !liq.NAV.IsZero() {
		t.Fatalf("empty pool NAV = %s, want 0", liq.NAV)
	}
	if !liq.TokenPrice.Equal(d("1")) {
		t.Fatalf("empty pool token price = %s, want 1", liq.TokenPrice)
	}
}

func TestLongCallLocksSpotCollateral(t *testing.T) {
	f := newFixture(t, "1742")
	f.seed("lp1", "500000")
	_, strike := f.addBoard(14*day, "0.6", "1742", "1")
	f.withSyntheticHedger("100", "1.1", hour)

	pos, err := f.pool.OpenPosition("trader1", strike.ID, types.LongCall, d("1"), sdkmath.LegacyZeroDec())
	if err != nil {
		t.Fatalf("open long call: %v", err)
	}

	liq := f.reconcile()
	if !closeTo(liq.UsedCollat, d("1742"), "0.1") {
		t.Fatalf("usedCollat = %s, want ~1742", liq.UsedCollat)
	}
	if !closeTo(liq.NAV, d("500000"), "0.01") {
		t.Fatalf("NAV = %s, want ~500000", liq.NAV)
	}

	// the pending reservation is the buffered quote cost of the unhedged
	// target
	netDelta, err := f.pool.NetDelta()
	if err != nil {
		t.Fatalf("net delta: %v", err)
	}
	if !netDelta.IsNegative() {
		t.Fatalf("pool net delta = %s, want negative against a trader long call", netDelta)
	}
	wantPending := netDelta.Neg().Mul(d("1742")).Mul(d("1.1"))
	if !closeTo(liq.PendingDelta, wantPending, "0.000000001") {
		t.Fatalf("pendingDelta = %s, want %s", liq.PendingDelta, wantPending)
	}
	if liq.PendingDelta.LT(d("500")) {
		t.Fatalf("pendingDelta = %s, expected a material reservation", liq.PendingDelta)
	}

	// hedging converts the pending reservation into used delta
	if _, err := f.pool.HedgeDelta(); err != nil {
		t.Fatalf("hedge delta: %v", err)
	}
	liq = f.reconcile()
	if !liq.UsedDelta.IsPositive() {
		t.Fatalf("usedDelta = %s after hedging, want positive", liq.UsedDelta)
	}
	if !liq.PendingDelta.IsZero() {
		t.Fatalf("pendingDelta = %s after hedging, want 0", liq.PendingDelta)
	}
	if !closeTo(liq.NAV, d("500000"), "0.01") {
		t.Fatalf("NAV = %s after hedging, want ~500000", liq.NAV)
	}

	// closing frees the base cover and flattening the hedge returns the rest
	if _, err := f.pool.ClosePosition(pos.ID, d("1")); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := f.pool.HedgeDelta(); err != nil {
		t.Fatalf("flatten hedge: %v", err)
	}
	f.advance(7 * day)
	liq = f.reconcile()
	if !closeTo(liq.UsedCollat, d("0"), "0.1") {
		t.Fatalf("usedCollat = %s after close, want 0", liq.UsedCollat)
	}
	if !liq.UsedDelta.IsZero() {
		t.Fatalf("usedDelta = %s after flatten, want 0", liq.UsedDelta)
	}
	if !closeTo(liq.NAV, d("500000"), "0.01") {
		t.Fatalf("NAV = %s after round trip, want ~500000", liq.NAV)
	}
}

func TestReconciliationAcrossOperations(t *testing.T) {
	f := newFixture(t, "1742")
	f.seed("lp1", "100000")
	f.reconcile()

	board, strike := f.addBoard(14*day, "0.6", "1742", "1")
	f.withSyntheticHedger("100", "1.1", hour)
	f.reconcile()

	if _, err := f.pool.OpenPosition("t1", strike.ID, types.LongCall, d("2"), sdkmath.LegacyZeroDec()); err != nil {
		t.Fatalf("open long call: %v", err)
	}
	f.reconcile()

	if _, err := f.pool.OpenPosition("t2", strike.ID, types.LongPut, d("3"), sdkmath.LegacyZeroDec()); err != nil {
		t.Fatalf("open long put: %v", err)
	}
	f.reconcile()

	if _, err := f.pool.OpenPosition("t3", strike.ID, types.ShortPutQuote, d("1"), d("1742")); err != nil {
		t.Fatalf("open short put: %v", err)
	}
	f.reconcile()

	if _, err := f.pool.InitiateDeposit("lp2", d("5000")); err != nil {
		t.Fatalf("queue deposit: %v", err)
	}
	f.reconcile()

	f.advance(61)
	if err := f.pool.UpdateBoardCache(board.ID); err != nil {
		t.Fatalf("refresh cache: %v", err)
	}
	if _, err := f.pool.ProcessDepositQueue("keeper", 10); err != nil {
		t.Fatalf("process deposits: %v", err)
	}
	f.reconcile()

	if _, err := f.pool.HedgeDelta(); err != nil {
		t.Fatalf("hedge: %v", err)
	}
	f.reconcile()
}

func TestLiquidityCircuitBreakerExtends(t *testing.T) {
	f := newFixture(t, "1742")
	f.seed("lp1", "10000")
	board, strike := f.addBoard(14*day, "0.6", "1742", "1")

	// lock nearly everything so free/NAV falls under the threshold
	if _, err := f.pool.OpenPosition("t1", strike.ID, types.LongPut, d("5.7"), sdkmath.LegacyZeroDec()); err != nil {
		t.Fatalf("open long put: %v", err)
	}
	first := f.pool.CBTimestamp()
	want := f.clock + testPoolParams().LiquidityCBTimeout
	if first != want {
		t.Fatalf("cb timestamp = %d, want %d", first, want)
	}

	// a later evaluation while still under the threshold extends, never
	// shrinks
	f.advance(1000)
	if err := f.pool.UpdateBoardCache(board.ID); err != nil {
		t.Fatalf("refresh cache: %v", err)
	}
	second := f.pool.CBTimestamp()
	if second != first+1000 {
		t.Fatalf("cb timestamp = %d after re-trigger, want %d", second, first+1000)
	}
	if second < first {
		t.Fatalf("cb timestamp shrank: %d -> %d", first, second)
	}
}

func TestVarianceCircuitBreakerTrips(t *testing.T) {
	f := newFixture(t, "1742")
	f.seed("lp1", "10000")
	board, _ := f.addBoard(14*day, "0.6", "1742", "1")

	// a flat refresh keeps variance at zero
	f.advance(hour)
	if err := f.pool.UpdateBoardCache(board.ID); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if ts := f.pool.CBTimestamp(); ts > f.clock {
		t.Fatalf("breaker active at %d after flat refresh", ts)
	}

	// a jump in baseIV pulls the live value away from its smoothed average
	f.advance(hour)
	if err := f.ledger.SetBoardBaseIV(board.ID, d("1.2")); err != nil {
		t.Fatalf("set baseIV: %v", err)
	}
	if err := f.pool.UpdateBoardCache(board.ID); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	want := f.clock + testPoolParams().VarianceCBTimeout
	if ts := f.pool.CBTimestamp(); ts != want {
		t.Fatalf("cb timestamp = %d after IV jump, want %d", ts, want)
	}
}

func TestGuardianBypassesOnlyLiquidityBreaker(t *testing.T) {
	f := newFixture(t, "1742")
	f.seed("lp1", "10000")
	_, strike := f.addBoard(14*day, "0.6", "1742", "1")

	if _, err := f.pool.OpenPosition("t1", strike.ID, types.LongPut, d("5.7"), sdkmath.LegacyZeroDec()); err != nil {
		t.Fatalf("open long put: %v", err)
	}
	if f.pool.CBTimestamp() <= f.clock {
		t.Fatal("expected liquidity breaker to be active")
	}

	if _, err := f.pool.InitiateDeposit("lp2", d("1000")); err != nil {
		t.Fatalf("queue deposit: %v", err)
	}

	f.advance(61)
	n, err := f.pool.ProcessDepositQueue("keeper", 10)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if n != 0 {
		t.Fatalf("processed %d under active breaker, want 0", n)
	}
	n, err = f.pool.ProcessDepositQueue("guardian", 10)
	if err != nil {
		t.Fatalf("guardian process: %v", err)
	}
	if n != 0 {
		t.Fatalf("guardian processed %d before the guardian delay, want 0", n)
	}

	f.advance(300)
	n, err = f.pool.ProcessDepositQueue("guardian", 10)
	if err != nil {
		t.Fatalf("guardian process: %v", err)
	}
	if n != 1 {
		t.Fatalf("guardian processed %d past the guardian delay, want 1", n)
	}

	// any other trigger kind still binds the guardian
	f.pool.cbSettlement = f.clock + 10000
	if _, err := f.pool.InitiateDeposit("lp3", d("1000")); err != nil {
		t.Fatalf("queue deposit: %v", err)
	}
	f.advance(361)
	n, err = f.pool.ProcessDepositQueue("guardian", 10)
	if err != nil {
		t.Fatalf("guardian process: %v", err)
	}
	if n != 0 {
		t.Fatalf("guardian processed %d under settlement breaker, want 0", n)
	}
}
