package pool

import (
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"

	"github.com/arcadia-markets/ovm/internal/types"
)

func TestDepositValidation(t *testing.T) {
	f := newFixture(t, "1742")
	if _, err := f.pool.InitiateDeposit("", d("100")); !errors.Is(err, ErrInvalidBeneficiaryAddress) {
		t.Fatalf("empty beneficiary: got %v", err)
	}
	if _, err := f.pool.InitiateDeposit("lp1", d("0.5")); !errors.Is(err, ErrMinimumDepositNotMet) {
		t.Fatalf("below minimum: got %v", err)
	}
}

func TestWithdrawValidation(t *testing.T) {
	f := newFixture(t, "1742")
	f.seed("lp1", "1000")
	if _, err := f.pool.InitiateWithdraw("", d("100")); !errors.Is(err, ErrInvalidBeneficiaryAddress) {
		t.Fatalf("empty beneficiary: got %v", err)
	}
	if _, err := f.pool.InitiateWithdraw("lp1", d("0.5")); !errors.Is(err, ErrMinimumWithdrawNotMet) {
		t.Fatalf("below minimum: got %v", err)
	}
	if _, err := f.pool.InitiateWithdraw("lp1", d("1001")); err == nil {
		t.Fatal("expected error withdrawing more tokens than outstanding")
	}
}

func TestImmediateDepositAndWithdrawWithoutBoards(t *testing.T) {
	f := newFixture(t, "1742")

	dep, err := f.pool.InitiateDeposit("lp1", d("1000"))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !dep.MintedTokens.Equal(d("1000")) {
		t.Fatalf("minted %s at an empty pool, want 1000", dep.MintedTokens)
	}
	if !f.pool.TotalSupply().Equal(d("1000")) {
		t.Fatalf("supply = %s, want 1000", f.pool.TotalSupply())
	}

	w, err := f.pool.InitiateWithdraw("lp1", d("400"))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !w.QuoteSent.Equal(d("400")) {
		t.Fatalf("immediate withdrawal sent %s, want 400 fee-free", w.QuoteSent)
	}
	if !f.pool.TotalSupply().Equal(d("600")) {
		t.Fatalf("supply = %s, want 600", f.pool.TotalSupply())
	}
}

func TestDepositQueueFIFOAndLimit(t *testing.T) {
	f := newFixture(t, "1742")
	f.seed("lp0", "1000")
	board, _ := f.addBoard(14*day, "0.6", "1742", "1")

	for _, amount := range []string{"100", "200", "300"} {
		if _, err := f.pool.InitiateDeposit("lp1", d(amount)); err != nil {
			t.Fatalf("queue deposit: %v", err)
		}
	}
	// queued value is excluded from NAV, so the token price is unchanged
	if liq := f.liq(); !liq.TokenPrice.Equal(d("1")) {
		t.Fatalf("token price = %s with queued deposits, want 1", liq.TokenPrice)
	}

	f.advance(61)
	if err := f.pool.UpdateBoardCache(board.ID); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	n, err := f.pool.ProcessDepositQueue("keeper", 2)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if n != 2 {
		t.Fatalf("processed %d with limit 2, want 2", n)
	}

	deps := f.pool.QueuedDeposits()
	if !deps[1].MintedTokens.Equal(d("100")) || !deps[2].MintedTokens.Equal(d("200")) {
		t.Fatalf("first two tickets minted %s, %s", deps[1].MintedTokens, deps[2].MintedTokens)
	}
	if !deps[3].MintedTokens.IsZero() {
		t.Fatalf("third ticket minted %s before its turn", deps[3].MintedTokens)
	}

	n, err = f.pool.ProcessDepositQueue("keeper", 10)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if n != 1 {
		t.Fatalf("processed %d on second pass, want 1", n)
	}
	if !f.pool.TotalSupply().Equal(d("1600")) {
		t.Fatalf("supply = %s, want 1600", f.pool.TotalSupply())
	}
}

func TestDepositQueueDelayHoldsLaterTickets(t *testing.T) {
	f := newFixture(t, "1742")
	f.seed("lp0", "1000")
	board, _ := f.addBoard(14*day, "0.6", "1742", "1")

	if _, err := f.pool.InitiateDeposit("lp1", d("100")); err != nil {
		t.Fatalf("queue deposit: %v", err)
	}
	f.advance(50)
	if _, err := f.pool.InitiateDeposit("lp2", d("200")); err != nil {
		t.Fatalf("queue deposit: %v", err)
	}

	f.advance(10) // first ticket is 60s old, second only 10s
	if err := f.pool.UpdateBoardCache(board.ID); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	n, err := f.pool.ProcessDepositQueue("keeper", 10)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if n != 1 {
		t.Fatalf("processed %d, want only the aged ticket", n)
	}
}

func TestStaleCacheGatesQueues(t *testing.T) {
	f := newFixture(t, "1742")
	f.seed("lp0", "1000")
	board, _ := f.addBoard(14*day, "0.6", "1742", "1")

	if _, err := f.pool.InitiateDeposit("lp1", d("100")); err != nil {
		t.Fatalf("queue deposit: %v", err)
	}
	f.advance(7 * hour) // past the staleness duration with no refresh

	n, err := f.pool.ProcessDepositQueue("keeper", 10)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if n != 0 {
		t.Fatalf("processed %d against a stale cache, want 0", n)
	}

	if err := f.pool.UpdateBoardCache(board.ID); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	n, err = f.pool.ProcessDepositQueue("keeper", 10)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if n != 1 {
		t.Fatalf("processed %d after refresh, want 1", n)
	}
}

func TestGatedProcessingIsANoOp(t *testing.T) {
	f := newFixture(t, "1742")
	f.seed("lp1", "1000")
	f.addBoard(14*day, "0.6", "1742", "1")

	if _, err := f.pool.InitiateDeposit("lp2", d("100")); err != nil {
		t.Fatalf("queue deposit: %v", err)
	}
	if _, err := f.pool.InitiateWithdraw("lp1", d("50")); err != nil {
		t.Fatalf("queue withdraw: %v", err)
	}

	supply := f.pool.TotalSupply()
	nav := f.liq().NAV
	depHead, wdHead := f.pool.depositHead, f.pool.withdrawalHead

	f.advance(30) // under both delays
	for i := 0; i < 3; i++ {
		if n, err := f.pool.ProcessDepositQueue("keeper", 10); err != nil || n != 0 {
			t.Fatalf("deposit pass %d: n=%d err=%v", i, n, err)
		}
		if n, err := f.pool.ProcessWithdrawalQueue("keeper", 10); err != nil || n != 0 {
			t.Fatalf("withdrawal pass %d: n=%d err=%v", i, n, err)
		}
	}

	if !f.pool.TotalSupply().Equal(supply) {
		t.Fatalf("supply changed: %s -> %s", supply, f.pool.TotalSupply())
	}
	if got := f.liq().NAV; !got.Equal(nav) {
		t.Fatalf("NAV changed: %s -> %s", nav, got)
	}
	if f.pool.depositHead != depHead || f.pool.withdrawalHead != wdHead {
		t.Fatalf("queue heads moved: %d, %d", f.pool.depositHead, f.pool.withdrawalHead)
	}
}

func TestPartialWithdrawalHoldsQueueHead(t *testing.T) {
	f := newFixture(t, "1742")
	f.seed("lp1", "10000")
	board, strike := f.addBoard(14*day, "0.6", "1742", "1")

	// lock most of the pool so burnable liquidity cannot cover the ticket
	pos, err := f.pool.OpenPosition("t1", strike.ID, types.LongPut, d("5"), sdkmath.LegacyZeroDec())
	if err != nil {
		t.Fatalf("open long put: %v", err)
	}

	w1, err := f.pool.InitiateWithdraw("lp1", d("2000"))
	if err != nil {
		t.Fatalf("queue withdraw: %v", err)
	}

	f.advance(61)
	if err := f.pool.UpdateBoardCache(board.ID); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	n, err := f.pool.ProcessWithdrawalQueue("keeper", 10)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if n != 1 {
		t.Fatalf("processed %d, want 1 partial", n)
	}

	// free = 10000 - 5*1742 = 1290, burnable = free - 1% NAV = 1190
	got := f.pool.QueuedWithdrawals()[0]
	if !got.TokensBurned.Equal(d("1190")) {
		t.Fatalf("burned %s on partial fill, want 1190", got.TokensBurned)
	}
	wantSent := d("1190").Mul(d("0.995"))
	if !closeTo(got.QuoteSent, wantSent, "0.000000001") {
		t.Fatalf("sent %s on partial fill, want %s", got.QuoteSent, wantSent)
	}
	if f.pool.withdrawalHead != 0 {
		t.Fatal("partial ticket must hold the queue head")
	}

	// a later ticket cannot jump the held head
	if _, err := f.pool.InitiateWithdraw("lp1", d("500")); err != nil {
		t.Fatalf("queue second withdraw: %v", err)
	}
	if _, err := f.pool.ProcessWithdrawalQueue("keeper", 10); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := f.pool.QueuedWithdrawals()[1]; !got.TokensBurned.IsZero() {
		t.Fatalf("second ticket burned %s behind a partial head", got.TokensBurned)
	}

	// closing the put frees the locked collateral; both tickets resolve
	if _, err := f.pool.ClosePosition(pos.ID, d("5")); err != nil {
		t.Fatalf("close put: %v", err)
	}
	f.advance(61)
	if err := f.pool.UpdateBoardCache(board.ID); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := f.pool.ProcessWithdrawalQueue("keeper", 10); err != nil {
		t.Fatalf("process: %v", err)
	}

	ws := f.pool.QueuedWithdrawals()
	if !ws[0].Resolved() || !ws[1].Resolved() {
		t.Fatalf("tickets unresolved after liquidity freed: %s/%s, %s/%s",
			ws[0].TokensBurned, ws[0].AmountTokens, ws[1].TokensBurned, ws[1].AmountTokens)
	}
	if f.pool.withdrawalHead != 2 {
		t.Fatalf("withdrawal head = %d, want 2", f.pool.withdrawalHead)
	}
	if !f.pool.TotalSupply().Equal(d("7500")) {
		t.Fatalf("supply = %s, want 7500", f.pool.TotalSupply())
	}
	if w1.ID != ws[0].ID {
		t.Fatalf("ticket order changed: %d first, want %d", ws[0].ID, w1.ID)
	}
}

func TestWithdrawalFeeAccruesToRemainingLPs(t *testing.T) {
	f := newFixture(t, "1742")
	f.seed("lp1", "1000")
	board, _ := f.addBoard(day, "0.6", "1742", "1")

	if _, err := f.pool.InitiateWithdraw("lp1", d("500")); err != nil {
		t.Fatalf("queue withdraw: %v", err)
	}
	f.advance(61)
	if err := f.pool.UpdateBoardCache(board.ID); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := f.pool.ProcessWithdrawalQueue("keeper", 10); err != nil {
		t.Fatalf("process: %v", err)
	}

	first := f.pool.QueuedWithdrawals()[0]
	if !first.QuoteSent.Equal(d("497.5")) {
		t.Fatalf("sent %s while boards live, want 497.5 after the 0.5%% fee", first.QuoteSent)
	}
	// the fee stays in the pool: the remaining tokens appreciate
	if liq := f.liq(); !closeTo(liq.TokenPrice, d("1.005"), "0.000000001") {
		t.Fatalf("token price = %s after fee accrual, want 1.005", liq.TokenPrice)
	}

	// settle the board, wait out the settlement breaker, then exit in full
	f.advance(day)
	if err := f.pool.SettleBoard(board.ID); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if _, err := f.pool.InitiateWithdraw("lp1", d("500")); err != nil {
		t.Fatalf("queue final withdraw: %v", err)
	}
	f.advance(testPoolParams().BoardSettlementCBTimeout + 61)
	if _, err := f.pool.ProcessWithdrawalQueue("keeper", 10); err != nil {
		t.Fatalf("process: %v", err)
	}

	second := f.pool.QueuedWithdrawals()[1]
	if !second.Resolved() {
		t.Fatalf("final withdrawal unresolved: %s/%s", second.TokensBurned, second.AmountTokens)
	}
	total := first.QuoteSent.Add(second.QuoteSent)
	if !closeTo(total, d("1000"), "0.000000001") {
		t.Fatalf("sole LP got back %s in total, want exactly 1000", total)
	}
	if !f.pool.TotalSupply().IsZero() {
		t.Fatalf("supply = %s after full exit, want 0", f.pool.TotalSupply())
	}
	if bal := f.pool.quoteBalance(); !closeTo(bal, d("0"), "0.000000001") {
		t.Fatalf("pool retains %s quote after the final sweep", bal)
	}
}

func TestWithdrawalQueueEscrowsTokens(t *testing.T) {
	f := newFixture(t, "1742")
	f.seed("lp1", "10000")
	board, _ := f.addBoard(day, "0.6", "1742", "1")

	if _, err := f.pool.InitiateWithdraw("lp1", d("10000")); err != nil {
		t.Fatalf("queue withdraw: %v", err)
	}
	if !f.pool.queuedWithdrawalTokens.Equal(d("10000")) {
		t.Fatalf("escrow = %s, want 10000", f.pool.queuedWithdrawalTokens)
	}

	// every outstanding token is claimed by the first ticket: no second
	// ticket can be written against them
	if _, err := f.pool.InitiateWithdraw("lp1", d("10000")); !errors.Is(err, ErrMinimumWithdrawNotMet) {
		t.Fatalf("oversubscribed withdraw: got %v", err)
	}
	if _, err := f.pool.InitiateWithdraw("lp1", d("1")); !errors.Is(err, ErrMinimumWithdrawNotMet) {
		t.Fatalf("withdraw against escrowed tokens: got %v", err)
	}

	// the first ticket resolves and burns the full supply
	f.advance(day)
	if err := f.pool.SettleBoard(board.ID); err != nil {
		t.Fatalf("settle: %v", err)
	}
	f.advance(testPoolParams().BoardSettlementCBTimeout + 61)
	if n, err := f.pool.ProcessWithdrawalQueue("keeper", 10); err != nil || n != 1 {
		t.Fatalf("process: n=%d err=%v", n, err)
	}
	if !f.pool.TotalSupply().IsZero() {
		t.Fatalf("supply = %s after full exit, want 0", f.pool.TotalSupply())
	}
	if !f.pool.queuedWithdrawalTokens.IsZero() {
		t.Fatalf("escrow = %s after burn, want 0", f.pool.queuedWithdrawalTokens)
	}

	// a fresh depositor's stake belongs to them alone; no stale claim is
	// left to drain it
	dep, err := f.pool.InitiateDeposit("lp3", d("5000"))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !dep.MintedTokens.Equal(d("5000")) {
		t.Fatalf("minted %s at an empty pool, want 5000", dep.MintedTokens)
	}
	if n, err := f.pool.ProcessWithdrawalQueue("keeper", 10); err != nil || n != 0 {
		t.Fatalf("stale queue pass: n=%d err=%v", n, err)
	}
	liq := f.reconcile()
	if !closeTo(liq.NAV, d("5000"), "0.000000001") {
		t.Fatalf("NAV = %s after fresh deposit, want 5000", liq.NAV)
	}
}

func TestSettlementBreakerBlocksImmediatePath(t *testing.T) {
	f := newFixture(t, "1742")
	f.seed("lp1", "1000")
	board, _ := f.addBoard(day, "0.6", "1742", "1")

	f.advance(day + 1)
	if err := f.pool.SettleBoard(board.ID); err != nil {
		t.Fatalf("settle: %v", err)
	}

	// no live boards, but the settlement cooldown is running: both initiate
	// paths must queue instead of executing
	dep, err := f.pool.InitiateDeposit("lp2", d("100"))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !dep.MintedTokens.IsZero() {
		t.Fatalf("deposit minted %s during settlement cooldown", dep.MintedTokens)
	}
	w, err := f.pool.InitiateWithdraw("lp1", d("100"))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !w.QuoteSent.IsZero() {
		t.Fatalf("withdrawal paid %s during settlement cooldown", w.QuoteSent)
	}

	f.advance(testPoolParams().BoardSettlementCBTimeout + 61)
	if n, _ := f.pool.ProcessDepositQueue("keeper", 10); n != 1 {
		t.Fatalf("deposit not processed after cooldown: %d", n)
	}
	if n, _ := f.pool.ProcessWithdrawalQueue("keeper", 10); n != 1 {
		t.Fatalf("withdrawal not processed after cooldown: %d", n)
	}
}

func TestDepositMintsAtCurrentTokenPrice(t *testing.T) {
	f := newFixture(t, "1742")
	f.seed("lp1", "1000")
	board, _ := f.addBoard(day, "0.6", "1742", "1")

	if _, err := f.pool.InitiateDeposit("lp2", d("300")); err != nil {
		t.Fatalf("queue deposit: %v", err)
	}

	// charge a withdrawal fee into the pool so the price moves off 1
	if _, err := f.pool.InitiateWithdraw("lp1", d("500")); err != nil {
		t.Fatalf("queue withdraw: %v", err)
	}
	f.advance(61)
	if err := f.pool.UpdateBoardCache(board.ID); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := f.pool.ProcessWithdrawalQueue("keeper", 10); err != nil {
		t.Fatalf("process withdrawals: %v", err)
	}
	price := f.liq().TokenPrice
	if price.Equal(sdkmath.LegacyOneDec()) {
		t.Fatal("expected token price off parity for this test")
	}

	if _, err := f.pool.ProcessDepositQueue("keeper", 10); err != nil {
		t.Fatalf("process deposits: %v", err)
	}
	dep := f.pool.QueuedDeposits()[1]
	want := d("300").Quo(price)
	if !closeTo(dep.MintedTokens, want, "0.000000001") {
		t.Fatalf("minted %s, want %s at price %s", dep.MintedTokens, want, price)
	}
}
