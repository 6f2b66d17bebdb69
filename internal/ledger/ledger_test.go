package ledger

import (
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"

	"github.com/arcadia-markets/ovm/internal/types"
)

func d(s string) sdkmath.LegacyDec {
	return sdkmath.LegacyMustNewDecFromStr(s)
}

const (
	day  = int64(86400)
	week = 7 * day
)

// seedBoard lists one board expiring in a week with a single ATM strike.
func seedBoard(t *testing.T, l *Ledger) (types.Board, types.Strike) {
	t.Helper()
	b, err := l.AddBoard(week, 0, d("0.6"))
	if err != nil {
		t.Fatalf("AddBoard: %v", err)
	}
	s, err := l.AddStrike(b.ID, d("1800"), d("1"))
	if err != nil {
		t.Fatalf("AddStrike: %v", err)
	}
	return b, s
}

func TestOpenPosition_UpdatesExposure(t *testing.T) {
	l := NewLedger()
	_, s := seedBoard(t, l)

	p, err := l.OpenPosition("trader1", s.ID, types.LongCall, d("2"), sdkmath.LegacyDec{}, 100)
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	if p.State != types.Active {
		t.Errorf("state = %s, want ACTIVE", p.State)
	}
	if !p.Collateral.IsZero() {
		t.Errorf("long position collateral = %s, want 0", p.Collateral)
	}
	got, _ := l.Strike(s.ID)
	if !got.Exposure.LongCall.Equal(d("2")) {
		t.Errorf("long call exposure = %s, want 2", got.Exposure.LongCall)
	}
}

func TestOpenPosition_Validation(t *testing.T) {
	l := NewLedger()
	_, s := seedBoard(t, l)

	if _, err := l.OpenPosition("", s.ID, types.LongCall, d("1"), sdkmath.LegacyDec{}, 100); !errors.Is(err, ErrInvalidOwner) {
		t.Errorf("empty owner: %v, want ErrInvalidOwner", err)
	}
	if _, err := l.OpenPosition("trader1", s.ID, types.LongCall, d("0"), sdkmath.LegacyDec{}, 100); !errors.Is(err, ErrInvalidPositionAmount) {
		t.Errorf("zero amount: %v, want ErrInvalidPositionAmount", err)
	}
	if _, err := l.OpenPosition("trader1", 999, types.LongCall, d("1"), sdkmath.LegacyDec{}, 100); !errors.Is(err, ErrStrikeNotFound) {
		t.Errorf("missing strike: %v, want ErrStrikeNotFound", err)
	}
	if _, err := l.OpenPosition("trader1", s.ID, types.ShortCallQuote, d("1"), sdkmath.LegacyDec{}, 100); err == nil {
		t.Error("short without collateral accepted")
	}
	if _, err := l.OpenPosition("trader1", s.ID, types.LongCall, d("1"), sdkmath.LegacyDec{}, week+1); !errors.Is(err, ErrBoardExpired) {
		t.Errorf("expired board: %v, want ErrBoardExpired", err)
	}
}

func TestOpenPosition_FrozenBoardRejected(t *testing.T) {
	l := NewLedger()
	b, s := seedBoard(t, l)
	if err := l.SetBoardFrozen(b.ID, true); err != nil {
		t.Fatalf("SetBoardFrozen: %v", err)
	}
	if _, err := l.OpenPosition("trader1", s.ID, types.LongCall, d("1"), sdkmath.LegacyDec{}, 100); !errors.Is(err, ErrBoardFrozen) {
		t.Errorf("err = %v, want ErrBoardFrozen", err)
	}
}

func TestClosePosition_PartialThenFull(t *testing.T) {
	l := NewLedger()
	_, s := seedBoard(t, l)
	p, _ := l.OpenPosition("trader1", s.ID, types.ShortPutQuote, d("5"), d("5000"), 100)

	if _, err := l.ClosePosition(p.ID, d("2"), 200); err != nil {
		t.Fatalf("partial close: %v", err)
	}
	got, _ := l.Position(p.ID)
	if !got.Amount.Equal(d("3")) || got.State != types.Active {
		t.Errorf("after partial close: amount %s state %s", got.Amount, got.State)
	}
	strike, _ := l.Strike(s.ID)
	if !strike.Exposure.ShortPutQuote.Equal(d("3")) {
		t.Errorf("exposure after partial close = %s, want 3", strike.Exposure.ShortPutQuote)
	}

	if _, err := l.ClosePosition(p.ID, d("3"), 300); err != nil {
		t.Fatalf("full close: %v", err)
	}
	got, _ = l.Position(p.ID)
	if got.State != types.Closed || !got.Amount.IsZero() || !got.Collateral.IsZero() {
		t.Errorf("after full close: %+v", got)
	}
	if _, err := l.ClosePosition(p.ID, d("1"), 400); !errors.Is(err, ErrPositionNotActive) {
		t.Errorf("closing closed position: %v, want ErrPositionNotActive", err)
	}
}

func TestClosePosition_OverCloseRejected(t *testing.T) {
	l := NewLedger()
	_, s := seedBoard(t, l)
	p, _ := l.OpenPosition("trader1", s.ID, types.LongPut, d("1"), sdkmath.LegacyDec{}, 100)
	if _, err := l.ClosePosition(p.ID, d("2"), 200); !errors.Is(err, ErrInvalidPositionAmount) {
		t.Errorf("err = %v, want ErrInvalidPositionAmount", err)
	}
}

func TestAdjustPosition(t *testing.T) {
	l := NewLedger()
	_, s := seedBoard(t, l)
	p, _ := l.OpenPosition("trader1", s.ID, types.ShortCallQuote, d("2"), d("2000"), 100)

	got, err := l.AdjustPosition(p.ID, d("1"), d("500"), 200)
	if err != nil {
		t.Fatalf("AdjustPosition: %v", err)
	}
	if !got.Amount.Equal(d("3")) || !got.Collateral.Equal(d("2500")) {
		t.Errorf("after adjust: amount %s collateral %s", got.Amount, got.Collateral)
	}
	strike, _ := l.Strike(s.ID)
	if !strike.Exposure.ShortCallQuote.Equal(d("3")) {
		t.Errorf("exposure = %s, want 3", strike.Exposure.ShortCallQuote)
	}

	if _, err := l.AdjustPosition(p.ID, d("-3"), d("0"), 300); !errors.Is(err, ErrInvalidPositionAmount) {
		t.Errorf("adjust to zero: %v, want ErrInvalidPositionAmount", err)
	}
	if _, err := l.AdjustPosition(p.ID, d("0"), d("-9999"), 300); err == nil {
		t.Error("negative collateral accepted")
	}
}

func TestLiquidatePosition(t *testing.T) {
	l := NewLedger()
	_, s := seedBoard(t, l)
	p, _ := l.OpenPosition("trader1", s.ID, types.ShortCallQuote, d("2"), d("100"), 100)

	snap, err := l.LiquidatePosition(p.ID)
	if err != nil {
		t.Fatalf("LiquidatePosition: %v", err)
	}
	if !snap.Amount.Equal(d("2")) || !snap.Collateral.Equal(d("100")) {
		t.Errorf("snapshot = %+v, want pre-liquidation values", snap)
	}
	got, _ := l.Position(p.ID)
	if got.State != types.Liquidated || !got.Amount.IsZero() || !got.Collateral.IsZero() {
		t.Errorf("after liquidation: %+v", got)
	}
	strike, _ := l.Strike(s.ID)
	if !strike.Exposure.ShortCallQuote.IsZero() {
		t.Errorf("exposure = %s, want 0", strike.Exposure.ShortCallQuote)
	}

	long, _ := l.OpenPosition("trader1", s.ID, types.LongCall, d("1"), sdkmath.LegacyDec{}, 100)
	if _, err := l.LiquidatePosition(long.ID); !errors.Is(err, ErrPositionNotActive) {
		t.Errorf("liquidating a long: %v, want ErrPositionNotActive", err)
	}
}

func TestSplitAndMerge(t *testing.T) {
	l := NewLedger()
	_, s := seedBoard(t, l)
	p, _ := l.OpenPosition("trader1", s.ID, types.ShortPutQuote, d("10"), d("10000"), 100)

	child, err := l.SplitPosition(p.ID, d("4"), d("4000"), "trader2")
	if err != nil {
		t.Fatalf("SplitPosition: %v", err)
	}
	if child.Owner != "trader2" || !child.Amount.Equal(d("4")) || !child.Collateral.Equal(d("4000")) {
		t.Errorf("child = %+v", child)
	}
	parent, _ := l.Position(p.ID)
	if !parent.Amount.Equal(d("6")) || !parent.Collateral.Equal(d("6000")) {
		t.Errorf("parent after split: %+v", parent)
	}
	// aggregate exposure is unchanged by a split
	strike, _ := l.Strike(s.ID)
	if !strike.Exposure.ShortPutQuote.Equal(d("10")) {
		t.Errorf("exposure after split = %s, want 10", strike.Exposure.ShortPutQuote)
	}

	// different owners cannot merge
	if err := l.MergePositions(p.ID, child.ID); !errors.Is(err, ErrMergeMismatch) {
		t.Errorf("cross-owner merge: %v, want ErrMergeMismatch", err)
	}

	sibling, _ := l.OpenPosition("trader1", s.ID, types.ShortPutQuote, d("2"), d("2000"), 100)
	if err := l.MergePositions(p.ID, sibling.ID); err != nil {
		t.Fatalf("MergePositions: %v", err)
	}
	merged, _ := l.Position(p.ID)
	if !merged.Amount.Equal(d("8")) || !merged.Collateral.Equal(d("8000")) {
		t.Errorf("merged target: %+v", merged)
	}
	source, _ := l.Position(sibling.ID)
	if source.State != types.Merged || !source.Amount.IsZero() || !source.Collateral.IsZero() {
		t.Errorf("merge source should be zeroed and MERGED, got %+v", source)
	}
}

func TestSettleBoard(t *testing.T) {
	l := NewLedger()
	b, s := seedBoard(t, l)
	p1, _ := l.OpenPosition("trader1", s.ID, types.LongCall, d("1"), sdkmath.LegacyDec{}, 100)
	p2, _ := l.OpenPosition("trader2", s.ID, types.ShortPutQuote, d("2"), d("2000"), 100)

	if _, err := l.SettleBoard(b.ID, week-1); !errors.Is(err, ErrBoardNotExpired) {
		t.Fatalf("early settle: %v, want ErrBoardNotExpired", err)
	}

	settled, err := l.SettleBoard(b.ID, week)
	if err != nil {
		t.Fatalf("SettleBoard: %v", err)
	}
	if len(settled) != 2 {
		t.Fatalf("settled %d positions, want 2", len(settled))
	}
	if settled[0].ID != p1.ID || settled[1].ID != p2.ID {
		t.Errorf("settled order = %d,%d, want %d,%d", settled[0].ID, settled[1].ID, p1.ID, p2.ID)
	}
	// snapshots keep amounts for payout computation
	if !settled[0].Amount.Equal(d("1")) || !settled[1].Amount.Equal(d("2")) {
		t.Errorf("settled amounts = %s,%s", settled[0].Amount, settled[1].Amount)
	}
	got, _ := l.Position(p1.ID)
	if got.State != types.Settled {
		t.Errorf("position state = %s, want SETTLED", got.State)
	}
	if l.HasLiveBoards() {
		t.Error("board should no longer be live")
	}
	if _, err := l.SettleBoard(b.ID, week); !errors.Is(err, ErrBoardAlreadySettled) {
		t.Errorf("double settle: %v, want ErrBoardAlreadySettled", err)
	}
}

func TestLockedCollateral(t *testing.T) {
	l := NewLedger()
	b, s := seedBoard(t, l)
	s2, _ := l.AddStrike(b.ID, d("2000"), d("1.1"))

	l.OpenPosition("trader1", s.ID, types.LongCall, d("3"), sdkmath.LegacyDec{}, 100)
	l.OpenPosition("trader2", s2.ID, types.LongPut, d("2"), sdkmath.LegacyDec{}, 100)
	// trader-posted short collateral is custody, not pool liquidity
	l.OpenPosition("trader3", s.ID, types.ShortCallQuote, d("5"), d("9000"), 100)

	locked := l.LockedCollateral()
	if !locked.Base.Equal(d("3")) {
		t.Errorf("locked base = %s, want 3", locked.Base)
	}
	if !locked.Quote.Equal(d("4000")) {
		t.Errorf("locked quote = %s, want 2 x 2000", locked.Quote)
	}

	if _, err := l.SettleBoard(b.ID, week); err != nil {
		t.Fatalf("SettleBoard: %v", err)
	}
	locked = l.LockedCollateral()
	if !locked.Base.IsZero() || !locked.Quote.IsZero() {
		t.Errorf("locked after settlement = %+v, want zero", locked)
	}
}

func TestLiveBoardIDs(t *testing.T) {
	l := NewLedger()
	b1, _ := l.AddBoard(week, 0, d("0.6"))
	b2, _ := l.AddBoard(2*week, 0, d("0.7"))
	ids := l.LiveBoardIDs()
	if len(ids) != 2 || ids[0] != b1.ID || ids[1] != b2.ID {
		t.Fatalf("live boards = %v", ids)
	}
	if _, err := l.SettleBoard(b1.ID, week); err != nil {
		t.Fatalf("SettleBoard: %v", err)
	}
	ids = l.LiveBoardIDs()
	if len(ids) != 1 || ids[0] != b2.ID {
		t.Fatalf("live boards after settle = %v", ids)
	}
}
