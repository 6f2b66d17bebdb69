/*

This file contains the position ledger: expiry boards, their strikes, and the
option positions held against the pool. The ledger is the source of truth for
per-strike exposure and for the pool collateral locked behind trader longs.

*/

package ledger

import (
	"errors"
	"fmt"
	"sort"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/arcadia-markets/ovm/internal/logger"
	"github.com/arcadia-markets/ovm/internal/types"
)

var (
	ErrBoardNotFound         = errors.New("board not found")
	ErrStrikeNotFound        = errors.New("strike not found")
	ErrPositionNotFound      = errors.New("position not found")
	ErrBoardFrozen           = errors.New("board is frozen")
	ErrBoardExpired          = errors.New("board has expired")
	ErrBoardNotExpired       = errors.New("board has not expired yet")
	ErrBoardAlreadySettled   = errors.New("board already settled")
	ErrInvalidOwner          = errors.New("owner address cannot be empty")
	ErrInvalidPositionAmount = errors.New("position amount must be positive")
	ErrPositionNotActive     = errors.New("position is not active")
	ErrMergeMismatch         = errors.New("positions must share owner, strike and option type")
)

// Ledger owns every board, strike and position. It is not safe for concurrent
// use; the pool serializes access behind its own mutex.
type Ledger struct {
	log zerolog.Logger

	nextBoardID    types.BoardID
	nextStrikeID   types.StrikeID
	nextPositionID types.PositionID

	boards    map[types.BoardID]*types.Board
	strikes   map[types.StrikeID]*types.Strike
	positions map[types.PositionID]*types.Position
}

func NewLedger() *Ledger {
	return &Ledger{
		log:       logger.GetForComponent("position_ledger"),
		boards:    make(map[types.BoardID]*types.Board),
		strikes:   make(map[types.StrikeID]*types.Strike),
		positions: make(map[types.PositionID]*types.Position),
	}
}

// AddBoard lists a new expiry board.
func (l *Ledger) AddBoard(expiry, now int64, baseIV sdkmath.LegacyDec) (types.Board, error) {
	if expiry <= now {
		return types.Board{}, fmt.Errorf("%w: expiry %d not after now %d", ErrBoardExpired, expiry, now)
	}
	if baseIV.IsNil() || !baseIV.IsPositive() {
		return types.Board{}, errors.New("base IV must be positive")
	}
	l.nextBoardID++
	b := &types.Board{
		ID:     l.nextBoardID,
		Expiry: expiry,
		BaseIV: baseIV,
	}
	l.boards[b.ID] = b
	l.log.Info().Uint64("boardId", uint64(b.ID)).Int64("expiry", expiry).Msg("Board listed")
	return *b, nil
}

// AddStrike lists a strike on an existing, unsettled board.
func (l *Ledger) AddStrike(boardID types.BoardID, strikePrice, skew sdkmath.LegacyDec) (types.Strike, error) {
	b, ok := l.boards[boardID]
	if !ok {
		return types.Strike{}, fmt.Errorf("%w: %d", ErrBoardNotFound, boardID)
	}
	if b.Settled {
		return types.Strike{}, fmt.Errorf("%w: %d", ErrBoardAlreadySettled, boardID)
	}
	if strikePrice.IsNil() || !strikePrice.IsPositive() || skew.IsNil() || !skew.IsPositive() {
		return types.Strike{}, errors.New("strike price and skew must be positive")
	}
	l.nextStrikeID++
	s := &types.Strike{
		ID:          l.nextStrikeID,
		BoardID:     boardID,
		StrikePrice: strikePrice,
		Skew:        skew,
		Exposure:    types.ZeroExposure(),
	}
	l.strikes[s.ID] = s
	b.StrikeIDs = append(b.StrikeIDs, s.ID)
	return *s, nil
}

func (l *Ledger) SetBoardFrozen(boardID types.BoardID, frozen bool) error {
	b, ok := l.boards[boardID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrBoardNotFound, boardID)
	}
	b.Frozen = frozen
	return nil
}

// SetBoardBaseIV updates the board's base implied volatility, typically on
// every trade. The greek cache reads it into the IV GWAV on its next update.
func (l *Ledger) SetBoardBaseIV(boardID types.BoardID, baseIV sdkmath.LegacyDec) error {
	b, ok := l.boards[boardID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrBoardNotFound, boardID)
	}
	if baseIV.IsNil() || !baseIV.IsPositive() {
		return errors.New("base IV must be positive")
	}
	b.BaseIV = baseIV
	return nil
}

func (l *Ledger) SetStrikeSkew(strikeID types.StrikeID, skew sdkmath.LegacyDec) error {
	s, ok := l.strikes[strikeID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrStrikeNotFound, strikeID)
	}
	if skew.IsNil() || !skew.IsPositive() {
		return errors.New("skew must be positive")
	}
	s.Skew = skew
	return nil
}

func (l *Ledger) Board(id types.BoardID) (types.Board, error) {
	b, ok := l.boards[id]
	if !ok {
		return types.Board{}, fmt.Errorf("%w: %d", ErrBoardNotFound, id)
	}
	return *b, nil
}

func (l *Ledger) Strike(id types.StrikeID) (types.Strike, error) {
	s, ok := l.strikes[id]
	if !ok {
		return types.Strike{}, fmt.Errorf("%w: %d", ErrStrikeNotFound, id)
	}
	return *s, nil
}

func (l *Ledger) Position(id types.PositionID) (types.Position, error) {
	p, ok := l.positions[id]
	if !ok {
		return types.Position{}, fmt.Errorf("%w: %d", ErrPositionNotFound, id)
	}
	return *p, nil
}

// StrikesOf returns copies of the board's strikes in listing order.
func (l *Ledger) StrikesOf(boardID types.BoardID) ([]types.Strike, error) {
	b, ok := l.boards[boardID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrBoardNotFound, boardID)
	}
	out := make([]types.Strike, 0, len(b.StrikeIDs))
	for _, sid := range b.StrikeIDs {
		out = append(out, *l.strikes[sid])
	}
	return out, nil
}

// LiveBoardIDs returns the ids of every unsettled board, ascending.
func (l *Ledger) LiveBoardIDs() []types.BoardID {
	out := make([]types.BoardID, 0, len(l.boards))
	for id, b := range l.boards {
		if !b.Settled {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (l *Ledger) HasLiveBoards() bool {
	for _, b := range l.boards {
		if !b.Settled {
			return true
		}
	}
	return false
}

// OpenPosition creates a new active position at a strike. Collateral is only
// recorded for short types; the collateral engine validates its adequacy
// upstream.
func (l *Ledger) OpenPosition(
	owner string,
	strikeID types.StrikeID,
	optionType types.OptionType,
	amount, collateral sdkmath.LegacyDec,
	now int64,
) (types.Position, error) {
	if owner == "" {
		return types.Position{}, ErrInvalidOwner
	}
	if amount.IsNil() || !amount.IsPositive() {
		return types.Position{}, ErrInvalidPositionAmount
	}
	s, ok := l.strikes[strikeID]
	if !ok {
		return types.Position{}, fmt.Errorf("%w: %d", ErrStrikeNotFound, strikeID)
	}
	b := l.boards[s.BoardID]
	if err := l.boardTradable(b, now); err != nil {
		return types.Position{}, err
	}
	if optionType.IsLong() {
		collateral = sdkmath.LegacyZeroDec()
	} else if collateral.IsNil() || collateral.IsNegative() {
		return types.Position{}, errors.New("short positions require non-negative collateral")
	}

	l.nextPositionID++
	p := &types.Position{
		ID:         l.nextPositionID,
		StrikeID:   strikeID,
		OptionType: optionType,
		Amount:     amount,
		Collateral: collateral,
		State:      types.Active,
		Owner:      owner,
	}
	l.positions[p.ID] = p
	l.applyExposure(s, optionType, amount)
	l.log.Debug().
		Uint64("positionId", uint64(p.ID)).
		Str("type", optionType.String()).
		Str("amount", amount.String()).
		Msg("Position opened")
	return *p, nil
}

// AdjustPosition changes an active position's size and collateral by signed
// deltas. The amount must stay positive; use ClosePosition to fully close.
func (l *Ledger) AdjustPosition(id types.PositionID, amountDelta, collateralDelta sdkmath.LegacyDec, now int64) (types.Position, error) {
	p, ok := l.positions[id]
	if !ok {
		return types.Position{}, fmt.Errorf("%w: %d", ErrPositionNotFound, id)
	}
	if p.State != types.Active {
		return types.Position{}, fmt.Errorf("%w: position %d is %s", ErrPositionNotActive, id, p.State)
	}
	s := l.strikes[p.StrikeID]
	if err := l.boardTradable(l.boards[s.BoardID], now); err != nil {
		return types.Position{}, err
	}
	if amountDelta.IsNil() {
		amountDelta = sdkmath.LegacyZeroDec()
	}
	if collateralDelta.IsNil() {
		collateralDelta = sdkmath.LegacyZeroDec()
	}
	newAmount := p.Amount.Add(amountDelta)
	if !newAmount.IsPositive() {
		return types.Position{}, fmt.Errorf("%w: adjusted amount %s", ErrInvalidPositionAmount, newAmount)
	}
	newCollateral := p.Collateral.Add(collateralDelta)
	if newCollateral.IsNegative() {
		return types.Position{}, errors.New("adjusted collateral would be negative")
	}
	p.Amount = newAmount
	p.Collateral = newCollateral
	l.applyExposure(s, p.OptionType, amountDelta)
	return *p, nil
}

// ClosePosition reduces an active position by amount, closing it entirely when
// the full size is given. Freed collateral on a full close is reported back to
// the caller through the returned snapshot taken before zeroing.
func (l *Ledger) ClosePosition(id types.PositionID, amount sdkmath.LegacyDec, now int64) (types.Position, error) {
	p, ok := l.positions[id]
	if !ok {
		return types.Position{}, fmt.Errorf("%w: %d", ErrPositionNotFound, id)
	}
	if p.State != types.Active {
		return types.Position{}, fmt.Errorf("%w: position %d is %s", ErrPositionNotActive, id, p.State)
	}
	if amount.IsNil() || !amount.IsPositive() || amount.GT(p.Amount) {
		return types.Position{}, fmt.Errorf("%w: close amount %s against size %s", ErrInvalidPositionAmount, amount, p.Amount)
	}
	s := l.strikes[p.StrikeID]
	if err := l.boardTradable(l.boards[s.BoardID], now); err != nil {
		return types.Position{}, err
	}

	snapshot := *p
	snapshot.Amount = amount
	l.applyExposure(s, p.OptionType, amount.Neg())
	if amount.Equal(p.Amount) {
		p.Amount = sdkmath.LegacyZeroDec()
		p.Collateral = sdkmath.LegacyZeroDec()
		p.State = types.Closed
	} else {
		p.Amount = p.Amount.Sub(amount)
	}
	return snapshot, nil
}

// LiquidatePosition zeroes an active short position. The collateral waterfall
// outcome is computed by the collateral engine; the ledger only retires the
// record and its exposure. Returns a snapshot of the position as liquidated.
func (l *Ledger) LiquidatePosition(id types.PositionID) (types.Position, error) {
	p, ok := l.positions[id]
	if !ok {
		return types.Position{}, fmt.Errorf("%w: %d", ErrPositionNotFound, id)
	}
	if p.State != types.Active || !p.OptionType.IsShort() {
		return types.Position{}, fmt.Errorf("%w: position %d is %s %s", ErrPositionNotActive, id, p.State, p.OptionType)
	}
	snapshot := *p
	l.applyExposure(l.strikes[p.StrikeID], p.OptionType, p.Amount.Neg())
	p.Amount = sdkmath.LegacyZeroDec()
	p.Collateral = sdkmath.LegacyZeroDec()
	p.State = types.Liquidated
	l.log.Warn().Uint64("positionId", uint64(id)).Msg("Position liquidated")
	return snapshot, nil
}

// SplitPosition carves newAmount and newCollateral out of an active position
// into a fresh position owned by newOwner. Aggregate strike exposure is
// unchanged.
func (l *Ledger) SplitPosition(id types.PositionID, newAmount, newCollateral sdkmath.LegacyDec, newOwner string) (types.Position, error) {
	p, ok := l.positions[id]
	if !ok {
		return types.Position{}, fmt.Errorf("%w: %d", ErrPositionNotFound, id)
	}
	if p.State != types.Active {
		return types.Position{}, fmt.Errorf("%w: position %d is %s", ErrPositionNotActive, id, p.State)
	}
	if newOwner == "" {
		return types.Position{}, ErrInvalidOwner
	}
	if newAmount.IsNil() || !newAmount.IsPositive() || newAmount.GTE(p.Amount) {
		return types.Position{}, fmt.Errorf("%w: split amount %s against size %s", ErrInvalidPositionAmount, newAmount, p.Amount)
	}
	if newCollateral.IsNil() {
		newCollateral = sdkmath.LegacyZeroDec()
	}
	if newCollateral.IsNegative() || newCollateral.GT(p.Collateral) {
		return types.Position{}, errors.New("split collateral exceeds position collateral")
	}

	l.nextPositionID++
	child := &types.Position{
		ID:         l.nextPositionID,
		StrikeID:   p.StrikeID,
		OptionType: p.OptionType,
		Amount:     newAmount,
		Collateral: newCollateral,
		State:      types.Active,
		Owner:      newOwner,
	}
	l.positions[child.ID] = child
	p.Amount = p.Amount.Sub(newAmount)
	p.Collateral = p.Collateral.Sub(newCollateral)
	return *child, nil
}

// MergePositions folds source into target. The source record is zeroed and
// marked MERGED, never deleted.
func (l *Ledger) MergePositions(targetID, sourceID types.PositionID) error {
	if targetID == sourceID {
		return fmt.Errorf("%w: cannot merge a position into itself", ErrMergeMismatch)
	}
	target, ok := l.positions[targetID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrPositionNotFound, targetID)
	}
	source, ok := l.positions[sourceID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrPositionNotFound, sourceID)
	}
	if target.State != types.Active || source.State != types.Active {
		return fmt.Errorf("%w: both positions must be active", ErrPositionNotActive)
	}
	if target.Owner != source.Owner || target.StrikeID != source.StrikeID || target.OptionType != source.OptionType {
		return ErrMergeMismatch
	}
	target.Amount = target.Amount.Add(source.Amount)
	target.Collateral = target.Collateral.Add(source.Collateral)
	source.Amount = sdkmath.LegacyZeroDec()
	source.Collateral = sdkmath.LegacyZeroDec()
	source.State = types.Merged
	return nil
}

// SettleBoard marks an expired board settled, retires every active position on
// it and zeroes strike exposure. Returns snapshots of the settled positions,
// amounts intact, so the pool can compute payouts.
func (l *Ledger) SettleBoard(boardID types.BoardID, now int64) ([]types.Position, error) {
	b, ok := l.boards[boardID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrBoardNotFound, boardID)
	}
	if b.Settled {
		return nil, fmt.Errorf("%w: %d", ErrBoardAlreadySettled, boardID)
	}
	if now < b.Expiry {
		return nil, fmt.Errorf("%w: board %d expires at %d", ErrBoardNotExpired, boardID, b.Expiry)
	}

	strikeSet := make(map[types.StrikeID]bool, len(b.StrikeIDs))
	for _, sid := range b.StrikeIDs {
		strikeSet[sid] = true
		l.strikes[sid].Exposure = types.ZeroExposure()
	}

	var settled []types.Position
	for _, p := range l.positions {
		if p.State == types.Active && strikeSet[p.StrikeID] {
			p.State = types.Settled
			settled = append(settled, *p)
		}
	}
	sort.Slice(settled, func(i, j int) bool { return settled[i].ID < settled[j].ID })
	b.Settled = true
	l.log.Info().
		Uint64("boardId", uint64(boardID)).
		Int("positions", len(settled)).
		Msg("Board settled")
	return settled, nil
}

// LockedCollateral is the pool capital locked behind trader longs: one base
// unit per long call, strike price in quote per long put. Trader-posted short
// collateral is custody, not pool liquidity, and is excluded.
func (l *Ledger) LockedCollateral() types.LockedCollateral {
	base := sdkmath.LegacyZeroDec()
	quote := sdkmath.LegacyZeroDec()
	for _, s := range l.strikes {
		if l.boards[s.BoardID].Settled {
			continue
		}
		base = base.Add(s.Exposure.LongCall)
		quote = quote.Add(s.Exposure.LongPut.Mul(s.StrikePrice))
	}
	return types.LockedCollateral{Base: base, Quote: quote}
}

func (l *Ledger) boardTradable(b *types.Board, now int64) error {
	if b.Settled {
		return fmt.Errorf("%w: %d", ErrBoardAlreadySettled, b.ID)
	}
	if b.Frozen {
		return fmt.Errorf("%w: %d", ErrBoardFrozen, b.ID)
	}
	if now >= b.Expiry {
		return fmt.Errorf("%w: %d", ErrBoardExpired, b.ID)
	}
	return nil
}

func (l *Ledger) applyExposure(s *types.Strike, t types.OptionType, delta sdkmath.LegacyDec) {
	switch t {
	case types.LongCall:
		s.Exposure.LongCall = s.Exposure.LongCall.Add(delta)
	case types.LongPut:
		s.Exposure.LongPut = s.Exposure.LongPut.Add(delta)
	case types.ShortCallBase:
		s.Exposure.ShortCallBase = s.Exposure.ShortCallBase.Add(delta)
	case types.ShortCallQuote:
		s.Exposure.ShortCallQuote = s.Exposure.ShortCallQuote.Add(delta)
	case types.ShortPutQuote:
		s.Exposure.ShortPutQuote = s.Exposure.ShortPutQuote.Add(delta)
	}
}
