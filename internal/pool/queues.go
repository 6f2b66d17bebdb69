/*

This file contains the deposit and withdrawal queues. Custody moves at
initiation; processing is gated by the configured delay, board cache
staleness, and the circuit breaker, and advances silently past nothing: the
first blocked ticket stops the batch with queue state intact.

*/

package pool

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/arcadia-markets/ovm/internal/types"
	"github.com/arcadia-markets/ovm/internal/utils"
)

// InitiateDeposit takes custody of amount immediately. With no live boards
// and no active circuit breaker the deposit mints at once; otherwise it joins
// the queue behind the configured delay.
func (p *Pool) InitiateDeposit(beneficiary string, amount sdkmath.LegacyDec) (types.QueuedDeposit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if beneficiary == "" {
		return types.QueuedDeposit{}, ErrInvalidBeneficiaryAddress
	}
	if amount.IsNil() || amount.LT(p.params.MinDepositQuote) {
		return types.QueuedDeposit{}, fmt.Errorf("%w: %s below %s", ErrMinimumDepositNotMet, amount, p.params.MinDepositQuote)
	}

	now := p.now()
	p.nextDepositID++
	ticket := types.QueuedDeposit{
		ID:              p.nextDepositID,
		Beneficiary:     beneficiary,
		AmountLiquidity: amount,
		MintedTokens:    sdkmath.LegacyZeroDec(),
		InitiatedAt:     now,
	}

	if !p.ledger.HasLiveBoards() && now >= p.cbTimestampLocked() {
		// price first, then fund: the deposit must not buy into itself
		liq, err := p.liquidityLocked()
		if err != nil {
			return types.QueuedDeposit{}, err
		}
		if !liq.TokenPrice.IsPositive() {
			return types.QueuedDeposit{}, fmt.Errorf("token price is zero, pool value exhausted")
		}
		p.addBalance(p.quoteDenom, amount)
		ticket.MintedTokens = amount.Quo(liq.TokenPrice)
		p.totalSupply = p.totalSupply.Add(ticket.MintedTokens)
		p.deposits = append(p.deposits, ticket)
		p.depositHead = len(p.deposits)
		p.log.Info().
			Uint64("depositId", ticket.ID).
			Str("amount", amount.String()).
			Msg("Deposit processed immediately, no live boards")
		return ticket, nil
	}

	p.addBalance(p.quoteDenom, amount)
	p.queuedDepositValue = p.queuedDepositValue.Add(amount)
	p.deposits = append(p.deposits, ticket)
	p.log.Info().
		Uint64("depositId", ticket.ID).
		Str("amount", amount.String()).
		Msg("Deposit queued")
	return ticket, nil
}

// InitiateWithdraw escrows tokenAmount immediately. With no live boards and
// no active circuit breaker the withdrawal pays out at once, fee-free.
func (p *Pool) InitiateWithdraw(beneficiary string, tokenAmount sdkmath.LegacyDec) (types.QueuedWithdrawal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if beneficiary == "" {
		return types.QueuedWithdrawal{}, ErrInvalidBeneficiaryAddress
	}
	if tokenAmount.IsNil() || tokenAmount.LT(p.params.MinWithdrawTokens) {
		return types.QueuedWithdrawal{}, fmt.Errorf("%w: %s below %s", ErrMinimumWithdrawNotMet, tokenAmount, p.params.MinWithdrawTokens)
	}
	unescrowed := p.totalSupply.Sub(p.queuedWithdrawalTokens)
	if tokenAmount.GT(unescrowed) {
		return types.QueuedWithdrawal{}, fmt.Errorf("%w: %s tokens unescrowed", ErrMinimumWithdrawNotMet, unescrowed)
	}

	now := p.now()
	p.nextWithdrawalID++
	ticket := types.QueuedWithdrawal{
		ID:           p.nextWithdrawalID,
		Beneficiary:  beneficiary,
		AmountTokens: tokenAmount,
		TokensBurned: sdkmath.LegacyZeroDec(),
		QuoteSent:    sdkmath.LegacyZeroDec(),
		InitiatedAt:  now,
	}

	if !p.ledger.HasLiveBoards() && now >= p.cbTimestampLocked() {
		liq, err := p.liquidityLocked()
		if err != nil {
			return types.QueuedWithdrawal{}, err
		}
		value := tokenAmount.Mul(liq.TokenPrice)
		if err := p.subBalance(p.quoteDenom, value); err != nil {
			return types.QueuedWithdrawal{}, err
		}
		p.totalSupply = p.totalSupply.Sub(tokenAmount)
		ticket.TokensBurned = tokenAmount
		ticket.QuoteSent = value
		p.withdrawals = append(p.withdrawals, ticket)
		p.withdrawalHead = len(p.withdrawals)
		p.log.Info().
			Uint64("withdrawalId", ticket.ID).
			Str("quoteSent", value.String()).
			Msg("Withdrawal processed immediately, no live boards")
		return ticket, nil
	}

	p.queuedWithdrawalTokens = p.queuedWithdrawalTokens.Add(tokenAmount)
	p.withdrawals = append(p.withdrawals, ticket)
	p.log.Info().
		Uint64("withdrawalId", ticket.ID).
		Str("tokens", tokenAmount.String()).
		Msg("Withdrawal queued")
	return ticket, nil
}

// queueGate reports whether queue processing may proceed for this caller.
// Blocked is soft: the batch stops silently. The guardian bypasses only the
// liquidity-trigger breaker, and only once the guardian delay has elapsed on
// top of the ticket's own delay.
func (p *Pool) queueGate(caller string, initiatedAt, delay, now int64) bool {
	if now-initiatedAt < delay {
		return false
	}
	if p.cache.AnyStale(p.ledger.LiveBoardIDs(), now) {
		return false
	}
	cb := p.cbTimestampLocked()
	if now >= cb {
		return true
	}
	if caller != "" && caller == p.params.Guardian &&
		now-initiatedAt >= delay+p.params.GuardianDelay {
		// everything except the liquidity trigger still binds
		other := p.cbVariance
		for _, t := range []int64{p.cbSettlement, p.cbInsolvency} {
			if t > other {
				other = t
			}
		}
		return now >= other
	}
	return false
}

// ProcessDepositQueue mints up to limit queued deposits in FIFO order.
// Returns the number processed; zero means "try again later", never an error,
// unless the oracle itself fails.
func (p *Pool) ProcessDepositQueue(caller string, limit int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	processed := 0
	for processed < limit && p.depositHead < len(p.deposits) {
		ticket := &p.deposits[p.depositHead]
		if !p.queueGate(caller, ticket.InitiatedAt, p.params.DepositDelay, now) {
			break
		}
		liq, err := p.liquidityLocked()
		if err != nil {
			return processed, err
		}
		if !liq.TokenPrice.IsPositive() {
			break
		}
		minted := ticket.AmountLiquidity.Quo(liq.TokenPrice)
		ticket.MintedTokens = minted
		p.totalSupply = p.totalSupply.Add(minted)
		p.queuedDepositValue = p.queuedDepositValue.Sub(ticket.AmountLiquidity)
		p.depositHead++
		processed++
		p.log.Info().
			Uint64("depositId", ticket.ID).
			Str("minted", minted.String()).
			Str("tokenPrice", liq.TokenPrice.String()).
			Msg("Deposit processed")
	}
	if processed > 0 {
		if err := p.updateCircuitBreakersLocked(); err != nil {
			return processed, err
		}
	}
	return processed, nil
}

// ProcessWithdrawalQueue pays out up to limit queued withdrawals in FIFO
// order. A ticket that burnable liquidity cannot fully cover is paid
// partially and held at the head, blocking the rest of the batch. The fee
// applies only while boards are live; the final withdrawal of a fully settled
// pool sweeps any stranded remainder.
func (p *Pool) ProcessWithdrawalQueue(caller string, limit int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	processed := 0
	for processed < limit && p.withdrawalHead < len(p.withdrawals) {
		ticket := &p.withdrawals[p.withdrawalHead]
		if !p.queueGate(caller, ticket.InitiatedAt, p.params.WithdrawalDelay, now) {
			break
		}
		liq, err := p.liquidityLocked()
		if err != nil {
			return processed, err
		}
		if !liq.TokenPrice.IsPositive() || !liq.Burnable.IsPositive() {
			break
		}

		remainingTokens := ticket.AmountTokens.Sub(ticket.TokensBurned)
		value := remainingTokens.Mul(liq.TokenPrice)
		payValue := utils.MinDec(value, liq.Burnable)
		tokensToBurn := payValue.Quo(liq.TokenPrice)
		if payValue.Equal(value) {
			// full fill burns the exact remainder, avoiding division dust
			tokensToBurn = remainingTokens
		}

		payout := payValue
		if p.ledger.HasLiveBoards() {
			// the fee stays in the pool, accruing to remaining LPs
			payout = payValue.Mul(sdkmath.LegacyOneDec().Sub(p.params.WithdrawalFee))
		}
		if err := p.subBalance(p.quoteDenom, payout); err != nil {
			return processed, err
		}
		p.totalSupply = p.totalSupply.Sub(tokensToBurn)
		p.queuedWithdrawalTokens = utils.FloorZero(p.queuedWithdrawalTokens.Sub(tokensToBurn))
		ticket.TokensBurned = ticket.TokensBurned.Add(tokensToBurn)
		ticket.QuoteSent = ticket.QuoteSent.Add(payout)

		if !ticket.Resolved() {
			// partial fill holds the queue head for a future call
			p.log.Info().
				Uint64("withdrawalId", ticket.ID).
				Str("quoteSent", ticket.QuoteSent.String()).
				Msg("Withdrawal partially processed, burnable liquidity exhausted")
			processed++
			break
		}

		p.withdrawalHead++
		processed++

		// the last LP out of a settled pool takes the stranded fee accrual
		if !p.ledger.HasLiveBoards() && p.withdrawalHead == len(p.withdrawals) && p.totalSupply.IsZero() {
			sweep := utils.FloorZero(p.quoteBalance().Sub(p.queuedDepositValue).Sub(p.settlementReserve))
			if sweep.IsPositive() {
				if err := p.subBalance(p.quoteDenom, sweep); err != nil {
					return processed, err
				}
				ticket.QuoteSent = ticket.QuoteSent.Add(sweep)
				p.log.Info().
					Uint64("withdrawalId", ticket.ID).
					Str("sweep", sweep.String()).
					Msg("Final withdrawal swept residual fees")
			}
		}
		p.log.Info().
			Uint64("withdrawalId", ticket.ID).
			Str("quoteSent", ticket.QuoteSent.String()).
			Msg("Withdrawal processed")
	}
	if processed > 0 {
		if err := p.updateCircuitBreakersLocked(); err != nil {
			return processed, err
		}
	}
	return processed, nil
}
