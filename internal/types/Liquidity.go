/*

This file contains the types for the liquidity accounting engine: the derived
liquidity partition, the deposit/withdrawal tickets and the cycle snapshot
persisted after each engine cycle.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// LiquidityState is the derived partition of the pool NAV. It is computed on
// demand, never stored. Every category is floored at zero; the partition
// reconciles to NAV exactly.
type LiquidityState struct {
	NAV             sdkmath.LegacyDec `json:"nav"`
	Free            sdkmath.LegacyDec `json:"free_liquidity"`
	UsedCollat      sdkmath.LegacyDec `json:"used_collat_liquidity"`
	ReservedCollat  sdkmath.LegacyDec `json:"reserved_collat_liquidity"`
	PendingDelta    sdkmath.LegacyDec `json:"pending_delta_liquidity"`
	UsedDelta       sdkmath.LegacyDec `json:"used_delta_liquidity"`
	Burnable        sdkmath.LegacyDec `json:"burnable_liquidity"`
	TokenPrice      sdkmath.LegacyDec `json:"token_price"`
	LongScaleFactor sdkmath.LegacyDec `json:"long_scale_factor"`
}

// QueuedDeposit is a deposit ticket awaiting processing. Value custody happens
// at initiation; MintedTokens is filled in when the ticket processes.
type QueuedDeposit struct {
	ID              uint64            `json:"id"`
	Beneficiary     string            `json:"beneficiary"`
	AmountLiquidity sdkmath.LegacyDec `json:"amount_liquidity"`
	MintedTokens    sdkmath.LegacyDec `json:"minted_tokens"`
	InitiatedAt     int64             `json:"deposit_initiated_time"`
}

// QueuedWithdrawal is a withdrawal ticket. Tokens are escrowed at initiation;
// QuoteSent accumulates across partial fills until the ticket resolves.
type QueuedWithdrawal struct {
	ID           uint64            `json:"id"`
	Beneficiary  string            `json:"beneficiary"`
	AmountTokens sdkmath.LegacyDec `json:"amount_tokens"`
	TokensBurned sdkmath.LegacyDec `json:"tokens_burned"`
	QuoteSent    sdkmath.LegacyDec `json:"quote_sent"`
	InitiatedAt  int64             `json:"withdraw_initiated_time"`
}

// Resolved reports whether the ticket has been fully paid out.
func (w QueuedWithdrawal) Resolved() bool {
	return w.TokensBurned.GTE(w.AmountTokens)
}

// HedgeSnapshot captures the hedger state for persistence and the status API.
type HedgeSnapshot struct {
	TargetHedge  sdkmath.LegacyDec `json:"target_hedge"`
	CurrentHedge sdkmath.LegacyDec `json:"current_hedge"`
	Collateral   sdkmath.LegacyDec `json:"collateral"`
}

// CycleSnapshot is the per-cycle record persisted by the engine: the liquidity
// partition, queue depths, hedge state and circuit-breaker state at the end of
// a cycle.
type CycleSnapshot struct {
	SnapshotID           int64          `json:"snapshot_id,omitempty"`
	CycleNumber          int            `json:"cycle_number"`
	Timestamp            time.Time      `json:"timestamp"`
	ParamsID             *int64         `json:"params_id,omitempty"`
	SpotPrice            string         `json:"spot_price"`
	Liquidity            LiquidityState `json:"liquidity"`
	QueuedDeposits       int            `json:"queued_deposits"`
	QueuedWithdrawals    int            `json:"queued_withdrawals"`
	DepositsProcessed    int            `json:"deposits_processed"`
	WithdrawalsProcessed int            `json:"withdrawals_processed"`
	Hedge                HedgeSnapshot  `json:"hedge"`
	CBTimestamp          int64          `json:"cb_timestamp"`
	InsolventAmount      string         `json:"insolvent_amount"`
	LiveBoards           int            `json:"live_boards"`
}
