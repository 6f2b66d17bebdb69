/*

This file contains the cycle engine: the keeper loop that drives the pool
through its periodic duties. Each cycle refreshes the board caches, settles
expired boards, processes the deposit and withdrawal queues, rehedges, and
persists a snapshot of the liquidity partition for the status API.

Persistence is telemetry. A failed snapshot write or cycle-counter update is
logged and skipped; it never aborts the accounting path.

*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/arcadia-markets/ovm/internal/config"
	"github.com/arcadia-markets/ovm/internal/hedger"
	"github.com/arcadia-markets/ovm/internal/ledger"
	"github.com/arcadia-markets/ovm/internal/logger"
	"github.com/arcadia-markets/ovm/internal/oracle"
	"github.com/arcadia-markets/ovm/internal/pool"
	"github.com/arcadia-markets/ovm/internal/state"
	"github.com/arcadia-markets/ovm/internal/types"
)

// keeperCaller is the identity the engine presents to the queue gates. It is
// deliberately not the guardian: the engine never bypasses circuit breakers.
const keeperCaller = "cycle_engine"

// Engine drives the periodic pool maintenance cycle.
type Engine struct {
	logger zerolog.Logger
	pool   *pool.Pool
	ledger *ledger.Ledger
	hedger hedger.DeltaHedger
	feed   oracle.PriceFeed

	configName string
	now        func() int64

	cycleCount int
}

// Config holds the dependencies for creating a new Engine.
type Config struct {
	Pool       *pool.Pool
	Ledger     *ledger.Ledger
	Hedger     hedger.DeltaHedger
	Feed       oracle.PriceFeed
	ConfigName string
}

// New creates an engine instance after validating its dependencies.
func New(cfg Config) (*Engine, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("pool cannot be nil")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if cfg.Feed == nil {
		return nil, fmt.Errorf("price feed cannot be nil")
	}
	if cfg.Hedger == nil {
		cfg.Hedger = hedger.NewNoOp()
	}
	if cfg.ConfigName == "" {
		return nil, fmt.Errorf("config name cannot be empty")
	}

	e := &Engine{
		logger:     logger.GetForComponent("cycle_engine"),
		pool:       cfg.Pool,
		ledger:     cfg.Ledger,
		hedger:     cfg.Hedger,
		feed:       cfg.Feed,
		configName: cfg.ConfigName,
		now:        func() int64 { return time.Now().Unix() },
	}

	e.logger.Info().Str("configName", e.configName).Msg("Engine instance created")
	return e, nil
}

// SetClock overrides the time source, used by tests.
func (e *Engine) SetClock(now func() int64) {
	e.now = now
}

// RunLoop starts the main cycle loop with the specified interval.
func (e *Engine) RunLoop(ctx context.Context, interval time.Duration) {
	e.logger.Info().Dur("interval", interval).Msg("Starting engine main loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run first cycle immediately
	e.cycleCount++
	e.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Engine loop stopped due to context cancellation")
			return
		case <-ticker.C:
			e.cycleCount++
			e.RunCycle(ctx)
		}
	}
}

// RunCycle executes a complete maintenance cycle.
func (e *Engine) RunCycle(ctx context.Context) {
	cycleStartTime := time.Now()
	now := e.now()

	// Unique cycle ID for tracing logs across the entire cycle
	cycleID := uuid.New().String()
	cycleLogger := e.logger.With().Str("cycle_id", cycleID).Logger()

	cycleLogger.Info().Int("cycle", e.cycleCount).Msg("--- Starting cycle ---")

	// --- Step 1: Spot price ---
	spot, err := e.feed.SpotPrice()
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Cycle aborted: price feed unavailable")
		return
	}

	// --- Step 2: Settle expired boards ---
	settled := 0
	for _, boardID := range e.ledger.LiveBoardIDs() {
		board, err := e.ledger.Board(boardID)
		if err != nil {
			cycleLogger.Error().Err(err).Uint64("boardId", uint64(boardID)).Msg("Failed to load board")
			continue
		}
		if board.Expiry > now {
			continue
		}
		if err := e.pool.SettleBoard(boardID); err != nil {
			cycleLogger.Error().Err(err).Uint64("boardId", uint64(boardID)).Msg("Board settlement failed")
			continue
		}
		settled++
		cycleLogger.Info().Uint64("boardId", uint64(boardID)).Int64("expiry", board.Expiry).Msg("Board settled")
	}

	// --- Step 3: Refresh greek caches for live boards ---
	refreshed := 0
	for _, boardID := range e.ledger.LiveBoardIDs() {
		if err := e.pool.UpdateBoardCache(boardID); err != nil {
			cycleLogger.Error().Err(err).Uint64("boardId", uint64(boardID)).Msg("Board cache update failed")
			continue
		}
		refreshed++
	}
	cycleLogger.Info().Int("settled", settled).Int("refreshed", refreshed).Msg("Board maintenance complete")

	// --- Step 4: Process queues ---
	depositsProcessed, err := e.pool.ProcessDepositQueue(keeperCaller, config.CycleBatchLimit)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Deposit queue processing failed")
	}
	withdrawalsProcessed, err := e.pool.ProcessWithdrawalQueue(keeperCaller, config.CycleBatchLimit)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Withdrawal queue processing failed")
	}
	cycleLogger.Info().
		Int("depositsProcessed", depositsProcessed).
		Int("withdrawalsProcessed", withdrawalsProcessed).
		Msg("Queue processing complete")

	// --- Step 5: Rehedge ---
	if _, err := e.pool.HedgeDelta(); err != nil {
		if errors.Is(err, hedger.ErrInteractionDelayNotExpired) {
			cycleLogger.Debug().Err(err).Msg("Rehedge skipped: interaction delay active")
		} else {
			cycleLogger.Error().Err(err).Msg("Rehedge failed")
		}
	}

	// --- Step 6: Reconcile base holdings against locked cover ---
	if err := e.pool.ExchangeBase(); err != nil {
		cycleLogger.Error().Err(err).Msg("Base exchange failed")
	}

	// --- Step 7: Snapshot ---
	liquidity, err := e.pool.Liquidity()
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to compute end-of-cycle liquidity, snapshot skipped")
		e.logCycleDuration(cycleStartTime, cycleLogger)
		return
	}

	snapshot := types.CycleSnapshot{
		CycleNumber:          e.getCycleNumber(),
		Timestamp:            cycleStartTime,
		ParamsID:             e.getParamsID(),
		SpotPrice:            spot.String(),
		Liquidity:            liquidity,
		QueuedDeposits:       len(e.pool.QueuedDeposits()),
		QueuedWithdrawals:    len(e.pool.QueuedWithdrawals()),
		DepositsProcessed:    depositsProcessed,
		WithdrawalsProcessed: withdrawalsProcessed,
		Hedge:                e.hedgeSnapshot(spot, cycleLogger),
		CBTimestamp:          e.pool.CBTimestamp(),
		InsolventAmount:      e.pool.InsolventAmount().String(),
		LiveBoards:           len(e.ledger.LiveBoardIDs()),
	}
	e.saveCycleSnapshot(snapshot, cycleLogger)

	cycleLogger.Info().
		Str("nav", liquidity.NAV.String()).
		Str("tokenPrice", liquidity.TokenPrice.String()).
		Str("freeLiquidity", liquidity.Free.String()).
		Int64("cbTimestamp", snapshot.CBTimestamp).
		Msg("End of cycle state")

	e.logCycleDuration(cycleStartTime, cycleLogger)
}

func (e *Engine) hedgeSnapshot(spot sdkmath.LegacyDec, cycleLogger zerolog.Logger) types.HedgeSnapshot {
	snap := types.HedgeSnapshot{
		TargetHedge:  sdkmath.LegacyZeroDec(),
		CurrentHedge: e.hedger.CurrentHedge(),
		Collateral:   sdkmath.LegacyZeroDec(),
	}

	target, err := e.hedger.ExpectedHedge()
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to compute hedge target for snapshot")
	} else {
		snap.TargetHedge = target
	}

	_, used, err := e.hedger.HedgingLiquidity(spot)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to compute hedging liquidity for snapshot")
	} else {
		snap.Collateral = used
	}

	return snap
}

// getCycleNumber increments and returns the persistent cycle counter.
func (e *Engine) getCycleNumber() int {
	if state.DB == nil {
		return e.cycleCount
	}
	cycleNumber, err := state.IncrementCycleNumber()
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to increment cycle number, using in-process counter")
		return e.cycleCount
	}
	return cycleNumber
}

// getParamsID retrieves the active parameter bundle ID for the snapshot.
func (e *Engine) getParamsID() *int64 {
	if state.DB == nil {
		return nil
	}
	paramsID, err := state.GetActiveParametersID(e.configName)
	if err != nil {
		e.logger.Error().Err(err).Str("configName", e.configName).Msg("Failed to get active parameters ID")
		return nil
	}
	return paramsID
}

func (e *Engine) saveCycleSnapshot(snapshot types.CycleSnapshot, cycleLogger zerolog.Logger) {
	if state.DB == nil {
		cycleLogger.Debug().Msg("Database not configured, snapshot not persisted")
		return
	}
	snapshotID, err := state.SaveCycleSnapshot(snapshot)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to save cycle snapshot")
		return
	}
	cycleLogger.Info().Int64("snapshot_id", snapshotID).Msg("Cycle snapshot saved")
}

func (e *Engine) logCycleDuration(cycleStartTime time.Time, cycleLogger zerolog.Logger) {
	cycleLogger.Info().Str("cycleDuration", time.Since(cycleStartTime).String()).Msg("--- Cycle completed ---")
}
