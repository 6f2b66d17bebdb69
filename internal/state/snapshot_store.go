package state

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/arcadia-markets/ovm/internal/types"
)

// SaveCycleSnapshot saves a complete engine cycle snapshot to the database.
func SaveCycleSnapshot(snapshot types.CycleSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	liquidityJSON, err := json.Marshal(snapshot.Liquidity)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal liquidity: %w", err)
	}
	hedgeJSON, err := json.Marshal(snapshot.Hedge)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal hedge: %w", err)
	}

	query := `
		INSERT INTO cycle_snapshots (
			cycle_number, snapshot_timestamp, params_id,
			spot_price, nav, token_price, liquidity,
			queued_deposits, queued_withdrawals,
			deposits_processed, withdrawals_processed,
			hedge, cb_timestamp, insolvent_amount, live_boards
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err = DB.QueryRow(
		query,
		snapshot.CycleNumber, snapshot.Timestamp, snapshot.ParamsID,
		snapshot.SpotPrice, snapshot.Liquidity.NAV.String(), snapshot.Liquidity.TokenPrice.String(), liquidityJSON,
		snapshot.QueuedDeposits, snapshot.QueuedWithdrawals,
		snapshot.DepositsProcessed, snapshot.WithdrawalsProcessed,
		hedgeJSON, snapshot.CBTimestamp, snapshot.InsolventAmount, snapshot.LiveBoards,
	).Scan(&snapshotID)
	if err != nil {
		return 0, fmt.Errorf("failed to save cycle snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Int("cycle_number", snapshot.CycleNumber).
		Str("nav", snapshot.Liquidity.NAV.String()).
		Msg("Cycle snapshot saved to database")

	return snapshotID, nil
}
