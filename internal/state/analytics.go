package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/arcadia-markets/ovm/internal/types"
)

const cycleColumns = `
	snapshot_id, cycle_number, snapshot_timestamp, params_id,
	spot_price, liquidity,
	queued_deposits, queued_withdrawals, deposits_processed, withdrawals_processed,
	hedge, cb_timestamp, insolvent_amount, live_boards`

func scanCycle(row interface{ Scan(...any) error }) (types.CycleSnapshot, error) {
	var (
		snapshot      types.CycleSnapshot
		paramsID      sql.NullInt64
		liquidityJSON []byte
		hedgeJSON     []byte
	)
	err := row.Scan(
		&snapshot.SnapshotID, &snapshot.CycleNumber, &snapshot.Timestamp, &paramsID,
		&snapshot.SpotPrice, &liquidityJSON,
		&snapshot.QueuedDeposits, &snapshot.QueuedWithdrawals,
		&snapshot.DepositsProcessed, &snapshot.WithdrawalsProcessed,
		&hedgeJSON, &snapshot.CBTimestamp, &snapshot.InsolventAmount, &snapshot.LiveBoards,
	)
	if err != nil {
		return types.CycleSnapshot{}, err
	}
	if paramsID.Valid {
		snapshot.ParamsID = &paramsID.Int64
	}
	if err := json.Unmarshal(liquidityJSON, &snapshot.Liquidity); err != nil {
		return types.CycleSnapshot{}, fmt.Errorf("failed to unmarshal liquidity: %w", err)
	}
	if err := json.Unmarshal(hedgeJSON, &snapshot.Hedge); err != nil {
		return types.CycleSnapshot{}, fmt.Errorf("failed to unmarshal hedge: %w", err)
	}
	return snapshot, nil
}

// GetRecentCycles returns the most recent cycle snapshots, newest first.
func GetRecentCycles(limit int) ([]types.CycleSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + cycleColumns + `
		FROM cycle_snapshots
		ORDER BY cycle_number DESC
		LIMIT $1;`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent cycles: %w", err)
	}
	defer rows.Close()

	var cycles []types.CycleSnapshot
	for rows.Next() {
		snapshot, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cycle snapshot: %w", err)
		}
		cycles = append(cycles, snapshot)
	}
	return cycles, rows.Err()
}

// GetCycleByID returns a single cycle snapshot.
func GetCycleByID(snapshotID int64) (types.CycleSnapshot, error) {
	if DB == nil {
		return types.CycleSnapshot{}, fmt.Errorf("database not initialized")
	}

	query := `SELECT ` + cycleColumns + `
		FROM cycle_snapshots
		WHERE snapshot_id = $1;`

	snapshot, err := scanCycle(DB.QueryRow(query, snapshotID))
	if err != nil {
		if err == sql.ErrNoRows {
			return types.CycleSnapshot{}, fmt.Errorf("cycle snapshot %d not found", snapshotID)
		}
		return types.CycleSnapshot{}, fmt.Errorf("failed to get cycle snapshot %d: %w", snapshotID, err)
	}
	return snapshot, nil
}
