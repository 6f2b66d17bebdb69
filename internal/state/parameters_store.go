package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arcadia-markets/ovm/internal/types"
)

// SaveParameters saves a new version of the OVM parameter bundle. The bundle
// is validated before it touches the database; an invalid bundle must never
// become loadable.
func SaveParameters(params types.Parameters, configName string, version int, makeActive bool) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}
	if err := params.Validate(); err != nil {
		return 0, fmt.Errorf("refusing to save invalid parameters: %w", err)
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal parameters: %w", err)
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-panic after rollback
		} else if err != nil {
			tx.Rollback() // Rollback if error occurred
		}
	}()

	if makeActive {
		stmtDeactivate := `UPDATE pool_parameters SET is_active = FALSE WHERE config_name = $1 AND is_active = TRUE;`
		_, err = tx.Exec(stmtDeactivate, configName)
		if err != nil {
			return 0, fmt.Errorf("failed to deactivate existing active parameters for %s: %w", configName, err)
		}
	}

	stmt := `
        INSERT INTO pool_parameters (
            version, config_name, is_active, activated_at, created_at, parameters
        ) VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING params_id;`

	var paramsID int64
	currentTime := time.Now()
	err = tx.QueryRow(
		stmt,
		version, configName, makeActive, currentTime, currentTime, payload,
	).Scan(&paramsID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert parameters: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Int("version", version).
		Str("config", configName).
		Int64("params_id", paramsID).
		Bool("active", makeActive).
		Msg("Saved pool parameters")
	return paramsID, nil
}

// LoadActiveParameters loads the currently active parameter bundle.
func LoadActiveParameters(configName string) (*types.Parameters, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
        SELECT parameters
        FROM pool_parameters
        WHERE config_name = $1 AND is_active = TRUE
        ORDER BY activated_at DESC
        LIMIT 1;`

	var payload []byte
	row := DB.QueryRow(query, configName)
	err := row.Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no active parameters found for config '%s'", configName)
		}
		return nil, fmt.Errorf("failed to scan active parameters for config '%s': %w", configName, err)
	}

	p := &types.Parameters{}
	if err := json.Unmarshal(payload, p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal parameters for config '%s': %w", configName, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("stored parameters for config '%s' are invalid: %w", configName, err)
	}

	log.Info().Str("config", configName).Msg("Loaded active pool parameters")
	return p, nil
}

// GetActiveParametersID returns the params_id of the currently active
// parameter bundle, or nil when none is active.
func GetActiveParametersID(configName string) (*int64, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
        SELECT params_id
        FROM pool_parameters
        WHERE config_name = $1 AND is_active = TRUE
        ORDER BY activated_at DESC
        LIMIT 1;`

	var paramsID int64
	row := DB.QueryRow(query, configName)
	err := row.Scan(&paramsID)
	if err != nil {
		if err == sql.ErrNoRows {
			log.Debug().Str("config", configName).Msg("No active pool parameters found")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active parameters ID for config '%s': %w", configName, err)
	}

	return &paramsID, nil
}
