package postgres

import (
	"fmt"
	"strconv"
)

// Battle identifiers are caller-chosen uint64 values and are stored in
// NUMERIC(20,0) columns, exchanged with the driver as decimal strings, the
// same way the uint256 amount columns work. A signed BIGINT would wrap
// identifiers at or above 1<<63.

// battleIDArg encodes a battle identifier for a NUMERIC(20,0) parameter.
func battleIDArg(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// parseBattleID decodes a battle identifier scanned from a NUMERIC(20,0)
// column.
func parseBattleID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse battle id %q: %w", s, err)
	}
	return id, nil
}
