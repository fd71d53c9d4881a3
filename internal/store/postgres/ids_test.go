package postgres

import (
	"math"
	"testing"
)

func TestBattleIDCodec(t *testing.T) {
	t.Run("round trip over the full uint64 range", func(t *testing.T) {
		ids := []uint64{1, 42, 1<<63 - 1, 1 << 63, math.MaxUint64}
		for _, id := range ids {
			got, err := parseBattleID(battleIDArg(id))
			if err != nil {
				t.Fatalf("parseBattleID(battleIDArg(%d)) error = %v", id, err)
			}
			if got != id {
				t.Errorf("round trip %d = %d", id, got)
			}
		}
	})

	t.Run("top-half identifiers stay unsigned", func(t *testing.T) {
		if got := battleIDArg(math.MaxUint64); got != "18446744073709551615" {
			t.Errorf("battleIDArg(MaxUint64) = %q", got)
		}
	})

	t.Run("rejects malformed column values", func(t *testing.T) {
		for _, s := range []string{"", "-1", "18446744073709551616", "abc"} {
			if _, err := parseBattleID(s); err == nil {
				t.Errorf("parseBattleID(%q) = nil error", s)
			}
		}
	})
}
