package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"trade-forwardtest/internal/domain"
)

// ComputeSnapshotID computes a deterministic snapshot_id using SHA256.
// Formula: SHA256(symbol|timeframe|bias|archetype|generated_at)
// Returns hex-encoded hash (64 characters).
//
// The same generator output always maps to the same id, so a replayed
// intake batch collides on ErrDuplicateKey instead of forking the scenario.
func ComputeSnapshotID(
	symbol string,
	timeframe string,
	bias domain.Bias,
	archetype string,
	generatedAt int64,
) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%d",
		symbol,
		timeframe,
		string(bias),
		archetype,
		generatedAt,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
